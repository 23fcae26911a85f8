/**
 * @description
 * SyncEngine pulls transaction data from the aggregator for a set of credentials.
 *
 * Key features:
 * - Windowed fetch (offset paging over a date range) for reporting.
 * - Full-history cursor sync with added/modified/removed reconciliation for backfill.
 * - "Not ready" retry with bounded exponential backoff.
 * - Bounded-parallel fan-out with a per-credential timeout; one failing credential
 *   never aborts the others and is reported in the manifest instead.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kw-0/BudgetGator/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize            = 500
	defaultMaxParallel         = 4
	defaultCredentialTimeout   = 20 * time.Second
	defaultNotReadyMaxAttempts = 5
	defaultNotReadyBaseDelay   = 2 * time.Second
)

// SyncConfig tunes the engine. Zero values fall back to defaults.
type SyncConfig struct {
	PageSize            int
	MaxParallel         int
	CredentialTimeout   time.Duration
	NotReadyMaxAttempts int
	NotReadyBaseDelay   time.Duration
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = defaultMaxParallel
	}
	if c.CredentialTimeout <= 0 {
		c.CredentialTimeout = defaultCredentialTimeout
	}
	if c.NotReadyMaxAttempts <= 0 {
		c.NotReadyMaxAttempts = defaultNotReadyMaxAttempts
	}
	if c.NotReadyBaseDelay <= 0 {
		c.NotReadyBaseDelay = defaultNotReadyBaseDelay
	}
	return c
}

// notReadyBackoff is the total time spent sleeping between not-ready attempts before
// the sync gives up.
func (c SyncConfig) notReadyBackoff() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < c.NotReadyMaxAttempts; attempt++ {
		total += c.notReadyDelay(attempt)
	}
	return total
}

// notReadyDelay doubles the base delay for every attempt after the first.
func (c SyncConfig) notReadyDelay(attempt int) time.Duration {
	return c.NotReadyBaseDelay << (attempt - 1)
}

// SyncEngine fetches raw transactions per credential.
type SyncEngine struct {
	aggregator Aggregator
	cfg        SyncConfig
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewSyncEngine creates a SyncEngine backed by the given aggregator.
func NewSyncEngine(aggregator Aggregator, cfg SyncConfig, logger *slog.Logger) *SyncEngine {
	return &SyncEngine{
		aggregator: aggregator,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "sync_engine"),
		sleep:      sleepContext,
	}
}

// Batch is the combined output of a multi-credential fetch.
type Batch struct {
	Records  []domain.RawTransactionRecord
	Removed  []string
	Cursors  map[string]string
	Manifest []domain.CredentialResult
}

// FetchWindow fetches every transaction in [start, end] for each credential.
func (e *SyncEngine) FetchWindow(ctx context.Context, creds []domain.AccessCredential, start, end domain.Date) (*Batch, error) {
	pages, manifest, err := collect(ctx, e, creds, e.cfg.CredentialTimeout, func(ctx context.Context, cred domain.AccessCredential) ([]domain.RawTransactionRecord, int, error) {
		records, err := e.fetchWindow(ctx, cred, start, end)
		return records, len(records), err
	})
	if err != nil {
		return nil, err
	}

	batch := &Batch{Manifest: manifest}
	for _, records := range pages {
		batch.Records = append(batch.Records, records...)
	}
	return batch, nil
}

// SyncHistory runs a full cursor sync from the beginning of each credential's history.
// Each credential gets the regular timeout plus the whole not-ready backoff schedule.
func (e *SyncEngine) SyncHistory(ctx context.Context, creds []domain.AccessCredential) (*Batch, error) {
	timeout := e.cfg.CredentialTimeout + e.cfg.notReadyBackoff()
	outcomes, manifest, err := collect(ctx, e, creds, timeout, func(ctx context.Context, cred domain.AccessCredential) (historyOutcome, int, error) {
		out, err := e.syncHistory(ctx, cred)
		return out, len(out.records), err
	})
	if err != nil {
		return nil, err
	}

	batch := &Batch{Manifest: manifest, Cursors: make(map[string]string, len(outcomes))}
	for _, out := range outcomes {
		batch.Records = append(batch.Records, out.records...)
		batch.Removed = append(batch.Removed, out.removed...)
		batch.Cursors[out.itemID] = out.cursor
	}
	return batch, nil
}

func (e *SyncEngine) fetchWindow(ctx context.Context, cred domain.AccessCredential, start, end domain.Date) ([]domain.RawTransactionRecord, error) {
	var records []domain.RawTransactionRecord
	offset := 0
	for {
		page, err := e.aggregator.GetTransactions(ctx, TransactionsRequest{
			AccessToken: cred.AccessToken,
			StartDate:   start,
			EndDate:     end,
			Count:       e.cfg.PageSize,
			Offset:      offset,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, page.Transactions...)
		offset += len(page.Transactions)
		if len(page.Transactions) == 0 || offset >= page.Total {
			return records, nil
		}
	}
}

type historyOutcome struct {
	itemID  string
	records []domain.RawTransactionRecord
	removed []string
	cursor  string
}

func (e *SyncEngine) syncHistory(ctx context.Context, cred domain.AccessCredential) (historyOutcome, error) {
	ledger := newReconciler()
	cursor := ""
	notReady := 0

	for {
		page, err := e.aggregator.SyncTransactions(ctx, cred.AccessToken, cursor)
		if err == nil && page.NextCursor == "" {
			// An empty cursor means the item's history has not been materialized yet.
			err = domain.ErrNotReady
		}
		if errors.Is(err, domain.ErrNotReady) {
			notReady++
			if notReady >= e.cfg.NotReadyMaxAttempts {
				return historyOutcome{}, fmt.Errorf("%w: transactions not ready after %d attempts", domain.ErrUpstreamUnavailable, notReady)
			}
			delay := e.cfg.notReadyDelay(notReady)
			e.logger.Info("transactions not ready, backing off", "item_id", cred.ItemID, "attempt", notReady, "delay", delay)
			if err := e.sleep(ctx, delay); err != nil {
				return historyOutcome{}, err
			}
			continue
		}
		if err != nil {
			return historyOutcome{}, err
		}

		ledger.apply(page)
		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}

	return historyOutcome{
		itemID:  cred.ItemID,
		records: ledger.records(),
		removed: ledger.removed,
		cursor:  cursor,
	}, nil
}

// reconciler folds sync pages into a current view of an item's transactions.
// An id is either live or a tombstone, never both.
type reconciler struct {
	order   []string
	seen    map[string]bool
	byID    map[string]domain.RawTransactionRecord
	removed []string
}

func newReconciler() *reconciler {
	return &reconciler{
		seen: make(map[string]bool),
		byID: make(map[string]domain.RawTransactionRecord),
	}
}

func (r *reconciler) apply(page SyncPage) {
	for _, raw := range page.Added {
		r.put(raw)
	}
	for _, raw := range page.Modified {
		r.put(raw)
	}
	for _, id := range page.Removed {
		delete(r.byID, id)
		if !slices.Contains(r.removed, id) {
			r.removed = append(r.removed, id)
		}
	}
}

func (r *reconciler) put(raw domain.RawTransactionRecord) {
	id := Normalize(raw).ID
	if !r.seen[id] {
		r.seen[id] = true
		r.order = append(r.order, id)
	}
	r.byID[id] = raw
	r.removed = slices.DeleteFunc(r.removed, func(removed string) bool { return removed == id })
}

func (r *reconciler) records() []domain.RawTransactionRecord {
	out := make([]domain.RawTransactionRecord, 0, len(r.byID))
	for _, id := range r.order {
		if raw, ok := r.byID[id]; ok {
			out = append(out, raw)
		}
	}
	return out
}

// collect runs fetch for every credential with bounded parallelism and joins the
// results without letting one failure discard the others. Successful values are
// returned in credential order alongside a manifest with one entry per credential.
// If the caller's context ends, the whole call fails with the context error.
// If every credential fails, the call fails with ErrUpstreamUnavailable.
func collect[T any](
	ctx context.Context,
	e *SyncEngine,
	creds []domain.AccessCredential,
	timeout time.Duration,
	fetch func(ctx context.Context, cred domain.AccessCredential) (T, int, error),
) ([]T, []domain.CredentialResult, error) {
	if len(creds) == 0 {
		return nil, nil, domain.ErrNoCredentials
	}

	values := make([]T, len(creds))
	errs := make([]error, len(creds))
	counts := make([]int, len(creds))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallel)
	for i, cred := range creds {
		i, cred := i, cred
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			values[i], counts[i], errs[i] = fetch(cctx, cred)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var ok []T
	manifest := make([]domain.CredentialResult, len(creds))
	var reasons []string
	for i, cred := range creds {
		manifest[i] = domain.CredentialResult{ItemID: cred.ItemID, Status: domain.SyncOK, Records: counts[i]}
		if errs[i] != nil {
			manifest[i] = domain.CredentialResult{ItemID: cred.ItemID, Status: domain.SyncFailed, Reason: errs[i].Error()}
			reasons = append(reasons, fmt.Sprintf("%s: %v", cred.ItemID, errs[i]))
			e.logger.Warn("credential fetch failed", "item_id", cred.ItemID, "error", errs[i])
			continue
		}
		ok = append(ok, values[i])
	}

	if len(reasons) == len(creds) {
		return nil, manifest, fmt.Errorf("%w: all %d credentials failed (%s)", domain.ErrUpstreamUnavailable, len(creds), strings.Join(reasons, "; "))
	}
	return ok, manifest, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
