/**
 * @description
 * This package provides a client for the Plaid API. It implements the budget
 * engine's Aggregator contract: link token creation, public token exchange,
 * windowed and cursor-based transaction fetches, account listing and item removal.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: account balances.
 *
 * @notes
 * - Every Plaid endpoint is a POST carrying client_id and secret in the body.
 * - PRODUCT_NOT_READY is reported as domain.ErrNotReady so the sync engine can back off;
 *   all other failures wrap domain.ErrUpstreamUnavailable.
 */
package plaidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	errorCodeProductNotReady = "PRODUCT_NOT_READY"
	errorCodeInvalidAPIKeys  = "INVALID_API_KEYS"

	errorTypeInvalidRequest = "INVALID_REQUEST"
	errorTypeInvalidInput   = "INVALID_INPUT"
)

var environmentURLs = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// BaseURLForEnv maps a Plaid environment name to its API host. Unknown names
// fall back to the sandbox.
func BaseURLForEnv(env string) string {
	if u, ok := environmentURLs[strings.ToLower(strings.TrimSpace(env))]; ok {
		return u
	}
	return environmentURLs["sandbox"]
}

// Config holds the client's credentials and link settings.
type Config struct {
	BaseURL     string
	ClientID    string
	Secret      string
	ClientName  string
	RedirectURI string
}

// Client is a client for the Plaid API.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	logger     *slog.Logger
}

var _ app.Aggregator = (*Client)(nil)

// NewClient creates a new Plaid API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.ClientName == "" {
		cfg.ClientName = "BudgetGator"
	}
	return &Client{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "plaid_client"),
	}
}

// ErrorResponse is Plaid's error envelope.
type ErrorResponse struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
	StatusCode     int    `json:"-"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("plaid api error: %s %s - %s", e.ErrorType, e.ErrorCode, e.ErrorMessage)
}

// Unwrap lets callers match Plaid errors against the domain taxonomy. Rejected input,
// such as a malformed or expired public token, is a validation error; a bad client
// secret is ours to fix and stays an upstream failure, as do item, rate limit and
// server errors.
func (e *ErrorResponse) Unwrap() error {
	switch {
	case e.ErrorCode == errorCodeProductNotReady:
		return domain.ErrNotReady
	case e.ErrorCode == errorCodeInvalidAPIKeys:
		return domain.ErrUpstreamUnavailable
	case e.ErrorType == errorTypeInvalidRequest, e.ErrorType == errorTypeInvalidInput:
		return domain.ErrValidation
	}
	return domain.ErrUpstreamUnavailable
}

type linkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
}

type linkTokenCreateRequest struct {
	ClientID     string        `json:"client_id"`
	Secret       string        `json:"secret"`
	ClientName   string        `json:"client_name"`
	User         linkTokenUser `json:"user"`
	Products     []string      `json:"products"`
	CountryCodes []string      `json:"country_codes"`
	Language     string        `json:"language"`
	RedirectURI  string        `json:"redirect_uri,omitempty"`
}

type linkTokenCreateResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
}

// CreateLinkToken opens a Link session for the given user.
func (c *Client) CreateLinkToken(ctx context.Context, clientUserID string) (string, error) {
	req := linkTokenCreateRequest{
		ClientID:     c.cfg.ClientID,
		Secret:       c.cfg.Secret,
		ClientName:   c.cfg.ClientName,
		User:         linkTokenUser{ClientUserID: clientUserID},
		Products:     []string{"transactions"},
		CountryCodes: []string{"US"},
		Language:     "en",
		RedirectURI:  c.cfg.RedirectURI,
	}
	var resp linkTokenCreateResponse
	if err := c.do(ctx, "/link/token/create", req, &resp); err != nil {
		return "", err
	}
	return resp.LinkToken, nil
}

type publicTokenExchangeRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

type publicTokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// ExchangePublicToken trades a Link public token for a durable access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (app.ExchangeResult, error) {
	req := publicTokenExchangeRequest{ClientID: c.cfg.ClientID, Secret: c.cfg.Secret, PublicToken: publicToken}
	var resp publicTokenExchangeResponse
	if err := c.do(ctx, "/item/public_token/exchange", req, &resp); err != nil {
		return app.ExchangeResult{}, err
	}
	return app.ExchangeResult{AccessToken: resp.AccessToken, ItemID: resp.ItemID}, nil
}

type transactionsGetOptions struct {
	Count  int `json:"count,omitempty"`
	Offset int `json:"offset"`
}

type transactionsGetRequest struct {
	ClientID    string                 `json:"client_id"`
	Secret      string                 `json:"secret"`
	AccessToken string                 `json:"access_token"`
	StartDate   string                 `json:"start_date"`
	EndDate     string                 `json:"end_date"`
	Options     transactionsGetOptions `json:"options"`
}

type transactionsGetResponse struct {
	Transactions      []domain.RawTransactionRecord `json:"transactions"`
	TotalTransactions int                           `json:"total_transactions"`
}

// GetTransactions fetches one page of the transactions in a date window.
func (c *Client) GetTransactions(ctx context.Context, in app.TransactionsRequest) (app.TransactionsPage, error) {
	req := transactionsGetRequest{
		ClientID:    c.cfg.ClientID,
		Secret:      c.cfg.Secret,
		AccessToken: in.AccessToken,
		StartDate:   in.StartDate.String(),
		EndDate:     in.EndDate.String(),
		Options:     transactionsGetOptions{Count: in.Count, Offset: in.Offset},
	}
	var resp transactionsGetResponse
	if err := c.do(ctx, "/transactions/get", req, &resp); err != nil {
		return app.TransactionsPage{}, err
	}
	return app.TransactionsPage{Transactions: resp.Transactions, Total: resp.TotalTransactions}, nil
}

type transactionsSyncRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
}

type removedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

type transactionsSyncResponse struct {
	Added      []domain.RawTransactionRecord `json:"added"`
	Modified   []domain.RawTransactionRecord `json:"modified"`
	Removed    []removedTransaction          `json:"removed"`
	NextCursor string                        `json:"next_cursor"`
	HasMore    bool                          `json:"has_more"`
}

// SyncTransactions fetches one page of cursor-based sync.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string) (app.SyncPage, error) {
	req := transactionsSyncRequest{ClientID: c.cfg.ClientID, Secret: c.cfg.Secret, AccessToken: accessToken, Cursor: cursor}
	var resp transactionsSyncResponse
	if err := c.do(ctx, "/transactions/sync", req, &resp); err != nil {
		return app.SyncPage{}, err
	}

	removed := make([]string, 0, len(resp.Removed))
	for _, r := range resp.Removed {
		removed = append(removed, r.TransactionID)
	}
	return app.SyncPage{
		Added:      resp.Added,
		Modified:   resp.Modified,
		Removed:    removed,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}

type accessTokenRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type plaidAccount struct {
	AccountID    string `json:"account_id"`
	Name         string `json:"name"`
	OfficialName string `json:"official_name"`
	Mask         string `json:"mask"`
	Type         string `json:"type"`
	Subtype      string `json:"subtype"`
	Balances     struct {
		Available       *decimal.Decimal `json:"available"`
		Current         *decimal.Decimal `json:"current"`
		ISOCurrencyCode string           `json:"iso_currency_code"`
	} `json:"balances"`
}

type accountsGetResponse struct {
	Accounts []plaidAccount `json:"accounts"`
	Item     struct {
		ItemID string `json:"item_id"`
	} `json:"item"`
}

// GetAccounts lists the accounts behind an access token.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]domain.Account, error) {
	req := accessTokenRequest{ClientID: c.cfg.ClientID, Secret: c.cfg.Secret, AccessToken: accessToken}
	var resp accountsGetResponse
	if err := c.do(ctx, "/accounts/get", req, &resp); err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, domain.Account{
			AccountID:    a.AccountID,
			ItemID:       resp.Item.ItemID,
			Name:         a.Name,
			OfficialName: a.OfficialName,
			Mask:         a.Mask,
			Type:         a.Type,
			Subtype:      a.Subtype,
			Balances: domain.AccountBalances{
				Available:       a.Balances.Available,
				Current:         a.Balances.Current,
				ISOCurrencyCode: a.Balances.ISOCurrencyCode,
			},
		})
	}
	return accounts, nil
}

// RemoveItem invalidates an access token upstream.
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	req := accessTokenRequest{ClientID: c.cfg.ClientID, Secret: c.cfg.Secret, AccessToken: accessToken}
	var resp struct {
		RequestID string `json:"request_id"`
	}
	return c.do(ctx, "/item/remove", req, &resp)
}

// do posts payload to path and decodes a 2xx body into target. Numbers inside
// free-form objects are kept as json.Number so amounts survive without float
// rounding.
func (c *Client) do(ctx context.Context, path string, payload interface{}, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: failed to execute %s request: %v", domain.ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s response: %v", domain.ErrUpstreamUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.ErrorCode == "" {
			c.logger.Warn("non-2xx response (unparsable error body)", "op", path, "status", resp.StatusCode)
			return fmt.Errorf("%w: %s returned status %d", domain.ErrUpstreamUnavailable, path, resp.StatusCode)
		}
		errResp.StatusCode = resp.StatusCode
		c.logger.Warn("plaid api error", "op", path, "status", resp.StatusCode, "error_code", errResp.ErrorCode, "request_id", errResp.RequestID)
		return &errResp
	}

	decoder := json.NewDecoder(bytes.NewReader(bodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", domain.ErrUpstreamUnavailable, path, err)
	}
	return nil
}
