package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kw-0/BudgetGator/internal/app"
)

type exchangeTokenRequest struct {
	PublicToken string `json:"public_token"`
}

type syncRequest struct {
	AccessToken string `json:"access_token"`
}

type linkBenefactorRequest struct {
	BenefactorUsername string `json:"benefactorUsername"`
}

// CreateLinkSessionHandler returns a provisional token the client hands to the bank
// linking widget.
func (h *Handlers) CreateLinkSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	token, err := h.links.CreateLinkSession(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

// ExchangeTokenHandler completes a link with the public token returned by the widget.
func (h *Handlers) ExchangeTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	var req exchangeTokenRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := h.links.CompleteLink(r.Context(), userID, req.PublicToken); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) RevokeCredentialHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.links.RevokeCredential(r.Context(), userID, chi.URLParam(r, "itemID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Bank connection removed"})
}

// TransactionsHandler serves the windowed, filtered aggregation.
func (h *Handlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	result, err := h.budget.Transactions(r.Context(), userID, app.TransactionsQuery{
		Period:      q.Get("period"),
		Category:    q.Get("category"),
		AccountID:   q.Get("account_id"),
		AccessToken: q.Get("access_token"),
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SyncHandler runs a full-history backfill. The body is optional.
func (h *Handlers) SyncHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := h.budget.Sync(r.Context(), userID, req.AccessToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) AccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	result, err := h.budget.Accounts(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) LinkBenefactorHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	var req linkBenefactorRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	copied, err := h.sharing.LinkBenefactor(r.Context(), userID, req.BenefactorUsername)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Benefactor linked; %d bank connection(s) shared", copied),
	})
}
