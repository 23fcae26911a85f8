package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

type setGoalRequest struct {
	Period string          `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

type setGoalResponse struct {
	Message string      `json:"message"`
	Goal    domain.Goal `json:"goal"`
}

func (h *Handlers) SetGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	var req setGoalRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: period must be YYYY-MM and amount a number")
		return
	}

	goal, err := h.goals.SetGoal(r.Context(), userID, req.Period, req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setGoalResponse{Message: "Goal saved", Goal: goal})
}

func (h *Handlers) ListGoalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	goals, err := h.goals.ListGoals(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Goal{"goals": goals})
}

// GetGoalHandler returns {"goal": null} when no goal is set for the period.
func (h *Handlers) GetGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	goal, err := h.goals.GetGoal(r.Context(), userID, chi.URLParam(r, "period"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*domain.Goal{"goal": goal})
}

func (h *Handlers) DeleteGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.goals.DeleteGoal(r.Context(), userID, chi.URLParam(r, "period")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Goal deleted"})
}
