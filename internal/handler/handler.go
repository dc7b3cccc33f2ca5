package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/honeynil/tappay/internal/infrastructure/auth"
	"github.com/honeynil/tappay/internal/models"
	service "github.com/honeynil/tappay/internal/services"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
)

type Handler struct {
	authorizations service.AuthorizationService
	settlements    service.SettlementService
	webhooks       service.WebhookService
}

func NewHandler(a service.AuthorizationService, s service.SettlementService, w service.WebhookService) *Handler {
	return &Handler{authorizations: a, settlements: s, webhooks: w}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// Authorize always answers HTTP 200: a denial is a normal verdict the
// terminal renders, never a transport error.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID     string `json:"card_id"`
		Amount     int64  `json:"amount"`
		TerminalID string `json:"terminal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusOK, models.AuthorizationResult{
			Authorized: false,
			Reason:     models.ReasonInvalidInput,
		})
		return
	}

	result := h.authorizations.Authorize(r.Context(), req.CardID, req.Amount, req.TerminalID)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID     string `json:"card_id"`
		Amount     int64  `json:"amount"`
		MerchantID string `json:"merchant_id"`
		TerminalID string `json:"terminal_id"`
		AuthCode   string `json:"auth_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	correlationID := r.Header.Get("X-Idempotency-Key")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	tx, err := h.settlements.Settle(r.Context(), req.CardID, req.Amount, req.MerchantID, req.TerminalID, req.AuthCode, correlationID)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrNotAuthorized):
			h.writeError(w, http.StatusForbidden, err)
		case errors.Is(err, pkgerrors.ErrMerchantNotFound),
			errors.Is(err, pkgerrors.ErrMerchantInactive),
			errors.Is(err, pkgerrors.ErrTerminalInactive):
			h.writeError(w, http.StatusUnprocessableEntity, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": tx.ID,
		"status":         string(tx.Status),
	})
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := h.settlements.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(auth.ContextAccountID).(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}

	id := mux.Vars(r)["id"]
	err := h.settlements.Cancel(r.Context(), id, accountID)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, pkgerrors.ErrNotCancellable):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCancelled)})
}

func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := r.Context().Value(auth.ContextMerchantID).(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	id := mux.Vars(r)["id"]
	refund, err := h.settlements.Refund(r.Context(), id, req.Amount, merchantID)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrNotRefundable), errors.Is(err, pkgerrors.ErrAlreadyRefunded):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": refund.ID,
		"status":         string(refund.Status),
	})
}

func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := r.Context().Value(auth.ContextMerchantID).(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}

	var req struct {
		URL         string                `json:"url"`
		Events      []models.WebhookEvent `json:"events"`
		MaxFailures int                   `json:"max_failures"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	sub, err := h.webhooks.CreateSubscription(r.Context(), merchantID, req.URL, req.Events, req.MaxFailures)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidInput) {
			h.writeError(w, http.StatusBadRequest, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	// The secret appears in this response only.
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"subscription": sub,
		"secret":       sub.Secret,
	})
}

func (h *Handler) ReactivateWebhook(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := r.Context().Value(auth.ContextMerchantID).(string)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.webhooks.Reactivate(r.Context(), id, merchantID); err != nil {
		if errors.Is(err, pkgerrors.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
