package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/transport"
)

// ServiceAPI is the slice of the payment service the HTTP layer consumes.
type ServiceAPI interface {
	StageOrder(pending *ordermodel.PendingOrder) *errors.AppError
	InitiatePayment(ctx context.Context, req *Request) (Snapshot, *errors.AppError)
	GetSession(id string) (Snapshot, *errors.AppError)
	CheckSession(ctx context.Context, id string) (Snapshot, *errors.AppError)
	CancelSession(id string) (Snapshot, *errors.AppError)
	HandleGatewayCallback(ctx context.Context, reference string, status gateway.Status) *errors.AppError
}

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// InitiatePayment handles POST /api/v1/payments/initiate
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID := errors.UserIDFromContext(r.Context())
	if userID == "" {
		h.Logger.Error("InitiatePayment: user not found in context")
		h.HandleError(w, errors.NewUnauthenticatedError("authentication required", errors.ErrCodeUnauthenticated))
		return
	}

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("InitiatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Error("InitiatePayment: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	if req.PendingOrder != nil {
		if appErr := h.PaymentService.StageOrder(req.PendingOrder); appErr != nil {
			h.Logger.Error("InitiatePayment: failed to stage order", "error", appErr, "order_id", req.OrderID)
			h.HandleError(w, appErr)
			return
		}
	}

	snapshot, appErr := h.PaymentService.InitiatePayment(r.Context(), req.toSessionRequest(userID))
	if appErr != nil {
		h.Logger.Error("InitiatePayment: initiation failed",
			"error", appErr,
			"order_id", req.OrderID,
			"session_id", snapshot.ID)
		h.HandleError(w, appErr)
		return
	}

	h.Logger.Info("InitiatePayment: payment session started",
		"session_id", snapshot.ID,
		"reference", snapshot.Reference,
		"operator", snapshot.Operator,
		"order_id", req.OrderID,
		"user_id", userID)

	h.WriteJSON(w, http.StatusAccepted, snapshot)
}

// GetSession handles GET /api/v1/payments/sessions/{sessionID}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, appErr := h.PaymentService.GetSession(sessionID)
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	h.WriteJSON(w, http.StatusOK, snapshot)
}

// CheckSession handles POST /api/v1/payments/sessions/{sessionID}/check
func (h *Handler) CheckSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, appErr := h.PaymentService.CheckSession(r.Context(), sessionID)
	if appErr != nil {
		h.Logger.Error("CheckSession: manual check failed", "session_id", sessionID, "error", appErr)
		h.HandleError(w, appErr)
		return
	}

	h.WriteJSON(w, http.StatusOK, snapshot)
}

// CancelSession handles POST /api/v1/payments/sessions/{sessionID}/cancel
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snapshot, appErr := h.PaymentService.CancelSession(sessionID)
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	h.Logger.Info("CancelSession: payment session cancelled", "session_id", sessionID)
	h.WriteJSON(w, http.StatusOK, snapshot)
}

// Callback handles POST /api/v1/payments/callback, the gateway's webhook.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Callback: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Error("Callback: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	status, ok := req.GatewayStatus()
	if !ok {
		h.Logger.Error("Callback: unrecognized status", "status", req.Status, "reference", req.Reference)
		h.HandleError(w, errors.NewValidationError("unrecognized payment status", errors.ErrCodeValidationFailed))
		return
	}

	if appErr := h.PaymentService.HandleGatewayCallback(r.Context(), req.Reference, status); appErr != nil {
		h.Logger.Error("Callback: failed to apply callback", "reference", req.Reference, "error", appErr)
		h.HandleError(w, appErr)
		return
	}

	h.Logger.Info("Callback: gateway callback applied", "reference", req.Reference, "status", req.Status)
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "received",
	})
}
