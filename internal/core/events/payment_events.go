package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentConfirmed = "payment.confirmed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentTimedOut  = "payment.timed_out"
	EventTypeOrderSubmitted   = "order.submitted"
)

// PaymentConfirmedEvent fires when the gateway reports a SUCCESSFUL status.
// PendingSubmission is true when order creation is still owed.
type PaymentConfirmedEvent struct {
	BaseEvent
	Reference         string `json:"reference"`
	OrderID           string `json:"order_id"`
	AmountXAF         int64  `json:"amount_xaf"`
	Operator          string `json:"operator"`
	SubmittedOrderID  string `json:"submitted_order_id,omitempty"`
	PendingSubmission bool   `json:"pending_submission"`
}

func NewPaymentConfirmedEvent(reference, orderID string, amountXAF int64, operatorName, submittedOrderID string, pendingSubmission bool) *PaymentConfirmedEvent {
	return &PaymentConfirmedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentConfirmed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reference":          reference,
				"order_id":           orderID,
				"amount_xaf":         amountXAF,
				"operator":           operatorName,
				"submitted_order_id": submittedOrderID,
				"pending_submission": pendingSubmission,
			},
		},
		Reference:         reference,
		OrderID:           orderID,
		AmountXAF:         amountXAF,
		Operator:          operatorName,
		SubmittedOrderID:  submittedOrderID,
		PendingSubmission: pendingSubmission,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	Reference     string `json:"reference"`
	OrderID       string `json:"order_id"`
	AmountXAF     int64  `json:"amount_xaf"`
	GatewayStatus string `json:"gateway_status"`
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(reference, orderID string, amountXAF int64, gatewayStatus, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reference":      reference,
				"order_id":       orderID,
				"amount_xaf":     amountXAF,
				"gateway_status": gatewayStatus,
				"failure_reason": failureReason,
			},
		},
		Reference:     reference,
		OrderID:       orderID,
		AmountXAF:     amountXAF,
		GatewayStatus: gatewayStatus,
		FailureReason: failureReason,
	}
}

// PaymentTimedOutEvent is not a failure: the customer may still complete the
// payment on their device, so consumers should treat it as ambiguous.
type PaymentTimedOutEvent struct {
	BaseEvent
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	AmountXAF int64  `json:"amount_xaf"`
	PollCount int    `json:"poll_count"`
}

func NewPaymentTimedOutEvent(reference, orderID string, amountXAF int64, pollCount int) *PaymentTimedOutEvent {
	return &PaymentTimedOutEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentTimedOut,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reference":  reference,
				"order_id":   orderID,
				"amount_xaf": amountXAF,
				"poll_count": pollCount,
			},
		},
		Reference: reference,
		OrderID:   orderID,
		AmountXAF: amountXAF,
		PollCount: pollCount,
	}
}

type OrderSubmittedEvent struct {
	BaseEvent
	Reference        string `json:"reference"`
	SubmittedOrderID string `json:"submitted_order_id"`
	UserID           string `json:"user_id"`
}

func NewOrderSubmittedEvent(reference, submittedOrderID, userID string) *OrderSubmittedEvent {
	return &OrderSubmittedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderSubmitted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"reference":          reference,
				"submitted_order_id": submittedOrderID,
				"user_id":            userID,
			},
		},
		Reference:        reference,
		SubmittedOrderID: submittedOrderID,
		UserID:           userID,
	}
}
