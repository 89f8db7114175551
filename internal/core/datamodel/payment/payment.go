package payment

import (
	"encoding/json"
	"time"
)

// Attempt journal statuses. "successful", "failed" and "cancelled" mirror the
// gateway's terminal statuses; "timed_out" is session-level.
const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusTimedOut   = "timed_out"
)

// Attempt is one initiated mobile money payment, journaled locally for audit
// and for deferred order-submission recovery. Reference is the gateway's
// opaque identifier, unique per initiation.
type Attempt struct {
	ID                int64           `gorm:"primaryKey"`
	Reference         string          `gorm:"column:reference;not null;uniqueIndex"`
	OrderID           string          `gorm:"column:order_id;not null"`
	VendorID          string          `gorm:"column:vendor_id"`
	UserID            string          `gorm:"column:user_id"`
	AmountXAF         int64           `gorm:"column:amount_xaf;not null"`
	Operator          string          `gorm:"column:operator;not null"`
	PhoneNumber       string          `gorm:"column:phone_number;not null"`
	Status            string          `gorm:"column:status;default:pending"`
	USSDCode          *string         `gorm:"column:ussd_code"`
	GatewayResponse   json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	FailureReason     *string         `gorm:"column:failure_reason"`
	PollCount         int             `gorm:"column:poll_count;default:0"`
	PendingSubmission bool            `gorm:"column:pending_submission;default:false"`
	SubmittedOrderID  *string         `gorm:"column:submitted_order_id"`
	ConfirmedAt       *time.Time      `gorm:"column:confirmed_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Attempt) TableName() string {
	return "payment_attempts"
}

// Terminal reports whether the journaled status admits no further change.
func (a *Attempt) Terminal() bool {
	switch a.Status {
	case StatusSuccessful, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// NeedsSubmission reports whether the payment was captured but the order was
// never created, i.e. the reconciler still owes the customer an order.
func (a *Attempt) NeedsSubmission() bool {
	return a.Status == StatusSuccessful && a.PendingSubmission
}
