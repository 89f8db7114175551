package gateway

// Status is the gateway's payment status vocabulary. PENDING is the only
// non-terminal value.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Customer identifies the paying customer on the initiation request.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// InitiateRequest is the wire shape of POST /api/payments/initialize.
type InitiateRequest struct {
	Amount      int64    `json:"amount"`
	Customer    Customer `json:"customer"`
	Description string   `json:"description,omitempty"`
	Metadata    Metadata `json:"metadata"`
	VendorID    string   `json:"vendor_id"`
}

type Metadata struct {
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method"`
	Operator      string `json:"operator"`
}

// InitiateResult carries the gateway's reference for one initiated
// transaction plus, for some operators, a USSD code the customer can dial to
// complete the payment manually.
type InitiateResult struct {
	Reference string
	USSDCode  string
}

type initiateData struct {
	Reference string `json:"reference"`
	USSDCode  string `json:"ussd_code,omitempty"`
}

type statusData struct {
	Status    Status `json:"status"`
	Reference string `json:"reference"`
}

// envelope is the gateway's uniform response wrapper.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}
