package order

// Address holds the shipping or billing address captured at checkout.
type Address struct {
	FullName string `json:"full_name"`
	Street   string `json:"street"`
	City     string `json:"city"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country"`
	Phone    string `json:"phone,omitempty"`
}

// Item is one order line.
type Item struct {
	ProductID string `json:"product_id"`
	VendorID  string `json:"vendor_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// PendingOrder is the order payload captured at checkout and staged until the
// payment is confirmed. Amounts are whole XAF.
type PendingOrder struct {
	Items           []Item  `json:"items"`
	ShippingAddress Address `json:"shipping_address"`
	BillingAddress  Address `json:"billing_address"`
	ShippingMethod  string  `json:"shipping_method"`
	PaymentMethod   string  `json:"payment_method"`
	Subtotal        int64   `json:"subtotal"`
	Shipping        int64   `json:"shipping"`
	TotalAmount     int64   `json:"total_amount"`
}

// Empty reports whether the staged payload carries no order lines.
func (p *PendingOrder) Empty() bool {
	return p == nil || len(p.Items) == 0
}
