package domain

// OrderItem is a line item as sent to the order gateway.
type OrderItem struct {
	ID            string         `json:"id"`
	Quantity      int            `json:"quantity"`
	Configuration map[string]any `json:"configuration,omitempty"`
	CouponCode    string         `json:"couponCode,omitempty"`
}

// OrderItems maps basket items to order items. The coupon is attached to the
// first item only.
func OrderItems(items []LineItem, coupon string) []OrderItem {
	out := make([]OrderItem, len(items))
	for i, it := range items {
		out[i] = OrderItem{
			ID:            it.ID,
			Quantity:      it.Quantity,
			Configuration: it.Configuration,
		}
	}
	if len(out) > 0 {
		out[0].CouponCode = coupon
	}
	return out
}

type Address struct {
	Label     string `json:"label"`
	Addressee string `json:"addressee"`
}

// PurchaseOrder is the payload submitted to place an order.
type PurchaseOrder struct {
	TermsAndConditions bool        `json:"termsAndConditions"`
	Provider           string      `json:"provider,omitempty"`
	Comment            string      `json:"comment,omitempty"`
	Items              []OrderItem `json:"items"`
	Billing            Address     `json:"billing"`
	Shipping           Address     `json:"shipping"`
}

// SubmitResponse is returned by the order gateway on success. A non-empty
// ApprovalURL means the shopper must approve the payment externally.
type SubmitResponse struct {
	ApprovalURL string `json:"approvalUrl,omitempty"`
}

type EchoRequest struct {
	Namespace string      `json:"namespace"`
	Items     []OrderItem `json:"items"`
}

// EchoItem is a server priced line item.
type EchoItem struct {
	ID            string         `json:"id"`
	Price         int64          `json:"price"`
	Quantity      int            `json:"quantity"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// EchoResponse is the authoritative pricing of a draft order.
type EchoResponse struct {
	CouponCode        string           `json:"couponCode,omitempty"`
	Items             []EchoItem       `json:"items"`
	AdditionalCharges []map[string]any `json:"additionalCharges,omitempty"`
	SubTotal          int64            `json:"subTotal"`
	Price             int64            `json:"price,omitempty"`
	ItemTotal         int64            `json:"itemTotal,omitempty"`
}

// LineItems converts priced items back into basket line items.
func (r EchoResponse) LineItems() []LineItem {
	out := make([]LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, LineItem{
			ID:            it.ID,
			Price:         it.Price,
			Quantity:      it.Quantity,
			Configuration: it.Configuration,
		})
	}
	return out
}

// View is what presenters receive on render.
type View struct {
	CouponCode        string           `json:"couponCode,omitempty"`
	Items             []LineItem       `json:"items"`
	SubTotal          int64            `json:"subTotal"`
	AdditionalCharges []map[string]any `json:"additionalCharges,omitempty"`
	ItemTotal         int64            `json:"itemTotal,omitempty"`
	Authoritative     bool             `json:"authoritative"`
}

// Total returns the server sub total. Older endpoints report it as price.
func (r EchoResponse) Total() int64 {
	if r.SubTotal != 0 {
		return r.SubTotal
	}
	return r.Price
}
