package domain

// LineItem is one purchasable entry in a basket. Price is a snapshot in minor
// currency units taken when the item was first added.
type LineItem struct {
	ID            string         `json:"id"`
	Price         int64          `json:"price"`
	Quantity      int            `json:"quantity"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// IsQuantified reports whether the item carries a quantity that may be stored.
func (it LineItem) IsQuantified() bool {
	return it.Quantity > 0
}

// Total returns price times quantity.
func (it LineItem) Total() int64 {
	return it.Price * int64(it.Quantity)
}

// Basket is the aggregate root owned by a basket engine.
type Basket struct {
	Items  []LineItem
	Coupon string
}

// Find returns the index of the item with the given id or -1.
func (b *Basket) Find(id string) int {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Remove drops the item with the given id, keeping the order of the others.
func (b *Basket) Remove(id string) bool {
	i := b.Find(id)
	if i < 0 {
		return false
	}
	b.Items = append(b.Items[:i], b.Items[i+1:]...)
	return true
}

// SubTotal sums price*quantity over all items.
func (b *Basket) SubTotal() int64 {
	if b == nil {
		return 0
	}
	var sum int64
	for _, it := range b.Items {
		sum += it.Total()
	}
	return sum
}

// Clone returns a deep enough copy for handing items outside the engine lock.
// Configuration maps are shared since they are never interpreted or mutated.
func (b *Basket) Clone() Basket {
	items := make([]LineItem, len(b.Items))
	copy(items, b.Items)
	return Basket{Items: items, Coupon: b.Coupon}
}

// Reset empties the basket and drops the coupon.
func (b *Basket) Reset() {
	b.Items = []LineItem{}
	b.Coupon = ""
}
