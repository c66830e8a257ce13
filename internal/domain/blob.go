package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedBlob = errors.New("malformed basket blob")

type blob struct {
	Items  []LineItem `json:"items"`
	Coupon string     `json:"coupon,omitempty"`
}

// EncodeBasket serializes a basket into the canonical {items, coupon} schema.
func EncodeBasket(b Basket) ([]byte, error) {
	items := b.Items
	if items == nil {
		items = []LineItem{}
	}
	data, err := json.Marshal(blob{Items: items, Coupon: b.Coupon})
	if err != nil {
		return nil, fmt.Errorf("marshal basket failed: %w", err)
	}
	return data, nil
}

// DecodeBasket reads either the canonical object schema or the legacy bare
// array of items written by older clients.
func DecodeBasket(data []byte) (Basket, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Basket{}, ErrMalformedBlob
	}

	if trimmed[0] == '[' {
		var items []LineItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Basket{}, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
		}
		return Basket{Items: nonNil(items)}, nil
	}

	var b blob
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return Basket{}, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	return Basket{Items: nonNil(b.Items), Coupon: b.Coupon}, nil
}

func nonNil(items []LineItem) []LineItem {
	if items == nil {
		return []LineItem{}
	}
	return items
}
