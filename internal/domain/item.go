package domain

import "time"

// LocalItem is the platform's own inventory record as seen by the sync
// engine. The engine reads and writes these through a simple keyed store;
// the surrounding CRUD surface owns the rest of the item lifecycle.
type LocalItem struct {
	ID          string         `json:"id" bson:"_id"`
	TenantID    string         `json:"tenant_id" bson:"tenant_id"`
	SKU         string         `json:"sku" bson:"sku"`
	Name        string         `json:"name" bson:"name"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Price       float64        `json:"price" bson:"price"`
	Currency    string         `json:"currency,omitempty" bson:"currency,omitempty"`
	Quantity    int            `json:"quantity" bson:"quantity"`
	Attributes  map[string]any `json:"attributes,omitempty" bson:"attributes,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at" bson:"updated_at"`
}

// ToRecord flattens the item into the field map used for conflict detection
func (it *LocalItem) ToRecord() Record {
	rec := Record{
		"sku":      it.SKU,
		"name":     it.Name,
		"price":    it.Price,
		"quantity": it.Quantity,
	}
	if it.Description != "" {
		rec["description"] = it.Description
	}
	if it.Currency != "" {
		rec["currency"] = it.Currency
	}
	for k, v := range it.Attributes {
		rec[k] = v
	}
	return rec
}

// ApplyRecord writes resolved field values back onto the item. Unknown
// fields land in Attributes so nothing resolved is silently dropped.
func (it *LocalItem) ApplyRecord(rec Record) {
	for k, v := range rec {
		switch k {
		case "sku":
			if s, ok := v.(string); ok {
				it.SKU = s
			}
		case "name":
			if s, ok := v.(string); ok {
				it.Name = s
			}
		case "description":
			if s, ok := v.(string); ok {
				it.Description = s
			}
		case "currency":
			if s, ok := v.(string); ok {
				it.Currency = s
			}
		case "price":
			switch n := v.(type) {
			case float64:
				it.Price = n
			case int:
				it.Price = float64(n)
			}
		case "quantity":
			switch n := v.(type) {
			case int:
				it.Quantity = n
			case float64:
				it.Quantity = int(n)
			}
		default:
			if it.Attributes == nil {
				it.Attributes = make(map[string]any)
			}
			it.Attributes[k] = v
		}
	}
}
