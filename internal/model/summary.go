package model

// Summary is derived from the line list on every read.
type Summary struct {
	ItemCount int   `json:"item_count"`
	Subtotal  int64 `json:"subtotal"` // minor units
}

// Summarize computes item count and subtotal over items.
func Summarize(items []LineItem) Summary {
	var s Summary
	for _, item := range items {
		s.ItemCount += item.Quantity
		s.Subtotal += item.Price * int64(item.Quantity)
	}
	return s
}
