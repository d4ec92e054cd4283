package storeapi

import "cartsync/internal/model"

// ToSnapshot converts a cart API response to the engine's snapshot.
// Missing product or variant blocks stay nil so the engine can tell
// "unknown" apart from "empty" and keep its last known copy.
func ToSnapshot(resp *CartResponse) *model.CartSnapshot {
	if resp == nil {
		return nil
	}
	snap := &model.CartSnapshot{
		ID: resp.ID,
		Identity: model.CartIdentity{
			UserID:       resp.UserID,
			SessionToken: resp.SessionToken,
		},
		Items: make([]model.LineItem, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		snap.Items = append(snap.Items, toLineItem(item))
	}
	return snap
}

func toLineItem(item CartItem) model.LineItem {
	line := model.LineItem{
		VariantID: item.VariantID,
		Quantity:  item.Quantity,
		Price:     model.ParseCents(item.Price),
	}
	if p := item.Product; p != nil {
		line.Product = &model.ProductSnapshot{
			ID:     p.ID,
			Title:  p.Title,
			Handle: p.Handle,
		}
		if len(p.Images) > 0 {
			line.Product.ImageURL = p.Images[0].Src
		}
	}
	if v := item.Variant; v != nil {
		line.Variant = &model.VariantSnapshot{
			Title: v.Title,
			SKU:   v.SKU,
		}
		if v.Image != nil {
			line.Variant.ImageURL = v.Image.Src
		}
	}
	return line
}
