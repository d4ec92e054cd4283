// Package storeapi implements the cart service over the store's cart REST API.
// All wire types, transforms and HTTP client logic for that API live here.
package storeapi

// === Cart API Response Types ===

// CartResponse is the cart document returned by every cart endpoint.
type CartResponse struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id,omitempty"`
	SessionToken string     `json:"session_token,omitempty"`
	Items        []CartItem `json:"items"`
}

// CartItem is one line of a cart response.
// Product and variant blocks are optional; the API omits them for lines whose
// catalog data is being reindexed.
type CartItem struct {
	VariantID string       `json:"variant_id"`
	Quantity  int          `json:"quantity"`
	Price     string       `json:"price"` // "12.50" - string decimal, unit price
	Product   *CartProduct `json:"product,omitempty"`
	Variant   *CartVariant `json:"variant,omitempty"`
}

// CartProduct is the product block of a cart line.
type CartProduct struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Handle string      `json:"handle"`
	Images []CartImage `json:"images,omitempty"`
}

// CartVariant is the variant block of a cart line.
type CartVariant struct {
	Title string     `json:"title"`
	SKU   string     `json:"sku"`
	Image *CartImage `json:"image,omitempty"`
}

// CartImage is an image reference.
type CartImage struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// ErrorResponse is the error body of the cart API.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// === Cart API Request Types ===

// CreateCartRequest creates a cart for exactly one of user or session.
type CreateCartRequest struct {
	UserID       string `json:"user_id,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// QuantityRequest is the body of the add/remove item endpoints.
type QuantityRequest struct {
	Quantity int `json:"quantity"`
}
