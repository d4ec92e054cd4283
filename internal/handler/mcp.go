// MCP transport for the sync daemon using the official MCP Go SDK.
// Exposes tab cart operations as MCP tools for agents.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cartsync/internal/engine"
	"cartsync/internal/model"
)

// === MCP Tool Input/Output Types ===
// Every tool names the tab it acts for; the tab is opened on first use.

// TabInput is the input schema for get_cart, flush_cart and clear_cart.
type TabInput struct {
	Tab string `json:"tab" jsonschema:"tab ID the call acts for"`
}

// SetQuantityInput is the input schema for set_quantity.
type SetQuantityInput struct {
	Tab       string `json:"tab" jsonschema:"tab ID the call acts for"`
	VariantID string `json:"variant_id" jsonschema:"variant already in the cart"`
	Quantity  int    `json:"quantity" jsonschema:"new absolute quantity, 0 removes the line"`
}

// AddItemInput is the input schema for add_item.
type AddItemInput struct {
	Tab       string `json:"tab" jsonschema:"tab ID the call acts for"`
	VariantID string `json:"variant_id" jsonschema:"variant to add"`
	Quantity  int    `json:"quantity" jsonschema:"quantity to add, must be positive"`
	Price     int64  `json:"price,omitempty" jsonschema:"unit price in minor units, for display until the server confirms"`
	Title     string `json:"title,omitempty" jsonschema:"product title, for display"`
}

// CartOutput is the cart returned by every tool.
// Slices are never nil since MCP output validation requires arrays.
type CartOutput struct {
	Tab      string             `json:"tab"`
	CartID   string             `json:"cart_id,omitempty"`
	Identity model.CartIdentity `json:"identity"`
	Items    []model.LineItem   `json:"items"`
	Summary  model.Summary      `json:"summary"`
	Pending  []string           `json:"pending"`
	Error    string             `json:"error,omitempty"`
}

func newCartOutput(tabID string, st model.CartState) *CartOutput {
	out := &CartOutput{
		Tab:      tabID,
		CartID:   st.CartID,
		Identity: st.Identity,
		Items:    st.Items,
		Summary:  st.Summary,
		Pending:  st.Pending,
	}
	if out.Items == nil {
		out.Items = []model.LineItem{}
	}
	if out.Pending == nil {
		out.Pending = []string{}
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

// NewMCPServer creates an MCP server with cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Cart sync daemon. Quantity edits apply at once and reach the store " +
				"after a short debounce; call flush_cart to wait for the store to confirm them.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart as the tab currently shows it, including unconfirmed edits.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_quantity",
		Description: "Set the quantity of a line already in the cart. Returns immediately with the optimistic cart.",
	}, h.mcpSetQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add a variant to the cart, creating the cart if needed.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "flush_cart",
		Description: "Sync every pending edit of the tab now and wait for the store.",
	}, h.mcpFlushCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TabInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	eng, err := h.mcpTab(ctx, input.Tab)
	if err != nil {
		return nil, nil, err
	}
	return nil, newCartOutput(input.Tab, eng.State()), nil
}

func (h *Handler) mcpSetQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetQuantityInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	eng, err := h.mcpTab(ctx, input.Tab)
	if err != nil {
		return nil, nil, err
	}
	if err := eng.RequestQuantityChange(input.VariantID, input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartOutput(input.Tab, eng.State()), nil
}

func (h *Handler) mcpAddItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	eng, err := h.mcpTab(ctx, input.Tab)
	if err != nil {
		return nil, nil, err
	}

	item := model.LineItem{
		VariantID: input.VariantID,
		Quantity:  input.Quantity,
		Price:     input.Price,
	}
	if input.Title != "" {
		item.Product = &model.ProductSnapshot{Title: input.Title}
	}
	if err := eng.AddItem(ctx, item); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartOutput(input.Tab, eng.State()), nil
}

func (h *Handler) mcpFlushCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TabInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	eng, err := h.mcpTab(ctx, input.Tab)
	if err != nil {
		return nil, nil, err
	}
	if err := eng.Flush(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartOutput(input.Tab, eng.State()), nil
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TabInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	eng, err := h.mcpTab(ctx, input.Tab)
	if err != nil {
		return nil, nil, err
	}
	if err := eng.Clear(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, newCartOutput(input.Tab, eng.State()), nil
}

// mcpTab opens the tab named by a tool call.
func (h *Handler) mcpTab(ctx context.Context, tabID string) (*engine.Engine, error) {
	if tabID == "" {
		return nil, fmt.Errorf("tab is required")
	}
	eng, err := h.tabs.Open(ctx, tabID)
	if eng == nil {
		return nil, h.mcpError(err)
	}
	return eng, nil
}

// mcpError converts engine errors to MCP-friendly errors.
// Internal details are logged, not returned.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}
