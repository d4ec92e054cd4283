package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"cartsync/internal/handler"
	"cartsync/internal/model"
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen = "", "", ""
	colorYellow, colorGray, colorBold = "", "", ""
}

func printCart(cmd *cobra.Command, opts *rootOptions, cart *handler.CartResponse, raw []byte) error {
	out := cmd.OutOrStdout()
	if opts.JSON {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			_, err = out.Write(append(raw, '\n'))
			return err
		}
		fmt.Fprintln(out, pretty.String())
		return nil
	}

	cartID := cart.CartID
	if cartID == "" {
		cartID = "(none yet)"
	}
	fmt.Fprintf(out, "%sCart%s %s %stab=%s%s\n", colorBold, colorReset, cartID, colorGray, cart.Tab, colorReset)

	if len(cart.Items) == 0 {
		fmt.Fprintf(out, "  %sempty%s\n", colorGray, colorReset)
	}
	for _, item := range cart.Items {
		marker := ""
		if slices.Contains(cart.Pending, item.VariantID) {
			marker = fmt.Sprintf(" %s(pending)%s", colorYellow, colorReset)
		}
		fmt.Fprintf(out, "  %-20s x%-3d %10s%s\n",
			lineLabel(item), item.Quantity, model.FormatCents(item.Price*int64(item.Quantity)), marker)
	}
	fmt.Fprintf(out, "  %d items, subtotal %s\n", cart.Summary.ItemCount, model.FormatCents(cart.Summary.Subtotal))

	if cart.Error != "" {
		fmt.Fprintf(out, "%s✗ %s%s\n", colorRed, cart.Error, colorReset)
	}
	return nil
}

func lineLabel(item model.LineItem) string {
	if item.Product != nil && item.Product.Title != "" {
		return item.Product.Title
	}
	return item.VariantID
}

func printSuccess(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
}
