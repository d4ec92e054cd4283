package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cartsync/internal/model"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Addr    string
	Tab     string
	JSON    bool
	NoColor bool
	Timeout time.Duration
}

func (o *rootOptions) client() *client {
	return &client{
		addr: o.Addr,
		tab:  o.Tab,
		http: &http.Client{Timeout: o.Timeout},
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Inspect and edit carts held by cartsyncd",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.NoColor || os.Getenv("NO_COLOR") != "" {
				disableColors()
			}
			if opts.Tab == "" {
				return fmt.Errorf("--tab must not be empty")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", envOr("CARTSYNC_ADDR", "http://localhost:8080"), "daemon base URL")
	cmd.PersistentFlags().StringVar(&opts.Tab, "tab", envOr("CARTSYNC_TAB", "cli"), "tab to act on")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print raw JSON")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		newGetCommand(opts),
		newSetCommand(opts),
		newAddCommand(opts),
		newFlushCommand(opts),
		newRefreshCommand(opts),
		newClearCommand(opts),
		newTabsCommand(opts),
		newLoginCommand(opts),
	)
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the tab's cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, raw, err := opts.client().cart(cmd.Context(), http.MethodGet, "/cart", nil)
			if err != nil {
				return err
			}
			return printCart(cmd, opts, cart, raw)
		},
	}
}

func newSetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <variant> <quantity>",
		Short: "Set a line's quantity (0 removes it)",
		Long: `Set a line's quantity. The daemon syncs the edit after its debounce
window; run "cartctl flush" to sync immediately.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseQuantity(args[1])
			if err != nil {
				return err
			}
			body := map[string]int{"quantity": qty}
			cart, raw, err := opts.client().cart(cmd.Context(), http.MethodPut, "/cart/items/"+args[0], body)
			if err != nil {
				return err
			}
			return printCart(cmd, opts, cart, raw)
		},
	}
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var price int64
	var title string

	cmd := &cobra.Command{
		Use:   "add <variant> <quantity>",
		Short: "Add an item, creating the cart if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseQuantity(args[1])
			if err != nil {
				return err
			}
			if qty == 0 {
				return fmt.Errorf("quantity must be positive")
			}
			item := model.LineItem{VariantID: args[0], Quantity: qty, Price: price}
			if title != "" {
				item.Product = &model.ProductSnapshot{Title: title}
			}
			cart, raw, err := opts.client().cart(cmd.Context(), http.MethodPost, "/cart/items", item)
			if err != nil {
				return err
			}
			return printCart(cmd, opts, cart, raw)
		},
	}
	cmd.Flags().Int64Var(&price, "price", 0, "unit price in minor units, shown until the server confirms")
	cmd.Flags().StringVar(&title, "title", "", "product title, shown until the server confirms")
	return cmd
}

func newFlushCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Sync pending edits now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, raw, err := opts.client().cart(cmd.Context(), http.MethodPost, "/cart/flush", nil)
			if err != nil {
				return err
			}
			return printCart(cmd, opts, cart, raw)
		},
	}
}

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refetch the cart from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, raw, err := opts.client().cart(cmd.Context(), http.MethodPost, "/cart/refresh", nil)
			if err != nil {
				return err
			}
			return printCart(cmd, opts, cart, raw)
		},
	}
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cart, raw, err := opts.client().cart(cmd.Context(), http.MethodDelete, "/cart", nil)
			if err != nil {
				return err
			}
			return printCart(cmd, opts, cart, raw)
		},
	}
}

func newTabsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List open tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Tabs []string `json:"tabs"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/tabs", nil, &resp); err != nil {
				return err
			}
			for _, id := range resp.Tabs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "close <tab>",
		Short: "Close a tab, dropping its unsynced edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodDelete, "/tabs/"+args[0], nil, nil); err != nil {
				return err
			}
			printSuccess(cmd, "closed tab %s", args[0])
			return nil
		},
	})
	return cmd
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Switch every tab to a user's cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"user_id": args[0]}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/session/login", body, nil); err != nil {
				return err
			}
			printSuccess(cmd, "logged in as %s", args[0])
			return nil
		},
	}
}

func parseQuantity(s string) (int, error) {
	qty, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	if qty < 0 {
		return 0, fmt.Errorf("quantity must not be negative")
	}
	return qty, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
