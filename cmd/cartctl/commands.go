package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/sqlite"
)

// globalOptions хранит флаги, общие для всех команд.
type globalOptions struct {
	dbPath      string
	catalogFile string
	shippingFee string
	verbose     bool
}

// session держит открытую корзину вместе с файлом слотов.
type session struct {
	store  *cart.Store
	slots  *sqlite.SlotStorage
	logger *log.Entry
}

func (s *session) Close() error {
	return s.slots.Close()
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "cartctl",
		Short: "Manage the storefront cart stored in a local SQLite file",
		Long: `cartctl works with a single shopping cart persisted in a local SQLite file.

The cart survives between invocations: every command loads the saved snapshot,
applies the change and writes the snapshot back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "data/cart.db", "SQLite file holding the cart slot")
	root.PersistentFlags().StringVar(&opts.catalogFile, "catalog", "", "YAML catalog file (default: built-in catalog)")
	root.PersistentFlags().StringVar(&opts.shippingFee, "shipping-fee", cart.DefaultShippingFee.StringFixed(2), "flat shipping fee for a non-empty cart")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newCatalogCmd(opts),
		newAddCmd(opts),
		newSetCmd(opts),
		newRemoveCmd(opts),
		newClearCmd(opts),
		newShowCmd(opts),
		newCheckoutCmd(opts),
	)
	return root
}

func newCatalogCmd(opts *globalOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List catalog products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			products, err := loadCatalog(opts.catalogFile)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK\tSIZES")
			for _, p := range products.ByCategory(category) {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					p.ID, p.Name, p.Category, p.Price.StringFixed(2), p.Stock, strings.Join(p.Sizes, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "show only one category (all: every product)")
	return cmd
}

func newAddCmd(opts *globalOptions) *cobra.Command {
	var (
		quantity int
		size     string
	)
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, func(s *session) error {
				if err := s.store.Add(args[0], quantity, size); err != nil {
					return describeError(err)
				}
				return printCart(cmd.OutOrStdout(), s.store)
			})
		},
	}
	cmd.Flags().IntVarP(&quantity, "qty", "q", 1, "quantity to add")
	cmd.Flags().StringVarP(&size, "size", "s", "", "size (default: the product's first size)")
	return cmd
}

func newSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <quantity>",
		Short: "Overwrite the quantity of a cart line; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseCartKey(args[0])
			if err != nil {
				return err
			}
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q is not a whole number", args[1])
			}
			return withSession(opts, func(s *session) error {
				if err := s.store.SetQuantity(key, quantity); err != nil {
					return describeError(err)
				}
				return printCart(cmd.OutOrStdout(), s.store)
			})
		},
	}
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <key>",
		Aliases: []string{"rm"},
		Short:   "Remove a cart line",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseCartKey(args[0])
			if err != nil {
				return err
			}
			return withSession(opts, func(s *session) error {
				if err := s.store.Remove(key); err != nil {
					return describeError(err)
				}
				return printCart(cmd.OutOrStdout(), s.store)
			})
		},
	}
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(opts, func(s *session) error {
				if err := s.store.Clear(); err != nil {
					return describeError(err)
				}
				return printCart(cmd.OutOrStdout(), s.store)
			})
		},
	}
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print cart lines and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(opts, func(s *session) error {
				return printCart(cmd.OutOrStdout(), s.store)
			})
		},
	}
}

func newCheckoutCmd(opts *globalOptions) *cobra.Command {
	var customer domain.CustomerInfo
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place the order and empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(opts, func(s *session) error {
				orchestrator := checkout.NewOrchestrator(checkout.UUIDGenerator{},
					payment.NewSimulatedService(s.logger),
					checkout.WithLogger(s.logger),
				)
				order, err := orchestrator.Finalize(context.Background(), s.store, customer)
				if err != nil && !domain.IsPersistenceFailure(err) {
					return describeError(err)
				}
				printOrder(cmd.OutOrStdout(), order)
				if err != nil {
					return fmt.Errorf("order %s was placed but the emptied cart was not saved: %w", order.ID, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&customer.Name, "name", "", "recipient name")
	cmd.Flags().StringVar(&customer.Address, "address", "", "delivery address")
	cmd.Flags().StringVar(&customer.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&customer.Note, "note", "", "optional note for the shop")
	cmd.Flags().StringVar(&customer.Email, "email", "", "contact email")
	return cmd
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(path)
}

// withSession открывает корзину, выполняет fn и закрывает файл.
func withSession(opts *globalOptions, fn func(*session) error) (err error) {
	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}

func openSession(opts *globalOptions) (*session, error) {
	fee, err := decimal.NewFromString(opts.shippingFee)
	if err != nil || fee.IsNegative() {
		return nil, fmt.Errorf("shipping fee %q must be a non-negative decimal", opts.shippingFee)
	}
	products, err := loadCatalog(opts.catalogFile)
	if err != nil {
		return nil, err
	}
	slots, err := sqlite.Open(opts.dbPath)
	if err != nil {
		return nil, err
	}

	logger := log.WithField("component", "cartctl")
	store := cart.NewStore(products, slots,
		cart.WithLogger(logger),
		cart.WithShippingFee(fee),
	)
	if err := store.Load(); err != nil {
		_ = slots.Close()
		return nil, err
	}
	return &session{store: store, slots: slots, logger: logger}, nil
}

// describeError дополняет ошибку валидации списком полей.
func describeError(err error) error {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return fmt.Errorf("missing delivery details: %s", strings.Join(validation.Fields, ", "))
	}
	return err
}

func printCart(out io.Writer, store *cart.Store) error {
	lines := store.Lines()
	totals := store.Totals()
	if len(lines) == 0 {
		_, err := fmt.Fprintln(out, "cart is empty")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tPRODUCT\tSIZE\tQTY\tUNIT\tLINE")
	for _, line := range lines {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			line.Key, line.Product.Name, line.Size, line.Quantity,
			line.Product.Price.StringFixed(2), line.LineTotal.StringFixed(2))
	}
	_, _ = fmt.Fprintf(w, "\t\t\t%d\tsubtotal\t%s\n", totals.ItemCount, totals.Subtotal.StringFixed(2))
	_, _ = fmt.Fprintf(w, "\t\t\t\tshipping\t%s\n", totals.ShippingFee.StringFixed(2))
	_, _ = fmt.Fprintf(w, "\t\t\t\ttotal\t%s\n", totals.Total.StringFixed(2))
	return w.Flush()
}

func printOrder(out io.Writer, order domain.Order) {
	_, _ = fmt.Fprintf(out, "order %s confirmed (%s)\n", order.ID, order.PaymentStatus)
	_, _ = fmt.Fprintf(out, "deliver to %s, %s, %s\n", order.Customer.Name, order.Customer.Address, order.Customer.Phone)
	for _, line := range order.Lines {
		_, _ = fmt.Fprintf(out, "  %d x %s (%s) %s\n", line.Quantity, line.Name, line.Size, line.LineTotal.StringFixed(2))
	}
	_, _ = fmt.Fprintf(out, "total %s (items %s + shipping %s)\n",
		order.Total.StringFixed(2), order.Subtotal.StringFixed(2), order.ShippingFee.StringFixed(2))
}
