package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	bookledger "github.com/bookledger/bookledger"
)

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and show the session, inventory counts and allowance",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			st := a.client.State()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st, a.client.PaymentsEnabled(), newStyles()))
			return err
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full state as JSON")
	return cmd
}

func newBooksCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List available and rented books",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			inv := a.client.State().Inventory
			rows := make([]bookRow, 0, len(inv.Available))
			for _, b := range inv.Available {
				rows = append(rows, bookRow{book: b, affordance: a.client.Affordance(b)})
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), inv)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderBooks(rows, inv.Rented, newStyles()))
			return err
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the inventory as JSON")
	return cmd
}

func newAddCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME COPIES",
		Short: "Add a book to the library (owner only)",
		Args:  cobra.ExactArgs(2),
		RunE: c.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			copies, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return bookledger.NewError(bookledger.ErrCodeInvalidCopies, bookledger.MsgInvalidCopies, map[string]interface{}{
					"copies": args[1],
				})
			}
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			return writeOutcome(cmd, a.client.AddBook(cmd.Context(), args[0], copies))
		}),
	}
}

func newBorrowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow BOOK",
		Short: "Rent a book by id or name",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			return writeOutcome(cmd, a.client.Borrow(cmd.Context(), resolveBook(a.client.State().Inventory, args[0])))
		}),
	}
}

func newReturnCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "return BOOK",
		Short: "Return a rented book by id or name",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			return writeOutcome(cmd, a.client.Return(cmd.Context(), resolveBook(a.client.State().Inventory, args[0])))
		}),
	}
}

func newConnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect the configured wallet and remember it for later commands",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			sess, err := a.client.Connect(cmd.Context(), a.cfg.Connector)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "connected %s with %s\n", sess.Address, sess.ConnectorName)
			return err
		}),
	}
}

func newDisconnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the cached wallet connector",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.client.Disconnect(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "disconnected")
			return err
		}),
	}
}

// resolveBook accepts a 0x book id or the name of a known book.
func resolveBook(inv bookledger.Inventory, arg string) bookledger.BookID {
	if strings.HasPrefix(arg, "0x") {
		return bookledger.BookID(arg)
	}
	if b, ok := inv.FindByName(arg); ok {
		return b.ID
	}
	return bookledger.BookID(arg)
}

func writeOutcome(cmd *cobra.Command, out bookledger.Outcome) error {
	if out.Err != nil {
		if out.Hash != "" {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), renderOutcome(out, newStyles()))
		}
		return out.Err
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), renderOutcome(out, newStyles()))
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
