package cmd

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	bookledger "github.com/bookledger/bookledger"
)

func newAllowanceCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "allowance",
		Short: "Show the token allowance and balances",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			allowance, err := a.client.GetAllowance(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), allowance)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "approved: %s\nbalance: %s\nlibrary: %s\nrent price: %s\n",
				amount(allowance.Approved), amount(allowance.UserBalance), amount(allowance.LedgerBalance), amount(a.client.RentPrice()))
			return err
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the allowance as JSON")
	return cmd
}

func newApproveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "approve AMOUNT",
		Short: "Let the library spend up to AMOUNT tokens, in base units",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			value, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			return writeOutcome(cmd, a.client.Approve(cmd.Context(), value))
		}),
	}
}

func newWithdrawCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw AMOUNT",
		Short: "Move AMOUNT of the library's tokens to its owner (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			value, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			return writeOutcome(cmd, a.client.Withdraw(cmd.Context(), value))
		}),
	}
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, bookledger.NewError(bookledger.ErrCodeInvalidAmount, "Invalid amount", map[string]interface{}{
			"amount": raw,
		})
	}
	return value, nil
}
