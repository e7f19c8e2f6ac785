package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(rpcWiring).ExecuteContext(ctx)
}

// cli wires the application on first use so that flags are parsed before
// the configuration is read.
type cli struct {
	flags rootFlags
	wire  ledgerWiring
	app   *app
}

func (c *cli) load() (*app, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := wireApp(c.flags, c.wire)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) shutdown() {
	if c.app != nil {
		c.app.close()
		c.app = nil
	}
}

// withApp wires the application for one command and closes it afterwards.
func (c *cli) withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := c.load()
		if err != nil {
			return err
		}
		defer c.shutdown()
		return fn(cmd, args, a)
	}
}

func newRootCmd(wire ledgerWiring) *cobra.Command {
	c := &cli{wire: wire}

	rootCmd := &cobra.Command{
		Use:           "bookledger",
		Short:         "Rent books from a library contract on an EVM ledger",
		Long:          "bookledger connects a wallet to a library contract, lists its books, rents and returns them, manages the token allowance used to pay rent, and streams ledger notifications.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&c.flags.configFile, "config", "", "config file (default $HOME/.bookledger/bookledger.toml)")
	rootCmd.PersistentFlags().StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&c.flags.connector, "connector", "", "wallet connector: privatekey or keystore")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(c),
		newBooksCmd(c),
		newAddCmd(c),
		newBorrowCmd(c),
		newReturnCmd(c),
		newAllowanceCmd(c),
		newApproveCmd(c),
		newWithdrawCmd(c),
		newConnectCmd(c),
		newDisconnectCmd(c),
		newWatchCmd(c),
		newServeCmd(c),
		newMCPCmd(c),
	)

	return rootCmd
}
