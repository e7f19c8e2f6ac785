package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	bookledger "github.com/bookledger/bookledger"
	bookhttp "github.com/bookledger/bookledger/http"
	bookmcp "github.com/bookledger/bookledger/mcp"
)

func newWatchCmd(c *cli) *cobra.Command {
	var (
		asJSON bool
		count  int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream ledger and wallet notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if _, err := a.session(cmd.Context()); err != nil {
				return err
			}
			ch := make(chan bookledger.Notification, 16)
			sub := a.client.Notifications(ch)
			defer sub.Unsubscribe()

			seen := 0
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case err := <-sub.Err():
					return err
				case n := <-ch:
					if err := writeNotification(cmd, n, asJSON); err != nil {
						return err
					}
					seen++
					if count > 0 && seen >= count {
						return nil
					}
				}
			}
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per notification")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many notifications (0 streams forever)")
	return cmd
}

func writeNotification(cmd *cobra.Command, n bookledger.Notification, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), n)
	}
	origin := "local"
	if n.External {
		origin = "external"
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s): %s\n", n.Time.Format(time.RFC3339), n.Kind, origin, n.Message)
	return err
}

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and notification stream",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			a.tryResume(cmd.Context())

			opts := []bookhttp.ServerOption{bookhttp.WithLogger(a.log)}
			if a.cfg.MetricsAddr == "" {
				opts = append(opts, bookhttp.WithMetricsHandler(a.metrics.Handler()))
			}
			server := bookhttp.NewServer(a.client, opts...)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return server.ListenAndServe(ctx, addr)
			})
			if a.cfg.MetricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(ctx, a, a.cfg.MetricsAddr)
				})
			}
			return g.Wait()
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from http.addr)")
	return cmd
}

func serveMetrics(ctx context.Context, a *app, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.log.Info("metrics listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the library as Model Context Protocol tools over stdio",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			a.tryResume(cmd.Context())
			server := bookmcp.NewServer(a.client, Version, bookmcp.WithLogger(a.log))
			return server.Run(cmd.Context(), &mcpsdk.StdioTransport{})
		}),
	}
}

// tryResume connects when possible. Long-running surfaces start without a
// session and expose connect themselves.
func (a *app) tryResume(ctx context.Context) {
	if _, err := a.session(ctx); err != nil {
		a.log.Warn("starting without a wallet session", zap.Error(err))
	}
}
