package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server exposing the feedback loop",
	Long: `Start an HTTP server over the configured store. The JSON API at /api/v1/
runs feedback cycles, bridges violations, and serves advice, prompt text and
adjustments. It also serves the pattern and repair endpoints that other gf
instances use when store_mode is remote. Prometheus metrics are exported at
/metrics and a health check is available at /api/v1/health.

When nats_url is set, advice cache invalidations are shared with every other
gf process connected to the same NATS server.`,
	Example: `  # Start server on default port
  gf serve

  # Start on a custom address with a Postgres store
  gf serve --addr :9090 --store postgres`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		l, err := openLoop(reg)
		if err != nil {
			return err
		}
		defer l.Close()

		srv := server.New(l,
			server.WithGatherer(reg),
			server.WithLogger(logger.With("component", "server")),
		)

		// Listen first so we can report the actual address.
		ln, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", serveAddr, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "gf serve listening on %s (store: %s)\n", ln.Addr(), resolved.StoreMode)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Serve(ln)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.ErrOrStderr(), "shutting down...")
			return srv.Shutdown(context.Background())
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7274", "address to listen on (host:port)")
	rootCmd.AddCommand(serveCmd)
}
