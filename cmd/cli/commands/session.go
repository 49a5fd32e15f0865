package commands

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/celestiaorg/crawlctl/internal/constants"
	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/internal/metrics"
	"github.com/celestiaorg/crawlctl/internal/session"
)

const flagMetricsAddr = "metrics-addr"

// GetSessionCmd returns the interactive session command
func GetSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Open an interactive console with a live view of every crawl job",
		RunE:  runSession,
	}
	sessionCmd.Flags().String(flagMetricsAddr, "",
		fmt.Sprintf("Serve Prometheus metrics on this address while the session runs (env: %s)", constants.EnvMetricsAddr))
	return sessionCmd
}

func runSession(cmd *cobra.Command, _ []string) error {
	metricsAddr := cfg.MetricsAddr
	if cmd.Flags().Changed(flagMetricsAddr) {
		metricsAddr, _ = cmd.Flags().GetString(flagMetricsAddr)
	}

	// keep logs out of the console unless a level was asked for
	if _, ok := os.LookupEnv(constants.EnvLogLevel); !ok {
		logger.SetLevel(logrus.WarnLevel)
	}

	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("error starting metrics server: %w", err)
		}
		app := metrics.NewApp()
		go func() {
			if err := app.Listener(ln); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
		defer func() { _ = app.Shutdown() }()
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on http://%s%s\n", ln.Addr(), metrics.Path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(apiClient, session.Options{
		PollInterval: cfg.PollInterval,
		Out:          cmd.OutOrStdout(),
	})
	return s.Run(ctx, cmd.InOrStdin())
}
