package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/crawlctl/config"
	"github.com/celestiaorg/crawlctl/internal/constants"
	"github.com/celestiaorg/crawlctl/internal/credentials"
	"github.com/celestiaorg/crawlctl/internal/events"
	"github.com/celestiaorg/crawlctl/internal/logger"
	"github.com/celestiaorg/crawlctl/internal/registry"
	"github.com/celestiaorg/crawlctl/internal/services"
	"github.com/celestiaorg/crawlctl/internal/tracker"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/client"
	"github.com/celestiaorg/crawlctl/pkg/api/v1/routes"
)

// flag names
const (
	flagServerAddress     = "server-address"
	flagCredentialBackend = "credentials"
)

var (
	// apiClient is the shared API client instance
	apiClient client.Client
	// cfg is the configuration resolved by PersistentPreRunE
	cfg *config.Config
	// credStore holds the API key between runs
	credStore credentials.Store
	// serverAddress holds the target crawl service address. Flag parsing sets this.
	serverAddress string
	// credentialBackend overrides the configured credential backend
	credentialBackend string
)

// initClient initializes the credential store and the API client
func initClient() error {
	store, err := credentials.Open(credentials.Options{
		Backend:  cfg.CredentialBackend,
		Path:     cfg.CredentialPath,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("error opening credential store: %w", err)
	}
	credStore = store

	opts := client.DefaultOptions()
	opts.BaseURL = cfg.ServerAddress
	opts.Timeout = cfg.RequestTimeout
	opts.CrawlTimeout = cfg.CrawlTimeout
	opts.Credentials = store

	apiClient, err = client.NewClient(opts)
	return err
}

func init() {
	// PersistentPreRunE handles the env var override.
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", routes.DefaultBaseURL,
		fmt.Sprintf("Address of the crawl service (env: %s)", constants.EnvServerAddress))
	RootCmd.PersistentFlags().StringVar(&credentialBackend, flagCredentialBackend, "",
		fmt.Sprintf("Where the API key is kept: memory, badger or redis (env: %s)", constants.EnvCredentialBackend))

	RootCmd.AddCommand(GetAPIKeyCmd())
	RootCmd.AddCommand(GetTasksCmd())
	RootCmd.AddCommand(GetSessionCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "crawlctl",
	Short: "crawlctl - A command line client for the crawl service",
	Long: `crawlctl registers URLs with the crawl service, runs and stops crawls,
and keeps a live view of every crawl job in an interactive session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger.Configure(cfg.LogLevel, cfg.LogFormat)

		// Flag > Env Var > Default
		if cmd.Flags().Changed(flagServerAddress) {
			cfg.ServerAddress = serverAddress
		}
		if credentialBackend != "" {
			cfg.CredentialBackend = credentialBackend
		}
		if cfg.ServerAddress == "" {
			return fmt.Errorf("server address cannot be empty")
		}
		logger.Debugf("Crawl service address: %s", cfg.ServerAddress)

		return initClient()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return executeCommand(context.Background(), RootCmd)
}

// executeCommand runs cmd and releases the credential store whether or not
// the command failed
func executeCommand(ctx context.Context, cmd *cobra.Command) (err error) {
	defer func() {
		if closeErr := closeCredentials(); closeErr != nil {
			if err == nil {
				err = closeErr
			} else {
				logger.Warnf("Failed to close credential store: %v", closeErr)
			}
		}
	}()
	return cmd.ExecuteContext(ctx)
}

func closeCredentials() error {
	if credStore == nil {
		return nil
	}
	store := credStore
	credStore = nil
	return store.Close()
}

// newOrchestrator builds an orchestrator over a fresh registry. Notifications
// go to stderr so stdout only carries command output.
func newOrchestrator() *services.Orchestrator {
	return services.NewOrchestrator(apiClient, registry.New(), tracker.New(), events.PublisherFunc(func(e events.Event) {
		if e.Type == events.EventNotification {
			fmt.Fprintln(os.Stderr, e.String())
		}
	}))
}
