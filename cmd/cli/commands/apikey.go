package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/crawlctl/pkg/models"
)

// GetAPIKeyCmd returns the apikey command
func GetAPIKeyCmd() *cobra.Command {
	apiKeyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the API key used to authenticate with the crawl service",
	}

	apiKeyCmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Request a new API key and store it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := apiClient.GenerateAPIKey(cmd.Context())
			if err != nil {
				return fmt.Errorf("error generating API key: %w", err)
			}
			return printJSON(cmd, models.APIKeyResponse{APIKey: key})
		},
	})

	apiKeyCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored API key, requesting one if none is stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := apiClient.APIKey(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting API key: %w", err)
			}
			return printJSON(cmd, models.APIKeyResponse{APIKey: key})
		},
	})

	return apiKeyCmd
}

// printJSON writes v as indented JSON to the command's output
func printJSON(cmd *cobra.Command, v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(prettyJSON))
	return nil
}
