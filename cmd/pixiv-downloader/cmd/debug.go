package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)
	addDownloadFlags(debugShowConfigCmd)
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
	Long:  `Contains helper commands for debugging application behavior, like inspecting configuration.`,
}

// --- debug show-config ---

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration object as JSON",
	Long: `Loads configuration via defaults, config file, PIXIV_* environment variables
and flags (respecting precedence) and prints the result as JSON. The cookie is
never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// globalConfig is populated by PersistentPreRunE
		jsonBytes, err := json.MarshalIndent(globalConfig, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
		return nil
	},
}
