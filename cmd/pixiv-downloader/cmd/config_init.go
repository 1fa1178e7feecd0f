package cmd

import (
	"fmt"

	"go-pixiv-download/internal/config"

	"github.com/spf13/cobra"
)

var configInitForceFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config.toml with the default settings",
	Args:  cobra.MaximumNArgs(1),
	// Writing the defaults must not depend on an existing, possibly broken config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(logLevel, logFormat)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path, configInitForceFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVarP(&configInitForceFlag, "force", "f", false, "Overwrite an existing file")
}
