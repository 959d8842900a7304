package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/broadinstitute/install-gcs-connector/internal/completion"
	"github.com/broadinstitute/install-gcs-connector/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage installer settings",
	Long: `View and change the installer settings file.

Every install flag has a settings key (spark_home, auth_type, ...) that
provides its default. GCS_CONNECTOR_<KEY> environment variables override the
file, and flags override both.`,
}

func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return config.DiscoverPath(cfgFile)
}

func newConfigSetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a setting (an empty value clears it)",
		Args:  cobra.ExactArgs(2),

		ValidArgsFunction: completion.ConfigSetCompletionFunc(),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}

			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)

			cfg, err := config.LoadWithEnv(path)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg == nil {
				cfg = &config.Config{}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Current Configuration:")
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Setting", "Value")

			for _, key := range config.Keys {
				value, _ := cfg.Get(key)
				if value == "" {
					value = "(not set)"
				}
				table.Append(key, value)
			}
			table.Append("config file", path)

			return table.Render()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	return cmd
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())
}
