package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/broadinstitute/install-gcs-connector/internal/installer"
)

var uninstallFlags struct {
	sparkHome string
	force     bool
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the GCS connector from Spark",
	Long: `Remove the GCS connector from a local Spark installation.

This command will:
  - Delete every gcs-connector-*.jar from <spark home>/jars
  - Remove the connector's auth and requester-pays settings from
    spark-defaults.conf, leaving other settings in place
  - Forget the cached latest connector versions

Example:
  install-gcs-connector uninstall
  install-gcs-connector uninstall --spark-home /opt/spark --force`,
	Args: cobra.NoArgs,
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().StringVar(&uninstallFlags.sparkHome, "spark-home", "", "Spark installation directory (default: $SPARK_HOME)")
	uninstallCmd.Flags().BoolVar(&uninstallFlags.force, "force", false, "Skip confirmation prompt")

	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	sparkHome := uninstallFlags.sparkHome
	if sparkHome == "" {
		sparkHome = viper.GetString("spark_home")
	}

	if !uninstallFlags.force {
		target := sparkHome
		if target == "" {
			target = "the Spark installation in $SPARK_HOME"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "This will remove the GCS connector jar and settings from %s\n", target)
		fmt.Fprint(cmd.OutOrStdout(), "Are you sure? [y/N]: ")

		confirm, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		confirm = strings.TrimSpace(confirm)
		if confirm != "y" && confirm != "Y" {
			fmt.Fprintln(cmd.OutOrStdout(), "Uninstall canceled.")
			return nil
		}
	}

	logger := newLogger()
	defer logger.Sync()

	inst := installer.New(installer.Config{SparkHome: sparkHome, NoColor: noColor}, installer.WithLogger(logger))
	if _, err := inst.Uninstall(cmd.Context()); err != nil {
		return err
	}

	if cm, err := newVersionCache(); err != nil {
		logger.Warn("version cache unavailable", zap.Error(err))
	} else if err := cm.ClearAll(); err != nil {
		logger.Warn("failed to clear version cache", zap.Error(err))
	}
	return nil
}
