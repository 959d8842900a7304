package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/broadinstitute/install-gcs-connector/internal/installer"
	"github.com/broadinstitute/install-gcs-connector/internal/ui"
)

var doctorFlags struct {
	sparkHome string
	bucket    string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the GCS connector installation",
	Long: `Run diagnostic checks on a Spark installation.

This command verifies:
- Spark home can be located and its version detected
- Exactly one GCS connector jar is installed
- spark-defaults.conf carries the auth settings for this Spark version
- The configured credential file is a valid Google credential
- With --bucket, the bucket can be listed using that credential`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFlags.sparkHome, "spark-home", "", "Spark installation directory (default: $SPARK_HOME)")
	doctorCmd.Flags().StringVar(&doctorFlags.bucket, "bucket", "", "gs:// bucket to test access against")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	sparkHome := doctorFlags.sparkHome
	if sparkHome == "" {
		sparkHome = viper.GetString("spark_home")
	}

	logger := newLogger()
	defer logger.Sync()

	inst := installer.New(installer.Config{
		SparkHome:    sparkHome,
		SparkVersion: viper.GetString("spark_version"),
		NoColor:      noColor,
	}, installer.WithLogger(logger))

	checks := inst.Diagnose(cmd.Context(), doctorFlags.bucket)
	if err := renderChecks(cmd, checks); err != nil {
		return err
	}

	if failed := installer.Failed(checks); failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func renderChecks(cmd *cobra.Command, checks []installer.Check) error {
	out := cmd.OutOrStdout()
	plain := !ui.Colors(noColor)

	fmt.Fprintln(out, "GCS Connector Diagnostics")
	fmt.Fprintln(out, "=========================")
	fmt.Fprintln(out)

	table := tablewriter.NewWriter(out)
	table.Header("Check", "Status", "Details")

	passed, warned, failed := 0, 0, 0
	for _, c := range checks {
		var status ui.StatusIndicator
		switch c.Status {
		case installer.CheckPass:
			status = ui.StatusSuccess
			passed++
		case installer.CheckWarn:
			status = ui.StatusWarning
			warned++
		default:
			status = ui.StatusError
			failed++
		}
		table.Append(c.Name, ui.RenderStatus(status, plain), ui.TruncateWithEllipsis(c.Message, 80))
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Checks: %d passed", passed)
	if warned > 0 {
		fmt.Fprintf(out, ", %d warnings", warned)
	}
	if failed > 0 {
		fmt.Fprintf(out, ", %d failed", failed)
	}
	fmt.Fprintln(out)
	return nil
}
