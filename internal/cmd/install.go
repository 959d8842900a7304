package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/broadinstitute/install-gcs-connector/internal/cache"
	"github.com/broadinstitute/install-gcs-connector/internal/completion"
	"github.com/broadinstitute/install-gcs-connector/internal/connector"
	"github.com/broadinstitute/install-gcs-connector/internal/installer"
	"github.com/broadinstitute/install-gcs-connector/internal/ui"
)

var installFlags struct {
	sparkHome            string
	sparkVersion         string
	connectorVersion     string
	connectorURL         string
	mavenRepo            string
	authType             string
	keyFilePath          string
	requesterPaysProject string
	skipDataprocCheck    bool
	noCache              bool
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the GCS connector (same as running with no subcommand)",
	Long: `Install the GCS connector into a local Spark installation.

This command will:
  - Skip everything on a Dataproc VM, which ships with the connector
  - Locate Spark from --spark-home, $SPARK_HOME or spark-submit on $PATH
  - Download the newest connector jar matching the Spark version
  - Find credentials: --key-file-path, $GOOGLE_APPLICATION_CREDENTIALS,
    then the gcloud application default credentials
  - Update spark-defaults.conf (existing entries are replaced, not duplicated)

Spark < 3.5.0 uses the service account key file settings. For Spark >= 3.5.0
choose --auth-type: APPLICATION_DEFAULT (default), COMPUTE_ENGINE for GCE VMs,
or SERVICE_ACCOUNT_JSON_KEYFILE together with --key-file-path.

Example:
  install-gcs-connector install
  install-gcs-connector install --spark-home /opt/spark --gcs-requester-pays-project my-project
  install-gcs-connector install --auth-type COMPUTE_ENGINE`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

// installFlagKeys maps install flags to settings keys.
var installFlagKeys = map[string]string{
	"spark-home":                 "spark_home",
	"spark-version":              "spark_version",
	"connector-version":          "connector_version",
	"connector-url":              "connector_url",
	"maven-repo":                 "maven_repo",
	"auth-type":                  "auth_type",
	"key-file-path":              "key_file_path",
	"gcs-requester-pays-project": "requester_pays_project",
}

func init() {
	addInstallFlags(installCmd)
	rootCmd.AddCommand(installCmd)
}

// addInstallFlags registers the install flags on cmd. The root command and
// the install subcommand share them.
func addInstallFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&installFlags.sparkHome, "spark-home", "", "Spark installation directory (default: $SPARK_HOME)")
	f.StringVar(&installFlags.sparkVersion, "spark-version", "", "Spark version, when it cannot be detected")
	f.StringVar(&installFlags.connectorVersion, "connector-version", "latest", "GCS connector version from Maven")
	f.StringVar(&installFlags.connectorURL, "connector-url", "", "download the connector jar from this URL")
	f.StringVar(&installFlags.mavenRepo, "maven-repo", "", "Maven repository base URL")
	f.StringVarP(&installFlags.authType, "auth-type", "a", "", "fs.gs.auth.type for Spark >= 3.5.0 (default APPLICATION_DEFAULT)")
	f.StringVarP(&installFlags.keyFilePath, "key-file-path", "k", "", "service account key or credential JSON file")
	f.StringVar(&installFlags.requesterPaysProject, "gcs-requester-pays-project", "", "Google Cloud project billed for requester-pays buckets")
	f.BoolVar(&installFlags.skipDataprocCheck, "skip-dataproc-check", false, "install even on a Dataproc VM")
	f.BoolVar(&installFlags.noCache, "no-cache", false, "look up the latest connector version and refresh the cache")

	f.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "gcs-requestor-pays-project" {
			name = "gcs-requester-pays-project"
		}
		return pflag.NormalizedName(name)
	})

	_ = cmd.RegisterFlagCompletionFunc("spark-home", completion.DirCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("auth-type", completion.AuthTypeCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("key-file-path", completion.JSONFileCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("connector-version", completion.ConnectorVersionCompletionFunc(func() completion.VersionLister {
		return newConnectorClient(zap.NewNop())
	}))
}

func bindInstallFlags(cmd *cobra.Command) {
	for flag, key := range installFlagKeys {
		viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

func installConfig() installer.Config {
	return installer.Config{
		SparkHome:            viper.GetString("spark_home"),
		SparkVersion:         viper.GetString("spark_version"),
		ConnectorVersion:     viper.GetString("connector_version"),
		ConnectorURL:         viper.GetString("connector_url"),
		AuthType:             viper.GetString("auth_type"),
		KeyFilePath:          viper.GetString("key_file_path"),
		RequesterPaysProject: viper.GetString("requester_pays_project"),
		SkipDataprocCheck:    installFlags.skipDataprocCheck,
		NoColor:              noColor,
	}
}

// newConnectorClient builds the Maven client with the version cache.
// --no-cache refreshes the cached version instead of reading it.
func newConnectorClient(logger *zap.Logger) *connector.Client {
	opts := connector.Options{
		Repository: viper.GetString("maven_repo"),
		RetryCount: 3,
		Refresh:    installFlags.noCache,
		UserAgent:  "install-gcs-connector/" + Version,
	}
	cm, err := newVersionCache()
	if err != nil {
		logger.Warn("version cache disabled", zap.Error(err))
	} else {
		opts.Cache = cm
	}
	return connector.New(opts, logger)
}

func newVersionCache() (*cache.Manager, error) {
	return cache.NewManager(afero.NewOsFs(), "", time.Hour)
}

func newInstaller(cfg installer.Config, logger *zap.Logger) *installer.Installer {
	return installer.New(cfg,
		installer.WithLogger(logger),
		installer.WithConnector(newConnectorClient(logger)),
	)
}

func runInstall(cmd *cobra.Command, args []string) error {
	bindInstallFlags(cmd)

	logger := newLogger()
	defer logger.Sync()

	cfg := installConfig()
	inst := newInstaller(cfg, logger)

	res, err := inst.Install(cmd.Context())
	if err != nil {
		return err
	}
	if res.Skipped {
		return nil
	}

	printInstallSummary(cmd, res)
	return nil
}

func printInstallSummary(cmd *cobra.Command, res *installer.Result) {
	out := cmd.OutOrStdout()
	status := ui.RenderStatus(ui.StatusSuccess, !ui.Colors(noColor))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s GCS connector installed\n", status)
	fmt.Fprintf(out, "  Spark:      %s\n", res.SparkHome)
	if res.SparkVersion != "" {
		fmt.Fprintf(out, "  Version:    %s\n", res.SparkVersion)
	}
	fmt.Fprintf(out, "  Jar:        %s\n", res.JarPath)
	if res.Modern {
		fmt.Fprintf(out, "  Auth type:  %s\n", res.AuthType)
	}
	if res.Credential != "" {
		fmt.Fprintf(out, "  Key file:   %s\n", res.Credential)
	}
	fmt.Fprintf(out, "  Config:     %s\n", res.ConfigFile)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Check the setup with: install-gcs-connector doctor --bucket gs://<bucket>")
}
