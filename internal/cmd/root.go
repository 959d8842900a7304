package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/broadinstitute/install-gcs-connector/internal/config"
)

var (
	cfgFile string
	debug   bool
	noColor bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "install-gcs-connector",
	Short: "Install the Google Cloud Storage connector into a local Spark",
	Long: `Install the Google Cloud Storage (GCS) connector into a local Apache Spark
installation so Spark can read and write gs:// paths.

Running the command without a subcommand performs the install:
  - locate Spark ($SPARK_HOME, or spark-submit on $PATH)
  - download the GCS connector jar into <spark home>/jars
  - find a Google credential file (gcloud application default credentials)
  - update <spark home>/conf/spark-defaults.conf to use it

Settings can also come from the settings file (see 'config path') or from
GCS_CONNECTOR_* environment variables.`,
	Example: `  install-gcs-connector
  install-gcs-connector --gcs-requester-pays-project my-billing-project
  install-gcs-connector --auth-type SERVICE_ACCOUNT_JSON_KEYFILE --key-file-path ~/sa.json`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runInstall,
}

// NewRootCommand creates and returns the root command
// This function is used for testing and allows dependency injection
func NewRootCommand() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $XDG_CONFIG_HOME/install-gcs-connector/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	addInstallFlags(rootCmd)
	bindGlobalFlags()
}

// bindGlobalFlags binds persistent flags to viper for config file support.
func bindGlobalFlags() {
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
}

// initConfig reads in the settings file and ENV variables if set
func initConfig() {
	bindGlobalFlags()
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("connector_version", "latest")
	viper.SetDefault("maven_repo", config.DefaultMavenRepo)

	path := config.DiscoverPath(cfgFile)
	if _, err := os.Stat(path); err != nil {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Warning: settings file %s not found\n", cfgFile)
		}
		return
	}

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", path, err)
		return
	}
	if debug {
		fmt.Fprintln(os.Stderr, "Using settings file:", viper.ConfigFileUsed())
	}
}

// newLogger returns a development logger with --debug and a quiet
// warn-level console logger otherwise.
func newLogger() *zap.Logger {
	var cfg zap.Config
	if viper.GetBool("debug") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.Sampling = nil
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if viper.GetBool("no-color") {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("install-gcs-connector")
}
