// Package installer installs the GCS connector into a local Spark
// installation and removes it again.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/broadinstitute/install-gcs-connector/internal/connector"
	"github.com/broadinstitute/install-gcs-connector/internal/credentials"
	"github.com/broadinstitute/install-gcs-connector/internal/dataproc"
	"github.com/broadinstitute/install-gcs-connector/internal/gcs"
	"github.com/broadinstitute/install-gcs-connector/internal/spark"
	"github.com/broadinstitute/install-gcs-connector/internal/sparkconf"
	"github.com/broadinstitute/install-gcs-connector/internal/ui"
)

// Config holds installation configuration
type Config struct {
	// SparkHome overrides SPARK_HOME and PATH lookup.
	SparkHome string
	// SparkVersion overrides version detection, e.g. "3.5.1".
	SparkVersion string
	// ConnectorURL is downloaded as-is when set.
	ConnectorURL string
	// ConnectorVersion is a Maven version or "latest".
	ConnectorVersion string
	// AuthType is only valid for Spark >= 3.5.0.
	AuthType string
	// KeyFilePath is an explicit credential file.
	KeyFilePath string
	// RequesterPaysProject is billed for requester-pays buckets.
	RequesterPaysProject string
	// SkipDataprocCheck installs even on a Dataproc VM.
	SkipDataprocCheck bool
	NoColor bool
}

// OutputWriter handles formatted output
type OutputWriter interface {
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Step(format string, args ...interface{})
}

// Progress tracks a running download.
type Progress interface {
	Update(written, total int64)
	Finish()
}

// Installer handles connector installation operations
type Installer struct {
	config     Config
	output     OutputWriter
	fs         afero.Fs
	logger     *zap.Logger
	connector  *connector.Client
	locator    *spark.Locator
	discoverer *credentials.Discoverer
	dataproc   dataproc.Detector
	progress   func(name string) Progress
	probe      func(ctx context.Context, bucket string, opts gcs.ProbeOptions) (*gcs.ProbeResult, error)
}

// Option customizes an Installer.
type Option func(*Installer)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(i *Installer) { i.fs = fs }
}

func WithLogger(logger *zap.Logger) Option {
	return func(i *Installer) { i.logger = logger }
}

// WithConnector sets the Maven client used to resolve and download jars.
func WithConnector(c *connector.Client) Option {
	return func(i *Installer) { i.connector = c }
}

func WithLocator(l *spark.Locator) Option {
	return func(i *Installer) { i.locator = l }
}

func WithDiscoverer(d *credentials.Discoverer) Option {
	return func(i *Installer) { i.discoverer = d }
}

func WithDataprocDetector(d dataproc.Detector) Option {
	return func(i *Installer) { i.dataproc = d }
}

// WithProgress sets the download progress factory; nil disables progress.
func WithProgress(fn func(name string) Progress) Option {
	return func(i *Installer) { i.progress = fn }
}

// WithBucketProbe replaces the GCS bucket check used by Diagnose.
func WithBucketProbe(fn func(ctx context.Context, bucket string, opts gcs.ProbeOptions) (*gcs.ProbeResult, error)) Option {
	return func(i *Installer) { i.probe = fn }
}

// New creates a new Installer with the given configuration
func New(cfg Config, opts ...Option) *Installer {
	i := &Installer{
		config: cfg,
		output: ui.NewOutput(cfg.NoColor),
		fs:     afero.NewOsFs(),
		progress: func(name string) Progress {
			return ui.NewProgressBar(-1, name, !ui.Colors(cfg.NoColor))
		},
		probe: gcs.Probe,
	}
	for _, opt := range opts {
		opt(i)
	}

	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	i.logger = i.logger.Named("installer")
	if i.connector == nil {
		i.connector = connector.New(connector.Options{RetryCount: 3}, i.logger)
	}
	if i.locator == nil {
		i.locator = spark.NewLocator(i.fs)
	}
	if i.discoverer == nil {
		d, err := credentials.NewDiscoverer(i.fs)
		if err != nil {
			i.logger.Warn("no home directory, gcloud credentials will not be found", zap.Error(err))
			d = &credentials.Discoverer{Fs: i.fs, Getenv: os.Getenv}
		}
		i.discoverer = d
	}
	if i.dataproc == nil {
		i.dataproc = dataproc.NewMetadataDetector(i.logger)
	}
	return i
}

// SetOutput sets a custom output writer
func (i *Installer) SetOutput(o OutputWriter) {
	i.output = o
}

// Result describes a completed install.
type Result struct {
	// Skipped is true on a Dataproc VM.
	Skipped      bool
	SparkHome    string
	SparkVersion string
	Modern       bool
	AuthType     AuthType
	JarPath      string
	Credential   string
	ConfigFile   string
	// Changed is false when the configuration file already matched.
	Changed bool
}

// target is the validated install target.
type target struct {
	home    spark.Home
	version *semver.Version
	modern  bool
	auth    AuthType
}

// Install runs the full install: locate Spark, download the jar, find a
// credential and patch spark-defaults.conf.
func (i *Installer) Install(ctx context.Context) (*Result, error) {
	if !i.config.SkipDataprocCheck && i.dataproc.IsDataproc(ctx) {
		i.output.Success("This is a Dataproc VM, which already has the GCS connector installed. Nothing to do.")
		return &Result{Skipped: true}, nil
	}

	i.output.Step("Locating Spark installation...")
	t, err := i.resolveTarget()
	if err != nil {
		return nil, err
	}
	result := &Result{
		SparkHome:  t.home.Dir,
		Modern:     t.modern,
		AuthType:   t.auth,
		ConfigFile: t.home.DefaultsFile(),
	}
	if t.version != nil {
		result.SparkVersion = t.version.String()
		i.output.Success("Spark %s at %s (from %s)", t.version, t.home.Dir, t.home.Source)
	} else {
		i.output.Success("Spark at %s (from %s)", t.home.Dir, t.home.Source)
	}

	i.output.Step("Downloading GCS connector...")
	jarPath, err := i.downloadJar(ctx, t)
	if err != nil {
		return nil, err
	}
	result.JarPath = jarPath

	if !t.modern || t.auth.NeedsCredentialFile() {
		i.output.Step("Looking for credentials...")
		cred, err := i.discoverCredential(ctx)
		if err != nil {
			return nil, err
		}
		result.Credential = cred
	}

	i.output.Step("Updating %s...", result.ConfigFile)
	plan := planSettings(t.modern, t.auth, result.Credential, i.config.RequesterPaysProject)
	changed, err := i.applyPlan(result.ConfigFile, plan)
	if err != nil {
		return nil, err
	}
	result.Changed = changed
	if changed {
		i.output.Success("Configuration updated")
	} else {
		i.output.Success("Configuration already up to date")
	}

	i.logger.Info("install complete",
		zap.String("spark_home", result.SparkHome),
		zap.String("jar", result.JarPath),
		zap.String("credential", result.Credential),
		zap.Bool("changed", changed))
	return result, nil
}

// resolveTarget locates Spark and validates the auth options against its
// version. Every failure is a ConfigurationError.
func (i *Installer) resolveTarget() (*target, error) {
	if err := sparkconf.CheckValue(i.config.RequesterPaysProject); err != nil {
		return nil, &ConfigurationError{Msg: "invalid --gcs-requester-pays-project", Err: err}
	}
	if err := sparkconf.CheckValue(i.config.KeyFilePath); err != nil {
		return nil, &ConfigurationError{Msg: "invalid --key-file-path", Err: err}
	}

	home, err := i.locator.Locate(i.config.SparkHome)
	if err != nil {
		return nil, &ConfigurationError{Msg: "cannot locate Spark installation", Err: err}
	}

	t := &target{home: home}
	if i.config.SparkVersion != "" {
		t.version, err = spark.ParseVersion(i.config.SparkVersion)
		if err != nil {
			return nil, &ConfigurationError{Msg: "invalid --spark-version", Err: err}
		}
	} else {
		t.version, err = spark.DetectVersion(i.fs, home)
		if err != nil {
			i.output.Warn("Could not detect the Spark version, assuming < 3.5.0 (use --spark-version to override)")
			i.logger.Debug("version detection failed", zap.Error(err))
		}
	}
	t.modern = spark.IsModern(t.version)

	if !t.modern {
		if i.config.AuthType != "" {
			found := "unknown"
			if t.version != nil {
				found = t.version.String()
			}
			return nil, &ConfigurationError{
				Msg: fmt.Sprintf("--auth-type cannot be used with Spark < 3.5.0 (found Spark %s)", found),
			}
		}
		return t, nil
	}

	t.auth = AuthApplicationDefault
	if i.config.AuthType != "" {
		t.auth, err = ParseAuthType(i.config.AuthType)
		if err != nil {
			return nil, &ConfigurationError{Msg: "invalid auth type", Err: err}
		}
	}
	if i.config.KeyFilePath != "" && t.auth != AuthServiceAccountKey {
		return nil, &ConfigurationError{
			Msg: fmt.Sprintf("with Spark >= 3.5.0, --key-file-path requires --auth-type %s", AuthServiceAccountKey),
		}
	}
	// gcloud's application default credentials are user credentials, which
	// the connector rejects as a service account key.
	if t.auth == AuthServiceAccountKey && i.config.KeyFilePath == "" {
		return nil, &ConfigurationError{
			Msg: fmt.Sprintf("--auth-type %s requires --key-file-path", AuthServiceAccountKey),
		}
	}
	return t, nil
}

func (i *Installer) downloadJar(ctx context.Context, t *target) (string, error) {
	url := i.config.ConnectorURL
	if url == "" {
		hadoop := 2
		if t.modern {
			hadoop = 3
		}
		version, err := i.connector.Resolve(ctx, i.config.ConnectorVersion, hadoop)
		if err != nil {
			return "", &DownloadError{Err: fmt.Errorf("failed to resolve connector version: %w", err)}
		}
		url = i.connector.JarURL(version)
	}

	name := connector.JarName(url)
	dest := filepath.Join(t.home.JarsDir(), name)
	i.output.Info("Downloading %s", url)
	i.output.Info("   to %s", dest)

	var progress connector.ProgressFunc
	var bar Progress
	if i.progress != nil {
		bar = i.progress(name)
		progress = bar.Update
	}
	n, err := i.connector.Download(ctx, i.fs, url, dest, progress)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}
	i.output.Success("Downloaded %s (%s)", name, ui.FormatBytes(n))

	i.removeStaleJars(t.home.JarsDir(), name)
	return dest, nil
}

// removeStaleJars deletes other connector versions so only one is on the
// classpath.
func (i *Installer) removeStaleJars(dir, keep string) {
	matches, err := connector.InstalledJars(i.fs, dir)
	if err != nil {
		i.output.Warn("Could not list %s: %v", dir, err)
		return
	}
	for _, m := range matches {
		if filepath.Base(m) == keep {
			continue
		}
		if err := i.fs.Remove(m); err != nil {
			i.output.Warn("Could not remove old connector %s: %v", m, err)
			continue
		}
		i.output.Info("Removed old connector %s", filepath.Base(m))
	}
}

func (i *Installer) discoverCredential(ctx context.Context) (string, error) {
	path, err := i.discoverer.Discover(i.config.KeyFilePath)
	if err != nil {
		var nf *credentials.NotFoundError
		if errors.As(err, &nf) {
			return "", &CredentialNotFoundError{Searched: nf.Searched, Err: err}
		}
		return "", err
	}
	i.output.Success("Using key file: %s", path)

	info, err := credentials.Inspect(ctx, i.fs, path)
	if err != nil {
		i.output.Warn("%s does not look like a Google credential file: %v", path, err)
	} else {
		i.logger.Debug("credential file",
			zap.String("type", info.Type),
			zap.String("project_id", info.ProjectID),
			zap.String("client_email", info.ClientEmail))
	}
	return path, nil
}

// applyPlan edits the configuration file and writes it back only when the
// content changed.
func (i *Installer) applyPlan(path string, plan Plan) (bool, error) {
	doc, err := sparkconf.Load(i.fs, path)
	if err != nil {
		return false, err
	}
	before := doc.Bytes()

	for _, s := range plan.Set {
		i.logger.Debug("setting", zap.String("key", s.Key), zap.String("value", s.Value))
		if _, err := doc.Set(s.Key, s.Value); err != nil {
			return false, err
		}
	}
	for _, k := range plan.Delete {
		if doc.Delete(k) {
			i.output.Info("Removed %s", k)
		}
	}

	exists, err := afero.Exists(i.fs, path)
	if err != nil {
		return false, err
	}
	if exists && bytes.Equal(before, doc.Bytes()) {
		return false, nil
	}
	if err := doc.Save(i.fs, path); err != nil {
		return false, fmt.Errorf("unable to update spark config %s: %w", path, err)
	}
	return true, nil
}
