package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/broadinstitute/install-gcs-connector/internal/connector"
	"github.com/broadinstitute/install-gcs-connector/internal/credentials"
	"github.com/broadinstitute/install-gcs-connector/internal/dataproc"
	"github.com/broadinstitute/install-gcs-connector/internal/gcs"
	"github.com/broadinstitute/install-gcs-connector/internal/spark"
	"github.com/broadinstitute/install-gcs-connector/internal/sparkconf"
	"github.com/broadinstitute/install-gcs-connector/internal/testutil"
	"github.com/broadinstitute/install-gcs-connector/internal/ui"
)

const (
	sparkHome    = "/opt/spark"
	confFile     = sparkHome + "/conf/spark-defaults.conf"
	userHome     = "/home/user"
	adcPath      = userHome + "/.config/gcloud/application_default_credentials.json"
	legacyJar    = sparkHome + "/jars/gcs-connector-hadoop2-2.2.20-shaded.jar"
	modernJar    = sparkHome + "/jars/gcs-connector-3.0.0-shaded.jar"
	artifactPath = "/com/google/cloud/bigdataoss/gcs-connector"
)

const userCredentials = `{
  "type": "authorized_user",
  "client_id": "123.apps.googleusercontent.com",
  "client_secret": "secret",
  "refresh_token": "refresh"
}`

type fixture struct {
	fs           afero.Fs
	env          map[string]string
	server       *httptest.Server
	metadataHits int32
	jarHits      int32
	out          bytes.Buffer
	dataproc     dataproc.Detector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		fs:       afero.NewMemMapFs(),
		env:      map[string]string{spark.HomeEnv: sparkHome},
		dataproc: dataproc.Static(false),
	}
	require.NoError(t, f.fs.MkdirAll(sparkHome+"/jars", 0755))

	jar := func(v string) string {
		return fmt.Sprintf("%s/%s/gcs-connector-%s-shaded.jar", artifactPath, v, v)
	}
	f.server = testutil.NewMockServer(map[string]http.HandlerFunc{
		artifactPath + "/maven-metadata.xml": testutil.Counting(testutil.WithBody(200, "text/xml",
			testutil.MavenMetadata("hadoop2-2.2.19", "hadoop2-2.2.20", "hadoop3-2.2.21", "3.0.0")), &f.metadataHits),
		jar("hadoop2-2.2.20"): testutil.Counting(testutil.WithBody(200, "application/java-archive", []byte("legacy jar")), &f.jarHits),
		jar("3.0.0"):          testutil.Counting(testutil.WithBody(200, "application/java-archive", []byte("modern jar")), &f.jarHits),
	})
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) sparkVersion(t *testing.T, version string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, sparkHome+"/RELEASE",
		[]byte("Spark "+version+" (git revision abc) built for Hadoop 3.3.4\n"), 0644))
}

func (f *fixture) writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte(content), 0644))
}

func (f *fixture) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, path)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) installer(t *testing.T, cfg Config) *Installer {
	t.Helper()

	getenv := func(k string) string { return f.env[k] }
	logger := zaptest.NewLogger(t)

	inst := New(cfg,
		WithFs(f.fs),
		WithLogger(logger),
		WithConnector(connector.New(connector.Options{Repository: f.server.URL}, logger)),
		WithLocator(&spark.Locator{
			Fs:       f.fs,
			Getenv:   getenv,
			LookPath: func(string) (string, error) { return "", exec.ErrNotFound },
		}),
		WithDiscoverer(&credentials.Discoverer{Fs: f.fs, HomeDir: userHome, Getenv: getenv}),
		WithDataprocDetector(f.dataproc),
		WithProgress(nil),
	)
	inst.SetOutput(&ui.Output{Out: &f.out, Err: &f.out, NoColor: true})
	return inst
}

func (f *fixture) install(t *testing.T, cfg Config) (*Result, error) {
	t.Helper()
	return f.installer(t, cfg).Install(context.Background())
}

func TestInstall_EmptyConfigWithApplicationDefaultCredentials(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, confFile, "")

	res, err := f.install(t, Config{})
	require.NoError(t, err)

	assert.Equal(t, adcPath, res.Credential)
	assert.Equal(t, legacyJar, res.JarPath)
	assert.False(t, res.Modern)
	assert.True(t, res.Changed)

	assert.Equal(t,
		"spark.hadoop.google.cloud.auth.service.account.enable true\n"+
			"spark.hadoop.google.cloud.auth.service.account.json.keyfile "+adcPath+"\n",
		f.readFile(t, confFile))
	assert.Equal(t, "legacy jar", f.readFile(t, legacyJar))

	doc, err := sparkconf.Load(f.fs, confFile)
	require.NoError(t, err)
	v, ok := doc.Get(KeyLegacyKeyFile)
	require.True(t, ok)
	assert.Equal(t, adcPath, v)
}

func TestInstall_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, confFile, "# user settings\nspark.master local[*]\n")

	_, err := f.install(t, Config{RequesterPaysProject: "myproj"})
	require.NoError(t, err)
	first := f.readFile(t, confFile)

	res, err := f.install(t, Config{RequesterPaysProject: "myproj"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, first, f.readFile(t, confFile))
	assert.Contains(t, first, "# user settings\nspark.master local[*]\n")
}

func TestInstall_NoCredentialLeavesConfigUntouched(t *testing.T) {
	f := newFixture(t)
	original := "spark.master local[*]\n"
	f.writeFile(t, confFile, original)

	_, err := f.install(t, Config{})
	require.Error(t, err)

	var credErr *CredentialNotFoundError
	require.True(t, errors.As(err, &credErr))
	assert.Contains(t, credErr.Searched, adcPath)
	assert.Contains(t, err.Error(), "gcloud auth application-default login")
	assert.Equal(t, ExitCredentialNotFound, ExitCode(err))

	assert.Equal(t, original, f.readFile(t, confFile))
}

func TestInstall_ReplacesExistingCredentialEntry(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, confFile,
		KeyLegacyKeyFile+" /old/key.json\n"+
			"# keep me\n"+
			KeyLegacyKeyFile+"=/older/key.json\n")

	_, err := f.install(t, Config{})
	require.NoError(t, err)

	doc, err := sparkconf.Load(f.fs, confFile)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Count(KeyLegacyKeyFile))
	v, _ := doc.Get(KeyLegacyKeyFile)
	assert.Equal(t, adcPath, v)

	content := f.readFile(t, confFile)
	assert.Contains(t, content, "# keep me\n")
	assert.True(t, strings.HasPrefix(content, KeyLegacyKeyFile+" "+adcPath+"\n"),
		"the credential entry is rewritten in place")
}

func TestInstall_RequesterPaysProject(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)

	_, err := f.install(t, Config{RequesterPaysProject: "myproj"})
	require.NoError(t, err)

	content := f.readFile(t, confFile)
	assert.Contains(t, content, "spark.hadoop.fs.gs.requester.pays.project.id myproj\n")
	assert.Contains(t, content, "spark.hadoop.fs.gs.requester.pays.mode AUTO\n")
}

func TestInstall_NoSparkHomeFailsBeforeDownload(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	delete(f.env, spark.HomeEnv)

	_, err := f.install(t, Config{})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, spark.ErrHomeNotFound))
	assert.Equal(t, ExitConfiguration, ExitCode(err))
	assert.Equal(t, int32(0), f.metadataHits)
	assert.Equal(t, int32(0), f.jarHits)
}

func TestInstall_ModernApplicationDefault(t *testing.T) {
	f := newFixture(t)
	f.sparkVersion(t, "3.5.1")
	f.writeFile(t, adcPath, userCredentials)

	res, err := f.install(t, Config{})
	require.NoError(t, err)

	assert.True(t, res.Modern)
	assert.Equal(t, AuthApplicationDefault, res.AuthType)
	assert.Equal(t, "3.5.1", res.SparkVersion)
	assert.Equal(t, modernJar, res.JarPath)
	assert.Equal(t,
		KeyAuthType+" APPLICATION_DEFAULT\n"+
			KeyExecutorCredentials+" "+adcPath+"\n",
		f.readFile(t, confFile))
}

func TestInstall_ModernComputeEngineNeedsNoCredential(t *testing.T) {
	f := newFixture(t)
	f.sparkVersion(t, "4.0.0")

	res, err := f.install(t, Config{AuthType: "compute_engine"})
	require.NoError(t, err)

	assert.Empty(t, res.Credential)
	assert.Equal(t, KeyAuthType+" COMPUTE_ENGINE\n", f.readFile(t, confFile))
}

func TestInstall_ModernServiceAccountKey(t *testing.T) {
	f := newFixture(t)
	f.sparkVersion(t, "3.5.0")
	f.writeFile(t, "/keys/sa.json", `{"type": "service_account"}`)

	res, err := f.install(t, Config{AuthType: "SERVICE_ACCOUNT_JSON_KEYFILE", KeyFilePath: "/keys/sa.json"})
	require.NoError(t, err)

	assert.Equal(t, "/keys/sa.json", res.Credential)
	assert.Equal(t,
		KeyAuthType+" SERVICE_ACCOUNT_JSON_KEYFILE\n"+
			KeyServiceAccountKey+" /keys/sa.json\n",
		f.readFile(t, confFile))
}

func TestInstall_SparkVersionOverride(t *testing.T) {
	f := newFixture(t)
	f.sparkVersion(t, "3.4.2")

	res, err := f.install(t, Config{SparkVersion: "3.5.2", AuthType: "UNAUTHENTICATED"})
	require.NoError(t, err)
	assert.True(t, res.Modern)
	assert.Equal(t, "3.5.2", res.SparkVersion)
}

func TestInstall_ExplicitKeyFileIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)

	_, err := f.install(t, Config{KeyFilePath: "/missing/key.json"})
	require.Error(t, err)

	var credErr *CredentialNotFoundError
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, []string{"/missing/key.json"}, credErr.Searched)
}

func TestInstall_GoogleApplicationCredentialsPreferred(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, "/etc/creds.json", userCredentials)
	f.env[credentials.ApplicationCredentialsEnv] = "/etc/creds.json"

	res, err := f.install(t, Config{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/creds.json", res.Credential)
}

func TestInstall_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		version string
		cfg     Config
		want    string
	}{
		{"auth type with legacy spark", "3.4.1", Config{AuthType: "COMPUTE_ENGINE"}, "cannot be used with Spark < 3.5.0"},
		{"auth type with unknown spark", "", Config{AuthType: "COMPUTE_ENGINE"}, "found Spark unknown"},
		{"invalid auth type", "3.5.1", Config{AuthType: "PASSWORD"}, "must be one of"},
		{"key file without service account auth", "3.5.1", Config{KeyFilePath: "/keys/sa.json"}, "requires --auth-type"},
		{"bad spark version", "", Config{SparkVersion: "three"}, "invalid --spark-version"},
		{"service account auth without key file", "3.5.1", Config{AuthType: "SERVICE_ACCOUNT_JSON_KEYFILE"}, "requires --key-file-path"},
		{"line break in requester pays project", "", Config{RequesterPaysProject: "proj\nextra"}, "invalid --gcs-requester-pays-project"},
		{"carriage return in key file path", "", Config{KeyFilePath: "/keys/sa.json\r"}, "invalid --key-file-path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.writeFile(t, adcPath, userCredentials)
			if tt.version != "" {
				f.sparkVersion(t, tt.version)
			}

			_, err := f.install(t, tt.cfg)
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, int32(0), f.jarHits)

			exists, err := afero.Exists(f.fs, confFile)
			require.NoError(t, err)
			assert.False(t, exists, "configuration is not written")
		})
	}
}

func TestInstall_KeyFilePathWithGlobCharacters(t *testing.T) {
	f := newFixture(t)
	f.sparkVersion(t, "3.5.1")
	keyFile := "/keys/[prod]/sa*.json"
	f.writeFile(t, keyFile, `{"type": "service_account"}`)

	res, err := f.install(t, Config{AuthType: "SERVICE_ACCOUNT_JSON_KEYFILE", KeyFilePath: keyFile})
	require.NoError(t, err)

	assert.Equal(t, keyFile, res.Credential)
	assert.Contains(t, f.readFile(t, confFile), KeyServiceAccountKey+" "+keyFile+"\n")
}

func TestInstall_LayoutSwitchRemovesOtherKeys(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)

	_, err := f.install(t, Config{})
	require.NoError(t, err)
	assert.Contains(t, f.readFile(t, confFile), KeyLegacyAuthEnable)

	f.sparkVersion(t, "3.5.1")
	_, err = f.install(t, Config{})
	require.NoError(t, err)

	doc, err := sparkconf.Load(f.fs, confFile)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Count(KeyLegacyAuthEnable))
	assert.Equal(t, 0, doc.Count(KeyLegacyKeyFile))
	assert.Equal(t, 1, doc.Count(KeyAuthType))

	_, err = f.install(t, Config{AuthType: "COMPUTE_ENGINE"})
	require.NoError(t, err)
	doc, err = sparkconf.Load(f.fs, confFile)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Count(KeyExecutorCredentials))
}

func TestInstall_RemovesStaleConnectorJars(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, sparkHome+"/jars/gcs-connector-hadoop2-1.9.17-shaded.jar", "old")
	f.writeFile(t, sparkHome+"/jars/guava-14.0.1.jar", "unrelated")

	_, err := f.install(t, Config{})
	require.NoError(t, err)

	entries, err := afero.ReadDir(f.fs, sparkHome+"/jars")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"gcs-connector-hadoop2-2.2.20-shaded.jar", "guava-14.0.1.jar"}, names)
}

func TestInstall_ExplicitConnectorVersionAndURL(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)

	res, err := f.install(t, Config{ConnectorVersion: "3.0.0"})
	require.NoError(t, err)
	assert.Equal(t, modernJar, res.JarPath)
	assert.Equal(t, int32(0), f.metadataHits)

	res, err = f.install(t, Config{ConnectorURL: f.server.URL + artifactPath + "/hadoop2-2.2.20/gcs-connector-hadoop2-2.2.20-shaded.jar"})
	require.NoError(t, err)
	assert.Equal(t, legacyJar, res.JarPath)
	assert.Equal(t, int32(0), f.metadataHits)
}

func TestInstall_DownloadError(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, confFile, "spark.master local[*]\n")

	_, err := f.install(t, Config{ConnectorURL: f.server.URL + "/missing/gcs-connector-9.9.9.jar"})
	require.Error(t, err)

	var dlErr *DownloadError
	require.True(t, errors.As(err, &dlErr))
	var se *connector.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, ExitDownload, ExitCode(err))
	assert.Equal(t, "spark.master local[*]\n", f.readFile(t, confFile))
}

func TestInstall_DataprocShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.dataproc = dataproc.Static(true)

	res, err := f.install(t, Config{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(0), f.jarHits)

	exists, err := afero.Exists(f.fs, confFile)
	require.NoError(t, err)
	assert.False(t, exists)

	res, err = f.install(t, Config{SkipDataprocCheck: true, AuthType: ""})
	require.Error(t, err, "with the check skipped the install runs and needs credentials")
	assert.Nil(t, res)
}

func TestUninstall(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, adcPath, userCredentials)
	f.writeFile(t, confFile, "spark.master local[*]\n")

	_, err := f.install(t, Config{RequesterPaysProject: "myproj"})
	require.NoError(t, err)

	res, err := f.installer(t, Config{}).Uninstall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{legacyJar}, res.RemovedJars)
	assert.ElementsMatch(t, []string{
		KeyLegacyAuthEnable, KeyLegacyKeyFile, KeyRequesterPaysMode, KeyRequesterPaysProject,
	}, res.RemovedKeys)

	assert.Equal(t, "spark.master local[*]\n", f.readFile(t, confFile))
	exists, err := afero.Exists(f.fs, legacyJar)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUninstall_NoConfigFileIsNotCreated(t *testing.T) {
	f := newFixture(t)

	res, err := f.installer(t, Config{}).Uninstall(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.RemovedJars)

	exists, err := afero.Exists(f.fs, confFile)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUninstall_NoSparkHome(t *testing.T) {
	f := newFixture(t)
	delete(f.env, spark.HomeEnv)

	_, err := f.installer(t, Config{}).Uninstall(context.Background())
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}

func TestDiagnose(t *testing.T) {
	f := newFixture(t)
	f.sparkVersion(t, "3.5.1")
	f.writeFile(t, adcPath, userCredentials)

	_, err := f.install(t, Config{RequesterPaysProject: "billing"})
	require.NoError(t, err)

	var probed gcs.ProbeOptions
	inst := f.installer(t, Config{})
	WithBucketProbe(func(ctx context.Context, bucket string, opts gcs.ProbeOptions) (*gcs.ProbeResult, error) {
		probed = opts
		return &gcs.ProbeResult{Bucket: "b", Latency: 12 * time.Millisecond}, nil
	})(inst)

	checks := inst.Diagnose(context.Background(), "gs://b")
	require.Len(t, checks, 6)
	for _, c := range checks {
		assert.Equal(t, CheckPass, c.Status, "%s: %s", c.Name, c.Message)
	}
	assert.Equal(t, 0, Failed(checks))
	assert.Equal(t, adcPath, probed.CredentialsFile)
	assert.Equal(t, "billing", probed.UserProject)
}

func TestDiagnose_Failures(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, sparkHome+"/jars/gcs-connector-a.jar", "a")
	f.writeFile(t, sparkHome+"/jars/gcs-connector-b.jar", "b")
	f.writeFile(t, confFile, KeyLegacyAuthEnable+" true\n"+KeyLegacyKeyFile+" /missing.json\n")

	checks := f.installer(t, Config{}).Diagnose(context.Background(), "")
	byName := map[string]Check{}
	for _, c := range checks {
		byName[c.Name] = c
	}

	assert.Equal(t, CheckWarn, byName["Spark version"].Status)
	assert.Equal(t, CheckWarn, byName["Connector jar"].Status)
	assert.Equal(t, CheckPass, byName["Configuration"].Status)
	assert.Equal(t, CheckFail, byName["Credentials"].Status)
	assert.Equal(t, 1, Failed(checks))
}

func TestDiagnose_NoSparkHome(t *testing.T) {
	f := newFixture(t)
	delete(f.env, spark.HomeEnv)

	checks := f.installer(t, Config{}).Diagnose(context.Background(), "")
	require.Len(t, checks, 1)
	assert.Equal(t, CheckFail, checks[0].Status)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitConfiguration, ExitCode(fmt.Errorf("wrapped: %w", &ConfigurationError{Msg: "x"})))
	assert.Equal(t, ExitDownload, ExitCode(&DownloadError{Err: errors.New("x")}))
	assert.Equal(t, ExitCredentialNotFound, ExitCode(&CredentialNotFoundError{}))
}
