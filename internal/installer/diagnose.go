package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/broadinstitute/install-gcs-connector/internal/connector"
	"github.com/broadinstitute/install-gcs-connector/internal/credentials"
	"github.com/broadinstitute/install-gcs-connector/internal/gcs"
	"github.com/broadinstitute/install-gcs-connector/internal/spark"
	"github.com/broadinstitute/install-gcs-connector/internal/sparkconf"
)

// CheckStatus is the outcome of one diagnostic check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one row of the doctor report.
type Check struct {
	Name    string
	Status  CheckStatus
	Message string
}

// Failed counts failing checks.
func Failed(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Status == CheckFail {
			n++
		}
	}
	return n
}

// Diagnose inspects an existing install. When bucket is non-empty it also
// lists one object from it with the configured credential.
func (i *Installer) Diagnose(ctx context.Context, bucket string) []Check {
	var checks []Check

	home, err := i.locator.Locate(i.config.SparkHome)
	if err != nil {
		return append(checks, Check{"Spark home", CheckFail, err.Error()})
	}
	checks = append(checks, Check{"Spark home", CheckPass, fmt.Sprintf("%s (from %s)", home.Dir, home.Source)})

	version, err := spark.DetectVersion(i.fs, home)
	if i.config.SparkVersion != "" {
		version, err = spark.ParseVersion(i.config.SparkVersion)
	}
	modern := spark.IsModern(version)
	if err != nil {
		checks = append(checks, Check{"Spark version", CheckWarn, "unknown, assuming < 3.5.0"})
	} else {
		layout := "legacy google.cloud.auth.* settings"
		if modern {
			layout = "fs.gs.auth.* settings"
		}
		checks = append(checks, Check{"Spark version", CheckPass, fmt.Sprintf("%s, uses %s", version, layout)})
	}

	checks = append(checks, i.checkJars(home))

	cfgCheck, doc := i.checkConfig(home, modern)
	checks = append(checks, cfgCheck)
	if doc == nil {
		return checks
	}

	credCheck, cred := i.checkCredential(ctx, doc)
	checks = append(checks, credCheck)

	if bucket != "" {
		project, _ := doc.Get(KeyRequesterPaysProject)
		checks = append(checks, i.checkBucket(ctx, bucket, cred, project))
	}
	return checks
}

func (i *Installer) checkJars(home spark.Home) Check {
	matches, err := connector.InstalledJars(i.fs, home.JarsDir())
	if err != nil {
		return Check{"Connector jar", CheckFail, err.Error()}
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	switch len(matches) {
	case 0:
		return Check{"Connector jar", CheckFail, "no gcs-connector jar in " + home.JarsDir()}
	case 1:
		return Check{"Connector jar", CheckPass, names[0]}
	default:
		return Check{"Connector jar", CheckWarn, "several versions installed: " + strings.Join(names, ", ")}
	}
}

func (i *Installer) checkConfig(home spark.Home, modern bool) (Check, *sparkconf.Document) {
	path := home.DefaultsFile()
	exists, err := afero.Exists(i.fs, path)
	if err != nil {
		return Check{"Configuration", CheckFail, err.Error()}, nil
	}
	if !exists {
		return Check{"Configuration", CheckFail, path + " does not exist"}, nil
	}

	doc, err := sparkconf.Load(i.fs, path)
	if err != nil {
		return Check{"Configuration", CheckFail, err.Error()}, nil
	}
	props, err := doc.Properties()
	if err != nil {
		return Check{"Configuration", CheckFail, err.Error()}, doc
	}

	required := legacyKeys
	if modern {
		required = []string{KeyAuthType}
	}
	var missing []string
	for _, k := range required {
		if _, ok := props.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Check{"Configuration", CheckFail, "missing " + strings.Join(missing, ", ")}, doc
	}

	for _, k := range ManagedKeys() {
		if doc.Count(k) > 1 {
			return Check{"Configuration", CheckWarn, fmt.Sprintf("%s is set %d times", k, doc.Count(k))}, doc
		}
	}

	if modern {
		auth, _ := props.Get(KeyAuthType)
		return Check{"Configuration", CheckPass, "auth type " + auth}, doc
	}
	return Check{"Configuration", CheckPass, "service account key file configured"}, doc
}

func (i *Installer) checkCredential(ctx context.Context, doc *sparkconf.Document) (Check, string) {
	var path string
	for _, k := range []string{KeyLegacyKeyFile, KeyServiceAccountKey, KeyExecutorCredentials} {
		if v, ok := doc.Get(k); ok && v != "" {
			path = v
			break
		}
	}
	if path == "" {
		return Check{"Credentials", CheckPass, "no credential file required"}, ""
	}

	info, err := credentials.Inspect(ctx, i.fs, path)
	if err != nil {
		return Check{"Credentials", CheckFail, err.Error()}, path
	}
	msg := fmt.Sprintf("%s (%s)", path, info.Type)
	if info.ClientEmail != "" {
		msg = fmt.Sprintf("%s (%s, %s)", path, info.Type, info.ClientEmail)
	}
	return Check{"Credentials", CheckPass, msg}, path
}

func (i *Installer) checkBucket(ctx context.Context, bucket, cred, project string) Check {
	name := "Bucket " + bucket
	res, err := i.probe(ctx, bucket, gcs.ProbeOptions{CredentialsFile: cred, UserProject: project})
	if err != nil {
		return Check{name, CheckFail, err.Error()}
	}
	msg := fmt.Sprintf("readable (%s)", res.Latency.Round(time.Millisecond))
	if res.Empty {
		msg = fmt.Sprintf("readable, empty (%s)", res.Latency.Round(time.Millisecond))
	}
	return Check{name, CheckPass, msg}
}
