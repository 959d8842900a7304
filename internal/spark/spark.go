// Package spark locates a Spark installation and reads its version.
package spark

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"
)

// HomeEnv is the environment variable Spark itself reads.
const HomeEnv = "SPARK_HOME"

// DefaultsFileName is the configuration file patched by the installer.
const DefaultsFileName = "spark-defaults.conf"

// ErrHomeNotFound is returned when no Spark home can be resolved.
var ErrHomeNotFound = errors.New("spark home not found")

// Locator resolves the Spark home directory.
type Locator struct {
	Fs       afero.Fs
	Getenv   func(string) string
	LookPath func(string) (string, error)
	// EvalSymlinks resolves the spark-submit path found on PATH.
	EvalSymlinks func(string) (string, error)
}

// NewLocator returns a Locator backed by the process environment.
func NewLocator(fs afero.Fs) *Locator {
	return &Locator{
		Fs:           fs,
		Getenv:       os.Getenv,
		LookPath:     exec.LookPath,
		EvalSymlinks: filepath.EvalSymlinks,
	}
}

// Locate returns the Spark home. An explicit override wins, then SPARK_HOME,
// then the parent of the bin directory holding spark-submit on PATH.
func (l *Locator) Locate(override string) (Home, error) {
	candidates := []struct {
		dir    string
		source string
	}{
		{override, "override"},
		{l.Getenv(HomeEnv), HomeEnv},
	}
	for _, c := range candidates {
		if c.dir == "" {
			continue
		}
		if err := l.checkDir(c.dir); err != nil {
			return Home{}, fmt.Errorf("%s (from %s): %w", c.dir, c.source, err)
		}
		return Home{Dir: c.dir, Source: c.source}, nil
	}

	if l.LookPath != nil {
		if submit, err := l.LookPath("spark-submit"); err == nil {
			if l.EvalSymlinks != nil {
				if resolved, err := l.EvalSymlinks(submit); err == nil {
					submit = resolved
				}
			}
			dir := filepath.Dir(filepath.Dir(submit))
			if err := l.checkDir(dir); err == nil {
				return Home{Dir: dir, Source: "PATH"}, nil
			}
		}
	}

	return Home{}, fmt.Errorf("%w: set %s or pass --spark-home", ErrHomeNotFound, HomeEnv)
}

func (l *Locator) checkDir(dir string) error {
	info, err := l.Fs.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	return nil
}

// Home is a resolved Spark installation.
type Home struct {
	Dir string
	// Source names where Dir came from: override, SPARK_HOME or PATH.
	Source string
}

func (h Home) JarsDir() string { return filepath.Join(h.Dir, "jars") }

func (h Home) ConfDir() string { return filepath.Join(h.Dir, "conf") }

func (h Home) DefaultsFile() string { return filepath.Join(h.ConfDir(), DefaultsFileName) }

var (
	releasePattern  = regexp.MustCompile(`^Spark (\d+\.\d+\.\d+)`)
	coreJarPattern  = regexp.MustCompile(`^spark-core_\d+\.\d+-(\d+\.\d+\.\d+)\.jar$`)
	errNoSparkCore  = errors.New("no spark-core jar found")
	errEmptyRelease = errors.New("RELEASE file has no version line")
)

// DetectVersion reads the Spark version from <home>/RELEASE, falling back to
// the spark-core jar name in <home>/jars.
func DetectVersion(fs afero.Fs, home Home) (*semver.Version, error) {
	v, relErr := versionFromRelease(fs, filepath.Join(home.Dir, "RELEASE"))
	if relErr == nil {
		return v, nil
	}
	v, jarErr := versionFromJars(fs, home.JarsDir())
	if jarErr == nil {
		return v, nil
	}
	return nil, fmt.Errorf("cannot determine spark version: %v; %v", relErr, jarErr)
}

func versionFromRelease(fs afero.Fs, path string) (*semver.Version, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := releasePattern.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			return semver.NewVersion(m[1])
		}
	}
	return nil, errEmptyRelease
}

func versionFromJars(fs afero.Fs, dir string) (*semver.Version, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if m := coreJarPattern.FindStringSubmatch(e.Name()); m != nil {
			return semver.NewVersion(m[1])
		}
	}
	return nil, errNoSparkCore
}

// ParseVersion parses a user supplied Spark version such as "3.5.1".
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if err != nil {
		return nil, fmt.Errorf("invalid spark version %q: %w", s, err)
	}
	return v, nil
}

var modernConstraint = mustConstraint(">= 3.5.0-0")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// IsModern reports whether v uses the fs.gs.auth.* configuration of the
// Hadoop 3 connector. A nil version is treated as legacy.
func IsModern(v *semver.Version) bool {
	if v == nil {
		return false
	}
	return modernConstraint.Check(v)
}
