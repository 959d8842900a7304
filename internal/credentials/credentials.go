// Package credentials finds the local Google credential file the GCS
// connector should use.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"golang.org/x/oauth2/google"
)

const (
	// ApplicationCredentialsEnv points ADC at an explicit file.
	ApplicationCredentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"
	// CloudSDKConfigEnv relocates the gcloud configuration directory.
	CloudSDKConfigEnv = "CLOUDSDK_CONFIG"

	adcFileName = "application_default_credentials.json"
)

// Candidate is one place a credential file may be.
type Candidate struct {
	// Pattern is a literal path unless Glob is set.
	Pattern string
	// Source is a short human label for messages.
	Source string
	// Required marks an explicit override that must exist.
	Required bool
	// Glob marks a pattern of the form <dir>/*/<name>: any subdirectory of
	// <dir> holding <name> matches. Nothing else in the pattern is special.
	Glob bool
}

// Discoverer probes the candidate locations in priority order.
type Discoverer struct {
	Fs      afero.Fs
	HomeDir string
	Getenv  func(string) string
}

// NewDiscoverer returns a Discoverer for the current user.
func NewDiscoverer(fs afero.Fs) (*Discoverer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return &Discoverer{Fs: fs, HomeDir: home, Getenv: os.Getenv}, nil
}

// GcloudConfigDir is CLOUDSDK_CONFIG or ~/.config/gcloud.
func (d *Discoverer) GcloudConfigDir() string {
	if dir := d.Getenv(CloudSDKConfigEnv); dir != "" {
		return dir
	}
	return filepath.Join(d.HomeDir, ".config", "gcloud")
}

// Candidates lists the locations checked for an explicit path (may be empty).
func (d *Discoverer) Candidates(explicit string) []Candidate {
	if explicit != "" {
		return []Candidate{{Pattern: explicit, Source: "--key-file-path", Required: true}}
	}
	var out []Candidate
	if env := d.Getenv(ApplicationCredentialsEnv); env != "" {
		out = append(out, Candidate{Pattern: env, Source: ApplicationCredentialsEnv})
	}
	gcloud := d.GcloudConfigDir()
	out = append(out,
		Candidate{Pattern: filepath.Join(gcloud, adcFileName), Source: "application default credentials"},
		Candidate{Pattern: filepath.Join(gcloud, "legacy_credentials", "*", "adc.json"), Source: "legacy credentials", Glob: true},
	)
	return out
}

// Discover returns the first existing credential file. When a glob matches
// several files the most recently modified one wins.
func (d *Discoverer) Discover(explicit string) (string, error) {
	candidates := d.Candidates(explicit)
	searched := make([]string, 0, len(candidates))
	for _, c := range candidates {
		searched = append(searched, c.Pattern)
		path, ok, err := d.match(c)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
		if c.Required {
			break
		}
	}
	return "", &NotFoundError{Searched: searched}
}

func (d *Discoverer) match(c Candidate) (string, bool, error) {
	if !c.Glob {
		info, err := d.Fs.Stat(c.Pattern)
		if err != nil || info.IsDir() {
			return "", false, nil
		}
		return c.Pattern, true, nil
	}

	dir := filepath.Dir(filepath.Dir(c.Pattern))
	name := filepath.Base(c.Pattern)
	entries, err := afero.ReadDir(d.Fs, dir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	type found struct {
		path  string
		mtime int64
	}
	var files []found
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), name)
		info, err := d.Fs.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, found{path, info.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return "", false, nil
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })
	return files[0].path, true, nil
}

// NotFoundError lists the locations that were searched.
type NotFoundError struct {
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no credential file found in: %v", e.Searched)
}

// Info describes a parsed credential file.
type Info struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	// ClientEmail is set for service account keys.
	ClientEmail string `json:"client_email"`
}

// Inspect parses path as Google credentials and reports its type.
func Inspect(ctx context.Context, fs afero.Fs, path string) (*Info, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if info.Type == "" {
		return nil, fmt.Errorf("%s has no credential type", path)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, "https://www.googleapis.com/auth/devstorage.read_write")
	if err != nil {
		return nil, fmt.Errorf("invalid credentials in %s: %w", path, err)
	}
	if info.ProjectID == "" {
		info.ProjectID = creds.ProjectID
	}
	return &info, nil
}
