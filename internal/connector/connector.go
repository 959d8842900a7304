// Package connector resolves and downloads the Cloud Storage connector jar
// for Hadoop/Spark from a Maven repository.
package connector

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/broadinstitute/install-gcs-connector/internal/cache"
)

const (
	// DefaultRepository is Maven Central.
	DefaultRepository = "https://repo1.maven.org/maven2"
	// VersionLatest asks the resolver for the newest published release.
	VersionLatest = "latest"
	// JarPrefix is shared by every connector jar file name.
	JarPrefix = "gcs-connector-"

	artifactPath = "com/google/cloud/bigdataoss/gcs-connector"
)

// Options configures a Client.
type Options struct {
	Repository string
	// Timeout bounds a single jar download.
	Timeout time.Duration
	// RetryCount is the number of retries after a transient failure.
	RetryCount int
	RetryWait  time.Duration
	// Cache stores resolved "latest" versions; nil disables caching.
	Cache *cache.Manager
	// Refresh ignores cached versions and stores the fresh lookup.
	Refresh bool
	// UserAgent is sent with every request.
	UserAgent string
}

// Client talks to the Maven repository.
type Client struct {
	http   *resty.Client
	repo   string
	cache   *cache.Manager
	refresh bool
	logger  *zap.Logger
}

// New creates a Client.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Repository == "" {
		opts.Repository = DefaultRepository
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(10 * opts.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r != nil && r.Request != nil && r.Request.Context().Err() != nil {
				return false
			}
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if opts.UserAgent != "" {
		httpClient.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{
		http:   httpClient,
		repo:   strings.TrimSuffix(opts.Repository, "/"),
		cache:   opts.Cache,
		refresh: opts.Refresh,
		logger:  logger.Named("connector"),
	}
}

const metadataTimeout = 30 * time.Second

type mavenMetadata struct {
	Versions []string `xml:"versioning>versions>version"`
}

// ListVersions returns every version listed in maven-metadata.xml.
func (c *Client) ListVersions(ctx context.Context) ([]string, error) {
	url := c.repo + "/" + artifactPath + "/maven-metadata.xml"
	c.logger.Debug("fetching maven metadata", zap.String("url", url))

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}

	var md mavenMetadata
	if err := xml.Unmarshal(resp.Body(), &md); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return md.Versions, nil
}

// Resolve turns a requested version into a concrete one. "latest" (or "")
// picks the newest release for the Hadoop generation.
func (c *Client) Resolve(ctx context.Context, requested string, hadoop int) (string, error) {
	if requested != "" && requested != VersionLatest {
		return requested, nil
	}

	key := fmt.Sprintf("latest-hadoop%d", hadoop)
	switch {
	case c.cache == nil:
	case c.refresh:
		if err := c.cache.Clear(key); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to clear cached connector version", zap.Error(err))
		}
	default:
		if v, ok := c.cache.Get(key); ok {
			c.logger.Debug("using cached connector version", zap.String("version", v))
			return v, nil
		}
	}

	raw, err := c.ListVersions(ctx)
	if err != nil {
		return "", err
	}
	latest, err := Latest(raw, hadoop)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		if err := c.cache.Set(key, latest.Raw); err != nil {
			c.logger.Warn("failed to cache connector version", zap.Error(err))
		}
	}
	return latest.Raw, nil
}

// JarURL returns the shaded jar URL for version.
func (c *Client) JarURL(version string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s-shaded.jar", c.repo, artifactPath, version, JarPrefix, version)
}

// JarName returns the file name component of a jar URL.
func JarName(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return path.Base(url)
}

// InstalledJars lists the connector jars in dir, sorted by name. A missing
// directory has none.
func InstalledJars(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var jars []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, JarPrefix) && strings.HasSuffix(name, ".jar") {
			jars = append(jars, filepath.Join(dir, name))
		}
	}
	return jars, nil
}

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server did not send a length.
type ProgressFunc func(written, total int64)

// Download streams url into dest. The body goes to a temp file in the same
// directory which is renamed over dest once complete, so dest is either the
// old file or the complete new one.
func (c *Client) Download(ctx context.Context, fs afero.Fs, url, dest string, progress ProgressFunc) (int64, error) {
	c.logger.Debug("downloading", zap.String("url", url), zap.String("dest", dest))

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}

	dir := filepath.Dir(dest)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer fs.Remove(tmpName)

	var w io.Writer = tmp
	if progress != nil {
		w = &progressWriter{w: tmp, total: resp.RawResponse.ContentLength, fn: progress}
	}
	n, err := io.Copy(w, body)
	if err != nil {
		tmp.Close()
		return n, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if cl := resp.RawResponse.ContentLength; cl >= 0 && n != cl {
		tmp.Close()
		return n, fmt.Errorf("failed to download %s: got %d of %d bytes", url, n, cl)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := fs.Chmod(tmpName, 0644); err != nil {
		return n, fmt.Errorf("failed to set mode on %s: %w", tmpName, err)
	}
	if err := fs.Rename(tmpName, dest); err != nil {
		return n, fmt.Errorf("failed to move download to %s: %w", dest, err)
	}

	c.logger.Debug("download complete", zap.String("dest", dest), zap.Int64("bytes", n))
	return n, nil
}

type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}
