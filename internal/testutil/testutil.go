// Package testutil provides testing utilities for install-gcs-connector.
package testutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// CreateTempConfig creates a temporary settings file with the given content.
// The file is automatically cleaned up when the test finishes.
func CreateTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config content: %v", err)
	}

	return path
}

// SetEnv sets an environment variable for the duration of the test.
// The original value is restored when the test finishes.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()

	original, exists := os.LookupEnv(key)

	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env var %s: %v", key, err)
	}

	t.Cleanup(func() {
		if exists {
			os.Setenv(key, original)
		} else {
			os.Unsetenv(key)
		}
	})
}

// UnsetEnv removes an environment variable for the duration of the test.
func UnsetEnv(t *testing.T, key string) {
	t.Helper()

	original, exists := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env var %s: %v", key, err)
	}

	t.Cleanup(func() {
		if exists {
			os.Setenv(key, original)
		}
	})
}

// WithConfigFile creates a temporary settings file and points
// GCS_CONNECTOR_CONFIG at it for the duration of the test.
func WithConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := CreateTempConfig(t, content)

	SetEnv(t, "GCS_CONNECTOR_CONFIG", path)

	return path
}

// NewSparkHome creates an empty Spark layout (jars/ and conf/) under a temp
// directory and returns its path.
func NewSparkHome(t *testing.T) string {
	t.Helper()

	home := filepath.Join(t.TempDir(), "spark")
	for _, dir := range []string{"jars", "conf"} {
		if err := os.MkdirAll(filepath.Join(home, dir), 0755); err != nil {
			t.Fatalf("failed to create spark home: %v", err)
		}
	}
	return home
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// OutputCapture captures stdout and stderr for testing.
type OutputCapture struct {
	originalStdout *os.File
	originalStderr *os.File
	stdoutReader   *os.File
	stderrReader   *os.File
	stdoutWriter   *os.File
	stderrWriter   *os.File
	stdoutBuf      *bytes.Buffer
	stderrBuf      *bytes.Buffer
	wg             sync.WaitGroup
}

// CaptureOutput starts capturing stdout and stderr.
// Call Restore() when done to restore original stdout/stderr.
func CaptureOutput() *OutputCapture {
	capture := &OutputCapture{
		originalStdout: os.Stdout,
		originalStderr: os.Stderr,
		stdoutBuf:      &bytes.Buffer{},
		stderrBuf:      &bytes.Buffer{},
	}

	capture.stdoutReader, capture.stdoutWriter, _ = os.Pipe()
	capture.stderrReader, capture.stderrWriter, _ = os.Pipe()

	os.Stdout = capture.stdoutWriter
	os.Stderr = capture.stderrWriter

	capture.wg.Add(2)
	go func() {
		defer capture.wg.Done()
		io.Copy(capture.stdoutBuf, capture.stdoutReader)
	}()
	go func() {
		defer capture.wg.Done()
		io.Copy(capture.stderrBuf, capture.stderrReader)
	}()

	return capture
}

// Read returns the captured stdout and stderr content.
func (c *OutputCapture) Read() (stdout, stderr string, err error) {
	c.stdoutWriter.Close()
	c.stderrWriter.Close()

	c.wg.Wait()

	// Give a tiny bit of time for any buffered writes
	time.Sleep(10 * time.Millisecond)

	return c.stdoutBuf.String(), c.stderrBuf.String(), nil
}

// Restore restores stdout and stderr to their original values.
func (c *OutputCapture) Restore() {
	if c.stdoutWriter != nil {
		c.stdoutWriter.Close()
	}
	if c.stderrWriter != nil {
		c.stderrWriter.Close()
	}
	if c.stdoutReader != nil {
		c.stdoutReader.Close()
	}
	if c.stderrReader != nil {
		c.stderrReader.Close()
	}

	os.Stdout = c.originalStdout
	os.Stderr = c.originalStderr
}
