package installer

import (
	"errors"
	"fmt"
)

// Exit codes returned by the binary.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitConfiguration      = 2
	ExitDownload           = 3
	ExitCredentialNotFound = 4
)

// ConfigurationError means the environment or flags cannot describe a valid
// install: no Spark home, conflicting auth options.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DownloadError means the connector jar could not be fetched or stored.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("failed to download GCS connector: %v", e.Err)
	}
	return fmt.Sprintf("failed to download GCS connector from %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// CredentialNotFoundError means no credential file exists at any candidate
// location.
type CredentialNotFoundError struct {
	Searched []string
	Err      error
}

func (e *CredentialNotFoundError) Error() string {
	msg := "no Google credential file found"
	for _, s := range e.Searched {
		msg += "\n    " + s
	}
	return msg + "\n\nRun\n\n    gcloud auth application-default login\n\nthen rerun the installer, or pass --key-file-path."
}

func (e *CredentialNotFoundError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by the installer to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigurationError
	var dlErr *DownloadError
	var credErr *CredentialNotFoundError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfiguration
	case errors.As(err, &dlErr):
		return ExitDownload
	case errors.As(err, &credErr):
		return ExitCredentialNotFound
	default:
		return ExitFailure
	}
}
