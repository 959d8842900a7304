// Package completion provides shell completion functionality for the CLI.
package completion

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/broadinstitute/install-gcs-connector/internal/config"
	"github.com/broadinstitute/install-gcs-connector/internal/installer"
)

// Timeout bounds network lookups made while completing.
const Timeout = 2 * time.Second

// CompletionFunc is the signature cobra expects for flag and argument completion.
type CompletionFunc func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective)

// VersionLister lists published connector versions.
type VersionLister interface {
	ListVersions(ctx context.Context) ([]string, error)
}

// NoCompletion returns an empty completion function.
func NoCompletion() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

// AuthTypeCompletionFunc completes --auth-type values.
func AuthTypeCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return filterCompletions(installer.AuthTypes(), strings.ToUpper(toComplete)), cobra.ShellCompDirectiveNoFileComp
	}
}

// DirCompletionFunc restricts completion to directories.
func DirCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveFilterDirs
	}
}

// JSONFileCompletionFunc restricts completion to .json files.
func JSONFileCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json"}, cobra.ShellCompDirectiveFilterFileExt
	}
}

// ConnectorVersionCompletionFunc completes --connector-version from the
// Maven metadata, newest last as published. newLister is called lazily so
// nothing is fetched unless the user actually completes the flag.
func ConnectorVersionCompletionFunc(newLister func() VersionLister) CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		versions := []string{"latest"}

		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()

		// Silently fail - completions shouldn't be intrusive
		if found, err := newLister().ListVersions(ctx); err == nil {
			versions = append(versions, found...)
		}

		return filterCompletions(versions, toComplete), cobra.ShellCompDirectiveNoFileComp
	}
}

// ConfigSetCompletionFunc completes `config set <key> <value>`: settings keys
// first, then auth types when the key is auth_type.
func ConfigSetCompletionFunc() CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		switch len(args) {
		case 0:
			return filterCompletions(config.Keys, toComplete), cobra.ShellCompDirectiveNoFileComp
		case 1:
			switch args[0] {
			case "auth_type":
				return AuthTypeCompletionFunc()(cmd, args, toComplete)
			case "spark_home":
				return nil, cobra.ShellCompDirectiveFilterDirs
			case "key_file_path":
				return []string{"json"}, cobra.ShellCompDirectiveFilterFileExt
			}
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

// filterCompletions filters completions based on the toComplete prefix.
func filterCompletions(completions []string, toComplete string) []string {
	if toComplete == "" {
		return completions
	}

	filtered := make([]string, 0)
	for _, c := range completions {
		// Handle tab-separated descriptions (value\tdescription)
		value, _, _ := strings.Cut(c, "\t")

		if strings.HasPrefix(value, toComplete) {
			filtered = append(filtered, c)
		}
	}

	return filtered
}
