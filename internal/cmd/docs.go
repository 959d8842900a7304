package cmd

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

const docsURL = "https://github.com/GoogleCloudDataproc/hadoop-connectors/blob/master/gcs/CONFIGURATION.md"

var docsFlags struct {
	print bool
}

// openURL is replaced in tests.
var openURL = browser.OpenURL

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Open the GCS connector configuration reference",
	Long: `Open the GCS connector configuration reference in a browser.

It documents every fs.gs.* property, including the auth types and the
requester-pays settings this installer writes.`,
	Args: cobra.NoArgs,
	RunE: runDocs,
}

func init() {
	docsCmd.Flags().BoolVar(&docsFlags.print, "print", false, "print the URL instead of opening a browser")
	rootCmd.AddCommand(docsCmd)
}

func runDocs(cmd *cobra.Command, args []string) error {
	if docsFlags.print {
		fmt.Fprintln(cmd.OutOrStdout(), docsURL)
		return nil
	}
	if err := openURL(docsURL); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Could not open a browser. Visit:\n  %s\n", docsURL)
	}
	return nil
}
