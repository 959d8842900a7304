package main

import (
	"fmt"
	"os"

	"github.com/broadinstitute/install-gcs-connector/internal/cmd"
	"github.com/broadinstitute/install-gcs-connector/internal/installer"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(installer.ExitCode(err))
	}
}
