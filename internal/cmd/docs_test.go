package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsCommand_Print(t *testing.T) {
	out, err := executeCommand(t, "docs", "--print")
	require.NoError(t, err)
	assert.Equal(t, docsURL+"\n", out)
}

func TestDocsCommand_Open(t *testing.T) {
	var opened string
	orig := openURL
	openURL = func(url string) error {
		opened = url
		return nil
	}
	t.Cleanup(func() { openURL = orig })

	_, err := executeCommand(t, "docs")
	require.NoError(t, err)
	assert.Equal(t, docsURL, opened)
}

func TestDocsCommand_NoBrowser(t *testing.T) {
	orig := openURL
	openURL = func(string) error { return errors.New("no browser") }
	t.Cleanup(func() { openURL = orig })

	out, err := executeCommand(t, "docs")
	require.NoError(t, err)
	assert.Contains(t, out, docsURL)
}
