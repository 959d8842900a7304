package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempConfig(t *testing.T) {
	content := "spark_home: /opt/spark\nauth_type: APPLICATION_DEFAULT\n"

	path := CreateTempConfig(t, content)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data), "content should match")
}

func TestCreateTempConfig_Cleanup(t *testing.T) {
	var path string

	t.Run("create", func(t *testing.T) {
		path = CreateTempConfig(t, "cleanup test")
		_, err := os.Stat(path)
		require.NoError(t, err, "file should exist during test")
	})

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file should be cleaned up after test")
}

func TestSetEnv_RestoresOriginal(t *testing.T) {
	key := "TEST_ENV_RESTORE_12345"
	os.Setenv(key, "original_value")
	defer os.Unsetenv(key)

	t.Run("set", func(t *testing.T) {
		SetEnv(t, key, "new_value")
		assert.Equal(t, "new_value", os.Getenv(key))
	})

	assert.Equal(t, "original_value", os.Getenv(key), "original value should be restored")
}

func TestUnsetEnv_RestoresOriginal(t *testing.T) {
	key := "TEST_ENV_UNSET_12345"
	os.Setenv(key, "keep")
	defer os.Unsetenv(key)

	t.Run("unset", func(t *testing.T) {
		UnsetEnv(t, key)
		_, ok := os.LookupEnv(key)
		assert.False(t, ok)
	})

	assert.Equal(t, "keep", os.Getenv(key))
}

func TestWithConfigFile(t *testing.T) {
	path := WithConfigFile(t, "maven_repo: http://localhost\n")

	assert.Equal(t, path, os.Getenv("GCS_CONNECTOR_CONFIG"), "GCS_CONNECTOR_CONFIG should point to config file")
}

func TestNewSparkHome(t *testing.T) {
	home := NewSparkHome(t)

	for _, dir := range []string{"jars", "conf"} {
		info, err := os.Stat(filepath.Join(home, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCaptureOutput(t *testing.T) {
	capture := CaptureOutput()
	defer capture.Restore()

	os.Stdout.WriteString("stdout message\n")
	os.Stderr.WriteString("stderr message\n")

	stdout, stderr, err := capture.Read()
	require.NoError(t, err)

	assert.Contains(t, stdout, "stdout message", "should capture stdout")
	assert.Contains(t, stderr, "stderr message", "should capture stderr")
}

func TestCaptureOutput_Restore(t *testing.T) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	capture := CaptureOutput()

	assert.NotEqual(t, originalStdout, os.Stdout, "stdout should be replaced")
	assert.NotEqual(t, originalStderr, os.Stderr, "stderr should be replaced")

	capture.Restore()

	assert.Equal(t, originalStdout, os.Stdout, "stdout should be restored")
	assert.Equal(t, originalStderr, os.Stderr, "stderr should be restored")
}
