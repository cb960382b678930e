package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("HNCRAWLER_ORACLE_APIKEY", "")
	t.Setenv("HNCRAWLER_LOG_FILE", filepath.Join(dir, "crawler.log"))
	t.Setenv("HNCRAWLER_SQLITE_DSN", filepath.Join(dir, "crawler.db"))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestFlagOverridesAreValidated(t *testing.T) {
	_, err := run(t, "--max-articles", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxArticles")

	_, err = run(t, "--devtools", "http://10.1.2.3:9222")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10.1.2.3")
}

func TestControlRequiresAPIKey(t *testing.T) {
	_, err := run(t, "--control")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestRejectsPositionalArgs(t *testing.T) {
	_, err := run(t, "extra")
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
