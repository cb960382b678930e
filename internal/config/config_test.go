package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValidForAutomaticMode(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Validate(false))

	err := c.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API Key")
}

func TestCheckLoopback(t *testing.T) {
	for _, ok := range []string{"http://127.0.0.1:9222", "http://localhost:9222", "http://[::1]:9222", "ws://127.0.0.2:9000/devtools"} {
		assert.NoError(t, CheckLoopback(ok), ok)
	}
	for _, bad := range []string{"http://0.0.0.0:9222", "http://192.168.1.10:9222", "http://example.com:9222", "https://127.0.0.1:9222", "", "127.0.0.1:9222"} {
		assert.Error(t, CheckLoopback(bad), bad)
	}
}

func TestValidateBounds(t *testing.T) {
	c := NewConfig()
	c.Crawl.MaxArticles = 6
	c.Browser.ActionTimeout = 0
	err := c.Validate(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxArticles")
	assert.Contains(t, err.Error(), "actionTimeout")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
crawl:
  maxArticles: 3
  settleDelay: 500ms
browser:
  launch: false
oracle:
  retries: 2
log:
  writer: [console]
`), 0o644))

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HNCRAWLER_SQLITE_DSN", filepath.Join(dir, "x.db"))

	c, err := Load(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Crawl.MaxArticles)
	assert.Equal(t, 500*time.Millisecond, c.Crawl.SettleDelay)
	assert.False(t, c.Browser.Launch)
	assert.Equal(t, []string{"console"}, c.Log.Writer)
	assert.Equal(t, "sk-test", c.Oracle.APIKey)
	assert.Equal(t, filepath.Join(dir, "x.db"), c.Sqlite.Dsn)
	assert.Equal(t, ".titleline > a", c.Crawl.LinkSelector)
	assert.Equal(t, 2, c.Oracle.Retries)
	assert.Equal(t, 500*time.Millisecond, c.Oracle.RetryInterval)
	require.NoError(t, c.Validate(true))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
