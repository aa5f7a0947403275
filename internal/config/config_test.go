package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"LABNB_ADDR", "LABNB_WORKER_INTERVAL", "LABNB_WORKER_CONCURRENCY",
	"LABNB_HTTP_TIMEOUT", "LABNB_THUMBNAIL_SIZE", "LABNB_THUMBNAIL_QUALITY",
	"LABNB_MAX_THUMBNAIL_PIXELS", "LABNB_GC_MIN_AGE",
	"LABNB_ASYNC_THUMBNAILS", "LABNB_CORS_ORIGIN", "LABNB_MAX_BODY",
	"LABNB_LOG_FORMAT", "LABNB_WORKSPACE",
}

// clearEnv unsets every LABNB_* key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env.local")

	content := `# comment line
FOO_TEST_KEY=hello
BAR_TEST_KEY="quoted value"
BAZ_TEST_KEY='single quoted'

EMPTY_LINE_ABOVE=works
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0644))

	keys := []string{"FOO_TEST_KEY", "BAR_TEST_KEY", "BAZ_TEST_KEY", "EMPTY_LINE_ABOVE"}
	for _, k := range keys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})

	loadEnvFile(envFile)

	tests := []struct {
		key  string
		want string
	}{
		{"FOO_TEST_KEY", "hello"},
		{"BAR_TEST_KEY", "quoted value"},
		{"BAZ_TEST_KEY", "single quoted"},
		{"EMPTY_LINE_ABOVE", "works"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, os.Getenv(tt.key), tt.key)
	}
}

func TestLoadEnvFile_RealEnvTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env.local")

	require.NoError(t, os.WriteFile(envFile, []byte("PRECEDENCE_TEST=from-file\n"), 0644))
	t.Setenv("PRECEDENCE_TEST", "from-env")

	loadEnvFile(envFile)

	assert.Equal(t, "from-env", os.Getenv("PRECEDENCE_TEST"), "real env should take precedence")
}

func TestLoadEnvFile_MissingFile(t *testing.T) {
	assert.NotPanics(t, func() { loadEnvFile("/nonexistent/path/.env.local") })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 2*time.Second, cfg.WorkerInterval)
	assert.Equal(t, 256, cfg.ThumbnailSize)
	assert.Equal(t, 85, cfg.ThumbnailQuality)
	assert.Equal(t, 89_478_485, cfg.MaxThumbnailPixels)
	assert.Equal(t, 10*time.Minute, cfg.GCMinAge)
	assert.Equal(t, int64(32<<20), cfg.MaxBodyBytes)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `addr: ":9090"
worker_interval: 5s
worker_concurrency: 4
thumbnail_size: 128
max_thumbnail_pixels: 1000000
gc_min_age: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	t.Setenv("LABNB_WORKER_CONCURRENCY", "8")
	t.Setenv("LABNB_ASYNC_THUMBNAILS", "true")
	t.Setenv("LABNB_GC_MIN_AGE", "0s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr, "file value")
	assert.Equal(t, 5*time.Second, cfg.WorkerInterval)
	assert.Equal(t, 8, cfg.WorkerConcurrency, "env value")
	assert.Equal(t, 128, cfg.ThumbnailSize)
	assert.Equal(t, 1000000, cfg.MaxThumbnailPixels)
	assert.Equal(t, time.Duration(0), cfg.GCMinAge, "env overrides file")
	assert.True(t, cfg.AsyncThumbnails)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout, "default")
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"quality above 100", "LABNB_THUMBNAIL_QUALITY", "101"},
		{"zero concurrency", "LABNB_WORKER_CONCURRENCY", "0"},
		{"unknown log format", "LABNB_LOG_FORMAT", "xml"},
		{"zero pixel cap", "LABNB_MAX_THUMBNAIL_PIXELS", "0"},
		{"negative gc age", "LABNB_GC_MIN_AGE", "-1m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	want := Default()
	want.Addr = ":7070"
	want.WorkerInterval = 750 * time.Millisecond
	want.GCMinAge = 30 * time.Second
	require.NoError(t, want.WriteFile(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWorkspaceDir(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, ".", WorkspaceDir(""))
	t.Setenv("LABNB_WORKSPACE", "/srv/lab")
	assert.Equal(t, "/srv/lab", WorkspaceDir(""))
	assert.Equal(t, "/flag", WorkspaceDir("/flag"))
}

func TestEnvDuration_Invalid(t *testing.T) {
	t.Setenv("TEST_DUR_INVALID", "not-a-duration")
	assert.Equal(t, 5*time.Second, envDuration("TEST_DUR_INVALID", 5*time.Second), "fallback")
}

func TestEnvInt_Invalid(t *testing.T) {
	t.Setenv("TEST_INT_INVALID", "abc")
	assert.Equal(t, 42, envInt("TEST_INT_INVALID", 42), "fallback")
}
