package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANCLORA_API_ENDPOINT", "SERVER_PORT", "GIN_MODE", "CORS_ORIGINS", "DATABASE_URL",
		"ANCLORA_UPLOADS", "ANCLORA_MAX_CONCURRENT", "ANCLORA_API_TIMEOUT", "ANCLORA_SETTINGS",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9000", cfg.API.Endpoint)
	assert.Equal(t, 3, cfg.Conversion.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.DefaultDuration())
	assert.Equal(t, 8*time.Second, cfg.SuccessDuration())
	assert.Equal(t, 10*time.Second, cfg.ErrorDuration())
	assert.Equal(t, 300*time.Second, cfg.APITimeout())
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 24*time.Hour, cfg.UploadRetention())
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "anclora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  cors_origins: ["https://app.example.com"]
api:
  endpoint: https://convert.example.com
  timeout_seconds: 60
conversion:
  max_concurrent: 5
notifications:
  success_duration_ms: 2000
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://convert.example.com", cfg.API.Endpoint)
	assert.Equal(t, time.Minute, cfg.APITimeout())
	assert.Equal(t, 5, cfg.Conversion.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.SuccessDuration())
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.ErrorDuration())
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "anclora.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))

	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("ANCLORA_API_ENDPOINT", "http://converter:9000")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("ANCLORA_MAX_CONCURRENT", "8")
	t.Setenv("DATABASE_URL", "postgres://localhost/anclora")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "http://converter:9000", cfg.API.Endpoint)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8, cfg.Conversion.MaxConcurrent)
	assert.Equal(t, "postgres://localhost/anclora", cfg.Database.URL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		yaml string
	}{
		{name: "bad port env", env: map[string]string{"SERVER_PORT": "eighty"}},
		{name: "bad concurrency env", env: map[string]string{"ANCLORA_MAX_CONCURRENT": "many"}},
		{name: "port out of range", yaml: "server:\n  port: 70000\n"},
		{name: "zero concurrency", yaml: "conversion:\n  max_concurrent: 0\n"},
		{name: "empty endpoint", yaml: "api:\n  endpoint: \"\"\n"},
		{name: "malformed yaml", yaml: "server: [port\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "anclora.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			}

			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	settings, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, &UserSettings{}, settings)

	want := &UserSettings{UploadLocation: "/srv/uploads", DefaultTargetFormat: "pdf"}
	require.NoError(t, SaveSettings(path, want))

	got, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err = LoadSettings(path)
	assert.Error(t, err)
}

func TestUploadLocationPrefersSettings(t *testing.T) {
	cfg := Default()
	cfg.SettingsPath = filepath.Join(t.TempDir(), "settings.json")
	cfg.Conversion.UploadDir = "/var/anclora"

	assert.Equal(t, "/var/anclora", cfg.UploadLocation())

	require.NoError(t, SaveSettings(cfg.SettingsPath, &UserSettings{UploadLocation: "/home/me/uploads"}))
	assert.Equal(t, "/home/me/uploads", cfg.UploadLocation())
}
