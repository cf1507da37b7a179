package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "immersive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := load(Overrides{}, envMap(nil))
	require.NoError(t, err)
	want := Default()
	require.Equal(t, &want, cfg)
}

func TestLoadLayering(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
addr: ":9000"
entryTimeout: 8s
feedbackFrequency: 4
allowedOrigins: ["https://a.example"]
`)
	addr := ":9100"
	cfg, err := load(Overrides{Addr: &addr}, envMap(map[string]string{
		ConfigPathEnv:                  path,
		"IMMERSIVE_ADDR":               ":9050",
		"IMMERSIVE_FEEDBACK_FREQUENCY": "7",
		"IMMERSIVE_RACE_GUARD_TTL":     "9500ms",
		"IMMERSIVE_ALLOWED_ORIGINS":    "https://b.example,https://c.example",
		"IMMERSIVE_DOFF_REQUIRED":      "true",
	}))
	require.NoError(t, err)

	require.Equal(t, ":9100", cfg.Addr)
	require.Equal(t, 8*time.Second, cfg.EntryTimeout)
	require.Equal(t, 7, cfg.FeedbackFrequency)
	require.Equal(t, 9500*time.Millisecond, cfg.RaceGuardTTL)
	require.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.AllowedOrigins)
	require.True(t, cfg.DoffRequired)
}

func TestDebugImpliesDebugLevel(t *testing.T) {
	t.Parallel()

	cfg, err := load(Overrides{}, envMap(map[string]string{"IMMERSIVE_DEBUG": "1"}))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)

	cfg, err = load(Overrides{}, envMap(map[string]string{
		"IMMERSIVE_DEBUG":     "true",
		"IMMERSIVE_LOG_LEVEL": "warn",
	}))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero frequency", env: map[string]string{"IMMERSIVE_FEEDBACK_FREQUENCY": "0"}},
		{name: "negative timeout", env: map[string]string{"IMMERSIVE_ENTRY_TIMEOUT": "-1s"}},
		{name: "bad duration", env: map[string]string{"IMMERSIVE_RACE_GUARD_TTL": "soon"}},
		{name: "guard shorter than entry deadline", env: map[string]string{"IMMERSIVE_RACE_GUARD_TTL": "2s"}},
		{name: "bad level", env: map[string]string{"IMMERSIVE_LOG_LEVEL": "loud"}},
		{name: "bad key", env: map[string]string{"IMMERSIVE_RUNTIME_PUBLIC_KEY": "abcd"}},
		{name: "bad min version", env: map[string]string{"IMMERSIVE_MIN_RUNTIME_VERSION": "-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(Overrides{}, envMap(tt.env))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "adress: \":1\"\n")
	_, err := load(Overrides{ConfigPath: &path}, envMap(nil))
	require.ErrorIs(t, err, ErrInvalid)

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err = load(Overrides{ConfigPath: &missing}, envMap(nil))
	require.Error(t, err)
}

func TestPublicKey(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg, err := load(Overrides{}, envMap(map[string]string{
		"IMMERSIVE_RUNTIME_PUBLIC_KEY": hex.EncodeToString(pub),
	}))
	require.NoError(t, err)
	got, err := cfg.PublicKey()
	require.NoError(t, err)
	require.Equal(t, pub, got)

	empty := Default()
	got, err = empty.PublicKey()
	require.NoError(t, err)
	require.Nil(t, got)
}
