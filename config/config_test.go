package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "FITRELAY_") {
			old, had := os.LookupEnv(name)
			require.NoError(t, os.Unsetenv(name))
			if had {
				t.Cleanup(func() { _ = os.Setenv(name, old) })
			}
		}
	}
}

func TestNewFillsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:3402", cfg.ListenAddress)
	require.Equal(t, 256, cfg.MaxOutboundQueue)
	require.Equal(t, 100, cfg.DefaultQueryLimit)
	require.Equal(t, 1000, cfg.MaxQueryLimit)
	require.NotEmpty(t, cfg.DataDir)
}

func TestNewReadsOverrides(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("FITRELAY_LISTEN_ADDRESS", "127.0.0.1:9999"))
	t.Cleanup(func() { _ = os.Unsetenv("FITRELAY_LISTEN_ADDRESS") })

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.ListenAddress)
}
