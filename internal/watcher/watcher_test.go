package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vramgate/vramgate/internal/config"
)

func configYAML(apiKey string) string {
	return `
api-key: "` + apiKey + `"
models:
  - id: "llama"
    backend-url: "http://127.0.0.1:8001"
    container: "vllm-llama"
    weights-gb: 16
`
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML("sk-0123456789abcdef0123456789abcdef")), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	reloaded := make(chan *config.Config, 1)
	w, err := NewWatcher(path, cfg, func(newCfg *config.Config) {
		reloaded <- newCfg
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() {
		_ = w.Stop()
	}()

	require.NoError(t, os.WriteFile(path, []byte(configYAML("sk-ffffffffffffffffffffffffffffffff")), 0o644))

	select {
	case newCfg := <-reloaded:
		require.Equal(t, "sk-ffffffffffffffffffffffffffffffff", newCfg.APIKey)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload callback never fired")
	}
}

func TestWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML("sk-0123456789abcdef0123456789abcdef")), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	reloaded := make(chan *config.Config, 1)
	w, err := NewWatcher(path, cfg, func(newCfg *config.Config) {
		reloaded <- newCfg
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() {
		_ = w.Stop()
	}()

	// A key that fails validation must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte(configYAML("not-a-key")), 0o644))

	select {
	case <-reloaded:
		t.Fatal("callback fired for invalid config")
	case <-time.After(500 * time.Millisecond):
	}
}
