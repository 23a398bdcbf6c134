package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vramgate/vramgate/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		GPUMemoryUtilization: 0.85,
		Models: []config.ModelConfig{
			{ID: "qwen2.5-coder-32b", BackendURL: "http://127.0.0.1:8002/", Container: "vllm-qwen", WeightsGB: 64, LoadSeconds: 180},
			{ID: "llama-3.1-8b-instruct", BackendURL: "http://127.0.0.1:8001", Container: "vllm-llama", WeightsGB: 16, LoadSeconds: 60},
		},
	}
}

func TestNew(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	spec, ok := r.Get("llama-3.1-8b-instruct")
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:8001", spec.BackendBaseURL)
	require.Equal(t, "vllm-llama", spec.ContainerHandle)
	require.InDelta(t, 16*0.85, spec.VRAMEstimateGB, 1e-9)

	// Trailing slash on the backend URL is normalized away.
	qwen, ok := r.Get("qwen2.5-coder-32b")
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:8002", qwen.BackendBaseURL)

	_, ok = r.Get("unknown")
	require.False(t, ok)
}

func TestStableOrder(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	require.Equal(t, []string{"llama-3.1-8b-instruct", "qwen2.5-coder-32b"}, r.IDs())
	require.Len(t, r.List(), 2)
	require.Equal(t, "llama-3.1-8b-instruct", r.List()[0].ID)
	require.Positive(t, r.Created())
}

func TestDuplicateID(t *testing.T) {
	cfg := testConfig()
	cfg.Models[1].ID = cfg.Models[0].ID
	_, err := New(cfg)
	require.Error(t, err)
}
