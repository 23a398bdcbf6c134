package container

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/require"
)

func TestClassifyState(t *testing.T) {
	cases := []struct {
		name       string
		state      *types.ContainerState
		want       Lifecycle
		wantReason string
	}{
		{"running", &types.ContainerState{Status: "running"}, Running, ""},
		{"created", &types.ContainerState{Status: "created"}, Starting, ""},
		{"restarting", &types.ContainerState{Status: "restarting"}, Starting, ""},
		{"clean exit", &types.ContainerState{Status: "exited", ExitCode: 0}, Exited, ""},
		{"oom kill", &types.ContainerState{Status: "exited", ExitCode: 137}, Failed, "exit code 137"},
		{
			"exit with error",
			&types.ContainerState{Status: "exited", ExitCode: 1, Error: "no such file"},
			Failed, "exit code 1: no such file",
		},
		{"dead", &types.ContainerState{Status: "dead", Error: "driver error"}, Failed, "driver error"},
		{"unknown status", &types.ContainerState{Status: "paused"}, Starting, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inspection := classifyState(tc.state)
			require.Equal(t, tc.want, inspection.State)
			require.Equal(t, tc.wantReason, inspection.ExitReason)
		})
	}
}

func TestClassifyState_StartedAt(t *testing.T) {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	inspection := classifyState(&types.ContainerState{
		Status:    "running",
		StartedAt: started.Format(time.RFC3339Nano),
	})
	require.True(t, inspection.StartedAt.Equal(started))

	// Docker reports a zero timestamp for never-started containers.
	inspection = classifyState(&types.ContainerState{Status: "created", StartedAt: "0001-01-01T00:00:00Z"})
	require.True(t, inspection.StartedAt.IsZero() || inspection.StartedAt.Year() == 1)
}
