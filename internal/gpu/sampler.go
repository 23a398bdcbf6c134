// Package gpu samples GPU memory usage for the switch engine and the status
// aggregator. The only production implementation shells out to nvidia-smi;
// the Sampler interface exists so tests can supply deterministic snapshots.
package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// SampleTimeout bounds a single nvidia-smi invocation. On expiry the caller
// treats available memory as zero, which can only make switching more
// conservative.
const SampleTimeout = 5 * time.Second

// Snapshot is one observation of device memory, in gibibytes.
type Snapshot struct {
	UsedGB      float64   `json:"used_gb"`
	TotalGB     float64   `json:"total_gb"`
	AvailableGB float64   `json:"available_gb"`
	TakenAt     time.Time `json:"-"`
}

// Sampler reports current GPU memory usage.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// NvidiaSMI samples memory through the nvidia-smi CLI, summing across all
// visible devices.
type NvidiaSMI struct {
	// Binary overrides the nvidia-smi executable path. Empty means $PATH.
	Binary string
}

// Sample runs nvidia-smi and parses its CSV memory report.
func (s *NvidiaSMI) Sample(ctx context.Context) (Snapshot, error) {
	binary := s.Binary
	if binary == "" {
		binary = "nvidia-smi"
	}

	ctx, cancel := context.WithTimeout(ctx, SampleTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary,
		"--query-gpu=memory.used,memory.total",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return Snapshot{}, fmt.Errorf("nvidia-smi failed: %w", err)
	}

	snapshot, err := parseMemoryCSV(string(out))
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.TakenAt = time.Now()

	log.Debugf("gpu sample: used=%.1fGB total=%.1fGB available=%.1fGB",
		snapshot.UsedGB, snapshot.TotalGB, snapshot.AvailableGB)
	return snapshot, nil
}

// parseMemoryCSV parses "used, total" MiB pairs, one line per device.
func parseMemoryCSV(out string) (Snapshot, error) {
	var usedMiB, totalMiB float64
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return Snapshot{}, fmt.Errorf("nvidia-smi returned no devices")
	}
	for _, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return Snapshot{}, fmt.Errorf("unexpected nvidia-smi line: %q", line)
		}
		used, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("bad memory.used value: %w", err)
		}
		total, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("bad memory.total value: %w", err)
		}
		usedMiB += used
		totalMiB += total
	}

	const mibPerGiB = 1024
	return Snapshot{
		UsedGB:      usedMiB / mibPerGiB,
		TotalGB:     totalMiB / mibPerGiB,
		AvailableGB: (totalMiB - usedMiB) / mibPerGiB,
	}, nil
}
