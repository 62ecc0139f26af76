package tuning

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"voxelcast.ai/internal/render"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Render Render `yaml:"render"`
	Pools  Pools  `yaml:"pools"`
	World  World  `yaml:"world"`
}

type Render struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
	MaxFPS    int `yaml:"max_fps"`

	SpeedMode bool     `yaml:"speed_mode"`
	SpeedTags []string `yaml:"speed_tags"`
	Deny      []string `yaml:"deny"`

	BatchSize         int `yaml:"batch_size"`
	BatchDelayMs      int `yaml:"batch_delay_ms"`
	PollIntervalMs    int `yaml:"poll_interval_ms"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
	MaxDownloadMB     int `yaml:"max_download_mb"`
}

type Pools struct {
	IOWorkers  int `yaml:"io_workers"`
	CPUWorkers int `yaml:"cpu_workers"`
}

type World struct {
	TickRateHz int `yaml:"tick_rate_hz"`
	BoundaryR  int `yaml:"boundary_r"`
	Height     int `yaml:"height"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Render: Render{
			MaxWidth:          render.DefaultMaxWidth,
			MaxHeight:         render.DefaultMaxHeight,
			MaxFPS:            render.DefaultMaxFPS,
			SpeedMode:         true,
			SpeedTags:         []string{"wool", "concrete", "terracotta"},
			Deny:              []string{"GLASS", "BARRIER", "POWDER", "SAND", "GRAVEL", "REDSTONE_LAMP", "SHULKER", "GLAZED"},
			BatchSize:         1000,
			BatchDelayMs:      1,
			PollIntervalMs:    1000,
			ShutdownTimeoutMs: 5000,
			MaxDownloadMB:     512,
		},
		Pools: Pools{IOWorkers: 2},
		World: World{TickRateHz: 20, BoundaryR: 4096, Height: 320},
	}
}

// Load reads path over Defaults. A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if err := t.Limits().Validate(); err != nil {
		return err
	}
	switch {
	case t.Render.BatchSize <= 0:
		return render.Configf("tuning", "batch_size must be positive")
	case t.Render.BatchDelayMs < 0, t.Render.PollIntervalMs < 0, t.Render.ShutdownTimeoutMs < 0:
		return render.Configf("tuning", "durations must not be negative")
	case t.Pools.IOWorkers < 0, t.Pools.CPUWorkers < 0:
		return render.Configf("tuning", "pool sizes must not be negative")
	case t.World.TickRateHz <= 0:
		return render.Configf("tuning", "tick_rate_hz must be positive")
	case t.World.Height <= 0:
		return render.Configf("tuning", "world height must be positive")
	}
	return nil
}

func (t Tuning) Limits() render.Limits {
	return render.Limits{MaxWidth: t.Render.MaxWidth, MaxHeight: t.Render.MaxHeight, MaxFPS: t.Render.MaxFPS}
}

func (t Tuning) BatchDelay() time.Duration {
	return time.Duration(t.Render.BatchDelayMs) * time.Millisecond
}

func (t Tuning) PollInterval() time.Duration {
	return time.Duration(t.Render.PollIntervalMs) * time.Millisecond
}

func (t Tuning) ShutdownTimeout() time.Duration {
	return time.Duration(t.Render.ShutdownTimeoutMs) * time.Millisecond
}

func (t Tuning) MaxDownloadBytes() int64 {
	return int64(t.Render.MaxDownloadMB) << 20
}

// CPUWorkers resolves 0 to the number of CPUs.
func (t Tuning) CPUWorkers() int {
	if t.Pools.CPUWorkers > 0 {
		return t.Pools.CPUWorkers
	}
	return runtime.NumCPU()
}

func (t Tuning) IOWorkers() int {
	if t.Pools.IOWorkers > 0 {
		return t.Pools.IOWorkers
	}
	return 2
}
