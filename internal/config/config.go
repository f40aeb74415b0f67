// Package config loads the typed kiosk configuration from YAML with
// environment-variable overrides for secrets, mirroring how cmd/server
// read config/default.yaml in the teacher repo.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Proximity struct {
	ThresholdMM uint16 `yaml:"threshold_mm"`
	DebounceMs  uint   `yaml:"debounce_ms"`
	PollHz      uint   `yaml:"poll_hz"`
}

type Camera struct {
	Backend           string  `yaml:"backend"` // registered adapters.Backend name; "" falls back to "mock"
	DistanceMinM      float64 `yaml:"distance_min_m"`
	DistanceMaxM      float64 `yaml:"distance_max_m"`
	DepthVarianceMinM float64 `yaml:"depth_variance_min_m"`
	MinValidPoints    int     `yaml:"min_valid_points"`
	PreviewFrameSkip  int     `yaml:"preview_frame_skip"`
	ResolutionW       int     `yaml:"resolution_w"`
	ResolutionH       int     `yaml:"resolution_h"`
	FPS               int     `yaml:"fps"`
}

type Validation struct {
	DurationS         float64 `yaml:"duration_s"`
	MinPassingFrames  int     `yaml:"min_passing_frames"`
	WarmupColdMs      uint    `yaml:"warmup_cold_ms"`
	WarmupWarmMs      uint    `yaml:"warmup_warm_ms"`
	StabilityWeight   float64 `yaml:"stability_weight"`
	FocusWeight       float64 `yaml:"focus_weight"`
	FocusNormThreshold float64 `yaml:"focus_norm_threshold"`
}

type Processing struct {
	MinDisplayS float64 `yaml:"min_display_s"`
	MaxWaitS    float64 `yaml:"max_wait_s"`
}

type Bridge struct {
	BackendURL    string `yaml:"backend_url"`
	WSURL         string `yaml:"ws_url"`
	APIKey        string `yaml:"api_key"`
	HTTPTimeoutS  uint   `yaml:"http_timeout_s"`
}

type Storage struct {
	CapturesDir string `yaml:"captures_dir"`
	RedisAddr   string `yaml:"redis_addr"`
	DatabaseURL string `yaml:"database_url"`
	NatsURL     string `yaml:"nats_url"`
}

// Config is the root, typed configuration for the kiosk supervisor.
// The proximity, camera, validation, processing, display-time and
// bridge fields follow the option list in spec.md section 6;
// Camera.Backend, Storage and AdminAddr are additions for deployment.
type Config struct {
	Proximity    Proximity  `yaml:"proximity"`
	Camera       Camera     `yaml:"camera"`
	Validation   Validation `yaml:"validation"`
	Processing   Processing `yaml:"processing"`
	CompleteS    float64    `yaml:"complete_display_s"`
	ErrorS       float64    `yaml:"error_display_s"`
	Bridge       Bridge     `yaml:"bridge"`
	Storage      Storage    `yaml:"storage"`
	AdminAddr    string     `yaml:"admin_addr"`
}

func Defaults() Config {
	return Config{
		Proximity: Proximity{ThresholdMM: 500, DebounceMs: 1500, PollHz: 10},
		Camera: Camera{
			Backend:      "mock",
			DistanceMinM: 0.25, DistanceMaxM: 1.20, DepthVarianceMinM: 0.015,
			MinValidPoints: 100, PreviewFrameSkip: 4,
			ResolutionW: 640, ResolutionH: 480, FPS: 30,
		},
		Validation: Validation{
			DurationS: 3.5, MinPassingFrames: 10,
			WarmupColdMs: 2000, WarmupWarmMs: 500,
			StabilityWeight: 0.7, FocusWeight: 0.3, FocusNormThreshold: 800,
		},
		Processing: Processing{MinDisplayS: 3.0, MaxWaitS: 15.0},
		CompleteS:  3.0,
		ErrorS:     3.0,
		Bridge:     Bridge{HTTPTimeoutS: 15},
		Storage:    Storage{CapturesDir: "captures"},
		AdminAddr:  ":8088",
	}
}

// Load reads a YAML file over the defaults, then applies env overrides
// for values operators should not be committing to disk.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_API_KEY"); v != "" {
		cfg.Bridge.APIKey = v
	}
	if v := os.Getenv("BRIDGE_BACKEND_URL"); v != "" {
		cfg.Bridge.BackendURL = v
	}
	if v := os.Getenv("BRIDGE_WS_URL"); v != "" {
		cfg.Bridge.WSURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Storage.NatsURL = v
	}
	if v := os.Getenv("CAPTURES_DIR"); v != "" {
		cfg.Storage.CapturesDir = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
}

// Validate enforces the ConfigError-is-fatal-at-startup rule (spec section 7).
func (c Config) Validate() error {
	if c.Bridge.BackendURL == "" {
		return fmt.Errorf("config: bridge.backend_url is required")
	}
	if c.Bridge.WSURL == "" {
		return fmt.Errorf("config: bridge.ws_url is required")
	}
	if c.Camera.DistanceMinM <= 0 || c.Camera.DistanceMaxM <= c.Camera.DistanceMinM {
		return fmt.Errorf("config: camera.distance_min_m/distance_max_m out of range")
	}
	if c.Validation.MinPassingFrames <= 0 {
		return fmt.Errorf("config: validation.min_passing_frames must be positive")
	}
	if c.Proximity.PollHz == 0 {
		return fmt.Errorf("config: proximity.poll_hz must be positive")
	}
	return nil
}

func (p Proximity) PollInterval() time.Duration {
	return time.Second / time.Duration(p.PollHz)
}

func (p Proximity) DebounceDuration() time.Duration {
	return time.Duration(p.DebounceMs) * time.Millisecond
}

func (v Validation) Duration() time.Duration {
	return time.Duration(v.DurationS * float64(time.Second))
}

func (v Validation) WarmupCold() time.Duration {
	return time.Duration(v.WarmupColdMs) * time.Millisecond
}

func (v Validation) WarmupWarm() time.Duration {
	return time.Duration(v.WarmupWarmMs) * time.Millisecond
}

func (p Processing) MinDisplay() time.Duration {
	return time.Duration(p.MinDisplayS * float64(time.Second))
}

func (p Processing) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitS * float64(time.Second))
}
