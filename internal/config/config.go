package config

import (
	"os"
	"time"
)

// Config is the full warden configuration loaded from YAML.
type Config struct {
	Host     string `yaml:"host,omitempty"`
	LogDir   string `yaml:"log_dir,omitempty"`
	StateDir string `yaml:"state_dir,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Training  TrainingConfig  `yaml:"training"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	GPU       GPUConfig       `yaml:"gpu"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// TelemetryConfig points at the training status file.
type TelemetryConfig struct {
	StatusFile string `yaml:"status_file"`
	StatusGlob string `yaml:"status_glob,omitempty"`
	StaleAfter string `yaml:"stale_after,omitempty"`
}

// TrainingConfig describes the priority workload.
type TrainingConfig struct {
	ProcessPattern string   `yaml:"process_pattern"`
	ProcessRequire string   `yaml:"process_require,omitempty"`
	TargetSteps    int      `yaml:"target_steps,omitempty"`
	FinalArtifacts []string `yaml:"final_artifacts,omitempty"`
}

// WatchdogConfig holds watchdog loop thresholds.
type WatchdogConfig struct {
	PollInterval      string `yaml:"poll_interval,omitempty"`
	StallAfter        string `yaml:"stall_after,omitempty"`
	StepDropThreshold int    `yaml:"step_drop_threshold,omitempty"`
}

// GPUConfig defines what counts as an idle priority-class device.
type GPUConfig struct {
	DeviceClass        string `yaml:"device_class,omitempty"`
	IdleMemoryMB       int    `yaml:"idle_memory_mb,omitempty"`
	IdleUtilizationPct int    `yaml:"idle_utilization_pct,omitempty"`
}

// ArbiterConfig holds arbitration loop settings.
type ArbiterConfig struct {
	PollInterval  string        `yaml:"poll_interval,omitempty"`
	RetryInterval string        `yaml:"retry_interval,omitempty"`
	CheckpointDir string        `yaml:"checkpoint_dir,omitempty"`
	ResultsDir    string        `yaml:"results_dir,omitempty"`
	Launch        LaunchConfig  `yaml:"launch"`
	Report        ReportConfig  `yaml:"report"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// LaunchConfig describes how to start the secondary workload.
type LaunchConfig struct {
	Bin              string `yaml:"bin,omitempty"`
	Config           string `yaml:"config"`
	ExecutionProfile string `yaml:"execution_profile,omitempty"`
}

// ReportConfig controls best-effort report generation after a run.
type ReportConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Format  string `yaml:"format,omitempty"`
}

// BreakerConfig guards against relaunching a persistently broken workload.
type BreakerConfig struct {
	Threshold  int    `yaml:"threshold,omitempty"`
	ResetAfter string `yaml:"reset_after,omitempty"`
}

// TelegramConfig configures the notification channel. An empty token
// disables notifications entirely.
type TelegramConfig struct {
	Token   string `yaml:"token,omitempty"`
	ChatID  string `yaml:"chat_id,omitempty"`
	APIBase string `yaml:"api_base,omitempty"`
}

// Default returns a config populated with documented defaults.
func Default() *Config {
	return &Config{
		LogDir:   "logs",
		StateDir: ".warden",
		LogLevel: "info",
		Telemetry: TelemetryConfig{
			StatusFile: "/var/run/mmsafe/train_status.txt",
			StatusGlob: "/var/run/mmsafe/train_status*.txt",
			StaleAfter: "10m",
		},
		Training: TrainingConfig{
			ProcessPattern: "train.py",
			ProcessRequire: "mmsafe",
		},
		Watchdog: WatchdogConfig{
			PollInterval:      "60s",
			StallAfter:        "30m",
			StepDropThreshold: 50,
		},
		GPU: GPUConfig{
			DeviceClass:        "A100",
			IdleMemoryMB:       2048,
			IdleUtilizationPct: 15,
		},
		Arbiter: ArbiterConfig{
			PollInterval:  "120s",
			RetryInterval: "30s",
			CheckpointDir: "artifacts/checkpoints",
			ResultsDir:    "artifacts",
			Launch: LaunchConfig{
				Bin:              "mmsafe",
				ExecutionProfile: "a100",
			},
			Report: ReportConfig{
				Format: "html",
			},
			Breaker: BreakerConfig{
				Threshold:  5,
				ResetAfter: "30m",
			},
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
	}
}

// Hostname returns the configured host identifier, falling back to
// os.Hostname.
func (c *Config) Hostname() string {
	if c.Host != "" {
		return c.Host
	}
	name, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return name
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetStaleAfter parses the telemetry staleness threshold.
func (c TelemetryConfig) GetStaleAfter() time.Duration {
	return parseDuration(c.StaleAfter, 10*time.Minute)
}

// GetPollInterval parses the watchdog poll interval.
func (c WatchdogConfig) GetPollInterval() time.Duration {
	return parseDuration(c.PollInterval, 60*time.Second)
}

// GetStallAfter parses the no-progress threshold.
func (c WatchdogConfig) GetStallAfter() time.Duration {
	return parseDuration(c.StallAfter, 30*time.Minute)
}

// GetPollInterval parses the arbiter poll interval.
func (c ArbiterConfig) GetPollInterval() time.Duration {
	return parseDuration(c.PollInterval, 120*time.Second)
}

// GetRetryInterval parses the post-failure retry interval. It stays
// shorter than the poll interval so a failed launch retries quickly.
func (c ArbiterConfig) GetRetryInterval() time.Duration {
	return parseDuration(c.RetryInterval, 30*time.Second)
}

// GetResetAfter parses the breaker reset window.
func (c BreakerConfig) GetResetAfter() time.Duration {
	return parseDuration(c.ResetAfter, 30*time.Minute)
}

// ReportEnabled returns whether report generation is on (default true).
func (c ReportConfig) ReportEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}
