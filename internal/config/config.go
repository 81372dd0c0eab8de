// Package config loads the YAML configuration file and supplies
// defaults for every tunable the subsystems expose.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree. Zero values in the file fall
// back to the corresponding Default() value after Load.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Entropy   EntropyConfig   `yaml:"entropy"`
	Collector CollectorConfig `yaml:"collector"`
	Biometric BiometricConfig `yaml:"biometric"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EntropyConfig struct {
	// Quantum endpoint.
	EndpointURL string        `yaml:"endpoint_url"`
	MaxChunk    int           `yaml:"max_chunk"`
	Timeout     time.Duration `yaml:"timeout"`

	// Spectral extractor.
	SamplesPerCycle  int           `yaml:"samples_per_cycle"`
	MaxCycles        int           `yaml:"max_cycles"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Backoff          time.Duration `yaml:"backoff"`

	// RTL-SDR dongle feeding the spectral extractor. Off by default;
	// the chain starts at the quantum endpoint unless a dongle is
	// attached and enabled here.
	SDREnabled   bool `yaml:"sdr_enabled"`
	DeviceIndex  int  `yaml:"device_index"`
	CenterFreqHz int  `yaml:"center_freq_hz"`
	SampleRateHz int  `yaml:"sample_rate_hz"`
}

type CollectorConfig struct {
	Capacity int           `yaml:"capacity"`
	Cadence  time.Duration `yaml:"cadence"`
}

type BiometricConfig struct {
	NormalizationMs float64       `yaml:"normalization_ms"`
	MaxRetries      int           `yaml:"max_retries"`
	FlakyMaxRetries int           `yaml:"flaky_max_retries"`
	FlakyPatterns   []string      `yaml:"flaky_patterns"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ScanTimeout     time.Duration `yaml:"scan_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "mindfield.db",
		},
		Entropy: EntropyConfig{
			EndpointURL:      "https://qrng.anu.edu.au/API/jsonI.php",
			MaxChunk:         1024,
			Timeout:          5 * time.Second,
			SamplesPerCycle:  65536,
			MaxCycles:        16,
			FailureThreshold: 3,
			Backoff:          30 * time.Second,
			CenterFreqHz:     100_000_000,
			SampleRateHz:     2_048_000,
		},
		Collector: CollectorConfig{
			Capacity: 100_000,
			Cadence:  10 * time.Millisecond,
		},
		Biometric: BiometricConfig{
			NormalizationMs: 50,
			MaxRetries:      3,
			FlakyMaxRetries: 6,
			FlakyPatterns:   []string{"H808S", "TICKR"},
			RetryDelay:      2 * time.Second,
			ScanTimeout:     10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged; a present but unreadable or invalid file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return cfg, nil
}

// applyDefaults backfills zero values so a sparse file only overrides
// what it names.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.Entropy.EndpointURL == "" {
		cfg.Entropy.EndpointURL = def.Entropy.EndpointURL
	}
	if cfg.Entropy.MaxChunk <= 0 {
		cfg.Entropy.MaxChunk = def.Entropy.MaxChunk
	}
	if cfg.Entropy.Timeout <= 0 {
		cfg.Entropy.Timeout = def.Entropy.Timeout
	}
	if cfg.Entropy.SamplesPerCycle <= 0 {
		cfg.Entropy.SamplesPerCycle = def.Entropy.SamplesPerCycle
	}
	if cfg.Entropy.MaxCycles <= 0 {
		cfg.Entropy.MaxCycles = def.Entropy.MaxCycles
	}
	if cfg.Entropy.FailureThreshold <= 0 {
		cfg.Entropy.FailureThreshold = def.Entropy.FailureThreshold
	}
	if cfg.Entropy.Backoff <= 0 {
		cfg.Entropy.Backoff = def.Entropy.Backoff
	}
	if cfg.Entropy.CenterFreqHz <= 0 {
		cfg.Entropy.CenterFreqHz = def.Entropy.CenterFreqHz
	}
	if cfg.Entropy.SampleRateHz <= 0 {
		cfg.Entropy.SampleRateHz = def.Entropy.SampleRateHz
	}
	if cfg.Collector.Capacity <= 0 {
		cfg.Collector.Capacity = def.Collector.Capacity
	}
	if cfg.Collector.Cadence <= 0 {
		cfg.Collector.Cadence = def.Collector.Cadence
	}
	if cfg.Biometric.NormalizationMs <= 0 {
		cfg.Biometric.NormalizationMs = def.Biometric.NormalizationMs
	}
	if cfg.Biometric.MaxRetries <= 0 {
		cfg.Biometric.MaxRetries = def.Biometric.MaxRetries
	}
	if cfg.Biometric.FlakyMaxRetries <= 0 {
		cfg.Biometric.FlakyMaxRetries = def.Biometric.FlakyMaxRetries
	}
	if len(cfg.Biometric.FlakyPatterns) == 0 {
		cfg.Biometric.FlakyPatterns = def.Biometric.FlakyPatterns
	}
	if cfg.Biometric.RetryDelay <= 0 {
		cfg.Biometric.RetryDelay = def.Biometric.RetryDelay
	}
	if cfg.Biometric.ScanTimeout <= 0 {
		cfg.Biometric.ScanTimeout = def.Biometric.ScanTimeout
	}
}
