package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "WLAN_SCANNER_CONFIG"
	DefaultConfigPath = "/etc/wlan-scanner/config.yaml"
)

type Config struct {
	Run          RunConfig          `yaml:"run" toml:"run"`
	Context      ContextConfig      `yaml:"context" toml:"context"`
	Radio        RadioConfig        `yaml:"radio" toml:"radio"`
	Latency      LatencyConfig      `yaml:"latency" toml:"latency"`
	Throughput   ThroughputConfig   `yaml:"throughput" toml:"throughput"`
	FileTransfer FileTransferConfig `yaml:"file_transfer" toml:"file_transfer"`
	Output       OutputConfig       `yaml:"output" toml:"output"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Status       StatusConfig       `yaml:"status" toml:"status"`
}

type RunConfig struct {
	Interval        time.Duration `yaml:"interval" toml:"interval"`
	MaxMeasurements int           `yaml:"max_measurements" toml:"max_measurements"`
	Continuous      bool          `yaml:"continuous" toml:"continuous"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"`
	Tests           []string      `yaml:"tests" toml:"tests"`
	Workers         int           `yaml:"workers" toml:"workers"`
}

type ContextConfig struct {
	Device   string `yaml:"device" toml:"device"`
	Location string `yaml:"location" toml:"location"`
	Route    string `yaml:"route" toml:"route"`
}

type RadioConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Interface string        `yaml:"interface" toml:"interface"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	Attempts  int           `yaml:"attempts" toml:"attempts"`
}

type LatencyConfig struct {
	Targets  []string      `yaml:"targets" toml:"targets"`
	Count    int           `yaml:"count" toml:"count"`
	Size     int           `yaml:"size" toml:"size"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
	Attempts int           `yaml:"attempts" toml:"attempts"`
}

type ThroughputConfig struct {
	Server       string        `yaml:"server" toml:"server"`
	Port         int           `yaml:"port" toml:"port"`
	Duration     time.Duration `yaml:"duration" toml:"duration"`
	Parallel     int           `yaml:"parallel" toml:"parallel"`
	UDPBandwidth string        `yaml:"udp_bandwidth" toml:"udp_bandwidth"`
	TCP          bool          `yaml:"tcp" toml:"tcp"`
	UDP          bool          `yaml:"udp" toml:"udp"`
	Binary       string        `yaml:"binary" toml:"binary"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`
	Attempts     int           `yaml:"attempts" toml:"attempts"`
}

type FileTransferConfig struct {
	Server             string        `yaml:"server" toml:"server"`
	Protocol           string        `yaml:"protocol" toml:"protocol"`
	Direction          string        `yaml:"direction" toml:"direction"`
	Size               string        `yaml:"size" toml:"size"`
	RemotePath         string        `yaml:"remote_path" toml:"remote_path"`
	Share              string        `yaml:"share" toml:"share"`
	Username           string        `yaml:"username" toml:"username"`
	Password           string        `yaml:"password" toml:"password"`
	SampleInterval     time.Duration `yaml:"sample_interval" toml:"sample_interval"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout" toml:"timeout"`
	Attempts           int           `yaml:"attempts" toml:"attempts"`
}

type OutputConfig struct {
	Directory   string       `yaml:"directory" toml:"directory"`
	File        string       `yaml:"file" toml:"file"`
	SQLitePath  string       `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresURL string       `yaml:"postgres_url" toml:"postgres_url"`
	Uplink      UplinkConfig `yaml:"uplink" toml:"uplink"`
}

type UplinkConfig struct {
	URL           string  `yaml:"url" toml:"url"`
	SpoolDir      string  `yaml:"spool_dir" toml:"spool_dir"`
	SpoolMaxBytes string  `yaml:"spool_max_bytes" toml:"spool_max_bytes"`
	BatchSize     int     `yaml:"batch_size" toml:"batch_size"`
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type StatusConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	Addr       string        `yaml:"addr" toml:"addr"`
	StaleAfter time.Duration `yaml:"stale_after" toml:"stale_after"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		Run: RunConfig{
			Interval:        60 * time.Second,
			MaxMeasurements: 0,
			Continuous:      false,
			Timeout:         10 * time.Second,
			Workers:         2,
		},
		Radio: RadioConfig{
			Enabled:   true,
			Interface: "auto",
			Attempts:  2,
		},
		Latency: LatencyConfig{
			Targets:  []string{"192.168.1.1"},
			Count:    10,
			Size:     32,
			Interval: time.Second,
			Attempts: 1,
		},
		Throughput: ThroughputConfig{
			Port:         5201,
			Duration:     10 * time.Second,
			Parallel:     1,
			UDPBandwidth: "10M",
			TCP:          true,
			UDP:          true,
			Binary:       "iperf3",
			Attempts:     1,
		},
		FileTransfer: FileTransferConfig{
			Protocol:       "http",
			Direction:      "download",
			Size:           "100MB",
			SampleInterval: 250 * time.Millisecond,
			Attempts:       1,
		},
		Output: OutputConfig{
			Directory: "data",
			File:      "wlan_measurements.csv",
			Uplink: UplinkConfig{
				SpoolMaxBytes: "256MiB",
				BatchSize:     64,
				RatePerSecond: 20,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:9320",
		},
	}
}

// Load decodes the file at path over the defaults. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path is the
// default location and no file exists there.
func LoadOrDefault(ctx context.Context, path string) (Config, error) {
	cfg, err := Load(ctx, path)
	if err != nil && path == DefaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ResolvePath picks the explicit path, then the environment override, then the default.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	return LoadOrDefault(ctx, ResolvePath(""))
}

// OutputPath is the CSV file records are appended to.
func (c Config) OutputPath() string {
	return filepath.Join(c.Output.Directory, c.Output.File)
}

// TransferSizeBytes parses the configured file transfer payload size.
func (c Config) TransferSizeBytes() (int64, error) {
	return ParseSize(c.FileTransfer.Size, 100*1000*1000)
}
