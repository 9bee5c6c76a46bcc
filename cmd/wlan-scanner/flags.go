package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/config"
)

// overrides holds the command-line flags that replace configuration values.
// Only flags given explicitly are applied.
type overrides struct {
	configPath   string
	configPubKey string

	tests           string
	interval        time.Duration
	maxMeasurements int
	continuous      bool
	timeout         time.Duration

	device   string
	location string
	route    string

	iface        string
	targets      string
	pingCount    int
	pingSize     int
	pingInterval time.Duration

	iperfServer   string
	iperfPort     int
	iperfDuration time.Duration
	iperfParallel int
	udpBandwidth  string

	outputDir  string
	statusAddr string

	logLevel string
	logFile  string
	verbose  bool
	quiet    bool
}

func registerFlags(fs *flag.FlagSet) *overrides {
	o := &overrides{}
	fs.StringVar(&o.configPath, "config", "", "Path to configuration file (default $WLAN_SCANNER_CONFIG or "+config.DefaultConfigPath+")")
	fs.StringVar(&o.configPubKey, "config-pubkey", "", "Minisign public key file; the config must carry a valid .minisig signature")

	fs.StringVar(&o.tests, "tests", "", "Comma-separated probes to run (radio,latency,tcp,udp,file)")
	fs.DurationVar(&o.interval, "interval", 0, "Time between cycle starts in continuous mode")
	fs.IntVar(&o.maxMeasurements, "max-measurements", 0, "Stop after this many cycles (0 = unlimited)")
	fs.BoolVar(&o.continuous, "continuous", false, "Run cycles until interrupted or the limit is reached")
	fs.DurationVar(&o.timeout, "timeout", 0, "Per-request timeout for probes")

	fs.StringVar(&o.device, "device", "", "Device name recorded with each measurement")
	fs.StringVar(&o.location, "location", "", "Location label recorded with each measurement")
	fs.StringVar(&o.route, "route", "", "Route label recorded with each measurement")

	fs.StringVar(&o.iface, "interface", "", "Wireless interface (auto picks the first one)")
	fs.StringVar(&o.targets, "targets", "", "Comma-separated latency targets")
	fs.IntVar(&o.pingCount, "ping-count", 0, "Echo requests per target")
	fs.IntVar(&o.pingSize, "ping-size", 0, "Echo payload size in bytes")
	fs.DurationVar(&o.pingInterval, "ping-interval", 0, "Spacing between echo requests")

	fs.StringVar(&o.iperfServer, "iperf-server", "", "iperf3 server address")
	fs.IntVar(&o.iperfPort, "iperf-port", 0, "iperf3 server port")
	fs.DurationVar(&o.iperfDuration, "iperf-duration", 0, "iperf3 test duration")
	fs.IntVar(&o.iperfParallel, "iperf-parallel", 0, "iperf3 parallel streams")
	fs.StringVar(&o.udpBandwidth, "udp-bandwidth", "", "iperf3 UDP target bandwidth (e.g. 10M)")

	fs.StringVar(&o.outputDir, "output-dir", "", "Directory for the results CSV")
	fs.StringVar(&o.statusAddr, "status-addr", "", "Enable the status server on this address")

	fs.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&o.logFile, "log-file", "", "Also write logs to this rotated file")
	fs.BoolVar(&o.verbose, "verbose", false, "Shorthand for --log-level debug")
	fs.BoolVar(&o.quiet, "quiet", false, "Shorthand for --log-level warn")
	return o
}

// apply copies every explicitly set flag into cfg.
func (o *overrides) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tests":
			cfg.Run.Tests = splitList(o.tests)
		case "interval":
			cfg.Run.Interval = o.interval
		case "max-measurements":
			cfg.Run.MaxMeasurements = o.maxMeasurements
		case "continuous":
			cfg.Run.Continuous = o.continuous
		case "timeout":
			cfg.Run.Timeout = o.timeout
		case "device":
			cfg.Context.Device = o.device
		case "location":
			cfg.Context.Location = o.location
		case "route":
			cfg.Context.Route = o.route
		case "interface":
			cfg.Radio.Interface = o.iface
		case "targets":
			cfg.Latency.Targets = splitList(o.targets)
		case "ping-count":
			cfg.Latency.Count = o.pingCount
		case "ping-size":
			cfg.Latency.Size = o.pingSize
		case "ping-interval":
			cfg.Latency.Interval = o.pingInterval
		case "iperf-server":
			cfg.Throughput.Server = o.iperfServer
		case "iperf-port":
			cfg.Throughput.Port = o.iperfPort
		case "iperf-duration":
			cfg.Throughput.Duration = o.iperfDuration
		case "iperf-parallel":
			cfg.Throughput.Parallel = o.iperfParallel
		case "udp-bandwidth":
			cfg.Throughput.UDPBandwidth = o.udpBandwidth
		case "output-dir":
			cfg.Output.Directory = o.outputDir
		case "status-addr":
			cfg.Status.Enabled = o.statusAddr != ""
			cfg.Status.Addr = o.statusAddr
		case "log-level":
			cfg.Logging.Level = o.logLevel
		case "log-file":
			cfg.Logging.File = o.logFile
		}
	})
	// --verbose and --quiet win over any level.
	if o.verbose {
		cfg.Logging.Level = "debug"
	} else if o.quiet {
		cfg.Logging.Level = "warn"
	}
}

// loadConfig resolves, verifies, loads and overrides the configuration, then
// validates the result. It returns the resolved path alongside.
func loadConfig(ctx context.Context, fs *flag.FlagSet, o *overrides) (config.Config, string, error) {
	path := config.ResolvePath(o.configPath)
	if o.configPubKey != "" {
		verifier, err := config.NewVerifierFromFile(o.configPubKey)
		if err != nil {
			return config.Config{}, path, err
		}
		if err := verifier.VerifyFile(ctx, path); err != nil {
			return config.Config{}, path, fmt.Errorf("verify config signature: %w", err)
		}
	}

	cfg, err := config.LoadOrDefault(ctx, path)
	if err != nil {
		return cfg, path, fmt.Errorf("load config: %w", err)
	}
	o.apply(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
