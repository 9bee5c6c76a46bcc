package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxAttempts = 10

// KnownTests lists the probe names accepted by run.tests and --tests.
var KnownTests = []string{"radio", "latency", "tcp", "udp", "file"}

// ValidationError collects every problem found in a configuration. It is fatal
// at startup.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// attempts accepts 0 as a single attempt.
func (e *ValidationError) attempts(section string, n int) {
	if n < 0 || n > maxAttempts {
		e.add("%s.attempts must be between 0 and %d", section, maxAttempts)
	}
}

// Validate checks ranges, host syntax and enumerations. It returns nil or a
// *ValidationError.
func (c Config) Validate() error {
	v := &ValidationError{}

	if c.Run.Interval <= 0 {
		v.add("run.interval must be positive")
	}
	if c.Run.MaxMeasurements < 0 {
		v.add("run.max_measurements must not be negative")
	}
	if c.Run.Timeout <= 0 {
		v.add("run.timeout must be positive")
	}
	if c.Run.Workers < 0 {
		v.add("run.workers must not be negative")
	}
	for _, name := range c.Run.Tests {
		if !isKnownTest(name) {
			v.add("run.tests: unknown test %q (expected one of %s)", name, strings.Join(KnownTests, ", "))
		}
	}

	if c.Radio.Enabled && strings.TrimSpace(c.Radio.Interface) == "" {
		v.add("radio.interface must be set (use \"auto\" to detect)")
	}
	if c.Radio.Timeout < 0 {
		v.add("radio.timeout must not be negative")
	}
	v.attempts("radio", c.Radio.Attempts)
	v.attempts("latency", c.Latency.Attempts)
	v.attempts("throughput", c.Throughput.Attempts)
	v.attempts("file_transfer", c.FileTransfer.Attempts)

	for _, target := range c.Latency.Targets {
		if !validHost(target) {
			v.add("latency.targets: %q is not a valid IP address or hostname", target)
		}
	}
	if c.Latency.Count <= 0 {
		v.add("latency.count must be positive")
	}
	if c.Latency.Size <= 0 || c.Latency.Size > 65500 {
		v.add("latency.size must be between 1 and 65500")
	}
	if c.Latency.Interval <= 0 {
		v.add("latency.interval must be positive")
	}
	if c.Latency.Timeout < 0 {
		v.add("latency.timeout must not be negative")
	}

	if c.Throughput.Server != "" {
		if !validHost(c.Throughput.Server) {
			v.add("throughput.server: %q is not a valid IP address or hostname", c.Throughput.Server)
		}
		if c.Throughput.Port < 1 || c.Throughput.Port > 65535 {
			v.add("throughput.port must be between 1 and 65535")
		}
		if c.Throughput.Duration <= 0 {
			v.add("throughput.duration must be positive")
		}
		if c.Throughput.Parallel <= 0 {
			v.add("throughput.parallel must be positive")
		}
		if c.Throughput.UDP {
			if _, err := ParseBandwidth(c.Throughput.UDPBandwidth); err != nil {
				v.add("throughput.udp_bandwidth: %v", err)
			}
		}
		if strings.TrimSpace(c.Throughput.Binary) == "" {
			v.add("throughput.binary must be set")
		}
	}
	if c.Throughput.Timeout < 0 {
		v.add("throughput.timeout must not be negative")
	}

	if c.FileTransfer.Server != "" {
		if !validHost(c.FileTransfer.Server) {
			v.add("file_transfer.server: %q is not a valid IP address or hostname", c.FileTransfer.Server)
		}
		switch strings.ToLower(c.FileTransfer.Protocol) {
		case "http", "https", "ftp", "smb":
		default:
			v.add("file_transfer.protocol must be one of http, https, ftp, smb")
		}
		switch strings.ToLower(c.FileTransfer.Direction) {
		case "download", "upload":
		default:
			v.add("file_transfer.direction must be download or upload")
		}
		if size, err := c.TransferSizeBytes(); err != nil {
			v.add("file_transfer.size: %v", err)
		} else if size <= 0 {
			v.add("file_transfer.size must be positive")
		}
		if strings.EqualFold(c.FileTransfer.Protocol, "smb") && strings.TrimSpace(c.FileTransfer.Share) == "" {
			v.add("file_transfer.share is required for smb")
		}
		if c.FileTransfer.SampleInterval <= 0 {
			v.add("file_transfer.sample_interval must be positive")
		}
	}
	if c.FileTransfer.Timeout < 0 {
		v.add("file_transfer.timeout must not be negative")
	}

	if strings.TrimSpace(c.Output.File) == "" {
		v.add("output.file must be set")
	}
	if c.Output.Uplink.URL != "" {
		if u, err := url.Parse(c.Output.Uplink.URL); err != nil || u.Scheme == "" || u.Host == "" {
			v.add("output.uplink.url: %q is not an absolute URL", c.Output.Uplink.URL)
		}
		if _, err := ParseSize(c.Output.Uplink.SpoolMaxBytes, 0); err != nil {
			v.add("output.uplink.spool_max_bytes: %v", err)
		}
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		v.add("logging.level: %v", err)
	}

	if c.Status.Enabled {
		if _, _, err := net.SplitHostPort(c.Status.Addr); err != nil {
			v.add("status.addr: %v", err)
		}
	}

	if len(v.Problems) == 0 {
		return nil
	}
	return v
}

func isKnownTest(name string) bool {
	for _, known := range KnownTests {
		if strings.EqualFold(strings.TrimSpace(name), known) {
			return true
		}
	}
	return false
}

func validHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isAlnum && r != '-' {
				return false
			}
		}
	}
	return true
}
