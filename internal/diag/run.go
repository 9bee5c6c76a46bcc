// Package diag collects a support bundle (configuration, logs, CSV tail,
// spool summary, metrics scrape, wireless state) into a tar.gz file.
package diag

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/config"
	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

const (
	defaultOutputPrefix = "diag_"
	infoFileName        = "diagnostics/info.json"
	configDirName       = "config"
	logsDirName         = "logs"
	outputDirName       = "output"
	spoolDirName        = "spool"
	observabilityDir    = "observability"
	systemDirName       = "system"
	redactedMarker      = "REDACTED"
)

var (
	passwordPattern = regexp.MustCompile(`(?im)^(\s*password\s*[:=]\s*)(.+)$`)
	urlUserPattern  = regexp.MustCompile(`(://[^:/\s"']+:)([^@\s"']+)(@)`)
	tokenPattern    = regexp.MustCompile(`(?i)(token=)([^&\s"']+)`)
	bearerPattern   = regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)([A-Za-z0-9\._\-]+)`)
)

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	HTTPClient *http.Client
	RunCommand probe.CommandRunner
	GOOS       string
}

// Run executes the diagnostics workflow, producing a tar.gz bundle.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RunCommand == nil {
		deps.RunCommand = probe.ExecRunner
	}
	if deps.GOOS == "" {
		deps.GOOS = runtime.GOOS
	}

	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to scanner configuration file")
	outputPath := fs.String("output", "", "Path for diagnostics tarball (default <output.directory>/diag_<ts>.tar.gz)")
	tailRows := fs.Int("csv-rows", 50, "Number of trailing CSV rows to include")
	includeSpool := fs.Bool("include-spool", false, "Include raw uplink spool segments")
	includeMetrics := fs.Bool("include-metrics", true, "Include a metrics scrape from the status server")
	metricsURL := fs.String("metrics-url", "", "Metrics endpoint URL (default http://<status.addr>/metrics)")
	metricsTimeout := fs.Duration("metrics-timeout", 3*time.Second, "HTTP timeout when scraping metrics")
	redact := fs.Bool("redact", true, "Redact passwords and tokens in config and log files")

	if err := fs.Parse(args); err != nil {
		return err
	}

	now := deps.Now().UTC()
	info := bundleInfo{
		GeneratedAt: now.Format(time.RFC3339),
		Warnings:    make([]string, 0, 4),
		GoVersion:   runtime.Version(),
		Redacted:    *redact,
	}

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadOrDefault(ctx, path)
	if err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("config unavailable (%s): %v", path, err))
		cfg = config.Default()
	} else {
		info.ConfigPath = path
	}
	info.Device = cfg.Context.Device
	if verr := cfg.Validate(); verr != nil {
		info.Warnings = append(info.Warnings, verr.Error())
	}

	outPath := *outputPath
	if outPath == "" {
		filename := fmt.Sprintf("%s%s.tar.gz", defaultOutputPrefix, now.Format("20060102T150405Z"))
		outPath = filepath.Join(cfg.Output.Directory, filename)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure output directory %q: %w", filepath.Dir(outPath), err)
	}
	info.OutputPath = outPath

	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create diagnostics file %q: %w", outPath, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	warn := func(format string, args ...any) {
		info.Warnings = append(info.Warnings, fmt.Sprintf(format, args...))
	}

	if info.ConfigPath != "" {
		name := filepath.ToSlash(filepath.Join(configDirName, filepath.Base(path)))
		if err := addRedactedFile(tw, path, name, *redact); err != nil {
			warn("failed to include config %q: %v", path, err)
		}
	}

	if cfg.Logging.File != "" {
		if err := addLogs(tw, cfg.Logging.File, *redact); err != nil {
			warn("failed to include logs %q: %v", cfg.Logging.File, err)
		}
	}

	csvPath := cfg.OutputPath()
	if summary, data, err := tailCSV(csvPath, *tailRows); err == nil {
		info.Output = summary
		if err := addBytes(tw, data, filepath.ToSlash(filepath.Join(outputDirName, "tail.csv"))); err != nil {
			warn("failed to include csv tail: %v", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		warn("unable to read csv %q: %v", csvPath, err)
	}

	if cfg.Output.Uplink.URL != "" {
		spoolPath := cfg.Output.Uplink.SpoolDir
		if spoolPath == "" {
			spoolPath = filepath.Join(cfg.Output.Directory, "spool")
		}
		if _, err := os.Stat(spoolPath); err == nil {
			if summary, err := summarizeSpool(spoolPath); err != nil {
				warn("failed to summarize spool dir %q: %v", spoolPath, err)
			} else {
				info.Spool = summary
			}
			if *includeSpool {
				if err := addDir(tw, spoolPath, spoolDirName); err != nil {
					warn("failed to include spool dir %q: %v", spoolPath, err)
				}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			warn("unable to stat spool dir %q: %v", spoolPath, err)
		}
	}

	if *includeMetrics {
		target := *metricsURL
		if target == "" && cfg.Status.Enabled {
			target = "http://" + cfg.Status.Addr + "/metrics"
		}
		if target != "" {
			client := deps.HTTPClient
			if client == nil {
				client = &http.Client{Timeout: *metricsTimeout}
			}
			scrapeCtx, cancel := context.WithTimeout(ctx, *metricsTimeout)
			data, err := scrapeMetrics(scrapeCtx, client, target)
			cancel()
			if err != nil {
				warn("metrics scrape failed: %v", err)
			} else {
				if err := addBytes(tw, data, filepath.ToSlash(filepath.Join(observabilityDir, "metrics.prom"))); err != nil {
					warn("failed to include metrics snapshot: %v", err)
				}
				summary, warns := summarizeMetrics(data, target)
				info.Metrics = summary
				info.Warnings = append(info.Warnings, warns...)
			}
		}
	}

	for _, c := range systemCommands(deps.GOOS, cfg.Radio.Interface) {
		data, err := deps.RunCommand(ctx, c[0], c[1:]...)
		if err != nil {
			warn("%s failed: %v", strings.Join(c, " "), err)
			continue
		}
		name := filepath.ToSlash(filepath.Join(systemDirName, sanitizeFilename(strings.Join(c, "_"))+".txt"))
		if err := addBytes(tw, data, name); err != nil {
			warn("failed to include %s output: %v", c[0], err)
		}
	}

	return writeInfo(tw, info)
}

// systemCommands lists the wireless state captures for an operating system.
func systemCommands(goos, iface string) [][]string {
	switch goos {
	case "linux":
		cmds := [][]string{{"iw", "dev"}}
		if iface != "" && iface != "auto" {
			cmds = append(cmds, []string{"iw", "dev", iface, "link"})
		}
		return cmds
	case "windows":
		return [][]string{{"netsh", "wlan", "show", "interfaces"}}
	case "darwin":
		return [][]string{{"/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport", "-I"}}
	default:
		return nil
	}
}

func writeInfo(tw *tar.Writer, info bundleInfo) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diagnostics info: %w", err)
	}
	return addBytes(tw, payload, infoFileName)
}

func addBytes(tw *tar.Writer, data []byte, name string) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func addRedactedFile(tw *tar.Writer, src, name string, redact bool) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if redact {
		data = redactSensitive(data)
	}
	return addBytes(tw, data, name)
}

// addLogs includes the active log file and its lumberjack backups, which
// share the base name with a timestamp suffix.
func addLogs(tw *tar.Writer, logFile string, redact bool) error {
	dir := filepath.Dir(logFile)
	ext := filepath.Ext(logFile)
	prefix := strings.TrimSuffix(filepath.Base(logFile), ext)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		name := filepath.ToSlash(filepath.Join(logsDirName, e.Name()))
		if strings.HasSuffix(e.Name(), ".gz") {
			if err := addFile(tw, filepath.Join(dir, e.Name()), name); err != nil {
				return err
			}
			continue
		}
		if err := addRedactedFile(tw, filepath.Join(dir, e.Name()), name, redact); err != nil {
			return err
		}
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer file.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header for %q: %w", src, err)
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", src, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("copy %q: %w", src, err)
	}
	return nil
}

func addDir(tw *tar.Writer, dir, base string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(tw, path, filepath.ToSlash(filepath.Join(base, rel)))
	})
}

// tailCSV returns the header plus the last n rows of the results file.
func tailCSV(path string, n int) (*outputSummary, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var header string
	var rows []string
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if header == "" {
			header = line
			continue
		}
		total++
		if n <= 0 {
			continue
		}
		rows = append(rows, line)
		if len(rows) > n {
			rows = rows[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		b.WriteByte('\n')
	}
	for _, row := range rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return &outputSummary{Path: path, Rows: total}, []byte(b.String()), nil
}

func summarizeSpool(dir string) (*spoolSummary, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	summary := &spoolSummary{Path: dir}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		stat, err := f.Info()
		if err != nil {
			return nil, err
		}
		summary.FileCount++
		summary.TotalSize += stat.Size()
	}
	return summary, nil
}

func redactSensitive(data []byte) []byte {
	text := string(data)
	for _, pattern := range []*regexp.Regexp{passwordPattern, urlUserPattern, tokenPattern, bearerPattern} {
		text = pattern.ReplaceAllString(text, "${1}"+redactedMarker+"${3}")
	}
	return []byte(text)
}

func scrapeMetrics(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func summarizeMetrics(data []byte, url string) (*metricsSummary, []string) {
	summary := &metricsSummary{URL: url}
	var warnings []string
	targets := map[string]**float64{
		"wlan_scanner_cycles_total":                 &summary.Cycles,
		"wlan_scanner_records_written_total":        &summary.RecordsWritten,
		"wlan_scanner_sink_failures_total":          &summary.SinkFailures,
		"wlan_scanner_spool_pending_bytes":          &summary.SpoolPendingBytes,
		"wlan_scanner_uplink_failures_total":        &summary.UplinkFailures,
		"wlan_scanner_ready":                        &summary.Ready,
		"wlan_scanner_last_cycle_timestamp_seconds": &summary.LastCycleUnix,
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		dst, ok := targets[fields[0]]
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("parse %s: %v", fields[0], err))
			continue
		}
		*dst = &val
	}
	return summary, warnings
}

func sanitizeFilename(input string) string {
	safe := strings.ReplaceAll(input, "/", "_")
	safe = strings.ReplaceAll(safe, "..", "_")
	safe = strings.TrimLeft(safe, "_")
	if safe == "" {
		return "unknown"
	}
	return safe
}

type bundleInfo struct {
	GeneratedAt string          `json:"generated_at"`
	OutputPath  string          `json:"output_path"`
	ConfigPath  string          `json:"config_path,omitempty"`
	Device      string          `json:"device,omitempty"`
	Output      *outputSummary  `json:"output,omitempty"`
	Spool       *spoolSummary   `json:"spool,omitempty"`
	Metrics     *metricsSummary `json:"metrics,omitempty"`
	Redacted    bool            `json:"redacted"`
	Warnings    []string        `json:"warnings,omitempty"`
	GoVersion   string          `json:"go_version"`
}

type outputSummary struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

type spoolSummary struct {
	Path      string `json:"path"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size_bytes"`
}

type metricsSummary struct {
	URL               string   `json:"url"`
	Cycles            *float64 `json:"cycles_total,omitempty"`
	RecordsWritten    *float64 `json:"records_written_total,omitempty"`
	SinkFailures      *float64 `json:"sink_failures_total,omitempty"`
	SpoolPendingBytes *float64 `json:"spool_pending_bytes,omitempty"`
	UplinkFailures    *float64 `json:"uplink_failures_total,omitempty"`
	Ready             *float64 `json:"ready,omitempty"`
	LastCycleUnix     *float64 `json:"last_cycle_timestamp_seconds,omitempty"`
}
