package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultHeader = `# wlan-scanner configuration
# Durations use Go syntax (10s, 1m30s). Sizes accept B, KB, KiB, MB, MiB, GB, GiB.
# Probes run in a fixed order: radio, latency, tcp, udp, file.
`

// ErrConfigExists is returned by WriteDefault when the target exists and
// overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault renders the built-in defaults as YAML and commits them to path
// atomically.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	body, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return writeAtomic(path, append([]byte(defaultHeader), body...))
}

func writeAtomic(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure config dir %q: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write temp config %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", path, err)
	}

	return nil
}
