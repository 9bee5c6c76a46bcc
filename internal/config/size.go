package config

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnitsOrdered = []struct {
	suffix     string
	multiplier int64
}{
	{"gib", 1024 * 1024 * 1024},
	{"gb", 1000 * 1000 * 1000},
	{"mib", 1024 * 1024},
	{"mb", 1000 * 1000},
	{"kib", 1024},
	{"kb", 1000},
	{"b", 1},
}

// ParseSize converts values such as "100MB" or "64MiB" into bytes. An empty
// value yields defaultBytes.
func ParseSize(value string, defaultBytes int64) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultBytes, nil
	}
	lower := strings.ToLower(value)
	for _, unit := range sizeUnitsOrdered {
		if strings.HasSuffix(lower, unit.suffix) {
			numStr := strings.TrimSpace(value[:len(value)-len(unit.suffix)])
			num, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("parse size %q: %w", value, err)
			}
			if num < 0 {
				return 0, fmt.Errorf("parse size %q: negative size", value)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}
	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", value, err)
	}
	if num < 0 {
		return 0, fmt.Errorf("parse size %q: negative size", value)
	}
	return num, nil
}

// ParseBandwidth accepts the iperf3 target bandwidth notation ("10M", "500K",
// "1G" or plain bits per second) and returns bits per second.
func ParseBandwidth(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("parse bandwidth: empty value")
	}
	multiplier := int64(1)
	switch value[len(value)-1] {
	case 'k', 'K':
		multiplier = 1000
	case 'm', 'M':
		multiplier = 1000 * 1000
	case 'g', 'G':
		multiplier = 1000 * 1000 * 1000
	}
	numStr := value
	if multiplier != 1 {
		numStr = value[:len(value)-1]
	}
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse bandwidth %q: %w", value, err)
	}
	if num <= 0 {
		return 0, fmt.Errorf("parse bandwidth %q: must be positive", value)
	}
	return int64(num * float64(multiplier)), nil
}
