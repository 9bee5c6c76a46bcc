package radio

import (
	"bufio"
	"errors"
	"strconv"
	"strings"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

// ErrNotConnected is returned by parsers when the tool reports no association.
var ErrNotConnected = errors.New("interface is not associated with an access point")

func ptr[T any](v T) *T { return &v }

// ParseIWLink parses `iw dev <if> link`.
func ParseIWLink(out string) (probe.RadioSamples, error) {
	var s probe.RadioSamples
	if strings.Contains(out, "Not connected.") {
		return s, ErrNotConnected
	}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "SSID:"):
			s.SSID = strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		case strings.HasPrefix(line, "freq:"):
			if mhz, ok := firstFloat(strings.TrimPrefix(line, "freq:")); ok {
				ghz := mhz / 1000
				s.FrequencyGHz = ptr(ghz)
				if ch := ChannelFromFrequency(ghz); ch > 0 {
					s.Channel = ptr(ch)
				}
			}
		case strings.HasPrefix(line, "signal:"):
			if rssi, ok := firstFloat(strings.TrimPrefix(line, "signal:")); ok {
				s.RSSI = ptr(rssi)
				s.LinkQuality = ptr(QualityFromRSSI(rssi))
			}
		case strings.HasPrefix(line, "tx bitrate:"):
			if rate, ok := firstFloat(strings.TrimPrefix(line, "tx bitrate:")); ok {
				s.TxRateMbps = ptr(rate)
			}
		case strings.HasPrefix(line, "rx bitrate:"):
			if rate, ok := firstFloat(strings.TrimPrefix(line, "rx bitrate:")); ok {
				s.RxRateMbps = ptr(rate)
			}
		}
	}
	if s.RxRateMbps == nil && s.TxRateMbps != nil {
		s.RxRateMbps = ptr(*s.TxRateMbps)
	}
	if s.SSID == "" && s.RSSI == nil {
		return s, errors.New("iw output did not contain link information")
	}
	return s, nil
}

// ParseIwconfig parses the legacy wireless-tools output.
func ParseIwconfig(out string) (probe.RadioSamples, error) {
	var s probe.RadioSamples
	if strings.Contains(out, "ESSID:off/any") {
		return s, ErrNotConnected
	}
	if idx := strings.Index(out, "ESSID:"); idx >= 0 {
		rest := out[idx+len("ESSID:"):]
		if end := strings.IndexAny(rest, "\n"); end >= 0 {
			rest = rest[:end]
		}
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, `"`) {
			if end := strings.Index(rest[1:], `"`); end >= 0 {
				rest = rest[1 : end+1]
			}
		}
		s.SSID = rest
	}
	if v, ok := valueAfter(out, "Frequency:"); ok {
		if ghz, ok := firstFloat(v); ok {
			s.FrequencyGHz = ptr(ghz)
			if ch := ChannelFromFrequency(ghz); ch > 0 {
				s.Channel = ptr(ch)
			}
		}
	}
	if v, ok := valueAfter(out, "Bit Rate="); ok {
		if rate, ok := firstFloat(v); ok {
			s.TxRateMbps = ptr(rate)
			s.RxRateMbps = ptr(rate)
		}
	}
	if v, ok := valueAfter(out, "Link Quality="); ok {
		field := strings.Fields(v)[0]
		if cur, top, found := strings.Cut(field, "/"); found {
			c, err1 := strconv.ParseFloat(cur, 64)
			m, err2 := strconv.ParseFloat(top, 64)
			if err1 == nil && err2 == nil && m > 0 {
				q := float64(int(c / m * 100))
				s.LinkQuality = ptr(q)
				s.RSSI = ptr(RSSIFromQuality(q))
			}
		}
	}
	if v, ok := valueAfter(out, "Signal level="); ok {
		if rssi, ok := firstFloat(v); ok && rssi < 0 {
			s.RSSI = ptr(rssi)
			if s.LinkQuality == nil {
				s.LinkQuality = ptr(QualityFromRSSI(rssi))
			}
		}
	}
	if s.SSID == "" && s.RSSI == nil {
		return s, errors.New("iwconfig output did not contain link information")
	}
	return s, nil
}

// ParseNetsh parses `netsh wlan show interfaces`.
func ParseNetsh(out string) (probe.RadioSamples, error) {
	var s probe.RadioSamples
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case key == "State":
			if strings.EqualFold(value, "disconnected") {
				return s, ErrNotConnected
			}
		case key == "SSID":
			s.SSID = value
		case key == "Channel":
			if ch, err := strconv.Atoi(value); err == nil {
				s.Channel = ptr(ch)
				if f := FrequencyFromChannel(ch); f > 0 {
					s.FrequencyGHz = ptr(f)
				}
			}
		case strings.HasPrefix(key, "Receive rate"):
			if rate, ok := firstFloat(value); ok {
				s.RxRateMbps = ptr(rate)
			}
		case strings.HasPrefix(key, "Transmit rate"):
			if rate, ok := firstFloat(value); ok {
				s.TxRateMbps = ptr(rate)
			}
		case key == "Signal":
			if q, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64); err == nil {
				s.LinkQuality = ptr(q)
				s.RSSI = ptr(RSSIFromQuality(q))
			}
		}
	}
	if s.SSID == "" && s.RSSI == nil {
		return s, errors.New("netsh output did not contain link information")
	}
	return s, nil
}

// ParseAirport parses `airport -I` on macOS.
func ParseAirport(out string) (probe.RadioSamples, error) {
	var s probe.RadioSamples
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "AirPort":
			if strings.EqualFold(value, "Off") {
				return s, ErrNotConnected
			}
		case "state":
			if value == "init" {
				return s, ErrNotConnected
			}
		case "SSID":
			s.SSID = value
		case "channel":
			chStr, _, _ := strings.Cut(value, ",")
			if ch, err := strconv.Atoi(strings.TrimSpace(chStr)); err == nil {
				s.Channel = ptr(ch)
				if f := FrequencyFromChannel(ch); f > 0 {
					s.FrequencyGHz = ptr(f)
				}
			}
		case "agrCtlRSSI":
			if rssi, err := strconv.ParseFloat(value, 64); err == nil {
				s.RSSI = ptr(rssi)
				s.LinkQuality = ptr(QualityFromRSSI(rssi))
			}
		case "lastTxRate":
			if rate, err := strconv.ParseFloat(value, 64); err == nil {
				s.TxRateMbps = ptr(rate)
				s.RxRateMbps = ptr(rate)
			}
		}
	}
	if s.SSID == "" && s.RSSI == nil {
		return s, errors.New("airport output did not contain link information")
	}
	return s, nil
}

// Validate rejects snapshots with values no driver should report.
func Validate(s probe.RadioSamples) error {
	if s.RSSI != nil && (*s.RSSI < -100 || *s.RSSI > 0) {
		return errors.New("rssi out of range")
	}
	if s.LinkQuality != nil && (*s.LinkQuality < 0 || *s.LinkQuality > 100) {
		return errors.New("link quality out of range")
	}
	if (s.TxRateMbps != nil && *s.TxRateMbps < 0) || (s.RxRateMbps != nil && *s.RxRateMbps < 0) {
		return errors.New("negative bit rate")
	}
	if s.Channel != nil && *s.Channel < 0 {
		return errors.New("negative channel")
	}
	return nil
}

func firstFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func valueAfter(s, marker string) (string, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(s[idx+len(marker):])
	if rest == "" {
		return "", false
	}
	return rest, true
}
