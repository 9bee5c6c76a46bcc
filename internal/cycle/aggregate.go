package cycle

import (
	"fmt"
	"strings"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
	"github.com/TakashiAihara/wlan-scanner/internal/stats"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

// fold merges the samples of one outcome into the record. Outcomes without
// samples leave the record untouched.
func fold(rec *types.MeasurementRecord, samples probe.Samples) {
	switch s := samples.(type) {
	case probe.RadioSamples:
		rec.Radio = &types.RadioSummary{
			SSID:         s.SSID,
			RSSI:         s.RSSI,
			LinkQuality:  s.LinkQuality,
			TxRateMbps:   s.TxRateMbps,
			RxRateMbps:   s.RxRateMbps,
			Channel:      s.Channel,
			FrequencyGHz: s.FrequencyGHz,
		}
	case probe.LatencySamples:
		summary := stats.SummarizeRTT(s.All())
		block := &types.LatencySummary{
			Target:   strings.Join(s.Targets(), ","),
			AvgRTTMs: summary.Mean,
			MinRTTMs: summary.Min,
			MaxRTTMs: summary.Max,
			StdDevMs: summary.StdDev,
		}
		if summary.LossRatio != nil {
			block.LossPct = types.Float(*summary.LossRatio * 100)
		}
		rec.Latency = block
	case probe.StreamSamples:
		rec.Stream = &types.StreamSummary{
			UploadMbps:   types.Float(s.UploadMbps),
			DownloadMbps: types.Float(s.DownloadMbps),
			Retransmits:  types.Int(s.Retransmits),
		}
	case probe.DatagramSamples:
		rec.Datagram = &types.DatagramSummary{
			ThroughputMbps: types.Float(s.ThroughputMbps),
			LossPct:        types.Float(s.LossPct),
			JitterMs:       types.Float(s.JitterMs),
		}
	case probe.TransferSamples:
		intervals := stats.SummarizeIntervals(s.IntervalMBps)
		speed := s.SpeedMBps()
		rec.Transfer = &types.TransferSummary{
			Protocol:       s.Protocol,
			Direction:      s.Direction,
			SpeedMBps:      types.Float(speed),
			ThroughputMbps: types.Float(speed * 8),
			SpeedVariation: intervals.MaxVariation,
		}
	}
}

// note renders the record note for a non-successful outcome.
func note(out probe.Outcome, attempts int) string {
	if out.Status == probe.StatusTimeout {
		if attempts > 1 {
			return fmt.Sprintf("%s: timeout after %d attempts", out.Kind, attempts)
		}
		return string(out.Kind) + ": timeout"
	}
	reason := out.Reason
	if reason == "" {
		reason = "failed"
	}
	if attempts > 1 {
		return fmt.Sprintf("%s: failed after %d attempts: %s", out.Kind, attempts, reason)
	}
	return string(out.Kind) + ": " + reason
}
