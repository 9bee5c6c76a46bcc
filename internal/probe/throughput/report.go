package throughput

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// report is the subset of the iperf3 -J document the adapter reads.
type report struct {
	Error string `json:"error"`
	End   struct {
		SumSent struct {
			BitsPerSecond float64 `json:"bits_per_second"`
			Retransmits   int     `json:"retransmits"`
		} `json:"sum_sent"`
		SumReceived struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_received"`
		Sum struct {
			BitsPerSecond float64 `json:"bits_per_second"`
			JitterMs      float64 `json:"jitter_ms"`
			LostPercent   float64 `json:"lost_percent"`
		} `json:"sum"`
	} `json:"end"`
}

// parseReport decodes iperf3 output. A non-empty error field wins over the
// exit status so the tool's own message reaches the record notes verbatim.
func parseReport(out []byte, runErr error) (report, error) {
	var r report
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		if runErr != nil {
			return r, runErr
		}
		return r, errors.New("iperf3 produced no output")
	}
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		if runErr != nil {
			return r, runErr
		}
		return r, fmt.Errorf("decode iperf3 report: %w", err)
	}
	if r.Error != "" {
		return r, errors.New(r.Error)
	}
	if runErr != nil {
		return r, runErr
	}
	return r, nil
}

func mbps(bitsPerSecond float64) float64 {
	return bitsPerSecond / 1e6
}
