package probe

import "time"

// Samples is the raw payload of a successful (or partially successful)
// outcome. The concrete type depends on the probe kind.
type Samples interface {
	samples()
}

// RadioSamples is a single snapshot of the wireless link.
type RadioSamples struct {
	Interface    string
	SSID         string
	RSSI         *float64
	LinkQuality  *float64
	TxRateMbps   *float64
	RxRateMbps   *float64
	Channel      *int
	FrequencyGHz *float64
}

// TargetSeries holds echo round-trip times in milliseconds, nil for a lost echo.
type TargetSeries struct {
	Target string
	RTTs   []*float64
}

type LatencySamples struct {
	Series []TargetSeries
}

// Targets lists the probed targets in order.
func (l LatencySamples) Targets() []string {
	out := make([]string, 0, len(l.Series))
	for _, s := range l.Series {
		out = append(out, s.Target)
	}
	return out
}

// All flattens every series in order.
func (l LatencySamples) All() []*float64 {
	var out []*float64
	for _, s := range l.Series {
		out = append(out, s.RTTs...)
	}
	return out
}

type StreamSamples struct {
	UploadMbps   float64
	DownloadMbps float64
	Retransmits  int
}

type DatagramSamples struct {
	ThroughputMbps float64
	LossPct        float64
	JitterMs       float64
}

type TransferSamples struct {
	Protocol     string
	Direction    string
	Bytes        int64
	Duration     time.Duration
	IntervalMBps []float64
}

// SpeedMBps is the whole-transfer speed in MiB per second.
func (t TransferSamples) SpeedMBps() float64 {
	if t.Duration <= 0 {
		return 0
	}
	return float64(t.Bytes) / (1024 * 1024) / t.Duration.Seconds()
}

func (RadioSamples) samples()    {}
func (LatencySamples) samples()  {}
func (StreamSamples) samples()   {}
func (DatagramSamples) samples() {}
func (TransferSamples) samples() {}
