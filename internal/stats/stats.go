// Package stats reduces raw probe samples into summaries. Every function is
// pure and returns an all-null summary for empty input.
package stats

import "math"

// RTTSummary describes one latency series in milliseconds. LossRatio is in
// [0,1]; the remaining fields are nil when no echo was answered.
type RTTSummary struct {
	Mean      *float64
	Max       *float64
	Min       *float64
	StdDev    *float64
	LossRatio *float64
	Sent      int
	Received  int
}

// SummarizeRTT reduces a list of round-trip times where nil marks a lost echo.
// The standard deviation is the sample deviation over answered echoes only.
func SummarizeRTT(samples []*float64) RTTSummary {
	summary := RTTSummary{Sent: len(samples)}
	if len(samples) == 0 {
		return summary
	}

	received := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s != nil {
			received = append(received, *s)
		}
	}
	summary.Received = len(received)
	loss := float64(len(samples)-len(received)) / float64(len(samples))
	summary.LossRatio = &loss
	if len(received) == 0 {
		return summary
	}

	minV, maxV := received[0], received[0]
	var total float64
	for _, v := range received {
		total += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := total / float64(len(received))
	std := sampleStdDev(received, mean)

	summary.Mean = &mean
	summary.Min = &minV
	summary.Max = &maxV
	summary.StdDev = &std
	return summary
}

// IntervalSummary describes a throughput series. MaxVariation is the largest
// absolute deviation of any sample from the mean.
type IntervalSummary struct {
	Mean         *float64
	MaxVariation *float64
	Count        int
}

func SummarizeIntervals(samples []float64) IntervalSummary {
	summary := IntervalSummary{Count: len(samples)}
	if len(samples) == 0 {
		return summary
	}
	var total float64
	for _, v := range samples {
		total += v
	}
	mean := total / float64(len(samples))
	var maxDev float64
	for _, v := range samples {
		if dev := math.Abs(v - mean); dev > maxDev {
			maxDev = dev
		}
	}
	summary.Mean = &mean
	summary.MaxVariation = &maxDev
	return summary
}

func sampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
