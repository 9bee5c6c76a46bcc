package types

import (
	"strconv"
	"strings"
	"time"
)

// MeasurementRecord is the output of one measurement cycle. Summary blocks are
// nil when the corresponding probe did not contribute, and every numeric field
// inside a block is individually nullable.
type MeasurementRecord struct {
	MeasurementID string           `json:"measurement_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Device        string           `json:"device,omitempty"`
	Location      string           `json:"location,omitempty"`
	Route         string           `json:"route,omitempty"`
	Radio         *RadioSummary    `json:"radio,omitempty"`
	Latency       *LatencySummary  `json:"latency,omitempty"`
	Stream        *StreamSummary   `json:"stream,omitempty"`
	Datagram      *DatagramSummary `json:"datagram,omitempty"`
	Transfer      *TransferSummary `json:"transfer,omitempty"`
	Notes         []string         `json:"notes,omitempty"`
	ErrorCount    int              `json:"error_count"`
}

type RadioSummary struct {
	SSID         string   `json:"ssid,omitempty"`
	RSSI         *float64 `json:"rssi_dbm,omitempty"`
	LinkQuality  *float64 `json:"link_quality_pct,omitempty"`
	TxRateMbps   *float64 `json:"tx_rate_mbps,omitempty"`
	RxRateMbps   *float64 `json:"rx_rate_mbps,omitempty"`
	Channel      *int     `json:"channel,omitempty"`
	FrequencyGHz *float64 `json:"frequency_ghz,omitempty"`
}

type LatencySummary struct {
	Target   string   `json:"target,omitempty"`
	LossPct  *float64 `json:"loss_pct,omitempty"`
	AvgRTTMs *float64 `json:"avg_rtt_ms,omitempty"`
	MinRTTMs *float64 `json:"min_rtt_ms,omitempty"`
	MaxRTTMs *float64 `json:"max_rtt_ms,omitempty"`
	StdDevMs *float64 `json:"stddev_rtt_ms,omitempty"`
}

type StreamSummary struct {
	UploadMbps   *float64 `json:"upload_mbps,omitempty"`
	DownloadMbps *float64 `json:"download_mbps,omitempty"`
	Retransmits  *int     `json:"retransmits,omitempty"`
}

type DatagramSummary struct {
	ThroughputMbps *float64 `json:"throughput_mbps,omitempty"`
	LossPct        *float64 `json:"loss_pct,omitempty"`
	JitterMs       *float64 `json:"jitter_ms,omitempty"`
}

type TransferSummary struct {
	Protocol       string   `json:"protocol,omitempty"`
	Direction      string   `json:"direction,omitempty"`
	SpeedMBps      *float64 `json:"speed_mbps,omitempty"`
	ThroughputMbps *float64 `json:"throughput_mbps,omitempty"`
	SpeedVariation *float64 `json:"speed_variation_mbps,omitempty"`
}

var columns = []string{
	"measurement_id",
	"timestamp",
	"device",
	"location",
	"route",
	"wifi_ssid",
	"wifi_rssi",
	"wifi_link_quality",
	"wifi_tx_rate",
	"wifi_rx_rate",
	"wifi_channel",
	"wifi_frequency",
	"ping_target",
	"ping_packet_loss",
	"ping_avg_rtt",
	"ping_min_rtt",
	"ping_max_rtt",
	"ping_std_dev",
	"iperf_tcp_upload",
	"iperf_tcp_download",
	"iperf_tcp_retransmits",
	"iperf_udp_throughput",
	"iperf_udp_packet_loss",
	"iperf_udp_jitter",
	"file_transfer_protocol",
	"file_transfer_direction",
	"file_transfer_speed",
	"file_transfer_throughput",
	"file_transfer_speed_variation",
	"error_count",
	"notes",
}

// Columns returns the fixed column order shared by every record of every run.
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// Row renders the record in Columns order. Null values render as empty strings.
func (r MeasurementRecord) Row() []string {
	row := make([]string, 0, len(columns))
	row = append(row, r.MeasurementID, r.Timestamp.UTC().Format(time.RFC3339), r.Device, r.Location, r.Route)

	radio := r.Radio
	if radio == nil {
		radio = &RadioSummary{}
	}
	row = append(row, radio.SSID, formatFloat(radio.RSSI), formatFloat(radio.LinkQuality),
		formatFloat(radio.TxRateMbps), formatFloat(radio.RxRateMbps), formatInt(radio.Channel), formatFloat(radio.FrequencyGHz))

	lat := r.Latency
	if lat == nil {
		lat = &LatencySummary{}
	}
	row = append(row, lat.Target, formatFloat(lat.LossPct), formatFloat(lat.AvgRTTMs), formatFloat(lat.MinRTTMs),
		formatFloat(lat.MaxRTTMs), formatFloat(lat.StdDevMs))

	stream := r.Stream
	if stream == nil {
		stream = &StreamSummary{}
	}
	row = append(row, formatFloat(stream.UploadMbps), formatFloat(stream.DownloadMbps), formatInt(stream.Retransmits))

	dgram := r.Datagram
	if dgram == nil {
		dgram = &DatagramSummary{}
	}
	row = append(row, formatFloat(dgram.ThroughputMbps), formatFloat(dgram.LossPct), formatFloat(dgram.JitterMs))

	xfer := r.Transfer
	if xfer == nil {
		xfer = &TransferSummary{}
	}
	row = append(row, xfer.Protocol, xfer.Direction, formatFloat(xfer.SpeedMBps), formatFloat(xfer.ThroughputMbps),
		formatFloat(xfer.SpeedVariation))

	row = append(row, strconv.Itoa(r.ErrorCount), strings.Join(r.Notes, "; "))
	return row
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// Float returns a pointer to v, for filling nullable summary fields.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
