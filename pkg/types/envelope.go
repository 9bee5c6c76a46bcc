package types

import "time"

// RecordEnvelope is the batch body posted by the uplink sink.
type RecordEnvelope struct {
	Device   string              `json:"device" yaml:"device"`
	SentAt   time.Time           `json:"sent_at" yaml:"sent_at"`
	BatchSeq uint64              `json:"batch_seq" yaml:"batch_seq"`
	Columns  []string            `json:"columns" yaml:"columns"`
	Records  []MeasurementRecord `json:"records" yaml:"records"`
}
