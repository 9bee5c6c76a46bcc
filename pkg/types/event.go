package types

import "time"

type EventType string

const (
	EventCycleStarted   EventType = "CycleStarted"
	EventProbeCompleted EventType = "ProbeCompleted"
	EventProbeFailed    EventType = "ProbeFailed"
	EventProbeRetried   EventType = "ProbeRetried"
	EventProbeTimedOut  EventType = "ProbeTimedOut"
	EventProbeSkipped   EventType = "ProbeSkipped"
	EventCycleCompleted EventType = "CycleCompleted"
	EventRecordWritten  EventType = "RecordWritten"
	EventSinkFailed     EventType = "SinkFailed"
	EventRunStopped     EventType = "RunStopped"
)

type Event struct {
	Type          EventType          `json:"type"`
	Timestamp     time.Time          `json:"ts"`
	MeasurementID string             `json:"measurement_id,omitempty"`
	Probe         string             `json:"probe,omitempty"`
	Elapsed       time.Duration      `json:"elapsed_ns,omitempty"`
	Details       map[string]any     `json:"details,omitempty"`
	Record        *MeasurementRecord `json:"record,omitempty"`
}
