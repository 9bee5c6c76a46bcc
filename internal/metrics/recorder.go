package metrics

// UplinkRecorder receives spool and delivery statistics from the uplink drain.
type UplinkRecorder interface {
	ObservePendingBytes(bytes int64)
	ObserveDropped(total int64)
	AddSent(n int)
	IncFailures()
}

type NoopUplinkRecorder struct{}

func (NoopUplinkRecorder) ObservePendingBytes(bytes int64) {}
func (NoopUplinkRecorder) ObserveDropped(total int64)      {}
func (NoopUplinkRecorder) AddSent(n int)                   {}
func (NoopUplinkRecorder) IncFailures()                    {}
