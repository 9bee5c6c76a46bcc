package transfer

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const mib = 1024 * 1024

// meter counts bytes and records the speed of each fixed sample window.
type meter struct {
	bytes    atomic.Int64
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	speeds []float64
	last   int64
	lastAt time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func startMeter(interval time.Duration, now func() time.Time) *meter {
	m := &meter{interval: interval, now: now, lastAt: now(), done: make(chan struct{})}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.mark(true)
			}
		}
	}()
	return m
}

func (m *meter) add(n int) {
	m.bytes.Add(int64(n))
}

func (m *meter) total() int64 {
	return m.bytes.Load()
}

// mark closes the current window. A trailing partial window only counts when
// it moved data.
func (m *meter) mark(full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.bytes.Load()
	at := m.now()
	secs := at.Sub(m.lastAt).Seconds()
	if secs <= 0 || (!full && cur == m.last) {
		return
	}
	m.speeds = append(m.speeds, float64(cur-m.last)/mib/secs)
	m.last = cur
	m.lastAt = at
}

func (m *meter) stop() []float64 {
	close(m.done)
	m.wg.Wait()
	m.mark(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.speeds))
	copy(out, m.speeds)
	return out
}

type meteredReader struct {
	r io.Reader
	m *meter
}

func (r *meteredReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.m.add(n)
	return n, err
}

type meteredWriter struct {
	w io.Writer
	m *meter
}

func (w *meteredWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.m.add(n)
	return n, err
}
