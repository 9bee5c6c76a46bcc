// Package spool is a durable on-disk queue of measurement records awaiting
// upload. Records are length-prefixed JSON in numbered segment files and a
// small cursor file remembers how far the uploader has committed.
package spool

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

const (
	segmentPrefix = "records-"
	segmentSuffix = ".spool"
	cursorFile    = "cursor.json"

	defaultMaxBytes     = 256 << 20
	defaultSegmentBytes = 8 << 20
	frameHeader         = 4
)

type Options struct {
	MaxBytes     int64
	SegmentBytes int64
}

// Cursor points at the first uncommitted frame.
type Cursor struct {
	Segment int64 `json:"segment"`
	Offset  int64 `json:"offset"`
}

// Batch is a run of records read from the head of the spool. Committing it
// advances the cursor past every record it holds.
type Batch struct {
	Records []types.MeasurementRecord
	end     Cursor
}

type segment struct {
	seq  int64
	path string
	size int64
}

type Spool struct {
	mu       sync.Mutex
	dir      string
	opts     Options
	segments []*segment
	writer   *os.File
	cursor   Cursor
	total    int64
	dropped  int64
}

func Open(dir string, opts Options) (*Spool, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.SegmentBytes <= 0 || opts.SegmentBytes > opts.MaxBytes {
		opts.SegmentBytes = min(opts.MaxBytes, defaultSegmentBytes)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir %q: %w", dir, err)
	}

	s := &Spool{dir: dir, opts: opts}
	if err := s.scan(); err != nil {
		return nil, err
	}
	if err := s.loadCursor(); err != nil {
		return nil, err
	}
	if err := s.openWriter(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append durably stores rec before returning.
func (s *Spool) Append(rec types.MeasurementRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.MeasurementID, err)
	}
	frame := make([]byte, frameHeader+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeader:], payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.segments[len(s.segments)-1]
	if tail.size > 0 && tail.size+int64(len(frame)) > s.opts.SegmentBytes {
		if err := s.rotate(tail.seq + 1); err != nil {
			return err
		}
		tail = s.segments[len(s.segments)-1]
	}
	if _, err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("append to %s: %w", tail.path, err)
	}
	if err := s.writer.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tail.path, err)
	}
	tail.size += int64(len(frame))
	s.total += int64(len(frame))
	return s.trim()
}

// Peek reads up to max records from the head without consuming them.
func (s *Spool) Peek(max int) (Batch, error) {
	if max <= 0 {
		max = 64
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := Batch{end: s.cursor}
	pos := s.cursor
	for _, seg := range s.segments {
		if seg.seq < pos.Segment {
			continue
		}
		if seg.seq > pos.Segment {
			pos = Cursor{Segment: seg.seq}
		}
		if pos.Offset >= seg.size {
			continue
		}
		recs, next, err := readFrames(seg, pos.Offset, max-len(batch.Records))
		if err != nil {
			return Batch{}, err
		}
		batch.Records = append(batch.Records, recs...)
		pos.Offset = next
		batch.end = pos
		if len(batch.Records) >= max {
			break
		}
	}
	return batch, nil
}

// Commit drops every record in b from the spool.
func (s *Spool) Commit(b Batch) error {
	if len(b.Records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = b.end
	// consumed segments go away, the active one stays open for appends
	for len(s.segments) > 1 {
		head := s.segments[0]
		if head.seq > s.cursor.Segment || (head.seq == s.cursor.Segment && s.cursor.Offset < head.size) {
			break
		}
		if err := s.removeHead(); err != nil {
			return err
		}
	}
	return s.saveCursor()
}

// Pending counts uncommitted records.
func (s *Spool) Pending() (int, error) {
	b, err := s.Peek(int(^uint(0) >> 1))
	if err != nil {
		return 0, err
	}
	return len(b.Records), nil
}

func (s *Spool) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// PendingBytes is the size of the frames not yet committed.
func (s *Spool) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var consumed int64
	for _, seg := range s.segments {
		switch {
		case seg.seq < s.cursor.Segment:
			consumed += seg.size
		case seg.seq == s.cursor.Segment:
			consumed += min(s.cursor.Offset, seg.size)
		}
	}
	return s.total - consumed
}

// Dropped counts records discarded because the spool exceeded MaxBytes.
func (s *Spool) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

func readFrames(seg *segment, offset int64, max int) ([]types.MeasurementRecord, int64, error) {
	f, err := os.Open(seg.path)
	if err != nil {
		return nil, offset, fmt.Errorf("open %s: %w", seg.path, err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek %s: %w", seg.path, err)
	}

	var out []types.MeasurementRecord
	header := make([]byte, frameHeader)
	for len(out) < max && offset < seg.size {
		if _, err := io.ReadFull(f, header); err != nil {
			// a torn frame at the tail is left for the next read
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, offset, fmt.Errorf("read %s: %w", seg.path, err)
		}
		payload := make([]byte, binary.BigEndian.Uint32(header))
		if _, err := io.ReadFull(f, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, offset, fmt.Errorf("read %s: %w", seg.path, err)
		}
		var rec types.MeasurementRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, offset, fmt.Errorf("decode frame in %s at %d: %w", seg.path, offset, err)
		}
		out = append(out, rec)
		offset += int64(frameHeader + len(payload))
	}
	return out, offset, nil
}

func (s *Spool) rotate(seq int64) error {
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			return fmt.Errorf("close segment: %w", err)
		}
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s%08d%s", segmentPrefix, seq, segmentSuffix))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}
	s.writer = f
	s.segments = append(s.segments, &segment{seq: seq, path: path})
	return nil
}

func (s *Spool) openWriter() error {
	if len(s.segments) == 0 {
		return s.rotate(1)
	}
	tail := s.segments[len(s.segments)-1]
	f, err := os.OpenFile(tail.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", tail.path, err)
	}
	s.writer = f
	return nil
}

func (s *Spool) removeHead() error {
	head := s.segments[0]
	if err := os.Remove(head.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment %s: %w", head.path, err)
	}
	s.total -= head.size
	s.segments = s.segments[1:]
	if s.cursor.Segment <= head.seq {
		s.cursor = Cursor{Segment: s.segments[0].seq}
	}
	return nil
}

// trim discards the oldest closed segments while the spool is over budget.
func (s *Spool) trim() error {
	changed := false
	for s.total > s.opts.MaxBytes && len(s.segments) > 1 {
		recs, _, err := readFrames(s.segments[0], 0, int(^uint(0)>>1))
		if err == nil {
			s.dropped += int64(len(recs))
		}
		if err := s.removeHead(); err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return s.saveCursor()
}

func (s *Spool) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.segments = append(s.segments, &segment{seq: seq, path: filepath.Join(s.dir, name), size: info.Size()})
		s.total += info.Size()
	}
	sort.Slice(s.segments, func(i, j int) bool { return s.segments[i].seq < s.segments[j].seq })
	return nil
}

func (s *Spool) loadCursor() error {
	data, err := os.ReadFile(filepath.Join(s.dir, cursorFile))
	if errors.Is(err, os.ErrNotExist) {
		if len(s.segments) > 0 {
			s.cursor = Cursor{Segment: s.segments[0].seq}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read spool cursor: %w", err)
	}
	if err := json.Unmarshal(data, &s.cursor); err != nil {
		return fmt.Errorf("parse spool cursor: %w", err)
	}
	return nil
}

func (s *Spool) saveCursor() error {
	path := filepath.Join(s.dir, cursorFile)
	data, err := json.Marshal(s.cursor)
	if err != nil {
		return fmt.Errorf("encode spool cursor: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write spool cursor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit spool cursor: %w", err)
	}
	return nil
}
