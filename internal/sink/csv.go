package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

// ErrHeaderMismatch is returned when an existing file was written with a
// different column list.
var ErrHeaderMismatch = errors.New("csv header does not match record columns")

type CSV struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// OpenCSV opens path for appending, writing the header if the file is new.
func OpenCSV(path string) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv %s: %w", path, err)
	}

	s := &CSV{path: path, file: f, writer: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.writeRow(types.Columns()); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}
	if err := checkHeader(path); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSV) Append(ctx context.Context, rec types.MeasurementRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("csv %s is closed", s.path)
	}
	return s.writeRow(rec.Row())
}

func (s *CSV) Path() string {
	return s.path
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *CSV) writeRow(row []string) error {
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync csv: %w", err)
	}
	return nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read csv header %s: %w", path, err)
	}
	if !slices.Equal(header, types.Columns()) {
		return fmt.Errorf("%s: %w", path, ErrHeaderMismatch)
	}
	return nil
}
