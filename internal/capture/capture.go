// Package capture persists raw sensor answers as CSV rows of time, sensor
// and hex, and replays them through the sensor codecs.
package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/pms/internal/monitoring"
	"github.com/banshee-data/pms/internal/sensor"
)

// Header is the first row of every capture file.
var Header = []string{"time", "sensor", "hex"}

// Writer appends RawMessage rows to a capture file.
type Writer struct {
	f *os.File
	w *csv.Writer
}

// Create opens path for appending, writing the header when the file is new
// or empty.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat capture file: %w", err)
	}
	w := &Writer{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := w.w.Write(Header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write capture header: %w", err)
		}
	}
	return w, nil
}

// Write appends one row and flushes it to the file.
func (w *Writer) Write(msg sensor.RawMessage) error {
	row := []string{strconv.FormatInt(msg.Time, 10), msg.Sensor, msg.Hex()}
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("failed to write capture row: %w", err)
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Messages yields the rows of r recorded for sensorName. Names compare
// case-insensitively; an empty name yields every row. A malformed row ends
// the sequence with an error.
func Messages(r io.Reader, sensorName string) iter.Seq2[sensor.RawMessage, error] {
	return func(yield func(sensor.RawMessage, error) bool) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = len(Header)
		cr.TrimLeadingSpace = true

		for line := 1; ; line++ {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(sensor.RawMessage{}, fmt.Errorf("capture line %d: %w", line, err))
				return
			}
			if line == 1 && strings.EqualFold(row[0], Header[0]) {
				continue
			}
			if sensorName != "" && !strings.EqualFold(row[1], sensorName) {
				continue
			}
			t, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				yield(sensor.RawMessage{}, fmt.Errorf("capture line %d: invalid time %q: %w", line, row[0], err))
				return
			}
			msg, err := sensor.ParseRawMessage(t, row[1], row[2])
			if err != nil {
				yield(sensor.RawMessage{}, fmt.Errorf("capture line %d: %w", line, err))
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Open reads the capture file at path. The returned close function must be
// called once the sequence is consumed.
func Open(path, sensorName string) (iter.Seq2[sensor.RawMessage, error], func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return Messages(f, sensorName), f.Close, nil
}

// Slice yields msgs in order, for captures loaded from the SQLite store.
func Slice(msgs []sensor.RawMessage) iter.Seq2[sensor.RawMessage, error] {
	return func(yield func(sensor.RawMessage, error) bool) {
		for _, msg := range msgs {
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// SkipFunc is told about rows that could not be decoded.
type SkipFunc func(msg sensor.RawMessage, err error)

// LogSkipped reports skipped rows through monitoring.Logf.
func LogSkipped(msg sensor.RawMessage, err error) {
	monitoring.Logf("capture: skipping %s message at %d: %v", msg.Sensor, msg.Time, err)
}

// Decode runs s.Decode on every message. Rows that fail to decode are passed
// to skip (LogSkipped when nil) and dropped. Errors from msgs end the
// sequence.
func Decode(s *sensor.Sensor, msgs iter.Seq2[sensor.RawMessage, error], skip SkipFunc) iter.Seq2[sensor.Observation, error] {
	if skip == nil {
		skip = LogSkipped
	}
	return func(yield func(sensor.Observation, error) bool) {
		for msg, err := range msgs {
			if err != nil {
				yield(nil, err)
				return
			}
			obs, err := s.Decode(msg.Data, msg.Time)
			if err != nil {
				skip(msg, err)
				continue
			}
			if !yield(obs, nil) {
				return
			}
		}
	}
}
