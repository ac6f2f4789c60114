package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/banshee-data/pms/internal/sensor"
)

// CSV writes RenderCSV rows to a file, preceded by the RenderHeader row when
// the file starts empty.
type CSV struct {
	f      *os.File
	w      *csv.Writer
	header bool
}

// NewCSV opens path for appending. With overwrite set an existing file is
// truncated first.
func NewCSV(path string, overwrite bool) (*CSV, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if overwrite {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat csv file: %w", err)
	}
	return &CSV{f: f, w: csv.NewWriter(f), header: info.Size() > 0}, nil
}

// Publish appends one row.
func (c *CSV) Publish(_ context.Context, obs sensor.Observation) error {
	if !c.header {
		header, err := obs.Render(sensor.RenderHeader)
		if err != nil {
			return err
		}
		if err := c.w.Write(cells(header)); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		c.header = true
	}
	row, err := obs.Render(sensor.RenderCSV)
	if err != nil {
		return err
	}
	if err := c.w.Write(cells(row)); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSV) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

func cells(line string) []string {
	return strings.Split(line, ", ")
}
