package eventlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// csvHeader is the header of every per-node CSV file.
var csvHeader = []string{"timestamp", "logicalClock", "event", "queueLength", "to"}

// csvTimeLayout renders timestamps in UTC with millisecond precision.
const csvTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// CSV writes records as CSV rows, one row per record.
type CSV struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSV writes the header to w and returns a CSV recorder.
func NewCSV(w io.Writer) (*CSV, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSV{w: cw}, nil
}

// CreateCSV creates (or truncates) the file at path and writes the header.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv log: %w", err)
	}
	c, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// Record writes rec as one row and flushes it.
func (c *CSV) Record(_ context.Context, rec Record) error {
	row := []string{
		rec.Timestamp.UTC().Format(csvTimeLayout),
		strconv.FormatUint(rec.LogicalClock, 10),
		string(rec.Kind),
		strconv.Itoa(rec.QueueLength),
		rec.Recipient,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes pending rows and closes the underlying file, if any.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		err = errors.Join(err, c.closer.Close())
		c.closer = nil
	}
	return err
}

// ReadCSV parses a file written by CSV. nodeID is attached to every record
// since the file format does not carry it.
func ReadCSV(r io.Reader, nodeID string) ([]Record, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv log: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read csv log: missing header")
	}

	out := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("read csv log: row %d has %d columns", i+1, len(row))
		}
		ts, err := time.Parse(csvTimeLayout, row[0])
		if err != nil {
			return nil, fmt.Errorf("read csv log: row %d timestamp: %w", i+1, err)
		}
		lc, err := strconv.ParseUint(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("read csv log: row %d clock: %w", i+1, err)
		}
		kind := Kind(row[2])
		if !kind.Valid() {
			return nil, fmt.Errorf("read csv log: row %d: unknown event %q", i+1, row[2])
		}
		ql, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("read csv log: row %d queue length: %w", i+1, err)
		}
		out = append(out, Record{
			NodeID:       nodeID,
			Timestamp:    ts,
			LogicalClock: lc,
			Kind:         kind,
			QueueLength:  ql,
			Recipient:    row[4],
		})
	}
	return out, nil
}
