// Package transport provides the byte level connection between a reader and
// a sensor: a go.bug.st/serial backed port and scripted test doubles.
package transport

import (
	"errors"
)

// Transport is a byte oriented, half duplex link to one sensor. Read blocks
// until n bytes arrived or the transport's timeout expired, and may return
// fewer bytes without an error.
type Transport interface {
	Open() error
	Close() error
	IsOpen() bool
	Write(p []byte) (int, error)
	// Flush blocks until every written byte has left the output queue.
	Flush() error
	Read(n int) ([]byte, error)
	// ResetInputBuffer discards everything received but not yet read.
	ResetInputBuffer() error
	// BytesWaiting reports how many received bytes a Read would return
	// without blocking.
	BytesWaiting() (int, error)
}

// ErrNotOpen is returned by I/O on a closed transport.
var ErrNotOpen = errors.New("transport not open")
