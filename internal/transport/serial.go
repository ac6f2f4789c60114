package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the adapter drives.
type Port interface {
	io.ReadWriteCloser
	Drain() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens a serial device. Tests replace it to avoid real hardware.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort is the default PortOpener backed by go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// pollGap bounds how long BytesWaiting listens for bytes already on the line.
const pollGap = 20 * time.Millisecond

// Serial is a Transport over a serial device.
type Serial struct {
	path    string
	opts    PortOptions
	timeout time.Duration
	opener  PortOpener

	mu      sync.Mutex
	port    Port
	pending []byte
}

// NewSerial returns a closed Serial transport for path. timeout bounds every
// Read; zero or negative values fall back to one second.
func NewSerial(path string, opts PortOptions, timeout time.Duration) *Serial {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Serial{path: path, opts: opts, timeout: timeout, opener: OpenSerialPort}
}

// WithOpener replaces the function used by Open.
func (s *Serial) WithOpener(opener PortOpener) *Serial {
	s.opener = opener
	return s
}

// Path returns the device path.
func (s *Serial) Path() string { return s.path }

// Open opens the device. Opening an open transport is a no-op.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	mode, err := s.opts.SerialMode()
	if err != nil {
		return fmt.Errorf("serial options for %s: %w", s.path, err)
	}
	port, err := s.opener(s.path, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.port = port
	s.pending = nil
	return nil
}

// Close closes the device. Closing a closed transport is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.pending = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

func (s *Serial) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return 0, ErrNotOpen
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.path, err)
	}
	return n, nil
}

func (s *Serial) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotOpen
	}
	return s.port.Drain()
}

// Read returns up to n bytes, waiting at most the configured timeout for
// them. Bytes collected by BytesWaiting are returned first.
func (s *Serial) Read(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil, ErrNotOpen
	}

	k := min(n, len(s.pending))
	buf := append([]byte(nil), s.pending[:k]...)
	s.pending = s.pending[k:]

	deadline := time.Now().Add(s.timeout)
	chunk := make([]byte, n)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return buf, fmt.Errorf("set read timeout on %s: %w", s.path, err)
		}
		got, err := s.port.Read(chunk[:n-len(buf)])
		if err != nil {
			return buf, fmt.Errorf("read %s: %w", s.path, err)
		}
		if got == 0 {
			// timeout
			break
		}
		buf = append(buf, chunk[:got]...)
	}
	return buf, nil
}

func (s *Serial) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotOpen
	}
	s.pending = nil
	return s.port.ResetInputBuffer()
}

// BytesWaiting drains whatever the device delivers within a short gap into
// the adapter and reports the buffered total.
func (s *Serial) BytesWaiting() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return 0, ErrNotOpen
	}
	if err := s.port.SetReadTimeout(pollGap); err != nil {
		return len(s.pending), fmt.Errorf("set read timeout on %s: %w", s.path, err)
	}
	chunk := make([]byte, 256)
	for {
		got, err := s.port.Read(chunk)
		if err != nil {
			return len(s.pending), fmt.Errorf("read %s: %w", s.path, err)
		}
		if got == 0 {
			return len(s.pending), nil
		}
		s.pending = append(s.pending, chunk[:got]...)
	}
}
