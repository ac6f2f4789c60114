package transport

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// errPortClosed mirrors the error real ports return after Close.
var errPortClosed = errors.New("serial port closed")

// MockPort implements Port with configurable behaviour for testing.
// It never blocks: a Read on an empty buffer behaves like a timeout.
type MockPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// Drains records the number of Drain calls
	Drains int

	// Resets records the number of ResetInputBuffer calls
	Resets int

	// ReadTimeout is the last read timeout set
	ReadTimeout time.Duration
}

// NewMockPort creates a new MockPort for testing.
func NewMockPort() *MockPort {
	return &MockPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read reads from the read buffer. An empty buffer returns 0, nil.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReadCalls++
	if m.Closed {
		return 0, errPortClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, err
	}
	if m.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return m.ReadBuffer.Read(p)
}

// Write writes to the write buffer.
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, errPortClosed
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.WriteError = nil
		return 0, err
	}
	return m.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseError
}

func (m *MockPort) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Drains++
	return nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets++
	m.ReadBuffer.Reset()
	return nil
}

func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = t
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (m *MockPort) AddReadData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBuffer.Write(data)
}

// GetWrittenData returns all data written to the port.
func (m *MockPort) GetWrittenData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.WriteBuffer.Bytes())
}

// MockOpener records Open calls and hands out a fixed port.
type MockOpener struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port Port

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *serial.Mode
}

// NewMockOpener creates a MockOpener returning port.
func NewMockOpener(port Port) *MockOpener {
	return &MockOpener{Port: port}
}

// Open is a PortOpener.
func (o *MockOpener) Open(path string, mode *serial.Mode) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.OpenCalls = append(o.OpenCalls, MockOpenCall{Path: path, Mode: mode})
	if o.Error != nil {
		return nil, o.Error
	}
	return o.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (o *MockOpener) LastCall() *MockOpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.OpenCalls) == 0 {
		return nil
	}
	return &o.OpenCalls[len(o.OpenCalls)-1]
}
