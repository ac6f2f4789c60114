package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSerial(t *testing.T) (*Serial, *MockPort, *MockOpener) {
	t.Helper()
	port := NewMockPort()
	opener := NewMockOpener(port)
	s := NewSerial("/dev/ttyTEST", PortOptions{BaudRate: 115200}, 50*time.Millisecond).WithOpener(opener.Open)
	require.NoError(t, s.Open())
	return s, port, opener
}

func TestSerial_OpenClose(t *testing.T) {
	s, port, opener := newMockSerial(t)

	assert.True(t, s.IsOpen())
	call := opener.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyTEST", call.Path)
	assert.Equal(t, 115200, call.Mode.BaudRate)

	// opening twice does not reopen the device
	require.NoError(t, s.Open())
	assert.Len(t, opener.OpenCalls, 1)

	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
	assert.True(t, port.Closed)
	require.NoError(t, s.Close())
}

func TestSerial_OpenError(t *testing.T) {
	opener := NewMockOpener(nil)
	opener.Error = errors.New("no such device")
	s := NewSerial("/dev/missing", PortOptions{}, time.Second).WithOpener(opener.Open)

	err := s.Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/missing")
	assert.False(t, s.IsOpen())

	bad := NewSerial("/dev/x", PortOptions{Parity: "Q"}, time.Second).WithOpener(opener.Open)
	require.Error(t, bad.Open())
	assert.Len(t, opener.OpenCalls, 1, "invalid options must fail before opening")
}

func TestSerial_NotOpen(t *testing.T) {
	s := NewSerial("/dev/x", PortOptions{}, 0)

	_, err := s.Write([]byte{1})
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = s.Read(1)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, s.Flush(), ErrNotOpen)
	assert.ErrorIs(t, s.ResetInputBuffer(), ErrNotOpen)
	_, err = s.BytesWaiting()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestSerial_WriteFlush(t *testing.T) {
	s, port, _ := newMockSerial(t)

	n, err := s.Write([]byte{0x42, 0x4D})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, s.Flush())
	assert.Equal(t, []byte{0x42, 0x4D}, port.GetWrittenData())
	assert.Equal(t, 1, port.Drains)

	port.WriteError = errors.New("broken pipe")
	_, err = s.Write([]byte{0x00})
	assert.ErrorContains(t, err, "broken pipe")
}

func TestSerial_Read(t *testing.T) {
	s, port, _ := newMockSerial(t)

	port.AddReadData([]byte{1, 2, 3, 4, 5})
	got, err := s.Read(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// short read returns what arrived before the timeout
	got, err = s.Read(10)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, got)
	assert.Positive(t, int64(port.ReadTimeout))

	got, err = s.Read(4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSerial_ReadError(t *testing.T) {
	s, port, _ := newMockSerial(t)

	port.ReadError = errors.New("device unplugged")
	_, err := s.Read(4)
	assert.ErrorContains(t, err, "device unplugged")
}

func TestSerial_BytesWaiting(t *testing.T) {
	s, port, _ := newMockSerial(t)

	n, err := s.BytesWaiting()
	require.NoError(t, err)
	assert.Zero(t, n)

	port.AddReadData([]byte{9, 8, 7, 6})
	n, err = s.BytesWaiting()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, pollGap, port.ReadTimeout)

	// buffered bytes are served before the port is read again
	port.AddReadData([]byte{5})
	got, err := s.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6, 5}, got)
}

func TestSerial_ResetInputBuffer(t *testing.T) {
	s, port, _ := newMockSerial(t)

	port.AddReadData([]byte{1, 2, 3})
	_, err := s.BytesWaiting()
	require.NoError(t, err)
	port.AddReadData([]byte{4})

	require.NoError(t, s.ResetInputBuffer())
	assert.Equal(t, 1, port.Resets)
	n, err := s.BytesWaiting()
	require.NoError(t, err)
	assert.Zero(t, n)
}
