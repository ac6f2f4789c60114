package sensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// codec holds the framing constants of one sensor family. All families share
// the validation skeleton in validate; only the data here differs.
type codec struct {
	// payload is msg[payloadStart : len(msg)-payloadTrim]
	payloadStart int
	payloadTrim  int

	// checksum returns the checksum carried by msg and the one computed
	// from its contents.
	checksum func(msg []byte) (got, want int)

	// tail, when set, must be the last byte of every message.
	tail    byte
	hasTail bool

	// destuff removes SHDLC byte stuffing from the whole buffer before
	// validation.
	destuff bool

	// acks are fixed answers carrying no payload. A message equal to one of
	// them is accepted without checksum or payload checks.
	acks [][]byte

	// noData are message trailers reporting that no measurement is ready.
	noData [][]byte

	// signature panics when a command table entry disagrees with the
	// family's framing rules.
	signature func(header []byte, length int)

	unpack func(payload []byte) []float64

	// records is the [lo, hi) range of unpacked values exposed as fields.
	records [2]int
}

// decode validates buf against cmd and returns the numeric tuple carried by
// its payload. When the buffer does not start with a well formed message it
// falls back to the last complete message in the buffer.
func (c *codec) decode(buf []byte, cmd Cmd) ([]float64, error) {
	header, length := cmd.AnswerHeader, cmd.AnswerLength
	c.signature(header, length)

	if c.destuff {
		buf = unstuff(buf)
	}

	payload, err := c.validate(buf, header, length)
	if err != nil {
		msg, ok := lastMessage(buf, header, length, err)
		if !ok {
			return nil, err
		}
		if payload, err = c.validate(msg, header, length); err != nil {
			return nil, err
		}
	}

	values := c.unpack(payload)
	lo, hi := c.records[0], c.records[1]
	if hi > len(values) {
		hi = len(values)
	}
	if lo > hi {
		lo = hi
	}
	return values[lo:hi], nil
}

// lastMessage re-slices buf on the last occurrence of header that leaves room
// for a full message. Only format errors are worth a second attempt.
func lastMessage(buf, header []byte, length int, err error) ([]byte, bool) {
	if !isFormatError(err) {
		return nil, false
	}
	limit := len(buf) - length + len(header)
	if limit < len(header) {
		return nil, false
	}
	start := bytes.LastIndex(buf[:limit], header)
	if start < 0 {
		return nil, false
	}
	return buf[start : start+length], true
}

func isFormatError(err error) bool {
	var fe *formatError
	return errors.As(err, &fe)
}

// formatError marks header, length and tail mismatches so decode can tell
// them apart from checksum and warm-up failures.
type formatError struct{ msg string }

func (e *formatError) Error() string { return ErrWrongFormat.Error() + ": " + e.msg }
func (e *formatError) Unwrap() error { return ErrWrongFormat }

func wrongFormat(format string, args ...any) error {
	return &formatError{msg: fmt.Sprintf(format, args...)}
}

func (c *codec) validate(msg, header []byte, length int) ([]byte, error) {
	for _, trailer := range c.noData {
		if bytes.HasSuffix(msg, trailer) {
			return nil, fmt.Errorf("%w: no new data", ErrSensorWarmingUp)
		}
	}

	if !bytes.HasPrefix(msg, header) {
		n := min(len(header), len(msg))
		return nil, wrongFormat("message header %X", msg[:n])
	}
	if len(msg) != length {
		return nil, wrongFormat("message length %d", len(msg))
	}
	for _, ack := range c.acks {
		if bytes.Equal(msg, ack) {
			return nil, nil
		}
	}
	if c.hasTail && msg[len(msg)-1] != c.tail {
		return nil, wrongFormat("message tail %X", msg[len(msg)-1])
	}

	if got, want := c.checksum(msg); got != want {
		return nil, fmt.Errorf("%w: message checksum %#x != %#x", ErrWrongChecksum, got, want)
	}

	payload := msg[c.payloadStart : len(msg)-c.payloadTrim]
	if len(payload) > 0 && allZero(payload) {
		return nil, fmt.Errorf("%w: message empty", ErrSensorWarmingUp)
	}
	return payload, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func sum(b []byte) int {
	s := 0
	for _, v := range b {
		s += int(v)
	}
	return s
}

// unstuff reverses SHDLC byte stuffing. The input is left untouched.
func unstuff(buf []byte) []byte {
	if bytes.IndexByte(buf, 0x7D) < 0 {
		return buf
	}
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0x7D && i+1 < len(buf) {
			if v, ok := unstuffed[buf[i+1]]; ok {
				out = append(out, v)
				i++
				continue
			}
		}
		out = append(out, buf[i])
	}
	return out
}

var unstuffed = map[byte]byte{
	0x5E: 0x7E,
	0x5D: 0x7D,
	0x31: 0x11,
	0x33: 0x13,
}

func beUint16s(p []byte) []float64 {
	out := make([]float64, 0, len(p)/2)
	for i := 0; i+2 <= len(p); i += 2 {
		out = append(out, float64(binary.BigEndian.Uint16(p[i:])))
	}
	return out
}

func leUint16s(p []byte) []float64 {
	out := make([]float64, 0, len(p)/2)
	for i := 0; i+2 <= len(p); i += 2 {
		out = append(out, float64(binary.LittleEndian.Uint16(p[i:])))
	}
	return out
}

func beFloat32s(p []byte) []float64 {
	out := make([]float64, 0, len(p)/4)
	for i := 0; i+4 <= len(p); i += 4 {
		out = append(out, float64(math.Float32frombits(binary.BigEndian.Uint32(p[i:]))))
	}
	return out
}
