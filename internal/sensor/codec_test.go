package sensor

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pms/internal/testutil"
)

const pmsFrame = "424d001c0005000d00160005000d001602fd00fc001d000f00060006970003c5"

var pmsValues = []float64{5, 13, 22, 5, 13, 22, 765, 252, 29, 15, 6, 6}

type familyFrame struct {
	sensor *Sensor
	hex    string
}

// familyFrames holds one valid passive_read answer per family.
var familyFrames = map[string]familyFrame{
	"PMSx003":       {pmsx003Sensor, pmsFrame},
	"PMS3003":       {pms3003Sensor, "424d001400010002000300040005000600000000000000b8"},
	"PMS5003S":      {pms5003sSensor, "424d001c0005000d00160005000d001602fd00fc001d000f00060006000c0000033a"},
	"PMS5003T":      {pms5003tSensor, "424d001c0005000d00160005000d001602fd00fc001d000fffe7023700000541"},
	"PMS5003ST":     {pms5003stSensor, "424d00240005000d00160005000d001602fd00fc001d000f00060006000c00ea0237000000000465"},
	"SDS01x":        {sds01xSensor, "aac07b00c801010247ab"},
	"SDS198":        {sds198Sensor, "aacf00004d00010250ab"},
	"HPMA115S0":     {hpma115s0Sensor, "400504000c002289"},
	"HPMA115C0":     {hpma115c0Sensor, "400d04000100020003000400000000a5"},
	"SPS30 stuffed": {sps30Sensor, "7e00030028417d3100004020000040600000409000004124000041a4000041f6000042200000424800003f000000067e"},
	"MCU680":        {mcu680Sensor, "5a5a3f0f092911d7018bcd312c00003039007bb6"},
	"MHZ19B":        {mhz19bSensor, "ff86019f00000000da"},
	"ZH0xx":         {zh0xxSensor, "ff860019000a000156"},
}

func TestDecode_ValidFrame(t *testing.T) {
	t.Parallel()

	got, err := pmsx003Sensor.Values(testutil.MustHex(t, pmsFrame), PassiveRead)
	require.NoError(t, err)
	if diff := cmp.Diff(pmsValues, got); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Resync(t *testing.T) {
	t.Parallel()
	frame := testutil.MustHex(t, pmsFrame)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"leading garbage", testutil.Concat([]byte{0x00, 0x13, 0x42}, frame)},
		{"two frames", testutil.Concat(frame, frame)},
		{"trailing partial frame", testutil.Concat(frame, []byte{0x42, 0x4D, 0x00})},
		{"garbage on both sides", testutil.Concat([]byte{0xFF}, frame, []byte{0x42})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := pmsx003Sensor.Values(tt.buf, PassiveRead)
			require.NoError(t, err)
			assert.Equal(t, pmsValues, got)
		})
	}
}

func TestDecode_PicksLastCompleteFrame(t *testing.T) {
	t.Parallel()

	second := testutil.MustHex(t, "424d001c00010002000300040005000602bc00c80014000a000500010000026a")
	buf := testutil.Concat(testutil.MustHex(t, pmsFrame), second)

	got, err := pmsx003Sensor.Values(buf, PassiveRead)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 700, 200, 20, 10, 5, 1}, got)
}

func TestDecode_FormatErrors(t *testing.T) {
	t.Parallel()
	frame := testutil.MustHex(t, pmsFrame)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated", frame[:20]},
		{"wrong header", testutil.MustHex(t, "424d00140001000200030004000500060000000000000000b8")},
		{"no header", bytes.Repeat([]byte{0x11}, 40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := pmsx003Sensor.Values(tt.buf, PassiveRead)
			require.ErrorIs(t, err, ErrWrongFormat)
			assert.ErrorIs(t, err, ErrSensorWarning)
			assert.True(t, isFormatError(err))
		})
	}
}

func TestDecode_ChecksumByteFlip(t *testing.T) {
	t.Parallel()

	for name, ff := range familyFrames {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			frame := testutil.MustHex(t, ff.hex)
			if ff.sensor.codec.destuff {
				frame = unstuff(frame)
			}
			c := ff.sensor.codec
			_, err := ff.sensor.Values(frame, PassiveRead)
			require.NoError(t, err)

			// every payload byte is covered by the checksum
			for i := c.payloadStart; i < len(frame)-c.payloadTrim; i++ {
				buf := bytes.Clone(frame)
				buf[i] ^= 0x01
				if c.destuff && (isReserved(frame[i]) || isReserved(buf[i])) {
					// would need escaping on the wire
					continue
				}
				_, err := ff.sensor.Values(buf, PassiveRead)
				assert.ErrorIs(t, err, ErrWrongChecksum, "byte %d", i)
				assert.ErrorIs(t, err, ErrSensorWarning, "byte %d", i)
			}
		})
	}
}

func isReserved(b byte) bool {
	switch b {
	case 0x7E, 0x7D, 0x11, 0x13:
		return true
	}
	return false
}

func TestDecode_ChecksumErrorNotRetried(t *testing.T) {
	t.Parallel()
	good := testutil.MustHex(t, pmsFrame)
	bad := bytes.Clone(good)
	bad[10] ^= 0xFF

	_, err := pmsx003Sensor.Values(bad, PassiveRead)
	assert.ErrorIs(t, err, ErrWrongChecksum)

	// resync lands on the corrupted last frame and does not look further back
	_, err = pmsx003Sensor.Values(testutil.Concat(good, bad), PassiveRead)
	assert.ErrorIs(t, err, ErrWrongChecksum)

	got, err := pmsx003Sensor.Values(testutil.Concat(bad, good), PassiveRead)
	require.NoError(t, err)
	assert.Equal(t, pmsValues, got)
}

func TestDecode_WarmingUp(t *testing.T) {
	t.Parallel()

	t.Run("all zero payload", func(t *testing.T) {
		t.Parallel()
		buf := testutil.MustHex(t, "424d001c0000000000000000000000000000000000000000000000000000000000ab")
		_, err := pmsx003Sensor.Values(buf, PassiveRead)
		require.ErrorIs(t, err, ErrSensorWarmingUp)
		assert.ErrorIs(t, err, ErrSensorWarning)
	})

	t.Run("no data trailer", func(t *testing.T) {
		t.Parallel()
		for _, trailer := range sps30Codec.noData {
			_, err := sps30Sensor.Values(testutil.Concat([]byte{0x00}, trailer), PassiveRead)
			assert.ErrorIs(t, err, ErrSensorWarmingUp)
		}
	})
}

func TestDecode_Acknowledgements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    *Sensor
		op   Op
		buf  string
	}{
		{"plantower passive mode", pmsx003Sensor, PassiveMode, "424d0004e1000174"},
		{"honeywell ack", hpma115s0Sensor, Sleep, "a5a5"},
		{"winsen silent", mhz19bSensor, Wake, ""},
		{"sensirion start", sps30Sensor, PassiveMode, "7e00000000ff7e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.s.Values(testutil.MustHex(t, tt.buf), tt.op)
			require.NoError(t, err)
			assert.True(t, tt.s.Check(testutil.MustHex(t, tt.buf), tt.op))
		})
	}
}

func TestCheck_RejectsForeignFrames(t *testing.T) {
	t.Parallel()

	frame := testutil.MustHex(t, pmsFrame)
	assert.True(t, pmsx003Sensor.Check(frame, PassiveRead))
	assert.False(t, sds01xSensor.Check(frame, PassiveRead))
	assert.False(t, hpma115s0Sensor.Check(frame, PassiveRead))
	assert.False(t, mhz19bSensor.Check(frame, PassiveRead))
}

func TestUnstuff(t *testing.T) {
	t.Parallel()

	in := []byte{0x7E, 0x7D, 0x5E, 0x7D, 0x5D, 0x7D, 0x31, 0x7D, 0x33, 0x7D, 0x7E}
	want := []byte{0x7E, 0x7E, 0x7D, 0x11, 0x13, 0x7D, 0x7E}
	orig := bytes.Clone(in)

	assert.Equal(t, want, unstuff(in))
	assert.Equal(t, orig, in, "input must not be modified")

	plain := []byte{0x7E, 0x00, 0x7E}
	assert.Equal(t, plain, unstuff(plain))
}

func TestSignatures(t *testing.T) {
	t.Parallel()

	for _, s := range All() {
		for _, op := range Ops {
			cmd := s.Command(op)
			assert.NotPanics(t, func() { s.codec.signature(cmd.AnswerHeader, cmd.AnswerLength) },
				"%s %s", s.Name, op)
		}
	}

	assert.Panics(t, func() { pmsx003Sensor.codec.signature([]byte{0x42, 0x4D, 0x00, 0x1C}, 30) })
	assert.Panics(t, func() { sds01xSensor.codec.signature([]byte{0xAB, 0xC0}, 10) })
	assert.Panics(t, func() { hpma115s0Sensor.codec.signature([]byte{0x40, 0x05}, 8) })
	assert.Panics(t, func() { sps30Sensor.codec.signature([]byte{0x7E, 0x00, 0x03, 0x00, 0x28}, 40) })
}

func TestCommandChecksums(t *testing.T) {
	t.Parallel()

	// a command is a valid frame of its own family, so the family codec can
	// verify the checksums in the command tables
	for _, op := range Ops {
		cmd := sds01xSensor.Command(op).Command
		require.Len(t, cmd, 19)
		assert.Equal(t, byte(sum(cmd[2:17])), cmd[17], "SDS01x %s", op)

		cmd = zh0xxSensor.Command(op).Command
		got, want := zh0xxSensor.codec.checksum(cmd)
		assert.Equal(t, want, got, "ZH0xx %s", op)

		cmd = hpma115s0Sensor.Command(op).Command
		got, want = hpma115s0Sensor.codec.checksum(cmd)
		assert.Equal(t, want, got, "HPMA115S0 %s", op)

		cmd = pmsx003Sensor.Command(op).Command
		n := len(cmd) - 2
		assert.Equal(t, sum(cmd[:n]), int(cmd[n])<<8|int(cmd[n+1]), "PMSx003 %s", op)
	}
}
