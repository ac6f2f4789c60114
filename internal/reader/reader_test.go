package reader

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pms/internal/sensor"
	"github.com/banshee-data/pms/internal/testutil"
	"github.com/banshee-data/pms/internal/timeutil"
	"github.com/banshee-data/pms/internal/transport"
)

const (
	pmsFrame   = "424d001c0005000d00160005000d001602fd00fc001d000f00060006970003c5"
	pmsAck     = "424d0004e1000174"
	pmsZero    = "424d001c0000000000000000000000000000000000000000000000000000000000ab"
	pmsBadSum  = "424d001c0005000d00160005000d001602fd00fc001d000f00060006970003c6"
	pms3003    = "424d001400010002000300040005000600000000000000b8"
	epochSec   = 1567201793
	halfSecond = 500 * time.Millisecond
)

func mustSensor(t *testing.T, name string) *sensor.Sensor {
	t.Helper()
	s, err := sensor.Lookup(name)
	require.NoError(t, err)
	return s
}

func newClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Unix(epochSec, 0).Add(halfSecond))
}

// pmsScript answers a PMSx003 the way a healthy module does. Passive reads
// get the given frames in order, the last one repeating.
func pmsScript(t *testing.T, reads ...string) *transport.Script {
	t.Helper()
	s := mustSensor(t, "PMSx003")
	script := transport.NewScript().
		On(s.Command(sensor.Wake).Command, testutil.MustHex(t, pmsFrame)).
		On(s.Command(sensor.PassiveMode).Command, testutil.MustHex(t, pmsAck)).
		On(s.Command(sensor.Sleep).Command, testutil.MustHex(t, pmsAck))
	answers := make([][]byte, 0, len(reads))
	for _, r := range reads {
		answers = append(answers, testutil.MustHex(t, r))
	}
	return script.On(s.Command(sensor.PassiveRead).Command, answers...)
}

func collect(t *testing.T, r *Reader, ctx context.Context) ([]sensor.Observation, error) {
	t.Helper()
	var out []sensor.Observation
	for obs, err := range r.Observations(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, obs)
	}
	return out, nil
}

func TestOpen(t *testing.T) {
	t.Parallel()
	s := mustSensor(t, "PMSx003")
	script := pmsScript(t, pmsFrame)
	clock := newClock()

	r := New(s, script, WithClock(clock))
	require.NoError(t, r.Open(context.Background()))

	assert.True(t, script.IsOpen())
	assert.Equal(t, 1, script.Resets, "input buffer reset before wake")
	assert.Equal(t, [][]byte{s.Command(sensor.Wake).Command, s.Command(sensor.PassiveMode).Command}, script.Commands())
	assert.Equal(t, []int{32, 8}, script.Reads)
	assert.Empty(t, clock.Sleeps(), "PMSx003 has no pre-heat")
}

func TestOpen_NoResponse(t *testing.T) {
	t.Parallel()
	r := New(mustSensor(t, "PMSx003"), transport.NewScript(), WithClock(newClock()))

	err := r.Open(context.Background())
	require.ErrorIs(t, err, ErrUnableToOpen)
	assert.Contains(t, err.Error(), "did not respond")
}

func TestOpen_WrongFamily(t *testing.T) {
	t.Parallel()
	// a PMS3003 streams its short frames whatever it is sent
	s := mustSensor(t, "PMSx003")
	script := transport.NewScript().Stream(testutil.MustHex(t, pms3003), testutil.MustHex(t, pms3003))

	err := New(s, script, WithClock(newClock())).Open(context.Background())
	require.ErrorIs(t, err, ErrUnableToOpen)
	assert.Contains(t, err.Error(), "failed validation")
}

func TestOpen_TransportError(t *testing.T) {
	t.Parallel()
	script := transport.NewScript()
	script.OpenError = errors.New("permission denied")

	err := New(mustSensor(t, "PMSx003"), script).Open(context.Background())
	require.ErrorIs(t, err, ErrUnableToOpen)
	assert.ErrorContains(t, err, "permission denied")
}

func TestOpen_PreHeatOnce(t *testing.T) {
	t.Parallel()
	s := mustSensor(t, "HPMA115S0")
	ack := []byte{0xA5, 0xA5}
	script := transport.NewScript().
		On(s.Command(sensor.Wake).Command, ack).
		On(s.Command(sensor.PassiveMode).Command, ack).
		On(s.Command(sensor.Sleep).Command, ack)
	clock := newClock()
	r := New(s, script, WithClock(clock))

	require.NoError(t, r.Open(context.Background()))
	require.NoError(t, r.Close())
	require.NoError(t, r.Open(context.Background()))
	require.NoError(t, r.Close())

	assert.Equal(t, []time.Duration{6 * time.Second}, clock.Sleeps())
	assert.Equal(t, 2, script.Opens)
	assert.Equal(t, 2, script.Closes)
}

func TestOpen_StreamingFamily(t *testing.T) {
	t.Parallel()
	s := mustSensor(t, "PMS3003")
	frame := testutil.MustHex(t, pms3003)
	script := transport.NewScript().Stream(frame, frame, frame)

	r := New(s, script, WithClock(newClock()), WithSamples(1))
	require.NoError(t, r.Open(context.Background()))
	assert.Empty(t, script.Commands(), "PMS3003 takes no commands")

	obs, err := collect(t, r, context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "PMS3003", obs[0].Sensor())
}

func TestObservations_Pacing(t *testing.T) {
	t.Parallel()
	clock := newClock()
	r := New(mustSensor(t, "PMSx003"), pmsScript(t, pmsFrame),
		WithClock(clock), WithInterval(5*time.Second), WithSamples(2))
	require.NoError(t, r.Open(context.Background()))

	obs, err := collect(t, r, context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 2)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.Greater(t, sleeps[0], time.Duration(0))
	assert.Less(t, sleeps[0], 5*time.Second)
	assert.Equal(t, 4500*time.Millisecond, sleeps[0])

	assert.Equal(t, int64(epochSec), obs[0].Time())
	assert.Equal(t, int64(epochSec+5), obs[1].Time())
	assert.LessOrEqual(t, obs[0].Time(), obs[1].Time())
}

// slowClock advances by step on every reading, as if each decode took that
// long.
type slowClock struct {
	*timeutil.MockClock
	step time.Duration
}

func (c slowClock) Now() time.Time {
	c.Advance(c.step)
	return c.MockClock.Now()
}

func (c slowClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func TestObservations_NoSleepWhenLate(t *testing.T) {
	t.Parallel()
	clock := slowClock{MockClock: newClock(), step: 1500 * time.Millisecond}
	r := New(mustSensor(t, "PMSx003"), pmsScript(t, pmsFrame),
		WithClock(clock), WithInterval(time.Second), WithSamples(3))
	require.NoError(t, r.Open(context.Background()))

	obs, err := collect(t, r, context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Empty(t, clock.Sleeps(), "processing slower than the interval never sleeps")
	assert.Less(t, obs[0].Time(), obs[1].Time())
	assert.Less(t, obs[1].Time(), obs[2].Time())
}

func TestObservations_ZeroRetriesFailsFirstWarning(t *testing.T) {
	t.Parallel()
	clock := newClock()
	r := New(mustSensor(t, "PMSx003"), pmsScript(t, pmsZero), WithClock(clock), WithMaxRetries(0))
	require.NoError(t, r.Open(context.Background()))

	obs, err := collect(t, r, context.Background())
	assert.Empty(t, obs)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, sensor.ErrSensorWarmingUp)
	assert.Empty(t, clock.Sleeps(), "no retry wait once the budget is spent")
	assert.Equal(t, 1, r.Failures())
}

func TestObservations_WarmUpRetry(t *testing.T) {
	t.Parallel()
	clock := newClock()
	r := New(mustSensor(t, "PMSx003"), pmsScript(t, pmsZero, pmsFrame),
		WithClock(clock), WithMaxRetries(3), WithSamples(1))
	require.NoError(t, r.Open(context.Background()))

	obs, err := collect(t, r, context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, []time.Duration{WarmUpWait}, clock.Sleeps())
	assert.Equal(t, int64(epochSec+5), obs[0].Time())
	assert.Equal(t, 1, r.Failures())
}

func TestObservations_MixedFailuresShareBudget(t *testing.T) {
	t.Parallel()
	script := pmsScript(t, pmsBadSum, pmsZero, pmsFrame)
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()), WithMaxRetries(1))
	require.NoError(t, r.Open(context.Background()))

	_, err := collect(t, r, context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, sensor.ErrSensorWarmingUp)
	assert.Equal(t, 2, r.Failures())
	assert.Equal(t, 2, script.Resets, "one reset at open and one after the checksum warning")
}

func TestObservations_FailuresNeverReset(t *testing.T) {
	t.Parallel()
	script := pmsScript(t, pmsBadSum, pmsFrame, pmsBadSum, pmsFrame)
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()), WithMaxRetries(1))
	require.NoError(t, r.Open(context.Background()))

	obs, err := collect(t, r, context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, sensor.ErrWrongChecksum)
	assert.Len(t, obs, 1, "a success in between does not refill the budget")
}

func TestObservations_Resync(t *testing.T) {
	t.Parallel()
	noisy := "0013" + pmsFrame + "424d"
	script := pmsScript(t, noisy)
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()), WithSamples(1))
	require.NoError(t, r.Open(context.Background()))

	obs, err := collect(t, r, context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	// a single read sized by what was waiting
	assert.Equal(t, len(noisy)/2, script.Reads[len(script.Reads)-1])
}

func TestObservations_Cancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(mustSensor(t, "PMSx003"), pmsScript(t, pmsFrame),
		WithClock(newClock()), WithInterval(5*time.Second))
	require.NoError(t, r.Open(ctx))

	n := 0
	for _, err := range r.Observations(ctx) {
		require.NoError(t, err)
		n++
		if n == 3 {
			cancel()
		}
	}
	assert.Equal(t, 3, n)
}

func TestObservations_NotOpen(t *testing.T) {
	t.Parallel()
	r := New(mustSensor(t, "PMSx003"), transport.NewScript())

	_, err := collect(t, r, context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestObservations_TransportErrorIsFatal(t *testing.T) {
	t.Parallel()
	script := pmsScript(t, pmsFrame)
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()))
	require.NoError(t, r.Open(context.Background()))

	script.ReadError = errors.New("device unplugged")
	_, err := collect(t, r, context.Background())
	require.ErrorContains(t, err, "device unplugged")
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Zero(t, r.Failures())
}

func TestRawMessages(t *testing.T) {
	t.Parallel()
	r := New(mustSensor(t, "PMSx003"), pmsScript(t, pmsZero, pmsFrame),
		WithClock(newClock()), WithSamples(1))
	require.NoError(t, r.Open(context.Background()))

	var msgs []sensor.RawMessage
	for msg, err := range r.RawMessages(context.Background()) {
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	require.Len(t, msgs, 1)
	assert.Equal(t, pmsFrame, msgs[0].Hex())
	assert.Equal(t, "PMSx003", msgs[0].Sensor)
	assert.Equal(t, int64(epochSec+5), msgs[0].Time)
}

func TestRun_ClosesOnError(t *testing.T) {
	t.Parallel()
	s := mustSensor(t, "PMSx003")
	script := pmsScript(t, pmsBadSum)
	r := New(s, script, WithClock(newClock()), WithMaxRetries(0))

	err := Run(context.Background(), r, func(sensor.Observation) error { return nil })
	require.ErrorIs(t, err, ErrRetriesExhausted)

	assert.False(t, script.IsOpen())
	assert.Equal(t, 1, script.Closes)
	cmds := script.Commands()
	require.NotEmpty(t, cmds)
	assert.True(t, bytes.Equal(s.Command(sensor.Sleep).Command, cmds[len(cmds)-1]), "sleep sent on close")
}

func TestRun_ClosesOnOpenFailure(t *testing.T) {
	t.Parallel()
	script := transport.NewScript()
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()))

	err := Run(context.Background(), r, func(sensor.Observation) error { return nil })
	require.ErrorIs(t, err, ErrUnableToOpen)
	assert.Equal(t, 1, script.Closes)
}

func TestRun_CallbackError(t *testing.T) {
	t.Parallel()
	script := pmsScript(t, pmsFrame)
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()))
	stop := errors.New("sink full")

	err := Run(context.Background(), r, func(sensor.Observation) error { return stop })
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, script.Closes)
}

func TestRunRaw(t *testing.T) {
	t.Parallel()
	script := pmsScript(t, pmsFrame)
	r := New(mustSensor(t, "PMSx003"), script, WithClock(newClock()), WithSamples(2))

	var n int
	err := RunRaw(context.Background(), r, func(msg sensor.RawMessage) error {
		n++
		assert.Len(t, msg.Data, 32)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, script.Closes)
}

func TestNewSerial(t *testing.T) {
	t.Parallel()
	r := NewSerial(mustSensor(t, "SPS30"), "/dev/null-sensor", time.Second)
	assert.Equal(t, "SPS30", r.Sensor().Name)
	s, ok := r.port.(*transport.Serial)
	require.True(t, ok)
	assert.Equal(t, "/dev/null-sensor", s.Path())
}
