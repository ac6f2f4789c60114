// Package reader drives one sensor over one transport: it wakes the module,
// switches it to passive mode, polls it at a fixed cadence and puts it back
// to sleep.
package reader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pms/internal/sensor"
	"github.com/banshee-data/pms/internal/timeutil"
	"github.com/banshee-data/pms/internal/transport"
)

var (
	// ErrUnableToOpen is returned by Open when the sensor is silent or
	// answers like a different family.
	ErrUnableToOpen = errors.New("unable to open sensor")

	// ErrRetriesExhausted wraps the last warning once the retry budget is
	// spent.
	ErrRetriesExhausted = errors.New("sensor retries exhausted")

	// ErrNotOpen is returned when reading from a reader that was never
	// opened or was already closed.
	ErrNotOpen = errors.New("reader not open")
)

// WarmUpWait is the pause after a sensor reports it has no data yet.
const WarmUpWait = 5 * time.Second

// Reader is a single sensor session. It is not safe for concurrent use.
type Reader struct {
	sensor *sensor.Sensor
	port   transport.Transport

	interval   time.Duration
	samples    int
	maxRetries int
	clock      timeutil.Clock
	logger     *slog.Logger

	open      bool
	preheated bool
	failures  int
}

// Option configures a Reader.
type Option func(*Reader)

// WithInterval sets the sampling cadence. Zero samples as fast as the sensor
// answers.
func WithInterval(d time.Duration) Option {
	return func(r *Reader) { r.interval = d }
}

// WithSamples stops reading after n observations. Zero reads until the
// context is cancelled.
func WithSamples(n int) Option {
	return func(r *Reader) { r.samples = n }
}

// WithMaxRetries bounds the warnings tolerated over the whole session. A
// negative value retries forever.
func WithMaxRetries(n int) Option {
	return func(r *Reader) { r.maxRetries = n }
}

// WithClock replaces the clock used for timestamps and sleeps.
func WithClock(c timeutil.Clock) Option {
	return func(r *Reader) { r.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// New returns a closed Reader for s over port.
func New(s *sensor.Sensor, port transport.Transport, opts ...Option) *Reader {
	r := &Reader{
		sensor:     s,
		port:       port,
		maxRetries: -1,
		clock:      timeutil.RealClock{},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("sensor", s.Name, "session", uuid.NewString())
	return r
}

// NewSerial returns a Reader over the serial device at path, opened at the
// family's baud rate.
func NewSerial(s *sensor.Sensor, path string, timeout time.Duration, opts ...Option) *Reader {
	port := transport.NewSerial(path, transport.PortOptions{BaudRate: s.Baud}, timeout)
	return New(s, port, opts...)
}

// Sensor returns the family this reader speaks.
func (r *Reader) Sensor() *sensor.Sensor { return r.sensor }

// Failures returns the number of warnings seen so far.
func (r *Reader) Failures() int { return r.failures }

// Open wakes the sensor, waits for it to pre-heat on the first open of the
// session and switches it to passive mode.
func (r *Reader) Open(ctx context.Context) error {
	if err := r.port.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnableToOpen, err)
	}
	if err := r.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}

	buf, err := r.command(sensor.Wake)
	if err != nil {
		return err
	}
	if !r.preheated && r.sensor.PreHeat > 0 {
		r.logger.Info("pre-heating sensor", "duration", r.sensor.PreHeat)
		if err := r.clock.Sleep(ctx, r.sensor.PreHeat); err != nil {
			return err
		}
	}
	r.preheated = true

	mode, err := r.command(sensor.PassiveMode)
	if err != nil {
		return err
	}
	buf = append(buf, mode...)

	if len(buf) == 0 {
		return fmt.Errorf("%w: %s did not respond", ErrUnableToOpen, r.sensor.Name)
	}
	if !r.sensor.Check(buf, sensor.PassiveMode) {
		return fmt.Errorf("%w: %s failed validation, answer %X", ErrUnableToOpen, r.sensor.Name, buf)
	}

	r.open = true
	r.logger.Info("sensor open", "interval", r.interval, "samples", r.samples)
	return nil
}

// Close puts the sensor to sleep and closes the transport. The sleep
// command is best effort; the transport is closed regardless.
func (r *Reader) Close() error {
	if r.port.IsOpen() {
		if _, err := r.command(sensor.Sleep); err != nil {
			r.logger.Debug("sleep command failed", "err", err)
		}
	}
	r.open = false
	if err := r.port.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	r.logger.Info("sensor closed", "failures", r.failures)
	return nil
}

// Observations yields decoded observations until the sample quota is met,
// the context is cancelled or a fatal error occurs. A fatal error is
// yielded once and ends the sequence.
func (r *Reader) Observations(ctx context.Context) iter.Seq2[sensor.Observation, error] {
	return func(yield func(sensor.Observation, error) bool) {
		err := r.loop(ctx, func(_ sensor.RawMessage, obs sensor.Observation) bool {
			return yield(obs, nil)
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// RawMessages is Observations for the undecoded answers. Messages are still
// decoded so that only valid answers are yielded.
func (r *Reader) RawMessages(ctx context.Context) iter.Seq2[sensor.RawMessage, error] {
	return func(yield func(sensor.RawMessage, error) bool) {
		err := r.loop(ctx, func(msg sensor.RawMessage, _ sensor.Observation) bool {
			return yield(msg, nil)
		})
		if err != nil {
			yield(sensor.RawMessage{}, err)
		}
	}
}

func (r *Reader) loop(ctx context.Context, yield func(sensor.RawMessage, sensor.Observation) bool) error {
	if !r.open {
		return ErrNotOpen
	}
	for n := 0; ; {
		msg, obs, err := r.sample(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		n++
		if !yield(msg, obs) {
			return nil
		}
		if r.samples > 0 && n >= r.samples {
			return nil
		}
		if wait := r.interval - r.clock.Since(time.Unix(obs.Time(), 0)); wait > 0 {
			if err := r.clock.Sleep(ctx, wait); err != nil {
				return nil
			}
		}
	}
}

// sample polls until one answer decodes, spending the retry budget on
// warnings.
func (r *Reader) sample(ctx context.Context) (sensor.RawMessage, sensor.Observation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return sensor.RawMessage{}, nil, err
		}
		buf, err := r.command(sensor.PassiveRead)
		if err != nil {
			return sensor.RawMessage{}, nil, err
		}
		t := r.clock.Now().Unix()

		obs, err := r.sensor.Decode(buf, t)
		if err == nil {
			return sensor.RawMessage{Time: t, Sensor: r.sensor.Name, Data: buf}, obs, nil
		}
		if !errors.Is(err, sensor.ErrSensorWarning) {
			return sensor.RawMessage{}, nil, err
		}

		r.failures++
		if r.maxRetries >= 0 && r.failures > r.maxRetries {
			return sensor.RawMessage{}, nil, fmt.Errorf("%w after %d failures: %w", ErrRetriesExhausted, r.failures, err)
		}
		r.logger.Warn("sensor warning, retrying", "err", err, "failures", r.failures)

		if errors.Is(err, sensor.ErrSensorWarmingUp) {
			if err := r.clock.Sleep(ctx, WarmUpWait); err != nil {
				return sensor.RawMessage{}, nil, err
			}
			continue
		}
		if err := r.port.ResetInputBuffer(); err != nil {
			return sensor.RawMessage{}, nil, fmt.Errorf("reset input buffer: %w", err)
		}
	}
}

// command sends op, when the family has a command for it, and performs the
// single read of its answer.
func (r *Reader) command(op sensor.Op) ([]byte, error) {
	cmd := r.sensor.Command(op)
	if len(cmd.Command) > 0 {
		if _, err := r.port.Write(cmd.Command); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := r.port.Flush(); err != nil {
			return nil, fmt.Errorf("%s: flush: %w", op, err)
		}
	}
	waiting, err := r.port.BytesWaiting()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	buf, err := r.port.Read(max(cmd.AnswerLength, waiting))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.logger.Debug("sensor answer", "op", op.String(), "hex", hex.EncodeToString(buf))
	return buf, nil
}

// Run opens r, hands every observation to fn and closes r, even when
// reading fails.
func Run(ctx context.Context, r *Reader, fn func(sensor.Observation) error) (err error) {
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := r.Open(ctx); err != nil {
		return err
	}
	for obs, err := range r.Observations(ctx) {
		if err != nil {
			return err
		}
		if err := fn(obs); err != nil {
			return err
		}
	}
	return nil
}

// RunRaw is Run for raw messages.
func RunRaw(ctx context.Context, r *Reader, fn func(sensor.RawMessage) error) (err error) {
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := r.Open(ctx); err != nil {
		return err
	}
	for msg, err := range r.RawMessages(ctx) {
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}
