package sensor

import (
	"errors"
	"fmt"
)

// ErrSensorWarning is the parent of every recoverable decode failure. The
// message is discarded and the caller may retry.
var ErrSensorWarning = errors.New("sensor warning")

var (
	ErrWrongFormat             = fmt.Errorf("%w: wrong message format", ErrSensorWarning)
	ErrWrongChecksum           = fmt.Errorf("%w: wrong message checksum", ErrSensorWarning)
	ErrSensorWarmingUp         = fmt.Errorf("%w: sensor warming up", ErrSensorWarning)
	ErrInconsistentObservation = fmt.Errorf("%w: inconsistent observation", ErrSensorWarning)
)

var (
	// ErrUnknownSensor is returned by Lookup for names outside the catalogue.
	ErrUnknownSensor = errors.New("unknown sensor")

	// ErrUnsupportedRender is returned by Observation.Render for modes the
	// observation type has no layout for.
	ErrUnsupportedRender = errors.New("unsupported render mode")
)
