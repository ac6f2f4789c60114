// Package sink delivers decoded observations to files, brokers and
// time-series databases.
package sink

import (
	"context"

	"github.com/banshee-data/pms/internal/sensor"
)

// Sink consumes observations one at a time.
type Sink interface {
	Publish(ctx context.Context, obs sensor.Observation) error
	Close() error
}
