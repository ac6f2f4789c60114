package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/banshee-data/pms/internal/sensor"
)

// InfluxOptions addresses an InfluxDB v2 bucket.
type InfluxOptions struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Location string
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes one point per observation, measured under the sensor name
// and tagged with the location.
type Influx struct {
	client   influxdb2.Client
	writer   pointWriter
	location string
}

// NewInflux creates a blocking writer for opts.
func NewInflux(opts InfluxOptions) *Influx {
	client := influxdb2.NewClient(opts.URL, opts.Token)
	return &Influx{
		client:   client,
		writer:   client.WriteAPIBlocking(opts.Org, opts.Bucket),
		location: opts.Location,
	}
}

// Point converts obs to an InfluxDB point.
func (i *Influx) Point(obs sensor.Observation) *write.Point {
	fields := make(map[string]interface{})
	for _, f := range obs.Fields() {
		fields[f.Name] = f.Value
	}
	return influxdb2.NewPoint(
		obs.Sensor(),
		map[string]string{"location": i.location},
		fields,
		time.Unix(obs.Time(), 0),
	)
}

// Publish writes obs and waits for the server.
func (i *Influx) Publish(ctx context.Context, obs sensor.Observation) error {
	if err := i.writer.WritePoint(ctx, i.Point(obs)); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Influx) Close() error {
	if i.client != nil {
		i.client.Close()
	}
	return nil
}
