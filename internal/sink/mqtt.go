package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/pms/internal/sensor"
)

// ErrNotConnected is returned by Publish before Connect succeeds.
var ErrNotConnected = errors.New("mqtt client not connected")

// publishTimeout bounds the wait for each broker acknowledgement.
const publishTimeout = 5 * time.Second

// MQTTOptions addresses the broker.
type MQTTOptions struct {
	Broker   string // tcp://host:port
	Topic    string
	User     string
	Password string
	ClientID string // generated when empty
}

// mqttClient is the part of mqtt.Client the sink uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTT publishes each field of an observation to `<topic>/<sensor>/<field>`.
// Field metadata is published once per sensor as retained `$name` and `$unit`
// topics.
type MQTT struct {
	client mqttClient
	topic  string
	logger *slog.Logger

	mu        sync.Mutex
	announced map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTT builds a paho client for opts. It does not connect.
func NewMQTT(opts MQTTOptions, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "pms-" + uuid.NewString()
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(clientID)
	if opts.User != "" {
		o.SetUsername(opts.User)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(5 * time.Second)
	o.SetMaxReconnectInterval(60 * time.Second)
	o.SetKeepAlive(30 * time.Second)
	o.SetPingTimeout(10 * time.Second)
	o.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", opts.Broker, "client_id", clientID)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	return newMQTT(mqtt.NewClient(o), opts.Topic, logger)
}

func newMQTT(client mqttClient, topic string, logger *slog.Logger) *MQTT {
	return &MQTT{
		client:    client,
		topic:     topic,
		logger:    logger,
		announced: make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Connect waits for the initial broker connection, honouring ctx and Close.
func (m *MQTT) Connect(ctx context.Context) error {
	select {
	case <-m.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}
	if m.client.IsConnected() {
		return nil
	}

	token := m.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// Topic returns the topic of a field.
func (m *MQTT) Topic(sensorName, field string) string {
	return fmt.Sprintf("%s/%s/%s", m.topic, sensorName, field)
}

// Publish sends every field of obs.
func (m *MQTT) Publish(_ context.Context, obs sensor.Observation) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	fields := obs.Fields()

	if err := m.announce(obs.Sensor(), fields); err != nil {
		return err
	}
	for _, f := range fields {
		if err := m.send(m.Topic(obs.Sensor(), f.Name), false, f.String()); err != nil {
			return err
		}
	}
	m.logger.Debug("published observation", "sensor", obs.Sensor(), "time", obs.Time(), "fields", len(fields))
	return nil
}

func (m *MQTT) announce(sensorName string, fields []sensor.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.announced[sensorName] {
		return nil
	}
	for _, f := range fields {
		base := m.Topic(sensorName, f.Name)
		if err := m.send(base+"/$name", true, f.Meta.LongName); err != nil {
			return err
		}
		if err := m.send(base+"/$unit", true, f.Meta.Unit); err != nil {
			return err
		}
	}
	m.announced[sensorName] = true
	return nil
}

func (m *MQTT) send(topic string, retained bool, payload string) error {
	token := m.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		m.logger.Error("failed to publish", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker. It is safe to call more than once.
func (m *MQTT) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	})
	return nil
}
