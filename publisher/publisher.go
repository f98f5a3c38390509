package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cepro/chargecontroller/config"
	"github.com/cepro/chargecontroller/telemetry"
	paho "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/exp/slog"
)

const (
	qos                  = 1
	connectTimeout       = 10 * time.Second
	connectRetryInterval = 30 * time.Second
	publishTimeout       = 5 * time.Second
	decimalPlaces        = 2
)

// errNotConnected is returned by Publish while there is no open connection to the broker.
var errNotConnected = errors.New("publish: broker not connected")

// client is the subset of paho.Client that is used for publishing.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Publisher streams charge controller readings to an MQTT broker.
// Put new readings onto the `Readings` channel, they are published as JSON as soon as possible. Readings are not
// stored, if the broker is unavailable they are dropped.
type Publisher struct {
	Readings chan telemetry.ChargeControllerReading

	client client
	topic  string
	logger *slog.Logger
}

func New(cfg config.MQTTConfig) *Publisher {

	logger := slog.Default().With("broker", cfg.Broker, "topic", cfg.Topic)

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true) // keep trying if the broker is down at startup
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("Lost connection to MQTT broker", "error", err)
	})

	return newPublisher(paho.NewClient(opts), cfg.Topic, logger)
}

func newPublisher(c client, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		Readings: make(chan telemetry.ChargeControllerReading, 10), // a small buffer in case the broker is slow
		client:   c,
		topic:    topic,
		logger:   logger,
	}
}

// Connect starts connecting to the broker and waits a short while for the first connection.
//
// If the broker cannot be reached the client keeps retrying in the background and Connect returns without error,
// readings are dropped until the connection is up. An error is only returned if the connection attempt was rejected.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.logger.Warn("MQTT broker not reachable, retrying in the background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	return nil
}

// Run loops forever waiting for readings, when they are available they are published.
func (p *Publisher) Run(ctx context.Context) {
	defer p.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return
		case reading := <-p.Readings:
			err := p.Publish(reading)
			if errors.Is(err, errNotConnected) {
				p.logger.Warn("Dropped reading, not connected to MQTT broker", "reading_id", reading.ID)
				continue
			}
			if err != nil {
				p.logger.Error("Failed to publish reading", "error", err)
				continue
			}
			p.logger.Debug("Published reading", "reading_id", reading.ID)
		}
	}
}

// Publish sends a single reading to the broker and waits for it to be acknowledged.
func (p *Publisher) Publish(reading telemetry.ChargeControllerReading) error {
	if !p.client.IsConnectionOpen() {
		return errNotConnected
	}

	payload, err := Payload(reading)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// message is the JSON document sent for each reading.
type message struct {
	telemetry.ReadingMeta
	Metrics map[string]telemetry.StatusRecord `json:"metrics"`
}

// Payload renders a reading as JSON, with the metric values rounded for display and keyed by label.
func Payload(reading telemetry.ChargeControllerReading) ([]byte, error) {
	msg := message{
		ReadingMeta: reading.ReadingMeta,
		Metrics:     make(map[string]telemetry.StatusRecord, len(reading.Records)),
	}
	for label, record := range reading.Records {
		msg.Metrics[label] = record.Rounded(decimalPlaces)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal reading: %w", err)
	}
	return payload, nil
}
