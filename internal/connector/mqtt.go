package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// MQTTOptions configures the shared broker connection every flow
// multiplexes its subscriptions and publishes through.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTT is the single broker connection shared by all flows (the mapper also
// publishes its health status on it), mirroring the bromq bridge manager's one-client-per-broker
// shape rather than opening a connection per flow.
type MQTT struct {
	client mqtt.Client
	log    *logging.Scoped

	mu   sync.Mutex
	subs map[string]chan<- message.Message
}

// NewMQTT dials broker and blocks until the connection succeeds or ctx is
// cancelled. AutoReconnect and a connection-lost handler are installed so
// later drops are retried with the client's own exponential backoff
// instead of the mapper reimplementing one.
func NewMQTT(ctx context.Context, opts MQTTOptions, log *logging.Scoped) (*MQTT, error) {
	if log == nil {
		log = logging.NewScoped(nil, nil)
	}
	log = log.With("component", "mqttconn").With("broker", opts.Broker)

	m := &MQTT{log: log, subs: make(map[string]chan<- message.Message)}

	copts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) { log.Info("mqtt connected") }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost, reconnecting")
		})
	if opts.Username != "" {
		copts = copts.SetUsername(opts.Username).SetPassword(opts.Password)
	}

	m.client = mqtt.NewClient(copts)
	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqttconn: connect to %s: %w", opts.Broker, ctx.Err())
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("mqttconn: connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttconn: connect to %s: %w", opts.Broker, err)
	}
	return m, nil
}

// Disconnect closes the broker connection.
func (m *MQTT) Disconnect() {
	m.client.Disconnect(250)
}

// Subscribe routes every message received on filter to out. Subscriptions
// are multiplexed on one client; multiple flows may subscribe to
// overlapping filters.
func (m *MQTT) Subscribe(ctx context.Context, filter string, qos byte, out chan<- message.Message) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case out <- message.Message{
			Topic:     msg.Topic(),
			Payload:   append([]byte(nil), msg.Payload()...),
			QoS:       msg.Qos(),
			Retained:  msg.Retained(),
			Timestamp: time.Now(),
		}:
		case <-ctx.Done():
		}
	}

	token := m.client.Subscribe(filter, qos, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttconn: subscribe to %s timed out", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttconn: subscribe to %s: %w", filter, err)
	}

	m.mu.Lock()
	m.subs[filter] = out
	m.mu.Unlock()

	m.log.With("filter", filter).Debug("subscribed")
	return nil
}

// Unsubscribe tears down a previously registered filter, used on flow
// reload/teardown.
func (m *MQTT) Unsubscribe(filter string) error {
	token := m.client.Unsubscribe(filter)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttconn: unsubscribe from %s timed out", filter)
	}
	m.mu.Lock()
	delete(m.subs, filter)
	m.mu.Unlock()
	return token.Error()
}

// Publish publishes msg, satisfying the Sink interface.
func (m *MQTT) Publish(ctx context.Context, msg message.Message) error {
	token := m.client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()
	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mqttSource adapts one Subscribe filter to the Source interface so the
// flow engine can treat an MQTT input the same as a file or process input.
type mqttSource struct {
	conn   *MQTT
	filter string
	qos    byte
}

// NewMQTTSource returns a Source that subscribes to filter on Run and
// unsubscribes when ctx is cancelled.
func NewMQTTSource(conn *MQTT, filter string, qos byte) Source {
	return &mqttSource{conn: conn, filter: filter, qos: qos}
}

func (s *mqttSource) Run(ctx context.Context, out chan<- message.Message) error {
	if err := s.conn.Subscribe(ctx, s.filter, s.qos, out); err != nil {
		return err
	}
	<-ctx.Done()
	return s.conn.Unsubscribe(s.filter)
}
