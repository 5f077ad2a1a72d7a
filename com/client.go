package com

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client adapter errors.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the initial connection attempt
	// cannot be started.
	ErrConnectionFailed = errors.New("com: connection failed")

	// ErrPublishFailed is returned when a publish cannot be handed to the
	// transport.
	ErrPublishFailed = errors.New("com: publish failed")

	// ErrSubscribeFailed is returned when a broker subscribe fails.
	ErrSubscribeFailed = errors.New("com: subscribe failed")
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial
	// connection attempt to be accepted.
	defaultConnectTimeout = 10 * time.Second

	// defaultOpTimeout is the maximum time to wait for publish/subscribe
	// acknowledgment.
	defaultOpTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations
	// on disconnect.
	defaultDisconnectQuiesce = time.Second

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultQoS is the delivery QoS for coaty event topics.
	defaultQoS byte = 0

	// messageBufferSize bounds the inbound hand-off channel; the paho
	// callback blocks when the dispatch loop falls behind, which pushes
	// backpressure into the broker connection instead of dropping.
	messageBufferSize = 256

	// connEventBufferSize bounds the connection event channel.
	connEventBufferSize = 16
)

// ConnectionEventKind classifies transport connection transitions.
type ConnectionEventKind int

const (
	// ConnectionUp signals an established (or re-established) connection.
	ConnectionUp ConnectionEventKind = iota

	// ConnectionDown signals a lost connection.
	ConnectionDown

	// ConnectionReconnecting signals an automatic reconnection attempt.
	ConnectionReconnecting
)

// ConnectionEvent is one entry of the transport's connection stream.
type ConnectionEvent struct {
	Kind ConnectionEventKind
	Err  error
}

// InboundMessage is a raw (topic, payload) tuple delivered by the broker.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// Will describes the last-will message registered with the broker: a
// synthetic Deadvertise for the manager's own component, so unexpected
// disconnects produce a visible event to peers.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Transport is the thin contract the communication core requires from an
// MQTT client. The production implementation wraps Eclipse Paho; tests
// substitute an in-process loopback broker.
type Transport interface {
	// Connect opens the broker connection. Idempotent; the will must be
	// registered before the connection attempt.
	Connect(will *Will) error

	// Disconnect closes the connection, waiting up to quiesce for
	// pending operations.
	Disconnect(quiesce time.Duration)

	// Subscribe registers a topic filter. Safe to call before Connect;
	// pending subscriptions are flushed on connect.
	Subscribe(filter string) error

	// Unsubscribe removes a topic filter. Safe to call before Connect.
	Unsubscribe(filter string) error

	// Publish hands a message to the transport.
	Publish(topic string, payload []byte, qos byte, retain bool) error

	// ConnectionEvents delivers {connected, reconnecting, disconnected}
	// transitions.
	ConnectionEvents() <-chan ConnectionEvent

	// Messages delivers inbound (topic, payload) tuples. Within a single
	// topic from a single sender, order is preserved.
	Messages() <-chan InboundMessage

	// IsConnected reports the last known connection state.
	IsConnected() bool
}

// TransportOptions configures the paho-backed transport.
type TransportOptions struct {
	// BrokerURL is the broker endpoint, e.g. "tcp://localhost:1883" or
	// "ws://localhost:9883/mqtt".
	BrokerURL string

	// ClientID identifies this client on the broker.
	ClientID string

	// Username/Password are optional broker credentials.
	Username string
	Password string

	// KeepAlive overrides the default keepalive interval.
	KeepAlive time.Duration

	// ConnectRetryInterval is the initial reconnect delay.
	ConnectRetryInterval time.Duration

	// MaxReconnectInterval caps the reconnect backoff.
	MaxReconnectInterval time.Duration
}

// mqttTransport adapts paho.mqtt.golang to the Transport contract.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions issued before connect are queued and flushed once
//     the connection is up.
type mqttTransport struct {
	opts TransportOptions

	mu        sync.Mutex
	client    pahomqtt.Client
	connected bool
	// pending holds filters subscribed before the connection came up.
	pending []string

	events   chan ConnectionEvent
	messages chan InboundMessage
}

// NewMQTTTransport creates a paho-backed transport for the given broker.
func NewMQTTTransport(opts TransportOptions) Transport {
	return &mqttTransport{
		opts:     opts,
		events:   make(chan ConnectionEvent, connEventBufferSize),
		messages: make(chan InboundMessage, messageBufferSize),
	}
}

// Connect opens the broker connection with auto-reconnect. Idempotent:
// a second call on a live transport is a no-op.
func (t *mqttTransport) Connect(will *Will) error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return nil
	}

	opts := t.buildClientOptions(will)
	t.client = pahomqtt.NewClient(opts)
	client := t.client
	t.mu.Unlock()

	token := client.Connect()
	// With connect retry enabled paho keeps trying in the background, so
	// an unreachable broker is not an immediate error; the connection
	// event stream reports the outcome.
	if token.WaitTimeout(defaultConnectTimeout) {
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}
	return nil
}

// buildClientOptions creates paho options from the transport options.
func (t *mqttTransport) buildClientOptions(will *Will) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(t.opts.BrokerURL)
	opts.SetClientID(t.opts.ClientID)
	if t.opts.Username != "" {
		opts.SetUsername(t.opts.Username)
		opts.SetPassword(t.opts.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if t.opts.ConnectRetryInterval > 0 {
		opts.SetConnectRetryInterval(t.opts.ConnectRetryInterval)
	}
	if t.opts.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(t.opts.MaxReconnectInterval)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := t.opts.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	// In-order synchronous delivery within a topic; the dispatch loop
	// relies on it.
	opts.SetOrderMatters(true)
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		t.messages <- InboundMessage{Topic: msg.Topic(), Payload: msg.Payload()}
	})

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		t.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		t.emit(ConnectionEvent{Kind: ConnectionReconnecting})
	})

	if will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retain)
	}
	return opts
}

// handleConnect flushes pre-connect subscriptions and emits the
// connected event.
func (t *mqttTransport) handleConnect() {
	t.mu.Lock()
	t.connected = true
	pending := t.pending
	t.pending = nil
	client := t.client
	t.mu.Unlock()

	for _, filter := range pending {
		client.Subscribe(filter, defaultQoS, nil)
	}
	t.emit(ConnectionEvent{Kind: ConnectionUp})
}

// handleDisconnect emits the disconnected event.
func (t *mqttTransport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.emit(ConnectionEvent{Kind: ConnectionDown, Err: err})
}

// emit delivers a connection event, dropping it if the consumer has
// fallen hopelessly behind (the state machine resynchronises on the next
// event).
func (t *mqttTransport) emit(ev ConnectionEvent) {
	select {
	case t.events <- ev:
	default:
	}
}

// Disconnect closes the connection after the quiesce period.
func (t *mqttTransport) Disconnect(quiesce time.Duration) {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.connected = false
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(uint(quiesce.Milliseconds()))
	}
}

// Subscribe registers a topic filter, queueing it while disconnected.
func (t *mqttTransport) Subscribe(filter string) error {
	t.mu.Lock()
	if !t.connected {
		t.pending = append(t.pending, filter)
		t.mu.Unlock()
		return nil
	}
	client := t.client
	t.mu.Unlock()

	token := client.Subscribe(filter, defaultQoS, nil)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe removes a topic filter; while disconnected it only clears
// the pending queue entry.
func (t *mqttTransport) Unsubscribe(filter string) error {
	t.mu.Lock()
	if !t.connected {
		for i, f := range t.pending {
			if f == filter {
				t.pending = append(t.pending[:i], t.pending[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		return nil
	}
	client := t.client
	t.mu.Unlock()

	token := client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Publish hands a message to the transport and returns once accepted.
func (t *mqttTransport) Publish(topic string, payload []byte, qos byte, retain bool) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil {
		return fmt.Errorf("%w: transport not connected", ErrPublishFailed)
	}
	token := client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// ConnectionEvents delivers connection transitions.
func (t *mqttTransport) ConnectionEvents() <-chan ConnectionEvent {
	return t.events
}

// Messages delivers inbound messages.
func (t *mqttTransport) Messages() <-chan InboundMessage {
	return t.messages
}

// IsConnected reports the last known connection state.
func (t *mqttTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
