package com

import (
	"errors"
	"sync"
	"time"
)

// fakeBroker is an in-process loopback broker connecting any number of
// fakeTransports. It implements MQTT-style filter matching and supports
// toggling reachability to exercise the reconnect paths.
type fakeBroker struct {
	mu        sync.Mutex
	reachable bool
	clients   []*fakeTransport
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{reachable: true}
}

// transport creates a new client of this broker.
func (b *fakeBroker) transport() *fakeTransport {
	t := &fakeTransport{
		broker:           b,
		subs:             make(map[string]bool),
		subscribeCalls:   make(map[string]int),
		unsubscribeCalls: make(map[string]int),
		events:           make(chan ConnectionEvent, 64),
		messages:         make(chan InboundMessage, 1024),
	}
	b.mu.Lock()
	b.clients = append(b.clients, t)
	b.mu.Unlock()
	return t
}

// setReachable toggles broker availability. Becoming unreachable
// disconnects every connected client; becoming reachable connects every
// client with a pending connect request.
func (b *fakeBroker) setReachable(reachable bool) {
	b.mu.Lock()
	b.reachable = reachable
	clients := append([]*fakeTransport(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		if reachable {
			c.maybeConnect()
		} else {
			c.disconnect(errors.New("broker unreachable"))
		}
	}
}

// route delivers a published message to every connected client with a
// matching subscription, one copy per client.
func (b *fakeBroker) route(topic string, payload []byte) {
	b.mu.Lock()
	clients := append([]*fakeTransport(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		c.receive(topic, payload)
	}
}

// fakeTransport implements Transport against a fakeBroker.
type fakeTransport struct {
	broker *fakeBroker

	mu               sync.Mutex
	connectRequested bool
	connected        bool
	will             *Will
	subs             map[string]bool
	subscribeCalls   map[string]int
	unsubscribeCalls map[string]int

	events   chan ConnectionEvent
	messages chan InboundMessage
}

func (t *fakeTransport) Connect(will *Will) error {
	t.mu.Lock()
	t.connectRequested = true
	t.will = will
	t.mu.Unlock()

	t.broker.mu.Lock()
	reachable := t.broker.reachable
	t.broker.mu.Unlock()

	if reachable {
		t.maybeConnect()
	} else {
		// Mirror a failed connection attempt; auto-reconnect brings the
		// client up once the broker is reachable again.
		t.events <- ConnectionEvent{Kind: ConnectionDown, Err: errors.New("broker unreachable")}
	}
	return nil
}

func (t *fakeTransport) maybeConnect() {
	t.mu.Lock()
	if !t.connectRequested || t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = true
	t.mu.Unlock()
	t.events <- ConnectionEvent{Kind: ConnectionUp}
}

func (t *fakeTransport) disconnect(err error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.mu.Unlock()
	t.events <- ConnectionEvent{Kind: ConnectionDown, Err: err}
}

func (t *fakeTransport) Disconnect(time.Duration) {
	t.mu.Lock()
	t.connectRequested = false
	t.connected = false
	t.mu.Unlock()
}

func (t *fakeTransport) Subscribe(filter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[filter] = true
	t.subscribeCalls[filter]++
	return nil
}

func (t *fakeTransport) Unsubscribe(filter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, filter)
	t.unsubscribeCalls[filter]++
	return nil
}

func (t *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return errors.New("fake transport: not connected")
	}
	t.broker.route(topic, payload)
	return nil
}

// receive delivers a routed message if this client holds a matching
// subscription.
func (t *fakeTransport) receive(topic string, payload []byte) {
	t.mu.Lock()
	connected := t.connected
	matched := false
	for filter := range t.subs {
		if filterMatches(filter, topic) {
			matched = true
			break
		}
	}
	t.mu.Unlock()

	if connected && matched {
		t.messages <- InboundMessage{Topic: topic, Payload: payload}
	}
}

func (t *fakeTransport) ConnectionEvents() <-chan ConnectionEvent {
	return t.events
}

func (t *fakeTransport) Messages() <-chan InboundMessage {
	return t.messages
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// subscribeBalance returns subscribe minus unsubscribe calls for a filter.
func (t *fakeTransport) subscribeBalance(filter string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeCalls[filter] - t.unsubscribeCalls[filter]
}
