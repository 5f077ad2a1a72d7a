package com

import "sync"

// Subscription is a handle on an observed event stream. Events arrive on
// Events() in broker arrival order; callbacks for one subscription never
// interleave. Cancel detaches the observer and, if it was the last one
// on the underlying topic filter, unsubscribes from the broker.
type Subscription struct {
	queue *pump[*Event]
	obs   *registryObserver
	mgr   *Manager
	once  sync.Once
}

// Events returns the event delivery channel. It is closed on Cancel and
// on manager shutdown.
func (s *Subscription) Events() <-chan *Event {
	return s.queue.Out()
}

// Cancel detaches the observer and closes the channel. Events still
// buffered for this subscription are dropped; no new events are
// delivered. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mgr.registry.detach(s.obs)
		s.queue.Close()
		s.mgr.dropSubscription(s)
	})
}

// RawMessage is one raw observation: the concrete topic the message
// arrived on paired with its opaque payload.
type RawMessage struct {
	Topic   string
	Payload []byte
}

// RawSubscription is a handle on an observed raw topic filter. Raw
// observations bypass the coaty topic grammar: no version check, no echo
// suppression, payloads delivered verbatim.
type RawSubscription struct {
	queue *pump[RawMessage]
	obs   *registryObserver
	mgr   *Manager
	once  sync.Once
}

// Messages returns the raw delivery channel.
func (s *RawSubscription) Messages() <-chan RawMessage {
	return s.queue.Out()
}

// Cancel detaches the observer. Idempotent.
func (s *RawSubscription) Cancel() {
	s.once.Do(func() {
		s.mgr.registry.detach(s.obs)
		s.queue.Close()
		s.mgr.dropRawSubscription(s)
	})
}

// StateSubscription is a handle on the manager's operating-state stream.
// Observers receive the current state on attach, then a strictly
// monotone subsequence of transitions.
type StateSubscription struct {
	queue *pump[OperatingState]
	mgr   *Manager
	once  sync.Once
}

// States returns the state delivery channel.
func (s *StateSubscription) States() <-chan OperatingState {
	return s.queue.Out()
}

// Cancel detaches the observer. Idempotent.
func (s *StateSubscription) Cancel() {
	s.once.Do(func() {
		s.mgr.dropStateSubscription(s)
		s.queue.Close()
	})
}
