package com

import (
	"fmt"
	"sync"
)

// tokenAllocator produces per-process-unique message tokens in canonical
// form "<senderObjectId>_<counter>". A fresh sender uses counter 0 for
// its first token when an associated user is present, else 1; the
// counter increments monotonically. The convention mirrors the wire
// behavior of existing peers and is preserved for compatibility.
type tokenAllocator struct {
	mu       sync.Mutex
	senderID string
	counter  uint64
}

// newTokenAllocator creates an allocator for the sender identity.
func newTokenAllocator(senderID string, hasAssociatedUser bool) *tokenAllocator {
	start := uint64(1)
	if hasAssociatedUser {
		start = 0
	}
	return &tokenAllocator{senderID: senderID, counter: start}
}

// next returns a fresh token.
func (a *tokenAllocator) next() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	token := fmt.Sprintf("%s_%d", a.senderID, a.counter)
	a.counter++
	return token
}

// requestState tracks the lifecycle of a response sequence.
type requestState int

const (
	// requestIdle: created, no observer attached, nothing published.
	requestIdle requestState = iota

	// requestOpen: observer attached, response filter subscribed,
	// request published.
	requestOpen

	// requestClosed: observer detached; the sequence is terminated and
	// may never be re-observed.
	requestClosed
)

// RequestSubscription correlates one published request with its lazy,
// unbounded sequence of responses.
//
// The request is not published until the first call to Responses(); the
// response filter is subscribed first, so no response can race ahead of
// the subscription. Cancel() detaches the observer and terminates the
// sequence; observing a terminated sequence fails with
// ErrResubscribeForbidden.
type RequestSubscription struct {
	mgr        *Manager
	request    *Event
	token      string
	respFilter string

	mu    sync.Mutex
	state requestState
	queue *pump[*Event]
	obs   *registryObserver
}

// Responses lazily activates the request and returns its response
// channel. The first call subscribes the response filter and then
// publishes the request; subsequent calls while active return the same
// channel.
//
// Returns:
//   - <-chan *Event: Responses in broker arrival order, cross-linked to
//     the request via Event.Request()
//   - error: ErrResubscribeForbidden after Cancel, ErrShutDown after
//     manager shutdown
func (s *RequestSubscription) Responses() (<-chan *Event, error) {
	s.mu.Lock()
	switch s.state {
	case requestOpen:
		out := s.queue.Out()
		s.mu.Unlock()
		return out, nil
	case requestClosed:
		s.mu.Unlock()
		s.mgr.mu.Lock()
		shutDown := s.mgr.isShutDown
		s.mgr.mu.Unlock()
		if shutDown {
			return nil, ErrShutDown
		}
		return nil, ErrResubscribeForbidden
	}

	s.queue = newPump[*Event]()
	queue := s.queue
	request := s.request
	s.state = requestOpen
	s.mu.Unlock()

	obs, err := s.mgr.openRequest(s, func(msg inbound) {
		msg.event.request = request
		queue.Push(msg.event)
	})
	if err != nil {
		s.mu.Lock()
		s.state = requestClosed
		s.mu.Unlock()
		queue.Close()
		return nil, err
	}

	s.mu.Lock()
	s.obs = obs
	out := queue.Out()
	s.mu.Unlock()
	return out, nil
}

// Cancel detaches the observer and terminates the response sequence.
// No new responses are delivered; responses already in flight may or may
// not arrive. Idempotent.
func (s *RequestSubscription) Cancel() {
	s.mu.Lock()
	if s.state == requestClosed {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == requestOpen
	s.state = requestClosed
	obs := s.obs
	queue := s.queue
	s.obs = nil
	s.mu.Unlock()

	if wasOpen {
		s.mgr.closeRequest(s, obs)
	} else {
		s.mgr.correlation.remove(s.token)
	}
	if queue != nil {
		queue.Close()
	}
}

// Request returns the cached outgoing request event.
func (s *RequestSubscription) Request() *Event {
	return s.request
}

// correlationEngine owns the arena of pending requests indexed by
// message token. Invariant: at most one pending entry per token.
type correlationEngine struct {
	mu      sync.Mutex
	tokens  *tokenAllocator
	pending map[string]*RequestSubscription
}

// newCorrelationEngine creates an engine for the sender identity.
func newCorrelationEngine(senderID string, hasAssociatedUser bool) *correlationEngine {
	return &correlationEngine{
		tokens:  newTokenAllocator(senderID, hasAssociatedUser),
		pending: make(map[string]*RequestSubscription),
	}
}

// newRequest allocates a token and creates the pending-request record
// for a validated request event.
func (c *correlationEngine) newRequest(mgr *Manager, request *Event, respType EventType, respSuffix string) *RequestSubscription {
	token := c.tokens.next()
	request.token = token
	sub := &RequestSubscription{
		mgr:        mgr,
		request:    request,
		token:      token,
		respFilter: responseFilter(respType, respSuffix, token),
	}
	c.mu.Lock()
	c.pending[token] = sub
	c.mu.Unlock()
	return sub
}

// remove deletes the pending record for the token.
func (c *correlationEngine) remove(token string) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}

// cancelAll terminates every outstanding request sequence. Used on
// shutdown.
func (c *correlationEngine) cancelAll() {
	c.mu.Lock()
	subs := make([]*RequestSubscription, 0, len(c.pending))
	for _, s := range c.pending {
		subs = append(subs, s)
	}
	c.pending = make(map[string]*RequestSubscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}
