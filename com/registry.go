package com

import "sync"

// inbound is one received message on its way to observers: the raw
// tuple plus, for coaty events, the parsed envelope.
type inbound struct {
	topic   string
	payload []byte
	event   *Event
}

// registryObserver is one observer attached to a topic filter. The
// deliver function runs on the dispatch loop and must not block; it
// pushes into the observer's pump.
type registryObserver struct {
	id      int
	filter  string
	raw     bool
	deliver func(inbound)
}

// subscriptionEntry pairs a topic filter with the set of observers
// currently interested, in insertion order.
type subscriptionEntry struct {
	filter    string
	observers []*registryObserver
}

// subscriptionRegistry maps topic-filter strings to their observer sets
// and reference-counts broker subscriptions: a filter is subscribed on
// the broker exactly while its observer set is non-empty.
//
// Thread Safety:
//   - All methods are safe for concurrent use; broker calls happen
//     outside the lock.
type subscriptionRegistry struct {
	mu        sync.Mutex
	transport Transport
	entries   map[string]*subscriptionEntry
	nextID    int
}

// newSubscriptionRegistry creates an empty registry over the transport.
func newSubscriptionRegistry(transport Transport) *subscriptionRegistry {
	return &subscriptionRegistry{
		transport: transport,
		entries:   make(map[string]*subscriptionEntry),
	}
}

// attach adds an observer for the filter. The first observer on a filter
// issues the broker subscribe.
//
// Returns:
//   - *registryObserver: The detach handle
//   - error: Broker subscribe failure (the observer is still attached;
//     restoration on reconnect retries the subscribe)
func (r *subscriptionRegistry) attach(filter string, raw bool, deliver func(inbound)) (*registryObserver, error) {
	r.mu.Lock()
	entry, ok := r.entries[filter]
	if !ok {
		entry = &subscriptionEntry{filter: filter}
		r.entries[filter] = entry
	}
	r.nextID++
	obs := &registryObserver{
		id:      r.nextID,
		filter:  filter,
		raw:     raw,
		deliver: deliver,
	}
	entry.observers = append(entry.observers, obs)
	first := len(entry.observers) == 1
	r.mu.Unlock()

	if first {
		if err := r.transport.Subscribe(filter); err != nil {
			return obs, err
		}
	}
	return obs, nil
}

// detach removes an observer. The last observer on a filter issues the
// broker unsubscribe.
func (r *subscriptionRegistry) detach(obs *registryObserver) {
	if obs == nil {
		return
	}
	r.mu.Lock()
	entry, ok := r.entries[obs.filter]
	if !ok {
		r.mu.Unlock()
		return
	}
	removed := false
	for i, o := range entry.observers {
		if o.id == obs.id {
			entry.observers = append(entry.observers[:i], entry.observers[i+1:]...)
			removed = true
			break
		}
	}
	empty := len(entry.observers) == 0
	if empty {
		delete(r.entries, obs.filter)
	}
	r.mu.Unlock()

	if removed && empty {
		// Unsubscribe failures are ignored; a dangling broker
		// subscription with no observers only costs dropped dispatches.
		_ = r.transport.Unsubscribe(obs.filter)
	}
}

// observersFor snapshots the observers whose filter matches the topic,
// preserving per-entry insertion order.
func (r *subscriptionRegistry) observersFor(topic string) []*registryObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*registryObserver
	for filter, entry := range r.entries {
		if filterMatches(filter, topic) {
			matched = append(matched, entry.observers...)
		}
	}
	return matched
}

// filters snapshots the currently registered filter strings.
func (r *subscriptionRegistry) filters() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs := make([]string, 0, len(r.entries))
	for f := range r.entries {
		fs = append(fs, f)
	}
	return fs
}

// resubscribeAll re-issues a broker subscribe for every filter with a
// non-empty observer set. Called on reconnect, before queued publishes
// are flushed.
func (r *subscriptionRegistry) resubscribeAll() {
	for _, f := range r.filters() {
		_ = r.transport.Subscribe(f)
	}
}

// unsubscribeAll removes every filter from the broker but keeps the
// observer sets, so a later start restores them.
func (r *subscriptionRegistry) unsubscribeAll() {
	for _, f := range r.filters() {
		_ = r.transport.Unsubscribe(f)
	}
}

// empty reports whether no observers are attached at all.
func (r *subscriptionRegistry) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) == 0
}

// filterMatches evaluates MQTT topic-filter matching: '+' matches one
// level, '#' matches the remaining tail (including zero levels), all
// other levels match exactly.
func filterMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fl := splitLevels(filter)
	tl := splitLevels(topic)
	i := 0
	for ; i < len(fl); i++ {
		if fl[i] == "#" {
			// '#' must be the last filter level; it matches the whole
			// remaining tail, including zero levels ("a/#" matches "a").
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if fl[i] != "+" && fl[i] != tl[i] {
			return false
		}
	}
	return i == len(tl)
}

// splitLevels splits a topic into its levels.
func splitLevels(topic string) []string {
	levels := []string{}
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			levels = append(levels, topic[start:i])
			start = i + 1
		}
	}
	return append(levels, topic[start:])
}
