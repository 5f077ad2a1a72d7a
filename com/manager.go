package com

import (
	"fmt"
	"sync"
	"time"

	"github.com/coatyio/coaty-go/logging"
	"github.com/coatyio/coaty-go/model"
)

// OperatingState is the lifecycle state of a communication manager
// visible to controllers and observers. Transitions form a cycle:
//
//	Initial → Starting → Online → Stopping → Offline → (Starting …)
//
// with the exception that a lost broker connection moves Online directly
// to Offline and automatic reconnection leads back through Starting.
type OperatingState string

const (
	OperatingStateInitial  OperatingState = "Initial"
	OperatingStateStarting OperatingState = "Starting"
	OperatingStateOnline   OperatingState = "Online"
	OperatingStateStopping OperatingState = "Stopping"
	OperatingStateOffline  OperatingState = "Offline"
)

// DefaultIdentityName is the fallback friendly name of the manager's
// identity component.
const DefaultIdentityName = "CommunicationManager"

// Options configures a communication manager.
type Options struct {
	// BrokerURL is the broker endpoint, e.g. "tcp://localhost:1883".
	BrokerURL string

	// IdentityName is the friendly name of the manager's identity
	// component; ignored when Identity is set.
	IdentityName string

	// Identity overrides the auto-created identity component.
	Identity *model.Component

	// AssociatedUser is included as the user level in topics.
	AssociatedUser *model.User

	// AssociatedDevice is advertised alongside the identity.
	AssociatedDevice *model.Device

	// UseReadableTopics prefixes identifiers with their sanitized names.
	UseReadableTopics bool

	// ShouldAdvertiseIdentity advertises the manager's own component on
	// Online and deadvertises it on Stopping.
	ShouldAdvertiseIdentity bool

	// ShouldAdvertiseDevice advertises AssociatedDevice on Online.
	ShouldAdvertiseDevice bool

	// MaxDeferredPublishes bounds the deferred publish queue used while
	// not Online. 0 means unbounded; when the bound is hit the oldest
	// entry is dropped with a warning.
	MaxDeferredPublishes int

	// Username/Password are optional broker credentials.
	Username string
	Password string

	// KeepAlive, ConnectRetryInterval and MaxReconnectInterval tune the
	// transport; zero values use transport defaults.
	KeepAlive            time.Duration
	ConnectRetryInterval time.Duration
	MaxReconnectInterval time.Duration

	// Transport overrides the paho-backed transport. Used by tests to
	// run against an in-process broker.
	Transport Transport
}

// DefaultOptions returns manager options with the conventional defaults:
// identity and device advertisement enabled, canonical topics, unbounded
// deferred publish queue.
func DefaultOptions(brokerURL string) Options {
	return Options{
		BrokerURL:               brokerURL,
		IdentityName:            DefaultIdentityName,
		ShouldAdvertiseIdentity: true,
		ShouldAdvertiseDevice:   true,
	}
}

// deferredPublish is one queued publish awaiting the Online state.
type deferredPublish struct {
	topic   string
	payload []byte
	retain  bool
}

// Manager is the communication manager of a Coaty agent: it owns the
// broker connection, the subscription registry and the correlation
// engine, and exposes the public observe/publish API.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - A single dispatch goroutine owns inbound routing; observer
//     callbacks for one subscription never interleave.
type Manager struct {
	opts        Options
	identity    *model.Component
	transport   Transport
	registry    *subscriptionRegistry
	correlation *correlationEngine
	log         *logging.Logger

	mu         sync.Mutex
	state      OperatingState
	isShutDown bool
	deferred   []deferredPublish
	stateSubs  map[*StateSubscription]struct{}
	eventSubs  map[*Subscription]struct{}
	rawSubs    map[*RawSubscription]struct{}

	dispatchStop chan struct{}
	dispatchDone chan struct{}
}

// NewManager creates a communication manager in the Initial state. The
// broker connection is not opened until Start.
func NewManager(opts Options, log *logging.Logger) (*Manager, error) {
	identity := opts.Identity
	if identity == nil {
		name := opts.IdentityName
		if name == "" {
			name = DefaultIdentityName
		}
		identity = model.NewComponent(name)
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}

	transport := opts.Transport
	if transport == nil {
		transport = NewMQTTTransport(TransportOptions{
			BrokerURL:            opts.BrokerURL,
			ClientID:             identity.ObjectID,
			Username:             opts.Username,
			Password:             opts.Password,
			KeepAlive:            opts.KeepAlive,
			ConnectRetryInterval: opts.ConnectRetryInterval,
			MaxReconnectInterval: opts.MaxReconnectInterval,
		})
	}

	m := &Manager{
		opts:         opts,
		identity:     identity,
		transport:    transport,
		log:          log.ForComponent("communication-manager"),
		state:        OperatingStateInitial,
		stateSubs:    make(map[*StateSubscription]struct{}),
		eventSubs:    make(map[*Subscription]struct{}),
		rawSubs:      make(map[*RawSubscription]struct{}),
		dispatchStop: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	m.registry = newSubscriptionRegistry(transport)
	m.correlation = newCorrelationEngine(identity.ObjectID, opts.AssociatedUser != nil)

	go m.dispatchLoop()
	return m, nil
}

// Identity returns the manager's identity component.
func (m *Manager) Identity() *model.Component {
	return m.identity
}

// OperatingState returns the current operating state.
func (m *Manager) OperatingState() OperatingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start opens the broker connection. Valid in the Initial and Offline
// states; the manager moves to Starting immediately and to Online once
// the broker's connect callback fires, after restoring subscriptions and
// flushing deferred publishes.
//
// Returns:
//   - error: ErrShutDown after shutdown, ErrInvalidState when already
//     started, or a transport error on immediate connection failure
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return ErrShutDown
	}
	if m.state != OperatingStateInitial && m.state != OperatingStateOffline {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, state)
	}
	m.mu.Unlock()

	m.setState(OperatingStateStarting)
	m.log.Info("starting", "broker", m.opts.BrokerURL)

	if err := m.transport.Connect(m.buildWill()); err != nil {
		// The transport keeps retrying in the background; the outcome
		// surfaces on the operating-state stream.
		m.log.Warn("initial connection attempt failed", "error", err)
		return err
	}
	return nil
}

// Stop closes the broker connection in an orderly fashion: publish the
// self-Deadvertise, drain pending publishes, unsubscribe all filters,
// disconnect, and move to Offline. Valid in Starting and Online.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return ErrShutDown
	}
	if m.state != OperatingStateStarting && m.state != OperatingStateOnline {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: stop in state %s", ErrInvalidState, state)
	}
	m.mu.Unlock()

	m.setState(OperatingStateStopping)
	m.log.Info("stopping")

	if m.transport.IsConnected() {
		m.publishDeadvertiseIdentity()
		m.drainDeferred()
	}
	m.registry.unsubscribeAll()
	m.transport.Disconnect(defaultDisconnectQuiesce)
	m.setState(OperatingStateOffline)
	return nil
}

// Shutdown stops the manager and irreversibly releases its resources:
// every outstanding observer is cancelled and further publish/observe
// calls fail with ErrShutDown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return
	}
	state := m.state
	m.mu.Unlock()

	if state == OperatingStateStarting || state == OperatingStateOnline {
		_ = m.Stop()
	}

	m.mu.Lock()
	m.isShutDown = true
	eventSubs := make([]*Subscription, 0, len(m.eventSubs))
	for s := range m.eventSubs {
		eventSubs = append(eventSubs, s)
	}
	rawSubs := make([]*RawSubscription, 0, len(m.rawSubs))
	for s := range m.rawSubs {
		rawSubs = append(rawSubs, s)
	}
	stateSubs := make([]*StateSubscription, 0, len(m.stateSubs))
	for s := range m.stateSubs {
		stateSubs = append(stateSubs, s)
	}
	m.mu.Unlock()

	m.correlation.cancelAll()
	for _, s := range eventSubs {
		s.Cancel()
	}
	for _, s := range rawSubs {
		s.Cancel()
	}
	for _, s := range stateSubs {
		s.Cancel()
	}

	close(m.dispatchStop)
	<-m.dispatchDone
	m.log.Info("shut down")
}

// setState performs a state transition and notifies state observers in
// transition order.
func (m *Manager) setState(state OperatingState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	for s := range m.stateSubs {
		s.queue.Push(state)
	}
	m.mu.Unlock()
	m.log.Debug("operating state changed", "state", state)
}

// ObserveOperatingState attaches an observer to the operating-state
// stream. The current state is delivered first, then every transition.
func (m *Manager) ObserveOperatingState() *StateSubscription {
	sub := &StateSubscription{queue: newPump[OperatingState](), mgr: m}
	m.mu.Lock()
	sub.queue.Push(m.state)
	m.stateSubs[sub] = struct{}{}
	m.mu.Unlock()
	return sub
}

func (m *Manager) dropStateSubscription(s *StateSubscription) {
	m.mu.Lock()
	delete(m.stateSubs, s)
	m.mu.Unlock()
}

func (m *Manager) dropSubscription(s *Subscription) {
	m.mu.Lock()
	delete(m.eventSubs, s)
	m.mu.Unlock()
}

func (m *Manager) dropRawSubscription(s *RawSubscription) {
	m.mu.Lock()
	delete(m.rawSubs, s)
	m.mu.Unlock()
}

// =============================================================================
// Dispatch Loop
// =============================================================================

// dispatchLoop is the single goroutine owning inbound routing. It runs
// from construction until shutdown.
func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)
	for {
		select {
		case <-m.dispatchStop:
			return
		case ev := <-m.transport.ConnectionEvents():
			m.handleConnectionEvent(ev)
		case msg := <-m.transport.Messages():
			m.handleMessage(msg)
		}
	}
}

// handleConnectionEvent drives the operating-state machine from
// transport transitions.
func (m *Manager) handleConnectionEvent(ev ConnectionEvent) {
	switch ev.Kind {
	case ConnectionUp:
		m.mu.Lock()
		state := m.state
		m.mu.Unlock()
		if state != OperatingStateStarting && state != OperatingStateOffline {
			return
		}
		if state == OperatingStateOffline {
			// Reconnected without an observed reconnecting transition.
			m.setState(OperatingStateStarting)
		}
		// Restore subscriptions before flushing queued publishes so no
		// self-addressed response can be missed.
		m.registry.resubscribeAll()
		m.drainDeferred()
		m.setState(OperatingStateOnline)
		m.advertiseIdentity()
		m.log.Info("online")
	case ConnectionDown:
		m.mu.Lock()
		state := m.state
		m.mu.Unlock()
		if state == OperatingStateOnline || state == OperatingStateStarting {
			m.setState(OperatingStateOffline)
			m.log.Warn("broker connection lost", "error", ev.Err)
		}
	case ConnectionReconnecting:
		m.mu.Lock()
		state := m.state
		m.mu.Unlock()
		if state == OperatingStateOffline {
			m.setState(OperatingStateStarting)
		}
	}
}

// handleMessage parses and routes one inbound message. Malformed
// messages are logged and dropped; they never reach observers.
func (m *Manager) handleMessage(msg InboundMessage) {
	observers := m.registry.observersFor(msg.Topic)
	if len(observers) == 0 {
		return
	}

	var eventObservers []*registryObserver
	for _, obs := range observers {
		if obs.raw {
			// Raw observations bypass the coaty grammar: no version
			// check, no echo suppression.
			obs.deliver(inbound{topic: msg.Topic, payload: msg.Payload})
		} else {
			eventObservers = append(eventObservers, obs)
		}
	}
	if len(eventObservers) == 0 {
		return
	}

	topic, err := DecodeTopic(msg.Topic)
	if err != nil {
		m.log.Debug("dropping message with malformed topic", "topic", msg.Topic, "error", err)
		return
	}
	if topic.Version != ProtocolVersion {
		m.log.Debug("dropping message with foreign protocol version", "version", topic.Version)
		return
	}
	if topic.SourceID == m.identity.ObjectID {
		// Echo suppression: never dispatch the manager's own events.
		return
	}

	event, err := decodeEvent(topic, msg.Payload)
	if err != nil {
		m.log.Debug("dropping message with invalid payload", "topic", msg.Topic, "error", err)
		return
	}
	if _, isRequest := event.eventType.responseType(); isRequest {
		event.replyVia = m
	}

	for _, obs := range eventObservers {
		obs.deliver(inbound{topic: msg.Topic, payload: msg.Payload, event: event})
	}
}

// =============================================================================
// Publishing
// =============================================================================

// encodeOpts returns the identifier encoding options for outbound topics.
func (m *Manager) encodeOpts() EncodeOptions {
	opts := EncodeOptions{
		Readable:   m.opts.UseReadableTopics,
		SourceName: m.identity.Name,
	}
	if m.opts.AssociatedUser != nil {
		opts.UserName = m.opts.AssociatedUser.Name
	}
	return opts
}

// associatedUserID returns the associated user's object id, empty when
// absent.
func (m *Manager) associatedUserID() string {
	if m.opts.AssociatedUser == nil {
		return ""
	}
	return m.opts.AssociatedUser.ObjectID
}

// encodeEventTopic renders the wire topic for an outbound event.
func (m *Manager) encodeEventTopic(et EventType, suffix, token string) (string, error) {
	t := Topic{
		Version:          ProtocolVersion,
		EventType:        et,
		EventFilter:      suffix,
		AssociatedUserID: m.associatedUserID(),
		SourceID:         m.identity.ObjectID,
		MessageToken:     token,
	}
	return t.Encode(m.encodeOpts())
}

// publishOnTopic hands an encoded message to the transport, or defers it
// while the manager is not Online.
func (m *Manager) publishOnTopic(topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return ErrShutDown
	}
	if m.state != OperatingStateOnline {
		if max := m.opts.MaxDeferredPublishes; max > 0 && len(m.deferred) >= max {
			dropped := m.deferred[0]
			m.deferred = m.deferred[1:]
			m.log.Warn("deferred publish queue full, dropping oldest", "topic", dropped.topic)
		}
		m.deferred = append(m.deferred, deferredPublish{topic: topic, payload: payload, retain: retain})
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.transport.Publish(topic, payload, defaultQoS, retain)
}

// drainDeferred flushes the deferred publish queue FIFO.
func (m *Manager) drainDeferred() {
	m.mu.Lock()
	queue := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, d := range queue {
		if err := m.transport.Publish(d.topic, d.payload, defaultQoS, d.retain); err != nil {
			m.log.Warn("deferred publish failed", "topic", d.topic, "error", err)
		}
	}
}

// publishWithSuffixes marshals the event payload once and publishes it
// under each event-type-name suffix with a single fresh token.
func (m *Manager) publishWithSuffixes(e *Event, suffixes ...string) error {
	payload, err := e.data.marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	token := m.correlation.tokens.next()
	e.token = token
	for _, suffix := range suffixes {
		topic, err := m.encodeEventTopic(e.eventType, suffix, token)
		if err != nil {
			return err
		}
		if err := m.publishOnTopic(topic, payload, false); err != nil {
			return err
		}
	}
	return nil
}

// requireEventType guards the publish methods against mismatched
// envelopes.
func requireEventType(e *Event, et EventType) error {
	if e == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidPayload)
	}
	if e.eventType != et {
		return fmt.Errorf("%w: expected %s event, got %s", ErrInvalidPayload, et, e.eventType)
	}
	return nil
}

// PublishAdvertise publishes an Advertise event. The event is published
// under both the object's core type and its object type, so observers of
// either filter receive it.
func (m *Manager) PublishAdvertise(e *Event) error {
	if err := requireEventType(e, EventTypeAdvertise); err != nil {
		return err
	}
	obj := e.data.(*AdvertiseEventData).Object
	suffixes := []string{string(obj.CoreType)}
	if obj.ObjectType != "" && obj.ObjectType != string(obj.CoreType) {
		suffixes = append(suffixes, obj.ObjectType)
	}
	return m.publishWithSuffixes(e, suffixes...)
}

// PublishDeadvertise publishes a Deadvertise event.
func (m *Manager) PublishDeadvertise(e *Event) error {
	if err := requireEventType(e, EventTypeDeadvertise); err != nil {
		return err
	}
	return m.publishWithSuffixes(e, "")
}

// PublishChannel publishes a Channel event on its channel identifier.
func (m *Manager) PublishChannel(e *Event) error {
	if err := requireEventType(e, EventTypeChannel); err != nil {
		return err
	}
	return m.publishWithSuffixes(e, e.data.(*ChannelEventData).ChannelID)
}

// PublishAssociate publishes an Associate event.
func (m *Manager) PublishAssociate(e *Event) error {
	if err := requireEventType(e, EventTypeAssociate); err != nil {
		return err
	}
	return m.publishWithSuffixes(e, "")
}

// PublishIoValue publishes an IoValue event on its IO source identifier.
func (m *Manager) PublishIoValue(e *Event) error {
	if err := requireEventType(e, EventTypeIoValue); err != nil {
		return err
	}
	return m.publishWithSuffixes(e, e.data.(*IoValueEventData).IoSourceID)
}

// PublishRaw publishes opaque bytes on an arbitrary topic, bypassing the
// coaty grammar. The topic must not contain wildcards.
func (m *Manager) PublishRaw(topic string, payload []byte) error {
	if err := validateRawTopic(topic, true); err != nil {
		return err
	}
	return m.publishOnTopic(topic, payload, false)
}

// =============================================================================
// Request/Response Publishing
// =============================================================================

// publishRequest creates the pending-request record for a validated
// request event. Wire traffic starts on the subscription's first
// Responses() call.
func (m *Manager) publishRequest(e *Event, reqType, respType EventType, respSuffix string) (*RequestSubscription, error) {
	if err := requireEventType(e, reqType); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return nil, ErrShutDown
	}
	m.mu.Unlock()
	return m.correlation.newRequest(m, e, respType, respSuffix), nil
}

// PublishDiscover publishes a Discover request and returns the
// subscription on its Resolve responses.
func (m *Manager) PublishDiscover(e *Event) (*RequestSubscription, error) {
	return m.publishRequest(e, EventTypeDiscover, EventTypeResolve, "")
}

// PublishQuery publishes a Query request and returns the subscription on
// its Retrieve responses.
func (m *Manager) PublishQuery(e *Event) (*RequestSubscription, error) {
	return m.publishRequest(e, EventTypeQuery, EventTypeRetrieve, "")
}

// PublishUpdate publishes an Update request and returns the subscription
// on its Complete responses.
func (m *Manager) PublishUpdate(e *Event) (*RequestSubscription, error) {
	return m.publishRequest(e, EventTypeUpdate, EventTypeComplete, e.eventFilter)
}

// PublishCall publishes a Call request and returns the subscription on
// its Return responses.
func (m *Manager) PublishCall(e *Event) (*RequestSubscription, error) {
	return m.publishRequest(e, EventTypeCall, EventTypeReturn, e.eventFilter)
}

// openRequest activates a request: attach the response observer first,
// then publish the request topic, so no response can race ahead of the
// subscription.
func (m *Manager) openRequest(s *RequestSubscription, deliver func(inbound)) (*registryObserver, error) {
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return nil, ErrShutDown
	}
	m.mu.Unlock()

	obs, err := m.registry.attach(s.respFilter, false, deliver)
	if err != nil {
		m.log.Warn("response filter subscribe failed", "filter", s.respFilter, "error", err)
	}

	payload, err := s.request.data.marshal()
	if err != nil {
		m.registry.detach(obs)
		m.correlation.remove(s.token)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	topic, err := m.encodeEventTopic(s.request.eventType, s.request.eventFilter, s.token)
	if err != nil {
		m.registry.detach(obs)
		m.correlation.remove(s.token)
		return nil, err
	}
	if err := m.publishOnTopic(topic, payload, false); err != nil {
		m.registry.detach(obs)
		m.correlation.remove(s.token)
		return nil, err
	}
	return obs, nil
}

// closeRequest tears a request down: detach the response observer and
// drop the pending record.
func (m *Manager) closeRequest(s *RequestSubscription, obs *registryObserver) {
	m.registry.detach(obs)
	m.correlation.remove(s.token)
}

// publishReply publishes a correlated response: the response topic pins
// the request's message token.
func (m *Manager) publishReply(request *Event, response *Event) error {
	payload, err := response.data.marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	topic, err := m.encodeEventTopic(response.eventType, response.eventFilter, request.token)
	if err != nil {
		return err
	}
	return m.publishOnTopic(topic, payload, false)
}

// =============================================================================
// Observing
// =============================================================================

// attachEventObserver wires a pump-backed subscription to a topic filter.
func (m *Manager) attachEventObserver(filter string, deliver func(*pump[*Event], inbound)) (*Subscription, error) {
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return nil, ErrShutDown
	}
	m.mu.Unlock()

	queue := newPump[*Event]()
	obs, err := m.registry.attach(filter, false, func(msg inbound) {
		deliver(queue, msg)
	})
	if err != nil {
		m.log.Warn("subscribe failed, will retry on reconnect", "filter", filter, "error", err)
	}
	sub := &Subscription{queue: queue, obs: obs, mgr: m}
	m.mu.Lock()
	m.eventSubs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

// observe attaches a plain pass-through observer for the filter.
func (m *Manager) observe(filter string) (*Subscription, error) {
	return m.attachEventObserver(filter, func(q *pump[*Event], msg inbound) {
		q.Push(msg.event)
	})
}

// ObserveAdvertiseWithCoreType observes Advertise events for a core type.
func (m *Manager) ObserveAdvertiseWithCoreType(coreType model.CoreType) (*Subscription, error) {
	if !coreType.IsValid() {
		return nil, fmt.Errorf("%w: core type %q", ErrInvalidOperation, coreType)
	}
	return m.observe(observeFilter(EventTypeAdvertise, string(coreType)))
}

// ObserveAdvertiseWithObjectType observes Advertise events for an object
// type.
func (m *Manager) ObserveAdvertiseWithObjectType(objectType string) (*Subscription, error) {
	if err := validateIdentifier(objectType); err != nil {
		return nil, err
	}
	return m.observe(observeFilter(EventTypeAdvertise, objectType))
}

// ObserveDeadvertise observes Deadvertise events.
func (m *Manager) ObserveDeadvertise() (*Subscription, error) {
	return m.observe(observeFilter(EventTypeDeadvertise, ""))
}

// ObserveChannel observes Channel events on a channel identifier.
func (m *Manager) ObserveChannel(channelID string) (*Subscription, error) {
	if err := validateIdentifier(channelID); err != nil {
		return nil, err
	}
	return m.observe(observeFilter(EventTypeChannel, channelID))
}

// ObserveDiscover observes Discover requests. Handlers answer via the
// event's Resolve hook.
func (m *Manager) ObserveDiscover() (*Subscription, error) {
	return m.observe(observeFilter(EventTypeDiscover, ""))
}

// ObserveQuery observes Query requests. Handlers answer via the event's
// Retrieve hook.
func (m *Manager) ObserveQuery() (*Subscription, error) {
	return m.observe(observeFilter(EventTypeQuery, ""))
}

// ObserveUpdate observes partial Update requests. Handlers answer via
// the event's Complete hook.
func (m *Manager) ObserveUpdate() (*Subscription, error) {
	return m.observe(observeFilter(EventTypeUpdate, ""))
}

// ObserveUpdateWithObjectType observes full Update requests for an
// object type.
func (m *Manager) ObserveUpdateWithObjectType(objectType string) (*Subscription, error) {
	if err := validateIdentifier(objectType); err != nil {
		return nil, err
	}
	return m.observe(observeFilter(EventTypeUpdate, objectType))
}

// ObserveCall observes Call requests for an operation. The receiver's
// context object is evaluated against each call's context filter;
// non-matching invocations are dropped silently, without a Return.
func (m *Manager) ObserveCall(operation string, context *model.Object) (*Subscription, error) {
	if err := validateIdentifier(operation); err != nil {
		return nil, err
	}
	return m.attachEventObserver(observeFilter(EventTypeCall, operation),
		func(q *pump[*Event], msg inbound) {
			data := msg.event.data.(*CallEventData)
			if data.Filter != nil && !model.MatchesFilter(context, data.Filter) {
				return
			}
			q.Push(msg.event)
		})
}

// ObserveAssociate observes Associate events.
func (m *Manager) ObserveAssociate() (*Subscription, error) {
	return m.observe(observeFilter(EventTypeAssociate, ""))
}

// ObserveIoValue observes IoValue events for an IO source.
func (m *Manager) ObserveIoValue(ioSourceID string) (*Subscription, error) {
	if err := validateIdentifier(ioSourceID); err != nil {
		return nil, err
	}
	return m.observe(observeFilter(EventTypeIoValue, ioSourceID))
}

// ObserveRaw observes raw messages on an arbitrary topic filter, which
// may contain wildcards. Raw observations are delivered verbatim and are
// never echo-suppressed.
func (m *Manager) ObserveRaw(topicFilter string) (*RawSubscription, error) {
	if err := validateRawTopic(topicFilter, false); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.isShutDown {
		m.mu.Unlock()
		return nil, ErrShutDown
	}
	m.mu.Unlock()

	queue := newPump[RawMessage]()
	obs, err := m.registry.attach(topicFilter, true, func(msg inbound) {
		queue.Push(RawMessage{Topic: msg.topic, Payload: msg.payload})
	})
	if err != nil {
		m.log.Warn("subscribe failed, will retry on reconnect", "filter", topicFilter, "error", err)
	}
	sub := &RawSubscription{queue: queue, obs: obs, mgr: m}
	m.mu.Lock()
	m.rawSubs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

// =============================================================================
// Identity Advertisement
// =============================================================================

// buildWill constructs the last-will message: a Deadvertise for the
// manager's identity (and associated device), published by the broker on
// unexpected disconnect.
func (m *Manager) buildWill() *Will {
	data := &DeadvertiseEventData{ObjectIDs: m.deadvertisedIDs()}
	payload, err := data.marshal()
	if err != nil {
		return nil
	}
	topic, err := m.encodeEventTopic(EventTypeDeadvertise, "", m.correlation.tokens.next())
	if err != nil {
		return nil
	}
	return &Will{Topic: topic, Payload: payload, QoS: defaultQoS}
}

// deadvertisedIDs lists the object ids deadvertised on stop and in the
// last-will.
func (m *Manager) deadvertisedIDs() []string {
	ids := []string{m.identity.ObjectID}
	if m.opts.AssociatedDevice != nil && m.opts.ShouldAdvertiseDevice {
		ids = append(ids, m.opts.AssociatedDevice.ObjectID)
	}
	return ids
}

// advertiseIdentity publishes the Advertise events for the manager's
// identity and associated device when configured. Called after the
// Online notification.
func (m *Manager) advertiseIdentity() {
	if m.opts.ShouldAdvertiseIdentity {
		e, err := NewAdvertiseEvent(m.identity, &AdvertiseEventData{Object: &m.identity.Object})
		if err == nil {
			err = m.PublishAdvertise(e)
		}
		if err != nil {
			m.log.Warn("identity advertise failed", "error", err)
		}
	}
	if m.opts.ShouldAdvertiseDevice && m.opts.AssociatedDevice != nil {
		e, err := NewAdvertiseEvent(m.identity, &AdvertiseEventData{Object: m.opts.AssociatedDevice.AsObject()})
		if err == nil {
			err = m.PublishAdvertise(e)
		}
		if err != nil {
			m.log.Warn("device advertise failed", "error", err)
		}
	}
}

// publishDeadvertiseIdentity publishes the Deadvertise for the manager's
// identity and device. Called while Stopping, bracketed by the state
// notifications.
func (m *Manager) publishDeadvertiseIdentity() {
	if !m.opts.ShouldAdvertiseIdentity {
		return
	}
	data := &DeadvertiseEventData{ObjectIDs: m.deadvertisedIDs()}
	payload, err := data.marshal()
	if err != nil {
		return
	}
	topic, err := m.encodeEventTopic(EventTypeDeadvertise, "", m.correlation.tokens.next())
	if err != nil {
		return
	}
	if err := m.transport.Publish(topic, payload, defaultQoS, false); err != nil {
		m.log.Warn("deadvertise failed", "error", err)
	}
}
