package com

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coatyio/coaty-go/model"
)

const testObjectType = "coaty.test.MockObject"

// newTestManager creates a started-capable manager wired to the broker.
// Identity advertisement is off by default to keep wire traffic minimal;
// tests that need it flip the option.
func newTestManager(t *testing.T, broker *fakeBroker, name string, mutate func(*Options)) *Manager {
	t.Helper()
	opts := DefaultOptions("tcp://fake-broker")
	opts.IdentityName = name
	opts.Transport = broker.transport()
	opts.ShouldAdvertiseIdentity = false
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewManager(opts, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

// startOnline starts the manager and waits for the Online state.
func startOnline(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, m, OperatingStateOnline)
}

// waitForState polls until the manager reaches the wanted state.
func waitForState(t *testing.T, m *Manager, want OperatingState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.OperatingState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager did not reach state %s, still %s", want, m.OperatingState())
}

// recvEvent receives one event or fails.
func recvEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// expectNoEvent asserts silence on the channel for a settling period.
func expectNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %v", e.EventType())
	case <-time.After(200 * time.Millisecond):
	}
}

func mockObject(name string) *model.Object {
	return model.NewObject(model.CoreTypeObject, testObjectType, name)
}

// =============================================================================
// Discover/Resolve Across Agents
// =============================================================================

func TestDiscoverResolveAcrossThreeAgents(t *testing.T) {
	broker := newFakeBroker()
	a := newTestManager(t, broker, "AgentA", nil)
	b := newTestManager(t, broker, "AgentB", nil)
	c := newTestManager(t, broker, "AgentC", nil)
	startOnline(t, a)
	startOnline(t, b)
	startOnline(t, c)

	// B and C answer Discover requests for the mock object type.
	for _, responder := range []*Manager{b, c} {
		sub, err := responder.ObserveDiscover()
		if err != nil {
			t.Fatalf("ObserveDiscover() error = %v", err)
		}
		identity := responder.Identity()
		go func() {
			for ev := range sub.Events() {
				data := ev.Data().(*DiscoverEventData)
				wanted := false
				for _, ot := range data.ObjectTypes {
					if ot == testObjectType {
						wanted = true
					}
				}
				if !wanted {
					continue
				}
				obj := mockObject(identity.Name + "-answer")
				if err := ev.Resolve(&ResolveEventData{Object: obj}); err != nil {
					t.Errorf("Resolve() error = %v", err)
				}
			}
		}()
	}

	discover, err := NewDiscoverEvent(a.Identity(), &DiscoverEventData{ObjectTypes: []string{testObjectType}})
	if err != nil {
		t.Fatalf("NewDiscoverEvent() error = %v", err)
	}
	req, err := a.PublishDiscover(discover)
	if err != nil {
		t.Fatalf("PublishDiscover() error = %v", err)
	}
	responses, err := req.Responses()
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	defer req.Cancel()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		resolve := recvEvent(t, responses)
		if resolve.EventType() != EventTypeResolve {
			t.Fatalf("response kind = %s, want Resolve", resolve.EventType())
		}
		if resolve.Request() != discover {
			t.Error("Request() is not bound to the original Discover event")
		}
		if resolve.SourceID() == a.Identity().ObjectID {
			t.Error("received a Resolve with the requester's own source id")
		}
		seen[resolve.SourceID()] = true
	}
	if len(seen) != 2 {
		t.Errorf("distinct responders = %d, want 2", len(seen))
	}
	expectNoEvent(t, responses)
}

// =============================================================================
// Resubscribe Forbidden
// =============================================================================

func TestResubscribeForbiddenAfterDetach(t *testing.T) {
	broker := newFakeBroker()
	a := newTestManager(t, broker, "AgentA", nil)
	startOnline(t, a)
	transport := a.transport.(*fakeTransport)

	update, err := NewUpdateEvent(a.Identity(), mockObject("thing"))
	if err != nil {
		t.Fatalf("NewUpdateEvent() error = %v", err)
	}
	req, err := a.PublishUpdate(update)
	if err != nil {
		t.Fatalf("PublishUpdate() error = %v", err)
	}
	if _, err := req.Responses(); err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	if balance := transport.subscribeBalance(req.respFilter); balance != 1 {
		t.Fatalf("response filter balance = %d, want 1", balance)
	}

	req.Cancel()
	if balance := transport.subscribeBalance(req.respFilter); balance != 0 {
		t.Errorf("response filter balance after cancel = %d, want 0", balance)
	}

	if _, err := req.Responses(); !errors.Is(err, ErrResubscribeForbidden) {
		t.Errorf("second Responses() error = %v, want ErrResubscribeForbidden", err)
	}
	// No further broker traffic after the forbidden resubscribe.
	if balance := transport.subscribeBalance(req.respFilter); balance != 0 {
		t.Errorf("response filter balance after forbidden resubscribe = %d, want 0", balance)
	}
}

// =============================================================================
// Call/Return
// =============================================================================

// answerSwitchLight answers switchLight calls with the echoed parameters.
func answerSwitchLight(t *testing.T, m *Manager, context *model.Object) {
	t.Helper()
	sub, err := m.ObserveCall("coaty.test.switchLight", context)
	if err != nil {
		t.Fatalf("ObserveCall() error = %v", err)
	}
	go func() {
		for ev := range sub.Events() {
			data := ev.Data().(*CallEventData)
			result := map[string]any{
				"state": data.KeywordParams["state"],
				"color": data.KeywordParams["color"],
			}
			if err := ev.ReturnResult(result, map[string]any{"duration": float64(4711)}); err != nil {
				t.Errorf("ReturnResult() error = %v", err)
			}
		}
	}()
}

func TestCallWithContextFilter(t *testing.T) {
	broker := newFakeBroker()
	caller := newTestManager(t, broker, "Caller", nil)
	receiverA := newTestManager(t, broker, "ReceiverA", nil)
	receiverB := newTestManager(t, broker, "ReceiverB", nil)
	startOnline(t, caller)
	startOnline(t, receiverA)
	startOnline(t, receiverB)

	contextA := mockObject("roomA")
	contextA.Extra = map[string]any{"floor": float64(7)}
	contextB := mockObject("roomB")
	contextB.Extra = map[string]any{"floor": float64(10)}
	answerSwitchLight(t, receiverA, contextA)
	answerSwitchLight(t, receiverB, contextB)

	filter := &model.ContextFilter{Conditions: &model.FilterConditions{And: []model.FilterCondition{
		{Property: "floor", Operator: model.FilterBetween, Operands: []any{float64(6), float64(8)}},
	}}}
	call, err := NewCallEventWithKeywordParams(caller.Identity(), "coaty.test.switchLight",
		map[string]any{"state": "on", "color": "green"}, filter)
	if err != nil {
		t.Fatalf("NewCallEventWithKeywordParams() error = %v", err)
	}
	req, err := caller.PublishCall(call)
	if err != nil {
		t.Fatalf("PublishCall() error = %v", err)
	}
	responses, err := req.Responses()
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	defer req.Cancel()

	ret := recvEvent(t, responses)
	data := ret.Data().(*ReturnEventData)
	if !data.HasResult() {
		t.Fatalf("Return carries error %v, want result", data.Error)
	}
	result := data.Result.(map[string]any)
	if result["state"] != "on" || result["color"] != "green" {
		t.Errorf("result = %v, want state=on color=green", result)
	}
	if data.ExecutionInfo["duration"] != float64(4711) {
		t.Errorf("executionInfo duration = %v, want 4711", data.ExecutionInfo["duration"])
	}
	if ret.SourceID() != receiverA.Identity().ObjectID {
		t.Errorf("Return source = %s, want receiver A", ret.SourceID())
	}

	// Receiver B's context is off-range: exactly one Return arrives.
	expectNoEvent(t, responses)
}

func TestCallParameterValidation(t *testing.T) {
	broker := newFakeBroker()
	caller := newTestManager(t, broker, "Caller", nil)
	receiver := newTestManager(t, broker, "Receiver", nil)
	startOnline(t, caller)
	startOnline(t, receiver)

	sub, err := receiver.ObserveCall("coaty.test.add", nil)
	if err != nil {
		t.Fatalf("ObserveCall() error = %v", err)
	}
	go func() {
		for ev := range sub.Events() {
			data := ev.Data().(*CallEventData)
			if len(data.Params) != 2 {
				err := ev.ReturnError(ReturnErrorCodeInvalidParameters, ReturnErrorMessageInvalidParameters, nil)
				if err != nil {
					t.Errorf("ReturnError() error = %v", err)
				}
				continue
			}
			sum := data.Params[0].(float64) + data.Params[1].(float64)
			if err := ev.ReturnResult(sum, nil); err != nil {
				t.Errorf("ReturnResult() error = %v", err)
			}
		}
	}()

	// Empty parameter list yields the invalid-params error.
	call, err := NewCallEvent(caller.Identity(), "coaty.test.add", []any{}, nil)
	if err != nil {
		t.Fatalf("NewCallEvent() error = %v", err)
	}
	req, err := caller.PublishCall(call)
	if err != nil {
		t.Fatalf("PublishCall() error = %v", err)
	}
	responses, err := req.Responses()
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	ret := recvEvent(t, responses).Data().(*ReturnEventData)
	if ret.Error == nil || ret.Error.Code != ReturnErrorCodeInvalidParameters {
		t.Fatalf("Return error = %v, want code %d", ret.Error, ReturnErrorCodeInvalidParameters)
	}
	if ret.Error.Message != ReturnErrorMessageInvalidParameters {
		t.Errorf("error message = %q, want %q", ret.Error.Message, ReturnErrorMessageInvalidParameters)
	}
	req.Cancel()

	// Two addends yield their sum.
	call, err = NewCallEvent(caller.Identity(), "coaty.test.add", []any{float64(42), float64(43)}, nil)
	if err != nil {
		t.Fatalf("NewCallEvent() error = %v", err)
	}
	req, err = caller.PublishCall(call)
	if err != nil {
		t.Fatalf("PublishCall() error = %v", err)
	}
	responses, err = req.Responses()
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	ret = recvEvent(t, responses).Data().(*ReturnEventData)
	if !ret.HasResult() {
		t.Fatalf("Return carries error %v, want result", ret.Error)
	}
	if ret.Result != float64(85) {
		t.Errorf("result = %v, want 85", ret.Result)
	}
	req.Cancel()
}

// =============================================================================
// Raw Publish/Subscribe
// =============================================================================

func TestRawPublishSubscribe(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker, "RawAgent", nil)
	startOnline(t, m)

	sub, err := m.ObserveRaw("/test/42/")
	if err != nil {
		t.Fatalf("ObserveRaw() error = %v", err)
	}
	defer sub.Cancel()

	for _, payload := range []string{"1", "2", "3"} {
		if err := m.PublishRaw("/test/42/", []byte(payload)); err != nil {
			t.Fatalf("PublishRaw(%q) error = %v", payload, err)
		}
	}

	// Raw observations are never echo-suppressed, so the publisher's own
	// messages arrive, in publish order, paired with the topic.
	for _, want := range []string{"1", "2", "3"} {
		select {
		case msg := <-sub.Messages():
			if msg.Topic != "/test/42/" {
				t.Errorf("Topic = %q, want /test/42/", msg.Topic)
			}
			if string(msg.Payload) != want {
				t.Errorf("Payload = %q, want %q", msg.Payload, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for raw payload %q", want)
		}
	}
}

func TestRawPublishRejectsWildcards(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker, "RawAgent", nil)
	startOnline(t, m)

	if err := m.PublishRaw("a/+/b", []byte("x")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("PublishRaw(wildcard) error = %v, want ErrInvalidTopic", err)
	}
}

// =============================================================================
// Echo Suppression
// =============================================================================

func TestEchoSuppression(t *testing.T) {
	broker := newFakeBroker()
	a := newTestManager(t, broker, "AgentA", nil)
	b := newTestManager(t, broker, "AgentB", nil)
	startOnline(t, a)
	startOnline(t, b)

	subA, err := a.ObserveAdvertiseWithObjectType(testObjectType)
	if err != nil {
		t.Fatalf("ObserveAdvertiseWithObjectType() error = %v", err)
	}
	subB, err := b.ObserveAdvertiseWithObjectType(testObjectType)
	if err != nil {
		t.Fatalf("ObserveAdvertiseWithObjectType() error = %v", err)
	}

	adv, err := NewAdvertiseEvent(a.Identity(), &AdvertiseEventData{Object: mockObject("m")})
	if err != nil {
		t.Fatalf("NewAdvertiseEvent() error = %v", err)
	}
	if err := a.PublishAdvertise(adv); err != nil {
		t.Fatalf("PublishAdvertise() error = %v", err)
	}

	// B receives; A's own event is suppressed before dispatch.
	got := recvEvent(t, subB.Events())
	if got.SourceID() != a.Identity().ObjectID {
		t.Errorf("SourceID = %s, want A's identity", got.SourceID())
	}
	expectNoEvent(t, subA.Events())
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestOperatingStatePrefix(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker, "Lifecycle", nil)

	sub := m.ObserveOperatingState()
	startOnline(t, m)
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []OperatingState{
		OperatingStateInitial,
		OperatingStateStarting,
		OperatingStateOnline,
		OperatingStateStopping,
		OperatingStateOffline,
	}
	for _, state := range want {
		select {
		case got := <-sub.States():
			if got != state {
				t.Fatalf("state = %s, want %s", got, state)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state %s", state)
		}
	}
	sub.Cancel()
}

func TestDeferredPublishAndReconnectLifecycle(t *testing.T) {
	broker := newFakeBroker()
	broker.setReachable(false)

	peer := newTestManager(t, broker, "Peer", nil)
	m := newTestManager(t, broker, "Deferred", func(o *Options) {
		o.ShouldAdvertiseIdentity = true
	})

	peerAdv, err := peer.ObserveAdvertiseWithObjectType(testObjectType)
	if err != nil {
		t.Fatalf("ObserveAdvertiseWithObjectType() error = %v", err)
	}
	peerDead, err := peer.ObserveDeadvertise()
	if err != nil {
		t.Fatalf("ObserveDeadvertise() error = %v", err)
	}

	stateSub := m.ObserveOperatingState()
	if err := peer.Start(); err != nil {
		t.Fatalf("peer Start() error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, m, OperatingStateOffline)

	// Publishes while unreachable are queued, not failed.
	for _, name := range []string{"one", "two", "three"} {
		adv, err := NewAdvertiseEvent(m.Identity(), &AdvertiseEventData{Object: mockObject(name)})
		if err != nil {
			t.Fatalf("NewAdvertiseEvent() error = %v", err)
		}
		if err := m.PublishAdvertise(adv); err != nil {
			t.Fatalf("PublishAdvertise() while offline error = %v", err)
		}
	}

	broker.setReachable(true)
	waitForState(t, m, OperatingStateOnline)
	waitForState(t, peer, OperatingStateOnline)

	// The state observer saw Offline → Starting → Online.
	var states []OperatingState
collect:
	for {
		select {
		case s := <-stateSub.States():
			states = append(states, s)
			if s == OperatingStateOnline {
				break collect
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out collecting states, got %v", states)
		}
	}
	if !containsSequence(states, []OperatingState{OperatingStateOffline, OperatingStateStarting, OperatingStateOnline}) {
		t.Errorf("states = %v, want subsequence [Offline Starting Online]", states)
	}

	// Queued publishes arrive at the peer in submission order.
	for _, want := range []string{"one", "two", "three"} {
		adv := recvEvent(t, peerAdv.Events())
		obj := adv.Data().(*AdvertiseEventData).Object
		if obj.Name != want {
			t.Errorf("advertised object = %q, want %q", obj.Name, want)
		}
	}

	// Shutdown deadvertises the manager's identity.
	managerID := m.Identity().ObjectID
	m.Shutdown()
	dead := recvEvent(t, peerDead.Events())
	ids := dead.Data().(*DeadvertiseEventData).ObjectIDs
	found := false
	for _, id := range ids {
		if id == managerID {
			found = true
		}
	}
	if !found {
		t.Errorf("deadvertised ids = %v, want to include %s", ids, managerID)
	}
}

// containsSequence reports whether states contains want as a contiguous
// subsequence.
func containsSequence(states, want []OperatingState) bool {
	for i := 0; i+len(want) <= len(states); i++ {
		match := true
		for j := range want {
			if states[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestPublishAfterShutdown(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker, "ShutDown", nil)
	startOnline(t, m)
	m.Shutdown()

	adv, err := NewAdvertiseEvent(model.NewComponent("x"), &AdvertiseEventData{Object: mockObject("m")})
	if err != nil {
		t.Fatalf("NewAdvertiseEvent() error = %v", err)
	}
	if err := m.PublishAdvertise(adv); !errors.Is(err, ErrShutDown) {
		t.Errorf("PublishAdvertise() after shutdown error = %v, want ErrShutDown", err)
	}
	if _, err := m.ObserveDiscover(); !errors.Is(err, ErrShutDown) {
		t.Errorf("ObserveDiscover() after shutdown error = %v, want ErrShutDown", err)
	}
	if err := m.Start(); !errors.Is(err, ErrShutDown) {
		t.Errorf("Start() after shutdown error = %v, want ErrShutDown", err)
	}
}

func TestStartWhileStartedFails(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker, "Doubled", nil)
	startOnline(t, m)
	if err := m.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start() error = %v, want ErrInvalidState", err)
	}
}

// =============================================================================
// Update/Complete
// =============================================================================

func TestUpdateCompleteRewritesObject(t *testing.T) {
	broker := newFakeBroker()
	caller := newTestManager(t, broker, "Caller", nil)
	receiver := newTestManager(t, broker, "Receiver", nil)
	startOnline(t, caller)
	startOnline(t, receiver)

	sub, err := receiver.ObserveUpdateWithObjectType(testObjectType)
	if err != nil {
		t.Fatalf("ObserveUpdateWithObjectType() error = %v", err)
	}
	go func() {
		for ev := range sub.Events() {
			data := ev.Data().(*UpdateEventData)
			// The receiver rewrites the object before completing; the
			// Complete payload is the authoritative post-state.
			post := data.Object.DeepCopy()
			post.Name = "rewritten"
			if err := ev.Complete(&CompleteEventData{Object: post}); err != nil {
				t.Errorf("Complete() error = %v", err)
			}
		}
	}()

	update, err := NewUpdateEvent(caller.Identity(), mockObject("original"))
	if err != nil {
		t.Fatalf("NewUpdateEvent() error = %v", err)
	}
	req, err := caller.PublishUpdate(update)
	if err != nil {
		t.Fatalf("PublishUpdate() error = %v", err)
	}
	responses, err := req.Responses()
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	defer req.Cancel()

	complete := recvEvent(t, responses)
	obj := complete.Data().(*CompleteEventData).Object
	if obj.Name != "rewritten" {
		t.Errorf("post-state name = %q, want rewritten", obj.Name)
	}
	if complete.Request() != update {
		t.Error("Complete is not bound to the original Update event")
	}
}

// =============================================================================
// Channel
// =============================================================================

func TestChannelBroadcast(t *testing.T) {
	broker := newFakeBroker()
	a := newTestManager(t, broker, "AgentA", nil)
	b := newTestManager(t, broker, "AgentB", nil)
	startOnline(t, a)
	startOnline(t, b)

	sub, err := b.ObserveChannel("telemetry")
	if err != nil {
		t.Fatalf("ObserveChannel() error = %v", err)
	}
	ch, err := NewChannelEvent(a.Identity(), "telemetry", mockObject("m1"), mockObject("m2"))
	if err != nil {
		t.Fatalf("NewChannelEvent() error = %v", err)
	}
	if err := a.PublishChannel(ch); err != nil {
		t.Fatalf("PublishChannel() error = %v", err)
	}

	got := recvEvent(t, sub.Events())
	data := got.Data().(*ChannelEventData)
	if data.ChannelID != "telemetry" {
		t.Errorf("ChannelID = %q, want telemetry", data.ChannelID)
	}
	if len(data.Objects) != 2 {
		t.Errorf("objects = %d, want 2", len(data.Objects))
	}
}

// =============================================================================
// Malformed Inbound Messages
// =============================================================================

func TestMalformedInboundIsDropped(t *testing.T) {
	broker := newFakeBroker()
	a := newTestManager(t, broker, "AgentA", nil)
	b := newTestManager(t, broker, "AgentB", nil)
	startOnline(t, a)
	startOnline(t, b)

	sub, err := b.ObserveDiscover()
	if err != nil {
		t.Fatalf("ObserveDiscover() error = %v", err)
	}

	// Inject garbage payload and a foreign protocol version directly.
	topic := "coaty/1/Discover/-/" + a.Identity().ObjectID + "/" + a.Identity().ObjectID + "_1"
	broker.route(topic, []byte("{not json"))
	foreign := "coaty/7/Discover/-/" + a.Identity().ObjectID + "/" + a.Identity().ObjectID + "_2"
	broker.route(foreign, mustJSON(t, &DiscoverEventData{ObjectTypes: []string{testObjectType}}))

	expectNoEvent(t, sub.Events())

	// A well-formed message still arrives: the malformed peers did not
	// wedge the dispatcher.
	broker.route(topic, mustJSON(t, &DiscoverEventData{ObjectTypes: []string{testObjectType}}))
	got := recvEvent(t, sub.Events())
	if got.EventType() != EventTypeDiscover {
		t.Errorf("event type = %s, want Discover", got.EventType())
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
