package com

import (
	"fmt"

	"github.com/coatyio/coaty-go/model"
)

// EventData is the typed payload of a communication event. Concrete
// types validate their schema at construction and know how to render
// themselves for the wire.
type EventData interface {
	// Validate checks the payload schema.
	Validate() error

	// marshal renders the wire payload. All kinds except Raw and raw
	// IoValue emit UTF-8 JSON.
	marshal() ([]byte, error)
}

// replier publishes a correlated response for an inbound request event.
// The communication manager implements it; events hold it so handlers can
// answer without a manager reference.
type replier interface {
	publishReply(request *Event, response *Event) error
}

// Event is the envelope carried on the wire: an event kind, the source
// component, and a typed payload. Inbound events additionally carry the
// decoded source/user identifiers and, for response events, a
// back-reference to the originating request.
type Event struct {
	eventType   EventType
	eventFilter string
	source      *model.Component
	data        EventData

	// Filled in by the core on inbound events.
	sourceID string
	userID   string
	token    string
	request  *Event
	replyVia replier
}

// newEvent validates and assembles an outbound event envelope.
func newEvent(et EventType, filter string, source *model.Component, data EventData) (*Event, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: event source is nil", ErrInvalidPayload)
	}
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("%w: event source: %v", ErrInvalidPayload, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: event data is nil", ErrInvalidPayload)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &Event{
		eventType:   et,
		eventFilter: filter,
		source:      source,
		data:        data,
		sourceID:    source.ObjectID,
	}, nil
}

// EventType returns the event kind.
func (e *Event) EventType() EventType {
	return e.eventType
}

// Data returns the typed payload. Callers type-assert to the concrete
// *XxxEventData for the event kind.
func (e *Event) Data() EventData {
	return e.data
}

// Source returns the source component for outbound events; nil on
// inbound events, where only SourceID is known.
func (e *Event) Source() *model.Component {
	return e.source
}

// SourceID returns the sender component's object identifier.
func (e *Event) SourceID() string {
	return e.sourceID
}

// UserID returns the associated user identifier, empty when absent.
func (e *Event) UserID() string {
	return e.userID
}

// MessageToken returns the correlation token; empty until published or
// for non-correlated inbound events it is the sender's token.
func (e *Event) MessageToken() string {
	return e.token
}

// Request returns the originating request for inbound response events,
// nil otherwise.
func (e *Event) Request() *Event {
	return e.request
}

// =============================================================================
// Response Hooks
//
// Inbound request events carry a reply hook so handlers can publish the
// correlated response without holding a manager reference. The response
// topic pins the request's message token and mirrors its filter suffix.
// =============================================================================

// respond builds and publishes a response envelope for this request.
func (e *Event) respond(respType EventType, respFilter string, data EventData) error {
	if e.replyVia == nil {
		return fmt.Errorf("%w: event carries no reply hook", ErrInvalidState)
	}
	want, ok := e.eventType.responseType()
	if !ok || want != respType {
		return fmt.Errorf("%w: %s event cannot be answered with %s", ErrInvalidState, e.eventType, respType)
	}
	if data == nil {
		return fmt.Errorf("%w: response data is nil", ErrInvalidPayload)
	}
	if err := data.Validate(); err != nil {
		return err
	}
	resp := &Event{
		eventType:   respType,
		eventFilter: respFilter,
		data:        data,
		request:     e,
	}
	return e.replyVia.publishReply(e, resp)
}

// Resolve publishes a Resolve response to an inbound Discover event.
func (e *Event) Resolve(data *ResolveEventData) error {
	return e.respond(EventTypeResolve, "", data)
}

// Retrieve publishes a Retrieve response to an inbound Query event.
func (e *Event) Retrieve(data *RetrieveEventData) error {
	return e.respond(EventTypeRetrieve, "", data)
}

// Complete publishes a Complete response to an inbound Update event.
// The Complete payload is the authoritative post-update state.
func (e *Event) Complete(data *CompleteEventData) error {
	return e.respond(EventTypeComplete, e.eventFilter, data)
}

// ReturnResult publishes a successful Return response to an inbound Call
// event. executionInfo is optional operation metadata.
func (e *Event) ReturnResult(result any, executionInfo map[string]any) error {
	return e.respond(EventTypeReturn, e.eventFilter, NewReturnResultData(result, executionInfo))
}

// ReturnError publishes an error Return response to an inbound Call
// event. Codes in −32768..−32000 are reserved for predefined errors.
func (e *Event) ReturnError(code int, message string, executionInfo map[string]any) error {
	return e.respond(EventTypeReturn, e.eventFilter, NewReturnErrorData(code, message, executionInfo))
}

// decodeEvent parses an inbound coaty event from its decoded topic and
// raw payload.
//
// Returns:
//   - *Event: The parsed envelope with sourceID/userID/token filled in
//   - error: ErrInvalidPayload on schema violation
func decodeEvent(t Topic, payload []byte) (*Event, error) {
	data, err := unmarshalEventData(t.EventType, t.EventFilter, payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		eventType:   t.EventType,
		eventFilter: t.EventFilter,
		data:        data,
		sourceID:    t.SourceID,
		userID:      t.AssociatedUserID,
		token:       t.MessageToken,
	}, nil
}
