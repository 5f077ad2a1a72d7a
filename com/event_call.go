package com

import (
	"encoding/json"
	"fmt"

	"github.com/coatyio/coaty-go/model"
)

// Reserved Return error codes, following the JSON-RPC convention.
// Codes in −32768..−32000 are reserved for predefined errors.
const (
	ReturnErrorCodeReservedMin = -32768
	ReturnErrorCodeReservedMax = -32000

	// ReturnErrorCodeInvalidParameters signals a parameter-shape mismatch.
	ReturnErrorCodeInvalidParameters = -32602
)

// ReturnErrorMessageInvalidParameters is the conventional message for
// ReturnErrorCodeInvalidParameters.
const ReturnErrorMessageInvalidParameters = "Invalid params"

// =============================================================================
// Call
// =============================================================================

// CallEventData invokes a remote operation with optional parameters and
// an optional context filter gating execution on the receiver side.
// Parameters are either positional or keyword, never both.
type CallEventData struct {
	// Operation is the operation name; it travels in the topic.
	Operation string

	// Params are positional parameters.
	Params []any

	// KeywordParams are named parameters.
	KeywordParams map[string]any

	// Filter gates execution: receivers whose context object does not
	// match drop the invocation silently.
	Filter *model.ContextFilter
}

// Validate checks the Call payload schema, including the operation name
// per the topic grammar rules.
func (d *CallEventData) Validate() error {
	if err := validateIdentifier(d.Operation); err != nil {
		return err
	}
	if d.Params != nil && d.KeywordParams != nil {
		return fmt.Errorf("%w: call parameters are either positional or keyword, not both", ErrInvalidPayload)
	}
	if d.Filter != nil {
		if err := d.Filter.Validate(); err != nil {
			return fmt.Errorf("%w: call filter: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

// callWireData is the JSON payload shape of a Call event.
type callWireData struct {
	Params any                  `json:"params,omitempty"`
	Filter *model.ContextFilter `json:"filter,omitempty"`
}

func (d *CallEventData) marshal() ([]byte, error) {
	wire := callWireData{Filter: d.Filter}
	switch {
	case d.Params != nil:
		wire.Params = d.Params
	case d.KeywordParams != nil:
		wire.Params = d.KeywordParams
	}
	return json.Marshal(wire)
}

// unmarshalCallData parses a Call payload, splitting the one-of params
// field into positional or keyword form.
func unmarshalCallData(operation string, payload []byte) (*CallEventData, error) {
	var wire struct {
		Params json.RawMessage      `json:"params"`
		Filter *model.ContextFilter `json:"filter"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: call payload: %v", ErrInvalidPayload, err)
	}
	d := &CallEventData{Operation: operation, Filter: wire.Filter}
	if len(wire.Params) > 0 {
		var positional []any
		if err := json.Unmarshal(wire.Params, &positional); err == nil {
			d.Params = positional
		} else {
			var keyword map[string]any
			if err := json.Unmarshal(wire.Params, &keyword); err != nil {
				return nil, fmt.Errorf("%w: call params must be an array or object", ErrInvalidPayload)
			}
			d.KeywordParams = keyword
		}
	}
	return d, nil
}

// NewCallEvent creates a Call request event with positional parameters.
// Pass a nil filter to invoke unconditionally.
func NewCallEvent(source *model.Component, operation string, params []any, filter *model.ContextFilter) (*Event, error) {
	return newEvent(EventTypeCall, operation, source, &CallEventData{
		Operation: operation,
		Params:    params,
		Filter:    filter,
	})
}

// NewCallEventWithKeywordParams creates a Call request event with named
// parameters.
func NewCallEventWithKeywordParams(source *model.Component, operation string, params map[string]any, filter *model.ContextFilter) (*Event, error) {
	return newEvent(EventTypeCall, operation, source, &CallEventData{
		Operation:     operation,
		KeywordParams: params,
		Filter:        filter,
	})
}

// =============================================================================
// Return
// =============================================================================

// RemoteCallError is the error variant of a Return payload.
type RemoteCallError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ReturnEventData answers a Call with exactly one of a result or an
// error, plus optional execution metadata.
type ReturnEventData struct {
	// Result is the operation result; meaningful only when hasResult.
	Result any

	// Error is the remote call error.
	Error *RemoteCallError

	// ExecutionInfo is optional operation execution metadata.
	ExecutionInfo map[string]any

	// hasResult distinguishes an intentional null result from an absent
	// one.
	hasResult bool
}

// NewReturnResultData builds the success variant of a Return payload.
// A nil result is a valid operation result.
func NewReturnResultData(result any, executionInfo map[string]any) *ReturnEventData {
	return &ReturnEventData{
		Result:        result,
		ExecutionInfo: executionInfo,
		hasResult:     true,
	}
}

// NewReturnErrorData builds the error variant of a Return payload.
func NewReturnErrorData(code int, message string, executionInfo map[string]any) *ReturnEventData {
	return &ReturnEventData{
		Error:         &RemoteCallError{Code: code, Message: message},
		ExecutionInfo: executionInfo,
	}
}

// HasResult reports whether this is the success variant.
func (d *ReturnEventData) HasResult() bool {
	return d.hasResult
}

// Validate checks the Return payload schema: exactly one of result or
// error.
func (d *ReturnEventData) Validate() error {
	if d.hasResult == (d.Error != nil) {
		return fmt.Errorf("%w: return requires exactly one of result or error", ErrInvalidPayload)
	}
	if d.Error != nil && d.Error.Message == "" {
		return fmt.Errorf("%w: return error requires a message", ErrInvalidPayload)
	}
	return nil
}

func (d *ReturnEventData) marshal() ([]byte, error) {
	wire := make(map[string]any, 2)
	if d.Error != nil {
		wire["error"] = d.Error
	} else {
		wire["result"] = d.Result
	}
	if d.ExecutionInfo != nil {
		wire["executionInfo"] = d.ExecutionInfo
	}
	return json.Marshal(wire)
}

// unmarshalReturnData parses a Return payload, distinguishing an
// intentional null result from an absent one by key presence.
func unmarshalReturnData(payload []byte) (*ReturnEventData, error) {
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: return payload: %v", ErrInvalidPayload, err)
	}
	d := &ReturnEventData{}
	if raw, ok := wire["result"]; ok {
		d.hasResult = true
		if err := json.Unmarshal(raw, &d.Result); err != nil {
			return nil, fmt.Errorf("%w: return result: %v", ErrInvalidPayload, err)
		}
	}
	if raw, ok := wire["error"]; ok {
		var rce RemoteCallError
		if err := json.Unmarshal(raw, &rce); err != nil {
			return nil, fmt.Errorf("%w: return error: %v", ErrInvalidPayload, err)
		}
		d.Error = &rce
	}
	if raw, ok := wire["executionInfo"]; ok {
		if err := json.Unmarshal(raw, &d.ExecutionInfo); err != nil {
			return nil, fmt.Errorf("%w: return executionInfo: %v", ErrInvalidPayload, err)
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
