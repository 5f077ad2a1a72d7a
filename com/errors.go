package com

import "errors"

// Domain-specific errors for the communication core.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidTopic is returned for a malformed topic on decode, or a
	// publish attempt with a wildcard topic.
	ErrInvalidTopic = errors.New("com: invalid topic")

	// ErrInvalidPayload is returned when event data violates its schema
	// at construction or on inbound parsing.
	ErrInvalidPayload = errors.New("com: invalid event payload")

	// ErrInvalidOperation is returned for an illegal operation name,
	// channel identifier, or object-type filter.
	ErrInvalidOperation = errors.New("com: invalid operation or channel identifier")

	// ErrInvalidState is returned when an operation is illegal in the
	// manager's current operating state, e.g. start() on a started manager.
	ErrInvalidState = errors.New("com: invalid operating state")

	// ErrShutDown is returned for publish/observe calls after shutdown.
	ErrShutDown = errors.New("com: communication manager is shut down")

	// ErrResubscribeForbidden is returned when a second observer attaches
	// to a terminated response sequence.
	ErrResubscribeForbidden = errors.New("com: resubscribing to a terminated response sequence is forbidden")
)
