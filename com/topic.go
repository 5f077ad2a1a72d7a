package com

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Wire protocol constants.
const (
	// ProtocolName is the fixed first topic level of every event topic.
	ProtocolName = "coaty"

	// ProtocolVersion is embedded in every topic. Peers at a different
	// version must not interop; receivers drop mismatched topics.
	ProtocolVersion = 1

	// emptyUserLevel marks an absent associated user on the wire.
	emptyUserLevel = "-"

	// topicLevelCount is the number of levels in an event topic:
	// protocol/version/eventTypeName/userId/sourceId/messageToken.
	topicLevelCount = 6
)

// Topic is the structured descriptor of an event topic. It is the
// authoritative form; the wire string is derived by Encode and recovered
// by DecodeTopic.
type Topic struct {
	// Version is the protocol version level.
	Version int

	// EventType is the event kind.
	EventType EventType

	// EventFilter is the optional suffix after the colon in the
	// event-type-name level: the core or object type for Advertise, the
	// object type for Update/Complete, the operation name for Call/Return,
	// the channel identifier for Channel, the IO source id for IoValue.
	// Empty when absent.
	EventFilter string

	// AssociatedUserID is the associated user's UUID, empty when absent.
	AssociatedUserID string

	// SourceID is the sender component's UUID.
	SourceID string

	// MessageToken is the per-process-unique request identifier,
	// canonically "<senderObjectId>_<counter>".
	MessageToken string
}

// EncodeOptions controls identifier rendering during topic encoding.
type EncodeOptions struct {
	// Readable prefixes user and source UUIDs with their sanitized
	// human-readable names.
	Readable bool

	// UserName is the associated user's name, used in readable mode.
	UserName string

	// SourceName is the sender component's name, used in readable mode.
	SourceName string
}

// Encode derives the wire topic string from the descriptor.
//
// Format:
//
//	coaty/<version>/<eventTypeName>/<associatedUserId|->/<sourceId>/<messageToken>
//
// Returns:
//   - string: The topic string
//   - error: ErrInvalidTopic or ErrInvalidOperation on malformed fields
func (t Topic) Encode(opts EncodeOptions) (string, error) {
	if !t.EventType.IsValid() || t.EventType == EventTypeRaw {
		return "", fmt.Errorf("%w: event type %q cannot be encoded", ErrInvalidTopic, t.EventType)
	}
	eventName := string(t.EventType)
	if t.EventFilter != "" {
		if err := validateIdentifier(t.EventFilter); err != nil {
			return "", err
		}
		eventName += ":" + t.EventFilter
	}
	if t.SourceID == "" {
		return "", fmt.Errorf("%w: source id is empty", ErrInvalidTopic)
	}
	if t.MessageToken == "" {
		return "", fmt.Errorf("%w: message token is empty", ErrInvalidTopic)
	}

	userLevel := emptyUserLevel
	if t.AssociatedUserID != "" {
		userLevel = encodeIdentifier(t.AssociatedUserID, opts.UserName, opts.Readable)
	}
	sourceLevel := encodeIdentifier(t.SourceID, opts.SourceName, opts.Readable)

	return strings.Join([]string{
		ProtocolName,
		strconv.Itoa(t.Version),
		eventName,
		userLevel,
		sourceLevel,
		t.MessageToken,
	}, "/"), nil
}

// DecodeTopic parses a wire topic string into its descriptor.
//
// A mismatched protocol version is not a decode error; callers check
// Topic.Version and drop foreign-version messages.
//
// Returns:
//   - Topic: The decoded descriptor
//   - error: ErrInvalidTopic for an ill-structured topic
func DecodeTopic(s string) (Topic, error) {
	var t Topic
	if s == "" {
		return t, fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsRune(s, 0) {
		return t, fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	if strings.ContainsAny(s, "#+") {
		return t, fmt.Errorf("%w: topic contains wildcard", ErrInvalidTopic)
	}
	levels := strings.Split(s, "/")
	if len(levels) != topicLevelCount {
		return t, fmt.Errorf("%w: expected %d levels, got %d", ErrInvalidTopic, topicLevelCount, len(levels))
	}
	if levels[0] != ProtocolName {
		return t, fmt.Errorf("%w: protocol name %q", ErrInvalidTopic, levels[0])
	}
	version, err := strconv.Atoi(levels[1])
	if err != nil || version < 0 {
		return t, fmt.Errorf("%w: version level %q", ErrInvalidTopic, levels[1])
	}
	t.Version = version

	eventName, eventFilter, hasFilter := strings.Cut(levels[2], ":")
	t.EventType = EventType(eventName)
	if !t.EventType.IsValid() || t.EventType == EventTypeRaw {
		return t, fmt.Errorf("%w: unknown event type %q", ErrInvalidTopic, eventName)
	}
	if hasFilter {
		if eventFilter == "" {
			return t, fmt.Errorf("%w: empty event filter", ErrInvalidTopic)
		}
		t.EventFilter = eventFilter
	}

	if levels[3] != emptyUserLevel {
		userID, err := decodeIdentifier(levels[3])
		if err != nil {
			return t, fmt.Errorf("%w: user level %q", ErrInvalidTopic, levels[3])
		}
		t.AssociatedUserID = userID
	}

	sourceID, err := decodeIdentifier(levels[4])
	if err != nil {
		return t, fmt.Errorf("%w: source level %q", ErrInvalidTopic, levels[4])
	}
	t.SourceID = sourceID

	if levels[5] == "" {
		return t, fmt.Errorf("%w: empty message token", ErrInvalidTopic)
	}
	t.MessageToken = levels[5]

	return t, nil
}

// =============================================================================
// Identifier Encoding
// =============================================================================

// sanitizeName replaces every character forbidden in a topic level
// (NUL, '#', '+', '/') with an underscore.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 0, '#', '+', '/':
			return '_'
		default:
			return r
		}
	}, name)
}

// encodeIdentifier renders a UUID topic level, prefixing the sanitized
// human name in readable mode: "<sanitizedName>_<uuid>".
func encodeIdentifier(id, name string, readable bool) string {
	if !readable {
		return id
	}
	return sanitizeName(name) + "_" + id
}

// decodeIdentifier recovers the UUID from a topic level that may be in
// readable form. The trailing 36 characters must match the canonical
// UUID shape; any leading name portion is informational only.
func decodeIdentifier(level string) (string, error) {
	if _, err := uuid.Parse(level); err == nil && len(level) == 36 {
		return level, nil
	}
	if len(level) >= 37 {
		tail := level[len(level)-36:]
		if _, err := uuid.Parse(tail); err == nil {
			return tail, nil
		}
	}
	return "", fmt.Errorf("no trailing UUID in %q", level)
}

// =============================================================================
// Identifier Validation
// =============================================================================

// validateIdentifier checks an operation name, channel identifier, or
// event-type filter: non-empty and free of NUL, '#', '+', '/'.
func validateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("%w: identifier is empty", ErrInvalidOperation)
	}
	if strings.ContainsRune(s, 0) || strings.ContainsAny(s, "#+/") {
		return fmt.Errorf("%w: identifier %q contains a forbidden character", ErrInvalidOperation, s)
	}
	return nil
}

// validateRawTopic checks a raw topic string. Raw topics bypass the
// coaty grammar: they must be non-empty and NUL-free; wildcards are
// permitted on subscription but not on publish.
func validateRawTopic(topic string, forPublish bool) error {
	if topic == "" {
		return fmt.Errorf("%w: raw topic is empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: raw topic contains NUL", ErrInvalidTopic)
	}
	if forPublish && strings.ContainsAny(topic, "#+") {
		return fmt.Errorf("%w: raw topic %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// =============================================================================
// Filter Construction
// =============================================================================

// eventTypeName renders the event-type level with its optional filter
// suffix.
func eventTypeName(et EventType, filter string) string {
	if filter == "" {
		return string(et)
	}
	return string(et) + ":" + filter
}

// observeFilter builds the subscription filter for observing an event
// kind: user, source and token levels are wildcarded.
//
// Pattern: coaty/1/<eventTypeName>/+/+/+
func observeFilter(et EventType, filter string) string {
	return strings.Join([]string{
		ProtocolName,
		strconv.Itoa(ProtocolVersion),
		eventTypeName(et, filter),
		"+",
		"+",
		"+",
	}, "/")
}

// responseFilter builds the subscription filter for a request's
// responses: the message-token level is pinned, sender and user stay
// wildcarded.
//
// Pattern: coaty/1/<eventTypeName>/+/+/<token>
func responseFilter(et EventType, filter, token string) string {
	return strings.Join([]string{
		ProtocolName,
		strconv.Itoa(ProtocolVersion),
		eventTypeName(et, filter),
		"+",
		"+",
		token,
	}, "/")
}
