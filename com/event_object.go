package com

import (
	"encoding/json"
	"fmt"

	"github.com/coatyio/coaty-go/model"
)

// =============================================================================
// Advertise
// =============================================================================

// AdvertiseEventData carries the object being advertised plus optional
// application-private data.
type AdvertiseEventData struct {
	Object      *model.Object  `json:"object"`
	PrivateData map[string]any `json:"privateData,omitempty"`
}

// Validate checks the Advertise payload schema.
func (d *AdvertiseEventData) Validate() error {
	if d.Object == nil {
		return fmt.Errorf("%w: advertise requires an object", ErrInvalidPayload)
	}
	if err := d.Object.Validate(); err != nil {
		return fmt.Errorf("%w: advertise object: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (d *AdvertiseEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewAdvertiseEvent creates an Advertise event for one object.
func NewAdvertiseEvent(source *model.Component, data *AdvertiseEventData) (*Event, error) {
	return newEvent(EventTypeAdvertise, "", source, data)
}

// =============================================================================
// Deadvertise
// =============================================================================

// DeadvertiseEventData carries the object identifiers being deadvertised.
type DeadvertiseEventData struct {
	ObjectIDs []string `json:"objectIds"`
}

// Validate checks the Deadvertise payload schema.
func (d *DeadvertiseEventData) Validate() error {
	if len(d.ObjectIDs) == 0 {
		return fmt.Errorf("%w: deadvertise requires at least one object id", ErrInvalidPayload)
	}
	for _, id := range d.ObjectIDs {
		if id == "" {
			return fmt.Errorf("%w: deadvertise object id is empty", ErrInvalidPayload)
		}
	}
	return nil
}

func (d *DeadvertiseEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewDeadvertiseEvent creates a Deadvertise event for the given object ids.
func NewDeadvertiseEvent(source *model.Component, objectIDs ...string) (*Event, error) {
	return newEvent(EventTypeDeadvertise, "", source, &DeadvertiseEventData{ObjectIDs: objectIDs})
}

// =============================================================================
// Channel
// =============================================================================

// ChannelEventData carries one or more objects broadcast on a channel.
// The channel identifier travels in the topic, not the payload.
type ChannelEventData struct {
	ChannelID   string          `json:"-"`
	Objects     []*model.Object `json:"objects"`
	PrivateData map[string]any  `json:"privateData,omitempty"`
}

// Validate checks the Channel payload schema, including the channel
// identifier per the topic grammar rules.
func (d *ChannelEventData) Validate() error {
	if err := validateIdentifier(d.ChannelID); err != nil {
		return err
	}
	if len(d.Objects) == 0 {
		return fmt.Errorf("%w: channel requires at least one object", ErrInvalidPayload)
	}
	for _, o := range d.Objects {
		if o == nil {
			return fmt.Errorf("%w: channel object is nil", ErrInvalidPayload)
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: channel object: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

func (d *ChannelEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewChannelEvent creates a Channel event broadcasting objects on the
// given channel.
func NewChannelEvent(source *model.Component, channelID string, objects ...*model.Object) (*Event, error) {
	return newEvent(EventTypeChannel, channelID, source, &ChannelEventData{
		ChannelID: channelID,
		Objects:   objects,
	})
}

// =============================================================================
// Associate
// =============================================================================

// AssociateEventData associates an IO source with an IO actor. An absent
// actor id dissolves the association.
type AssociateEventData struct {
	IoSourceID string `json:"ioSourceId"`
	IoActorID  string `json:"ioActorId,omitempty"`

	// UpdateRateMillis is the recommended value update interval (optional).
	UpdateRateMillis int `json:"updateRate,omitempty"`
}

// Validate checks the Associate payload schema.
func (d *AssociateEventData) Validate() error {
	if d.IoSourceID == "" {
		return fmt.Errorf("%w: associate requires an io source id", ErrInvalidPayload)
	}
	if d.UpdateRateMillis < 0 {
		return fmt.Errorf("%w: associate update rate is negative", ErrInvalidPayload)
	}
	return nil
}

func (d *AssociateEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewAssociateEvent creates an Associate event binding (or unbinding) an
// IO source and actor.
func NewAssociateEvent(source *model.Component, data *AssociateEventData) (*Event, error) {
	return newEvent(EventTypeAssociate, "", source, data)
}

// =============================================================================
// IoValue
// =============================================================================

// IoValueEventData carries a value published on behalf of an IO source:
// either a JSON value or an opaque byte payload that bypasses JSON
// encoding.
type IoValueEventData struct {
	IoSourceID string

	// Value is the JSON value; ignored when Raw is set.
	Value any

	// Raw is the opaque payload for binary IO sources.
	Raw []byte
}

// Validate checks the IoValue payload schema.
func (d *IoValueEventData) Validate() error {
	return validateIdentifier(d.IoSourceID)
}

func (d *IoValueEventData) marshal() ([]byte, error) {
	if d.Raw != nil {
		return d.Raw, nil
	}
	return json.Marshal(d.Value)
}

// NewIoValueEvent creates an IoValue event carrying a JSON value for the
// given IO source.
func NewIoValueEvent(source *model.Component, ioSourceID string, value any) (*Event, error) {
	return newEvent(EventTypeIoValue, ioSourceID, source, &IoValueEventData{
		IoSourceID: ioSourceID,
		Value:      value,
	})
}

// NewIoValueEventRaw creates an IoValue event carrying an opaque byte
// payload for the given IO source.
func NewIoValueEventRaw(source *model.Component, ioSourceID string, payload []byte) (*Event, error) {
	return newEvent(EventTypeIoValue, ioSourceID, source, &IoValueEventData{
		IoSourceID: ioSourceID,
		Raw:        payload,
	})
}

// =============================================================================
// Raw
// =============================================================================

// RawEventData carries an opaque byte payload on an arbitrary,
// non-coaty topic. Raw events bypass JSON encoding entirely.
type RawEventData struct {
	Topic   string
	Payload []byte
}

// Validate checks the raw topic for publishing.
func (d *RawEventData) Validate() error {
	return validateRawTopic(d.Topic, true)
}

func (d *RawEventData) marshal() ([]byte, error) {
	return d.Payload, nil
}

// NewRawEvent creates a Raw event publishing opaque bytes to an
// arbitrary topic. The topic must not contain wildcards.
func NewRawEvent(source *model.Component, topic string, payload []byte) (*Event, error) {
	return newEvent(EventTypeRaw, "", source, &RawEventData{Topic: topic, Payload: payload})
}
