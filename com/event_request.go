package com

import (
	"encoding/json"
	"fmt"

	"github.com/coatyio/coaty-go/model"
)

// =============================================================================
// Discover / Resolve
// =============================================================================

// DiscoverEventData describes what a Discover request is looking for.
// At least one of ObjectID, ExternalID, ObjectTypes, CoreTypes must be
// present; ObjectTypes and CoreTypes are mutually exclusive.
type DiscoverEventData struct {
	ObjectID    string           `json:"objectId,omitempty"`
	ExternalID  string           `json:"externalId,omitempty"`
	ObjectTypes []string         `json:"objectTypes,omitempty"`
	CoreTypes   []model.CoreType `json:"coreTypes,omitempty"`
}

// Validate checks the Discover payload schema.
func (d *DiscoverEventData) Validate() error {
	if d.ObjectID == "" && d.ExternalID == "" && len(d.ObjectTypes) == 0 && len(d.CoreTypes) == 0 {
		return fmt.Errorf("%w: discover requires objectId, externalId, objectTypes or coreTypes", ErrInvalidPayload)
	}
	if len(d.ObjectTypes) > 0 && len(d.CoreTypes) > 0 {
		return fmt.Errorf("%w: discover objectTypes and coreTypes are mutually exclusive", ErrInvalidPayload)
	}
	for _, c := range d.CoreTypes {
		if !c.IsValid() {
			return fmt.Errorf("%w: discover core type %q", ErrInvalidPayload, c)
		}
	}
	return nil
}

func (d *DiscoverEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewDiscoverEvent creates a Discover request event.
func NewDiscoverEvent(source *model.Component, data *DiscoverEventData) (*Event, error) {
	return newEvent(EventTypeDiscover, "", source, data)
}

// ResolveEventData answers a Discover request with either the discovered
// object or a set of related objects — exactly one of the two.
type ResolveEventData struct {
	Object         *model.Object   `json:"object,omitempty"`
	RelatedObjects []*model.Object `json:"relatedObjects,omitempty"`
	PrivateData    map[string]any  `json:"privateData,omitempty"`
}

// Validate checks the Resolve payload schema.
func (d *ResolveEventData) Validate() error {
	hasObject := d.Object != nil
	hasRelated := len(d.RelatedObjects) > 0
	if hasObject == hasRelated {
		return fmt.Errorf("%w: resolve requires exactly one of object or relatedObjects", ErrInvalidPayload)
	}
	if hasObject {
		if err := d.Object.Validate(); err != nil {
			return fmt.Errorf("%w: resolve object: %v", ErrInvalidPayload, err)
		}
	}
	for _, o := range d.RelatedObjects {
		if o == nil {
			return fmt.Errorf("%w: resolve related object is nil", ErrInvalidPayload)
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: resolve related object: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

func (d *ResolveEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// =============================================================================
// Query / Retrieve
// =============================================================================

// QueryEventData describes the objects a Query requests: a type
// descriptor plus an optional object filter with ordering and paging
// hints. ObjectTypes and CoreTypes are mutually exclusive.
type QueryEventData struct {
	ObjectTypes  []string            `json:"objectTypes,omitempty"`
	CoreTypes    []model.CoreType    `json:"coreTypes,omitempty"`
	ObjectFilter *model.ObjectFilter `json:"objectFilter,omitempty"`
}

// Validate checks the Query payload schema.
func (d *QueryEventData) Validate() error {
	if len(d.ObjectTypes) == 0 && len(d.CoreTypes) == 0 {
		return fmt.Errorf("%w: query requires objectTypes or coreTypes", ErrInvalidPayload)
	}
	if len(d.ObjectTypes) > 0 && len(d.CoreTypes) > 0 {
		return fmt.Errorf("%w: query objectTypes and coreTypes are mutually exclusive", ErrInvalidPayload)
	}
	for _, c := range d.CoreTypes {
		if !c.IsValid() {
			return fmt.Errorf("%w: query core type %q", ErrInvalidPayload, c)
		}
	}
	if d.ObjectFilter != nil {
		if err := d.ObjectFilter.Validate(); err != nil {
			return fmt.Errorf("%w: query filter: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

func (d *QueryEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewQueryEvent creates a Query request event.
func NewQueryEvent(source *model.Component, data *QueryEventData) (*Event, error) {
	return newEvent(EventTypeQuery, "", source, data)
}

// RetrieveEventData answers a Query request with the ordered list of
// matching objects.
type RetrieveEventData struct {
	Objects     []*model.Object `json:"objects"`
	PrivateData map[string]any  `json:"privateData,omitempty"`
}

// Validate checks the Retrieve payload schema. An empty result list is
// valid; nil entries are not.
func (d *RetrieveEventData) Validate() error {
	if d.Objects == nil {
		return fmt.Errorf("%w: retrieve requires an objects list (may be empty)", ErrInvalidPayload)
	}
	for _, o := range d.Objects {
		if o == nil {
			return fmt.Errorf("%w: retrieve object is nil", ErrInvalidPayload)
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: retrieve object: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

func (d *RetrieveEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// =============================================================================
// Update / Complete
// =============================================================================

// UpdateEventData requests an object update: either a full object or a
// partial update of named properties on an object reference.
type UpdateEventData struct {
	// Object is the full object for a full update.
	Object *model.Object `json:"object,omitempty"`

	// ObjectID references the object for a partial update.
	ObjectID string `json:"objectId,omitempty"`

	// ChangedValues holds the modified properties for a partial update.
	ChangedValues map[string]any `json:"changedValues,omitempty"`
}

// IsPartial reports whether this is a partial update.
func (d *UpdateEventData) IsPartial() bool {
	return d.Object == nil
}

// Validate checks the Update payload schema: a full object, or a partial
// update carrying the object reference.
func (d *UpdateEventData) Validate() error {
	if d.Object != nil {
		if d.ObjectID != "" || len(d.ChangedValues) > 0 {
			return fmt.Errorf("%w: update is either full or partial, not both", ErrInvalidPayload)
		}
		if err := d.Object.Validate(); err != nil {
			return fmt.Errorf("%w: update object: %v", ErrInvalidPayload, err)
		}
		return nil
	}
	if d.ObjectID == "" {
		return fmt.Errorf("%w: partial update requires objectId", ErrInvalidPayload)
	}
	if len(d.ChangedValues) == 0 {
		return fmt.Errorf("%w: partial update requires changedValues", ErrInvalidPayload)
	}
	return nil
}

func (d *UpdateEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewUpdateEvent creates a full Update request event for one object.
func NewUpdateEvent(source *model.Component, object *model.Object) (*Event, error) {
	var filter string
	if object != nil {
		filter = object.ObjectType
	}
	return newEvent(EventTypeUpdate, filter, source, &UpdateEventData{Object: object})
}

// NewPartialUpdateEvent creates a partial Update request event for the
// referenced object.
func NewPartialUpdateEvent(source *model.Component, objectID string, changedValues map[string]any) (*Event, error) {
	return newEvent(EventTypeUpdate, "", source, &UpdateEventData{
		ObjectID:      objectID,
		ChangedValues: changedValues,
	})
}

// CompleteEventData acknowledges an Update with the authoritative
// post-update object state.
type CompleteEventData struct {
	Object      *model.Object  `json:"object"`
	PrivateData map[string]any `json:"privateData,omitempty"`
}

// Validate checks the Complete payload schema.
func (d *CompleteEventData) Validate() error {
	if d.Object == nil {
		return fmt.Errorf("%w: complete requires an object", ErrInvalidPayload)
	}
	if err := d.Object.Validate(); err != nil {
		return fmt.Errorf("%w: complete object: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (d *CompleteEventData) marshal() ([]byte, error) {
	return json.Marshal(d)
}
