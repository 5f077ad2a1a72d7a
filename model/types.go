package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CoreType classifies an object into one of the framework-defined categories.
// The set is closed; extensible typing happens through Object.ObjectType.
type CoreType string

const (
	CoreTypeObject     CoreType = "CoatyObject"
	CoreTypeComponent  CoreType = "Component"
	CoreTypeDevice     CoreType = "Device"
	CoreTypeUser       CoreType = "User"
	CoreTypeTask       CoreType = "Task"
	CoreTypeLocation   CoreType = "Location"
	CoreTypeSnapshot   CoreType = "Snapshot"
	CoreTypeLog        CoreType = "Log"
	CoreTypeConfig     CoreType = "Config"
	CoreTypeAnnotation CoreType = "Annotation"
)

// coreTypes is the closed set of valid core types.
var coreTypes = map[CoreType]bool{
	CoreTypeObject:     true,
	CoreTypeComponent:  true,
	CoreTypeDevice:     true,
	CoreTypeUser:       true,
	CoreTypeTask:       true,
	CoreTypeLocation:   true,
	CoreTypeSnapshot:   true,
	CoreTypeLog:        true,
	CoreTypeConfig:     true,
	CoreTypeAnnotation: true,
}

// IsValid reports whether the core type belongs to the closed set.
func (c CoreType) IsValid() bool {
	return coreTypes[c]
}

// ParseCoreType converts a wire string to a CoreType.
//
// Returns:
//   - CoreType: The parsed core type
//   - error: ErrInvalidCoreType if the string is outside the closed set
func ParseCoreType(s string) (CoreType, error) {
	c := CoreType(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCoreType, s)
	}
	return c, nil
}

// Object is the base entity exchanged between agents.
//
// Required attributes are ObjectID (a UUID v4), CoreType, ObjectType
// (reverse-DNS style) and Name. ParentObjectID optionally links to an
// owning object. Fields not modelled here survive JSON round-trips via
// Extra.
type Object struct {
	// ObjectID is the globally unique identifier (UUID v4).
	ObjectID string `json:"objectId"`

	// CoreType is the framework-level discriminator.
	CoreType CoreType `json:"coreType"`

	// ObjectType is the application-level type in reverse-DNS notation,
	// e.g. "coaty.CoatyObject" or "com.example.sensor.Temperature".
	ObjectType string `json:"objectType"`

	// Name is a human-readable label. It need not be unique.
	Name string `json:"name"`

	// ParentObjectID links to an owning object (optional).
	ParentObjectID string `json:"parentObjectId,omitempty"`

	// ExternalID correlates the object with an external system (optional).
	ExternalID string `json:"externalId,omitempty"`

	// AssignedUserID references the user this object is assigned to (optional).
	AssignedUserID string `json:"assignedUserId,omitempty"`

	// LocationID references an associated Location object (optional).
	LocationID string `json:"locationId,omitempty"`

	// Extra holds properties unknown to this package, keyed by their
	// JSON name. They are re-emitted verbatim on marshalling.
	Extra map[string]any `json:"-"`
}

// NewObject creates a base object with a fresh UUID v4 identifier.
func NewObject(coreType CoreType, objectType, name string) *Object {
	return &Object{
		ObjectID:   uuid.NewString(),
		CoreType:   coreType,
		ObjectType: objectType,
		Name:       name,
	}
}

// Validate checks the base object schema.
//
// Returns:
//   - error: ErrInvalidCoreType for a core type outside the closed set,
//     ErrInvalidObject (wrapped with detail) for any other violation, nil
//     otherwise
func (o *Object) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: object is nil", ErrInvalidObject)
	}
	if _, err := uuid.Parse(o.ObjectID); err != nil {
		return fmt.Errorf("%w: objectId %q is not a UUID", ErrInvalidObject, o.ObjectID)
	}
	if !o.CoreType.IsValid() {
		return fmt.Errorf("%w: coreType %q", ErrInvalidCoreType, o.CoreType)
	}
	if o.ObjectType == "" {
		return fmt.Errorf("%w: objectType is empty", ErrInvalidObject)
	}
	if o.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidObject)
	}
	if o.ParentObjectID != "" {
		if _, err := uuid.Parse(o.ParentObjectID); err != nil {
			return fmt.Errorf("%w: parentObjectId %q is not a UUID", ErrInvalidObject, o.ParentObjectID)
		}
	}
	return nil
}

// ToJSONObject renders the object as a generic JSON map, merging typed
// fields over the preserved Extra properties.
func (o *Object) ToJSONObject() map[string]any {
	m := make(map[string]any, len(o.Extra)+8)
	for k, v := range o.Extra {
		m[k] = v
	}
	m["objectId"] = o.ObjectID
	m["coreType"] = string(o.CoreType)
	m["objectType"] = o.ObjectType
	m["name"] = o.Name
	if o.ParentObjectID != "" {
		m["parentObjectId"] = o.ParentObjectID
	}
	if o.ExternalID != "" {
		m["externalId"] = o.ExternalID
	}
	if o.AssignedUserID != "" {
		m["assignedUserId"] = o.AssignedUserID
	}
	if o.LocationID != "" {
		m["locationId"] = o.LocationID
	}
	return m
}

// ObjectFromJSONObject builds an Object from a generic JSON map,
// preserving unknown keys in Extra.
func ObjectFromJSONObject(m map[string]any) *Object {
	o := &Object{}
	for k, v := range m {
		switch k {
		case "objectId":
			o.ObjectID, _ = v.(string)
		case "coreType":
			if s, ok := v.(string); ok {
				o.CoreType = CoreType(s)
			}
		case "objectType":
			o.ObjectType, _ = v.(string)
		case "name":
			o.Name, _ = v.(string)
		case "parentObjectId":
			o.ParentObjectID, _ = v.(string)
		case "externalId":
			o.ExternalID, _ = v.(string)
		case "assignedUserId":
			o.AssignedUserID, _ = v.(string)
		case "locationId":
			o.LocationID, _ = v.(string)
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[k] = v
		}
	}
	return o
}

// MarshalJSON implements json.Marshaler, emitting Extra keys alongside
// the typed fields.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.ToJSONObject())
}

// UnmarshalJSON implements json.Unmarshaler, routing unknown keys to Extra.
func (o *Object) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*o = *ObjectFromJSONObject(m)
	return nil
}

// DeepCopy creates a complete independent copy of the Object.
// The Extra map is cloned through a JSON round-trip so modifications to
// the copy never leak back to the original.
func (o *Object) DeepCopy() *Object {
	if o == nil {
		return nil
	}
	cpy := *o
	if o.Extra != nil {
		raw, err := json.Marshal(o.Extra)
		if err == nil {
			var extra map[string]any
			if json.Unmarshal(raw, &extra) == nil {
				cpy.Extra = extra
			}
		}
	}
	return &cpy
}

// Property returns the value of a (possibly dotted) property path on the
// object's JSON form.
//
// Returns:
//   - any: The value at the path, nil if absent
//   - bool: Whether the full path exists
func (o *Object) Property(path string) (any, bool) {
	return lookupPath(o.ToJSONObject(), path)
}

// Component identifies a running controller or the communication manager
// itself. Its ObjectID serves as the sender identity on the wire.
type Component struct {
	Object
}

// NewComponent creates a Component with a fresh identity.
func NewComponent(name string) *Component {
	return &Component{Object: *NewObject(CoreTypeComponent, "coaty.Component", name)}
}

// IoCapabilityDirection distinguishes the two sides of an IO association.
type IoCapabilityDirection string

const (
	// IoDirectionSource marks a capability that produces IoValue events.
	IoDirectionSource IoCapabilityDirection = "source"

	// IoDirectionActor marks a capability that consumes IoValue events.
	IoDirectionActor IoCapabilityDirection = "actor"
)

// IoCapability describes one IO source or actor a device exposes. Its
// ObjectID is the io source/actor id referenced by Associate and IoValue
// events.
type IoCapability struct {
	ObjectID  string                `json:"objectId"`
	Name      string                `json:"name"`
	Direction IoCapabilityDirection `json:"direction"`

	// ValueType names the payload type in reverse-DNS notation (optional).
	ValueType string `json:"valueType,omitempty"`

	// UpdateRateMillis is the recommended value update interval (optional).
	UpdateRateMillis int `json:"updateRate,omitempty"`
}

// Device describes a device associated with an agent, advertised on
// request by the communication manager together with its IO capabilities.
type Device struct {
	Object

	// IoCapabilities lists the IO sources and actors the device exposes.
	IoCapabilities []IoCapability
}

// NewDevice creates a Device with a fresh identity and the given IO
// capabilities.
func NewDevice(name string, capabilities ...IoCapability) *Device {
	return &Device{
		Object:         *NewObject(CoreTypeDevice, "coaty.Device", name),
		IoCapabilities: capabilities,
	}
}

// MarshalJSON implements json.Marshaler, merging the IO capabilities
// into the object's JSON form.
func (d *Device) MarshalJSON() ([]byte, error) {
	m := d.Object.ToJSONObject()
	if len(d.IoCapabilities) > 0 {
		m["ioCapabilities"] = d.IoCapabilities
	}
	return json.Marshal(m)
}

// AsObject renders the device as a base Object with its IO capabilities
// merged into Extra, for embedding in event payloads that carry plain
// objects. The returned object is an independent copy.
func (d *Device) AsObject() *Object {
	obj := d.Object.DeepCopy()
	if len(d.IoCapabilities) == 0 {
		return obj
	}
	raw, err := json.Marshal(d.IoCapabilities)
	if err != nil {
		return obj
	}
	var generic []any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return obj
	}
	if obj.Extra == nil {
		obj.Extra = make(map[string]any)
	}
	obj.Extra["ioCapabilities"] = generic
	return obj
}

// UnmarshalJSON implements json.Unmarshaler, splitting the IO
// capabilities back out of the object's JSON form.
func (d *Device) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["ioCapabilities"]; ok {
		buf, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(buf, &d.IoCapabilities); err != nil {
			return err
		}
		delete(m, "ioCapabilities")
	}
	d.Object = *ObjectFromJSONObject(m)
	return nil
}

// User describes the user associated with an agent. Its ObjectID appears
// as the associated-user level in topics.
type User struct {
	Object
}

// NewUser creates a User with a fresh identity.
func NewUser(name string) *User {
	return &User{Object: *NewObject(CoreTypeUser, "coaty.User", name)}
}

// Task represents a unit of work assigned to a user or component.
// AssignedUserID names the assignee; DueTimestamp bounds its completion.
type Task struct {
	Object

	// DueTimestamp is the completion deadline in milliseconds since the
	// Unix epoch, 0 when unbounded.
	DueTimestamp int64
}

// NewTask creates a Task with a fresh identity.
func NewTask(name string) *Task {
	return &Task{Object: *NewObject(CoreTypeTask, "coaty.Task", name)}
}

// MarshalJSON implements json.Marshaler, merging the due timestamp into
// the object's JSON form.
func (t *Task) MarshalJSON() ([]byte, error) {
	m := t.Object.ToJSONObject()
	if t.DueTimestamp != 0 {
		m["dueTimestamp"] = t.DueTimestamp
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler, splitting the due timestamp
// back out of the object's JSON form.
func (t *Task) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["dueTimestamp"]; ok {
		if n, isNum := raw.(float64); isNum {
			t.DueTimestamp = int64(n)
		}
		delete(m, "dueTimestamp")
	}
	t.Object = *ObjectFromJSONObject(m)
	return nil
}

// Location carries a geographic position other objects reference via
// their LocationID.
type Location struct {
	Object
}

// NewLocation creates a Location with a fresh identity.
func NewLocation(name string) *Location {
	return &Location{Object: *NewObject(CoreTypeLocation, "coaty.Location", name)}
}

// Log carries a log record advertised by an agent for remote collection.
type Log struct {
	Object
}

// NewLog creates a Log with a fresh identity.
func NewLog(name string) *Log {
	return &Log{Object: *NewObject(CoreTypeLog, "coaty.Log", name)}
}

// Config carries configuration values distributed to agents at runtime.
type Config struct {
	Object
}

// NewConfig creates a Config with a fresh identity.
func NewConfig(name string) *Config {
	return &Config{Object: *NewObject(CoreTypeConfig, "coaty.Config", name)}
}

// Snapshot captures the state of an object at a point in time.
type Snapshot struct {
	Object
}

// NewSnapshot creates a Snapshot with a fresh identity.
func NewSnapshot(name string) *Snapshot {
	return &Snapshot{Object: *NewObject(CoreTypeSnapshot, "coaty.Snapshot", name)}
}

// Annotation attaches free-form information to another object via
// ParentObjectID.
type Annotation struct {
	Object
}

// NewAnnotation creates an Annotation with a fresh identity.
func NewAnnotation(name string) *Annotation {
	return &Annotation{Object: *NewObject(CoreTypeAnnotation, "coaty.Annotation", name)}
}
