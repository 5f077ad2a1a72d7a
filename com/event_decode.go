package com

import (
	"encoding/json"
	"fmt"
)

// unmarshalEventData parses an inbound wire payload into the typed data
// for the given event kind, validating the schema.
//
// Raw events never pass through here; their payloads bypass the coaty
// grammar entirely.
func unmarshalEventData(et EventType, filter string, payload []byte) (EventData, error) {
	switch et {
	case EventTypeAdvertise:
		return unmarshalJSONData(payload, &AdvertiseEventData{})
	case EventTypeDeadvertise:
		return unmarshalJSONData(payload, &DeadvertiseEventData{})
	case EventTypeChannel:
		d := &ChannelEventData{ChannelID: filter}
		return unmarshalJSONData(payload, d)
	case EventTypeDiscover:
		return unmarshalJSONData(payload, &DiscoverEventData{})
	case EventTypeResolve:
		return unmarshalJSONData(payload, &ResolveEventData{})
	case EventTypeQuery:
		return unmarshalJSONData(payload, &QueryEventData{})
	case EventTypeRetrieve:
		return unmarshalJSONData(payload, &RetrieveEventData{})
	case EventTypeUpdate:
		return unmarshalJSONData(payload, &UpdateEventData{})
	case EventTypeComplete:
		return unmarshalJSONData(payload, &CompleteEventData{})
	case EventTypeCall:
		d, err := unmarshalCallData(filter, payload)
		if err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	case EventTypeReturn:
		return unmarshalReturnData(payload)
	case EventTypeAssociate:
		return unmarshalJSONData(payload, &AssociateEventData{})
	case EventTypeIoValue:
		d := &IoValueEventData{IoSourceID: filter}
		if json.Valid(payload) {
			if err := json.Unmarshal(payload, &d.Value); err != nil {
				return nil, fmt.Errorf("%w: io value: %v", ErrInvalidPayload, err)
			}
		} else {
			d.Raw = payload
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: cannot decode event type %q", ErrInvalidPayload, et)
	}
}

// unmarshalJSONData decodes a JSON payload into dst and validates it.
func unmarshalJSONData[T EventData](payload []byte, dst T) (EventData, error) {
	if err := json.Unmarshal(payload, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	return dst, nil
}
