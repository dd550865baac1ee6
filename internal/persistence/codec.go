package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/petrijr/tokenflow/pkg/api"
)

// EncodeValue serializes v with encoding/gob.
//
// The value is encoded as an interface so DecodeValue can restore its
// dynamic type; user-defined payload types must be gob.Register'ed.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so it can be decoded into interface{}.
	iv := v
	if err := enc.Encode(&iv); err != nil {
		return nil, fmt.Errorf("gob encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeValue reverses EncodeValue. Empty input yields the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return zero, fmt.Errorf("gob decode: %w", err)
	}
	if iv == nil {
		return zero, nil
	}
	v, ok := iv.(T)
	if !ok {
		return zero, fmt.Errorf("gob decode: payload of type %T is not %T", iv, zero)
	}
	return v, nil
}

// eventEnvelope is the wire form of an api.Event. The payload is encoded
// separately so a missing type registration surfaces as a payload error
// rather than corrupting the envelope.
type eventEnvelope struct {
	Type     string
	Payload  []byte
	Metadata map[string]string
}

// EncodeEvent serializes ev for transports such as Redis pub/sub.
func EncodeEvent(ev api.Event) ([]byte, error) {
	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	env := eventEnvelope{Type: ev.Type, Payload: payload, Metadata: ev.Metadata}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("gob encode event %s: %w", ev.Type, err)
	}
	return buf.Bytes(), nil
}

// DecodeEvent reverses EncodeEvent.
func DecodeEvent(data []byte) (api.Event, error) {
	var env eventEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return api.Event{}, fmt.Errorf("gob decode event: %w", err)
	}
	payload, err := DecodeValue[any](env.Payload)
	if err != nil {
		return api.Event{Type: env.Type, Metadata: env.Metadata}, fmt.Errorf("event %s: %w", env.Type, err)
	}
	return api.Event{Type: env.Type, Payload: payload, Metadata: env.Metadata}, nil
}
