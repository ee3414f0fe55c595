package cache

import (
	"encoding/json"
	"errors"
)

// Codec converts values to and from the JSON transport form stored in the
// remote tier.
type Codec[V any] interface {
	// ToTransport returns a JSON-encodable representation of v.
	ToTransport(v V) (any, error)
	// FromTransport rebuilds a value from its stored JSON representation.
	FromTransport(raw json.RawMessage) (V, error)
}

// JSONCodec stores V as its own JSON encoding.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) ToTransport(v V) (any, error) { return v, nil }

func (JSONCodec[V]) FromTransport(raw json.RawMessage) (V, error) {
	var v V
	err := json.Unmarshal(raw, &v)
	return v, err
}

// FuncCodec adapts a pair of conversion functions. A nil To stores the value
// unchanged; a nil From decodes straight into V.
type FuncCodec[V any] struct {
	To   func(V) (any, error)
	From func(json.RawMessage) (V, error)
}

func (c FuncCodec[V]) ToTransport(v V) (any, error) {
	if c.To == nil {
		return v, nil
	}
	return c.To(v)
}

func (c FuncCodec[V]) FromTransport(raw json.RawMessage) (V, error) {
	if c.From == nil {
		return JSONCodec[V]{}.FromTransport(raw)
	}
	return c.From(raw)
}

// envelope is the stored remote format. Keeping the payload under a field
// lets a stored null, false or zero decode as a hit.
type envelope struct {
	Value json.RawMessage `json:"value"`
}

var errNoValue = errors.New("cache: envelope has no value")

func encodeEnvelope[V any](codec Codec[V], v V) ([]byte, error) {
	payload, err := codec.ToTransport(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Value: raw})
}

func decodeEnvelope[V any](codec Codec[V], data []byte) (V, error) {
	var zero V
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, err
	}
	if env.Value == nil {
		return zero, errNoValue
	}
	return codec.FromTransport(env.Value)
}
