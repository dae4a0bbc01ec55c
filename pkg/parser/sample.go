package parser

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Sample is a decoded packet: an ordered set of named scalar fields.
// Field order is the order in which the decoder produced the fields, which is
// also the column order used when a sample starts a recording.
type Sample struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewSample creates an empty sample.
func NewSample() *Sample {
	return &Sample{fields: orderedmap.New[string, any]()}
}

// Set stores a field, keeping its original position if it already exists.
func (s *Sample) Set(key string, value any) *Sample {
	s.fields.Set(key, value)
	return s
}

// Get returns a field value.
func (s *Sample) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	return s.fields.Get(key)
}

// Keys returns field names in insertion order.
func (s *Sample) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, s.fields.Len())
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of fields.
func (s *Sample) Len() int {
	if s == nil {
		return 0
	}
	return s.fields.Len()
}

// Value reports the numeric "value" field, if the sample has one.
func (s *Sample) Value() (float64, bool) {
	v, ok := s.Get(FieldValue)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// IsError reports whether the decoder flagged the packet in-band (e.g. too short).
func (s *Sample) IsError() bool {
	_, ok := s.Get(FieldError)
	return ok
}

// MarshalJSON keeps field order.
func (s *Sample) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.fields)
}

// String renders the sample as compact JSON for diagnostics.
func (s *Sample) String() string {
	b, err := s.MarshalJSON()
	if err != nil {
		return "<invalid sample>"
	}
	return string(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
