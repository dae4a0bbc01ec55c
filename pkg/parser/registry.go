// Package parser turns raw notification payloads into decoded samples.
//
// Decoders are registered under a parser id (the whitelist names the id for
// each device). Resolution never fails: an unknown id yields the "default"
// hex decoder.
package parser

import (
	"fmt"
	"sort"
	"sync"
)

// Decoder converts one notification payload into a sample. A decoder must not
// retain the packet slice.
type Decoder func(packet []byte) *Sample

// DefaultID is the fallback parser id.
const DefaultID = "default"

// Registry maps parser ids to decoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry creates a registry populated with the built-in decoders.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	registerBuiltins(r)
	return r
}

// Register stores a decoder under id. Registering an existing id replaces it.
func (r *Registry) Register(id string, fn Decoder) {
	if fn == nil {
		panic(fmt.Sprintf("parser: nil decoder for %q", id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[id] = fn
}

// Resolve returns the decoder registered under id, or the default decoder.
func (r *Registry) Resolve(id string) Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.decoders[id]; ok {
		return fn
	}
	if fn, ok := r.decoders[DefaultID]; ok {
		return fn
	}
	return decodeHex
}

// Has reports whether id is registered without falling back.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[id]
	return ok
}

// IDs returns the registered parser ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.decoders))
	for id := range r.decoders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Default is the process-wide registry.
var Default = NewRegistry()

// Register adds a decoder to the Default registry.
func Register(id string, fn Decoder) { Default.Register(id, fn) }

// Resolve looks up a decoder in the Default registry.
func Resolve(id string) Decoder { return Default.Resolve(id) }

// DecodeError reports a decoder that panicked on a packet.
type DecodeError struct {
	Length int
	Cause  any
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed on %d-byte packet: %v", e.Length, e.Cause)
}

// Decode runs fn on packet, converting a decoder panic into *DecodeError.
// A nil sample with a nil error means the decoder produced nothing.
func Decode(fn Decoder, packet []byte) (s *Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = &DecodeError{Length: len(packet), Cause: r}
		}
	}()
	return fn(packet), nil
}
