package messaging

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Payload is implemented by every wire variant. Kind must not depend on the
// receiver's field values, and variants must be value types.
type Payload interface {
	Kind() string
}

type decoder func(json.RawMessage) (Payload, error)

// Codec maps payload kinds to decoders. It replaces type reflection with an
// explicit discriminant.
type Codec struct {
	mu       sync.RWMutex
	decoders map[string]decoder
}

// NewCodec returns a codec that already knows RemoteError.
func NewCodec() *Codec {
	c := &Codec{decoders: make(map[string]decoder)}
	Register[RemoteError](c)
	return c
}

// Register adds T to c under T's kind, replacing an earlier registration.
func Register[T Payload](c *Codec) {
	var zero T
	kind := zero.Kind()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[kind] = func(raw json.RawMessage) (Payload, error) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
			}
		}
		return v, nil
	}
}

// Known reports whether kind has a decoder.
func (c *Codec) Known(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.decoders[kind]
	return ok
}

// Kinds lists the registered kinds in sorted order.
func (c *Codec) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.decoders))
	for k := range c.decoders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Encode wraps p in an envelope of the given class.
func (c *Codec) Encode(class Class, p Payload) (Envelope, error) {
	if !c.Known(p.Kind()) {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownKind, p.Kind())
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", p.Kind(), err)
	}
	return Envelope{Class: class, Kind: p.Kind(), Payload: raw}, nil
}

// Decode turns the envelope payload back into its registered variant.
func (c *Codec) Decode(env Envelope) (Payload, error) {
	c.mu.RLock()
	dec, ok := c.decoders[env.Kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}
	return dec(env.Payload)
}
