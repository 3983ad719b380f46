package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attribute is one entry of a Snapshot. Value holds the raw JSON of the
// attribute so nested documents survive untouched.
type Attribute struct {
	Key   string
	Value json.RawMessage
}

// Snapshot is an ordered key/value payload captured at job submission time.
// Keys keep their insertion order through JSON encoding, decoding and storage.
// A Snapshot never references the Region it was taken from.
type Snapshot []Attribute

// Set replaces the value of key in place, or appends it when absent.
func (s *Snapshot) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("snapshot: encode %q: %w", key, err)
	}
	s.setRaw(key, raw)
	return nil
}

func (s *Snapshot) setRaw(key string, raw json.RawMessage) {
	for i := range *s {
		if (*s)[i].Key == key {
			(*s)[i].Value = raw
			return
		}
	}
	*s = append(*s, Attribute{Key: key, Value: raw})
}

// Get returns the raw value stored under key.
func (s Snapshot) Get(key string) (json.RawMessage, bool) {
	for _, a := range s {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s))
	for i, a := range s {
		keys[i] = a.Key
	}
	return keys
}

// Merge appends every attribute of other, replacing existing keys in place.
func (s *Snapshot) Merge(other Snapshot) {
	for _, a := range other {
		s.setRaw(a.Key, append(json.RawMessage(nil), a.Value...))
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for i, a := range s {
		out[i] = Attribute{Key: a.Key, Value: append(json.RawMessage(nil), a.Value...)}
	}
	return out
}

// MarshalJSON writes the snapshot as a JSON object in key order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(a.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(a.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		if err := json.Compact(&buf, a.Value); err != nil {
			return nil, fmt.Errorf("snapshot: value of %q: %w", a.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the order in which keys appear.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("snapshot: expected object, got %v", tok)
	}

	out := Snapshot{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("snapshot: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("snapshot: value of %q: %w", key, err)
		}
		out.setRaw(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	*s = out
	return nil
}
