package taskstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// record keeps a task object's fields as raw JSON in file order, so a rewrite
// only touches the fields the scheduler owns.
type record struct {
	fields []rawField
}

type rawField struct {
	key string
	raw json.RawMessage
}

func (r *record) get(key string) (json.RawMessage, bool) {
	for _, f := range r.fields {
		if f.key == key {
			return f.raw, true
		}
	}
	return nil, false
}

// value returns a copy of the raw value for key, or nil when absent.
func (r *record) value(key string) json.RawMessage {
	raw, ok := r.get(key)
	if !ok {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// set replaces key in place, or appends it when absent.
func (r *record) set(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	for i := range r.fields {
		if r.fields[i].key == key {
			r.fields[i].raw = b
			return nil
		}
	}
	r.fields = append(r.fields, rawField{key: key, raw: b})
	return nil
}

func (r *record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("task record is not an object")
	}
	r.fields = r.fields[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		r.fields = append(r.fields, rawField{key: key, raw: raw})
	}
	_, err = dec.Token()
	return err
}

func (r record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(f.raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
