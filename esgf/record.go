package esgf

import (
	"encoding/json"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// recordJSON decodes numbers as json.Number so identifiers and sizes keep
// their exact textual form.
var recordJSON = jsoniter.Config{
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Record is one search result document. Fields keep the order in which the
// service returned them.
//
// Field values are string, json.Number, bool, nil, []any or map[string]any.
// The zero value is an empty record.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a record from alternating field names and values.
func NewRecord(kv ...any) Record {
	var r Record
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return r
}

// Set stores a field, appending new names after the existing ones.
func (r *Record) Set(name string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.values[name] = value
}

// Get returns a field value.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether the record holds name.
func (r Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Strings returns a field as a list of strings. A scalar becomes a
// one-element list.
func (r Record) Strings(name string) ([]string, bool) {
	v, ok := r.values[name]
	if !ok {
		return nil, false
	}
	if list, isList := v.([]any); isList {
		out := make([]string, len(list))
		for i, item := range list {
			out[i] = scalarString(item)
		}
		return out, true
	}
	return []string{scalarString(v)}, true
}

// First returns the first element of a list field, or the value of a scalar
// field.
func (r Record) First(name string) (string, bool) {
	values, ok := r.Strings(name)
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// MarshalJSON writes the fields in record order.
func (r Record) MarshalJSON() ([]byte, error) {
	stream := recordJSON.BorrowStream(nil)
	defer recordJSON.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, k := range r.keys {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k)
		stream.WriteVal(r.values[k])
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

// UnmarshalJSON reads a JSON object, keeping field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	iter := jsoniter.ParseBytes(recordJSON, data)
	rec, err := decodeRecord(iter)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// decodeRecord reads one JSON object from iter.
func decodeRecord(iter *jsoniter.Iterator) (Record, error) {
	if next := iter.WhatIsNext(); next != jsoniter.ObjectValue {
		if iter.Error != nil {
			return Record{}, iter.Error
		}
		return Record{}, fmt.Errorf("%w: record is not an object", ErrMalformedRecord)
	}
	var rec Record
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		rec.Set(field, it.Read())
		return it.Error == nil
	})
	if iter.Error != nil {
		return Record{}, iter.Error
	}
	return rec, nil
}

// scalarString renders a field value the way it appears in tabular output.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = scalarString(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		b, err := recordJSON.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
