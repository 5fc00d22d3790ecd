package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// QueryParam is one query key with its values in arrival order.
type QueryParam struct {
	Key    string
	Values []string
}

// Query is an ordered multimap of query parameters. Keys keep first-seen order.
// In JSON a key with one value is a string and a repeated key is a list.
type Query []QueryParam

// Add appends value under key, creating the key on first sight.
// It scans q linearly; bulk parsing should index keys itself.
func (q *Query) Add(key, value string) {
	for i := range *q {
		if (*q)[i].Key == key {
			(*q)[i].Values = append((*q)[i].Values, value)
			return
		}
	}
	*q = append(*q, QueryParam{Key: key, Values: []string{value}})
}

// Values returns every value recorded for key.
func (q Query) Values(key string) []string {
	for _, p := range q {
		if p.Key == key {
			return p.Values
		}
	}
	return nil
}

// Get returns the first value for key.
func (q Query) Get(key string) string {
	if vs := q.Values(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (q Query) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range q {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		var v []byte
		if len(p.Values) == 1 {
			v, err = json.Marshal(p.Values[0])
		} else {
			v, err = json.Marshal(p.Values)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (q *Query) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*q = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("query must be a JSON object")
	}
	out := Query{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("query key %v is not a string", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			out = append(out, QueryParam{Key: key, Values: []string{single}})
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err != nil {
			return fmt.Errorf("query value for %q: %w", key, err)
		}
		out = append(out, QueryParam{Key: key, Values: many})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*q = out
	return nil
}
