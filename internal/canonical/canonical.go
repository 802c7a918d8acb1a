// package canonical produces deterministic JSON bytes for audit hashing and
// archival: object keys sorted, array order preserved, numbers kept in their
// original textual form.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns canonical JSON for v. Values that are not already plain
// JSON shapes (maps, slices, primitives) are normalized through a
// marshal/decode round trip first so struct tags apply.
func Marshal(v interface{}) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := write(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, bool, string, json.Number, float64, map[string]interface{}, []interface{}:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return out, nil
}

func write(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(vv.String())
	case float64:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case string:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			norm, err := normalize(elem)
			if err != nil {
				return err
			}
			if err := write(buf, norm); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			norm, err := normalize(vv[k])
			if err != nil {
				return err
			}
			if err := write(buf, norm); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		norm, err := normalize(vv)
		if err != nil {
			return err
		}
		return write(buf, norm)
	}
	return nil
}
