package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strconv"
	"strings"
)

// DecodeJSON decodes one JSON value from r into v. Numbers inside untyped
// values such as metadata are decoded exactly: integers become int64 or
// uint64, other numbers float64, matching what the YAML decoder produces.
// Integers beyond 64 bits are kept as json.Number so their text survives.
func DecodeJSON(r io.Reader, v any) error {
	_, err := decodeJSON(r, v)
	return err
}

func decodeJSON(r io.Reader, v any) (*json.Decoder, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return nil, err
	}
	NormalizeNumbers(v)
	return dec, nil
}

// unmarshalJSON is DecodeJSON over a whole document; trailing data is an
// error, as with json.Unmarshal.
func unmarshalJSON(data []byte, v any) error {
	dec, err := decodeJSON(bytes.NewReader(data), v)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid character after top-level value")
	}
	return nil
}

// NormalizeNumbers replaces every json.Number reachable from v through
// exported fields, slices, maps and interfaces by its Go number.
func NormalizeNumbers(v any) {
	normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			normalizeValue(v.Elem())
		}
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		if v.CanSet() {
			v.Set(reflect.ValueOf(normalizeAny(v.Interface())))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				normalizeValue(f)
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			normalizeValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Elem().Kind() != reflect.Interface {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			if iter.Value().IsNil() {
				continue
			}
			v.SetMapIndex(iter.Key(), reflect.ValueOf(normalizeAny(iter.Value().Interface())))
		}
	}
}

// normalizeAny converts json.Number values inside untyped JSON data.
func normalizeAny(x any) any {
	switch t := x.(type) {
	case json.Number:
		return number(t)
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeAny(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeAny(e)
		}
		return t
	}
	normalizeValue(reflect.ValueOf(x))
	return x
}

func number(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return n
}
