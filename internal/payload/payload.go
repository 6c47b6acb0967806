// Package payload models a decoded webhook body as a tree of optional
// lookups. Every accessor reports absence explicitly instead of handing back
// a zero value that could be mistaken for a real one.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty     = errors.New("payload is empty")
	ErrNotObject = errors.New("payload is not a JSON object")
)

type Problem string

const (
	ProblemMissing   Problem = "missing"
	ProblemNull      Problem = "null"
	ProblemWrongType Problem = "wrong type"
	ProblemEmpty     Problem = "empty"
)

// FieldError describes why a required field could not be read.
type FieldError struct {
	Path    string
	Problem Problem
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Path, e.Problem)
}

// Object is a decoded JSON object.
type Object map[string]interface{}

// Parse decodes body into an Object. Blank bodies and a literal null are
// reported as ErrEmpty; any other non-object JSON value as ErrNotObject.
func Parse(body []byte) (Object, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return nil, ErrEmpty
	case map[string]interface{}:
		return Object(t), nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, v)
	}
}

// Lookup walks path through nested objects. The boolean is false when any
// segment is absent or an intermediate value is not an object. A field that is
// present with a JSON null value yields (nil, true).
func (o Object) Lookup(path ...string) (interface{}, bool) {
	if len(path) == 0 {
		return map[string]interface{}(o), o != nil
	}
	var cur interface{} = map[string]interface{}(o)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path.
func (o Object) String(path ...string) (string, error) {
	v, err := o.value(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Path: joinPath(path), Problem: ProblemWrongType}
	}
	return s, nil
}

// NonEmptyString is String with the additional requirement that the value
// contains something other than whitespace.
func (o Object) NonEmptyString(path ...string) (string, error) {
	s, err := o.String(path...)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", &FieldError{Path: joinPath(path), Problem: ProblemEmpty}
	}
	return s, nil
}

// Bool returns the boolean at path.
func (o Object) Bool(path ...string) (bool, error) {
	v, err := o.value(path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &FieldError{Path: joinPath(path), Problem: ProblemWrongType}
	}
	return b, nil
}

func (o Object) value(path []string) (interface{}, error) {
	v, ok := o.Lookup(path...)
	if !ok {
		return nil, &FieldError{Path: joinPath(path), Problem: ProblemMissing}
	}
	if v == nil {
		return nil, &FieldError{Path: joinPath(path), Problem: ProblemNull}
	}
	return v, nil
}

func joinPath(path []string) string {
	return strings.Join(path, ".")
}
