package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidArguments is returned when a required argument is missing or has
// the wrong shape.
var ErrInvalidArguments = errors.New("invalid arguments")

// Args holds command arguments as decoded from JSON.
type Args map[string]interface{}

// String returns the string argument with the given name.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArguments, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArguments, name, v)
	}
	return s, nil
}

// Strings returns the string list argument with the given name. Both []string
// and JSON-decoded []interface{} holding strings are accepted.
func (a Args) Strings(name string) ([]string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidArguments, name)
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", ErrInvalidArguments, name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidArguments, name, v)
	}
}

// StringMap returns the string-to-string mapping argument with the given name.
// Both map[string]string and JSON-decoded map[string]interface{} holding
// strings are accepted.
func (a Args) StringMap(name string) (map[string]string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidArguments, name)
	}
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, item := range m {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%q] must be a string, got %T", ErrInvalidArguments, name, k, item)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a mapping of strings, got %T", ErrInvalidArguments, name, v)
	}
}
