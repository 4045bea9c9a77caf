package model

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/imdad19/treetune/pkg/errors"
)

// Params is a hyperparameter assignment. Values are int, float64 or string.
type Params map[string]any

// Int returns the integer stored under name, or dflt when absent. Integral
// float values are accepted.
func (p Params) Int(name string, dflt int) (int, error) {
	v, ok := p[name]
	if !ok {
		return dflt, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(x), nil
	default:
		return 0, errors.NewValidationError(name, "must be an integer", v)
	}
}

// Float returns the number stored under name, or dflt when absent.
func (p Params) Float(name string, dflt float64) (float64, error) {
	v, ok := p[name]
	if !ok {
		return dflt, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, errors.NewValidationError(name, "must be a number", v)
	}
}

// String returns the string stored under name, or dflt when absent.
func (p Params) String(name string, dflt string) (string, error) {
	v, ok := p[name]
	if !ok {
		return dflt, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(name, "must be a string", v)
	}
	return s, nil
}

// Keys returns the parameter names in lexicographic order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Key renders the assignment as a canonical string; equal assignments render
// identically.
func (p Params) Key() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		switch v := p[k].(type) {
		case float64:
			fmt.Fprintf(&b, "%s=%g", k, v)
		default:
			fmt.Fprintf(&b, "%s=%v", k, v)
		}
	}
	return b.String()
}

// Map converts to the form accepted by ParameterSetter.
func (p Params) Map() map[string]interface{} {
	return map[string]interface{}(p.Clone())
}
