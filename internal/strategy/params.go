// params.go provides tolerant typed reads over the raw parameter map.
//
// Parameters arrive as JSON-decoded map values, so numbers are float64 and
// arrays are []any. The readers accept the shapes JSON and viper produce and
// leave strict validation to each strategy's constructor.
package strategy

import "fmt"

// Params is a strategy's configuration, as decoded from the config file or
// a control-plane request body.
type Params map[string]any

// String reads a string parameter.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok && s != ""
}

// Float reads a numeric parameter, accepting the numeric types JSON and
// config decoding produce.
func (p Params) Float(key string) (float64, bool) {
	switch n := p[key].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// FloatOr reads a numeric parameter with a default.
func (p Params) FloatOr(key string, def float64) float64 {
	if v, ok := p.Float(key); ok {
		return v
	}
	return def
}

// Int reads an integer parameter. Fractional values are rejected.
func (p Params) Int(key string) (int, bool) {
	v, ok := p.Float(key)
	if !ok || v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}

// StringSlice reads a string-array parameter, accepting both []string and
// the []any form JSON decoding produces.
func (p Params) StringSlice(key string) ([]string, bool) {
	switch v := p[key].(type) {
	case []string:
		return v, len(v) > 0
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// Clone returns a shallow copy. Strategies hold their params immutably, so
// callers that want to tweak a map clone it first.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func missingParam(strategyID, key string) error {
	return fmt.Errorf("%s: missing required parameter %q", strategyID, key)
}

func badParam(strategyID, key, reason string) error {
	return fmt.Errorf("%s: invalid parameter %q: %s", strategyID, key, reason)
}
