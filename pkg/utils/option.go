// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

// Option is a loosely-typed bag of key/value arguments, as decoded from a
// JSON object (e.g. model-produced tool-call arguments). Accessors return
// (zero, false) on missing keys or type mismatches so callers can fall back
// to defaults without error plumbing.
type Option map[string]interface{}

// GetString returns the string value for key.
func (o Option) GetString(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns the int value for key, converting from float64 when the
// option came through JSON decoding.
func (o Option) GetInt(key string) (int, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// GetFloat returns the float64 value for key.
func (o Option) GetFloat(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// GetBool returns the bool value for key.
func (o Option) GetBool(key string) (bool, bool) {
	v, ok := o[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// StringOr returns the string value for key, or def when absent.
func (o Option) StringOr(key, def string) string {
	if s, ok := o.GetString(key); ok && s != "" {
		return s
	}
	return def
}

// Merge overlays other on top of o, returning a new Option. Keys in other win.
func (o Option) Merge(other Option) Option {
	merged := make(Option, len(o)+len(other))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
