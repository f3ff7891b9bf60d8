// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package models defines the data structures shared across the helpdesk
// intake service.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is a request body decoded from its wire format (JSON, XML or a raw
// email) into a tree of maps, sequences and scalars. Keys are case-sensitive.
type Payload map[string]any

// Has reports whether key is present with a non-nil value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value of key rendered as a string, or "" when the key is
// absent or null.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Bool returns the boolean reading of key, or fallback when the key is absent
// or null.
func (p Payload) Bool(key string, fallback bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return fallback
	}
	return Truthy(v)
}

// Int64 returns the integer value of key. ok is false when the key is absent
// or does not hold an integer.
func (p Payload) Int64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	return ToInt64(v)
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Stringify renders a scalar payload value as a string. Whole floats (as
// produced by encoding/json) lose their fractional part.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// ToInt64 converts a scalar payload value to an integer.
func ToInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Truthy interprets a payload value as a boolean. Strings such as "0",
// "false", "no", "off" and "" are false; numbers are true when non-zero.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	default:
		return true
	}
}
