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

// Package apierr defines the terminal error classes of request processing.
// Every class carries an HTTP-style status so both the HTTP responder and
// the pipe exit-code responder can map it without knowing the cause.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error is a terminal request error.
type Error struct {
	Status  int
	Message string
	// Fields holds field-scoped messages for validation failures.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		msg += ":\n" + e.FieldSummary()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// FieldSummary renders the field messages one per line, sorted by field.
func (e *Error) FieldSummary() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+e.Fields[k])
	}
	return strings.Join(lines, "\n")
}

// Structural reports a payload that does not fit the accepted schema or is
// missing a required correlation field.
func Structural(msg string, fields map[string]string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg, Fields: fields}
}

// Unauthorized reports a missing or insufficient API key.
func Unauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: msg}
}

// Denied reports a request refused by business-rule filtering.
func Denied(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Message: msg}
}

// NotFound reports a ticket or attachment that does not exist or does not
// belong to the requester.
func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Message: msg}
}

// Unsupported reports an unknown request format.
func Unsupported(msg string) *Error {
	return &Error{Status: http.StatusUnsupportedMediaType, Message: msg}
}

// Unknown reports a failure with no specific cause; callers may retry.
func Unknown(msg string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// Unavailable reports a temporary condition; callers should retry later.
func Unavailable(msg string, err error) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Message: msg, Err: err}
}

// StatusOf returns the status class of err. Errors that are not *Error are
// treated as unknown server failures.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// As extracts the *Error from err, wrapping foreign errors as Unknown.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unknown("Internal error", err)
}
