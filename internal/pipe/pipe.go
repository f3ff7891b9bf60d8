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

// Package pipe delivers a raw message from a local MTA and reports the
// result as a sysexits-style exit code.
package pipe

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/intake"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/parser"
)

// Exit codes understood by MTAs (sysexits.h).
const (
	ExitOK          = 0
	ExitUsage       = 64
	ExitDataErr     = 65
	ExitNoInput     = 66
	ExitUnavailable = 69
	ExitTempFail    = 75
	ExitNoPerm      = 77
)

// EmailProcessor runs a parsed message through the email path.
// Implemented by intake.Service.
type EmailProcessor interface {
	ProcessEmail(ctx context.Context, payload models.Payload) (*intake.Result, error)
}

// ExitCode maps a status class onto an MTA exit code.
func ExitCode(status int) int {
	switch status {
	case http.StatusOK, http.StatusCreated:
		return ExitOK
	case http.StatusBadRequest:
		return ExitNoInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return ExitNoPerm
	case http.StatusUnsupportedMediaType,
		http.StatusRequestedRangeNotSatisfiable,
		http.StatusExpectationFailed,
		http.StatusNotImplemented:
		return ExitDataErr
	case http.StatusServiceUnavailable:
		return ExitUnavailable
	default:
		return ExitTempFail
	}
}

// Deliver parses the message read from r and processes it. The returned
// exit code reflects the outcome; errors are logged, not returned.
func Deliver(ctx context.Context, r io.Reader, svc EmailProcessor, opts parser.EmailOptions) int {
	payload, err := parser.ParseEmail(r, opts)
	if err != nil {
		return fail(err)
	}

	res, err := svc.ProcessEmail(ctx, payload)
	if err != nil {
		return fail(err)
	}

	slog.Info("message delivered",
		"number", res.Number,
		"outcome", res.Outcome,
		"warnings", len(res.Warnings),
	)
	return ExitCode(res.Status)
}

func fail(err error) int {
	status := apierr.StatusOf(err)
	slog.Error("message rejected", "status", status, "error", err)
	return ExitCode(status)
}
