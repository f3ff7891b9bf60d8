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

// Package parser decodes request bodies into payload trees. JSON and XML
// bodies follow the ticket API document formats; raw RFC 822 messages are
// flattened into the email payload fields.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// ErrEmptyBody is returned for a request without content.
var ErrEmptyBody = errors.New("empty request body")

// Parse decodes r according to format.
func Parse(format schema.Format, r io.Reader) (models.Payload, error) {
	switch format {
	case schema.FormatJSON:
		return ParseJSON(r)
	case schema.FormatXML:
		return ParseXML(r)
	case schema.FormatEmail:
		return ParseEmail(r, EmailOptions{})
	default:
		return nil, apierr.Unsupported(fmt.Sprintf("Unsupported data format: %s", format))
	}
}

// ParseJSON decodes a JSON object.
func ParseJSON(r io.Reader) (models.Payload, error) {
	var p models.Payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrEmptyBody
		}
		return nil, malformed("JSON", err)
	}
	if p == nil {
		return nil, malformed("JSON", ErrEmptyBody)
	}
	return p, nil
}

func malformed(kind string, err error) error {
	return &apierr.Error{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Unable to parse %s request body", kind),
		Err:     err,
	}
}
