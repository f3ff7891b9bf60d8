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

// Package validate enforces the resolved request schema on decoded payloads
// and runs any submitted attachments through the attachment processor.
package validate

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/attachment"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// UnexpectedData is the message for every key outside the schema.
const UnexpectedData = "Unexpected data received in API request"

// Result is a payload that passed structural validation, together with the
// processed attachments. Attachment failures are reported here as data.
type Result struct {
	Payload     models.Payload
	Attachments []*models.Attachment
	Outcomes    []attachment.Outcome
}

// AttachmentErrors returns the per-file error notes, in input order.
func (r *Result) AttachmentErrors() []string {
	return models.AttachmentErrors(r.Attachments)
}

// AttachmentIDs returns the identifiers of stored attachments.
func (r *Result) AttachmentIDs() []int64 {
	return models.StoredIDs(r.Attachments)
}

// Validator checks payloads against the dynamic schema.
type Validator struct {
	processor *attachment.Processor
}

// NewValidator creates a validator persisting files through processor.
func NewValidator(processor *attachment.Processor) *Validator {
	return &Validator{processor: processor}
}

// Validate checks a ticket creation payload. In strict mode any key outside
// the resolved schema fails the request with a 400-class error; otherwise
// such keys are left in place. Attachments are decoded and persisted one by
// one and failures are collected on the result.
func (v *Validator) Validate(ctx context.Context, reg *schema.Registry, payload models.Payload, format schema.Format, strict bool) (*Result, error) {
	if payload == nil {
		payload = models.Payload{}
	}

	spec := schema.Resolve(format, reg, payload)
	if err := checkStructure(spec, payload, strict); err != nil {
		return nil, err
	}

	res := &Result{Payload: payload}
	if _, ok := payload[schema.FieldAttachments]; !ok {
		return res, nil
	}

	policy := reg.MessagePolicy()
	if !policy.Enabled {
		// Uploads are switched off for the message field: drop silently.
		payload[schema.FieldAttachments] = []*models.Attachment{}
		return res, nil
	}

	atts := attachmentsFrom(payload[schema.FieldAttachments])
	res.Outcomes = v.processor.WithPolicy(policy).ProcessAll(ctx, atts)
	res.Attachments = atts
	payload[schema.FieldAttachments] = atts
	return res, nil
}

// Discard drops the attachments persisted for res. It is called when the
// request fails or turns out to be a replay.
func (v *Validator) Discard(ctx context.Context, res *Result) error {
	if res == nil {
		return nil
	}
	return v.processor.Discard(ctx, res.Attachments)
}

// ValidateReply checks a reply payload and persists its files.
func (v *Validator) ValidateReply(ctx context.Context, reg *schema.Registry, payload models.Payload, strict bool) (*Result, error) {
	if payload == nil {
		payload = models.Payload{}
	}

	if err := checkStructure(schema.ResolveReply(), payload, strict); err != nil {
		return nil, err
	}

	res := &Result{Payload: payload}
	raw, ok := payload[schema.FieldFiles]
	if !ok {
		return res, nil
	}

	policy := reg.MessagePolicy()
	if !policy.Enabled {
		payload[schema.FieldFiles] = []*models.Attachment{}
		return res, nil
	}

	p := v.processor.WithPolicy(policy)
	for _, f := range filesFrom(raw) {
		a, err := p.PersistFile(ctx, f)
		res.Attachments = append(res.Attachments, a)
		res.Outcomes = append(res.Outcomes, attachment.Outcome{Attachment: a, Err: err})
	}
	payload[schema.FieldFiles] = res.Attachments
	return res, nil
}

func checkStructure(spec *schema.Spec, payload models.Payload, strict bool) error {
	bad := Check(spec, payload)
	if len(bad) == 0 {
		return nil
	}
	if !strict {
		slog.Debug("ignoring unexpected request fields", "fields", bad)
		return nil
	}
	fields := make(map[string]string, len(bad))
	for _, path := range bad {
		fields[path] = UnexpectedData
	}
	return apierr.Structural("Unexpected or invalid data received", fields)
}

// Check returns the paths of all payload entries the field tree does not accept,
// at every nesting level. Paths join keys and sequence indexes with "/".
func Check(spec *schema.Spec, payload models.Payload) []string {
	var bad []string
	walk(spec, map[string]any(payload), "", &bad)
	return bad
}

func walk(s *schema.Spec, v any, path string, bad *[]string) {
	if s == nil || v == nil {
		return
	}

	switch {
	case s.Fields != nil:
		m, ok := asMap(v)
		if !ok {
			*bad = append(*bad, path)
			return
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := join(path, k)
			if !s.Allows(k) {
				*bad = append(*bad, child)
				continue
			}
			walk(s.Child(k), m[k], child, bad)
		}

	case s.Items != nil:
		items, ok := asList(v)
		if !ok {
			*bad = append(*bad, path)
			return
		}
		for i, item := range items {
			walk(s.Items, item, join(path, itoa(i)), bad)
		}

	case s.Values != nil:
		if _, isMap := asMap(v); isMap {
			*bad = append(*bad, path)
			return
		}
		if !s.Values[models.Stringify(v)] {
			*bad = append(*bad, path)
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}

func itoa(i int) string {
	return models.Stringify(i)
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case models.Payload:
		return t, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []*models.Attachment:
		out := make([]any, len(t))
		for i, a := range t {
			out[i] = attachmentFields(a)
		}
		return out, true
	}
	return nil, false
}

// attachmentFields renders a typed attachment as the keys it carries, so
// already-materialized attachments can be checked like raw ones.
func attachmentFields(a *models.Attachment) map[string]any {
	m := map[string]any{"name": a.Name}
	if a.Type != "" {
		m["type"] = a.Type
	}
	if a.Data != nil {
		m["data"] = a.Data
	}
	if a.Encoding != "" {
		m["encoding"] = a.Encoding
	}
	if a.Size != 0 {
		m["size"] = a.Size
	}
	if a.ContentID != "" {
		m["cid"] = a.ContentID
	}
	return m
}

// attachmentsFrom converts the raw attachments field into descriptors.
// Entries that are not mappings are ignored.
func attachmentsFrom(v any) []*models.Attachment {
	if atts, ok := v.([]*models.Attachment); ok {
		return atts
	}
	items, _ := asList(v)
	atts := make([]*models.Attachment, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		a := &models.Attachment{
			Name:      str(m["name"]),
			Type:      str(m["type"]),
			Encoding:  str(m["encoding"]),
			ContentID: str(m["cid"]),
			Data:      bytesOf(m["data"]),
		}
		if size, ok := models.ToInt64(m["size"]); ok {
			a.Size = size
		}
		atts = append(atts, a)
	}
	return atts
}

func filesFrom(v any) []models.File {
	items, _ := asList(v)
	files := make([]models.File, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		files = append(files, models.File{
			Name: str(m["name"]),
			Type: str(m["type"]),
			Data: string(bytesOf(m["data"])),
		})
	}
	return files
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(models.Stringify(v))
}

func bytesOf(v any) []byte {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return []byte(models.Stringify(t))
	}
}
