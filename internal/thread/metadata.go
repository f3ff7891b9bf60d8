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

package thread

import (
	"regexp"
	"strings"

	"github.com/bcem/helpdesk/internal/models"
)

var msgIDPattern = regexp.MustCompile(`<([^<>\s]+)>`)

// NormalizeMessageID strips whitespace and angle brackets from a message id.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// ParseReferences splits a References (or In-Reply-To) header into
// normalized message ids, preserving order. Bracketed ids are preferred;
// a header without brackets is split on whitespace and commas.
func ParseReferences(header string) []string {
	var ids []string
	if m := msgIDPattern.FindAllStringSubmatch(header, -1); len(m) > 0 {
		for _, sub := range m {
			ids = append(ids, sub[1])
		}
		return ids
	}
	for _, f := range strings.FieldsFunc(header, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
	}) {
		if id := NormalizeMessageID(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// FromPayload extracts the email metadata from a validated email payload.
func FromPayload(p models.Payload) *models.EmailMetadata {
	meta := &models.EmailMetadata{
		MessageID:  NormalizeMessageID(p.String("mid")),
		Header:     p.String("header"),
		From:       models.EmailAddress{Address: strings.TrimSpace(p.String("email")), Name: p.String("name")},
		ReplyTo:    models.EmailAddress{Address: strings.TrimSpace(p.String("reply-to")), Name: p.String("reply-to-name")},
		ThreadType: p.String("thread-type"),
		Subject:    p.String("subject"),
		Body:       p.String("message"),
	}

	if irt := ParseReferences(p.String("in-reply-to")); len(irt) > 0 {
		meta.InReplyTo = irt[0]
	}

	switch refs := p["references"].(type) {
	case string:
		meta.References = ParseReferences(refs)
	case []any:
		for _, r := range refs {
			if id := NormalizeMessageID(models.Stringify(r)); id != "" {
				meta.References = append(meta.References, id)
			}
		}
	}

	if id, ok := p.Int64("emailId"); ok {
		meta.EmailID = id
	}
	if id, ok := p.Int64("to-email-id"); ok {
		meta.ToEmailID = id
	}

	if flags, ok := p["mailflags"].(map[string]any); ok {
		meta.Flags = models.MailFlags{
			Bounce:    models.Truthy(flags["bounce"]),
			AutoReply: models.Truthy(flags["auto-reply"]),
			Spam:      models.Truthy(flags["spam"]),
			Viral:     models.Truthy(flags["viral"]),
		}
	}

	if recipients, ok := p["recipients"].([]any); ok {
		for _, r := range recipients {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			meta.Recipients = append(meta.Recipients, models.Recipient{
				Name:   stringOf(m["name"]),
				Email:  strings.TrimSpace(stringOf(m["email"])),
				Source: stringOf(m["source"]),
			})
		}
	}

	if atts, ok := p["attachments"].([]*models.Attachment); ok {
		meta.Attachments = atts
	}

	return meta
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	return models.Stringify(v)
}
