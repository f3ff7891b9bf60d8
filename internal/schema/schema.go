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

// Package schema computes the set of fields a ticket request may carry. The
// set depends on the request format and on administrator configuration:
// help-topic forms, the ticket and user detail forms and the department
// list. Resolution is a pure function of its inputs.
package schema

import (
	"sort"
	"strings"

	"github.com/bcem/helpdesk/internal/models"
)

// Format is the wire format a request arrived in.
type Format string

const (
	FormatJSON  Format = "json"
	FormatXML   Format = "xml"
	FormatEmail Format = "email"
)

// ParseFormat matches a format name case-insensitively.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, true
	case FormatXML:
		return FormatXML, true
	case FormatEmail:
		return FormatEmail, true
	}
	return "", false
}

// Field names with structure or special handling.
const (
	FieldAttachments = "attachments"
	FieldFiles       = "files"
	FieldRecipients  = "recipients"
	FieldMailFlags   = "mailflags"
	FieldDepartments = "deptIds"
	FieldTopic       = "topicId"
)

// Spec is a node of the accepted-field tree.
//
// A nil *Spec accepts any value. Otherwise the value must be a mapping whose
// keys appear in Fields, a sequence whose elements match Items, or a scalar
// contained in Values, depending on which of the three is set.
type Spec struct {
	Fields map[string]*Spec
	Items  *Spec
	Values map[string]bool
}

func object(names ...string) *Spec {
	s := &Spec{Fields: make(map[string]*Spec, len(names))}
	for _, n := range names {
		s.Fields[n] = nil
	}
	return s
}

func listOf(item *Spec) *Spec {
	return &Spec{Items: item}
}

// Allows reports whether name is an accepted key of this node.
func (s *Spec) Allows(name string) bool {
	if s == nil {
		return true
	}
	_, ok := s.Fields[name]
	return ok
}

// Child returns the accepted-field node for key name.
func (s *Spec) Child(name string) *Spec {
	if s == nil {
		return nil
	}
	return s.Fields[name]
}

// Names returns the accepted keys of this node in sorted order.
func (s *Spec) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Fields))
	for n := range s.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// add registers a plain field unless a structured entry already exists.
func (s *Spec) add(name string) {
	if name == "" {
		return
	}
	if _, ok := s.Fields[name]; ok {
		return
	}
	s.Fields[name] = nil
}

func (s *Spec) addForm(f *Form) {
	if f == nil {
		return
	}
	for _, field := range f.Fields {
		s.add(field.Name)
	}
}

// Resolve computes the accepted fields for a ticket creation request.
// payload may be partially parsed; only its help topic and department list
// are consulted.
func Resolve(format Format, reg *Registry, payload models.Payload) *Spec {
	root := object(
		"alert", "autorespond", "source", FieldTopic,
		"message", "ip", "priorityId",
	)
	attachment := object("name", "type", "data", "encoding", "size")
	root.Fields[FieldAttachments] = listOf(attachment)
	root.Fields[FieldDepartments] = nil

	if reg == nil {
		reg = &Registry{}
	}

	// Dynamic fields of the selected help topic
	if id, ok := payload.Int64(FieldTopic); ok {
		if topic := reg.Topics[id]; topic != nil {
			for i := range topic.Forms {
				root.addForm(&topic.Forms[i])
			}
		}
	}

	root.addForm(reg.TicketForm)
	root.addForm(reg.UserForm)

	if ids, ok := payload[FieldDepartments].([]any); ok {
		allowed := make(map[string]bool)
		for _, v := range ids {
			id, ok := models.ToInt64(v)
			if !ok {
				continue
			}
			if _, known := reg.Departments[id]; known {
				allowed[models.Stringify(v)] = true
			}
		}
		// An unmatched department list stays unconstrained.
		if len(allowed) > 0 {
			root.Fields[FieldDepartments] = listOf(&Spec{Values: allowed})
		}
	}

	if format == FormatEmail {
		for _, n := range []string{
			"header", "mid", "emailId", "to-email-id", "ticketId",
			"reply-to", "reply-to-name", "in-reply-to", "references",
			"thread-type",
		} {
			root.Fields[n] = nil
		}
		root.Fields[FieldMailFlags] = object("bounce", "auto-reply", "spam", "viral")
		root.Fields[FieldRecipients] = listOf(object("name", "email", "source"))
		attachment.Fields["cid"] = nil
	}

	return root
}

// ResolveReply computes the accepted fields for a reply posted to an
// existing ticket.
func ResolveReply() *Spec {
	root := object("email", "name", "message", "ip", "alert")
	root.Fields[FieldFiles] = listOf(object("name", "type", "data"))
	return root
}
