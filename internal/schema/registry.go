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

package schema

import "github.com/bcem/helpdesk/internal/models"

// MessageField is the ticket-form field whose file settings govern request
// attachments.
const MessageField = "message"

// Field is one administrator-defined form field.
type Field struct {
	ID       int64
	Name     string
	Label    string
	Type     string
	Required bool
	// Files is set for fields that accept uploads (the message field).
	Files *models.FilePolicy
}

// Form is a named set of fields.
type Form struct {
	ID     int64
	Title  string
	Fields []Field
}

// Field returns the field with the given name, or nil.
func (f *Form) Field(name string) *Field {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// Topic is a help topic and the dynamic forms attached to it.
type Topic struct {
	ID    int64
	Name  string
	Forms []Form
}

// Department is a ticket routing department.
type Department struct {
	ID       int64
	Name     string
	IsPublic bool
}

// Registry is a read-only snapshot of the configurable forms, help topics and
// departments. It is loaded per request and passed to Resolve explicitly.
type Registry struct {
	TicketForm  *Form
	UserForm    *Form
	Topics      map[int64]*Topic
	Departments map[int64]*Department
}

// MessagePolicy returns the file policy of the ticket form's message field.
// A missing form or field disables attachments.
func (r *Registry) MessagePolicy() models.FilePolicy {
	if r == nil {
		return models.FilePolicy{}
	}
	f := r.TicketForm.Field(MessageField)
	if f == nil || f.Files == nil {
		return models.FilePolicy{}
	}
	return *f.Files
}
