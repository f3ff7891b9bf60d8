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

package store

import (
	"context"
	"fmt"

	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/schema"
)

// Form kinds stored in forms.kind.
const (
	formTicket = "ticket"
	formUser   = "user"
	formTopic  = "topic"
)

// LoadRegistry reads the current forms, help topics and departments.
func (s *Store) LoadRegistry(ctx context.Context) (*schema.Registry, error) {
	forms, err := s.loadForms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}

	reg := &schema.Registry{
		Topics:      make(map[int64]*schema.Topic),
		Departments: make(map[int64]*schema.Department),
	}
	for _, f := range forms {
		switch f.kind {
		case formTicket:
			if reg.TicketForm == nil || f.ID < reg.TicketForm.ID {
				reg.TicketForm = &f.Form
			}
		case formUser:
			if reg.UserForm == nil || f.ID < reg.UserForm.ID {
				reg.UserForm = &f.Form
			}
		}
	}

	if err := s.loadTopics(ctx, reg, forms); err != nil {
		return nil, fmt.Errorf("load help topics: %w", err)
	}
	if err := s.loadDepartments(ctx, reg); err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	return reg, nil
}

type storedForm struct {
	schema.Form
	kind string
}

func (s *Store) loadForms(ctx context.Context) (map[int64]*storedForm, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.kind, f.title,
		       ff.id, ff.name, ff.label, ff.type, ff.required,
		       ff.files_enabled, ff.max_file_size, ff.max_files,
		       ff.extensions, ff.mime_types
		FROM forms f
		LEFT JOIN form_fields ff ON ff.form_id = f.id
		ORDER BY f.id, ff.sort, ff.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	forms := make(map[int64]*storedForm)
	for rows.Next() {
		var (
			formID                 int64
			kind, title            string
			fieldID                *int64
			name, label, typ       *string
			required, filesEnabled *bool
			maxFileSize            *int64
			maxFiles               *int32
			extensions, mimeTypes  []string
		)
		if err := rows.Scan(
			&formID, &kind, &title,
			&fieldID, &name, &label, &typ, &required,
			&filesEnabled, &maxFileSize, &maxFiles,
			&extensions, &mimeTypes,
		); err != nil {
			return nil, err
		}

		f, ok := forms[formID]
		if !ok {
			f = &storedForm{Form: schema.Form{ID: formID, Title: title}, kind: kind}
			forms[formID] = f
		}
		if fieldID == nil {
			continue
		}

		field := schema.Field{
			ID:       *fieldID,
			Name:     deref(name),
			Label:    deref(label),
			Type:     deref(typ),
			Required: required != nil && *required,
		}
		if filesEnabled != nil && *filesEnabled {
			field.Files = &models.FilePolicy{
				Enabled:    true,
				MaxSize:    derefInt64(maxFileSize),
				Extensions: extensions,
				MimeTypes:  mimeTypes,
			}
			if maxFiles != nil {
				field.Files.MaxFiles = int(*maxFiles)
			}
		} else if field.Name == schema.MessageField {
			field.Files = &models.FilePolicy{}
		}
		f.Fields = append(f.Fields, field)
	}
	return forms, rows.Err()
}

func (s *Store) loadTopics(ctx context.Context, reg *schema.Registry, forms map[int64]*storedForm) error {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, tf.form_id
		FROM help_topics t
		LEFT JOIN help_topic_forms tf ON tf.topic_id = t.id
		WHERE t.isactive
		ORDER BY t.id, tf.sort
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			name   string
			formID *int64
		)
		if err := rows.Scan(&id, &name, &formID); err != nil {
			return err
		}
		topic, ok := reg.Topics[id]
		if !ok {
			topic = &schema.Topic{ID: id, Name: name}
			reg.Topics[id] = topic
		}
		if formID == nil {
			continue
		}
		if f, ok := forms[*formID]; ok && f.kind == formTopic {
			topic.Forms = append(topic.Forms, f.Form)
		}
	}
	return rows.Err()
}

func (s *Store) loadDepartments(ctx context.Context, reg *schema.Registry) error {
	rows, err := s.pool.Query(ctx, `SELECT id, name, ispublic FROM departments`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var d schema.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.IsPublic); err != nil {
			return err
		}
		reg.Departments[d.ID] = &d
	}
	return rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
