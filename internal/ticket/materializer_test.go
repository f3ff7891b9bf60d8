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

package ticket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/models"
)

type fakeStore struct {
	created  []*CreateRequest
	replies  []*ReplyRequest
	ticket   *models.Ticket
	entry    *models.ThreadEntry
	err      error
	replyErr error
	refs     map[string]int64
	refErr   error
}

func (f *fakeStore) CreateTicket(_ context.Context, req *CreateRequest) (*models.Ticket, error) {
	f.created = append(f.created, req)
	return f.ticket, f.err
}

func (f *fakeStore) PostReply(_ context.Context, req *ReplyRequest) (*models.ThreadEntry, error) {
	f.replies = append(f.replies, req)
	return f.entry, f.replyErr
}

func (f *fakeStore) RecordReference(_ context.Context, threadID int64, mid string) error {
	if f.refErr != nil {
		return f.refErr
	}
	if f.refs == nil {
		f.refs = make(map[string]int64)
	}
	f.refs[mid] = threadID
	return nil
}

type fakeNotifier struct {
	events []models.Event
	err    error
}

func (f *fakeNotifier) PublishEvent(_ context.Context, ev models.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func newTicket() *models.Ticket {
	return &models.Ticket{ID: 7, Number: "100007", ThreadID: 70, Email: "a@example.com"}
}

func TestCreateTicket_Defaults(t *testing.T) {
	tests := []struct {
		name        string
		payload     models.Payload
		alert       bool
		autorespond bool
		source      string
	}{
		{"absent", models.Payload{}, true, true, "API"},
		{"null", models.Payload{"alert": nil, "autorespond": nil, "source": nil}, true, true, "API"},
		{"explicit false", models.Payload{"alert": false, "autorespond": "0", "source": "Web"}, false, false, "Web"},
		{"string true", models.Payload{"alert": "true", "autorespond": 1.0}, true, true, "API"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{ticket: newTicket()}
			m := NewMaterializer(Config{Store: store})

			got, err := m.CreateTicket(context.Background(), tt.payload, nil)
			require.NoError(t, err)
			assert.Equal(t, "100007", got.Number)

			require.Len(t, store.created, 1)
			req := store.created[0]
			assert.Equal(t, tt.alert, req.Alert)
			assert.Equal(t, tt.autorespond, req.Autorespond)
			assert.Equal(t, tt.source, req.Source)
		})
	}
}

func TestCreateTicket_AutoReplyNeverAutoresponds(t *testing.T) {
	store := &fakeStore{ticket: newTicket()}
	m := NewMaterializer(Config{Store: store})

	meta := &models.EmailMetadata{Flags: models.MailFlags{AutoReply: true}}
	_, err := m.CreateTicket(context.Background(), models.Payload{"source": "Email"}, meta)
	require.NoError(t, err)
	assert.False(t, store.created[0].Autorespond)
	assert.Same(t, meta, store.created[0].Email)
}

func TestCreateTicket_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		ticket  *models.Ticket
		err     error
		status  int
		message string
	}{
		{
			name:    "denied",
			err:     &FieldErrors{Errno: http.StatusForbidden, Fields: map[string]string{"email": "banned"}},
			status:  http.StatusForbidden,
			message: "Ticket denied",
		},
		{
			name:    "field errors",
			err:     &FieldErrors{Fields: map[string]string{"subject": "required"}},
			status:  http.StatusBadRequest,
			message: "Unable to create new ticket: validation errors",
		},
		{
			name:    "nil ticket",
			status:  http.StatusInternalServerError,
			message: "Unable to create new ticket: unknown error",
		},
		{
			name:    "store failure",
			err:     errors.New("connection reset"),
			status:  http.StatusInternalServerError,
			message: "Unable to create new ticket: unknown error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			m := NewMaterializer(Config{Store: &fakeStore{ticket: tt.ticket, err: tt.err}, Notifier: notifier})

			got, err := m.CreateTicket(context.Background(), models.Payload{}, nil)
			require.Error(t, err)
			assert.Nil(t, got)

			var ae *apierr.Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.status, ae.Status)
			assert.Equal(t, tt.message, ae.Message)
			assert.Empty(t, notifier.events)
		})
	}
}

func TestCreateTicket_FieldErrorsAreReported(t *testing.T) {
	fields := map[string]string{"subject": "required"}
	m := NewMaterializer(Config{Store: &fakeStore{err: &FieldErrors{Fields: fields}}})

	_, err := m.CreateTicket(context.Background(), models.Payload{}, nil)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, fields, ae.Fields)
}

func TestCreateTicket_StoredAttachmentsOnly(t *testing.T) {
	store := &fakeStore{ticket: newTicket()}
	m := NewMaterializer(Config{Store: store})

	ok := &models.Attachment{Name: "a.txt", ID: 11}
	bad := &models.Attachment{Name: "b.txt", Error: "b.txt: poorly encoded base64 data"}
	payload := models.Payload{"attachments": []*models.Attachment{ok, bad}}

	_, err := m.CreateTicket(context.Background(), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, []*models.Attachment{ok}, store.created[0].Attachments)
}

func TestCreateTicket_RejectOnAttachmentErrors(t *testing.T) {
	store := &fakeStore{ticket: newTicket()}
	m := NewMaterializer(Config{Store: store, RejectOnAttachmentErrors: true})

	bad := &models.Attachment{Name: "b.txt", Error: "b.txt: poorly encoded base64 data"}
	_, err := m.CreateTicket(context.Background(), models.Payload{"attachments": []*models.Attachment{bad}}, nil)

	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))
	assert.Empty(t, store.created)
}

func TestCreateTicket_PublishesEvent(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("redis down")}
	m := NewMaterializer(Config{Store: &fakeStore{ticket: newTicket()}, Notifier: notifier})

	_, err := m.CreateTicket(context.Background(), models.Payload{"alert": false}, nil)
	require.NoError(t, err, "publish failures must not fail creation")

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, models.EventTicketCreated, ev.Type)
	assert.Equal(t, "100007", ev.Number)
	assert.False(t, ev.Alert)
	assert.True(t, ev.Autorespond)
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestAppendReply(t *testing.T) {
	store := &fakeStore{entry: &models.ThreadEntry{ID: 3, ThreadID: 70, Type: models.EntryMessage}}
	notifier := &fakeNotifier{}
	m := NewMaterializer(Config{Store: store, Notifier: notifier})

	file := &models.Attachment{Name: "log.txt", ID: 12}
	payload := models.Payload{
		"email":   " a@example.com ",
		"name":    "Ann",
		"message": "still broken",
		"ip":      "10.0.0.1",
		"files":   []*models.Attachment{file},
	}
	entry, err := m.AppendReply(context.Background(), Ref{ID: 7, Number: "100007"}, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.ID)

	require.Len(t, store.replies, 1)
	req := store.replies[0]
	assert.Equal(t, "a@example.com", req.Poster.Address)
	assert.Equal(t, "still broken", req.Body)
	assert.True(t, req.Alert)
	assert.Equal(t, []*models.Attachment{file}, req.Attachments)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.EventThreadReply, notifier.events[0].Type)
	assert.Equal(t, int64(3), notifier.events[0].EntryID)
}

func TestAppendReply_Errors(t *testing.T) {
	tests := []struct {
		name   string
		entry  *models.ThreadEntry
		err    error
		status int
	}{
		{"denied", nil, &FieldErrors{Errno: http.StatusForbidden}, http.StatusForbidden},
		{"invalid", nil, &FieldErrors{Fields: map[string]string{"message": "required"}}, http.StatusBadRequest},
		{"passthrough", nil, apierr.NotFound("Ticket not found"), http.StatusNotFound},
		{"nil entry", nil, nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMaterializer(Config{Store: &fakeStore{entry: tt.entry, replyErr: tt.err}})
			_, err := m.AppendReply(context.Background(), Ref{ID: 1}, models.Payload{"message": "x"})
			assert.Equal(t, tt.status, apierr.StatusOf(err))
		})
	}
}

func TestCreateTicket_ReservesNoticeMessageID(t *testing.T) {
	store := &fakeStore{ticket: newTicket()}
	notifier := &fakeNotifier{}
	m := NewMaterializer(Config{Store: store, Notifier: notifier, MessageIDDomain: "support.example.com"})

	_, err := m.CreateTicket(context.Background(), models.Payload{"email": "a@example.com"}, nil)
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	mid := notifier.events[0].MessageID
	assert.True(t, strings.HasSuffix(mid, "@support.example.com"), mid)
	assert.Equal(t, int64(70), store.refs[mid])
}

func TestCreateTicket_ReserveFailureStillPublishes(t *testing.T) {
	store := &fakeStore{ticket: newTicket(), refErr: errors.New("conn reset")}
	notifier := &fakeNotifier{}
	m := NewMaterializer(Config{Store: store, Notifier: notifier})

	_, err := m.CreateTicket(context.Background(), models.Payload{"email": "a@example.com"}, nil)
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	assert.Empty(t, notifier.events[0].MessageID)
}

func TestCreateTicket_NoNotifierReservesNothing(t *testing.T) {
	store := &fakeStore{ticket: newTicket()}
	m := NewMaterializer(Config{Store: store})

	_, err := m.CreateTicket(context.Background(), models.Payload{"email": "a@example.com"}, nil)
	require.NoError(t, err)
	assert.Empty(t, store.refs)
}
