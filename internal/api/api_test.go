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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/intake"
	"github.com/bcem/helpdesk/internal/models"
	"github.com/bcem/helpdesk/internal/parser"
	"github.com/bcem/helpdesk/internal/schema"
)

const clientIP = "192.0.2.10"

type keyStore struct {
	keys map[string]*models.APIKey
	err  error
}

func (s *keyStore) LookupAPIKey(_ context.Context, key string) (*models.APIKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.keys[key], nil
}

type ticketService struct {
	createErr error
	format    schema.Format
	payload   models.Payload
	email     string
	number    string
	file      *models.StoredFile
}

func (s *ticketService) Create(_ context.Context, format schema.Format, payload models.Payload) (*intake.Result, error) {
	s.format, s.payload = format, payload
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &intake.Result{Status: http.StatusCreated, Number: "100042"}, nil
}

func (s *ticketService) ListTickets(_ context.Context, email string) (*intake.Result, error) {
	s.email = email
	return &intake.Result{Status: http.StatusOK, Body: map[string]any{"tickets": []string{"100042"}}}, nil
}

func (s *ticketService) GetTicket(_ context.Context, number, email string) (*intake.Result, error) {
	s.number, s.email = number, email
	if number != "100042" {
		return nil, apierr.NotFound("Ticket not found")
	}
	return &intake.Result{Status: http.StatusOK, Body: map[string]string{"number": number}}, nil
}

func (s *ticketService) GetAttachment(_ context.Context, number, email string, id int64) (*models.StoredFile, error) {
	s.number, s.email = number, email
	if s.file == nil || s.file.ID != id {
		return nil, apierr.NotFound("Attachment not found")
	}
	return s.file, nil
}

func (s *ticketService) Reply(_ context.Context, number string, payload models.Payload) (*intake.Result, error) {
	s.number, s.payload = number, payload
	return &intake.Result{Status: http.StatusCreated, Body: map[string]any{"entry": 7}}, nil
}

func newTestServer(svc *ticketService, keys *keyStore) http.Handler {
	if keys == nil {
		keys = &keyStore{keys: map[string]*models.APIKey{
			"create": {ID: 1, Key: "create", IPAddr: clientIP, Active: true, CanCreateTickets: true},
			"read":   {ID: 2, Key: "read", IPAddr: "192.0.2.0/24", Active: true},
			"other":  {ID: 3, Key: "other", IPAddr: "198.51.100.1", Active: true, CanCreateTickets: true},
		}}
	}
	s := NewServer(ServerConfig{
		Keys:    keys,
		Tickets: NewTicketHandler(svc, parser.EmailOptions{}),
	})
	return s.Handler()
}

func do(h http.Handler, method, target, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = clientIP + ":40000"
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTicket(t *testing.T) {
	svc := &ticketService{}
	h := newTestServer(svc, nil)

	rec := do(h, http.MethodPost, "/api/tickets.json", "create", `{"email":"a@example.com","subject":"Hi","message":"Help"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "100042", rec.Body.String())
	assert.Equal(t, schema.FormatJSON, svc.format)
	assert.Equal(t, "Hi", svc.payload["subject"])
	assert.Equal(t, clientIP, svc.payload["ip"])
}

func TestCreateTicketXML(t *testing.T) {
	svc := &ticketService{}
	h := newTestServer(svc, nil)

	body := `<?xml version="1.0"?><ticket alert="false"><email>a@example.com</email><subject>Hi</subject></ticket>`
	rec := do(h, http.MethodPost, "/api/tickets.xml", "create", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, schema.FormatXML, svc.format)
	assert.Equal(t, "a@example.com", svc.payload["email"])
}

func TestCreateTicketAuth(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"missing key", ""},
		{"unknown key", "nope"},
		{"cannot create", "read"},
		{"wrong address", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ticketService{}
			rec := do(newTestServer(svc, nil), http.MethodPost, "/api/tickets.json", tt.key, `{"email":"a@example.com"}`)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "API key not authorized", rec.Body.String())
			assert.Nil(t, svc.payload)
		})
	}
}

func TestKeyLookupFailure(t *testing.T) {
	h := newTestServer(&ticketService{}, &keyStore{err: errors.New("connection refused")})

	rec := do(h, http.MethodPost, "/api/tickets.json", "create", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateTicketErrors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "unsupported format",
			target:   "/api/tickets.yaml",
			body:     `email: a@example.com`,
			wantCode: http.StatusUnsupportedMediaType,
			wantBody: "Unsupported data format",
		},
		{
			name:     "malformed json",
			target:   "/api/tickets.json",
			body:     `{"email":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "validation errors",
			target: "/api/tickets.json",
			body:   `{"bogus":1}`,
			err: apierr.Structural("Unexpected or invalid data received", map[string]string{
				"bogus": "unexpected field",
			}),
			wantCode: http.StatusBadRequest,
			wantBody: "Unexpected or invalid data received:\nbogus: unexpected field",
		},
		{
			name:     "denied",
			target:   "/api/tickets.json",
			body:     `{"email":"spam@example.com"}`,
			err:      apierr.Denied("Ticket denied"),
			wantCode: http.StatusForbidden,
			wantBody: "Ticket denied",
		},
		{
			name:     "unknown",
			target:   "/api/tickets.json",
			body:     `{"email":"a@example.com"}`,
			err:      errors.New("pool closed"),
			wantCode: http.StatusInternalServerError,
			wantBody: "Internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ticketService{createErr: tt.err}
			rec := do(newTestServer(svc, nil), http.MethodPost, tt.target, "create", tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			assert.NotContains(t, rec.Body.String(), "pool closed")
		})
	}
}

func TestReadRequiresEmail(t *testing.T) {
	h := newTestServer(&ticketService{}, nil)

	for _, target := range []string{
		"/api/tickets.json",
		"/api/tickets/100042.json",
		"/api/tickets/100042/attachments/3.json",
	} {
		rec := do(h, http.MethodGet, target, "read", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "missing email parameter", body["error"])
	}
}

func TestListTickets(t *testing.T) {
	svc := &ticketService{}
	rec := do(newTestServer(svc, nil), http.MethodGet, "/api/tickets.json?email=a@example.com", "read", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@example.com", svc.email)
	assert.JSONEq(t, `{"tickets":["100042"]}`, rec.Body.String())
}

func TestListTicketsRejectsXML(t *testing.T) {
	rec := do(newTestServer(&ticketService{}, nil), http.MethodGet, "/api/tickets.xml?email=a@example.com", "read", "")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestGetTicket(t *testing.T) {
	svc := &ticketService{}
	h := newTestServer(svc, nil)

	rec := do(h, http.MethodGet, "/api/tickets/100042.json?email=a@example.com", "read", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100042", svc.number)

	rec = do(h, http.MethodGet, "/api/tickets/999.json?email=a@example.com", "read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Ticket not found", rec.Body.String())

	rec = do(h, http.MethodGet, "/api/tickets/100042?email=a@example.com", "read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAttachment(t *testing.T) {
	svc := &ticketService{file: &models.StoredFile{
		ID:   3,
		Name: "report.pdf",
		Type: "application/pdf",
		Data: []byte("%PDF-1.4"),
	}}
	h := newTestServer(svc, nil)

	rec := do(h, http.MethodGet, "/api/tickets/100042/attachments/3.json?email=a@example.com", "read", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=report.pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Equal(t, "100042", svc.number)

	rec = do(h, http.MethodGet, "/api/tickets/100042/attachments/x.json?email=a@example.com", "read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReply(t *testing.T) {
	svc := &ticketService{}
	rec := do(newTestServer(svc, nil), http.MethodPost, "/api/tickets/100042.json", "read",
		`{"email":"a@example.com","message":"Thanks"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "100042", svc.number)
	assert.Equal(t, "Thanks", svc.payload["message"])
	assert.Equal(t, clientIP, svc.payload["ip"])
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthSkipsAuth(t *testing.T) {
	s := NewServer(ServerConfig{
		Keys:   &keyStore{},
		Health: map[string]Pinger{"redis": pinger{}},
	})
	rec := do(s.Handler(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s = NewServer(ServerConfig{
		Keys:   &keyStore{},
		Health: map[string]Pinger{"postgres": pinger{err: errors.New("down")}},
	})
	rec = do(s.Handler(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "postgres unhealthy", rec.Body.String())
}
