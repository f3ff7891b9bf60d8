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

package models

import "time"

// Object types that can own a thread.
const (
	ObjectTicket = "T"
	ObjectTask   = "A"
)

// ObjectRef identifies the object owning a thread.
type ObjectRef struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	Number string `json:"number"`
}

// Thread is the conversation container of a ticket or task.
type Thread struct {
	ID     int64
	Object ObjectRef
}

// ThreadEntry is one message, response or note within a thread.
type ThreadEntry struct {
	ID        int64     `json:"id"`
	ThreadID  int64     `json:"-"`
	Type      string    `json:"type"`
	Poster    string    `json:"user_name"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	MessageID string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`

	// Object is the owner of the thread the entry was posted to.
	Object ObjectRef `json:"-"`
}

// Ticket is a created ticket as returned by the store.
type Ticket struct {
	ID        int64     `json:"ticket_id"`
	Number    string    `json:"number"`
	ThreadID  int64     `json:"-"`
	Subject   string    `json:"subject"`
	Source    string    `json:"source"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created"`
}

// Ref returns the thread owner reference for the ticket.
func (t *Ticket) Ref() ObjectRef {
	return ObjectRef{Type: ObjectTicket, ID: t.ID, Number: t.Number}
}

// TicketSummary is one row of the ticket listing for a requester.
type TicketSummary struct {
	TicketID     int64     `json:"ticket_id"`
	Number       string    `json:"number"`
	Created      time.Time `json:"created"`
	IsAnswered   bool      `json:"isanswered"`
	Source       string    `json:"source"`
	StatusID     int64     `json:"status_id"`
	StatusState  string    `json:"status__state"`
	StatusName   string    `json:"status__name"`
	Subject      string    `json:"cdata__subject"`
	DeptID       int64     `json:"dept_id"`
	DeptName     string    `json:"dept__name"`
	DeptIsPublic bool      `json:"dept__ispublic"`
	UserEmail    string    `json:"user__default_email__address"`
	LastUpdate   time.Time `json:"lastupdate"`
}

// TicketDetail is the single-ticket view including its public thread.
type TicketDetail struct {
	Number        string        `json:"number"`
	LastUpdate    time.Time     `json:"lastupdate"`
	Subject       string        `json:"cdata__subject"`
	StatusState   string        `json:"status__state"`
	ThreadCount   int           `json:"thread_count"`
	ThreadEntries []ThreadEntry `json:"thread_entries"`
}
