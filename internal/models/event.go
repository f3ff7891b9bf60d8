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

// Event types published after a ticket or thread changes.
const (
	EventTicketCreated = "ticket.created"
	EventThreadMessage = "thread.message"
	EventThreadReply   = "thread.reply"
)

// Event notifies alert and auto-response workers of a change. Alert and
// Autorespond carry the request's notification flags.
type Event struct {
	Type        string    `json:"type"`
	ObjectType  string    `json:"object_type"`
	ObjectID    int64     `json:"object_id"`
	Number      string    `json:"number"`
	ThreadID    int64     `json:"thread_id,omitempty"`
	EntryID     int64     `json:"entry_id,omitempty"`
	Source      string    `json:"source,omitempty"`
	Email       string    `json:"email,omitempty"`
	Alert       bool      `json:"alert"`
	Autorespond bool      `json:"autorespond"`
	// MessageID is reserved for the notice sent about this event.
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
