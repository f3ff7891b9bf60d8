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

// Package thread decides where an inbound email belongs: appended to an
// existing thread, recognised as an already processed delivery, or the
// start of a new ticket. Correlation uses only the email's threading
// headers and the thread history held by the store.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bcem/helpdesk/internal/apierr"
	"github.com/bcem/helpdesk/internal/models"
)

// ErrDuplicateMessage is returned by the store when a message id has
// already been recorded, typically by a concurrent delivery of the same
// email.
var ErrDuplicateMessage = errors.New("message id already processed")

// Store is the thread history collaborator. Implemented by store.Store.
type Store interface {
	// LookupEntryByHeaders finds the thread entry the email refers to.
	// seen is true when the email's own message id is already recorded.
	LookupEntryByHeaders(ctx context.Context, meta *models.EmailMetadata) (entry *models.ThreadEntry, seen bool, err error)
	// LookupThreadByHeaders finds a thread correlated with the email
	// without requiring a matching entry.
	LookupThreadByHeaders(ctx context.Context, meta *models.EmailMetadata) (*models.Thread, error)
	// PostEmail appends the email to a thread. It returns
	// ErrDuplicateMessage if the message id is already recorded.
	PostEmail(ctx context.Context, thread *models.Thread, meta *models.EmailMetadata) (*models.ThreadEntry, error)
}

// Kind tags a reconciliation outcome.
type Kind int

const (
	NewTicket Kind = iota
	ExistingThreadAppended
	AlreadyProcessed
	ContinuedThreadWithoutTicket
)

func (k Kind) String() string {
	switch k {
	case NewTicket:
		return "new_ticket"
	case ExistingThreadAppended:
		return "existing_thread_appended"
	case AlreadyProcessed:
		return "already_processed"
	case ContinuedThreadWithoutTicket:
		return "continued_thread"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one reconciliation attempt. For every kind but
// NewTicket, Thread and Object identify where the email landed.
type Outcome struct {
	Kind   Kind
	Thread *models.Thread
	Object models.ObjectRef
	// Entry is the posted entry, or the matched one for AlreadyProcessed.
	Entry *models.ThreadEntry
}

// Reconciler matches inbound email against existing threads.
type Reconciler struct {
	store Store
}

// NewReconciler creates a reconciler backed by store.
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile evaluates, in order: a matching thread entry (already seen, or
// post to its thread), a matching thread (post to it), and otherwise
// reports NewTicket. A correlation match is final: if posting to the matched
// thread fails, the error is returned and no ticket is created.
func (r *Reconciler) Reconcile(ctx context.Context, meta *models.EmailMetadata) (Outcome, error) {
	entry, seen, err := r.store.LookupEntryByHeaders(ctx, meta)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup thread entry: %w", err)
	}

	if entry != nil {
		t := &models.Thread{ID: entry.ThreadID, Object: entry.Object}
		if seen {
			slog.Info("email already processed",
				"message_id", meta.MessageID,
				"thread_id", t.ID,
			)
			return Outcome{Kind: AlreadyProcessed, Thread: t, Object: t.Object, Entry: entry}, nil
		}
		return r.post(ctx, t, meta, ExistingThreadAppended)
	}

	t, err := r.store.LookupThreadByHeaders(ctx, meta)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup thread: %w", err)
	}
	if t != nil {
		return r.post(ctx, t, meta, ContinuedThreadWithoutTicket)
	}

	slog.Debug("email has no thread correlation", "message_id", meta.MessageID)
	return Outcome{Kind: NewTicket}, nil
}

func (r *Reconciler) post(ctx context.Context, t *models.Thread, meta *models.EmailMetadata, kind Kind) (Outcome, error) {
	posted, err := r.store.PostEmail(ctx, t, meta)
	if errors.Is(err, ErrDuplicateMessage) {
		slog.Info("concurrent delivery already recorded",
			"message_id", meta.MessageID,
			"thread_id", t.ID,
		)
		return Outcome{Kind: AlreadyProcessed, Thread: t, Object: t.Object}, nil
	}
	if err != nil {
		slog.Warn("posting email to matched thread failed",
			"message_id", meta.MessageID,
			"thread_id", t.ID,
			"error", err,
		)
		return Outcome{}, err
	}
	if posted == nil {
		return Outcome{}, apierr.Unknown("Unable to post email to thread", nil)
	}

	slog.Info("email posted to thread",
		"message_id", meta.MessageID,
		"thread_id", t.ID,
		"entry_id", posted.ID,
		"outcome", kind.String(),
	)
	return Outcome{Kind: kind, Thread: t, Object: t.Object, Entry: posted}, nil
}
