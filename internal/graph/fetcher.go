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

// Package graph retrieves raw messages from Microsoft 365 mailboxes through
// the Graph API, for mailboxes that deliver to the helpdesk by change
// notification instead of by pipe.
package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Fetcher retrieves messages from the Graph API. The HTTP client carries
// the mailbox tenant's OAuth2 credentials.
type Fetcher struct {
	httpClient   *http.Client
	graphBaseURL string
	maxBytes     int64
}

// NewFetcher creates a Graph API message fetcher. maxBytes bounds the
// message size; zero means no limit.
func NewFetcher(httpClient *http.Client, graphBaseURL string, maxBytes int64) *Fetcher {
	if graphBaseURL == "" {
		graphBaseURL = DefaultBaseURL
	}
	return &Fetcher{
		httpClient:   httpClient,
		graphBaseURL: graphBaseURL,
		maxBytes:     maxBytes,
	}
}

// FetchMIME returns the RFC 822 content of a message. It returns nil, nil
// when the message no longer exists.
func (f *Fetcher) FetchMIME(ctx context.Context, userID, messageID string) ([]byte, error) {
	u := fmt.Sprintf("%s/users/%s/messages/%s/$value",
		f.graphBaseURL, url.PathEscape(userID), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("message not found (may have been deleted)",
			"user_id", userID,
			"message_id", messageID,
		)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if f.maxBytes > 0 && int64(len(raw)) > f.maxBytes {
		return nil, fmt.Errorf("message %s exceeds %d bytes", messageID, f.maxBytes)
	}
	return raw, nil
}
