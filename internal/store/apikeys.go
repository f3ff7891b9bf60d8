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

	"github.com/bcem/helpdesk/internal/models"
)

// LookupAPIKey returns the key record, or nil when the key is unknown.
func (s *Store) LookupAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, apikey, ipaddr, isactive, can_create_tickets
		FROM api_keys
		WHERE apikey = $1
	`, key).Scan(&k.ID, &k.Key, &k.IPAddr, &k.Active, &k.CanCreateTickets)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}
