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

import "net"

// APIKey grants a client address access to the ticket API.
type APIKey struct {
	ID               int64
	Key              string
	IPAddr           string
	Active           bool
	CanCreateTickets bool
}

// Allows reports whether the key is active and bound to ip. The bound
// address may be a single IP or a CIDR range.
func (k *APIKey) Allows(ip string) bool {
	if k == nil || !k.Active {
		return false
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	if _, network, err := net.ParseCIDR(k.IPAddr); err == nil {
		return network.Contains(addr)
	}
	bound := net.ParseIP(k.IPAddr)
	return bound != nil && bound.Equal(addr)
}
