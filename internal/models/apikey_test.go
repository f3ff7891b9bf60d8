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

import "testing"

func TestAPIKeyAllows(t *testing.T) {
	tests := []struct {
		name string
		key  *APIKey
		ip   string
		want bool
	}{
		{"exact", &APIKey{Active: true, IPAddr: "10.0.0.1"}, "10.0.0.1", true},
		{"other ip", &APIKey{Active: true, IPAddr: "10.0.0.1"}, "10.0.0.2", false},
		{"cidr", &APIKey{Active: true, IPAddr: "10.0.0.0/24"}, "10.0.0.42", true},
		{"inactive", &APIKey{IPAddr: "10.0.0.1"}, "10.0.0.1", false},
		{"bad caller ip", &APIKey{Active: true, IPAddr: "10.0.0.1"}, "nope", false},
		{"nil key", nil, "10.0.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Allows(tt.ip); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
