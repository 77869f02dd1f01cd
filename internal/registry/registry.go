// Copyright 2025 The Slipway Authors
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

package registry

import (
	"context"
	"strings"
	"time"
)

// Resource is one currently-live preview deployment.
type Resource struct {
	// Branch and PRNumber form the registry key.
	Branch   string
	PRNumber int

	// ContainerName identifies the running container. Empty for
	// compose-managed stacks, which are addressed by workspace instead.
	ContainerName string

	// Port is the published host port, or 0 when the resource is a
	// compose stack with per-service ports.
	Port int

	// Compose marks resources brought up as a multi-service stack.
	Compose bool

	// CreatedAt disambiguates multiple deploys of the same key.
	CreatedAt time.Time
}

// Store is the durable record of deployed resources.
//
// Implementations must be safe for concurrent use: two events for
// different branches may record and remove resources simultaneously.
type Store interface {
	// Record persists a new resource. It never overwrites an existing
	// record; the creation timestamp keeps records for the same key apart.
	Record(ctx context.Context, res Resource) error

	// List returns all records for the key in ascending CreatedAt order.
	// A key with no records yields an empty slice, not an error.
	List(ctx context.Context, branch string, pr int) ([]Resource, error)

	// Lookup returns the most recently created record for the key, or
	// nil when none exists.
	Lookup(ctx context.Context, branch string, pr int) (*Resource, error)

	// Remove deletes one record. Removing a record that is already gone
	// is not an error.
	Remove(ctx context.Context, res Resource) error
}

// sanitizeBranch converts a branch name into a token safe for filenames
// and record keys. Slashes and underscores collapse to dashes; the
// result is capped at 100 characters.
func sanitizeBranch(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
