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

// Package registry tracks preview resources that are currently deployed.
//
// Records outlive the process so that cleanup can run in a different
// invocation than the deploy that created the resource. Each record is
// keyed by (branch, PR number) plus its creation timestamp: a branch may
// be redeployed before a prior cleanup runs, in which case multiple
// records exist for the same key and cleanup tears down each of them.
//
// Two backends implement the Store interface:
//
//   - FileStore persists one small text file per record (the default).
//   - SQLiteStore persists records in an embedded SQLite database.
//
// The record carries the teardown strategy: a resource deployed as a
// compose stack is marked as such and torn down by stack, not by
// container name. The registry, not the filesystem state of a checkout,
// is the source of truth for which strategy applies.
package registry
