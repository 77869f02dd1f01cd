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

// Package webhook receives GitHub pull request events and orchestrates
// deploys and cleanups.
//
// The Server owns the HTTP surface: it authenticates each delivery by
// recomputing the HMAC-SHA256 of the raw body against the
// X-Hub-Signature-256 header before any JSON is parsed, applies
// per-repository rate limiting, and hands validated events to the
// Dispatcher.
//
// The Dispatcher is the event state machine:
//
//	Received → Verified → Routed → {Deploying|CleaningUp|NoOp} → Notified → Terminal
//
// Actions opened, synchronize and reopened deploy a preview; closed
// cleans it up regardless of merge state; everything else is a
// deliberate no-op. Deliveries without a pull_request payload are
// acknowledged with 200 and no side effects — not every webhook carries
// one.
//
// No state survives a request except through the resource registry, so
// duplicate redeliveries are safe: deploys replace the prior workspace
// and cleanup of an already-clean key succeeds as a no-op.
//
// Responses are JSON {"message": ...} with status 200 (processed,
// including no-ops), 401 (bad signature) or 500 (processing failure).
package webhook
