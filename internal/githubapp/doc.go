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

// Package githubapp mints short-lived installation credentials for the
// GitHub App.
//
// Minting is two steps: sign a 10-minute RS256 JWT asserting the App's
// identity, then exchange it for an installation-scoped access token.
// Tokens are held in memory for one event's processing and never cached
// across events or persisted; deploy/cleanup cycles are infrequent
// relative to the token lifetime, so the simplicity is worth the extra
// exchange call.
package githubapp
