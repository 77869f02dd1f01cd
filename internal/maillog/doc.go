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

// Package maillog delivers run log artifacts to an out-of-band
// recipient over SMTP.
//
// Transport failures are retried under a bounded constant-delay policy
// (3 attempts, 5 seconds apart by default). A failure to read the
// attachment aborts immediately: the artifact itself is not
// recoverable, so retrying cannot help. Exhausted retries are logged
// and reported as false, never as an error that fails the event.
package maillog
