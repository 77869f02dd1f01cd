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

// Package runner invokes the external deploy and cleanup actions.
//
// The actions themselves are opaque executables: the runner prepares a
// per-branch workspace, selects a free host port, invokes the action and
// captures its exit code, stdout and stderr. A non-zero exit is never a
// Go error; it becomes Outcome.Succeeded == false with stderr attached.
//
// Actions report structured results by printing key=value lines on
// stdout:
//
//	container_name=preview_feat-x_42
//	deployment_url=http://10.0.0.4:5310
//	port=5310
//	compose=true
//	service.web.port=8080
//
// The runner parses only this protocol; free-text output goes into the
// run log verbatim.
//
// Workspace directories derive deterministically from the branch name,
// so deploy and cleanup for the same branch are serialized behind a
// per-branch mutex. Deploys fully replace any prior workspace for the
// branch before running.
package runner
