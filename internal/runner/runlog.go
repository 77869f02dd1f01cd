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

package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Step statuses recorded in run logs and rendered in notifications.
const (
	StepSuccess = "Success"
	StepFailed  = "Failed"
)

// Step is one named stage of a deploy or cleanup run.
type Step struct {
	Name    string
	Status  string
	Message string
}

// RunLog collects the ordered steps and raw process output of one
// event's processing. It is written out as a single artifact keyed by
// (branch, PR number) and consumed once by the log mailer.
type RunLog struct {
	branch string
	pr     int
	steps  []Step
	raw    strings.Builder
}

// NewRunLog starts an empty run log for the given key.
func NewRunLog(branch string, pr int) *RunLog {
	return &RunLog{branch: branch, pr: pr}
}

// Add appends a step entry.
func (l *RunLog) Add(name string, ok bool, message string) {
	status := StepSuccess
	if !ok {
		status = StepFailed
	}
	l.steps = append(l.steps, Step{Name: name, Status: status, Message: message})
}

// Append adds raw process output to the log body.
func (l *RunLog) Append(output string) {
	if output == "" {
		return
	}
	l.raw.WriteString(output)
	if !strings.HasSuffix(output, "\n") {
		l.raw.WriteString("\n")
	}
}

// Steps returns the recorded steps in order.
func (l *RunLog) Steps() []Step {
	return l.steps
}

// WriteArtifact renders the log to a file in dir and returns its path.
// kind distinguishes deployment from cleanup artifacts; the file name
// matches <kind>_log_<branch>_<pr>.txt.
func (l *RunLog) WriteArtifact(dir, kind string) (string, error) {
	var b strings.Builder
	for _, step := range l.steps {
		fmt.Fprintf(&b, "[%s] %s: %s\n", step.Status, step.Name, step.Message)
	}
	if raw := l.raw.String(); raw != "" {
		b.WriteString("\n--- process output ---\n")
		b.WriteString(raw)
	}

	name := fmt.Sprintf("%s_log_%s_%d.txt", kind, safeBranchToken(l.branch), l.pr)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write log artifact: %w", err)
	}
	return path, nil
}

// safeBranchToken mirrors the workspace naming rules so artifacts and
// checkouts for a branch share a token.
func safeBranchToken(branch string) string {
	branch = strings.ToLower(branch)
	branch = strings.ReplaceAll(branch, "/", "-")
	branch = strings.ReplaceAll(branch, " ", "-")
	if len(branch) > 100 {
		branch = branch[:100]
	}
	return branch
}
