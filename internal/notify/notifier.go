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

package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/slipwaylabs/slipway/internal/githubapp"
	"github.com/slipwaylabs/slipway/internal/runner"
)

// Target addresses the PR thread a comment is posted to.
type Target struct {
	Owner    string
	Repo     string
	PRNumber int
}

// Notifier posts issue comments using a per-event installation token.
type Notifier struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// New returns a Notifier. baseURL is empty for api.github.com.
func New(baseURL string, log *zap.Logger) *Notifier {
	return &Notifier{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Post comments on the target PR. When steps are present a markdown
// step table is appended to the message. Failures are logged and
// swallowed; notification must never fail the deploy or cleanup itself.
func (n *Notifier) Post(ctx context.Context, cred *githubapp.Credential, target Target, message string, steps []runner.Step) {
	body := message
	if len(steps) > 0 {
		body = message + "\n\n" + renderStepTable(steps)
	}

	client, err := n.apiClient(cred.Token)
	if err != nil {
		n.log.Error("could not build comment client", zap.Error(err))
		return
	}

	comment := &github.IssueComment{Body: github.String(body)}
	_, _, err = client.Issues.CreateComment(ctx, target.Owner, target.Repo, target.PRNumber, comment)
	if err != nil {
		n.log.Error("failed to comment on PR",
			zap.String("repo", target.Owner+"/"+target.Repo),
			zap.Int("pr", target.PRNumber),
			zap.Error(err))
		return
	}

	n.log.Info("posted PR comment",
		zap.String("repo", target.Owner+"/"+target.Repo),
		zap.Int("pr", target.PRNumber))
}

func (n *Notifier) apiClient(token string) (*github.Client, error) {
	client := github.NewClient(n.httpClient)
	if n.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(n.baseURL, n.baseURL)
		if err != nil {
			return nil, err
		}
	}
	return client.WithAuthToken(token), nil
}

// renderStepTable formats run steps as the markdown table shown in PR
// comments: Step | Status | Details.
func renderStepTable(steps []runner.Step) string {
	var b strings.Builder
	b.WriteString("| Step | Status | Details |\n")
	b.WriteString("|------|--------|---------|\n")
	for _, step := range steps {
		fmt.Fprintf(&b, "| %s | %s | %s |\n",
			escapeCell(step.Name), escapeCell(step.Status), escapeCell(step.Message))
	}
	return b.String()
}

// escapeCell keeps step messages from breaking the table layout.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.TrimSpace(s)
}
