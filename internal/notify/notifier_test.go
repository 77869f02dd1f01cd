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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/slipwaylabs/slipway/internal/githubapp"
	"github.com/slipwaylabs/slipway/internal/runner"
)

func testCredential() *githubapp.Credential {
	return &githubapp.Credential{Token: "ghs_test-token", InstallationID: 7}
}

func TestNotifier_Post(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var comment struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&comment); err != nil {
			t.Errorf("Comment request is not JSON: %v", err)
		}
		gotBody = comment.Body

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1}`))
	}))
	defer ts.Close()

	n := New(ts.URL, zap.NewNop())
	target := Target{Owner: "acme", Repo: "widgets", PRNumber: 42}

	n.Post(context.Background(), testCredential(), target, "Deployment started for this pull request.", nil)

	if !strings.HasSuffix(gotPath, "/repos/acme/widgets/issues/42/comments") {
		t.Errorf("Comment posted to %q, expected the issue comments endpoint", gotPath)
	}
	if gotAuth != "Bearer ghs_test-token" {
		t.Errorf("Authorization header is %q, expected the installation token", gotAuth)
	}
	if gotBody != "Deployment started for this pull request." {
		t.Errorf("Comment body is %q", gotBody)
	}
}

func TestNotifier_Post_WithStepTable(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var comment struct {
			Body string `json:"body"`
		}
		json.NewDecoder(r.Body).Decode(&comment)
		gotBody = comment.Body

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 2}`))
	}))
	defer ts.Close()

	n := New(ts.URL, zap.NewNop())
	target := Target{Owner: "acme", Repo: "widgets", PRNumber: 42}
	steps := []runner.Step{
		{Name: "Prepare workspace", Status: runner.StepSuccess, Message: "Workspace replaced."},
		{Name: "Run deploy action", Status: runner.StepFailed, Message: "image build failed"},
	}

	n.Post(context.Background(), testCredential(), target, "Deployment failed. Please check the logs.", steps)

	if !strings.HasPrefix(gotBody, "Deployment failed. Please check the logs.\n\n") {
		t.Errorf("Comment does not lead with the message:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, "| Step | Status | Details |") {
		t.Errorf("Comment missing the step table header:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, "| Prepare workspace | Success | Workspace replaced. |") {
		t.Errorf("Comment missing the success row:\n%s", gotBody)
	}
	if !strings.Contains(gotBody, "| Run deploy action | Failed | image build failed |") {
		t.Errorf("Comment missing the failed row:\n%s", gotBody)
	}
}

func TestNotifier_Post_SwallowsAPIFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	n := New(ts.URL, zap.NewNop())
	target := Target{Owner: "acme", Repo: "widgets", PRNumber: 42}

	// Post has no error return; the only requirement is that it does not
	// panic when the API rejects the comment.
	n.Post(context.Background(), testCredential(), target, "Cleanup completed for this pull request.", nil)
}

func TestRenderStepTable_EscapesCells(t *testing.T) {
	steps := []runner.Step{
		{Name: "Run deploy action", Status: runner.StepFailed, Message: "exit status 1 | stderr:\nimage build failed"},
	}

	table := renderStepTable(steps)

	if strings.Contains(table, "\nimage") {
		t.Errorf("Newline in message broke the table row:\n%s", table)
	}
	if !strings.Contains(table, `exit status 1 \| stderr: image build failed`) {
		t.Errorf("Pipe in message was not escaped:\n%s", table)
	}
}
