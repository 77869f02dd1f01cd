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

package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/slipwaylabs/slipway/internal/githubapp"
	"github.com/slipwaylabs/slipway/internal/notify"
	"github.com/slipwaylabs/slipway/internal/runner"
)

type fakeMinter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeMinter) Mint(ctx context.Context, installationID int64) (*githubapp.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &githubapp.Credential{
		Token:          "ghs_test-token",
		ExpiresAt:      time.Now().Add(time.Hour),
		InstallationID: installationID,
	}, nil
}

func (f *fakeMinter) mintCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type postedComment struct {
	target  notify.Target
	message string
	steps   []runner.Step
}

type fakeNotifier struct {
	mu    sync.Mutex
	posts []postedComment
}

func (f *fakeNotifier) Post(ctx context.Context, cred *githubapp.Credential, target notify.Target, message string, steps []runner.Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postedComment{target: target, message: message, steps: steps})
}

func (f *fakeNotifier) posted() []postedComment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedComment{}, f.posts...)
}

type deployCall struct {
	branch   string
	pr       int
	cloneURL string
}

type tearDownCall struct {
	branch    string
	pr        int
	container string
}

type fakeRunner struct {
	mu sync.Mutex

	deployOutcome *runner.Outcome
	// tearDownOutcomes maps container name to outcome; containers not
	// listed tear down successfully.
	tearDownOutcomes map[string]*runner.Outcome

	deploys      []deployCall
	tearDowns    []tearDownCall
	composeDowns int
	discarded    []string
}

func successOutcome(fields map[string]string) *runner.Outcome {
	if fields == nil {
		fields = map[string]string{}
	}
	return &runner.Outcome{Succeeded: true, Fields: fields}
}

func failedActionOutcome(stderr string) *runner.Outcome {
	return &runner.Outcome{Succeeded: false, Stderr: stderr, Fields: map[string]string{}}
}

func (f *fakeRunner) Deploy(ctx context.Context, branch string, pr int, cloneURL string, rl *runner.RunLog) *runner.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploys = append(f.deploys, deployCall{branch: branch, pr: pr, cloneURL: cloneURL})
	out := f.deployOutcome
	if out == nil {
		out = successOutcome(map[string]string{
			"container_name": "preview_" + branch,
			"deployment_url": "http://127.0.0.1:4500",
			"port":           "4500",
		})
	}
	rl.Add("Run deploy action", out.Succeeded, out.Stderr)
	return out
}

func (f *fakeRunner) TearDown(ctx context.Context, branch string, pr int, containerName string, rl *runner.RunLog) *runner.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tearDowns = append(f.tearDowns, tearDownCall{branch: branch, pr: pr, container: containerName})
	if out, ok := f.tearDownOutcomes[containerName]; ok {
		rl.Add("Tear down container", out.Succeeded, out.Stderr)
		return out
	}
	rl.Add("Tear down container", true, "")
	return successOutcome(nil)
}

func (f *fakeRunner) ComposeDown(ctx context.Context, branch string, pr int, rl *runner.RunLog) *runner.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composeDowns++
	rl.Add("Tear down compose stack", true, "")
	return successOutcome(nil)
}

func (f *fakeRunner) DiscardWorkspace(branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, branch)
	return nil
}

func (f *fakeRunner) deployCalls() []deployCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deployCall{}, f.deploys...)
}

func (f *fakeRunner) tearDownCalls() []tearDownCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tearDownCall{}, f.tearDowns...)
}

type mailSend struct {
	subject string
	body    string
	path    string
}

type fakeMailer struct {
	mu     sync.Mutex
	result bool
	sends  []mailSend
}

func (f *fakeMailer) Send(ctx context.Context, subject, body, artifactPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, mailSend{subject: subject, body: body, path: artifactPath})
	return f.result
}

func (f *fakeMailer) sent() []mailSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailSend{}, f.sends...)
}
