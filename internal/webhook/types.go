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

import "strings"

// payload mirrors the pieces of a GitHub pull_request delivery the bot
// reads. PullRequest is a pointer so a delivery without one can be
// detected and acknowledged as a no-op.
type payload struct {
	Action       string           `json:"action"`
	PullRequest  *pullRequest     `json:"pull_request"`
	Repository   repositoryInfo   `json:"repository"`
	Installation installationInfo `json:"installation"`
}

type pullRequest struct {
	Number int     `json:"number"`
	Head   headRef `json:"head"`
}

type headRef struct {
	Ref  string    `json:"ref"`
	Repo *headRepo `json:"repo"`
}

type headRepo struct {
	CloneURL string `json:"clone_url"`
}

type repositoryInfo struct {
	FullName string    `json:"full_name"`
	Name     string    `json:"name"`
	Owner    ownerInfo `json:"owner"`
}

type ownerInfo struct {
	Login string `json:"login"`
}

type installationInfo struct {
	ID int64 `json:"id"`
}

// Event is one validated unit of work: a pull request lifecycle
// transition ready for routing. It is immutable once constructed and
// consumed exactly once by the Dispatcher.
type Event struct {
	// DeliveryID correlates log lines for one webhook delivery.
	DeliveryID string

	Action         string
	Branch         string
	PRNumber       int
	RepoFullName   string
	CloneURL       string
	InstallationID int64

	// Owner and Repo address the PR thread for notifications.
	Owner string
	Repo  string
}

// eventFromPayload builds an Event from a parsed delivery. It returns
// false when the delivery carries no pull request worth acting on.
func eventFromPayload(p *payload, deliveryID string) (Event, bool) {
	if p.PullRequest == nil || p.PullRequest.Number == 0 || p.PullRequest.Head.Ref == "" {
		return Event{}, false
	}

	owner := p.Repository.Owner.Login
	repo := p.Repository.Name
	if owner == "" || repo == "" {
		if parts := strings.SplitN(p.Repository.FullName, "/", 2); len(parts) == 2 {
			owner, repo = parts[0], parts[1]
		}
	}

	cloneURL := ""
	if p.PullRequest.Head.Repo != nil {
		cloneURL = p.PullRequest.Head.Repo.CloneURL
	}

	return Event{
		DeliveryID:     deliveryID,
		Action:         strings.ToLower(p.Action),
		Branch:         p.PullRequest.Head.Ref,
		PRNumber:       p.PullRequest.Number,
		RepoFullName:   p.Repository.FullName,
		CloneURL:       cloneURL,
		InstallationID: p.Installation.ID,
		Owner:          owner,
		Repo:           repo,
	}, true
}
