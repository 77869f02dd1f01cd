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

package githubapp

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

// assertionTTL is the lifetime of the signed App assertion. GitHub
// rejects assertions valid for longer than ten minutes.
const assertionTTL = 10 * time.Minute

// AuthError reports a failed credential mint or exchange. It is fatal to
// the event being processed.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("github app auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Credential is a short-lived installation access token. It lives in
// memory for the duration of one event's processing only.
type Credential struct {
	Token          string
	ExpiresAt      time.Time
	InstallationID int64
}

// Minter exchanges App assertions for installation tokens.
type Minter struct {
	appID      int64
	key        *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewMinter returns a Minter for the given App identity. baseURL is
// empty for api.github.com.
func NewMinter(appID int64, key *rsa.PrivateKey, baseURL string, log *zap.Logger) *Minter {
	return &Minter{
		appID:      appID,
		key:        key,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Mint returns a fresh installation-scoped access token. Any failure,
// including a non-2xx exchange response, surfaces as an *AuthError.
func (m *Minter) Mint(ctx context.Context, installationID int64) (*Credential, error) {
	assertion, err := m.signAssertion()
	if err != nil {
		return nil, &AuthError{Op: "sign assertion", Err: err}
	}

	client, err := m.apiClient(assertion)
	if err != nil {
		return nil, &AuthError{Op: "build client", Err: err}
	}

	token, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, &AuthError{Op: "exchange installation token", Err: err}
	}

	m.log.Info("minted installation token",
		zap.Int64("installation_id", installationID),
		zap.Time("expires_at", token.GetExpiresAt().Time))

	return &Credential{
		Token:          token.GetToken(),
		ExpiresAt:      token.GetExpiresAt().Time,
		InstallationID: installationID,
	}, nil
}

// signAssertion builds the RS256 App JWT: issued now, expiring in ten
// minutes, issuer set to the App ID.
func (m *Minter) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(m.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}

func (m *Minter) apiClient(bearer string) (*github.Client, error) {
	client := github.NewClient(m.httpClient)
	if m.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(m.baseURL, m.baseURL)
		if err != nil {
			return nil, err
		}
	}
	return client.WithAuthToken(bearer), nil
}
