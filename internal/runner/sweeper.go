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
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sweeper prunes old run log artifacts. Artifacts are consumed by the
// log mailer right after an event, so anything older than the TTL is
// leftover from a failed send or a mail-disabled deployment.
type Sweeper struct {
	logDir   string
	ttl      time.Duration
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper creates a sweeper over logDir that removes artifacts older
// than ttl, checking every interval.
func NewSweeper(logDir string, ttl, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{logDir: logDir, ttl: ttl, interval: interval, log: log}
}

// Start runs the sweeper until the context is canceled. Transient
// failures are logged and do not stop the loop.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				s.log.Warn("artifact sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep performs a single pass over the log directory.
func (s *Sweeper) sweep() error {
	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.ttl)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		if !strings.HasPrefix(name, "deployment_log_") && !strings.HasPrefix(name, "cleanup_log_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.logDir, name)
		if err := os.Remove(path); err != nil {
			s.log.Warn("could not prune artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		s.log.Info("pruned expired log artifact", zap.String("path", path))
	}
	return nil
}
