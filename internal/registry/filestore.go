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

package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	recordSuffix = ".rec"
	modeSingle   = "single"
	modeCompose  = "compose"
)

// FileStore persists one record file per resource under a directory.
//
// Each file is named <branch>_<pr>_<created-nanos>.rec and holds the
// container name, port and teardown mode as whitespace-separated text.
// Writes go through a temp file plus rename so a concurrent reader never
// observes a partial record; an internal mutex serializes mutations
// within this process.
type FileStore struct {
	dir string
	mu  sync.Mutex
	log *zap.Logger
}

// NewFileStore ensures the registry directory exists and returns a store
// backed by it.
func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("registry directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

// Record writes a new record file for the resource.
func (s *FileStore) Record(ctx context.Context, res Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := recordFileName(res.Branch, res.PRNumber, res.CreatedAt)
	mode := modeSingle
	container := res.ContainerName
	if res.Compose {
		mode = modeCompose
		if container == "" {
			container = "-"
		}
	}
	content := fmt.Sprintf("%s %d %s\n", container, res.Port, mode)

	tmp, err := os.CreateTemp(s.dir, "rec-*")
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// List returns every record for the key, oldest first. Corrupt record
// files are skipped and logged rather than failing the whole listing.
func (s *FileStore) List(ctx context.Context, branch string, pr int) ([]Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := fmt.Sprintf("%s_%d_", sanitizeBranch(branch), pr)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read registry directory: %w", err)
	}

	resources := []Resource{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		res, err := s.readRecord(name, branch, pr)
		if err != nil {
			s.log.Warn("skipping unreadable registry record",
				zap.String("record", name), zap.Error(err))
			continue
		}
		resources = append(resources, res)
	}

	sort.Slice(resources, func(i, j int) bool {
		return resources[i].CreatedAt.Before(resources[j].CreatedAt)
	})
	return resources, nil
}

// Lookup returns the newest record for the key, or nil when none exists.
func (s *FileStore) Lookup(ctx context.Context, branch string, pr int) (*Resource, error) {
	resources, err := s.List(ctx, branch, pr)
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, nil
	}
	latest := resources[len(resources)-1]
	return &latest, nil
}

// Remove deletes the record file for the resource. A missing file is a
// successful no-op so that redelivered cleanup events stay idempotent.
func (s *FileStore) Remove(ctx context.Context, res Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := recordFileName(res.Branch, res.PRNumber, res.CreatedAt)
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

func (s *FileStore) readRecord(name, branch string, pr int) (Resource, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return Resource{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return Resource{}, fmt.Errorf("malformed record %q", name)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return Resource{}, fmt.Errorf("malformed port in record %q: %w", name, err)
	}

	stamp := strings.TrimSuffix(name, recordSuffix)
	stamp = stamp[strings.LastIndex(stamp, "_")+1:]
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return Resource{}, fmt.Errorf("malformed timestamp in record %q: %w", name, err)
	}

	res := Resource{
		Branch:        branch,
		PRNumber:      pr,
		ContainerName: fields[0],
		Port:          port,
		CreatedAt:     time.Unix(0, nanos).UTC(),
	}
	if len(fields) >= 3 && fields[2] == modeCompose {
		res.Compose = true
		if res.ContainerName == "-" {
			res.ContainerName = ""
		}
	}
	return res, nil
}

func recordFileName(branch string, pr int, createdAt time.Time) string {
	return fmt.Sprintf("%s_%d_%d%s", sanitizeBranch(branch), pr, createdAt.UnixNano(), recordSuffix)
}
