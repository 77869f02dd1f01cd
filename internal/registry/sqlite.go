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
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	branch     TEXT    NOT NULL,
	pr         INTEGER NOT NULL,
	container  TEXT    NOT NULL,
	port       INTEGER NOT NULL,
	compose    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (branch, pr, created_at)
);
CREATE INDEX IF NOT EXISTS idx_resources_key ON resources (branch, pr);
`

// SQLiteStore persists registry records in an embedded SQLite database.
// WAL mode with a single-connection writer avoids "database is locked"
// errors when events for different branches run concurrently.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping registry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure registry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record inserts a new resource row.
func (s *SQLiteStore) Record(ctx context.Context, res Resource) error {
	compose := 0
	if res.Compose {
		compose = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (branch, pr, container, port, compose, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sanitizeBranch(res.Branch), res.PRNumber, res.ContainerName, res.Port, compose, res.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record resource: %w", err)
	}
	return nil
}

// List returns all records for the key, oldest first.
func (s *SQLiteStore) List(ctx context.Context, branch string, pr int) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container, port, compose, created_at FROM resources WHERE branch = ? AND pr = ? ORDER BY created_at ASC`,
		sanitizeBranch(branch), pr,
	)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	resources := []Resource{}
	for rows.Next() {
		var (
			container string
			port      int
			compose   int
			nanos     int64
		)
		if err := rows.Scan(&container, &port, &compose, &nanos); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, Resource{
			Branch:        branch,
			PRNumber:      pr,
			ContainerName: container,
			Port:          port,
			Compose:       compose != 0,
			CreatedAt:     time.Unix(0, nanos).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}

// Lookup returns the newest record for the key, or nil when none exists.
func (s *SQLiteStore) Lookup(ctx context.Context, branch string, pr int) (*Resource, error) {
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

// Remove deletes one record row; removing an absent row is a no-op.
func (s *SQLiteStore) Remove(ctx context.Context, res Resource) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM resources WHERE branch = ? AND pr = ? AND created_at = ?`,
		sanitizeBranch(res.Branch), res.PRNumber, res.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("remove resource: %w", err)
	}
	return nil
}
