// Package state persists worker control state that must survive process
// restarts, currently the set of revoked task ids.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// RevokedStore records revoked task ids in SQLite with an in-memory index
// for the hot-path Contains check, which runs once per submitted task.
type RevokedStore struct {
	db *sql.DB

	mu  sync.RWMutex
	ids map[string]bool
}

// NewRevokedStore wraps db and loads the existing revoked set.
func NewRevokedStore(ctx context.Context, db *sql.DB) (*RevokedStore, error) {
	s := &RevokedStore{
		db:  db,
		ids: make(map[string]bool),
	}

	rows, err := db.QueryContext(ctx, `SELECT task_id FROM revoked_tasks`)
	if err != nil {
		return nil, fmt.Errorf("load revoked tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revoked task: %w", err)
		}
		s.ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load revoked tasks: %w", err)
	}
	return s, nil
}

// Add records a revoked task id. Idempotent.
func (s *RevokedStore) Add(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("revoked store: task id is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO revoked_tasks(task_id, revoked_at) VALUES(?, ?)
ON CONFLICT(task_id) DO NOTHING;
`, taskID, now)
	if err != nil {
		return fmt.Errorf("insert revoked task: %w", err)
	}

	s.mu.Lock()
	s.ids[taskID] = true
	s.mu.Unlock()
	return nil
}

// Contains reports whether a task id has been revoked. Served from memory.
func (s *RevokedStore) Contains(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[taskID]
}

// All returns revoked task ids, oldest revocation first.
func (s *RevokedStore) All(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM revoked_tasks ORDER BY revoked_at ASC, task_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list revoked tasks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revoked task: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Prune drops revocations older than retention and refreshes the memory
// index.
func (s *RevokedStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tasks WHERE revoked_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune revoked tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, nil
	}

	remaining, err := s.All(ctx)
	if err != nil {
		return n, err
	}
	s.mu.Lock()
	s.ids = make(map[string]bool, len(remaining))
	for _, id := range remaining {
		s.ids[id] = true
	}
	s.mu.Unlock()
	return n, nil
}
