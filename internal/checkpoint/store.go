// Package checkpoint persists workflow snapshots so runs can be resumed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidID        = errors.New("invalid workflow id")
)

// MaxWorkflowIDLength bounds workflow ids.
const MaxWorkflowIDLength = 128

// WorkflowIDPattern matches ids usable both as KV keys and as a single NATS
// subject token.
var WorkflowIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_=-]+$`)

// Store persists the latest snapshot of each workflow.
type Store interface {
	orchestrator.SnapshotStore
	Delete(ctx context.Context, workflowID string) error
	List(ctx context.Context) ([]string, error)
}

// ValidateWorkflowID reports ErrInvalidID for ids that cannot be stored.
func ValidateWorkflowID(workflowID string) error {
	if len(workflowID) > MaxWorkflowIDLength || !WorkflowIDPattern.MatchString(workflowID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, workflowID)
	}
	return nil
}

func encode(workflowID string, snap orchestrator.Snapshot) ([]byte, error) {
	if err := ValidateWorkflowID(workflowID); err != nil {
		return nil, err
	}
	if snap.State == nil {
		return nil, fmt.Errorf("snapshot for %s has no state", workflowID)
	}
	snap.WorkflowID = workflowID
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*orchestrator.Snapshot, error) {
	var snap orchestrator.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// MemoryStore keeps snapshots in process. Snapshots are stored encoded so
// callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// Save replaces the snapshot for workflowID
func (s *MemoryStore) Save(_ context.Context, workflowID string, snap orchestrator.Snapshot) error {
	data, err := encode(workflowID, snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snaps[workflowID] = data
	s.mu.Unlock()
	return nil
}

// Load returns the latest snapshot for workflowID
func (s *MemoryStore) Load(_ context.Context, workflowID string) (*orchestrator.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snaps[workflowID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, workflowID)
	}
	return decode(data)
}

// Delete removes the snapshot for workflowID. Deleting a missing id is not an error.
func (s *MemoryStore) Delete(_ context.Context, workflowID string) error {
	s.mu.Lock()
	delete(s.snaps, workflowID)
	s.mu.Unlock()
	return nil
}

// List returns the stored workflow ids in sorted order
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}
