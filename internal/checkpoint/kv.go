package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

// DefaultBucket is the JetStream KV bucket used for snapshots
const DefaultBucket = "ORCHESTRD_CHECKPOINTS"

// KVConfig configures the JetStream KV bucket.
type KVConfig struct {
	Bucket   string
	TTL      time.Duration
	Replicas int
}

// KVStore keeps snapshots in a JetStream key-value bucket keyed by workflow id.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates or updates the bucket and returns a store backed by it
func NewKVStore(ctx context.Context, js jetstream.JetStream, cfg KVConfig) (*KVStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "orchestrd workflow snapshots",
		History:     1,
		TTL:         cfg.TTL,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kv bucket %s: %w", cfg.Bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

// Save replaces the snapshot for workflowID
func (s *KVStore) Save(ctx context.Context, workflowID string, snap orchestrator.Snapshot) error {
	data, err := encode(workflowID, snap)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, workflowID, data); err != nil {
		return fmt.Errorf("putting snapshot %s: %w", workflowID, err)
	}
	return nil
}

// Load returns the latest snapshot for workflowID
func (s *KVStore) Load(ctx context.Context, workflowID string) (*orchestrator.Snapshot, error) {
	if err := ValidateWorkflowID(workflowID); err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, workflowID)
		}
		return nil, fmt.Errorf("getting snapshot %s: %w", workflowID, err)
	}
	return decode(entry.Value())
}

// Delete removes the snapshot for workflowID
func (s *KVStore) Delete(ctx context.Context, workflowID string) error {
	if err := ValidateWorkflowID(workflowID); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, workflowID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting snapshot %s: %w", workflowID, err)
	}
	return nil
}

// List returns the stored workflow ids in sorted order
func (s *KVStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}
