package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/astroflow/astroflow/task"
)

const kvKeyPrefix = "task."

// KVStore implements TaskStore using NATS JetStream KV.
//
// JetStream KV TTLs are bucket-level, so per-record expiry is carried in
// the record itself: reads treat an expired record as absent, and a purge
// loop deletes expired records to bound bucket size. Claim is a
// revision-checked update, giving the compare-and-swap the contract
// requires across processes.
type KVStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config KVConfig
	closed atomic.Bool
	done   chan struct{}
}

// KVConfig holds JetStream KV store configuration.
type KVConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	// Default: "astroflow-tasks"
	Bucket string

	// ResolvedTTL is the expiry window applied by SetResult.
	// Default: DefaultResolvedTTL.
	ResolvedTTL time.Duration

	// PurgeInterval is how often expired records are swept.
	// Default: 30 seconds.
	PurgeInterval time.Duration

	// OpTimeout bounds individual KV operations.
	// Default: 5 seconds.
	OpTimeout time.Duration
}

// DefaultKVConfig returns configuration with sensible defaults.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		Bucket:        "astroflow-tasks",
		ResolvedTTL:   DefaultResolvedTTL,
		PurgeInterval: 30 * time.Second,
		OpTimeout:     5 * time.Second,
	}
}

// kvRecord is the stored form of a task record.
type kvRecord struct {
	task.Task
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *kvRecord) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// NewKVStore creates a task store backed by a JetStream KV bucket.
func NewKVStore(cfg KVConfig) (*KVStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultKVConfig().Bucket
	}
	if cfg.ResolvedTTL <= 0 {
		cfg.ResolvedTTL = DefaultResolvedTTL
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultKVConfig().PurgeInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultKVConfig().OpTimeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	s := &KVStore{
		conn:   cfg.Conn,
		js:     js,
		kv:     kv,
		config: cfg,
		done:   make(chan struct{}),
	}
	go s.purgeLoop()
	return s, nil
}

// purgeLoop sweeps expired records. Reads already treat expired records
// as absent, so the sweep only bounds bucket size.
func (s *KVStore) purgeLoop() {
	ticker := time.NewTicker(s.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.purgeExpired()
		}
	}
}

func (s *KVStore) purgeExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.PurgeInterval)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return
	}

	now := time.Now()
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec kvRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		if rec.expired(now) {
			_ = s.kv.Delete(ctx, key)
		}
	}
}

func kvKey(id string) string {
	return kvKeyPrefix + id
}

// load fetches and decodes a live record along with its KV revision.
// Returns ErrNotFound for absent, undecodable, or expired records.
func (s *KVStore) load(ctx context.Context, id string) (*kvRecord, uint64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	entry, err := s.kv.Get(opCtx, kvKey(id))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("kv get: %w", err)
	}

	var rec kvRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, 0, ErrNotFound
	}
	if rec.expired(time.Now()) {
		return nil, 0, ErrNotFound
	}
	return &rec, entry.Revision(), nil
}

func (s *KVStore) put(ctx context.Context, id string, rec *kvRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	if _, err := s.kv.Put(opCtx, kvKey(id), data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// CreatePending creates or overwrites a record with status pending.
// Last writer wins; id uniqueness is the caller's responsibility.
func (s *KVStore) CreatePending(ctx context.Context, id, payload string, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	now := time.Now()
	return s.put(ctx, id, &kvRecord{
		Task: task.Task{
			CorrelationID: id,
			Payload:       payload,
			Status:        task.StatusPending,
			CreatedAt:     now,
		},
		ExpiresAt: now.Add(ttl),
	})
}

// Claim atomically transitions pending to working via revision CAS.
// A lost race re-reads the record: if it is no longer pending the claim
// simply failed; if it still is, the CAS is retried.
func (s *KVStore) Claim(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, rev, err := s.load(ctx, id)
		if err == ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if rec.Status != task.StatusPending {
			return false, nil
		}

		rec.Status = task.StatusWorking
		data, err := json.Marshal(rec)
		if err != nil {
			return false, err
		}

		opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
		_, err = s.kv.Update(opCtx, kvKey(id), data, rev)
		cancel()
		if err == nil {
			return true, nil
		}
		// Revision conflict: another writer got there first. Loop to
		// re-read; almost always the record is now working or resolved.
	}
	return false, fmt.Errorf("claim %s: too many revision conflicts", id)
}

// MarkWorking sets a pending record's status to working. Anything
// else, including a missing record, is a no-op: status only moves
// forward.
func (s *KVStore) MarkWorking(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	rec, _, err := s.load(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != task.StatusPending {
		return nil
	}

	rec.Status = task.StatusWorking
	return s.put(ctx, id, rec)
}

// Release returns a working record to pending via revision CAS.
// Missing or resolved records are left untouched; a lost race means
// another writer already moved the record on, which makes the release
// moot.
func (s *KVStore) Release(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	rec, rev, err := s.load(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != task.StatusWorking {
		return nil
	}

	rec.Status = task.StatusPending
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()
	_, _ = s.kv.Update(opCtx, kvKey(id), data, rev)
	return nil
}

// SetResult records a terminal outcome and re-arms the resolved TTL.
// Last write wins when two completion paths race.
func (s *KVStore) SetResult(ctx context.Context, id string, status task.Status, result string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !status.IsTerminal() {
		return ErrInvalidStatus
	}

	now := time.Now()

	rec, _, err := s.load(ctx, id)
	if err == ErrNotFound {
		rec = &kvRecord{Task: task.Task{CorrelationID: id, CreatedAt: now}}
	} else if err != nil {
		return err
	}

	rec.Status = status
	rec.Result = result
	completed := now
	rec.CompletedAt = &completed
	rec.ExpiresAt = now.Add(s.config.ResolvedTTL)
	return s.put(ctx, id, rec)
}

// GetStatus returns the record's status, or StatusUnknown when absent.
func (s *KVStore) GetStatus(ctx context.Context, id string) (task.Status, error) {
	if s.closed.Load() {
		return task.StatusUnknown, ErrClosed
	}

	rec, _, err := s.load(ctx, id)
	if err == ErrNotFound {
		return task.StatusUnknown, nil
	}
	if err != nil {
		return task.StatusUnknown, err
	}
	return rec.Status, nil
}

// GetResult returns the result text for a resolved record.
func (s *KVStore) GetResult(ctx context.Context, id string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	rec, _, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if !rec.Status.IsTerminal() {
		return "", ErrNotFound
	}
	return rec.Result, nil
}

// GetPayload returns the original task payload.
func (s *KVStore) GetPayload(ctx context.Context, id string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	rec, _, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Payload, nil
}

// Get returns a copy of the full record.
func (s *KVStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rec, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Task.Clone(), nil
}

// IsPending reports whether the record exists with status pending.
func (s *KVStore) IsPending(ctx context.Context, id string) (bool, error) {
	status, err := s.GetStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return status == task.StatusPending, nil
}

// Delete evicts a record early.
func (s *KVStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	err := s.kv.Delete(ctx, kvKey(id))
	if err != nil && err != jetstream.ErrKeyNotFound {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Close shuts down the store. The NATS connection is owned by the
// caller and is not closed here.
func (s *KVStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}

// Ensure KVStore implements TaskStore.
var _ TaskStore = (*KVStore)(nil)
