//go:build integration

package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/astroflow/astroflow/task"
)

// getNATSURL returns the NATS URL from environment or default.
func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

// newTestKVStore creates a KVStore for testing, skipping when no NATS
// server is reachable.
func newTestKVStore(t *testing.T, bucket string, mutate ...func(*KVConfig)) *KVStore {
	t.Helper()

	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	cfg := KVConfig{Conn: conn, Bucket: bucket}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := NewKVStore(cfg)
	if err != nil {
		conn.Close()
		t.Fatalf("NewKVStore failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
		conn.Close()
	})

	return s
}

func TestKVStore_StatusUnknownBeforeCreate(t *testing.T) {
	s := newTestKVStore(t, "it-kv-unknown")

	status, err := s.GetStatus(context.Background(), "never-created")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != task.StatusUnknown {
		t.Errorf("expected unknown, got %s", status)
	}
}

func TestKVStore_CreatePendingRoundTrip(t *testing.T) {
	s := newTestKVStore(t, "it-kv-create")
	ctx := context.Background()

	if err := s.CreatePending(ctx, "abc", "1990-05-23", 0); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	status, err := s.GetStatus(ctx, "abc")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != task.StatusPending {
		t.Errorf("expected pending, got %s", status)
	}

	payload, err := s.GetPayload(ctx, "abc")
	if err != nil {
		t.Fatalf("GetPayload failed: %v", err)
	}
	if payload != "1990-05-23" {
		t.Errorf("expected payload 1990-05-23, got %s", payload)
	}

	rec, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.CorrelationID != "abc" || rec.CreatedAt.IsZero() {
		t.Errorf("record fields not populated: %+v", rec)
	}

	pending, err := s.IsPending(ctx, "abc")
	if err != nil || !pending {
		t.Errorf("IsPending = %v, %v; want true", pending, err)
	}
}

// The revision-CAS claim admits exactly one of many concurrent callers.
func TestKVStore_ClaimExactlyOnce(t *testing.T) {
	s := newTestKVStore(t, "it-kv-claim")
	ctx := context.Background()

	if err := s.CreatePending(ctx, "abc", "payload", 0); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	const callers = 8
	var claimed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.Claim(ctx, "abc")
			if err != nil {
				t.Errorf("Claim error: %v", err)
				return
			}
			if ok {
				claimed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := claimed.Load(); got != 1 {
		t.Errorf("expected exactly 1 successful claim, got %d", got)
	}

	status, _ := s.GetStatus(ctx, "abc")
	if status != task.StatusWorking {
		t.Errorf("expected working after claim, got %s", status)
	}
}

func TestKVStore_ClaimAbsent(t *testing.T) {
	s := newTestKVStore(t, "it-kv-claim-absent")

	ok, err := s.Claim(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if ok {
		t.Error("claim on absent record must fail")
	}
}

func TestKVStore_ClaimResolved(t *testing.T) {
	s := newTestKVStore(t, "it-kv-claim-resolved")
	ctx := context.Background()

	if err := s.CreatePending(ctx, "abc", "payload", 0); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	if err := s.SetResult(ctx, "abc", task.StatusCompleted, "done"); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	ok, err := s.Claim(ctx, "abc")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if ok {
		t.Error("claim on resolved record must fail")
	}
}

func TestKVStore_ReleaseReopensClaim(t *testing.T) {
	s := newTestKVStore(t, "it-kv-release")
	ctx := context.Background()

	if err := s.CreatePending(ctx, "abc", "payload", 0); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	if ok, err := s.Claim(ctx, "abc"); err != nil || !ok {
		t.Fatalf("first claim: %v, %v", ok, err)
	}
	if ok, _ := s.Claim(ctx, "abc"); ok {
		t.Fatal("claim on working record must fail")
	}

	if err := s.Release(ctx, "abc"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, err := s.Claim(ctx, "abc"); err != nil || !ok {
		t.Fatalf("claim after release: %v, %v", ok, err)
	}

	payload, _ := s.GetPayload(ctx, "abc")
	if payload != "payload" {
		t.Errorf("payload lost across release: %q", payload)
	}
}

func TestKVStore_MarkWorkingOnlyFromPending(t *testing.T) {
	s := newTestKVStore(t, "it-kv-markworking")
	ctx := context.Background()

	if err := s.MarkWorking(ctx, "ghost"); err != nil {
		t.Fatalf("MarkWorking on absent record: %v", err)
	}

	if err := s.CreatePending(ctx, "abc", "payload", 0); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	if err := s.MarkWorking(ctx, "abc"); err != nil {
		t.Fatalf("MarkWorking failed: %v", err)
	}
	status, _ := s.GetStatus(ctx, "abc")
	if status != task.StatusWorking {
		t.Errorf("expected working, got %s", status)
	}

	if err := s.SetResult(ctx, "abc", task.StatusCompleted, "done"); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}
	if err := s.MarkWorking(ctx, "abc"); err != nil {
		t.Fatalf("MarkWorking on resolved record: %v", err)
	}
	status, _ = s.GetStatus(ctx, "abc")
	if status != task.StatusCompleted {
		t.Errorf("resolved record regressed to %s", status)
	}
}

// SetResult re-arms the expiry to the resolved TTL.
func TestKVStore_SetResultReArmsTTL(t *testing.T) {
	s := newTestKVStore(t, "it-kv-resolved-ttl", func(cfg *KVConfig) {
		cfg.ResolvedTTL = 200 * time.Millisecond
	})
	ctx := context.Background()

	if err := s.CreatePending(ctx, "abc", "payload", time.Hour); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	if err := s.SetResult(ctx, "abc", task.StatusCompleted, "done"); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	result, err := s.GetResult(ctx, "abc")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result != "done" {
		t.Errorf("expected done, got %q", result)
	}

	time.Sleep(400 * time.Millisecond)

	status, err := s.GetStatus(ctx, "abc")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != task.StatusUnknown {
		t.Errorf("expected unknown after resolved TTL, got %s", status)
	}
	if _, err := s.GetResult(ctx, "abc"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestKVStore_PendingExpiry(t *testing.T) {
	s := newTestKVStore(t, "it-kv-pending-ttl")
	ctx := context.Background()

	if err := s.CreatePending(ctx, "abc", "payload", 200*time.Millisecond); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	status, _ := s.GetStatus(ctx, "abc")
	if status != task.StatusPending {
		t.Fatalf("expected pending, got %s", status)
	}

	time.Sleep(400 * time.Millisecond)

	status, err := s.GetStatus(ctx, "abc")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != task.StatusUnknown {
		t.Errorf("expected unknown after pending TTL, got %s", status)
	}
	if ok, _ := s.Claim(ctx, "abc"); ok {
		t.Error("claim on expired record must fail")
	}
}

// A result landing after expiry recreates the record so a racing
// monitor can still observe it.
func TestKVStore_LateResultRecreatesRecord(t *testing.T) {
	s := newTestKVStore(t, "it-kv-late-result")
	ctx := context.Background()

	if err := s.SetResult(ctx, "late", task.StatusError, "boom"); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	status, _ := s.GetStatus(ctx, "late")
	if status != task.StatusError {
		t.Errorf("expected error status, got %s", status)
	}
	result, err := s.GetResult(ctx, "late")
	if err != nil || result != "boom" {
		t.Errorf("GetResult = %q, %v; want boom", result, err)
	}
}

func TestKVStore_Delete(t *testing.T) {
	s := newTestKVStore(t, "it-kv-delete")
	ctx := context.Background()

	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Errorf("Delete of absent record should not error: %v", err)
	}

	if err := s.CreatePending(ctx, "abc", "payload", 0); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	if err := s.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	status, _ := s.GetStatus(ctx, "abc")
	if status != task.StatusUnknown {
		t.Errorf("expected unknown after delete, got %s", status)
	}
}
