package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/source"
)

func TestSourceStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	src := testSourceRecord("vpn")
	src.Description = "VPN concentrator"
	src.RedactResourceID = true
	if err := s.Sources().Create(ctx, src, testAuditRecord(audit.ActionSourceCreated, audit.EntitySource, src.ID)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := s.Sources().GetByKey(ctx, "vpn")
	if err != nil {
		t.Fatalf("GetByKey() error: %v", err)
	}
	if got.ID != src.ID || got.Description != src.Description || !got.RedactResourceID {
		t.Errorf("GetByKey() = %+v, want %+v", got, src)
	}
	if !got.CreatedAt.Equal(src.CreatedAt) {
		t.Errorf("CreatedAt round trip: got %v, want %v", got.CreatedAt, src.CreatedAt)
	}

	byID, err := s.Sources().GetByID(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if byID.Key != "vpn" {
		t.Errorf("GetByID() key = %q, want vpn", byID.Key)
	}

	if _, err := s.Sources().GetByKey(ctx, "missing"); !errors.Is(err, source.ErrNotFound) {
		t.Errorf("GetByKey(missing) = %v, want ErrNotFound", err)
	}
}

func TestSourceStore_DuplicateKey(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first := testSourceRecord("vpn")
	if err := s.Sources().Create(ctx, first, testAuditRecord(audit.ActionSourceCreated, audit.EntitySource, first.ID)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	dup := testSourceRecord("vpn")
	err := s.Sources().Create(ctx, dup, testAuditRecord(audit.ActionSourceCreated, audit.EntitySource, dup.ID))
	if !errors.Is(err, source.ErrDuplicateKey) {
		t.Fatalf("Create(duplicate) = %v, want ErrDuplicateKey", err)
	}

	// The failed create must not leave an audit record behind.
	recs, err := s.Audit().List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("audit records = %d, want 1 (rolled back)", len(recs))
	}
}

func TestSourceStore_Update(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	src := testSourceRecord("vpn")
	if err := s.Sources().Create(ctx, src, testAuditRecord(audit.ActionSourceCreated, audit.EntitySource, src.ID)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	src.Name = "VPN (EU)"
	src.Enabled = false
	src.RateLimit = 250
	src.UpdatedAt = src.UpdatedAt.Add(time.Minute)
	if err := s.Sources().Update(ctx, src, testAuditRecord(audit.ActionSourceUpdated, audit.EntitySource, src.ID)); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := s.Sources().GetByID(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != "VPN (EU)" || got.Enabled || got.RateLimit != 250 {
		t.Errorf("updated source = %+v", got)
	}

	missing := testSourceRecord("ghost")
	if err := s.Sources().Update(ctx, missing, testAuditRecord(audit.ActionSourceUpdated, audit.EntitySource, missing.ID)); !errors.Is(err, source.ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func TestSourceStore_RotateKey(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	src := testSourceRecord("vpn")
	if err := s.Sources().Create(ctx, src, testAuditRecord(audit.ActionSourceCreated, audit.EntitySource, src.ID)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rec := &audit.Record{
		ID:          uuid.New().String(),
		UserID:      "admin",
		Action:      audit.ActionSourceAPIKeyRotated,
		EntityType:  audit.EntitySource,
		EntityID:    src.ID,
		BeforeValue: map[string]any{"apiKey": audit.RotationSentinel},
		AfterValue:  map[string]any{"apiKey": audit.RotationSentinel},
		CreatedAt:   time.Now().UTC(),
	}
	newHash := "$argon2id$v=19$m=48128,t=1,p=1$bmV3c2FsdA$bmV3aGFzaA"
	rotated, err := s.Sources().RotateKey(ctx, src.ID, newHash, rec)
	if err != nil {
		t.Fatalf("RotateKey() error: %v", err)
	}
	if rotated.APIKeyHash != newHash {
		t.Errorf("rotated hash = %q, want the new hash", rotated.APIKeyHash)
	}
	if rotated.Key != "vpn" {
		t.Errorf("rotated key = %q, want vpn", rotated.Key)
	}

	recs, err := s.Audit().List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 2 || recs[0].Action != audit.ActionSourceAPIKeyRotated {
		t.Errorf("audit trail = %+v, want rotation on top", recs)
	}

	if _, err := s.Sources().RotateKey(ctx, "missing", newHash, rec); !errors.Is(err, source.ErrNotFound) {
		t.Errorf("RotateKey(missing) = %v, want ErrNotFound", err)
	}
}

func TestSourceStore_ListOrdersByCreation(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	offsets := map[string]time.Duration{"first": 0, "second": time.Minute, "third": 2 * time.Minute}
	// Insertion order deliberately differs from creation order.
	for _, key := range []string{"third", "first", "second"} {
		src := testSourceRecord(key)
		src.CreatedAt = base.Add(offsets[key])
		src.UpdatedAt = src.CreatedAt
		if err := s.Sources().Create(ctx, src, testAuditRecord(audit.ActionSourceCreated, audit.EntitySource, src.ID)); err != nil {
			t.Fatalf("Create(%s) error: %v", key, err)
		}
	}

	list, err := s.Sources().List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() returned %d sources, want 3", len(list))
	}
	for i, want := range []string{"first", "second", "third"} {
		if list[i].Key != want {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Key, want)
		}
	}
}
