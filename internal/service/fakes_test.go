package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/domain/alerting"
	"github.com/driftline/driftline/internal/domain/audit"
	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/event"
	"github.com/driftline/driftline/internal/domain/scoring"
	"github.com/driftline/driftline/internal/domain/source"
)

// In-memory store fakes for service tests. All are safe for concurrent use.

type fakeAuditStore struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *fakeAuditStore) Insert(_ context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *fakeAuditStore) List(_ context.Context, limit int) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// serialized returns the full audit trail as one JSON blob, for scanning.
func (s *fakeAuditStore) serialized() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := json.Marshal(s.records)
	return string(b)
}

type fakeSourceStore struct {
	mu      sync.Mutex
	sources map[string]*source.Source
	audits  *fakeAuditStore
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{sources: map[string]*source.Source{}, audits: &fakeAuditStore{}}
}

func (s *fakeSourceStore) Create(ctx context.Context, src *source.Source, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sources {
		if existing.Key == src.Key {
			return source.ErrDuplicateKey
		}
	}
	cp := *src
	s.sources[src.ID] = &cp
	return s.audits.Insert(ctx, rec)
}

func (s *fakeSourceStore) Update(ctx context.Context, src *source.Source, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; !ok {
		return source.ErrNotFound
	}
	cp := *src
	s.sources[src.ID] = &cp
	return s.audits.Insert(ctx, rec)
}

func (s *fakeSourceStore) RotateKey(ctx context.Context, id, newHash string, rec *audit.Record) (*source.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, source.ErrNotFound
	}
	src.APIKeyHash = newHash
	if err := s.audits.Insert(ctx, rec); err != nil {
		return nil, err
	}
	cp := *src
	return &cp, nil
}

func (s *fakeSourceStore) GetByID(_ context.Context, id string) (*source.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, source.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (s *fakeSourceStore) GetByKey(_ context.Context, key string) (*source.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.Key == key {
			cp := *src
			return &cp, nil
		}
	}
	return nil, source.ErrNotFound
}

func (s *fakeSourceStore) List(_ context.Context) ([]source.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]source.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	return out, nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []event.Event
	actors map[string]*event.Actor

	deleteErr map[string]error // per-source failures for retention tests
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{actors: map[string]*event.Actor{}, deleteErr: map[string]error{}}
}

func (s *fakeEventStore) InsertEventWithActor(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	actor, ok := s.actors[ev.ActorID]
	if !ok {
		s.actors[ev.ActorID] = &event.Actor{
			ActorID:   ev.ActorID,
			ActorType: ev.ActorType,
			FirstSeen: ev.OccurredAt,
			LastSeen:  ev.OccurredAt,
		}
		return nil
	}
	if ev.OccurredAt.Before(actor.FirstSeen) {
		actor.FirstSeen = ev.OccurredAt
	}
	if ev.OccurredAt.After(actor.LastSeen) {
		actor.LastSeen = ev.OccurredAt
	}
	return nil
}

func (s *fakeEventStore) ListActorEventsSince(_ context.Context, actorID string, since time.Time) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.ActorID == actorID && !ev.OccurredAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeEventStore) ActiveActorsSince(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, ev := range s.events {
		if !ev.OccurredAt.Before(since) && !seen[ev.ActorID] {
			seen[ev.ActorID] = true
			out = append(out, ev.ActorID)
		}
	}
	return out, nil
}

func (s *fakeEventStore) GetActor(_ context.Context, actorID string) (*event.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.actors[actorID]
	if !ok {
		return nil, event.ErrActorNotFound
	}
	cp := *actor
	return &cp, nil
}

func (s *fakeEventStore) UpdateActorScore(_ context.Context, actorID string, score int, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.actors[actorID]
	if !ok {
		return event.ErrActorNotFound
	}
	actor.CurrentRiskScore = score
	if lastSeen.After(actor.LastSeen) {
		actor.LastSeen = lastSeen
	}
	return nil
}

func (s *fakeEventStore) DeleteEventsBefore(_ context.Context, sourceID string, cutoff time.Time, dryRun bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr[sourceID]; err != nil {
		return 0, err
	}
	var kept []event.Event
	var n int64
	for _, ev := range s.events {
		if ev.SourceID == sourceID && ev.OccurredAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	if !dryRun {
		s.events = kept
	}
	return n, nil
}

func (s *fakeEventStore) DeleteOrphanEventsBefore(_ context.Context, knownSourceIDs []string, cutoff time.Time, dryRun bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := map[string]bool{}
	for _, id := range knownSourceIDs {
		known[id] = true
	}
	var kept []event.Event
	var n int64
	for _, ev := range s.events {
		if !known[ev.SourceID] && ev.OccurredAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	if !dryRun {
		s.events = kept
	}
	return n, nil
}

type fakeScoringStore struct {
	mu     sync.Mutex
	scores []scoring.RiskScore
	rules  []scoring.Rule
	audits *fakeAuditStore
}

func (s *fakeScoringStore) InsertScore(_ context.Context, sc *scoring.RiskScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, *sc)
	return nil
}

func (s *fakeScoringStore) ListRules(_ context.Context) ([]scoring.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scoring.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *fakeScoringStore) UpdateRule(ctx context.Context, r *scoring.Rule, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == r.ID {
			s.rules[i] = *r
			return s.audits.Insert(ctx, rec)
		}
	}
	return scoring.ErrRuleNotFound
}

func (s *fakeScoringStore) SeedRules(_ context.Context, rules []scoring.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := map[scoring.RuleKey]bool{}
	for _, r := range s.rules {
		present[r.RuleKey] = true
	}
	for _, r := range rules {
		if present[r.RuleKey] {
			continue
		}
		if r.ID == "" {
			r.ID = "rule-" + string(r.RuleKey)
		}
		s.rules = append(s.rules, r)
	}
	return nil
}

type fakeBaselineStore struct {
	mu        sync.Mutex
	baselines []baseline.Baseline
}

func (s *fakeBaselineStore) Insert(_ context.Context, b *baseline.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines = append(s.baselines, *b)
	return nil
}

func (s *fakeBaselineStore) Latest(_ context.Context, actorID string) (*baseline.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *baseline.Baseline
	for i := range s.baselines {
		b := &s.baselines[i]
		if b.ActorID != actorID {
			continue
		}
		if latest == nil || b.ComputedAt.After(latest.ComputedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *fakeBaselineStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.baselines)), nil
}

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[string]*alerting.Alert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: map[string]*alerting.Alert{}}
}

func (s *fakeAlertStore) Insert(_ context.Context, a *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *fakeAlertStore) Get(_ context.Context, id string) (*alerting.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, alerting.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAlertStore) HasOpenAlertSince(_ context.Context, actorID string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ActorID == actorID && a.Status == alerting.StatusOpen && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAlertStore) Update(_ context.Context, a *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return alerting.ErrNotFound
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}
