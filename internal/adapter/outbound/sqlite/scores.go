package sqlite

import (
	"context"
	"fmt"

	"github.com/driftline/driftline/internal/domain/scoring"
)

// scoringStore implements scoring.Store over the shared database.
type scoringStore struct {
	s *Store
}

var _ scoring.Store = (*scoringStore)(nil)

// Scoring returns the risk-score and rule-configuration view of the store.
func (s *Store) Scoring() scoring.Store {
	return &scoringStore{s: s}
}

// InsertScore appends a risk score record with its full contribution breakdown.
func (st *scoringStore) InsertScore(ctx context.Context, sc *scoring.RiskScore) error {
	contribs := sc.RuleContributions
	if contribs == nil {
		contribs = []scoring.Contribution{}
	}
	contributions, err := marshalJSON(contribs)
	if err != nil {
		return err
	}
	eventIDs, err := marshalJSON(emptySliceStr(sc.TriggeringEventIDs))
	if err != nil {
		return err
	}
	_, err = st.s.db.ExecContext(ctx, `
		INSERT INTO risk_scores (actor_id, total_score, computed_at, contributions, triggering_event_ids)
		VALUES (?, ?, ?, ?, ?)`,
		sc.ActorID, sc.TotalScore, formatTime(sc.ComputedAt), contributions, eventIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk score: %w", err)
	}
	return nil
}
