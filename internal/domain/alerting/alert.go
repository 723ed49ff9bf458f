package alerting

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/scoring"
)

// CreateAlertFromScore builds an alert from a scoring pass, or returns nil
// when the total score is below the threshold. Pure: the creation instant is
// passed in by the caller.
//
// The baseline comparison pairs the pass's window statistics with the
// baseline the pass was scored against.
func CreateAlertFromScore(result scoring.Result, bl baseline.Baseline, threshold int, now time.Time) *Alert {
	if result.Score.TotalScore < threshold {
		return nil
	}
	now = now.UTC()

	contributions := make([]scoring.Contribution, len(result.Score.RuleContributions))
	copy(contributions, result.Score.RuleContributions)

	eventIDs := make([]string, len(result.Score.TriggeringEventIDs))
	copy(eventIDs, result.Score.TriggeringEventIDs)

	typicalHours := make([]int, len(bl.TypicalActiveHours))
	copy(typicalHours, bl.TypicalActiveHours)
	currentHours := make([]int, len(result.Stats.CurrentHours))
	copy(currentHours, result.Stats.CurrentHours)

	return &Alert{
		ID:                uuid.New().String(),
		ActorID:           result.Score.ActorID,
		Score:             result.Score.TotalScore,
		Severity:          SeverityForScore(result.Score.TotalScore),
		Status:            StatusOpen,
		RuleContributions: contributions,
		BaselineComparison: BaselineComparison{
			TypicalHours:       typicalHours,
			CurrentHours:       currentHours,
			AvgBytes:           bl.AvgBytesPerDay,
			CurrentBytes:       result.Stats.CurrentBytes,
			NormalScope:        bl.TypicalResourceScope,
			CurrentScope:       result.Stats.CurrentScope,
			NormalFailureRate:  bl.NormalFailureRate,
			CurrentFailureRate: result.Stats.CurrentFailureRate,
		},
		TriggeringEventIDs: eventIDs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
