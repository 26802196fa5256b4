// Package scoring keeps per-user review counters and grants achievements.
package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/review"
)

// Store is the persistence the ledger needs.
type Store interface {
	IncrementUserMetrics(ctx context.Context, userID int64, deltas map[string]int64) error
	GetUserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error)
	GrantAchievement(ctx context.Context, userID int64, code string) (bool, error)
}

// Milestone is an achievement granted once a counter reaches Threshold.
type Milestone struct {
	Code      string
	Threshold int64
}

// MapperMilestones are granted on approved tasks.
var MapperMilestones = []Milestone{
	{Code: "first_approval", Threshold: 1},
	{Code: "approved_10", Threshold: 10},
	{Code: "approved_100", Threshold: 100},
}

// ReviewerMilestones are granted on reviewer decisions of any kind.
var ReviewerMilestones = []Milestone{
	{Code: "first_review", Threshold: 1},
	{Code: "reviews_50", Threshold: 50},
	{Code: "reviews_500", Threshold: 500},
}

// Ledger implements review.ScoringSink and review.AchievementSink.
type Ledger struct {
	store Store
	log   *slog.Logger
}

var (
	_ review.ScoringSink     = (*Ledger)(nil)
	_ review.AchievementSink = (*Ledger)(nil)
)

// NewLedger creates a ledger over s.
func NewLedger(s Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: s, log: log}
}

// ApplyDelta rolls back the counter for d.OldStatus and credits d.NewStatus.
// Only relative increments are written.
func (l *Ledger) ApplyDelta(ctx context.Context, d review.ScoreDelta) error {
	deltas := map[string]int64{}
	if d.Meta {
		deltas["meta_reviews"]++
	} else {
		if col := counter(d.OldStatus, d.ReviewerRole); col != "" {
			deltas[col]--
		}
		if col := counter(d.NewStatus, d.ReviewerRole); col != "" {
			deltas[col]++
		}
	}
	if d.ReviewerRole && d.ClaimDuration > 0 {
		deltas["review_time_ms"] += d.ClaimDuration.Milliseconds()
	}
	for col, v := range deltas {
		if v == 0 {
			delete(deltas, col)
		}
	}
	if len(deltas) == 0 {
		return nil
	}

	if err := l.store.IncrementUserMetrics(ctx, d.ActorID, deltas); err != nil {
		return fmt.Errorf("apply score delta: %w", err)
	}

	if d.ReviewerRole && !d.Meta && d.NewStatus.IsDecision() {
		m, err := l.store.GetUserMetrics(ctx, d.ActorID)
		if err != nil {
			return fmt.Errorf("read user metrics: %w", err)
		}
		return l.grant(ctx, d.ActorID, ReviewerMilestones, m.ReviewsApproved+m.ReviewsRejected+m.ReviewsAssisted)
	}
	return nil
}

// Check grants the mapper milestones the user has reached.
func (l *Ledger) Check(ctx context.Context, intent review.AchievementCheckIntent) error {
	m, err := l.store.GetUserMetrics(ctx, intent.ActorID)
	if err != nil {
		return fmt.Errorf("read user metrics: %w", err)
	}
	return l.grant(ctx, intent.ActorID, MapperMilestones, m.TotalApproved)
}

func (l *Ledger) grant(ctx context.Context, userID int64, milestones []Milestone, count int64) error {
	for _, ms := range milestones {
		if count < ms.Threshold {
			break
		}
		granted, err := l.store.GrantAchievement(ctx, userID, ms.Code)
		if err != nil {
			return fmt.Errorf("grant %s: %w", ms.Code, err)
		}
		if granted {
			l.log.Info("achievement granted", "user_id", userID, "code", ms.Code)
		}
	}
	return nil
}

// counter maps a status to the user_metrics column it counts toward.
func counter(status models.ReviewStatus, reviewerRole bool) string {
	var suffix string
	switch status {
	case models.ReviewStatusApproved, models.ReviewStatusApprovedWithRevisions,
		models.ReviewStatusApprovedWithFixesAfterRevisions:
		suffix = "approved"
	case models.ReviewStatusRejected:
		suffix = "rejected"
	case models.ReviewStatusAssisted:
		suffix = "assisted"
	case models.ReviewStatusDisputed:
		if reviewerRole {
			return "reviews_disputed"
		}
		return ""
	case models.ReviewStatusNone, models.ReviewStatusRequested, models.ReviewStatusUnnecessary:
		return ""
	}
	if suffix == "" {
		return ""
	}
	if reviewerRole {
		return "reviews_" + suffix
	}
	return "total_" + suffix
}
