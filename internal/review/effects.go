package review

import (
	"time"

	"github.com/joescharf/taskreview/internal/models"
)

// Capabilities are the authorization facts for one actor on one task.
type Capabilities struct {
	IsReviewer     bool
	IsSuperUser    bool
	HasWriteAccess bool // administers the task's parent challenge
}

// CanReview reports whether the actor may record reviewer decisions.
func (c Capabilities) CanReview() bool {
	return c.IsReviewer || c.IsSuperUser
}

// NotificationKind identifies the event a notification announces.
type NotificationKind string

const (
	NotifyReviewRequested     NotificationKind = "review_requested"
	NotifyReviewCompleted     NotificationKind = "review_completed"
	NotifyReviewRevised       NotificationKind = "review_revised"
	NotifyMetaReviewRequested NotificationKind = "meta_review_requested"
	NotifyMetaReviewCompleted NotificationKind = "meta_review_completed"
)

// NotificationIntent records that a user should be told about a transition.
// Delivery belongs to the NotificationSink.
type NotificationIntent struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"kind"`
	TaskID      int64            `json:"task_id"`
	RecipientID int64            `json:"recipient_id"`
	ActorID     int64            `json:"actor_id"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ScoreDelta moves one user's counters from OldStatus to NewStatus. OldStatus
// is None unless a decision directly replaced an earlier decision, in which
// case the earlier credit is rolled back.
type ScoreDelta struct {
	ActorID       int64
	TaskID        int64
	OldStatus     models.ReviewStatus
	NewStatus     models.ReviewStatus
	ReviewerRole  bool
	Meta          bool
	MetaStatus    models.MetaReviewStatus
	ClaimDuration time.Duration
}

// AchievementCheckIntent asks the achievement engine to re-evaluate a user
// after an Approved-family outcome.
type AchievementCheckIntent struct {
	ActorID int64
	TaskID  int64
	Status  models.ReviewStatus
}

// Effects are the side effects one transition requires. The state machine
// only describes them; the workflow persists History inside its transaction
// and dispatches the rest after commit.
type Effects struct {
	History      *models.ReviewHistoryEntry
	Scores       []ScoreDelta
	Notification *NotificationIntent
	Achievement  *AchievementCheckIntent
}

// Result is the outcome of a transition. A NoOp result carries the unchanged
// record and no effects.
type Result struct {
	Record  models.ReviewRecord
	Effects Effects
	NoOp    bool
}

func noOp(rec models.ReviewRecord) Result {
	return Result{Record: rec, NoOp: true}
}
