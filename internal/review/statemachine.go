package review

import (
	"time"

	"github.com/joescharf/taskreview/internal/models"
)

// Change is one requested status change on one task. Transition reads
// Status and Disputed; TransitionMeta reads Meta.
type Change struct {
	TaskID   int64
	Actor    models.Actor
	Caps     Capabilities
	Status   models.ReviewStatus
	Meta     models.MetaReviewStatus
	Disputed bool // the mapper contests the current review
	Comment  string
	Now      time.Time
}

// Transition validates and applies a review status change to rec. It does no
// I/O: the returned Result holds the new record and the side effects the
// caller must carry out.
func Transition(rec models.ReviewRecord, c Change) (Result, error) {
	switch c.Status {
	case models.ReviewStatusRequested, models.ReviewStatusDisputed:
		return requestReview(rec, c)
	case models.ReviewStatusUnnecessary:
		return markUnnecessary(rec, c)
	case models.ReviewStatusApproved, models.ReviewStatusApprovedWithRevisions,
		models.ReviewStatusApprovedWithFixesAfterRevisions, models.ReviewStatusRejected,
		models.ReviewStatusAssisted:
		return decide(rec, c)
	case models.ReviewStatusNone:
		return Result{}, invalid(c.TaskID, rec.ReviewStatus, c.Status, "review status cannot be cleared")
	}
	return Result{}, invalid(c.TaskID, rec.ReviewStatus, c.Status, "unknown review status")
}

// requestReview handles Requested and Disputed targets. Neither needs the
// reviewer capability: the mapper asks for (another) review.
func requestReview(rec models.ReviewRecord, c Change) (Result, error) {
	prev := rec.ReviewStatus
	target := c.Status
	if target == models.ReviewStatusRequested && c.Disputed && prev.AwaitingReview() {
		target = models.ReviewStatusDisputed
	}
	if target == models.ReviewStatusDisputed && rec.ReviewedBy == nil {
		return Result{}, invalid(c.TaskID, prev, target, "task has no review to dispute")
	}

	// A request from anyone but the reviewer of record asks for a fresh review.
	reReview := !rec.IsReviewer(c.Actor.ID)

	next := rec.Clone()
	next.ReviewStatus = target
	if reReview {
		next.ReviewRequestedBy = models.IDPtr(c.Actor.ID)
	}
	next.ClearClaim()
	next.ReviewStartedAt = nil

	promoted := false
	switch {
	case target == models.ReviewStatusDisputed:
		next.MetaReviewStatus = models.MetaReviewStatusNone
	case rec.MetaReviewStatus == models.MetaReviewStatusRejected && !reReview:
		next.MetaReviewStatus = models.MetaReviewStatusRequested
		promoted = true
	}

	if prev == target && !rec.IsClaimed() &&
		next.MetaReviewStatus == rec.MetaReviewStatus && sameID(next.ReviewRequestedBy, rec.ReviewRequestedBy) {
		return noOp(rec), nil
	}

	eff := Effects{History: historyEntry(c, next, next.ReviewedBy, nil)}
	switch {
	case promoted && next.MetaReviewedBy != nil && *next.MetaReviewedBy != c.Actor.ID:
		eff.Notification = notification(NotifyMetaReviewRequested, c, *next.MetaReviewedBy, next.MetaReviewStatus.String())
	case next.ReviewedBy != nil && *next.ReviewedBy != c.Actor.ID:
		eff.Notification = notification(NotifyReviewRequested, c, *next.ReviewedBy, target.String())
	}
	if target == models.ReviewStatusDisputed {
		eff.Scores = []ScoreDelta{{
			ActorID:      *next.ReviewedBy,
			TaskID:       c.TaskID,
			NewStatus:    models.ReviewStatusDisputed,
			ReviewerRole: true,
		}}
	}
	return Result{Record: next, Effects: eff}, nil
}

// markUnnecessary lets a challenge admin withdraw a pending review request.
// From any state other than Requested it is a no-op.
func markUnnecessary(rec models.ReviewRecord, c Change) (Result, error) {
	if !c.Caps.HasWriteAccess {
		return Result{}, denied("challenge write access required to mark task %d unnecessary", c.TaskID)
	}
	if rec.ReviewStatus != models.ReviewStatusRequested {
		return noOp(rec), nil
	}

	next := rec.Clone()
	next.ReviewStatus = models.ReviewStatusUnnecessary
	next.ClearClaim()
	next.ReviewStartedAt = nil
	next.MetaReviewStatus = models.MetaReviewStatusNone

	return Result{Record: next, Effects: Effects{History: historyEntry(c, next, next.ReviewedBy, nil)}}, nil
}

// decide records a reviewer decision.
func decide(rec models.ReviewRecord, c Change) (Result, error) {
	prev := rec.ReviewStatus
	actor := c.Actor.ID

	if !c.Caps.CanReview() {
		return Result{}, denied("reviewer capability required to set task %d %s", c.TaskID, c.Status)
	}
	if prev == models.ReviewStatusNone || prev == models.ReviewStatusUnnecessary {
		return Result{}, invalid(c.TaskID, prev, c.Status, "review has not been requested")
	}
	if rec.IsClaimed() && !rec.ClaimedBy(actor) {
		return Result{}, &ClaimConflictError{TaskID: c.TaskID, HolderID: *rec.ReviewClaimedBy}
	}
	if prev == c.Status && rec.IsReviewer(actor) && !rec.IsClaimed() &&
		rec.MetaReviewStatus != models.MetaReviewStatusRejected {
		return noOp(rec), nil
	}

	// A decision on a task awaiting review makes the actor reviewer of
	// record. Anyone else deciding an already-decided task is a second opinion.
	reReview := prev.AwaitingReview()
	secondOpinion := rec.ReviewedBy != nil && !rec.IsReviewer(actor) && !reReview

	next := rec.Clone()
	next.ReviewStatus = c.Status
	if secondOpinion {
		if !next.HasAdditionalReviewer(actor) {
			next.AdditionalReviewers = append(next.AdditionalReviewers, actor)
		}
	} else {
		next.ReviewedBy = models.IDPtr(actor)
	}

	var startedAt *time.Time
	if rec.ClaimedBy(actor) {
		v := *rec.ReviewClaimedAt
		startedAt = &v
	}
	now := c.Now
	next.ReviewedAt = &now
	next.ReviewStartedAt = startedAt
	next.ClearClaim()

	if rec.MetaReviewStatus == models.MetaReviewStatusRejected && rec.IsReviewer(actor) {
		next.MetaReviewStatus = models.MetaReviewStatusRequested
	}

	var duration time.Duration
	if startedAt != nil {
		duration = now.Sub(*startedAt)
	}

	// Only a decision replacing a decision rolls back the earlier credit, and
	// only the reviewer who made it loses their own.
	old := models.ReviewStatusNone
	if prev.IsDecision() {
		old = prev
	}
	reviewerOld := models.ReviewStatusNone
	if rec.IsReviewer(actor) {
		reviewerOld = old
	}

	eff := Effects{History: historyEntry(c, next, models.IDPtr(actor), startedAt)}
	eff.Scores = append(eff.Scores, ScoreDelta{
		ActorID:       actor,
		TaskID:        c.TaskID,
		OldStatus:     reviewerOld,
		NewStatus:     c.Status,
		ReviewerRole:  true,
		ClaimDuration: duration,
	})

	if mapper := next.ReviewRequestedBy; mapper != nil {
		eff.Scores = append(eff.Scores, ScoreDelta{
			ActorID:   *mapper,
			TaskID:    c.TaskID,
			OldStatus: old,
			NewStatus: c.Status,
		})
		if *mapper != actor {
			kind := NotifyReviewCompleted
			if prev.IsDecision() {
				kind = NotifyReviewRevised
			}
			eff.Notification = notification(kind, c, *mapper, c.Status.String())
		}
		if c.Status.IsApproval() {
			eff.Achievement = &AchievementCheckIntent{ActorID: *mapper, TaskID: c.TaskID, Status: c.Status}
		}
	}
	return Result{Record: next, Effects: eff}, nil
}

// TransitionMeta validates and applies a meta-review status change to rec.
// It never moves the review status itself.
func TransitionMeta(rec models.ReviewRecord, c Change) (Result, error) {
	target := c.Meta
	if target == models.MetaReviewStatusNone || !target.Valid() {
		return Result{}, invalid(c.TaskID, rec.MetaReviewStatus, target, "%s status not valid for meta-review", target)
	}
	if !rec.ReviewStatus.IsDecision() && rec.ReviewStatus != models.ReviewStatusRequested {
		return Result{}, invalid(c.TaskID, rec.MetaReviewStatus, target,
			"meta-review needs a reviewed task (review status is %s)", rec.ReviewStatus)
	}

	switch target {
	case models.MetaReviewStatusRequested:
		return requestMetaReview(rec, c)
	case models.MetaReviewStatusUnnecessary:
		return metaUnnecessary(rec, c)
	case models.MetaReviewStatusApproved, models.MetaReviewStatusRejected, models.MetaReviewStatusAssisted:
		return metaDecide(rec, c)
	case models.MetaReviewStatusNone:
	}
	return Result{}, invalid(c.TaskID, rec.MetaReviewStatus, target, "%s status not valid for meta-review", target)
}

func requestMetaReview(rec models.ReviewRecord, c Change) (Result, error) {
	if !rec.IsReviewer(c.Actor.ID) && !c.Caps.IsSuperUser {
		return Result{}, denied("only the reviewer of record can request meta-review of task %d", c.TaskID)
	}
	if rec.MetaReviewStatus == models.MetaReviewStatusRequested {
		return noOp(rec), nil
	}

	next := rec.Clone()
	next.MetaReviewStatus = models.MetaReviewStatusRequested

	eff := Effects{History: historyEntry(c, next, next.ReviewedBy, nil)}
	if m := next.MetaReviewedBy; m != nil && *m != c.Actor.ID {
		eff.Notification = notification(NotifyMetaReviewRequested, c, *m, next.MetaReviewStatus.String())
	}
	return Result{Record: next, Effects: eff}, nil
}

func metaUnnecessary(rec models.ReviewRecord, c Change) (Result, error) {
	if !c.Caps.HasWriteAccess {
		return Result{}, denied("challenge write access required to mark meta-review of task %d unnecessary", c.TaskID)
	}
	if rec.MetaReviewStatus == models.MetaReviewStatusUnnecessary {
		return noOp(rec), nil
	}

	next := rec.Clone()
	next.MetaReviewStatus = models.MetaReviewStatusUnnecessary
	return Result{Record: next, Effects: Effects{History: historyEntry(c, next, next.ReviewedBy, nil)}}, nil
}

func metaDecide(rec models.ReviewRecord, c Change) (Result, error) {
	actor := c.Actor.ID
	if !c.Caps.CanReview() {
		return Result{}, denied("reviewer capability required to meta-review task %d", c.TaskID)
	}
	if rec.IsReviewer(actor) && !c.Caps.IsSuperUser {
		return Result{}, invalid(c.TaskID, rec.MetaReviewStatus, c.Meta, "reviewers cannot meta-review their own review")
	}
	if rec.IsClaimed() && !rec.ClaimedBy(actor) {
		return Result{}, &ClaimConflictError{TaskID: c.TaskID, HolderID: *rec.ReviewClaimedBy}
	}
	if rec.MetaReviewStatus == c.Meta && sameID(rec.MetaReviewedBy, models.IDPtr(actor)) && !rec.IsClaimed() {
		return noOp(rec), nil
	}

	var startedAt *time.Time
	if rec.ClaimedBy(actor) {
		v := *rec.ReviewClaimedAt
		startedAt = &v
	}
	now := c.Now

	next := rec.Clone()
	next.MetaReviewStatus = c.Meta
	next.MetaReviewedBy = models.IDPtr(actor)
	next.MetaReviewedAt = &now
	next.ClearClaim()

	var duration time.Duration
	if startedAt != nil {
		duration = now.Sub(*startedAt)
	}

	eff := Effects{History: historyEntry(c, next, next.ReviewedBy, startedAt)}
	eff.Scores = []ScoreDelta{{
		ActorID:       actor,
		TaskID:        c.TaskID,
		ReviewerRole:  true,
		Meta:          true,
		MetaStatus:    c.Meta,
		ClaimDuration: duration,
	}}
	if r := next.ReviewedBy; r != nil && *r != actor {
		eff.Notification = notification(NotifyMetaReviewCompleted, c, *r, c.Meta.String())
	}
	return Result{Record: next, Effects: eff}, nil
}

func historyEntry(c Change, rec models.ReviewRecord, reviewedBy *int64, startedAt *time.Time) *models.ReviewHistoryEntry {
	return &models.ReviewHistoryEntry{
		TaskID:           c.TaskID,
		RequestedBy:      copyID(rec.ReviewRequestedBy),
		ReviewedBy:       copyID(reviewedBy),
		MetaReviewedBy:   copyID(rec.MetaReviewedBy),
		ReviewStatus:     rec.ReviewStatus,
		MetaReviewStatus: rec.MetaReviewStatus,
		Comment:          c.Comment,
		ReviewStartedAt:  startedAt,
		ReviewedAt:       c.Now,
	}
}

func notification(kind NotificationKind, c Change, recipient int64, status string) *NotificationIntent {
	return &NotificationIntent{
		Kind:        kind,
		TaskID:      c.TaskID,
		RecipientID: recipient,
		ActorID:     c.Actor.ID,
		Status:      status,
		CreatedAt:   c.Now,
	}
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	return models.IDPtr(*p)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
