package models

import (
	"fmt"
	"time"
)

// ReviewStatus is the review state of a task.
type ReviewStatus string

const (
	ReviewStatusNone                            ReviewStatus = ""
	ReviewStatusRequested                       ReviewStatus = "requested"
	ReviewStatusDisputed                        ReviewStatus = "disputed"
	ReviewStatusApproved                        ReviewStatus = "approved"
	ReviewStatusApprovedWithRevisions           ReviewStatus = "approved_with_revisions"
	ReviewStatusApprovedWithFixesAfterRevisions ReviewStatus = "approved_with_fixes_after_revisions"
	ReviewStatusRejected                        ReviewStatus = "rejected"
	ReviewStatusAssisted                        ReviewStatus = "assisted"
	ReviewStatusUnnecessary                     ReviewStatus = "unnecessary"
)

// ReviewStatuses lists every non-None review status.
var ReviewStatuses = []ReviewStatus{
	ReviewStatusRequested,
	ReviewStatusDisputed,
	ReviewStatusApproved,
	ReviewStatusApprovedWithRevisions,
	ReviewStatusApprovedWithFixesAfterRevisions,
	ReviewStatusRejected,
	ReviewStatusAssisted,
	ReviewStatusUnnecessary,
}

// ParseReviewStatus converts user input into a ReviewStatus.
// "none" and the empty string both map to ReviewStatusNone.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	if s == "" || s == "none" {
		return ReviewStatusNone, nil
	}
	for _, st := range ReviewStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return ReviewStatusNone, fmt.Errorf("unknown review status: %s", s)
}

func (s ReviewStatus) String() string {
	if s == ReviewStatusNone {
		return "none"
	}
	return string(s)
}

// IsDecision reports whether s is a terminal reviewer decision.
func (s ReviewStatus) IsDecision() bool {
	switch s {
	case ReviewStatusApproved, ReviewStatusApprovedWithRevisions,
		ReviewStatusApprovedWithFixesAfterRevisions, ReviewStatusRejected,
		ReviewStatusAssisted:
		return true
	case ReviewStatusNone, ReviewStatusRequested, ReviewStatusDisputed,
		ReviewStatusUnnecessary:
		return false
	}
	return false
}

// IsApproval reports whether s belongs to the Approved family.
func (s ReviewStatus) IsApproval() bool {
	switch s {
	case ReviewStatusApproved, ReviewStatusApprovedWithRevisions,
		ReviewStatusApprovedWithFixesAfterRevisions:
		return true
	}
	return false
}

// AwaitingReview reports whether the task sits in the review queue.
func (s ReviewStatus) AwaitingReview() bool {
	return s == ReviewStatusRequested || s == ReviewStatusDisputed
}

// MetaReviewStatus is the second-pass audit state layered on a review.
type MetaReviewStatus string

const (
	MetaReviewStatusNone        MetaReviewStatus = ""
	MetaReviewStatusRequested   MetaReviewStatus = "requested"
	MetaReviewStatusApproved    MetaReviewStatus = "approved"
	MetaReviewStatusRejected    MetaReviewStatus = "rejected"
	MetaReviewStatusAssisted    MetaReviewStatus = "assisted"
	MetaReviewStatusUnnecessary MetaReviewStatus = "unnecessary"
)

// Valid reports whether m is one of the known meta-review statuses.
func (m MetaReviewStatus) Valid() bool {
	switch m {
	case MetaReviewStatusNone, MetaReviewStatusRequested, MetaReviewStatusApproved,
		MetaReviewStatusRejected, MetaReviewStatusAssisted, MetaReviewStatusUnnecessary:
		return true
	}
	return false
}

// IsDecision reports whether m is a meta-reviewer decision.
func (m MetaReviewStatus) IsDecision() bool {
	return m == MetaReviewStatusApproved || m == MetaReviewStatusRejected || m == MetaReviewStatusAssisted
}

func (m MetaReviewStatus) String() string {
	if m == MetaReviewStatusNone {
		return "none"
	}
	return string(m)
}

// ParseMetaReviewStatus converts user input into a MetaReviewStatus. Unknown
// values are returned as-is so the state machine can reject them with context.
func ParseMetaReviewStatus(s string) MetaReviewStatus {
	if s == "none" {
		return MetaReviewStatusNone
	}
	return MetaReviewStatus(s)
}

// ReviewRecord is the review sub-state of a task.
type ReviewRecord struct {
	ReviewStatus        ReviewStatus
	ReviewRequestedBy   *int64
	ReviewedBy          *int64
	ReviewedAt          *time.Time
	ReviewStartedAt     *time.Time
	AdditionalReviewers []int64
	ReviewClaimedBy     *int64
	ReviewClaimedAt     *time.Time
	LastClaimedBy       *int64
	MetaReviewStatus    MetaReviewStatus
	MetaReviewedBy      *int64
	MetaReviewedAt      *time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r ReviewRecord) Clone() ReviewRecord {
	c := r
	c.ReviewRequestedBy = cloneID(r.ReviewRequestedBy)
	c.ReviewedBy = cloneID(r.ReviewedBy)
	c.ReviewClaimedBy = cloneID(r.ReviewClaimedBy)
	c.LastClaimedBy = cloneID(r.LastClaimedBy)
	c.MetaReviewedBy = cloneID(r.MetaReviewedBy)
	c.ReviewedAt = cloneTime(r.ReviewedAt)
	c.ReviewStartedAt = cloneTime(r.ReviewStartedAt)
	c.ReviewClaimedAt = cloneTime(r.ReviewClaimedAt)
	c.MetaReviewedAt = cloneTime(r.MetaReviewedAt)
	if r.AdditionalReviewers != nil {
		c.AdditionalReviewers = append([]int64(nil), r.AdditionalReviewers...)
	}
	return c
}

// IsClaimed reports whether an exclusive review claim is held.
func (r ReviewRecord) IsClaimed() bool {
	return r.ReviewClaimedBy != nil
}

// ClaimedBy reports whether the claim is held by actorID.
func (r ReviewRecord) ClaimedBy(actorID int64) bool {
	return r.ReviewClaimedBy != nil && *r.ReviewClaimedBy == actorID
}

// IsReviewer reports whether actorID is the reviewer of record.
func (r ReviewRecord) IsReviewer(actorID int64) bool {
	return r.ReviewedBy != nil && *r.ReviewedBy == actorID
}

// LastClaimedByActor reports whether actorID made the most recent claim,
// whether or not it is still held.
func (r ReviewRecord) LastClaimedByActor(actorID int64) bool {
	return r.LastClaimedBy != nil && *r.LastClaimedBy == actorID
}

// ClearClaim removes both claim fields together. LastClaimedBy is kept.
func (r *ReviewRecord) ClearClaim() {
	r.ReviewClaimedBy = nil
	r.ReviewClaimedAt = nil
}

// HasAdditionalReviewer reports whether actorID already reviewed as a second opinion.
func (r ReviewRecord) HasAdditionalReviewer(actorID int64) bool {
	for _, id := range r.AdditionalReviewers {
		if id == actorID {
			return true
		}
	}
	return false
}

// ReviewHistoryEntry is one append-only row per completed transition.
type ReviewHistoryEntry struct {
	ID               string
	TaskID           int64
	RequestedBy      *int64
	ReviewedBy       *int64
	MetaReviewedBy   *int64
	ReviewStatus     ReviewStatus
	MetaReviewStatus MetaReviewStatus
	Comment          string
	ReviewStartedAt  *time.Time
	ReviewedAt       time.Time
}

// ClaimDuration is the time between claim and decision, zero when unclaimed.
func (h ReviewHistoryEntry) ClaimDuration() time.Duration {
	if h.ReviewStartedAt == nil {
		return 0
	}
	return h.ReviewedAt.Sub(*h.ReviewStartedAt)
}

// IDPtr returns a pointer to id, for populating optional actor fields.
func IDPtr(id int64) *int64 {
	return &id
}

func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
