package review

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/store"
)

// DefaultSweepBatchSize bounds how many claims one ExpireStale transaction demotes.
const DefaultSweepBatchSize = 500

// ClaimManager grants mutually exclusive, time-bounded review claims.
type ClaimManager struct {
	now       func() time.Time
	batchSize int
}

// NewClaimManager creates a ClaimManager reading the time from now.
func NewClaimManager(now func() time.Time, batchSize int) *ClaimManager {
	if now == nil {
		now = time.Now
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &ClaimManager{now: now, batchSize: batchSize}
}

// Acquire claims every task for actor, or none of them. A task already
// claimed by actor is re-claimed with a fresh timestamp. On success the claim
// fields of tasks are updated in place.
func (m *ClaimManager) Acquire(ctx context.Context, tx store.Tx, tasks []*models.Task, actor models.Actor) error {
	for _, t := range tasks {
		if t.Review.IsClaimed() && !t.Review.ClaimedBy(actor.ID) {
			return &ClaimConflictError{TaskID: t.ID, HolderID: *t.Review.ReviewClaimedBy}
		}
	}

	ids := taskIDs(tasks)
	at := m.now().UTC()
	n, err := tx.ClaimTasks(ctx, ids, actor.ID, at)
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		// Another writer got in between the read and the conditional update.
		// Returning an error rolls back the rows that were claimed.
		return m.conflict(ctx, tx, ids, actor)
	}

	for _, t := range tasks {
		t.Review.ReviewClaimedBy = models.IDPtr(actor.ID)
		claimedAt := at
		t.Review.ReviewClaimedAt = &claimedAt
		t.Review.LastClaimedBy = models.IDPtr(actor.ID)
	}
	return nil
}

func (m *ClaimManager) conflict(ctx context.Context, tx store.Tx, ids []int64, actor models.Actor) error {
	current, err := tx.GetTasks(ctx, ids)
	if err != nil {
		return err
	}
	for _, t := range current {
		if t.Review.IsClaimed() && !t.Review.ClaimedBy(actor.ID) {
			return &ClaimConflictError{TaskID: t.ID, HolderID: *t.Review.ReviewClaimedBy}
		}
	}
	return &ClaimConflictError{TaskID: ids[0]}
}

// Release clears the claims on tasks. An unclaimed task is left alone when
// actor made the last claim on it, so the claimant releasing twice is a no-op.
// If any task is held by, or was last claimed by, another actor nothing is
// released and ErrNotHeld is returned, unless force is set.
func (m *ClaimManager) Release(ctx context.Context, tx store.Tx, tasks []*models.Task, actor models.Actor, force bool) (released bool, err error) {
	var held []int64
	for _, t := range tasks {
		if !t.Review.IsClaimed() {
			if !force && !t.Review.LastClaimedByActor(actor.ID) {
				return false, fmt.Errorf("task %d not claimed by user %d: %w", t.ID, actor.ID, ErrNotHeld)
			}
			continue
		}
		if !t.Review.ClaimedBy(actor.ID) && !force {
			return false, fmt.Errorf("task %d claimed by user %d: %w", t.ID, *t.Review.ReviewClaimedBy, ErrNotHeld)
		}
		held = append(held, t.ID)
	}
	if len(held) == 0 {
		return false, nil
	}

	if _, err := tx.ReleaseTasks(ctx, held, actor.ID, force); err != nil {
		return false, err
	}
	for _, t := range tasks {
		t.Review.ClearClaim()
	}
	return true, nil
}

// ExpiredComment is recorded in the history of tasks demoted by ExpireStale.
const ExpiredComment = "review claim expired"

// ExpireStale demotes tasks still Requested whose claim is older than
// olderThan to Unnecessary, clearing the claim and any meta-review request,
// and records one history entry per demoted task. Rows are processed in
// batches, one transaction each, and the total number demoted is returned.
func (m *ClaimManager) ExpireStale(ctx context.Context, s store.Store, olderThan time.Duration) (int64, error) {
	now := m.now().UTC()
	cutoff := now.Add(-olderThan)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := s.ListStaleClaims(ctx, cutoff, m.batchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		var expired []int64
		err = s.InTx(ctx, func(tx store.Tx) error {
			var err error
			if expired, err = tx.ExpireClaims(ctx, ids, cutoff); err != nil {
				return err
			}
			if len(expired) == 0 {
				return nil
			}
			tasks, err := tx.GetTasks(ctx, expired)
			if err != nil {
				return err
			}
			history := make([]*models.ReviewHistoryEntry, len(tasks))
			for i, t := range tasks {
				history[i] = expiredEntry(t, now)
			}
			return tx.AppendHistory(ctx, history)
		})
		if err != nil {
			return total, fmt.Errorf("expire claims: %w", err)
		}
		s.Invalidate(ids, nil)
		n := int64(len(expired))
		total += n

		if len(ids) < m.batchSize || n == 0 {
			return total, nil
		}
	}
}

// expiredEntry mirrors the entry a manual Unnecessary transition writes.
// No actor is involved, so the reviewer of record is kept.
func expiredEntry(t *models.Task, now time.Time) *models.ReviewHistoryEntry {
	return &models.ReviewHistoryEntry{
		TaskID:           t.ID,
		RequestedBy:      copyID(t.Review.ReviewRequestedBy),
		ReviewedBy:       copyID(t.Review.ReviewedBy),
		MetaReviewedBy:   copyID(t.Review.MetaReviewedBy),
		ReviewStatus:     models.ReviewStatusUnnecessary,
		MetaReviewStatus: models.MetaReviewStatusNone,
		Comment:          ExpiredComment,
		ReviewedAt:       now,
	}
}

func taskIDs(tasks []*models.Task) []int64 {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
