package review

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/store"
)

// Targets is the set of tasks one action applies to.
type Targets struct {
	// Task is the task the action was addressed to.
	Task *models.Task
	// Bundle is nil for an unbundled task.
	Bundle *models.TaskBundle
	// Tasks holds every affected task, in bundle order.
	Tasks []*models.Task
}

// NotifyTaskID returns the task whose side effects are announced, or zero
// when the bundle has no designated primary and announcements are dropped.
func (t *Targets) NotifyTaskID() int64 {
	if t.Bundle == nil {
		return t.Task.ID
	}
	if t.Bundle.PrimaryTaskID == nil {
		return 0
	}
	return *t.Bundle.PrimaryTaskID
}

// Representative returns the task handed back to the caller: the bundle's
// primary when there is one, otherwise the addressed task.
func (t *Targets) Representative() *models.Task {
	if id := t.NotifyTaskID(); id != 0 {
		for _, task := range t.Tasks {
			if task.ID == id {
				return task
			}
		}
	}
	return t.Task
}

// IDs returns the ids of all targeted tasks.
func (t *Targets) IDs() []int64 {
	return taskIDs(t.Tasks)
}

// BundleIDs returns the bundle id as a slice, for cache invalidation.
func (t *Targets) BundleIDs() []int64 {
	if t.Bundle == nil {
		return nil
	}
	return []int64{t.Bundle.ID}
}

// Applied pairs a task with the outcome of its transition.
type Applied struct {
	Task   *models.Task
	Result Result
}

// BundlePropagator resolves bundle membership and de-duplicates side effects.
type BundlePropagator struct{}

// ResolveTargets returns the tasks an action on task applies to. Status
// changes must address the bundle's primary; claims may address any member.
// A bundle without a primary accepts actions through any member.
func (BundlePropagator) ResolveTargets(ctx context.Context, tx store.Tx, task *models.Task, forClaim bool) (*Targets, error) {
	if !task.InBundle() {
		return &Targets{Task: task, Tasks: []*models.Task{task}}, nil
	}

	bundle, err := tx.GetBundle(ctx, *task.BundleID)
	if err != nil {
		return nil, fmt.Errorf("resolve bundle: %w", err)
	}
	if bundle.PrimaryTaskID != nil && !bundle.IsPrimary(task.ID) && !forClaim {
		return nil, &TransitionError{
			TaskID: task.ID,
			From:   task.Review.ReviewStatus.String(),
			To:     "bundle",
			Reason: "bundle actions must go through the primary task",
		}
	}

	tasks, err := tx.GetTasks(ctx, bundle.TaskIDs)
	if err != nil {
		return nil, fmt.Errorf("load bundle tasks: %w", err)
	}
	for i, t := range tasks {
		if t.ID == task.ID {
			tasks[i] = task
		}
	}
	return &Targets{Task: task, Bundle: bundle, Tasks: tasks}, nil
}

// ApplyAcrossBundle runs fn for every target and returns the outcomes. Each
// task keeps its own record and history entry, but notification and
// achievement intents survive only on the task NotifyTaskID names. The first
// error aborts the whole set.
func (BundlePropagator) ApplyAcrossBundle(targets *Targets, fn func(*models.Task) (Result, error)) ([]Applied, error) {
	notifyID := targets.NotifyTaskID()
	applied := make([]Applied, 0, len(targets.Tasks))
	for _, t := range targets.Tasks {
		res, err := fn(t)
		if err != nil {
			return nil, err
		}
		if t.ID != notifyID {
			res.Effects.Notification = nil
			res.Effects.Achievement = nil
		}
		applied = append(applied, Applied{Task: t, Result: res})
	}
	return applied, nil
}

// CheckClaims verifies every task carries the same claim holder and time.
func (BundlePropagator) CheckClaims(tasks []*models.Task) error {
	if len(tasks) < 2 {
		return nil
	}
	first := tasks[0].Review
	for _, t := range tasks[1:] {
		r := t.Review
		if !sameID(r.ReviewClaimedBy, first.ReviewClaimedBy) || !sameTime(r.ReviewClaimedAt, first.ReviewClaimedAt) {
			return fmt.Errorf("bundle claim mismatch between task %d and task %d", tasks[0].ID, t.ID)
		}
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
