package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/taskreview/internal/models"
	"github.com/joescharf/taskreview/internal/store"
)

// Authorizer answers capability questions about users.
type Authorizer interface {
	IsReviewer(ctx context.Context, userID int64) (bool, error)
	IsSuperUser(ctx context.Context, userID int64) (bool, error)
	HasWriteAccess(ctx context.Context, userID, challengeID int64) (bool, error)
}

// ScoringSink applies score deltas. Implementations must only issue
// commutative increments.
type ScoringSink interface {
	ApplyDelta(ctx context.Context, d ScoreDelta) error
}

// NotificationSink delivers notification intents.
type NotificationSink interface {
	Emit(ctx context.Context, n NotificationIntent) error
}

// AchievementSink re-evaluates a user's achievements.
type AchievementSink interface {
	Check(ctx context.Context, intent AchievementCheckIntent) error
}

// Recorder observes workflow outcomes.
type Recorder interface {
	Transition(kind, status string)
	ClaimConflict()
	ClaimsExpired(n int64)
	ClaimDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, string)   {}
func (nopRecorder) ClaimConflict()              {}
func (nopRecorder) ClaimsExpired(int64)         {}
func (nopRecorder) ClaimDuration(time.Duration) {}

// Option configures a Workflow.
type Option func(*Workflow)

// WithAuthorizer overrides the store as the source of capabilities.
func WithAuthorizer(a Authorizer) Option { return func(w *Workflow) { w.auth = a } }

func WithScoring(s ScoringSink) Option          { return func(w *Workflow) { w.scoring = s } }
func WithNotifier(n NotificationSink) Option    { return func(w *Workflow) { w.notifier = n } }
func WithAchievements(a AchievementSink) Option { return func(w *Workflow) { w.achievements = a } }
func WithMetrics(r Recorder) Option             { return func(w *Workflow) { w.metrics = r } }
func WithLogger(l *slog.Logger) Option          { return func(w *Workflow) { w.log = l } }
func WithClock(now func() time.Time) Option     { return func(w *Workflow) { w.now = now } }

// Workflow is the entry point for every review operation. Each operation
// runs in one store transaction; side effects are dispatched after commit.
type Workflow struct {
	store        store.Store
	auth         Authorizer
	scoring      ScoringSink
	notifier     NotificationSink
	achievements AchievementSink
	metrics      Recorder
	log          *slog.Logger
	now          func() time.Time
	cfg          Config

	claims  *ClaimManager
	bundles BundlePropagator
}

// NewWorkflow creates a workflow over s. The store doubles as the Authorizer
// unless WithAuthorizer is given.
func NewWorkflow(s store.Store, cfg Config, opts ...Option) *Workflow {
	w := &Workflow{
		store:   s,
		auth:    s,
		metrics: nopRecorder{},
		log:     slog.Default(),
		now:     time.Now,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.claims = NewClaimManager(w.now, cfg.SweepBatchSize)
	return w
}

type label string

func (l label) String() string { return string(l) }

// --- Claims ---

// StartReview claims the task, and its whole bundle, for actor.
func (w *Workflow) StartReview(ctx context.Context, actor models.Actor, taskID int64) (*models.Task, error) {
	caps, err := w.capabilities(ctx, actor, nil)
	if err != nil {
		return nil, err
	}
	if !caps.CanReview() {
		return nil, denied("reviewer capability required to review task %d", taskID)
	}

	var targets *Targets
	err = w.store.InTx(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		r := task.Review
		if r.ReviewStatus == models.ReviewStatusNone && r.MetaReviewStatus != models.MetaReviewStatusRequested {
			return invalid(taskID, r.ReviewStatus, label("claimed"), "review has not been requested")
		}

		targets, err = w.bundles.ResolveTargets(ctx, tx, task, true)
		if err != nil {
			return err
		}
		if err := w.claims.Acquire(ctx, tx, targets.Tasks, actor); err != nil {
			return err
		}
		return w.bundles.CheckClaims(targets.Tasks)
	})
	if err != nil {
		return nil, w.fail(err)
	}

	w.store.Invalidate(targets.IDs(), targets.BundleIDs())
	w.log.Info("review started", "task_id", taskID, "actor", actor.ID, "tasks", len(targets.Tasks))
	return targets.Representative(), nil
}

// CancelReview releases actor's claim on the task and its bundle. Releasing
// an unclaimed task is a no-op; super users may release anyone's claim.
func (w *Workflow) CancelReview(ctx context.Context, actor models.Actor, taskID int64) (*models.Task, error) {
	caps, err := w.capabilities(ctx, actor, nil)
	if err != nil {
		return nil, err
	}

	var targets *Targets
	var released bool
	err = w.store.InTx(ctx, func(tx store.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		targets, err = w.bundles.ResolveTargets(ctx, tx, task, true)
		if err != nil {
			return err
		}
		released, err = w.claims.Release(ctx, tx, targets.Tasks, actor, caps.IsSuperUser)
		return err
	})
	if err != nil {
		return nil, w.fail(err)
	}

	if released {
		w.store.Invalidate(targets.IDs(), targets.BundleIDs())
		w.log.Info("review cancelled", "task_id", taskID, "actor", actor.ID)
	}
	return targets.Representative(), nil
}

// --- Queue ---

// NextReviewable returns the first task after cursor matching filter that
// is unclaimed or claimed by actor, or nil when the queue is exhausted.
// cursor is the last task id the caller has seen; zero starts from the top.
func (w *Workflow) NextReviewable(ctx context.Context, actor models.Actor, filter store.QueueFilter, cursor int64) (*models.Task, error) {
	caps, err := w.capabilities(ctx, actor, nil)
	if err != nil {
		return nil, err
	}
	if !caps.CanReview() {
		return nil, denied("reviewer capability required to browse the review queue")
	}

	filter.ActorID = actor.ID
	tasks, err := w.store.QueryQueue(ctx, filter, cursor, w.cfg.QueueLimit)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return tasks[0], nil
}

// ClaimNext walks the queue from cursor and claims the first task nobody
// else grabbed in the meantime. It returns nil when the queue is exhausted.
func (w *Workflow) ClaimNext(ctx context.Context, actor models.Actor, filter store.QueueFilter, cursor int64) (*models.Task, error) {
	for {
		next, err := w.NextReviewable(ctx, actor, filter, cursor)
		if err != nil || next == nil {
			return nil, err
		}
		task, err := w.StartReview(ctx, actor, next.ID)
		if errors.Is(err, ErrClaimConflict) {
			cursor = next.ID
			continue
		}
		return task, err
	}
}

// --- Status changes ---

// SetReviewStatus moves the task, and its bundle, to status.
func (w *Workflow) SetReviewStatus(ctx context.Context, actor models.Actor, taskID int64, status models.ReviewStatus, comment string) (*models.Task, error) {
	return w.apply(ctx, actor, taskID, Change{Status: status, Comment: comment}, "review", Transition)
}

// DisputeReview re-requests review on behalf of a mapper who contests the
// current review. A task already awaiting review becomes Disputed.
func (w *Workflow) DisputeReview(ctx context.Context, actor models.Actor, taskID int64, comment string) (*models.Task, error) {
	change := Change{Status: models.ReviewStatusRequested, Disputed: true, Comment: comment}
	return w.apply(ctx, actor, taskID, change, "review", Transition)
}

// SetMetaReviewStatus moves the task's meta-review, and its bundle's, to status.
func (w *Workflow) SetMetaReviewStatus(ctx context.Context, actor models.Actor, taskID int64, status models.MetaReviewStatus, comment string) (*models.Task, error) {
	return w.apply(ctx, actor, taskID, Change{Meta: status, Comment: comment}, "meta", TransitionMeta)
}

func (w *Workflow) apply(ctx context.Context, actor models.Actor, taskID int64, change Change, kind string,
	transition func(models.ReviewRecord, Change) (Result, error)) (*models.Task, error) {
	// 1. Authorize against the task's challenge
	task, err := w.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	caps, err := w.capabilities(ctx, actor, task)
	if err != nil {
		return nil, err
	}
	change.Actor = actor
	change.Caps = caps
	change.Now = w.now().UTC()

	var targets *Targets
	var applied []Applied
	err = w.store.InTx(ctx, func(tx store.Tx) error {
		// 2. Re-read inside the transaction and resolve the bundle
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		targets, err = w.bundles.ResolveTargets(ctx, tx, task, false)
		if err != nil {
			return err
		}

		// 3. Transition every member
		applied, err = w.bundles.ApplyAcrossBundle(targets, func(t *models.Task) (Result, error) {
			c := change
			c.TaskID = t.ID
			return transition(t.Review, c)
		})
		if err != nil {
			return err
		}

		// 4. Persist records and history together
		var changed []*models.Task
		var history []*models.ReviewHistoryEntry
		for _, a := range applied {
			if a.Result.NoOp {
				continue
			}
			a.Task.Review = a.Result.Record
			changed = append(changed, a.Task)
			if h := a.Result.Effects.History; h != nil {
				history = append(history, h)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		if err := tx.SaveReviewRecords(ctx, changed); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, history)
	})
	if err != nil {
		return nil, w.fail(err)
	}

	// 5. Invalidate and dispatch side effects
	w.store.Invalidate(targets.IDs(), targets.BundleIDs())
	w.dispatch(ctx, kind, applied)
	return targets.Representative(), nil
}

// dispatch runs post-commit side effects. Failures are logged; the
// transition has already been committed.
func (w *Workflow) dispatch(ctx context.Context, kind string, applied []Applied) {
	for _, a := range applied {
		if a.Result.NoOp {
			continue
		}
		eff := a.Result.Effects
		if h := eff.History; h != nil {
			status := h.ReviewStatus.String()
			if kind == "meta" {
				status = h.MetaReviewStatus.String()
			}
			w.metrics.Transition(kind, status)
			if h.ReviewStartedAt != nil {
				w.metrics.ClaimDuration(h.ClaimDuration())
			}
			w.log.Info("review status changed", "task_id", a.Task.ID, "kind", kind, "status", status)
		}

		if w.scoring != nil {
			for _, d := range eff.Scores {
				if err := w.scoring.ApplyDelta(ctx, d); err != nil {
					w.log.Warn("apply score delta failed", "task_id", a.Task.ID, "actor", d.ActorID, "error", err)
				}
			}
		}
		if n := eff.Notification; n != nil && w.notifier != nil {
			n.ID = ulid.Make().String()
			if err := w.notifier.Emit(ctx, *n); err != nil {
				w.log.Warn("emit notification failed", "task_id", a.Task.ID, "kind", n.Kind, "error", err)
			}
		}
		if ach := eff.Achievement; ach != nil && w.achievements != nil {
			if err := w.achievements.Check(ctx, *ach); err != nil {
				w.log.Warn("achievement check failed", "task_id", a.Task.ID, "actor", ach.ActorID, "error", err)
			}
		}
	}
}

// --- History & maintenance ---

// ReviewHistory returns the task's history, newest first.
func (w *Workflow) ReviewHistory(ctx context.Context, taskID int64) ([]*models.ReviewHistoryEntry, error) {
	if _, err := w.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return w.store.ListHistory(ctx, taskID)
}

// ExpireStale demotes requested tasks whose claim is older than olderThan
// to Unnecessary. A non-positive olderThan uses the configured claim expiry.
func (w *Workflow) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = w.cfg.ClaimExpiry
	}
	n, err := w.claims.ExpireStale(ctx, w.store, olderThan)
	if n > 0 {
		w.metrics.ClaimsExpired(n)
	}
	if err != nil {
		return n, err
	}
	w.log.Info("expired stale review claims", "count", n, "older_than", olderThan)
	return n, nil
}

// capabilities looks up actor's capabilities. Write access is only checked
// when task is given. Must not be called inside a store transaction.
func (w *Workflow) capabilities(ctx context.Context, actor models.Actor, task *models.Task) (Capabilities, error) {
	var caps Capabilities
	var err error
	if caps.IsReviewer, err = w.auth.IsReviewer(ctx, actor.ID); err != nil {
		return caps, fmt.Errorf("check reviewer: %w", err)
	}
	if caps.IsSuperUser, err = w.auth.IsSuperUser(ctx, actor.ID); err != nil {
		return caps, fmt.Errorf("check super user: %w", err)
	}
	if task != nil {
		if caps.HasWriteAccess, err = w.auth.HasWriteAccess(ctx, actor.ID, task.ParentID); err != nil {
			return caps, fmt.Errorf("check write access: %w", err)
		}
	}
	return caps, nil
}

func (w *Workflow) fail(err error) error {
	if errors.Is(err, ErrClaimConflict) {
		w.metrics.ClaimConflict()
	}
	return err
}
