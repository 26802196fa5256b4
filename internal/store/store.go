package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/taskreview/internal/models"
)

// ErrNotFound is returned when a task, bundle or user does not exist.
var ErrNotFound = errors.New("not found")

// ReviewType selects which slice of the review backlog a queue query covers.
type ReviewType string

const (
	ReviewTypeToBeReviewed ReviewType = "to_be_reviewed"
	ReviewTypeReviewedByMe ReviewType = "reviewed_by_me"
	ReviewTypeAllReviewed  ReviewType = "all_reviewed"
	ReviewTypeMetaReview   ReviewType = "meta_review"
)

// QueueSort is the ordering of a queue query. Ties are broken by task id.
type QueueSort string

const (
	QueueSortID        QueueSort = "id"
	QueueSortRequested QueueSort = "requested"
)

// QueueFilter specifies which tasks a reviewer may be handed next.
type QueueFilter struct {
	ActorID               int64
	ReviewType            ReviewType
	ChallengeID           int64
	Statuses              []models.ReviewStatus
	ExcludeOtherReviewers bool
	IncludeOwn            bool
	Sort                  QueueSort
	Descending            bool
}

// Tx is the transactional view used by a single workflow operation. Every
// read and write of one operation goes through the same Tx so a bundle-wide
// change commits or rolls back as a whole.
type Tx interface {
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error)
	GetBundle(ctx context.Context, id int64) (*models.TaskBundle, error)

	// ClaimTasks claims every row that is unclaimed or already claimed by
	// actorID and returns the number of rows updated.
	ClaimTasks(ctx context.Context, ids []int64, actorID int64, at time.Time) (int64, error)
	// ReleaseTasks clears claims held by actorID, or any claim when force is set.
	ReleaseTasks(ctx context.Context, ids []int64, actorID int64, force bool) (int64, error)
	// ExpireClaims demotes still-requested rows claimed before cutoff to
	// unnecessary, clearing the claim and any meta-review request, and returns
	// the ids it demoted.
	ExpireClaims(ctx context.Context, ids []int64, cutoff time.Time) ([]int64, error)

	SaveReviewRecords(ctx context.Context, tasks []*models.Task) error
	AppendHistory(ctx context.Context, entries []*models.ReviewHistoryEntry) error
}

// Store defines the persistence interface for taskreview.
type Store interface {
	// Tasks and bundles
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	CreateBundle(ctx context.Context, b *models.TaskBundle) error
	GetBundle(ctx context.Context, id int64) (*models.TaskBundle, error)

	// Review queue and sweeping
	QueryQueue(ctx context.Context, filter QueueFilter, cursor int64, limit int) ([]*models.Task, error)
	ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	ListHistory(ctx context.Context, taskID int64) ([]*models.ReviewHistoryEntry, error)

	// Users and capabilities
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	AddChallengeAdmin(ctx context.Context, challengeID, userID int64) error
	IsReviewer(ctx context.Context, userID int64) (bool, error)
	IsSuperUser(ctx context.Context, userID int64) (bool, error)
	HasWriteAccess(ctx context.Context, userID, challengeID int64) (bool, error)

	// Scoring ledger
	IncrementUserMetrics(ctx context.Context, userID int64, deltas map[string]int64) error
	GetUserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error)
	GrantAchievement(ctx context.Context, userID int64, code string) (bool, error)
	ListAchievements(ctx context.Context, userID int64) ([]*models.Achievement, error)

	// Transactions and caching
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Invalidate(taskIDs []int64, bundleIDs []int64)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
