package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/taskreview/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

// createTask inserts a task in the given review status, requested by mapper 100.
func createTask(t *testing.T, s Store, parentID int64, status models.ReviewStatus) *models.Task {
	t.Helper()
	task := &models.Task{ParentID: parentID, Name: "task"}
	if status != models.ReviewStatusNone {
		task.Review.ReviewStatus = status
		task.Review.ReviewRequestedBy = models.IDPtr(100)
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Tasks ---

func TestTaskCreateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mapped := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &models.Task{ParentID: 7, Name: "fix road", MappedOn: &mapped}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ParentID)
	assert.Equal(t, "fix road", got.Name)
	assert.Equal(t, models.ReviewStatusNone, got.Review.ReviewStatus)
	assert.Nil(t, got.Review.ReviewClaimedBy)
	assert.Nil(t, got.BundleID)
	require.NotNil(t, got.MappedOn)
	assert.True(t, mapped.Equal(*got.MappedOn))
}

func TestTaskExplicitID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &models.Task{ID: 4242, ParentID: 1}
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, 4242)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), got.ID)
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Bundles ---

func TestBundleCreateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := createTask(t, s, 1, models.ReviewStatusRequested)
	t2 := createTask(t, s, 1, models.ReviewStatusRequested)
	t3 := createTask(t, s, 1, models.ReviewStatusRequested)

	b := &models.TaskBundle{OwnerID: 100, Name: "b", TaskIDs: []int64{t3.ID, t1.ID, t2.ID}, PrimaryTaskID: models.IDPtr(t1.ID)}
	require.NoError(t, s.CreateBundle(ctx, b))
	assert.NotZero(t, b.ID)

	got, err := s.GetBundle(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{t1.ID, t2.ID, t3.ID}, got.TaskIDs)
	require.NotNil(t, got.PrimaryTaskID)
	assert.Equal(t, t1.ID, *got.PrimaryTaskID)

	primary, err := s.GetTask(ctx, t1.ID)
	require.NoError(t, err)
	assert.True(t, primary.IsBundlePrimary)
	require.NotNil(t, primary.BundleID)
	assert.Equal(t, b.ID, *primary.BundleID)

	member, err := s.GetTask(ctx, t2.ID)
	require.NoError(t, err)
	assert.False(t, member.IsBundlePrimary)
}

func TestBundleWithoutPrimary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := createTask(t, s, 1, models.ReviewStatusRequested)
	t2 := createTask(t, s, 1, models.ReviewStatusRequested)

	b := &models.TaskBundle{OwnerID: 100, TaskIDs: []int64{t1.ID, t2.ID}}
	require.NoError(t, s.CreateBundle(ctx, b))

	got, err := s.GetBundle(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PrimaryTaskID)
}

func TestBundleRejectsBundledTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := createTask(t, s, 1, models.ReviewStatusRequested)
	t2 := createTask(t, s, 1, models.ReviewStatusRequested)
	require.NoError(t, s.CreateBundle(ctx, &models.TaskBundle{OwnerID: 1, TaskIDs: []int64{t1.ID, t2.ID}}))

	t3 := createTask(t, s, 1, models.ReviewStatusRequested)
	err := s.CreateBundle(ctx, &models.TaskBundle{OwnerID: 1, TaskIDs: []int64{t2.ID, t3.ID}})
	assert.Error(t, err)

	// The failed bundle rolled back; t3 stays unbundled.
	got, err := s.GetTask(ctx, t3.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BundleID)
}

func TestBundleRejectsForeignPrimary(t *testing.T) {
	s := newTestStore(t)
	t1 := createTask(t, s, 1, models.ReviewStatusRequested)

	err := s.CreateBundle(context.Background(), &models.TaskBundle{TaskIDs: []int64{t1.ID}, PrimaryTaskID: models.IDPtr(t1.ID + 1)})
	assert.Error(t, err)
}

// --- Claims ---

func TestClaimTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, s, 1, models.ReviewStatusRequested)
	now := time.Now().UTC()

	err := s.InTx(ctx, func(tx Tx) error {
		n, err := tx.ClaimTasks(ctx, []int64{task.ID}, 1, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Review.ReviewClaimedBy)
	assert.Equal(t, int64(1), *got.Review.ReviewClaimedBy)
	require.NotNil(t, got.Review.ReviewClaimedAt)
	assert.WithinDuration(t, now, *got.Review.ReviewClaimedAt, time.Second)

	// Another actor cannot take the claim; the holder can refresh it.
	err = s.InTx(ctx, func(tx Tx) error {
		n, err := tx.ClaimTasks(ctx, []int64{task.ID}, 2, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = tx.ClaimTasks(ctx, []int64{task.ID}, 1, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

func TestReleaseTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, s, 1, models.ReviewStatusRequested)

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.ClaimTasks(ctx, []int64{task.ID}, 1, time.Now())
		require.NoError(t, err)

		n, err := tx.ReleaseTasks(ctx, []int64{task.ID}, 2, false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "non-holder cannot release")

		n, err = tx.ReleaseTasks(ctx, []int64{task.ID}, 2, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "forced release clears any claim")
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Review.ReviewClaimedBy)
	assert.Nil(t, got.Review.ReviewClaimedAt)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, s, 1, models.ReviewStatusRequested)

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.ClaimTasks(ctx, []int64{task.ID}, 1, time.Now())
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Review.ReviewClaimedBy)
}

// --- Stale claims ---

func TestStaleClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	stale := &models.Task{ParentID: 1, Name: "task"}
	stale.Review = models.ReviewRecord{
		ReviewStatus:      models.ReviewStatusRequested,
		ReviewRequestedBy: models.IDPtr(100),
		ReviewedBy:        models.IDPtr(2),
		ReviewStartedAt:   &old,
		MetaReviewStatus:  models.MetaReviewStatusRequested,
	}
	require.NoError(t, s.CreateTask(ctx, stale))
	decided := createTask(t, s, 1, models.ReviewStatusApproved)
	fresh := createTask(t, s, 1, models.ReviewStatusRequested)

	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.ClaimTasks(ctx, []int64{stale.ID, decided.ID}, 1, old); err != nil {
			return err
		}
		_, err := tx.ClaimTasks(ctx, []int64{fresh.ID}, 1, time.Now())
		return err
	})
	require.NoError(t, err)

	cutoff := time.Now().Add(-24 * time.Hour)
	ids, err := s.ListStaleClaims(ctx, cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{stale.ID}, ids)

	err = s.InTx(ctx, func(tx Tx) error {
		// decided is not requested and fresh is not old: both are filtered again.
		expired, err := tx.ExpireClaims(ctx, []int64{stale.ID, decided.ID, fresh.ID}, cutoff)
		require.NoError(t, err)
		assert.Equal(t, []int64{stale.ID}, expired)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusUnnecessary, got.Review.ReviewStatus)
	assert.Equal(t, models.MetaReviewStatusNone, got.Review.MetaReviewStatus)
	assert.Nil(t, got.Review.ReviewClaimedBy)
	assert.Nil(t, got.Review.ReviewStartedAt)
	assert.Equal(t, models.IDPtr(2), got.Review.ReviewedBy)

	got, err = s.GetTask(ctx, decided.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, got.Review.ReviewStatus)
	assert.NotNil(t, got.Review.ReviewClaimedBy)
}

func TestGetTask_CorruptAdditionalReviewers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, s, 1, models.ReviewStatusApproved)

	_, err := s.db.ExecContext(ctx, "UPDATE tasks SET additional_reviewers = 'not json' WHERE id = ?", task.ID)
	require.NoError(t, err)

	_, err = s.GetTask(ctx, task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode additional reviewers")
}

// --- Review records & history ---

func TestSaveReviewRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, s, 1, models.ReviewStatusRequested)

	reviewedAt := time.Now()
	task.Review.ReviewStatus = models.ReviewStatusApproved
	task.Review.ReviewedBy = models.IDPtr(5)
	task.Review.ReviewedAt = &reviewedAt
	task.Review.AdditionalReviewers = []int64{8, 9}
	task.Review.MetaReviewStatus = models.MetaReviewStatusRequested

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.SaveReviewRecords(ctx, []*models.Task{task})
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusApproved, got.Review.ReviewStatus)
	assert.Equal(t, int64(5), *got.Review.ReviewedBy)
	assert.Equal(t, int64(100), *got.Review.ReviewRequestedBy)
	assert.Equal(t, []int64{8, 9}, got.Review.AdditionalReviewers)
	assert.Equal(t, models.MetaReviewStatusRequested, got.Review.MetaReviewStatus)
	require.NotNil(t, got.Review.ReviewedAt)
	assert.WithinDuration(t, reviewedAt, *got.Review.ReviewedAt, time.Second)
}

func TestSaveReviewRecords_MissingTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.SaveReviewRecords(ctx, []*models.Task{{ID: 404}})
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, s, 1, models.ReviewStatusRequested)

	base := time.Now().UTC()
	started := base.Add(-5 * time.Minute)
	err := s.InTx(ctx, func(tx Tx) error {
		return tx.AppendHistory(ctx, []*models.ReviewHistoryEntry{
			{TaskID: task.ID, RequestedBy: models.IDPtr(100), ReviewedBy: models.IDPtr(5),
				ReviewStatus: models.ReviewStatusRejected, ReviewStartedAt: &started, ReviewedAt: base, Comment: "missing tags"},
			{TaskID: task.ID, RequestedBy: models.IDPtr(100), ReviewedBy: models.IDPtr(5),
				ReviewStatus: models.ReviewStatusApproved, ReviewedAt: base.Add(time.Hour)},
		})
	})
	require.NoError(t, err)

	entries, err := s.ListHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first
	assert.Equal(t, models.ReviewStatusApproved, entries[0].ReviewStatus)
	assert.Equal(t, models.ReviewStatusRejected, entries[1].ReviewStatus)
	assert.Equal(t, "missing tags", entries[1].Comment)
	assert.NotEmpty(t, entries[1].ID)
	assert.Equal(t, 5*time.Minute, entries[1].ClaimDuration().Round(time.Second))
	assert.Zero(t, entries[0].ClaimDuration())
}

// --- Review queue ---

func TestQueryQueue_ToBeReviewed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := createTask(t, s, 1, models.ReviewStatusRequested)
	t2 := createTask(t, s, 1, models.ReviewStatusDisputed)
	createTask(t, s, 1, models.ReviewStatusApproved)
	createTask(t, s, 1, models.ReviewStatusNone)
	claimed := createTask(t, s, 1, models.ReviewStatusRequested)
	mine := createTask(t, s, 1, models.ReviewStatusRequested)

	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.ClaimTasks(ctx, []int64{claimed.ID}, 2, time.Now()); err != nil {
			return err
		}
		_, err := tx.ClaimTasks(ctx, []int64{mine.ID}, 1, time.Now())
		return err
	})
	require.NoError(t, err)

	tasks, err := s.QueryQueue(ctx, QueueFilter{ActorID: 1}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{t1.ID, t2.ID, mine.ID}, taskIDs(tasks))
}

func TestQueryQueue_Cursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, createTask(t, s, 1, models.ReviewStatusRequested).ID)
	}

	filter := QueueFilter{ActorID: 1}
	page, err := s.QueryQueue(ctx, filter, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], taskIDs(page))

	page, err = s.QueryQueue(ctx, filter, ids[1], 2)
	require.NoError(t, err)
	assert.Equal(t, ids[2:], taskIDs(page))

	filter.Descending = true
	page, err = s.QueryQueue(ctx, filter, ids[2], 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[1], ids[0]}, taskIDs(page))
}

func TestQueryQueue_SortRequested(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []int64
	for _, offset := range []int{3, 1, 2} {
		mapped := base.Add(time.Duration(offset) * time.Hour)
		task := &models.Task{ParentID: 1, MappedOn: &mapped}
		task.Review.ReviewStatus = models.ReviewStatusRequested
		require.NoError(t, s.CreateTask(ctx, task))
		ids = append(ids, task.ID)
	}

	filter := QueueFilter{ActorID: 1, Sort: QueueSortRequested}
	page, err := s.QueryQueue(ctx, filter, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[1], ids[2], ids[0]}, taskIDs(page))

	page, err = s.QueryQueue(ctx, filter, ids[1], 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[2]}, taskIDs(page))
}

func TestQueryQueue_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	other := createTask(t, s, 2, models.ReviewStatusRequested)
	own := &models.Task{ParentID: 1}
	own.Review.ReviewStatus = models.ReviewStatusRequested
	own.Review.ReviewRequestedBy = models.IDPtr(1)
	require.NoError(t, s.CreateTask(ctx, own))

	reviewedByOther := &models.Task{ParentID: 1}
	reviewedByOther.Review.ReviewStatus = models.ReviewStatusRequested
	reviewedByOther.Review.ReviewedBy = models.IDPtr(3)
	require.NoError(t, s.CreateTask(ctx, reviewedByOther))

	tasks, err := s.QueryQueue(ctx, QueueFilter{ActorID: 1, ChallengeID: 1}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{reviewedByOther.ID}, taskIDs(tasks), "own tasks excluded by default")

	tasks, err = s.QueryQueue(ctx, QueueFilter{ActorID: 1, ChallengeID: 1, IncludeOwn: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{own.ID, reviewedByOther.ID}, taskIDs(tasks))

	tasks, err = s.QueryQueue(ctx, QueueFilter{ActorID: 1, ExcludeOtherReviewers: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID}, taskIDs(tasks))

	tasks, err = s.QueryQueue(ctx, QueueFilter{ActorID: 1, Statuses: []models.ReviewStatus{models.ReviewStatusDisputed}}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestQueryQueue_ReviewTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mineDone := &models.Task{ParentID: 1}
	mineDone.Review.ReviewStatus = models.ReviewStatusApproved
	mineDone.Review.ReviewedBy = models.IDPtr(1)
	require.NoError(t, s.CreateTask(ctx, mineDone))

	otherDone := &models.Task{ParentID: 1}
	otherDone.Review.ReviewStatus = models.ReviewStatusRejected
	otherDone.Review.ReviewedBy = models.IDPtr(2)
	otherDone.Review.MetaReviewStatus = models.MetaReviewStatusRequested
	require.NoError(t, s.CreateTask(ctx, otherDone))

	tasks, err := s.QueryQueue(ctx, QueueFilter{ActorID: 1, ReviewType: ReviewTypeReviewedByMe}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{mineDone.ID}, taskIDs(tasks))

	tasks, err = s.QueryQueue(ctx, QueueFilter{ActorID: 1, ReviewType: ReviewTypeAllReviewed}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{mineDone.ID, otherDone.ID}, taskIDs(tasks))

	tasks, err = s.QueryQueue(ctx, QueueFilter{ActorID: 1, ReviewType: ReviewTypeMetaReview}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{otherDone.ID}, taskIDs(tasks))

	// The reviewer of record is never offered their own meta-review.
	tasks, err = s.QueryQueue(ctx, QueueFilter{ActorID: 2, ReviewType: ReviewTypeMetaReview}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestQueryQueue_BundlePrimaryOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1 := createTask(t, s, 1, models.ReviewStatusRequested)
	t2 := createTask(t, s, 1, models.ReviewStatusRequested)
	require.NoError(t, s.CreateBundle(ctx, &models.TaskBundle{TaskIDs: []int64{t1.ID, t2.ID}, PrimaryTaskID: models.IDPtr(t2.ID)}))

	tasks, err := s.QueryQueue(ctx, QueueFilter{ActorID: 1}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{t2.ID}, taskIDs(tasks))
}

func taskIDs(tasks []*models.Task) []int64 {
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// --- Users ---

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reviewer := &models.User{Name: "rita", IsReviewer: true}
	require.NoError(t, s.CreateUser(ctx, reviewer))
	assert.NotZero(t, reviewer.ID)

	admin := &models.User{Name: "root", IsSuperUser: true}
	require.NoError(t, s.CreateUser(ctx, admin))

	mapper := &models.User{Name: "mo"}
	require.NoError(t, s.CreateUser(ctx, mapper))
	require.NoError(t, s.AddChallengeAdmin(ctx, 7, mapper.ID))
	require.NoError(t, s.AddChallengeAdmin(ctx, 7, mapper.ID), "adding twice is harmless")

	got, err := s.GetUserByName(ctx, "rita")
	require.NoError(t, err)
	assert.Equal(t, reviewer.ID, got.ID)
	assert.True(t, got.IsReviewer)

	_, err = s.GetUser(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.IsReviewer(ctx, reviewer.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsReviewer(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok, "unknown users have no capabilities")

	ok, err = s.IsSuperUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasWriteAccess(ctx, mapper.ID, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasWriteAccess(ctx, mapper.ID, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasWriteAccess(ctx, admin.ID, 8)
	require.NoError(t, err)
	assert.True(t, ok, "super users administer every challenge")

	ok, err = s.HasWriteAccess(ctx, reviewer.ID, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- Metrics & achievements ---

func TestUserMetrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.GetUserMetrics(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, m.TotalApproved)

	require.NoError(t, s.IncrementUserMetrics(ctx, 1, map[string]int64{"total_approved": 1, "review_time_ms": 500}))
	require.NoError(t, s.IncrementUserMetrics(ctx, 1, map[string]int64{"total_approved": -1, "total_rejected": 1}))
	require.NoError(t, s.IncrementUserMetrics(ctx, 1, nil))

	m, err = s.GetUserMetrics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.TotalApproved)
	assert.Equal(t, int64(1), m.TotalRejected)
	assert.Equal(t, int64(500), m.ReviewTimeMs)

	err = s.IncrementUserMetrics(ctx, 1, map[string]int64{"bogus; DROP TABLE users": 1})
	assert.Error(t, err)
}

func TestAchievements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	granted, err := s.GrantAchievement(ctx, 1, "first_approval")
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = s.GrantAchievement(ctx, 1, "first_approval")
	require.NoError(t, err)
	assert.False(t, granted)

	list, err := s.ListAchievements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first_approval", list[0].Code)
}
