package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/taskreview/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteTimeLayout is the prefix of stored DATETIME values used for comparisons.
const sqliteTimeLayout = "2006-01-02 15:04:05"

const taskColumns = `id, parent_id, name, bundle_id, is_bundle_primary, mapped_on,
	review_status, review_requested_by, reviewed_by, reviewed_at, review_started_at, additional_reviewers,
	review_claimed_by, review_claimed_at, review_last_claimed_by, meta_review_status, meta_reviewed_by, meta_reviewed_at,
	created_at, updated_at`

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes transactions, so a claim's read and conditional update can
	// never interleave with another reviewer's.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes from other processes wait instead of failing
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Invalidate is a no-op; SQLiteStore always reads through to the database.
func (s *SQLiteStore) Invalidate(_ []int64, _ []int64) {}

// InTx runs fn inside a single transaction, committing only if fn succeeds.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// inClause returns "?, ?, ?" and the ids as query args.
func inClause(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// utc strips location and monotonic readings so stored values compare as text.
func utc(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := p.UTC()
	return &v
}

func nullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// --- Tasks ---

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var bundleID, requestedBy, reviewedBy, claimedBy, lastClaimedBy, metaReviewedBy sql.NullInt64
	var mappedOn, reviewedAt, startedAt, claimedAt, metaReviewedAt sql.NullTime
	var reviewStatus, metaStatus, additional string

	if err := row.Scan(&t.ID, &t.ParentID, &t.Name, &bundleID, &t.IsBundlePrimary, &mappedOn,
		&reviewStatus, &requestedBy, &reviewedBy, &reviewedAt, &startedAt, &additional,
		&claimedBy, &claimedAt, &lastClaimedBy, &metaStatus, &metaReviewedBy, &metaReviewedAt,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	t.BundleID = nullInt(bundleID)
	t.MappedOn = nullTime(mappedOn)
	t.Review = models.ReviewRecord{
		ReviewStatus:      models.ReviewStatus(reviewStatus),
		ReviewRequestedBy: nullInt(requestedBy),
		ReviewedBy:        nullInt(reviewedBy),
		ReviewedAt:        nullTime(reviewedAt),
		ReviewStartedAt:   nullTime(startedAt),
		ReviewClaimedBy:   nullInt(claimedBy),
		ReviewClaimedAt:   nullTime(claimedAt),
		LastClaimedBy:     nullInt(lastClaimedBy),
		MetaReviewStatus:  models.MetaReviewStatus(metaStatus),
		MetaReviewedBy:    nullInt(metaReviewedBy),
		MetaReviewedAt:    nullTime(metaReviewedAt),
	}
	if err := json.Unmarshal([]byte(additional), &t.Review.AdditionalReviewers); err != nil {
		return nil, fmt.Errorf("decode additional reviewers: %w", err)
	}
	return t, nil
}

func getTask(ctx context.Context, q querier, id int64) (*models.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// getTasks returns the tasks in the order of ids, failing if any is missing.
func getTasks(ctx context.Context, q querier, ids []int64) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	rows, err := q.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id IN ("+in+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]*models.Task, len(ids))
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	additional, err := json.Marshal(t.Review.AdditionalReviewers)
	if err != nil || t.Review.AdditionalReviewers == nil {
		additional = []byte("[]")
	}

	var id any
	if t.ID != 0 {
		id = t.ID
	}
	r := t.Review
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, parent_id, name, bundle_id, is_bundle_primary, mapped_on,
		review_status, review_requested_by, reviewed_by, reviewed_at, review_started_at, additional_reviewers,
		review_claimed_by, review_claimed_at, review_last_claimed_by, meta_review_status, meta_reviewed_by, meta_reviewed_at,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.ParentID, t.Name, t.BundleID, t.IsBundlePrimary, utc(t.MappedOn),
		string(r.ReviewStatus), r.ReviewRequestedBy, r.ReviewedBy, utc(r.ReviewedAt), utc(r.ReviewStartedAt), string(additional),
		r.ReviewClaimedBy, utc(r.ReviewClaimedAt), r.LastClaimedBy, string(r.MetaReviewStatus), r.MetaReviewedBy, utc(r.MetaReviewedAt),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if t.ID == 0 {
		if t.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	return getTask(ctx, s.db, id)
}

// --- Bundles ---

func getBundle(ctx context.Context, q querier, id int64) (*models.TaskBundle, error) {
	b := &models.TaskBundle{}
	err := q.QueryRowContext(ctx,
		"SELECT id, owner_id, name, created_at FROM task_bundles WHERE id = ?", id,
	).Scan(&b.ID, &b.OwnerID, &b.Name, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bundle %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bundle: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT id, is_bundle_primary FROM tasks WHERE bundle_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("list bundle tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var taskID int64
		var primary bool
		if err := rows.Scan(&taskID, &primary); err != nil {
			return nil, fmt.Errorf("scan bundle task: %w", err)
		}
		b.TaskIDs = append(b.TaskIDs, taskID)
		if primary {
			b.PrimaryTaskID = models.IDPtr(taskID)
		}
	}
	return b, rows.Err()
}

// CreateBundle inserts the bundle and attaches its member tasks in one transaction.
func (s *SQLiteStore) CreateBundle(ctx context.Context, b *models.TaskBundle) error {
	if len(b.TaskIDs) == 0 {
		return fmt.Errorf("create bundle: no tasks")
	}
	if b.PrimaryTaskID != nil && !containsID(b.TaskIDs, *b.PrimaryTaskID) {
		return fmt.Errorf("create bundle: primary task %d is not a member", *b.PrimaryTaskID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b.CreatedAt = time.Now().UTC()
	var id any
	if b.ID != 0 {
		id = b.ID
	}
	result, err := tx.ExecContext(ctx,
		"INSERT INTO task_bundles (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)",
		id, b.OwnerID, b.Name, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	if b.ID == 0 {
		if b.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("create bundle: %w", err)
		}
	}

	var primary int64
	if b.PrimaryTaskID != nil {
		primary = *b.PrimaryTaskID
	}
	in, args := inClause(b.TaskIDs)
	args = append([]any{b.ID, primary, time.Now().UTC()}, args...)
	result, err = tx.ExecContext(ctx,
		"UPDATE tasks SET bundle_id = ?, is_bundle_primary = (id = ?), updated_at = ? WHERE bundle_id IS NULL AND id IN ("+in+")",
		args...)
	if err != nil {
		return fmt.Errorf("attach bundle tasks: %w", err)
	}
	if n, _ := result.RowsAffected(); n != int64(len(b.TaskIDs)) {
		return fmt.Errorf("attach bundle tasks: %d of %d tasks missing or already bundled", int64(len(b.TaskIDs))-n, len(b.TaskIDs))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBundle(ctx context.Context, id int64) (*models.TaskBundle, error) {
	return getBundle(ctx, s.db, id)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// --- Review queue ---

// QueryQueue returns up to limit tasks matching filter that are unclaimed or
// claimed by filter.ActorID, positioned after cursor (a task id, 0 = start).
func (s *SQLiteStore) QueryQueue(ctx context.Context, filter QueueFilter, cursor int64, limit int) ([]*models.Task, error) {
	conditions := []string{"(review_claimed_by IS NULL OR review_claimed_by = ?)"}
	args := []any{filter.ActorID}

	// Non-primary bundle members are only reachable through their primary.
	conditions = append(conditions, `(bundle_id IS NULL OR is_bundle_primary = 1
		OR NOT EXISTS (SELECT 1 FROM tasks p WHERE p.bundle_id = tasks.bundle_id AND p.is_bundle_primary = 1))`)

	switch filter.ReviewType {
	case ReviewTypeReviewedByMe:
		conditions = append(conditions, "reviewed_by = ?")
		args = append(args, filter.ActorID)
	case ReviewTypeAllReviewed:
		conditions = append(conditions, "reviewed_by IS NOT NULL")
	case ReviewTypeMetaReview:
		conditions = append(conditions, "meta_review_status = ?", "review_status NOT IN ('', ?, ?)")
		args = append(args, string(models.MetaReviewStatusRequested),
			string(models.ReviewStatusDisputed), string(models.ReviewStatusUnnecessary))
		// A reviewer never meta-reviews their own review.
		conditions = append(conditions, "(reviewed_by IS NULL OR reviewed_by != ?)")
		args = append(args, filter.ActorID)
	default:
		conditions = append(conditions, "review_status IN (?, ?)")
		args = append(args, string(models.ReviewStatusRequested), string(models.ReviewStatusDisputed))
	}

	if filter.ChallengeID != 0 {
		conditions = append(conditions, "parent_id = ?")
		args = append(args, filter.ChallengeID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "review_status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.ExcludeOtherReviewers {
		conditions = append(conditions, "(reviewed_by IS NULL OR reviewed_by = ?)")
		args = append(args, filter.ActorID)
	}
	if !filter.IncludeOwn {
		conditions = append(conditions, "(review_requested_by IS NULL OR review_requested_by != ?)")
		args = append(args, filter.ActorID)
	}

	cmp, dir := ">", "ASC"
	if filter.Descending {
		cmp, dir = "<", "DESC"
	}
	var order string
	switch filter.Sort {
	case QueueSortRequested:
		if cursor > 0 {
			conditions = append(conditions,
				"(COALESCE(mapped_on, ''), id) "+cmp+" ((SELECT COALESCE(mapped_on, '') FROM tasks WHERE id = ?), ?)")
			args = append(args, cursor, cursor)
		}
		order = fmt.Sprintf("COALESCE(mapped_on, '') %s, id %s", dir, dir)
	default:
		if cursor > 0 {
			conditions = append(conditions, "id "+cmp+" ?")
			args = append(args, cursor)
		}
		order = "id " + dir
	}

	query := "SELECT " + taskColumns + " FROM tasks WHERE " + strings.Join(conditions, " AND ") + " ORDER BY " + order
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query review queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListStaleClaims returns ids of still-requested tasks claimed before cutoff.
func (s *SQLiteStore) ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	query := `SELECT id FROM tasks
		WHERE review_status = ? AND review_claimed_at IS NOT NULL
		AND julianday(substr(review_claimed_at, 1, 19)) < julianday(?)
		ORDER BY id`
	args := []any{string(models.ReviewStatusRequested), cutoff.UTC().Format(sqliteTimeLayout)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale claim: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Review history ---

func (s *SQLiteStore) ListHistory(ctx context.Context, taskID int64) ([]*models.ReviewHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, requested_by, reviewed_by, meta_reviewed_by, review_status, meta_review_status, comment, review_started_at, reviewed_at
		FROM task_review_history WHERE task_id = ? ORDER BY reviewed_at DESC, rowid DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list review history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ReviewHistoryEntry
	for rows.Next() {
		h := &models.ReviewHistoryEntry{}
		var requestedBy, reviewedBy, metaReviewedBy sql.NullInt64
		var startedAt sql.NullTime
		var status, metaStatus string
		if err := rows.Scan(&h.ID, &h.TaskID, &requestedBy, &reviewedBy, &metaReviewedBy,
			&status, &metaStatus, &h.Comment, &startedAt, &h.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan review history: %w", err)
		}
		h.RequestedBy = nullInt(requestedBy)
		h.ReviewedBy = nullInt(reviewedBy)
		h.MetaReviewedBy = nullInt(metaReviewedBy)
		h.ReviewStatus = models.ReviewStatus(status)
		h.MetaReviewStatus = models.MetaReviewStatus(metaStatus)
		h.ReviewStartedAt = nullTime(startedAt)
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// --- Transactions ---

// sqliteTx implements Tx over a *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

func (t *sqliteTx) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	return getTask(ctx, t.tx, id)
}

func (t *sqliteTx) GetTasks(ctx context.Context, ids []int64) ([]*models.Task, error) {
	return getTasks(ctx, t.tx, ids)
}

func (t *sqliteTx) GetBundle(ctx context.Context, id int64) (*models.TaskBundle, error) {
	return getBundle(ctx, t.tx, id)
}

func (t *sqliteTx) ClaimTasks(ctx context.Context, ids []int64, actorID int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	args := append([]any{actorID, at.UTC(), actorID, time.Now().UTC()}, idArgs...)
	args = append(args, actorID)
	result, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET review_claimed_by = ?, review_claimed_at = ?, review_last_claimed_by = ?, updated_at = ?
		WHERE id IN (`+in+`) AND (review_claimed_by IS NULL OR review_claimed_by = ?)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("claim tasks: %w", err)
	}
	return result.RowsAffected()
}

func (t *sqliteTx) ReleaseTasks(ctx context.Context, ids []int64, actorID int64, force bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	args := append([]any{time.Now().UTC()}, idArgs...)
	query := `UPDATE tasks SET review_claimed_by = NULL, review_claimed_at = NULL, updated_at = ?
		WHERE id IN (` + in + `)`
	if force {
		query += " AND review_claimed_by IS NOT NULL"
	} else {
		query += " AND review_claimed_by = ?"
		args = append(args, actorID)
	}
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("release tasks: %w", err)
	}
	return result.RowsAffected()
}

func (t *sqliteTx) ExpireClaims(ctx context.Context, ids []int64, cutoff time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, idArgs := inClause(ids)
	args := append([]any{string(models.ReviewStatusUnnecessary), string(models.MetaReviewStatusNone), time.Now().UTC()}, idArgs...)
	args = append(args, string(models.ReviewStatusRequested), cutoff.UTC().Format(sqliteTimeLayout))
	// Conditions are re-checked so a claim refreshed since listing survives.
	rows, err := t.tx.QueryContext(ctx,
		`UPDATE tasks SET review_status = ?, meta_review_status = ?, review_started_at = NULL,
		review_claimed_by = NULL, review_claimed_at = NULL, updated_at = ?
		WHERE id IN (`+in+`) AND review_status = ? AND review_claimed_at IS NOT NULL
		AND julianday(substr(review_claimed_at, 1, 19)) < julianday(?)
		RETURNING id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("expire claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var expired []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired claim: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire claims: %w", err)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	return expired, nil
}

func (t *sqliteTx) SaveReviewRecords(ctx context.Context, tasks []*models.Task) error {
	now := time.Now().UTC()
	for _, task := range tasks {
		r := task.Review
		additional, err := json.Marshal(r.AdditionalReviewers)
		if err != nil || r.AdditionalReviewers == nil {
			additional = []byte("[]")
		}
		task.UpdatedAt = now
		result, err := t.tx.ExecContext(ctx,
			`UPDATE tasks SET review_status=?, review_requested_by=?, reviewed_by=?, reviewed_at=?, review_started_at=?,
			additional_reviewers=?, review_claimed_by=?, review_claimed_at=?, review_last_claimed_by=?, meta_review_status=?,
			meta_reviewed_by=?, meta_reviewed_at=?, updated_at=? WHERE id=?`,
			string(r.ReviewStatus), r.ReviewRequestedBy, r.ReviewedBy, utc(r.ReviewedAt), utc(r.ReviewStartedAt),
			string(additional), r.ReviewClaimedBy, utc(r.ReviewClaimedAt), r.LastClaimedBy, string(r.MetaReviewStatus), r.MetaReviewedBy,
			utc(r.MetaReviewedAt), task.UpdatedAt, task.ID,
		)
		if err != nil {
			return fmt.Errorf("save review record: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %d: %w", task.ID, ErrNotFound)
		}
	}
	return nil
}

func (t *sqliteTx) AppendHistory(ctx context.Context, entries []*models.ReviewHistoryEntry) error {
	for _, h := range entries {
		if h.ID == "" {
			h.ID = newULID()
		}
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO task_review_history (id, task_id, requested_by, reviewed_by, meta_reviewed_by, review_status, meta_review_status, comment, review_started_at, reviewed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.TaskID, h.RequestedBy, h.ReviewedBy, h.MetaReviewedBy,
			string(h.ReviewStatus), string(h.MetaReviewStatus), h.Comment, utc(h.ReviewStartedAt), h.ReviewedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append review history: %w", err)
		}
	}
	return nil
}
