package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joescharf/taskreview/internal/models"
)

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = time.Now().UTC()
	var id any
	if u.ID != 0 {
		id = u.ID
	}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, is_reviewer, is_super_user, created_at) VALUES (?, ?, ?, ?, ?)",
		id, u.Name, u.IsReviewer, u.IsSuperUser, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if u.ID == 0 {
		if u.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	return s.getUser(ctx, "name = ?", name)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, is_reviewer, is_super_user, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Name, &u.IsReviewer, &u.IsSuperUser, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) AddChallengeAdmin(ctx context.Context, challengeID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO challenge_admins (challenge_id, user_id) VALUES (?, ?)", challengeID, userID)
	if err != nil {
		return fmt.Errorf("add challenge admin: %w", err)
	}
	return nil
}

// IsReviewer reports whether the user holds the reviewer capability.
// Unknown users have no capabilities.
func (s *SQLiteStore) IsReviewer(ctx context.Context, userID int64) (bool, error) {
	return s.userFlag(ctx, "is_reviewer", userID)
}

func (s *SQLiteStore) IsSuperUser(ctx context.Context, userID int64) (bool, error) {
	return s.userFlag(ctx, "is_super_user", userID)
}

func (s *SQLiteStore) userFlag(ctx context.Context, column string, userID int64) (bool, error) {
	var v bool
	err := s.db.QueryRowContext(ctx, "SELECT "+column+" FROM users WHERE id = ?", userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read user %s: %w", column, err)
	}
	return v, nil
}

// HasWriteAccess reports whether the user administers the challenge. Super
// users have write access everywhere.
func (s *SQLiteStore) HasWriteAccess(ctx context.Context, userID, challengeID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users u
		WHERE u.id = ? AND (u.is_super_user = 1
			OR EXISTS (SELECT 1 FROM challenge_admins ca WHERE ca.user_id = u.id AND ca.challenge_id = ?))`,
		userID, challengeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check write access: %w", err)
	}
	return count > 0, nil
}

// --- User metrics ---

// metricColumns whitelists the counters IncrementUserMetrics may touch.
var metricColumns = map[string]bool{
	"total_approved":   true,
	"total_rejected":   true,
	"total_assisted":   true,
	"reviews_approved": true,
	"reviews_rejected": true,
	"reviews_assisted": true,
	"reviews_disputed": true,
	"meta_reviews":     true,
	"review_time_ms":   true,
}

// IncrementUserMetrics adds each delta to its counter. Only relative
// updates are issued, so concurrent updates for different users (or the same
// user) commute.
func (s *SQLiteStore) IncrementUserMetrics(ctx context.Context, userID int64, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	cols := make([]string, 0, len(deltas))
	for col := range deltas {
		if !metricColumns[col] {
			return fmt.Errorf("unknown user metric: %s", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO user_metrics (user_id) VALUES (?)", userID); err != nil {
		return fmt.Errorf("init user metrics: %w", err)
	}

	query := "UPDATE user_metrics SET "
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		if i > 0 {
			query += ", "
		}
		query += col + " = " + col + " + ?"
		args = append(args, deltas[col])
	}
	query += " WHERE user_id = ?"
	args = append(args, userID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("increment user metrics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetUserMetrics returns the user's counters, all zero if none were recorded.
func (s *SQLiteStore) GetUserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error) {
	m := &models.UserMetrics{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT total_approved, total_rejected, total_assisted, reviews_approved, reviews_rejected,
		reviews_assisted, reviews_disputed, meta_reviews, review_time_ms
		FROM user_metrics WHERE user_id = ?`, userID,
	).Scan(&m.TotalApproved, &m.TotalRejected, &m.TotalAssisted, &m.ReviewsApproved, &m.ReviewsRejected,
		&m.ReviewsAssisted, &m.ReviewsDisputed, &m.MetaReviews, &m.ReviewTimeMs)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user metrics: %w", err)
	}
	return m, nil
}

// --- Achievements ---

// GrantAchievement records the achievement once and reports whether it is new.
func (s *SQLiteStore) GrantAchievement(ctx context.Context, userID int64, code string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_achievements (user_id, code, granted_at) VALUES (?, ?, ?)",
		userID, code, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("grant achievement: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ListAchievements(ctx context.Context, userID int64) ([]*models.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, code, granted_at FROM user_achievements WHERE user_id = ? ORDER BY granted_at, code", userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var achievements []*models.Achievement
	for rows.Next() {
		a := &models.Achievement{}
		if err := rows.Scan(&a.UserID, &a.Code, &a.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		achievements = append(achievements, a)
	}
	return achievements, rows.Err()
}
