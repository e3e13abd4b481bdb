package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/training-booking/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository using SQLite
type SessionRepository struct {
	repository
}

// NewSessionRepository creates a new SQLite session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{repository: newRepository(pool)}
}

const sessionColumns = `id, course_id, schedule_id, location_id, instructor_id, session_date, start_time, end_time, max_capacity, current_enrollment, status, version, created_at, updated_at`

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	return session, nil
}

// ListSessions returns sessions matching filter ordered by date, start time and ID
func (r *SessionRepository) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}
	add("course_id", filter.CourseID)
	add("schedule_id", filter.ScheduleID)
	add("location_id", filter.LocationID)
	add("instructor_id", filter.InstructorID)
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.DateFrom != "" {
		conditions = append(conditions, "session_date >= ?")
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		conditions = append(conditions, "session_date <= ?")
		args = append(args, filter.DateTo)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY session_date, start_time, id"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	sessions := make([]persistence.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus applies a version-checked status change
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id, status string, expectedVersion int64, updatedAt time.Time) (persistence.Session, error) {
	var updated persistence.Session
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
			status, formatTime(updatedAt), id, expectedVersion)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return missingOrStale(ctx, tx, "sessions", id)
		}

		updated, err = scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return updated, nil
}

// missingOrStale distinguishes a missing row from a failed version check
func missingOrStale(ctx context.Context, tx *sql.Tx, table, id string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return persistence.ErrNotFound
	}
	if err != nil {
		return err
	}
	return persistence.ErrVersionConflict
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var (
		session              persistence.Session
		createdAt, updatedAt string
	)
	err := row.Scan(&session.ID, &session.CourseID, &session.ScheduleID, &session.LocationID, &session.InstructorID,
		&session.Date, &session.StartTime, &session.EndTime, &session.MaxCapacity, &session.CurrentEnrollment,
		&session.Status, &session.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Session{}, persistence.ErrNotFound
		}
		return persistence.Session{}, err
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return session, nil
}
