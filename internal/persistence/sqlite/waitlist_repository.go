package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/training-booking/internal/persistence"
)

// WaitlistRepository implements persistence.WaitlistRepository using SQLite
type WaitlistRepository struct {
	repository
}

// NewWaitlistRepository creates a new SQLite waitlist repository
func NewWaitlistRepository(pool *ConnectionPool) *WaitlistRepository {
	return &WaitlistRepository{repository: newRepository(pool)}
}

const waitlistColumns = `id, course_id, session_id, student_id, student_name, student_email, position, status, offer_expires_at, version, created_at, updated_at`

// AddWaitlistEntry inserts a new waitlist entry
func (r *WaitlistRepository) AddWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	if entry.ID == "" || entry.CourseID == "" || entry.Position < 1 {
		return persistence.ErrConstraintViolation
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO waitlist_entries (`+waitlistColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.CourseID, entry.SessionID, entry.StudentID, entry.StudentName, entry.StudentEmail,
			entry.Position, entry.Status, nullTime(entry.OfferExpiresAt), entry.Version,
			formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// GetWaitlistEntry retrieves a waitlist entry by ID
func (r *WaitlistRepository) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = ?`, id)
	entry, err := scanWaitlistEntry(row)
	if err != nil {
		return persistence.WaitlistEntry{}, r.mapper.MapError(err)
	}
	return entry, nil
}

// ListWaitlist returns entries matching filter ordered by course and position
func (r *WaitlistRepository) ListWaitlist(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.CourseID != "" {
		conditions = append(conditions, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.OfferExpiresBefore != nil {
		conditions = append(conditions, "offer_expires_at IS NOT NULL AND offer_expires_at <= ?")
		args = append(args, formatTime(*filter.OfferExpiresBefore))
	}

	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY course_id, position"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	entries := make([]persistence.WaitlistEntry, 0)
	for rows.Next() {
		entry, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateWaitlistEntry replaces an entry after a version check
func (r *WaitlistRepository) UpdateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry, expectedVersion int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE waitlist_entries SET
				session_id = ?, student_name = ?, student_email = ?, status = ?,
				offer_expires_at = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ? AND course_id = ? AND position = ?`,
			entry.SessionID, entry.StudentName, entry.StudentEmail, entry.Status,
			nullTime(entry.OfferExpiresAt), expectedVersion+1, formatTime(entry.UpdatedAt),
			entry.ID, expectedVersion, entry.CourseID, entry.Position,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return missingOrStale(ctx, tx, "waitlist_entries", entry.ID)
		}
		return nil
	})
}

// DeleteWaitlistEntry removes a waitlist entry
func (r *WaitlistRepository) DeleteWaitlistEntry(ctx context.Context, id string) error {
	return r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = ?`, id)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

func scanWaitlistEntry(row rowScanner) (persistence.WaitlistEntry, error) {
	var (
		entry                persistence.WaitlistEntry
		offerExpiresAt       sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&entry.ID, &entry.CourseID, &entry.SessionID, &entry.StudentID, &entry.StudentName, &entry.StudentEmail,
		&entry.Position, &entry.Status, &offerExpiresAt, &entry.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.WaitlistEntry{}, persistence.ErrNotFound
		}
		return persistence.WaitlistEntry{}, err
	}
	if entry.OfferExpiresAt, err = parseNullTime(offerExpiresAt); err != nil {
		return persistence.WaitlistEntry{}, fmt.Errorf("failed to parse offer_expires_at: %w", err)
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.WaitlistEntry{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.WaitlistEntry{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return entry, nil
}
