package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/training-booking/internal/persistence"
)

// ScheduleRepository implements persistence.ScheduleRepository using SQLite
type ScheduleRepository struct {
	repository
}

// NewScheduleRepository creates a new SQLite schedule repository
func NewScheduleRepository(pool *ConnectionPool) *ScheduleRepository {
	return &ScheduleRepository{repository: newRepository(pool)}
}

const scheduleColumns = `id, course_id, kind, start_date, end_date, start_time, end_time, weekdays, interval_days, session_count, created_at`

// CreateSchedule inserts the schedule and all of its sessions in one transaction
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule persistence.Schedule, sessions []persistence.Session) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			schedule.ID, schedule.CourseID, schedule.Kind, schedule.StartDate, schedule.EndDate,
			schedule.StartTime, schedule.EndTime, joinInts(schedule.Weekdays), schedule.Interval,
			schedule.SessionCount, formatTime(schedule.CreatedAt),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return r.mapper.MapError(err)
		}
		defer stmt.Close()

		for _, session := range sessions {
			if session.ID == "" {
				return persistence.ErrConstraintViolation
			}
			_, err := stmt.ExecContext(ctx,
				session.ID, session.CourseID, session.ScheduleID, session.LocationID, session.InstructorID,
				session.Date, session.StartTime, session.EndTime, session.MaxCapacity, session.CurrentEnrollment,
				session.Status, session.Version, formatTime(session.CreatedAt), formatTime(session.UpdatedAt),
			)
			if err != nil {
				return r.mapper.MapError(err)
			}
		}
		return nil
	})
}

// GetSchedule retrieves a schedule by ID
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if err != nil {
		return persistence.Schedule{}, r.mapper.MapError(err)
	}
	return schedule, nil
}

// ListSchedules returns a course's schedules ordered by creation time
func (r *ScheduleRepository) ListSchedules(ctx context.Context, courseID string) ([]persistence.Schedule, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE course_id = ? ORDER BY created_at, id`, courseID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	schedules := make([]persistence.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (persistence.Schedule, error) {
	var (
		schedule  persistence.Schedule
		weekdays  string
		createdAt string
	)
	err := row.Scan(&schedule.ID, &schedule.CourseID, &schedule.Kind, &schedule.StartDate, &schedule.EndDate,
		&schedule.StartTime, &schedule.EndTime, &weekdays, &schedule.Interval, &schedule.SessionCount, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Schedule{}, persistence.ErrNotFound
		}
		return persistence.Schedule{}, err
	}
	if schedule.Weekdays, err = splitInts(weekdays); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse weekdays: %w", err)
	}
	if schedule.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return schedule, nil
}
