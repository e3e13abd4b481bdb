package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/training-booking/internal/persistence"
)

// CourseRepository implements persistence.CourseRepository using SQLite
type CourseRepository struct {
	repository
}

// NewCourseRepository creates a new SQLite course repository
func NewCourseRepository(pool *ConnectionPool) *CourseRepository {
	return &CourseRepository{repository: newRepository(pool)}
}

const courseColumns = `id, school_id, title, location_id, instructor_id, capacity, location_capacity, price, currency, deleted, created_at, updated_at`

// UpsertCourse inserts or replaces a course, keeping the original created_at
func (r *CourseRepository) UpsertCourse(ctx context.Context, course persistence.Course) error {
	if course.ID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO courses (`+courseColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				school_id = excluded.school_id,
				title = excluded.title,
				location_id = excluded.location_id,
				instructor_id = excluded.instructor_id,
				capacity = excluded.capacity,
				location_capacity = excluded.location_capacity,
				price = excluded.price,
				currency = excluded.currency,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at`,
			course.ID, course.SchoolID, course.Title, course.LocationID, course.InstructorID,
			course.Capacity, course.LocationCapacity, course.Price, course.Currency,
			boolToInt(course.Deleted), formatTime(course.CreatedAt), formatTime(course.UpdatedAt),
		)
		return err
	})
}

// GetCourse retrieves a course by ID
func (r *CourseRepository) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	course, err := scanCourse(row)
	if err != nil {
		return persistence.Course{}, r.mapper.MapError(err)
	}
	return course, nil
}

// ListCourses returns all courses ordered by ID
func (r *CourseRepository) ListCourses(ctx context.Context) ([]persistence.Course, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY id`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	courses := make([]persistence.Course, 0)
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

func scanCourse(row rowScanner) (persistence.Course, error) {
	var (
		course               persistence.Course
		deleted              int
		createdAt, updatedAt string
	)
	err := row.Scan(&course.ID, &course.SchoolID, &course.Title, &course.LocationID, &course.InstructorID,
		&course.Capacity, &course.LocationCapacity, &course.Price, &course.Currency, &deleted, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Course{}, persistence.ErrNotFound
		}
		return persistence.Course{}, err
	}
	course.Deleted = deleted != 0
	if course.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Course{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if course.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Course{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return course, nil
}
