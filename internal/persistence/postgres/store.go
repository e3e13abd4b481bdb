// Package postgres implements persistence.Store with gorm on PostgreSQL.
// Seat claims take row locks (SELECT ... FOR UPDATE) so concurrent
// reservations on the same session serialize inside the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/training-booking/internal/persistence"
)

// Config describes the PostgreSQL connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements persistence.Store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

// Open connects to PostgreSQL. Call Migrate before use.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB exposes the gorm handle for maintenance tasks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&courseRow{}, &scheduleRow{}, &sessionRow{}, &bookingRow{}, &paymentRow{}, &waitlistRow{}); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	s.logger.Info("postgres schema migrated")
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- CourseRepository ---

func (s *Store) UpsertCourse(ctx context.Context, course persistence.Course) error {
	if course.ID == "" {
		return persistence.ErrConstraintViolation
	}
	row := courseToRow(course)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"school_id", "title", "location_id", "instructor_id", "capacity", "location_capacity",
			"price", "currency", "deleted", "updated_at",
		}),
	}).Create(&row).Error
	return mapError(err)
}

func (s *Store) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	var row courseRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return persistence.Course{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListCourses(ctx context.Context) ([]persistence.Course, error) {
	var rows []courseRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	courses := make([]persistence.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.model())
	}
	return courses, nil
}

// --- ScheduleRepository ---

func (s *Store) CreateSchedule(ctx context.Context, schedule persistence.Schedule, sessions []persistence.Session) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}
	scheduleRecord, err := scheduleToRow(schedule)
	if err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	sessionRecords := make([]sessionRow, 0, len(sessions))
	for _, session := range sessions {
		if session.ID == "" {
			return persistence.ErrConstraintViolation
		}
		record, err := sessionToRow(session)
		if err != nil {
			return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
		}
		sessionRecords = append(sessionRecords, record)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&scheduleRecord).Error; err != nil {
			return err
		}
		if len(sessionRecords) == 0 {
			return nil
		}
		return tx.Omit(clause.Associations).CreateInBatches(&sessionRecords, 200).Error
	})
	return mapError(err)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	var row scheduleRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return persistence.Schedule{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListSchedules(ctx context.Context, courseID string) ([]persistence.Schedule, error) {
	var rows []scheduleRow
	if err := s.db.WithContext(ctx).Where("course_id = ?", courseID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	schedules := make([]persistence.Schedule, 0, len(rows))
	for _, row := range rows {
		schedules = append(schedules, row.model())
	}
	return schedules, nil
}

// --- SessionRepository ---

func (s *Store) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return persistence.Session{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	q := s.db.WithContext(ctx).Model(&sessionRow{})
	if filter.CourseID != "" {
		q = q.Where("course_id = ?", filter.CourseID)
	}
	if filter.ScheduleID != "" {
		q = q.Where("schedule_id = ?", filter.ScheduleID)
	}
	if filter.LocationID != "" {
		q = q.Where("location_id = ?", filter.LocationID)
	}
	if filter.InstructorID != "" {
		q = q.Where("instructor_id = ?", filter.InstructorID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.DateFrom != "" {
		q = q.Where("session_date >= ?::date", filter.DateFrom)
	}
	if filter.DateTo != "" {
		q = q.Where("session_date <= ?::date", filter.DateTo)
	}

	var rows []sessionRow
	if err := q.Order("session_date, start_time, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	sessions := make([]persistence.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.model())
	}
	return sessions, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string, expectedVersion int64, updatedAt time.Time) (persistence.Session, error) {
	var updated sessionRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(map[string]any{
				"status":     status,
				"version":    gorm.Expr("version + 1"),
				"updated_at": updatedAt.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrStale(tx, &sessionRow{}, id)
		}
		return tx.Where("id = ?", id).Take(&updated).Error
	})
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	return updated.model(), nil
}

// --- BookingRepository ---

func (s *Store) ReserveBooking(ctx context.Context, booking persistence.Booking, claims []persistence.SessionClaim) error {
	if booking.ID == "" || len(claims) == 0 {
		return persistence.ErrConstraintViolation
	}
	record := bookingToRow(booking)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, claim := range claims {
			var session sessionRow
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", claim.SessionID).
				Take(&session).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotFound}
			}
			if err != nil {
				return err
			}

			switch {
			case session.Version != claim.ExpectedVersion:
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrVersionConflict}
			case session.Status != persistence.SessionScheduled:
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotScheduled}
			case session.CurrentEnrollment >= session.MaxCapacity:
				return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrCapacityExceeded}
			}

			if err := tx.Model(&sessionRow{}).
				Where("id = ?", claim.SessionID).
				Updates(map[string]any{
					"current_enrollment": gorm.Expr("current_enrollment + 1"),
					"version":            gorm.Expr("version + 1"),
					"updated_at":         booking.BookingDate.UTC(),
				}).Error; err != nil {
				return err
			}
		}
		return tx.Omit(clause.Associations).Create(&record).Error
	})
	return mapError(err)
}

func (s *Store) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	var row bookingRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return persistence.Booking{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) GetBookingByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Booking, error) {
	var row bookingRow
	if err := s.db.WithContext(ctx).Where("checkout_session_id = ?", checkoutSessionID).Take(&row).Error; err != nil {
		return persistence.Booking{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	q := s.db.WithContext(ctx).Model(&bookingRow{})
	if filter.CourseID != "" {
		q = q.Where("course_id = ?", filter.CourseID)
	}
	if filter.StudentID != "" {
		q = q.Where("student_id = ?", filter.StudentID)
	}
	if filter.SessionID != "" {
		q = q.Where("? = ANY(session_ids)", filter.SessionID)
	}
	if len(filter.States) > 0 {
		q = q.Where("state IN ?", filter.States)
	}
	if filter.HoldExpiresBefore != nil {
		q = q.Where("hold_expires_at <= ?", filter.HoldExpiresBefore.UTC())
	}

	var rows []bookingRow
	if err := q.Order("booking_date, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	bookings := make([]persistence.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, row.model())
	}
	return bookings, nil
}

func (s *Store) UpdateBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return updateBooking(tx, booking, expectedVersion)
	})
	return mapError(err)
}

func (s *Store) ReleaseBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current bookingRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", booking.ID).Take(&current).Error; err != nil {
			return err
		}
		if err := updateBooking(tx, booking, expectedVersion); err != nil {
			return err
		}
		if len(current.SessionIDs) == 0 {
			return nil
		}
		return tx.Model(&sessionRow{}).
			Where("id IN ?", []string(current.SessionIDs)).
			Updates(map[string]any{
				"current_enrollment": gorm.Expr("GREATEST(current_enrollment - 1, 0)"),
				"version":            gorm.Expr("version + 1"),
				"updated_at":         booking.UpdatedAt.UTC(),
			}).Error
	})
	return mapError(err)
}

func updateBooking(tx *gorm.DB, booking persistence.Booking, expectedVersion int64) error {
	row := bookingToRow(booking)
	res := tx.Model(&bookingRow{}).
		Where("id = ? AND version = ?", booking.ID, expectedVersion).
		Updates(map[string]any{
			"student_id":          row.StudentID,
			"student_name":        row.StudentName,
			"student_email":       row.StudentEmail,
			"student_phone":       row.StudentPhone,
			"message":             row.Message,
			"status":              row.Status,
			"payment_status":      row.PaymentStatus,
			"state":               row.State,
			"checkout_session_id": row.CheckoutSessionID,
			"checkout_url":        row.CheckoutURL,
			"amount_due":          row.AmountDue,
			"price_per_session":   row.PricePerSession,
			"currency":            row.Currency,
			"amount_paid":         row.AmountPaid,
			"hold_expires_at":     row.HoldExpiresAt,
			"paid_at":             row.PaidAt,
			"closed_at":           row.ClosedAt,
			"version":             expectedVersion + 1,
			"updated_at":          row.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return missingOrStale(tx, &bookingRow{}, booking.ID)
	}
	return nil
}

// --- PaymentRepository ---

func (s *Store) UpsertPayment(ctx context.Context, payment persistence.Payment) error {
	if payment.ID == "" || payment.CheckoutSessionID == "" {
		return persistence.ErrConstraintViolation
	}
	row := paymentToRow(payment)
	err := s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"checkout_session_id", "provider", "amount", "currency", "status", "paid_at", "updated_at",
		}),
	}).Create(&row).Error
	return mapError(err)
}

func (s *Store) GetPaymentByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Payment, error) {
	var row paymentRow
	if err := s.db.WithContext(ctx).Where("checkout_session_id = ?", checkoutSessionID).Take(&row).Error; err != nil {
		return persistence.Payment{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListPayments(ctx context.Context, bookingID string) ([]persistence.Payment, error) {
	var rows []paymentRow
	if err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	payments := make([]persistence.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, row.model())
	}
	return payments, nil
}

// --- WaitlistRepository ---

func (s *Store) AddWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	if entry.ID == "" || entry.CourseID == "" || entry.Position < 1 {
		return persistence.ErrConstraintViolation
	}
	row := waitlistToRow(entry)
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error)
}

func (s *Store) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	var row waitlistRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return persistence.WaitlistEntry{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) ListWaitlist(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	q := s.db.WithContext(ctx).Model(&waitlistRow{})
	if filter.CourseID != "" {
		q = q.Where("course_id = ?", filter.CourseID)
	}
	if filter.StudentID != "" {
		q = q.Where("student_id = ?", filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.OfferExpiresBefore != nil {
		q = q.Where("offer_expires_at IS NOT NULL AND offer_expires_at <= ?", filter.OfferExpiresBefore.UTC())
	}

	var rows []waitlistRow
	if err := q.Order("course_id, position").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	entries := make([]persistence.WaitlistEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.model())
	}
	return entries, nil
}

func (s *Store) UpdateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry, expectedVersion int64) error {
	row := waitlistToRow(entry)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&waitlistRow{}).
			Where("id = ? AND version = ? AND course_id = ? AND position = ?", entry.ID, expectedVersion, entry.CourseID, entry.Position).
			Updates(map[string]any{
				"session_id":       row.SessionID,
				"student_name":     row.StudentName,
				"student_email":    row.StudentEmail,
				"status":           row.Status,
				"offer_expires_at": row.OfferExpiresAt,
				"version":          expectedVersion + 1,
				"updated_at":       row.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrStale(tx, &waitlistRow{}, entry.ID)
		}
		return nil
	})
	return mapError(err)
}

func (s *Store) DeleteWaitlistEntry(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&waitlistRow{})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func missingOrStale(tx *gorm.DB, model any, id string) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return persistence.ErrNotFound
	}
	return persistence.ErrVersionConflict
}

// mapError translates gorm and PostgreSQL errors onto persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var claimErr *persistence.ClaimError
	if errors.As(err, &claimErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return persistence.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	for _, sentinel := range []error{persistence.ErrNotFound, persistence.ErrVersionConflict, persistence.ErrConstraintViolation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	// serialization_failure and deadlock_detected are safe to retry.
	if msg := err.Error(); strings.Contains(msg, "SQLSTATE 40001") || strings.Contains(msg, "SQLSTATE 40P01") {
		return fmt.Errorf("%w: %v", persistence.ErrTransient, err)
	}
	return err
}
