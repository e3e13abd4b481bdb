// Package mongostore implements persistence.Store on MongoDB. Seat claims are
// conditional updates guarded by version, status and free capacity, applied
// in a multi-document transaction, so the server must run as a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/training-booking/internal/persistence"
)

const (
	coursesCollection   = "courses"
	schedulesCollection = "schedules"
	sessionsCollection  = "sessions"
	bookingsCollection  = "bookings"
	paymentsCollection  = "payments"
	waitlistCollection  = "waitlist_entries"
)

// Config describes the MongoDB connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store implements persistence.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongo: uri and database are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(cfg.Database), logger: logger}, nil
}

// Drop removes the whole database. Used to reset test fixtures.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Migrate creates collections and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("mongo: list collections: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}
	// Collections cannot be created implicitly inside a transaction on older servers.
	for _, name := range []string{coursesCollection, schedulesCollection, sessionsCollection, bookingsCollection, paymentsCollection, waitlistCollection} {
		if present[name] {
			continue
		}
		if err := s.db.CreateCollection(ctx, name); err != nil {
			return fmt.Errorf("mongo: create %s: %w", name, err)
		}
	}

	indexes := map[string][]mongo.IndexModel{
		schedulesCollection: {
			{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		sessionsCollection: {
			{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "date", Value: 1}, {Key: "start_time", Value: 1}}},
			{Keys: bson.D{{Key: "schedule_id", Value: 1}}},
			{Keys: bson.D{{Key: "location_id", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "instructor_id", Value: 1}, {Key: "date", Value: 1}}},
		},
		bookingsCollection: {
			{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "booking_date", Value: 1}}},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "booking_date", Value: 1}}},
			{Keys: bson.D{{Key: "session_ids", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "hold_expires_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "checkout_session_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "checkout_session_id", Value: bson.D{{Key: "$type", Value: "string"}}}}),
			},
		},
		paymentsCollection: {
			{Keys: bson.D{{Key: "checkout_session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		waitlistCollection: {
			{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "position", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "student_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "offer_expires_at", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: indexes for %s: %w", name, err)
		}
	}
	s.logger.Info("mongo indexes ensured", slog.String("database", s.db.Name()))
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// inTransaction runs fn in a multi-document transaction. The driver retries
// fn on transient transaction errors.
func (s *Store) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return mapError(err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return mapError(err)
}

// --- CourseRepository ---

func (s *Store) UpsertCourse(ctx context.Context, course persistence.Course) error {
	if course.ID == "" {
		return persistence.ErrConstraintViolation
	}
	doc := courseToDoc(course)
	_, err := s.collection(coursesCollection).UpdateOne(ctx,
		bson.M{"_id": course.ID},
		bson.M{
			"$set": bson.M{
				"school_id":         doc.SchoolID,
				"title":             doc.Title,
				"location_id":       doc.LocationID,
				"instructor_id":     doc.InstructorID,
				"capacity":          doc.Capacity,
				"location_capacity": doc.LocationCapacity,
				"price":             doc.Price,
				"currency":          doc.Currency,
				"deleted":           doc.Deleted,
				"updated_at":        doc.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	return mapError(err)
}

func (s *Store) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	var doc courseDoc
	if err := s.collection(coursesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.Course{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) ListCourses(ctx context.Context) ([]persistence.Course, error) {
	var docs []courseDoc
	if err := s.findAll(ctx, coursesCollection, bson.M{}, bson.D{{Key: "_id", Value: 1}}, &docs); err != nil {
		return nil, err
	}
	courses := make([]persistence.Course, 0, len(docs))
	for _, doc := range docs {
		courses = append(courses, doc.model())
	}
	return courses, nil
}

// --- ScheduleRepository ---

func (s *Store) CreateSchedule(ctx context.Context, schedule persistence.Schedule, sessions []persistence.Session) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}
	docs := make([]interface{}, 0, len(sessions))
	for _, session := range sessions {
		if session.ID == "" {
			return persistence.ErrConstraintViolation
		}
		docs = append(docs, sessionToDoc(session))
	}

	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		if err := s.requireCourse(sc, schedule.CourseID); err != nil {
			return err
		}
		if _, err := s.collection(schedulesCollection).InsertOne(sc, scheduleToDoc(schedule)); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		_, err := s.collection(sessionsCollection).InsertMany(sc, docs)
		return err
	})
}

func (s *Store) requireCourse(ctx context.Context, courseID string) error {
	n, err := s.collection(coursesCollection).CountDocuments(ctx, bson.M{"_id": courseID})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: unknown course %s", persistence.ErrConstraintViolation, courseID)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	var doc scheduleDoc
	if err := s.collection(schedulesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.Schedule{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) ListSchedules(ctx context.Context, courseID string) ([]persistence.Schedule, error) {
	var docs []scheduleDoc
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	if err := s.findAll(ctx, schedulesCollection, bson.M{"course_id": courseID}, sort, &docs); err != nil {
		return nil, err
	}
	schedules := make([]persistence.Schedule, 0, len(docs))
	for _, doc := range docs {
		schedules = append(schedules, doc.model())
	}
	return schedules, nil
}

// --- SessionRepository ---

func (s *Store) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	var doc sessionDoc
	if err := s.collection(sessionsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.Session{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	query := bson.M{}
	if filter.CourseID != "" {
		query["course_id"] = filter.CourseID
	}
	if filter.ScheduleID != "" {
		query["schedule_id"] = filter.ScheduleID
	}
	if filter.LocationID != "" {
		query["location_id"] = filter.LocationID
	}
	if filter.InstructorID != "" {
		query["instructor_id"] = filter.InstructorID
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	dateRange := bson.M{}
	if filter.DateFrom != "" {
		dateRange["$gte"] = filter.DateFrom
	}
	if filter.DateTo != "" {
		dateRange["$lte"] = filter.DateTo
	}
	if len(dateRange) > 0 {
		query["date"] = dateRange
	}

	var docs []sessionDoc
	sort := bson.D{{Key: "date", Value: 1}, {Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}
	if err := s.findAll(ctx, sessionsCollection, query, sort, &docs); err != nil {
		return nil, err
	}
	sessions := make([]persistence.Session, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, doc.model())
	}
	return sessions, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string, expectedVersion int64, updatedAt time.Time) (persistence.Session, error) {
	var doc sessionDoc
	err := s.collection(sessionsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		bson.M{
			"$set": bson.M{"status": status, "updated_at": updatedAt.UTC()},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return persistence.Session{}, s.missingOrStale(ctx, sessionsCollection, id)
	}
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	return doc.model(), nil
}

// --- BookingRepository ---

func (s *Store) ReserveBooking(ctx context.Context, booking persistence.Booking, claims []persistence.SessionClaim) error {
	if booking.ID == "" || len(claims) == 0 {
		return persistence.ErrConstraintViolation
	}
	sessions := s.collection(sessionsCollection)

	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		for _, claim := range claims {
			res, err := sessions.UpdateOne(sc,
				bson.M{
					"_id":     claim.SessionID,
					"version": claim.ExpectedVersion,
					"status":  persistence.SessionScheduled,
					"$expr":   bson.M{"$lt": bson.A{"$current_enrollment", "$max_capacity"}},
				},
				bson.M{
					"$inc": bson.M{"current_enrollment": 1, "version": 1},
					"$set": bson.M{"updated_at": booking.BookingDate.UTC()},
				},
			)
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return s.classifyClaim(sc, claim)
			}
		}
		_, err := s.collection(bookingsCollection).InsertOne(sc, bookingToDoc(booking))
		return err
	})
}

// classifyClaim reports why a conditional seat claim matched nothing.
func (s *Store) classifyClaim(ctx context.Context, claim persistence.SessionClaim) error {
	var doc sessionDoc
	err := s.collection(sessionsCollection).FindOne(ctx, bson.M{"_id": claim.SessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotFound}
	}
	if err != nil {
		return err
	}
	switch {
	case doc.Version != claim.ExpectedVersion:
		return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrVersionConflict}
	case doc.Status != persistence.SessionScheduled:
		return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrNotScheduled}
	default:
		return &persistence.ClaimError{SessionID: claim.SessionID, Err: persistence.ErrCapacityExceeded}
	}
}

func (s *Store) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	var doc bookingDoc
	if err := s.collection(bookingsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.Booking{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) GetBookingByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Booking, error) {
	var doc bookingDoc
	if err := s.collection(bookingsCollection).FindOne(ctx, bson.M{"checkout_session_id": checkoutSessionID}).Decode(&doc); err != nil {
		return persistence.Booking{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	query := bson.M{}
	if filter.CourseID != "" {
		query["course_id"] = filter.CourseID
	}
	if filter.StudentID != "" {
		query["student_id"] = filter.StudentID
	}
	if filter.SessionID != "" {
		query["session_ids"] = filter.SessionID
	}
	if len(filter.States) > 0 {
		query["state"] = bson.M{"$in": filter.States}
	}
	if filter.HoldExpiresBefore != nil {
		query["hold_expires_at"] = bson.M{"$lte": filter.HoldExpiresBefore.UTC()}
	}

	var docs []bookingDoc
	sort := bson.D{{Key: "booking_date", Value: 1}, {Key: "_id", Value: 1}}
	if err := s.findAll(ctx, bookingsCollection, query, sort, &docs); err != nil {
		return nil, err
	}
	bookings := make([]persistence.Booking, 0, len(docs))
	for _, doc := range docs {
		bookings = append(bookings, doc.model())
	}
	return bookings, nil
}

func (s *Store) UpdateBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	return mapError(s.replaceBooking(ctx, booking, expectedVersion))
}

func (s *Store) ReleaseBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var current bookingDoc
		if err := s.collection(bookingsCollection).FindOne(sc, bson.M{"_id": booking.ID}).Decode(&current); err != nil {
			return err
		}
		if err := s.replaceBooking(sc, booking, expectedVersion); err != nil {
			return err
		}
		if len(current.SessionIDs) == 0 {
			return nil
		}
		_, err := s.collection(sessionsCollection).UpdateMany(sc,
			bson.M{"_id": bson.M{"$in": current.SessionIDs}},
			mongo.Pipeline{
				{{Key: "$set", Value: bson.D{
					{Key: "current_enrollment", Value: bson.D{{Key: "$max", Value: bson.A{
						bson.D{{Key: "$subtract", Value: bson.A{"$current_enrollment", 1}}}, 0,
					}}}},
					{Key: "version", Value: bson.D{{Key: "$add", Value: bson.A{"$version", 1}}}},
					{Key: "updated_at", Value: booking.UpdatedAt.UTC()},
				}}},
			},
		)
		return err
	})
}

func (s *Store) replaceBooking(ctx context.Context, booking persistence.Booking, expectedVersion int64) error {
	booking.Version = expectedVersion + 1
	res, err := s.collection(bookingsCollection).ReplaceOne(ctx,
		bson.M{"_id": booking.ID, "version": expectedVersion},
		bookingToDoc(booking),
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrStale(ctx, bookingsCollection, booking.ID)
	}
	return nil
}

// --- PaymentRepository ---

func (s *Store) UpsertPayment(ctx context.Context, payment persistence.Payment) error {
	if payment.ID == "" || payment.CheckoutSessionID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := s.collection(paymentsCollection).ReplaceOne(ctx,
		bson.M{"_id": payment.ID},
		paymentToDoc(payment),
		options.Replace().SetUpsert(true),
	)
	return mapError(err)
}

func (s *Store) GetPaymentByCheckoutSession(ctx context.Context, checkoutSessionID string) (persistence.Payment, error) {
	var doc paymentDoc
	if err := s.collection(paymentsCollection).FindOne(ctx, bson.M{"checkout_session_id": checkoutSessionID}).Decode(&doc); err != nil {
		return persistence.Payment{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) ListPayments(ctx context.Context, bookingID string) ([]persistence.Payment, error) {
	var docs []paymentDoc
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	if err := s.findAll(ctx, paymentsCollection, bson.M{"booking_id": bookingID}, sort, &docs); err != nil {
		return nil, err
	}
	payments := make([]persistence.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.model())
	}
	return payments, nil
}

// --- WaitlistRepository ---

func (s *Store) AddWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	if entry.ID == "" || entry.CourseID == "" || entry.Position < 1 {
		return persistence.ErrConstraintViolation
	}
	_, err := s.collection(waitlistCollection).InsertOne(ctx, waitlistToDoc(entry))
	return mapError(err)
}

func (s *Store) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	var doc waitlistDoc
	if err := s.collection(waitlistCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.WaitlistEntry{}, mapError(err)
	}
	return doc.model(), nil
}

func (s *Store) ListWaitlist(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	query := bson.M{}
	if filter.CourseID != "" {
		query["course_id"] = filter.CourseID
	}
	if filter.StudentID != "" {
		query["student_id"] = filter.StudentID
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	if filter.OfferExpiresBefore != nil {
		query["offer_expires_at"] = bson.M{"$lte": filter.OfferExpiresBefore.UTC()}
	}

	var docs []waitlistDoc
	sort := bson.D{{Key: "course_id", Value: 1}, {Key: "position", Value: 1}}
	if err := s.findAll(ctx, waitlistCollection, query, sort, &docs); err != nil {
		return nil, err
	}
	entries := make([]persistence.WaitlistEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.model())
	}
	return entries, nil
}

func (s *Store) UpdateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry, expectedVersion int64) error {
	entry.Version = expectedVersion + 1
	res, err := s.collection(waitlistCollection).ReplaceOne(ctx,
		bson.M{"_id": entry.ID, "version": expectedVersion, "course_id": entry.CourseID, "position": entry.Position},
		waitlistToDoc(entry),
	)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return s.missingOrStale(ctx, waitlistCollection, entry.ID)
	}
	return nil
}

func (s *Store) DeleteWaitlistEntry(ctx context.Context, id string) error {
	res, err := s.collection(waitlistCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) findAll(ctx context.Context, collection string, filter any, sort bson.D, out any) error {
	cursor, err := s.collection(collection).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return mapError(err)
	}
	defer cursor.Close(ctx)
	return mapError(cursor.All(ctx, out))
}

func (s *Store) missingOrStale(ctx context.Context, collection, id string) error {
	n, err := s.collection(collection).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return persistence.ErrVersionConflict
}

type labeled interface {
	HasErrorLabel(string) bool
}

// mapError translates driver errors onto persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var claimErr *persistence.ClaimError
	if errors.As(err, &claimErr) {
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return persistence.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	}
	for _, sentinel := range []error{persistence.ErrNotFound, persistence.ErrVersionConflict, persistence.ErrConstraintViolation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var le labeled
	if errors.As(err, &le) && (le.HasErrorLabel("TransientTransactionError") || le.HasErrorLabel("UnknownTransactionCommitResult")) {
		return fmt.Errorf("%w: %v", persistence.ErrTransient, err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %v", persistence.ErrTransient, err)
	}
	return err
}
