package testfixtures

import (
	"fmt"
	"sync/atomic"

	"github.com/example/training-booking/internal/application"
)

var (
	courseCounter  uint64
	studentCounter uint64
)

// CourseOption adjusts a course fixture.
type CourseOption func(*application.CourseInput)

// NewCourseID returns a unique course identifier.
func NewCourseID() string {
	return fmt.Sprintf("course-%03d", atomic.AddUint64(&courseCounter, 1))
}

// Course returns catalog input for a ten seat course at loc-1 taught by inst-1.
func Course(opts ...CourseOption) application.CourseInput {
	input := application.CourseInput{
		SchoolID:     "school-1",
		Title:        "Go 入門講座",
		LocationID:   "loc-1",
		InstructorID: "inst-1",
		Capacity:     10,
		Price:        12000,
		Currency:     "JPY",
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input
}

func WithCapacity(capacity int) CourseOption {
	return func(in *application.CourseInput) { in.Capacity = capacity }
}

// WithLocation moves the course; capacity bounds every session when positive.
func WithLocation(locationID string, capacity int) CourseOption {
	return func(in *application.CourseInput) {
		in.LocationID = locationID
		in.LocationCapacity = capacity
	}
}

func WithInstructor(instructorID string) CourseOption {
	return func(in *application.CourseInput) { in.InstructorID = instructorID }
}

func WithPrice(price int64) CourseOption {
	return func(in *application.CourseInput) { in.Price = price }
}

// OnceRule is a single session on date.
func OnceRule(date, start, end string) application.RuleInput {
	return application.RuleInput{Kind: "once", StartDate: date, StartTime: start, EndTime: end}
}

// DailyRule runs every day from startDate through endDate.
func DailyRule(startDate, endDate, start, end string) application.RuleInput {
	return application.RuleInput{Kind: "daily", StartDate: startDate, EndDate: endDate, StartTime: start, EndTime: end}
}

// WeeklyRule runs on the ISO weekdays (1 = Monday) between the dates.
func WeeklyRule(startDate, endDate, start, end string, weekdays ...int) application.RuleInput {
	return application.RuleInput{
		Kind: "weekly", StartDate: startDate, EndDate: endDate, StartTime: start, EndTime: end,
		Weekdays: append([]int(nil), weekdays...),
	}
}

// CustomRule runs every interval days starting at startDate.
func CustomRule(startDate, endDate, start, end string, interval int) application.RuleInput {
	return application.RuleInput{
		Kind: "custom", StartDate: startDate, EndDate: endDate, StartTime: start, EndTime: end,
		Interval: interval,
	}
}

// Student returns a distinct student.
func Student() application.Student {
	idx := atomic.AddUint64(&studentCounter, 1)
	return application.Student{
		ID:    fmt.Sprintf("student-%03d", idx),
		Name:  fmt.Sprintf("受講者 %d", idx),
		Email: fmt.Sprintf("student%03d@example.com", idx),
	}
}

// Reserve builds reservation parameters for a fresh student.
func Reserve(courseID string, sessionIDs ...string) application.ReserveParams {
	return application.ReserveParams{
		CourseID:   courseID,
		SessionIDs: append([]string(nil), sessionIDs...),
		Student:    Student(),
	}
}
