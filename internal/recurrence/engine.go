package recurrence

import (
	"errors"
	"fmt"
	"time"
)

var jst = time.FixedZone("JST", 9*60*60)

// DateLayout is the civil date format used at every boundary of the engine.
const DateLayout = "2006-01-02"

// DefaultMaxOccurrences caps how many dates a single rule may expand into.
const DefaultMaxOccurrences = 1000

// Kind represents supported recurrence patterns.
type Kind string

const (
	// KindOnce emits the start date only.
	KindOnce Kind = "once"
	// KindDaily emits every day within the range.
	KindDaily Kind = "daily"
	// KindWeekly emits the days whose ISO weekday is selected.
	KindWeekly Kind = "weekly"
	// KindCustom emits every Interval-th day counted from the start date.
	KindCustom Kind = "custom"
)

// Valid reports whether k is a known recurrence kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOnce, KindDaily, KindWeekly, KindCustom:
		return true
	default:
		return false
	}
}

// Rule describes how a course schedule repeats.
//
// StartDate and EndDate are civil dates; only their year, month and day are
// read. Weekdays uses ISO numbering (1=Monday .. 7=Sunday) and is consulted
// for weekly rules only. Interval is consulted for custom rules only.
type Rule struct {
	Kind      Kind
	StartDate time.Time
	EndDate   time.Time
	StartTime TimeOfDay
	EndTime   TimeOfDay
	Weekdays  []int
	Interval  int
}

// Occurrence is one expanded date paired with the rule's fixed times.
type Occurrence struct {
	Date  time.Time
	Start TimeOfDay
	End   TimeOfDay
}

// Rule validation failures. RuleError wraps one of these.
var (
	ErrUnknownKind        = errors.New("unknown recurrence kind")
	ErrDateRange          = errors.New("start date must not be after end date")
	ErrMissingDate        = errors.New("date is required")
	ErrTimeRange          = errors.New("start time must be before end time")
	ErrNoWeekdays         = errors.New("weekly rules require at least one weekday")
	ErrWeekdayRange       = errors.New("weekday must be between 1 and 7")
	ErrInterval           = errors.New("interval must be at least 1 day")
	ErrTooManyOccurrences = errors.New("rule expands to too many occurrences")
)

// RuleError reports which field of a Rule is invalid.
type RuleError struct {
	Field string
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("recurrence: invalid %s: %v", e.Field, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// Engine expands recurrence rules into dates.
type Engine struct {
	location       *time.Location
	maxOccurrences int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxOccurrences overrides DefaultMaxOccurrences. Non-positive values are ignored.
func WithMaxOccurrences(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOccurrences = n
		}
	}
}

// NewEngine constructs an Engine that anchors dates in the provided location.
// If loc is nil, Asia/Tokyo (JST) is used.
func NewEngine(loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = jst
	}
	e := &Engine{location: loc, maxOccurrences: DefaultMaxOccurrences}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the timezone dates are anchored to.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return jst
	}
	return e.location
}

// Validate checks the rule invariants without expanding it.
func (e *Engine) Validate(rule Rule) error {
	if !rule.Kind.Valid() {
		return &RuleError{Field: "kind", Err: ErrUnknownKind}
	}
	if rule.StartDate.IsZero() {
		return &RuleError{Field: "start_date", Err: ErrMissingDate}
	}
	if rule.EndDate.IsZero() && rule.Kind != KindOnce {
		return &RuleError{Field: "end_date", Err: ErrMissingDate}
	}

	start, end := e.bounds(rule)
	if end.Before(start) {
		return &RuleError{Field: "end_date", Err: ErrDateRange}
	}

	if !rule.StartTime.Valid() {
		return &RuleError{Field: "start_time", Err: ErrInvalidTimeOfDay}
	}
	if !rule.EndTime.Valid() {
		return &RuleError{Field: "end_time", Err: ErrInvalidTimeOfDay}
	}
	if rule.StartTime >= rule.EndTime {
		return &RuleError{Field: "end_time", Err: ErrTimeRange}
	}

	switch rule.Kind {
	case KindWeekly:
		if len(rule.Weekdays) == 0 {
			return &RuleError{Field: "weekdays", Err: ErrNoWeekdays}
		}
		for _, day := range rule.Weekdays {
			if day < 1 || day > 7 {
				return &RuleError{Field: "weekdays", Err: ErrWeekdayRange}
			}
		}
	case KindCustom:
		if rule.Interval < 1 {
			return &RuleError{Field: "interval", Err: ErrInterval}
		}
	}
	return nil
}

// Expand returns the ordered dates the rule produces, each at midnight in the
// engine's location. An empty result is valid.
func (e *Engine) Expand(rule Rule) ([]time.Time, error) {
	if err := e.Validate(rule); err != nil {
		return nil, err
	}

	start, end := e.bounds(rule)
	if rule.Kind == KindOnce {
		return []time.Time{start}, nil
	}

	weekdaySet := make(map[int]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	dates := make([]time.Time, 0)
	offset := 0
	for current := start; !current.After(end); current = current.AddDate(0, 0, 1) {
		if shouldInclude(rule, weekdaySet, current, offset) {
			if len(dates) == e.limit() {
				return nil, &RuleError{Field: "end_date", Err: ErrTooManyOccurrences}
			}
			dates = append(dates, current)
		}
		offset++
	}
	return dates, nil
}

// Occurrences expands the rule and pairs every date with the rule's times.
func (e *Engine) Occurrences(rule Rule) ([]Occurrence, error) {
	dates, err := e.Expand(rule)
	if err != nil {
		return nil, err
	}
	occurrences := make([]Occurrence, 0, len(dates))
	for _, date := range dates {
		occurrences = append(occurrences, Occurrence{Date: date, Start: rule.StartTime, End: rule.EndTime})
	}
	return occurrences, nil
}

// ParseDate parses a "2006-01-02" value anchored to the engine's location.
func (e *Engine) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, e.Location())
}

// CivilDate truncates t to midnight of its own calendar date in the engine's location.
func (e *Engine) CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.Location())
}

func (e *Engine) limit() int {
	if e.maxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return e.maxOccurrences
}

func (e *Engine) bounds(rule Rule) (time.Time, time.Time) {
	start := e.CivilDate(rule.StartDate)
	if rule.EndDate.IsZero() {
		return start, start
	}
	return start, e.CivilDate(rule.EndDate)
}

func shouldInclude(rule Rule, weekdaySet map[int]struct{}, day time.Time, offset int) bool {
	switch rule.Kind {
	case KindDaily:
		return true
	case KindWeekly:
		_, ok := weekdaySet[ISOWeekday(day)]
		return ok
	case KindCustom:
		return offset%rule.Interval == 0
	default:
		return false
	}
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
