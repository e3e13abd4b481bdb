package recurrence

import (
	"errors"
	"testing"
	"time"
)

func date(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation(DateLayout, value, jst)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return d
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(DateLayout))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngine_Expand(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	nine := NewTimeOfDay(9, 0)
	ten := NewTimeOfDay(10, 0)

	tests := []struct {
		name string
		rule Rule
		want []string
	}{
		{
			name: "weekly mon wed fri over two weeks",
			rule: Rule{Kind: KindWeekly, StartDate: date(t, "2025-01-06"), EndDate: date(t, "2025-01-17"), StartTime: nine, EndTime: ten, Weekdays: []int{1, 3, 5}},
			want: []string{"2025-01-06", "2025-01-08", "2025-01-10", "2025-01-13", "2025-01-15", "2025-01-17"},
		},
		{
			name: "once ignores end date",
			rule: Rule{Kind: KindOnce, StartDate: date(t, "2025-02-01"), EndDate: date(t, "2025-02-20"), StartTime: nine, EndTime: ten},
			want: []string{"2025-02-01"},
		},
		{
			name: "once without end date",
			rule: Rule{Kind: KindOnce, StartDate: date(t, "2025-02-01"), StartTime: nine, EndTime: ten},
			want: []string{"2025-02-01"},
		},
		{
			name: "daily is inclusive of both bounds",
			rule: Rule{Kind: KindDaily, StartDate: date(t, "2025-02-27"), EndDate: date(t, "2025-03-02"), StartTime: nine, EndTime: ten},
			want: []string{"2025-02-27", "2025-02-28", "2025-03-01", "2025-03-02"},
		},
		{
			name: "custom every third day",
			rule: Rule{Kind: KindCustom, StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-10"), StartTime: nine, EndTime: ten, Interval: 3},
			want: []string{"2025-01-01", "2025-01-04", "2025-01-07", "2025-01-10"},
		},
		{
			name: "weekly with no matching day yields nothing",
			rule: Rule{Kind: KindWeekly, StartDate: date(t, "2025-01-06"), EndDate: date(t, "2025-01-08"), StartTime: nine, EndTime: ten, Weekdays: []int{7}},
			want: []string{},
		},
		{
			name: "sunday is weekday seven",
			rule: Rule{Kind: KindWeekly, StartDate: date(t, "2025-01-06"), EndDate: date(t, "2025-01-19"), StartTime: nine, EndTime: ten, Weekdays: []int{7, 7}},
			want: []string{"2025-01-12", "2025-01-19"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := engine.Expand(tt.rule)
			if err != nil {
				t.Fatalf("Expand returned error: %v", err)
			}
			if gotStr := formatDates(got); !equalStrings(gotStr, tt.want) {
				t.Fatalf("Expand = %v, want %v", gotStr, tt.want)
			}
		})
	}
}

func TestEngine_ExpandWeeklyProperty(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	start := date(t, "2024-12-30")
	end := date(t, "2025-03-31")
	sets := [][]int{{1}, {2, 4}, {6, 7}, {1, 2, 3, 4, 5, 6, 7}, {5, 3}}

	for _, set := range sets {
		rule := Rule{Kind: KindWeekly, StartDate: start, EndDate: end, StartTime: 60, EndTime: 120, Weekdays: set}
		dates, err := engine.Expand(rule)
		if err != nil {
			t.Fatalf("Expand(%v) returned error: %v", set, err)
		}
		allowed := make(map[int]bool, len(set))
		for _, d := range set {
			allowed[d] = true
		}
		for i, d := range dates {
			if !allowed[ISOWeekday(d)] {
				t.Fatalf("weekdays %v: %s has weekday %d", set, d.Format(DateLayout), ISOWeekday(d))
			}
			if d.Before(start) || d.After(end) {
				t.Fatalf("weekdays %v: %s outside range", set, d.Format(DateLayout))
			}
			if i > 0 && !d.After(dates[i-1]) {
				t.Fatalf("weekdays %v: dates not strictly ascending at %d", set, i)
			}
		}
	}
}

func TestEngine_ExpandCustomIntervalProperty(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	start := date(t, "2025-01-15")

	for interval := 1; interval <= 12; interval++ {
		for span := 0; span <= 40; span += 7 {
			end := start.AddDate(0, 0, span)
			rule := Rule{Kind: KindCustom, StartDate: start, EndDate: end, StartTime: 600, EndTime: 660, Interval: interval}
			dates, err := engine.Expand(rule)
			if err != nil {
				t.Fatalf("interval %d span %d: %v", interval, span, err)
			}

			want := make([]string, 0)
			for k := 0; ; k++ {
				d := start.AddDate(0, 0, k*interval)
				if d.After(end) {
					break
				}
				want = append(want, d.Format(DateLayout))
			}
			if got := formatDates(dates); !equalStrings(got, want) {
				t.Fatalf("interval %d span %d: got %v, want %v", interval, span, got, want)
			}
		}
	}
}

func TestEngine_Validate(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	base := Rule{Kind: KindDaily, StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-31"), StartTime: 540, EndTime: 600}

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		field   string
		wantErr error
	}{
		{"unknown kind", func(r *Rule) { r.Kind = "fortnightly" }, "kind", ErrUnknownKind},
		{"missing start", func(r *Rule) { r.StartDate = time.Time{} }, "start_date", ErrMissingDate},
		{"missing end for daily", func(r *Rule) { r.EndDate = time.Time{} }, "end_date", ErrMissingDate},
		{"end before start", func(r *Rule) { r.EndDate = date(t, "2024-12-31") }, "end_date", ErrDateRange},
		{"equal times", func(r *Rule) { r.EndTime = r.StartTime }, "end_time", ErrTimeRange},
		{"end time out of day", func(r *Rule) { r.EndTime = MinutesPerDay }, "end_time", ErrInvalidTimeOfDay},
		{"weekly without weekdays", func(r *Rule) { r.Kind = KindWeekly }, "weekdays", ErrNoWeekdays},
		{"weekday zero", func(r *Rule) { r.Kind = KindWeekly; r.Weekdays = []int{0} }, "weekdays", ErrWeekdayRange},
		{"weekday eight", func(r *Rule) { r.Kind = KindWeekly; r.Weekdays = []int{1, 8} }, "weekdays", ErrWeekdayRange},
		{"custom interval zero", func(r *Rule) { r.Kind = KindCustom }, "interval", ErrInterval},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule := base
			tt.mutate(&rule)
			err := engine.Validate(rule)
			var ruleErr *RuleError
			if !errors.As(err, &ruleErr) {
				t.Fatalf("expected RuleError, got %v", err)
			}
			if ruleErr.Field != tt.field {
				t.Fatalf("field = %q, want %q", ruleErr.Field, tt.field)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error %v does not wrap %v", err, tt.wantErr)
			}
		})
	}

	t.Run("daily ignores stray weekdays and interval", func(t *testing.T) {
		t.Parallel()
		rule := base
		rule.Weekdays = []int{42}
		rule.Interval = -3
		if err := engine.Validate(rule); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestEngine_MaxOccurrences(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil, WithMaxOccurrences(5))
	rule := Rule{Kind: KindDaily, StartDate: date(t, "2025-01-01"), EndDate: date(t, "2025-01-05"), StartTime: 0, EndTime: 30}
	if _, err := engine.Expand(rule); err != nil {
		t.Fatalf("five dates should fit: %v", err)
	}

	rule.EndDate = date(t, "2025-01-06")
	_, err := engine.Expand(rule)
	if !errors.Is(err, ErrTooManyOccurrences) {
		t.Fatalf("expected ErrTooManyOccurrences, got %v", err)
	}
}

func TestEngine_NormalizesCivilDates(t *testing.T) {
	t.Parallel()

	engine := NewEngine(jst)
	utcStart := time.Date(2025, time.January, 6, 23, 30, 0, 0, time.UTC)
	rule := Rule{Kind: KindOnce, StartDate: utcStart, StartTime: 540, EndTime: 600}

	dates, err := engine.Expand(rule)
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if len(dates) != 1 {
		t.Fatalf("expected one date, got %d", len(dates))
	}
	got := dates[0]
	if got.Location() != jst || got.Format(DateLayout) != "2025-01-06" || got.Hour() != 0 {
		t.Fatalf("unexpected normalized date %v", got)
	}
}

func TestEngine_Occurrences(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	rule := Rule{Kind: KindCustom, StartDate: date(t, "2025-03-01"), EndDate: date(t, "2025-03-05"), StartTime: NewTimeOfDay(18, 30), EndTime: NewTimeOfDay(20, 0), Interval: 2}

	occurrences, err := engine.Occurrences(rule)
	if err != nil {
		t.Fatalf("Occurrences returned error: %v", err)
	}
	if len(occurrences) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occurrences))
	}
	for _, occ := range occurrences {
		if occ.Start.String() != "18:30" || occ.End.String() != "20:00" {
			t.Fatalf("unexpected times %s-%s", occ.Start, occ.End)
		}
	}
	startsAt := occurrences[1].Start.On(occurrences[1].Date, jst)
	if want := time.Date(2025, time.March, 3, 18, 30, 0, 0, jst); !startsAt.Equal(want) {
		t.Fatalf("On = %v, want %v", startsAt, want)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	got, err := ParseTimeOfDay("07:05")
	if err != nil || got != NewTimeOfDay(7, 5) || got.String() != "07:05" {
		t.Fatalf("ParseTimeOfDay(07:05) = %v, %v", got, err)
	}
	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd"} {
		if _, err := ParseTimeOfDay(bad); !errors.Is(err, ErrInvalidTimeOfDay) {
			t.Fatalf("ParseTimeOfDay(%q) error = %v", bad, err)
		}
	}
}
