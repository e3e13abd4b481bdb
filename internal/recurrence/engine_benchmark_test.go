package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineExpand(b *testing.B) {
	engine := NewEngine(nil)
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, jst)

	rule := Rule{
		Kind:      KindWeekly,
		StartDate: start,
		EndDate:   start.AddDate(0, 3, 0),
		StartTime: NewTimeOfDay(9, 0),
		EndTime:   NewTimeOfDay(10, 30),
		Weekdays:  []int{1, 2, 3, 4, 5},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dates, err := engine.Expand(rule)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(dates) == 0 {
			b.Fatal("expected dates to be generated")
		}
	}
}
