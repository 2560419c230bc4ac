package usage

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/planbridge/planbridge/internal/storage"
)

// Property-based checks of the bucket floor: every bucket start is at or
// before its timestamp, within one bucket width of it, and flooring is
// idempotent.

func genTimestamp() gopter.Gen {
	lo := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	hi := time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
	return gen.Int64Range(lo, hi).Map(func(sec int64) time.Time {
		return time.Unix(sec, 0).UTC()
	})
}

func genWeekStart() gopter.Gen {
	return gen.IntRange(0, 6).Map(func(d int) time.Weekday {
		return time.Weekday(d)
	})
}

func TestBucketStartProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("floor never exceeds the timestamp", prop.ForAll(
		func(ts time.Time, weekStart time.Weekday) bool {
			for _, bt := range bucketTypes {
				if BucketStart(ts, bt, weekStart, time.UTC).After(ts) {
					return false
				}
			}
			return true
		},
		genTimestamp(), genWeekStart(),
	))

	properties.Property("floor is within one bucket width", prop.ForAll(
		func(ts time.Time, weekStart time.Weekday) bool {
			widths := map[string]time.Duration{
				storage.BucketMinute: time.Minute,
				storage.BucketHour:   time.Hour,
				storage.BucketDay:    24 * time.Hour,
				storage.BucketWeek:   7 * 24 * time.Hour,
			}
			for bt, width := range widths {
				if ts.Sub(BucketStart(ts, bt, weekStart, time.UTC)) >= width {
					return false
				}
			}
			return true
		},
		genTimestamp(), genWeekStart(),
	))

	properties.Property("flooring is idempotent", prop.ForAll(
		func(ts time.Time, weekStart time.Weekday) bool {
			for _, bt := range bucketTypes {
				once := BucketStart(ts, bt, weekStart, time.UTC)
				twice := BucketStart(once, bt, weekStart, time.UTC)
				if !once.Equal(twice) {
					return false
				}
			}
			return true
		},
		genTimestamp(), genWeekStart(),
	))

	properties.Property("week bucket starts on the configured weekday", prop.ForAll(
		func(ts time.Time, weekStart time.Weekday) bool {
			start := BucketStart(ts, storage.BucketWeek, weekStart, time.UTC)
			return start.Weekday() == weekStart &&
				start.Hour() == 0 && start.Minute() == 0 && start.Second() == 0
		},
		genTimestamp(), genWeekStart(),
	))

	properties.Property("month bucket starts on the first at midnight", prop.ForAll(
		func(ts time.Time, weekStart time.Weekday) bool {
			start := BucketStart(ts, storage.BucketMonth, weekStart, time.UTC)
			return start.Day() == 1 && start.Hour() == 0 &&
				start.Month() == ts.Month() && start.Year() == ts.Year()
		},
		genTimestamp(), genWeekStart(),
	))

	properties.TestingRun(t)
}
