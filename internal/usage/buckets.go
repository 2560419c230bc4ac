// Package usage records what each request cost: a structured log line for
// every outcome, a metric record for the pipeline, and for Bedrock-served
// requests a durable row plus pre-computed aggregates.
package usage

import (
	"time"

	"github.com/samber/lo"

	"github.com/planbridge/planbridge/internal/storage"
)

// bucketTypes in ascending width. Every usage row lands in all five.
var bucketTypes = []string{
	storage.BucketMinute,
	storage.BucketHour,
	storage.BucketDay,
	storage.BucketWeek,
	storage.BucketMonth,
}

// BucketStart floors ts to the start of the given bucket in loc. Weeks
// start on weekStart's midnight; months on the first. Unknown bucket types
// floor to the hour.
func BucketStart(ts time.Time, bucketType string, weekStart time.Weekday, loc *time.Location) time.Time {
	t := ts.In(loc)
	switch bucketType {
	case storage.BucketMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	case storage.BucketHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case storage.BucketDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case storage.BucketWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		back := (int(t.Weekday()) - int(weekStart) + 7) % 7
		return day.AddDate(0, 0, -back)
	case storage.BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	}
}

// Buckets returns all five aggregation windows ts lands in.
func Buckets(ts time.Time, weekStart time.Weekday, loc *time.Location) []storage.Bucket {
	return lo.Map(bucketTypes, func(bt string, _ int) storage.Bucket {
		return storage.Bucket{Type: bt, Start: BucketStart(ts, bt, weekStart, loc)}
	})
}
