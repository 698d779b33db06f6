package internal

import "time"

const (
	defaultDailyUploadLimit = 10
	quotaDayLayout          = "2006-01-02"
)

type uploadCounter struct {
	day   string
	count int
}

// uploadQuota counts uploads per username per calendar day. Callers hold the
// room lock.
type uploadQuota struct {
	limit    int
	counters map[string]*uploadCounter
}

func newUploadQuota(limit int) *uploadQuota {
	if limit <= 0 {
		limit = defaultDailyUploadLimit
	}
	return &uploadQuota{limit: limit, counters: make(map[string]*uploadCounter)}
}

// quotaDay is the calendar date used as the counter key.
func quotaDay(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(quotaDayLayout)
}

// current resets a stale counter and returns the count for day.
func (q *uploadQuota) current(username, day string) int {
	counter, ok := q.counters[username]
	if !ok {
		counter = &uploadCounter{day: day}
		q.counters[username] = counter
	}
	if counter.day != day {
		counter.day = day
		counter.count = 0
	}
	return counter.count
}

func (q *uploadQuota) allow(username, day string) bool {
	return q.current(username, day) < q.limit
}

func (q *uploadQuota) record(username, day string) {
	q.current(username, day)
	q.counters[username].count++
}
