package schedule

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger is the daily minute/hour at which a snapshot job fires.
type Trigger struct {
	Minute int
	Hour   int
}

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RandomTrigger picks a uniformly random time of day.
func RandomTrigger(rng *rand.Rand) Trigger {
	return Trigger{Minute: rng.Intn(60), Hour: rng.Intn(24)}
}

func (t Trigger) Valid() bool {
	return t.Minute >= 0 && t.Minute <= 59 && t.Hour >= 0 && t.Hour <= 23
}

// Spec renders the trigger as a five-field cron expression.
func (t Trigger) Spec() string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

func (t Trigger) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Schedule parses the trigger as a daily cron schedule.
func (t Trigger) Schedule() (cron.Schedule, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid trigger %s", t)
	}
	return dailyParser.Parse(t.Spec())
}

// NextRuns returns the next n fire times after from, in from's location.
func (t Trigger) NextRuns(from time.Time, n int) ([]time.Time, error) {
	sched, err := t.Schedule()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		if next.IsZero() {
			break
		}
		out = append(out, next)
	}
	return out, nil
}
