// Package scheduler fires named jobs on cron or interval schedules.
//
// Jobs run on robfig/cron's goroutines with a context that is canceled when
// the scheduler stops. Overlap control is left to the job itself.
package scheduler
