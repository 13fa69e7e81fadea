// Package runner is the scheduler-triggered task runner.
//
// Each Run classifies its trigger, runs the full harvest when the trigger
// calls for one, and then always checks the task repository for open issues
// assigned to the bot, invoking the harvest action in task mode for each.
//
// Only one run is active at a time. A task-only run requested while another
// is in progress is rejected with ErrBusy; the next cadence picks the tasks
// up. A request that calls for a full harvest (even hour or manual) is
// remembered instead and runs as soon as the active run ends (ErrDeferred).
// Scheduled runs that land in the same minute as the previous, active or
// deferred scheduled run are coalesced with ErrDuplicateSlot, so the two
// cadences firing together at even hours harvest once.
package runner
