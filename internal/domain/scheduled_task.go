package domain

// ScheduledTask is one row of the scheduled_task table: a stable cron
// entry that the Scheduler arms a timer against. Rewriting CronExpr on
// upsert only changes future firings.
type ScheduledTask struct {
	ID       string
	CronExpr string
}
