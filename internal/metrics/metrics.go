// Package metrics wires the core's observability surface (spec.md §6.4)
// against prometheus/client_golang, the teacher's metrics stack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/summary/gauge the core emits. The three
// named in spec.md §6.4 are TasksSubmitTotal, TasksCheckoutTiming and
// TasksTiming; the rest are SPEC_FULL.md §4 supplements mirroring the
// teacher's operational breadth.
type Metrics struct {
	TasksSubmitTotal    *prometheus.CounterVec
	TasksCheckoutTiming prometheus.Summary
	TasksTiming         *prometheus.SummaryVec

	QueueDepth       *prometheus.GaugeVec
	PollResultTotal  *prometheus.CounterVec
	ExecutorInFlight *prometheus.GaugeVec
	SchedulerFirings *prometheus.CounterVec
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test binaries.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksSubmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_submit_total",
			Help: "Number of tasks submitted, by handler name.",
		}, []string{"name"}),
		TasksCheckoutTiming: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "tasks_checkout_timing",
			Help:       "Seconds between a task becoming eligible and run_task starting it.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		TasksTiming: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "tasks_timing",
			Help:       "Handler wall-clock duration in seconds, by handler name.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"name"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasks_queue_depth",
			Help: "Rows claimed on the most recent poll step, by queue.",
		}, []string{"queue"}),
		PollResultTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_poll_result_total",
			Help: "Poll step outcomes, by result kind (empty/handled/transient_error/pool_closed/error).",
		}, []string{"result"}),
		ExecutorInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasks_executor_in_flight",
			Help: "Tasks currently executing on a worker's executor pool, sampled each poll step, by worker name.",
		}, []string{"executor"}),
		SchedulerFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_scheduler_firings_total",
			Help: "Scheduler firing attempts, by schedule id and outcome.",
		}, []string{"id", "outcome"}),
	}

	reg.MustRegister(
		m.TasksSubmitTotal,
		m.TasksCheckoutTiming,
		m.TasksTiming,
		m.QueueDepth,
		m.PollResultTotal,
		m.ExecutorInFlight,
		m.SchedulerFirings,
	)
	return m
}
