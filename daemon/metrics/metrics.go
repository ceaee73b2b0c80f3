// SPDX-License-Identifier: LGPL-3.0-or-later

// Package metrics exposes the scheduler's state as Prometheus metrics,
// fed entirely by subscribing to the MainLoop's signal bus rather than
// by polling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"actionloop/mainloop"
)

var (
	// ActionsTotal tracks completed actions by terminal status.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mainloop_actions_total",
			Help: "Total number of actions that have finished, by outcome",
		},
		[]string{"status"},
	)

	// ActionDuration tracks the wall-clock duration of each action run,
	// measured from job-started to its terminal event.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mainloop_action_duration_seconds",
			Help:    "Action run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~14 minutes
		},
		[]string{"status"},
	)

	// QueueLength mirrors MainLoop.GetQueueLength().
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mainloop_queue_length",
			Help: "Sum of queue, force-start and running pools",
		},
	)

	// ActiveActions tracks currently running actions.
	ActiveActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mainloop_active_actions",
			Help: "Number of currently running actions",
		},
	)

	// SleepingActions tracks actions currently suspended.
	SleepingActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mainloop_sleeping_actions",
			Help: "Number of running actions currently suspended",
		},
	)

	// APIRequests tracks HTTP API requests.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mainloop_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// APIRequestDuration tracks API request duration.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mainloop_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// ErrorsTotal tracks errors by type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mainloop_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)

	// RetryAttempts counts retry attempts reported through RecordRetry.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mainloop_retry_attempts_total",
			Help: "Total number of action retry attempts",
		},
		[]string{"action"},
	)

	// BuildInfo provides build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mainloop_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

// Collector wires a MainLoop's signal bus into the package's
// Prometheus metrics. Starting it installs subscribers for the
// lifetime of the loop; there is nothing to unregister.
type Collector struct {
	loop      *mainloop.MainLoop
	startedAt map[mainloop.Action]time.Time
}

// NewCollector subscribes to loop's signal bus and returns the
// collector. The gauges are refreshed on signal-bus events only; there
// is no periodic sampling.
func NewCollector(loop *mainloop.MainLoop) *Collector {
	c := &Collector{
		loop:      loop,
		startedAt: make(map[mainloop.Action]time.Time),
	}

	loop.On(mainloop.EventJobStarted, c.onStarted)
	loop.On(mainloop.EventJobSucceeded, c.onSucceeded)
	loop.On(mainloop.EventJobAborted, c.onAborted)
	loop.On(mainloop.EventQueueEmpty, c.onQueueEmpty)

	return c
}

func (c *Collector) onStarted(args ...interface{}) {
	job := args[0].(*mainloop.Job)
	c.startedAt[job.Action()] = time.Now()
	c.refreshGauges()
}

func (c *Collector) onSucceeded(args ...interface{}) {
	job := args[0].(*mainloop.Job)
	c.finish(job, "succeeded")
}

func (c *Collector) onAborted(args ...interface{}) {
	job := args[0].(*mainloop.Job)
	c.finish(job, "failed")
	ErrorsTotal.WithLabelValues("action_failed").Inc()
}

func (c *Collector) finish(job *mainloop.Job, status string) {
	ActionsTotal.WithLabelValues(status).Inc()
	if start, ok := c.startedAt[job.Action()]; ok {
		ActionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		delete(c.startedAt, job.Action())
	}
	c.refreshGauges()
}

func (c *Collector) onQueueEmpty(args ...interface{}) {
	c.refreshGauges()
}

func (c *Collector) refreshGauges() {
	QueueLength.Set(float64(c.loop.GetQueueLength()))
	ActiveActions.Set(float64(len(c.loop.GetRunningActions())))
	SleepingActions.Set(float64(c.loop.SleepingCount()))
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, endpoint, statusCode string, durationSeconds float64) {
	APIRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordError records an error.
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRetry records a retry attempt.
func RecordRetry(actionName string) {
	RetryAttempts.WithLabelValues(actionName).Inc()
}

// SetBuildInfo sets build information.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
