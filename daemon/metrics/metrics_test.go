// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"actionloop/mainloop"
)

type metricsAction struct {
	mainloop.BaseAction
	name string
	err  error
}

func (a *metricsAction) Name() string { return a.name }
func (a *metricsAction) Run() error   { return a.err }

func TestActionsTotal(t *testing.T) {
	ActionsTotal.Reset()

	ActionsTotal.WithLabelValues("succeeded").Inc()
	ActionsTotal.WithLabelValues("failed").Inc()
	ActionsTotal.WithLabelValues("succeeded").Inc()

	if got := testutil.ToFloat64(ActionsTotal.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("ActionsTotal succeeded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ActionsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("ActionsTotal failed = %v, want 1", got)
	}
}

func TestActionDuration(t *testing.T) {
	ActionDuration.Reset()

	ActionDuration.WithLabelValues("succeeded").Observe(0.5)
	ActionDuration.WithLabelValues("failed").Observe(5.2)

	count := testutil.CollectAndCount(ActionDuration)
	if count == 0 {
		t.Error("ActionDuration did not collect any metrics")
	}
}

func TestAPIRequests(t *testing.T) {
	APIRequests.Reset()

	APIRequests.WithLabelValues("GET", "/api/actions", "200").Inc()
	APIRequests.WithLabelValues("GET", "/api/actions", "200").Inc()
	APIRequests.WithLabelValues("POST", "/api/actions", "201").Inc()

	if got := testutil.ToFloat64(APIRequests.WithLabelValues("GET", "/api/actions", "200")); got != 2 {
		t.Errorf("APIRequests GET/200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(APIRequests.WithLabelValues("POST", "/api/actions", "201")); got != 1 {
		t.Errorf("APIRequests POST/201 = %v, want 1", got)
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	collectors := []prometheus.Collector{
		ActionsTotal,
		ActionDuration,
		QueueLength,
		ActiveActions,
		SleepingActions,
		APIRequests,
		APIRequestDuration,
		ErrorsTotal,
		RetryAttempts,
		BuildInfo,
	}

	for i, c := range collectors {
		if c == nil {
			t.Errorf("collector at index %d is nil", i)
		}
	}
}

func TestRecordAPIRequest(t *testing.T) {
	APIRequests.Reset()
	RecordAPIRequest("GET", "/api/test", "200", 0.123)

	if got := testutil.ToFloat64(APIRequests.WithLabelValues("GET", "/api/test", "200")); got != 1 {
		t.Errorf("RecordAPIRequest count = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()
	RecordError("timeout")

	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("timeout")); got != 1 {
		t.Errorf("RecordError count = %v, want 1", got)
	}
}

func TestRecordRetry(t *testing.T) {
	RetryAttempts.Reset()
	RecordRetry("resize-image")

	if got := testutil.ToFloat64(RetryAttempts.WithLabelValues("resize-image")); got != 1 {
		t.Errorf("RecordRetry count = %v, want 1", got)
	}
}

func TestSetBuildInfo(t *testing.T) {
	BuildInfo.Reset()
	SetBuildInfo("0.1.0", "go1.25")

	if got := testutil.ToFloat64(BuildInfo.WithLabelValues("0.1.0", "go1.25")); got != 1 {
		t.Errorf("SetBuildInfo = %v, want 1", got)
	}
}

func TestCollectorTracksLifecycle(t *testing.T) {
	ActionsTotal.Reset()
	ActionDuration.Reset()

	loop := mainloop.New(2, nil)
	defer loop.Shutdown()

	NewCollector(loop)

	loop.Enqueue(&metricsAction{name: "ok"})
	loop.Enqueue(&metricsAction{name: "bad", err: errBoom})
	loop.WaitUntilDone()

	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(ActionsTotal.WithLabelValues("succeeded")) < 1 ||
		testutil.ToFloat64(ActionsTotal.WithLabelValues("failed")) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("expected both a succeeded and a failed action to be recorded")
		}
		time.Sleep(time.Millisecond)
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
