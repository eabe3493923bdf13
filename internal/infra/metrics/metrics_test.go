package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveNetworkRequestLabels(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "error"))
	ObserveNetworkRequest("", "", "", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "error"))
	if after-before != 1 {
		t.Fatalf("ожидали +1 к счётчику ошибок, получили %v", after-before)
	}
}

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(PipelineRunsTotal.WithLabelValues("dry_run", "failure"))
	ObserveRun(true, false, time.Now())
	if got := testutil.ToFloat64(PipelineRunsTotal.WithLabelValues("dry_run", "failure")) - before; got != 1 {
		t.Fatalf("ожидали +1 к dry_run/failure, получили %v", got)
	}
}
