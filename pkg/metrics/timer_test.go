package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimer_Duration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	if d := timer.Duration(); d < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", d)
	}
}

func TestTimer_ObserveDuration(t *testing.T) {
	var observed []float64
	observer := prometheus.ObserverFunc(func(v float64) { observed = append(observed, v) })

	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	timer.ObserveDuration(observer)

	if len(observed) != 1 {
		t.Fatalf("expected one observation, got %d", len(observed))
	}
	if observed[0] < 0.02 {
		t.Errorf("observed %fs, want >= 0.02s", observed[0])
	}
}

func TestTimer_ObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_volume_operation_duration_seconds",
		Help: "Operation duration used by the timer test",
	}, []string{"operation"})

	NewTimer().ObserveDurationVec(vec, "attach")
	NewTimer().ObserveDurationVec(vec, "attach")
	NewTimer().ObserveDurationVec(vec, "mount")

	if n := testutil.CollectAndCount(vec); n != 2 {
		t.Errorf("expected one series per operation, got %d", n)
	}
}

func TestTimer_RealHistograms(t *testing.T) {
	before := testutil.CollectAndCount(VolumeOperationDuration)

	NewTimer().ObserveDurationVec(VolumeOperationDuration, "timer_test")
	NewTimer().ObserveDuration(AttachWaitDuration)

	if n := testutil.CollectAndCount(VolumeOperationDuration); n != before+1 {
		t.Errorf("expected a new operation series, got %d series (was %d)", n, before)
	}
}
