package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"brewcore/pkg/domain"
)

func TestOutcomeClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "success"},
		{"validation", &domain.ValidationError{Entity: "brews"}, "validation_error"},
		{"lock timeout", &domain.LockTimeoutError{Path: "x", Timeout: time.Second}, "lock_timeout"},
		{"other", errors.New("disk full"), "error"},
	}
	for _, tc := range cases {
		if got := outcome(tc.err); got != tc.want {
			t.Fatalf("outcome(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExpvarRecorderAggregates(t *testing.T) {
	rec := NewExpvarRecorder("")
	rec.Observe("grinders", "create", nil, 10*time.Millisecond)
	rec.Observe("grinders", "create", nil, 5*time.Millisecond)
	rec.Observe("grinders", "create", &domain.ValidationError{Entity: "grinders"}, time.Millisecond)

	snap := rec.Snapshot()
	if got := snap.DurationsMS["grinders.create"]; got != 16 {
		t.Fatalf("durations = %v, want 16ms total", got)
	}
	counts := snap.Outcomes["grinders.create"]
	if counts["success"] != 2 || counts["validation_error"] != 1 {
		t.Fatalf("outcomes = %v", counts)
	}
	// Snapshot is a copy; mutating it must not affect the recorder.
	snap.Outcomes["grinders.create"]["success"] = 99
	if rec.Snapshot().Outcomes["grinders.create"]["success"] != 2 {
		t.Fatal("snapshot aliases recorder state")
	}
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusRecorder: %v", err)
	}
	rec.Observe("brews", "create", nil, 3*time.Millisecond)
	rec.Observe("brews", "create", &domain.LockTimeoutError{Path: "x", Timeout: time.Second}, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	seen := map[string]bool{}
	for _, mf := range families {
		seen[mf.GetName()] = true
	}
	for _, want := range []string{
		"brewcore_storage_operations_total",
		"brewcore_storage_operation_seconds",
		"brewcore_storage_lock_timeouts_total",
	} {
		if !seen[want] {
			t.Fatalf("metric %s not gathered; got %v", want, seen)
		}
	}
	// Double registration must fail rather than silently duplicate.
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatal("expected duplicate registration to error")
	}
}
