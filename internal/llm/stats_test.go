package llm

import (
	"math"
	"testing"
	"time"
)

// fakeClock returns a CallStats whose clock the test moves by hand.
func fakeClock(window time.Duration) (*CallStats, *time.Time) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewCallStats(window)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestCallStatsPercentiles(t *testing.T) {
	s, _ := fakeClock(time.Hour)
	for _, ms := range []int{500, 100, 400, 200, 300} {
		s.Record(time.Duration(ms)*time.Millisecond, "")
	}

	snap := s.Snapshot()
	if snap.Calls != 5 {
		t.Fatalf("expected calls=5, got %d", snap.Calls)
	}
	if snap.Failed != 0 || snap.Failures != nil {
		t.Fatalf("expected no failures, got %d %v", snap.Failed, snap.Failures)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if math.Abs(snap.P95Ms-480) > 1e-9 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if math.Abs(snap.P99Ms-496) > 1e-9 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestCallStatsCountsFailuresByClass(t *testing.T) {
	s, _ := fakeClock(time.Hour)
	s.Record(time.Second, ClassRateLimit)
	s.Record(time.Second, ClassRateLimit)
	s.Record(2*time.Second, ClassTimeout)
	s.Record(time.Second, "")

	snap := s.Snapshot()
	if snap.Calls != 4 || snap.Failed != 3 {
		t.Fatalf("expected calls=4 failed=3, got calls=%d failed=%d", snap.Calls, snap.Failed)
	}
	if snap.Failures["rate_limit"] != 2 || snap.Failures["timeout"] != 1 || len(snap.Failures) != 2 {
		t.Fatalf("unexpected failures %v", snap.Failures)
	}
}

func TestCallStatsWindowExpiresOldCalls(t *testing.T) {
	s, now := fakeClock(time.Minute)
	s.Record(100*time.Millisecond, ClassConnection)

	*now = now.Add(2 * time.Minute)
	if snap := s.Snapshot(); snap.Calls != 0 {
		t.Fatalf("expected calls=0 after the window, got %d", snap.Calls)
	}

	s.Record(200*time.Millisecond, "")
	snap := s.Snapshot()
	if snap.Calls != 1 || snap.Failed != 0 {
		t.Fatalf("expected one successful call, got calls=%d failed=%d", snap.Calls, snap.Failed)
	}
	if snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected min=max=200, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestCallStatsNegativeLatencyIsZero(t *testing.T) {
	s, _ := fakeClock(time.Hour)
	s.Record(-time.Second, "")
	snap := s.Snapshot()
	if snap.Calls != 1 || snap.MaxMs != 0 {
		t.Fatalf("expected one call clamped to 0ms, got calls=%d max=%d", snap.Calls, snap.MaxMs)
	}
}
