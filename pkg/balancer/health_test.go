package balancer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"ntonix-ai/ntonix/pkg/config"
)

func healthCfg() config.HealthConfig {
	return config.HealthConfig{
		Interval:           5 * time.Second,
		Timeout:            2 * time.Second,
		UnhealthyThreshold: 3,
		HealthyThreshold:   2,
		Path:               "/health",
	}
}

func TestHysteresisDemotion(t *testing.T) {
	b := config.BackendConfig{Host: "b1", Port: 9001, Weight: 1}
	tracker := NewTracker(healthCfg())
	tracker.Reconfigure([]config.BackendConfig{b})

	var transitions []string
	var mu sync.Mutex
	tracker.OnStateChange(func(backend config.BackendConfig, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, string(from)+"->"+string(to))
	})

	// Two failures are not enough.
	tracker.RecordResult(b, false, time.Millisecond)
	tracker.RecordResult(b, false, time.Millisecond)
	if !tracker.IsHealthy(b) {
		t.Fatal("backend demoted before threshold")
	}

	// The third crosses the threshold.
	tracker.RecordResult(b, false, time.Millisecond)
	if tracker.IsHealthy(b) {
		t.Fatal("backend still healthy after 3 consecutive failures")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "healthy->unhealthy" {
		t.Errorf("transitions = %v, want [healthy->unhealthy]", transitions)
	}
}

func TestHysteresisPromotion(t *testing.T) {
	b := config.BackendConfig{Host: "b1", Port: 9001, Weight: 1}
	tracker := NewTracker(healthCfg())
	tracker.Reconfigure([]config.BackendConfig{b})

	for i := 0; i < 3; i++ {
		tracker.RecordResult(b, false, time.Millisecond)
	}

	// One success is not enough.
	tracker.RecordResult(b, true, time.Millisecond)
	if tracker.IsHealthy(b) {
		t.Fatal("backend promoted before threshold")
	}

	// The second restores it.
	tracker.RecordResult(b, true, time.Millisecond)
	if !tracker.IsHealthy(b) {
		t.Fatal("backend not healthy after 2 consecutive successes")
	}
}

func TestFailureResetsSuccessStreak(t *testing.T) {
	b := config.BackendConfig{Host: "b1", Port: 9001, Weight: 1}
	tracker := NewTracker(healthCfg())
	tracker.Reconfigure([]config.BackendConfig{b})

	for i := 0; i < 3; i++ {
		tracker.RecordResult(b, false, time.Millisecond)
	}

	// success, failure, success: streak broken, still unhealthy.
	tracker.RecordResult(b, true, time.Millisecond)
	tracker.RecordResult(b, false, time.Millisecond)
	tracker.RecordResult(b, true, time.Millisecond)
	if tracker.IsHealthy(b) {
		t.Error("interleaved failure should reset the success streak")
	}
}

func TestDrainingIgnoresProbes(t *testing.T) {
	b := config.BackendConfig{Host: "b1", Port: 9001, Weight: 1}
	tracker := NewTracker(healthCfg())
	tracker.Reconfigure([]config.BackendConfig{b})

	tracker.SetState(b, Draining)
	if tracker.IsHealthy(b) {
		t.Fatal("draining backend reported healthy")
	}

	// Neither failures nor successes move a draining backend.
	for i := 0; i < 5; i++ {
		tracker.RecordResult(b, true, time.Millisecond)
		tracker.RecordResult(b, false, time.Millisecond)
	}
	for _, h := range tracker.Snapshot() {
		if h.State != Draining {
			t.Errorf("state = %s, want draining", h.State)
		}
	}

	// Operator brings it back.
	tracker.SetState(b, Healthy)
	if !tracker.IsHealthy(b) {
		t.Error("backend not healthy after operator reset")
	}
}

func TestReconfigurePreservesSurvivors(t *testing.T) {
	b1 := config.BackendConfig{Host: "b1", Port: 9001, Weight: 1}
	b2 := config.BackendConfig{Host: "b2", Port: 9002, Weight: 1}
	b3 := config.BackendConfig{Host: "b3", Port: 9003, Weight: 1}

	tracker := NewTracker(healthCfg())
	tracker.Reconfigure([]config.BackendConfig{b1, b2})

	// Put b2 one failure into its streak.
	tracker.RecordResult(b2, false, time.Millisecond)

	// Reload with [b2, b3].
	tracker.Reconfigure([]config.BackendConfig{b2, b3})

	snapshot := tracker.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snapshot))
	}

	for _, h := range snapshot {
		switch h.Backend.Key() {
		case "b1:9001":
			t.Error("removed backend still tracked")
		case "b2:9002":
			if h.ConsecutiveFailures != 1 {
				t.Errorf("b2 counters reset: failures = %d, want 1", h.ConsecutiveFailures)
			}
			if h.State != Healthy {
				t.Errorf("b2 state = %s, want healthy", h.State)
			}
		case "b3:9003":
			if h.State != Healthy || h.ConsecutiveFailures != 0 || h.ConsecutiveSuccesses != 0 {
				t.Errorf("b3 should start healthy with zeroed counters, got %+v", h)
			}
		}
	}
}

func TestRecordResultForRemovedBackend(t *testing.T) {
	b := config.BackendConfig{Host: "b1", Port: 9001, Weight: 1}
	tracker := NewTracker(healthCfg())
	tracker.Reconfigure([]config.BackendConfig{b})
	tracker.Reconfigure(nil)

	// A probe completing after removal must be a no-op, not a panic.
	tracker.RecordResult(b, false, time.Millisecond)
	if n := len(tracker.Snapshot()); n != 0 {
		t.Errorf("len(Snapshot()) = %d, want 0", n)
	}
}

// backendFromURL converts an httptest server URL into a BackendConfig.
func backendFromURL(t *testing.T, raw string) config.BackendConfig {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return config.BackendConfig{Host: u.Hostname(), Port: uint16(port), Weight: 1}
}

func TestProbeOnce(t *testing.T) {
	var gotUA, gotConn string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotUA = r.Header.Get("User-Agent")
		gotConn = r.Header.Get("Connection")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tracker := NewTracker(healthCfg())
	prober := NewProber(tracker, healthCfg())

	b := backendFromURL(t, srv.URL)
	if !prober.ProbeOnce(context.Background(), b) {
		t.Fatal("ProbeOnce() = false for healthy backend")
	}
	if gotUA != "NTONIX-HealthChecker/1.0" {
		t.Errorf("probe User-Agent = %q", gotUA)
	}
	if gotConn != "close" {
		t.Errorf("probe Connection = %q, want close", gotConn)
	}
}

func TestProbeOnceFailures(t *testing.T) {
	t.Run("5xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		prober := NewProber(NewTracker(healthCfg()), healthCfg())
		if prober.ProbeOnce(context.Background(), backendFromURL(t, srv.URL)) {
			t.Error("ProbeOnce() = true for 500 response")
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		b := backendFromURL(t, srv.URL)
		srv.Close()

		prober := NewProber(NewTracker(healthCfg()), healthCfg())
		if prober.ProbeOnce(context.Background(), b) {
			t.Error("ProbeOnce() = true for refused connection")
		}
	})
}
