package balancer

import (
	"sync"
	"testing"

	"ntonix-ai/ntonix/pkg/config"
)

// staticHealth reports a fixed health verdict per backend key.
type staticHealth struct {
	mu        sync.Mutex
	unhealthy map[string]bool
}

func newStaticHealth() *staticHealth {
	return &staticHealth{unhealthy: make(map[string]bool)}
}

func (s *staticHealth) IsHealthy(b config.BackendConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unhealthy[b.Key()]
}

func (s *staticHealth) set(b config.BackendConfig, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy[b.Key()] = !healthy
}

func testBackends(weights ...uint32) []config.BackendConfig {
	backends := make([]config.BackendConfig, len(weights))
	for i, w := range weights {
		backends[i] = config.BackendConfig{
			Host:   "backend",
			Port:   uint16(9001 + i),
			Weight: w,
		}
	}
	return backends
}

func TestSelectSmoothSequence(t *testing.T) {
	backends := testBackends(5, 1, 1)
	d := NewDispatcher(newStaticHealth(), backends)

	// Weights [5,1,1] must produce exactly this smoothed order, with
	// ties resolved to the earliest index:
	//   round  accumulators after add   pick
	//   1      [5 1 1]                  0
	//   2      [3 2 2]                  0
	//   3      [1 3 3]                  1 (tie, earliest)
	//   4      [6 -3 4]                 0
	//   5      [4 -2 5]                 2
	//   6      [9 -1 -1]                0
	//   7      [7 0 0]                  0
	want := []int{0, 0, 1, 0, 2, 0, 0}
	for i, wantIdx := range want {
		sel, ok := d.Select()
		if !ok {
			t.Fatalf("Select() #%d returned no backend", i)
		}
		if sel.Index != wantIdx {
			t.Errorf("Select() #%d = index %d, want %d", i, sel.Index, wantIdx)
		}
	}
}

func TestSelectDistribution(t *testing.T) {
	backends := testBackends(5, 1, 1)
	d := NewDispatcher(newStaticHealth(), backends)

	counts := make(map[int]int)
	for i := 0; i < 7; i++ {
		sel, ok := d.Select()
		if !ok {
			t.Fatal("Select() returned no backend")
		}
		counts[sel.Index]++
	}

	if counts[0] != 5 || counts[1] != 1 || counts[2] != 1 {
		t.Errorf("distribution over 7 selections = %v, want {0:5 1:1 2:1}", counts)
	}
}

func TestSelectSkipsUnhealthy(t *testing.T) {
	backends := testBackends(5, 1, 1)
	health := newStaticHealth()
	d := NewDispatcher(health, backends)

	health.set(backends[0], false)

	for i := 0; i < 20; i++ {
		sel, ok := d.Select()
		if !ok {
			t.Fatal("Select() returned no backend with two healthy remaining")
		}
		if sel.Index == 0 {
			t.Fatal("unhealthy backend was selected")
		}
	}

	// Recovery makes it eligible again.
	health.set(backends[0], true)
	seen := false
	for i := 0; i < 7; i++ {
		if sel, _ := d.Select(); sel.Index == 0 {
			seen = true
		}
	}
	if !seen {
		t.Error("recovered backend never selected")
	}
}

func TestSelectAllUnhealthy(t *testing.T) {
	backends := testBackends(1, 1)
	health := newStaticHealth()
	d := NewDispatcher(health, backends)

	health.set(backends[0], false)
	health.set(backends[1], false)

	if _, ok := d.Select(); ok {
		t.Error("Select() succeeded with no healthy backends")
	}
}

func TestSelectNoBackends(t *testing.T) {
	d := NewDispatcher(newStaticHealth(), nil)
	if _, ok := d.Select(); ok {
		t.Error("Select() succeeded with no backends")
	}
}

func TestReconfigureResetsAccumulators(t *testing.T) {
	backends := testBackends(5, 1)
	d := NewDispatcher(newStaticHealth(), backends)

	// Skew the accumulators, then reconfigure with the same set.
	for i := 0; i < 3; i++ {
		d.Select()
	}
	d.Reconfigure(backends)

	// A fresh generation starts its smooth sequence over.
	sel, ok := d.Select()
	if !ok || sel.Index != 0 {
		t.Errorf("first selection after reconfigure = %+v, want index 0", sel)
	}
}

func TestSelectConcurrentTotalsCorrect(t *testing.T) {
	// Under concurrency, totals over a multiple of S selections stay
	// exact because each add is paired with one subtract of S.
	backends := testBackends(5, 1, 1)
	d := NewDispatcher(newStaticHealth(), backends)

	const rounds = 10 // 10 * S(=7) selections
	var mu sync.Mutex
	counts := make(map[int]int)

	var wg sync.WaitGroup
	for g := 0; g < 7; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				sel, ok := d.Select()
				if !ok {
					continue
				}
				mu.Lock()
				counts[sel.Index]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if counts[0] != 50 || counts[1] != 10 || counts[2] != 10 {
		t.Errorf("concurrent distribution = %v, want {0:50 1:10 2:10}", counts)
	}
}
