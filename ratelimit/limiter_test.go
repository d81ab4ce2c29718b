package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_WindowBudget(t *testing.T) {
	l := New(Config{Name: "test", Window: time.Second, MaxRequests: 3}, nil)

	var allowed, denied int
	for i := 0; i < 5; i++ {
		res := l.Check("k")
		if res.Allowed {
			allowed++
		} else {
			denied++
			if res.RetryAfter <= 0 {
				t.Errorf("denied result must carry positive retry-after, got %s", res.RetryAfter)
			}
		}
	}

	if allowed != 3 || denied != 2 {
		t.Errorf("expected 3 allowed / 2 denied, got %d / %d", allowed, denied)
	}
}

func TestLimiter_RemainingCountsDown(t *testing.T) {
	l := New(Config{Name: "test", Window: time.Second, MaxRequests: 3}, nil)

	want := []int{2, 1, 0}
	for i, expected := range want {
		res := l.Check("k")
		if !res.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
		if res.Remaining != expected {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, expected, res.Remaining)
		}
	}
}

func TestLimiter_WindowRollsOver(t *testing.T) {
	l := New(Config{Name: "test", Window: 80 * time.Millisecond, MaxRequests: 3}, nil)

	for i := 0; i < 4; i++ {
		l.Check("k")
	}
	if res := l.Check("k"); res.Allowed {
		t.Fatal("expected denial in exhausted window")
	}

	time.Sleep(100 * time.Millisecond)

	res := l.Check("k")
	if !res.Allowed {
		t.Fatal("expected fresh window to allow")
	}
	if res.Remaining != 2 {
		t.Errorf("expected remaining max-1 = 2, got %d", res.Remaining)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Config{Name: "test", Window: time.Second, MaxRequests: 1}, nil)

	if !l.Check("a").Allowed {
		t.Error("first request for a should pass")
	}
	if l.Check("a").Allowed {
		t.Error("second request for a should be denied")
	}
	if !l.Check("b").Allowed {
		t.Error("key b has its own window")
	}
}

func TestLimiter_OnLimitHook(t *testing.T) {
	var hookName, hookKey string
	l := New(Config{
		Name:        "test",
		Window:      time.Second,
		MaxRequests: 1,
		OnLimit: func(name, key string) {
			hookName, hookKey = name, key
		},
	}, nil)

	l.Check("k")
	l.Check("k")

	if hookName != "test" || hookKey != "k" {
		t.Errorf("expected hook (test, k), got (%s, %s)", hookName, hookKey)
	}
}

func TestLimiter_SweepEvictsStaleKeys(t *testing.T) {
	l := New(Config{Name: "test", Window: 20 * time.Millisecond, MaxRequests: 5}, nil)

	l.Check("stale")
	if l.Keys() != 1 {
		t.Fatalf("expected 1 tracked key, got %d", l.Keys())
	}

	time.Sleep(50 * time.Millisecond)

	// A check on another key triggers the sweep.
	l.Check("fresh")
	if l.Keys() != 1 {
		t.Errorf("expected stale key evicted, got %d tracked", l.Keys())
	}
}

func TestAdaptive_ShrinksUnderStressAndRecovers(t *testing.T) {
	cfg := DefaultAdaptiveConfig("test")
	cfg.MaxRequests = 100
	cfg.MinRequests = 10
	cfg.Smoothing = 1.0 // no smoothing: react to each sample directly
	a := NewAdaptive(cfg, nil)

	if a.CurrentMax() != 100 {
		t.Fatalf("expected baseline 100, got %d", a.CurrentMax())
	}

	a.Adjust(Signals{ConnectionUsage: 0.95})
	if a.CurrentMax() != 80 {
		t.Errorf("expected one 20%% step down to 80, got %d", a.CurrentMax())
	}

	// Sustained stress walks the limit down to the floor, never below.
	for i := 0; i < 20; i++ {
		a.Adjust(Signals{ConnectionUsage: 0.95})
	}
	if a.CurrentMax() != 10 {
		t.Errorf("expected floor 10, got %d", a.CurrentMax())
	}

	// Normal signals restore the baseline step by step.
	for i := 0; i < 20; i++ {
		a.Adjust(Signals{ConnectionUsage: 0.2, ResponseTime: 50 * time.Millisecond})
	}
	if a.CurrentMax() != 100 {
		t.Errorf("expected baseline restored, got %d", a.CurrentMax())
	}
}

func TestAdaptive_SmoothingDampensSpikes(t *testing.T) {
	cfg := DefaultAdaptiveConfig("test")
	cfg.MaxRequests = 100
	cfg.Smoothing = 0.3
	a := NewAdaptive(cfg, nil)

	// Prime with calm signals, then feed one noisy spike. The EMA
	// keeps the smoothed usage below threshold.
	a.Adjust(Signals{ConnectionUsage: 0.2})
	a.Adjust(Signals{ConnectionUsage: 0.95})

	if a.CurrentMax() != 100 {
		t.Errorf("single spike should not shrink the limit, got %d", a.CurrentMax())
	}
}

func TestAdaptive_EachSignalTriggersStress(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
	}{
		{"usage", Signals{ConnectionUsage: 0.9}},
		{"latency", Signals{ResponseTime: 2 * time.Second}},
		{"errors", Signals{ErrorRate: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAdaptiveConfig("test")
			cfg.Smoothing = 1.0
			a := NewAdaptive(cfg, nil)

			a.Adjust(tt.signals)
			if a.CurrentMax() >= cfg.MaxRequests {
				t.Errorf("expected limit below baseline, got %d", a.CurrentMax())
			}
		})
	}
}

func TestAdaptive_InProgressWindowKeepsItsLimit(t *testing.T) {
	cfg := DefaultAdaptiveConfig("test")
	cfg.Window = time.Second
	cfg.MaxRequests = 5
	cfg.MinRequests = 1
	cfg.Smoothing = 1.0
	a := NewAdaptive(cfg, nil)

	// Open a window at limit 5 and spend two requests.
	a.Check("k")
	a.Check("k")

	// Shrink the effective limit below the window's spent count.
	for i := 0; i < 10; i++ {
		a.Adjust(Signals{ConnectionUsage: 0.99})
	}
	if a.CurrentMax() >= 5 {
		t.Fatalf("expected shrunken limit, got %d", a.CurrentMax())
	}

	// The in-progress window still honors its original limit of 5.
	for i := 0; i < 3; i++ {
		if res := a.Check("k"); !res.Allowed {
			t.Fatalf("request %d should still fit the original window limit", i+3)
		}
	}
	if res := a.Check("k"); res.Allowed {
		t.Error("request beyond the original window limit should be denied")
	}
}
