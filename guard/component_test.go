package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/caskli/dbguard/health"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	*f.log = append(*f.log, "start:"+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	*f.log = append(*f.log, "stop:"+f.name)
	return f.stopErr
}

func (f *fakeComponent) ComponentHealth(ctx context.Context) health.ComponentHealth {
	return health.ComponentHealth{Name: f.name, Status: health.StatusHealthy}
}

func TestRegistry_StartOrderStopReverse(t *testing.T) {
	var log []string
	r := NewRegistry(nil)

	for _, name := range []string{"redis", "guard", "server"} {
		if err := r.Register(&fakeComponent{name: name, log: &log}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	want := []string{"start:redis", "start:guard", "start:server", "stop:server", "stop:guard", "stop:redis"}
	if len(log) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], log[i])
		}
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	var log []string
	r := NewRegistry(nil)

	if err := r.Register(&fakeComponent{name: "guard", log: &log}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register(&fakeComponent{name: "guard", log: &log}); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegistry_StartFailureStopsOnlyStarted(t *testing.T) {
	var log []string
	r := NewRegistry(nil)

	_ = r.Register(&fakeComponent{name: "a", log: &log})
	_ = r.Register(&fakeComponent{name: "b", log: &log, startErr: errors.New("port in use")})
	_ = r.Register(&fakeComponent{name: "c", log: &log})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected StartAll to fail")
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], log[i])
		}
	}
}

func TestRegistry_StopErrorsCollected(t *testing.T) {
	var log []string
	r := NewRegistry(nil)

	_ = r.Register(&fakeComponent{name: "a", log: &log, stopErr: errors.New("flush failed")})
	_ = r.Register(&fakeComponent{name: "b", log: &log})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	err := r.StopAll(context.Background())
	if err == nil {
		t.Fatal("expected aggregated stop error")
	}

	// Both components still stopped despite the failure.
	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
}

func TestRegistry_GetAndAll(t *testing.T) {
	var log []string
	r := NewRegistry(nil)

	_ = r.Register(&fakeComponent{name: "guard", log: &log})
	_ = r.Register(&fakeComponent{name: "server", log: &log})

	if c := r.Get("guard"); c == nil || c.Name() != "guard" {
		t.Error("Get should return the registered component")
	}
	if c := r.Get("missing"); c != nil {
		t.Error("Get should return nil for unknown names")
	}
	if all := r.All(); len(all) != 2 || all[0].Name() != "guard" {
		t.Errorf("All should preserve registration order, got %v", all)
	}

	healths := r.HealthAll(context.Background())
	if len(healths) != 2 {
		t.Fatalf("expected 2 health entries, got %d", len(healths))
	}
	if healths[0].Status != health.StatusHealthy {
		t.Errorf("expected healthy, got %s", healths[0].Status)
	}
}
