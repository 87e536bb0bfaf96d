package lifecycle

import (
	"context"
	"errors"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		state    State
		name     string
		canStart bool
		canStop  bool
	}{
		{Created, "created", true, false},
		{Starting, "starting", false, false},
		{Started, "started", false, true},
		{Stopping, "stopping", false, false},
		{Stopped, "stopped", true, false},
		{State(42), "unknown", false, false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.state.CanStart(); got != tt.canStart {
			t.Errorf("%s.CanStart() = %v", tt.name, got)
		}
		if got := tt.state.CanStop(); got != tt.canStop {
			t.Errorf("%s.CanStop() = %v", tt.name, got)
		}
	}
}

func TestFuncs(t *testing.T) {
	boom := errors.New("boom")
	var started bool
	f := Funcs{
		Label:   "worker",
		OnStart: func(context.Context) error { started = true; return nil },
		OnStop:  func(context.Context) error { return boom },
	}
	if err := f.Start(context.Background()); err != nil || !started {
		t.Fatalf("Start() = %v, started = %v", err, started)
	}
	if err := f.Stop(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Stop() = %v", err)
	}
	if err := (Funcs{}).Stop(context.Background()); err != nil {
		t.Errorf("empty Funcs Stop() = %v", err)
	}
}

func TestNameOf(t *testing.T) {
	if got := NameOf(Funcs{Label: "jta"}, "fallback"); got != "jta" {
		t.Errorf("NameOf() = %q", got)
	}
	if got := NameOf(Funcs{}, "fallback"); got != "fallback" {
		t.Errorf("NameOf() with empty label = %q", got)
	}
}
