// Package lifecycle defines the start/stop capability shared by every
// long-lived component of an instance, and the states an instance moves
// through.
package lifecycle

import "context"

// Service is a long-lived component the instance starts and stops.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Named is implemented by services that want a readable label in logs and
// metrics.
type Named interface {
	Name() string
}

// State of an instance.
type State int

const (
	Created State = iota
	Starting
	Started
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CanStart reports whether Start is a real transition from s.
func (s State) CanStart() bool { return s == Created || s == Stopped }

// CanStop reports whether Stop is a real transition from s.
func (s State) CanStop() bool { return s == Started }

// Funcs adapts a pair of functions to Service.
type Funcs struct {
	Label   string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (f Funcs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Funcs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

func (f Funcs) Name() string { return f.Label }

// NameOf returns the label for svc, or fallback when it has none.
func NameOf(svc Service, fallback string) string {
	if n, ok := svc.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fallback
}
