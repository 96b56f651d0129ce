package download

import (
	"context"
	"sync"
	"time"
)

// Outcome is the launch verdict reported to the request handler.
type Outcome int

const (
	Started Outcome = iota
	TimedOut
)

func (o Outcome) String() string {
	if o == Started {
		return "started"
	}

	return "timed out"
}

// WorkFunc is a unit of background work. It must call started exactly once,
// as soon as it begins executing and before any slow work.
type WorkFunc func(ctx context.Context, started func())

// Launcher spawns background work and waits, bounded by the start timeout,
// for the work to signal that it has begun.
type Launcher struct {
	startTimeout time.Duration
}

func NewLauncher(startTimeout time.Duration) *Launcher {
	return &Launcher{startTimeout: startTimeout}
}

// Launch runs work on its own goroutine, detached from the caller's
// cancellation but keeping its values, and blocks until the work signals or
// the timeout elapses. A TimedOut verdict does not cancel the work: it may
// still begin later and drive its record to a terminal state of its own.
func (l *Launcher) Launch(ctx context.Context, work WorkFunc) Outcome {
	startedCh := make(chan struct{})

	var once sync.Once
	started := func() {
		once.Do(func() { close(startedCh) })
	}

	go work(context.WithoutCancel(ctx), started)

	select {
	case <-startedCh:
		return Started
	case <-time.After(l.startTimeout):
		return TimedOut
	}
}
