// Package shutdown coordinates "stop now" across independently running tasks.
//
// A Signal is a sending handle. Any Trigger, or closing the last handle, is
// observed exactly once by every Listener subscribed at that moment.
package shutdown

import (
	"context"

	"github.com/angeloszaimis/devserve/internal/broadcast"
)

// Signal is one sending handle of a shutdown signal.
type Signal struct {
	tx *broadcast.Sender[struct{}]
}

// Listener observes a shutdown signal.
type Listener struct {
	rx *broadcast.Receiver[struct{}]
}

// New creates a shutdown signal.
func New() *Signal {
	return &Signal{tx: broadcast.New[struct{}](1)}
}

// Clone returns another handle; the signal stays idle until every handle is
// closed or one of them triggers.
func (s *Signal) Clone() *Signal {
	return &Signal{tx: s.tx.Clone()}
}

// Trigger asks every current listener to shut down.
func (s *Signal) Trigger() {
	_, _ = s.tx.Send(struct{}{})
}

// Close releases this handle.
func (s *Signal) Close() {
	s.tx.Close()
}

// Subscribe returns a listener that sees signals sent from now on.
func (s *Signal) Subscribe() *Listener {
	return &Listener{rx: s.tx.Subscribe()}
}

// Done is readable once a shutdown has been requested.
func (l *Listener) Done() <-chan struct{} {
	return l.rx.C()
}

// Wait blocks until shutdown is requested or ctx ends.
func (l *Listener) Wait(ctx context.Context) error {
	select {
	case <-l.rx.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context returns a child of parent that is cancelled on shutdown.
func (l *Listener) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer cancel()
		_ = l.Wait(ctx)
	}()

	return ctx, cancel
}

// Close stops listening.
func (l *Listener) Close() {
	l.rx.Close()
}
