package turn

import (
	"context"
	"errors"

	"github.com/zhouzirui/embedchat/backend/internal/model/event"
)

var (
	errTurnClosed = errors.New("turn already closed")
	errClientGone = errors.New("client disconnected")
)

// Emitter delivers frames to the client in call order. Emit should block
// until the frame has been handed to the transport; an error means the
// client can no longer be reached.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev event.Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev event.Event) error { return f(ctx, ev) }

// guard enforces the frame protocol for one turn: nothing after the
// terminal frame, and the first transport failure cancels the turn.
// It is used from the Run goroutine only.
type guard struct {
	out    Emitter
	cancel context.CancelFunc
	closed bool
	gone   bool
}

func (g *guard) Emit(ctx context.Context, ev event.Event) error {
	if g.closed {
		return errTurnClosed
	}
	if g.gone {
		return errClientGone
	}
	if err := g.out.Emit(ctx, ev); err != nil {
		g.gone = true
		g.cancel()
		return err
	}
	if ev.Terminal() {
		g.closed = true
	}
	return nil
}

// open reports whether frames can still be delivered.
func (g *guard) open() bool {
	return !g.closed && !g.gone
}

// abandon marks the client as unreachable without trying to write.
func (g *guard) abandon() {
	if !g.closed {
		g.gone = true
	}
}
