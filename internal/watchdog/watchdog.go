// Package watchdog wraps consumption of an agent-runtime message stream
// with idle and total deadlines, per spec.md §4.8. It is the only approved
// consumer of agent-runtime streams for the Reviewer and health-probe
// paths.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
)

// TimeoutKind distinguishes which deadline fired.
type TimeoutKind string

const (
	KindIdle  TimeoutKind = "idle"
	KindTotal TimeoutKind = "total"
)

// Timeout is the typed error raised when either deadline elapses.
type Timeout struct {
	Kind      TimeoutKind
	TimeoutMs int64
}

func (t *Timeout) Error() string {
	return fmt.Sprintf("watchdog: %s timeout after %dms", t.Kind, t.TimeoutMs)
}

// Watch relays messages from in to the returned channel, closing it and
// sending an error on errc if idle or total elapses first. errc is always
// closed before the goroutine exits — including on ordinary completion of
// in, when no error is sent — so a caller blocked on <-errc after in/out
// drains gets a nil error rather than hanging forever. Both the idle timer
// and the total timer are always stopped before Watch returns, on every
// exit path, so no pending timer is ever leaked.
func Watch(ctx context.Context, in <-chan agentruntime.Message, idle, total time.Duration) (<-chan agentruntime.Message, <-chan error) {
	out := make(chan agentruntime.Message, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		idleTimer := time.NewTimer(idle)
		totalTimer := time.NewTimer(total)
		defer idleTimer.Stop()
		defer totalTimer.Stop()

		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return

			case <-totalTimer.C:
				errc <- &Timeout{Kind: KindTotal, TimeoutMs: total.Milliseconds()}
				return

			case <-idleTimer.C:
				errc <- &Timeout{Kind: KindIdle, TimeoutMs: idle.Milliseconds()}
				return

			case msg, ok := <-in:
				if !ok {
					return
				}
				if !idleTimer.Stop() {
					drain(idleTimer)
				}
				idleTimer.Reset(idle)

				select {
				case out <- msg:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errc
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
