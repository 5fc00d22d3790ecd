package forward

import (
	"fmt"

	"github.com/samirkhoja/hookbin/internal/model"
)

// attempt tracks one forward: Idle -> InFlight -> {Succeeded, TimedOut, TransportFailed}.
type attempt struct {
	state model.ForwardState
}

func (a *attempt) current() model.ForwardState {
	if a.state == "" {
		return model.ForwardIdle
	}
	return a.state
}

func (a *attempt) transition(next model.ForwardState) error {
	cur := a.current()
	switch {
	case cur == model.ForwardIdle && next == model.ForwardInFlight:
	case cur == model.ForwardInFlight && next.Terminal():
	default:
		return fmt.Errorf("invalid forward transition %s -> %s", cur, next)
	}
	a.state = next
	return nil
}

// advance is transition for call sites whose order is fixed by Forward itself.
// An invalid step there is a bug, not a runtime condition.
func (a *attempt) advance(next model.ForwardState) {
	if err := a.transition(next); err != nil {
		panic(err)
	}
}
