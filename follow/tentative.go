package follow

import (
	"context"
	"log/slog"
)

// Outcome is the result of a state transition that did not fail.
type Outcome int

const (
	// Applied means local state changed and any activity was delivered.
	Applied Outcome = iota
	// Ignored means there was nothing to do.
	Ignored
	// Undelivered means the activity was not accepted by the recipient and
	// the local change was reverted.
	Undelivered
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Undelivered:
		return "undelivered"
	}
	return "unknown"
}

// mutation is a local state change paired with the action that undoes it.
type mutation struct {
	apply  func(ctx context.Context) (bool, error)
	revert func(ctx context.Context) error
}

// tentative applies m, then runs deliver. When delivery fails softly or with an
// error, the change is reverted. A mutation that changed nothing is not
// reverted.
func tentative(ctx context.Context, m mutation, deliver func(ctx context.Context) (bool, error)) (Outcome, error) {
	changed, err := m.apply(ctx)
	if err != nil {
		return Ignored, err
	}

	delivered, err := deliver(ctx)
	if err == nil && delivered {
		return Applied, nil
	}

	if changed {
		if rerr := m.revert(ctx); rerr != nil {
			slog.ErrorContext(ctx, "failed to revert follow state", slog.String("error", rerr.Error()))
			if err == nil {
				err = rerr
			}
		}
	}

	return Undelivered, err
}
