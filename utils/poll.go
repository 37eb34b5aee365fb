// Package utils houses small helpers shared by the stagecast services:
// a cancellable timed-polling primitive, a panic-recovering HTTP mux and
// error handling helpers.
package utils

import (
	"context"
	"time"
)

// Predicate reports whether the condition being polled for has been reached.
// A non-nil error aborts the poll.
type Predicate func(ctx context.Context) (bool, error)

// Poll evaluates pred every interval until it reports true, the deadline
// elapses, or ctx is cancelled. It returns (true, nil) if the condition was
// observed, (false, nil) if the deadline elapsed first, and (false, err) if
// pred errored or ctx was cancelled.
//
// The predicate is evaluated once immediately before any waiting, so a
// condition that already holds never costs an interval. A deadline <= 0
// returns (false, nil) without evaluating the predicate; callers use this to
// skip straight to their fallback behaviour.
func Poll(ctx context.Context, interval, deadline time.Duration, pred Predicate) (bool, error) {
	if deadline <= 0 {
		return false, nil
	}

	ok, err := pred(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	chk := time.NewTicker(interval)
	defer chk.Stop()
	tmo := time.NewTimer(deadline)
	defer tmo.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-tmo.C:
			return false, nil
		case <-chk.C:
			ok, err := pred(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
}
