package walk

import "context"

// StopAfter returns a predicate that allows exactly n steps. n <= 0 never stops.
func StopAfter(n int) func() bool {
	if n <= 0 {
		return func() bool { return false }
	}
	calls := 0
	return func() bool {
		if calls >= n {
			return true
		}
		calls++
		return false
	}
}

// StopOnContext stops once ctx is cancelled.
func StopOnContext(ctx context.Context) func() bool {
	return func() bool {
		return ctx.Err() != nil
	}
}

// StopAny stops as soon as one of preds does. Every predicate is evaluated
// on each call so counters stay in step.
func StopAny(preds ...func() bool) func() bool {
	return func() bool {
		stop := false
		for _, p := range preds {
			if p != nil && p() {
				stop = true
			}
		}
		return stop
	}
}
