// Package wait provides the single bounded-wait primitive used by every
// blocking path in the driver.
//
// A Signal is a broadcast wake-up: state owners call Notify after changing
// something a waiter might be interested in, and waiters re-evaluate their
// condition. Await never blocks without a deadline, and it consults the
// abort function before the condition on every wake so that teardown takes
// precedence over a result that arrived at the same time.
//
//	err := sig.Await(ctx, 500*time.Millisecond, teardown.Err(fwerr.ErrCancelled), func() bool {
//	    return hostSleepAcked
//	})
package wait
