package sok

import "sync/atomic"

// continuousFn is a continuous-interest callback: invoked synchronously on
// the Selector's loop goroutine on every readiness event in its direction
// until it returns false. It must not block or perform heavy computation —
// it runs inline with the readiness loop and would stall every other
// socket.
type continuousFn func() (keepGoing bool)

// waiter is a one-shot suspension: select() parks the calling goroutine by
// blocking on done until the Selector sends a result.
type waiter struct {
	done chan error
}

// Registration (a.k.a. selection key) is the per-descriptor handle
// generalized from gaio's fdDesc{readers, writers list.List}: instead of a
// FIFO of queued aiocb operations per direction, each direction holds at
// most one one-shot waiter XOR one continuous callback at any instant, per
// spec.md's interest-mask invariant.
type Registration struct {
	fd  int
	sel *Selector

	// mutated only on the Selector's loop goroutine.
	readWaiter  *waiter
	writeWaiter *waiter
	readCB      continuousFn
	writeCB     continuousFn

	closed atomic.Bool

	// onClose, if set, is invoked from closeLocked on every transition to
	// closed regardless of cause — including a hangup/error observed by the
	// selector loop while neither direction has a waiter or continuous
	// callback armed. This is the only path that reaches the owning socket
	// when it is otherwise idle, so it must not itself call back into
	// Select/SelectAlways/Close (those block on the loop goroutine via
	// submit and would deadlock if invoked from here).
	onClose func(error)
}

// Closed reports whether this registration has transitioned to closed.
func (r *Registration) Closed() bool { return r.closed.Load() }

// Select suspends the caller until fd becomes ready in dir. It fails with
// ErrCancelled if the registration is already closed when the call arms or
// the selector stops first; a Close while it is pending resumes it with
// Close's cause.
// Arming a one-shot waiter clears any continuous callback in the same
// direction (and vice versa) per spec.md §3's mutual-exclusion invariant.
func (r *Registration) Select(dir direction) error {
	w := &waiter{done: make(chan error, 1)}
	if err := r.sel.submit(func() {
		r.armOneShotLocked(dir, w)
	}); err != nil {
		return err
	}
	return <-w.done
}

// SelectAlways arms a continuous callback for dir: invoked on every
// readiness event until it returns false or an error occurs. Supersedes any
// pending one-shot waiter in the same direction (which resumes with
// ErrCancelled) per spec.md §9's Open Question decision.
func (r *Registration) SelectAlways(dir direction, cb continuousFn) error {
	done := make(chan error, 1)
	if err := r.sel.submit(func() {
		r.armContinuousLocked(dir, cb, done)
	}); err != nil {
		return err
	}
	return <-done
}

// armOneShotLocked must only run on the selector loop goroutine.
func (r *Registration) armOneShotLocked(dir direction, w *waiter) {
	if r.closed.Load() {
		w.done <- ErrCancelled
		return
	}
	switch dir {
	case dirRead:
		r.cancelReadLocked(ErrCancelled)
		r.readWaiter = w
	case dirWrite:
		r.cancelWriteLocked(ErrCancelled)
		r.writeWaiter = w
	}
	r.sel.rearm(r)
}

// armContinuousLocked reports arming success/failure
// back through a channel without reusing waiter (whose done is consumed by
// readiness, not by the arm call itself).
func (r *Registration) armContinuousLocked(dir direction, cb continuousFn, armed chan error) {
	if r.closed.Load() {
		armed <- ErrCancelled
		close(armed)
		return
	}
	switch dir {
	case dirRead:
		r.cancelReadLocked(ErrCancelled)
		r.readCB = cb
	case dirWrite:
		r.cancelWriteLocked(ErrCancelled)
		r.writeCB = cb
	}
	r.sel.rearm(r)
	close(armed)
}

func (r *Registration) cancelReadLocked(cause error) {
	if r.readWaiter != nil {
		r.readWaiter.done <- cause
		r.readWaiter = nil
	}
	r.readCB = nil
}

func (r *Registration) cancelWriteLocked(cause error) {
	if r.writeWaiter != nil {
		r.writeWaiter.done <- cause
		r.writeWaiter = nil
	}
	r.writeCB = nil
}

// interestLocked reports which directions currently need polling.
func (r *Registration) interestLocked() (read, write bool) {
	return r.readWaiter != nil || r.readCB != nil, r.writeWaiter != nil || r.writeCB != nil
}

// Close transitions the registration to closed, wakes pending waiters and
// continuous callbacks with cause (defaults to ErrNormalClose), removes it
// from the selector's registry, and closes the fd.
func (r *Registration) Close(cause error) error {
	if cause == nil {
		cause = ErrNormalClose
	}
	done := make(chan struct{})
	err := r.sel.submit(func() {
		r.closeLocked(cause)
		close(done)
	})
	if err != nil {
		// Selector already stopped; still finalize locally.
		r.closeLocked(cause)
		return nil
	}
	<-done
	return nil
}

func (r *Registration) closeLocked(cause error) {
	if r.closed.Swap(true) {
		return
	}
	r.cancelReadLocked(cause)
	r.cancelWriteLocked(cause)
	r.sel.deregister(r, cause)
	if r.onClose != nil {
		r.onClose(cause)
	}
}
