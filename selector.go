package sok

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Selector owns the readiness loop, the registry of active registrations,
// and a self-wake descriptor, generalized from gaio's watcher: where gaio
// queues aiocb read/write operations per fd and drains them as the poller
// reports readiness, Selector instead drives Registration's one-shot and
// continuous waiters directly. The pending-command double buffer
// (pendingCreate/pendingProcessing swapped under pendingMu, woken via a
// self-wake write) is carried over from watcher.go's
// pendingCreate/pendingProcessing/pendingMutex/notifyPending pattern.
type Selector struct {
	cfg Config
	pfd poller

	wakeR, wakeW int

	pendingMu         sync.Mutex
	pendingCreate     []func()
	pendingProcessing []func()

	registry map[int]*Registration // loop-goroutine-only

	die      chan struct{}
	dieOnce  sync.Once
	stopped  atomic.Bool
	loopDone chan struct{}
}

// NewSelector starts a Selector's readiness loop on a dedicated goroutine.
func NewSelector(opts ...Option) (*Selector, error) {
	cfg := buildConfig(opts...)

	pfd, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}

	fds, err := selfWakePipe()
	if err != nil {
		_ = pfd.close()
		return nil, err
	}

	s := &Selector{
		cfg:      cfg,
		pfd:      pfd,
		wakeR:    fds[0],
		wakeW:    fds[1],
		registry: make(map[int]*Registration),
		die:      make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if err := s.pfd.add(s.wakeR); err != nil {
		_ = pfd.close()
		return nil, err
	}
	if err := s.pfd.modify(s.wakeR, true, false); err != nil {
		_ = pfd.close()
		return nil, err
	}

	go s.loop()
	return s, nil
}

// Register adds fd (which must already be non-blocking) to the registry
// with an empty interest mask.
func (s *Selector) Register(fd int) (*Registration, error) {
	reg := &Registration{fd: fd, sel: s}
	done := make(chan error, 1)
	err := s.submit(func() {
		if err := s.pfd.add(fd); err != nil {
			done <- err
			return
		}
		s.registry[fd] = reg
		done <- nil
	})
	if err != nil {
		return nil, err
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return reg, nil
}

// deregister removes reg from the registry and closes its fd. Must only run
// on the loop goroutine (called from Registration.closeLocked).
func (s *Selector) deregister(reg *Registration, cause error) {
	delete(s.registry, reg.fd)
	_ = s.pfd.remove(reg.fd)
	_ = unix.Close(reg.fd)
	Logger.Debug().Int("fd", reg.fd).Str("cause", cause.Error()).Msg("registration closed")
}

// rearm recomputes and applies reg's poller interest. Must only run on the
// loop goroutine.
func (s *Selector) rearm(reg *Registration) {
	if reg.closed.Load() {
		return
	}
	read, write := reg.interestLocked()
	if err := s.pfd.modify(reg.fd, read, write); err != nil {
		Logger.Warn().Int("fd", reg.fd).Err(err).Msg("failed to rearm interest")
	}
}

// submit queues cmd to run on the loop goroutine and wakes the poll call.
// Fails with ErrCancelled once the selector has stopped.
func (s *Selector) submit(cmd func()) error {
	if s.stopped.Load() {
		return ErrCancelled
	}
	s.pendingMu.Lock()
	s.pendingCreate = append(s.pendingCreate, cmd)
	s.pendingMu.Unlock()
	s.wake()
	return nil
}

func (s *Selector) wake() {
	var b [1]byte
	_, _ = unix.Write(s.wakeW, b[:])
}

// Close stops the readiness loop: every pending waiter and continuous
// callback across all registrations resumes with ErrCancelled, every
// registered fd is closed, and the poll primitive is released.
func (s *Selector) Close() error {
	s.dieOnce.Do(func() {
		s.stopped.Store(true)
		close(s.die)
		s.wake()
	})
	<-s.loopDone
	return nil
}

func (s *Selector) loop() {
	defer close(s.loopDone)
	defer func() {
		for _, reg := range s.registry {
			reg.closeLocked(ErrCancelled)
		}
		_ = unix.Close(s.wakeR)
		_ = unix.Close(s.wakeW)
		_ = s.pfd.close()
	}()

	Logger.Debug().Msg("selector loop starting")

	events := make([]readyEvent, 0, maxPollEvents)
	wakeBuf := make([]byte, s.cfg.SelfWakeBufferSize)

	for {
		select {
		case <-s.die:
			return
		default:
		}

		timeoutMs := int(s.cfg.PollTimeout / time.Millisecond)
		if timeoutMs <= 0 {
			timeoutMs = 1
		}

		evs, err := s.pfd.wait(timeoutMs, events)
		if err != nil {
			Logger.Warn().Err(err).Msg("poll wait failed")
			continue
		}

		for _, e := range evs {
			if e.fd == s.wakeR {
				s.drainWake(wakeBuf)
				continue
			}
			reg, ok := s.registry[e.fd]
			if !ok {
				continue
			}
			if e.hup {
				var cause error = ErrPeerClose
				serr, gerr := unix.GetsockoptInt(e.fd, unix.SOL_SOCKET, unix.SO_ERROR)
				if gerr == nil && unix.Errno(serr) == unix.ECONNREFUSED {
					cause = ErrConnectionRefused
				}
				reg.closeLocked(cause)
				continue
			}
			// Read-before-write within one registration's tick, per spec.md §4.2.
			if e.read {
				s.dispatch(reg, dirRead)
			}
			if e.write && !reg.closed.Load() {
				s.dispatch(reg, dirWrite)
			}
		}

		s.runPending()

		select {
		case <-s.die:
			return
		default:
		}
	}
}

func (s *Selector) drainWake(buf []byte) {
	for {
		_, err := unix.Read(s.wakeR, buf)
		if err != nil {
			return
		}
	}
}

func (s *Selector) runPending() {
	s.pendingMu.Lock()
	s.pendingCreate, s.pendingProcessing = s.pendingProcessing, s.pendingCreate
	pending := s.pendingProcessing
	s.pendingMu.Unlock()

	for i, cmd := range pending {
		cmd()
		pending[i] = nil
	}
	s.pendingProcessing = pending[:0]
}

// dispatch resumes exactly one of {one-shot waiter, continuous callback}
// for reg in dir, per the readiness event just observed.
func (s *Selector) dispatch(reg *Registration, dir direction) {
	switch dir {
	case dirRead:
		if reg.readWaiter != nil {
			w := reg.readWaiter
			reg.readWaiter = nil
			s.rearm(reg)
			w.done <- nil
			return
		}
		if reg.readCB != nil {
			keepGoing := s.invokeContinuous(reg, reg.readCB)
			if !keepGoing {
				reg.readCB = nil
			}
			s.rearm(reg)
		}
	case dirWrite:
		if reg.writeWaiter != nil {
			w := reg.writeWaiter
			reg.writeWaiter = nil
			s.rearm(reg)
			w.done <- nil
			return
		}
		if reg.writeCB != nil {
			keepGoing := s.invokeContinuous(reg, reg.writeCB)
			if !keepGoing {
				reg.writeCB = nil
			}
			s.rearm(reg)
		}
	}
}

// invokeContinuous runs a continuous callback and converts a panic into a
// close of the registration, so a misbehaving user callback cannot crash
// the shared loop goroutine (spec.md §7: user-code exceptions inside a
// continuous callback propagate to the socket's exception handler and
// close the socket).
func (s *Selector) invokeContinuous(reg *Registration, cb continuousFn) (keepGoing bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error().Interface("panic", r).Int("fd", reg.fd).Msg("continuous callback panicked")
			keepGoing = false
			reg.closeLocked(wrapErr(CodeSokException, "continuous callback panicked", nil))
		}
	}()
	return cb()
}
