package sok

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// writeItem is one entry in a client socket's writer-task queue: either a
// buffer to drain, or the graceful-close sentinel.
type writeItem struct {
	buf      *Buffer
	sentinel bool
	done     chan error
}

// ReadResult is delivered by the asynchronous read variants.
type ReadResult struct {
	N   int
	Err error
}

// ClientSocket is a non-blocking TCP stream endpoint. Construction happens
// either via Selector.ConnectTCP or ServerSocket.Accept; both wrap an
// already-registered, non-blocking fd. Reads are guarded by readInProgress
// for ConcurrentReading exclusion; writes funnel through a single writer
// goroutine draining writeQueue in submission order, generalizing gaio's
// tryWrite EAGAIN/EINTR loop (watcher.go) into a per-socket task instead of
// a shared fd-keyed queue.
type ClientSocket struct {
	fd         int
	remoteAddr string
	reg        *Registration
	sel        *Selector

	readInProgress atomic.Bool

	stateMu         sync.Mutex
	closed          bool
	closeAfterDrain bool

	writeMu          sync.Mutex
	writeCond        *sync.Cond
	writeQueue       []writeItem
	writerShouldStop bool

	exceptionOnce    sync.Once
	exceptionHandler func(error)

	closeHandlerOnce sync.Once
	closeHandler     func()
}

func newClientSocket(sel *Selector, reg *Registration, fd int, remoteAddr string) *ClientSocket {
	c := &ClientSocket{
		fd:         fd,
		remoteAddr: remoteAddr,
		reg:        reg,
		sel:        sel,
	}
	c.writeCond = sync.NewCond(&c.writeMu)
	reg.onClose = c.onRegistrationClosed
	go c.writerLoop()
	return c
}

// onRegistrationClosed is Registration's owner-notify hook: it runs whenever
// this socket's fd transitions to closed for any reason, including a
// hangup/error the selector loop observed while the socket was idle (no
// Read/Write in flight, so neither a waiter nor rawReadInto/writeAll would
// otherwise learn of it). It must not call back into the registration or
// selector — see the warning on Registration.onClose.
func (c *ClientSocket) onRegistrationClosed(cause error) {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return
	}
	c.closed = true
	c.stateMu.Unlock()

	c.writeMu.Lock()
	dropped := c.writeQueue
	c.writeQueue = nil
	c.writerShouldStop = true
	c.writeMu.Unlock()
	c.writeCond.Signal()
	for _, item := range dropped {
		item.done <- cause
	}

	if cause != ErrNormalClose {
		c.exceptionOnce.Do(func() {
			if c.exceptionHandler != nil {
				c.exceptionHandler(cause)
			}
		})
	}
	Logger.Debug().Int("fd", c.fd).Str("cause", cause.Error()).Msg("client socket closed by registration")
	c.fireCloseHandler()
}

// ConnectTCP resolves address:port, creates a non-blocking stream socket,
// and issues a non-blocking connect, per spec.md §4.3.
func (s *Selector) ConnectTCP(address string, port int, opts ...Option) (*ClientSocket, error) {
	cfg := buildConfig(opts...)

	family, sa, err := resolveSockaddr(address, port)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, wrapErr(CodeSokException, "socket", err)
	}
	applyDefaultOptions(fd, cfg)

	connErr := unix.Connect(fd, sa)
	if connErr != nil && connErr != unix.EINPROGRESS {
		_ = unix.Close(fd)
		if connErr == unix.ECONNREFUSED {
			return nil, ErrConnectionRefused
		}
		return nil, wrapErr(CodeSokException, "connect", connErr)
	}

	reg, err := s.Register(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if connErr == unix.EINPROGRESS {
		if err := reg.Select(dirWrite); err != nil {
			return nil, err
		}
		serr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr == nil && serr != 0 {
			errno := unix.Errno(serr)
			if errno == unix.ECONNREFUSED {
				_ = reg.Close(ErrConnectionRefused)
				return nil, ErrConnectionRefused
			}
			wrapped := wrapErr(CodeSokException, "connect", errno)
			_ = reg.Close(wrapped)
			return nil, wrapped
		}
	}

	Logger.Debug().Int("fd", fd).Str("remote", peerAddrString(address, port)).Msg("tcp client connected")
	return newClientSocket(s, reg, fd, peerAddrString(address, port)), nil
}

// RemoteAddr returns the textual address:port of the connected peer.
func (c *ClientSocket) RemoteAddr() string { return c.remoteAddr }

// LocalAddr returns the textual address:port of this end of the connection.
func (c *ClientSocket) LocalAddr() (string, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return "", wrapErr(CodeSokException, "getsockname", err)
	}
	return sockaddrString(sa), nil
}

// SetOption applies a best-effort socket option; unsupported options or
// platform rejection surface ErrOptionNotSupported.
func (c *ClientSocket) SetOption(opt SockOption, value int) error {
	return setSockOption(c.fd, opt, value)
}

// GetOption reads back a previously set (or default) socket option value.
func (c *ClientSocket) GetOption(opt SockOption) (int, error) {
	return getSockOption(c.fd, opt)
}

// BindCloseHandler installs a handler invoked exactly once on terminal
// transition, regardless of cause.
func (c *ClientSocket) BindCloseHandler(fn func()) {
	c.closeHandler = fn
}

// BindExceptionHandler installs the handler that observes the socket's
// single deduplicated terminal error (spec.md §4.3, §9).
func (c *ClientSocket) BindExceptionHandler(fn func(error)) {
	c.exceptionHandler = fn
}

func (c *ClientSocket) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

func (c *ClientSocket) fireCloseHandler() {
	c.closeHandlerOnce.Do(func() {
		if c.closeHandler != nil {
			c.closeHandler()
		}
	})
}

// fail routes an unrecoverable error through the exception handler exactly
// once (compare-and-set via sync.Once, per spec.md §9) and force-closes the
// socket with that cause.
func (c *ClientSocket) fail(err error) {
	c.exceptionOnce.Do(func() {
		if c.exceptionHandler != nil {
			c.exceptionHandler(err)
		}
	})
	c.forceCloseWithCause(err)
}

// Read reads into buf[cursor:limit], suspending on readable interest until
// data arrives. Returns BufferDestroyed-style errors from buf itself; a
// zero-remaining buffer returns 0 without a syscall.
func (c *ClientSocket) Read(buf *Buffer) (int, error) {
	if err := buf.checkAlive(); err != nil {
		return 0, err
	}
	if c.isClosed() {
		return 0, ErrSocketClosed
	}
	if !c.readInProgress.CompareAndSwap(false, true) {
		return 0, ErrConcurrentReading
	}
	defer c.readInProgress.Store(false)

	n, err := c.rawReadInto(buf)
	if err != nil && err != ErrSocketClosed {
		c.fail(err)
	}
	return n, err
}

// ReadMin loops until at least minToRead bytes have been placed into buf or
// a terminal error surfaces. minToRead must be <= buf.Remaining().
func (c *ClientSocket) ReadMin(buf *Buffer, minToRead int) (int, error) {
	if minToRead > buf.Remaining() {
		return 0, ErrBufferOverflow
	}
	if c.isClosed() {
		return 0, ErrSocketClosed
	}
	if !c.readInProgress.CompareAndSwap(false, true) {
		return 0, ErrConcurrentReading
	}
	defer c.readInProgress.Store(false)

	total := 0
	for total < minToRead {
		n, err := c.rawReadInto(buf)
		total += n
		if err != nil {
			c.fail(err)
			return total, err
		}
	}
	return total, nil
}

// AsyncRead returns a channel delivering the same result as Read, without
// suspending the caller's goroutine.
func (c *ClientSocket) AsyncRead(buf *Buffer) <-chan ReadResult {
	ch := make(chan ReadResult, 1)
	go func() {
		n, err := c.Read(buf)
		ch <- ReadResult{N: n, Err: err}
	}()
	return ch
}

// AsyncReadMin is the asynchronous variant of ReadMin.
func (c *ClientSocket) AsyncReadMin(buf *Buffer, minToRead int) <-chan ReadResult {
	ch := make(chan ReadResult, 1)
	go func() {
		n, err := c.ReadMin(buf, minToRead)
		ch <- ReadResult{N: n, Err: err}
	}()
	return ch
}

// rawReadInto performs one logical read call, suspending on EAGAIN via the
// registration's one-shot readable interest and retrying on EINTR. It
// returns as soon as any bytes land (possibly fewer than buf.Remaining()).
func (c *ClientSocket) rawReadInto(buf *Buffer) (int, error) {
	if buf.Remaining() == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, buf.raw()[buf.cursor:buf.limit])
		if err == nil {
			if n == 0 {
				return 0, ErrPeerClose
			}
			buf.cursor += n
			return n, nil
		}
		if err == unix.EAGAIN {
			if selErr := c.reg.Select(dirRead); selErr != nil {
				return 0, selErr
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return 0, wrapErr(CodeSokException, "read", err)
	}
}

// BulkRead repeatedly resets buf's cursor to 0, reads into it, and invokes
// cb; it exits when cb returns true. Implemented as a Registration
// continuous callback so the syscall and predicate run inline with the
// selector's readiness dispatch, avoiding a suspend/resume per chunk
// (spec.md §4.3, §9).
func (c *ClientSocket) BulkRead(buf *Buffer, cb func(*Buffer) bool) error {
	if c.isClosed() {
		return ErrSocketClosed
	}
	if !c.readInProgress.CompareAndSwap(false, true) {
		return ErrConcurrentReading
	}
	defer c.readInProgress.Store(false)

	var finalErr error
	var once sync.Once
	done := make(chan struct{})
	finish := func(err error) {
		once.Do(func() {
			finalErr = err
			close(done)
		})
	}

	armErr := c.reg.SelectAlways(dirRead, func() bool {
		buf.cursor = 0
		n, rerr := unix.Read(c.fd, buf.raw()[:buf.limit])
		if rerr != nil {
			if rerr == unix.EAGAIN || rerr == unix.EINTR {
				return true
			}
			finish(wrapErr(CodeSokException, "read", rerr))
			return false
		}
		if n == 0 {
			finish(ErrPeerClose)
			return false
		}
		buf.cursor = n
		if cb(buf) {
			finish(nil)
			return false
		}
		return true
	})
	if armErr != nil {
		return armErr
	}

	<-done
	if finalErr != nil {
		c.fail(finalErr)
	}
	return finalErr
}

// Write enqueues buf on the writer task and blocks until every byte has
// been handed to the OS (or a terminal error occurs).
func (c *ClientSocket) Write(buf *Buffer) error {
	done := make(chan error, 1)
	if err := c.enqueueWrite(buf, done); err != nil {
		return err
	}
	return <-done
}

// AsyncWrite is the non-suspending variant of Write.
func (c *ClientSocket) AsyncWrite(buf *Buffer) <-chan error {
	done := make(chan error, 1)
	if err := c.enqueueWrite(buf, done); err != nil {
		done <- err
	}
	return done
}

func (c *ClientSocket) enqueueWrite(buf *Buffer, done chan error) error {
	c.stateMu.Lock()
	if c.closed || c.closeAfterDrain {
		c.stateMu.Unlock()
		return ErrSocketClosed
	}
	c.stateMu.Unlock()

	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, writeItem{buf: buf, done: done})
	c.writeMu.Unlock()
	c.writeCond.Signal()
	return nil
}

// writerLoop is the per-socket writer task: it drains writeQueue strictly
// in submission order, serializing writes without a mutex around the
// syscall itself (spec.md §4.3, §9).
func (c *ClientSocket) writerLoop() {
	for {
		c.writeMu.Lock()
		for len(c.writeQueue) == 0 && !c.writerShouldStop {
			c.writeCond.Wait()
		}
		if len(c.writeQueue) == 0 {
			c.writeMu.Unlock()
			return
		}
		item := c.writeQueue[0]
		c.writeQueue = c.writeQueue[1:]
		c.writeMu.Unlock()

		if item.sentinel {
			_ = unix.Shutdown(c.fd, unix.SHUT_WR)
			item.done <- nil
			c.finishClose(ErrNormalClose)
			return
		}

		err := c.writeAll(item.buf)
		item.done <- err
		if err != nil {
			c.fail(err)
			return
		}
	}
}

// writeAll drains buf[cursor:limit] to the fd, suspending on writable
// interest when the OS buffer is full.
func (c *ClientSocket) writeAll(buf *Buffer) error {
	for buf.Remaining() > 0 {
		n, err := unix.Write(c.fd, buf.raw()[buf.cursor:buf.limit])
		if err == nil {
			buf.cursor += n
			continue
		}
		if err == unix.EAGAIN {
			if selErr := c.reg.Select(dirWrite); selErr != nil {
				return selErr
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return wrapErr(CodeSokException, "write", err)
	}
	return nil
}

// Close drains all pending writes, shuts down the write half, then
// deregisters and closes the fd; any in-flight read is resumed with
// ErrNormalClose. Idempotent.
func (c *ClientSocket) Close() error {
	c.stateMu.Lock()
	if c.closed || c.closeAfterDrain {
		c.stateMu.Unlock()
		return nil
	}
	c.closeAfterDrain = true
	c.stateMu.Unlock()

	done := make(chan error, 1)
	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, writeItem{sentinel: true, done: done})
	c.writeMu.Unlock()
	c.writeCond.Signal()

	return <-done
}

// ForceClose transitions the socket to closed immediately: queued writes
// resolve with ErrForceClose, the fd is closed, and the close handler fires
// exactly once.
func (c *ClientSocket) ForceClose() error {
	c.forceCloseWithCause(ErrForceClose)
	return nil
}

func (c *ClientSocket) forceCloseWithCause(cause error) {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return
	}
	c.closed = true
	c.stateMu.Unlock()

	c.writeMu.Lock()
	dropped := c.writeQueue
	c.writeQueue = nil
	c.writerShouldStop = true
	c.writeMu.Unlock()
	c.writeCond.Signal()
	for _, item := range dropped {
		if item.sentinel {
			item.done <- cause
		} else {
			item.done <- ErrForceClose
		}
	}

	_ = c.reg.Close(cause)
	Logger.Debug().Int("fd", c.fd).Str("cause", cause.Error()).Msg("client socket force closed")
	c.fireCloseHandler()
}

// finishClose is the graceful-close completion path: the writer task has
// already drained the queue and shut down the write half.
func (c *ClientSocket) finishClose(cause error) {
	c.stateMu.Lock()
	c.closed = true
	c.stateMu.Unlock()
	c.exceptionOnce.Do(func() {
		if c.exceptionHandler != nil {
			c.exceptionHandler(cause)
		}
	})
	_ = c.reg.Close(cause)
	Logger.Debug().Int("fd", c.fd).Msg("client socket closed gracefully")
	c.fireCloseHandler()
}

