//go:build darwin || freebsd || netbsd || openbsd || dragonfly
// +build darwin freebsd netbsd openbsd dragonfly

package sok

import "golang.org/x/sys/unix"

// kqueuePoller backs the Selector on Darwin/BSD. Grounded directly on
// SeleniaProject-Orizon/internal/runtime/asyncio/kqueue_poller_bsd.go
// (Kqueue/Kevent/EVFILT_READ/EVFILT_WRITE/EV_ADD/EV_DELETE/EV_ERROR).
type kqueuePoller struct {
	kq int
}

func newOSPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, wrapErr(CodeSokException, "kqueue", err)
	}
	return &kqueuePoller{kq: kq}, nil
}

func (p *kqueuePoller) add(fd int) error {
	// Interest starts disabled in both directions; modify arms it.
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_DISABLE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_DISABLE},
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return wrapErr(CodeSokException, "kevent add", err)
	}
	return nil
}

func (p *kqueuePoller) modify(fd int, read, write bool) error {
	readFlags := uint16(unix.EV_ADD | unix.EV_DISABLE)
	if read {
		readFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	writeFlags := uint16(unix.EV_ADD | unix.EV_DISABLE)
	if write {
		writeFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: readFlags},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlags},
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return wrapErr(CodeSokException, "kevent mod", err)
	}
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) wait(timeoutMs int, out []readyEvent) ([]readyEvent, error) {
	raw := make([]unix.Kevent_t, maxPollEvents)
	var tsPtr *unix.Timespec
	if timeoutMs >= 0 {
		ts := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		tsPtr = &ts
	}

	n, err := unix.Kevent(p.kq, nil, raw, tsPtr)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return nil, wrapErr(CodeSokException, "kevent wait", err)
	}

	// Merge read/write bits per fd: a single poll tick may report both
	// filters for the same ident as separate entries.
	byFd := make(map[int]int, n) // fd -> index into order
	order := out[:0]
	for i := 0; i < n; i++ {
		e := raw[i]
		fd := int(e.Ident)
		idx, ok := byFd[fd]
		if !ok {
			order = append(order, readyEvent{fd: fd})
			idx = len(order) - 1
			byFd[fd] = idx
		}
		re := &order[idx]
		if e.Flags&unix.EV_ERROR != 0 {
			re.hup = true
		}
		if e.Flags&unix.EV_EOF != 0 {
			re.hup = true
		}
		switch e.Filter {
		case unix.EVFILT_READ:
			re.read = true
		case unix.EVFILT_WRITE:
			re.write = true
		}
	}
	return order, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
