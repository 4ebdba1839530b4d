//go:build linux
// +build linux

package sok

import "golang.org/x/sys/unix"

// epollPoller backs the Selector on Linux. Grounded on the epoll(7) usage
// in other_examples' zero_copy_epoll_linux.go.go (EpollCreate1, EpollCtl,
// EpollWait, EPOLLIN/EPOLLOUT/EPOLLRDHUP/EPOLLERR/EPOLLHUP), translated
// from raw syscall to golang.org/x/sys/unix for a single consistent
// dependency with the kqueue backend.
type epollPoller struct {
	epfd int
}

func newOSPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapErr(CodeSokException, "epoll_create1", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) add(fd int) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return wrapErr(CodeSokException, "epoll_ctl add", err)
	}
	return nil
}

func (p *epollPoller) modify(fd int, read, write bool) error {
	var events uint32 = unix.EPOLLRDHUP
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return wrapErr(CodeSokException, "epoll_ctl mod", err)
	}
	return nil
}

func (p *epollPoller) remove(fd int) error {
	// Kernel drops the fd from the interest set automatically on close(2);
	// an explicit EPOLL_CTL_DEL is still issued so in-flight events for a
	// closed-then-reused fd number can't leak across descriptors.
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) wait(timeoutMs int, out []readyEvent) ([]readyEvent, error) {
	raw := make([]unix.EpollEvent, maxPollEvents)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return nil, wrapErr(CodeSokException, "epoll_wait", err)
	}

	out = out[:0]
	for i := 0; i < n; i++ {
		e := raw[i]
		re := readyEvent{fd: int(e.Fd)}
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			re.hup = true
		}
		if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			re.read = true
		}
		if e.Events&unix.EPOLLOUT != 0 {
			re.write = true
		}
		out = append(out, re)
	}
	return out, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
