//go:build darwin
// +build darwin

package sok

import "golang.org/x/sys/unix"

// selfWakePipe creates the pipe the Selector writes to from submit/wake to
// interrupt a blocking poll call. Darwin has no pipe2(2), so the pipe is
// created blocking/inheritable and then switched to non-blocking,
// close-on-exec via fcntl, matching the kqueue backend's platform split in
// poller_kqueue_bsd.go.
func selfWakePipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fds, wrapErr(CodeSokException, "self-wake pipe", err)
	}
	for _, fd := range fds {
		if err := setNonblockCloexec(fd); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return fds, err
		}
	}
	return fds, nil
}

func setNonblockCloexec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return wrapErr(CodeSokException, "fcntl F_GETFL", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return wrapErr(CodeSokException, "fcntl F_SETFL O_NONBLOCK", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return wrapErr(CodeSokException, "fcntl F_SETFD FD_CLOEXEC", err)
	}
	return nil
}
