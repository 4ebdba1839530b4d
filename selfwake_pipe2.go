//go:build linux || freebsd || netbsd || openbsd || dragonfly
// +build linux freebsd netbsd openbsd dragonfly

package sok

import "golang.org/x/sys/unix"

// selfWakePipe creates the pipe the Selector writes to from submit/wake to
// interrupt a blocking poll call. Platforms with pipe2(2) get both
// O_NONBLOCK and O_CLOEXEC atomically.
func selfWakePipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, wrapErr(CodeSokException, "self-wake pipe2", err)
	}
	return fds, nil
}
