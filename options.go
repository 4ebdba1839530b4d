package sok

import "golang.org/x/sys/unix"

// SockOption names the best-effort socket options recognized by spec.md §6.
type SockOption int

const (
	OptRecvBuffer SockOption = iota // SO_RCVBUF (hint)
	OptSendBuffer                   // SO_SNDBUF (hint)
	OptKeepAlive                    // SO_KEEPALIVE
	OptNoDelay                      // TCP_NODELAY
)

// setSockOption applies a best-effort socket option. Platforms that reject
// the option surface ErrOptionNotSupported.
func setSockOption(fd int, opt SockOption, value int) error {
	var err error
	switch opt {
	case OptRecvBuffer:
		err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, value)
	case OptSendBuffer:
		err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, value)
	case OptKeepAlive:
		v := 0
		if value != 0 {
			v = 1
		}
		err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
	case OptNoDelay:
		v := 0
		if value != 0 {
			v = 1
		}
		err = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
	default:
		return ErrOptionNotSupported
	}
	if err != nil {
		return wrapErr(CodeOptionNotSupported, "setsockopt", err)
	}
	return nil
}

func getSockOption(fd int, opt SockOption) (int, error) {
	var v int
	var err error
	switch opt {
	case OptRecvBuffer:
		v, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	case OptSendBuffer:
		v, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	case OptKeepAlive:
		v, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	case OptNoDelay:
		v, err = unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	default:
		return 0, ErrOptionNotSupported
	}
	if err != nil {
		return 0, wrapErr(CodeOptionNotSupported, "getsockopt", err)
	}
	return v, nil
}

func applyDefaultOptions(fd int, cfg Config) {
	if cfg.DefaultRecvBuffer > 0 {
		_ = setSockOption(fd, OptRecvBuffer, cfg.DefaultRecvBuffer)
	}
	if cfg.DefaultSendBuffer > 0 {
		_ = setSockOption(fd, OptSendBuffer, cfg.DefaultSendBuffer)
	}
	if cfg.DefaultNoDelay {
		_ = setSockOption(fd, OptNoDelay, 1)
	}
}
