package sok

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ServerSocket is a listening TCP endpoint. Construction happens via
// Selector.ListenTCP; accept() suspends on the listen fd's readable
// interest and returns a new ClientSocket whose contract is identical to a
// connected client, per spec.md §4.4.
type ServerSocket struct {
	fd      int
	reg     *Registration
	sel     *Selector
	addr    string
	closed  atomic.Bool
	excOnce func(error)
}

// ListenTCP resolves address (family-agnostic), creates the socket with
// IPV6_V6ONLY=0 and SO_REUSEADDR=1, binds, and listens with a generous
// backlog, per spec.md §4.4.
func (s *Selector) ListenTCP(address string, port int, opts ...Option) (*ServerSocket, error) {
	cfg := buildConfig(opts...)

	family, sa, dualStack, err := listenSockaddr(address, port)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, wrapErr(CodeSokException, "socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, wrapErr(CodeSokException, "setsockopt SO_REUSEADDR", err)
	}
	if dualStack {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		if err == unix.EADDRINUSE {
			return nil, ErrAddressInUse
		}
		return nil, wrapErr(CodeSokException, "bind", err)
	}

	if err := unix.Listen(fd, cfg.ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, wrapErr(CodeSokException, "listen", err)
	}

	reg, err := s.Register(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	boundSa, gerr := unix.Getsockname(fd)
	addr := peerAddrString(address, port)
	if gerr == nil {
		addr = sockaddrString(boundSa)
	}

	Logger.Debug().Int("fd", fd).Str("addr", addr).Msg("tcp server listening")
	srv := &ServerSocket{fd: fd, reg: reg, sel: s, addr: addr}
	reg.onClose = srv.onRegistrationClosed
	return srv, nil
}

// onRegistrationClosed is Registration's owner-notify hook: it runs whenever
// the listen fd transitions to closed for any reason, including a hangup or
// error observed while no Accept was in flight to otherwise surface it.
func (s *ServerSocket) onRegistrationClosed(cause error) {
	if s.closed.Swap(true) {
		return
	}
	if cause != ErrNormalClose && s.excOnce != nil {
		s.excOnce(cause)
	}
	Logger.Debug().Int("fd", s.fd).Str("cause", cause.Error()).Msg("server socket closed by registration")
}

// Addr returns the textual address:port this server is bound to.
func (s *ServerSocket) Addr() string { return s.addr }

// boundPort returns the numeric port the kernel assigned this listener,
// resolved fresh via getsockname so it's correct even when ListenTCP was
// called with port 0.
func (s *ServerSocket) boundPort() int {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return 0
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	default:
		return 0
	}
}

// SetOption applies a best-effort socket option to the listening fd;
// unsupported options or platform rejection surface ErrOptionNotSupported.
func (s *ServerSocket) SetOption(opt SockOption, value int) error {
	return setSockOption(s.fd, opt, value)
}

// GetOption reads back a previously set (or default) socket option value.
func (s *ServerSocket) GetOption(opt SockOption) (int, error) {
	return getSockOption(s.fd, opt)
}

// BindExceptionHandler installs the handler observing the listen socket's
// unrecoverable errors.
func (s *ServerSocket) BindExceptionHandler(fn func(error)) {
	s.excOnce = fn
}

// Accept suspends on the listen fd's readable interest, accepts one
// connection, makes the accepted fd non-blocking, and returns a new
// ClientSocket whose contract is identical to a connected client.
func (s *ServerSocket) Accept() (*ClientSocket, error) {
	if s.closed.Load() {
		return nil, ErrSocketClosed
	}
	for {
		nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			reg, rerr := s.sel.Register(nfd)
			if rerr != nil {
				_ = unix.Close(nfd)
				return nil, rerr
			}
			remote := sockaddrString(sa)
			Logger.Debug().Int("fd", nfd).Str("remote", remote).Msg("tcp server accepted")
			return newClientSocket(s.sel, reg, nfd, remote), nil
		}
		if err == unix.EAGAIN {
			if selErr := s.reg.Select(dirRead); selErr != nil {
				return nil, selErr
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		wrapped := wrapErr(CodeSokException, "accept", err)
		if s.excOnce != nil {
			s.excOnce(wrapped)
		}
		return nil, wrapped
	}
}

// Close deregisters and closes the listen fd; any accept suspended on it
// resumes with ErrNormalClose.
func (s *ServerSocket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.reg.Close(ErrNormalClose)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return ipPortString(a.Addr[:], a.Port)
	case *unix.SockaddrInet6:
		return ipPortString(a.Addr[:], a.Port)
	default:
		return "unknown"
	}
}
