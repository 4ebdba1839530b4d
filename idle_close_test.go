package sok

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestIdleConnectionResetFiresHandlers covers the case where a peer RST
// arrives on a ClientSocket with no Read/Write in flight (no waiter, no
// continuous callback armed in either direction). The selector loop learns
// of this purely through EPOLLERR/EPOLLHUP on the listen-independent fd, so
// Registration.onClose is the only path that can still transition the
// socket and fire its handlers exactly once, per spec.md §7/§8.
func TestIdleConnectionResetFiresHandlers(t *testing.T) {
	sel := newTestSelector(t)
	port := 19401
	srv, err := sel.ListenTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer srv.Close()

	accepted := make(chan *ClientSocket, 1)
	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		accepted <- conn
	}()

	client, err := sel.ConnectTCP("127.0.0.1", port)
	require.NoError(t, err)

	var excErr error
	excDone := make(chan struct{})
	closeDone := make(chan struct{})
	client.BindExceptionHandler(func(err error) {
		excErr = err
		close(excDone)
	})
	client.BindCloseHandler(func() {
		close(closeDone)
	})

	peer := <-accepted

	// Force an abortive close (RST) on the peer, bypassing ClientSocket's
	// own Close/ForceClose so the only thing the local side observes is an
	// async EPOLLERR/EPOLLHUP while idle.
	require.NoError(t, unix.SetsockoptLinger(peer.fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0}))
	require.NoError(t, unix.Close(peer.fd))

	select {
	case <-excDone:
	case <-time.After(2 * time.Second):
		t.Fatal("exception handler never fired for idle peer reset")
	}
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("close handler never fired for idle peer reset")
	}
	require.Error(t, excErr)

	// A subsequent Read must not touch the (possibly reused) fd number.
	buf := AllocBuffer(1)
	_, rerr := client.Read(buf)
	require.ErrorIs(t, rerr, ErrSocketClosed)
}
