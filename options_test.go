package sok

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientSocketOptionRoundTrip(t *testing.T) {
	sel := newTestSelector(t)

	port := 19301
	srv, err := sel.ListenTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		time.Sleep(10 * time.Millisecond)
		conn.Close()
	}()

	client, err := sel.ConnectTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetOption(OptNoDelay, 1))
	v, err := client.GetOption(OptNoDelay)
	require.NoError(t, err)
	require.NotEqual(t, 0, v)

	addr, err := client.LocalAddr()
	require.NoError(t, err)
	require.NotEmpty(t, addr)
}

func TestExceptionHandlerFiresOnceOnPeerClose(t *testing.T) {
	sel := newTestSelector(t)
	port := 19302
	srv, err := sel.ListenTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		conn.ForceClose()
	}()

	client, err := sel.ConnectTCP("127.0.0.1", port)
	require.NoError(t, err)

	var calls int
	done := make(chan struct{})
	client.BindExceptionHandler(func(err error) {
		calls++
		close(done)
	})

	buf := AllocBuffer(1)
	_, rerr := client.Read(buf)
	require.Error(t, rerr)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("exception handler never fired")
	}
	require.Equal(t, 1, calls)
}
