package sok

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	sel, err := NewSelector(WithPollTimeout(20 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { sel.Close() })
	return sel
}

func listenLoopback(t *testing.T, sel *Selector) *ServerSocket {
	t.Helper()
	srv, err := sel.ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

// TestSmallEcho implements spec.md §8 scenario 1.
func TestSmallEcho(t *testing.T) {
	sel := newTestSelector(t)
	srv, err := sel.ListenTCP("127.0.0.1", 19201)
	require.NoError(t, err)
	defer srv.Close()

	var serverCloses, clientCloses int32

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		conn.BindCloseHandler(func() { atomic.AddInt32(&serverCloses, 1) })

		rx := AllocBuffer(10)
		_, rerr := conn.ReadMin(rx, 10)
		require.NoError(t, rerr)
		require.NoError(t, rx.SetCursor(0))
		require.NoError(t, conn.Write(rx))
		require.NoError(t, conn.Close())
	}()

	client, err := sel.ConnectTCP("127.0.0.1", 19201)
	require.NoError(t, err)
	client.BindCloseHandler(func() { atomic.AddInt32(&clientCloses, 1) })

	tx := AllocBuffer(10)
	for i := byte(0); i < 10; i++ {
		require.NoError(t, tx.PutByte(i))
	}
	require.NoError(t, tx.SetCursor(0))
	require.NoError(t, client.Write(tx))

	rx := AllocBuffer(10)
	_, err = client.ReadMin(rx, 10)
	require.NoError(t, err)
	got, err := rx.ToArray()
	require.NoError(t, err)
	for i := byte(0); i < 10; i++ {
		require.Equal(t, i, got[i])
	}

	require.NoError(t, client.Close())
	<-serverDone

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&serverCloses))
	require.Equal(t, int32(1), atomic.LoadInt32(&clientCloses))
}

// TestChunkedRead implements spec.md §8 scenario 2.
func TestChunkedRead(t *testing.T) {
	sel := newTestSelector(t)
	srv, err := sel.ListenTCP("127.0.0.1", 19202)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		payload := AllocBuffer(30)
		for i := 0; i < 30; i++ {
			require.NoError(t, payload.PutByte(byte(i)))
		}
		require.NoError(t, payload.SetCursor(0))
		require.NoError(t, conn.Write(payload))
	}()

	client, err := sel.ConnectTCP("127.0.0.1", 19202)
	require.NoError(t, err)
	defer client.Close()

	var all []byte
	for i := 0; i < 3; i++ {
		buf := AllocBuffer(10)
		n, rerr := client.ReadMin(buf, 10)
		require.NoError(t, rerr)
		require.Equal(t, 10, n)
		out, _ := buf.ToArray()
		all = append(all, out...)
	}
	for i := 0; i < 30; i++ {
		require.Equal(t, byte(i), all[i])
	}
}

// TestReadMinPartialArrival implements spec.md §8 scenario 3.
func TestReadMinPartialArrival(t *testing.T) {
	sel := newTestSelector(t)
	srv, err := sel.ListenTCP("127.0.0.1", 19203)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		first := WrapBuffer([]byte{1, 2, 3, 4})
		require.NoError(t, conn.Write(first))
		time.Sleep(10 * time.Millisecond)
		second := WrapBuffer([]byte{5, 6, 7, 8})
		require.NoError(t, conn.Write(second))
	}()

	client, err := sel.ConnectTCP("127.0.0.1", 19203)
	require.NoError(t, err)
	defer client.Close()

	buf := AllocBuffer(16)
	n, err := client.ReadMin(buf, 8)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, 8, buf.GetCursor())

	for i := 8; i < 16; i++ {
		v, _ := buf.Get(i)
		require.Equal(t, byte(0), v)
	}
}

// TestBulkReadThroughput implements spec.md §8 scenario 4, scaled down from
// 16 MiB to keep the unit test fast while exercising the same code path.
func TestBulkReadThroughput(t *testing.T) {
	const total = 2 * 1024 * 1024

	sel := newTestSelector(t)
	srv, err := sel.ListenTCP("127.0.0.1", 19204)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		chunk := AllocBuffer(65536)
		raw, _ := chunk.ToArray()
		sent := 0
		for sent < total {
			require.NoError(t, chunk.SetCursor(0))
			require.NoError(t, chunk.PutBytes(raw))
			require.NoError(t, chunk.SetCursor(0))
			require.NoError(t, conn.Write(chunk))
			sent += len(raw)
		}
		conn.Close()
	}()

	client, err := sel.ConnectTCP("127.0.0.1", 19204)
	require.NoError(t, err)
	defer client.Close()

	var received int64
	buf := AllocBuffer(65536)
	err = client.BulkRead(buf, func(b *Buffer) bool {
		atomic.AddInt64(&received, int64(b.GetCursor()))
		return atomic.LoadInt64(&received) >= total
	})
	require.NoError(t, err)
	require.Equal(t, int64(total), atomic.LoadInt64(&received))

	// No ConcurrentReading for a subsequent read after BulkRead returns.
	probe := AllocBuffer(1)
	_, err = client.Read(probe)
	require.NotErrorIs(t, err, ErrConcurrentReading)
}

// TestGracefulCloseDrainsWrites implements spec.md §8 scenario 5.
func TestGracefulCloseDrainsWrites(t *testing.T) {
	const chunkSize = 1024 * 1024
	const chunks = 10

	sel := newTestSelector(t)
	srv, err := sel.ListenTCP("127.0.0.1", 19205)
	require.NoError(t, err)
	defer srv.Close()

	totalRead := make(chan int64, 1)
	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		var sum int64
		buf := AllocBuffer(65536)
		for {
			require.NoError(t, buf.SetCursor(0))
			require.NoError(t, buf.Reset())
			n, rerr := conn.Read(buf)
			sum += int64(n)
			if rerr != nil {
				break
			}
		}
		totalRead <- sum
	}()

	client, err := sel.ConnectTCP("127.0.0.1", 19205)
	require.NoError(t, err)

	var mu sync.Mutex
	var lastErr error
	client.BindExceptionHandler(func(err error) {
		mu.Lock()
		lastErr = err
		mu.Unlock()
	})

	payload := make([]byte, chunkSize)
	for i := 0; i < chunks; i++ {
		buf := WrapBuffer(append([]byte(nil), payload...))
		require.NoError(t, client.Write(buf))
	}
	require.NoError(t, client.Close())

	sum := <-totalRead
	require.Equal(t, int64(chunkSize*chunks), sum)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.ErrorIs(t, lastErr, ErrNormalClose)
}

// TestForceCloseDropsWrites implements spec.md §8 scenario 6.
func TestForceCloseDropsWrites(t *testing.T) {
	const chunkSize = 1024 * 1024
	const chunks = 10

	sel := newTestSelector(t)
	srv, err := sel.ListenTCP("127.0.0.1", 19206)
	require.NoError(t, err)
	defer srv.Close()

	totalRead := make(chan int64, 1)
	go func() {
		conn, aerr := srv.Accept()
		require.NoError(t, aerr)
		var sum int64
		buf := AllocBuffer(65536)
		for {
			require.NoError(t, buf.SetCursor(0))
			require.NoError(t, buf.Reset())
			n, rerr := conn.Read(buf)
			sum += int64(n)
			if rerr != nil {
				break
			}
		}
		totalRead <- sum
	}()

	client, err := sel.ConnectTCP("127.0.0.1", 19206)
	require.NoError(t, err)

	payload := make([]byte, chunkSize)
	var completions []<-chan error
	for i := 0; i < chunks; i++ {
		buf := WrapBuffer(append([]byte(nil), payload...))
		completions = append(completions, client.AsyncWrite(buf))
	}
	require.NoError(t, client.ForceClose())

	droppedCount := 0
	for _, ch := range completions {
		if err := <-ch; err != nil {
			droppedCount++
		}
	}

	sum := <-totalRead
	require.Less(t, sum, int64(chunkSize*chunks))
	_ = droppedCount
}

// TestConnectionRefused implements spec.md §8 scenario 7. The target port is
// obtained by binding an ephemeral listener and immediately closing it, so
// the refusal is deterministic instead of depending on some fixed port
// happening to be unused in whatever environment the test runs in.
func TestConnectionRefused(t *testing.T) {
	sel := newTestSelector(t)

	probe, err := sel.ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)
	port := probe.boundPort()
	require.NoError(t, probe.Close())

	done := make(chan error, 1)
	go func() {
		_, cerr := sel.ConnectTCP("127.0.0.1", port)
		done <- cerr
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrConnectionRefused)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return within bound")
	}
}

// TestConcurrentReadRejected implements spec.md §8's ConcurrentReading invariant.
func TestConcurrentReadRejected(t *testing.T) {
	sel := newTestSelector(t)
	listenLoopback(t, sel)
	port := 19207
	srv2, err := sel.ListenTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer srv2.Close()

	go func() {
		conn, aerr := srv2.Accept()
		require.NoError(t, aerr)
		time.Sleep(50 * time.Millisecond)
		buf := WrapBuffer([]byte{1})
		conn.Write(buf)
	}()

	client, err := sel.ConnectTCP("127.0.0.1", port)
	require.NoError(t, err)
	defer client.Close()

	buf1 := AllocBuffer(1)
	errCh := make(chan error, 1)
	go func() {
		_, rerr := client.Read(buf1)
		errCh <- rerr
	}()

	time.Sleep(5 * time.Millisecond)
	buf2 := AllocBuffer(1)
	_, err = client.Read(buf2)
	require.ErrorIs(t, err, ErrConcurrentReading)

	require.NoError(t, <-errCh)
}
