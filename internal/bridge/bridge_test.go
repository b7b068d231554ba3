package bridge

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		acceptCh <- conn
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-acceptCh
	return client, server
}

func TestSplicesSymmetric(t *testing.T) {
	a1, a2 := pipePair(t)
	defer a1.Close()
	defer a2.Close()
	b1, b2 := pipePair(t)
	defer b1.Close()
	defer b2.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		Splice(ctx, a2, b2, Symmetric())
		close(done)
	}()

	_, err := a1.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	require.NoError(t, b1.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(b1, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	a1.Close()
	b1.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not finish after both ends closed")
	}
}

func TestSpliceKeepsUntouchedSideAlive(t *testing.T) {
	kept1, kept2 := pipePair(t)
	defer kept1.Close()
	defer kept2.Close()
	target1, target2 := pipePair(t)
	defer target1.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := Options{CloseAOnCancel: true, CloseBOnCancel: true, HalfCloseB: true, UnblockAWhenBDone: true}
	done := make(chan struct{})
	go func() {
		Splice(ctx, kept2, target2, opts)
		close(done)
	}()

	target1.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not finish after target side closed")
	}

	_, err := kept1.Write([]byte("still alive"))
	require.NoError(t, err)

	require.NoError(t, kept2.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len("still alive"))
	_, err = io.ReadFull(kept2, buf)
	require.NoError(t, err)
	require.Equal(t, "still alive", string(buf))
}
