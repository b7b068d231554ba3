// Package bridge implements the bidirectional TCP splice used to
// relay bytes between two already-connected sockets, with a
// configurable half-close discipline. No interpretation: it never
// inspects the bytes it forwards.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// copyBufferSize is the documented copy-buffer size.
const copyBufferSize = 32 * 1024

// halfCloser is implemented by *net.TCPConn; Splice uses it to
// propagate EOF as a write-shutdown instead of tearing down the whole
// connection immediately.
type halfCloser interface {
	CloseWrite() error
}

// Options controls what happens to each side of a Splice at
// cancellation, at EOF, and when the other direction finishes first.
// The zero value closes neither side on cancellation, half-closes
// neither at EOF, and never force-unblocks a side left untouched; use
// Symmetric() for the ordinary two-ended bridge.
//
// Splice is the only code allowed to call SetReadDeadline on a or b;
// a caller must not have a deadline of its own pending on either
// connection when it calls Splice.
type Options struct {
	CloseAOnCancel bool
	CloseBOnCancel bool
	HalfCloseA     bool
	HalfCloseB     bool

	// UnblockAWhenBDone forces a's blocked Read to return, without
	// closing or half-closing a, as soon as the b-to-a copy ends. Set
	// this when a is a connection the caller intends to keep reading
	// from after Splice returns, and b finishing must not leave a's
	// copy goroutine parked in Read(a) forever.
	UnblockAWhenBDone bool
	// UnblockBWhenADone is the symmetric interrupt for b.
	UnblockBWhenADone bool
}

// Symmetric is the ordinary two-ended bridge: cancellation closes both
// sides, and the end of either direction half-closes that direction's
// destination while the other direction keeps copying until it too
// ends.
func Symmetric() Options {
	return Options{CloseAOnCancel: true, CloseBOnCancel: true, HalfCloseA: true, HalfCloseB: true}
}

// pastDeadline unblocks a pending Read immediately without touching
// the connection otherwise.
var pastDeadline = time.Unix(0, 1)

// Splice copies bytes in both directions between a and b until both
// directions have reached EOF or ctx is cancelled, applying opts to
// decide what happens to each side at EOF, at cancellation, and when
// the other direction finishes first. It always waits for both copy
// goroutines to exit before returning, so a caller that keeps reading
// a side itself afterward never races a still-running copy goroutine
// for bytes on the same connection.
//
// A caller that must never let Splice touch one side at all (a
// control connection it intends to keep reading from afterwards)
// leaves that side's CloseOnCancel/HalfClose flags false and sets its
// UnblockWhenDone flag instead, so the other direction finishing still
// lets Splice return.
func Splice(ctx context.Context, a, b net.Conn, opts Options) (errAtoB, errBtoA error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if opts.CloseAOnCancel {
				_ = a.Close()
			} else {
				_ = a.SetReadDeadline(pastDeadline)
			}
			if opts.CloseBOnCancel {
				_ = b.Close()
			} else {
				_ = b.SetReadDeadline(pastDeadline)
			}
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errAtoB = copyDirection(b, a, opts.HalfCloseB)
		if opts.UnblockBWhenADone {
			_ = b.SetReadDeadline(pastDeadline)
		}
	}()
	go func() {
		defer wg.Done()
		errBtoA = copyDirection(a, b, opts.HalfCloseA)
		if opts.UnblockAWhenBDone {
			_ = a.SetReadDeadline(pastDeadline)
		}
	}()
	wg.Wait()

	// Clear any deadline Splice set so a side left open for reuse
	// isn't stuck with one in the past; errors are ignored since a
	// side that was fully closed instead will reject this too.
	_ = a.SetReadDeadline(time.Time{})
	_ = b.SetReadDeadline(time.Time{})

	return dropInterrupt(errAtoB), dropInterrupt(errBtoA)
}

// dropInterrupt turns the timeout error produced by Splice's own
// deadline-based interrupts into a clean nil. Splice is the only code
// that ever sets a deadline on a or b, so any read timeout surfacing
// here is one it caused deliberately, not a real failure.
func dropInterrupt(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

// copyDirection copies src into dst, then half-closes (or fully
// closes, if dst does not support CloseWrite) dst's write side when
// halfClose is set.
func copyDirection(dst, src net.Conn, halfClose bool) error {
	buf := make([]byte, copyBufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if !halfClose {
		return err
	}
	if cw, ok := dst.(halfCloser); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
	return err
}
