package hub

import (
	"net"
	"sync"

	"github.com/tevino/abool"

	"github.com/singe/contun/internal/wire"
)

// readChunkSize is the documented per-read chunk size.
const readChunkSize = 16 * 1024

// Role distinguishes the two kinds of sockets the hub manages.
type Role int

const (
	RoleClient Role = iota
	RoleWorker
)

func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "client"
}

// socket owns one accepted connection's I/O goroutines. The engine
// goroutine is the only reader of its fields other than the
// outbound-queue bookkeeping, which is shared with the writer
// goroutine under outMu.
type socket struct {
	id   uint64
	conn net.Conn
	role Role

	closing *abool.AtomicBool

	outMu          sync.Mutex
	outQueue       [][]byte
	outBytes       int
	closeAfterDone bool
	outSignal      chan struct{}
	stopCh         chan struct{}
	closeOnce      sync.Once
}

func newSocket(id uint64, conn net.Conn, role Role) *socket {
	return &socket{
		id:        id,
		conn:      conn,
		role:      role,
		closing:   abool.New(),
		outSignal: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// errBufferExceeded is returned by enqueue when appending data would
// push the outbound queue over MAX_BUFFER.
var errBufferExceeded = errBuf{}

type errBuf struct{}

func (errBuf) Error() string { return "hub: per-direction buffer cap exceeded" }

// errSocketClosing is returned by enqueue once the socket is already
// closing, so a caller still holding a reference to a dying peer finds
// out immediately instead of queueing bytes behind a closed conn.
var errSocketClosing = errClosing{}

type errClosing struct{}

func (errClosing) Error() string { return "hub: socket is closing" }

// enqueue appends data to the outbound queue, enforcing the
// per-direction MAX_BUFFER cap.
func (s *socket) enqueue(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if s.closing.IsSet() {
		return errSocketClosing
	}
	s.outMu.Lock()
	if s.outBytes+len(data) > wire.MaxBuffer {
		s.outMu.Unlock()
		return errBufferExceeded
	}
	s.outQueue = append(s.outQueue, data)
	s.outBytes += len(data)
	s.outMu.Unlock()
	s.wake()
	return nil
}

// closeAfterDrain schedules a full close once the outbound queue has
// been flushed, used to deliver a final SOCKS5 failure reply before
// tearing the client connection down.
func (s *socket) closeAfterDrain() {
	s.outMu.Lock()
	s.closeAfterDone = true
	s.outMu.Unlock()
	s.wake()
}

func (s *socket) wake() {
	select {
	case s.outSignal <- struct{}{}:
	default:
	}
}

// Close shuts the connection down immediately, discarding any queued
// but unwritten bytes. Safe to call more than once and from any
// goroutine.
func (s *socket) Close() {
	s.closeOnce.Do(func() {
		s.closing.Set()
		close(s.stopCh)
		_ = s.conn.Close()
	})
}

// writerLoop drains the outbound queue to the connection. It exits
// once the socket is closed, or after fulfilling a closeAfterDrain
// request.
func (s *socket) writerLoop() {
	for {
		s.outMu.Lock()
		if len(s.outQueue) == 0 {
			shouldClose := s.closeAfterDone
			s.outMu.Unlock()
			if shouldClose {
				s.Close()
				return
			}
			select {
			case <-s.outSignal:
				continue
			case <-s.stopCh:
				return
			}
		}
		chunk := s.outQueue[0]
		s.outQueue = s.outQueue[1:]
		s.outBytes -= len(chunk)
		s.outMu.Unlock()

		if _, err := s.conn.Write(chunk); err != nil {
			s.Close()
			return
		}
	}
}

// readerLoop reads from the connection in readChunkSize pieces and
// reports each read (or the terminal error) to out.
func (s *socket) readerLoop(out chan<- event) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- event{kind: evData, id: s.id, data: data}
		}
		if err != nil {
			out <- event{kind: evClosed, id: s.id, err: err}
			return
		}
	}
}
