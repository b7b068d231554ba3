// Package hub implements the contun hub: the single-owner dispatcher
// that accepts client connections (direct or SOCKS5) and pool worker
// connections, pairs them, and relays data between them.
//
// All mutable pairing state lives in one goroutine (Engine.Run). Every
// socket's reader goroutine only ever sends events into a shared
// channel; nothing outside Run touches contexts, idleWorkers, or
// pendingClients. This gets single-threaded pairing semantics from
// Go's ordinary goroutine-plus-channel idiom instead of a hand-rolled
// readiness poll, the same way a single actor loop fed by per-stream
// goroutines centralises session bookkeeping in one place.
package hub

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/singe/contun/internal/wire"
)

type eventKind int

const (
	evAccept eventKind = iota
	evData
	evClosed
	evSnapshot
)

// event is the single message type carried on Engine.events. Every
// socket's readerLoop and acceptLoop speak only this type to Run.
type event struct {
	kind eventKind
	id   uint64
	role Role
	conn net.Conn
	data []byte
	err  error

	// evSnapshot only
	resp chan Snapshot
}

// Snapshot is a point-in-time view of the hub's pairing state, used by
// the admin HTTP surface.
type Snapshot struct {
	Mode           string
	ModeCommitted  bool
	ActiveMode     string
	Clients        int
	Workers        int
	IdleWorkers    int
	PendingClients int
	PairedSessions int
}

// Engine is the hub's single-owner dispatcher.
type Engine struct {
	log *log.Logger

	configuredMode wire.Mode
	modeCommitted  bool
	activeMode     wire.Mode

	clientListener net.Listener
	poolListener   net.Listener

	events   chan event
	contexts map[uint64]*socketContext
	nextID   uint64

	idleWorkers    []uint64
	pendingClients []uint64
}

// NewEngine constructs an Engine bound to the given listeners. mode is
// the hub's configured operating mode.
func NewEngine(logger *log.Logger, clientLn, poolLn net.Listener, mode wire.Mode) *Engine {
	e := &Engine{
		log:            logger,
		configuredMode: mode,
		clientListener: clientLn,
		poolListener:   poolLn,
		events:         make(chan event, 256),
		contexts:       make(map[uint64]*socketContext),
	}
	if mode != wire.ModeAuto {
		e.modeCommitted = true
		e.activeMode = mode
	}
	return e
}

// Run drives the hub's event loop until ctx is cancelled. It is the
// only goroutine that ever reads or writes Engine's pairing state.
func (e *Engine) Run(ctx context.Context) error {
	go e.acceptLoop(e.clientListener, RoleClient)
	go e.acceptLoop(e.poolListener, RoleWorker)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) shutdown() {
	_ = e.clientListener.Close()
	_ = e.poolListener.Close()
	for _, c := range e.contexts {
		c.sock.Close()
	}
}

func (e *Engine) acceptLoop(ln net.Listener, role Role) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		e.events <- event{kind: evAccept, role: role, conn: conn}
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evAccept:
		e.onAccept(ev.role, ev.conn)
	case evData:
		if c := e.contexts[ev.id]; c != nil {
			e.onData(c, ev.data)
		}
	case evClosed:
		if _, ok := e.contexts[ev.id]; ok {
			e.teardown(ev.id, ev.err)
		}
	case evSnapshot:
		ev.resp <- e.snapshot()
	}
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Mode:          e.configuredMode.String(),
		ModeCommitted: e.modeCommitted,
	}
	if e.modeCommitted {
		s.ActiveMode = e.activeMode.String()
	}
	paired := 0
	for _, c := range e.contexts {
		switch c.role {
		case RoleClient:
			s.Clients++
		case RoleWorker:
			s.Workers++
		}
		if c.hasPeer {
			paired++
		}
	}
	s.PairedSessions = paired / 2
	s.IdleWorkers = len(e.idleWorkers)
	s.PendingClients = len(e.pendingClients)
	return s
}

// Snapshot requests a consistent view of engine state from outside the
// event loop goroutine (used by the admin HTTP handlers). It blocks
// until the loop services the request.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	select {
	case e.events <- event{kind: evSnapshot, resp: resp}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (e *Engine) onAccept(role Role, conn net.Conn) {
	e.nextID++
	id := e.nextID
	sock := newSocket(id, conn, role)

	ctx := &socketContext{id: id, role: role, sock: sock}
	if role == RoleClient {
		ctx.state = ClientAwaitMode
	} else {
		ctx.state = WorkerAwaitHello
	}
	e.contexts[id] = ctx

	go sock.readerLoop(e.events)
	go sock.writerLoop()

	if role == RoleClient && e.modeCommitted {
		e.admitClient(ctx)
	}
}

// admitClient moves a client out of ClientAwaitMode once the hub's
// active mode is known, either because it was already committed when
// the client connected or because a worker just committed it.
// Direct-mode clients need no bytes from the client before pairing:
// the destination comes from the worker's HELLO, so the client is
// queued immediately.
func (e *Engine) admitClient(c *socketContext) {
	if e.activeMode == wire.ModeSocks {
		c.state = ClientAwaitGreeting
		if len(c.inBuffer) > 0 {
			e.onSocksData(c)
		}
		return
	}
	c.state = ClientAwaitWorker
	c.pendingData = append(c.pendingData, c.inBuffer...)
	c.inBuffer = nil
	e.pendingClients = append(e.pendingClients, c.id)
	e.dispatch()
}

func (e *Engine) onData(c *socketContext, data []byte) {
	c.inBuffer = append(c.inBuffer, data...)
	if c.bufferedBytes() > wire.MaxBuffer {
		e.teardown(c.id, errBufferExceeded)
		return
	}

	switch c.role {
	case RoleClient:
		e.onClientData(c)
	case RoleWorker:
		e.onWorkerData(c)
	}
}

func (e *Engine) onClientData(c *socketContext) {
	switch c.state {
	case ClientAwaitMode:
		// Mode is not yet known for an auto hub; stash bytes until the
		// first worker commits a mode.
		if !e.modeCommitted {
			return
		}
		e.admitClient(c)

	case ClientAwaitGreeting, ClientAwaitRequest:
		// Only reachable in socks mode: admitClient moves a
		// direct-mode client straight to ClientAwaitWorker.
		e.onSocksData(c)

	case ClientAwaitWorker, ClientAwaitReply:
		// Bound by the outer MaxBuffer check in onData; just hold the
		// bytes until a worker is paired and the REQUEST succeeds.
		c.pendingData = append(c.pendingData, c.inBuffer...)
		c.inBuffer = nil

	case ClientStream:
		peer := e.contexts[c.peer]
		payload := c.inBuffer
		c.inBuffer = nil
		if peer == nil {
			return
		}
		if err := peer.sock.enqueue(payload); err != nil {
			e.teardown(c.id, err)
		}

	default:
		e.teardown(c.id, fmt.Errorf("hub: client %d in unexpected state %s", c.id, c.state))
	}
}

// onSocksData drives the incremental SOCKS5 greeting/request parser
// against c.inBuffer, consuming as many complete messages as are
// buffered.
func (e *Engine) onSocksData(c *socketContext) {
	for {
		switch c.state {
		case ClientAwaitGreeting:
			res := tryParseGreeting(c.inBuffer)
			if res.needMore {
				return
			}
			c.inBuffer = c.inBuffer[res.consumed:]
			if !res.accepted {
				if err := c.sock.enqueue(socksMethodReply(false)); err != nil {
					e.teardown(c.id, err)
					return
				}
				c.sock.closeAfterDrain()
				return
			}
			if err := c.sock.enqueue(socksMethodReply(true)); err != nil {
				e.teardown(c.id, err)
				return
			}
			c.state = ClientAwaitRequest

		case ClientAwaitRequest:
			res := tryParseRequest(c.inBuffer)
			if res.needMore {
				return
			}
			c.inBuffer = c.inBuffer[res.consumed:]
			if !res.ok {
				if err := c.sock.enqueue(socksFailureReply(res.failStatus)); err != nil {
					e.teardown(c.id, err)
					return
				}
				c.sock.closeAfterDrain()
				return
			}
			dest := res.dest
			c.requestedDest = &dest
			c.state = ClientAwaitWorker
			c.pendingData = append(c.pendingData, c.inBuffer...)
			c.inBuffer = nil
			e.pendingClients = append(e.pendingClients, c.id)
			e.dispatch()
			return

		default:
			return
		}
	}
}

func (e *Engine) onWorkerData(c *socketContext) {
	switch c.state {
	case WorkerAwaitHello:
		line, rest, ok := extractLine(c.inBuffer)
		if !ok {
			return
		}
		c.inBuffer = rest
		hello, err := wire.ParseHello(line)
		if err != nil {
			e.teardown(c.id, err)
			return
		}
		if err := e.commitWorkerMode(c, hello); err != nil {
			e.teardown(c.id, err)
			return
		}
		if err := c.sock.enqueue([]byte(wire.FormatOK() + "\n")); err != nil {
			e.teardown(c.id, err)
			return
		}
		c.state = WorkerIdle
		c.inBuffer = nil
		e.idleWorkers = append(e.idleWorkers, c.id)
		e.dispatch()

	case WorkerIdle:
		// Spurious bytes from an idle worker are dropped, not buffered.
		c.inBuffer = nil

	case WorkerAwaitReply:
		line, rest, ok := extractLine(c.inBuffer)
		if !ok {
			return
		}
		c.inBuffer = rest
		status, dest, err := wire.ParseReply(line)
		if err != nil {
			e.teardown(c.id, err)
			return
		}
		e.onWorkerReply(c, status, dest)

	case WorkerStream:
		peer := e.contexts[c.peer]
		payload := c.inBuffer
		c.inBuffer = nil
		if peer == nil {
			return
		}
		if err := peer.sock.enqueue(payload); err != nil {
			e.teardown(c.id, err)
		}

	default:
		e.teardown(c.id, fmt.Errorf("hub: worker %d in unexpected state %s", c.id, c.state))
	}
}

// commitWorkerMode validates hello against the hub's configured mode,
// locking an auto hub onto the first worker's declared mode and
// rejecting any later worker that disagrees.
func (e *Engine) commitWorkerMode(c *socketContext, hello wire.Hello) error {
	if hello.Mode != wire.ModeDirect && hello.Mode != wire.ModeSocks {
		return fmt.Errorf("hub: worker %d declared invalid mode %v", c.id, hello.Mode)
	}
	if !e.modeCommitted {
		e.activeMode = hello.Mode
		e.modeCommitted = true
		e.promotePendingClients()
	} else if e.activeMode != hello.Mode {
		return fmt.Errorf("hub: worker %d mode %v conflicts with active mode %v", c.id, hello.Mode, e.activeMode)
	}
	c.workerMode = hello.Mode
	if hello.Mode == wire.ModeDirect {
		c.declaredDest = hello.Dest
	}
	return nil
}

// promotePendingClients moves clients that connected before an auto
// hub's mode was known out of ClientAwaitMode now that it is.
func (e *Engine) promotePendingClients() {
	for _, c := range e.contexts {
		if c.role == RoleClient && c.state == ClientAwaitMode {
			e.admitClient(c)
		}
	}
}

// dispatch pairs queued idle workers with queued pending clients until
// one queue runs dry. Stale queue entries (already paired or
// gone) are discarded on pop.
func (e *Engine) dispatch() {
	for {
		workerID, ok := e.popIdleWorker()
		if !ok {
			return
		}
		clientID, ok := e.popPendingClient()
		if !ok {
			e.idleWorkers = append([]uint64{workerID}, e.idleWorkers...)
			return
		}
		e.pair(workerID, clientID)
	}
}

func (e *Engine) popIdleWorker() (uint64, bool) {
	for len(e.idleWorkers) > 0 {
		id := e.idleWorkers[0]
		e.idleWorkers = e.idleWorkers[1:]
		c := e.contexts[id]
		if c != nil && c.state == WorkerIdle {
			return id, true
		}
	}
	return 0, false
}

func (e *Engine) popPendingClient() (uint64, bool) {
	for len(e.pendingClients) > 0 {
		id := e.pendingClients[0]
		e.pendingClients = e.pendingClients[1:]
		c := e.contexts[id]
		if c != nil && c.state == ClientAwaitWorker {
			return id, true
		}
	}
	return 0, false
}

func (e *Engine) pair(workerID, clientID uint64) {
	worker := e.contexts[workerID]
	client := e.contexts[clientID]
	if worker == nil || client == nil {
		return
	}

	pairID := uuid.NewString()
	worker.pairID = pairID
	client.pairID = pairID
	worker.hasPeer, worker.peer = true, clientID
	client.hasPeer, client.peer = true, workerID
	worker.state = WorkerAwaitReply
	client.state = ClientAwaitReply

	var dest wire.Destination
	if e.activeMode == wire.ModeDirect {
		if worker.declaredDest == nil {
			e.teardown(workerID, fmt.Errorf("hub: direct worker %d has no declared destination", workerID))
			return
		}
		dest = *worker.declaredDest
	} else {
		if client.requestedDest == nil {
			e.teardown(clientID, fmt.Errorf("hub: socks client %d has no requested destination", clientID))
			return
		}
		dest = *client.requestedDest
	}

	if err := worker.sock.enqueue([]byte(wire.FormatRequest(dest) + "\n")); err != nil {
		e.teardown(workerID, err)
	}
}

func (e *Engine) onWorkerReply(c *socketContext, status int, dest wire.Destination) {
	peer := e.contexts[c.peer]
	if status == wire.ReplySuccess {
		c.state = WorkerStream
		if peer != nil {
			peer.state = ClientStream
			if e.activeMode == wire.ModeSocks {
				if err := peer.sock.enqueue(socksReply(socksReplySuccess, dest)); err != nil {
					e.teardown(peer.id, err)
					return
				}
			}
			e.flushPending(peer, c)
		}
		return
	}
	e.failPair(c, peer, status)
}

// failPair delivers a failure response to the client half of a pair
// (if still present) and tears the worker down; the worker is never
// reused after a non-zero REPLY.
func (e *Engine) failPair(worker, client *socketContext, status int) {
	if client != nil {
		if e.activeMode == wire.ModeSocks {
			_ = client.sock.enqueue(socksFailureReply(socksStatusFromWireStatus(status)))
			client.sock.closeAfterDrain()
		} else {
			client.sock.Close()
		}
		client.hasPeer = false
	}
	worker.hasPeer = false
	e.teardown(worker.id, fmt.Errorf("hub: worker %d reply status %d", worker.id, status))
}

func (e *Engine) flushPending(client, worker *socketContext) {
	if len(client.pendingData) == 0 {
		return
	}
	payload := client.pendingData
	client.pendingData = nil
	if err := worker.sock.enqueue(payload); err != nil {
		e.teardown(worker.id, err)
	}
}

// teardown removes id's context, closes its socket, and recurses onto
// its peer (if any) using a two-step close: the peer's hasPeer flag is
// cleared before recursing so the peer's own teardown call sees no
// linked partner and cannot bounce back.
func (e *Engine) teardown(id uint64, reason error) {
	c, ok := e.contexts[id]
	if !ok {
		return
	}
	delete(e.contexts, id)
	c.sock.Close()

	if c.role == RoleWorker && c.state == WorkerAwaitReply {
		if peer, ok := e.contexts[c.peer]; ok && peer.hasPeer && peer.peer == id && peer.state == ClientAwaitReply {
			peer.hasPeer = false
			e.failPairClientOnly(peer, reason)
			return
		}
	}

	if c.hasPeer {
		peerID := c.peer
		c.hasPeer = false
		if peer, ok := e.contexts[peerID]; ok {
			peer.hasPeer = false
			e.teardown(peerID, reason)
		}
	}
}

// failPairClientOnly handles the case where a worker died (crash,
// network loss) while its paired client was still waiting on a REPLY:
// the client gets a generic failure response instead of a silent
// close.
func (e *Engine) failPairClientOnly(client *socketContext, reason error) {
	if e.log != nil {
		e.log.Printf("hub: worker for pair %s lost: %v", client.pairID, reason)
	}
	if e.activeMode == wire.ModeSocks {
		_ = client.sock.enqueue(socksFailureReply(socksReplyGeneralErr))
		client.sock.closeAfterDrain()
	} else {
		client.sock.Close()
	}
}

// extractLine splits buf on the first "\n", stripping a trailing "\r",
// and reports whether a full line was found.
func extractLine(buf []byte) (line, rest []byte, found bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, buf, false
	}
	line = buf[:i]
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, buf[i+1:], true
}
