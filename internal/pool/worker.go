// Package pool implements a contun pool worker: a standing connection
// out to a hub that, once paired, dials a target and relays bytes
// between the hub and that target.
package pool

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/singe/contun/internal/bridge"
	"github.com/singe/contun/internal/wire"
)

const dialTimeout = 5 * time.Second

// hubKeptAlive is the splice policy for a worker's bridge: the hub
// control connection is never closed or half-closed while the target
// side is still live, so the worker can return to reading the next
// REQUEST on it once the target side ends. UnblockAWhenBDone forces
// the hub-reading goroutine to give up its blocked Read the moment the
// target side finishes, instead of leaving it parked forever; a
// cancelled ctx closes both legs outright since there is nothing left
// to reuse past shutdown.
func hubKeptAlive() bridge.Options {
	return bridge.Options{
		CloseAOnCancel:    true,
		CloseBOnCancel:    true,
		HalfCloseB:        true,
		UnblockAWhenBDone: true,
	}
}

// Config is one worker's session configuration.
type Config struct {
	HubAddr    string
	Mode       wire.Mode
	Dest       *wire.Destination // direct mode only
	RetryDelay time.Duration
}

// Worker runs one independent session loop against the hub. A pool supervisor owns many of these.
type Worker struct {
	id  int
	cfg Config
	log *log.Logger
}

// New constructs a worker identified by id (used only for logging).
func New(id int, cfg Config, logger *log.Logger) *Worker {
	return &Worker{id: id, cfg: cfg, log: logger}
}

// Run drives the worker's self-restarting session loop until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.log.Printf("pool: worker %d session ended: %v", w.id, err)
		}
		if ctx.Err() != nil {
			return
		}
		if !sleepCancellable(ctx, w.cfg.RetryDelay) {
			return
		}
	}
}

// session performs one hub connection's lifetime: dial, handshake,
// then an unbounded loop of REQUEST/REPLY/bridge cycles.
func (w *Worker) session(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", w.cfg.HubAddr, dialTimeout)
	if err != nil {
		return fmt.Errorf("pool: worker %d dial hub: %w", w.id, err)
	}
	defer conn.Close()

	hello, err := wire.FormatHello(w.cfg.Mode, w.cfg.Dest)
	if err != nil {
		return fmt.Errorf("pool: worker %d build HELLO: %w", w.id, err)
	}
	if err := wire.WriteLine(conn, hello); err != nil {
		return fmt.Errorf("pool: worker %d write HELLO: %w", w.id, err)
	}

	r := bufio.NewReader(conn)
	line, err := wire.ReadLine(r)
	if err != nil {
		return fmt.Errorf("pool: worker %d read handshake reply: %w", w.id, err)
	}
	if line != "OK" {
		return fmt.Errorf("pool: worker %d handshake rejected: %q", w.id, line)
	}
	w.log.Printf("pool: worker %d idle, mode=%s", w.id, w.cfg.Mode)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.handleOneRequest(ctx, conn, r); err != nil {
			return err
		}
	}
}

// handleOneRequest reads one REQUEST line, dials the target, replies,
// and bridges until the session ends.
func (w *Worker) handleOneRequest(ctx context.Context, conn net.Conn, r *bufio.Reader) error {
	line, err := wire.ReadLine(r)
	if err != nil {
		return fmt.Errorf("pool: worker %d read REQUEST: %w", w.id, err)
	}
	dest, err := wire.ParseRequest(line)
	if err != nil {
		return fmt.Errorf("pool: worker %d malformed REQUEST: %w", w.id, err)
	}

	if w.cfg.Mode == wire.ModeDirect && w.cfg.Dest != nil && !dest.Equal(*w.cfg.Dest) {
		return w.reply(conn, wire.ReplyGeneral, dest)
	}

	pairID := uuid.NewString()
	targetConn, err := net.DialTimeout("tcp", dest.String(), dialTimeout)
	if err != nil {
		status := wire.StatusFromDialError(err)
		w.log.Printf("pool: worker %d pair %s dial %s failed: %v", w.id, pairID, dest, err)
		return w.reply(conn, status, dest)
	}
	defer targetConn.Close()

	if err := w.reply(conn, wire.ReplySuccess, dest); err != nil {
		return err
	}
	w.log.Printf("pool: worker %d pair %s streaming to %s", w.id, pairID, dest)

	// hubConn is "a", targetConn is "b": hubKeptAlive() keeps the hub
	// leg untouched so this worker can read the next REQUEST off conn
	// once the target leg ends.
	errAtoB, errBtoA := bridge.Splice(ctx, conn, targetConn, hubKeptAlive())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errAtoB != nil {
		return errAtoB
	}
	return errBtoA
}

func (w *Worker) reply(conn net.Conn, status int, dest wire.Destination) error {
	return wire.WriteLine(conn, wire.FormatReply(status, dest))
}

// sleepCancellable waits d, returning false if ctx is cancelled first.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
