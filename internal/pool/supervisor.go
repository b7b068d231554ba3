package pool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/singe/contun/internal/wire"
)

// Supervisor keeps exactly N workers alive, each self-restarting in
// its own loop.
type Supervisor struct {
	hubAddr    string
	mode       wire.Mode
	dest       *wire.Destination
	count      int
	retryDelay time.Duration
	log        *log.Logger
}

// NewSupervisor constructs a supervisor for count workers dialing
// hubAddr.
func NewSupervisor(hubAddr string, mode wire.Mode, dest *wire.Destination, count int, retryDelay time.Duration, logger *log.Logger) *Supervisor {
	return &Supervisor{
		hubAddr:    hubAddr,
		mode:       mode,
		dest:       dest,
		count:      count,
		retryDelay: retryDelay,
		log:        logger,
	}
}

// Run starts all workers and blocks until ctx is cancelled and every
// worker has returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(s.count)
	for i := 0; i < s.count; i++ {
		cfg := Config{
			HubAddr:    s.hubAddr,
			Mode:       s.mode,
			Dest:       s.dest,
			RetryDelay: s.retryDelay,
		}
		w := New(i+1, cfg, s.log)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}
