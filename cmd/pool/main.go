package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/singe/contun/internal/pool"
	"github.com/singe/contun/internal/wire"
	"github.com/singe/contun/pkg/banner"
	"github.com/singe/contun/pkg/config"
)

// classifyHost picks the wire address type a literal target-host
// string should be tagged with.
func classifyHost(host string) wire.AddrType {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil {
			return wire.AddrIPv4
		}
		return wire.AddrIPv6
	}
	return wire.AddrDomain
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParsePool(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	var dest *wire.Destination
	targetAddr := ""
	if cfg.Mode == wire.ModeDirect {
		d := wire.Destination{Type: classifyHost(cfg.TargetHost), Host: cfg.TargetHost, Port: cfg.TargetPort}
		if err := d.Validate(); err != nil {
			logger.Printf("pool: invalid target: %v", err)
			return 1
		}
		dest = &d
		targetAddr = cfg.TargetAddr()
	}

	banner.Print("POOL")
	banner.PrintPoolStatus(cfg.HubAddr(), cfg.Workers, cfg.Mode.String(), targetAddr)

	retryDelay := time.Duration(cfg.RetryDelay * float64(time.Second))
	sup := pool.NewSupervisor(cfg.HubAddr(), cfg.Mode, dest, cfg.Workers, retryDelay, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup.Run(ctx)
	return 0
}
