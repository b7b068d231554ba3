package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/singe/contun/internal/hub"
	"github.com/singe/contun/pkg/banner"
	"github.com/singe/contun/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseHub(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	clientLn, err := hub.ListenReusePort(cfg.ClientAddr())
	if err != nil {
		logger.Printf("hub: client listen: %v", err)
		return 1
	}
	defer clientLn.Close()

	poolLn, err := hub.ListenReusePort(cfg.PoolAddr())
	if err != nil {
		logger.Printf("hub: pool listen: %v", err)
		return 1
	}
	defer poolLn.Close()

	banner.Print("HUB")
	banner.PrintHubStatus(clientLn.Addr().String(), poolLn.Addr().String(), cfg.Mode.String())

	engine := hub.NewEngine(logger, clientLn, poolLn, cfg.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	adminSrv := &http.Server{
		Addr:    "127.0.0.1:0",
		Handler: hub.AdminRouter(engine),
	}
	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Printf("hub: admin listen: %v", err)
	} else {
		logger.Printf("hub: admin surface at http://%s", adminLn.Addr())
		go func() {
			if err := adminSrv.Serve(adminLn); err != nil && err != http.ErrServerClosed {
				logger.Printf("hub: admin server: %v", err)
			}
		}()
		defer adminSrv.Close()
	}

	// Run only ever returns via ctx cancellation (an interrupt or
	// termination signal), so its error is always ctx.Err().
	_ = engine.Run(ctx)
	return 0
}
