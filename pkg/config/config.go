// Package config parses the flag-based CLI surfaces of cmd/hub and
// cmd/pool into validated structs.
package config

import (
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/singe/contun/internal/wire"
)

// HubConfig is the hub's validated CLI configuration.
type HubConfig struct {
	ClientBind string
	ClientPort int
	PoolBind   string
	PoolPort   int
	Mode       wire.Mode
}

func (c HubConfig) ClientAddr() string {
	return net.JoinHostPort(c.ClientBind, strconv.Itoa(c.ClientPort))
}

func (c HubConfig) PoolAddr() string {
	return net.JoinHostPort(c.PoolBind, strconv.Itoa(c.PoolPort))
}

// ParseHub parses args (excluding argv[0]) into a HubConfig. Any usage
// problem, including a -h/-help request (flag.ErrHelp), is returned as
// a non-nil error; cmd/hub exits with status 2 on every such error.
func ParseHub(args []string, stderr io.Writer) (*HubConfig, error) {
	fs := flag.NewFlagSet("hub", flag.ContinueOnError)
	fs.SetOutput(stderr)

	clientBind := fs.String("client-bind", "127.0.0.1", "client-facing bind address")
	fs.StringVar(clientBind, "C", "127.0.0.1", "shorthand for -client-bind")
	clientPort := fs.Int("client-port", 0, "client-facing listen port (required)")
	fs.IntVar(clientPort, "c", 0, "shorthand for -client-port")
	poolBind := fs.String("pool-bind", "0.0.0.0", "pool-facing bind address")
	fs.StringVar(poolBind, "P", "0.0.0.0", "shorthand for -pool-bind")
	poolPort := fs.Int("pool-port", 0, "pool-facing listen port (required)")
	fs.IntVar(poolPort, "p", 0, "shorthand for -pool-port")
	mode := fs.String("mode", "auto", "operating mode: auto, direct, or socks")
	fs.StringVar(mode, "m", "auto", "shorthand for -mode")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *clientPort == 0 {
		return nil, fmt.Errorf("config: -client-port is required")
	}
	if *poolPort == 0 {
		return nil, fmt.Errorf("config: -pool-port is required")
	}
	m, err := wire.ParseMode(*mode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &HubConfig{
		ClientBind: *clientBind,
		ClientPort: *clientPort,
		PoolBind:   *poolBind,
		PoolPort:   *poolPort,
		Mode:       m,
	}, nil
}

// PoolConfig is a pool's validated CLI configuration.
type PoolConfig struct {
	HubHost    string
	HubPort    int
	Mode       wire.Mode
	TargetHost string
	TargetPort int
	Workers    int
	RetryDelay float64
}

func (c PoolConfig) HubAddr() string {
	return net.JoinHostPort(c.HubHost, strconv.Itoa(c.HubPort))
}

func (c PoolConfig) TargetAddr() string {
	return net.JoinHostPort(c.TargetHost, strconv.Itoa(c.TargetPort))
}

// ParsePool parses args into a PoolConfig, enforcing that
// target-host/target-port are supplied if and only if mode is direct.
func ParsePool(args []string, stderr io.Writer) (*PoolConfig, error) {
	fs := flag.NewFlagSet("pool", flag.ContinueOnError)
	fs.SetOutput(stderr)

	hubHost := fs.String("hub-host", "127.0.0.1", "hub host to dial")
	fs.StringVar(hubHost, "j", "127.0.0.1", "shorthand for -hub-host")
	hubPort := fs.Int("hub-port", 0, "hub pool-facing port (required)")
	fs.IntVar(hubPort, "p", 0, "shorthand for -hub-port")
	mode := fs.String("mode", "direct", "operating mode: direct or socks")
	fs.StringVar(mode, "m", "direct", "shorthand for -mode")
	targetHost := fs.String("target-host", "", "target host (direct mode only)")
	fs.StringVar(targetHost, "t", "", "shorthand for -target-host")
	targetPort := fs.Int("target-port", 0, "target port (direct mode only)")
	fs.IntVar(targetPort, "T", 0, "shorthand for -target-port")
	workers := fs.Int("workers", 4, "number of standing worker connections")
	fs.IntVar(workers, "w", 4, "shorthand for -workers")
	retryDelay := fs.Float64("retry-delay", 1.0, "seconds to wait before a worker reconnects after a fatal error")
	fs.Float64Var(retryDelay, "r", 1.0, "shorthand for -retry-delay")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *hubPort == 0 {
		return nil, fmt.Errorf("config: -hub-port is required")
	}
	m, err := wire.ParseMode(*mode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if m == wire.ModeAuto {
		return nil, fmt.Errorf("config: pool -mode cannot be auto")
	}
	if m == wire.ModeDirect {
		if *targetHost == "" || *targetPort == 0 {
			return nil, fmt.Errorf("config: -target-host and -target-port are required in direct mode")
		}
	} else if *targetHost != "" || *targetPort != 0 {
		return nil, fmt.Errorf("config: -target-host/-target-port are only permitted in direct mode")
	}
	if *workers <= 0 {
		return nil, fmt.Errorf("config: -workers must be > 0")
	}
	if *retryDelay < 0 {
		return nil, fmt.Errorf("config: -retry-delay must be >= 0")
	}

	return &PoolConfig{
		HubHost:    *hubHost,
		HubPort:    *hubPort,
		Mode:       m,
		TargetHost: *targetHost,
		TargetPort: *targetPort,
		Workers:    *workers,
		RetryDelay: *retryDelay,
	}, nil
}
