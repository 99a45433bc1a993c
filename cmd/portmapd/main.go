// Command portmapd is the port-forwarder daemon: it parses spec.md
// section 6's flag surface, builds the shared tables/registry/poller, and
// drives the single-threaded event loop until SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/gobfd/main.go: os.Exit(run()), a
// Prometheus registry constructed once at startup, an admin/metrics HTTP
// server run alongside the main loop, and a graceful-shutdown path that
// closes every owned resource. The teacher supervises its HTTP servers
// and background goroutines with golang.org/x/sync/errgroup; this daemon
// reuses the same pattern for its two goroutines (the event loop and the
// admin HTTP server): the admin server's goroutine shuts itself down as
// soon as the event-loop goroutine returns, and errgroup.Wait reports the
// first error from either. Signal handling is not part of this group —
// signalwatch.Watcher manages its own single goroutine and is just a
// Runner the event loop polls, with no error to propagate.
//
// The teacher also registers with systemd via
// github.com/coreos/go-systemd/v22/daemon (sd_notify readiness/watchdog).
// That dependency is not part of this module (see DESIGN.md): a
// port-forwarder with no privileged listening ports and no long
// convergence delay has little need for watchdog supervision, and adding
// a new dependency with nothing else in SPEC_FULL.md to exercise would
// violate the "wire it or delete it" rule this module otherwise follows.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/vanenet/portmapd/internal/admin"
	"github.com/vanenet/portmapd/internal/config"
	"github.com/vanenet/portmapd/internal/conntable"
	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/handler"
	"github.com/vanenet/portmapd/internal/logging"
	"github.com/vanenet/portmapd/internal/loop"
	"github.com/vanenet/portmapd/internal/rawsock"
	"github.com/vanenet/portmapd/internal/selftest"
	"github.com/vanenet/portmapd/internal/signalwatch"
	"github.com/vanenet/portmapd/internal/stats"
	appversion "github.com/vanenet/portmapd/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if cfg.ShowVersion {
		fmt.Println(appversion.Full("portmapd"))
		return 0
	}

	logger, logFile, err := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		Position: cfg.LogPosition,
		Color:    cfg.ColorEnabled,
		LogFile:  cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if cfg.RunTest {
		report := selftest.Run(logger)
		if !report.OK() {
			return 1
		}
		return 0
	}

	logger.Info("portmapd starting",
		"version", appversion.Version,
		"listen", cfg.Listen.String(),
		"remote", cfg.Remote.String(),
		"tcp", cfg.TCP,
		"udp", cfg.UDP,
	)

	translation := handler.Normal
	switch cfg.Translation {
	case config.V4toV6:
		translation = handler.V4toV6
	case config.V6toV4:
		translation = handler.V6toV4
	}

	reg := prometheus.NewRegistry()
	counters := stats.New(reg)
	registry := handle.NewRegistry()
	poller, err := eventloop.NewPoller()
	if err != nil {
		logger.Error("create poller failed", "error", err)
		return 1
	}
	defer poller.Close()
	tokens := eventloop.NewTokenMap()

	evictionPolicy := conntable.EvictionPolicy{
		Disabled: cfg.DisableConnClear,
		Ratio:    cfg.ConnClearRatio,
		Floor:    cfg.ConnClearMin,
		Timeout:  cfg.TCPTimeoutSec,
	}
	tcpTable := conntable.NewTCPTable(evictionPolicy, counters)
	udpPolicy := evictionPolicy
	udpPolicy.Timeout = cfg.UDPTimeoutSec
	udpTable := conntable.NewUDPTable(udpPolicy, counters)

	deps := &handler.Deps{
		Registry: registry,
		Poller:   poller,
		Tokens:   tokens,
		TCP:      tcpTable,
		UDP:      udpTable,
		Stats:    counters,
		Log:      logger,
		Now:      func() int64 { return time.Now().Unix() },
	}

	bufBytes := cfg.SockBufKB * 1024

	var tcpListener, udpListener *rawsock.Listener
	if cfg.TCP {
		tcpListener, err = rawsock.NewTCPListener(cfg.Listen, bufBytes)
		if err != nil {
			logger.Error("create tcp listener failed", "addr", cfg.Listen, "error", err)
			return 1
		}
		defer rawsock.Close(tcpListener.FD)
	}
	if cfg.UDP {
		udpListener, err = rawsock.NewUDPListener(cfg.Listen, bufBytes)
		if err != nil {
			logger.Error("create udp listener failed", "addr", cfg.Listen, "error", err)
			return 1
		}
		defer rawsock.Close(udpListener.FD)
	}

	tcpHandler := handler.NewTCPHandler(deps, cfg.Remote, bufBytes, translation, cfg.BindIface, cfg.MaxConnections)
	udpHandler := handler.NewUDPHandler(deps, cfg.Remote, bufBytes, translation, cfg.BindIface, cfg.PMTUDFrag, cfg.MaxConnections)

	watcher := signalwatch.Start()
	defer watcher.Stop()

	l, err := loop.New(loop.Config{
		Deps:        deps,
		TCP:         tcpHandler,
		UDP:         udpHandler,
		TCPListener: tcpListener,
		UDPListener: udpListener,
		Running:     watcher,
	})
	if err != nil {
		logger.Error("build event loop failed", "error", err)
		return 1
	}

	adminSrv := admin.NewServer("127.0.0.1:0", admin.NewMux(admin.Deps{
		Registry: registry,
		TCP:      tcpTable,
		UDP:      udpTable,
		Stats:    counters,
	}, reg))
	adminLn, err := net.Listen("tcp", adminSrv.Addr)
	if err != nil {
		logger.Error("admin server listen failed", "error", err)
		return 1
	}
	logger.Info("admin server listening", "addr", adminLn.Addr().String())

	var g errgroup.Group
	g.Go(func() error {
		if err := adminSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			adminSrv.Shutdown(ctx)
		}()
		return l.Run()
	})

	if err := g.Wait(); err != nil {
		logger.Error("portmapd exited with error", "error", err)
		return 1
	}

	logger.Info("portmapd stopped")
	return 0
}
