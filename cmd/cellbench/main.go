// Package main is the cellbench emulation engine: it loads one battery
// profile per channel, opens a private SCPI-over-TCP session per channel
// against a Rigol DP832-class supply, and drives each Simulation Loop until
// shutdown or a terminal cutoff.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asgard/cellbench/internal/api"
	"github.com/asgard/cellbench/internal/metrics"
	"github.com/asgard/cellbench/internal/profile"
	"github.com/asgard/cellbench/internal/supervisor"
	"github.com/asgard/cellbench/internal/telemetry"
	"github.com/asgard/cellbench/internal/utils"
)

const (
	exitOK = iota
	exitConfigError
	exitStartupError
)

func main() {
	os.Exit(run())
}

func run() int {
	address := flag.String("address", "", "SCPI-over-TCP address of the power supply, host:port")
	profileDir := flag.String("profiles", "", "directory of battery profile JSON files, one per channel")
	httpAddr := flag.String("http-addr", "", "optional telemetry HTTP API address, empty disables it")
	logDir := flag.String("log-dir", "", "optional directory for timestamped event/scpi log files")
	dialTimeout := flag.Duration("dial-timeout", 5*time.Second, "TCP dial timeout")
	readTimeout := flag.Duration("read-timeout", 1*time.Second, "SCPI reply read timeout")
	maxConsecutiveErrors := flag.Int("max-consecutive-errors", 5, "consecutive measurement failures before a channel forces OFF")
	voltageDeadband := flag.Float64("voltage-deadband", 0.001, "minimum terminal voltage change, volts, before a new VOLT command is sent")
	flag.Parse()

	logger := utils.NewLogger()

	if *address == "" {
		logger.Error("%v", utils.NewConfigError("address", "must be set, e.g. 192.168.1.50:5555"))
		return exitConfigError
	}
	if *profileDir == "" {
		logger.Error("%v", utils.NewConfigError("profiles", "must be set to a directory of battery profile JSON files"))
		return exitConfigError
	}

	profiles, err := profile.LoadDir(*profileDir)
	if err != nil {
		logger.Error("%v", utils.WrapConfigError(err, "profiles", "failed to load profile directory"))
		return exitConfigError
	}
	if len(profiles) == 0 {
		logger.Error("%v", utils.NewConfigError("profiles", "directory contains no profile files"))
		return exitConfigError
	}

	registry := telemetry.NewRegistry()

	if *logDir != "" {
		humanFile, wireFile, err := openLogSinks(*logDir)
		if err != nil {
			logger.Error("%v", utils.WrapConfigError(err, "log-dir", "failed to open log sink files"))
			return exitConfigError
		}
		registry.SetFileSinks(humanFile, wireFile)
	}

	var broadcaster *telemetry.Broadcaster
	if *httpAddr != "" {
		broadcaster = telemetry.NewBroadcaster()
		go broadcaster.Run()
		registry.SetBroadcaster(broadcaster)
	}

	m := metrics.Get()
	sup := supervisor.New(supervisor.Config{
		Address:              *address,
		DialTimeout:          *dialTimeout,
		ReadTimeout:          *readTimeout,
		MaxConsecutiveErrors: *maxConsecutiveErrors,
		VoltageDeadband:      *voltageDeadband,
	}, registry, m, logger)

	if err := sup.Connect(profiles); err != nil {
		logger.Error("%v", err)
		return exitStartupError
	}
	logger.Info("connected %d of %d channel(s)", sup.ChannelCount(), len(profiles))

	var httpServer *http.Server
	if *httpAddr != "" {
		httpServer = &http.Server{
			Addr:    *httpAddr,
			Handler: api.NewRouter(registry, broadcaster),
		}
		go func() {
			logger.Info("telemetry API listening on %s", *httpAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("telemetry API server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	sup.Run(ctx)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry API shutdown error: %v", err)
		}
	}
	if broadcaster != nil {
		broadcaster.Stop()
	}

	logger.Info("cellbench stopped")
	return exitOK
}

func openLogSinks(dir string) (*os.File, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	stamp := time.Now().Format("20060102_150405")

	humanFile, err := os.Create(fmt.Sprintf("%s/event_%s.log", dir, stamp))
	if err != nil {
		return nil, nil, err
	}
	wireFile, err := os.Create(fmt.Sprintf("%s/scpi_%s.log", dir, stamp))
	if err != nil {
		humanFile.Close()
		return nil, nil, err
	}
	return humanFile, wireFile, nil
}
