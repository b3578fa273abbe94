// Package daemon implements the meter daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/meter/internal/capture"
	"firestige.xyz/meter/internal/command"
	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/emit"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/gamedata"
	logpkg "firestige.xyz/meter/internal/log"
	"firestige.xyz/meter/internal/metrics"
	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/pipeline"
)

// Option customizes a Daemon.
type Option func(*Daemon)

// WithCapturer replaces the configured capture source.
func WithCapturer(c capture.Capturer) Option {
	return func(d *Daemon) { d.capturer = c }
}

// WithVersion sets the version reported by status.
func WithVersion(v string) Option {
	return func(d *Daemon) { d.version = v }
}

// Daemon manages the meter process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	version    string
	capturer   capture.Capturer

	// Core components
	tables        *gamedata.Tables
	queue         *persist.Queue
	hub           *emit.Hub
	manager       *encounter.Manager
	emitter       *emit.Emitter
	pipeline      *pipeline.Pipeline
	cmdHandler    *command.Handler
	kafkaConsumer *command.KafkaConsumer // nil if disabled
	logCloser     io.Closer

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	group        *errgroup.Group
	groupDone    chan struct{}
	groupErr     error
	queueCancel  context.CancelFunc
	queueDone    chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// New creates a daemon. An empty configPath uses built-in defaults; a
// non-empty socketPath overrides the configured control socket.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	var (
		cfg *config.GlobalConfig
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = cfg.Control.Socket
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting meter daemon",
		"version", d.version,
		"config", d.configPath,
		"socket", d.socketPath,
		"source", d.config.Capture.Source,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Build the processing chain
	if err := d.build(); err != nil {
		return err
	}

	// 4. Persistence drains on its own context so the final tasks of the
	// encounter closed during Stop are still written.
	queueCtx, queueCancel := context.WithCancel(context.Background())
	d.queueCancel = queueCancel
	d.queueDone = make(chan struct{})
	go func() {
		defer close(d.queueDone)
		if err := d.queue.Run(queueCtx); err != nil {
			slog.Warn("persist queue stopped with error", "error", err)
		}
	}()

	// 5. Start everything else under one group
	var gctx context.Context
	d.group, gctx = errgroup.WithContext(d.ctx)

	d.group.Go(func() error {
		err := d.pipeline.Run(gctx)
		if err == nil && gctx.Err() == nil {
			slog.Info("capture source exhausted")
			d.TriggerShutdown()
		}
		return err
	})
	d.group.Go(func() error {
		return d.emitter.Run(gctx)
	})

	if d.config.Emit.Listen != "" {
		srv := emit.NewServer(d.config.Emit.Listen, d.config.Emit.WSPath, d.config.Emit.SnapshotPath, d.hub)
		d.group.Go(func() error {
			return srv.Run(gctx)
		})
	} else {
		slog.Info("emit server disabled")
	}

	d.startMetrics(gctx)

	if d.socketPath != "" {
		uds := command.NewUDSServer(d.socketPath, d.cmdHandler)
		d.group.Go(func() error {
			return uds.Start(gctx)
		})
	}

	if d.config.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(gctx); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			// Non-fatal: the socket and WebSocket still accept commands
		}
	}

	d.groupDone = make(chan struct{})
	go func() {
		d.groupErr = d.group.Wait()
		close(d.groupDone)
	}()

	slog.Info("daemon started successfully")
	return nil
}

// build creates every component from the loaded configuration.
func (d *Daemon) build() error {
	tables, err := gamedata.Load(d.config.GameData.Path)
	if err != nil {
		return fmt.Errorf("failed to load game data: %w", err)
	}
	d.tables = tables

	sink, err := persist.NewSink(d.config.Persist)
	if err != nil {
		return fmt.Errorf("failed to create persist sink: %w", err)
	}
	d.queue = persist.NewQueue(d.config.Persist.QueueCapacity, sink)

	d.hub = emit.NewHub()
	d.manager = encounter.NewManager(
		encounter.ConfigFrom(d.config.Encounter, d.config.Phase),
		tables, d.queue, d.hub,
	)
	d.emitter = emit.NewEmitter(d.manager, tables, d.hub, emit.ConfigFrom(d.config.Emit, d.config.Encounter))

	src := d.capturer
	if src == nil {
		src, err = capture.New(d.config.Capture)
		if err != nil {
			return fmt.Errorf("failed to create capture source: %w", err)
		}
	}

	d.pipeline, err = pipeline.New(pipeline.ConfigFrom(d.config), src, d.manager, tables)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	d.cmdHandler = command.NewHandler(d.pipeline, d.emitter, d.manager)
	d.cmdHandler.SetTracking(d.manager)
	d.cmdHandler.SetVersion(d.version)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via shutdown command")
		d.TriggerShutdown()
	})
	d.hub.SetHandler(d.cmdHandler)
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop Kafka command consumer first (no new commands)
	if d.kafkaConsumer != nil {
		slog.Info("stopping kafka command consumer")
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}

	// 2. Cancel capture, emission and servers, and wait for them
	d.cancel()
	if d.groupDone != nil {
		<-d.groupDone
	}

	// 3. End the live encounter so its final records are queued
	if d.manager != nil {
		d.manager.Close(time.Now().UnixMilli())
	}

	// 4. Flush persistence
	if d.queueCancel != nil {
		d.queueCancel()
		<-d.queueDone
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 7. Release the log file
	if d.logCloser != nil {
		d.logCloser.Close()
	}
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. the shutdown command over any command channel
//  3. a component failing, or a finite capture source running out
//
// SIGHUP reloads the log settings.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.groupDone:
			err := d.groupErr
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("component failed", "error", err)
			} else {
				err = nil
			}
			d.Stop()
			return err
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format and outputs.
// Everything else takes effect on restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no config file to reload")
	}
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	old := d.config
	d.config = newConfig
	hotReloaded := []string{}
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != old.Log.Level || newConfig.Log.Format != old.Log.Format {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Capture.Source != old.Capture.Source || newConfig.Capture.Device != old.Capture.Device {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Emit.Listen != old.Emit.Listen {
		requiresRestart = append(requiresRestart, "emit.listen")
	}
	if newConfig.Metrics.Listen != old.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown asks Run to stop the daemon.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Handler returns the command handler shared by all command channels.
func (d *Daemon) Handler() *command.Handler { return d.cmdHandler }

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	closer, err := logpkg.Init(d.config.Log)
	if err != nil {
		return err
	}
	if d.logCloser != nil {
		d.logCloser.Close()
	}
	d.logCloser = closer

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startKafkaConsumer starts the Kafka command consumer in the group.
func (d *Daemon) startKafkaConsumer(ctx context.Context) error {
	target := d.config.Control.Kafka.Target
	if target == "" {
		target, _ = os.Hostname()
	}
	consumer, err := command.NewKafkaConsumer(d.config.Control.Kafka, target, d.cmdHandler)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	d.group.Go(func() error {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
		return nil
	})
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics(ctx context.Context) {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return
	}
	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	d.group.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			// Non-fatal: capture continues without scraping
			slog.Error("metrics server failed", "error", err)
		}
		return nil
	})
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
