package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/route-beacon/mrt-replay/internal/archive"
	"github.com/route-beacon/mrt-replay/internal/config"
	replayhttp "github.com/route-beacon/mrt-replay/internal/http"
	"github.com/route-beacon/mrt-replay/internal/kafka"
	"github.com/route-beacon/mrt-replay/internal/metrics"
	"github.com/route-beacon/mrt-replay/internal/replay"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	configPath string
	router     string // locally staged files, no synchronization
	routeviews string
	ripe       string
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printUsage()
		os.Exit(1)
	}
	if opts == nil { // --help
		printUsage()
		return
	}

	// `list` needs no configuration: print routers and exit.
	if opts.routeviews == "list" || opts.ripe == "list" {
		listRouters(opts)
		return
	}

	selected := 0
	for _, v := range []string{opts.router, opts.routeviews, opts.ripe} {
		if v != "" {
			selected++
		}
	}
	if selected != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of --router, --routeviews, --ripe must be given")
		os.Exit(2)
	}
	if opts.configPath == "" {
		fmt.Fprintln(os.Stderr, "a configuration file is required (-c FILE)")
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	router := opts.router
	if router == "" {
		router = opts.routeviews
	}
	if router == "" {
		router = opts.ripe
	}

	logger := initLogger(cfg.Logging, router)
	defer logger.Sync()

	run(cfg, opts, router, logger)
}

func printUsage() {
	fmt.Println("Usage: mrt-replay [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --config FILE         Path to configuration YAML file")
	fmt.Println("  -r, --router NAME         Replay locally staged MRT files for NAME")
	fmt.Println("      --rv, --routeviews NAME   Sync NAME from RouteViews (NAME=list lists routers)")
	fmt.Println("      --rp, --ripe NAME         Sync NAME from RIPE RIS (NAME=list lists routers)")
	fmt.Println("  -h, --help                Show this help")
}

func parseArgs(args []string) (*options, error) {
	opts := &options{}
	value := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "-c", "--config":
			opts.configPath, err = value(i, args[i])
			i++
		case "-r", "--router":
			opts.router, err = value(i, args[i])
			i++
		case "--rv", "--routeviews":
			opts.routeviews, err = value(i, args[i])
			i++
		case "--rp", "--ripe":
			opts.ripe, err = value(i, args[i])
			i++
		case "-h", "--help":
			return nil, nil
		default:
			return nil, fmt.Errorf("unknown option: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func initLogger(cfg config.LoggingConfig, router string) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapLevel),
	}
	if cfg.Directory != "" {
		rotating := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, fmt.Sprintf("openbmp-mrt2bmp_%s.log", router)),
			MaxSize:    20, // MiB
			MaxBackups: 10,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotating), zapLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}

func listRouters(opts *options) {
	client := &http.Client{Timeout: 60 * time.Second}
	var mirror archive.Mirror
	if opts.routeviews == "list" {
		mirror = archive.NewRouteViews(client)
	} else {
		mirror = archive.NewRIPERIS(client)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	routers, err := mirror.ListRouters(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing routers: %v\n", err)
		os.Exit(2)
	}
	for _, r := range routers {
		fmt.Println(r.Name)
	}
}

func run(cfg *config.Config, opts *options, router string, logger *zap.Logger) {
	metrics.Register()

	logger.Info("starting mrt-replay",
		zap.String("router", router),
		zap.String("collector", cfg.Collector.Addr()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	masterDir := filepath.Join(cfg.RouterData.MasterDirectoryPath, router)
	processedDir := filepath.Join(cfg.RouterData.ProcessedDirectoryPath, router)

	reg := replay.NewRegistry()
	sysName := "openbmp-mrt2bmp/" + router
	writer := replay.NewWriter(
		cfg.Collector.Addr(), cfg.RouterData.MaxQueueSize, reg,
		"openbmp-mrt2bmp MRT to BMP replay", sysName,
		replay.RouterBGPID(router), logger.Named("replay.writer"),
	)

	var sink replay.Sink = writer
	if cfg.Kafka.Enabled {
		tlsCfg, err := cfg.Kafka.BuildTLSConfig()
		if err != nil {
			logger.Fatal("failed to build TLS config", zap.Error(err))
		}
		mirror, err := kafka.NewMirror(
			cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID, sysName,
			tlsCfg, cfg.Kafka.BuildSASLMechanism(), logger.Named("kafka.mirror"),
		)
		if err != nil {
			logger.Fatal("failed to create kafka mirror", zap.Error(err))
		}
		defer mirror.Close()
		sink = &replay.Tee{Primary: writer, Mirror: mirror}
		logger.Info("kafka mirror enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	var sync *archive.Synchronizer
	if opts.router == "" {
		client := &http.Client{Timeout: time.Duration(cfg.Sources.HTTPTimeoutSeconds) * time.Second}
		var mirror archive.Mirror
		if opts.routeviews != "" {
			mirror = archive.NewRouteViews(client)
		} else {
			mirror = archive.NewRIPERIS(client)
		}
		sync = archive.NewSynchronizer(
			mirror, router, client, masterDir, processedDir,
			cfg.RouterData.TimestampIntervalLimit,
			cfg.RouterData.IgnoreTimestampIntervalAbnormality,
			cfg.Sources.PollIntervalSeconds,
			logger.Named("archive.sync"),
		)
	}

	var pruner *archive.Pruner
	if cfg.RouterData.RetentionDays > 0 {
		pruner = archive.NewPruner(processedDir, cfg.RouterData.RetentionDays, logger.Named("archive.retention"))
	}

	sup := &replay.Supervisor{
		Writer: writer,
		Sync:   sync,
		Pruner: pruner,
		RIB: replay.NewRIBProcessor(reg, sink, writer, router, processedDir,
			cfg.Collector.DelayAfterInitAndPeerUps, logger.Named("replay.rib")),
		Updates: replay.NewUpdateProcessor(reg, sink, writer, router, masterDir, processedDir,
			cfg.RouterData.EmitPeerDown, logger.Named("replay.updates")),
		Router: router,
		Master: masterDir,
		Grace:  time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second / 3,
		Logger: logger.Named("replay.supervisor"),
	}

	httpServer := replayhttp.NewServer(cfg.Service.HTTPListen, writer, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Wait for shutdown signal or pipeline failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-done:
		if err != nil {
			logger.Error("pipeline failed", zap.Error(err))
		}
		done = nil
	}

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()
	if done != nil {
		select {
		case <-done:
			logger.Info("pipeline stopped gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timeout reached, some workers may not have finished")
		}
	}

	logger.Info("mrt-replay stopped")
}
