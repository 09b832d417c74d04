// Command carebridged runs the CareBridge sync daemon: it persists
// operations that cannot reach the upstream API, watches connectivity and
// replays the queue when the network returns.
//
// Usage:
//
//	carebridged --config carebridge.json
//	carebridged token --device bedside-01 --role writer --ttl 24h
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carebridge/carebridge/internal/api"
	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/connectivity"
	"github.com/carebridge/carebridge/internal/executor"
	"github.com/carebridge/carebridge/internal/queue"
	"github.com/carebridge/carebridge/internal/relay"
	"github.com/carebridge/carebridge/internal/scheduler"
	"github.com/carebridge/carebridge/internal/security"
	"github.com/carebridge/carebridge/internal/store"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		return tokenCommand(os.Args[2:])
	}

	configPath := flag.String("config", "carebridge.json", "path to config file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("carebridged v%s (built %s)\n", version, buildTime)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	logger.Info("carebridged starting", "version", version, "data_dir", cfg.Server.DataDir)

	kv, err := newKV(cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	st := store.NewKV(kv, logger)

	source, err := newSource(cfg, logger)
	if err != nil {
		logger.Error("build connectivity source", "error", err)
		return 1
	}
	monitor := connectivity.NewMonitor(source, logger)

	transport := executor.NewHTTPTransport(
		cfg.Transport.BaseURL,
		cfg.Transport.AuthToken,
		time.Duration(cfg.Transport.TimeoutSeconds)*time.Second,
		logger,
	)
	exec := executor.New(transport, logger)
	registerDefaultHandlers(exec, transport)

	manager, err := relay.New(relay.Options{
		Queue:             queue.New(cfg.Queue.MaxSize),
		Store:             st,
		Monitor:           monitor,
		Executor:          exec,
		Logger:            logger,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
	})
	if err != nil {
		logger.Error("build relay manager", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		logger.Error("start relay manager", "error", err)
		return 1
	}

	sched := scheduler.NewScheduler(manager, logger)
	if err := sched.LoadJobs(drainJobs(cfg)); err != nil {
		logger.Error("load drain jobs", "error", err)
		return 1
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("start scheduler", "error", err)
		return 1
	}

	var secret []byte
	if cfg.Server.AuthSecret != "" {
		secret = []byte(cfg.Server.AuthSecret)
	} else {
		logger.Warn("no auth secret configured, API runs unauthenticated")
	}
	server := api.NewServer(cfg.Server.Port, manager, secret, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	err = g.Wait()

	sched.Stop()
	if stopErr := manager.Stop(); stopErr != nil {
		logger.Warn("stop relay manager", "error", stopErr)
	}

	if err != nil && err != context.Canceled {
		logger.Error("daemon exited", "error", err)
		return 1
	}
	logger.Info("carebridged stopped")
	return 0
}

// tokenCommand mints an API token signed with the configured secret.
func tokenCommand(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "carebridge.json", "path to config file")
	device := fs.String("device", "", "device identifier embedded in the token")
	role := fs.String("role", security.RoleReader, "token role (reader or writer)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *device == "" {
		fmt.Fprintln(os.Stderr, "--device is required")
		return 1
	}
	if *role != security.RoleReader && *role != security.RoleWriter {
		fmt.Fprintf(os.Stderr, "unknown role %q (use reader or writer)\n", *role)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}
	if cfg.Server.AuthSecret == "" {
		fmt.Fprintln(os.Stderr, "no authSecret configured, tokens are not needed")
		return 1
	}

	token, err := security.GenerateToken(*device, *role, []byte(cfg.Server.AuthSecret), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newKV(cfg *config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case "file":
		return store.NewFileKV(cfg.StorePath())
	default:
		return store.NewSQLiteKV(cfg.StorePath())
	}
}

func newSource(cfg *config.Config, logger *slog.Logger) (connectivity.Source, error) {
	switch cfg.Connectivity.Source {
	case "mqtt":
		m := cfg.Connectivity.MQTT
		clientID := m.ClientID
		if clientID == "" {
			clientID = "carebridged"
		}
		return connectivity.NewMQTTSource(m.BrokerURL, clientID, m.Username, m.Password, logger), nil
	case "probe":
		interval := time.Duration(cfg.Connectivity.ProbeIntervalSeconds) * time.Second
		return connectivity.NewProbeSource(cfg.Connectivity.ProbeURL, interval, logger), nil
	default:
		return nil, fmt.Errorf("unknown connectivity source %q", cfg.Connectivity.Source)
	}
}

// registerDefaultHandlers forwards data_sync and file_upload payloads to
// fixed upstream endpoints. Deployments with richer semantics embed the
// relay packages directly and register their own handlers.
func registerDefaultHandlers(exec *executor.Executor, transport executor.Transport) {
	exec.RegisterHandler(queue.KindDataSync, func(ctx context.Context, op queue.Operation) error {
		status, err := transport.Request(ctx, "POST", "/sync", op.Payload, nil)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return fmt.Errorf("sync upload returned http %d", status)
		}
		return nil
	})
	exec.RegisterHandler(queue.KindFileUpload, func(ctx context.Context, op queue.Operation) error {
		status, err := transport.Request(ctx, "POST", "/uploads", op.Payload, nil)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return fmt.Errorf("file upload returned http %d", status)
		}
		return nil
	})
}

func drainJobs(cfg *config.Config) []*scheduler.Job {
	jobs := make([]*scheduler.Job, 0, len(cfg.Drain.Jobs))
	for _, j := range cfg.Drain.Jobs {
		jobs = append(jobs, &scheduler.Job{
			ID:      j.ID,
			Enabled: j.Enabled,
			Schedule: scheduler.ScheduleConfig{
				Kind:       j.Kind,
				IntervalMs: j.IntervalMs,
				Expr:       j.Expr,
				Time:       j.Time,
				Timezone:   j.Timezone,
			},
		})
	}
	return jobs
}
