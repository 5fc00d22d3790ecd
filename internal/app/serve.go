package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/samirkhoja/hookbin/internal/capture"
	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/forward"
	"github.com/samirkhoja/hookbin/internal/hook"
	"github.com/samirkhoja/hookbin/internal/metrics"
	"github.com/samirkhoja/hookbin/internal/store"
	"github.com/samirkhoja/hookbin/internal/util"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	listen := fs.String("listen", config.DefaultListen, "listen address")
	allowRemote := fs.Bool("allow-remote", false, "permit a non-loopback listen address")
	forwardMode := fs.String("forward-mode", string(config.ForwardAsync), "async or manual")
	tail := fs.Bool("tail", true, "print captures and forwards live (set --tail=false to disable)")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	logDev := fs.Bool("log-dev", false, "human-readable development logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if util.IsElevated() {
		fmt.Fprintln(os.Stderr, "refusing to run as root; start hookbin as an unprivileged user")
		return 1
	}

	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if flagWasSet(fs, "listen") {
		cfg.Listen = *listen
	}
	if flagWasSet(fs, "forward-mode") {
		cfg.Forward.Mode = config.ForwardMode(strings.ToLower(*forwardMode))
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	if !*allowRemote {
		if err := validateLoopbackListen(cfg.Listen); err != nil {
			fmt.Fprintf(os.Stderr, "invalid listen address: %v (pass --allow-remote to expose it)\n", err)
			return 1
		}
	}

	logger, err := newLogger(*logLevel, *logDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	if err := util.EnsureDir(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data directory: %v\n", err)
		return 1
	}

	requests, err := store.NewRequestLog(cfg.DataDir, logger.Named("requests"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open request log: %v\n", err)
		return 1
	}
	retention, _ := config.ParseDuration(cfg.Retention)
	if retention > 0 {
		_, removed, err := requests.PruneOlderThan(time.Now().Add(-retention))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed pruning old requests: %v\n", err)
			return 1
		}
		if removed > 0 {
			fmt.Printf("pruned %d old requests (older than %s)\n", removed, retention)
		}
	}

	var endpoints store.EndpointStore = store.NewFileConfigStore(util.EndpointsPath(cfg.DataDir), logger.Named("endpoints"))
	if cfg.Cache.Size > 0 {
		endpoints = store.NewCachedConfigStore(endpoints, cfg.Cache.Size, cfg.Cache.TTL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var outMu sync.Mutex
	var sink func(hook.Event)
	if *tail {
		sink = func(e hook.Event) {
			outMu.Lock()
			defer outMu.Unlock()
			printEvent(e)
		}
	}

	srv, err := hook.NewServer(hook.Options{
		Listen:        cfg.Listen,
		PublicBaseURL: cfg.BaseURL(),
		Endpoints:     endpoints,
		Requests:      requests,
		Normalizer: capture.NewNormalizer(capture.Options{
			MaxRequestBytes:    cfg.MaxRequestBytes,
			ExtraDeniedHeaders: cfg.ExtraDeniedHeaders,
		}),
		Forwarder: forward.New(forward.Options{
			DefaultTimeout: time.Duration(cfg.Forward.DefaultTimeoutMs) * time.Millisecond,
		}),
		ForwardMode: cfg.Forward.Mode,
		MaxInFlight: cfg.Forward.MaxInFlight,
		RateLimit:   cfg.RateLimit,
		Defaults:    cfg.Defaults,
		Metrics:     metrics.New(reg),
		Logger:      logger.Named("hook"),
		EventSink:   sink,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Println(formatVersion())
	fmt.Println("startup:")
	fmt.Printf("  listen: %s\n", cfg.Listen)
	fmt.Printf("  data: %s\n", cfg.DataDir)
	fmt.Printf("  retention: %s\n", cfg.Retention)
	fmt.Printf("  forward-mode: %s\n", cfg.Forward.Mode)
	fmt.Printf("  tail: %t\n", *tail)
	fmt.Printf("  hook base: %s/hook/<endpoint-id>\n", cfg.BaseURL())
	logger.Info("server starting", zap.String("listen", cfg.Listen), zap.String("forward_mode", string(cfg.Forward.Mode)))

	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "server exited with error: %v\n", err)
		return 1
	}
	return 0
}

func validateLoopbackListen(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("host cannot be empty; use 127.0.0.1 or localhost")
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("host %q is not loopback", host)
	}
	return nil
}
