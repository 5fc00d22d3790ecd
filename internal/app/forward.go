package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/samirkhoja/hookbin/internal/capture"
	"github.com/samirkhoja/hookbin/internal/forward"
	"github.com/samirkhoja/hookbin/internal/hook"
	"github.com/samirkhoja/hookbin/internal/store"
)

// runForward re-sends one stored request to its endpoint's forward target
// without a running server.
func runForward(args []string) int {
	fs := flag.NewFlagSet("forward", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	endpoint := fs.String("endpoint", "", "endpoint ID (required)")
	request := fs.String("request", "", "request ID (required)")
	timeoutMs := fs.Int("timeout", 0, "override the forward timeout in ms")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *endpoint == "" || *request == "" {
		fmt.Fprintln(os.Stderr, "usage: hookbin forward --endpoint ID --request RID [--timeout MS]")
		return 1
	}
	if *timeoutMs < 0 {
		fmt.Fprintln(os.Stderr, "--timeout must be >= 0")
		return 1
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	requests, err := openRequests(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open request log: %v\n", err)
		return 1
	}
	srv, err := hook.NewServer(hook.Options{
		Listen:        cfg.Listen,
		PublicBaseURL: cfg.BaseURL(),
		Endpoints:     openEndpoints(cfg),
		Requests:      requests,
		Normalizer: capture.NewNormalizer(capture.Options{
			MaxRequestBytes:    cfg.MaxRequestBytes,
			ExtraDeniedHeaders: cfg.ExtraDeniedHeaders,
		}),
		Forwarder: forward.New(forward.Options{
			DefaultTimeout: time.Duration(cfg.Forward.DefaultTimeoutMs) * time.Millisecond,
		}),
		Defaults: cfg.Defaults,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare forward: %v\n", err)
		return 1
	}

	rec, err := srv.Reforward(context.Background(), *endpoint, *request, *timeoutMs)
	switch {
	case errors.Is(err, hook.ErrForwardDisabled):
		fmt.Fprintf(os.Stderr, "endpoint %s has no active forward target; enable one with `hookbin endpoints set %s --forward-url URL --forward-enabled`\n", *endpoint, *endpoint)
		return 1
	case errors.Is(err, store.ErrNotFound):
		fmt.Fprintf(os.Stderr, "not found: %v\n", err)
		return 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "forward failed: %v\n", err)
		return 1
	}
	printForwardLine(rec)
	if !rec.OK {
		return 1
	}
	return 0
}
