package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/model"
)

func runEndpoints(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: hookbin endpoints [create|list|show|set|delete] [flags]")
		return 1
	}
	switch args[0] {
	case "create":
		return runEndpointsCreate(args[1:])
	case "list":
		return runEndpointsList(args[1:])
	case "show":
		return runEndpointsShow(args[1:])
	case "set":
		return runEndpointsSet(args[1:])
	case "delete":
		return runEndpointsDelete(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown endpoints command: %s\n", args[0])
		return 1
	}
}

func runEndpointsCreate(args []string) int {
	fs := flag.NewFlagSet("endpoints create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	name := fs.String("name", "", "display name")
	forwardURL := fs.String("forward-url", "", "enable forwarding to this URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	var patch model.EndpointPatch
	if *name != "" {
		patch.Name = name
	}
	if *forwardURL != "" {
		enabled := true
		patch.Forward = &model.ForwardPatch{Enabled: &enabled, URL: forwardURL}
	}
	ep := patch.Apply(cfg.Defaults.NewEndpoint(uuid.NewString(), time.Now().UTC()))
	if err := config.ValidateBodyLimit(ep.Capture, cfg.MaxRequestBytes); err != nil {
		fmt.Fprintf(os.Stderr, "invalid endpoint: %v\n", err)
		return 1
	}
	if err := openEndpoints(cfg).CreateEndpoint(context.Background(), ep); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create endpoint: %v\n", err)
		return 1
	}
	printEndpoint(ep, hookURL(cfg, ep.ID))
	return 0
}

func runEndpointsList(args []string) int {
	fs := flag.NewFlagSet("endpoints list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	eps, err := openEndpoints(cfg).ListEndpoints(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list endpoints: %v\n", err)
		return 1
	}
	if len(eps) == 0 {
		fmt.Fprintln(out, "no endpoints; create one with `hookbin endpoints create`")
		return 0
	}
	for _, e := range eps {
		printEndpoint(e, hookURL(cfg, e.ID))
	}
	return 0
}

func runEndpointsShow(args []string) int {
	fs := flag.NewFlagSet("endpoints show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	asJSON := fs.Bool("json", false, "print the full configuration as JSON")
	id, rest := splitID(args)
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "usage: hookbin endpoints show ID [--json]")
		return 1
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	ep, err := openEndpoints(cfg).GetEndpointConfig(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load endpoint: %v\n", err)
		return 1
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ep)
		return 0
	}
	printEndpoint(ep, hookURL(cfg, ep.ID))
	return 0
}

func runEndpointsSet(args []string) int {
	fs := flag.NewFlagSet("endpoints set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	name := fs.String("name", "", "display name")
	paused := fs.Bool("paused", false, "answer 410 and capture nothing")
	status := fs.Int("status", 0, "response status")
	contentType := fs.String("content-type", "", "response content type")
	body := fs.String("body", "", "response body")
	headers := keyValueFlag{}
	fs.Var(headers, "header", "response header K=V (repeatable, replaces existing)")
	forwardURL := fs.String("forward-url", "", "forward target URL")
	forwardEnabled := fs.Bool("forward-enabled", false, "enable forwarding")
	forwardTimeout := fs.Int("forward-timeout", 0, "forward timeout in ms (0 uses the server default)")
	forwardHeaders := keyValueFlag{}
	fs.Var(forwardHeaders, "forward-header", "forward header K=V (repeatable, replaces existing)")
	captureHeaders := fs.Bool("capture-headers", true, "store request headers")
	captureBody := fs.Bool("capture-body", true, "store request bodies")
	bodyMax := fs.Int64("body-max-bytes", 0, "stored body preview limit")

	id, rest := splitID(args)
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "usage: hookbin endpoints set ID [flags]")
		return 1
	}

	patch := model.EndpointPatch{}
	set := func(n string) bool { return flagWasSet(fs, n) }
	if set("name") {
		patch.Name = name
	}
	if set("paused") {
		patch.Paused = paused
	}
	if set("status") || set("content-type") || set("body") || set("header") {
		patch.Response = &model.ResponsePatch{}
		if set("status") {
			patch.Response.Status = status
		}
		if set("content-type") {
			patch.Response.ContentType = contentType
		}
		if set("body") {
			patch.Response.Body = body
		}
		if set("header") {
			patch.Response.Headers = headers
		}
	}
	if set("forward-url") || set("forward-enabled") || set("forward-timeout") || set("forward-header") {
		patch.Forward = &model.ForwardPatch{}
		if set("forward-url") {
			patch.Forward.URL = forwardURL
		}
		if set("forward-enabled") {
			patch.Forward.Enabled = forwardEnabled
		}
		if set("forward-timeout") {
			patch.Forward.TimeoutMs = forwardTimeout
		}
		if set("forward-header") {
			patch.Forward.Headers = forwardHeaders
		}
	}
	if set("capture-headers") || set("capture-body") || set("body-max-bytes") {
		patch.Capture = &model.CapturePatch{}
		if set("capture-headers") {
			patch.Capture.CaptureHeaders = captureHeaders
		}
		if set("capture-body") {
			patch.Capture.CaptureBody = captureBody
		}
		if set("body-max-bytes") {
			patch.Capture.BodyMaxBytes = bodyMax
		}
	}

	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	eps := openEndpoints(cfg)
	ctx := context.Background()
	ep, err := eps.GetEndpointConfig(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load endpoint: %v\n", err)
		return 1
	}
	updated := patch.Apply(ep)
	if err := config.ValidateBodyLimit(updated.Capture, cfg.MaxRequestBytes); err != nil {
		fmt.Fprintf(os.Stderr, "invalid endpoint: %v\n", err)
		return 1
	}
	if err := eps.UpdateEndpointConfig(ctx, updated); err != nil {
		fmt.Fprintf(os.Stderr, "failed to update endpoint: %v\n", err)
		return 1
	}
	printEndpoint(updated, hookURL(cfg, updated.ID))
	return 0
}

func runEndpointsDelete(args []string) int {
	fs := flag.NewFlagSet("endpoints delete", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settings := addSettingsFlags(fs)
	id, rest := splitID(args)
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "usage: hookbin endpoints delete ID")
		return 1
	}
	cfg, err := settings.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	if err := openEndpoints(cfg).DeleteEndpoint(ctx, id); err != nil {
		fmt.Fprintf(os.Stderr, "failed to delete endpoint: %v\n", err)
		return 1
	}
	requests, err := openRequests(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "endpoint deleted but request log unavailable: %v\n", err)
		return 1
	}
	n, err := requests.DeleteRequests(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "endpoint deleted but removing its requests failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "endpoint %s deleted (%d requests removed)\n", id, n)
	return 0
}

// splitID takes a leading positional ID so flags may follow it.
func splitID(args []string) (string, []string) {
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		return args[0], args[1:]
	}
	return "", args
}

func hookURL(cfg config.Config, id string) string {
	return cfg.BaseURL() + "/hook/" + id
}
