package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/samirkhoja/hookbin/internal/hook"
	"github.com/samirkhoja/hookbin/internal/model"
)

const maxPreviewChars = 160

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	idColor    = color.New(color.FgCyan)
	mutedColor = color.New(color.Faint)
)

var out io.Writer = os.Stdout

func printEvent(e hook.Event) {
	switch {
	case e.Request != nil:
		printRequestLine(*e.Request)
	case e.Forward != nil:
		printForwardLine(*e.Forward)
	}
}

func printRequestLine(r model.StoredRequest) {
	ts := formatTime(r.ReceivedAt)
	size := fmt.Sprintf("%dB", r.BodySize)
	if r.BodyTruncated {
		size = warnColor.Sprint(size + " truncated")
	}
	fmt.Fprintf(out, "[%s] %s %s %s | endpoint=%s id=%s | %s\n",
		ts, colorizeMethod(r.Method), r.Path, formatQuery(r.Query),
		r.EndpointID, idColor.Sprint(r.ID), size)
	if r.ContentType != nil {
		fmt.Fprintf(out, "  content-type: %s\n", *r.ContentType)
	}
	if len(r.BodyPreview) > 0 {
		fmt.Fprintf(out, "  preview: %s\n", clip(string(r.BodyPreview), maxPreviewChars))
	}
}

func printForwardLine(f model.ForwardRecord) {
	status := "-"
	if f.HTTPStatus != nil {
		status = fmt.Sprintf("%d", *f.HTTPStatus)
	}
	fmt.Fprintf(out, "[%s] forward %s -> %s | request=%s trigger=%s status=%s %dms\n",
		formatTime(f.FinishedAt), colorizeForwardState(f.ForwardOutcome), f.TargetURL,
		idColor.Sprint(f.RequestID), f.Trigger, status, f.DurationMs)
	if f.ErrorMessage != nil {
		fmt.Fprintf(out, "  error: %s\n", errColor.Sprint(*f.ErrorMessage))
	}
}

func printEndpoint(e model.EndpointConfig, hookURL string) {
	state := okColor.Sprint("active")
	if e.Paused {
		state = warnColor.Sprint("paused")
	}
	name := e.Name
	if name == "" {
		name = mutedColor.Sprint("(unnamed)")
	}
	fmt.Fprintf(out, "%s %s [%s]\n", idColor.Sprint(e.ID), name, state)
	fmt.Fprintf(out, "  hook: %s\n", hookURL)
	fmt.Fprintf(out, "  response: %d %s\n", e.Response.Status, e.Response.ContentType)
	fmt.Fprintf(out, "  capture: headers=%t body=%t body_max_bytes=%d\n",
		e.Capture.CaptureHeaders, e.Capture.CaptureBody, e.Capture.BodyMaxBytes)
	if e.Forward.URL != "" {
		fmt.Fprintf(out, "  forward: %s enabled=%t timeout_ms=%d\n", e.Forward.URL, e.Forward.Enabled, e.Forward.TimeoutMs)
	}
}

func colorizeMethod(m model.Method) string {
	switch m {
	case model.MethodPost, model.MethodPut, model.MethodPatch:
		return okColor.Sprint(string(m))
	case model.MethodDelete:
		return errColor.Sprint(string(m))
	default:
		return idColor.Sprint(string(m))
	}
}

func colorizeForwardState(o model.ForwardOutcome) string {
	switch {
	case o.OK:
		return okColor.Sprint("ok")
	case o.State == model.ForwardSucceeded:
		return warnColor.Sprint("rejected")
	case o.State == model.ForwardTimedOut:
		return errColor.Sprint("timeout")
	default:
		return errColor.Sprint("failed")
	}
}

func formatQuery(q model.Query) string {
	if len(q) == 0 {
		return ""
	}
	parts := make([]string, 0, len(q))
	for _, p := range q {
		parts = append(parts, p.Key+"="+strings.Join(p.Values, ","))
	}
	return mutedColor.Sprint("?" + strings.Join(parts, "&"))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown-time"
	}
	return t.Local().Format(time.RFC3339)
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
