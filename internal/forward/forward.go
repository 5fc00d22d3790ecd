package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/samirkhoja/hookbin/internal/model"
)

// DefaultTimeout applies when a ForwardSpec leaves its timeout unset.
const DefaultTimeout = 7000 * time.Millisecond

// ForwardHopByHopHeaders are connection-scoped headers (RFC 2616 13.5.1) that are
// meaningless or harmful across a new hop. Kept separate from the stored-capture denylist.
var ForwardHopByHopHeaders = []string{
	"connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailers",
	"transfer-encoding",
	"upgrade",
	"host",
}

// maxDrainBytes bounds how much of a target's response is read before closing.
const maxDrainBytes = 64 << 10

// Forwarder replays captured requests against target URLs.
type Forwarder struct {
	client         *http.Client
	defaultTimeout time.Duration
	now            func() time.Time
}

type Options struct {
	// Client is the connection pool handle. Its lifetime belongs to the caller.
	Client *http.Client
	// DefaultTimeout overrides DefaultTimeout for specs without a timeout.
	DefaultTimeout time.Duration
}

func New(opts Options) *Forwarder {
	client := opts.Client
	if client == nil {
		client = NewClient()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{client: client, defaultTimeout: timeout, now: time.Now}
}

// NewClient builds the pooled client used for forwards when none is injected.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   15 * time.Second,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Timeout resolves the effective timeout for spec.
func (f *Forwarder) Timeout(spec model.ForwardSpec) time.Duration {
	if spec.TimeoutMs > 0 {
		return time.Duration(spec.TimeoutMs) * time.Millisecond
	}
	return f.defaultTimeout
}

// Forward makes exactly one attempt to replay captured against spec.URL.
// Failures never surface as errors; they are classified into the returned outcome.
// Cancellation of ctx is ignored: only the forward's own timeout stops it.
func (f *Forwarder) Forward(ctx context.Context, captured model.CapturedRequest, spec model.ForwardSpec) model.ForwardOutcome {
	var a attempt
	timeout := f.Timeout(spec)
	start := f.now()
	a.advance(model.ForwardInFlight)

	finish := func(state model.ForwardState, status *int, msg *string, ok bool) model.ForwardOutcome {
		a.advance(state)
		d := f.now().Sub(start).Milliseconds()
		if d < 0 {
			d = 0
		}
		return model.ForwardOutcome{OK: ok, HTTPStatus: status, DurationMs: d, ErrorMessage: msg, State: a.state}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	req, err := BuildRequest(ctx, captured, spec)
	if err != nil {
		msg := err.Error()
		return finish(model.ForwardTransportFailed, nil, &msg, false)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			msg := fmt.Sprintf("Timeout after %dms", timeout.Milliseconds())
			return finish(model.ForwardTimedOut, nil, &msg, false)
		}
		msg := describeTransportError(err)
		return finish(model.ForwardTransportFailed, nil, &msg, false)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()

	status := resp.StatusCode
	return finish(model.ForwardSucceeded, &status, nil, status >= 200 && status < 400)
}

// BuildRequest rebuilds the outbound request: captured method and full raw body,
// captured headers minus hop-by-hop, operator headers on top, then x-forwarded-for.
func BuildRequest(ctx context.Context, captured model.CapturedRequest, spec model.ForwardSpec) (*http.Request, error) {
	target, err := url.Parse(strings.TrimSpace(spec.URL))
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("invalid forward url %q", spec.URL)
	}

	var body io.Reader
	if len(captured.RawBody) > 0 {
		body = bytes.NewReader(captured.RawBody)
	}
	method := string(captured.Method)
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("invalid forward request: %w", err)
	}
	req.Header = BuildHeaders(captured, spec.Headers)
	return req, nil
}

// BuildHeaders runs the forward header rewrite pipeline.
func BuildHeaders(captured model.CapturedRequest, extra map[string]string) http.Header {
	out := make(http.Header, len(captured.Headers)+len(extra)+1)
	for k, v := range captured.Headers {
		if isHopByHop(k) || strings.EqualFold(k, "content-length") {
			continue
		}
		out.Set(k, v)
	}
	// Operator-configured headers win over captured ones.
	for k, v := range extra {
		if isHopByHop(k) || strings.EqualFold(k, "content-length") {
			continue
		}
		out.Set(k, v)
	}
	if captured.ClientIP != nil && *captured.ClientIP != "" {
		ip := *captured.ClientIP
		if existing := out.Get("X-Forwarded-For"); existing != "" {
			ip = existing + ", " + ip
		}
		out.Set("X-Forwarded-For", ip)
	}
	return out
}

func isHopByHop(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, h := range ForwardHopByHopHeaders {
		if k == h {
			return true
		}
	}
	return false
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func describeTransportError(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)

	var dnsErr *net.DNSError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	var verifyErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError

	switch {
	case strings.Contains(lower, "cors") || strings.Contains(lower, "cross-origin"):
		return "CORS error - ensure your target server allows cross-origin requests"
	case errors.As(err, &dnsErr):
		return fmt.Sprintf("DNS lookup failed for %s: %s", dnsErr.Name, dnsErr.Err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused: " + msg
	case errors.As(err, &verifyErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		errors.As(err, &invalidCert), errors.As(err, &recordErr):
		return "TLS error: " + msg
	case errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return "Connection reset: " + msg
	default:
		return "Network error: " + msg
	}
}
