package model

import (
	"strings"
	"time"
)

type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// ParseMethod maps an HTTP method onto the set of methods an endpoint accepts.
func ParseMethod(raw string) (Method, bool) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(raw))); m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions:
		return m, true
	default:
		return "", false
	}
}

// HasBody reports whether requests with this method may carry a body worth reading.
func (m Method) HasBody() bool {
	return m != MethodGet && m != MethodHead
}

// CapturePolicy governs what the normalizer retains for one endpoint.
type CapturePolicy struct {
	CaptureHeaders bool  `json:"capture_headers" yaml:"capture_headers"`
	CaptureBody    bool  `json:"capture_body" yaml:"capture_body"`
	BodyMaxBytes   int64 `json:"body_max_bytes" yaml:"body_max_bytes"`
}

// CapturedRequest is one inbound webhook call. It is built once and never mutated.
type CapturedRequest struct {
	Method          Method            `json:"method"`
	Path            string            `json:"path"`
	Query           Query             `json:"query"`
	ClientIP        *string           `json:"client_ip"`
	UserAgent       *string           `json:"user_agent"`
	ContentType     *string           `json:"content_type"`
	ContentLength   *int64            `json:"content_length"`
	Headers         map[string]string `json:"headers"`
	RawBody         []byte            `json:"-"`
	BodyPreview     []byte            `json:"body_preview"`
	BodySize        int64             `json:"body_size"`
	BodyTruncated   bool              `json:"body_truncated"`
	BodyContentHash *string           `json:"body_sha256"`
	// RawBodyDropped marks a body too large to keep for forwarding.
	RawBodyDropped bool `json:"raw_body_dropped,omitempty"`
}

// StoredRequest is a captured request as persisted in the request log.
type StoredRequest struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	ReceivedAt time.Time `json:"received_at"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	CapturedRequest
}

type ForwardState string

const (
	ForwardIdle            ForwardState = "idle"
	ForwardInFlight        ForwardState = "in_flight"
	ForwardSucceeded       ForwardState = "succeeded"
	ForwardTimedOut        ForwardState = "timed_out"
	ForwardTransportFailed ForwardState = "transport_failed"
)

// Terminal reports whether no further transition is possible.
func (s ForwardState) Terminal() bool {
	return s == ForwardSucceeded || s == ForwardTimedOut || s == ForwardTransportFailed
}

// ForwardOutcome is the terminal result of exactly one forward attempt.
type ForwardOutcome struct {
	OK           bool         `json:"ok"`
	HTTPStatus   *int         `json:"status"`
	DurationMs   int64        `json:"duration_ms"`
	ErrorMessage *string      `json:"error"`
	State        ForwardState `json:"state"`
}

type ForwardTrigger string

const (
	TriggerAuto   ForwardTrigger = "auto"
	TriggerManual ForwardTrigger = "manual"
)

// ForwardRecord associates an outcome with the stored request it replayed.
type ForwardRecord struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	EndpointID string         `json:"endpoint_id"`
	TargetURL  string         `json:"target_url"`
	Trigger    ForwardTrigger `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	ForwardOutcome
}

// ResponseSpec is the canned response an endpoint returns to every caller.
type ResponseSpec struct {
	Status      int               `json:"status" yaml:"status"`
	ContentType string            `json:"content_type" yaml:"content_type"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body        string            `json:"body" yaml:"body"`
}

type ForwardSpec struct {
	Enabled   bool              `json:"enabled" yaml:"enabled"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	TimeoutMs int               `json:"timeout_ms" yaml:"timeout_ms"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Active reports whether a forward should be attempted for this spec.
func (f ForwardSpec) Active() bool {
	return f.Enabled && strings.TrimSpace(f.URL) != ""
}

type EndpointConfig struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name,omitempty" yaml:"name,omitempty"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	Paused    bool          `json:"paused" yaml:"paused"`
	Capture   CapturePolicy `json:"capture" yaml:"capture"`
	Response  ResponseSpec  `json:"response" yaml:"response"`
	Forward   ForwardSpec   `json:"forward" yaml:"forward"`
}
