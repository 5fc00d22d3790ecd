package store

import (
	"context"
	"errors"
	"time"

	"github.com/samirkhoja/hookbin/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrInvalid  = errors.New("invalid endpoint configuration")
)

// ConfigStore resolves endpoint configuration at request time.
type ConfigStore interface {
	GetEndpointConfig(ctx context.Context, id string) (model.EndpointConfig, error)
	UpdateEndpointConfig(ctx context.Context, cfg model.EndpointConfig) error
}

// EndpointStore adds lifecycle operations used by the management API and CLI.
type EndpointStore interface {
	ConfigStore
	CreateEndpoint(ctx context.Context, cfg model.EndpointConfig) error
	DeleteEndpoint(ctx context.Context, id string) error
	ListEndpoints(ctx context.Context) ([]model.EndpointConfig, error)
}

// RequestStore persists captures and forward outcomes.
type RequestStore interface {
	InsertCapturedRequest(ctx context.Context, endpointID string, c model.CapturedRequest) (string, error)
	InsertForwardOutcome(ctx context.Context, rec model.ForwardRecord) error
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the peer address of the inbound connection so it is
// recorded alongside the capture.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddrFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(remoteAddrKey{}).(string)
	return s
}

type receivedAtKey struct{}

// WithReceivedAt fixes the arrival time recorded for a capture, so callers that
// publish the record before reading it back see the stored timestamp.
func WithReceivedAt(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, receivedAtKey{}, t)
}

func receivedAtFrom(ctx context.Context, fallback func() time.Time) time.Time {
	if ctx != nil {
		if t, ok := ctx.Value(receivedAtKey{}).(time.Time); ok && !t.IsZero() {
			return t.UTC()
		}
	}
	return fallback()
}
