package hook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/samirkhoja/hookbin/internal/capture"
	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/forward"
	"github.com/samirkhoja/hookbin/internal/metrics"
	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/store"
)

var (
	ErrEndpointPaused  = errors.New("endpoint is paused")
	ErrForwardDisabled = errors.New("forwarding is not enabled for this endpoint")
	ErrBodyNotKept     = errors.New("request body exceeded the ingest limit and cannot be replayed")
)

// RequestRepository is the request log as used by the server.
type RequestRepository interface {
	store.RequestStore
	ListRequests(ctx context.Context, endpointID string, limit int) ([]model.StoredRequest, error)
	GetRequest(ctx context.Context, endpointID, requestID string) (model.StoredRequest, error)
	DeleteRequest(ctx context.Context, endpointID, requestID string) error
	DeleteRequests(ctx context.Context, endpointID string) (int, error)
	ListForwards(ctx context.Context, endpointID, requestID string) ([]model.ForwardRecord, error)
}

type Options struct {
	Listen        string
	PublicBaseURL string
	Endpoints     store.EndpointStore
	Requests      RequestRepository
	Normalizer    *capture.Normalizer
	Forwarder     *forward.Forwarder
	ForwardMode   config.ForwardMode
	MaxInFlight   int
	RateLimit     config.RateLimitConfig
	Defaults      config.EndpointDefaults
	Metrics       *metrics.Collector
	Logger        *zap.Logger
	// EventSink receives every stored request and forward record.
	EventSink func(Event)
}

type Server struct {
	opts      Options
	logger    *zap.Logger
	endpoints store.EndpointStore
	requests  RequestRepository
	normalize *capture.Normalizer
	forwarder *forward.Forwarder
	metrics   *metrics.Collector
	limiters  *limiterSet
	events    *broadcaster

	slots    chan struct{}
	inflight sync.WaitGroup
	// longest timeout of any dispatched async forward, in nanoseconds
	maxForwardTimeout atomic.Int64
	now               func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Endpoints == nil || opts.Requests == nil {
		return nil, errors.New("hook server requires endpoint and request stores")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Listen == "" {
		opts.Listen = config.DefaultListen
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = "http://" + opts.Listen
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	if opts.ForwardMode == "" {
		opts.ForwardMode = config.ForwardAsync
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = config.DefaultMaxInFlight
	}
	if opts.Defaults.Response.Status == 0 {
		opts.Defaults = config.Default().Defaults
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = capture.NewNormalizer(capture.Options{})
	}
	forwarder := opts.Forwarder
	if forwarder == nil {
		forwarder = forward.New(forward.Options{})
	}

	return &Server{
		opts:      opts,
		logger:    logger,
		endpoints: opts.Endpoints,
		requests:  opts.Requests,
		normalize: normalizer,
		forwarder: forwarder,
		metrics:   opts.Metrics,
		limiters:  newLimiterSet(opts.RateLimit),
		events:    newBroadcaster(),
		slots:     make(chan struct{}, opts.MaxInFlight),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("/hook/{id}", s.handleHook)
	mux.HandleFunc("/hook/{id}/{rest...}", s.handleHook)

	mux.HandleFunc("GET /api/endpoints", s.handleListEndpoints)
	mux.HandleFunc("POST /api/endpoints", s.handleCreateEndpoint)
	mux.HandleFunc("GET /api/endpoints/{id}", s.handleGetEndpoint)
	mux.HandleFunc("PATCH /api/endpoints/{id}", s.handleUpdateEndpoint)
	mux.HandleFunc("DELETE /api/endpoints/{id}", s.handleDeleteEndpoint)
	mux.HandleFunc("GET /api/endpoints/{id}/requests", s.handleListRequests)
	mux.HandleFunc("DELETE /api/endpoints/{id}/requests", s.handleDeleteRequests)
	mux.HandleFunc("GET /api/endpoints/{id}/requests/{rid}", s.handleGetRequest)
	mux.HandleFunc("DELETE /api/endpoints/{id}/requests/{rid}", s.handleDeleteRequest)
	mux.HandleFunc("POST /api/endpoints/{id}/requests/{rid}/forward", s.handleReforward)
	mux.HandleFunc("GET /api/endpoints/{id}/requests/{rid}/forwards", s.handleListForwards)
	mux.HandleFunc("GET /api/endpoints/{id}/stream", s.handleStream)
	return mux
}

// Run serves until ctx is cancelled, then stops accepting requests and waits
// for in-flight async forwards to finish.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.events.close()
		s.drainForwards()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Wait blocks until every dispatched async forward has stored its outcome.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) drainForwards() {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	limit := s.drainLimit()
	select {
	case <-done:
	case <-time.After(limit):
		s.logger.Warn("gave up waiting for in-flight forwards", zap.Duration("waited", limit))
	}
}

// drainLimit is how long shutdown waits for async forwards: the longest
// timeout dispatched so far, at least the default, plus time to store outcomes.
func (s *Server) drainLimit() time.Duration {
	longest := s.forwarder.Timeout(model.ForwardSpec{})
	if d := time.Duration(s.maxForwardTimeout.Load()); d > longest {
		longest = d
	}
	return longest + 5*time.Second
}

func (s *Server) noteForwardTimeout(d time.Duration) {
	for {
		cur := s.maxForwardTimeout.Load()
		if int64(d) <= cur || s.maxForwardTimeout.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// HookURL is the public URL webhook senders should call for an endpoint.
func (s *Server) HookURL(id string) string {
	return s.opts.PublicBaseURL + "/hook/" + id
}

func (s *Server) manageURL(id string) string {
	return s.opts.PublicBaseURL + "/api/endpoints/" + id
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.endpoints.ListEndpoints(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) publish(e Event) {
	s.events.publish(e)
	if s.opts.EventSink != nil {
		s.opts.EventSink(e)
	}
}
