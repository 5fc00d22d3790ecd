package hook

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samirkhoja/hookbin/internal/capture"
	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/respond"
	"github.com/samirkhoja/hookbin/internal/store"
)

// handleHook runs the ingest pipeline for one webhook call:
// resolve endpoint, capture, store, respond, then forward off the response path.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := s.logger.With(zap.String("endpoint_id", id))

	cfg, err := s.resolveEndpoint(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.metrics.Rejected("not_found")
			writeError(w, http.StatusNotFound, "endpoint not found")
		case errors.Is(err, ErrEndpointPaused):
			s.metrics.Rejected("paused")
			writeError(w, http.StatusGone, "endpoint is paused")
		default:
			log.Error("endpoint lookup failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "endpoint configuration unavailable")
		}
		return
	}

	method, ok := model.ParseMethod(r.Method)
	if !ok {
		s.metrics.Rejected("method")
		w.Header().Set("Allow", "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if method == model.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		_ = respond.Preflight().Write(w, r.Method)
		return
	}
	if !s.limiters.allow(id) {
		s.metrics.Rejected("rate_limited")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	captured, bodyErr := s.normalize.Capture(r, cfg.Capture)
	switch {
	case errors.Is(bodyErr, capture.ErrBodyTooLarge):
		s.metrics.BodyOversize()
		log.Warn("request body over ingest limit, raw body not kept for forwarding",
			zap.Int64("body_size", captured.BodySize), zap.Int64("max_request_bytes", s.normalize.MaxRequestBytes()))
	case bodyErr != nil:
		s.metrics.BodyReadFailed()
		log.Warn("request body unreadable, stored without body", zap.Error(bodyErr))
	}
	s.metrics.Captured(method)

	received := s.now().UTC()
	ctx := store.WithReceivedAt(store.WithRemoteAddr(r.Context(), r.RemoteAddr), received)
	requestID, err := s.requests.InsertCapturedRequest(ctx, id, captured)
	if err != nil {
		s.metrics.StoreFailed("insert_request")
		log.Warn("failed storing captured request", zap.Error(err))
	} else {
		stored := model.StoredRequest{
			ID:              requestID,
			EndpointID:      id,
			ReceivedAt:      received,
			RemoteAddr:      r.RemoteAddr,
			CapturedRequest: captured,
		}
		s.publish(Event{Kind: EventRequest, EndpointID: id, Request: &stored})
	}

	if err := respond.Render(cfg.Response).Write(w, r.Method); err != nil {
		log.Debug("writing response failed", zap.Error(err))
	}

	if s.opts.ForwardMode != config.ForwardAsync || !cfg.Forward.Active() {
		return
	}
	switch {
	case requestID == "":
		log.Warn("skipping forward of a capture that was not stored")
	case captured.RawBodyDropped:
		log.Warn("skipping forward of a body over the ingest limit", zap.String("request_id", requestID))
	default:
		s.dispatchForward(id, requestID, captured, cfg.Forward)
	}
}

// resolveEndpoint returns the endpoint configuration, or ErrEndpointPaused.
func (s *Server) resolveEndpoint(ctx context.Context, id string) (model.EndpointConfig, error) {
	cfg, err := s.endpoints.GetEndpointConfig(ctx, id)
	if err != nil {
		return model.EndpointConfig{}, err
	}
	if cfg.Paused {
		return cfg, ErrEndpointPaused
	}
	return cfg, nil
}

// dispatchForward schedules an auto forward. The caller never waits on it;
// the goroutine waits for a concurrency slot itself.
func (s *Server) dispatchForward(endpointID, requestID string, captured model.CapturedRequest, spec model.ForwardSpec) {
	s.noteForwardTimeout(s.forwarder.Timeout(spec))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		s.metrics.ForwardWaiting(1)
		s.slots <- struct{}{}
		s.metrics.ForwardWaiting(-1)
		defer func() { <-s.slots }()

		s.forwardAndRecord(context.Background(), endpointID, requestID, captured, spec, model.TriggerAuto)
	}()
}

// forwardAndRecord performs one forward and stores its record.
func (s *Server) forwardAndRecord(ctx context.Context, endpointID, requestID string, captured model.CapturedRequest, spec model.ForwardSpec, trigger model.ForwardTrigger) model.ForwardRecord {
	started := s.now()
	outcome := s.forwarder.Forward(ctx, captured, spec)
	rec := model.ForwardRecord{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		EndpointID:     endpointID,
		TargetURL:      spec.URL,
		Trigger:        trigger,
		StartedAt:      started,
		FinishedAt:     s.now(),
		ForwardOutcome: outcome,
	}
	s.metrics.Forwarded(trigger, outcome)

	log := s.logger.With(
		zap.String("endpoint_id", endpointID),
		zap.String("request_id", requestID),
		zap.String("target", spec.URL),
		zap.String("state", string(outcome.State)),
		zap.Int64("duration_ms", outcome.DurationMs),
	)
	if outcome.ErrorMessage != nil {
		log = log.With(zap.String("error", *outcome.ErrorMessage))
	}
	if outcome.OK {
		log.Debug("forward finished")
	} else {
		log.Info("forward did not succeed")
	}

	// The record must outlive the inbound request.
	if err := s.requests.InsertForwardOutcome(context.WithoutCancel(ctx), rec); err != nil {
		s.metrics.StoreFailed("insert_forward")
		log.Warn("failed storing forward outcome", zap.Error(err))
		return rec
	}
	s.publish(Event{Kind: EventForward, EndpointID: endpointID, Forward: &rec})
	return rec
}

// Reforward replays a stored request against the endpoint's current forward
// target and stores the outcome. timeoutMs > 0 overrides the configured timeout.
func (s *Server) Reforward(ctx context.Context, endpointID, requestID string, timeoutMs int) (model.ForwardRecord, error) {
	cfg, err := s.endpoints.GetEndpointConfig(ctx, endpointID)
	if err != nil {
		return model.ForwardRecord{}, err
	}
	if !cfg.Forward.Active() {
		return model.ForwardRecord{}, ErrForwardDisabled
	}
	stored, err := s.requests.GetRequest(ctx, endpointID, requestID)
	if err != nil {
		return model.ForwardRecord{}, err
	}
	if stored.RawBodyDropped {
		return model.ForwardRecord{}, ErrBodyNotKept
	}
	spec := cfg.Forward
	if timeoutMs > 0 {
		spec.TimeoutMs = timeoutMs
	}
	return s.forwardAndRecord(ctx, endpointID, stored.ID, stored.CapturedRequest, spec, model.TriggerManual), nil
}
