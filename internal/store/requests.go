package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/util"
)

// RequestLog keeps captured requests and forward records as append-only JSONL
// files under a data directory. Raw bodies live beside them as one blob per
// request so a later re-forward can replay the full payload.
type RequestLog struct {
	requestsPath string
	forwardsPath string
	bodiesDir    string
	logger       *zap.Logger

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

func NewRequestLog(dataDir string, logger *zap.Logger) (*RequestLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := util.EnsureDir(util.BodiesDir(dataDir)); err != nil {
		return nil, fmt.Errorf("create bodies dir: %w", err)
	}
	return &RequestLog{
		requestsPath: util.RequestsPath(dataDir),
		forwardsPath: util.ForwardsPath(dataDir),
		bodiesDir:    util.BodiesDir(dataDir),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}, nil
}

func (s *RequestLog) InsertCapturedRequest(ctx context.Context, endpointID string, c model.CapturedRequest) (string, error) {
	rec := model.StoredRequest{
		ID:              s.newID(),
		EndpointID:      endpointID,
		ReceivedAt:      receivedAtFrom(ctx, s.now),
		RemoteAddr:      remoteAddrFrom(ctx),
		CapturedRequest: c,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(c.RawBody) > 0 {
		if err := os.WriteFile(s.bodyPath(rec.ID), c.RawBody, 0o600); err != nil {
			return "", fmt.Errorf("write body blob: %w", err)
		}
	}
	if err := appendLine(s.requestsPath, rec); err != nil {
		_ = os.Remove(s.bodyPath(rec.ID))
		return "", err
	}
	return rec.ID, nil
}

func (s *RequestLog) InsertForwardOutcome(_ context.Context, rec model.ForwardRecord) error {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.forwardsPath, rec)
}

// ListRequests returns an endpoint's requests newest first. limit <= 0 returns all.
func (s *RequestLog) ListRequests(_ context.Context, endpointID string, limit int) ([]model.StoredRequest, error) {
	all, err := s.readRequests()
	if err != nil {
		return nil, err
	}
	out := make([]model.StoredRequest, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if endpointID != "" && all[i].EndpointID != endpointID {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AllRequests returns every stored request in insertion order.
func (s *RequestLog) AllRequests(_ context.Context) ([]model.StoredRequest, error) {
	return s.readRequests()
}

// GetRequest returns one stored request with its raw body restored when the blob exists.
func (s *RequestLog) GetRequest(_ context.Context, endpointID, requestID string) (model.StoredRequest, error) {
	all, err := s.readRequests()
	if err != nil {
		return model.StoredRequest{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		r := all[i]
		if r.ID != requestID || r.EndpointID != endpointID {
			continue
		}
		b, err := os.ReadFile(s.bodyPath(r.ID))
		switch {
		case err == nil:
			r.RawBody = b
		case errors.Is(err, os.ErrNotExist):
		default:
			return model.StoredRequest{}, fmt.Errorf("read body blob: %w", err)
		}
		return r, nil
	}
	return model.StoredRequest{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
}

func (s *RequestLog) DeleteRequest(_ context.Context, endpointID, requestID string) error {
	removed, err := s.removeRequests(func(r model.StoredRequest) bool {
		return r.EndpointID == endpointID && r.ID == requestID
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	return nil
}

// DeleteRequests removes every request of an endpoint and returns how many were removed.
func (s *RequestLog) DeleteRequests(_ context.Context, endpointID string) (int, error) {
	return s.removeRequests(func(r model.StoredRequest) bool {
		return r.EndpointID == endpointID
	})
}

// ListForwards returns the forward records of one request, newest first.
func (s *RequestLog) ListForwards(_ context.Context, endpointID, requestID string) ([]model.ForwardRecord, error) {
	all, err := s.readForwards()
	if err != nil {
		return nil, err
	}
	out := make([]model.ForwardRecord, 0)
	for i := len(all) - 1; i >= 0; i-- {
		f := all[i]
		if f.EndpointID == endpointID && (requestID == "" || f.RequestID == requestID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// AllForwards returns every forward record in insertion order.
func (s *RequestLog) AllForwards(_ context.Context) ([]model.ForwardRecord, error) {
	return s.readForwards()
}

// PruneOlderThan removes requests received before cutoff together with their
// blobs and forward records. Requests with zero timestamps are kept.
func (s *RequestLog) PruneOlderThan(cutoff time.Time) (kept int, removed int, err error) {
	removed, err = s.removeRequests(func(r model.StoredRequest) bool {
		return !r.ReceivedAt.IsZero() && r.ReceivedAt.Before(cutoff)
	})
	if err != nil {
		return 0, 0, err
	}
	remaining, err := s.readRequests()
	if err != nil {
		return 0, removed, err
	}
	return len(remaining), removed, nil
}

func (s *RequestLog) readRequests() ([]model.StoredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readLines[model.StoredRequest](s.requestsPath, s.logger)
}

func (s *RequestLog) readForwards() ([]model.ForwardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := readLines[model.ForwardRecord](s.forwardsPath, s.logger)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// removeRequests drops matching requests, their blobs and their forward records.
func (s *RequestLog) removeRequests(match func(model.StoredRequest) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readLines[model.StoredRequest](s.requestsPath, s.logger)
	if err != nil {
		return 0, err
	}
	keep := make([]model.StoredRequest, 0, len(all))
	gone := make(map[string]struct{})
	for _, r := range all {
		if match(r) {
			gone[r.ID] = struct{}{}
			continue
		}
		keep = append(keep, r)
	}
	if len(gone) == 0 {
		return 0, nil
	}
	if err := rewriteLines(s.requestsPath, keep); err != nil {
		return 0, err
	}

	for id := range gone {
		if err := os.Remove(s.bodyPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed removing body blob", zap.String("request_id", id), zap.Error(err))
		}
	}

	forwards, err := readLines[model.ForwardRecord](s.forwardsPath, s.logger)
	if err != nil {
		return len(gone), err
	}
	keptForwards := make([]model.ForwardRecord, 0, len(forwards))
	for _, f := range forwards {
		if _, ok := gone[f.RequestID]; !ok {
			keptForwards = append(keptForwards, f)
		}
	}
	if len(keptForwards) != len(forwards) {
		if err := rewriteLines(s.forwardsPath, keptForwards); err != nil {
			return len(gone), err
		}
	}
	return len(gone), nil
}

func (s *RequestLog) bodyPath(id string) string {
	return filepath.Join(s.bodiesDir, filepath.Base(id)+".bin")
}
