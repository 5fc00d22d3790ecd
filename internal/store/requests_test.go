package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/util"
)

func newTestLog(t *testing.T) (*RequestLog, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewRequestLog(dir, nil)
	if err != nil {
		t.Fatalf("NewRequestLog: %v", err)
	}
	return s, dir
}

func TestInsertUsesCallerReceivedAt(t *testing.T) {
	s, _ := newTestLog(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	ctx := WithReceivedAt(context.Background(), at)
	id, err := s.InsertCapturedRequest(ctx, "ep1", model.CapturedRequest{Method: model.MethodGet, Path: "/hook/ep1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetRequest(context.Background(), "ep1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ReceivedAt.Equal(at) {
		t.Fatalf("ReceivedAt=%s want %s", got.ReceivedAt, at)
	}

	id, err = s.InsertCapturedRequest(context.Background(), "ep1", model.CapturedRequest{Method: model.MethodGet})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, _ := s.GetRequest(context.Background(), "ep1", id); got.ReceivedAt.IsZero() {
		t.Fatalf("ReceivedAt should default to the store clock")
	}
}

func TestInsertAndGetRestoresRawBody(t *testing.T) {
	s, _ := newTestLog(t)
	ctx := WithRemoteAddr(context.Background(), "10.0.0.1:5555")

	id, err := s.InsertCapturedRequest(ctx, "ep1", model.CapturedRequest{
		Method:      model.MethodPost,
		Path:        "/hook/ep1",
		RawBody:     []byte("full body here"),
		BodyPreview: []byte("full"),
		BodySize:    14,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == "" {
		t.Fatalf("expected an id")
	}

	got, err := s.GetRequest(context.Background(), "ep1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.RawBody) != "full body here" || string(got.BodyPreview) != "full" {
		t.Fatalf("unexpected bodies: raw=%q preview=%q", got.RawBody, got.BodyPreview)
	}
	if got.RemoteAddr != "10.0.0.1:5555" || got.EndpointID != "ep1" || got.ReceivedAt.IsZero() {
		t.Fatalf("unexpected metadata: %+v", got)
	}

	if _, err := s.GetRequest(context.Background(), "other", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("request must not be visible under another endpoint, got %v", err)
	}
}

func TestListRequestsNewestFirstWithLimit(t *testing.T) {
	s, _ := newTestLog(t)
	ctx := context.Background()
	var ids []string
	for _, ep := range []string{"a", "b", "a", "a"} {
		id, err := s.InsertCapturedRequest(ctx, ep, model.CapturedRequest{Method: model.MethodGet})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, id)
	}

	got, err := s.ListRequests(ctx, "a", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[3] || got[1].ID != ids[2] {
		t.Fatalf("unexpected order: %+v", got)
	}
	all, err := s.ListRequests(ctx, "a", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 requests for a, got %d (%v)", len(all), err)
	}
}

func TestDeleteRequestRemovesBlobAndForwards(t *testing.T) {
	s, dir := newTestLog(t)
	ctx := context.Background()

	id, err := s.InsertCapturedRequest(ctx, "ep", model.CapturedRequest{Method: model.MethodPost, RawBody: []byte("x")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	keep, err := s.InsertCapturedRequest(ctx, "ep", model.CapturedRequest{Method: model.MethodPost})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	for _, rid := range []string{id, keep} {
		if err := s.InsertForwardOutcome(ctx, model.ForwardRecord{RequestID: rid, EndpointID: "ep", Trigger: model.TriggerAuto}); err != nil {
			t.Fatalf("insert forward: %v", err)
		}
	}

	if err := s.DeleteRequest(ctx, "ep", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(s.bodyPath(id)); !os.IsNotExist(err) {
		t.Fatalf("body blob should be removed, stat err=%v", err)
	}
	forwards, err := s.ListForwards(ctx, "ep", "")
	if err != nil {
		t.Fatalf("list forwards: %v", err)
	}
	if len(forwards) != 1 || forwards[0].RequestID != keep || forwards[0].ID == "" {
		t.Fatalf("unexpected forwards: %+v", forwards)
	}
	if err := s.DeleteRequest(ctx, "ep", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	if _, err := os.Stat(util.RequestsPath(dir)); err != nil {
		t.Fatalf("requests log missing: %v", err)
	}
}

func TestDeleteRequestsForEndpoint(t *testing.T) {
	s, _ := newTestLog(t)
	ctx := context.Background()
	for _, ep := range []string{"a", "b", "a"} {
		if _, err := s.InsertCapturedRequest(ctx, ep, model.CapturedRequest{Method: model.MethodGet}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	n, err := s.DeleteRequests(ctx, "a")
	if err != nil || n != 2 {
		t.Fatalf("DeleteRequests=%d, %v", n, err)
	}
	left, _ := s.ListRequests(ctx, "", 0)
	if len(left) != 1 || left[0].EndpointID != "b" {
		t.Fatalf("unexpected remaining: %+v", left)
	}
}

func TestPruneOlderThan(t *testing.T) {
	s, _ := newTestLog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	s.now = func() time.Time { return now.Add(-10 * 24 * time.Hour) }
	oldID, err := s.InsertCapturedRequest(ctx, "ep", model.CapturedRequest{Method: model.MethodPost, RawBody: []byte("old")})
	if err != nil {
		t.Fatalf("insert old: %v", err)
	}
	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	newID, err := s.InsertCapturedRequest(ctx, "ep", model.CapturedRequest{Method: model.MethodPost})
	if err != nil {
		t.Fatalf("insert newer: %v", err)
	}

	kept, removed, err := s.PruneOlderThan(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 1 || kept != 1 {
		t.Fatalf("got kept=%d removed=%d, want kept=1 removed=1", kept, removed)
	}
	if _, err := s.GetRequest(ctx, "ep", oldID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old request should be pruned, got %v", err)
	}
	if _, err := s.GetRequest(ctx, "ep", newID); err != nil {
		t.Fatalf("newer request should survive: %v", err)
	}
	if _, err := os.Stat(s.bodyPath(oldID)); !os.IsNotExist(err) {
		t.Fatalf("pruned blob still present")
	}
}
