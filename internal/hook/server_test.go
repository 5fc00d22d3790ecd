package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samirkhoja/hookbin/internal/capture"
	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/forward"
	"github.com/samirkhoja/hookbin/internal/metrics"
	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/store"
)

type harness struct {
	srv       *Server
	ts        *httptest.Server
	endpoints *store.FileConfigStore
	requests  *store.RequestLog
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	endpoints := store.NewFileConfigStore(filepath.Join(dir, "endpoints.yaml"), nil)
	requests, err := store.NewRequestLog(dir, nil)
	if err != nil {
		t.Fatalf("NewRequestLog: %v", err)
	}
	opts := Options{
		Endpoints: endpoints,
		Requests:  requests,
		Forwarder: forward.New(forward.Options{}),
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Wait)
	return &harness{srv: srv, ts: ts, endpoints: endpoints, requests: requests}
}

func (h *harness) addEndpoint(t *testing.T, patch model.EndpointPatch) model.EndpointConfig {
	t.Helper()
	cfg := h.srv.NewEndpoint(patch)
	if err := h.endpoints.CreateEndpoint(context.Background(), cfg); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	return cfg
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) stored(t *testing.T, endpointID string) []model.StoredRequest {
	t.Helper()
	reqs, err := h.requests.ListRequests(context.Background(), endpointID, 0)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	return reqs
}

func ptr[T any](v T) *T { return &v }

func TestPausedEndpointReturnsGoneAndStoresNothing(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{Paused: ptr(true)})

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions, "TRACE"} {
		resp := h.do(t, m, "/hook/"+cfg.ID, strings.NewReader("payload"), nil)
		if resp.StatusCode != http.StatusGone {
			t.Fatalf("%s: status=%d want 410", m, resp.StatusCode)
		}
	}
	if got := h.stored(t, cfg.ID); len(got) != 0 {
		t.Fatalf("paused endpoint stored %d requests", len(got))
	}
}

func TestUnknownEndpointIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodPost, "/hook/missing", strings.NewReader("x"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
}

func TestCaptureStoredWithoutForwardWhenDisabled(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()

	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{
		Forward: &model.ForwardPatch{Enabled: ptr(false), URL: ptr(target.URL)},
		Response: &model.ResponsePatch{
			Status:      ptr(http.StatusAccepted),
			ContentType: ptr("text/plain"),
			Body:        ptr("thanks"),
		},
	})

	resp := h.do(t, http.MethodPost, "/hook/"+cfg.ID+"/github?event=push", strings.NewReader(`{"a":1}`),
		http.Header{"Content-Type": {"application/json"}, "Cookie": {"session=secret"}})
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted || string(body) != "thanks" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS header missing")
	}
	h.srv.Wait()

	got := h.stored(t, cfg.ID)
	if len(got) != 1 {
		t.Fatalf("stored %d requests, want 1", len(got))
	}
	r := got[0]
	if r.Method != model.MethodPost || r.Path != "/hook/"+cfg.ID+"/github" || r.Query.Get("event") != "push" {
		t.Fatalf("unexpected capture: %+v", r)
	}
	if _, ok := r.Headers["cookie"]; ok {
		t.Fatalf("cookie header must never be stored")
	}
	if string(r.BodyPreview) != `{"a":1}` || r.RemoteAddr == "" {
		t.Fatalf("unexpected stored fields: preview=%q remote=%q", r.BodyPreview, r.RemoteAddr)
	}
	forwards, err := h.requests.ListForwards(context.Background(), cfg.ID, "")
	if err != nil {
		t.Fatalf("ListForwards: %v", err)
	}
	if len(forwards) != 0 || hits.Load() != 0 {
		t.Fatalf("forward attempted while disabled: records=%d hits=%d", len(forwards), hits.Load())
	}
}

func TestAsyncForwardDoesNotDelayResponse(t *testing.T) {
	release := make(chan struct{})
	received := make(chan string, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received <- string(b)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(target.Close)

	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{
		Capture: &model.CapturePatch{BodyMaxBytes: ptr(int64(4))},
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr(target.URL), TimeoutMs: ptr(5000)},
	})

	start := time.Now()
	resp := h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("full payload"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("response waited on the forward: %s", elapsed)
	}

	select {
	case body := <-received:
		if body != "full payload" {
			t.Fatalf("forward must carry the untruncated body, got %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("forward never reached target")
	}
	close(release)
	h.srv.Wait()

	reqs := h.stored(t, cfg.ID)
	if len(reqs) != 1 || !reqs[0].BodyTruncated || string(reqs[0].BodyPreview) != "full" {
		t.Fatalf("unexpected stored request: %+v", reqs)
	}
	forwards, err := h.requests.ListForwards(context.Background(), cfg.ID, reqs[0].ID)
	if err != nil {
		t.Fatalf("ListForwards: %v", err)
	}
	if len(forwards) != 1 {
		t.Fatalf("expected one forward record, got %d", len(forwards))
	}
	f := forwards[0]
	if !f.OK || f.HTTPStatus == nil || *f.HTTPStatus != http.StatusNoContent || f.Trigger != model.TriggerAuto {
		t.Fatalf("unexpected forward record: %+v", f)
	}
	if f.StartedAt.After(f.FinishedAt) || f.TargetURL != target.URL {
		t.Fatalf("unexpected forward metadata: %+v", f)
	}
}

func TestForwardFailureNeverReachesSender(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr("http://127.0.0.1:1/unreachable"), TimeoutMs: ptr(1000)},
	})
	resp := h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("x"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	h.srv.Wait()
	forwards, _ := h.requests.ListForwards(context.Background(), cfg.ID, "")
	if len(forwards) != 1 || forwards[0].OK || forwards[0].ErrorMessage == nil {
		t.Fatalf("expected one failed forward record, got %+v", forwards)
	}
}

func TestPreflightAndPlainOptions(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{})

	resp := h.do(t, http.MethodOptions, "/hook/"+cfg.ID, nil, http.Header{"Access-Control-Request-Method": {"POST"}})
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Max-Age") != "86400" {
		t.Fatalf("unexpected preflight: %d %v", resp.StatusCode, resp.Header)
	}
	if n := len(h.stored(t, cfg.ID)); n != 0 {
		t.Fatalf("preflight must not be captured, stored %d", n)
	}

	resp = h.do(t, http.MethodOptions, "/hook/"+cfg.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plain OPTIONS status=%d", resp.StatusCode)
	}
	if got := h.stored(t, cfg.ID); len(got) != 1 || got[0].Method != model.MethodOptions {
		t.Fatalf("plain OPTIONS should be captured: %+v", got)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{})
	resp := h.do(t, "TRACE", "/hook/"+cfg.ID, nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want 405", resp.StatusCode)
	}
	if n := len(h.stored(t, cfg.ID)); n != 0 {
		t.Fatalf("unsupported method captured")
	}
}

func TestHeadResponseHasNoBody(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{})
	resp := h.do(t, http.MethodHead, "/hook/"+cfg.ID, nil, nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("unexpected HEAD response %d %q", resp.StatusCode, body)
	}
	if got := h.stored(t, cfg.ID); len(got) != 1 || got[0].BodySize != 0 {
		t.Fatalf("HEAD should be captured without body: %+v", got)
	}
}

func TestRateLimitRejectsBeforeCapture(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RateLimit = config.RateLimitConfig{PerEndpointRPS: 0.001, Burst: 2}
	})
	cfg := h.addEndpoint(t, model.EndpointPatch{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("x"), nil).StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if n := len(h.stored(t, cfg.ID)); n != 2 {
		t.Fatalf("stored %d, want 2", n)
	}
}

type failingRequests struct {
	*store.RequestLog
}

func (failingRequests) InsertCapturedRequest(context.Context, string, model.CapturedRequest) (string, error) {
	return "", errors.New("disk full")
}

func TestStoreFailureStillResponds(t *testing.T) {
	dir := t.TempDir()
	log, err := store.NewRequestLog(dir, nil)
	if err != nil {
		t.Fatalf("NewRequestLog: %v", err)
	}
	h := newHarness(t, func(o *Options) { o.Requests = failingRequests{log} })
	cfg := h.addEndpoint(t, model.EndpointPatch{Response: &model.ResponsePatch{Body: ptr("still here")}})

	resp := h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("x"), nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "still here" {
		t.Fatalf("store failure leaked to sender: %d %q", resp.StatusCode, body)
	}
}

func TestUnstoredCaptureIsNotForwarded(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(target.Close)

	log, err := store.NewRequestLog(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRequestLog: %v", err)
	}
	h := newHarness(t, func(o *Options) { o.Requests = failingRequests{log} })
	cfg := h.addEndpoint(t, model.EndpointPatch{
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr(target.URL)},
	})

	if resp := h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("x"), nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	h.srv.Wait()
	if n := hits.Load(); n != 0 {
		t.Fatalf("target hit %d times for a capture that was never stored", n)
	}
}

func TestOversizeBodyStoredButNotForwarded(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(target.Close)

	h := newHarness(t, func(o *Options) {
		o.Normalizer = capture.NewNormalizer(capture.Options{MaxRequestBytes: 16})
	})
	cfg := h.addEndpoint(t, model.EndpointPatch{
		Capture: &model.CapturePatch{BodyMaxBytes: ptr(int64(10))},
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr(target.URL)},
	})

	payload := "0123456789abcdefghij"
	if resp := h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader(payload), nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	h.srv.Wait()
	if n := hits.Load(); n != 0 {
		t.Fatalf("oversize body forwarded %d times", n)
	}

	reqs := h.stored(t, cfg.ID)
	if len(reqs) != 1 {
		t.Fatalf("stored %d requests", len(reqs))
	}
	r := reqs[0]
	if r.BodySize != int64(len(payload)) || !r.BodyTruncated || string(r.BodyPreview) != "0123456789" || r.BodyContentHash == nil || !r.RawBodyDropped {
		t.Fatalf("unexpected stored body fields: %+v", r)
	}

	resp := h.do(t, http.MethodPost, "/api/endpoints/"+cfg.ID+"/requests/"+r.ID+"/forward", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reforward of dropped body status=%d want 400", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPatch, "/api/endpoints/"+cfg.ID, strings.NewReader(`{"capture":{"body_max_bytes":17}}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("preview limit above ingest ceiling status=%d want 400", resp.StatusCode)
	}
}

func TestDrainWaitsForLongestForwardTimeout(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(target.Close)

	h := newHarness(t, func(o *Options) {
		o.Forwarder = forward.New(forward.Options{DefaultTimeout: 2 * time.Second})
	})
	if got := h.srv.drainLimit(); got != 7*time.Second {
		t.Fatalf("drainLimit before any forward = %s", got)
	}

	long := h.addEndpoint(t, model.EndpointPatch{
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr(target.URL), TimeoutMs: ptr(60000)},
	})
	short := h.addEndpoint(t, model.EndpointPatch{
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr(target.URL), TimeoutMs: ptr(1000)},
	})
	h.do(t, http.MethodPost, "/hook/"+long.ID, strings.NewReader("x"), nil)
	h.do(t, http.MethodPost, "/hook/"+short.ID, strings.NewReader("x"), nil)
	h.srv.Wait()

	if got := h.srv.drainLimit(); got != 65*time.Second {
		t.Fatalf("drainLimit = %s, want 65s", got)
	}
}

func TestManualModeAndReforward(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		b, _ := io.ReadAll(r.Body)
		if string(b) != "replay me" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	h := newHarness(t, func(o *Options) { o.ForwardMode = config.ForwardManual })
	cfg := h.addEndpoint(t, model.EndpointPatch{
		Forward: &model.ForwardPatch{Enabled: ptr(true), URL: ptr(target.URL)},
	})

	h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("replay me"), nil)
	h.srv.Wait()
	if hits.Load() != 0 {
		t.Fatalf("manual mode must not auto-forward")
	}
	rid := h.stored(t, cfg.ID)[0].ID

	resp := h.do(t, http.MethodPost, "/api/endpoints/"+cfg.ID+"/requests/"+rid+"/forward", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reforward status=%d", resp.StatusCode)
	}
	var rec model.ForwardRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rec.OK || rec.Trigger != model.TriggerManual || rec.RequestID != rid || rec.ID == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	resp = h.do(t, http.MethodGet, "/api/endpoints/"+cfg.ID+"/requests/"+rid+"/forwards", nil, nil)
	var history []model.ForwardRecord
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].ID != rec.ID {
		t.Fatalf("unexpected history: %+v", history)
	}

	resp = h.do(t, http.MethodPost, "/api/endpoints/"+cfg.ID+"/requests/nope/forward", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown request status=%d want 404", resp.StatusCode)
	}

	off := model.EndpointPatch{Forward: &model.ForwardPatch{Enabled: ptr(false)}}.Apply(cfg)
	if err := h.endpoints.UpdateEndpointConfig(context.Background(), off); err != nil {
		t.Fatalf("update: %v", err)
	}
	resp = h.do(t, http.MethodPost, "/api/endpoints/"+cfg.ID+"/requests/"+rid+"/forward", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("disabled forward status=%d want 400", resp.StatusCode)
	}
}

func TestEndpointAPILifecycle(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PublicBaseURL = "https://hooks.example.com/" })

	resp := h.do(t, http.MethodPost, "/api/endpoints", strings.NewReader(`{"name":"stripe"}`), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d", resp.StatusCode)
	}
	var created endpointView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Name != "stripe" {
		t.Fatalf("unexpected endpoint: %+v", created)
	}
	if created.HookURL != "https://hooks.example.com/hook/"+created.ID {
		t.Fatalf("hook_url=%q", created.HookURL)
	}
	if created.Response.Status != http.StatusOK || !created.Capture.CaptureBody {
		t.Fatalf("defaults not applied: %+v", created.EndpointConfig)
	}

	resp = h.do(t, http.MethodPatch, "/api/endpoints/"+created.ID, strings.NewReader(`{"paused":true,"response":{"status":201}}`), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status=%d", resp.StatusCode)
	}
	got, err := h.endpoints.GetEndpointConfig(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Paused || got.Response.Status != 201 || got.Name != "stripe" {
		t.Fatalf("patch not applied: %+v", got)
	}

	for _, bad := range []string{`{"response":{"status":42}}`, `{"response":{"status":103}}`} {
		resp = h.do(t, http.MethodPatch, "/api/endpoints/"+created.ID, strings.NewReader(bad), nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("invalid patch %s status=%d want 400", bad, resp.StatusCode)
		}
	}
	resp = h.do(t, http.MethodPatch, "/api/endpoints/"+created.ID, strings.NewReader(`{"bogus":1}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d want 400", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, "/api/endpoints", nil, nil)
	var list []endpointView
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected list: %v %+v", err, list)
	}

	if resp := h.do(t, http.MethodDelete, "/api/endpoints/"+created.ID, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status=%d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodGet, "/api/endpoints/"+created.ID, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", resp.StatusCode)
	}
}

func TestRequestAPIListAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{})
	for i := 0; i < 3; i++ {
		h.do(t, http.MethodPost, "/hook/"+cfg.ID, bytes.NewReader([]byte{byte('a' + i)}), nil)
	}

	resp := h.do(t, http.MethodGet, "/api/endpoints/"+cfg.ID+"/requests?limit=2", nil, nil)
	var reqs []model.StoredRequest
	if err := json.NewDecoder(resp.Body).Decode(&reqs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reqs) != 2 || string(reqs[0].BodyPreview) != "c" || string(reqs[1].BodyPreview) != "b" {
		t.Fatalf("expected newest first, got %+v", reqs)
	}
	if resp := h.do(t, http.MethodGet, "/api/endpoints/"+cfg.ID+"/requests?limit=x", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", resp.StatusCode)
	}

	if resp := h.do(t, http.MethodDelete, "/api/endpoints/"+cfg.ID+"/requests/"+reqs[0].ID, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete one status=%d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodGet, "/api/endpoints/"+cfg.ID+"/requests/"+reqs[0].ID, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted status=%d", resp.StatusCode)
	}

	resp = h.do(t, http.MethodDelete, "/api/endpoints/"+cfg.ID+"/requests", nil, nil)
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out["deleted"] != 2 {
		t.Fatalf("delete all: %v %v", err, out)
	}
}

func TestStreamPushesEvents(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{})

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/endpoints/" + cfg.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered before the upgrade completes.
	h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("ping"), nil)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Kind != EventRequest || e.EndpointID != cfg.ID || e.Request == nil || string(e.Request.BodyPreview) != "ping" {
		t.Fatalf("unexpected event: %+v", e)
	}
	stored, err := h.requests.GetRequest(context.Background(), cfg.ID, e.Request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if !stored.ReceivedAt.Equal(e.Request.ReceivedAt) {
		t.Fatalf("event received_at %s differs from stored %s", e.Request.ReceivedAt, stored.ReceivedAt)
	}
}

func TestStreamUnknownEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodGet, "/api/endpoints/missing/stream", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.addEndpoint(t, model.EndpointPatch{})
	h.do(t, http.MethodPost, "/hook/"+cfg.ID, strings.NewReader("x"), nil)

	for _, p := range []string{"/healthz", "/readyz"} {
		if resp := h.do(t, http.MethodGet, p, nil, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", p, resp.StatusCode)
		}
	}
	resp := h.do(t, http.MethodGet, "/metrics", nil, nil)
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `hookbin_captures_total{method="POST"} 1`) {
		t.Fatalf("capture not counted:\n%s", b)
	}
}

func TestEventSinkReceivesRequests(t *testing.T) {
	var got atomic.Int32
	h := newHarness(t, func(o *Options) {
		o.EventSink = func(e Event) {
			if e.Kind == EventRequest {
				got.Add(1)
			}
		}
	})
	cfg := h.addEndpoint(t, model.EndpointPatch{})
	h.do(t, http.MethodGet, "/hook/"+cfg.ID+"?a=1", nil, nil)
	if got.Load() != 1 {
		t.Fatalf("sink saw %d request events", got.Load())
	}
}
