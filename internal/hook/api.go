package hook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxAPIBodyBytes  = 1 << 20
)

type endpointView struct {
	model.EndpointConfig
	HookURL   string `json:"hook_url"`
	ManageURL string `json:"manage_url"`
}

func (s *Server) view(cfg model.EndpointConfig) endpointView {
	return endpointView{EndpointConfig: cfg, HookURL: s.HookURL(cfg.ID), ManageURL: s.manageURL(cfg.ID)}
}

// NewEndpoint builds a fresh endpoint from the server defaults with patch applied.
func (s *Server) NewEndpoint(patch model.EndpointPatch) model.EndpointConfig {
	return patch.Apply(s.opts.Defaults.NewEndpoint(uuid.NewString(), s.now()))
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.endpoints.ListEndpoints(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]endpointView, 0, len(eps))
	for _, e := range eps {
		out = append(out, s.view(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var patch model.EndpointPatch
	if err := decodeBody(r, &patch, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := s.NewEndpoint(patch)
	if err := config.ValidateBodyLimit(cfg.Capture, s.normalize.MaxRequestBytes()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.endpoints.CreateEndpoint(r.Context(), cfg); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(cfg))
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.endpoints.GetEndpointConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(cfg))
}

func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.endpoints.GetEndpointConfig(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var patch model.EndpointPatch
	if err := decodeBody(r, &patch, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated := patch.Apply(cfg)
	if err := config.ValidateBodyLimit(updated.Capture, s.normalize.MaxRequestBytes()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.endpoints.UpdateEndpointConfig(r.Context(), updated); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("endpoint updated", zap.String("endpoint_id", id))
	writeJSON(w, http.StatusOK, s.view(updated))
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.endpoints.DeleteEndpoint(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if _, err := s.requests.DeleteRequests(r.Context(), id); err != nil {
		s.logger.Warn("failed removing requests of deleted endpoint", zap.String("endpoint_id", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.endpoints.GetEndpointConfig(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reqs, err := s.requests.ListRequests(r.Context(), id, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleDeleteRequests(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.endpoints.GetEndpointConfig(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	n, err := s.requests.DeleteRequests(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.GetRequest(r.Context(), r.PathValue("id"), r.PathValue("rid"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.requests.DeleteRequest(r.Context(), r.PathValue("id"), r.PathValue("rid")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReforward(w http.ResponseWriter, r *http.Request) {
	timeoutMs := 0
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "timeout_ms must be a positive integer")
			return
		}
		timeoutMs = n
	}
	rec, err := s.Reforward(r.Context(), r.PathValue("id"), r.PathValue("rid"), timeoutMs)
	if err != nil {
		if errors.Is(err, ErrForwardDisabled) || errors.Is(err, ErrBodyNotKept) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListForwards(w http.ResponseWriter, r *http.Request) {
	id, rid := r.PathValue("id"), r.PathValue("rid")
	if _, err := s.requests.GetRequest(r.Context(), id, rid); err != nil {
		s.writeStoreError(w, err)
		return
	}
	recs, err := s.requests.ListForwards(r.Context(), id, rid)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// writeStoreError maps store errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("store operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
