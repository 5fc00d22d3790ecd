package respond

import (
	"net/http"
	"strings"

	"github.com/samirkhoja/hookbin/internal/model"
)

const (
	DefaultStatus      = http.StatusOK
	DefaultContentType = "application/json"

	allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
)

// Response is a fully rendered canned response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Render produces the configured response. It depends only on spec, never on
// capture or forward results.
func Render(spec model.ResponseSpec) Response {
	status := spec.Status
	if status < 100 || status > 999 {
		status = DefaultStatus
	}
	ct := strings.TrimSpace(spec.ContentType)
	if ct == "" {
		ct = DefaultContentType
	}

	h := http.Header{}
	h.Set("Content-Type", ct)
	for k, v := range spec.Headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		h.Set(k, v)
	}
	setCORS(h)
	return Response{Status: status, Header: h, Body: []byte(spec.Body)}
}

// Preflight answers a CORS preflight for an existing endpoint.
func Preflight() Response {
	h := http.Header{}
	setCORS(h)
	h.Set("Access-Control-Max-Age", "86400")
	return Response{Status: http.StatusNoContent, Header: h}
}

// Write sends r to w. HEAD requests get headers only.
func (r Response) Write(w http.ResponseWriter, method string) error {
	dst := w.Header()
	for k, vv := range r.Header {
		dst[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(r.Status)
	if method == http.MethodHead || len(r.Body) == 0 || !bodyAllowed(r.Status) {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", "*")
}

func bodyAllowed(status int) bool {
	return !(status >= 100 && status < 200) && status != http.StatusNoContent && status != http.StatusNotModified
}
