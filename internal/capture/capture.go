package capture

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samirkhoja/hookbin/internal/model"
)

// Capture builds the immutable record of an inbound request under policy.
// It reads the body at most once and has no network or storage side effects.
// A non-nil error reports a swallowed body read failure; the returned request is complete either way.
func (n *Normalizer) Capture(r *http.Request, policy model.CapturePolicy) (model.CapturedRequest, error) {
	method, ok := model.ParseMethod(r.Method)
	if !ok {
		method = model.Method(strings.ToUpper(r.Method))
	}

	var path, rawQuery string
	if r.URL != nil {
		path = r.URL.Path
		rawQuery = r.URL.RawQuery
	}

	norm := n.Normalize(r.Header, r.Host, r.Body, method, policy)

	return model.CapturedRequest{
		Method:          method,
		Path:            path,
		Query:           ParseQuery(rawQuery),
		ClientIP:        ClientIP(r.Header),
		UserAgent:       headerPtr(r.Header, "User-Agent"),
		ContentType:     headerPtr(r.Header, "Content-Type"),
		ContentLength:   contentLength(r.Header),
		Headers:         norm.Headers,
		RawBody:         norm.RawBody,
		BodyPreview:     norm.BodyPreview,
		BodySize:        norm.BodySize,
		BodyTruncated:   norm.BodyTruncated,
		BodyContentHash: norm.ContentHash,
		RawBodyDropped:  norm.RawBodyDropped,
	}, norm.BodyErr
}

// ParseQuery splits a raw query string into an ordered multimap.
// Undecodable components are kept verbatim rather than rejected.
func ParseQuery(raw string) model.Query {
	q := model.Query{}
	// Position of each key in q; senders control the key count.
	index := map[string]int{}
	for raw != "" {
		var part string
		part, raw, _ = strings.Cut(raw, "&")
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, value := unescape(rawKey), unescape(rawValue)
		if i, ok := index[key]; ok {
			q[i].Values = append(q[i].Values, value)
			continue
		}
		index[key] = len(q)
		q = append(q, model.QueryParam{Key: key, Values: []string{value}})
	}
	return q
}

func unescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

// ClientIP derives the caller address from proxy headers. It is informational, not authoritative.
func ClientIP(h http.Header) *string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return &ip
		}
	}
	return headerPtr(h, "X-Real-Ip")
}

func headerPtr(h http.Header, key string) *string {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func contentLength(h http.Header) *int64 {
	v := strings.TrimSpace(h.Get("Content-Length"))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
