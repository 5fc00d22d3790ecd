package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/samirkhoja/hookbin/internal/model"
)

const (
	// MaxHeaderValueBytes bounds stored header values. Longer values are dropped, not clipped.
	MaxHeaderValueBytes = 8192
	// DefaultMaxRequestBytes is the ingest ceiling for keeping a raw body.
	DefaultMaxRequestBytes = 8 << 20
)

// StoredHeaderDenylist lists headers never persisted with a capture, whatever the policy.
// Captured data is stored and displayed, so this is stricter than the forward hop-by-hop list.
var StoredHeaderDenylist = []string{
	"cookie",
	"authorization",
	"proxy-authorization",
	"x-real-ip",
	"forwarded",
	"x-vercel-forwarded-for",
	"x-vercel-proxy-signature",
	"x-vercel-proxy-signature-ts",
	"x-vercel-id",
	"x-vercel-deployment-url",
	"x-amzn-trace-id",
	"cf-connecting-ip",
	"cf-ray",
}

// storedHeaderDenyPrefixes cover families of infrastructure headers.
var storedHeaderDenyPrefixes = []string{
	"x-vercel-internal-",
	"x-middleware-",
}

// ErrBodyTooLarge reports a body whose raw bytes were not kept for forwarding.
var ErrBodyTooLarge = errors.New("request body exceeds ingest limit")

type Options struct {
	// MaxRequestBytes caps how much of a body is kept for forwarding. Larger bodies
	// are still hashed, sized and previewed, but their raw bytes are dropped.
	MaxRequestBytes int64
	// ExtraDeniedHeaders extends StoredHeaderDenylist. The baseline cannot be removed.
	ExtraDeniedHeaders []string
}

// Normalizer canonicalizes headers and bounds bodies for storage.
// It holds no per-request state and is safe for concurrent use.
type Normalizer struct {
	maxRequestBytes int64
	denied          map[string]struct{}
}

func NewNormalizer(opts Options) *Normalizer {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	denied := make(map[string]struct{}, len(StoredHeaderDenylist)+len(opts.ExtraDeniedHeaders))
	for _, k := range StoredHeaderDenylist {
		denied[k] = struct{}{}
	}
	for _, k := range opts.ExtraDeniedHeaders {
		if n := strings.ToLower(strings.TrimSpace(k)); n != "" {
			denied[n] = struct{}{}
		}
	}
	return &Normalizer{maxRequestBytes: opts.MaxRequestBytes, denied: denied}
}

// Normalized is the header and body portion of a capture.
type Normalized struct {
	Headers       map[string]string
	RawBody       []byte
	BodyPreview   []byte
	BodySize      int64
	BodyTruncated bool
	ContentHash   *string
	// RawBodyDropped is set when the body exceeded the ingest ceiling.
	RawBodyDropped bool
	// BodyErr records a swallowed read failure, or ErrBodyTooLarge. Body fields
	// are empty after a read failure; an oversize body keeps everything but RawBody.
	BodyErr error
}

// Normalize applies the capture policy to raw headers and body.
// host is the request authority, recorded as the "host" header.
func (n *Normalizer) Normalize(h http.Header, host string, body io.Reader, method model.Method, policy model.CapturePolicy) Normalized {
	out := Normalized{Headers: map[string]string{}}
	if policy.CaptureHeaders {
		out.Headers = n.normalizeHeaders(h, host)
	}
	if !policy.CaptureBody || !method.HasBody() || body == nil {
		return out
	}

	read, err := n.readBody(body, policy.BodyMaxBytes)
	if err != nil {
		out.BodyErr = fmt.Errorf("read body: %w", err)
		return out
	}
	if read.size == 0 {
		return out
	}

	hash := hex.EncodeToString(read.sum)
	out.BodySize = read.size
	out.ContentHash = &hash
	out.BodyPreview = read.preview
	out.BodyTruncated = read.size > policy.BodyMaxBytes
	if read.size > n.maxRequestBytes {
		out.RawBodyDropped = true
		out.BodyErr = fmt.Errorf("%w (%d > %d bytes)", ErrBodyTooLarge, read.size, n.maxRequestBytes)
		return out
	}
	out.RawBody = read.raw
	return out
}

// MaxRequestBytes is the largest body kept in full for forwarding.
func (n *Normalizer) MaxRequestBytes() int64 {
	return n.maxRequestBytes
}

func (n *Normalizer) normalizeHeaders(h http.Header, host string) map[string]string {
	out := make(map[string]string, len(h)+1)
	if host != "" {
		out["host"] = host
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	// Deterministic merge when two spellings fold to the same key.
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ToLower(k)
		if n.isDenied(key) {
			continue
		}
		value := strings.Join(h[k], ", ")
		if len(value) > MaxHeaderValueBytes {
			continue
		}
		if prev, ok := out[key]; ok && key != "host" {
			value = prev + ", " + value
			if len(value) > MaxHeaderValueBytes {
				delete(out, key)
				continue
			}
		}
		out[key] = value
	}
	return out
}

func (n *Normalizer) isDenied(key string) bool {
	if _, ok := n.denied[key]; ok {
		return true
	}
	for _, p := range storedHeaderDenyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

type bodyRead struct {
	size    int64
	sum     []byte
	preview []byte
	raw     []byte
}

// readBody streams the whole body through SHA-256 and a byte count. It keeps
// the first previewMax bytes, and the full body only while it fits the ingest ceiling.
func (n *Normalizer) readBody(body io.Reader, previewMax int64) (bodyRead, error) {
	if previewMax < 0 {
		previewMax = 0
	}
	h := sha256.New()
	head := &capBuffer{max: previewMax}
	raw := &capBuffer{max: n.maxRequestBytes}
	size, err := io.Copy(io.MultiWriter(h, head, raw), body)
	if err != nil {
		return bodyRead{}, err
	}
	out := bodyRead{size: size, sum: h.Sum(nil), preview: head.buf}
	if !raw.overflow {
		out.raw = raw.buf
	}
	return out, nil
}

// capBuffer keeps at most max bytes and silently discards the rest.
type capBuffer struct {
	max      int64
	buf      []byte
	overflow bool
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	room := b.max - int64(len(b.buf))
	if int64(len(p)) > room {
		b.buf = append(b.buf, p[:room]...)
		b.overflow = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}
