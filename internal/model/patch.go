package model

// EndpointPatch is a partial update. Nil fields are left unchanged; non-nil
// header maps replace the existing map.
type EndpointPatch struct {
	Name     *string        `json:"name,omitempty"`
	Paused   *bool          `json:"paused,omitempty"`
	Capture  *CapturePatch  `json:"capture,omitempty"`
	Response *ResponsePatch `json:"response,omitempty"`
	Forward  *ForwardPatch  `json:"forward,omitempty"`
}

type CapturePatch struct {
	CaptureHeaders *bool  `json:"capture_headers,omitempty"`
	CaptureBody    *bool  `json:"capture_body,omitempty"`
	BodyMaxBytes   *int64 `json:"body_max_bytes,omitempty"`
}

type ResponsePatch struct {
	Status      *int              `json:"status,omitempty"`
	ContentType *string           `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        *string           `json:"body,omitempty"`
}

type ForwardPatch struct {
	Enabled   *bool             `json:"enabled,omitempty"`
	URL       *string           `json:"url,omitempty"`
	TimeoutMs *int              `json:"timeout_ms,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Apply returns cfg with the patch applied. cfg is not modified.
func (p EndpointPatch) Apply(cfg EndpointConfig) EndpointConfig {
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Paused != nil {
		cfg.Paused = *p.Paused
	}
	if c := p.Capture; c != nil {
		if c.CaptureHeaders != nil {
			cfg.Capture.CaptureHeaders = *c.CaptureHeaders
		}
		if c.CaptureBody != nil {
			cfg.Capture.CaptureBody = *c.CaptureBody
		}
		if c.BodyMaxBytes != nil {
			cfg.Capture.BodyMaxBytes = *c.BodyMaxBytes
		}
	}
	if r := p.Response; r != nil {
		if r.Status != nil {
			cfg.Response.Status = *r.Status
		}
		if r.ContentType != nil {
			cfg.Response.ContentType = *r.ContentType
		}
		if r.Headers != nil {
			cfg.Response.Headers = copyMap(r.Headers)
		}
		if r.Body != nil {
			cfg.Response.Body = *r.Body
		}
	}
	if f := p.Forward; f != nil {
		if f.Enabled != nil {
			cfg.Forward.Enabled = *f.Enabled
		}
		if f.URL != nil {
			cfg.Forward.URL = *f.URL
		}
		if f.TimeoutMs != nil {
			cfg.Forward.TimeoutMs = *f.TimeoutMs
		}
		if f.Headers != nil {
			cfg.Forward.Headers = copyMap(f.Headers)
		}
	}
	return cfg
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
