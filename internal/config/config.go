package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/util"
)

const (
	DefaultListen           = "127.0.0.1:8788"
	DefaultMaxRequestBytes  = 8 << 20
	DefaultBodyMaxBytes     = 256 << 10
	DefaultForwardTimeoutMs = 7000
	DefaultMaxInFlight      = 64
	DefaultRetention        = "7d"
)

type ForwardMode string

const (
	// ForwardAsync forwards after the response has been written.
	ForwardAsync ForwardMode = "async"
	// ForwardManual forwards only when explicitly asked through the API or CLI.
	ForwardManual ForwardMode = "manual"
)

type ForwardConfig struct {
	Mode             ForwardMode `yaml:"mode"`
	DefaultTimeoutMs int         `yaml:"default_timeout_ms"`
	MaxInFlight      int         `yaml:"max_in_flight"`
}

type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	PerEndpointRPS float64 `yaml:"per_endpoint_rps"`
	Burst          int     `yaml:"burst"`
}

// EndpointDefaults seed newly created endpoints.
type EndpointDefaults struct {
	Capture  model.CapturePolicy `yaml:"capture"`
	Response model.ResponseSpec  `yaml:"response"`
}

type Config struct {
	Listen             string           `yaml:"listen"`
	DataDir            string           `yaml:"data_dir"`
	PublicBaseURL      string           `yaml:"public_base_url"`
	MaxRequestBytes    int64            `yaml:"max_request_bytes"`
	Retention          string           `yaml:"retention"`
	ExtraDeniedHeaders []string         `yaml:"extra_denied_headers"`
	Forward            ForwardConfig    `yaml:"forward"`
	Cache              CacheConfig      `yaml:"cache"`
	RateLimit          RateLimitConfig  `yaml:"rate_limit"`
	Defaults           EndpointDefaults `yaml:"defaults"`
}

func Default() Config {
	return Config{
		Listen:          DefaultListen,
		DataDir:         util.DefaultDataDir(),
		MaxRequestBytes: DefaultMaxRequestBytes,
		Retention:       DefaultRetention,
		Forward: ForwardConfig{
			Mode:             ForwardAsync,
			DefaultTimeoutMs: DefaultForwardTimeoutMs,
			MaxInFlight:      DefaultMaxInFlight,
		},
		Cache:     CacheConfig{Size: 1024, TTL: 5 * time.Second},
		RateLimit: RateLimitConfig{Burst: 20},
		Defaults: EndpointDefaults{
			Capture: model.CapturePolicy{CaptureHeaders: true, CaptureBody: true, BodyMaxBytes: DefaultBodyMaxBytes},
			Response: model.ResponseSpec{
				Status:      200,
				ContentType: "application/json",
				Body:        `{"ok":true}`,
			},
		},
	}
}

// Load reads path over the defaults, then applies HOOKBIN_* environment overrides.
// An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := applyEnvOverrides(&c); err != nil {
		return c, err
	}
	c.DataDir = expandHome(c.DataDir)
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	if err := Validate(c); err != nil {
		return c, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) error {
	if v := os.Getenv("HOOKBIN_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("HOOKBIN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HOOKBIN_PUBLIC_BASE_URL"); v != "" {
		c.PublicBaseURL = v
	}
	if v := os.Getenv("HOOKBIN_FORWARD_MODE"); v != "" {
		c.Forward.Mode = ForwardMode(strings.ToLower(v))
	}
	if v := os.Getenv("HOOKBIN_RETENTION"); v != "" {
		c.Retention = v
	}
	if v := os.Getenv("HOOKBIN_FORWARD_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HOOKBIN_FORWARD_TIMEOUT_MS: %w", err)
		}
		c.Forward.DefaultTimeoutMs = n
	}
	if v := os.Getenv("HOOKBIN_MAX_REQUEST_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("HOOKBIN_MAX_REQUEST_BYTES: %w", err)
		}
		c.MaxRequestBytes = n
	}
	if v := os.Getenv("HOOKBIN_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("HOOKBIN_RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.PerEndpointRPS = f
	}
	return nil
}

// BaseURL is the externally reachable base for hook URLs. It falls back to the listen address.
func (c Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/")
	}
	return "http://" + c.Listen
}

// NewEndpoint builds an endpoint seeded from the defaults.
func (d EndpointDefaults) NewEndpoint(id string, now time.Time) model.EndpointConfig {
	resp := d.Response
	if resp.Headers != nil {
		h := make(map[string]string, len(resp.Headers))
		for k, v := range resp.Headers {
			h[k] = v
		}
		resp.Headers = h
	}
	return model.EndpointConfig{
		ID:        id,
		CreatedAt: now,
		Capture:   d.Capture,
		Response:  resp,
	}
}

func Validate(c Config) error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must be set")
	}
	if c.MaxRequestBytes <= 0 {
		return errors.New("max_request_bytes must be > 0")
	}
	if _, err := ParseDuration(c.Retention); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	switch c.Forward.Mode {
	case ForwardAsync, ForwardManual:
	default:
		return fmt.Errorf("forward.mode must be one of: async, manual (got %q)", c.Forward.Mode)
	}
	if c.Forward.DefaultTimeoutMs <= 0 {
		return errors.New("forward.default_timeout_ms must be > 0")
	}
	if c.Forward.MaxInFlight <= 0 {
		return errors.New("forward.max_in_flight must be > 0")
	}
	if c.Cache.Size < 0 {
		return errors.New("cache.size must be >= 0")
	}
	if c.RateLimit.PerEndpointRPS < 0 {
		return errors.New("rate_limit.per_endpoint_rps must be >= 0")
	}
	if c.RateLimit.PerEndpointRPS > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("public_base_url %q is not an absolute URL", c.PublicBaseURL)
		}
	}
	if err := ValidateCapture(c.Defaults.Capture); err != nil {
		return fmt.Errorf("defaults.capture: %w", err)
	}
	if err := ValidateBodyLimit(c.Defaults.Capture, c.MaxRequestBytes); err != nil {
		return fmt.Errorf("defaults.capture: %w", err)
	}
	if err := ValidateResponse(c.Defaults.Response); err != nil {
		return fmt.Errorf("defaults.response: %w", err)
	}
	return nil
}

func ValidateCapture(p model.CapturePolicy) error {
	if p.BodyMaxBytes < 0 {
		return errors.New("body_max_bytes must be >= 0")
	}
	return nil
}

// ValidateBodyLimit rejects a preview limit above the ingest ceiling.
func ValidateBodyLimit(p model.CapturePolicy, maxRequestBytes int64) error {
	if maxRequestBytes > 0 && p.BodyMaxBytes > maxRequestBytes {
		return fmt.Errorf("body_max_bytes %d exceeds max_request_bytes %d", p.BodyMaxBytes, maxRequestBytes)
	}
	return nil
}

// ValidateResponse accepts final statuses only. A 1xx would be sent as an
// informational response followed by an implicit 200.
func ValidateResponse(r model.ResponseSpec) error {
	if r.Status < 200 || r.Status > 599 {
		return fmt.Errorf("status %d is not a valid final HTTP status (200-599)", r.Status)
	}
	return nil
}

func ValidateForward(f model.ForwardSpec) error {
	if f.TimeoutMs < 0 {
		return errors.New("timeout_ms must be >= 0")
	}
	if f.URL == "" {
		if f.Enabled {
			return errors.New("forwarding enabled without a url")
		}
		return nil
	}
	u, err := url.Parse(f.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("forward url %q must be an absolute http(s) URL", f.URL)
	}
	return nil
}

// ValidateEndpoint checks an endpoint configuration before it is saved.
func ValidateEndpoint(e model.EndpointConfig) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("endpoint id is required")
	}
	if err := ValidateCapture(e.Capture); err != nil {
		return err
	}
	if err := ValidateResponse(e.Response); err != nil {
		return err
	}
	return ValidateForward(e.Forward)
}

// Save writes c as YAML using write-then-rename.
func Save(path string, c Config) error {
	if path == "" {
		return errors.New("config path is required")
	}
	if err := Validate(c); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return util.WriteFileAtomic(path, b, 0o600)
}

// ParseDuration accepts time.ParseDuration syntax plus a day suffix ("7d"). "0" disables.
func ParseDuration(input string) (time.Duration, error) {
	input = strings.TrimSpace(input)
	if input == "0" || input == "" {
		return 0, nil
	}
	if strings.HasSuffix(input, "d") {
		days := strings.TrimSuffix(input, "d")
		v, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(v * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(input)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
