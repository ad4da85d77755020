// Package web loads calendars from HTTPS URLs. Redirects are followed by
// hand so every hop can be checked against the redirect security policy.
package web

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/location"
	"github.com/JakeFAU/calendar-sources/internal/policy/ratelimit"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
)

// Protocol is the prefix web locations are registered under.
const Protocol = "https"

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 10
	defaultMaxBodyBytes = 5 << 20
	defaultUserAgent    = "calsources/1.0"
)

// Config controls the web handler.
//   - Client: base HTTP client; its redirect policy is always overridden.
//   - Timeout: per-request default before the dev multiplier (default 30s).
//   - MaxRedirects: hop cap (default 10).
//   - MaxBodyBytes: largest accepted payload (default 5 MiB).
//   - UserAgent: sent with every request.
//   - Environment: supplies the timeout multiplier and dev headers.
//   - Limiter: optional per-host throttle.
type Config struct {
	Client       *http.Client
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UserAgent    string
	Environment  protocol.Environment
	Limiter      *ratelimit.Limiter
	Logger       *zap.Logger
}

// Handler implements protocol.Handler and protocol.UpdateChecker for https.
type Handler struct {
	cfg      Config
	client   *http.Client
	resolver *protocol.Resolver
	logger   *zap.Logger
}

// New builds a web Handler.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Environment == nil {
		cfg.Environment = protocol.NoEnvironment
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{Transport: newHTTPTransport()}
	if cfg.Client != nil {
		copied := *cfg.Client
		client = &copied
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	// deadlines come from the request context
	client.Timeout = 0

	h := &Handler{cfg: cfg, client: client, logger: logger}
	h.resolver = protocol.NewResolver(h.fetch, protocol.WithNormalizer(normalize))
	return h
}

// Protocol implements protocol.Handler.
func (h *Handler) Protocol() string { return Protocol }

// CanHandle reports locations that look like a host followed by a path.
func (h *Handler) CanHandle(loc string) bool {
	u, err := url.Parse(toURL(loc))
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	return strings.Contains(host, ".") || net.ParseIP(host) != nil || host == "localhost"
}

// LoadCalendar fetches the calendar, resolving collection indexes.
func (h *Handler) LoadCalendar(ctx context.Context, loc string, opts calendar.LoadOptions) (protocol.Result, error) {
	return h.resolver.Load(ctx, loc, opts)
}

// CheckForUpdates issues a HEAD request and compares the ETag, then
// Last-Modified, with lastVersionTag. Any failure reports false.
func (h *Handler) CheckForUpdates(ctx context.Context, loc, lastVersionTag string) bool {
	if lastVersionTag == "" {
		return false
	}
	target, err := h.resolver.Locate(ctx, loc, calendar.LoadOptions{})
	if err != nil {
		h.logger.Debug("update check could not locate calendar", zap.String("location", loc), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeoutFor(calendar.LoadOptions{}))
	defer cancel()
	resp, err := h.request(ctx, http.MethodHead, target, calendar.LoadOptions{})
	if err != nil {
		h.logger.Debug("update check failed", zap.String("url", target), zap.Error(err))
		return false
	}
	drainAndClose(resp)
	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag != lastVersionTag
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		return modified != lastVersionTag
	}
	return false
}

// Fetch performs a GET of an absolute URL under the redirect policy and
// returns the body; the extension handler reuses it.
func (h *Handler) Fetch(ctx context.Context, rawURL string, opts calendar.LoadOptions) (protocol.Document, error) {
	return h.fetch(ctx, rawURL, opts)
}

// Head performs a HEAD of an absolute URL under the redirect policy and
// returns the response version tag.
func (h *Handler) Head(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeoutFor(calendar.LoadOptions{}))
	defer cancel()
	resp, err := h.request(ctx, http.MethodHead, rawURL, calendar.LoadOptions{})
	if err != nil {
		return "", err
	}
	drainAndClose(resp)
	return versionTag(resp.Header), nil
}

func (h *Handler) fetch(ctx context.Context, rawURL string, opts calendar.LoadOptions) (protocol.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeoutFor(opts))
	defer cancel()
	resp, err := h.request(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		return protocol.Document{}, err
	}
	defer drainAndClose(resp)

	data, err := readBody(resp, h.cfg.MaxBodyBytes)
	if err != nil {
		return protocol.Document{}, requestError(ctx, err, rawURL, h.timeoutFor(opts))
	}
	return protocol.Document{
		Data:       data,
		VersionTag: versionTag(resp.Header),
		Location:   resp.Request.URL.String(),
	}, nil
}

func (h *Handler) timeoutFor(opts calendar.LoadOptions) time.Duration {
	timeout := h.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if m := h.cfg.Environment.TimeoutMultiplier(); m > 1 {
		timeout *= time.Duration(m)
	}
	return timeout
}

func (h *Handler) headersFor(opts calendar.LoadOptions) http.Header {
	internal := http.Header{}
	internal.Set("Accept", "application/json")
	internal.Set("User-Agent", h.cfg.UserAgent)
	return protocol.MergeHeaders(internal, h.cfg.Environment.DevHeaders(), opts.Headers)
}

func versionTag(header http.Header) string {
	if etag := header.Get("ETag"); etag != "" {
		return etag
	}
	return header.Get("Last-Modified")
}

// toURL turns a location into an absolute URL; scheme-less locations are
// https.
func toURL(loc string) string {
	switch {
	case strings.HasPrefix(loc, "https://"), strings.HasPrefix(loc, "http://"):
		return loc
	case strings.HasPrefix(loc, "//"):
		return "https:" + loc
	default:
		return "https://" + loc
	}
}

func normalize(loc string) string {
	return location.NormalizeCalendarLocation(toURL(loc))
}
