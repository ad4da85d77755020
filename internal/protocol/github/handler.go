// Package github loads calendars stored in GitHub repositories through the
// REST contents API. The blob sha of the file serves as its version tag.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
	"github.com/JakeFAU/calendar-sources/internal/policy/ratelimit"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
)

// Protocol is the prefix GitHub locations are registered under.
const Protocol = "github"

const (
	defaultAPIBase     = "https://api.github.com"
	defaultTimeout     = 30 * time.Second
	defaultUserAgent   = "calsources/1.0"
	apiVersion         = "2022-11-28"
	maxResponseBytes   = 10 << 20
	rateRemainingHdr   = "X-RateLimit-Remaining"
	rateResetHdr       = "X-RateLimit-Reset"
	contentEncodingB64 = "base64"
)

var locationPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*/[A-Za-z0-9._-]+(@[^/#\s]+)?(/[^#\s]*)?(#.*)?$`)

// Config controls the GitHub handler.
//   - APIBase: REST root (default https://api.github.com).
//   - Token: optional bearer token for private repositories and higher quotas.
//   - Timeout: per-request default before the dev multiplier (default 30s).
//   - Limiter: optional client-side throttle shared across requests.
type Config struct {
	APIBase     string
	Token       string
	Client      *http.Client
	Timeout     time.Duration
	UserAgent   string
	Environment protocol.Environment
	Limiter     *ratelimit.Limiter
	Logger      *zap.Logger
}

// Handler implements protocol.Handler and protocol.UpdateChecker for GitHub.
type Handler struct {
	cfg      Config
	client   *http.Client
	resolver *protocol.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
	Path     string `json:"path"`
}

// New builds a GitHub Handler.
func New(cfg Config) *Handler {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Environment == nil {
		cfg.Environment = protocol.NoEnvironment
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{cfg: cfg, client: client, logger: logger, now: time.Now}
	h.resolver = protocol.NewResolver(h.fetch,
		protocol.WithNormalizer(normalize),
		protocol.WithJoin(join),
	)
	return h
}

// Protocol implements protocol.Handler.
func (h *Handler) Protocol() string { return Protocol }

// CanHandle reports owner/repo[@ref][/path][#id] locations.
func (h *Handler) CanHandle(loc string) bool {
	return !strings.Contains(loc, "://") && locationPattern.MatchString(loc)
}

// LoadCalendar fetches the calendar, resolving collection indexes.
func (h *Handler) LoadCalendar(ctx context.Context, loc string, opts calendar.LoadOptions) (protocol.Result, error) {
	return h.resolver.Load(ctx, loc, opts)
}

// CheckForUpdates compares the file's current blob sha with lastVersionTag.
// Any failure reports false.
func (h *Handler) CheckForUpdates(ctx context.Context, loc, lastVersionTag string) bool {
	if lastVersionTag == "" {
		return false
	}
	target, err := h.resolver.Locate(ctx, loc, calendar.LoadOptions{})
	if err != nil {
		h.logger.Debug("update check could not locate calendar", zap.String("location", loc), zap.Error(err))
		return false
	}
	doc, err := h.fetch(ctx, target, calendar.LoadOptions{})
	if err != nil {
		h.logger.Debug("update check failed", zap.String("location", target), zap.Error(err))
		return false
	}
	return doc.VersionTag != "" && doc.VersionTag != lastVersionTag
}

func (h *Handler) fetch(ctx context.Context, loc string, opts calendar.LoadOptions) (protocol.Document, error) {
	parsed, err := parseLocation(loc)
	if err != nil {
		return protocol.Document{}, err
	}
	endpoint := h.contentsURL(parsed)

	timeout := h.timeoutFor(opts)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := h.cfg.Limiter.Wait(ctx, endpoint); err != nil {
		return protocol.Document{}, requestError(ctx, err, loc, timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return protocol.Document{}, calendar.WrapError(calendar.KindMalformedIdentifier, err, "invalid github location %q", loc)
	}
	req.Header = h.headersFor(opts)

	resp, err := h.client.Do(req)
	if err != nil {
		return protocol.Document{}, requestError(ctx, err, loc, timeout)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if err := h.statusError(resp, loc); err != nil {
		return protocol.Document{}, err
	}

	var body contentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Document{}, requestError(ctx, ctxErr, loc, timeout)
		}
		return protocol.Document{}, calendar.WrapError(calendar.KindServerError, err, "decode github contents response for %s", loc)
	}
	data, err := decodeContent(body, loc)
	if err != nil {
		return protocol.Document{}, err
	}
	return protocol.Document{Data: data, VersionTag: body.SHA, Location: parsed.String()}, nil
}

func (h *Handler) contentsURL(l repoLocation) string {
	segments := strings.Split(l.Path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		h.cfg.APIBase, url.PathEscape(l.Owner), url.PathEscape(l.Repo), strings.Join(segments, "/"))
	if l.Ref != "" {
		endpoint += "?ref=" + url.QueryEscape(l.Ref)
	}
	return endpoint
}

func (h *Handler) headersFor(opts calendar.LoadOptions) http.Header {
	internal := http.Header{}
	internal.Set("Accept", "application/vnd.github+json")
	internal.Set("X-GitHub-Api-Version", apiVersion)
	internal.Set("User-Agent", h.cfg.UserAgent)
	if h.cfg.Token != "" {
		internal.Set("Authorization", "Bearer "+h.cfg.Token)
	}
	return protocol.MergeHeaders(internal, h.cfg.Environment.DevHeaders(), opts.Headers)
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

func (h *Handler) statusError(resp *http.Response, loc string) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case (code == http.StatusForbidden || code == http.StatusTooManyRequests) && isRateLimited(resp):
		metrics.ObserveRateLimited(Protocol)
		e := calendar.NewError(calendar.KindRateLimited, "github rate limit exceeded for %s", loc)
		if reset, err := strconv.ParseInt(resp.Header.Get(rateResetHdr), 10, 64); err == nil {
			e.ResetAt = time.Unix(reset, 0).UTC()
			e.Message += fmt.Sprintf(", resets at %s", e.ResetAt.Format(time.RFC3339))
		}
		h.logger.Warn("github rate limit exceeded", zap.String("location", loc), zap.Time("reset_at", e.ResetAt))
		return e
	case code == http.StatusNotFound:
		return calendar.NewError(calendar.KindNotFound, "github file not found: %s", loc)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return calendar.NewError(calendar.KindAccessDenied, "access denied to github file %s (%d)", loc, code)
	case code >= 500:
		return calendar.NewError(calendar.KindServerError, "github server error for %s (%d)", loc, code)
	default:
		return calendar.NewError(calendar.KindServerError, "unexpected github status %d for %s", code, loc)
	}
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Header.Get(rateRemainingHdr) == "0"
}

func decodeContent(body contentResponse, loc string) ([]byte, error) {
	if body.Type != "" && body.Type != "file" {
		return nil, calendar.NewError(calendar.KindNotFound, "github location %s is a %s, not a file", loc, body.Type)
	}
	switch body.Encoding {
	case contentEncodingB64:
		data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
		if err != nil {
			return nil, calendar.WrapError(calendar.KindMalformedJSON, err, "invalid base64 content for %s", loc)
		}
		return data, nil
	case "":
		return []byte(body.Content), nil
	default:
		return nil, calendar.NewError(calendar.KindServerError, "unsupported github content encoding %q for %s", body.Encoding, loc)
	}
}

func requestError(ctx context.Context, err error, loc string, timeout time.Duration) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return calendar.WrapError(calendar.KindTimeout, err, "github request for %s timed out after %s", loc, timeout)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return calendar.WrapError(calendar.KindTimeout, err, "github request for %s aborted", loc)
	}
	return calendar.WrapError(calendar.KindServerError, err, "github request for %s failed", loc)
}
