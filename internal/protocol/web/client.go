package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/environment"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
)

// request issues method against rawURL, following redirects under the
// redirect policy. The caller owns ctx's deadline and the response body.
func (h *Handler) request(ctx context.Context, method, rawURL string, opts calendar.LoadOptions) (*http.Response, error) {
	current, err := url.Parse(rawURL)
	if err != nil || current.Host == "" {
		return nil, calendar.WrapError(calendar.KindMalformedIdentifier, err, "invalid calendar URL %q", rawURL)
	}
	originLoopback := environment.IsLoopbackHost(current.Hostname())
	timeout := h.timeoutFor(opts)
	headers := h.headersFor(opts)

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, current.String(), nil)
		if err != nil {
			return nil, calendar.WrapError(calendar.KindMalformedIdentifier, err, "invalid calendar URL %q", current.String())
		}
		req.Header = headers.Clone()

		if err := h.cfg.Limiter.Wait(ctx, current.String()); err != nil {
			return nil, requestError(ctx, err, current.String(), timeout)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, requestError(ctx, err, current.String(), timeout)
		}
		if !isRedirect(resp.StatusCode) {
			if err := statusError(resp, current.String()); err != nil {
				drainAndClose(resp)
				return nil, err
			}
			return resp, nil
		}
		drainAndClose(resp)

		code := resp.StatusCode
		if attempt >= h.cfg.MaxRedirects {
			metrics.ObserveRedirect(code, "exceeded")
			return nil, calendar.NewError(calendar.KindTooManyRedirects,
				"exceeded %d redirects fetching %s", h.cfg.MaxRedirects, rawURL)
		}
		next, err := redirectTarget(resp, current)
		if err != nil {
			metrics.ObserveRedirect(code, "rejected")
			return nil, err
		}
		if err := checkRedirectTarget(next, originLoopback); err != nil {
			metrics.ObserveRedirect(code, "rejected")
			h.logger.Warn("rejected calendar redirect",
				zap.String("from", current.String()),
				zap.String("to", next.String()),
				zap.Int("status", code),
				zap.Error(err),
			)
			return nil, err
		}
		metrics.ObserveRedirect(code, "followed")
		h.logger.Debug("following calendar redirect",
			zap.String("from", current.String()),
			zap.String("to", next.String()),
			zap.Int("status", code),
		)
		method, headers = rewriteForRedirect(code, method, headers)
		current = next
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// rewriteForRedirect applies the method and header rules for a hop:
// 301/302/303 switch to GET and drop credentials and body headers,
// 307/308 keep everything, and HEAD stays HEAD.
func rewriteForRedirect(code int, method string, headers http.Header) (string, http.Header) {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		next := headers.Clone()
		next.Del("Authorization")
		next.Del("Content-Type")
		next.Del("Content-Length")
		if method != http.MethodHead {
			method = http.MethodGet
		}
		return method, next
	}
	return method, headers
}

func redirectTarget(resp *http.Response, current *url.URL) (*url.URL, error) {
	raw := resp.Header.Get("Location")
	if raw == "" {
		return nil, calendar.NewError(calendar.KindServerError,
			"redirect %d from %s without Location header", resp.StatusCode, current)
	}
	next, err := current.Parse(raw)
	if err != nil {
		return nil, calendar.WrapError(calendar.KindSuspiciousRedirect, err, "unparseable redirect location %q", raw)
	}
	return next, nil
}

// checkRedirectTarget rejects plain-HTTP targets and private or loopback
// targets reached from a non-loopback origin.
func checkRedirectTarget(target *url.URL, originLoopback bool) error {
	if target.Scheme != "https" {
		return calendar.NewError(calendar.KindInsecureRedirect, "refusing redirect to non-HTTPS URL %s", target)
	}
	if !originLoopback && isPrivateHost(target.Hostname()) {
		return calendar.NewError(calendar.KindSuspiciousRedirect,
			"refusing redirect to private or loopback address %s", target.Hostname())
	}
	return nil
}

// isPrivateHost reports loopback, RFC 1918, unique-local and link-local
// addresses plus localhost names. Hostnames are not resolved.
func isPrivateHost(host string) bool {
	if environment.IsLoopbackHost(host) {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func statusError(resp *http.Response, target string) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return calendar.NewError(calendar.KindNotFound, "calendar not found at %s (404)", target)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return calendar.NewError(calendar.KindAccessDenied, "access denied to %s (%d)", target, code)
	case code == http.StatusTooManyRequests:
		metrics.ObserveRateLimited(Protocol)
		e := calendar.NewError(calendar.KindRateLimited, "rate limited by %s (429)", target)
		e.ResetAt = retryAfter(resp.Header.Get("Retry-After"), time.Now())
		return e
	case code >= 500:
		return calendar.NewError(calendar.KindServerError, "server error from %s (%d)", target, code)
	default:
		return calendar.NewError(calendar.KindServerError, "unexpected status %d from %s", code, target)
	}
}

func retryAfter(value string, now time.Time) time.Time {
	if value == "" {
		return time.Time{}
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return now.Add(time.Duration(secs) * time.Second)
	}
	if at, err := http.ParseTime(value); err == nil {
		return at
	}
	return time.Time{}
}

func requestError(ctx context.Context, err error, target string, timeout time.Duration) error {
	var calErr *calendar.Error
	if errors.As(err, &calErr) {
		return calErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return calendar.WrapError(calendar.KindTimeout, err, "request to %s timed out after %s", target, timeout)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return calendar.WrapError(calendar.KindTimeout, err, "request to %s aborted", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return calendar.WrapError(calendar.KindTimeout, err, "request to %s timed out after %s", target, timeout)
	}
	return calendar.WrapError(calendar.KindServerError, err, "request to %s failed", target)
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, calendar.NewError(calendar.KindMalformedPayload, "calendar document exceeds %d bytes", limit)
	}
	return data, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
