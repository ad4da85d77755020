package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/policy/ratelimit"
)

const calendarBody = `{"id":"harptos","name":"Harptos","months":[{"name":"Hammer"}],"weekdays":["First"]}`

type devEnv struct{}

func (devEnv) TimeoutMultiplier() int { return 3 }
func (devEnv) DevHeaders() http.Header {
	return http.Header{"X-Calendar-Dev-Mode": {"true"}}
}

func newTLSServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// hostOf strips the scheme so the location reads like an id suffix.
func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "https://")
}

// publicClient dials srv for every host so requests can claim a public
// origin such as example.com, which the test certificate covers.
func publicClient(srv *httptest.Server) *http.Client {
	tr := srv.Client().Transport.(*http.Transport).Clone()
	addr := srv.Listener.Addr().String()
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	return &http.Client{Transport: tr}
}

func TestLoadCalendarDirect(t *testing.T) {
	t.Parallel()

	headersCh := make(chan http.Header, 1)
	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headersCh <- r.Header.Clone()
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(calendarBody))
	}))

	h := New(Config{Client: srv.Client(), UserAgent: "test-agent", Environment: devEnv{}})
	res, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/cal.json", calendar.LoadOptions{
		Headers: http.Header{"Accept": {"application/calendar+json"}, "X-Api-Key": {"k"}},
	})
	require.NoError(t, err)
	require.Equal(t, "harptos", res.Calendar.ID)
	require.Equal(t, `"v1"`, res.VersionTag)
	require.Equal(t, srv.URL+"/cal.json", res.Location)

	gotHeaders := <-headersCh
	require.Equal(t, "application/calendar+json", gotHeaders.Get("Accept"))
	require.Equal(t, "test-agent", gotHeaders.Get("User-Agent"))
	require.Equal(t, "k", gotHeaders.Get("X-Api-Key"))
	require.Equal(t, "true", gotHeaders.Get("X-Calendar-Dev-Mode"))
}

func TestLoadCalendarCollection(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/cals/index.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Realms","calendars":[
			{"id":"harptos","name":"Harptos","file":"harptos.json"},
			{"id":"other","name":"Other","file":"other.json"}]}`))
	})
	mux.HandleFunc("/cals/harptos.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		_, _ = w.Write([]byte(calendarBody))
	})
	srv := newTLSServer(t, mux)
	h := New(Config{Client: srv.Client()})

	res, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/cals/#harptos", calendar.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "harptos", res.Calendar.ID)
	require.Equal(t, "Mon, 01 Jan 2024 00:00:00 GMT", res.VersionTag)

	_, err = h.LoadCalendar(context.Background(), hostOf(srv)+"/cals/", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrAmbiguousSelection)
	require.Contains(t, err.Error(), "harptos (Harptos)")
	require.Contains(t, err.Error(), "other (Other)")
}

func TestRedirectRewritesMethodAndHeaders(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]http.Header{}
	methods := map[string]string{}
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen[r.URL.Path] = r.Header.Clone()
		methods[r.URL.Path] = r.Method
	}
	mux.HandleFunc("/found", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		http.Redirect(w, r, "/cal.json", http.StatusFound)
	})
	mux.HandleFunc("/temporary", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		http.Redirect(w, r, "/cal.json?via=307", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/cal.json", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.URL.Query().Get("via") == "307" {
			mu.Lock()
			seen["/cal.json?via=307"] = r.Header.Clone()
			mu.Unlock()
		}
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(calendarBody))
	})
	srv := newTLSServer(t, mux)
	h := New(Config{Client: srv.Client()})
	opts := calendar.LoadOptions{Headers: http.Header{"Authorization": {"Bearer t"}, "X-Trace": {"1"}}}

	doc, err := h.Fetch(context.Background(), srv.URL+"/found", opts)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/cal.json", doc.Location)
	mu.Lock()
	require.Equal(t, "Bearer t", seen["/found"].Get("Authorization"))
	require.Empty(t, seen["/cal.json"].Get("Authorization"))
	require.Equal(t, "1", seen["/cal.json"].Get("X-Trace"))
	mu.Unlock()

	_, err = h.Fetch(context.Background(), srv.URL+"/temporary", opts)
	require.NoError(t, err)
	mu.Lock()
	require.Equal(t, "Bearer t", seen["/cal.json?via=307"].Get("Authorization"))
	mu.Unlock()

	tag, err := h.Head(context.Background(), srv.URL+"/found")
	require.NoError(t, err)
	require.Equal(t, `"v2"`, tag)
	mu.Lock()
	require.Equal(t, http.MethodHead, methods["/cal.json"])
	mu.Unlock()
}

func TestRewriteForRedirect(t *testing.T) {
	t.Parallel()

	base := http.Header{
		"Authorization":  {"Bearer t"},
		"Content-Type":   {"application/json"},
		"Content-Length": {"10"},
		"X-Keep":         {"1"},
	}
	cases := []struct {
		code       int
		method     string
		wantMethod string
		stripped   bool
	}{
		{http.StatusMovedPermanently, http.MethodPost, http.MethodGet, true},
		{http.StatusFound, http.MethodPost, http.MethodGet, true},
		{http.StatusSeeOther, http.MethodPut, http.MethodGet, true},
		{http.StatusSeeOther, http.MethodHead, http.MethodHead, true},
		{http.StatusTemporaryRedirect, http.MethodPost, http.MethodPost, false},
		{http.StatusPermanentRedirect, http.MethodHead, http.MethodHead, false},
	}
	for _, tc := range cases {
		method, headers := rewriteForRedirect(tc.code, tc.method, base)
		require.Equal(t, tc.wantMethod, method, "status %d", tc.code)
		require.Equal(t, "1", headers.Get("X-Keep"))
		if tc.stripped {
			require.Empty(t, headers.Get("Authorization"))
			require.Empty(t, headers.Get("Content-Type"))
			require.Empty(t, headers.Get("Content-Length"))
		} else {
			require.Equal(t, "Bearer t", headers.Get("Authorization"))
		}
	}
	require.Equal(t, "Bearer t", base.Get("Authorization"), "input headers are not mutated")
}

func TestRedirectToPlainHTTPRejected(t *testing.T) {
	t.Parallel()

	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://"+r.Host+"/cal.json", http.StatusMovedPermanently)
	}))
	h := New(Config{Client: srv.Client()})

	_, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/cal.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrInsecureRedirect)
}

func TestRedirectFromPublicToLoopbackRejected(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "https://127.0.0.1:8443/cal.json", http.StatusFound)
	}))
	h := New(Config{Client: publicClient(srv)})

	_, err := h.LoadCalendar(context.Background(), "example.com/cal.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrSuspiciousRedirect)
	require.EqualValues(t, 1, hits.Load())
}

func TestRedirectFromPublicToPrivateRangeRejected(t *testing.T) {
	t.Parallel()

	for _, target := range []string{
		"https://10.0.0.5/cal.json",
		"https://172.16.4.1/cal.json",
		"https://192.168.1.1/cal.json",
		"https://[::1]/cal.json",
		"https://[fd00::1]/cal.json",
		"https://169.254.169.254/latest",
		"https://localhost/cal.json",
	} {
		target := target
		srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, target, http.StatusFound)
		}))
		h := New(Config{Client: publicClient(srv)})
		_, err := h.LoadCalendar(context.Background(), "example.com/cal.json", calendar.LoadOptions{})
		require.ErrorIs(t, err, calendar.ErrSuspiciousRedirect, target)
	}
}

func TestCheckRedirectTarget(t *testing.T) {
	t.Parallel()

	check := func(raw string, originLoopback bool) error {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return checkRedirectTarget(u, originLoopback)
	}
	require.NoError(t, check("https://example.org/cal.json", false))
	require.NoError(t, check("https://127.0.0.1:3000/cal.json", true))
	require.NoError(t, check("https://10.1.2.3/cal.json", true))
	require.ErrorIs(t, check("http://example.org/cal.json", true), calendar.ErrInsecureRedirect)
	require.ErrorIs(t, check("https://127.0.0.1/cal.json", false), calendar.ErrSuspiciousRedirect)
	require.True(t, isPrivateHost("127.0.0.1"))
	require.True(t, isPrivateHost("192.168.0.10"))
	require.True(t, isPrivateHost("fe80::1"))
	require.False(t, isPrivateHost("93.184.216.34"))
	require.False(t, isPrivateHost("example.com"))
}

func TestSelfRedirectStopsAfterTenAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	h := New(Config{Client: srv.Client()})

	_, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/loop.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrTooManyRedirects)
	require.Contains(t, err.Error(), "exceeded 10 redirects")
	require.EqualValues(t, 10, hits.Load())
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, calendar.ErrNotFound},
		{http.StatusUnauthorized, calendar.ErrAccessDenied},
		{http.StatusForbidden, calendar.ErrAccessDenied},
		{http.StatusTooManyRequests, calendar.ErrRateLimited},
		{http.StatusInternalServerError, calendar.ErrServerError},
		{http.StatusBadGateway, calendar.ErrServerError},
		{http.StatusTeapot, calendar.ErrServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "30")
				w.WriteHeader(tc.status)
			}))
			h := New(Config{Client: srv.Client()})
			_, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/cal.json", calendar.LoadOptions{})
			require.ErrorIs(t, err, tc.want)
			if tc.status == http.StatusTooManyRequests {
				var calErr *calendar.Error
				require.ErrorAs(t, err, &calErr)
				require.False(t, calErr.ResetAt.IsZero())
			}
		})
	}
}

func TestMalformedResponses(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/garbage.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>nope</html>"))
	})
	mux.HandleFunc("/partial.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","months":[1]}`))
	})
	mux.HandleFunc("/big.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat(" ", 2048)))
	})
	srv := newTLSServer(t, mux)
	h := New(Config{Client: srv.Client(), MaxBodyBytes: 1024})

	_, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/garbage.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrMalformedJSON)

	_, err = h.LoadCalendar(context.Background(), hostOf(srv)+"/partial.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrMalformedPayload)

	_, err = h.LoadCalendar(context.Background(), hostOf(srv)+"/big.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrMalformedPayload)
}

func TestTimeoutAndMultiplier(t *testing.T) {
	t.Parallel()

	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(calendarBody))
	}))

	plain := New(Config{Client: srv.Client()})
	_, err := plain.LoadCalendar(context.Background(), hostOf(srv)+"/cal.json", calendar.LoadOptions{Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, calendar.ErrTimeout)
	require.Contains(t, err.Error(), "timed out")

	dev := New(Config{Client: srv.Client(), Environment: devEnv{}})
	require.Equal(t, 150*time.Millisecond, dev.timeoutFor(calendar.LoadOptions{Timeout: 50 * time.Millisecond}))
	require.Equal(t, 90*time.Second, dev.timeoutFor(calendar.LoadOptions{}))
	_, err = dev.LoadCalendar(context.Background(), hostOf(srv)+"/cal.json", calendar.LoadOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
}

func TestThrottledRequestPastDeadlineTimesOut(t *testing.T) {
	t.Parallel()

	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(calendarBody))
	}))
	h := New(Config{Client: srv.Client(), Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: 0.1, DefaultBurst: 1})})

	_, err := h.LoadCalendar(context.Background(), hostOf(srv)+"/a.json", calendar.LoadOptions{})
	require.NoError(t, err)

	_, err = h.LoadCalendar(context.Background(), hostOf(srv)+"/a.json", calendar.LoadOptions{Timeout: 200 * time.Millisecond})
	require.ErrorIs(t, err, calendar.ErrTimeout)
	require.Equal(t, calendar.KindTimeout, calendar.KindOf(err))
}

func TestCanceledContextIsAborted(t *testing.T) {
	t.Parallel()

	srv := newTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(calendarBody))
	}))
	h := New(Config{Client: srv.Client()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.LoadCalendar(ctx, hostOf(srv)+"/cal.json", calendar.LoadOptions{})
	require.ErrorIs(t, err, calendar.ErrTimeout)
	require.Contains(t, err.Error(), "aborted")
}

func TestCheckForUpdates(t *testing.T) {
	t.Parallel()

	var etag atomic.Value
	etag.Store(`"v1"`)
	mux := http.NewServeMux()
	mux.HandleFunc("/cal.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", etag.Load().(string))
	})
	mux.HandleFunc("/dated.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Last-Modified", "Tue, 02 Jan 2024 00:00:00 GMT")
	})
	mux.HandleFunc("/bare.json", func(http.ResponseWriter, *http.Request) {})
	mux.HandleFunc("/broken.json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := newTLSServer(t, mux)
	h := New(Config{Client: srv.Client()})
	ctx := context.Background()
	base := hostOf(srv)

	require.False(t, h.CheckForUpdates(ctx, base+"/cal.json", ""))
	require.False(t, h.CheckForUpdates(ctx, base+"/cal.json", `"v1"`))
	etag.Store(`"v2"`)
	require.True(t, h.CheckForUpdates(ctx, base+"/cal.json", `"v1"`))

	require.False(t, h.CheckForUpdates(ctx, base+"/dated.json", "Tue, 02 Jan 2024 00:00:00 GMT"))
	require.True(t, h.CheckForUpdates(ctx, base+"/dated.json", "Mon, 01 Jan 2024 00:00:00 GMT"))
	require.False(t, h.CheckForUpdates(ctx, base+"/bare.json", `"v1"`))
	require.False(t, h.CheckForUpdates(ctx, base+"/broken.json", `"v1"`))
}

func TestCanHandle(t *testing.T) {
	t.Parallel()

	h := New(Config{})
	require.True(t, h.CanHandle("example.com/cal.json"))
	require.True(t, h.CanHandle("https://example.com/cals/"))
	require.True(t, h.CanHandle("localhost:8080/cal.json"))
	require.True(t, h.CanHandle("127.0.0.1/cal.json"))
	require.False(t, h.CanHandle("owner"))
	require.False(t, h.CanHandle("ftp://example.com/cal.json"))
	require.Equal(t, Protocol, h.Protocol())
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/cal.json", normalize("example.com/cal.json"))
	require.Equal(t, "https://example.com/cals/index.json", normalize("example.com/cals"))
	require.Equal(t, "https://example.com/index.json", normalize("//example.com"))
}
