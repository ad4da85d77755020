package environment

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/versions"
)

// Confidence reflects how many dev signals agree.
type Confidence string

// Supported confidence levels.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Header names attached to outgoing requests in development.
const (
	HeaderDevMode       = "X-Calendar-Dev-Mode"
	HeaderDevConfidence = "X-Calendar-Dev-Confidence"
)

const devTimeoutMultiplier = 3

var (
	devPorts = map[int]struct{}{
		3000: {}, 4200: {}, 5000: {}, 5173: {}, 8000: {}, 8080: {}, 30000: {},
	}
	devHostSuffixes = []string{".local", ".test", ".localhost", ".internal", ".ngrok.io", ".ngrok-free.app"}
	devHostPrefixes = []string{"dev.", "staging.", "local."}
	devQueryParams  = []string{"debug", "dev", "development"}
)

// Signals are the raw observations a classification is computed from.
type Signals struct {
	// HostURL is the public URL of the host application.
	HostURL string
	// DebugFlags are host-level debug switches.
	DebugFlags map[string]bool
	// ExtensionVersions maps active sibling extension names to versions.
	ExtensionVersions map[string]string
}

// Probe gathers Signals.
type Probe interface {
	Signals() Signals
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func() Signals

// Signals calls f.
func (f ProbeFunc) Signals() Signals {
	return f()
}

// StaticProbe returns fixed signals.
type StaticProbe Signals

// Signals returns the fixed signals.
func (p StaticProbe) Signals() Signals {
	return Signals(p)
}

// Classification is the computed environment verdict.
type Classification struct {
	IsLocalhost   bool
	IsDevelopment bool
	Confidence    Confidence
	Hostname      string
	Port          int
	Reasons       []string
}

// Classifier memoizes one Classification until Reset is called.
type Classifier struct {
	probe  Probe
	logger *zap.Logger

	mu     sync.Mutex
	cached *Classification
}

// New creates a Classifier reading from probe.
func New(probe Probe, logger *zap.Logger) *Classifier {
	if probe == nil {
		probe = StaticProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{probe: probe, logger: logger}
}

// Classify returns the memoized classification, computing it on first use.
func (c *Classifier) Classify() Classification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		result := classify(c.probe.Signals())
		c.cached = &result
		c.logger.Debug("environment classified",
			zap.Bool("localhost", result.IsLocalhost),
			zap.Bool("development", result.IsDevelopment),
			zap.String("confidence", string(result.Confidence)),
			zap.Strings("reasons", result.Reasons),
		)
	}
	out := *c.cached
	out.Reasons = append([]string(nil), c.cached.Reasons...)
	return out
}

// Reset drops the memoized classification.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// ShouldDisableCache is true on loopback hosts only.
func (c *Classifier) ShouldDisableCache() bool {
	return c.Classify().IsLocalhost
}

// IsDevMode is true on loopback hosts or high-confidence development.
func (c *Classifier) IsDevMode() bool {
	cls := c.Classify()
	return cls.IsLocalhost || (cls.IsDevelopment && cls.Confidence == ConfidenceHigh)
}

// TimeoutMultiplier scales request timeouts in development.
func (c *Classifier) TimeoutMultiplier() int {
	if c.Classify().IsDevelopment {
		return devTimeoutMultiplier
	}
	return 1
}

// DevHeaders returns marker headers for outgoing requests, empty outside development.
func (c *Classifier) DevHeaders() http.Header {
	cls := c.Classify()
	h := http.Header{}
	if !cls.IsDevelopment {
		return h
	}
	h.Set(HeaderDevMode, "true")
	h.Set(HeaderDevConfidence, string(cls.Confidence))
	return h
}

type signal struct {
	reason string
	strong bool
}

func classify(in Signals) Classification {
	var (
		found []signal
		out   Classification
	)

	if u, err := url.Parse(in.HostURL); err == nil && in.HostURL != "" {
		out.Hostname = strings.ToLower(u.Hostname())
		if p, convErr := strconv.Atoi(u.Port()); convErr == nil {
			out.Port = p
		}
		if IsLoopbackHost(out.Hostname) {
			out.IsLocalhost = true
			found = append(found, signal{reason: "loopback hostname " + out.Hostname, strong: true})
		} else if pattern, ok := devHostnamePattern(out.Hostname); ok {
			found = append(found, signal{reason: "development hostname pattern " + pattern, strong: true})
		}
		if _, ok := devPorts[out.Port]; ok {
			found = append(found, signal{reason: fmt.Sprintf("development port %d", out.Port), strong: true})
		}
		query := u.Query()
		for _, param := range devQueryParams {
			if !query.Has(param) {
				continue
			}
			switch strings.ToLower(query.Get(param)) {
			case "", "1", "true", "yes", "on":
				found = append(found, signal{reason: "query parameter " + param})
			}
		}
	}

	for _, name := range sortedKeys(in.DebugFlags) {
		if in.DebugFlags[name] {
			found = append(found, signal{reason: "debug flag " + name, strong: true})
		}
	}

	for _, name := range sortedKeys(in.ExtensionVersions) {
		if v := in.ExtensionVersions[name]; versions.IsPrerelease(v) {
			found = append(found, signal{reason: fmt.Sprintf("pre-release extension %s@%s", name, v)})
		}
	}

	out.IsDevelopment = len(found) > 0
	out.Confidence = confidenceFor(out.IsLocalhost, found)
	for _, s := range found {
		out.Reasons = append(out.Reasons, s.reason)
	}
	return out
}

func confidenceFor(loopback bool, found []signal) Confidence {
	if loopback || len(found) >= 3 {
		return ConfidenceHigh
	}
	if len(found) == 2 {
		return ConfidenceMedium
	}
	for _, s := range found {
		if s.strong {
			return ConfidenceMedium
		}
	}
	return ConfidenceLow
}

// IsLoopbackHost reports localhost names and loopback addresses.
func IsLoopbackHost(host string) bool {
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func devHostnamePattern(host string) (string, bool) {
	for _, suffix := range devHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return "*" + suffix, true
		}
	}
	for _, prefix := range devHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			return prefix + "*", true
		}
	}
	return "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
