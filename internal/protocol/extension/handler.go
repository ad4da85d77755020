// Package extension loads calendars bundled with sibling extensions
// installed in the same host application.
package extension

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/location"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
	"github.com/JakeFAU/calendar-sources/internal/versions"
)

// Protocol is the prefix extension locations are registered under.
const Protocol = "extension"

// DefaultPath is loaded when a location names only the package.
const DefaultPath = "calendars/" + location.IndexFileName

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[^#\s]*)?(#.*)?$`)

// Fetcher performs the web GET and HEAD contract against absolute URLs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts calendar.LoadOptions) (protocol.Document, error)
	Head(ctx context.Context, rawURL string) (string, error)
}

// Handler implements protocol.Handler and protocol.UpdateChecker for
// package-name[/path][#id] locations.
type Handler struct {
	packages Resolver
	fetcher  Fetcher
	resolver *protocol.Resolver
	logger   *zap.Logger
}

// New builds an extension Handler.
func New(packages Resolver, fetcher Fetcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{packages: packages, fetcher: fetcher, logger: logger}
	h.resolver = protocol.NewResolver(h.fetch, protocol.WithNormalizer(normalize))
	return h
}

// Protocol implements protocol.Handler.
func (h *Handler) Protocol() string { return Protocol }

// CanHandle reports package-name[/path] locations.
func (h *Handler) CanHandle(loc string) bool {
	return !strings.Contains(loc, "://") && namePattern.MatchString(loc)
}

// LoadCalendar fetches the calendar from the package's served files.
func (h *Handler) LoadCalendar(ctx context.Context, loc string, opts calendar.LoadOptions) (protocol.Result, error) {
	return h.resolver.Load(ctx, loc, opts)
}

// CheckForUpdates compares the served file's ETag or Last-Modified with
// lastVersionTag. Any failure reports false.
func (h *Handler) CheckForUpdates(ctx context.Context, loc, lastVersionTag string) bool {
	if lastVersionTag == "" {
		return false
	}
	target, err := h.resolver.Locate(ctx, loc, calendar.LoadOptions{})
	if err != nil {
		h.logger.Debug("update check could not locate calendar", zap.String("location", loc), zap.Error(err))
		return false
	}
	rawURL, err := h.packageURL(ctx, target)
	if err != nil {
		return false
	}
	tag, err := h.fetcher.Head(ctx, rawURL)
	if err != nil {
		h.logger.Debug("update check failed", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	return tag != "" && tag != lastVersionTag
}

// IsPrerelease reports whether the package named by loc has a pre-release
// version. Unknown packages report false.
func (h *Handler) IsPrerelease(ctx context.Context, loc string) bool {
	name, _ := splitLocation(loc)
	pkg, ok, err := h.packages.Lookup(ctx, name)
	if err != nil || !ok {
		return false
	}
	return versions.IsPrerelease(pkg.Version)
}

// SkipCache bypasses the cache for pre-release packages.
func (h *Handler) SkipCache(ctx context.Context, loc string) bool {
	return h.IsPrerelease(ctx, loc)
}

func (h *Handler) fetch(ctx context.Context, loc string, opts calendar.LoadOptions) (protocol.Document, error) {
	rawURL, err := h.packageURL(ctx, loc)
	if err != nil {
		return protocol.Document{}, err
	}
	doc, err := h.fetcher.Fetch(ctx, rawURL, opts)
	if err != nil {
		return protocol.Document{}, err
	}
	// entries resolve inside the package, not against the served URL
	doc.Location = loc
	return doc, nil
}

func (h *Handler) packageURL(ctx context.Context, loc string) (string, error) {
	name, filePath := splitLocation(loc)
	if name == "" {
		return "", calendar.NewError(calendar.KindMalformedIdentifier, "extension location %q has no package name", loc)
	}
	if strings.HasPrefix(filePath, "../") || filePath == ".." {
		return "", calendar.NewError(calendar.KindMalformedIdentifier, "extension path %q escapes the package", loc)
	}
	pkg, ok, err := h.packages.Lookup(ctx, name)
	if err != nil {
		return "", calendar.WrapError(calendar.KindServerError, err, "look up extension %q", name)
	}
	if !ok {
		return "", calendar.NewError(calendar.KindNotFound, "extension %q is not installed", name)
	}
	if !pkg.Active {
		return "", calendar.NewError(calendar.KindAccessDenied, "extension %q is not active", name)
	}
	base, err := url.Parse(pkg.BaseURL)
	if err != nil {
		return "", calendar.WrapError(calendar.KindServerError, err, "invalid base URL for extension %q", name)
	}
	ref := &url.URL{Path: filePath}
	return base.ResolveReference(ref).String(), nil
}

// splitLocation separates the package name from the cleaned in-package path.
func splitLocation(loc string) (name, filePath string) {
	base, _ := location.SplitFragment(loc)
	base = strings.TrimPrefix(base, "/")
	name, rest, _ := strings.Cut(base, "/")
	if rest == "" {
		return name, ""
	}
	return name, path.Clean(rest)
}

func normalize(loc string) string {
	name, filePath := splitLocation(loc)
	if name == "" {
		return loc
	}
	if filePath == "" || filePath == "." {
		return name + "/" + DefaultPath
	}
	last := path.Base(filePath)
	if strings.HasSuffix(loc, "/") || !strings.Contains(last, ".") {
		return name + "/" + path.Join(filePath, location.IndexFileName)
	}
	return name + "/" + filePath
}
