// Package file loads calendars from the local filesystem. The SHA-256 of
// the file contents serves as its version tag.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/hash/sha256"
	"github.com/JakeFAU/calendar-sources/internal/location"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
)

// Protocol is the prefix filesystem locations are registered under.
const Protocol = "file"

const maxFileBytes = 10 << 20

// Handler implements protocol.Handler and protocol.UpdateChecker for local
// files. Relative paths resolve against Root.
type Handler struct {
	root     string
	hasher   *sha256.Hasher
	resolver *protocol.Resolver
	logger   *zap.Logger
}

// New builds a file Handler rooted at root (the working directory when
// empty).
func New(root string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{root: root, hasher: sha256.New(), logger: logger}
	h.resolver = protocol.NewResolver(h.fetch, protocol.WithNormalizer(normalize))
	return h
}

// Protocol implements protocol.Handler.
func (h *Handler) Protocol() string { return Protocol }

// CanHandle reports absolute, relative and drive-qualified paths.
func (h *Handler) CanHandle(loc string) bool {
	base, _ := location.SplitFragment(loc)
	if base == "" {
		return false
	}
	if strings.HasPrefix(base, "file://") {
		return true
	}
	return !strings.Contains(base, "://")
}

// LoadCalendar reads the calendar, resolving collection indexes.
func (h *Handler) LoadCalendar(ctx context.Context, loc string, opts calendar.LoadOptions) (protocol.Result, error) {
	return h.resolver.Load(ctx, loc, opts)
}

// SkipCache is always true; local files are read fresh on every load.
func (h *Handler) SkipCache(context.Context, string) bool { return true }

// CheckForUpdates compares the file digest with lastVersionTag.
func (h *Handler) CheckForUpdates(ctx context.Context, loc, lastVersionTag string) bool {
	if lastVersionTag == "" {
		return false
	}
	target, err := h.resolver.Locate(ctx, loc, calendar.LoadOptions{})
	if err != nil {
		return false
	}
	doc, err := h.fetch(ctx, target, calendar.LoadOptions{})
	if err != nil {
		h.logger.Debug("update check failed", zap.String("path", target), zap.Error(err))
		return false
	}
	return doc.VersionTag != lastVersionTag
}

// Resolve maps a location to the filesystem path it designates.
func (h *Handler) Resolve(loc string) string {
	p := strings.TrimPrefix(loc, "file://")
	if location.HasDriveLetter(p) {
		return filepath.Clean(filepath.FromSlash(p))
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) || h.root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(h.root, p)
}

func (h *Handler) fetch(ctx context.Context, loc string, _ calendar.LoadOptions) (protocol.Document, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Document{}, calendar.WrapError(calendar.KindTimeout, err, "read of %s aborted", loc)
	}
	filePath := h.Resolve(loc)

	info, err := os.Stat(filePath)
	if err != nil {
		return protocol.Document{}, fileError(err, filePath)
	}
	if info.IsDir() {
		return protocol.Document{}, calendar.NewError(calendar.KindNotFound, "%s is a directory", filePath)
	}
	if info.Size() > maxFileBytes {
		return protocol.Document{}, calendar.NewError(calendar.KindMalformedPayload, "%s exceeds %d bytes", filePath, maxFileBytes)
	}
	//nolint:gosec // paths come from configured calendar sources
	data, err := os.ReadFile(filePath)
	if err != nil {
		return protocol.Document{}, fileError(err, filePath)
	}
	return protocol.Document{Data: data, VersionTag: h.hasher.Hash(data), Location: loc}, nil
}

func fileError(err error, filePath string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return calendar.WrapError(calendar.KindNotFound, err, "calendar file not found: %s", filePath)
	case errors.Is(err, fs.ErrPermission):
		return calendar.WrapError(calendar.KindAccessDenied, err, "permission denied reading %s", filePath)
	default:
		return calendar.WrapError(calendar.KindServerError, err, "read calendar file %s", filePath)
	}
}

func normalize(loc string) string {
	p := strings.TrimPrefix(loc, "file://")
	return location.NormalizeCalendarLocation(p)
}
