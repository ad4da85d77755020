package location

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// knownHosts maps well-known hosts to short namespace codes.
var knownHosts = map[string]string{
	"github.com":                "gh",
	"raw.githubusercontent.com": "gh",
	"api.github.com":            "gh",
	"gitlab.com":                "gl",
	"bitbucket.org":             "bb",
}

var unsafeNamespaceChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// Namespace is the display grouping derived from a location.
type Namespace struct {
	Namespace  string
	CalendarID string
}

// ParseNamespace derives a namespace and bare calendar id from slash-shaped
// (owner/repo/file.json), colon-shaped (ns:calendar) or URL-shaped
// (https://host/path/file.json) locations. A #fragment always wins as the
// calendar id.
func ParseNamespace(location string) Namespace {
	base, fragment := SplitFragment(location)
	base, _ = splitQuery(base)

	var ns Namespace
	switch {
	case strings.Contains(base, "://"):
		ns = parseURLNamespace(base)
	case strings.Contains(base, ":") && !strings.Contains(base, "/") && !HasDriveLetter(base):
		parts := strings.SplitN(base, ":", 2)
		ns = Namespace{Namespace: SanitizeNamespace(parts[0]), CalendarID: parts[1]}
	default:
		ns = parseSlashNamespace(strings.ReplaceAll(base, "\\", "/"))
	}
	if fragment != "" {
		ns.CalendarID = fragment
	}
	return ns
}

func parseURLNamespace(raw string) Namespace {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return parseSlashNamespace(raw)
	}
	segments := splitSegments(u.Path)
	nsParts := []string{u.Hostname()}
	if len(segments) > 1 {
		nsParts = append(nsParts, segments[0])
	}
	return Namespace{
		Namespace:  SanitizeNamespace(strings.Join(nsParts, "/")),
		CalendarID: calendarIDFromSegments(segments),
	}
}

func parseSlashNamespace(p string) Namespace {
	segments := splitSegments(p)
	var nsParts []string
	switch {
	case len(segments) >= 3:
		nsParts = segments[:2]
	case len(segments) == 2:
		nsParts = segments[:1]
	}
	return Namespace{
		Namespace:  SanitizeNamespace(strings.Join(nsParts, "/")),
		CalendarID: calendarIDFromSegments(segments),
	}
}

// calendarIDFromSegments uses the file stem, or the enclosing directory for
// index files.
func calendarIDFromSegments(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	last := segments[len(segments)-1]
	if IsIndexLocation(last) {
		if len(segments) > 1 {
			return segments[len(segments)-2]
		}
		return ""
	}
	return strings.TrimSuffix(last, path.Ext(last))
}

func splitSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// SanitizeNamespace strips protocols, shortens well-known hosts and replaces
// characters that are unsafe in ids.
func SanitizeNamespace(namespace string) string {
	ns := strings.ToLower(strings.TrimSpace(namespace))
	if idx := strings.Index(ns, "://"); idx >= 0 {
		ns = ns[idx+3:]
	}
	ns = strings.TrimPrefix(ns, "www.")

	head, tail, hasTail := strings.Cut(ns, "/")
	if code, ok := knownHosts[head]; ok {
		head = code
	}
	if hasTail {
		ns = head + "/" + tail
	} else {
		ns = head
	}

	ns = unsafeNamespaceChars.ReplaceAllString(ns, "-")
	return strings.Trim(ns, "-")
}

// CompositeID joins a namespace and calendar id.
func CompositeID(namespace, calendarID string) string {
	if namespace == "" {
		return calendarID
	}
	return namespace + "/" + calendarID
}

// ResolveConflict appends -2, -3, ... to proposed until it is not in existing.
func ResolveConflict(proposed string, existing map[string]struct{}) string {
	if _, taken := existing[proposed]; !taken {
		return proposed
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", proposed, n)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}
