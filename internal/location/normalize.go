package location

import (
	"net/url"
	"path"
	"strings"
)

// IndexFileName is the conventional name of a collection index.
const IndexFileName = "index.json"

// DefaultExtension is appended to bare single-segment names.
const DefaultExtension = ".json"

// Normalizer maps a raw location to the file it designates. The default
// heuristic can be swapped per handler since directory detection is guesswork.
type Normalizer func(location string) string

// SplitFragment separates a trailing #calendar-id from a location.
func SplitFragment(location string) (base, fragment string) {
	idx := strings.LastIndex(location, "#")
	if idx < 0 {
		return location, ""
	}
	return location[:idx], location[idx+1:]
}

// splitQuery separates a ?query suffix so path heuristics ignore it.
func splitQuery(location string) (base, query string) {
	idx := strings.Index(location, "?")
	if idx < 0 {
		return location, ""
	}
	return location[:idx], location[idx:]
}

// NormalizeCalendarLocation resolves directory-shaped locations to their
// index file and gives bare names the default extension:
//
//	foo          -> foo.json
//	owner/repo   -> owner/repo/index.json
//	cals/        -> cals/index.json
//	foo.yaml     -> foo.yaml
func NormalizeCalendarLocation(location string) string {
	base, fragment := SplitFragment(location)
	base, query := splitQuery(base)
	if base == "" {
		return location
	}

	prefix, rest := splitScheme(base)
	normalized := rest
	switch {
	case strings.HasSuffix(rest, "/"):
		normalized = rest + IndexFileName
	case hasExtension(lastSegment(rest)):
	case segmentCount(rest) > 1 || prefix != "":
		normalized = rest + "/" + IndexFileName
	default:
		normalized = rest + DefaultExtension
	}

	out := prefix + normalized + query
	if fragment != "" {
		out += "#" + fragment
	}
	return out
}

// IsIndexLocation reports whether location points at a collection index.
func IsIndexLocation(location string) bool {
	base, _ := SplitFragment(location)
	base, _ = splitQuery(base)
	name := strings.ToLower(lastSegment(base))
	switch name {
	case IndexFileName, "index.yaml", "index.yml":
		return true
	}
	return false
}

// ResolveEntryFile resolves an index entry's file against the directory of
// the index that listed it, unless it is already absolute or fully qualified.
func ResolveEntryFile(indexLocation, file string) string {
	if IsAbsolute(file) {
		return file
	}
	base, _ := SplitFragment(indexLocation)
	if strings.Contains(base, "://") {
		baseURL, err := url.Parse(base)
		if err == nil {
			ref, refErr := url.Parse(file)
			if refErr == nil {
				return baseURL.ResolveReference(ref).String()
			}
		}
	}
	base, _ = splitQuery(base)
	dir := path.Dir(strings.ReplaceAll(base, "\\", "/"))
	if dir == "." || dir == "" {
		return path.Clean(file)
	}
	return path.Join(dir, file)
}

// IsAbsolute reports whether a location needs no base to be resolved.
func IsAbsolute(location string) bool {
	switch {
	case strings.HasPrefix(location, "/"), strings.HasPrefix(location, "\\"):
		return true
	case strings.Contains(location, "://"):
		return true
	case HasDriveLetter(location):
		return true
	}
	return false
}

// HasDriveLetter reports a Windows drive-qualified path such as C:\ or C:/.
func HasDriveLetter(location string) bool {
	if len(location) < 3 {
		return false
	}
	c := location[0]
	isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	return isLetter && location[1] == ':' && (location[2] == '\\' || location[2] == '/')
}

func splitScheme(location string) (prefix, rest string) {
	idx := strings.Index(location, "://")
	if idx < 0 {
		return "", location
	}
	afterScheme := location[idx+3:]
	slash := strings.Index(afterScheme, "/")
	if slash < 0 {
		// bare host, the path is empty
		return location, ""
	}
	return location[:idx+3+slash+1], afterScheme[slash+1:]
}

func lastSegment(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func segmentCount(p string) int {
	count := 0
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if seg != "" {
			count++
		}
	}
	return count
}

func hasExtension(segment string) bool {
	idx := strings.LastIndex(segment, ".")
	return idx > 0 && idx < len(segment)-1
}
