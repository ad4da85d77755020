package github

import (
	"path"
	"strings"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/location"
)

// repoLocation is a parsed owner/repo[@ref][/path] location.
type repoLocation struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

func parseLocation(loc string) (repoLocation, error) {
	base, _ := location.SplitFragment(loc)
	base = strings.Trim(base, "/")
	parts := strings.SplitN(base, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return repoLocation{}, calendar.NewError(calendar.KindMalformedIdentifier,
			"github location %q must look like owner/repo[@ref][/path]", loc)
	}
	out := repoLocation{Owner: parts[0], Repo: parts[1]}
	if repo, ref, ok := strings.Cut(out.Repo, "@"); ok {
		if repo == "" || ref == "" {
			return repoLocation{}, calendar.NewError(calendar.KindMalformedIdentifier,
				"github location %q has an empty repository or ref", loc)
		}
		out.Repo, out.Ref = repo, ref
	}
	if len(parts) == 3 {
		out.Path = strings.Trim(parts[2], "/")
	}
	return out, nil
}

func (l repoLocation) String() string {
	var b strings.Builder
	b.WriteString(l.Owner)
	b.WriteByte('/')
	b.WriteString(l.Repo)
	if l.Ref != "" {
		b.WriteByte('@')
		b.WriteString(l.Ref)
	}
	if l.Path != "" {
		b.WriteByte('/')
		b.WriteString(l.Path)
	}
	return b.String()
}

// normalize points repository roots and extensionless paths at their
// collection index. Anything unparseable passes through for fetch to reject.
func normalize(loc string) string {
	parsed, err := parseLocation(loc)
	if err != nil {
		return loc
	}
	last := path.Base(parsed.Path)
	switch {
	case parsed.Path == "":
		parsed.Path = location.IndexFileName
	case strings.Contains(last, ".") && !strings.HasPrefix(last, "."):
	default:
		parsed.Path = path.Join(parsed.Path, location.IndexFileName)
	}
	return parsed.String()
}

// join resolves an index entry inside the same repository and ref. A
// leading slash anchors the file at the repository root.
func join(indexLocation, file string) string {
	parsed, err := parseLocation(indexLocation)
	if err != nil {
		return file
	}
	if strings.HasPrefix(file, "/") {
		parsed.Path = strings.TrimPrefix(path.Clean(file), "/")
	} else {
		parsed.Path = path.Join(path.Dir(parsed.Path), file)
	}
	return parsed.String()
}
