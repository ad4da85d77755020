// Package versions classifies version strings reported by sibling extensions.
package versions

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// prereleaseMarkers catches non-semver strings such as "2.0-beta" or
// "nightly". A keyword must stand alone, optionally numbered ("rc2").
var prereleaseMarkers = regexp.MustCompile(
	`(?i)(?:^|[^a-z])(?:alpha|beta|rc|dev|pre|prerelease|preview|snapshot|nightly|canary)\d*(?:$|[^a-z])`)

// IsPrerelease reports whether version looks like a pre-release build.
// Valid semver is judged by its pre-release component; anything else
// falls back to keyword matching.
func IsPrerelease(version string) bool {
	version = strings.TrimSpace(version)
	if version == "" {
		return false
	}
	if v, err := semver.NewVersion(version); err == nil {
		if v.Prerelease() != "" {
			return true
		}
		// 0.0.x builds are treated as unreleased snapshots
		return v.Major() == 0 && v.Minor() == 0
	}
	return prereleaseMarkers.MatchString(version)
}
