package calendar

import "strings"

// ParseID splits an external calendar id on its first colon.
func ParseID(id string) (protocol, location string, err error) {
	idx := strings.Index(id, ":")
	switch {
	case idx < 0:
		return "", "", NewError(KindMalformedIdentifier, "invalid external calendar id %q: missing protocol separator", id)
	case idx == 0:
		return "", "", NewError(KindMalformedIdentifier, "invalid external calendar id %q: empty protocol", id)
	case idx == len(id)-1:
		return "", "", NewError(KindMalformedIdentifier, "invalid external calendar id %q: empty location", id)
	}
	return id[:idx], id[idx+1:], nil
}

// FormatID joins protocol and location into an external calendar id.
func FormatID(protocol, location string) string {
	return protocol + ":" + location
}
