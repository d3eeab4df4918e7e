package fingerprint

import (
	"regexp"
	"strings"
)

const (
	// UUIDPlaceholder replaces path segments that look like UUIDs
	UUIDPlaceholder = ":uuid"
	// IDPlaceholder replaces numeric and opaque identifier segments
	IDPlaceholder = ":id"
)

var (
	uuidSegmentRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	numericSegmentRe = regexp.MustCompile(`^[0-9]+$`)
	objectIDRe       = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	// slug-with-digits identifiers such as "abc-123" or "bk_20240101"
	opaqueIDRe = regexp.MustCompile(`^[A-Za-z0-9]+(?:[-_][A-Za-z0-9]+)+$`)
)

// NormalizePath collapses identifier segments so that requests addressing
// different resources of the same kind share a fingerprint. The query string,
// if any, is dropped; callers digest it separately.
func NormalizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}

	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = normalizeSegment(seg)
	}
	normalized := strings.Join(segments, "/")

	// "/bookings/" and "/bookings" address the same collection
	if len(normalized) > 1 {
		normalized = strings.TrimRight(normalized, "/")
	}
	if normalized == "" {
		return "/"
	}
	return normalized
}

func normalizeSegment(seg string) string {
	switch {
	case seg == "":
		return seg
	case uuidSegmentRe.MatchString(seg):
		return UUIDPlaceholder
	case numericSegmentRe.MatchString(seg):
		return IDPlaceholder
	case objectIDRe.MatchString(seg):
		return IDPlaceholder
	case opaqueIDRe.MatchString(seg) && containsDigit(seg):
		return IDPlaceholder
	default:
		return seg
	}
}

func containsDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return true
		}
	}
	return false
}
