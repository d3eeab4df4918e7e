package fingerprint

import (
	"fmt"
	"regexp"
	"time"

	"bookguard/util"
)

// RouteKey is the string route-class patterns are matched against
func RouteKey(method, normalizedPath string) string {
	return method + " " + normalizedPath
}

// RouteClass assigns a deduplication window to requests whose route key
// matches any of its patterns.
type RouteClass struct {
	Name     string
	Window   time.Duration
	patterns []*regexp.Regexp
}

// NewRouteClass compiles the class patterns through the safe regex validator
func NewRouteClass(name string, window time.Duration, patterns []string) (*RouteClass, error) {
	if window <= 0 {
		return nil, fmt.Errorf("route class %q: window must be positive, got %s", name, window)
	}
	compiled, err := util.SafeCompileAll(patterns)
	if err != nil {
		return nil, fmt.Errorf("route class %q: %w", name, err)
	}
	return &RouteClass{Name: name, Window: window, patterns: compiled}, nil
}

// Matches reports whether the route key matches one of the class patterns
func (rc *RouteClass) Matches(routeKey string) bool {
	for _, re := range rc.patterns {
		if re.MatchString(routeKey) {
			return true
		}
	}
	return false
}
