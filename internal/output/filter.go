package output

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rcourtman/fabricpulse/internal/models"
)

// UsageFilter excludes interfaces whose usage classification matches any of
// its deny patterns. A nil or empty filter excludes nothing.
type UsageFilter struct {
	patterns []*regexp.Regexp
}

// NewUsageFilter compiles the deny-list. Blank patterns are ignored.
func NewUsageFilter(patterns []string) (*UsageFilter, error) {
	f := &UsageFilter{}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid usage pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Excludes reports whether usage matches a deny pattern.
func (f *UsageFilter) Excludes(usage string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(usage) {
			return true
		}
	}
	return false
}

// Apply returns the interfaces that survive the filter, preserving order.
func (f *UsageFilter) Apply(ifaces []*models.Interface) []*models.Interface {
	kept := make([]*models.Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if !f.Excludes(iface.Usage) {
			kept = append(kept, iface)
		}
	}
	return kept
}

// Len returns the number of deny patterns.
func (f *UsageFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.patterns)
}
