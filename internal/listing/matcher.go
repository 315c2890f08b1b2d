package listing

import (
	"fmt"
	"strconv"
	"strings"

	"guestmail/internal/domain"
)

// DefaultMaxMatches is the number of suggestions offered per reply.
const DefaultMaxMatches = 3

// Matcher selects catalog entries for a city and party size. The catalog is
// read-only for the matcher's lifetime.
type Matcher struct {
	catalog    []domain.Listing
	fallback   string
	maxMatches int
}

type MatcherConfig struct {
	Catalog         []domain.Listing
	FallbackBaseURL string // prefix for listings without an explicit url
	MaxMatches      int
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = DefaultMaxMatches
	}
	return &Matcher{
		catalog:    cfg.Catalog,
		fallback:   cfg.FallbackBaseURL,
		maxMatches: cfg.MaxMatches,
	}
}

// Len reports the catalog size.
func (m *Matcher) Len() int { return len(m.catalog) }

// Find returns formatted suggestions for the first matching entries in
// catalog order. A listing matches when its city hint equals city ignoring
// case and it sleeps at least minGuests. No match yields an empty slice.
func (m *Matcher) Find(city string, minGuests int) []string {
	out := []string{}
	for _, l := range m.catalog {
		if len(out) >= m.maxMatches {
			break
		}
		if !strings.EqualFold(l.CityHint, city) || l.Guests < minGuests {
			continue
		}
		out = append(out, m.Format(l))
	}
	return out
}

// Format renders a listing as its name with star rating, then its URL.
func (m *Matcher) Format(l domain.Listing) string {
	return fmt.Sprintf("%s (⭐ %s)\n%s", l.Name, formatRating(l.Rating), m.ResolveURL(l))
}

// formatRating prints the shortest exact decimal, always with a fraction:
// 5 -> "5.0", 4.85 -> "4.85".
func formatRating(r float64) string {
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ResolveURL returns the listing's own URL or one built from its id.
func (m *Matcher) ResolveURL(l domain.Listing) string {
	if l.URL != "" {
		return l.URL
	}
	return m.fallback + l.ID
}
