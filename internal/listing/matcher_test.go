package listing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guestmail/internal/domain"
)

const fallbackBase = "https://example.com/listings/"

func newTestMatcher(catalog []domain.Listing) *Matcher {
	return NewMatcher(MatcherConfig{Catalog: catalog, FallbackBaseURL: fallbackBase})
}

func TestFind_SingleMatch(t *testing.T) {
	m := newTestMatcher([]domain.Listing{
		{ID: "42", Name: "Nile View Loft", CityHint: "Cairo", Guests: 6, Rating: 4.9},
	})

	got := m.Find("Cairo", 5)
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if !strings.Contains(got[0], "Nile View Loft") || !strings.Contains(got[0], "4.9") {
		t.Fatalf("unexpected format: %q", got[0])
	}
	if !strings.HasSuffix(got[0], fallbackBase+"42") {
		t.Fatalf("expected synthesized url, got %q", got[0])
	}
}

func TestFind_NoMatchIsEmptyNotNil(t *testing.T) {
	m := newTestMatcher([]domain.Listing{
		{ID: "1", Name: "Small Studio", CityHint: "Cairo", Guests: 2, Rating: 4.5},
		{ID: "2", Name: "Beach House", CityHint: "Alexandria", Guests: 8, Rating: 4.7},
	})

	got := m.Find("Cairo", 5)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", got)
	}
}

func TestFind_CaseInsensitiveCity(t *testing.T) {
	m := newTestMatcher([]domain.Listing{
		{ID: "1", Name: "A", CityHint: "CAIRO", Guests: 5, Rating: 4},
		{ID: "2", Name: "B", CityHint: "cairo", Guests: 5, Rating: 4},
	})
	if got := m.Find("Cairo", 5); len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
}

func TestFind_FirstEncounteredNotHighestRated(t *testing.T) {
	catalog := []domain.Listing{
		{ID: "1", Name: "First", CityHint: "Cairo", Guests: 5, Rating: 3.1},
		{ID: "2", Name: "Too Small", CityHint: "Cairo", Guests: 4, Rating: 5},
		{ID: "3", Name: "Second", CityHint: "Cairo", Guests: 6, Rating: 3.2},
		{ID: "4", Name: "Elsewhere", CityHint: "Giza", Guests: 9, Rating: 5},
		{ID: "5", Name: "Third", CityHint: "Cairo", Guests: 10, Rating: 3.3},
		{ID: "6", Name: "Best Rated", CityHint: "Cairo", Guests: 10, Rating: 5},
	}
	m := newTestMatcher(catalog)

	got := m.Find("Cairo", 5)
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	for i, name := range []string{"First", "Second", "Third"} {
		if !strings.HasPrefix(got[i], name+" ") {
			t.Fatalf("match %d = %q, want %s", i, got[i], name)
		}
	}
}

func TestFind_ResultsArePrefixOfFilteredCatalog(t *testing.T) {
	catalog := []domain.Listing{
		{ID: "a", Name: "A", CityHint: "Cairo", Guests: 1, Rating: 4},
		{ID: "b", Name: "B", CityHint: "Cairo", Guests: 3, Rating: 4},
		{ID: "c", Name: "C", CityHint: "Luxor", Guests: 3, Rating: 4},
		{ID: "d", Name: "D", CityHint: "cairo", Guests: 7, Rating: 4},
		{ID: "e", Name: "E", CityHint: "Cairo", Guests: 2, Rating: 4},
	}
	m := newTestMatcher(catalog)

	for n := 0; n <= 8; n++ {
		var want []string
		for _, l := range catalog {
			if strings.EqualFold(l.CityHint, "Cairo") && l.Guests >= n {
				want = append(want, m.Format(l))
			}
		}
		if len(want) > 3 {
			want = want[:3]
		}

		got := m.Find("Cairo", n)
		if len(got) != len(want) {
			t.Fatalf("n=%d: got %d matches, want %d", n, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("n=%d: match %d = %q, want %q", n, i, got[i], want[i])
			}
		}
	}
}

func TestFormat_ExplicitURL(t *testing.T) {
	m := newTestMatcher(nil)
	got := m.Format(domain.Listing{ID: "9", Name: "Garden Flat", Rating: 5, URL: "https://stay.example/garden"})
	want := "Garden Flat (⭐ 5.0)\nhttps://stay.example/garden"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormat_Rating(t *testing.T) {
	for rating, want := range map[float64]string{
		5:    "5.0",
		4.9:  "4.9",
		4.85: "4.85",
		0:    "0.0",
	} {
		if got := formatRating(rating); got != want {
			t.Errorf("formatRating(%v) = %q, want %q", rating, got, want)
		}
	}
}

func TestNewMatcher_DefaultLimit(t *testing.T) {
	var catalog []domain.Listing
	for i := 0; i < 10; i++ {
		catalog = append(catalog, domain.Listing{ID: "x", Name: "X", CityHint: "Cairo", Guests: 6, Rating: 4})
	}
	if got := newTestMatcher(catalog).Find("Cairo", 1); len(got) != DefaultMaxMatches {
		t.Fatalf("expected %d matches, got %d", DefaultMaxMatches, len(got))
	}
}

// --- Catalog ---

func TestParseCatalog_PreservesOrderAndOptionalURL(t *testing.T) {
	data := []byte(`[
		{"id": 101, "name": "One", "city_hint": "Cairo", "guests": 4, "rating": 4.8},
		{"id": "b-2", "name": "Two", "city_hint": "Giza", "guests": 2, "rating": 4.1, "url": "https://x.example/2"}
	]`)
	got, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(got))
	}
	if got[0].ID != "101" || got[0].URL != "" {
		t.Fatalf("unexpected first listing: %+v", got[0])
	}
	if got[1].ID != "b-2" || got[1].URL != "https://x.example/2" {
		t.Fatalf("unexpected second listing: %+v", got[1])
	}
}

func TestParseCatalog_MissingRequiredField(t *testing.T) {
	_, err := ParseCatalog([]byte(`[{"id": 1, "name": "No City", "guests": 2, "rating": 4}]`))
	if err == nil || !strings.Contains(err.Error(), "city_hint") {
		t.Fatalf("expected missing city_hint error, got %v", err)
	}
}

func TestLoadCatalog_Unreadable(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing catalog")
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	os.WriteFile(path, []byte(`[{"id": 7, "name": "Seven", "city_hint": "Cairo", "guests": 6, "rating": 4.6}]`), 0o644)

	got, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Seven" {
		t.Fatalf("unexpected catalog: %+v", got)
	}
}
