// Package listing loads the static listings catalog and matches entries
// against a location and party size.
package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"guestmail/internal/domain"
)

// flexID accepts both JSON strings and numbers for listing identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// rawListing mirrors the catalog file. Pointers distinguish absent fields
// from zero values.
type rawListing struct {
	ID       *flexID  `json:"id"`
	Name     *string  `json:"name"`
	CityHint *string  `json:"city_hint"`
	Guests   *int     `json:"guests"`
	Rating   *float64 `json:"rating"`
	URL      *string  `json:"url"`
}

// LoadCatalog reads a JSON array of listings. Every entry must carry id,
// name, city_hint, guests and rating; url is optional.
func LoadCatalog(path string) ([]domain.Listing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog bytes, preserving entry order.
func ParseCatalog(data []byte) ([]domain.Listing, error) {
	var raws []rawListing
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	out := make([]domain.Listing, 0, len(raws))
	for i, r := range raws {
		var missing []string
		if r.ID == nil {
			missing = append(missing, "id")
		}
		if r.Name == nil {
			missing = append(missing, "name")
		}
		if r.CityHint == nil {
			missing = append(missing, "city_hint")
		}
		if r.Guests == nil {
			missing = append(missing, "guests")
		}
		if r.Rating == nil {
			missing = append(missing, "rating")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("catalog entry %d: missing %s", i, strings.Join(missing, ", "))
		}

		l := domain.Listing{
			ID:       string(*r.ID),
			Name:     *r.Name,
			CityHint: *r.CityHint,
			Guests:   *r.Guests,
			Rating:   *r.Rating,
		}
		if r.URL != nil {
			l.URL = *r.URL
		}
		out = append(out, l)
	}
	return out, nil
}
