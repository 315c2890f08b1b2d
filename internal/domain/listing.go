package domain

// Listing is one bookable unit from the static catalog.
type Listing struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	CityHint string  `json:"city_hint"`
	Guests   int     `json:"guests"`
	Rating   float64 `json:"rating"`
	URL      string  `json:"url,omitempty"`
}
