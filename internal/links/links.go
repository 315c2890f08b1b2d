// Package links builds booking-search deep links for neighborhoods.
package links

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Party is the guest mix encoded into a search link.
type Party struct {
	Adults   int
	Children int
	Infants  int
	Pets     int
}

// DefaultParty is two adults with nobody else.
var DefaultParty = Party{Adults: 2}

// StayWindow is the check-in/check-out pair offered with every reply.
type StayWindow struct {
	Checkin  time.Time
	Checkout time.Time
}

// WindowFrom returns the stay window that starts checkinDays after the
// calendar date of now and ends checkoutDays after it.
func WindowFrom(now time.Time, checkinDays, checkoutDays int) StayWindow {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return StayWindow{
		Checkin:  today.AddDate(0, 0, checkinDays),
		Checkout: today.AddDate(0, 0, checkoutDays),
	}
}

// Generator builds search links of the form
// <base><city>--<area>/homes?checkin=...&checkout=...&adults=...
type Generator struct {
	baseURL string
	city    string
}

func NewGenerator(baseURL, city string) *Generator {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Generator{baseURL: baseURL, city: city}
}

// Link returns the search URL for one area. It has no side effects.
func (g *Generator) Link(area string, w StayWindow, p Party) string {
	return fmt.Sprintf("%s%s--%s/homes?checkin=%s&checkout=%s&adults=%d&children=%d&infants=%d&pets=%d",
		g.baseURL, escapeSegment(g.city), escapeSegment(area),
		w.Checkin.Format(dateLayout), w.Checkout.Format(dateLayout),
		p.Adults, p.Children, p.Infants, p.Pets)
}

// AreaLink is a labeled link for one neighborhood.
type AreaLink struct {
	Area string
	URL  string
}

// Links builds one link per area, preserving the order of areas.
func (g *Generator) Links(areas []string, w StayWindow, p Party) []AreaLink {
	out := make([]AreaLink, 0, len(areas))
	for _, a := range areas {
		out = append(out, AreaLink{Area: a, URL: g.Link(a, w, p)})
	}
	return out
}

// escapeSegment percent-encodes every reserved character, spaces as %20.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
