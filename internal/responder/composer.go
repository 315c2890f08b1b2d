package responder

import (
	"fmt"
	"strings"

	"guestmail/internal/domain"
	"guestmail/internal/links"
)

// DefaultPersona is the role instruction that opens every system prompt.
const DefaultPersona = `You are a friendly, professional and detail-oriented guest experience assistant for a short-term rental company in Cairo, Egypt.

Always help with questions about vacation stays, Airbnb-style bookings and guest policies.

Only decline a question when it is completely unrelated to travel (for example programming or politics).

Use the knowledge base provided to answer clearly and accurately. Be warm and helpful.`

const suggestionsIntro = "Here are some great options for you:"

// RetrievalContext is everything gathered for one inquiry before generation.
// It is built fresh per inquiry and never reused.
type RetrievalContext struct {
	Snippets []domain.Snippet
	Links    []links.AreaLink
	Listings []string
}

// Composer renders a RetrievalContext into the system instruction.
type Composer struct {
	persona string
}

// NewComposer returns a composer using persona, or DefaultPersona when empty.
func NewComposer(persona string) *Composer {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	return &Composer{persona: persona}
}

// Compose concatenates, in order: the persona, the snippets joined by blank
// lines in retrieval order, the area links in declared order, and the
// listing suggestions. The suggestions block is the empty string when no
// listings matched.
func (c *Composer) Compose(rc RetrievalContext) string {
	snippets := make([]string, len(rc.Snippets))
	for i, s := range rc.Snippets {
		snippets[i] = s.Content
	}

	areaLinks := make([]string, len(rc.Links))
	for i, l := range rc.Links {
		areaLinks[i] = fmt.Sprintf("[Explore %s](%s)", l.Area, l.URL)
	}

	return fmt.Sprintf("%s\n\nUse this context if helpful:\n%s\n\n%s\n%s",
		c.persona,
		strings.Join(snippets, "\n\n"),
		strings.Join(areaLinks, "\n"),
		suggestions(rc.Listings),
	)
}

// Messages returns the two-turn conversation sent to the provider: the
// composed instruction as system context and the inquiry as the user turn.
func (c *Composer) Messages(query string, rc RetrievalContext) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: c.Compose(rc)},
		{Role: domain.RoleUser, Content: query},
	}
}

func suggestions(listings []string) string {
	if len(listings) == 0 {
		return ""
	}
	return "\n\n" + suggestionsIntro + "\n" + strings.Join(listings, "\n")
}
