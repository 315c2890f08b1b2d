// Package responder turns an inquiry body into a reply: it gathers knowledge
// snippets, neighborhood links and listing suggestions, composes the system
// instruction and asks the generation provider for the answer.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guestmail/internal/domain"
	"guestmail/internal/links"
)

// ErrGeneration marks every failure of the generation call itself.
var ErrGeneration = errors.New("generation failed")

// GenerationError reports a provider failure or an empty completion.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation via %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{ErrGeneration, e.Err} }

// ListingFinder is the part of the listing matcher the responder needs.
type ListingFinder interface {
	Find(city string, minGuests int) []string
}

// Responder is safe for concurrent use; every collaborator is read-only.
type Responder struct {
	retriever domain.Retriever
	listings  ListingFinder
	links     *links.Generator
	composer  *Composer
	provider  domain.Provider

	topK         int
	areas        []string
	city         string
	minGuests    int
	checkinDays  int
	checkoutDays int
	party        links.Party

	model       string
	temperature float64
	maxTokens   int

	now    func() time.Time
	logger *slog.Logger
}

type Config struct {
	Retriever domain.Retriever
	Listings  ListingFinder
	Links     *links.Generator
	Provider  domain.Provider
	Persona   string // empty uses DefaultPersona

	TopK         int
	Areas        []string // rendered in this order
	City         string   // listing filter
	MinGuests    int
	CheckinDays  int
	CheckoutDays int
	Party        links.Party

	Model       string
	Temperature float64
	MaxTokens   int

	Now    func() time.Time // defaults to time.Now
	Logger *slog.Logger
}

func New(cfg Config) *Responder {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Party == (links.Party{}) {
		cfg.Party = links.DefaultParty
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Responder{
		retriever:    cfg.Retriever,
		listings:     cfg.Listings,
		links:        cfg.Links,
		composer:     NewComposer(cfg.Persona),
		provider:     cfg.Provider,
		topK:         cfg.TopK,
		areas:        cfg.Areas,
		city:         cfg.City,
		minGuests:    cfg.MinGuests,
		checkinDays:  cfg.CheckinDays,
		checkoutDays: cfg.CheckoutDays,
		party:        cfg.Party,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
}

// Prepare gathers the retrieval context for one inquiry without calling the
// generation provider.
func (r *Responder) Prepare(ctx context.Context, body string) (RetrievalContext, error) {
	window := links.WindowFrom(r.now(), r.checkinDays, r.checkoutDays)

	snippets, err := r.retriever.Retrieve(ctx, body, r.topK)
	if err != nil {
		return RetrievalContext{}, fmt.Errorf("retrieve knowledge: %w", err)
	}

	return RetrievalContext{
		Snippets: snippets,
		Links:    r.links.Links(r.areas, window, r.party),
		Listings: r.listings.Find(r.city, r.minGuests),
	}, nil
}

// Generate produces the reply text for an inquiry body. Retrieval failures
// are returned as is; provider failures and empty completions as
// *GenerationError.
func (r *Responder) Generate(ctx context.Context, body string) (string, error) {
	rc, err := r.Prepare(ctx, body)
	if err != nil {
		return "", err
	}

	req := domain.ChatRequest{
		Messages:    r.composer.Messages(body, rc),
		Model:       r.model,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}

	resp, err := r.provider.Chat(ctx, req)
	if err != nil {
		return "", &GenerationError{Provider: r.provider.Name(), Err: err}
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", &GenerationError{Provider: r.provider.Name(), Err: errors.New("no completion returned")}
	}

	r.logger.Debug("reply generated",
		"snippets", len(rc.Snippets),
		"listings", len(rc.Listings),
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return reply, nil
}
