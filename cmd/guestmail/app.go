package main

import (
	"context"
	"fmt"
	"time"

	"guestmail/internal/config"
	"guestmail/internal/filter"
	"guestmail/internal/knowledge"
	"guestmail/internal/ledger"
	"guestmail/internal/links"
	"guestmail/internal/listing"
	"guestmail/internal/mail"
	"guestmail/internal/metrics"
	"guestmail/internal/poller"
	"guestmail/internal/provider"
	"guestmail/internal/responder"
)

// app is the fully wired pipeline used by `run`.
type app struct {
	ledger *ledger.Ledger
	poller *poller.Poller
}

func (a *app) Close() error {
	return a.ledger.Close()
}

// buildApp wires every component. Any error here is fatal: the poller never
// starts without credentials, the knowledge index and the catalog.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := config.RequireCredentials(cfg); err != nil {
		return nil, err
	}

	factory := provider.NewFactory(cfg, logger)
	embedder := factory.Embedder()

	index, err := knowledge.Load(ctx, cfg.Knowledge.IndexPath, embedder, logger)
	if err != nil {
		return nil, err
	}
	if err := index.Verify(ctx); err != nil {
		return nil, err
	}

	catalog, err := listing.LoadCatalog(cfg.Listings.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("listings catalog: %w", err)
	}
	matcher := listing.NewMatcher(listing.MatcherConfig{
		Catalog:         catalog,
		FallbackBaseURL: cfg.Listings.FallbackBaseURL,
		MaxMatches:      cfg.Listings.MaxMatches,
	})

	gen, err := factory.Generator()
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	resp := responder.New(responder.Config{
		Retriever:    index,
		Listings:     matcher,
		Links:        links.NewGenerator(cfg.Links.SearchBaseURL, cfg.Links.City),
		Provider:     gen,
		Persona:      cfg.Generation.SystemPrompt,
		TopK:         cfg.Knowledge.TopK,
		Areas:        cfg.Links.Areas,
		City:         cfg.Listings.City,
		MinGuests:    cfg.Listings.MinGuests,
		CheckinDays:  cfg.Links.CheckinOffsetDays,
		CheckoutDays: cfg.Links.CheckoutOffsetDays,
		Party:        partyOf(cfg.Links),
		Model:        cfg.Generation.Model,
		Temperature:  cfg.Generation.Temperature,
		MaxTokens:    cfg.Generation.MaxTokens,
		Logger:       logger.With("component", "responder"),
	})

	screen, err := newFilter(cfg)
	if err != nil {
		return nil, err
	}

	led, err := ledger.Open(cfg.Ledger.DBPath, logger)
	if err != nil {
		return nil, err
	}

	sched, err := poller.NewSchedule(scheduleConfig(cfg.Poll))
	if err != nil {
		led.Close()
		return nil, err
	}

	p := poller.New(poller.Config{
		Mailbox:     newMailbox(cfg.Mail),
		Sender:      newSender(cfg.Mail),
		Generator:   resp,
		Ledger:      led,
		Screener:    screen,
		Schedule:    sched,
		Workers:     cfg.Poll.Workers,
		MaxAttempts: cfg.Poll.MaxAttempts,
		Metrics:     metrics.NewCollector("guestmail"),
		MetricsPath: cfg.Metrics.TextfilePath,
		Logger:      logger.With("component", "poller"),
	})

	logger.Info("pipeline ready",
		"passages", index.Len(),
		"listings", matcher.Len(),
		"provider", gen.Name(),
		"mailbox", cfg.Mail.Address,
	)
	return &app{ledger: led, poller: p}, nil
}

func newMailbox(m config.MailConfig) *mail.Mailbox {
	return mail.NewMailbox(mail.MailboxConfig{
		Addr:     m.IMAPAddr,
		Username: m.Address,
		Password: m.Password,
		Mailbox:  m.Mailbox,
		Logger:   logger.With("component", "imap"),
	})
}

func newSender(m config.MailConfig) *mail.Sender {
	return mail.NewSender(mail.SenderConfig{
		Addr:     m.SMTPAddr,
		Username: m.Address,
		Password: m.Password,
		From:     mail.Identity{Name: m.FromName, Address: m.Address},
		Logger:   logger.With("component", "smtp"),
	})
}

func newFilter(cfg *config.Config) (*filter.Filter, error) {
	f, err := filter.New(filter.Config{
		Self:             cfg.Mail.Address,
		IgnoreSenders:    cfg.Filter.IgnoreSenders,
		AllowSenders:     cfg.Filter.AllowSenders,
		ReplyToAutomated: cfg.Filter.ReplyToAutomated,
		Logger:           logger.With("component", "filter"),
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return f, nil
}

func partyOf(l config.LinksConfig) links.Party {
	return links.Party{Adults: l.Adults, Children: l.Children, Infants: l.Infants, Pets: l.Pets}
}

func scheduleConfig(p config.PollConfig) poller.ScheduleConfig {
	return poller.ScheduleConfig{
		Interval:   time.Duration(p.IntervalSeconds) * time.Second,
		Jitter:     time.Duration(p.JitterSeconds) * time.Second,
		Cron:       p.Cron,
		MaxBackoff: time.Duration(p.MaxBackoffSeconds) * time.Second,
	}
}
