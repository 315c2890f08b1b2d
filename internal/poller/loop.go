// Package poller drives the inquiry-to-reply pipeline: fetch unread mail,
// generate a reply for each message, deliver it, and settle read state.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"guestmail/internal/domain"
	"guestmail/internal/ledger"
	"guestmail/internal/mail"
	"guestmail/internal/metrics"
)

const settleTimeout = 30 * time.Second

// Mailbox fetches unread inquiries and updates their flags afterwards.
type Mailbox interface {
	FetchUnread(ctx context.Context) ([]mail.Fetched, error)
	Settle(ctx context.Context, answered, abandoned []uint32) error
}

type Sender interface {
	Deliver(ctx context.Context, r domain.Reply) error
}

// Generator turns an inquiry body into reply text.
type Generator interface {
	Generate(ctx context.Context, body string) (string, error)
}

// Screener vetoes messages that must not get an automatic reply.
type Screener interface {
	Screen(inq domain.Inquiry) (bool, string)
}

// Ledger remembers replies and failed attempts across cycles.
type Ledger interface {
	State(ctx context.Context, key string) (ledger.State, error)
	RecordReply(ctx context.Context, inq domain.Inquiry) error
	RecordFailure(ctx context.Context, key, sender, subject string, cause error) (int, error)
	MarkAbandoned(ctx context.Context, key string) error
	RecordCycle(ctx context.Context, c ledger.Cycle) error
}

// Config wires the poller's collaborators.
type Config struct {
	Mailbox     Mailbox
	Sender      Sender
	Generator   Generator
	Ledger      Ledger
	Screener    Screener // optional
	Schedule    *Schedule
	Workers     int // concurrent messages per cycle, default 1
	MaxAttempts int // failures before a message is abandoned, 0 = never
	Metrics     *metrics.Collector
	MetricsPath string // Prometheus textfile rewritten after each cycle
	Now         func() time.Time
	Logger      *slog.Logger
}

// Poller runs poll cycles. A failure while handling one message never stops
// the others or the loop.
type Poller struct {
	mailbox     Mailbox
	sender      Sender
	generator   Generator
	ledger      Ledger
	screener    Screener
	schedule    *Schedule
	workers     int
	maxAttempts int
	collector   *metrics.Collector
	stats       *metrics.Pipeline
	metricsPath string
	now         func() time.Time
	logger      *slog.Logger
}

func New(cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector("guestmail")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Schedule == nil {
		cfg.Schedule, _ = NewSchedule(ScheduleConfig{})
	}
	return &Poller{
		mailbox:     cfg.Mailbox,
		sender:      cfg.Sender,
		generator:   cfg.Generator,
		ledger:      cfg.Ledger,
		screener:    cfg.Screener,
		schedule:    cfg.Schedule,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		collector:   cfg.Metrics,
		stats:       metrics.NewPipeline(cfg.Metrics),
		metricsPath: cfg.MetricsPath,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "schedule", p.schedule.String(), "workers", p.workers)

	failures := 0
	for {
		_, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return nil
		}
		if err != nil {
			failures++
		} else {
			failures = 0
		}

		wait := p.schedule.Next(p.now(), failures)
		p.logger.Debug("next poll scheduled", "in", wait, "consecutive_failures", failures)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poller stopped")
			return nil
		case <-timer.C:
		}
	}
}

type outcome int

const (
	outcomeNone outcome = iota // not attempted, stays unread
	outcomeReplied
	outcomeFailed
	outcomeSkipped
	outcomeAbandoned
)

type result struct {
	handle  uint32
	outcome outcome
	settle  outcome // outcomeReplied: mark answered, outcomeAbandoned: mark seen
}

// RunOnce runs a single cycle and returns its summary. The error is non-nil
// only when the mailbox could not be fetched.
func (p *Poller) RunOnce(ctx context.Context) (ledger.Cycle, error) {
	cycle := ledger.Cycle{ID: uuid.NewString(), StartedAt: p.now()}
	log := p.logger.With("cycle", cycle.ID)
	p.stats.Cycles.Inc()
	defer metrics.ObserveSince(p.stats.CycleDuration, time.Now())

	fetched, err := p.mailbox.FetchUnread(ctx)
	if err != nil {
		log.Error("fetch unread failed", "error", err)
		cycle.Err = err.Error()
		p.stats.CycleErrors.Inc()
		p.finish(ctx, log, cycle)
		return cycle, fmt.Errorf("fetch unread: %w", err)
	}
	cycle.Fetched = len(fetched)
	p.stats.Fetched.Add(int64(len(fetched)))
	p.stats.LastSuccess.Set(p.now().Unix())
	if len(fetched) > 0 {
		log.Info("fetched unread messages", "count", len(fetched))
	}

	results := make([]result, len(fetched))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, f := range fetched {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = result{handle: f.Handle}
				return nil
			}
			results[i] = p.handle(ctx, log, f)
			return nil
		})
	}
	g.Wait()

	var answered, abandoned []uint32
	for _, r := range results {
		switch r.outcome {
		case outcomeReplied:
			cycle.Replied++
		case outcomeFailed:
			cycle.Failed++
		case outcomeSkipped:
			cycle.Skipped++
		case outcomeAbandoned:
			cycle.Abandoned++
		}
		switch r.settle {
		case outcomeReplied:
			answered = append(answered, r.handle)
		case outcomeAbandoned:
			abandoned = append(abandoned, r.handle)
		}
	}

	if len(answered) > 0 || len(abandoned) > 0 {
		// Replies already went out, so flags are set even when ctx is done.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		if err := p.mailbox.Settle(sctx, answered, abandoned); err != nil {
			log.Error("settle flags failed", "answered", len(answered), "abandoned", len(abandoned), "error", err)
			cycle.Err = "settle: " + err.Error()
			p.stats.CycleErrors.Inc()
		}
		cancel()
	}

	p.finish(ctx, log, cycle)
	return cycle, nil
}

func (p *Poller) finish(ctx context.Context, log *slog.Logger, cycle ledger.Cycle) {
	cycle.FinishedAt = p.now()
	if err := p.ledger.RecordCycle(context.WithoutCancel(ctx), cycle); err != nil {
		log.Warn("record cycle failed", "error", err)
	}
	if cycle.Fetched > 0 || cycle.Err != "" {
		log.Info("poll cycle finished",
			"fetched", cycle.Fetched,
			"replied", cycle.Replied,
			"failed", cycle.Failed,
			"skipped", cycle.Skipped,
			"abandoned", cycle.Abandoned,
			"duration", cycle.FinishedAt.Sub(cycle.StartedAt),
		)
	}
	if p.metricsPath != "" {
		if err := p.collector.WriteTextfile(p.metricsPath); err != nil {
			log.Warn("write metrics textfile failed", "path", p.metricsPath, "error", err)
		}
	}
}

// handle processes one fetched message: screen, ledger check, generate,
// deliver. Screened-out messages are marked seen without a ledger entry.
func (p *Poller) handle(ctx context.Context, log *slog.Logger, f mail.Fetched) result {
	if f.Err != nil {
		key := fmt.Sprintf("uid:%d", f.Handle)
		log = log.With("handle", f.Handle)
		p.stats.DecodeFails.Inc()
		return p.fail(ctx, log, f.Handle, key, "", "", f.Err)
	}

	inq := f.Inquiry
	key := inq.Key()
	log = log.With("sender", inq.From, "subject", inq.Subject, "message_id", inq.MessageID)

	if p.screener != nil {
		if ok, reason := p.screener.Screen(inq); !ok {
			log.Info("not answering", "reason", reason)
			p.stats.Ignored.Inc()
			return result{handle: f.Handle, outcome: outcomeSkipped, settle: outcomeAbandoned}
		}
	}

	st, err := p.ledger.State(ctx, key)
	if err != nil {
		log.Error("ledger lookup failed, leaving message unread", "error", err)
		return result{handle: f.Handle, outcome: outcomeFailed}
	}
	if st.Replied {
		log.Info("already replied, marking answered")
		p.stats.Skipped.Inc()
		return result{handle: f.Handle, outcome: outcomeSkipped, settle: outcomeReplied}
	}
	if st.Abandoned {
		log.Info("previously abandoned, marking seen")
		p.stats.Skipped.Inc()
		return result{handle: f.Handle, outcome: outcomeSkipped, settle: outcomeAbandoned}
	}

	start := time.Now()
	body, err := p.generator.Generate(ctx, inq.Body)
	metrics.ObserveSince(p.stats.GenerationLatency, start)
	if err != nil {
		p.stats.GenerateFails.Inc()
		return p.fail(ctx, log, f.Handle, key, inq.From, inq.Subject, fmt.Errorf("generate: %w", err))
	}

	reply := domain.NewReply(inq, body)
	if err := p.sender.Deliver(ctx, reply); err != nil {
		p.stats.DeliverFails.Inc()
		return p.fail(ctx, log, f.Handle, key, inq.From, inq.Subject, fmt.Errorf("deliver: %w", err))
	}

	if err := p.ledger.RecordReply(context.WithoutCancel(ctx), inq); err != nil {
		log.Error("reply sent but not recorded", "error", err)
	}
	p.stats.Replied.Inc()
	log.Info("reply sent", "to", reply.To)
	return result{handle: f.Handle, outcome: outcomeReplied, settle: outcomeReplied}
}

func (p *Poller) fail(ctx context.Context, log *slog.Logger, handle uint32, key, sender, subject string, cause error) result {
	ctx = context.WithoutCancel(ctx)
	attempts, err := p.ledger.RecordFailure(ctx, key, sender, subject, cause)
	if err != nil {
		log.Error("inquiry failed", "error", cause)
		log.Warn("record failure failed", "error", err)
		return result{handle: handle, outcome: outcomeFailed}
	}

	if p.maxAttempts > 0 && attempts >= p.maxAttempts {
		if err := p.ledger.MarkAbandoned(ctx, key); err != nil {
			log.Warn("mark abandoned failed", "error", err)
		}
		p.stats.Abandoned.Inc()
		log.Error("inquiry abandoned", "attempts", attempts, "error", cause)
		return result{handle: handle, outcome: outcomeAbandoned, settle: outcomeAbandoned}
	}

	log.Error("inquiry failed, will retry next cycle", "attempts", attempts, "error", cause)
	return result{handle: handle, outcome: outcomeFailed}
}
