// Package filter decides which inquiries must never be answered
// automatically: our own mail, bounces, mailing lists and other
// autoresponders. Answering those risks a reply loop.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"guestmail/internal/domain"
)

type Config struct {
	Self             string   // our own address, never answered
	IgnoreSenders    []string // /regex/ or plain substring
	AllowSenders     []string // checked before IgnoreSenders and automated headers
	ReplyToAutomated bool
	Logger           *slog.Logger
}

// Filter screens inquiries by sender and by automated-mail headers.
type Filter struct {
	self             string
	ignore           []*regexp.Regexp
	allow            []*regexp.Regexp
	replyToAutomated bool
	logger           *slog.Logger
}

func New(cfg Config) (*Filter, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ignore, err := compilePatterns(cfg.IgnoreSenders)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}
	allow, err := compilePatterns(cfg.AllowSenders)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern: %w", err)
	}
	return &Filter{
		self:             strings.ToLower(strings.TrimSpace(cfg.Self)),
		ignore:           ignore,
		allow:            allow,
		replyToAutomated: cfg.ReplyToAutomated,
		logger:           cfg.Logger,
	}, nil
}

// Screen reports whether inq may be answered and, when not, why.
func (f *Filter) Screen(inq domain.Inquiry) (bool, string) {
	sender := strings.ToLower(strings.TrimSpace(inq.From))

	// Our own address loses even against the allow list.
	if f.self != "" && sender == f.self {
		return false, "sent from our own address"
	}

	for _, re := range f.allow {
		if re.MatchString(sender) {
			return true, ""
		}
	}

	for _, re := range f.ignore {
		if re.MatchString(sender) {
			f.logger.Debug("sender ignored", "sender", sender, "pattern", re.String())
			return false, "sender matches " + re.String()
		}
	}

	if inq.Automated != "" && !f.replyToAutomated {
		return false, "automated message (" + inq.Automated + ")"
	}
	return true, ""
}

// compilePatterns compiles /slash-wrapped/ patterns as regexes and
// everything else as a literal substring. Both match case-insensitively.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := regexp.QuoteMeta(strings.TrimSpace(p))
		if body, ok := regexBody(p); ok {
			expr = body
		}
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func regexBody(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if len(p) >= 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
		return p[1 : len(p)-1], true
	}
	return "", false
}
