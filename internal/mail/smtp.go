package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"guestmail/internal/domain"
)

// Sender delivers replies over SMTP, one connection per message. Port 465
// uses implicit TLS; anything else is upgraded with STARTTLS.
type Sender struct {
	addr     string
	username string
	password string
	from     Identity
	dial     func(addr string) (*smtp.Client, error)
	now      func() time.Time
	logger   *slog.Logger
}

type SenderConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     Identity
	Logger   *slog.Logger
}

func NewSender(cfg SenderConfig) *Sender {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sender{
		addr:     cfg.Addr,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		dial:     dialSecure,
		now:      time.Now,
		logger:   cfg.Logger,
	}
}

func dialSecure(addr string) (*smtp.Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	tlsCfg := &tls.Config{ServerName: host}
	if port == "465" {
		return smtp.DialTLS(addr, tlsCfg)
	}
	return smtp.DialStartTLS(addr, tlsCfg)
}

// Deliver sends r as a single plain-text message.
func (s *Sender) Deliver(ctx context.Context, r domain.Reply) error {
	msg, err := BuildReply(s.from, r, s.now())
	if err != nil {
		return err
	}

	c, err := s.dial(s.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.SendMail(s.from.Address, []string{r.To}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", r.To, err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit", "error", err)
	}

	s.logger.Debug("reply delivered", "to", r.To, "bytes", len(msg))
	return nil
}

// Check connects and authenticates without sending anything.
func (s *Sender) Check(ctx context.Context) error {
	c, err := s.dial(s.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	return c.Quit()
}
