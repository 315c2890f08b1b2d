package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"guestmail/internal/domain"
)

// Fetched is one unread message as retrieved. Err is set, and Inquiry left
// empty, when the message could not be decoded.
type Fetched struct {
	Handle  uint32
	Inquiry domain.Inquiry
	Err     error
}

// Mailbox retrieves unread inquiries over IMAP with implicit TLS. Every call
// opens, authenticates and closes its own session.
type Mailbox struct {
	addr     string
	username string
	password string
	mailbox  string
	logger   *slog.Logger
}

type MailboxConfig struct {
	Addr     string // host:port, implicit TLS
	Username string
	Password string
	Mailbox  string // default: INBOX
	Logger   *slog.Logger
}

func NewMailbox(cfg MailboxConfig) *Mailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mailbox{
		addr:     cfg.Addr,
		username: cfg.Username,
		password: cfg.Password,
		mailbox:  cfg.Mailbox,
		logger:   cfg.Logger,
	}
}

// session dials, logs in and selects the mailbox. The returned function logs
// out. Cancelling ctx closes the connection under any command in flight.
func (m *Mailbox) session(ctx context.Context) (*imapclient.Client, func(), error) {
	c, err := imapclient.DialTLS(m.addr, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("imap dial %s: %w", m.addr, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	closeFn := func() {
		close(done)
		if err := c.Logout().Wait(); err != nil {
			m.logger.Debug("imap logout", "error", err)
		}
		c.Close()
	}

	if err := c.Login(m.username, m.password).Wait(); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.mailbox, nil).Wait(); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("imap select %s: %w", m.mailbox, err)
	}
	return c, closeFn, nil
}

// Check logs in and selects the mailbox.
func (m *Mailbox) Check(ctx context.Context) error {
	_, closeFn, err := m.session(ctx)
	if err != nil {
		return err
	}
	closeFn()
	return nil
}

// FetchUnread returns every message without the \Seen flag. Bodies are read
// with BODY.PEEK so fetching never changes read state.
func (m *Mailbox) FetchUnread(ctx context.Context) ([]Fetched, error) {
	c, closeFn, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	search, err := c.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := search.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	out := make([]Fetched, 0, len(msgs))
	for _, msg := range msgs {
		handle := uint32(msg.UID)
		raw := msg.FindBodySection(section)
		if raw == nil {
			out = append(out, Fetched{Handle: handle, Err: fmt.Errorf("%w: empty body section", ErrUndecodable)})
			continue
		}
		inq, err := ParseInquiry(handle, raw)
		out = append(out, Fetched{Handle: handle, Inquiry: inq, Err: err})
	}

	m.logger.Debug("fetched unread", "mailbox", m.mailbox, "count", len(out))
	return out, nil
}

// Settle flags answered messages \Seen \Answered and abandoned ones \Seen,
// in a single session.
func (m *Mailbox) Settle(ctx context.Context, answered, abandoned []uint32) error {
	if len(answered) == 0 && len(abandoned) == 0 {
		return nil
	}
	c, closeFn, err := m.session(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store(c, answered, imap.FlagSeen, imap.FlagAnswered); err != nil {
		return fmt.Errorf("flag answered: %w", err)
	}
	if err := store(c, abandoned, imap.FlagSeen); err != nil {
		return fmt.Errorf("flag abandoned: %w", err)
	}
	return nil
}

func store(c *imapclient.Client, handles []uint32, flags ...imap.Flag) error {
	if len(handles) == 0 {
		return nil
	}
	uids := make([]imap.UID, len(handles))
	for i, h := range handles {
		uids[i] = imap.UID(h)
	}
	return c.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil).Close()
}
