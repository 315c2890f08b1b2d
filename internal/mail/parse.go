// Package mail is the mailbox gateway: IMAP retrieval of unread inquiries,
// MIME decoding, and SMTP delivery of replies.
package mail

import (
	"bytes"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"guestmail/internal/domain"
)

// ErrUndecodable means a fetched message could not be turned into an inquiry.
var ErrUndecodable = errors.New("undecodable message")

// ParseInquiry decodes a raw RFC 5322 message. The body is the first
// text/plain part in depth-first order that is not an attachment; later
// plain-text parts are ignored. Messages without one fall back to the text
// enmime derives from the HTML part.
func ParseInquiry(handle uint32, raw []byte) (domain.Inquiry, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return domain.Inquiry{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	from, err := senderAddress(env)
	if err != nil {
		return domain.Inquiry{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	inq := domain.Inquiry{
		Handle:    handle,
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		From:      from,
		Subject:   ensureUTF8(strings.TrimSpace(env.GetHeader("Subject"))),
		Body:      ensureUTF8(plainBody(env)),
		Automated: automatedReason(env),
	}
	if d, err := netmail.ParseDate(env.GetHeader("Date")); err == nil {
		inq.Date = d
	}
	return inq, nil
}

func senderAddress(env *enmime.Envelope) (string, error) {
	addrs, err := env.AddressList("From")
	if err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		return addrs[0].Address, nil
	}
	// enmime rejects some sloppy headers that net/mail still accepts.
	if a, perr := netmail.ParseAddress(env.GetHeader("From")); perr == nil && a.Address != "" {
		return a.Address, nil
	}
	if err == nil {
		err = errors.New("no sender address")
	}
	return "", fmt.Errorf("from header: %w", err)
}

func plainBody(env *enmime.Envelope) string {
	if env.Root != nil {
		part := env.Root.DepthMatchFirst(func(p *enmime.Part) bool {
			return strings.EqualFold(p.ContentType, "text/plain") &&
				!strings.EqualFold(p.Disposition, "attachment")
		})
		if part != nil {
			return string(part.Content)
		}
	}
	return env.Text
}

// automatedReason names the header that marks the message as machine
// generated (RFC 3834 and common list/bulk conventions), or "".
func automatedReason(env *enmime.Envelope) string {
	if v := strings.TrimSpace(env.GetHeader("Auto-Submitted")); v != "" && !strings.EqualFold(v, "no") {
		return "Auto-Submitted: " + v
	}
	switch p := strings.ToLower(strings.TrimSpace(env.GetHeader("Precedence"))); p {
	case "bulk", "list", "junk", "auto_reply":
		return "Precedence: " + p
	}
	for _, h := range []string{"List-Id", "List-Unsubscribe", "X-Autoreply", "X-Autorespond", "X-Auto-Response-Suppress"} {
		if env.GetHeader(h) != "" {
			return h
		}
	}
	return ""
}
