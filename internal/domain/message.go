package domain

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Inquiry is an unread mailbox message reduced to what the reply pipeline needs.
type Inquiry struct {
	Handle    uint32 // mailbox UID, only meaningful to the gateway that produced it
	MessageID string
	From      string // bare sender address
	Subject   string
	Body      string // decoded plain text
	Date      time.Time
	Automated string // header marking the message as machine generated, empty for people
}

// Key identifies the inquiry in the reply ledger. The Message-ID header is
// used when present; otherwise a digest of sender, subject, date and body.
func (i Inquiry) Key() string {
	if id := strings.TrimSpace(i.MessageID); id != "" {
		return id
	}
	h := sha256.New()
	for _, field := range []string{i.From, i.Subject, i.Date.UTC().Format(time.RFC3339), i.Body} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("sha256:%x", sum[:16])
}

// Reply is the outbound answer to one inquiry.
type Reply struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

// ReplySubject prefixes the original subject to mark the message as a reply.
func ReplySubject(subject string) string {
	return "Re: " + subject
}

// NewReply builds the reply addressed to the inquiry's sender.
func NewReply(inq Inquiry, body string) Reply {
	return Reply{
		To:        inq.From,
		Subject:   ReplySubject(inq.Subject),
		Body:      body,
		InReplyTo: inq.MessageID,
	}
}
