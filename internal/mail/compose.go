package mail

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"guestmail/internal/domain"
)

// Identity is the mailbox the replies are sent from.
type Identity struct {
	Name    string
	Address string
}

// BuildReply renders a plain-text reply threaded to the inquiry it answers.
func BuildReply(from Identity, r domain.Reply, now time.Time) ([]byte, error) {
	b := enmime.Builder().
		From(from.Name, from.Address).
		To("", r.To).
		Subject(r.Subject).
		Date(now).
		Header("Message-ID", newMessageID(from.Address)).
		Text([]byte(r.Body))
	if r.InReplyTo != "" {
		b = b.Header("In-Reply-To", r.InReplyTo).Header("References", r.InReplyTo)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build reply: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return buf.Bytes(), nil
}

func newMessageID(addr string) string {
	host := "localhost"
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		host = addr[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}
