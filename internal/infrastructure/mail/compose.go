package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

// Sender identifies the From address of outbound mail.
type Sender struct {
	Address string
	Name    string
}

// Compose renders msg as a single-part UTF-8 text/plain message. The
// Message-ID and threading headers are written bracketed regardless of how
// the caller stored them.
func Compose(from Sender, msg domain.OutboundMessage, date time.Time) ([]byte, error) {
	if strings.TrimSpace(from.Address) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compose mail", errors.New("sender address is required"))
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compose mail", errors.New("recipient is required"))
	}
	messageID := BareMessageID(msg.MessageID)
	if messageID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compose mail", errors.New("message id is required"))
	}

	var h gomail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*gomail.Address{{Name: from.Name, Address: from.Address}})
	h.SetAddressList("To", []*gomail.Address{{Address: strings.TrimSpace(msg.To)}})
	h.SetSubject(msg.Subject)
	h.SetMessageID(messageID)
	if inReplyTo := BareMessageID(msg.InReplyTo); inReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{inReplyTo})
	}
	if refs := bareIDs(msg.References); len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

// BareMessageID strips angle brackets and surrounding whitespace.
func BareMessageID(id string) string {
	return strings.Trim(id, "<> \t\r\n")
}

func bareIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		for _, id := range strings.Fields(raw) {
			if id = BareMessageID(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
