package mail

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

const maxBodyBytes = 1 << 20

// Parse reads one RFC 5322 message. Threading headers are kept as received;
// the body is the first text/plain part, or the first text/html part reduced
// to text when no plain part exists. Attachments are ignored.
func Parse(r io.Reader) (domain.InboundMessage, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.InboundMessage{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	msg := domain.InboundMessage{
		MessageID:  strings.TrimSpace(h.Get("Message-Id")),
		InReplyTo:  strings.TrimSpace(h.Get("In-Reply-To")),
		References: strings.Join(strings.Fields(h.Get("References")), " "),
		From:       strings.TrimSpace(h.Get("From")),
		To:         strings.TrimSpace(h.Get("To")),
	}
	if subject, err := h.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(h.Get("Subject"))
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	var plain, html string
	for plain == "" {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return domain.InboundMessage{}, fmt.Errorf("read message part: %w", err)
		}

		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			contentType = "text/plain"
		}
		switch contentType {
		case "text/plain":
			body, err := readBody(part.Body)
			if err != nil {
				return domain.InboundMessage{}, err
			}
			plain = body
		case "text/html":
			if html != "" {
				continue
			}
			body, err := readBody(part.Body)
			if err != nil {
				return domain.InboundMessage{}, err
			}
			html = body
		}
	}

	switch {
	case plain != "":
		msg.Body = strings.TrimSpace(plain)
	case html != "":
		msg.Body = HTMLToText(html)
	}
	return msg, nil
}

func readBody(r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read message body: %w", err)
	}
	body := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return strings.ToValidUTF8(body, ""), nil
}
