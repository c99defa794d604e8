package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

var messageIDUUID = regexp.MustCompile(`(?i)[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)

// NewMessageID returns an unbracketed Message-ID of the form <uuid>@domain.
func NewMessageID(domainPart string) string {
	if domainPart == "" {
		domainPart = "nurturingai.local"
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), domainPart)
}

// NormalizeMessageID strips surrounding whitespace and angle brackets.
// NormalizeMessageID(NormalizeMessageID(x)) == NormalizeMessageID(x).
func NormalizeMessageID(id string) string {
	return strings.Trim(id, "<> \t\r\n")
}

// MessageIDVariants lists the stored forms a Message-ID may have: bare and bracketed.
func MessageIDVariants(id string) []string {
	normalized := NormalizeMessageID(id)
	if normalized == "" {
		return nil
	}
	return []string{normalized, "<" + normalized + ">"}
}

const fallbackMessageIDDomain = "inbound.invalid"

// InboundFallbackMessageID derives a stable id for mail that arrived without a
// Message-ID, so repeated fetches of the same message deduplicate.
func InboundFallbackMessageID(msg domain.InboundMessage) string {
	h := sha256.New()
	date := ""
	if !msg.Date.IsZero() {
		date = msg.Date.UTC().Format(time.RFC3339)
	}
	for _, part := range []string{
		strings.TrimSpace(msg.From),
		date,
		strings.TrimSpace(msg.Subject),
		NormalizeMessageID(msg.InReplyTo),
		strings.TrimSpace(msg.References),
		msg.Body,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)) + "@" + fallbackMessageIDDomain
}

// SplitMessageIDs splits a threading header into its individual ids.
func SplitMessageIDs(header string) []string {
	return strings.Fields(header)
}

func messageIDFragment(normalized string) string {
	return strings.ToLower(messageIDUUID.FindString(normalized))
}

// threadLookup resolves Message-IDs to outbound threads. A miss is (nil, nil).
type threadLookup struct {
	repo ports.ConversationRepository
}

// byOutboundID matches campaign sends: exact and bracketed forms first, then
// the UUID part of the id against stored ids.
func (l threadLookup) byOutboundID(ctx context.Context, id string) (*domain.CampaignLead, error) {
	variants := MessageIDVariants(id)
	if len(variants) == 0 {
		return nil, nil
	}

	thread, err := l.repo.ThreadByOutboundMessageID(ctx, variants)
	if found, err := lookupResult(thread, err); found != nil || err != nil {
		return found, err
	}

	fragment := messageIDFragment(variants[0])
	if fragment == "" {
		return nil, nil
	}
	thread, err = l.repo.ThreadByOutboundMessageIDFragment(ctx, fragment)
	return lookupResult(thread, err)
}

// byEntryID matches replies to messages the agent sent later in the thread.
func (l threadLookup) byEntryID(ctx context.Context, id string) (*domain.CampaignLead, error) {
	variants := MessageIDVariants(id)
	if len(variants) == 0 {
		return nil, nil
	}
	thread, err := l.repo.ThreadByEntryMessageID(ctx, variants)
	return lookupResult(thread, err)
}

// find tries each id in order against both lookups and returns the first hit.
func (l threadLookup) find(ctx context.Context, ids []string) (*domain.CampaignLead, string, error) {
	for _, id := range ids {
		thread, err := l.byOutboundID(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if thread != nil {
			return thread, "campaign_lead", nil
		}
		thread, err = l.byEntryID(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if thread != nil {
			return thread, "conversation", nil
		}
	}
	return nil, "", nil
}

func lookupResult(thread *domain.CampaignLead, err error) (*domain.CampaignLead, error) {
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return thread, nil
}
