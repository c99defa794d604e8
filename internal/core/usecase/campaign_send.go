package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const (
	campaignTemperature   = 0.7
	maxCampaignSendErrors = 5
)

var metaDescriptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^Here's\s+(?:a\s+)?(?:personalized\s+)?(?:follow-up\s+)?email\s+that\s+.*?:\s*`),
	regexp.MustCompile(`(?im)^This\s+email\s+.*?:\s*`),
	regexp.MustCompile(`(?im)^Here's\s+(?:a\s+)?message\s+that\s+.*?:\s*`),
	regexp.MustCompile(`(?im)^Here's\s+(?:a\s+)?personalized\s+.*?:\s*`),
	regexp.MustCompile(`(?im)^This\s+personalized\s+.*?:\s*`),
}

// CleanGeneratedMessage strips model preambles such as "Here's a personalized email that ...:".
func CleanGeneratedMessage(text string) string {
	cleaned := text
	for _, pattern := range metaDescriptionPatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}

type SendCampaignUseCase struct {
	campaigns       ports.CampaignRepository
	conversations   ports.ConversationRepository
	pool            ports.LLMPool
	sender          ports.MailSender
	observer        ports.PipelineObserver
	messageIDDomain string
	preferred       []string
	now             func() time.Time
}

func NewSendCampaignUseCase(
	campaigns ports.CampaignRepository,
	conversations ports.ConversationRepository,
	pool ports.LLMPool,
	sender ports.MailSender,
	observer ports.PipelineObserver,
	messageIDDomain string,
	preferred []string,
) *SendCampaignUseCase {
	return &SendCampaignUseCase{
		campaigns:       campaigns,
		conversations:   conversations,
		pool:            pool,
		sender:          sender,
		observer:        observerOrNoop(observer),
		messageIDDomain: messageIDDomain,
		preferred:       preferred,
		now:             time.Now,
	}
}

// CreateCampaign validates and stores a new campaign. Channel defaults to email.
func (uc *SendCampaignUseCase) CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	const op = "create campaign"
	campaign.Name = strings.TrimSpace(campaign.Name)
	campaign.ProjectName = strings.TrimSpace(campaign.ProjectName)
	if campaign.Name == "" || campaign.ProjectName == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("name and project_name are required"))
	}
	switch campaign.Channel {
	case "":
		campaign.Channel = domain.ChannelEmail
	case domain.ChannelEmail, domain.ChannelWhatsApp:
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unknown channel %q", campaign.Channel))
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = uc.now().UTC()
	}

	if err := uc.campaigns.CreateCampaign(ctx, &campaign); err != nil {
		return nil, fmt.Errorf("store campaign: %w", err)
	}
	slog.Info("campaign_created", "campaign_id", campaign.ID, "project_name", campaign.ProjectName, "channel", string(campaign.Channel))
	return &campaign, nil
}

func (uc *SendCampaignUseCase) SendCampaign(ctx context.Context, campaignID string) (domain.CampaignSendReport, error) {
	report := domain.CampaignSendReport{CampaignID: campaignID}

	campaign, err := uc.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return report, fmt.Errorf("load campaign: %w", err)
	}
	if !campaign.IsActive {
		return report, domain.WrapError(domain.ErrInvalidInput, "send campaign", errors.New("campaign is not active"))
	}
	if campaign.Channel != domain.ChannelEmail {
		return report, domain.WrapError(domain.ErrInvalidInput, "send campaign",
			fmt.Errorf("channel %q has no outbound transport", campaign.Channel))
	}

	if enrolled, err := uc.campaigns.EnrollProjectLeads(ctx, campaign.ID); err != nil {
		return report, fmt.Errorf("enroll project leads: %w", err)
	} else if enrolled > 0 {
		slog.Info("campaign_leads_enrolled", "campaign_id", campaign.ID, "enrolled", enrolled)
	}

	threads, err := uc.campaigns.ListUnsentThreads(ctx, campaign.ID)
	if err != nil {
		return report, fmt.Errorf("list unsent threads: %w", err)
	}

	for i := range threads {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		thread := &threads[i]
		if strings.TrimSpace(thread.Lead.Email) == "" {
			report.Skipped++
			continue
		}
		if err := uc.sendOne(ctx, campaign, thread); err != nil {
			report.Failed++
			if len(report.Errors) < maxCampaignSendErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("lead %s: %v", thread.Lead.LeadID, err))
			}
			slog.Error("campaign_send_failed", "campaign_id", campaign.ID, "lead_id", thread.Lead.LeadID, "error", err.Error())
			continue
		}
		report.Sent++
	}

	slog.Info("campaign_sent",
		"campaign_id", campaign.ID,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

// sendOne uses the loaded campaign for prompt and subject; thread rows only
// carry the lead and thread identity.
func (uc *SendCampaignUseCase) sendOne(ctx context.Context, campaign *domain.Campaign, thread *domain.CampaignLead) error {
	body := uc.GenerateMessage(ctx, thread.Lead, *campaign)

	sentID, err := uc.sender.Send(ctx, domain.OutboundMessage{
		MessageID: NewMessageID(uc.messageIDDomain),
		To:        thread.Lead.Email,
		Subject:   fmt.Sprintf("Exciting Opportunities at %s", campaign.ProjectName),
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	sentID = NormalizeMessageID(sentID)
	sentAt := uc.now().UTC()

	if err := uc.campaigns.MarkThreadSent(ctx, thread.ID, body, sentID, sentAt); err != nil {
		slog.Error("campaign_persist_failed_after_send", "thread_id", thread.ID, "message_id", sentID, "error", err.Error())
		return fmt.Errorf("record sent message: %w", err)
	}

	if err := uc.conversations.AppendEntry(ctx, &domain.ConversationEntry{
		ThreadID:       thread.ID,
		Sender:         domain.SenderAgent,
		Message:        body,
		ToolUsed:       domain.ToolCampaignSend,
		EmailMessageID: sentID,
		CreatedAt:      sentAt,
	}); err != nil {
		slog.Warn("campaign_entry_append_failed", "thread_id", thread.ID, "message_id", sentID, "error", err.Error())
	}
	return nil
}

// GenerateMessage writes the personalized campaign body, falling back to a
// fixed template when no model answers.
func (uc *SendCampaignUseCase) GenerateMessage(ctx context.Context, lead domain.Lead, campaign domain.Campaign) string {
	prompt := buildCampaignPrompt(lead, campaign)
	result := firstSuccess(ctx, "campaign_message", uc.pool.Candidates(campaignTemperature, uc.preferred...), uc.observer,
		func(ctx context.Context, candidate ports.LLMCandidate) (string, error) {
			raw, err := candidate.LLM.Invoke(ctx, prompt)
			if err != nil {
				return "", err
			}
			cleaned := CleanGeneratedMessage(raw)
			if cleaned == "" {
				return "", errors.New("message was empty after cleaning")
			}
			return cleaned, nil
		})
	if result.ok() {
		return result.Value
	}

	slog.Error("campaign_message_all_providers_failed", "lead_id", lead.LeadID, "errors", strings.Join(result.Errors, "; "))
	return fallbackCampaignMessage(lead, campaign)
}

func buildCampaignPrompt(lead domain.Lead, campaign domain.Campaign) string {
	name := valueOr(lead.Name, "Valued Customer")
	summary := valueOr(lead.LastConversationSummary, "No previous conversation")
	offer := valueOr(campaign.OfferDetails, "No special offers")

	return fmt.Sprintf(`
You are a professional real estate sales associate crafting a personalized follow-up email to a potential buyer.

Use the information below to understand the lead's profile, preferences, and past discussion. Your goal is to re-engage them naturally by showing how %[1]s suits their lifestyle, needs, and interests.

Lead Information:
- Name: %[2]s
- Previous Project Enquiry: %[3]s
- Unit Type Interest: %[4]s
- %[5]s
- Last Conversation Summary: %[6]s

Campaign Details:
- Project: %[1]s
- Offer Details: %[7]s

Write a concise, friendly, and engaging email body (2-3 short paragraphs) that:
1. Naturally builds on their previous interaction or requirements without repeating or thanking for past interest.
2. Highlights how %[1]s aligns with their needs (e.g., family size, lifestyle, unit type, budget, amenities, or location).
3. If offer details are provided, include them smoothly near the end before the call to action.
4. Ends with a clear and inviting call to action (e.g., scheduling a site visit, requesting floor plans, or having a quick call).
5. Uses a conversational and professional tone (like a real estate advisor, not a marketing bot).
6. Avoids greetings, closings, or signatures. Only generate the email body text.

IMPORTANT:
- Generate ONLY the email body content. Do NOT include any meta-descriptions, explanations, or introductory text like "Here's a personalized follow-up email..." or "This email re-engages...".
- Start directly with the email content as if you are writing the email itself.
- Do not describe what the email does or who it's for. Just write the actual email content.

Focus on *appealing to their motivations* rather than their previous enquiry.
`, campaign.ProjectName, name, valueOr(lead.ProjectName, "N/A"), valueOr(lead.UnitType, "N/A"), budgetLine(lead), summary, offer)
}

func budgetLine(lead domain.Lead) string {
	printer := message.NewPrinter(language.English)
	var parts []string
	if lead.BudgetMin > 0 {
		parts = append(parts, printer.Sprintf("minimum %.0f", lead.BudgetMin))
	}
	if lead.BudgetMax > 0 {
		parts = append(parts, printer.Sprintf("maximum %.0f", lead.BudgetMax))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Budget: " + strings.Join(parts, ", ")
}

func fallbackCampaignMessage(lead domain.Lead, campaign domain.Campaign) string {
	offer := ""
	if campaign.OfferDetails != "" {
		offer = campaign.OfferDetails + "\n\n"
	}
	return fmt.Sprintf(`Dear %s,

Based on your interest in %s units and our previous conversation, we believe %s could be a wonderful fit for your needs. The project offers thoughtfully designed spaces that align with your preferences and lifestyle.

%sWe'd love to arrange a quick visit or share more details about the available options that suit your requirements. Please feel free to reach out at your convenience.

Best regards,
Sales Team`, valueOr(lead.Name, "Valued Customer"), valueOr(lead.UnitType, "N/A"), campaign.ProjectName, offer)
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
