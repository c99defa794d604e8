package domain

import "time"

type LeadStatus string

const (
	LeadNotConnected    LeadStatus = "Not Connected"
	LeadConnected       LeadStatus = "Connected"
	LeadVisitScheduled  LeadStatus = "Visit scheduled"
	LeadVisitNoPurchase LeadStatus = "Visit done not purchased"
	LeadPurchased       LeadStatus = "Purchased"
	LeadNotInterested   LeadStatus = "Not interested"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

type Lead struct {
	LeadID                  string     `json:"lead_id"`
	Name                    string     `json:"name"`
	Email                   string     `json:"email"`
	CountryCode             string     `json:"country_code,omitempty"`
	Phone                   string     `json:"phone,omitempty"`
	ProjectName             string     `json:"project_name"`
	UnitType                string     `json:"unit_type,omitempty"`
	BudgetMin               float64    `json:"budget_min,omitempty"`
	BudgetMax               float64    `json:"budget_max,omitempty"`
	Status                  LeadStatus `json:"status"`
	LastConversationDate    *time.Time `json:"last_conversation_date,omitempty"`
	LastConversationSummary string     `json:"last_conversation_summary,omitempty"`
}

type Campaign struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ProjectName  string    `json:"project_name"`
	Channel      Channel   `json:"channel"`
	OfferDetails string    `json:"offer_details,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// CampaignLead is one outbound thread: a campaign message sent to one lead.
type CampaignLead struct {
	ID                  string     `json:"id"`
	Campaign            Campaign   `json:"campaign"`
	Lead                Lead       `json:"lead"`
	MessageSent         bool       `json:"message_sent"`
	MessageSentAt       *time.Time `json:"message_sent_at,omitempty"`
	PersonalizedMessage string     `json:"personalized_message,omitempty"`
	EmailMessageID      string     `json:"email_message_id,omitempty"`
}

func (t CampaignLead) ProjectName() string {
	if t.Campaign.ProjectName != "" {
		return t.Campaign.ProjectName
	}
	return t.Lead.ProjectName
}
