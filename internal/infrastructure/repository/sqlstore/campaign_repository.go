package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) UpsertLead(ctx context.Context, lead domain.Lead) error {
	if lead.Status == "" {
		lead.Status = domain.LeadNotConnected
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO leads (
	lead_id, name, email, country_code, phone, project_name, unit_type, budget_min, budget_max,
	status, last_conversation_date, last_conversation_summary, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (lead_id) DO UPDATE SET
	name = excluded.name,
	email = excluded.email,
	country_code = excluded.country_code,
	phone = excluded.phone,
	project_name = excluded.project_name,
	unit_type = excluded.unit_type,
	budget_min = excluded.budget_min,
	budget_max = excluded.budget_max,
	status = excluded.status,
	last_conversation_date = excluded.last_conversation_date,
	last_conversation_summary = excluded.last_conversation_summary,
	updated_at = excluded.updated_at
`,
		lead.LeadID, lead.Name, lead.Email, lead.CountryCode, lead.Phone, lead.ProjectName, lead.UnitType,
		lead.BudgetMin, lead.BudgetMax, string(lead.Status), lead.LastConversationDate, lead.LastConversationSummary, now,
	)
	if err != nil {
		return fmt.Errorf("upsert lead %s: %w", lead.LeadID, err)
	}
	return nil
}

func (r *CampaignRepository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Channel == "" {
		c.Channel = domain.ChannelEmail
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO campaigns (id, name, project_name, channel, offer_details, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, c.ID, c.Name, c.ProjectName, string(c.Channel), c.OfferDetails, c.IsActive, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) EnrollProjectLeads(ctx context.Context, campaignID string) (int, error) {
	campaign, err := r.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT l.lead_id
FROM leads l
WHERE l.project_name = $1
	AND l.lead_id NOT IN (SELECT lead_id FROM campaign_leads WHERE campaign_id = $2)
ORDER BY l.lead_id ASC
`, campaign.ProjectName, campaign.ID)
	if err != nil {
		return 0, fmt.Errorf("select project leads: %w", err)
	}
	var leadIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan project lead: %w", err)
		}
		leadIDs = append(leadIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("project lead rows: %w", err)
	}
	rows.Close()

	now := time.Now().UTC()
	for _, leadID := range leadIDs {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO campaign_leads (id, campaign_id, lead_id, created_at)
VALUES ($1,$2,$3,$4)
`, uuid.NewString(), campaign.ID, leadID, now)
		if err != nil {
			return 0, fmt.Errorf("enroll lead %s: %w", leadID, err)
		}
	}
	return len(leadIDs), nil
}

func (r *CampaignRepository) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	var c domain.Campaign
	var channel string
	err := r.db.QueryRowContext(ctx, `
SELECT id, name, project_name, channel, offer_details, is_active, created_at
FROM campaigns
WHERE id = $1
`, campaignID).Scan(&c.ID, &c.Name, &c.ProjectName, &channel, &c.OfferDetails, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get campaign", fmt.Errorf("campaign %s", campaignID))
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	c.Channel = domain.Channel(channel)
	return &c, nil
}

func (r *CampaignRepository) ListUnsentThreads(ctx context.Context, campaignID string) ([]domain.CampaignLead, error) {
	rows, err := r.db.QueryContext(ctx, threadSelect+`WHERE cl.campaign_id = $1 AND cl.message_sent = $2
ORDER BY cl.created_at ASC, cl.id ASC`, campaignID, false)
	if err != nil {
		return nil, fmt.Errorf("list unsent threads: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignLead
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unsent thread: %w", err)
		}
		out = append(out, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unsent thread rows: %w", err)
	}
	return out, nil
}

func (r *CampaignRepository) MarkThreadSent(ctx context.Context, threadID, message, messageID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE campaign_leads
SET message_sent = $1, message_sent_at = $2, personalized_message = $3, email_message_id = $4
WHERE id = $5
`, true, sentAt, message, messageID, threadID)
	if err != nil {
		return fmt.Errorf("mark thread sent: %w", err)
	}
	return requireAffected(res, "mark thread sent", threadID)
}
