package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const threadSelect = `
SELECT cl.id, cl.message_sent, cl.message_sent_at, cl.personalized_message, cl.email_message_id,
	c.id, c.name, c.project_name, c.channel, c.offer_details, c.is_active, c.created_at,
	l.lead_id, l.name, l.email, l.country_code, l.phone, l.project_name, l.unit_type,
	l.budget_min, l.budget_max, l.status, l.last_conversation_date, l.last_conversation_summary
FROM campaign_leads cl
JOIN campaigns c ON c.id = cl.campaign_id
JOIN leads l ON l.lead_id = cl.lead_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*domain.CampaignLead, error) {
	var t domain.CampaignLead
	var sentAt, lastConv sql.NullTime
	var channel, status string
	err := row.Scan(
		&t.ID, &t.MessageSent, &sentAt, &t.PersonalizedMessage, &t.EmailMessageID,
		&t.Campaign.ID, &t.Campaign.Name, &t.Campaign.ProjectName, &channel, &t.Campaign.OfferDetails,
		&t.Campaign.IsActive, &t.Campaign.CreatedAt,
		&t.Lead.LeadID, &t.Lead.Name, &t.Lead.Email, &t.Lead.CountryCode, &t.Lead.Phone, &t.Lead.ProjectName,
		&t.Lead.UnitType, &t.Lead.BudgetMin, &t.Lead.BudgetMax, &status, &lastConv, &t.Lead.LastConversationSummary,
	)
	if err != nil {
		return nil, err
	}
	t.MessageSentAt = nullTime(&sentAt)
	t.Lead.LastConversationDate = nullTime(&lastConv)
	t.Campaign.Channel = domain.Channel(channel)
	t.Lead.Status = domain.LeadStatus(status)
	return &t, nil
}

func (r *ConversationRepository) queryThread(ctx context.Context, operation, where string, args ...any) (*domain.CampaignLead, error) {
	row := r.db.QueryRowContext(ctx, threadSelect+where, args...)
	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, operation, errors.New("no matching thread"))
		}
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return thread, nil
}

func (r *ConversationRepository) GetThread(ctx context.Context, threadID string) (*domain.CampaignLead, error) {
	return r.queryThread(ctx, "get thread", `WHERE cl.id = $1`, threadID)
}

func (r *ConversationRepository) ThreadByOutboundMessageID(ctx context.Context, ids []string) (*domain.CampaignLead, error) {
	ids = nonEmpty(ids)
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "thread by outbound message id", errors.New("no ids"))
	}
	where := `WHERE cl.email_message_id IN (` + placeholders(1, len(ids)) + `)
ORDER BY cl.created_at ASC
LIMIT 1`
	return r.queryThread(ctx, "thread by outbound message id", where, stringArgs(ids)...)
}

func (r *ConversationRepository) ThreadByOutboundMessageIDFragment(ctx context.Context, fragment string) (*domain.CampaignLead, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return nil, domain.WrapError(domain.ErrNotFound, "thread by message id fragment", errors.New("empty fragment"))
	}
	where := `WHERE cl.email_message_id <> '' AND LOWER(cl.email_message_id) LIKE '%' || $1 || '%'
ORDER BY cl.created_at ASC
LIMIT 1`
	return r.queryThread(ctx, "thread by message id fragment", where, fragment)
}

func (r *ConversationRepository) ThreadByEntryMessageID(ctx context.Context, ids []string) (*domain.CampaignLead, error) {
	ids = nonEmpty(ids)
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "thread by entry message id", errors.New("no ids"))
	}
	where := `JOIN conversations cv ON cv.campaign_lead_id = cl.id
WHERE cv.email_message_id IN (` + placeholders(1, len(ids)) + `)
ORDER BY cv.created_at ASC
LIMIT 1`
	return r.queryThread(ctx, "thread by entry message id", where, stringArgs(ids)...)
}

func (r *ConversationRepository) EntryExistsWithMessageID(ctx context.Context, ids []string) (bool, error) {
	ids = nonEmpty(ids)
	if len(ids) == 0 {
		return false, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE email_message_id IN (`+placeholders(1, len(ids))+`)`,
		stringArgs(ids)...,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count entries by message id: %w", err)
	}
	return n > 0, nil
}

func (r *ConversationRepository) AppendEntry(ctx context.Context, entry *domain.ConversationEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append entry tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO conversations (
	id, campaign_lead_id, sender, message, agent_tool_used, email_message_id, email_in_reply_to,
	sales_team_notified, auto_reply_processed, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		entry.ID, entry.ThreadID, string(entry.Sender), entry.Message, string(entry.ToolUsed),
		entry.EmailMessageID, entry.EmailInReplyTo, entry.SalesTeamNotified, entry.AutoReplyProcessed, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE leads
SET last_conversation_date = $1, updated_at = $1
WHERE lead_id = (SELECT lead_id FROM campaign_leads WHERE id = $2)
`, entry.CreatedAt, entry.ThreadID)
	if err != nil {
		return fmt.Errorf("touch lead last conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append entry: %w", err)
	}
	return nil
}

const entrySelect = `
SELECT id, campaign_lead_id, sender, message, agent_tool_used, email_message_id, email_in_reply_to,
	sales_team_notified, auto_reply_processed, created_at
FROM conversations
`

func scanEntry(row rowScanner) (domain.ConversationEntry, error) {
	var e domain.ConversationEntry
	var sender, tool string
	err := row.Scan(
		&e.ID, &e.ThreadID, &sender, &e.Message, &tool, &e.EmailMessageID, &e.EmailInReplyTo,
		&e.SalesTeamNotified, &e.AutoReplyProcessed, &e.CreatedAt,
	)
	if err != nil {
		return domain.ConversationEntry{}, err
	}
	e.Sender = domain.Sender(sender)
	e.ToolUsed = domain.ToolKind(tool)
	return e, nil
}

func (r *ConversationRepository) GetEntry(ctx context.Context, entryID string) (*domain.ConversationEntry, error) {
	entry, err := scanEntry(r.db.QueryRowContext(ctx, entrySelect+`WHERE id = $1`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get entry", fmt.Errorf("entry %s", entryID))
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	return &entry, nil
}

func (r *ConversationRepository) MarkAutoReplyProcessed(ctx context.Context, entryID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET auto_reply_processed = $1 WHERE id = $2`, true, entryID)
	if err != nil {
		return fmt.Errorf("mark auto reply processed: %w", err)
	}
	return requireAffected(res, "mark auto reply processed", entryID)
}

func (r *ConversationRepository) MarkSalesNotified(ctx context.Context, entryID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET sales_team_notified = $1 WHERE id = $2`, true, entryID)
	if err != nil {
		return fmt.Errorf("mark sales notified: %w", err)
	}
	return requireAffected(res, "mark sales notified", entryID)
}

func (r *ConversationRepository) ListPendingCustomerEntries(ctx context.Context, limit int, includeProcessed bool) ([]domain.ConversationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := entrySelect + `WHERE sender = $1 AND auto_reply_processed = $2
ORDER BY created_at ASC
LIMIT $3`
	args := []any{string(domain.SenderCustomer), false, limit}
	if includeProcessed {
		query = entrySelect + `WHERE sender = $1
ORDER BY created_at ASC
LIMIT $2`
		args = []any{string(domain.SenderCustomer), limit}
	}
	return r.listEntries(ctx, "list pending entries", query, args...)
}

func (r *ConversationRepository) ListThreadEntries(ctx context.Context, threadID string) ([]domain.ConversationEntry, error) {
	return r.listEntries(ctx, "list thread entries", entrySelect+`WHERE campaign_lead_id = $1
ORDER BY created_at ASC, id ASC`, threadID)
}

func (r *ConversationRepository) listEntries(ctx context.Context, operation, query string, args ...any) ([]domain.ConversationEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	var out []domain.ConversationEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", operation, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", operation, err)
	}
	return out, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
