package ports

import (
	"context"
	"io"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

// AgentTool answers one query. Failures come back as domain.ToolFailure, never as errors.
type AgentTool interface {
	Kind() domain.ToolKind
	Execute(ctx context.Context, query domain.QueryContext) domain.ToolResult
}

// AgentService routes a query to a tool and synthesizes the user-facing response.
type AgentService interface {
	Query(ctx context.Context, query domain.QueryContext) domain.AgentResult
}

type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, message, projectName, leadName string) domain.IntentResult
}

// CustomerReplyProcessor handles one recorded customer entry.
type CustomerReplyProcessor interface {
	ProcessCustomerReply(ctx context.Context, entry *domain.ConversationEntry) domain.ReplyOutcome
}

type ReplyProcessor interface {
	CustomerReplyProcessor
	ProcessPending(ctx context.Context, limit int, force bool) (domain.PendingBatchReport, error)
}

type ReplyCorrelator interface {
	ProcessReplies(ctx context.Context, lookbackDays int) (domain.CorrelationReport, error)
}

type BrochureIngestor interface {
	Upload(ctx context.Context, projectName, filename, mimeType string, body io.Reader) (*domain.Brochure, error)
}

type BrochureReader interface {
	GetByID(ctx context.Context, id string) (*domain.Brochure, error)
}

type BrochureProcessor interface {
	ProcessByID(ctx context.Context, brochureID string) error
}

type CampaignSender interface {
	CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)
	SendCampaign(ctx context.Context, campaignID string) (domain.CampaignSendReport, error)
}

type LeadImporter interface {
	ImportLeads(ctx context.Context, r io.Reader) (domain.LeadImportReport, error)
}
