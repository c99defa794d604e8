package ports

import (
	"context"
	"io"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

// LLM is a single invocable model. An empty completion must be reported as an error.
type LLM interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

type LLMCandidate struct {
	Provider    string
	Model       string
	Temperature float64
	LLM         LLM
}

// LLMPool yields candidates in preference order; unlisted providers follow in default order.
type LLMPool interface {
	Candidates(temperature float64, preferred ...string) []LLMCandidate
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type SemanticStore interface {
	Query(ctx context.Context, text string, topK int, filter *domain.MetadataFilter) ([]domain.SemanticMatch, error)
	Add(ctx context.Context, records []domain.SemanticRecord) error
	Count(ctx context.Context) (int, error)
}

// StructuredStore executes read-only statements against lead and campaign data.
type StructuredStore interface {
	Query(ctx context.Context, statement string) ([]string, [][]any, error)
}

type BrochureRepository interface {
	Create(ctx context.Context, brochure *domain.Brochure) error
	GetByID(ctx context.Context, id string) (*domain.Brochure, error)
	UpdateStatus(ctx context.Context, id string, status domain.BrochureStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, count int) error
}

type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type TextExtractor interface {
	Extract(ctx context.Context, brochure *domain.Brochure) (string, error)
}

type Chunker interface {
	Split(text string) []string
}

type BrochureQueue interface {
	PublishBrochureUploaded(ctx context.Context, brochureID string) error
}

type ReplyCheckTrigger interface {
	PublishReplyCheck(ctx context.Context, lookbackDays int) error
}

// ConversationRepository owns threads (campaign leads) and their append-only entries.
// Lookups that find nothing return an error of kind domain.ErrNotFound.
type ConversationRepository interface {
	GetThread(ctx context.Context, threadID string) (*domain.CampaignLead, error)
	ThreadByOutboundMessageID(ctx context.Context, ids []string) (*domain.CampaignLead, error)
	ThreadByOutboundMessageIDFragment(ctx context.Context, fragment string) (*domain.CampaignLead, error)
	ThreadByEntryMessageID(ctx context.Context, ids []string) (*domain.CampaignLead, error)
	EntryExistsWithMessageID(ctx context.Context, ids []string) (bool, error)

	AppendEntry(ctx context.Context, entry *domain.ConversationEntry) error
	GetEntry(ctx context.Context, entryID string) (*domain.ConversationEntry, error)
	MarkAutoReplyProcessed(ctx context.Context, entryID string) error
	MarkSalesNotified(ctx context.Context, entryID string) error
	ListPendingCustomerEntries(ctx context.Context, limit int, includeProcessed bool) ([]domain.ConversationEntry, error)
	ListThreadEntries(ctx context.Context, threadID string) ([]domain.ConversationEntry, error)
}

type LeadRepository interface {
	UpsertLead(ctx context.Context, lead domain.Lead) error
}

type CampaignRepository interface {
	CreateCampaign(ctx context.Context, campaign *domain.Campaign) error
	// EnrollProjectLeads attaches every lead of the campaign's project that is not yet enrolled.
	EnrollProjectLeads(ctx context.Context, campaignID string) (int, error)
	GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)
	ListUnsentThreads(ctx context.Context, campaignID string) ([]domain.CampaignLead, error)
	MarkThreadSent(ctx context.Context, threadID, message, messageID string, sentAt time.Time) error
}

// MailSender delivers a message whose Message-ID was chosen by the caller and
// returns the Message-ID that was actually used on the wire.
type MailSender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (string, error)
}

type MailFetcher interface {
	FetchSince(ctx context.Context, since time.Time) ([]domain.InboundMessage, error)
}

type SalesNotifier interface {
	NotifySales(ctx context.Context, notification domain.SalesNotification) error
}

// Locker serializes check-then-act sequences per key. ok=false means another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type SpreadsheetReader interface {
	Rows(r io.Reader) ([][]string, error)
}

// PipelineObserver receives reply-pipeline events for metrics.
type PipelineObserver interface {
	ObserveAgentRun(tool domain.ToolKind, failed bool, duration time.Duration)
	ObserveLLMFallback(component, provider string)
	ObserveReplyAction(action domain.ActionTaken)
	ObserveCorrelation(report domain.CorrelationReport)
}

type NoopObserver struct{}

func (NoopObserver) ObserveAgentRun(domain.ToolKind, bool, time.Duration) {}
func (NoopObserver) ObserveLLMFallback(string, string)                    {}
func (NoopObserver) ObserveReplyAction(domain.ActionTaken)                {}
func (NoopObserver) ObserveCorrelation(domain.CorrelationReport)          {}
