package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

type sentThread struct {
	threadID  string
	message   string
	messageID string
	sentAt    time.Time
}

type campaignRepoFake struct {
	campaign  *domain.Campaign
	threads   []domain.CampaignLead
	enrolled  int
	enrollErr error
	markErr   error
	marked    []sentThread
}

func (f *campaignRepoFake) CreateCampaign(_ context.Context, campaign *domain.Campaign) error {
	f.campaign = campaign
	return nil
}

func (f *campaignRepoFake) EnrollProjectLeads(context.Context, string) (int, error) {
	return f.enrolled, f.enrollErr
}

func (f *campaignRepoFake) GetCampaign(_ context.Context, campaignID string) (*domain.Campaign, error) {
	if f.campaign == nil || f.campaign.ID != campaignID {
		return nil, domain.WrapError(domain.ErrNotFound, "get campaign", errors.New(campaignID))
	}
	copyCampaign := *f.campaign
	return &copyCampaign, nil
}

func (f *campaignRepoFake) ListUnsentThreads(context.Context, string) ([]domain.CampaignLead, error) {
	return f.threads, nil
}

func (f *campaignRepoFake) MarkThreadSent(_ context.Context, threadID, message, messageID string, sentAt time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, sentThread{threadID: threadID, message: message, messageID: messageID, sentAt: sentAt})
	return nil
}

func unsentThread(id, leadID, email string) domain.CampaignLead {
	thread := testThread()
	thread.ID = id
	thread.MessageSent = false
	thread.EmailMessageID = ""
	thread.Lead.LeadID = leadID
	thread.Lead.Email = email
	return thread
}

func TestCleanGeneratedMessage(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "Here's a personalized follow-up email that re-engages Asha:\n\nSkyline Towers has a new tower.", want: "Skyline Towers has a new tower."},
		{in: "This email highlights the offer:\nBook a visit this week.", want: "Book a visit this week."},
		{in: "  Plain body text.  ", want: "Plain body text."},
	}
	for _, tc := range cases {
		if got := CleanGeneratedMessage(tc.in); got != tc.want {
			t.Fatalf("CleanGeneratedMessage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSendCampaignSendsAndRecordsThreads(t *testing.T) {
	campaign := testThread().Campaign
	campaign.OfferDetails = "5% off until December"
	repo := &campaignRepoFake{
		campaign: &campaign,
		enrolled: 2,
		threads: []domain.CampaignLead{
			unsentThread("t-1", "L-1", "asha@example.com"),
			unsentThread("t-2", "L-2", ""),
		},
	}
	conversations := newMemoryConversations()
	llm := newScriptedLLM("Here's a personalized email that fits:\nSkyline Towers has what you need.")
	pool := newFakePool(map[string]ports.LLM{"openai": llm}, "openai")
	sender := &fakeSender{}
	uc := NewSendCampaignUseCase(repo, conversations, pool, sender, nil, "mail.test", nil)
	uc.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }

	report, err := uc.SendCampaign(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("SendCampaign() error = %v", err)
	}
	if report.Sent != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	msg := sender.sent[0]
	if msg.Subject != "Exciting Opportunities at Skyline Towers" || msg.Body != "Skyline Towers has what you need." {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(llm.prompts[0], "- Offer Details: 5% off until December") {
		t.Fatalf("prompt missing offer: %s", llm.prompts[0])
	}
	if len(repo.marked) != 1 || repo.marked[0].threadID != "t-1" || repo.marked[0].messageID != msg.MessageID {
		t.Fatalf("unexpected marked threads %+v", repo.marked)
	}
	entries := conversations.bySender(domain.SenderAgent)
	if len(entries) != 1 || entries[0].ToolUsed != domain.ToolCampaignSend || entries[0].EmailMessageID != msg.MessageID {
		t.Fatalf("unexpected conversation entries %+v", entries)
	}
}

func TestSendCampaignUsesLoadedCampaignDetails(t *testing.T) {
	campaign := testThread().Campaign
	campaign.ProjectName = "Harbor View"
	campaign.OfferDetails = "Free parking for early buyers"
	thread := unsentThread("t-1", "L-1", "asha@example.com")
	thread.Campaign = domain.Campaign{ID: campaign.ID}
	repo := &campaignRepoFake{campaign: &campaign, threads: []domain.CampaignLead{thread}}
	llm := newScriptedLLM("Harbor View is ready for you.")
	sender := &fakeSender{}
	uc := NewSendCampaignUseCase(repo, newMemoryConversations(), newFakePool(map[string]ports.LLM{"openai": llm}, "openai"), sender, nil, "", nil)

	if _, err := uc.SendCampaign(context.Background(), campaign.ID); err != nil {
		t.Fatalf("SendCampaign() error = %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Subject != "Exciting Opportunities at Harbor View" {
		t.Fatalf("unexpected sent messages %+v", sender.sent)
	}
	if !strings.Contains(llm.prompts[0], "- Project: Harbor View") || !strings.Contains(llm.prompts[0], "- Offer Details: Free parking for early buyers") {
		t.Fatalf("prompt did not use the loaded campaign: %s", llm.prompts[0])
	}
}

func TestSendCampaignFallsBackToTemplate(t *testing.T) {
	campaign := testThread().Campaign
	repo := &campaignRepoFake{campaign: &campaign, threads: []domain.CampaignLead{unsentThread("t-1", "L-1", "asha@example.com")}}
	pool := newFakePool(map[string]ports.LLM{"openai": newScriptedLLM(errors.New("quota"))}, "openai")
	sender := &fakeSender{}
	uc := NewSendCampaignUseCase(repo, newMemoryConversations(), pool, sender, nil, "", nil)

	if _, err := uc.SendCampaign(context.Background(), campaign.ID); err != nil {
		t.Fatalf("SendCampaign() error = %v", err)
	}
	if !strings.HasPrefix(sender.sent[0].Body, "Dear Asha,") || !strings.Contains(sender.sent[0].Body, "Skyline Towers could be a wonderful fit") {
		t.Fatalf("expected fallback template, got %q", sender.sent[0].Body)
	}
}

func TestSendCampaignCountsSendFailures(t *testing.T) {
	campaign := testThread().Campaign
	repo := &campaignRepoFake{campaign: &campaign, threads: []domain.CampaignLead{unsentThread("t-1", "L-1", "asha@example.com")}}
	pool := newFakePool(map[string]ports.LLM{"openai": newScriptedLLM("Body.")}, "openai")
	uc := NewSendCampaignUseCase(repo, newMemoryConversations(), pool, &fakeSender{err: errors.New("relay denied")}, nil, "", nil)

	report, err := uc.SendCampaign(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("SendCampaign() error = %v", err)
	}
	if report.Failed != 1 || len(report.Errors) != 1 || len(repo.marked) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSendCampaignRejectsInactiveAndWhatsApp(t *testing.T) {
	inactive := testThread().Campaign
	inactive.IsActive = false
	uc := NewSendCampaignUseCase(&campaignRepoFake{campaign: &inactive}, newMemoryConversations(), newFakePool(nil), &fakeSender{}, nil, "", nil)
	if _, err := uc.SendCampaign(context.Background(), inactive.ID); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for inactive campaign, got %v", err)
	}

	whatsapp := testThread().Campaign
	whatsapp.Channel = domain.ChannelWhatsApp
	uc = NewSendCampaignUseCase(&campaignRepoFake{campaign: &whatsapp}, newMemoryConversations(), newFakePool(nil), &fakeSender{}, nil, "", nil)
	if _, err := uc.SendCampaign(context.Background(), whatsapp.ID); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for whatsapp campaign, got %v", err)
	}

	uc = NewSendCampaignUseCase(&campaignRepoFake{}, newMemoryConversations(), newFakePool(nil), &fakeSender{}, nil, "", nil)
	if _, err := uc.SendCampaign(context.Background(), "missing"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateCampaignDefaultsAndValidation(t *testing.T) {
	repo := &campaignRepoFake{}
	uc := NewSendCampaignUseCase(repo, newMemoryConversations(), newFakePool(nil), &fakeSender{}, nil, "", nil)
	uc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	created, err := uc.CreateCampaign(context.Background(), domain.Campaign{
		Name:        " Spring launch ",
		ProjectName: "Skyline Towers",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	if created.Name != "Spring launch" || created.Channel != domain.ChannelEmail || created.CreatedAt.IsZero() {
		t.Fatalf("unexpected campaign %+v", created)
	}
	if repo.campaign == nil || repo.campaign.ProjectName != "Skyline Towers" {
		t.Fatalf("campaign was not stored: %+v", repo.campaign)
	}

	invalid := []domain.Campaign{
		{ProjectName: "Skyline Towers"},
		{Name: "No project"},
		{Name: "Fax", ProjectName: "Skyline Towers", Channel: "fax"},
	}
	for _, c := range invalid {
		if _, err := uc.CreateCampaign(context.Background(), c); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("CreateCampaign(%+v) expected invalid input, got %v", c, err)
		}
	}
}
