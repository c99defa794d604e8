package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

// scriptedLLM returns queued replies in order; an error entry fails that call.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []any
	prompts []string
}

func newScriptedLLM(replies ...any) *scriptedLLM {
	return &scriptedLLM{replies: replies}
}

func (l *scriptedLLM) Invoke(_ context.Context, prompt string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, prompt)
	if len(l.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	next := l.replies[0]
	l.replies = l.replies[1:]
	switch v := next.(type) {
	case error:
		return "", v
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("unexpected scripted reply %T", next)
	}
}

func (l *scriptedLLM) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prompts)
}

type fakePool struct {
	candidates   []ports.LLMCandidate
	temperatures []float64
}

func newFakePool(llms map[string]ports.LLM, order ...string) *fakePool {
	p := &fakePool{}
	for _, name := range order {
		p.candidates = append(p.candidates, ports.LLMCandidate{Provider: name, Model: name + "-model", LLM: llms[name]})
	}
	return p
}

func (p *fakePool) Candidates(temperature float64, _ ...string) []ports.LLMCandidate {
	p.temperatures = append(p.temperatures, temperature)
	out := make([]ports.LLMCandidate, len(p.candidates))
	copy(out, p.candidates)
	for i := range out {
		out[i].Temperature = temperature
	}
	return out
}

type fakeSemanticStore struct {
	matches    []domain.SemanticMatch
	queryErr   error
	count      int
	countErr   error
	added      []domain.SemanticRecord
	addErr     error
	lastFilter *domain.MetadataFilter
	lastTopK   int
	queries    int
}

func (s *fakeSemanticStore) Query(_ context.Context, _ string, topK int, filter *domain.MetadataFilter) ([]domain.SemanticMatch, error) {
	s.queries++
	s.lastTopK = topK
	s.lastFilter = filter
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.matches, nil
}

func (s *fakeSemanticStore) Add(_ context.Context, records []domain.SemanticRecord) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.added = append(s.added, records...)
	s.count += len(records)
	return nil
}

func (s *fakeSemanticStore) Count(context.Context) (int, error) {
	return s.count, s.countErr
}

type fakeStructuredStore struct {
	columns    []string
	rows       [][]any
	err        error
	statements []string
}

func (s *fakeStructuredStore) Query(_ context.Context, statement string) ([]string, [][]any, error) {
	s.statements = append(s.statements, statement)
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.columns, s.rows, nil
}

// memoryConversations is an in-memory ConversationRepository.
type memoryConversations struct {
	mu               sync.Mutex
	threads          map[string]*domain.CampaignLead
	entries          []domain.ConversationEntry
	seq              int
	appendErr        error
	lookupErr        error
	markErr          error
	salesNotifiedErr error
	lookupCalls      []string
}

func newMemoryConversations(threads ...domain.CampaignLead) *memoryConversations {
	m := &memoryConversations{threads: map[string]*domain.CampaignLead{}}
	for i := range threads {
		t := threads[i]
		m.threads[t.ID] = &t
	}
	return m
}

func (m *memoryConversations) GetThread(_ context.Context, threadID string) (*domain.CampaignLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get thread", errors.New(threadID))
	}
	copyThread := *t
	return &copyThread, nil
}

func (m *memoryConversations) ThreadByOutboundMessageID(_ context.Context, ids []string) (*domain.CampaignLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls = append(m.lookupCalls, "outbound:"+strings.Join(ids, ","))
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, t := range m.sortedThreads() {
		for _, id := range ids {
			if t.EmailMessageID != "" && t.EmailMessageID == id {
				copyThread := *t
				return &copyThread, nil
			}
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "thread by outbound id", errors.New("miss"))
}

func (m *memoryConversations) ThreadByOutboundMessageIDFragment(_ context.Context, fragment string) (*domain.CampaignLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls = append(m.lookupCalls, "fragment:"+fragment)
	for _, t := range m.sortedThreads() {
		if t.EmailMessageID != "" && strings.Contains(strings.ToLower(t.EmailMessageID), fragment) {
			copyThread := *t
			return &copyThread, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "thread by fragment", errors.New("miss"))
}

func (m *memoryConversations) ThreadByEntryMessageID(_ context.Context, ids []string) (*domain.CampaignLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls = append(m.lookupCalls, "entry:"+strings.Join(ids, ","))
	for _, e := range m.entries {
		for _, id := range ids {
			if e.EmailMessageID != "" && e.EmailMessageID == id {
				copyThread := *m.threads[e.ThreadID]
				return &copyThread, nil
			}
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "thread by entry id", errors.New("miss"))
}

func (m *memoryConversations) EntryExistsWithMessageID(_ context.Context, ids []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		for _, id := range ids {
			if e.EmailMessageID != "" && e.EmailMessageID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memoryConversations) AppendEntry(_ context.Context, entry *domain.ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.seq++
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("entry-%d", m.seq)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Date(2026, 10, 1, 0, 0, m.seq, 0, time.UTC)
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryConversations) GetEntry(_ context.Context, entryID string) (*domain.ConversationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == entryID {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get entry", errors.New(entryID))
}

func (m *memoryConversations) MarkAutoReplyProcessed(_ context.Context, entryID string) error {
	return m.update(entryID, func(e *domain.ConversationEntry) { e.AutoReplyProcessed = true })
}

func (m *memoryConversations) MarkSalesNotified(_ context.Context, entryID string) error {
	if m.salesNotifiedErr != nil {
		return m.salesNotifiedErr
	}
	return m.update(entryID, func(e *domain.ConversationEntry) { e.SalesTeamNotified = true })
}

func (m *memoryConversations) update(entryID string, fn func(*domain.ConversationEntry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	for i := range m.entries {
		if m.entries[i].ID == entryID {
			fn(&m.entries[i])
			return nil
		}
	}
	return domain.WrapError(domain.ErrNotFound, "update entry", errors.New(entryID))
}

func (m *memoryConversations) ListPendingCustomerEntries(_ context.Context, limit int, includeProcessed bool) ([]domain.ConversationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationEntry
	for _, e := range m.entries {
		if e.Sender != domain.SenderCustomer || (e.AutoReplyProcessed && !includeProcessed) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryConversations) ListThreadEntries(_ context.Context, threadID string) ([]domain.ConversationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationEntry
	for _, e := range m.entries {
		if e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryConversations) entry(id string) domain.ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return domain.ConversationEntry{}
}

func (m *memoryConversations) bySender(sender domain.Sender) []domain.ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationEntry
	for _, e := range m.entries {
		if e.Sender == sender {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryConversations) sortedThreads() []*domain.CampaignLead {
	out := make([]*domain.CampaignLead, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []domain.OutboundMessage
	err      error
	returnID func(domain.OutboundMessage) string
}

func (s *fakeSender) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	if s.returnID != nil {
		return s.returnID(msg), nil
	}
	return msg.MessageID, nil
}

type fakeNotifier struct {
	notifications []domain.SalesNotification
	err           error
}

func (n *fakeNotifier) NotifySales(_ context.Context, notification domain.SalesNotification) error {
	n.notifications = append(n.notifications, notification)
	return n.err
}

type fakeClassifier struct {
	result domain.IntentResult
	calls  int
}

func (c *fakeClassifier) ClassifyIntent(context.Context, string, string, string) domain.IntentResult {
	c.calls++
	return c.result
}

type fakeAgent struct {
	result  domain.AgentResult
	queries []domain.QueryContext
	panics  bool
}

func (a *fakeAgent) Query(_ context.Context, query domain.QueryContext) domain.AgentResult {
	a.queries = append(a.queries, query)
	if a.panics {
		panic("agent exploded")
	}
	return a.result
}

type fakeTool struct {
	kind   domain.ToolKind
	result domain.ToolResult
	calls  int
}

func (t *fakeTool) Kind() domain.ToolKind { return t.kind }

func (t *fakeTool) Execute(context.Context, domain.QueryContext) domain.ToolResult {
	t.calls++
	return t.result
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

type fakeFetcher struct {
	messages []domain.InboundMessage
	err      error
	since    time.Time
}

func (f *fakeFetcher) FetchSince(_ context.Context, since time.Time) ([]domain.InboundMessage, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type recordingObserver struct {
	ports.NoopObserver
	actions   []domain.ActionTaken
	fallbacks []string
	runs      []domain.ToolKind
	reports   []domain.CorrelationReport
}

func (o *recordingObserver) ObserveReplyAction(action domain.ActionTaken) {
	o.actions = append(o.actions, action)
}

func (o *recordingObserver) ObserveLLMFallback(component, provider string) {
	o.fallbacks = append(o.fallbacks, component+":"+provider)
}

func (o *recordingObserver) ObserveAgentRun(tool domain.ToolKind, _ bool, _ time.Duration) {
	o.runs = append(o.runs, tool)
}

func (o *recordingObserver) ObserveCorrelation(report domain.CorrelationReport) {
	o.reports = append(o.reports, report)
}

func testThread() domain.CampaignLead {
	return domain.CampaignLead{
		ID: "thread-1",
		Campaign: domain.Campaign{
			ID:          "camp-1",
			Name:        "Launch",
			ProjectName: "Skyline Towers",
			Channel:     domain.ChannelEmail,
			IsActive:    true,
		},
		Lead: domain.Lead{
			LeadID:      "L-1",
			Name:        "Asha",
			Email:       "asha@example.com",
			ProjectName: "Skyline Towers",
			Status:      domain.LeadConnected,
		},
		MessageSent:    true,
		EmailMessageID: "<abc-123>",
	}
}
