package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/config"
	"github.com/nurturingai/leadnurture/internal/core/ports"
	"github.com/nurturingai/leadnurture/internal/core/usecase"
	"github.com/nurturingai/leadnurture/internal/infrastructure/chunking"
	"github.com/nurturingai/leadnurture/internal/infrastructure/extractor"
	"github.com/nurturingai/leadnurture/internal/infrastructure/extractor/pdf"
	"github.com/nurturingai/leadnurture/internal/infrastructure/extractor/plaintext"
	"github.com/nurturingai/leadnurture/internal/infrastructure/llm/anthropic"
	"github.com/nurturingai/leadnurture/internal/infrastructure/llm/ollama"
	"github.com/nurturingai/leadnurture/internal/infrastructure/llm/openai"
	"github.com/nurturingai/leadnurture/internal/infrastructure/llm/pool"
	"github.com/nurturingai/leadnurture/internal/infrastructure/lock"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail/imap"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail/ses"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail/smtp"
	"github.com/nurturingai/leadnurture/internal/infrastructure/notify"
	"github.com/nurturingai/leadnurture/internal/infrastructure/queue/nats"
	"github.com/nurturingai/leadnurture/internal/infrastructure/repository/sqlstore"
	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
	"github.com/nurturingai/leadnurture/internal/infrastructure/spreadsheet"
	"github.com/nurturingai/leadnurture/internal/infrastructure/sqltraining"
	"github.com/nurturingai/leadnurture/internal/infrastructure/storage/localfs"
	"github.com/nurturingai/leadnurture/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue     *nats.Queue
	Brochures ports.BrochureRepository
	Observer  ports.PipelineObserver

	IngestUC   ports.BrochureIngestor
	ProcessUC  ports.BrochureProcessor
	Agent      ports.AgentService
	Classifier ports.IntentClassifier
	Replies    ports.ReplyProcessor
	Campaigns  ports.CampaignSender
	Leads      ports.LeadImporter

	// Correlator is nil when no IMAP mailbox is configured.
	Correlator ports.ReplyCorrelator

	closeFns []func()
}

// New wires the application. observer receives pipeline metrics and may be nil.
func New(ctx context.Context, cfg config.Config, observer ports.PipelineObserver) (*App, error) {
	if observer == nil {
		observer = ports.NoopObserver{}
	}
	app := &App{Config: cfg, Observer: observer}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.OpenDB(dialect, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := sqlstore.EnsureSchema(ctx, db, dialect); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	brochures := sqlstore.NewBrochureRepository(db)
	conversations := sqlstore.NewConversationRepository(db)
	campaigns := sqlstore.NewCampaignRepository(db)
	structured := sqlstore.NewQueryExecutor(db, dialect, cfg.SQLMaxRows, 30*time.Second)
	app.Brochures = brochures

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, nats.Options{
		BrochureSubject:    cfg.NATSBrochureSubject,
		ReplyCheckSubject:  cfg.NATSReplyCheckSubject,
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.Queue = queue
	app.onClose(queue.Close)

	llmTimeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel,
		ollama.WithExecutor(executor),
		ollama.WithTimeout(llmTimeout),
	)
	llmPool, err := pool.New(ctx, llmBackends(cfg, ollamaClient, executor, llmTimeout), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("init llm pool: %w", err)
	}
	preferred := cfg.LLMPreferredProviders

	embedder := ollama.NewEmbedder(ollamaClient)
	brochureStore := qdrant.New(cfg.QdrantURL, cfg.QdrantBrochureCollection, embedder, executor)
	trainingStore := qdrant.New(cfg.QdrantURL, cfg.QdrantTrainingCollection, embedder, executor)

	corpus, err := sqltraining.Load()
	if err != nil {
		return nil, fmt.Errorf("load sql training corpus: %w", err)
	}
	sqlDialect := cfg.SQLDialect
	if sqlDialect == "" {
		sqlDialect = dialect.Name()
	}
	sqlTool := usecase.NewTextToSQLTool(trainingStore, structured, llmPool, observer, corpus, sqlDialect, cfg.SQLTopK, preferred)
	if err := sqlTool.EnsureTraining(ctx); err != nil {
		// Seeding is retried on the first text-to-SQL query.
		slog.Warn("sql_training_seed_deferred", "error", err)
	}
	ragTool := usecase.NewDocumentRAGTool(brochureStore, llmPool, observer, cfg.RAGTopK, preferred)
	agent := usecase.NewRouterAgent(llmPool, sqlTool, ragTool, observer, preferred)
	classifier := usecase.NewIntentClassifier(llmPool, observer, preferred)

	sender, err := newMailSender(ctx, cfg, executor)
	if err != nil {
		return nil, err
	}
	notifier, err := newSalesNotifier(ctx, cfg, sender)
	if err != nil {
		return nil, err
	}
	locker, err := newLocker(ctx, cfg, app)
	if err != nil {
		return nil, err
	}
	lockTTL := time.Duration(cfg.LockTTLSeconds) * time.Second

	orchestrator := usecase.NewReplyOrchestrator(conversations, classifier, agent, sender, notifier, locker, observer,
		usecase.ReplyOrchestratorConfig{
			GoalThreshold:   cfg.GoalConfidenceThreshold,
			MessageIDDomain: cfg.MessageIDDomain,
			LockTTL:         lockTTL,
		})

	pdfExtractor := pdf.NewExtractor(storage)
	textExtractor := plaintext.NewExtractor(storage)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	app.IngestUC = usecase.NewIngestBrochureUseCase(brochures, storage, queue)
	app.ProcessUC = usecase.NewProcessBrochureUseCase(brochures, extractor.NewByType(pdfExtractor, textExtractor), chunker, brochureStore)
	app.Agent = agent
	app.Classifier = classifier
	app.Replies = orchestrator
	app.Campaigns = usecase.NewSendCampaignUseCase(campaigns, conversations, llmPool, sender, observer, cfg.MessageIDDomain, preferred)
	app.Leads = usecase.NewImportLeadsUseCase(spreadsheet.NewExcelReader(), campaigns)

	if strings.TrimSpace(cfg.IMAPHost) != "" {
		fetcher, err := imap.NewFetcher(imap.Config{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			Username: cfg.IMAPUser,
			Password: cfg.IMAPPassword,
			Mailbox:  cfg.IMAPMailbox,
			UseTLS:   cfg.IMAPUseTLS,
		}, executor)
		if err != nil {
			return nil, fmt.Errorf("init imap fetcher: %w", err)
		}
		app.Correlator = usecase.NewReplyCorrelator(fetcher, conversations, orchestrator, locker, observer, lockTTL)
	} else {
		slog.Warn("reply_correlation_disabled", "reason", "IMAP_HOST is not set")
	}

	slog.Info("bootstrap_completed",
		"db_driver", string(dialect),
		"llm_providers", llmPool.Providers(),
		"mail_transport", cfg.MailTransport,
	)
	ready = true
	return app, nil
}

func llmBackends(cfg config.Config, ollamaClient *ollama.Client, executor *resilience.Executor, timeout time.Duration) []pool.Backend {
	backends := []pool.Backend{
		{
			Name:  "openai",
			Model: cfg.OpenAIModel,
			Init: func(context.Context) (pool.Factory, error) {
				client, err := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, timeout, executor)
				if err != nil {
					return nil, err
				}
				return func(temperature float64) ports.LLM { return client.Chat(temperature) }, nil
			},
		},
		{
			Name:  "anthropic",
			Model: cfg.AnthropicModel,
			Init: func(context.Context) (pool.Factory, error) {
				client, err := anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, "", timeout, executor)
				if err != nil {
					return nil, err
				}
				return func(temperature float64) ports.LLM { return client.Messages(temperature) }, nil
			},
		},
	}
	if cfg.OllamaEnabled {
		backends = append(backends, pool.Backend{
			Name:  "ollama",
			Model: cfg.OllamaGenModel,
			Init: func(ctx context.Context) (pool.Factory, error) {
				if err := ollamaClient.Ping(ctx); err != nil {
					return nil, err
				}
				return func(temperature float64) ports.LLM { return ollama.NewGenerator(ollamaClient, temperature) }, nil
			},
		})
	}
	return backends
}

func newMailSender(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.MailSender, error) {
	from := mail.Sender{Address: cfg.MailFrom, Name: cfg.MailFromName}

	var transport ports.MailSender
	switch strings.ToLower(strings.TrimSpace(cfg.MailTransport)) {
	case "", "smtp":
		security, err := smtp.ParseSecurity(cfg.SMTPSecurity)
		if err != nil {
			return nil, err
		}
		sender, err := smtp.NewSender(smtp.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     from,
			Security: security,
		}, executor)
		if err != nil {
			return nil, fmt.Errorf("init smtp sender: %w", err)
		}
		transport = sender
	case "ses":
		sender, err := ses.New(ctx, ses.Config{
			Region:           cfg.AWSRegion,
			From:             from,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, executor)
		if err != nil {
			return nil, fmt.Errorf("init ses sender: %w", err)
		}
		transport = sender
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", cfg.MailTransport)
	}
	return mail.NewRateLimitedSender(transport, cfg.MailRatePerSec, 1), nil
}

// newSalesNotifier fans out to every configured channel. Email to the sales
// team is always attempted when SALES_TEAM_EMAIL is set.
func newSalesNotifier(ctx context.Context, cfg config.Config, sender ports.MailSender) (ports.SalesNotifier, error) {
	var channels []notify.Channel
	if cfg.SalesTeamEmail != "" {
		email, err := notify.NewEmailNotifier(sender, cfg.SalesTeamEmail, cfg.MessageIDDomain)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.Channel{Name: "email", Notifier: email})
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		slack, err := notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, cfg.SlackAPIURL)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.Channel{Name: "slack", Notifier: slack})
	}
	if cfg.SNSSalesTopicARN != "" {
		sns, err := notify.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSSalesTopicARN)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.Channel{Name: "sns", Notifier: sns})
	}
	if len(channels) == 0 {
		slog.Warn("sales_notification_unconfigured")
	}
	return notify.NewFanout(channels...), nil
}

func newLocker(ctx context.Context, cfg config.Config, app *App) (ports.Locker, error) {
	if cfg.RedisAddr == "" {
		slog.Info("lock_backend_selected", "backend", "local")
		return lock.NewLocalLocker(), nil
	}
	client, err := lock.NewRedisClient(ctx, lock.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("init redis locker: %w", err)
	}
	app.onClose(func() { _ = client.Close() })
	slog.Info("lock_backend_selected", "backend", "redis", "addr", cfg.RedisAddr)
	return lock.NewRedisLocker(client, ""), nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	base := resilience.Policy{
		MaxAttempts:             cfg.ResilienceMaxAttempts,
		InitialBackoff:          time.Duration(cfg.ResilienceInitialBackoffMS) * time.Millisecond,
		MaxBackoff:              time.Duration(cfg.ResilienceMaxBackoffMS) * time.Millisecond,
		Multiplier:              2.0,
		BreakerEnabled:          cfg.ResilienceBreakerEnabled,
		BreakerFailureRatio:     cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.ResilienceBreakerOpenSeconds) * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
	if cfg.ResilienceBreakerMinRequests > 0 {
		base.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	return resilience.NewConfig(base, cfg.ResilienceLLMMaxAttempts, cfg.ResilienceMailMaxAttempts)
}
