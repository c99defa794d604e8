package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/adapters/poller"
	"github.com/nurturingai/leadnurture/internal/config"
	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

type services struct {
	Agent      ports.AgentService
	Ingest     ports.BrochureIngestor
	Process    ports.BrochureProcessor
	Replies    ports.ReplyProcessor
	Correlator ports.ReplyCorrelator
	Leads      ports.LeadImporter
	Campaigns  ports.CampaignSender
}

type commands struct {
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
	open   func(ctx context.Context) (services, func(), error)
}

var errUsage = errors.New("usage error")

func (c *commands) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		c.usage()
		return errUsage
	}
	switch args[0] {
	case "check-replies":
		return c.checkReplies(ctx, args[1:])
	case "process-pending":
		return c.processPending(ctx, args[1:])
	case "ask":
		return c.ask(ctx, args[1:])
	case "ingest-brochure":
		return c.ingestBrochure(ctx, args[1:])
	case "import-leads":
		return c.importLeads(ctx, args[1:])
	case "create-campaign":
		return c.createCampaign(ctx, args[1:])
	case "send-campaign":
		return c.sendCampaign(ctx, args[1:])
	case "help", "-h", "--help":
		c.usage()
		return nil
	default:
		c.usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func (c *commands) usage() {
	fmt.Fprintln(c.stderr, `usage: nurturectl <command> [flags]

commands:
  check-replies    [-days N] [-once] [-interval D]
  process-pending  [-limit N] [-force]
  ask              -q QUESTION [-project NAME]
  ingest-brochure  -file PATH -project NAME [-process]
  import-leads     -file leads.xlsx
  create-campaign  -name NAME -project NAME [-offer TEXT] [-channel email|whatsapp] [-inactive]
  send-campaign    -campaign ID`)
}

func (c *commands) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *commands) checkReplies(ctx context.Context, args []string) error {
	fs := c.flags("check-replies")
	days := fs.Int("days", c.cfg.ReplyLookbackDays, "lookback window in days")
	once := fs.Bool("once", false, "run a single pass and exit")
	interval := fs.Duration("interval", time.Minute, "poll interval when not running once")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 0 {
		return fmt.Errorf("%w: -days must not be negative", errUsage)
	}
	if !*once && *interval < time.Second {
		return fmt.Errorf("%w: -interval must be at least 1s", errUsage)
	}

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	if svc.Correlator == nil {
		return errors.New("reply correlation is disabled: set IMAP_HOST")
	}

	p, err := poller.New(svc.Correlator, "@every "+interval.String(), *days, nil)
	if err != nil {
		return err
	}
	if *once {
		report, err := p.RunOnce(ctx, *days)
		if err != nil {
			return err
		}
		return c.printJSON(report)
	}
	return p.Run(ctx)
}

func (c *commands) processPending(ctx context.Context, args []string) error {
	fs := c.flags("process-pending")
	limit := fs.Int("limit", c.cfg.ReplyBatchLimit, "maximum entries to process")
	force := fs.Bool("force", false, "include entries already auto-processed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("%w: -limit must be positive", errUsage)
	}

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := svc.Replies.ProcessPending(ctx, *limit, *force)
	if err != nil {
		return err
	}
	return c.printJSON(report)
}

func (c *commands) ask(ctx context.Context, args []string) error {
	fs := c.flags("ask")
	question := fs.String("q", "", "question for the agent")
	project := fs.String("project", "", "project name used to scope brochure search")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*question) == "" {
		return fmt.Errorf("%w: -q is required", errUsage)
	}

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result := svc.Agent.Query(ctx, domain.QueryContext{
		Query:       strings.TrimSpace(*question),
		ProjectName: strings.TrimSpace(*project),
	})
	out := struct {
		Response string          `json:"response"`
		ToolUsed domain.ToolKind `json:"tool_used"`
		Provider string          `json:"provider,omitempty"`
		Result   any             `json:"result,omitempty"`
	}{
		Response: result.Response,
		ToolUsed: result.ToolUsed,
		Provider: result.Provider(),
		Result:   result.Result,
	}
	return c.printJSON(out)
}

func (c *commands) ingestBrochure(ctx context.Context, args []string) error {
	fs := c.flags("ingest-brochure")
	path := fs.String("file", "", "brochure file (pdf or text)")
	project := fs.String("project", "", "project the brochure describes")
	process := fs.Bool("process", false, "chunk and index immediately instead of waiting for the worker")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" || strings.TrimSpace(*project) == "" {
		return fmt.Errorf("%w: -file and -project are required", errUsage)
	}

	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("open brochure: %w", err)
	}
	defer f.Close()

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	name := filepath.Base(*path)
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	brochure, err := svc.Ingest.Upload(ctx, *project, name, mimeType, f)
	if err != nil {
		return err
	}
	if *process {
		if err := svc.Process.ProcessByID(ctx, brochure.ID); err != nil {
			return fmt.Errorf("process brochure %s: %w", brochure.ID, err)
		}
	}
	return c.printJSON(brochure)
}

func (c *commands) importLeads(ctx context.Context, args []string) error {
	fs := c.flags("import-leads")
	path := fs.String("file", "", "lead spreadsheet (.xlsx)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("%w: -file is required", errUsage)
	}

	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("open lead sheet: %w", err)
	}
	defer f.Close()

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := svc.Leads.ImportLeads(ctx, f)
	if err != nil {
		return err
	}
	return c.printJSON(report)
}

func (c *commands) createCampaign(ctx context.Context, args []string) error {
	fs := c.flags("create-campaign")
	name := fs.String("name", "", "campaign name")
	project := fs.String("project", "", "project whose leads are enrolled")
	offer := fs.String("offer", "", "offer details mentioned in generated messages")
	channel := fs.String("channel", string(domain.ChannelEmail), "email or whatsapp")
	inactive := fs.Bool("inactive", false, "create the campaign disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*project) == "" {
		return fmt.Errorf("%w: -name and -project are required", errUsage)
	}

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	campaign, err := svc.Campaigns.CreateCampaign(ctx, domain.Campaign{
		Name:         *name,
		ProjectName:  *project,
		Channel:      domain.Channel(strings.ToLower(strings.TrimSpace(*channel))),
		OfferDetails: strings.TrimSpace(*offer),
		IsActive:     !*inactive,
	})
	if err != nil {
		return err
	}
	return c.printJSON(campaign)
}

func (c *commands) sendCampaign(ctx context.Context, args []string) error {
	fs := c.flags("send-campaign")
	campaignID := fs.String("campaign", "", "campaign id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*campaignID) == "" {
		return fmt.Errorf("%w: -campaign is required", errUsage)
	}

	svc, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := svc.Campaigns.SendCampaign(ctx, strings.TrimSpace(*campaignID))
	if err != nil {
		return err
	}
	return c.printJSON(report)
}

func (c *commands) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
