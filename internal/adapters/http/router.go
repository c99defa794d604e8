package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/config"
	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
	"github.com/nurturingai/leadnurture/internal/observability/metrics"
)

const (
	maxJSONBody    = 1 << 20
	maxUploadBytes = 32 << 20
)

// Services are the inbound ports the API exposes. Nil services answer 503.
type Services struct {
	Agent     ports.AgentService
	Intent    ports.IntentClassifier
	Ingest    ports.BrochureIngestor
	Brochures ports.BrochureReader
	Replies   ports.ReplyProcessor
	Trigger   ports.ReplyCheckTrigger
}

type Router struct {
	cfg      config.Config
	services Services
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(cfg config.Config, services Services, httpMetrics *metrics.HTTPServerMetrics) *Router {
	return &Router{
		cfg:      cfg,
		services: services,
		metrics:  httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/agent/query", rt.agentQuery)
	api.HandleFunc("POST /v1/intent/classify", rt.classifyIntent)
	api.HandleFunc("POST /v1/brochures", rt.uploadBrochure)
	api.HandleFunc("GET /v1/brochures/{id}", rt.getBrochure)
	api.HandleFunc("POST /v1/replies/check", rt.triggerReplyCheck)
	api.HandleFunc("POST /v1/replies/process-pending", rt.processPending)

	var limited http.Handler = api
	limited = backpressureMiddleware(limited, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIQueueWaitTimeout)*time.Millisecond, rt.recordRejected)
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.recordRejected)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("/v1/", limited)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type agentQueryRequest struct {
	Query       string `json:"query"`
	ProjectName string `json:"project_name"`
}

type agentQueryResponse struct {
	Response string          `json:"response"`
	ToolUsed domain.ToolKind `json:"tool_used"`
	Provider string          `json:"provider,omitempty"`
	Failed   bool            `json:"failed"`
	SQL      string          `json:"sql,omitempty"`
	Columns  []string        `json:"columns,omitempty"`
	Rows     [][]any         `json:"rows,omitempty"`
	Sources  []string        `json:"sources,omitempty"`
}

func (rt *Router) agentQuery(w http.ResponseWriter, r *http.Request) {
	if rt.services.Agent == nil {
		writeUnavailable(w, "agent")
		return
	}

	var req agentQueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result := rt.services.Agent.Query(r.Context(), domain.QueryContext{
		Query:       strings.TrimSpace(req.Query),
		ProjectName: strings.TrimSpace(req.ProjectName),
	})
	writeJSON(w, http.StatusOK, toAgentQueryResponse(result))
}

func toAgentQueryResponse(result domain.AgentResult) agentQueryResponse {
	resp := agentQueryResponse{
		Response: result.Response,
		ToolUsed: result.ToolUsed,
		Provider: result.Provider(),
		Failed:   result.Failed(),
	}
	switch v := result.Result.(type) {
	case domain.SQLAnswer:
		resp.SQL = v.SQL
		resp.Columns = v.Columns
		resp.Rows = v.Rows
	case domain.DocumentAnswer:
		seen := make(map[string]struct{}, len(v.Chunks))
		for _, chunk := range v.Chunks {
			source := chunk.Source()
			if _, ok := seen[source]; ok || source == "" {
				continue
			}
			seen[source] = struct{}{}
			resp.Sources = append(resp.Sources, source)
		}
	}
	return resp
}

type classifyRequest struct {
	Message     string `json:"message"`
	ProjectName string `json:"project_name"`
	LeadName    string `json:"lead_name"`
}

func (rt *Router) classifyIntent(w http.ResponseWriter, r *http.Request) {
	if rt.services.Intent == nil {
		writeUnavailable(w, "intent classifier")
		return
	}

	var req classifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result := rt.services.Intent.ClassifyIntent(r.Context(), req.Message, req.ProjectName, req.LeadName)
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) uploadBrochure(w http.ResponseWriter, r *http.Request) {
	if rt.services.Ingest == nil {
		writeUnavailable(w, "brochure ingestion")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	brochure, err := rt.services.Ingest.Upload(
		r.Context(),
		r.FormValue("project_name"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeDomainError(w, r, "upload brochure", err)
		return
	}

	writeJSON(w, http.StatusAccepted, brochure)
}

func (rt *Router) getBrochure(w http.ResponseWriter, r *http.Request) {
	if rt.services.Brochures == nil {
		writeUnavailable(w, "brochures")
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "brochure id is required")
		return
	}

	brochure, err := rt.services.Brochures.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "get brochure", err)
		return
	}
	writeJSON(w, http.StatusOK, brochure)
}

type replyCheckRequest struct {
	Days int `json:"days"`
}

func (rt *Router) triggerReplyCheck(w http.ResponseWriter, r *http.Request) {
	if rt.services.Trigger == nil {
		writeUnavailable(w, "reply check trigger")
		return
	}

	var req replyCheckRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.Days < 0 {
		writeError(w, http.StatusBadRequest, "days must not be negative")
		return
	}
	days := req.Days
	if days == 0 {
		days = rt.cfg.ReplyLookbackDays
	}

	if err := rt.services.Trigger.PublishReplyCheck(r.Context(), days); err != nil {
		writeDomainError(w, r, "trigger reply check", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "lookback_days": days})
}

type processPendingRequest struct {
	Limit int  `json:"limit"`
	Force bool `json:"force"`
}

func (rt *Router) processPending(w http.ResponseWriter, r *http.Request) {
	if rt.services.Replies == nil {
		writeUnavailable(w, "reply processing")
		return
	}

	var req processPendingRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = rt.cfg.ReplyBatchLimit
	}

	report, err := rt.services.Replies.ProcessPending(r.Context(), limit, req.Force)
	if err != nil {
		writeDomainError(w, r, "process pending replies", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body as the zero request.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid json")
	return false
}

func writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "operation", op, "error", err)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func writeUnavailable(w http.ResponseWriter, component string) {
	writeError(w, http.StatusServiceUnavailable, component+" is not configured")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
