package domain

type ToolKind string

const (
	ToolTextToSQL    ToolKind = "text_to_sql"
	ToolDocumentRAG  ToolKind = "document_rag"
	ToolAcknowledge  ToolKind = "acknowledgment"
	ToolFallback     ToolKind = "fallback"
	ToolCampaignSend ToolKind = "campaign"
)

type QueryContext struct {
	Query       string `json:"query"`
	ProjectName string `json:"project_name,omitempty"`
}

// ToolResult is implemented by DocumentAnswer, SQLAnswer and ToolFailure.
type ToolResult interface {
	Tool() ToolKind
	isToolResult()
}

type DocumentAnswer struct {
	Chunks   []SemanticMatch `json:"chunks"`
	Response string          `json:"response"`
	Provider string          `json:"provider,omitempty"`
}

func (DocumentAnswer) Tool() ToolKind { return ToolDocumentRAG }
func (DocumentAnswer) isToolResult()  {}

type SQLAnswer struct {
	SQL      string   `json:"sql"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	Response string   `json:"response"`
	Provider string   `json:"provider,omitempty"`
}

func (SQLAnswer) Tool() ToolKind { return ToolTextToSQL }
func (SQLAnswer) isToolResult()  {}

// ToolFailure carries a user-safe Response next to operator-only detail.
type ToolFailure struct {
	Kind     ToolKind `json:"tool"`
	Response string   `json:"response,omitempty"`
	Error    string   `json:"error"`
	Details  []string `json:"details,omitempty"`
	SQL      string   `json:"sql,omitempty"`
}

func (f ToolFailure) Tool() ToolKind { return f.Kind }
func (ToolFailure) isToolResult()    {}

type AgentResult struct {
	Response string     `json:"response"`
	ToolUsed ToolKind   `json:"tool_used"`
	Result   ToolResult `json:"result"`
}

func (r AgentResult) Provider() string {
	switch v := r.Result.(type) {
	case DocumentAnswer:
		return v.Provider
	case SQLAnswer:
		return v.Provider
	default:
		return ""
	}
}

func (r AgentResult) Failed() bool {
	_, ok := r.Result.(ToolFailure)
	return ok
}
