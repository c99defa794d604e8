package domain

type ActionTaken string

const (
	ActionNotifiedSales ActionTaken = "notified_sales"
	ActionSentReply     ActionTaken = "sent_reply"
	ActionSkipped       ActionTaken = "skipped"
	ActionEmailFailed   ActionTaken = "email_failed"
	ActionEmailError    ActionTaken = "email_error"
	ActionError         ActionTaken = "error"
)

// Final reports whether the entry should be marked auto-reply processed.
func (a ActionTaken) Final() bool {
	switch a {
	case ActionNotifiedSales, ActionSentReply, ActionSkipped, ActionEmailError:
		return true
	default:
		return false
	}
}

type ReplyOutcome struct {
	Success          bool        `json:"success"`
	ActionTaken      ActionTaken `json:"action_taken"`
	AgentResponse    string      `json:"agent_response,omitempty"`
	Intent           Intent      `json:"intent,omitempty"`
	Confidence       float64     `json:"confidence"`
	NotificationSent bool        `json:"notification_sent"`
	Error            string      `json:"error,omitempty"`
}

const MaxReportedErrors = 10

type CorrelationReport struct {
	Processed            int      `json:"processed"`
	NewReplies           int      `json:"new_replies"`
	AutoReplies          int      `json:"auto_replies"`
	SkippedNoReplyHeader int      `json:"skipped_no_reply_header"`
	SkippedNoMatch       int      `json:"skipped_no_match"`
	SkippedDuplicate     int      `json:"skipped_duplicate"`
	Errors               []string `json:"errors"`
}

func (r *CorrelationReport) AddError(msg string) {
	if len(r.Errors) < MaxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

type PendingEntryResult struct {
	EntryID string       `json:"entry_id"`
	Outcome ReplyOutcome `json:"outcome"`
}

type PendingBatchReport struct {
	Selected  int                  `json:"selected"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Results   []PendingEntryResult `json:"results"`
}

type CampaignSendReport struct {
	CampaignID string   `json:"campaign_id"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

type LeadImportReport struct {
	Rows     int      `json:"rows"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}
