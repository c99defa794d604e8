package domain

import "time"

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
)

// ConversationEntry is append-only; entries of one thread ordered by
// CreatedAt form the transcript.
type ConversationEntry struct {
	ID                 string    `json:"id"`
	ThreadID           string    `json:"thread_id"`
	Sender             Sender    `json:"sender"`
	Message            string    `json:"message"`
	ToolUsed           ToolKind  `json:"tool_used,omitempty"`
	EmailMessageID     string    `json:"email_message_id,omitempty"`
	EmailInReplyTo     string    `json:"email_in_reply_to,omitempty"`
	SalesTeamNotified  bool      `json:"sales_team_notified"`
	AutoReplyProcessed bool      `json:"auto_reply_processed"`
	CreatedAt          time.Time `json:"created_at"`
}
