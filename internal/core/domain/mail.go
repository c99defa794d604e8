package domain

import "time"

// InboundMessage keeps header values as received, brackets included.
type InboundMessage struct {
	MessageID  string
	InReplyTo  string
	References string
	From       string
	To         string
	Subject    string
	Date       time.Time
	Body       string
}

type OutboundMessage struct {
	MessageID  string
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
}

type SalesNotification struct {
	Thread          CampaignLead
	Intent          IntentResult
	CustomerMessage string
	Subject         string
	Body            string
}
