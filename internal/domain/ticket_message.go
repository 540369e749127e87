package domain

import "time"

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeCustomer MessageAuthorType = "customer"
	AuthorTypeSupport  MessageAuthorType = "support"
	AuthorTypeSystem   MessageAuthorType = "system"
)

// TicketMessage is an append-only communication or audit record.
type TicketMessage struct {
	ID                string
	TicketID          string
	AuthorType        MessageAuthorType
	AuthorName        string
	Message           string
	Metadata          map[string]any
	InternalOnly      bool
	QuickReplyOptions []string
	CreatedAt         time.Time
}

// CustomerVisible reports whether the customer can see the message.
func (m *TicketMessage) CustomerVisible() bool {
	return !m.InternalOnly
}

// MessageKind values stored under metadata["kind"].
const (
	MessageKindApprovalRequest = "approval_request"
	MessageKindAutopatch       = "autopatch"
	MessageKindErrorHandler    = "error_handler"
	MessageKindEscalation      = "escalation"
	MessageKindTier2           = "tier2"
)
