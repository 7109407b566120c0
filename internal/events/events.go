package events

import "time"

// Kind identifies the shape of an envelope's payload. The enumeration is
// closed: new notification types are added as new constants with their own
// payload struct, never by loosening an existing one.
type Kind string

const (
	KindConnected     Kind = "connected"
	KindSyncCompleted Kind = "sync-completed"
	KindEmailReceived Kind = "email-received"
	KindDraftSaved    Kind = "draft-saved"
	KindEmailDeleted  Kind = "email-deleted"
)

// SyncType distinguishes a full mailbox sync from an incremental one.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// ConnectedPayload is sent once when a subscription stream opens, so the
// client can distinguish "stream open" from "still connecting".
type ConnectedPayload struct {
	AccountID string `json:"accountId"`
	Timestamp string `json:"timestamp"`
}

// SyncCompletedPayload reports the outcome of one mailbox sync run.
type SyncCompletedPayload struct {
	SyncType          SyncType `json:"syncType"`
	ThreadsProcessed  uint     `json:"threadsProcessed"`
	MessagesProcessed uint     `json:"messagesProcessed"`
	DurationMs        uint     `json:"durationMs"`
}

// EmailReceivedPayload announces a newly arrived message.
type EmailReceivedPayload struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
}

// DraftSavedPayload announces a draft autosave.
type DraftSavedPayload struct {
	DraftID string `json:"draftId"`
	Subject string `json:"subject"`
}

// EmailDeletedPayload announces a message deletion.
type EmailDeletedPayload struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// Envelope is a typed notification for one mailbox account. Payload holds
// exactly the struct matching Kind; no envelope mixes fields from two kinds.
type Envelope struct {
	Kind      Kind   `json:"kind"`
	AccountID string `json:"accountId"`
	Payload   any    `json:"payload"`
}

func NewConnected(accountID string) Envelope {
	return Envelope{
		Kind:      KindConnected,
		AccountID: accountID,
		Payload: ConnectedPayload{
			AccountID: accountID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func NewSyncCompleted(accountID string, p SyncCompletedPayload) Envelope {
	return Envelope{Kind: KindSyncCompleted, AccountID: accountID, Payload: p}
}

func NewEmailReceived(accountID string, p EmailReceivedPayload) Envelope {
	return Envelope{Kind: KindEmailReceived, AccountID: accountID, Payload: p}
}

func NewDraftSaved(accountID string, p DraftSavedPayload) Envelope {
	return Envelope{Kind: KindDraftSaved, AccountID: accountID, Payload: p}
}

func NewEmailDeleted(accountID string, p EmailDeletedPayload) Envelope {
	return Envelope{Kind: KindEmailDeleted, AccountID: accountID, Payload: p}
}

// Broadcaster delivers envelopes to connected clients of an account.
type Broadcaster interface {
	Broadcast(accountID string, e Envelope)
}
