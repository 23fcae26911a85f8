package domain

import "time"

// Routing keys published on the events exchange.
const (
	EventCredentialLinked  = "credential.linked"
	EventCredentialRevoked = "credential.revoked"
	EventBenefactorLinked  = "benefactor.linked"
	EventSyncCompleted     = "sync.completed"
)

// CredentialEvent is published after a credential is persisted or revoked.
// The access token is never part of an event.
type CredentialEvent struct {
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
}

// BenefactorLinkedEvent is published after credentials are shared with a benefactor.
type BenefactorLinkedEvent struct {
	PrimaryUserID      string    `json:"primary_user_id"`
	BenefactorUsername string    `json:"benefactor_username"`
	SharedCredentials  int       `json:"shared_credentials"`
	Mode               string    `json:"mode"`
	Timestamp          time.Time `json:"timestamp"`
}

// SyncCompletedEvent summarizes one full-history sync run.
type SyncCompletedEvent struct {
	UserID    string             `json:"user_id"`
	Added     int                `json:"added"`
	Removed   int                `json:"removed"`
	Manifest  []CredentialResult `json:"manifest"`
	Timestamp time.Time          `json:"timestamp"`
}
