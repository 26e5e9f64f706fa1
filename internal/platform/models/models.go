package models

// Notification statuses. done and failed are terminal; failed only once the
// attempt budget is exhausted.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

type Notification struct {
	ID             int64   `json:"id"`
	SubscriptionID string  `json:"subscription_id"`
	Resource       string  `json:"resource"`
	CreatorID      string  `json:"creator_id,omitempty"`
	PayloadJSON    string  `json:"-"`
	Status         string  `json:"status"`
	Attempts       int     `json:"attempts"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	CreatedAt      int64   `json:"created_at"`
}

type Message struct {
	ID             int64  `json:"id"`
	MessageID      string `json:"message_id"`
	NormalizedJSON string `json:"-"`
	RawJSON        string `json:"-"`
	IngestedAt     int64  `json:"ingested_at"`
}

// SubscriptionRecord is the local registry entry for a watch we created,
// keeping the creator on file so the worker can pick the right credential.
type SubscriptionRecord struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	CreatorID string `json:"creator_id,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type Credential struct {
	PrincipalID    string `json:"principal_id"`
	PrincipalLabel string `json:"principal_label"`
	AccessToken    string `json:"-"`
	RefreshToken   string `json:"-"`
	ExpiresAt      int64  `json:"expires_at"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}
