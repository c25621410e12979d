package events

import "time"

// BlockedIP is an operator response action recorded in the block list.
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedBy string    `json:"blocked_by"`
	BlockedAt time.Time `json:"blocked_at"`
}

// DefaultBlockedBy is recorded when the caller does not name an operator.
const DefaultBlockedBy = "admin"
