package models

import "time"

// OverrideThreshold - hiscores не показывают журналы коллекций меньше этого значения.
const OverrideThreshold = 500

// Override is an administrator supplied total for an owner whose real total is hidden upstream.
type Override struct {
	OwnerID OwnerID   `json:"owner_id,string" db:"owner_id"`
	Total   int       `json:"total" db:"total"`
	SetBy   OwnerID   `json:"set_by,string" db:"set_by"`
	SetAt   time.Time `json:"set_at" db:"set_at"`
}
