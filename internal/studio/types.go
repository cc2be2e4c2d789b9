package studio

import (
	"context"
	"errors"
	"time"

	"lumen.studio/internal/auth"
)

var ErrNotFound = errors.New("studio: not found")

// TimeEntry is a persisted time log with its eligibility classification.
type TimeEntry struct {
	ID               string    `json:"id"`
	TalentID         string    `json:"talent_id"`
	ContractID       *string   `json:"contract_id,omitempty"`
	WorkDate         string    `json:"work_date"`
	ReportedHours    float64   `json:"reported_hours"`
	EligibleHours    float64   `json:"eligible_hours"`
	ReportedState    *string   `json:"reported_state,omitempty"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	LocationVerified bool      `json:"location_verified"`
	Notes            *string   `json:"notes,omitempty"`
	IdempotencyKey   *string   `json:"-"`
	CreatedBy        *string   `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Contract is an agreement between a creator and a client.
type Contract struct {
	ID          string    `json:"id"`
	CreatorID   string    `json:"creator_id"`
	ClientID    string    `json:"client_id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Amount      *float64  `json:"amount,omitempty"`
	Currency    string    `json:"currency"`
	LegalEntity *string   `json:"legal_entity,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the query surface both data-access handles offer. Which handle a
// request gets decides whether row-level policies apply.
type Store interface {
	Kind() string
	TalentEligible(ctx context.Context, talentID string) (bool, error)
	// InsertTimeEntry stores e unless its idempotency key was seen before,
	// in which case the original entry is returned with created=false.
	InsertTimeEntry(ctx context.Context, e TimeEntry) (saved TimeEntry, created bool, err error)
	// ListTimeEntries returns at most q.Limit entries, newest work date
	// first, strictly after q.After when it is set.
	ListTimeEntries(ctx context.Context, q TimeEntryQuery) ([]TimeEntry, error)
	// ContractParties returns the creator and client of a contract even when
	// row-level policy hides the contract itself from the caller.
	ContractParties(ctx context.Context, id string) (creatorID, clientID string, err error)
	GetContract(ctx context.Context, id string) (Contract, error)
}

// TimeEntryQuery selects one page of a talent's entries.
type TimeEntryQuery struct {
	TalentID string
	Limit    int
	After    *Cursor
}

// StoreSource mints per-request handles.
type StoreSource interface {
	PrivilegedStore(ctx context.Context) (Store, error)
	ScopedStore(ctx context.Context, cred auth.Credential) (Store, error)
}
