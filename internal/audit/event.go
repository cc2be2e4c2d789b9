package audit

import (
	"fmt"
	"strings"
	"time"

	"lumen.studio/internal/auth"
)

// Category is the legal/financial classification of a compliance event.
type Category string

const (
	CategoryCompliance   Category = "compliance"
	CategoryFinancial    Category = "financial"
	CategoryAccess       Category = "access"
	CategoryDataChange   Category = "data_change"
	CategoryTaxReporting Category = "tax_reporting"
	CategoryLegal        Category = "legal"
)

// Categories lists every accepted category.
var Categories = []Category{
	CategoryCompliance, CategoryFinancial, CategoryAccess,
	CategoryDataChange, CategoryTaxReporting, CategoryLegal,
}

// ParseCategory accepts only the literal category values.
func ParseCategory(raw string) (Category, error) {
	for _, c := range Categories {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", fmt.Errorf("audit: unknown event category %q", raw)
}

// Event is an immutable compliance record. IPAddress, UserAgent, ID and
// CreatedAt are owned by the Recorder and overwritten on write.
type Event struct {
	ID                    string         `json:"id"`
	EntityType            string         `json:"entity_type"`
	EntityID              string         `json:"entity_id"`
	EventType             string         `json:"event_type"`
	EventCategory         Category       `json:"event_category"`
	ActorID               *string        `json:"actor_id,omitempty"`
	ActorRole             *string        `json:"actor_role,omitempty"`
	ContextTag            *string        `json:"context_tag,omitempty"`
	Description           *string        `json:"description,omitempty"`
	Payload               map[string]any `json:"payload"`
	SensitiveDataAccessed *bool          `json:"sensitive_data_accessed,omitempty"`
	FinancialAmount       *float64       `json:"financial_amount,omitempty"`
	LegalEntity           *string        `json:"legal_entity,omitempty"`
	CrossEntityAccess     *bool          `json:"cross_entity_access,omitempty"`
	IPAddress             string         `json:"ip_address"`
	UserAgent             string         `json:"user_agent"`
	CreatedAt             time.Time      `json:"created_at"`
}

// Validate checks the identifying fields.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.EntityType) == "":
		return fmt.Errorf("audit: entity_type is required")
	case strings.TrimSpace(e.EntityID) == "":
		return fmt.Errorf("audit: entity_id is required")
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("audit: event_type is required")
	}
	_, err := ParseCategory(string(e.EventCategory))
	return err
}

// WithActor stamps the acting credential onto the event. User credentials
// contribute subject id, role and, when no tag was set, their division.
func (e Event) WithActor(c auth.Credential) Event {
	if role := c.ActorRole(); role != "" {
		e.ActorRole = &role
	}
	if c.IsUser() {
		id := c.Identity.SubjectID
		e.ActorID = &id
		if e.ContextTag == nil && c.Identity.PrimaryDivision != "" {
			div := c.Identity.PrimaryDivision
			e.ContextTag = &div
		}
	}
	return e
}

// Filter narrows admin listings.
type Filter struct {
	EntityType string
	EntityID   string
	Limit      int
}
