package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
)

type complianceEventRequest struct {
	EntityType            string         `json:"entity_type" validate:"required,max=64"`
	EntityID              string         `json:"entity_id" validate:"required,max=128"`
	EventType             string         `json:"event_type" validate:"required,max=128"`
	EventCategory         string         `json:"event_category" validate:"required,oneof=compliance financial access data_change tax_reporting legal"`
	ContextTag            *string        `json:"context_tag" validate:"omitempty,max=128"`
	Description           *string        `json:"description" validate:"omitempty,max=2000"`
	Payload               map[string]any `json:"payload"`
	SensitiveDataAccessed *bool          `json:"sensitive_data_accessed"`
	FinancialAmount       *float64       `json:"financial_amount"`
	LegalEntity           *string        `json:"legal_entity" validate:"omitempty,max=256"`
	CrossEntityAccess     *bool          `json:"cross_entity_access"`

	// Decoded and discarded: provenance always comes from the transport.
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

func (a *API) complianceEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	cred, ok := requireCredential(w, r)
	if !ok {
		return
	}
	if d := auth.Check(cred, auth.RequireAuthenticated(true)); !d.Allowed {
		handleError(w, r, d.Err())
		return
	}

	var req complianceEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := validateStruct(req); err != nil {
		handleError(w, r, err)
		return
	}
	category, err := audit.ParseCategory(req.EventCategory)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "event_category is invalid")
		return
	}

	ev := audit.Event{
		EntityType:            strings.TrimSpace(req.EntityType),
		EntityID:              strings.TrimSpace(req.EntityID),
		EventType:             strings.TrimSpace(req.EventType),
		EventCategory:         category,
		ContextTag:            req.ContextTag,
		Description:           req.Description,
		Payload:               req.Payload,
		SensitiveDataAccessed: req.SensitiveDataAccessed,
		FinancialAmount:       req.FinancialAmount,
		LegalEntity:           req.LegalEntity,
		CrossEntityAccess:     req.CrossEntityAccess,
	}
	a.recorder.Record(r.Context(), ev.WithActor(cred), audit.MetaFromRequest(r))
	writeJSON(w, http.StatusCreated, map[string]any{"status": "recorded"})
}

func (a *API) adminComplianceEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	cred := credential(r)
	if d := auth.Check(cred, auth.RequireRole(auth.RoleAdmin)); !d.Allowed {
		handleError(w, r, d.Err())
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	reader, err := a.events.EventReader(r.Context(), cred)
	if err != nil {
		handleError(w, r, err)
		return
	}
	events, err := reader.ListComplianceEvents(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
