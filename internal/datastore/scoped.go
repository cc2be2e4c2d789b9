package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/studio"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Scoped is subject to row-level policies evaluated against the caller.
type Scoped struct {
	handle
}

var (
	_ audit.EventReader = (*Scoped)(nil)
	_ studio.Store      = (*Scoped)(nil)
)

func (s *Scoped) ListComplianceEvents(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	var out []audit.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			select id, entity_type, entity_id, event_type, event_category,
				actor_id, actor_role, context_tag, description, payload,
				sensitive_data_accessed, financial_amount, legal_entity, cross_entity_access,
				ip_address, user_agent, created_at
			from compliance_events
			where ($1 = '' or entity_type = $1) and ($2 = '' or entity_id = $2)
			order by created_at desc, id desc
			limit $3
		`, f.EntityType, f.EntityID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("datastore: list compliance events: %w", err)
	}
	return out, nil
}

func scanEvent(s scanner) (audit.Event, error) {
	var (
		ev                                   audit.Event
		category                             string
		actorID, actorRole, tag, desc, legal sql.NullString
		sensitive, cross                     sql.NullBool
		amount                               sql.NullFloat64
		payload                              []byte
	)
	if err := s.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ev.EventType, &category,
		&actorID, &actorRole, &tag, &desc, &payload,
		&sensitive, &amount, &legal, &cross,
		&ev.IPAddress, &ev.UserAgent, &ev.CreatedAt); err != nil {
		return audit.Event{}, err
	}
	ev.EventCategory = audit.Category(category)
	ev.ActorID = nullString(actorID)
	ev.ActorRole = nullString(actorRole)
	ev.ContextTag = nullString(tag)
	ev.Description = nullString(desc)
	ev.SensitiveDataAccessed = nullBool(sensitive)
	ev.FinancialAmount = nullFloat(amount)
	ev.LegalEntity = nullString(legal)
	ev.CrossEntityAccess = nullBool(cross)
	ev.Payload = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return audit.Event{}, fmt.Errorf("decode payload for event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}
