package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
	"lumen.studio/internal/studio"
)

// Privileged bypasses row-level policies. Use it only for credential
// resolution, compliance event writes and service-authenticated requests.
type Privileged struct {
	handle
}

var (
	_ auth.ProfileReader = (*Privileged)(nil)
	_ audit.EventWriter  = (*Privileged)(nil)
	_ studio.Store       = (*Privileged)(nil)
)

func (p *Privileged) GetProfile(ctx context.Context, subjectID string) (auth.Profile, error) {
	prof := auth.Profile{SubjectID: subjectID}
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			select coalesce(role, ''), coalesce(primary_division, '')
			from profiles where id = $1
		`, subjectID).Scan(&prof.Role, &prof.PrimaryDivision)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrProfileNotFound
	}
	if err != nil {
		return auth.Profile{}, fmt.Errorf("datastore: get profile: %w", err)
	}
	return prof, nil
}

func (p *Privileged) InsertComplianceEvent(ctx context.Context, ev audit.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("datastore: encode event payload: %w", err)
	}
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into compliance_events (
				id, entity_type, entity_id, event_type, event_category,
				actor_id, actor_role, context_tag, description, payload,
				sensitive_data_accessed, financial_amount, legal_entity, cross_entity_access,
				ip_address, user_agent, created_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, ev.ID, ev.EntityType, ev.EntityID, ev.EventType, string(ev.EventCategory),
			ev.ActorID, ev.ActorRole, ev.ContextTag, ev.Description, payload,
			ev.SensitiveDataAccessed, ev.FinancialAmount, ev.LegalEntity, ev.CrossEntityAccess,
			ev.IPAddress, ev.UserAgent, ev.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("datastore: insert compliance event: %w", err)
	}
	return nil
}
