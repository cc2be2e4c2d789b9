package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lumen.studio/internal/studio"
)

const timeEntryColumns = `id, talent_id, contract_id, to_char(work_date, 'YYYY-MM-DD'), reported_hours,
	eligible_hours, reported_state, latitude, longitude, location_verified, notes, created_by, created_at`

func (h handle) TalentEligible(ctx context.Context, talentID string) (bool, error) {
	var eligible bool
	err := h.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `select eligible from talents where id = $1`, talentID).Scan(&eligible)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return eligible, err
}

func (h handle) InsertTimeEntry(ctx context.Context, e studio.TimeEntry) (studio.TimeEntry, bool, error) {
	var (
		saved   studio.TimeEntry
		created bool
	)
	err := h.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			insert into studio_time_entries (
				id, talent_id, contract_id, work_date, reported_hours, eligible_hours,
				reported_state, latitude, longitude, location_verified, notes,
				idempotency_key, created_by, created_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			on conflict (talent_id, idempotency_key) do nothing
			returning id
		`, e.ID, e.TalentID, e.ContractID, e.WorkDate, e.ReportedHours, e.EligibleHours,
			e.ReportedState, e.Latitude, e.Longitude, e.LocationVerified, e.Notes,
			e.IdempotencyKey, e.CreatedBy, e.CreatedAt).Scan(&id)
		switch {
		case err == nil:
			saved, created = e, true
			return nil
		case !errors.Is(err, sql.ErrNoRows) || e.IdempotencyKey == nil:
			return err
		}
		row := tx.QueryRowContext(ctx, `select `+timeEntryColumns+`
			from studio_time_entries where talent_id = $1 and idempotency_key = $2`,
			e.TalentID, *e.IdempotencyKey)
		saved, err = scanTimeEntry(row)
		return err
	})
	if err != nil {
		return studio.TimeEntry{}, false, fmt.Errorf("datastore: insert time entry: %w", err)
	}
	return saved, created, nil
}

func (h handle) ListTimeEntries(ctx context.Context, q studio.TimeEntryQuery) ([]studio.TimeEntry, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("datastore: list time entries: limit must be positive")
	}
	var afterDate, afterID any
	if q.After != nil {
		afterDate, afterID = q.After.WorkDate, q.After.ID
	}
	var out []studio.TimeEntry
	err := h.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `select `+timeEntryColumns+`
			from studio_time_entries where talent_id = $1
				and ($2::date is null or (work_date, id) < ($2::date, $3::text))
			order by work_date desc, id desc
			limit $4`, q.TalentID, afterDate, afterID, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanTimeEntry(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("datastore: list time entries: %w", err)
	}
	return out, nil
}

// ContractParties reads through contract_parties, a security definer
// function that exposes only the two party ids of a contract.
func (h handle) ContractParties(ctx context.Context, id string) (string, string, error) {
	var creatorID, clientID string
	err := h.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `select creator_id, client_id from contract_parties($1)`, id).
			Scan(&creatorID, &clientID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("datastore: contract parties: %w", err)
	}
	return creatorID, clientID, nil
}

func (h handle) GetContract(ctx context.Context, id string) (studio.Contract, error) {
	var (
		c           studio.Contract
		amount      sql.NullFloat64
		legalEntity sql.NullString
	)
	err := h.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			select id, creator_id, client_id, title, status, amount, currency, legal_entity, created_at
			from contracts where id = $1
		`, id).Scan(&c.ID, &c.CreatorID, &c.ClientID, &c.Title, &c.Status, &amount, &c.Currency, &legalEntity, &c.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return studio.Contract{}, ErrNotFound
	}
	if err != nil {
		return studio.Contract{}, fmt.Errorf("datastore: get contract: %w", err)
	}
	c.Amount = nullFloat(amount)
	c.LegalEntity = nullString(legalEntity)
	return c, nil
}

func scanTimeEntry(s scanner) (studio.TimeEntry, error) {
	var (
		e                   studio.TimeEntry
		contractID, state   sql.NullString
		notes, createdBy    sql.NullString
		latitude, longitude sql.NullFloat64
	)
	if err := s.Scan(&e.ID, &e.TalentID, &contractID, &e.WorkDate, &e.ReportedHours,
		&e.EligibleHours, &state, &latitude, &longitude, &e.LocationVerified, &notes,
		&createdBy, &e.CreatedAt); err != nil {
		return studio.TimeEntry{}, err
	}
	e.ContractID = nullString(contractID)
	e.ReportedState = nullString(state)
	e.Latitude = nullFloat(latitude)
	e.Longitude = nullFloat(longitude)
	e.Notes = nullString(notes)
	e.CreatedBy = nullString(createdBy)
	return e, nil
}
