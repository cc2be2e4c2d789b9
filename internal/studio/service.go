// Package studio implements the time-log and contract operations that sit
// behind the authorization gateway.
package studio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
	"lumen.studio/internal/eligibility"
	"lumen.studio/internal/ids"
)

const (
	EntityTimeEntry = "studio_time_entry"
	EntityTalent    = "talent"
	EntityContract  = "contract"

	EventTimeLogCreated   = "studio_time_log_created"
	EventTimeLogsExported = "studio_time_logs_exported"
	EventContractViewed   = "contract_viewed"

	ReasonIdentifierRequired = "identifying parameter required"

	workDateLayout = "2006-01-02"
)

// Recorder is the audit sink used by Service.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event, meta audit.RequestMeta)
}

// TimeLogInput is a time-log submission. TalentID is required for service
// callers and must match the caller for users.
type TimeLogInput struct {
	TalentID       string
	Hours          float64
	WorkDate       string
	ReportedState  *string
	Latitude       *float64
	Longitude      *float64
	ContractID     *string
	Notes          *string
	IdempotencyKey string
}

type Service struct {
	stores   StoreSource
	calc     *eligibility.Calculator
	recorder Recorder
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(stores StoreSource, calc *eligibility.Calculator, recorder Recorder, log zerolog.Logger) *Service {
	return &Service{
		stores:   stores,
		calc:     calc,
		recorder: recorder,
		log:      log.With().Str("component", "studio").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubmitTimeLog classifies and stores a time log. created is false when the
// idempotency key matched an earlier submission; no event is recorded then.
func (s *Service) SubmitTimeLog(ctx context.Context, cred auth.Credential, in TimeLogInput, meta audit.RequestMeta) (TimeEntry, bool, error) {
	if d := auth.Check(cred, auth.RequireAuthenticated(true)); !d.Allowed {
		return TimeEntry{}, false, d.Err()
	}
	talentID, err := s.targetTalent(cred, in.TalentID)
	if err != nil {
		return TimeEntry{}, false, err
	}
	if err := validateTimeLog(&in); err != nil {
		return TimeEntry{}, false, err
	}

	store, err := s.storeFor(ctx, cred)
	if err != nil {
		return TimeEntry{}, false, err
	}
	eligible, err := store.TalentEligible(ctx, talentID)
	if err != nil {
		return TimeEntry{}, false, fmt.Errorf("studio: load talent %s: %w", talentID, err)
	}

	assessment := s.calc.Assess(eligibility.Report{
		Hours:          in.Hours,
		State:          in.ReportedState,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		TalentEligible: eligible,
	})

	now := s.now()
	entry := TimeEntry{
		ID:               ids.NewAt(now),
		TalentID:         talentID,
		ContractID:       in.ContractID,
		WorkDate:         in.WorkDate,
		ReportedHours:    assessment.ReportedHours,
		EligibleHours:    assessment.EligibleHours,
		ReportedState:    in.ReportedState,
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
		LocationVerified: assessment.LocationVerified,
		Notes:            in.Notes,
		CreatedAt:        now,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		entry.IdempotencyKey = &key
	}
	if sub := cred.SubjectID(); sub != "" {
		entry.CreatedBy = &sub
	}

	saved, created, err := store.InsertTimeEntry(ctx, entry)
	if err != nil {
		return TimeEntry{}, false, fmt.Errorf("studio: insert time entry: %w", err)
	}
	if !created {
		s.log.Debug().Str("entry_id", saved.ID).Msg("idempotent time log replay")
		return saved, false, nil
	}

	ev := audit.Event{
		EntityType:    EntityTimeEntry,
		EntityID:      saved.ID,
		EventType:     EventTimeLogCreated,
		EventCategory: audit.CategoryCompliance,
		Description:   ptr("time log submitted"),
		Payload: map[string]any{
			"talent_id":         saved.TalentID,
			"work_date":         saved.WorkDate,
			"reported_hours":    saved.ReportedHours,
			"eligible_hours":    saved.EligibleHours,
			"reported_state":    saved.ReportedState,
			"location_verified": saved.LocationVerified,
			"jurisdiction":      assessment.Jurisdiction,
		},
		CrossEntityAccess: ptr(cred.IsService()),
	}
	s.recorder.Record(ctx, ev.WithActor(cred), meta)
	return saved, true, nil
}

// ListTimeLogs returns one page of a talent's entries. Users may only list
// their own; services must name the talent and every page they read is
// audited as tax reporting, including where the page sits in the export.
func (s *Service) ListTimeLogs(ctx context.Context, cred auth.Credential, talentID string, page Page, meta audit.RequestMeta) (TimeEntryPage, error) {
	if d := auth.Check(cred, auth.RequireAuthenticated(true)); !d.Allowed {
		return TimeEntryPage{}, d.Err()
	}
	talentID, err := s.targetTalent(cred, talentID)
	if err != nil {
		return TimeEntryPage{}, err
	}
	after, err := DecodeCursor(page.Cursor)
	if err != nil {
		return TimeEntryPage{}, err
	}
	limit := page.limit()

	store, err := s.storeFor(ctx, cred)
	if err != nil {
		return TimeEntryPage{}, err
	}
	// One extra row tells whether another page exists.
	entries, err := store.ListTimeEntries(ctx, TimeEntryQuery{TalentID: talentID, Limit: limit + 1, After: after})
	if err != nil {
		return TimeEntryPage{}, fmt.Errorf("studio: list time entries: %w", err)
	}
	out := TimeEntryPage{Entries: entries}
	if len(entries) > limit {
		out.Entries = entries[:limit]
		last := out.Entries[limit-1]
		out.NextCursor = Cursor{WorkDate: last.WorkDate, ID: last.ID}.Encode()
	}

	if cred.IsService() {
		s.recorder.Record(ctx, exportEvent(talentID, page.Cursor, limit, out).WithActor(cred), meta)
	}
	return out, nil
}

func exportEvent(talentID, cursor string, limit int, page TimeEntryPage) audit.Event {
	var reported, eligible float64
	for _, e := range page.Entries {
		reported += e.ReportedHours
		eligible += e.EligibleHours
	}
	payload := map[string]any{
		"entry_count":          len(page.Entries),
		"total_reported_hours": reported,
		"total_eligible_hours": eligible,
		"page_limit":           limit,
		"cursor":               cursor,
		"next_cursor":          page.NextCursor,
		"truncated":            page.NextCursor != "",
	}
	if n := len(page.Entries); n > 0 {
		payload["first_work_date"] = page.Entries[0].WorkDate
		payload["first_entry_id"] = page.Entries[0].ID
		payload["last_work_date"] = page.Entries[n-1].WorkDate
		payload["last_entry_id"] = page.Entries[n-1].ID
	}
	return audit.Event{
		EntityType:        EntityTalent,
		EntityID:          talentID,
		EventType:         EventTimeLogsExported,
		EventCategory:     audit.CategoryTaxReporting,
		Description:       ptr("time logs exported to integration"),
		Payload:           payload,
		CrossEntityAccess: ptr(true),
	}
}

// GetContract returns a contract to one of its parties or to a service.
// Parties are checked before the contract is read, so a caller outside the
// contract gets a 403 rather than a policy-filtered 404.
func (s *Service) GetContract(ctx context.Context, cred auth.Credential, id string, meta audit.RequestMeta) (Contract, error) {
	if d := auth.Check(cred, auth.RequireAuthenticated(true)); !d.Allowed {
		return Contract{}, d.Err()
	}
	id, ok := canonicalID(id)
	if !ok {
		return Contract{}, auth.ValidationError("invalid contract id")
	}

	store, err := s.storeFor(ctx, cred)
	if err != nil {
		return Contract{}, err
	}
	creatorID, clientID, err := store.ContractParties(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contract{}, err
		}
		return Contract{}, fmt.Errorf("studio: load contract parties %s: %w", id, err)
	}
	res := auth.Resource{Type: EntityContract, ID: id, Owners: []string{creatorID, clientID}}
	if d := auth.Check(cred, auth.RequireOwnershipOrService(res)); !d.Allowed {
		return Contract{}, d.Err()
	}

	c, err := store.GetContract(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contract{}, err
		}
		return Contract{}, fmt.Errorf("studio: load contract %s: %w", id, err)
	}

	ev := audit.Event{
		EntityType:            EntityContract,
		EntityID:              c.ID,
		EventType:             EventContractViewed,
		EventCategory:         audit.CategoryAccess,
		Payload:               map[string]any{"status": c.Status, "currency": c.Currency},
		SensitiveDataAccessed: ptr(true),
		FinancialAmount:       c.Amount,
		LegalEntity:           c.LegalEntity,
		CrossEntityAccess:     ptr(cred.IsService()),
	}
	s.recorder.Record(ctx, ev.WithActor(cred), meta)
	return c, nil
}

// targetTalent resolves whose time entries a request acts on. Users may
// only name themselves; services must name the talent.
func (s *Service) targetTalent(cred auth.Credential, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if cred.IsService() {
		if requested == "" {
			return "", auth.ValidationError(ReasonIdentifierRequired)
		}
		id, ok := canonicalID(requested)
		if !ok {
			return "", auth.ValidationError("invalid talent_id")
		}
		return id, nil
	}
	subject := cred.SubjectID()
	if requested == "" {
		return subject, nil
	}
	id, ok := canonicalID(requested)
	if !ok {
		return "", auth.ValidationError("invalid talent_id")
	}
	res := auth.Resource{Type: EntityTalent, ID: id, Owners: []string{id}}
	if d := auth.Check(cred, auth.RequireOwnershipOrService(res)); !d.Allowed {
		return "", d.Err()
	}
	return id, nil
}

// storeFor is the single place a request is bound to a data-access handle.
func (s *Service) storeFor(ctx context.Context, cred auth.Credential) (Store, error) {
	switch {
	case cred.IsService():
		return s.stores.PrivilegedStore(ctx)
	case cred.IsUser():
		return s.stores.ScopedStore(ctx, cred)
	default:
		return nil, auth.CredentialError(auth.ReasonMissingCredentials)
	}
}

func validateTimeLog(in *TimeLogInput) error {
	if math.IsNaN(in.Hours) || math.IsInf(in.Hours, 0) || in.Hours < 0 {
		return auth.ValidationError("hours must be a non-negative number")
	}
	if _, err := time.Parse(workDateLayout, in.WorkDate); err != nil {
		return auth.ValidationError("work_date must be YYYY-MM-DD")
	}
	if in.ReportedState != nil && strings.TrimSpace(*in.ReportedState) == "" {
		in.ReportedState = nil
	}
	if in.ContractID != nil {
		id, ok := canonicalID(*in.ContractID)
		if !ok {
			return auth.ValidationError("invalid contract_id")
		}
		in.ContractID = &id
	}
	return nil
}

func canonicalID(raw string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func ptr[T any](v T) *T { return &v }
