package datastore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
	"lumen.studio/internal/config"
	"lumen.studio/internal/studio"
)

const (
	subject = "5f0c7a52-1111-4000-8000-000000000001"
	token   = "header.payload.signature"
)

var setConfig = regexp.QuoteMeta(`select set_config($1, $2, true)`)

func newMockFactory(t *testing.T) (*Factory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f, err := NewFactory(db, config.StoreConfig{PrivilegedRole: "service_role", ScopedRole: "authenticated"})
	require.NoError(t, err)
	return f, mock
}

func expectPrivileged(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(setConfig).WithArgs("role", "service_role").WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectScoped(mock sqlmock.Sqlmock, appRole string) {
	mock.ExpectBegin()
	mock.ExpectExec(setConfig).WithArgs("role", "authenticated").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(setConfig).WithArgs("request.jwt.claims", claimsArg{sub: subject, appRole: appRole}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(setConfig).WithArgs("request.jwt", token).WillReturnResult(sqlmock.NewResult(0, 1))
}

// claimsArg matches the claims JSON forwarded to row-level policies.
type claimsArg struct {
	sub     string
	appRole string
}

func (a claimsArg) Match(v driver.Value) bool {
	raw, ok := v.(string)
	if !ok {
		return false
	}
	var c map[string]any
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return false
	}
	return c["sub"] == a.sub && c["role"] == "authenticated" && c["app_role"] == a.appRole
}

func userCred(role auth.Role) auth.Credential {
	return auth.NewUserCredential(auth.Identity{SubjectID: subject, Email: "a@lumen.test", Role: role}, token)
}

func TestNewFactoryFailsFast(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cases := map[string]struct {
		db  *sql.DB
		cfg config.StoreConfig
	}{
		"nil db":           {nil, config.StoreConfig{PrivilegedRole: "p", ScopedRole: "s"}},
		"no privileged":    {db, config.StoreConfig{ScopedRole: "s"}},
		"no scoped":        {db, config.StoreConfig{PrivilegedRole: "p"}},
		"blank privileged": {db, config.StoreConfig{PrivilegedRole: " ", ScopedRole: "s"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewFactory(tc.db, tc.cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(config.StoreConfig{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestScopedRequiresUserCredential(t *testing.T) {
	f, _ := newMockFactory(t)
	ctx := context.Background()

	for name, cred := range map[string]auth.Credential{
		"service":         auth.NewServiceCredential(),
		"unauthenticated": auth.NewUnauthenticated(auth.ReasonMissingCredentials),
		"no token":        auth.NewUserCredential(auth.Identity{SubjectID: subject}, ""),
		"no subject":      auth.NewUserCredential(auth.Identity{}, token),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.Scoped(ctx, cred)
			assert.ErrorIs(t, err, ErrScopedCredential)
		})
	}
}

func TestHandleKinds(t *testing.T) {
	f, _ := newMockFactory(t)
	ctx := context.Background()

	p, err := f.PrivilegedStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindPrivileged, p.Kind())

	s, err := f.ScopedStore(ctx, userCred(auth.RoleCreator))
	require.NoError(t, err)
	assert.Equal(t, KindScoped, s.Kind())

	profiles, err := f.Profiles(ctx)
	require.NoError(t, err)
	assert.IsType(t, &Privileged{}, profiles)

	writer, err := f.EventWriter(ctx)
	require.NoError(t, err)
	assert.IsType(t, &Privileged{}, writer)

	reader, err := f.EventReader(ctx, userCred(auth.RoleAdmin))
	require.NoError(t, err)
	assert.IsType(t, &Scoped{}, reader)
}

func TestGetProfileUsesPrivilegedRole(t *testing.T) {
	f, mock := newMockFactory(t)
	expectPrivileged(mock)
	mock.ExpectQuery("from profiles where id").WithArgs(subject).
		WillReturnRows(sqlmock.NewRows([]string{"role", "primary_division"}).AddRow("creator", "studio"))
	mock.ExpectCommit()

	p, err := f.Privileged(context.Background())
	require.NoError(t, err)
	prof, err := p.GetProfile(context.Background(), subject)
	require.NoError(t, err)

	assert.Equal(t, "creator", prof.Role)
	assert.Equal(t, "studio", prof.PrimaryDivision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfileMissing(t *testing.T) {
	f, mock := newMockFactory(t)
	expectPrivileged(mock)
	mock.ExpectQuery("from profiles where id").WithArgs(subject).
		WillReturnRows(sqlmock.NewRows([]string{"role", "primary_division"}))
	mock.ExpectRollback()

	p, _ := f.Privileged(context.Background())
	_, err := p.GetProfile(context.Background(), subject)
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertComplianceEvent(t *testing.T) {
	f, mock := newMockFactory(t)
	expectPrivileged(mock)
	mock.ExpectExec("insert into compliance_events").
		WithArgs("01HQ", "contract", "c-1", "contract_viewed", "access",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`{"k":"v"}`),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"10.0.0.1", "curl/8", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, _ := f.Privileged(context.Background())
	err := p.InsertComplianceEvent(context.Background(), audit.Event{
		ID: "01HQ", EntityType: "contract", EntityID: "c-1", EventType: "contract_viewed",
		EventCategory: audit.CategoryAccess, Payload: map[string]any{"k": "v"},
		IPAddress: "10.0.0.1", UserAgent: "curl/8", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScopedForwardsCallerClaims(t *testing.T) {
	f, mock := newMockFactory(t)
	expectScoped(mock, "creator")
	mock.ExpectQuery("select eligible from talents").WithArgs(subject).
		WillReturnRows(sqlmock.NewRows([]string{"eligible"}).AddRow(true))
	mock.ExpectCommit()

	s, err := f.Scoped(context.Background(), userCred(auth.RoleCreator))
	require.NoError(t, err)
	eligible, err := s.TalentEligible(context.Background(), subject)
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLevelViolationMapsToForbidden(t *testing.T) {
	f, mock := newMockFactory(t)
	expectScoped(mock, "user")
	mock.ExpectQuery("insert into studio_time_entries").
		WillReturnError(&pgconn.PgError{Code: "42501", Message: "new row violates row-level security policy"})
	mock.ExpectRollback()

	s, _ := f.Scoped(context.Background(), userCred(auth.RoleUser))
	_, _, err := s.InsertTimeEntry(context.Background(), studio.TimeEntry{ID: "e-1", TalentID: subject, WorkDate: "2024-03-01"})

	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.Equal(t, "access denied", auth.ReasonOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func timeEntryRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "talent_id", "contract_id", "work_date", "reported_hours", "eligible_hours",
		"reported_state", "latitude", "longitude", "location_verified", "notes", "created_by", "created_at",
	}).AddRow("e-original", subject, nil, "2024-03-01", 8.0, 8.0, "AZ", 33.4, -112.0, true, nil, subject,
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
}

func TestInsertTimeEntryReplayReturnsOriginal(t *testing.T) {
	f, mock := newMockFactory(t)
	expectScoped(mock, "user")
	mock.ExpectQuery("insert into studio_time_entries").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("select id, talent_id").WithArgs(subject, "k-1").WillReturnRows(timeEntryRow())
	mock.ExpectCommit()

	key := "k-1"
	s, _ := f.Scoped(context.Background(), userCred(auth.RoleUser))
	saved, created, err := s.InsertTimeEntry(context.Background(), studio.TimeEntry{
		ID: "e-retry", TalentID: subject, WorkDate: "2024-03-01", IdempotencyKey: &key,
	})
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, "e-original", saved.ID)
	assert.Equal(t, "AZ", *saved.ReportedState)
	assert.Nil(t, saved.ContractID)
	assert.True(t, saved.LocationVerified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTimeEntryCreated(t *testing.T) {
	f, mock := newMockFactory(t)
	expectPrivileged(mock)
	mock.ExpectQuery("insert into studio_time_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e-1"))
	mock.ExpectCommit()

	p, _ := f.Privileged(context.Background())
	saved, created, err := p.InsertTimeEntry(context.Background(), studio.TimeEntry{ID: "e-1", TalentID: subject, WorkDate: "2024-03-01"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "e-1", saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContractNotFound(t *testing.T) {
	f, mock := newMockFactory(t)
	expectScoped(mock, "client")
	mock.ExpectQuery("from contracts where id").WithArgs("c-1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	s, _ := f.Scoped(context.Background(), userCred(auth.RoleClient))
	_, err := s.GetContract(context.Background(), "c-1")
	assert.True(t, errors.Is(err, studio.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListComplianceEvents(t *testing.T) {
	f, mock := newMockFactory(t)
	expectScoped(mock, "admin")
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from compliance_events").WithArgs("contract", "", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "entity_type", "entity_id", "event_type", "event_category",
			"actor_id", "actor_role", "context_tag", "description", "payload",
			"sensitive_data_accessed", "financial_amount", "legal_entity", "cross_entity_access",
			"ip_address", "user_agent", "created_at",
		}).AddRow("01HQ", "contract", "c-1", "contract_viewed", "access",
			subject, "client", nil, nil, []byte(`{"status":"active"}`),
			true, 1200.0, "Lumen LLC", false,
			"10.0.0.1", "curl/8", created))
	mock.ExpectCommit()

	r, err := f.EventReader(context.Background(), userCred(auth.RoleAdmin))
	require.NoError(t, err)
	events, err := r.ListComplianceEvents(context.Background(), audit.Filter{EntityType: "contract"})
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, audit.CategoryAccess, ev.EventCategory)
	assert.Equal(t, "active", ev.Payload["status"])
	assert.Equal(t, 1200.0, *ev.FinancialAmount)
	assert.Nil(t, ev.ContextTag)
	assert.True(t, *ev.SensitiveDataAccessed)
	assert.Equal(t, created, ev.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContractPartiesVisibleToNonParty(t *testing.T) {
	f, mock := newMockFactory(t)
	expectScoped(mock, "user")
	mock.ExpectQuery(regexp.QuoteMeta("select creator_id, client_id from contract_parties($1)")).WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"creator_id", "client_id"}).AddRow("creator-1", "client-1"))
	mock.ExpectCommit()

	s, _ := f.Scoped(context.Background(), userCred(auth.RoleUser))
	creator, client, err := s.ContractParties(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "creator-1", creator)
	assert.Equal(t, "client-1", client)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContractPartiesMissing(t *testing.T) {
	f, mock := newMockFactory(t)
	expectPrivileged(mock)
	mock.ExpectQuery("from contract_parties").WithArgs("c-404").
		WillReturnRows(sqlmock.NewRows([]string{"creator_id", "client_id"}))
	mock.ExpectRollback()

	p, _ := f.Privileged(context.Background())
	_, _, err := p.ContractParties(context.Background(), "c-404")
	assert.True(t, errors.Is(err, studio.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTimeEntriesPaging(t *testing.T) {
	t.Run("first page", func(t *testing.T) {
		f, mock := newMockFactory(t)
		expectPrivileged(mock)
		mock.ExpectQuery("order by work_date desc, id desc").WithArgs(subject, nil, nil, 3).
			WillReturnRows(timeEntryRow())
		mock.ExpectCommit()

		p, _ := f.Privileged(context.Background())
		entries, err := p.ListTimeEntries(context.Background(), studio.TimeEntryQuery{TalentID: subject, Limit: 3})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "2024-03-01", entries[0].WorkDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("after cursor", func(t *testing.T) {
		f, mock := newMockFactory(t)
		expectPrivileged(mock)
		mock.ExpectQuery(regexp.QuoteMeta("(work_date, id) < ($2::date, $3::text)")).
			WithArgs(subject, "2024-03-05", "e-9", 101).
			WillReturnRows(timeEntryRow())
		mock.ExpectCommit()

		p, _ := f.Privileged(context.Background())
		_, err := p.ListTimeEntries(context.Background(), studio.TimeEntryQuery{
			TalentID: subject, Limit: 101, After: &studio.Cursor{WorkDate: "2024-03-05", ID: "e-9"},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit required", func(t *testing.T) {
		f, _ := newMockFactory(t)
		p, _ := f.Privileged(context.Background())
		_, err := p.ListTimeEntries(context.Background(), studio.TimeEntryQuery{TalentID: subject})
		assert.Error(t, err)
	})
}
