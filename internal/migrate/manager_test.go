package migrate

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen.studio/migrations"
)

func TestSplitStatements(t *testing.T) {
	sql := `
-- leading comment; with a semicolon
create table a (note text default 'x;y');
do $$
begin
	perform 1; perform 2;
end
$$;
insert into a values ('it''s');
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "'x;y'")
	assert.NotContains(t, stmts[0], "leading comment")
	assert.Contains(t, stmts[1], "perform 1; perform 2;")
	assert.Contains(t, stmts[2], "'it''s'")
}

func newMock(t *testing.T) (sqlmock.Sqlmock, func(schema, seeds fs.FS) *Manager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, func(schema, seeds fs.FS) *Manager {
		return NewManager(db, schema, seeds)
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mock, build := newMock(t)
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("create table b (id int);")},
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, build(fsys, nil).Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	mock, build := newMock(t)
	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, build(fsys, nil).Down(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithoutDownFile(t *testing.T) {
	mock, build := newMock(t)
	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("select 1;")}}

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	err := build(fsys, nil).Down(context.Background())
	assert.ErrorContains(t, err, "missing down migration")
}

func TestSeedWithoutSeedsIsNoop(t *testing.T) {
	mock, build := newMock(t)
	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	require.NoError(t, build(fstest.MapFS{}, nil).Seed(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedSchemaIsComplete(t *testing.T) {
	ups, err := collectSQL(migrations.Schema(), ".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	var all string
	for _, f := range ups {
		_, err := findDown(migrations.Schema(), f.Base)
		assert.NoError(t, err, f.Base)
		data, err := fs.ReadFile(migrations.Schema(), f.Path)
		require.NoError(t, err)
		all += string(data)
	}
	for _, table := range []string{"profiles", "talents", "contracts", "studio_time_entries", "compliance_events"} {
		assert.Contains(t, all, "alter table "+table+" enable row level security", table)
	}
	assert.Contains(t, all, "grant insert on compliance_events to service_role")
	assert.NotContains(t, all, "grant update on compliance_events")
	assert.Contains(t, all, "create or replace function contract_parties(p_contract_id uuid)")
	assert.Contains(t, all, "security definer")
}
