package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/beim/sdm/pkg/engine"
	"github.com/beim/sdm/pkg/environ"
	"github.com/beim/sdm/pkg/history"
	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/project"
	"github.com/beim/sdm/pkg/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// recordingRunner records migrator invocations instead of executing them.
type recordingRunner struct {
	forwards  []string
	backwards []string
	appliers  [][]string
}

func (r *recordingRunner) Forward(_ context.Context, p *plan.Plan, _ environ.Env) error {
	r.forwards = append(r.forwards, p.Sig().String())
	return nil
}

func (r *recordingRunner) Backward(_ context.Context, p *plan.Plan, _ environ.Env) error {
	r.backwards = append(r.backwards, p.Sig().String())
	return nil
}

func (r *recordingRunner) Applier(_ context.Context, args []string, _ string, _ environ.Env) error {
	r.appliers = append(r.appliers, args)
	return nil
}

type fixture struct {
	engine *engine.Engine
	mock   sqlmock.Sqlmock
	runner *recordingRunner
	plans  []*plan.Plan
}

// newFixture builds an engine over an in-memory store holding one schema
// snapshot, a two-plan chain (0000_init schema, 0001_seed data), and a
// mocked database.
func newFixture(t *testing.T, extra ...*plan.Plan) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	st := store.New(fs, "/store")
	require.NoError(t, st.Init())
	manifest, err := st.WriteFiles(map[string][]byte{
		"testtable.sql": []byte("CREATE TABLE testtable (id INT, name VARCHAR(64));"),
	})
	require.NoError(t, err)

	initPlan := &plan.Plan{
		Version:      "0000",
		Name:         "init",
		Type:         plan.TypeSchema,
		Change:       plan.Change{Forward: &plan.Step{ID: manifest}},
		Dependencies: []plan.Signature{},
	}
	seedPlan := &plan.Plan{
		Version: "0001",
		Name:    "seed",
		Type:    plan.TypeData,
		Change: plan.Change{
			Forward:  &plan.Step{Kind: plan.KindSQL, SQL: "INSERT INTO testtable VALUES (1, 'foo');"},
			Backward: &plan.Step{Kind: plan.KindSQL, SQL: "DELETE FROM testtable WHERE id = 1;"},
		},
		Dependencies: []plan.Signature{{Version: "0000", Name: "init"}},
	}
	plans := append([]*plan.Plan{initPlan, seedPlan}, extra...)
	mpm, err := plan.NewManagerFromPlans(plans, plan.SortDependency)
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner := &recordingRunner{}
	eng := engine.New(engine.Config{
		Project: project.New(t.TempDir()),
		Manager: mpm,
		Store:   st,
		DAO:     history.NewDAO("", ""),
		DB:      db,
		Runner:  runner,
		Env:     environ.Env{Name: "test", Schema: "testdb"},
	})
	return &fixture{engine: eng, mock: mock, runner: runner, plans: plans}
}

func sum(t *testing.T, p *plan.Plan) string {
	t.Helper()
	s, err := p.Checksum()
	require.NoError(t, err)
	return s
}

func histCols() []string {
	return []string{"id", "ver", "name", "type", "state", "created", "updated", "checksum"}
}

func expectBootstrap(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectUpdate(mock sqlmock.Sqlmock, id int64, op string) {
	mock.ExpectQuery("SELECT id FROM `_migration_history` WHERE ver").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectExec("UPDATE `_migration_history` SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WithArgs(id, op, sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestMigrateAppliesWholeChain(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)

	// pre-flight: empty history, first PROCESSING row inserted
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()))
	f.mock.ExpectExec("INSERT INTO `_migration_history` ").
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit()

	// step 1: init plan succeeds, next PROCESSING row inserted
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id DESC LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "PROCESSING", now, now, sum(t, f.plans[0])))
	expectUpdate(f.mock, 1, "update_succ")
	f.mock.ExpectExec("INSERT INTO `_migration_history` ").
		WillReturnResult(sqlmock.NewResult(2, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(3, 1))
	f.mock.ExpectCommit()

	// step 2: seed plan succeeds, chain exhausted
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id DESC LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(2), "0001", "seed", "data", "PROCESSING", now, now, sum(t, f.plans[1])))
	expectUpdate(f.mock, 2, "update_succ")
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Migrate(context.Background(), engine.Options{}))
	require.Equal(t, []string{"0000_init", "0001_seed"}, f.runner.forwards)
	require.Empty(t, f.runner.backwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateFakeSkipsExecution(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()))
	f.mock.ExpectExec("INSERT INTO `_migration_history` ").
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id DESC LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "PROCESSING", now, now, sum(t, f.plans[0])))
	expectUpdate(f.mock, 1, "update_succ")
	f.mock.ExpectExec("INSERT INTO `_migration_history` ").
		WillReturnResult(sqlmock.NewResult(2, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(3, 1))
	f.mock.ExpectCommit()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id DESC LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(2), "0001", "seed", "data", "PROCESSING", now, now, sum(t, f.plans[1])))
	expectUpdate(f.mock, 2, "update_succ")
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Migrate(context.Background(), engine.Options{Fake: true}))
	// nothing executed: state transitions only
	require.Empty(t, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()))
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Migrate(context.Background(), engine.Options{DryRun: true}))
	require.Empty(t, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateNoOpWhenFullyApplied(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])))
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Migrate(context.Background(), engine.Options{}))
	require.Empty(t, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRollbackToInitial(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)

	// pre-flight over the fully applied chain, then the newest row is
	// flipped to ROLLBACKING
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])))
	expectUpdate(f.mock, 2, "update_rollback")
	f.mock.ExpectCommit()

	// the reversed step is deleted after execution
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id DESC LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(2), "0001", "seed", "data", "ROLLBACKING", now, now, sum(t, f.plans[1])))
	f.mock.ExpectQuery("SELECT id FROM `_migration_history` WHERE ver").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	f.mock.ExpectExec("DELETE FROM `_migration_history`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(4, 1))
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Rollback(context.Background(), engine.Options{Version: "0000", Name: "init"}))
	require.Equal(t, []string{"0001_seed"}, f.runner.backwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRollbackTargetNotApplied(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])))
	f.mock.ExpectRollback()

	err := f.engine.Rollback(context.Background(), engine.Options{Version: "0001", Name: "seed"})
	require.Error(t, err)
	require.Empty(t, f.runner.backwards)
}

func TestFixMigrateResumesProcessingRow(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "PROCESSING", now, now, sum(t, f.plans[1])))
	expectUpdate(f.mock, 2, "update_succ")
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.FixMigrate(context.Background(), engine.Options{}))
	require.Equal(t, []string{"0001_seed"}, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFixMigrateFakeMarksSuccessfulWithoutExecuting(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "PROCESSING", now, now, sum(t, f.plans[1])))
	expectUpdate(f.mock, 2, "update_succ")
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.FixMigrate(context.Background(), engine.Options{Fake: true}))
	require.Empty(t, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFixMigrateNoOpWhenClean(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])))
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.FixMigrate(context.Background(), engine.Options{}))
	require.Empty(t, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFixRollbackDeletesRollbackingRow(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "ROLLBACKING", now, now, sum(t, f.plans[1])))
	f.mock.ExpectQuery("SELECT id FROM `_migration_history` WHERE ver").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	f.mock.ExpectExec("DELETE FROM `_migration_history`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(5, 1))
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.FixRollback(context.Background(), engine.Options{}))
	require.Equal(t, []string{"0001_seed"}, f.runner.backwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func repeatableSeed() *plan.Plan {
	return &plan.Plan{
		Version: plan.RepeatableVersion,
		Name:    "seed_data",
		Type:    plan.TypeRepeatable,
		Change: plan.Change{
			Forward:  &plan.Step{Kind: plan.KindSQL, SQL: "INSERT INTO testtable VALUES (100, 'bar');"},
			Backward: &plan.Step{Kind: plan.KindSQL, SQL: "DELETE FROM testtable WHERE id = 100;"},
		},
		Dependencies: []plan.Signature{{Version: "0001", Name: "seed"}},
	}
}

func TestMigrateExecutesNewRepeatable(t *testing.T) {
	f := newFixture(t, repeatableSeed())
	now := time.Now()

	expectBootstrap(f.mock)

	// versioned chain already applied
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])))
	f.mock.ExpectCommit()

	// scheduler: no history row for the repeatable plan yet
	f.mock.ExpectQuery("WHERE ver = \\? AND name = \\?").
		WithArgs("R", "seed_data").
		WillReturnRows(sqlmock.NewRows(histCols()))

	// execute: insert PROCESSING, run forward, mark SUCCESSFUL
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FOR UPDATE").
		WithArgs("R", "seed_data").
		WillReturnRows(sqlmock.NewRows(histCols()))
	f.mock.ExpectExec("INSERT INTO `_migration_history` ").
		WillReturnResult(sqlmock.NewResult(3, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(5, 1))
	f.mock.ExpectCommit()

	f.mock.ExpectBegin()
	expectUpdate(f.mock, 3, "update_succ")
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Migrate(context.Background(), engine.Options{}))
	require.Equal(t, []string{"R_seed_data"}, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateSkipsUnchangedRepeatable(t *testing.T) {
	rep := repeatableSeed()
	f := newFixture(t, rep)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])))
	f.mock.ExpectCommit()

	// history records the same checksum as the plan file: skipped
	f.mock.ExpectQuery("WHERE ver = \\? AND name = \\?").
		WithArgs("R", "seed_data").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(3), "R", "seed_data", "repeatable", "SUCCESSFUL", now, now, sum(t, rep)))

	require.NoError(t, f.engine.Migrate(context.Background(), engine.Options{}))
	require.Empty(t, f.runner.forwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRollbackCascadesRepeatableFirst(t *testing.T) {
	f := newFixture(t, repeatableSeed())
	now := time.Now()

	expectBootstrap(f.mock)

	// pre-flight; the dry-run listing probes the versioned plan's history row;
	// then the newest versioned row flips to ROLLBACKING
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id ASC FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])))
	f.mock.ExpectQuery("FOR UPDATE").
		WithArgs("0001", "seed").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])))
	expectUpdate(f.mock, 2, "update_rollback")
	f.mock.ExpectCommit()

	// cascade: the repeatable row is reversed before the versioned plan
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FOR UPDATE").
		WithArgs("R", "seed_data").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(3), "R", "seed_data", "repeatable", "SUCCESSFUL", now, now, "x"))
	expectUpdate(f.mock, 3, "update_rollback")
	f.mock.ExpectCommit()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT id FROM `_migration_history` WHERE ver").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	f.mock.ExpectExec("DELETE FROM `_migration_history`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	f.mock.ExpectCommit()

	// then the versioned plan itself
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("ORDER BY id DESC LIMIT 1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(2), "0001", "seed", "data", "ROLLBACKING", now, now, sum(t, f.plans[1])))
	f.mock.ExpectQuery("SELECT id FROM `_migration_history` WHERE ver").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	f.mock.ExpectExec("DELETE FROM `_migration_history`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO `_migration_history_log`").
		WillReturnResult(sqlmock.NewResult(8, 1))
	f.mock.ExpectCommit()

	require.NoError(t, f.engine.Rollback(context.Background(), engine.Options{Version: "0000", Name: "init"}))
	require.Equal(t, []string{"R_seed_data", "0001_seed"}, f.runner.backwards)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestInfoComputesRollbackable(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	expectBootstrap(f.mock)
	f.mock.ExpectQuery("ORDER BY id ASC").
		WillReturnRows(sqlmock.NewRows(histCols()).
			AddRow(int64(1), "0000", "init", "schema", "SUCCESSFUL", now, now, sum(t, f.plans[0])).
			AddRow(int64(2), "0001", "seed", "data", "SUCCESSFUL", now, now, sum(t, f.plans[1])).
			AddRow(int64(3), "0009", "gone", "data", "SUCCESSFUL", now, now, "x"))

	rows, err := f.engine.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "false", rows[0].Rollbackable) // init has no backward
	require.Equal(t, "true", rows[1].Rollbackable)
	require.Equal(t, "unknown", rows[2].Rollbackable) // no matching plan
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckIntegrityDetectsMissingBlob(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := store.New(fs, "/store")
	require.NoError(t, st.Init())
	manifest, err := st.WriteFiles(map[string][]byte{
		"testtable.sql": []byte("CREATE TABLE testtable (id INT);"),
	})
	require.NoError(t, err)

	initPlan := &plan.Plan{
		Version:      "0000",
		Name:         "init",
		Type:         plan.TypeSchema,
		Change:       plan.Change{Forward: &plan.Step{ID: manifest}},
		Dependencies: []plan.Signature{},
	}
	mpm, err := plan.NewManagerFromPlans([]*plan.Plan{initPlan}, plan.SortDependency)
	require.NoError(t, err)

	eng := engine.New(engine.Config{
		Project: project.New(t.TempDir()),
		Manager: mpm,
		Store:   st,
	})
	require.NoError(t, eng.CheckIntegrity(true))

	// remove the referenced source blob: even the fast existence check fails
	entries, err := st.ReadManifest(manifest, false)
	require.NoError(t, err)
	path, err := st.Path(entries[0].Hash)
	require.NoError(t, err)
	require.NoError(t, fs.Remove(path))

	err = eng.CheckIntegrity(false)
	require.Error(t, err)
	require.Contains(t, err.Error(), entries[0].Hash)
}

func TestCleanStoreReportsAndDeletes(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := store.New(fs, "/store")
	require.NoError(t, st.Init())
	manifest, err := st.WriteFiles(map[string][]byte{
		"testtable.sql": []byte("CREATE TABLE testtable (id INT);"),
	})
	require.NoError(t, err)

	orphanHash := "ff00112233445566778899aabbccddeeff001122"
	require.NoError(t, st.Write(orphanHash, []byte("orphan")))

	initPlan := &plan.Plan{
		Version:      "0000",
		Name:         "init",
		Type:         plan.TypeSchema,
		Change:       plan.Change{Forward: &plan.Step{ID: manifest}},
		Dependencies: []plan.Signature{},
	}
	mpm, err := plan.NewManagerFromPlans([]*plan.Plan{initPlan}, plan.SortDependency)
	require.NoError(t, err)

	eng := engine.New(engine.Config{
		Project: project.New(t.TempDir()),
		Manager: mpm,
		Store:   st,
	})

	// dry run reports the orphan without touching it
	removed, err := eng.CleanStore(true, false)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	path, err := st.Path(orphanHash)
	require.NoError(t, err)
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.True(t, ok)

	// delete pass removes it; a second pass finds nothing
	removed, err = eng.CleanStore(false, false)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	removed, err = eng.CleanStore(false, false)
	require.NoError(t, err)
	require.Empty(t, removed)
	require.NoError(t, eng.CheckIntegrity(true))
}
