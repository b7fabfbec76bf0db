package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/beim/sdm/pkg/plan"
	"github.com/pkg/errors"
)

// Default table names; both are configurable through the project file.
const (
	DefaultTable    = "_migration_history"
	DefaultLogTable = "_migration_history_log"
)

// Querier is the subset of database/sql satisfied by both *sql.DB and
// *sql.Tx. Locking methods document which one they require.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DAO performs history and history-log table access. It holds no
// connection; every method takes the transaction (or database, for
// unlocked DTO reads) it should run on.
type DAO struct {
	table    string
	logTable string
}

// NewDAO creates a DAO over the given table names. Empty names fall back
// to the defaults.
func NewDAO(table, logTable string) *DAO {
	if table == "" {
		table = DefaultTable
	}
	if logTable == "" {
		logTable = DefaultLogTable
	}
	return &DAO{table: table, logTable: logTable}
}

const selectCols = "id, ver, name, type, state, created, updated, checksum"

// EnsureTables creates the history and history log tables if absent.
func (d *DAO) EnsureTables(ctx context.Context, db *sql.DB) error {
	histDDL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		" id BIGINT NOT NULL AUTO_INCREMENT,"+
		" ver VARCHAR(255) NOT NULL,"+
		" name VARCHAR(255) NOT NULL,"+
		" type VARCHAR(255) NOT NULL,"+
		" state ENUM('PROCESSING','SUCCESSFUL','ROLLBACKING') NOT NULL,"+
		" created DATETIME NOT NULL,"+
		" updated DATETIME NOT NULL,"+
		" checksum VARCHAR(255) NOT NULL DEFAULT '',"+
		" PRIMARY KEY (id),"+
		" UNIQUE KEY uniq_ver_name (ver, name)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci", d.table)
	if _, err := db.ExecContext(ctx, histDDL); err != nil {
		return errors.Wrapf(err, "failed to create history table %s", d.table)
	}

	logDDL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		" id BIGINT NOT NULL AUTO_INCREMENT,"+
		" hist_id BIGINT NOT NULL,"+
		" operation VARCHAR(255) NOT NULL,"+
		" snapshot TEXT,"+
		" operator VARCHAR(255) NOT NULL DEFAULT '',"+
		" created DATETIME NOT NULL,"+
		" PRIMARY KEY (id)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci", d.logTable)
	if _, err := db.ExecContext(ctx, logDDL); err != nil {
		return errors.Wrapf(err, "failed to create history log table %s", d.logTable)
	}
	return nil
}

// snapshot renders the log snapshot JSON: the plan's canonical dict plus
// its checksum, and a fake marker when the step was not actually executed.
func snapshot(p *plan.Plan, fake bool) (string, error) {
	obj, err := p.LogDict()
	if err != nil {
		return "", err
	}
	if fake {
		obj["fake"] = true
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize snapshot for %s", p)
	}
	return string(data), nil
}

func (d *DAO) addLog(ctx context.Context, tx Querier, histID int64, op Operation, operator string, p *plan.Plan, fake bool) error {
	snap, err := snapshot(p, fake)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"INSERT INTO `%s` (hist_id, operation, snapshot, operator, created)"+
			" VALUES (?, ?, ?, ?, UTC_TIMESTAMP())", d.logTable)
	if _, err := tx.ExecContext(ctx, query, histID, string(op), snap, operator); err != nil {
		return errors.Wrapf(err, "failed to append history log for %s", p)
	}
	return nil
}

// AddOne inserts a PROCESSING history row for the plan and appends the
// create log entry. Must run inside a transaction.
func (d *DAO) AddOne(ctx context.Context, tx Querier, p *plan.Plan, operator string, fake bool) error {
	sum, err := p.Checksum()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"INSERT INTO `%s` (ver, name, type, state, created, updated, checksum)"+
			" VALUES (?, ?, ?, ?, UTC_TIMESTAMP(), UTC_TIMESTAMP(), ?)", d.table)
	res, err := tx.ExecContext(ctx, query,
		p.Version, p.Name, string(p.Type), string(StatePROCESSING), sum)
	if err != nil {
		return errors.Wrapf(err, "failed to insert history for %s", p)
	}
	histID, err := res.LastInsertId()
	if err != nil {
		return errors.Wrapf(err, "failed to read inserted history id for %s", p)
	}
	return d.addLog(ctx, tx, histID, OpCreate, operator, p, fake)
}

// UpdateSucc moves the plan's row to SUCCESSFUL.
func (d *DAO) UpdateSucc(ctx context.Context, tx Querier, p *plan.Plan, operator string, fake bool) error {
	return d.update(ctx, tx, p, StateSUCCESSFUL, OpUpdateSucc, operator, fake)
}

// UpdateRollback moves the plan's row to ROLLBACKING.
func (d *DAO) UpdateRollback(ctx context.Context, tx Querier, p *plan.Plan, operator string, fake bool) error {
	return d.update(ctx, tx, p, StateROLLBACKING, OpUpdateRollback, operator, fake)
}

// UpdateProcessing moves the plan's row back to PROCESSING. Used when a
// repeatable migration is retried.
func (d *DAO) UpdateProcessing(ctx context.Context, tx Querier, p *plan.Plan, operator string, fake bool) error {
	return d.update(ctx, tx, p, StatePROCESSING, OpUpdateProcessing, operator, fake)
}

// update re-selects the row FOR UPDATE, mutates state and checksum, and
// appends the matching log entry. Must run inside a transaction.
func (d *DAO) update(ctx context.Context, tx Querier, p *plan.Plan, state State, op Operation, operator string, fake bool) error {
	sum, err := p.Checksum()
	if err != nil {
		return err
	}
	var histID int64
	query := fmt.Sprintf(
		"SELECT id FROM `%s` WHERE ver = ? AND name = ? FOR UPDATE", d.table)
	if err := tx.QueryRowContext(ctx, query, p.Version, p.Name).Scan(&histID); err != nil {
		return errors.Wrapf(err, "failed to lock history row for %s", p)
	}

	updateQuery := fmt.Sprintf(
		"UPDATE `%s` SET state = ?, checksum = ?, updated = UTC_TIMESTAMP() WHERE id = ?",
		d.table)
	if _, err := tx.ExecContext(ctx, updateQuery, string(state), sum, histID); err != nil {
		return errors.Wrapf(err, "failed to update history for %s", p)
	}
	return d.addLog(ctx, tx, histID, op, operator, p, fake)
}

// Delete removes the plan's history row and appends the delete log entry.
// Must run inside a transaction.
func (d *DAO) Delete(ctx context.Context, tx Querier, p *plan.Plan, operator string, fake bool) error {
	var histID int64
	query := fmt.Sprintf(
		"SELECT id FROM `%s` WHERE ver = ? AND name = ? FOR UPDATE", d.table)
	if err := tx.QueryRowContext(ctx, query, p.Version, p.Name).Scan(&histID); err != nil {
		return errors.Wrapf(err, "failed to lock history row for %s", p)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM `%s` WHERE id = ?", d.table), histID); err != nil {
		return errors.Wrapf(err, "failed to delete history for %s", p)
	}
	return d.addLog(ctx, tx, histID, OpDelete, operator, p, fake)
}

const versionedCriterion = "type IN ('schema', 'data')"

func (d *DAO) scanRows(rows *sql.Rows) ([]*Row, error) {
	defer func() { _ = rows.Close() }()

	var out []*Row
	for rows.Next() {
		r := &Row{}
		if err := rows.Scan(&r.ID, &r.Version, &r.Name, &r.Type, &r.State,
			&r.Created, &r.Updated, &r.Checksum); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history rows")
	}
	return out, nil
}

// All returns every history row ordered by id, locked FOR UPDATE. Must run
// inside a transaction.
func (d *DAO) All(ctx context.Context, tx Querier) ([]*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` ORDER BY id ASC FOR UPDATE", selectCols, d.table)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	return d.scanRows(rows)
}

// AllVersioned returns every schema/data history row ordered by id, locked
// FOR UPDATE. Must run inside a transaction.
func (d *DAO) AllVersioned(ctx context.Context, tx Querier) ([]*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` WHERE %s ORDER BY id ASC FOR UPDATE",
		selectCols, d.table, versionedCriterion)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query versioned history")
	}
	return d.scanRows(rows)
}

// Latest returns the newest history row of any type locked FOR UPDATE, or
// nil when history is empty. Must run inside a transaction.
func (d *DAO) Latest(ctx context.Context, tx Querier) (*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` ORDER BY id DESC LIMIT 1 FOR UPDATE",
		selectCols, d.table)
	return d.one(ctx, tx, query)
}

// LatestVersioned returns the newest schema/data history row locked FOR
// UPDATE, or nil when history is empty. Must run inside a transaction.
func (d *DAO) LatestVersioned(ctx context.Context, tx Querier) (*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` WHERE %s ORDER BY id DESC LIMIT 1 FOR UPDATE",
		selectCols, d.table, versionedCriterion)
	return d.one(ctx, tx, query)
}

// BySig returns the history row for the signature locked FOR UPDATE, or
// nil when absent. Must run inside a transaction.
func (d *DAO) BySig(ctx context.Context, tx Querier, sig plan.Signature) (*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` WHERE ver = ? AND name = ? FOR UPDATE",
		selectCols, d.table)
	return d.one(ctx, tx, query, sig.Version, sig.Name)
}

// AllDTO returns a plain snapshot of every history row without locking.
// Safe on a bare *sql.DB; used by read-only reporting.
func (d *DAO) AllDTO(ctx context.Context, db Querier) ([]*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` ORDER BY id ASC", selectCols, d.table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	return d.scanRows(rows)
}

// BySigDTO returns the history row for the signature without locking, or
// nil when absent.
func (d *DAO) BySigDTO(ctx context.Context, db Querier, sig plan.Signature) (*Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM `%s` WHERE ver = ? AND name = ?", selectCols, d.table)
	return d.one(ctx, db, query, sig.Version, sig.Name)
}

func (d *DAO) one(ctx context.Context, q Querier, query string, args ...any) (*Row, error) {
	r := &Row{}
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.Version, &r.Name, &r.Type, &r.State, &r.Created, &r.Updated, &r.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history row")
	}
	return r, nil
}
