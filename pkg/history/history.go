// Package history persists migration state in the target database: the
// history table (one row per applied or in-flight plan) and the append-only
// history log table (one row per state transition).
//
// The history row state machine is
//
//	[new] -> PROCESSING -> SUCCESSFUL -> ROLLBACKING -> [deleted]
//
// and is the canonical ordering for the whole tool: at any persisted
// moment at most one versioned row is in a non-SUCCESSFUL state, and that
// row is the recovery anchor the fix commands operate on.
//
// All mutating and prefix-checking reads take a *sql.Tx and lock their
// selection with FOR UPDATE so concurrent migration processes serialize on
// the history rows. Reporting reads take the bare *sql.DB and do not lock.
package history

import (
	"time"
)

// State is the lifecycle state of a history row.
type State string

const (
	StatePROCESSING  State = "PROCESSING"
	StateSUCCESSFUL  State = "SUCCESSFUL"
	StateROLLBACKING State = "ROLLBACKING"
)

// Operation names a history log entry.
type Operation string

const (
	OpCreate           Operation = "create"
	OpDelete           Operation = "delete"
	OpUpdateSucc       Operation = "update_succ"
	OpUpdateRollback   Operation = "update_rollback"
	OpUpdateProcessing Operation = "update_processing" // repeatable retries only
)

// Row is one migration history record.
type Row struct {
	ID       int64
	Version  string
	Name     string
	Type     string
	State    State
	Created  time.Time
	Updated  time.Time
	Checksum string
}

// CanMatch reports whether the row records exactly the given plan
// identity and checksum.
func (r *Row) CanMatch(version, name, sum string) bool {
	return r.Version == version && r.Name == name && r.Checksum == sum
}
