package engine

import (
	"context"
	"io"
	"time"

	"github.com/beim/sdm/pkg/plan"
	"github.com/olekukonko/tablewriter"
)

// InfoRow is one line of the info report: a history row joined with the
// matching plan's rollbackability.
type InfoRow struct {
	Version      string
	Name         string
	Type         string
	State        string
	Rollbackable string
	Created      time.Time
	Updated      time.Time
}

// Info loads all history rows without locking and computes whether each
// recorded migration can be rolled back. Rows whose plan no longer exists
// report "unknown".
func (e *Engine) Info(ctx context.Context) ([]InfoRow, error) {
	if err := e.Bootstrap(ctx); err != nil {
		return nil, err
	}
	hists, err := e.dao.AllDTO(ctx, e.db)
	if err != nil {
		return nil, err
	}

	rows := make([]InfoRow, 0, len(hists))
	for _, hist := range hists {
		rows = append(rows, InfoRow{
			Version:      hist.Version,
			Name:         hist.Name,
			Type:         hist.Type,
			State:        string(hist.State),
			Rollbackable: e.rollbackable(hist.Type, plan.Signature{Version: hist.Version, Name: hist.Name}),
			Created:      hist.Created,
			Updated:      hist.Updated,
		})
	}
	return rows, nil
}

func (e *Engine) rollbackable(histType string, sig plan.Signature) string {
	var p *plan.Plan
	switch plan.Type(histType) {
	case plan.TypeSchema, plan.TypeData:
		loc, err := e.mpm.MustBySig(sig)
		if err != nil {
			return "unknown"
		}
		p = loc.Plan
	case plan.TypeRepeatable:
		rp, err := e.mpm.RepeatableBySig(sig)
		if err != nil {
			return "unknown"
		}
		p = rp
	default:
		return "false"
	}
	if p.Rollbackable() {
		return "true"
	}
	return "false"
}

// WriteInfoTable renders info rows as a table.
func WriteInfoTable(w io.Writer, rows []InfoRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ver", "name", "type", "state", "rollbackable", "created", "updated"})
	for _, r := range rows {
		table.Append([]string{
			r.Version, r.Name, r.Type, r.State, r.Rollbackable,
			r.Created.Format(time.DateTime), r.Updated.Format(time.DateTime),
		})
	}
	table.Render()
}
