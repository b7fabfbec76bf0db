package engine

import (
	"os"

	"github.com/beim/sdm/pkg/plan"
	"github.com/olekukonko/tablewriter"
)

// printPlanTable renders plans for dry-run output. Rollback listings are
// printed in execution order, i.e. reversed.
func (e *Engine) printPlanTable(plans []*plan.Plan, reverse bool) {
	ordered := plans
	if reverse {
		ordered = make([]*plan.Plan, len(plans))
		for i, p := range plans {
			ordered[len(plans)-1-i] = p
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ver", "name", "type", "forward", "backward"})
	for _, p := range ordered {
		table.Append([]string{
			p.Version,
			p.Name,
			string(p.Type),
			p.Change.Forward.PrintString(p.Type),
			p.Change.Backward.PrintString(p.Type),
		})
	}
	table.Render()
}
