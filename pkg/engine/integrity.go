package engine

import (
	"os"
	"path/filepath"

	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
)

// CheckIntegrity verifies every plan before any database work: schema
// plans must resolve their forward (and, except for the initial plan,
// backward) manifests in the store; data and repeatable plans must carry
// a non-empty inline statement or an existing payload file. In full mode
// every blob SHA-1 is recomputed; in fast mode only existence is checked.
func (e *Engine) CheckIntegrity(full bool) error {
	checked := make(map[string]struct{})
	for _, p := range e.mpm.Plans() {
		switch p.Type {
		case plan.TypeSchema:
			if err := e.checkSchemaPlan(p, full, checked); err != nil {
				return err
			}
		case plan.TypeData:
			if err := e.checkDataPlan(p); err != nil {
				return err
			}
		default:
			return sdmerr.Integrityf("unknown type %q for %s", p.Type, p)
		}
	}
	for _, p := range e.mpm.RepeatablePlans() {
		if err := e.checkDataPlan(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkSchemaPlan(p *plan.Plan, full bool, checked map[string]struct{}) error {
	if p.Change.Forward == nil {
		return sdmerr.Integrityf("forward is nil, %s", p)
	}
	if err := e.verifyManifest(p, p.Change.Forward.ID, full, checked); err != nil {
		return err
	}

	if p.Match(plan.Initial) {
		return nil
	}
	if p.Change.Backward == nil {
		return sdmerr.Integrityf("backward is nil, %s", p)
	}
	return e.verifyManifest(p, p.Change.Backward.ID, full, checked)
}

func (e *Engine) verifyManifest(p *plan.Plan, id string, full bool, checked map[string]struct{}) error {
	if _, ok := checked[id]; ok {
		return nil
	}
	if err := e.store.Verify(id, full); err != nil {
		return sdmerr.Integrityf("schema snapshot broken for %s: %v", p, err)
	}
	checked[id] = struct{}{}
	return nil
}

func (e *Engine) checkDataPlan(p *plan.Plan) error {
	if p.Match(plan.Initial) {
		return sdmerr.Integrityf("initial migration plan should not be a data migration, %s", p)
	}
	if p.Change.Forward == nil {
		return sdmerr.Integrityf("forward is nil, %s", p)
	}
	if err := e.checkDataStep(p, p.Change.Forward); err != nil {
		return err
	}
	if p.Change.Backward != nil {
		return e.checkDataStep(p, p.Change.Backward)
	}
	return nil
}

func (e *Engine) checkDataStep(p *plan.Plan, step *plan.Step) error {
	if step.Kind == plan.KindSQL {
		if step.SQL == "" {
			return sdmerr.Integrityf("sql is empty, %s", p)
		}
		return nil
	}
	if !step.Kind.External() {
		return sdmerr.Integrityf("invalid data change kind %q, %s", step.Kind, p)
	}
	if step.File == "" {
		return sdmerr.Integrityf("data migration file is empty, %s", p)
	}
	path := filepath.Join(e.project.DataPath(), step.File)
	if _, err := os.Stat(path); err != nil {
		return sdmerr.Integrityf("data migration file not found, file=%s, %s", step.File, p)
	}
	return nil
}
