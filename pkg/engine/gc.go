package engine

import (
	"github.com/beim/sdm/pkg/sdmerr"
)

// CleanStore removes (or, in dry-run mode, reports) every schema store
// blob not reachable from any plan. Unless skipped, a full integrity
// check runs first so GC never operates on a broken store.
func (e *Engine) CleanStore(dryRun, skipIntegrity bool) ([]string, error) {
	if !skipIntegrity {
		if err := e.CheckIntegrity(true); err != nil {
			return nil, err
		}
	}

	reachable, err := e.store.Reachable(e.mpm.Plans())
	if err != nil {
		return nil, sdmerr.Integrityf("failed to compute reachable blobs: %v", err)
	}
	removed, err := e.store.GC(reachable, dryRun)
	if err != nil {
		return nil, err
	}
	for _, rel := range removed {
		if dryRun {
			e.logger.Warn("unexpected file in schema store", "path", rel)
		} else {
			e.logger.Warn("deleted from schema store", "path", rel)
		}
	}
	return removed, nil
}
