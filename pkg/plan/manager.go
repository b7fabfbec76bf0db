package plan

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// SortAlg selects how versioned plans are ordered by the manager.
type SortAlg string

const (
	// SortDependency orders plans by walking the dependency chain from the
	// initial plan. Production default.
	SortDependency SortAlg = "DEPENDENCY"

	// SortVersion orders plans by ascending integer version. Test use only.
	SortVersion SortAlg = "VERSION"
)

type (
	// Manager holds the loaded plan set: versioned plans in dependency
	// order and repeatable plans in load order. Both slices are always
	// non-nil.
	Manager struct {
		plans      []*Plan
		repeatable []*Plan
	}

	// Located pairs a plan with its index in the versioned order.
	Located struct {
		Plan  *Plan
		Index int
	}
)

func sigKey(s Signature) string { return s.String() }

// NewManager loads every *.json plan file under planDir, binds dataDir for
// checksum resolution, and sorts versioned plans with the given algorithm.
func NewManager(planDir, dataDir string, alg SortAlg) (*Manager, error) {
	entries, err := os.ReadDir(planDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan directory: %s", planDir)
	}

	var all []*Plan
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(planDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read plan file: %s", path)
		}
		p, err := Decode(data)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid plan file: %s", path)
		}
		p.BindDataDir(dataDir)
		all = append(all, p)
	}

	return NewManagerFromPlans(all, alg)
}

// NewManagerFromPlans builds a manager from already-decoded plans. Used by
// tests and by callers that synthesize plans in memory.
func NewManagerFromPlans(all []*Plan, alg SortAlg) (*Manager, error) {
	versioned := make([]*Plan, 0, len(all))
	repeatable := make([]*Plan, 0)
	for _, p := range all {
		if p.Type == TypeRepeatable {
			repeatable = append(repeatable, p)
		} else {
			versioned = append(versioned, p)
		}
	}

	sorted, err := sortPlans(versioned, alg)
	if err != nil {
		return nil, err
	}
	if err := checkRepeatableDeps(sorted, repeatable); err != nil {
		return nil, err
	}

	return &Manager{plans: sorted, repeatable: repeatable}, nil
}

// checkRepeatableDeps verifies that every dependency a repeatable plan
// declares refers to an existing versioned plan.
func checkRepeatableDeps(versioned, repeatable []*Plan) error {
	if len(repeatable) == 0 {
		return nil
	}
	known := make(map[Signature]struct{}, len(versioned))
	for _, p := range versioned {
		known[p.Sig()] = struct{}{}
	}
	for _, p := range repeatable {
		if len(p.Dependencies) == 0 {
			continue
		}
		if _, ok := known[p.Dependencies[0]]; !ok {
			return sdmerr.Integrityf("cannot find dependency %s for %s", p.Dependencies[0], p)
		}
	}
	return nil
}

func sortPlans(plans []*Plan, alg SortAlg) ([]*Plan, error) {
	switch alg {
	case SortVersion:
		return sortByVersion(plans)
	case SortDependency, "":
		return sortByDependency(plans)
	default:
		return nil, errors.Errorf("invalid sort algorithm %q", alg)
	}
}

func sortByVersion(plans []*Plan) ([]*Plan, error) {
	versions := make(map[*Plan]int, len(plans))
	for _, p := range plans {
		n, err := strconv.Atoi(p.Version)
		if err != nil {
			return nil, errors.Errorf("non-numeric version %q on %s", p.Version, p)
		}
		versions[p] = n
	}
	sorted := make([]*Plan, len(plans))
	copy(sorted, plans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return versions[sorted[i]] < versions[sorted[j]]
	})
	return sorted, nil
}

// sortByDependency builds the dependency graph and walks the single chain
// from the initial plan. Duplicate signatures, missing dependencies,
// cycles, forks, and disconnected components are all IntegrityErrors.
func sortByDependency(plans []*Plan) ([]*Plan, error) {
	if len(plans) == 0 {
		return []*Plan{}, nil
	}

	byKey := make(map[string]*Plan, len(plans))
	g := graph.New(sigKey, graph.Directed(), graph.PreventCycles())

	for _, p := range plans {
		if err := g.AddVertex(p.Sig()); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, sdmerr.Integrityf("found duplicate migration plan %s", p)
			}
			return nil, errors.Wrapf(err, "failed to add %s to dependency graph", p)
		}
		byKey[sigKey(p.Sig())] = p
	}
	if _, ok := byKey[sigKey(Initial)]; !ok {
		return nil, sdmerr.Integrityf("cannot find initial migration plan")
	}

	for _, p := range plans {
		if len(p.Dependencies) == 0 {
			if p.Match(Initial) {
				continue
			}
			return nil, sdmerr.Integrityf("%s has no dependency", p)
		}
		// Only the first dependency participates in ordering; additional
		// entries are accepted for forward compatibility.
		dep := p.Dependencies[0]
		if _, ok := byKey[sigKey(dep)]; !ok {
			return nil, sdmerr.Integrityf("cannot find dependency %s for %s", dep, p)
		}
		if err := g.AddEdge(sigKey(dep), sigKey(p.Sig())); err != nil {
			if errors.Is(err, graph.ErrEdgeCreatesCycle) {
				return nil, sdmerr.Integrityf("dependency cycle detected at %s", p)
			}
			return nil, errors.Wrapf(err, "failed to add dependency edge for %s", p)
		}
	}

	adjacency, err := g.AdjacencyMap()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build adjacency map")
	}

	sorted := make([]*Plan, 0, len(plans))
	cur := sigKey(Initial)
	for {
		sorted = append(sorted, byKey[cur])
		succ := adjacency[cur]
		if len(succ) == 0 {
			if len(sorted) != len(plans) {
				return nil, sdmerr.Integrityf(
					"cannot find next migration plan for %s", byKey[cur])
			}
			break
		}
		if len(succ) > 1 {
			return nil, sdmerr.Integrityf(
				"found multiple next migration plans for %s", byKey[cur])
		}
		for next := range succ {
			cur = next
		}
	}

	return sorted, nil
}

// Count returns the number of versioned plans.
func (m *Manager) Count() int { return len(m.plans) }

// Plans returns the versioned plans in dependency order.
func (m *Manager) Plans() []*Plan { return m.plans }

// RepeatablePlans returns the repeatable plans in load order.
func (m *Manager) RepeatablePlans() []*Plan { return m.repeatable }

// PlanByIndex returns the versioned plan at index i.
func (m *Manager) PlanByIndex(i int) *Plan { return m.plans[i] }

// PlansByType returns the versioned plans of the given type, in order.
func (m *Manager) PlansByType(t Type) []*Plan {
	out := make([]*Plan, 0)
	for _, p := range m.plans {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Latest returns the last versioned plan, or nil for an empty set.
func (m *Manager) Latest() *Plan {
	if len(m.plans) == 0 {
		return nil
	}
	return m.plans[len(m.plans)-1]
}

// LatestByType returns the last versioned plan of the given type.
func (m *Manager) LatestByType(t Type) (*Plan, error) {
	for i := len(m.plans) - 1; i >= 0; i-- {
		if m.plans[i].Type == t {
			return m.plans[i], nil
		}
	}
	return nil, sdmerr.Usagef("cannot find plan with type %s", t)
}

// BySig returns every versioned plan matching the signature. A signature
// without a name matches any plan with the same version.
func (m *Manager) BySig(sig Signature) []Located {
	var out []Located
	for i, p := range m.plans {
		if p.Version == sig.Version && (sig.Name == "" || p.Name == sig.Name) {
			out = append(out, Located{Plan: p, Index: i})
		}
	}
	return out
}

// MustBySig returns the single versioned plan matching the signature.
// Missing and ambiguous signatures are UsageErrors.
func (m *Manager) MustBySig(sig Signature) (Located, error) {
	found := m.BySig(sig)
	if len(found) == 0 {
		return Located{}, sdmerr.Usagef("cannot find plan for signature %s", sig)
	}
	if len(found) > 1 {
		return Located{}, sdmerr.Usagef("found multiple plans for signature %s", sig)
	}
	return found[0], nil
}

// BetweenIdx returns plans[left..right] inclusive.
func (m *Manager) BetweenIdx(left, right int) []*Plan {
	return m.plans[left : right+1]
}

// Between returns the inclusive range from index left to the plan matching
// right, or to the last plan when right is nil.
func (m *Manager) Between(left int, right *Signature) ([]*Plan, error) {
	rightIdx := len(m.plans) - 1
	if right != nil {
		loc, err := m.MustBySig(*right)
		if err != nil {
			return nil, err
		}
		rightIdx = loc.Index
	}
	if left > rightIdx+1 {
		return nil, sdmerr.Usagef("invalid plan range [%d, %d]", left, rightIdx)
	}
	return m.plans[left : rightIdx+1], nil
}

// RepeatableBySig returns the repeatable plan with the given signature.
func (m *Manager) RepeatableBySig(sig Signature) (*Plan, error) {
	for _, p := range m.repeatable {
		if p.Match(sig) {
			return p, nil
		}
	}
	return nil, sdmerr.Usagef("cannot find repeatable plan for %s", sig)
}

// RepeatableByName returns the repeatable plan with the given name.
func (m *Manager) RepeatableByName(name string) (*Plan, error) {
	for _, p := range m.repeatable {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, sdmerr.Usagef("cannot find repeatable plan with name %s", name)
}

// RepeatableInverseDeps maps every versioned signature to the repeatable
// signatures that declare it as a dependency.
func (m *Manager) RepeatableInverseDeps() map[Signature][]Signature {
	inverse := make(map[Signature][]Signature)
	for _, p := range m.repeatable {
		for _, dep := range p.Dependencies {
			inverse[dep] = append(inverse[dep], p.Sig())
		}
	}
	return inverse
}

// VersionGraph builds the index graph the test-plan generator walks: an
// edge (i-1, i) for every consecutive pair, plus (i, i-1) when plan i
// declares a backward change.
func (m *Manager) VersionGraph() (graph.Graph[int, int], error) {
	g := graph.New(graph.IntHash, graph.Directed())
	for i := range m.plans {
		if err := g.AddVertex(i); err != nil {
			return nil, errors.Wrap(err, "failed to build version graph")
		}
	}
	for i := 1; i < len(m.plans); i++ {
		if err := g.AddEdge(i-1, i); err != nil {
			return nil, errors.Wrap(err, "failed to build version graph")
		}
		if m.plans[i].Rollbackable() {
			if err := g.AddEdge(i, i-1); err != nil {
				return nil, errors.Wrap(err, "failed to build version graph")
			}
		}
	}
	return g, nil
}
