package plan_test

import (
	"testing"

	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/stretchr/testify/require"
)

func dataPlan(version, name, dep string) *plan.Plan {
	sig, _ := plan.ParseSignature(dep)
	return &plan.Plan{
		Version: version,
		Name:    name,
		Type:    plan.TypeData,
		Change: plan.Change{
			Forward:  &plan.Step{Kind: plan.KindSQL, SQL: "INSERT INTO t VALUES (1);"},
			Backward: &plan.Step{Kind: plan.KindSQL, SQL: "DELETE FROM t WHERE id = 1;"},
		},
		Dependencies: []plan.Signature{sig},
	}
}

func repeatablePlan(name, dep string) *plan.Plan {
	p := &plan.Plan{
		Version: plan.RepeatableVersion,
		Name:    name,
		Type:    plan.TypeRepeatable,
		Change: plan.Change{
			Forward: &plan.Step{Kind: plan.KindSQL, SQL: "INSERT INTO t VALUES (100);"},
		},
		Dependencies: []plan.Signature{},
	}
	if dep != "" {
		sig, _ := plan.ParseSignature(dep)
		p.Dependencies = []plan.Signature{sig}
	}
	return p
}

func chain(t *testing.T, n int) []*plan.Plan {
	t.Helper()
	plans := []*plan.Plan{initPlan()}
	prev := "0000_init"
	for i := 1; i < n; i++ {
		sig := plan.Signature{Version: plan.PadVersion(itoa(i)), Name: "step"}
		plans = append(plans, schemaPlan(sig.Version, sig.Name, prev))
		prev = sig.String()
	}
	return plans
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func TestDependencySortOrders(t *testing.T) {
	plans := chain(t, 4)
	// shuffle load order
	shuffled := []*plan.Plan{plans[2], plans[0], plans[3], plans[1]}

	m, err := plan.NewManagerFromPlans(shuffled, plan.SortDependency)
	require.NoError(t, err)
	require.Equal(t, 4, m.Count())

	// the initial plan comes first and every consecutive pair is linked by
	// the first dependency
	require.True(t, m.PlanByIndex(0).Match(plan.Initial))
	for i := 1; i < m.Count(); i++ {
		require.Equal(t, m.PlanByIndex(i-1).Sig(), m.PlanByIndex(i).Dependencies[0])
	}

	// determinism
	again, err := plan.NewManagerFromPlans(shuffled, plan.SortDependency)
	require.NoError(t, err)
	for i := 0; i < m.Count(); i++ {
		require.Equal(t, m.PlanByIndex(i).Sig(), again.PlanByIndex(i).Sig())
	}
}

func TestDependencySortMissingInitial(t *testing.T) {
	_, err := plan.NewManagerFromPlans([]*plan.Plan{
		schemaPlan("0001", "one", "0000_init"),
	}, plan.SortDependency)
	require.Error(t, err)
	require.True(t, sdmerr.IsIntegrity(err))
}

func TestDependencySortDuplicate(t *testing.T) {
	_, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		schemaPlan("0001", "one", "0000_init"),
		schemaPlan("0001", "one", "0000_init"),
	}, plan.SortDependency)
	require.Error(t, err)
	require.True(t, sdmerr.IsIntegrity(err))
}

func TestDependencySortCycle(t *testing.T) {
	a := schemaPlan("0001", "one", "0002_two")
	b := schemaPlan("0002", "two", "0001_one")
	_, err := plan.NewManagerFromPlans([]*plan.Plan{initPlan(), a, b}, plan.SortDependency)
	require.Error(t, err)
	require.True(t, sdmerr.IsIntegrity(err))
}

func TestDependencySortFork(t *testing.T) {
	_, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		schemaPlan("0001", "one", "0000_init"),
		schemaPlan("0002", "two", "0000_init"),
	}, plan.SortDependency)
	require.Error(t, err)
	require.True(t, sdmerr.IsIntegrity(err))
}

func TestDependencySortMissingDependency(t *testing.T) {
	_, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		schemaPlan("0002", "two", "0001_one"),
	}, plan.SortDependency)
	require.Error(t, err)
	require.True(t, sdmerr.IsIntegrity(err))
}

func TestVersionSort(t *testing.T) {
	// version sort does not require a coherent chain; used by tests only
	plans := []*plan.Plan{
		schemaPlan("0002", "two", "0001_one"),
		initPlan(),
		schemaPlan("0001", "one", "0000_init"),
	}
	m, err := plan.NewManagerFromPlans(plans, plan.SortVersion)
	require.NoError(t, err)
	require.Equal(t, "0000", m.PlanByIndex(0).Version)
	require.Equal(t, "0001", m.PlanByIndex(1).Version)
	require.Equal(t, "0002", m.PlanByIndex(2).Version)
}

func TestLookups(t *testing.T) {
	m, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		schemaPlan("0001", "one", "0000_init"),
		dataPlan("0002", "seed", "0001_one"),
	}, plan.SortDependency)
	require.NoError(t, err)

	require.Equal(t, "0002", m.Latest().Version)

	latestSchema, err := m.LatestByType(plan.TypeSchema)
	require.NoError(t, err)
	require.Equal(t, "0001", latestSchema.Version)

	require.Len(t, m.PlansByType(plan.TypeData), 1)

	// version-only signature matches by version
	loc, err := m.MustBySig(plan.Signature{Version: "0001"})
	require.NoError(t, err)
	require.Equal(t, 1, loc.Index)

	_, err = m.MustBySig(plan.Signature{Version: "0009"})
	require.Error(t, err)
	require.True(t, sdmerr.IsUsage(err))
}

func TestBetween(t *testing.T) {
	m, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		schemaPlan("0001", "one", "0000_init"),
		dataPlan("0002", "seed", "0001_one"),
	}, plan.SortDependency)
	require.NoError(t, err)

	all, err := m.Between(0, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	sig := plan.Signature{Version: "0001", Name: "one"}
	upTo, err := m.Between(1, &sig)
	require.NoError(t, err)
	require.Len(t, upTo, 1)
	require.Equal(t, "0001", upTo[0].Version)

	// empty range when everything is already applied
	empty, err := m.Between(3, nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.Len(t, m.BetweenIdx(1, 2), 2)
}

func TestRepeatableValidationAndLookups(t *testing.T) {
	r := repeatablePlan("seed_data", "0001_one")
	m, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		schemaPlan("0001", "one", "0000_init"),
		r,
	}, plan.SortDependency)
	require.NoError(t, err)
	require.Len(t, m.RepeatablePlans(), 1)

	got, err := m.RepeatableBySig(plan.Signature{Version: "R", Name: "seed_data"})
	require.NoError(t, err)
	require.Equal(t, r.Name, got.Name)

	byName, err := m.RepeatableByName("seed_data")
	require.NoError(t, err)
	require.Equal(t, r.Name, byName.Name)

	inverse := m.RepeatableInverseDeps()
	require.Len(t, inverse[plan.Signature{Version: "0001", Name: "one"}], 1)

	// dependency on an unknown versioned plan is an integrity error
	_, err = plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		repeatablePlan("orphan", "0005_nope"),
	}, plan.SortDependency)
	require.Error(t, err)
	require.True(t, sdmerr.IsIntegrity(err))
}

func TestVersionGraph(t *testing.T) {
	irreversible := schemaPlan("0001", "one", "0000_init")
	irreversible.Change.Backward = nil

	m, err := plan.NewManagerFromPlans([]*plan.Plan{
		initPlan(),
		irreversible,
		dataPlan("0002", "seed", "0001_one"),
	}, plan.SortDependency)
	require.NoError(t, err)

	g, err := m.VersionGraph()
	require.NoError(t, err)

	adj, err := g.AdjacencyMap()
	require.NoError(t, err)

	// forward edges always exist
	require.Contains(t, adj[0], 1)
	require.Contains(t, adj[1], 2)
	// backward edges only where plan i declares a backward change
	require.NotContains(t, adj[1], 0)
	require.Contains(t, adj[2], 1)
}
