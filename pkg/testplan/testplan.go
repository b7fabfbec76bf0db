// Package testplan synthesizes migrate/rollback test plans by walking the
// versioned plan graph: three deterministic walks plus a weighted random
// "monkey" walk used to shake out rollback paths.
//
// Nodes are the indices of versioned plans in dependency order. Edges are
// (i-1, i) for every consecutive pair, plus (i, i-1) when plan i declares
// a backward change.
package testplan

import (
	"math/rand"
	"strings"

	"github.com/beim/sdm/pkg/plan"
	"github.com/beim/sdm/pkg/sdmerr"
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Test plan types accepted by gen and run.
const (
	TypeSimpleForward       = "simple-forward"
	TypeStepForward         = "step-forward"
	TypeStepForwardBackward = "step-forward-backward"
	TypeMonkey              = "monkey"
	TypeCustom              = "custom" // run only: read a saved plan
)

type (
	// Generator walks an index graph.
	Generator struct {
		nodes int
		adj   map[int]map[int]graph.Edge[int]
		rnd   *rand.Rand
	}

	// MonkeyOptions tunes the weighted random walk.
	MonkeyOptions struct {
		// WalkLen is the number of steps; 0 means (nodes - start) * 10.
		WalkLen int

		// Start is the walk's starting node.
		Start int

		// Important nodes get doubled edge weight; NonImportant halved.
		Important    []int
		NonImportant []int
	}
)

// NewGenerator creates a generator over the given index graph. The
// *rand.Rand is injected so walks are reproducible.
func NewGenerator(g graph.Graph[int, int], rnd *rand.Rand) (*Generator, error) {
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read graph adjacency")
	}
	return &Generator{nodes: len(adj), adj: adj, rnd: rnd}, nil
}

func (g *Generator) maxNode() int { return g.nodes - 1 }

func (g *Generator) hasEdge(from, to int) bool {
	_, ok := g.adj[from][to]
	return ok
}

// SimpleForward migrates straight from the first to the last plan.
func (g *Generator) SimpleForward() []int {
	return []int{0, g.maxNode()}
}

// StepForward migrates one plan at a time up to the last.
func (g *Generator) StepForward() []int {
	result := make([]int, 0, g.nodes)
	for i := 0; i <= g.maxNode(); i++ {
		result = append(result, i)
	}
	return result
}

// StepForwardBackward advances one plan at a time, and after each advance
// rolls back as far as backward edges allow before advancing again.
func (g *Generator) StepForwardBackward() []int {
	var result []int
	maxVisited := 0
	for maxVisited <= g.maxNode() {
		curr := maxVisited
		result = append(result, curr)
		maxVisited++

		for g.hasEdge(curr, curr-1) {
			curr--
			result = append(result, curr)
		}
	}
	return result
}

// Monkey performs a weighted random walk. Edge weights start at 4, double
// for important destinations, halve for non-important ones, and lose one
// point when the move is an irreversible forward step. Chosen edges with
// weight above one are decremented, cooling frequently taken paths.
// Backward edges out of the start node are removed so the walk never rolls
// back past its starting point.
func (g *Generator) Monkey(opts MonkeyOptions) []int {
	walkLen := opts.WalkLen
	if walkLen == 0 {
		walkLen = (g.nodes - opts.Start) * 10
	}

	important := toSet(opts.Important)
	nonImportant := toSet(opts.NonImportant)

	weights := make(map[int]map[int]int, g.nodes)
	for i, succ := range g.adj {
		weights[i] = make(map[int]int, len(succ))
		for j := range succ {
			if i == opts.Start && j < opts.Start {
				continue
			}
			w := 4
			if _, ok := important[j]; ok {
				w *= 2
			}
			if _, ok := nonImportant[j]; ok {
				w /= 2
			}
			if i < j && !g.hasEdge(j, i) {
				w--
			}
			weights[i][j] = w
		}
	}

	var result []int
	curr := opts.Start
	for step := 0; step < walkLen; step++ {
		result = append(result, curr)
		succ := weights[curr]
		if len(succ) == 0 {
			break
		}
		// deterministic candidate order, then weight-proportional sampling
		var candidates []int
		for _, j := range sortedKeys(succ) {
			for k := 0; k < succ[j]; k++ {
				candidates = append(candidates, j)
			}
		}
		next := candidates[g.rnd.Intn(len(candidates))]
		if weights[curr][next] > 1 {
			weights[curr][next]--
		}
		curr = next
	}
	return result
}

func toSet(nodes []int) map[int]struct{} {
	s := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		s[n] = struct{}{}
	}
	return s
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Planner translates between index walks and signature strings against a
// loaded plan manager.
type Planner struct {
	mpm *plan.Manager
	gen *Generator
}

// NewPlanner builds a planner over the manager's version graph.
func NewPlanner(mpm *plan.Manager, rnd *rand.Rand) (*Planner, error) {
	g, err := mpm.VersionGraph()
	if err != nil {
		return nil, err
	}
	gen, err := NewGenerator(g, rnd)
	if err != nil {
		return nil, err
	}
	return &Planner{mpm: mpm, gen: gen}, nil
}

// GenOptions carries the CLI-facing walk parameters: signatures as
// "{version}_{name}" strings, comma-separated where lists are expected.
type GenOptions struct {
	WalkLen      int
	Start        string
	Important    string
	NonImportant string
}

// Gen produces a test plan of the given type as signature strings.
func (p *Planner) Gen(testType string, opts GenOptions) ([]string, error) {
	switch testType {
	case TypeSimpleForward:
		return p.indexesToStrings(p.gen.SimpleForward())
	case TypeStepForward:
		return p.indexesToStrings(p.gen.StepForward())
	case TypeStepForwardBackward:
		return p.indexesToStrings(p.gen.StepForwardBackward())
	case TypeMonkey:
		mo := MonkeyOptions{WalkLen: opts.WalkLen}
		if opts.Start != "" {
			idx, err := p.stringToIndex(opts.Start)
			if err != nil {
				return nil, err
			}
			mo.Start = idx
		}
		var err error
		if mo.Important, err = p.stringsToIndexes(opts.Important); err != nil {
			return nil, err
		}
		if mo.NonImportant, err = p.stringsToIndexes(opts.NonImportant); err != nil {
			return nil, err
		}
		return p.indexesToStrings(p.gen.Monkey(mo))
	default:
		return nil, sdmerr.Usagef("unknown test type %q", testType)
	}
}

// ReadPlan resolves each signature string in a test plan to its plan and
// index.
func (p *Planner) ReadPlan(lines []string) ([]plan.Located, error) {
	out := make([]plan.Located, 0, len(lines))
	for _, line := range lines {
		sig, err := plan.ParseSignature(line)
		if err != nil {
			return nil, err
		}
		loc, err := p.mpm.MustBySig(sig)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

func (p *Planner) indexesToStrings(idx []int) ([]string, error) {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= p.mpm.Count() {
			return nil, errors.Errorf("walk index %d out of range", i)
		}
		out = append(out, p.mpm.PlanByIndex(i).Sig().String())
	}
	return out, nil
}

func (p *Planner) stringToIndex(s string) (int, error) {
	sig, err := plan.ParseSignature(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	loc, err := p.mpm.MustBySig(sig)
	if err != nil {
		return 0, err
	}
	return loc.Index, nil
}

func (p *Planner) stringsToIndexes(csv string) ([]int, error) {
	if csv == "" {
		return nil, nil
	}
	var out []int
	for _, s := range strings.Split(csv, ",") {
		idx, err := p.stringToIndex(s)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}
