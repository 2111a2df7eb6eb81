package analyzer

import (
	"sort"

	"github.com/vitebski/db-autofill/pkg/models"
	"github.com/yourbasic/graph"
)

// DependencyGraph holds the foreign key edges between the tables of a run.
// Vertex i is schema.Closure[i]; an edge v -> w means v references w.
type DependencyGraph struct {
	Tables []string
	Index  map[string]int
	Graph  *graph.Immutable
}

// BuildDependencyGraph creates the dependency graph of the closure tables. Self references are left out.
func BuildDependencyGraph(schema *models.SchemaInfo) *DependencyGraph {
	index := make(map[string]int, len(schema.Closure))
	for i, table := range schema.Closure {
		index[table] = i
	}

	g := graph.New(len(schema.Closure))
	for i, table := range schema.Closure {
		ts, ok := schema.Tables[table]
		if !ok {
			continue
		}
		for _, ref := range ts.ReferencedTables() {
			if j, ok := index[ref]; ok {
				g.Add(i, j)
			}
		}
	}

	// Sorting gives neighbours in increasing index, hence a deterministic traversal
	return &DependencyGraph{
		Tables: schema.Closure,
		Index:  index,
		Graph:  graph.Sort(g),
	}
}

// Cycles returns every table that belongs to a strongly connected component of two or more tables
func (dg *DependencyGraph) Cycles() []string {
	var tables []string
	for _, component := range graph.StrongComponents(dg.Graph) {
		if len(component) < 2 {
			continue
		}
		for _, v := range component {
			tables = append(tables, dg.Tables[v])
		}
	}
	sort.Strings(tables)
	return tables
}

// ResolveFillOrder orders the closure tables so that every table comes after each table it references
func ResolveFillOrder(schema *models.SchemaInfo) ([]string, error) {
	dg := BuildDependencyGraph(schema)

	if cyclic := dg.Cycles(); len(cyclic) > 0 {
		return nil, &models.CyclicDependencyError{Tables: cyclic}
	}

	// Depth-first post-order: a table is emitted once all its parents are
	visited := make([]bool, len(dg.Tables))
	order := make([]string, 0, len(dg.Tables))

	var visit func(v int)
	visit = func(v int) {
		visited[v] = true
		dg.Graph.Visit(v, func(w int, _ int64) bool {
			if !visited[w] {
				visit(w)
			}
			return false
		})
		order = append(order, dg.Tables[v])
	}

	for v := range dg.Tables {
		if !visited[v] {
			visit(v)
		}
	}

	return order, nil
}

// FillLevels groups an order into levels: a table's level is one more than the highest level of
// the tables it references, so the tables of one level never depend on each other.
func FillLevels(schema *models.SchemaInfo, order []string) [][]string {
	level := make(map[string]int, len(order))
	var levels [][]string

	for _, table := range order {
		l := 0
		if ts, ok := schema.Tables[table]; ok {
			for _, ref := range ts.ReferencedTables() {
				if parent, ok := level[ref]; ok && parent+1 > l {
					l = parent + 1
				}
			}
		}
		level[table] = l

		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], table)
	}

	return levels
}
