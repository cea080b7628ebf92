package resolve

import (
	"slices"
)

// Assignment maps every vertex to its global individual and family id.
// Individuals[i] and Families[i] list the members of id i.
type Assignment struct {
	Individual  map[Vertex]int64
	Family      map[Vertex]int64
	Individuals [][]Vertex
	Families    [][]Vertex
}

// Enumerate numbers a partition canonically: members are sorted, components
// are ordered by their smallest member and numbered from zero. The result
// depends only on the partition, not on how it was traversed.
func Enumerate(components [][]Vertex) ([][]Vertex, map[Vertex]int64) {
	sorted := make([][]Vertex, len(components))
	for i, c := range components {
		members := slices.Clone(c)
		slices.SortFunc(members, compareVertex)
		sorted[i] = members
	}
	slices.SortFunc(sorted, func(a, b []Vertex) int {
		return compareVertex(a[0], b[0])
	})

	ids := make(map[Vertex]int64)
	for id, members := range sorted {
		for _, v := range members {
			ids[v] = int64(id)
		}
	}
	return sorted, ids
}

// Assign computes the components of both graphs and numbers them.
func Assign(identity, family *Graph) *Assignment {
	a := &Assignment{}
	a.Individuals, a.Individual = Enumerate(identity.Components())
	a.Families, a.Family = Enumerate(family.Components())
	return a
}

// VerifySubset checks that every individual lies inside a single family.
func (a *Assignment) VerifySubset() error {
	for id, members := range a.Individuals {
		var families []int64
		for _, v := range members {
			fam, ok := a.Family[v]
			if !ok {
				return &MissingVertexError{Dataset: v.Dataset, RawID: v.RawID, Row: -1}
			}
			if !slices.Contains(families, fam) {
				families = append(families, fam)
			}
		}
		if len(families) > 1 {
			slices.Sort(families)
			return &SubsetViolationError{IndividualID: int64(id), FamilyIDs: families}
		}
	}
	return nil
}

func largest(components [][]Vertex) int {
	n := 0
	for _, c := range components {
		n = max(n, len(c))
	}
	return n
}
