package resolve

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

type EvidenceMode string

const (
	// EvidenceModeGroup reads an intra-dataset duplicate table where every id
	// sharing the group key (e.g. a Link Plus "Set ID") is the same person.
	EvidenceModeGroup EvidenceMode = "group"
	// EvidenceModePair reads a match table with one id column per dataset.
	EvidenceModePair EvidenceMode = "pair"
)

// EvidenceSpec describes how to read "same individual" edges out of one
// evidence table.
type EvidenceSpec struct {
	Name string
	Mode EvidenceMode

	Dataset      string
	GroupColumns []string
	IDColumn     string

	LeftDataset  string
	LeftColumn   string
	RightDataset string
	RightColumn  string

	// ScoreColumn, when set, drops rows whose score is below MinScore or
	// cannot be parsed.
	ScoreColumn string
	MinScore    float64
}

// Datasets lists the dataset namespaces the evidence table refers to.
func (s EvidenceSpec) Datasets() []string {
	if s.Mode == EvidenceModePair {
		return []string{s.LeftDataset, s.RightDataset}
	}
	return []string{s.Dataset}
}

// Evidence is the normalised output of one table: edges plus every vertex
// the table named, including members of single-id groups.
type Evidence struct {
	Source   string
	Edges    []Edge
	Vertices []Vertex
	Stats    EvidenceStats
}

// EvidenceStats counts what happened to the rows of one table.
type EvidenceStats struct {
	Source         string
	Kind           EdgeKind
	Rows           int
	Edges          int
	DroppedMissing int
	DroppedScore   int
	BadScore       int
	Duplicates     int
}

// LoadEvidence normalises one evidence table into match edges.
func LoadEvidence(spec EvidenceSpec, t *table.Table) (*Evidence, error) {
	name := spec.Name
	if name == "" {
		name = t.Name
	}

	var minScore func(row []string, stats *EvidenceStats) bool
	if spec.ScoreColumn != "" {
		idx, err := t.Require(spec.ScoreColumn)
		if err != nil {
			return nil, schemaErr(name, err)
		}
		minScore = func(row []string, stats *EvidenceStats) bool {
			raw := strings.TrimSpace(row[idx[0]])
			score, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				stats.BadScore++
				return false
			}
			if score < spec.MinScore {
				stats.DroppedScore++
				return false
			}
			return true
		}
	}

	switch spec.Mode {
	case EvidenceModeGroup:
		if spec.Dataset == "" || spec.IDColumn == "" {
			return nil, &SchemaError{Table: name, Err: errors.New("group evidence needs a dataset and an id column")}
		}
		groups := spec.GroupColumns
		if len(groups) == 0 {
			groups = []string{"Set ID"}
		}
		return groupEdges(groupParams{
			source:   name,
			kind:     EdgeKindMatch,
			dataset:  spec.Dataset,
			groupBy:  groups,
			idColumn: spec.IDColumn,
			filter:   minScore,
		}, t)
	case EvidenceModePair:
		if spec.LeftDataset == "" || spec.RightDataset == "" || spec.LeftColumn == "" || spec.RightColumn == "" {
			return nil, &SchemaError{Table: name, Err: errors.New("pair evidence needs two datasets and two id columns")}
		}
		return pairEdges(name, spec, t, minScore)
	default:
		return nil, &SchemaError{Table: name, Err: fmt.Errorf("unknown evidence mode %q", spec.Mode)}
	}
}

func pairEdges(name string, spec EvidenceSpec, t *table.Table, filter func([]string, *EvidenceStats) bool) (*Evidence, error) {
	idx, err := t.Require(spec.LeftColumn, spec.RightColumn)
	if err != nil {
		return nil, schemaErr(name, err)
	}

	ev := &Evidence{Source: name, Stats: EvidenceStats{Source: name, Kind: EdgeKindMatch, Rows: t.Len()}}
	seenVertex := make(map[Vertex]struct{})
	seenPair := make(map[[2]Vertex]struct{})
	addVertex := func(v Vertex) {
		if _, ok := seenVertex[v]; !ok {
			seenVertex[v] = struct{}{}
			ev.Vertices = append(ev.Vertices, v)
		}
	}

	for _, row := range t.Rows {
		left := NormalizeRawID(row[idx[0]])
		right := NormalizeRawID(row[idx[1]])
		if left == "" || right == "" {
			ev.Stats.DroppedMissing++
			continue
		}
		if filter != nil && !filter(row, &ev.Stats) {
			continue
		}

		a := Vertex{Dataset: spec.LeftDataset, RawID: left}
		b := Vertex{Dataset: spec.RightDataset, RawID: right}
		if compareVertex(b, a) < 0 {
			a, b = b, a
		}
		key := [2]Vertex{a, b}
		if _, ok := seenPair[key]; ok {
			ev.Stats.Duplicates++
			continue
		}
		seenPair[key] = struct{}{}
		addVertex(a)
		addVertex(b)
		ev.Edges = append(ev.Edges, Edge{A: a, B: b, Kind: EdgeKindMatch, Source: name})
	}
	ev.Stats.Edges = len(ev.Edges)

	return ev, nil
}

type groupParams struct {
	source   string
	kind     EdgeKind
	dataset  string
	groupBy  []string
	idColumn string
	// dateColumns are group columns compared as dates.
	dateColumns []string
	filter      func([]string, *EvidenceStats) bool
}

// groupEdges connects every id sharing a group key. Rows with an empty key
// cell or id are dropped. Each group becomes a star from its smallest member,
// which yields the same components as connecting all pairs.
func groupEdges(p groupParams, t *table.Table) (*Evidence, error) {
	cols := append(slices.Clone(p.groupBy), p.idColumn)
	idx, err := t.Require(cols...)
	if err != nil {
		return nil, schemaErr(p.source, err)
	}
	keyIdx := idx[:len(p.groupBy)]
	idIdx := idx[len(p.groupBy)]

	isDate := make([]bool, len(p.groupBy))
	for i, c := range p.groupBy {
		isDate[i] = slices.Contains(p.dateColumns, c)
	}

	ev := &Evidence{Source: p.source, Stats: EvidenceStats{Source: p.source, Kind: p.kind, Rows: t.Len()}}

	var order []string
	members := make(map[string][]string)
	seenMember := make(map[string]map[string]struct{})

	keyParts := make([]string, len(keyIdx))
rows:
	for _, row := range t.Rows {
		for i, k := range keyIdx {
			part := strings.TrimSpace(row[k])
			if part == "" {
				ev.Stats.DroppedMissing++
				continue rows
			}
			if isDate[i] {
				if d, ok := table.NormalizeDate(part); ok {
					part = d
				}
			}
			keyParts[i] = part
		}
		id := NormalizeRawID(row[idIdx])
		if id == "" {
			ev.Stats.DroppedMissing++
			continue
		}
		if p.filter != nil && !p.filter(row, &ev.Stats) {
			continue
		}

		key := strings.Join(keyParts, "\x1f")
		if _, ok := members[key]; !ok {
			order = append(order, key)
			seenMember[key] = make(map[string]struct{})
		}
		if _, ok := seenMember[key][id]; ok {
			ev.Stats.Duplicates++
			continue
		}
		seenMember[key][id] = struct{}{}
		members[key] = append(members[key], id)
	}

	seenVertex := make(map[Vertex]struct{})
	for _, key := range order {
		ids := members[key]
		slices.SortFunc(ids, compareRawID)
		hub := Vertex{Dataset: p.dataset, RawID: ids[0]}
		for i, id := range ids {
			v := Vertex{Dataset: p.dataset, RawID: id}
			if _, ok := seenVertex[v]; !ok {
				seenVertex[v] = struct{}{}
				ev.Vertices = append(ev.Vertices, v)
			}
			if i == 0 {
				continue
			}
			ev.Edges = append(ev.Edges, Edge{A: hub, B: v, Kind: p.kind, Source: p.source})
		}
	}
	ev.Stats.Edges = len(ev.Edges)

	return ev, nil
}
