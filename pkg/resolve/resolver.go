package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

// ResolverClient runs identity and family resolution over loaded tables.
//
// A ResolverClient should be created using NewResolverClient.
type ResolverClient struct {
	maxReferenceWarnings int
}

// NewResolverClientParams defines the configuration for a ResolverClient.
//
// MaxReferenceWarnings caps how many evidence ids that match no record are
// logged one by one; the total is always reported.
type NewResolverClientParams struct {
	MaxReferenceWarnings int
}

// NewResolverClient creates a ResolverClient.
//
// Example:
//
//	client := resolve.NewResolverClient(resolve.NewResolverClientParams{
//		MaxReferenceWarnings: 20,
//	})
//	result, err := client.Resolve(ctx, input)
//	if err != nil {
//		log.Fatal(err)
//	}
func NewResolverClient(params NewResolverClientParams) *ResolverClient {
	maxWarnings := params.MaxReferenceWarnings
	if maxWarnings < 0 {
		maxWarnings = 0
	}
	return &ResolverClient{maxReferenceWarnings: maxWarnings}
}

// DatasetInput is one record table plus the co-occurrence groupings read
// from it.
type DatasetInput struct {
	Spec   DatasetSpec
	Table  *table.Table
	Groups []GroupSpec
}

// EvidenceInput is one evidence table and how to read it.
type EvidenceInput struct {
	Spec  EvidenceSpec
	Table *table.Table
}

type Input struct {
	Datasets []DatasetInput
	Evidence []EvidenceInput
}

// Result holds the resolved tables in input order together with the graphs
// and assignment they were derived from.
type Result struct {
	Tables     []*table.Table
	Identity   *Graph
	Family     *Graph
	Assignment *Assignment
	Report     Report
}

// Resolve builds the identity graph from evidence, derives the family graph
// from it, numbers both partitions and writes the global ids into copies of
// the record tables. Input tables are not modified.
func (c *ResolverClient) Resolve(ctx context.Context, in Input) (*Result, error) {
	if len(in.Datasets) == 0 {
		return nil, errors.New("no datasets to resolve")
	}

	report := newReport()
	datasets := make(map[string]struct{}, len(in.Datasets))
	for _, d := range in.Datasets {
		if d.Table == nil {
			return nil, &SchemaError{Table: d.Spec.Dataset, Err: errors.New("record table is missing")}
		}
		if d.Spec.Dataset == "" {
			return nil, &SchemaError{Table: d.Table.Name, Err: errors.New("dataset has no namespace")}
		}
		if _, dup := datasets[d.Spec.Dataset]; dup {
			return nil, &SchemaError{Table: d.Table.Name, Err: fmt.Errorf("dataset %q declared twice", d.Spec.Dataset)}
		}
		datasets[d.Spec.Dataset] = struct{}{}
	}

	// Record vertices first, so every record id is covered by the lookups.
	identity := NewGraph()
	for _, d := range in.Datasets {
		ids, err := d.Table.Column(d.Spec.IDColumn)
		if err != nil {
			return nil, schemaErr(d.Table.Name, err)
		}
		report.Records[d.Spec.Dataset] = len(ids)
		for _, raw := range ids {
			id := NormalizeRawID(raw)
			if id == "" {
				report.MissingRawIDs[d.Spec.Dataset]++
				continue
			}
			identity.AddVertex(Vertex{Dataset: d.Spec.Dataset, RawID: id})
		}
	}
	known := identity.Clone()

	for _, e := range in.Evidence {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.Table == nil {
			return nil, &SchemaError{Table: e.Spec.Name, Err: errors.New("evidence table is missing")}
		}
		for _, ds := range e.Spec.Datasets() {
			if _, ok := datasets[ds]; !ok {
				return nil, &SchemaError{Table: e.Table.Name, Err: fmt.Errorf("evidence refers to unknown dataset %q", ds)}
			}
		}

		ev, err := LoadEvidence(e.Spec, e.Table)
		if err != nil {
			return nil, err
		}
		c.warnUnknown(ev, known, &report)
		for _, v := range ev.Vertices {
			identity.AddVertex(v)
		}
		for _, edge := range ev.Edges {
			identity.AddEdge(edge)
		}
		report.Evidence = append(report.Evidence, ev.Stats)
		logger.Debug("[Resolve] Loaded evidence", "source", ev.Source, "rows", ev.Stats.Rows, "edges", ev.Stats.Edges)
	}

	family := identity.Clone()
	for _, d := range in.Datasets {
		for _, g := range d.Groups {
			ev, err := CoOccurrenceEdges(d.Spec.Dataset, g, d.Spec.IDColumn, d.Table)
			if err != nil {
				return nil, err
			}
			for _, edge := range ev.Edges {
				family.AddEdge(edge)
			}
			report.CoOccurrence = append(report.CoOccurrence, ev.Stats)
			logger.Debug("[Resolve] Loaded co-occurrence facts", "source", ev.Source, "rows", ev.Stats.Rows, "edges", ev.Stats.Edges)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assignment := Assign(identity, family)
	if err := assignment.VerifySubset(); err != nil {
		return nil, fmt.Errorf("identity/family invariant: %w", err)
	}

	tables := make([]*table.Table, len(in.Datasets))
	for i, d := range in.Datasets {
		out := d.Table.Clone()
		if err := Apply(out, d.Spec, assignment); err != nil {
			return nil, err
		}
		tables[i] = out
	}

	report.Vertices = identity.VertexCount()
	report.IdentityEdges = identity.EdgeCount()
	report.FamilyEdges = family.EdgeCount()
	report.Individuals = len(assignment.Individuals)
	report.Families = len(assignment.Families)
	report.LargestIndividual = largest(assignment.Individuals)
	report.LargestFamily = largest(assignment.Families)

	return &Result{
		Tables:     tables,
		Identity:   identity,
		Family:     family,
		Assignment: assignment,
		Report:     report,
	}, nil
}

// warnUnknown logs evidence ids that appear in no record table. They stay in
// the graph: they may still bridge two known records.
func (c *ResolverClient) warnUnknown(ev *Evidence, known *Graph, report *Report) {
	var unknown []Vertex
	for _, v := range ev.Vertices {
		if !known.HasVertex(v) {
			unknown = append(unknown, v)
		}
	}
	if len(unknown) == 0 {
		return
	}
	report.UnknownEvidenceIDs += len(unknown)
	for i, v := range unknown {
		if i >= c.maxReferenceWarnings {
			break
		}
		logger.Warn("[Resolve] Evidence id matches no record", "source", ev.Source, "vertex", v.String())
	}
	logger.Warn("[Resolve] Evidence ids without records", "source", ev.Source, "count", len(unknown))
}

// Report summarises a run.
type Report struct {
	Records            map[string]int
	MissingRawIDs      map[string]int
	Vertices           int
	IdentityEdges      int
	FamilyEdges        int
	Evidence           []EvidenceStats
	CoOccurrence       []EvidenceStats
	UnknownEvidenceIDs int
	Individuals        int
	Families           int
	LargestIndividual  int
	LargestFamily      int
}

func newReport() Report {
	return Report{
		Records:       make(map[string]int),
		MissingRawIDs: make(map[string]int),
	}
}

// Log writes the report at INFO level.
func (r Report) Log() {
	datasets := make([]string, 0, len(r.Records))
	for ds := range r.Records {
		datasets = append(datasets, ds)
	}
	slices.Sort(datasets)
	for _, ds := range datasets {
		logger.Info("[Resolve] Records", "dataset", ds, "rows", r.Records[ds], "missing_raw_id", r.MissingRawIDs[ds])
	}
	for _, s := range append(append([]EvidenceStats(nil), r.Evidence...), r.CoOccurrence...) {
		logger.Info(
			"[Resolve] Edge source",
			"source", s.Source,
			"kind", s.Kind,
			"rows", s.Rows,
			"edges", s.Edges,
			"dropped_missing", s.DroppedMissing,
			"dropped_score", s.DroppedScore,
			"bad_score", s.BadScore,
			"duplicates", s.Duplicates,
		)
	}
	logger.Info(
		"[Resolve] Components",
		"vertices", r.Vertices,
		"identity_edges", r.IdentityEdges,
		"family_edges", r.FamilyEdges,
		"unknown_evidence_ids", r.UnknownEvidenceIDs,
		"individuals", r.Individuals,
		"families", r.Families,
		"largest_individual", r.LargestIndividual,
		"largest_family", r.LargestFamily,
	)
}
