package resolve

import (
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

func edgeStrings(edges []Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.A.String() + "-" + e.B.String()
	}
	return out
}

func TestLoadEvidenceGroupMode(t *testing.T) {
	dupes := table.MustNew("hmis_dupes", "Set ID", "Subject Unique Identifier")
	dupes.Append("1", "30")
	dupes.Append("1", "4.0")
	dupes.Append("1", "12")
	dupes.Append("1", "12")
	dupes.Append("2", "50")
	dupes.Append("", "60")
	dupes.Append("3", "")

	ev, err := LoadEvidence(EvidenceSpec{
		Name:     "hmis_dupes",
		Mode:     EvidenceModeGroup,
		Dataset:  "h",
		IDColumn: "Subject Unique Identifier",
	}, dupes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantEdges := []string{"h:4-h:12", "h:4-h:30"}
	if got := edgeStrings(ev.Edges); !reflect.DeepEqual(got, wantEdges) {
		t.Fatalf("edges = %v, want %v", got, wantEdges)
	}
	wantVertices := []Vertex{h("4"), h("12"), h("30"), h("50")}
	if !reflect.DeepEqual(ev.Vertices, wantVertices) {
		t.Fatalf("vertices = %v, want %v", ev.Vertices, wantVertices)
	}
	if ev.Stats.DroppedMissing != 2 || ev.Stats.Duplicates != 1 || ev.Stats.Rows != 7 {
		t.Fatalf("unexpected stats %+v", ev.Stats)
	}
	for _, e := range ev.Edges {
		if e.Source != "hmis_dupes" || e.Kind != EdgeKindMatch {
			t.Fatalf("edge lost provenance: %+v", e)
		}
	}
}

func TestLoadEvidencePairModeWithScore(t *testing.T) {
	matches := table.MustNew("cp_hmis", "clientid", "Subject Unique Identifier", "score")
	matches.Append("7", "100", "0.95")
	matches.Append("8", "101", "0.40")
	matches.Append("9", "102", "n/a")
	matches.Append("7", "100", "0.99")
	matches.Append("", "103", "0.99")

	ev, err := LoadEvidence(EvidenceSpec{
		Name:         "cp_hmis",
		Mode:         EvidenceModePair,
		LeftDataset:  "c",
		LeftColumn:   "clientid",
		RightDataset: "h",
		RightColumn:  "Subject Unique Identifier",
		ScoreColumn:  "score",
		MinScore:     0.5,
	}, matches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := edgeStrings(ev.Edges); !reflect.DeepEqual(got, []string{"c:7-h:100"}) {
		t.Fatalf("edges = %v", got)
	}
	want := EvidenceStats{
		Source:         "cp_hmis",
		Kind:           EdgeKindMatch,
		Rows:           5,
		Edges:          1,
		DroppedMissing: 1,
		DroppedScore:   1,
		BadScore:       1,
		Duplicates:     1,
	}
	if ev.Stats != want {
		t.Fatalf("stats = %+v, want %+v", ev.Stats, want)
	}
}

func TestLoadEvidenceSchemaErrors(t *testing.T) {
	tbl := table.MustNew("cp_dupes", "Set ID", "Client")

	tests := []struct {
		name       string
		spec       EvidenceSpec
		wantColumn string
	}{
		{
			name:       "missing id column",
			spec:       EvidenceSpec{Mode: EvidenceModeGroup, Dataset: "c", IDColumn: "Clientid"},
			wantColumn: "Clientid",
		},
		{
			name:       "missing score column",
			spec:       EvidenceSpec{Mode: EvidenceModeGroup, Dataset: "c", IDColumn: "Client", ScoreColumn: "Score"},
			wantColumn: "Score",
		},
		{
			name: "incomplete pair spec",
			spec: EvidenceSpec{Mode: EvidenceModePair, LeftDataset: "c"},
		},
		{
			name: "unknown mode",
			spec: EvidenceSpec{Mode: "fuzzy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEvidence(tt.spec, tbl)
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected *SchemaError, got %v", err)
			}
			if schemaErr.Column != tt.wantColumn {
				t.Fatalf("column = %q, want %q", schemaErr.Column, tt.wantColumn)
			}
			if schemaErr.Table != "cp_dupes" {
				t.Fatalf("table = %q, want cp_dupes", schemaErr.Table)
			}
		})
	}
}

func TestCoOccurrenceEdgesNormalisesDates(t *testing.T) {
	records := table.MustNew("hmis", "Subject Unique Identifier", "Family Site Identifier", "Program Start Date")
	records.Append("1", "F1", "1/2/2015")
	records.Append("2", "F1", "2015-01-02")
	records.Append("3", "F1", "2015-03-01")
	records.Append("4", "", "2015-01-02")

	ev, err := CoOccurrenceEdges("h", GroupSpec{
		GroupColumns: []string{"Family Site Identifier", "Program Start Date"},
		DateColumns:  []string{"Program Start Date"},
	}, "Subject Unique Identifier", records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := edgeStrings(ev.Edges); !reflect.DeepEqual(got, []string{"h:1-h:2"}) {
		t.Fatalf("edges = %v", got)
	}
	if ev.Edges[0].Kind != EdgeKindCoOccurrence {
		t.Fatalf("unexpected kind %q", ev.Edges[0].Kind)
	}
	if ev.Stats.DroppedMissing != 1 {
		t.Fatalf("expected 1 dropped row, got %d", ev.Stats.DroppedMissing)
	}
}
