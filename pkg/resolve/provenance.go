package resolve

import (
	"strconv"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

// ProvenanceColumns is the header of the table built by Provenance.
var ProvenanceColumns = []string{
	"Source",
	"Kind",
	"Dataset A",
	"Raw ID A",
	"Dataset B",
	"Raw ID B",
	"Individual ID A",
	"Individual ID B",
	"Family ID",
}

// Provenance lists every accepted family-graph edge (which includes every
// identity edge) with the ids its endpoints resolved to, so any merge can be
// traced back to the rows that caused it.
func (r *Result) Provenance() *table.Table {
	t := table.MustNew("provenance", ProvenanceColumns...)
	for _, e := range r.Family.Edges() {
		t.Append(
			e.Source,
			string(e.Kind),
			e.A.Dataset,
			e.A.RawID,
			e.B.Dataset,
			e.B.RawID,
			strconv.FormatInt(r.Assignment.Individual[e.A], 10),
			strconv.FormatInt(r.Assignment.Individual[e.B], 10),
			strconv.FormatInt(r.Assignment.Family[e.A], 10),
		)
	}
	return t
}

// Lookup returns the global ids of one raw id.
func (r *Result) Lookup(dataset, rawID string) (individual, family int64, ok bool) {
	v := Vertex{Dataset: dataset, RawID: NormalizeRawID(rawID)}
	individual, ok = r.Assignment.Individual[v]
	if !ok {
		return 0, 0, false
	}
	family = r.Assignment.Family[v]
	return individual, family, true
}
