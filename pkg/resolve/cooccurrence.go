package resolve

import (
	"errors"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

// GroupSpec describes a co-occurrence fact over a record table: ids that
// share all GroupColumns were in the same family. DateColumns lists group
// columns that are compared as calendar dates.
//
// Grouping a family site identifier with a program start date treats
// members entering together as one family. A family that split and whose
// members re-entered separately on the same day is merged as well.
type GroupSpec struct {
	Name         string
	GroupColumns []string
	DateColumns  []string
	IDColumn     string
}

// CoOccurrenceEdges reads family edges for one dataset out of its record
// table. idColumn is used when the GroupSpec leaves IDColumn empty.
func CoOccurrenceEdges(dataset string, spec GroupSpec, idColumn string, t *table.Table) (*Evidence, error) {
	name := spec.Name
	if name == "" {
		name = t.Name
	}
	if len(spec.GroupColumns) == 0 {
		return nil, &SchemaError{Table: name, Err: errors.New("co-occurrence grouping needs at least one group column")}
	}
	if spec.IDColumn != "" {
		idColumn = spec.IDColumn
	}

	return groupEdges(groupParams{
		source:      name,
		kind:        EdgeKindCoOccurrence,
		dataset:     dataset,
		groupBy:     spec.GroupColumns,
		idColumn:    idColumn,
		dateColumns: spec.DateColumns,
	}, t)
}
