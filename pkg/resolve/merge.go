package resolve

import (
	"errors"
	"strconv"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

// RawPrefix is prepended to the names of raw identifier columns in
// resolved tables.
const RawPrefix = "Raw "

// DatasetSpec names the identifier columns of one record table.
//
// IDColumn holds the raw individual id; HouseholdColumn, when set, holds the
// raw household/case id. IndividualColumn and FamilyColumn name the global
// id columns written back; IndividualColumn defaults to IDColumn so the
// resolved table keeps the familiar name for the global id.
type DatasetSpec struct {
	Dataset          string
	IDColumn         string
	HouseholdColumn  string
	IndividualColumn string
	FamilyColumn     string
}

func (s DatasetSpec) individualColumn() string {
	if s.IndividualColumn != "" {
		return s.IndividualColumn
	}
	return s.IDColumn
}

func (s DatasetSpec) familyColumn() string {
	if s.FamilyColumn != "" {
		return s.FamilyColumn
	}
	return "Family Identifier"
}

// Apply renames the raw id columns of t to "Raw <name>" and inserts the
// global individual and family id columns right after the raw individual
// id. Rows are neither dropped nor duplicated. Rows without a raw id get
// empty global ids; a raw id without an assignment is a MissingVertexError.
func Apply(t *table.Table, spec DatasetSpec, a *Assignment) error {
	if spec.IDColumn == "" {
		return &SchemaError{Table: t.Name, Err: errors.New("dataset has no id column configured")}
	}
	ids, err := t.Column(spec.IDColumn)
	if err != nil {
		return schemaErr(t.Name, err)
	}
	if spec.HouseholdColumn != "" {
		if _, err := t.Require(spec.HouseholdColumn); err != nil {
			return schemaErr(t.Name, err)
		}
	}

	individual := make([]string, len(ids))
	family := make([]string, len(ids))
	for row, raw := range ids {
		id := NormalizeRawID(raw)
		if id == "" {
			continue
		}
		v := Vertex{Dataset: spec.Dataset, RawID: id}
		ind, ok := a.Individual[v]
		if !ok {
			return &MissingVertexError{Dataset: spec.Dataset, RawID: id, Row: row}
		}
		fam, ok := a.Family[v]
		if !ok {
			return &MissingVertexError{Dataset: spec.Dataset, RawID: id, Row: row}
		}
		individual[row] = strconv.FormatInt(ind, 10)
		family[row] = strconv.FormatInt(fam, 10)
	}

	rawID := RawPrefix + spec.IDColumn
	if err := t.RenameColumn(spec.IDColumn, rawID); err != nil {
		return schemaErr(t.Name, err)
	}
	if spec.HouseholdColumn != "" {
		if err := t.RenameColumn(spec.HouseholdColumn, RawPrefix+spec.HouseholdColumn); err != nil {
			return schemaErr(t.Name, err)
		}
	}

	pos, _ := t.ColumnIndex(rawID)
	if err := t.InsertColumn(pos+1, spec.individualColumn(), individual); err != nil {
		return schemaErr(t.Name, err)
	}
	if err := t.InsertColumn(pos+2, spec.familyColumn(), family); err != nil {
		return schemaErr(t.Name, err)
	}

	return nil
}
