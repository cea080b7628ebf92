package resolve

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

// SchemaError reports an input table that cannot be used as configured:
// a missing column, an unknown dataset or an incomplete spec. It aborts the
// whole run.
type SchemaError struct {
	Table  string
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("table %q column %q: %v", e.Table, e.Column, e.Err)
	}
	return fmt.Sprintf("table %q: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

var errMissingColumn = errors.New("column not found")

// schemaErr converts table lookup failures into a SchemaError.
func schemaErr(tableName string, err error) error {
	var colErr *table.ColumnError
	if errors.As(err, &colErr) {
		return &SchemaError{Table: colErr.Table, Column: colErr.Column, Err: errMissingColumn}
	}
	return &SchemaError{Table: tableName, Err: err}
}

// MissingVertexError means a record's raw id has no assigned global id.
// Vertices are seeded from every record table, so this is a builder defect
// and the run must not emit the record.
type MissingVertexError struct {
	Dataset string
	RawID   string
	Row     int
}

func (e *MissingVertexError) Error() string {
	return fmt.Sprintf("dataset %q row %d: raw id %q has no global id", e.Dataset, e.Row, e.RawID)
}

// SubsetViolationError means two vertices share an individual id but not a
// family id.
type SubsetViolationError struct {
	IndividualID int64
	FamilyIDs    []int64
}

func (e *SubsetViolationError) Error() string {
	return fmt.Sprintf("individual %d spans families %v", e.IndividualID, e.FamilyIDs)
}
