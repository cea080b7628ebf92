package table

import (
	"fmt"
	"strings"
)

// JoinKind selects which left rows survive a join.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
)

// Join merges right into left on a shared key column. Left row order is
// kept; a left row matching several right rows is repeated once per match.
// Rows with an empty key never match. Non-key columns present in both
// tables are suffixed with "_x" (left) and "_y" (right).
func Join(left, right *Table, on string, kind JoinKind) (*Table, error) {
	if kind != JoinInner && kind != JoinLeft {
		return nil, fmt.Errorf("unsupported join kind %q", kind)
	}
	lk, err := left.Require(on)
	if err != nil {
		return nil, err
	}
	rk, err := right.Require(on)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(left.Columns)+len(right.Columns)-1)
	for _, c := range left.Columns {
		if c != on && right.HasColumn(c) {
			c += "_x"
		}
		columns = append(columns, c)
	}
	rightCols := make([]int, 0, len(right.Columns)-1)
	for i, c := range right.Columns {
		if i == rk[0] {
			continue
		}
		if left.HasColumn(c) {
			c += "_y"
		}
		columns = append(columns, c)
		rightCols = append(rightCols, i)
	}

	out, err := New(left.Name, columns)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]int, len(right.Rows))
	for i, row := range right.Rows {
		key := strings.TrimSpace(row[rk[0]])
		if key == "" {
			continue
		}
		byKey[key] = append(byKey[key], i)
	}

	for _, lrow := range left.Rows {
		key := strings.TrimSpace(lrow[lk[0]])
		matches := byKey[key]
		if key == "" {
			matches = nil
		}
		if len(matches) == 0 {
			if kind == JoinLeft {
				out.Append(lrow...)
			}
			continue
		}
		for _, m := range matches {
			row := make([]string, 0, len(columns))
			row = append(row, lrow...)
			for _, c := range rightCols {
				row = append(row, right.Rows[m][c])
			}
			out.Rows = append(out.Rows, row)
		}
	}

	return out, nil
}
