// Package resolve links raw per-dataset individual identifiers into global
// individual and family identifiers.
//
// Two undirected graphs are built over the same vertex set. The identity
// graph holds "same person" evidence; the family graph starts as a copy of
// the identity graph and adds co-occurrence facts (shared case or family
// site on the same date). Each connected component of a graph becomes one
// global id.
package resolve

import (
	"cmp"
	"math"
	"strconv"
	"strings"
)

// Vertex is a raw individual identifier namespaced by its source dataset.
type Vertex struct {
	Dataset string
	RawID   string
}

func (v Vertex) String() string {
	return v.Dataset + ":" + v.RawID
}

// NormalizeRawID trims an identifier and collapses integral float renderings
// ("1234.0") to the integer form, so ids read from float-typed exports meet
// the same ids read as integers. An empty result means the id is missing.
func NormalizeRawID(raw string) string {
	id := strings.TrimSpace(raw)
	if !strings.Contains(id, ".") {
		return id
	}
	f, err := strconv.ParseFloat(id, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return id
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return id
	}
	return strconv.FormatInt(int64(f), 10)
}

// compareRawID orders integer ids numerically and before any non-integer
// id; everything else compares lexically.
func compareRawID(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if c := cmp.Compare(ai, bi); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func compareVertex(a, b Vertex) int {
	if c := strings.Compare(a.Dataset, b.Dataset); c != 0 {
		return c
	}
	return compareRawID(a.RawID, b.RawID)
}
