package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/resolve"
)

// Run identifies one resolution run in the snapshot tables.
type Run struct {
	ID         string
	JobID      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResolvedID is one row of the lookup table shared with collaborators.
type ResolvedID struct {
	Dataset      string
	RawID        string
	IndividualID int64
	FamilyID     int64
}

// ResolveStorage defines the interface for persisting resolution runs so
// downstream consumers can join their records against the global ids
// without re-running the resolver.
type ResolveStorage interface {
	SaveRun(ctx context.Context, run Run, result *resolve.Result) error
	LatestRun(ctx context.Context, jobID string) (string, error)
	Lookup(ctx context.Context, runID string, dataset string, rawID string) (ResolvedID, error)
	DeleteRun(ctx context.Context, runID string) error
}

// ResolvedIDs flattens an assignment into lookup rows, grouped by
// individual id.
func ResolvedIDs(a *resolve.Assignment) []ResolvedID {
	out := make([]ResolvedID, 0, len(a.Individual))
	for _, members := range a.Individuals {
		for _, v := range members {
			out = append(out, ResolvedID{
				Dataset:      v.Dataset,
				RawID:        v.RawID,
				IndividualID: a.Individual[v],
				FamilyID:     a.Family[v],
			})
		}
	}
	return out
}
