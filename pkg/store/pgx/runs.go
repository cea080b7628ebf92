package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/resolve"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/store"
)

// ErrNotFound is returned when a run or raw id has no snapshot row.
var ErrNotFound = errors.New("not found")

var (
	resolvedIDColumns = []string{"run_id", "dataset", "raw_id", "individual_id", "family_id"}
	edgeColumns       = []string{"run_id", "source", "kind", "dataset_a", "raw_id_a", "dataset_b", "raw_id_b"}
)

// SaveRun writes a complete run. A failed attempt is rolled back and retried
// under the default retry policy, so a run is either fully present or absent.
func (s *ResolveDBStorage) SaveRun(ctx context.Context, run store.Run, result *resolve.Result) error {
	report, err := json.Marshal(result.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	ids := resolvedIDRows(run.ID, store.ResolvedIDs(result.Assignment))
	edges := edgeRows(run.ID, result.Family.Edges())

	logger.Debug("[Store][SaveRun] Writing snapshot", "run", run.ID, "ids", len(ids), "edges", len(edges))

	err = util.RetryErrWithContext(ctx, util.DefaultRetryPolicy, func(ctx context.Context) error {
		return permanentOnConstraint(s.saveRun(ctx, run, result, report, ids, edges))
	})
	if err != nil {
		return err
	}

	logger.Info("[Store][SaveRun] Snapshot written", "run", run.ID, "ids", len(ids), "edges", len(edges))
	return nil
}

func (s *ResolveDBStorage) saveRun(ctx context.Context, run store.Run, result *resolve.Result, report []byte, ids, edges [][]any) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO resolve_runs (id, job_id, started_at, finished_at, individuals, families, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID,
		run.JobID,
		run.StartedAt,
		run.FinishedAt,
		result.Report.Individuals,
		result.Report.Families,
		report,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := s.copyRows(ctx, tx, "resolved_ids", resolvedIDColumns, ids); err != nil {
		return err
	}
	if err := s.copyRows(ctx, tx, "resolve_edges", edgeColumns, edges); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// permanentOnConstraint marks integrity constraint violations (SQLSTATE
// class 23) as not retryable.
func permanentOnConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return util.Permanent(err)
	}
	return err
}

func (s *ResolveDBStorage) copyRows(ctx context.Context, tx pgxv5.Tx, tableName string, columns []string, rows [][]any) error {
	return store.ChunkRange(len(rows), s.chunkSize, func(start, end int) error {
		n, err := tx.CopyFrom(ctx, pgxv5.Identifier{tableName}, columns, pgxv5.CopyFromRows(rows[start:end]))
		if err != nil {
			return fmt.Errorf("failed to copy into %s: %w", tableName, err)
		}
		if int(n) != end-start {
			return fmt.Errorf("copied %d rows into %s, expected %d", n, tableName, end-start)
		}
		return nil
	})
}

// LatestRun returns the id of the most recently finished run of a job.
func (s *ResolveDBStorage) LatestRun(ctx context.Context, jobID string) (string, error) {
	var id string
	err := s.conn.QueryRow(ctx, `
		SELECT id FROM resolve_runs
		WHERE job_id = $1
		ORDER BY finished_at DESC
		LIMIT 1`,
		jobID,
	).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", fmt.Errorf("run of job %q: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Lookup returns the global ids a raw id resolved to in a run.
func (s *ResolveDBStorage) Lookup(ctx context.Context, runID string, dataset string, rawID string) (store.ResolvedID, error) {
	row := store.ResolvedID{Dataset: dataset, RawID: rawIDKey(rawID)}
	err := s.conn.QueryRow(ctx, `
		SELECT individual_id, family_id FROM resolved_ids
		WHERE run_id = $1 AND dataset = $2 AND raw_id = $3`,
		runID,
		row.Dataset,
		row.RawID,
	).Scan(&row.IndividualID, &row.FamilyID)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.ResolvedID{}, fmt.Errorf("%s:%s in run %q: %w", dataset, rawID, runID, ErrNotFound)
	}
	if err != nil {
		return store.ResolvedID{}, err
	}
	return row, nil
}

// DeleteRun removes a run; its lookup and edge rows cascade.
func (s *ResolveDBStorage) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM resolve_runs WHERE id = $1`, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %q: %w", runID, ErrNotFound)
	}
	return nil
}

// rawIDKey is the raw_id value stored for rawID.
func rawIDKey(rawID string) string {
	return util.SanitizePostgresText(resolve.NormalizeRawID(rawID))
}

func resolvedIDRows(runID string, ids []store.ResolvedID) [][]any {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{
			runID,
			id.Dataset,
			rawIDKey(id.RawID),
			id.IndividualID,
			id.FamilyID,
		}
	}
	return rows
}

func edgeRows(runID string, edges []resolve.Edge) [][]any {
	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{
			runID,
			util.SanitizePostgresText(e.Source),
			string(e.Kind),
			e.A.Dataset,
			util.SanitizePostgresText(e.A.RawID),
			e.B.Dataset,
			util.SanitizePostgresText(e.B.RawID),
		}
	}
	return rows
}
