package job

import (
	"context"
	"fmt"
	"slices"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader/csv"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader/excel"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/resolve"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/store"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

// Storage reads job inputs and receives job outputs. Both the filesystem
// and the S3 loader implement it.
type Storage interface {
	loader.TableFileLoader
	PutFileBytes(ctx context.Context, path string, content []byte) error
}

// Locker serialises runs of the same job across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Runner executes jobs against one storage backend.
//
// A Runner should be created using NewRunner.
type Runner struct {
	storage     Storage
	resolver    *resolve.ResolverClient
	store       store.ResolveStorage
	locker      Locker
	parallelism int
}

// NewRunnerParams defines the configuration for a Runner.
//
// Store is optional; without it snapshot requests are skipped with a
// warning. Locker is optional; with it a job's runs never overlap.
// Parallelism bounds concurrent table loads (default 4).
type NewRunnerParams struct {
	Storage              Storage
	Store                store.ResolveStorage
	Locker               Locker
	Parallelism          int
	MaxReferenceWarnings int
}

func NewRunner(params NewRunnerParams) *Runner {
	parallelism := params.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Runner{
		storage: params.Storage,
		resolver: resolve.NewResolverClient(resolve.NewResolverClientParams{
			MaxReferenceWarnings: params.MaxReferenceWarnings,
		}),
		store:       params.Store,
		locker:      params.Locker,
		parallelism: parallelism,
	}
}

// RunResult is what a finished run produced.
type RunResult struct {
	RunID   string
	Result  *resolve.Result
	Outputs []string
}

// Run loads every table of j, resolves, writes the resolved tables and the
// provenance table, and snapshots the run when requested.
func (r *Runner) Run(ctx context.Context, j *Job) (*RunResult, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	if r.locker == nil {
		return r.run(ctx, j)
	}

	var res *RunResult
	err := r.locker.WithLease(ctx, "job:"+j.ID, func(ctx context.Context) error {
		var err error
		res, err = r.run(ctx, j)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) run(ctx context.Context, j *Job) (*RunResult, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	startedAt := time.Now().UTC()
	logger.Info("[Job] Starting run", "job", j.ID, "run", runID, "datasets", len(j.Datasets), "evidence", len(j.Evidence))

	in, err := r.load(ctx, r.newReader(), j)
	if err != nil {
		return nil, err
	}

	result, err := r.resolver.Resolve(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	result.Report.Log()

	outputs, err := r.write(ctx, j, result)
	if err != nil {
		return nil, err
	}

	if j.Snapshot {
		if r.store == nil {
			logger.Warn("[Job] Snapshot requested but no store is configured", "job", j.ID, "run", runID)
		} else {
			run := store.Run{ID: runID, JobID: j.ID, StartedAt: startedAt, FinishedAt: time.Now().UTC()}
			if err := r.store.SaveRun(ctx, run, result); err != nil {
				return nil, fmt.Errorf("job %s: failed to save snapshot: %w", j.ID, err)
			}
		}
	}

	logger.Info("[Job] Run finished", "job", j.ID, "run", runID, "duration", time.Since(startedAt).Round(time.Millisecond))
	return &RunResult{RunID: runID, Result: result, Outputs: outputs}, nil
}

// newReader returns table readers whose parse caches live for one run, so
// every run sees the current contents of its input files.
func (r *Runner) newReader() loader.TableReader {
	return loader.FormatReader{
		loader.TableFormatCSV:  csv.NewCSVTableReader(r.storage),
		loader.TableFormatXLSX: excel.NewExcelTableReader(r.storage),
	}
}

func (r *Runner) load(ctx context.Context, reader loader.TableReader, j *Job) (resolve.Input, error) {
	datasets := make([]resolve.DatasetInput, len(j.Datasets))
	evidence := make([]resolve.EvidenceInput, len(j.Evidence))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, d := range j.Datasets {
		i, d := i, d
		g.Go(func() error {
			t, err := r.loadDataset(gctx, reader, d)
			if err != nil {
				return fmt.Errorf("dataset %s: %w", d.Name, err)
			}
			datasets[i] = resolve.DatasetInput{Spec: d.spec(), Table: t, Groups: d.groups()}
			return nil
		})
	}
	for i, e := range j.Evidence {
		i, e := i, e
		g.Go(func() error {
			t, err := r.readTable(gctx, reader, e.Name, e.File, nil)
			if err != nil {
				return fmt.Errorf("evidence %s: %w", e.Name, err)
			}
			evidence[i] = resolve.EvidenceInput{Spec: e.spec(), Table: t}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resolve.Input{}, err
	}

	return resolve.Input{Datasets: datasets, Evidence: evidence}, nil
}

// loadDataset assembles a record table: the primary file, renamed, joined
// with the secondary file and with its date columns converted.
func (r *Runner) loadDataset(ctx context.Context, reader loader.TableReader, d DatasetJob) (*table.Table, error) {
	t, err := r.readTable(ctx, reader, d.Name, d.File, d.Rename)
	if err != nil {
		return nil, err
	}

	if d.Join != nil {
		right, err := r.readTable(ctx, reader, d.Name+"_join", d.Join.File, d.Join.Rename)
		if err != nil {
			return nil, err
		}
		joined, err := table.Join(t, right, d.Join.On, d.Join.kind())
		if err != nil {
			return nil, err
		}
		logger.Debug("[Job] Joined tables", "dataset", d.Name, "left", t.Len(), "right", right.Len(), "rows", joined.Len())
		joined.Name = d.Name
		t = joined
	}

	if err := table.ConvertDates(t, d.DateColumns...); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Runner) readTable(ctx context.Context, reader loader.TableReader, id string, ref FileRef, rename map[string]string) (*table.Table, error) {
	file, err := ref.tableFile(id, r.storage)
	if err != nil {
		return nil, err
	}
	t, err := reader.ReadTable(ctx, file)
	if err != nil {
		return nil, err
	}
	if err := renameColumns(t, rename); err != nil {
		return nil, err
	}
	logger.Debug("[Job] Loaded table", "table", id, "path", ref.Path, "rows", t.Len(), "columns", len(t.Columns))
	return t, nil
}

func renameColumns(t *table.Table, rename map[string]string) error {
	from := make([]string, 0, len(rename))
	for k := range rename {
		from = append(from, k)
	}
	slices.Sort(from)
	for _, k := range from {
		if err := t.RenameColumn(k, rename[k]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) write(ctx context.Context, j *Job, result *resolve.Result) ([]string, error) {
	outputs := make([]string, 0, len(j.Datasets)+1)
	put := func(path string, t *table.Table) error {
		content, err := csv.WriteCSV(t)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		err = util.RetryErrWithContext(ctx, util.DefaultRetryPolicy, func(ctx context.Context) error {
			return r.storage.PutFileBytes(ctx, path, content)
		})
		if err != nil {
			return err
		}
		outputs = append(outputs, path)
		logger.Debug("[Job] Wrote table", "path", path, "rows", t.Len())
		return nil
	}

	for i, d := range j.Datasets {
		if err := put(d.Output, result.Tables[i]); err != nil {
			return nil, err
		}
	}
	if j.Provenance != "" {
		if err := put(j.Provenance, result.Provenance()); err != nil {
			return nil, err
		}
	}
	return outputs, nil
}
