package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader/csv"
	loaderio "github.com/OFFIS-RIT/kinlink/backend/pkg/loader/io"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/resolve"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/store"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

var exportFiles = map[string]string{
	"hmis/program with family.csv": "Subject Unique Identifier,Family Site Identifier,Program Start Date,Program End Date\n" +
		"101,S1,01/02/2015,02/01/2015\n" +
		"102,S2,2016-05-05,\n" +
		"104,S1,2015-01-02,2015-02-01\n" +
		"999,S7,2017-01-01,\n",
	"hmis/client de-identified.csv": "Subject Unique Identifier,DOB\n" +
		"101,1980-03-04\n" +
		"102,1980-03-04\n" +
		"104,2010-07-08\n",
	"connecting_point/case.csv": "caseid,servstart,servend,LastUpdateDate\n" +
		"K1,2014-06-01,2014-07-01,2014-07-02\n" +
		"K2,2014-08-01,,2014-08-02\n",
	"connecting_point/client.csv": "Caseid,Clientid\n" +
		"K1,W1\n" +
		"K2,H1\n" +
		"K2,H2\n",
	"hmis/hmis_client_duplicates_link_plus.csv": "Set ID,Subject Unique Identifier\n" +
		"1,101\n" +
		"1,102.0\n",
	"connecting_point/cp_client_duplicates_link_plus.csv": "Set ID,Clientid\n",
	"matching/cp_hmis_match_results.csv": "clientid,Subject Unique Identifier\n" +
		"W1,101\n" +
		",104\n",
}

func writeExports(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range exportFiles {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type memStore struct {
	mu   sync.Mutex
	runs map[string]store.Run
	ids  []store.ResolvedID
}

func (m *memStore) SaveRun(ctx context.Context, run store.Run, result *resolve.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]store.Run)
	}
	m.runs[run.ID] = run
	m.ids = store.ResolvedIDs(result.Assignment)
	return nil
}

func (m *memStore) LatestRun(ctx context.Context, jobID string) (string, error) { return "", nil }

func (m *memStore) Lookup(ctx context.Context, runID, dataset, rawID string) (store.ResolvedID, error) {
	return store.ResolvedID{}, nil
}

func (m *memStore) DeleteRun(ctx context.Context, runID string) error { return nil }

func TestRunDefaultLayout(t *testing.T) {
	dir := writeExports(t)
	snapshots := &memStore{}
	runner := NewRunner(NewRunnerParams{
		Storage:     loaderio.NewIOTableFileLoader(dir),
		Store:       snapshots,
		Parallelism: 2,
	})

	j := Default("test")
	j.Snapshot = true
	res, err := runner.Run(context.Background(), j)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	wantOutputs := []string{"output/hmis.csv", "output/cp.csv", "output/provenance.csv"}
	if !reflect.DeepEqual(res.Outputs, wantOutputs) {
		t.Fatalf("outputs = %v, want %v", res.Outputs, wantOutputs)
	}

	hmis := readOutput(t, dir, "output/hmis.csv")
	wantCols := []string{
		"Raw Subject Unique Identifier", "Subject Unique Identifier", "Family Identifier",
		"Raw Family Site Identifier", "Program Start Date", "Raw Program Start Date",
		"Program End Date", "Raw Program End Date", "DOB", "Raw DOB",
	}
	if !reflect.DeepEqual(hmis.Columns, wantCols) {
		t.Fatalf("hmis columns = %v", hmis.Columns)
	}
	// The inner join drops 999, which has no client row.
	if hmis.Len() != 3 {
		t.Fatalf("hmis rows = %d, want 3", hmis.Len())
	}
	ids := column(t, hmis, "Subject Unique Identifier")
	families := column(t, hmis, "Family Identifier")
	if ids[0] != ids[1] {
		t.Fatalf("101 and 102 are linked by the duplicate table, got %v", ids)
	}
	if ids[0] == ids[2] || families[0] != families[2] {
		t.Fatalf("104 shares a family site and date with 101 only: ids %v families %v", ids, families)
	}
	if starts := column(t, hmis, "Program Start Date"); starts[0] != "2015-01-02" {
		t.Fatalf("start date not normalised: %v", starts)
	}

	cp := readOutput(t, dir, "output/cp.csv")
	if got := cp.Columns[:4]; !reflect.DeepEqual(got, []string{"Raw Caseid", "servstart", "Raw servstart", "servend"}) {
		t.Fatalf("cp columns = %v", cp.Columns)
	}
	cpIDs := column(t, cp, "Clientid")
	cpFamilies := column(t, cp, "Familyid")
	if cpIDs[0] != ids[0] {
		t.Fatalf("W1 is matched to 101: %v vs %v", cpIDs[0], ids[0])
	}
	if cpFamilies[1] != cpFamilies[2] || cpIDs[1] == cpIDs[2] {
		t.Fatalf("H1 and H2 share case K2: ids %v families %v", cpIDs, cpFamilies)
	}

	prov := readOutput(t, dir, "output/provenance.csv")
	if prov.Len() != res.Result.Family.EdgeCount() {
		t.Fatalf("provenance rows = %d, want %d", prov.Len(), res.Result.Family.EdgeCount())
	}

	if _, ok := snapshots.runs[res.RunID]; !ok {
		t.Fatalf("run %s was not snapshotted", res.RunID)
	}
	if len(snapshots.ids) != res.Result.Identity.VertexCount() {
		t.Fatalf("snapshot has %d ids, want %d", len(snapshots.ids), res.Result.Identity.VertexCount())
	}
	if got := res.Result.Report.Evidence[2].DroppedMissing; got != 1 {
		t.Fatalf("match rows without a client id: %d, want 1", got)
	}
}

func TestRunMissingColumnFails(t *testing.T) {
	dir := writeExports(t)
	runner := NewRunner(NewRunnerParams{Storage: loaderio.NewIOTableFileLoader(dir)})

	j := Default("test")
	j.Datasets[0].IDColumn = "Personal ID"
	_, err := runner.Run(context.Background(), j)
	if err == nil || !strings.Contains(err.Error(), "Personal ID") {
		t.Fatalf("expected schema error naming the column, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "output")); !os.IsNotExist(statErr) {
		t.Fatal("outputs written for a failed run")
	}
}

func TestRunMissingFileFails(t *testing.T) {
	dir := writeExports(t)
	if err := os.Remove(filepath.Join(dir, "matching/cp_hmis_match_results.csv")); err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(NewRunnerParams{Storage: loaderio.NewIOTableFileLoader(dir)})

	_, err := runner.Run(context.Background(), Default("test"))
	if err == nil || !strings.Contains(err.Error(), "cp_hmis_match") {
		t.Fatalf("expected error naming the evidence table, got %v", err)
	}
}

func TestRunRereadsChangedInputs(t *testing.T) {
	dir := writeExports(t)
	runner := NewRunner(NewRunnerParams{Storage: loaderio.NewIOTableFileLoader(dir)})

	individual := func(res *RunResult, raw string) int64 {
		t.Helper()
		id, _, ok := res.Result.Lookup(DatasetHMIS, raw)
		if !ok {
			t.Fatalf("h:%s not resolved", raw)
		}
		return id
	}

	first, err := runner.Run(context.Background(), Default("weekly"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if individual(first, "104") == individual(first, "101") {
		t.Fatal("104 and 101 linked before the duplicate was reported")
	}

	dupes := filepath.Join(dir, "hmis/hmis_client_duplicates_link_plus.csv")
	content := exportFiles["hmis/hmis_client_duplicates_link_plus.csv"] + "1,104\n"
	if err := os.WriteFile(dupes, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := runner.Run(context.Background(), Default("weekly"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if individual(second, "104") != individual(second, "101") {
		t.Fatal("second run did not pick up the rewritten duplicate table")
	}
}

func TestRunUnparseableStartDateJoinsNoSiteGroup(t *testing.T) {
	dir := writeExports(t)
	program := "Subject Unique Identifier,Family Site Identifier,Program Start Date,Program End Date\n" +
		"101,S1,01/02/2015,02/01/2015\n" +
		"102,S2,2016-05-05,\n" +
		"104,S1,not recorded,2015-02-01\n"
	if err := os.WriteFile(filepath.Join(dir, "hmis/program with family.csv"), []byte(program), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(NewRunnerParams{Storage: loaderio.NewIOTableFileLoader(dir)})

	res, err := runner.Run(context.Background(), Default("weekly"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_, fam101, _ := res.Result.Lookup(DatasetHMIS, "101")
	_, fam104, ok := res.Result.Lookup(DatasetHMIS, "104")
	if !ok {
		t.Fatal("h:104 not resolved")
	}
	if fam101 == fam104 {
		t.Fatal("row with an unparseable start date was grouped into the family site")
	}

	hmis := readOutput(t, dir, "output/hmis.csv")
	raw := column(t, hmis, "Raw Program Start Date")
	if raw[len(raw)-1] != "not recorded" {
		t.Fatalf("raw start dates = %v", raw)
	}
}

type fakeLocker struct {
	keys []string
	err  error
}

func (f *fakeLocker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return f.err
	}
	return fn(ctx)
}

func TestRunHoldsJobLease(t *testing.T) {
	dir := writeExports(t)
	locker := &fakeLocker{}
	runner := NewRunner(NewRunnerParams{Storage: loaderio.NewIOTableFileLoader(dir), Locker: locker})

	res, err := runner.Run(context.Background(), Default("weekly"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(locker.keys, []string{"job:weekly"}) {
		t.Fatalf("lease keys = %v", locker.keys)
	}
	if len(res.Outputs) != 3 {
		t.Fatalf("outputs = %v", res.Outputs)
	}
}

func TestRunBusyLeaseWritesNothing(t *testing.T) {
	dir := writeExports(t)
	busy := errors.New("lease busy")
	runner := NewRunner(NewRunnerParams{
		Storage: loaderio.NewIOTableFileLoader(dir),
		Locker:  &fakeLocker{err: busy},
	})

	_, err := runner.Run(context.Background(), Default("weekly"))
	if !errors.Is(err, busy) {
		t.Fatalf("expected lease error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "output")); !os.IsNotExist(statErr) {
		t.Fatal("outputs written without the lease")
	}
}

func readOutput(t *testing.T, dir, name string) *table.Table {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	parsed, err := csv.ParseCSV(name, content)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return parsed
}

func column(t *testing.T, tbl *table.Table, name string) []string {
	t.Helper()
	values, err := tbl.Column(name)
	if err != nil {
		t.Fatal(err)
	}
	return values
}
