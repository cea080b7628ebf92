// Package job describes a resolution run as a JSON document and executes
// it: load the record and evidence tables, resolve, write the results.
package job

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/resolve"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

var validate = validator.New()

// Job is one resolution run. Paths are relative to the storage backend the
// job runs against (a base directory or an S3 bucket).
type Job struct {
	ID       string        `json:"id" validate:"required"`
	Datasets []DatasetJob  `json:"datasets" validate:"required,min=1,dive"`
	Evidence []EvidenceJob `json:"evidence" validate:"dive"`
	// Provenance, when set, is the output path of the edge provenance table.
	Provenance string `json:"provenance"`
	// Snapshot writes the run to Postgres when a store is configured.
	Snapshot bool `json:"snapshot"`
}

// FileRef points at one CSV or XLSX file.
type FileRef struct {
	Path   string `json:"path" validate:"required"`
	Format string `json:"format" validate:"omitempty,oneof=csv xlsx"`
	Sheet  string `json:"sheet"`
}

// JoinJob joins a secondary table onto a dataset's primary table.
type JoinJob struct {
	File   FileRef           `json:"file"`
	On     string            `json:"on" validate:"required"`
	How    string            `json:"how" validate:"omitempty,oneof=inner left"`
	Rename map[string]string `json:"rename"`
}

// DatasetJob describes one record dataset.
type DatasetJob struct {
	Name             string            `json:"name" validate:"required"`
	File             FileRef           `json:"file"`
	Rename           map[string]string `json:"rename"`
	Join             *JoinJob          `json:"join"`
	IDColumn         string            `json:"id_column" validate:"required"`
	HouseholdColumn  string            `json:"household_column"`
	IndividualColumn string            `json:"individual_column"`
	FamilyColumn     string            `json:"family_column"`
	DateColumns      []string          `json:"date_columns"`
	Groups           []GroupJob        `json:"groups" validate:"dive"`
	Output           string            `json:"output" validate:"required"`
}

// GroupJob is a co-occurrence grouping over a dataset's records.
type GroupJob struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns" validate:"required,min=1"`
	DateColumns []string `json:"date_columns"`
}

// EvidenceJob describes one identity evidence table.
type EvidenceJob struct {
	Name         string   `json:"name" validate:"required"`
	File         FileRef  `json:"file"`
	Mode         string   `json:"mode" validate:"required,oneof=group pair"`
	Dataset      string   `json:"dataset" validate:"required_if=Mode group"`
	GroupColumns []string `json:"group_columns"`
	IDColumn     string   `json:"id_column" validate:"required_if=Mode group"`
	LeftDataset  string   `json:"left_dataset" validate:"required_if=Mode pair"`
	LeftColumn   string   `json:"left_column" validate:"required_if=Mode pair"`
	RightDataset string   `json:"right_dataset" validate:"required_if=Mode pair"`
	RightColumn  string   `json:"right_column" validate:"required_if=Mode pair"`
	ScoreColumn  string   `json:"score_column"`
	MinScore     float64  `json:"min_score"`
}

// Parse decodes and validates a job document.
func Parse(data []byte) (*Job, error) {
	j := new(Job)
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate checks the struct tags and that dataset names are unique.
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	seen := make(map[string]struct{}, len(j.Datasets))
	for _, d := range j.Datasets {
		if _, ok := seen[d.Name]; ok {
			return fmt.Errorf("invalid job: dataset %q declared twice", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

func (f FileRef) tableFile(id string, l loader.TableFileLoader) (loader.TableFile, error) {
	return loader.NewTableFile(loader.NewTableFileParams{
		ID:       id,
		FilePath: f.Path,
		Format:   loader.TableFormat(f.Format),
		Sheet:    f.Sheet,
		Loader:   l,
	})
}

func (j JoinJob) kind() table.JoinKind {
	if j.How == "left" {
		return table.JoinLeft
	}
	return table.JoinInner
}

func (d DatasetJob) spec() resolve.DatasetSpec {
	return resolve.DatasetSpec{
		Dataset:          d.Name,
		IDColumn:         d.IDColumn,
		HouseholdColumn:  d.HouseholdColumn,
		IndividualColumn: d.IndividualColumn,
		FamilyColumn:     d.FamilyColumn,
	}
}

func (d DatasetJob) groups() []resolve.GroupSpec {
	out := make([]resolve.GroupSpec, len(d.Groups))
	for i, g := range d.Groups {
		out[i] = resolve.GroupSpec{
			Name:         g.Name,
			GroupColumns: g.Columns,
			DateColumns:  g.DateColumns,
		}
	}
	return out
}

func (e EvidenceJob) spec() resolve.EvidenceSpec {
	return resolve.EvidenceSpec{
		Name:         e.Name,
		Mode:         resolve.EvidenceMode(e.Mode),
		Dataset:      e.Dataset,
		GroupColumns: e.GroupColumns,
		IDColumn:     e.IDColumn,
		LeftDataset:  e.LeftDataset,
		LeftColumn:   e.LeftColumn,
		RightDataset: e.RightDataset,
		RightColumn:  e.RightColumn,
		ScoreColumn:  e.ScoreColumn,
		MinScore:     e.MinScore,
	}
}
