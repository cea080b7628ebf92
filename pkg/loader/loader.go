package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"
)

type TableFormat string

const (
	TableFormatCSV  TableFormat = "csv"
	TableFormatXLSX TableFormat = "xlsx"
)

// TableFile describes one tabular input (record table or evidence table)
// and where its bytes come from.
//
// The actual file content is retrieved via the associated TableFileLoader
// and turned into a table.Table by a TableReader for its Format.
type TableFile struct {
	ID       string
	FilePath string
	Format   TableFormat
	Sheet    string
	Loader   TableFileLoader
}

// NewTableFileParams defines the input parameters for NewTableFile.
// Format may be left empty to infer it from the file extension.
type NewTableFileParams struct {
	ID       string
	FilePath string
	Format   TableFormat
	Sheet    string
	Loader   TableFileLoader
}

// NewTableFile creates a TableFile, inferring the format from the path when
// none is given.
func NewTableFile(params NewTableFileParams) (TableFile, error) {
	format := params.Format
	if format == "" {
		inferred, err := InferFormat(params.FilePath)
		if err != nil {
			return TableFile{}, err
		}
		format = inferred
	}
	id := params.ID
	if id == "" {
		id = filepath.Base(params.FilePath)
	}

	return TableFile{
		ID:       id,
		FilePath: params.FilePath,
		Format:   format,
		Sheet:    params.Sheet,
		Loader:   params.Loader,
	}, nil
}

// InferFormat maps a file extension onto a TableFormat.
func InferFormat(path string) (TableFormat, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv", "txt":
		return TableFormatCSV, nil
	case "xlsx", "xlsm":
		return TableFormatXLSX, nil
	default:
		return "", fmt.Errorf("cannot infer table format of %q", path)
	}
}

// GetBytes retrieves the raw content of the file using its Loader.
func (f *TableFile) GetBytes(ctx context.Context) ([]byte, error) {
	if f.Loader == nil {
		return nil, fmt.Errorf("table file %q has no loader", f.ID)
	}
	return f.Loader.GetFileBytes(ctx, *f)
}

// CacheKey identifies a file for reader caches and shared in-flight fetches.
func CacheKey(file TableFile) string {
	return file.ID + "|" + file.FilePath + "|" + file.Sheet
}

// TableFileLoader defines the interface for loading the bytes of a TableFile.
// Implementations may load files from disk, cloud storage, or other sources.
type TableFileLoader interface {
	GetFileBytes(ctx context.Context, file TableFile) ([]byte, error)
}

// TableReader turns a TableFile into a table. Callers own the returned
// table and may mutate it.
type TableReader interface {
	ReadTable(ctx context.Context, file TableFile) (*table.Table, error)
}

// FormatReader dispatches to a TableReader by file format.
type FormatReader map[TableFormat]TableReader

// ReadTable implements TableReader.
func (r FormatReader) ReadTable(ctx context.Context, file TableFile) (*table.Table, error) {
	reader, ok := r[file.Format]
	if !ok {
		return nil, fmt.Errorf("no reader registered for format %q (file %q)", file.Format, file.ID)
	}
	return reader.ReadTable(ctx, file)
}
