package excel

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/singleflight"
)

// ExcelTableReader loads .xlsx workbooks through a base loader and reads one
// sheet of each into a table.
type ExcelTableReader struct {
	loader loader.TableFileLoader

	cache   map[string]*table.Table
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewExcelTableReader creates a new ExcelTableReader with the given base loader.
func NewExcelTableReader(base loader.TableFileLoader) *ExcelTableReader {
	return &ExcelTableReader{
		loader: base,
		cache:  make(map[string]*table.Table),
	}
}

// ReadTable reads the sheet named by file.Sheet, or the first sheet of the
// workbook when none is named.
func (r *ExcelTableReader) ReadTable(ctx context.Context, file loader.TableFile) (*table.Table, error) {
	key := loader.CacheKey(file)

	r.cacheMu.RLock()
	if cached, ok := r.cache[key]; ok {
		r.cacheMu.RUnlock()
		return cached.Clone(), nil
	}
	r.cacheMu.RUnlock()

	result, err, _ := r.group.Do(key, func() (any, error) {
		r.cacheMu.RLock()
		if cached, ok := r.cache[key]; ok {
			r.cacheMu.RUnlock()
			return cached, nil
		}
		r.cacheMu.RUnlock()

		base := file.Loader
		if base == nil {
			base = r.loader
		}
		if base == nil {
			return nil, fmt.Errorf("table file %q has no loader", file.ID)
		}
		content, err := base.GetFileBytes(ctx, file)
		if err != nil {
			return nil, err
		}

		parsed, err := ParseXLSX(file.ID, content, file.Sheet)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file.FilePath, err)
		}

		r.cacheMu.Lock()
		r.cache[key] = parsed
		r.cacheMu.Unlock()

		return parsed, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*table.Table).Clone(), nil
}

// ParseXLSX reads one sheet of an xlsx workbook. The first non-blank row is
// the header; blank rows are skipped and short rows padded.
func ParseXLSX(name string, content []byte, sheet string) (*table.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var t *table.Table
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if t == nil {
			row[0] = util.TrimBOM(row[0])
			t, err = table.New(name, row)
			if err != nil {
				return nil, err
			}
			continue
		}
		t.Append(row...)
	}
	if t == nil {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	return t, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
