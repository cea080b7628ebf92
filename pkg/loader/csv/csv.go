package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/table"

	"golang.org/x/sync/singleflight"
)

// ErrEmpty is returned for CSV content without a header row.
var ErrEmpty = errors.New("CSV file is empty or contains no valid data")

// CSVTableReader loads CSV files through a base loader and parses them into tables.
type CSVTableReader struct {
	loader loader.TableFileLoader

	cache   map[string]*table.Table
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewCSVTableReader creates a new CSVTableReader with the given base loader.
// The file's own Loader takes precedence when set.
func NewCSVTableReader(base loader.TableFileLoader) *CSVTableReader {
	return &CSVTableReader{
		loader: base,
		cache:  make(map[string]*table.Table),
	}
}

// ReadTable retrieves and parses the CSV file. Parsed tables are cached and
// every caller receives its own copy.
func (r *CSVTableReader) ReadTable(ctx context.Context, file loader.TableFile) (*table.Table, error) {
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

		parsed, err := ParseCSV(file.ID, content)
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

// ParseCSV parses CSV content into a table named name. The first non-blank
// record is the header. Blank records are skipped, short records are padded
// and records longer than the header are truncated. Malformed records are
// skipped with a warning.
func ParseCSV(name string, content []byte) (*table.Table, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var t *table.Table
	skipped := 0
	long := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		if isBlank(record) {
			continue
		}

		if t == nil {
			record[0] = util.TrimBOM(record[0])
			t, err = table.New(name, record)
			if err != nil {
				return nil, err
			}
			continue
		}

		if len(record) > len(t.Columns) {
			long++
		}
		t.Append(record...)
	}

	if t == nil {
		return nil, ErrEmpty
	}
	if skipped > 0 {
		logger.Warn("[Loader] Skipped malformed CSV records", "table", name, "count", skipped)
	}
	if long > 0 {
		logger.Warn("[Loader] Truncated CSV records longer than the header", "table", name, "count", long)
	}

	return t, nil
}

// WriteCSV serialises a table with a header row.
func WriteCSV(t *table.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
