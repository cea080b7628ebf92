package table

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// NormalizeDate renders a date in ISO form ("2006-01-02", or with the clock
// when it is not midnight). Ambiguous numeric dates read month first.
// ok is false when the value is empty or cannot be parsed.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return "", false
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(dateLayout), true
	}
	return t.Format(dateTimeLayout), true
}

// ConvertDates keeps the original text of each column in a "Raw <column>"
// column inserted after it and rewrites the column in ISO form. Unparseable
// values become empty.
func ConvertDates(t *Table, columns ...string) error {
	for _, col := range columns {
		values, err := t.Column(col)
		if err != nil {
			return err
		}
		idx, _ := t.ColumnIndex(col)
		if err := t.InsertColumn(idx+1, "Raw "+col, values); err != nil {
			return err
		}
		converted := make([]string, len(values))
		for i, v := range values {
			converted[i], _ = NormalizeDate(v)
		}
		if err := t.SetColumn(col, converted); err != nil {
			return err
		}
	}
	return nil
}
