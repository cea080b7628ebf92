package util

import "strings"

const utf8BOM = "\ufeff"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, neither of which
// Postgres accepts in text columns.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// TrimBOM removes a leading UTF-8 byte order mark, which spreadsheet exports
// tend to prepend to the first header cell.
func TrimBOM(value string) string {
	return strings.TrimPrefix(value, utf8BOM)
}
