// Package transform turns raw Daktela API records into flat output rows.
// The pipeline applies fixed stages in order: nested object flattening,
// HTML stripping, list explosion, list-of-objects explosion, column name
// sanitization and id synthesis.
package transform

import (
	"regexp"
	"sort"

	"github.com/keboola/component-daktela/pkg/config"
	jsonpool "github.com/keboola/component-daktela/pkg/json"
	"github.com/keboola/component-daktela/pkg/models"
	stringpool "github.com/keboola/component-daktela/pkg/strings"
)

// maxFlattenDepth caps how many nested object levels are merged into
// compound column names. Objects nested deeper are kept as JSON strings.
const maxFlattenDepth = 2

// htmlTagRe matches HTML tags non-greedily so adjacent tags are removed
// one at a time.
var htmlTagRe = regexp.MustCompile(`<.*?>`)

// Transformer converts raw records of one endpoint into output rows.
type Transformer struct {
	endpoint config.Endpoint
}

// New creates a transformer for the given endpoint definition.
func New(ep config.Endpoint) *Transformer {
	return &Transformer{endpoint: ep}
}

// Transform runs the full pipeline on one raw record. A record can expand
// into several rows when the endpoint configures list columns.
func (t *Transformer) Transform(raw models.RawRecord) []models.Row {
	flat := Flatten(raw)
	cleaned := CleanHTML(flat)
	rows := ExplodeLists(cleaned, t.endpoint.ListColumns)

	out := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		for _, exploded := range ExplodeObjectLists(row, t.endpoint.ObjectListColumns) {
			sanitized := SanitizeColumns(exploded)
			sanitized["id"] = t.SynthesizeID(sanitized)
			out = append(out, sanitized)
		}
	}
	return out
}

// HasKeyFields reports whether every primary key field of the endpoint is
// present and non-empty on the raw record.
func (t *Transformer) HasKeyFields(raw models.RawRecord) bool {
	for _, key := range t.endpoint.PrimaryKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr && s == "" {
			return false
		}
	}
	return true
}

// SynthesizeID joins the primary key values and then any present secondary
// key values with underscores. Absent keys are skipped; with no key values
// at all the id is empty.
func (t *Transformer) SynthesizeID(row models.Row) string {
	parts := make([]string, 0, len(t.endpoint.PrimaryKeys)+len(t.endpoint.SecondaryKeys))
	for _, keys := range [][]string{t.endpoint.PrimaryKeys, t.endpoint.SecondaryKeys} {
		for _, key := range keys {
			v, ok := row[SanitizeColumn(key)]
			if !ok || v == nil {
				continue
			}
			parts = append(parts, stringpool.ValueToString(v))
		}
	}
	return stringpool.JoinPooled(parts, "_")
}

// Flatten merges nested objects into compound parent_child column names,
// recursing at most maxFlattenDepth levels. Deeper objects are serialized
// to JSON strings. Lists are kept untouched for the explosion stages.
func Flatten(raw models.RawRecord) models.Row {
	out := make(models.Row, len(raw))
	for key, value := range raw {
		flattenValue(out, key, value, 0)
	}
	return out
}

func flattenValue(out models.Row, key string, value interface{}, depth int) {
	nested, isMap := value.(map[string]interface{})
	if !isMap {
		out[key] = value
		return
	}
	if depth >= maxFlattenDepth {
		if data, err := jsonpool.Marshal(nested); err == nil {
			out[key] = string(data)
		} else {
			out[key] = stringpool.ValueToString(nested)
		}
		return
	}
	for childKey, childValue := range nested {
		flattenValue(out, key+"_"+childKey, childValue, depth+1)
	}
}

// CleanHTML strips HTML tags from every top-level string value. A value
// reduced to nothing but whitespace becomes nil. Non-string values,
// including list elements, pass through untouched.
func CleanHTML(row models.Row) models.Row {
	out := make(models.Row, len(row))
	for key, value := range row {
		if s, ok := value.(string); ok {
			out[key] = cleanString(s)
		} else {
			out[key] = value
		}
	}
	return out
}

func cleanString(s string) interface{} {
	if !stringpool.Contains(s, "<") {
		if isBlank(s) {
			return nil
		}
		return s
	}
	stripped := htmlTagRe.ReplaceAllString(s, "")
	if isBlank(stripped) {
		return nil
	}
	return stripped
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\v', '\f':
		default:
			return false
		}
	}
	return true
}

// ExplodeLists expands the configured scalar-list columns into one row per
// element, column by column in configured order, so multiple list columns
// produce a cross product. A configured column that is absent or does not
// hold a list is skipped; an empty list keeps the row unchanged.
// Unconfigured list values pass through as a single row.
func ExplodeLists(row models.Row, columns []string) []models.Row {
	rows := []models.Row{row}
	for _, col := range columns {
		value, ok := row[col]
		if !ok {
			continue
		}
		items, ok := value.([]interface{})
		if !ok {
			continue
		}
		if len(items) == 0 {
			continue
		}
		next := make([]models.Row, 0, len(rows)*len(items))
		for _, r := range rows {
			for _, item := range items {
				expanded := cloneRow(r)
				expanded[col] = item
				next = append(next, expanded)
			}
		}
		rows = next
	}
	return rows
}

// ExplodeObjectLists expands the configured list-of-objects columns. The
// column itself is removed and each object's keys are injected as col_key
// columns, one row per object. An empty list yields a single row with the
// column removed; elements that are not objects yield a row without the
// column and without injected keys.
func ExplodeObjectLists(row models.Row, columns []string) []models.Row {
	rows := []models.Row{row}
	for _, col := range columns {
		value, ok := row[col]
		if !ok {
			continue
		}
		items, ok := value.([]interface{})
		if !ok {
			continue
		}
		next := make([]models.Row, 0, len(rows))
		for _, r := range rows {
			if len(items) == 0 {
				expanded := cloneRow(r)
				delete(expanded, col)
				next = append(next, expanded)
				continue
			}
			for _, item := range items {
				expanded := cloneRow(r)
				delete(expanded, col)
				if obj, ok := item.(map[string]interface{}); ok {
					for objKey, objValue := range obj {
						expanded[col+"_"+objKey] = objValue
					}
				}
				next = append(next, expanded)
			}
		}
		rows = next
	}
	return rows
}

// SanitizeColumns rewrites every column name into its sanitized form.
// Name collisions after sanitization resolve to the value of the
// lexicographically last original name so the result is deterministic.
func SanitizeColumns(row models.Row) models.Row {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(models.Row, len(row))
	for _, key := range keys {
		out[SanitizeColumn(key)] = row[key]
	}
	return out
}

// SanitizeColumn maps a column name onto ASCII letters, digits and
// underscores. Every other byte becomes an underscore and a leading digit
// gets an underscore prefix.
func SanitizeColumn(name string) string {
	if name == "" {
		return "_"
	}

	clean := true
	for i := 0; i < len(name); i++ {
		if !isColumnByte(name[i]) {
			clean = false
			break
		}
	}
	if clean && !isDigit(name[0]) {
		return name
	}

	builder := stringpool.GetBuilder(stringpool.Small)
	defer stringpool.PutBuilder(builder, stringpool.Small)

	if isDigit(name[0]) {
		builder.WriteByte('_')
	}
	for i := 0; i < len(name); i++ {
		if isColumnByte(name[i]) {
			builder.WriteByte(name[i])
		} else {
			builder.WriteByte('_')
		}
	}
	return stringpool.Clone(builder.String())
}

func isColumnByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c) || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func cloneRow(row models.Row) models.Row {
	out := make(models.Row, len(row)+4)
	for key, value := range row {
		out[key] = value
	}
	return out
}
