// Package extract defines the row model produced by source extractors and
// the extractor capability the pipeline core consumes. Concrete per-source
// field catalogs and JSON parsers live behind the Extractor interface; the
// core only sees tables of rows tagged with their provenance.
package extract

import (
	"time"
)

// Row is one entity's worth of fields from a single source. Rows are
// produced by extractors and never mutated afterwards.
type Row struct {
	// BusinessKey uniquely identifies the logical entity across all sources
	BusinessKey string `json:"business_key"`
	// Fields holds the source's values for this entity
	Fields map[string]interface{} `json:"fields"`
	// Extra captures unknown upstream fields instead of dropping them
	Extra map[string]interface{} `json:"extra,omitempty"`
	// Source names the origin API
	Source string `json:"source"`
	// FetchedAt records when the row was pulled
	FetchedAt time.Time `json:"fetched_at"`
}

// Table is the complete extraction result for one source.
type Table struct {
	Source string
	Rows   []Row
}

// ByKey indexes the table's rows by business key. When a source returns the
// same key more than once the first occurrence wins.
func (t *Table) ByKey() map[string]Row {
	index := make(map[string]Row, len(t.Rows))
	for _, row := range t.Rows {
		if _, seen := index[row.BusinessKey]; !seen {
			index[row.BusinessKey] = row
		}
	}
	return index
}

// Append adds rows to the table.
func (t *Table) Append(rows []Row) {
	t.Rows = append(t.Rows, rows...)
}
