// Package merge resolves one logical record per business key from the tables
// extracted out of multiple sources, using configured per-field source
// precedence lists. The engine is a pure function of its inputs and
// configuration: no I/O, no timestamps, no randomness, so repeated runs over
// identical inputs produce bit-identical results.
package merge

import (
	"reflect"
	"sort"
	"strings"

	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
)

// ResolvedField is one output field after precedence resolution.
type ResolvedField struct {
	// Value is the winning value, nil when every candidate was null
	Value interface{} `json:"value"`
	// WinningSource names the source that supplied Value; empty when no
	// candidate was non-null
	WinningSource string `json:"winning_source,omitempty"`
	// Conflict is true when two or more candidates disagree after a
	// normalization-neutral comparison
	Conflict bool `json:"conflict"`
	// Candidates records every source that supplied a non-null value
	Candidates map[string]interface{} `json:"candidates,omitempty"`
}

// MergedRow is one entity after multi-source resolution. It is built once
// during the transform stage and never mutated afterwards.
type MergedRow struct {
	BusinessKey string                   `json:"business_key"`
	Fields      map[string]ResolvedField `json:"fields"`
}

// Engine resolves fields across source tables using precedence lists.
type Engine struct {
	cfg config.MergeConfig
}

// NewEngine creates a merge engine from the configured precedence lists.
func NewEngine(cfg config.MergeConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Merge reduces the source tables to one MergedRow per business key, in
// ascending key order. For each field the first source in its priority list
// with a non-null, non-empty value wins; all non-null suppliers are recorded
// as candidates, and disagreement among them flags a conflict. Keys present
// in only one source still produce a row.
func (e *Engine) Merge(tables []extract.Table) []MergedRow {
	indexes := make(map[string]map[string]extract.Row, len(tables))
	for i := range tables {
		indexes[tables[i].Source] = tables[i].ByKey()
	}

	keys := e.collectKeys(tables)
	fields := e.collectFields(tables)

	merged := make([]MergedRow, 0, len(keys))
	for _, key := range keys {
		row := MergedRow{
			BusinessKey: key,
			Fields:      make(map[string]ResolvedField, len(fields)),
		}
		for _, field := range fields {
			row.Fields[field] = e.resolveField(field, key, indexes)
		}
		merged = append(merged, row)
	}

	return merged
}

// resolveField resolves one field for one business key.
func (e *Engine) resolveField(field, key string, indexes map[string]map[string]extract.Row) ResolvedField {
	priority := e.cfg.PriorityFor(field)

	resolved := ResolvedField{}
	for _, source := range priority {
		index, ok := indexes[source]
		if !ok {
			continue
		}
		row, ok := index[key]
		if !ok {
			continue
		}
		value, ok := row.Fields[field]
		if !ok || isNull(value) {
			continue
		}

		if resolved.Candidates == nil {
			resolved.Candidates = make(map[string]interface{})
		}
		resolved.Candidates[source] = value

		if resolved.WinningSource == "" {
			resolved.Value = value
			resolved.WinningSource = source
		}
	}

	if len(resolved.Candidates) > 1 {
		resolved.Conflict = hasDisagreement(resolved.Candidates)
	}

	return resolved
}

// collectKeys returns the union of business keys across tables, sorted.
func (e *Engine) collectKeys(tables []extract.Table) []string {
	seen := make(map[string]struct{})
	for i := range tables {
		for _, row := range tables[i].Rows {
			seen[row.BusinessKey] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// collectFields returns the union of field names across tables plus every
// field with an explicit priority list, sorted.
func (e *Engine) collectFields(tables []extract.Table) []string {
	seen := make(map[string]struct{})
	for field := range e.cfg.Priority {
		seen[field] = struct{}{}
	}
	for i := range tables {
		for _, row := range tables[i].Rows {
			for field := range row.Fields {
				seen[field] = struct{}{}
			}
		}
	}

	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// hasDisagreement reports whether any two candidates differ.
func hasDisagreement(candidates map[string]interface{}) bool {
	var first interface{}
	started := false
	for _, v := range candidates {
		if !started {
			first = v
			started = true
			continue
		}
		if !equalValues(first, v) {
			return true
		}
	}
	return false
}

// isNull treats nil and whitespace-only strings as absent values.
func isNull(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// equalValues compares two candidate values with a normalization-neutral
// comparison: strings are trimmed but case-preserved, everything else is
// compared structurally.
func equalValues(a, b interface{}) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.TrimSpace(as) == strings.TrimSpace(bs)
	}
	return reflect.DeepEqual(a, b)
}
