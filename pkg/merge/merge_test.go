package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
)

func table(source string, rows ...extract.Row) extract.Table {
	for i := range rows {
		rows[i].Source = source
	}
	return extract.Table{Source: source, Rows: rows}
}

func row(key string, fields map[string]interface{}) extract.Row {
	return extract.Row{BusinessKey: key, Fields: fields}
}

func TestEngine_PrecedenceSkipsNullThenFlagsConflict(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		Priority: map[string][]string{
			"title": {"europepmc", "chembl", "openalex"},
		},
	})

	merged := engine.Merge([]extract.Table{
		table("europepmc", row("10.1/x", map[string]interface{}{"title": nil})),
		table("chembl", row("10.1/x", map[string]interface{}{"title": "Foo"})),
		table("openalex", row("10.1/x", map[string]interface{}{"title": "Bar"})),
	})

	require.Len(t, merged, 1)
	field := merged[0].Fields["title"]

	// The first source is null, so the second wins; the disagreement with
	// the third is still surfaced as a conflict
	assert.Equal(t, "Foo", field.Value)
	assert.Equal(t, "chembl", field.WinningSource)
	assert.True(t, field.Conflict)
	assert.Len(t, field.Candidates, 2)
}

func TestEngine_AgreementIsNotAConflict(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		Priority:         map[string][]string{"title": {"a", "b"}},
	})

	merged := engine.Merge([]extract.Table{
		table("a", row("k", map[string]interface{}{"title": "Same"})),
		table("b", row("k", map[string]interface{}{"title": "  Same  "})),
	})

	field := merged[0].Fields["title"]
	assert.Equal(t, "Same", field.Value)
	assert.False(t, field.Conflict, "trimmed-equal strings agree")
}

func TestEngine_AllNullYieldsEmptyResolution(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		Priority:         map[string][]string{"title": {"a", "b"}},
	})

	merged := engine.Merge([]extract.Table{
		table("a", row("k", map[string]interface{}{"title": nil})),
		table("b", row("k", map[string]interface{}{"title": "   "})),
	})

	field := merged[0].Fields["title"]
	assert.Nil(t, field.Value)
	assert.Empty(t, field.WinningSource)
	assert.False(t, field.Conflict)
	assert.Empty(t, field.Candidates)
}

func TestEngine_KeyInOneSourceStillProducesRow(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		DefaultPriority:  []string{"a", "b"},
	})

	merged := engine.Merge([]extract.Table{
		table("a", row("only-a", map[string]interface{}{"title": "A"})),
		table("b", row("only-b", map[string]interface{}{"title": "B"})),
	})

	require.Len(t, merged, 2)
	assert.Equal(t, "only-a", merged[0].BusinessKey)
	assert.Equal(t, "only-b", merged[1].BusinessKey)
	assert.Equal(t, "A", merged[0].Fields["title"].Value)
	assert.Equal(t, "B", merged[1].Fields["title"].Value)
}

func TestEngine_OutputSortedByBusinessKey(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		DefaultPriority:  []string{"a"},
	})

	merged := engine.Merge([]extract.Table{
		table("a",
			row("zz", map[string]interface{}{"title": "Z"}),
			row("aa", map[string]interface{}{"title": "A"}),
			row("mm", map[string]interface{}{"title": "M"}),
		),
	})

	require.Len(t, merged, 3)
	assert.Equal(t, "aa", merged[0].BusinessKey)
	assert.Equal(t, "mm", merged[1].BusinessKey)
	assert.Equal(t, "zz", merged[2].BusinessKey)
}

func TestEngine_DuplicateKeyInOneSourceFirstWins(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		DefaultPriority:  []string{"a"},
	})

	merged := engine.Merge([]extract.Table{
		table("a",
			row("k", map[string]interface{}{"title": "first"}),
			row("k", map[string]interface{}{"title": "second"}),
		),
	})

	require.Len(t, merged, 1)
	assert.Equal(t, "first", merged[0].Fields["title"].Value)
}

func TestEngine_SourceOutsidePriorityListIsIgnored(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		Priority:         map[string][]string{"title": {"a"}},
	})

	merged := engine.Merge([]extract.Table{
		table("a", row("k", map[string]interface{}{"title": nil})),
		table("rogue", row("k", map[string]interface{}{"title": "never"})),
	})

	field := merged[0].Fields["title"]
	assert.Nil(t, field.Value)
	assert.Empty(t, field.WinningSource)
}

func TestEngine_Deterministic(t *testing.T) {
	engine := NewEngine(config.MergeConfig{
		BusinessKeyField: "doi",
		DefaultPriority:  []string{"a", "b"},
	})

	tables := []extract.Table{
		table("a",
			row("k1", map[string]interface{}{"title": "T1", "year": float64(2020)}),
			row("k2", map[string]interface{}{"title": "T2"}),
		),
		table("b",
			row("k1", map[string]interface{}{"year": float64(2021), "journal": "J"}),
			row("k3", map[string]interface{}{"title": "T3"}),
		),
	}

	first := engine.Merge(tables)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Merge(tables))
	}
}
