package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chemflow/chemflow/pkg/clients"
	"github.com/chemflow/chemflow/pkg/config"
)

type staticExtractor struct {
	source string
}

func (s *staticExtractor) Source() string { return s.source }

func (s *staticExtractor) Extract(ctx context.Context, client *clients.APIClient) (*RowStream, error) {
	pages := make(chan Page)
	errs := make(chan error)
	close(pages)
	close(errs)
	return &RowStream{Pages: pages, Errors: errs}, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	err := registry.Register("demo", func(source string, cfg config.SourceConfig) (Extractor, error) {
		return &staticExtractor{source: source}, nil
	})
	require.NoError(t, err)

	ex, err := registry.Create("demo", config.NewDefaultSourceConfig())
	require.NoError(t, err)
	assert.Equal(t, "demo", ex.Source())
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	factory := func(source string, cfg config.SourceConfig) (Extractor, error) {
		return &staticExtractor{source: source}, nil
	}

	require.NoError(t, registry.Register("demo", factory))
	assert.Error(t, registry.Register("demo", factory))
}

func TestRegistry_UnknownSource(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	_, err := registry.Create("nope", config.NewDefaultSourceConfig())
	assert.Error(t, err)
}

func TestTable_ByKeyFirstOccurrenceWins(t *testing.T) {
	table := Table{Source: "a"}
	table.Append([]Row{
		{BusinessKey: "k1", Fields: map[string]interface{}{"title": "first"}, FetchedAt: time.Now()},
		{BusinessKey: "k2", Fields: map[string]interface{}{"title": "other"}},
		{BusinessKey: "k1", Fields: map[string]interface{}{"title": "second"}},
	})

	index := table.ByKey()
	require.Len(t, index, 2)
	assert.Equal(t, "first", index["k1"].Fields["title"])
}
