package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chemflow/chemflow/pkg/clients"
	"github.com/chemflow/chemflow/pkg/config"
)

func testClient(t *testing.T, baseURL string) *clients.APIClient {
	cfg := config.NewDefaultSourceConfig()
	cfg.BaseURL = baseURL
	cfg.RateLimit.MaxCalls = 100
	cfg.RateLimit.Period = time.Second
	cfg.RateLimit.Jitter = false
	cfg.Retry.BackoffBase = 10 * time.Millisecond
	return clients.NewAPIClient("test", cfg, zaptest.NewLogger(t))
}

func identityMapper(item map[string]interface{}) (Row, error) {
	key, _ := item["doi"].(string)
	return Row{BusinessKey: key, Fields: item}, nil
}

func drain(t *testing.T, stream *RowStream) ([]Row, error) {
	t.Helper()

	var rows []Row
	lastSeq := -1
	for page := range stream.Pages {
		assert.Greater(t, page.Seq, lastSeq)
		lastSeq = page.Seq
		rows = append(rows, page.Rows...)
	}
	var firstErr error
	for err := range stream.Errors {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return rows, firstErr
}

func TestPagedExtractor_OffsetPagination(t *testing.T) {
	// 5 items served 2 per page; the short final page ends pagination
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		var items string
		for i := offset; i < offset+2 && i < 5; i++ {
			if items != "" {
				items += ","
			}
			items += fmt.Sprintf(`{"doi": "10.1/%d"}`, i)
		}
		fmt.Fprintf(w, `{"results": [%s]}`, items)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
		PageSize:     2,
	}, identityMapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	stream, err := ex.Extract(context.Background(), client)
	require.NoError(t, err)

	rows, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "10.1/0", rows[0].BusinessKey)
	assert.Equal(t, "10.1/4", rows[4].BusinessKey)
	for _, row := range rows {
		assert.Equal(t, "test", row.Source)
		assert.False(t, row.FetchedAt.IsZero())
	}
}

func TestPagedExtractor_CursorPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"meta": {"next_cursor": "c2"}, "results": [{"doi": "10.1/a"}]}`)
		case "c2":
			fmt.Fprint(w, `{"meta": {}, "results": [{"doi": "10.1/b"}]}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
		PageSize:     10,
		LimitParam:   "per-page",
		CursorParam:  "cursor",
		CursorField:  "meta.next_cursor",
	}, identityMapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	stream, err := ex.Extract(context.Background(), client)
	require.NoError(t, err)

	rows, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "10.1/a", rows[0].BusinessKey)
	assert.Equal(t, "10.1/b", rows[1].BusinessKey)
}

func TestPagedExtractor_SkipsUnmappableItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [{"doi": "10.1/a"}, {"title": "no key"}, "not-an-object"]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	mapper := func(item map[string]interface{}) (Row, error) {
		key, _ := item["doi"].(string)
		if key == "" {
			return Row{}, fmt.Errorf("missing doi")
		}
		return Row{BusinessKey: key, Fields: item}, nil
	}

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
		PageSize:     10,
	}, mapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	stream, err := ex.Extract(context.Background(), client)
	require.NoError(t, err)

	rows, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "10.1/a", rows[0].BusinessKey)
}

func TestPagedExtractor_SurfacesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
	}, identityMapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	stream, err := ex.Extract(context.Background(), client)
	require.NoError(t, err)

	rows, err := drain(t, stream)
	assert.Empty(t, rows)
	assert.Error(t, err)
}

func TestPagedExtractor_MissingResultsField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count": 0}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
	}, identityMapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	stream, err := ex.Extract(context.Background(), client)
	require.NoError(t, err)

	_, err = drain(t, stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an array")
}

func TestPagedExtractor_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Full pages keep pagination going until cancelled
		fmt.Fprint(w, `{"results": [{"doi": "10.1/a"}]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
		PageSize:     1,
	}, identityMapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := ex.Extract(ctx, client)
	require.NoError(t, err)

	// Take one page, then cancel
	<-stream.Pages
	cancel()

	rows, err := drain(t, stream)
	_ = rows
	assert.Error(t, err)
}

func TestPagedExtractor_ConfigValidation(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := NewPagedExtractor(PagedConfig{Path: "/x", ResultsField: "r"}, identityMapper, log)
	assert.Error(t, err, "missing source")

	_, err = NewPagedExtractor(PagedConfig{Source: "s", ResultsField: "r"}, identityMapper, log)
	assert.Error(t, err, "missing path")

	_, err = NewPagedExtractor(PagedConfig{Source: "s", Path: "/x"}, identityMapper, log)
	assert.Error(t, err, "missing results field")

	_, err = NewPagedExtractor(PagedConfig{Source: "s", Path: "/x", ResultsField: "r"}, nil, log)
	assert.Error(t, err, "missing mapper")
}

func TestPagedExtractor_MaxPagesCap(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"results": [{"doi": "10.1/a"}]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	ex, err := NewPagedExtractor(PagedConfig{
		Source:       "test",
		Path:         "/items",
		ResultsField: "results",
		PageSize:     1,
		MaxPages:     3,
	}, identityMapper, zaptest.NewLogger(t))
	require.NoError(t, err)

	stream, err := ex.Extract(context.Background(), client)
	require.NoError(t, err)

	rows, err := drain(t, stream)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, calls)
}
