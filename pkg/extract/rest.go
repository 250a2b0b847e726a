package extract

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/clients"
	"github.com/chemflow/chemflow/pkg/metrics"
)

// RowMapper converts one upstream result object into a Row. Returning an
// error drops the item; the extractor logs it and keeps paging.
type RowMapper func(item map[string]interface{}) (Row, error)

// PagedConfig describes offset/limit pagination against one JSON endpoint.
// Most public bioactivity APIs follow this shape: a results array under a
// named field, with offset and limit query parameters. Sources that use a
// cursor instead set CursorParam and CursorField.
type PagedConfig struct {
	// Source names the origin API; stamped onto every row
	Source string
	// Path is the endpoint, joined onto the source base URL
	Path string
	// Query holds fixed query parameters sent on every page
	Query map[string]string
	// ResultsField is the response field holding the page's result array;
	// a dot-separated path descends into nested objects
	ResultsField string
	// PageSize is the limit requested per page
	PageSize int
	// OffsetParam and LimitParam name the pagination query parameters
	// (default "offset" and "limit")
	OffsetParam string
	LimitParam  string
	// CursorParam, when set, switches to cursor pagination: the value of
	// CursorField (a dot-separated path) from each response is sent as
	// CursorParam on the next request, and paging stops when the response
	// omits it
	CursorParam string
	CursorField string
	// MaxPages caps total pages pulled (0 = no cap)
	MaxPages int
}

// PagedExtractor pulls a paged JSON collection and maps each result object
// into a Row. It satisfies Extractor and is the building block for the
// concrete source catalogs registered with the Registry.
type PagedExtractor struct {
	cfg    PagedConfig
	mapRow RowMapper
	log    *zap.Logger
}

// NewPagedExtractor creates an extractor for one paged endpoint.
func NewPagedExtractor(cfg PagedConfig, mapRow RowMapper, log *zap.Logger) (*PagedExtractor, error) {
	if cfg.Source == "" {
		return nil, cferrors.New(cferrors.ErrorTypeConfig, "paged extractor requires a source name")
	}
	if cfg.Path == "" {
		return nil, cferrors.New(cferrors.ErrorTypeConfig, "paged extractor requires an endpoint path").
			WithDetail("source", cfg.Source)
	}
	if cfg.ResultsField == "" {
		return nil, cferrors.New(cferrors.ErrorTypeConfig, "paged extractor requires a results field").
			WithDetail("source", cfg.Source)
	}
	if mapRow == nil {
		return nil, cferrors.New(cferrors.ErrorTypeConfig, "paged extractor requires a row mapper").
			WithDetail("source", cfg.Source)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.OffsetParam == "" {
		cfg.OffsetParam = "offset"
	}
	if cfg.LimitParam == "" {
		cfg.LimitParam = "limit"
	}

	return &PagedExtractor{
		cfg:    cfg,
		mapRow: mapRow,
		log:    log.With(zap.String("source", cfg.Source), zap.String("endpoint", cfg.Path)),
	}, nil
}

// Source returns the source name this extractor serves.
func (e *PagedExtractor) Source() string {
	return e.cfg.Source
}

// Extract starts streaming row pages through the provided client. Pagination
// stops at a short page, a missing cursor, or the MaxPages cap; cancellation
// is observed between pages and surfaces on the error channel.
func (e *PagedExtractor) Extract(ctx context.Context, client *clients.APIClient) (*RowStream, error) {
	pages := make(chan Page)
	errs := make(chan error, 1)

	go func() {
		defer close(pages)
		defer close(errs)

		offset := 0
		cursor := ""
		for page := 0; e.cfg.MaxPages == 0 || page < e.cfg.MaxPages; page++ {
			if err := ctx.Err(); err != nil {
				errs <- cferrors.Wrap(err, cferrors.ErrorTypeNetwork, "extraction cancelled").
					WithDetail("source", e.cfg.Source).
					WithDetail("page", page)
				return
			}

			rows, nextCursor, count, err := e.fetchPage(ctx, client, offset, cursor)
			if err != nil {
				errs <- err
				return
			}

			if len(rows) > 0 {
				select {
				case pages <- Page{Seq: page, Rows: rows}:
				case <-ctx.Done():
					errs <- cferrors.Wrap(ctx.Err(), cferrors.ErrorTypeNetwork, "extraction cancelled").
						WithDetail("source", e.cfg.Source).
						WithDetail("page", page)
					return
				}
			}

			if e.cfg.CursorParam != "" {
				if nextCursor == "" {
					return
				}
				cursor = nextCursor
			} else {
				if count < e.cfg.PageSize {
					return
				}
				offset += count
			}
		}
	}()

	return &RowStream{Pages: pages, Errors: errs}, nil
}

// fetchPage pulls and maps one page. count is the raw item count before
// mapping, which drives offset pagination even when items are dropped.
func (e *PagedExtractor) fetchPage(ctx context.Context, client *clients.APIClient, offset int, cursor string) ([]Row, string, int, error) {
	query := make(map[string]string, len(e.cfg.Query)+2)
	for k, v := range e.cfg.Query {
		query[k] = v
	}
	query[e.cfg.LimitParam] = strconv.Itoa(e.cfg.PageSize)
	if e.cfg.CursorParam != "" {
		if cursor != "" {
			query[e.cfg.CursorParam] = cursor
		}
	} else {
		query[e.cfg.OffsetParam] = strconv.Itoa(offset)
	}

	var envelope map[string]interface{}
	err := client.ExecuteJSON(ctx, clients.RequestDescriptor{
		Method:     "GET",
		Path:       e.cfg.Path,
		Query:      query,
		Idempotent: true,
	}, &envelope)
	if err != nil {
		return nil, "", 0, err
	}

	raw, _ := fieldPath(envelope, e.cfg.ResultsField)
	items, ok := raw.([]interface{})
	if !ok {
		return nil, "", 0, cferrors.Newf(cferrors.ErrorTypeParse, "response field %q is not an array", e.cfg.ResultsField).
			WithDetail("source", e.cfg.Source).
			WithDetail("endpoint", e.cfg.Path)
	}

	fetchedAt := time.Now().UTC()
	rows := make([]Row, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			metrics.RowsProcessed.WithLabelValues("extract", "skipped").Inc()
			e.log.Warn("skipping non-object result item")
			continue
		}

		row, err := e.mapRow(item)
		if err != nil {
			metrics.RowsProcessed.WithLabelValues("extract", "skipped").Inc()
			e.log.Warn("skipping unmappable result item", zap.Error(err))
			continue
		}
		row.Source = e.cfg.Source
		if row.FetchedAt.IsZero() {
			row.FetchedAt = fetchedAt
		}
		rows = append(rows, row)
	}
	metrics.RowsProcessed.WithLabelValues("extract", "ok").Add(float64(len(rows)))

	nextCursor := ""
	if e.cfg.CursorField != "" {
		if v, ok := fieldPath(envelope, e.cfg.CursorField); ok {
			nextCursor, _ = v.(string)
		}
	}

	return rows, nextCursor, len(items), nil
}

// fieldPath walks a dot-separated path through nested JSON objects.
func fieldPath(obj map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = obj
	for path != "" {
		key := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			key, path = path[:i], path[i+1:]
		} else {
			path = ""
		}

		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
