package sources

import (
	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
	"github.com/chemflow/chemflow/pkg/logger"
)

var openAlexFields = map[string]bool{
	"title":            true,
	"publication_year": true,
	"publication_date": true,
	"cited_by_count":   true,
	"type":             true,
	"language":         true,
	"is_retracted":     true,
}

// NewOpenAlexExtractor builds the extractor for the OpenAlex works endpoint.
// OpenAlex paginates with a cursor; passing cursor=* on the first request is
// the documented way to start, so it is set as a fixed query parameter and
// overwritten once a next cursor arrives.
func NewOpenAlexExtractor(source string, cfg config.SourceConfig) (extract.Extractor, error) {
	return extract.NewPagedExtractor(extract.PagedConfig{
		Source: source,
		Path:   "works",
		Query: map[string]string{
			"cursor": "*",
			"filter": "has_doi:true",
		},
		ResultsField: "results",
		PageSize:     100,
		LimitParam:   "per-page",
		CursorParam:  "cursor",
		CursorField:  "meta.next_cursor",
	}, mapOpenAlexWork, logger.Get())
}

// mapOpenAlexWork converts one OpenAlex work object into a row. OpenAlex
// returns DOIs as resolver URLs; normalization strips the prefix.
func mapOpenAlexWork(item map[string]interface{}) (extract.Row, error) {
	doi := normalizeDOI(stringField(item, "doi"))
	if doi == "" {
		return extract.Row{}, cferrors.New(cferrors.ErrorTypeValidation, "work has no DOI").
			WithDetail("id", stringField(item, "id"))
	}

	row := extract.Row{
		BusinessKey: doi,
		Fields:      make(map[string]interface{}, len(openAlexFields)),
		Extra:       make(map[string]interface{}),
	}
	for key, value := range item {
		switch {
		case key == "doi":
		case key == "publication_year":
			row.Fields["year"] = value
		case openAlexFields[key]:
			row.Fields[key] = value
		default:
			row.Extra[key] = value
		}
	}
	return row, nil
}
