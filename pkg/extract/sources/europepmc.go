package sources

import (
	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
	"github.com/chemflow/chemflow/pkg/logger"
)

var europePMCFields = map[string]bool{
	"title":                true,
	"authorString":         true,
	"journalTitle":         true,
	"pubYear":              true,
	"citedByCount":         true,
	"isOpenAccess":         true,
	"firstPublicationDate": true,
}

// NewEuropePMCExtractor builds the extractor for the Europe PMC search
// endpoint. Europe PMC paginates with a cursor mark and nests both the result
// array and the next cursor inside the response envelope.
func NewEuropePMCExtractor(source string, cfg config.SourceConfig) (extract.Extractor, error) {
	return extract.NewPagedExtractor(extract.PagedConfig{
		Source: source,
		Path:   "search",
		Query: map[string]string{
			"format": "json",
			"query":  "HAS_DOI:y",
		},
		ResultsField: "resultList.result",
		PageSize:     100,
		LimitParam:   "pageSize",
		CursorParam:  "cursorMark",
		CursorField:  "nextCursorMark",
	}, mapEuropePMCResult, logger.Get())
}

// mapEuropePMCResult converts one Europe PMC result object into a row.
func mapEuropePMCResult(item map[string]interface{}) (extract.Row, error) {
	doi := normalizeDOI(stringField(item, "doi"))
	if doi == "" {
		return extract.Row{}, cferrors.New(cferrors.ErrorTypeValidation, "result has no DOI").
			WithDetail("id", stringField(item, "id"))
	}

	row := extract.Row{
		BusinessKey: doi,
		Fields:      make(map[string]interface{}, len(europePMCFields)),
		Extra:       make(map[string]interface{}),
	}
	for key, value := range item {
		switch {
		case key == "doi":
		case europePMCFields[key]:
			row.Fields[canonicalFieldName(key)] = value
		default:
			row.Extra[key] = value
		}
	}
	return row, nil
}

// canonicalFieldName maps Europe PMC's camelCase field names onto the shared
// output field names the merge precedence lists use.
func canonicalFieldName(key string) string {
	switch key {
	case "authorString":
		return "authors"
	case "journalTitle":
		return "journal"
	case "pubYear":
		return "year"
	case "citedByCount":
		return "cited_by_count"
	case "isOpenAccess":
		return "is_open_access"
	case "firstPublicationDate":
		return "publication_date"
	default:
		return key
	}
}
