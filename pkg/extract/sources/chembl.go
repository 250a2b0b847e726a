package sources

import (
	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
	"github.com/chemflow/chemflow/pkg/logger"
)

// chemblFields is the catalog of document fields ChEMBL contributes.
var chemblFields = map[string]bool{
	"title":     true,
	"journal":   true,
	"year":      true,
	"volume":    true,
	"issue":     true,
	"abstract":  true,
	"pubmed_id": true,
}

// NewChEMBLExtractor builds the extractor for the ChEMBL document endpoint.
// ChEMBL paginates with limit/offset and returns documents under "documents".
func NewChEMBLExtractor(source string, cfg config.SourceConfig) (extract.Extractor, error) {
	return extract.NewPagedExtractor(extract.PagedConfig{
		Source:       source,
		Path:         "document.json",
		ResultsField: "documents",
		PageSize:     100,
	}, mapChEMBLDocument, logger.Get())
}

// mapChEMBLDocument converts one ChEMBL document object into a row.
func mapChEMBLDocument(item map[string]interface{}) (extract.Row, error) {
	doi := normalizeDOI(stringField(item, "doi"))
	if doi == "" {
		return extract.Row{}, cferrors.New(cferrors.ErrorTypeValidation, "document has no DOI").
			WithDetail("chembl_id", stringField(item, "document_chembl_id"))
	}

	row := extract.Row{
		BusinessKey: doi,
		Fields:      make(map[string]interface{}, len(chemblFields)),
		Extra:       make(map[string]interface{}),
	}
	for key, value := range item {
		switch {
		case key == "doi":
			// consumed as the business key
		case chemblFields[key]:
			row.Fields[key] = value
		default:
			row.Extra[key] = value
		}
	}
	return row, nil
}
