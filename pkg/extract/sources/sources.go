// Package sources holds the built-in source catalogs: one factory per
// supported upstream API, each mapping that API's response shape onto the
// shared row model. The catalogs are registered per run; a config entry whose
// name matches a catalog gets its extractor, everything else must be
// registered by the embedding program.
package sources

import (
	"strings"

	"github.com/chemflow/chemflow/pkg/extract"
)

// Builtin returns the built-in extractor factories keyed by source name.
func Builtin() map[string]extract.Factory {
	return map[string]extract.Factory{
		"chembl":    NewChEMBLExtractor,
		"europepmc": NewEuropePMCExtractor,
		"openalex":  NewOpenAlexExtractor,
	}
}

// RegisterBuiltin registers every built-in factory with the registry.
func RegisterBuiltin(registry *extract.Registry) error {
	for name, factory := range Builtin() {
		if err := registry.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}

// normalizeDOI lowercases a DOI and strips resolver URL prefixes so the same
// document carries the same business key regardless of which API returned it.
func normalizeDOI(raw string) string {
	doi := strings.TrimSpace(strings.ToLower(raw))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

// stringField reads a string-typed field from a decoded JSON object.
func stringField(item map[string]interface{}, key string) string {
	v, _ := item[key].(string)
	return v
}
