package extract

import (
	"context"

	"github.com/chemflow/chemflow/pkg/clients"
)

// Page is one batch of rows from an extractor. Seq is the page's position
// in the source's pagination sequence, starting at zero; consumers that
// drain pages concurrently use it to reassemble rows in fetch order so that
// repeated business keys resolve identically across runs.
type Page struct {
	Seq  int
	Rows []Row
}

// RowStream represents a stream of row pages from one extractor
type RowStream struct {
	Pages  <-chan Page
	Errors <-chan error
}

// Extractor pulls pages of rows for one source through that source's API
// client. Implementations own pagination and payload parsing; they must tag
// every row with the source name and business key, number pages in fetch
// order, observe ctx between pages, and close the stream's channels when
// exhausted.
type Extractor interface {
	// Source returns the source name this extractor serves
	Source() string

	// Extract starts streaming row pages through the provided client
	Extract(ctx context.Context, client *clients.APIClient) (*RowStream, error)
}
