package writer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/merge"
)

// System columns appended after the configured data columns.
const (
	ColumnHashRow         = "hash_row"
	ColumnHashBusinessKey = "hash_business_key"
)

// OutputArtifact describes one published file. It is immutable and
// referenced from the run manifest.
type OutputArtifact struct {
	Path             string   `json:"path"`
	RowCount         int      `json:"row_count"`
	SortKeys         []string `json:"sort_keys"`
	HashAlgo         string   `json:"hash_algo"`
	FileChecksum     string   `json:"file_checksum"`
	BusinessKeyField string   `json:"business_key_field"`
}

// DeterministicWriter publishes merged rows as a sorted, hashed, atomically
// renamed tabular file. Partial writes are only ever visible under the
// run-scoped temporary path, which is removed on any failure.
type DeterministicWriter struct {
	cfg              config.WriterConfig
	businessKeyField string
	logger           *zap.Logger
}

// NewDeterministicWriter creates a writer for the configured output.
func NewDeterministicWriter(cfg config.WriterConfig, businessKeyField string, logger *zap.Logger) *DeterministicWriter {
	return &DeterministicWriter{
		cfg:              cfg,
		businessKeyField: businessKeyField,
		logger:           logger.With(zap.String("component", "writer")),
	}
}

// Write sorts, canonicalizes, and publishes rows into runDir, returning the
// artifact record. The destination file appears only after a single atomic
// rename.
func (w *DeterministicWriter) Write(rows []merge.MergedRow, runDir string) (*OutputArtifact, error) {
	flat := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		flat[i] = flatten(row, w.businessKeyField)
	}

	w.sortRows(flat)

	columns := w.columns(flat)

	finalPath := filepath.Join(runDir, w.cfg.FileName)
	if w.cfg.Compress && !strings.HasSuffix(finalPath, ".gz") {
		finalPath += ".gz"
	}

	if err := w.publish(flat, columns, finalPath); err != nil {
		return nil, err
	}

	checksum, err := fileChecksum(finalPath)
	if err != nil {
		return nil, cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to checksum published file").
			WithDetail("path", finalPath)
	}

	w.logger.Info("artifact published",
		zap.String("path", finalPath),
		zap.Int("rows", len(flat)),
		zap.String("checksum", checksum))

	return &OutputArtifact{
		Path:             finalPath,
		RowCount:         len(flat),
		SortKeys:         w.cfg.SortKeys,
		HashAlgo:         HashAlgo,
		FileChecksum:     checksum,
		BusinessKeyField: w.businessKeyField,
	}, nil
}

// publish writes the rows to a temporary file on the destination filesystem
// and renames it into place. The temporary file is removed on any failure.
func (w *DeterministicWriter) publish(rows []map[string]interface{}, columns []string, finalPath string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-"+filepath.Base(finalPath)+"-*")
	if err != nil {
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to create temporary file").
			WithDetail("dir", filepath.Dir(finalPath))
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	var out io.Writer = tmp
	var gz *gzip.Writer
	if w.cfg.Compress {
		gz = gzip.NewWriter(tmp)
		out = gz
	}

	cw := csv.NewWriter(out)

	header := append(append([]string{}, columns...), ColumnHashRow, ColumnHashBusinessKey)
	if err = cw.Write(header); err != nil {
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to write header")
	}

	for _, row := range rows {
		record := make([]string, 0, len(header))
		for _, col := range columns {
			record = append(record, CanonicalValue(row[col]))
		}
		record = append(record, HashRow(row))
		key, _ := row[w.businessKeyField].(string)
		record = append(record, HashBusinessKey(key))

		if err = cw.Write(record); err != nil {
			return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to write row")
		}
	}

	cw.Flush()
	if err = cw.Error(); err != nil {
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to flush rows")
	}

	if gz != nil {
		if err = gz.Close(); err != nil {
			return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to finish compression")
		}
	}

	if err = tmp.Sync(); err != nil {
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to sync temporary file")
	}
	if err = tmp.Close(); err != nil {
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to close temporary file")
	}

	if err = os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to publish file").
			WithDetail("path", finalPath)
	}

	return nil
}

// sortRows orders rows by the configured sort keys, ascending, nulls last.
func (w *DeterministicWriter) sortRows(rows []map[string]interface{}) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range w.cfg.SortKeys {
			a, b := rows[i][key], rows[j][key]
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return false
			case b == nil:
				return true
			}
			av, bv := CanonicalValue(a), CanonicalValue(b)
			if av != bv {
				return av < bv
			}
		}
		return false
	})
}

// columns returns the fixed data column order: the configured list when set,
// otherwise the sorted union of observed fields.
func (w *DeterministicWriter) columns(rows []map[string]interface{}) []string {
	if len(w.cfg.Columns) > 0 {
		return w.cfg.Columns
	}

	seen := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// flatten projects a MergedRow to field values, carrying the business key as
// a regular field.
func flatten(row merge.MergedRow, businessKeyField string) map[string]interface{} {
	flat := make(map[string]interface{}, len(row.Fields)+1)
	for field, resolved := range row.Fields {
		flat[field] = resolved.Value
	}
	flat[businessKeyField] = row.BusinessKey
	return flat
}

// fileChecksum hashes the published file's bytes.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is produced by this writer
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
