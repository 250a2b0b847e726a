// Package writer canonicalizes merged rows, computes content hashes, and
// publishes the output artifact atomically. Given identical rows and
// configuration, two independent writes produce byte-identical files.
package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HashAlgo names the content hash used for rows, keys, and file checksums.
const HashAlgo = "sha256"

// floatPrecision is the fixed number of decimal digits in canonical floats.
const floatPrecision = 6

// timeLayout is the single ISO-8601 profile used for canonical timestamps.
const timeLayout = "2006-01-02T15:04:05Z"

// CanonicalValue renders one value in the fixed, locale-independent canonical
// form: floats at six decimal digits, timestamps as UTC ISO-8601, booleans as
// true/false, nil as the empty string. The caller decides how nulls appear in
// its own encoding.
func CanonicalValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', floatPrecision, 64)
	case float64:
		return strconv.FormatFloat(val, 'f', floatPrecision, 64)
	case time.Time:
		return val.UTC().Format(timeLayout)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// canonicalRow builds the canonical serialization of one row: keys sorted,
// values in canonical form, nulls as an explicit JSON null marker. This is
// the input to the row content hash, never the published encoding.
func canonicalRow(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		if fields[k] == nil {
			b.WriteString("null")
		} else {
			b.WriteString(strconv.Quote(CanonicalValue(fields[k])))
		}
	}
	b.WriteByte('}')
	return b.String()
}

// HashRow returns the hex content hash of the canonical form of fields.
func HashRow(fields map[string]interface{}) string {
	sum := sha256.Sum256([]byte(canonicalRow(fields)))
	return hex.EncodeToString(sum[:])
}

// HashBusinessKey returns the hex content hash of the business key alone.
func HashBusinessKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
