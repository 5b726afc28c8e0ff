//go:build cgo

package exchange

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/cdata"

	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// ExportC publishes rec through the Arrow C Data Interface into the
// zero-initialised ArrowArray and ArrowSchema structs at the given addresses,
// which are owned by the caller. schemaAddr may be 0 to skip the schema.
// Buffers are shared, not copied; the foreign side must call each struct's
// release callback when done.
func ExportC(rec arrow.Record, arrayAddr, schemaAddr uintptr) error {
	if rec == nil {
		return errors.New(errors.ErrorTypeConversion, "cannot export a nil record")
	}
	if arrayAddr == 0 {
		return errors.New(errors.ErrorTypeConversion, "ArrowArray address is null")
	}
	var schema *cdata.CArrowSchema
	if schemaAddr != 0 {
		schema = cdata.SchemaFromPtr(schemaAddr)
	}
	cdata.ExportArrowRecordBatch(rec, cdata.ArrayFromPtr(arrayAddr), schema)
	return nil
}
