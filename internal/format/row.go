package format

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// Columns selects the metadata columns appended after the decoded fields.
type Columns struct {
	BlockNumber bool
	BlockHash   bool
	TxHash      bool
}

// Row joins the fields and the requested metadata with commas. Values are not
// quoted, so fields that contain commas produce ambiguous rows.
func Row(fields []string, cols Columns, log types.Log) string {
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, fields...)
	if cols.BlockNumber {
		parts = append(parts, strconv.FormatUint(log.BlockNumber, 10))
	}
	if cols.BlockHash {
		parts = append(parts, log.BlockHash.Hex())
	}
	if cols.TxHash {
		parts = append(parts, log.TxHash.Hex())
	}
	return strings.Join(parts, ",")
}
