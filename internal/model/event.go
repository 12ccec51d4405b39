package model

import "github.com/ethereum/go-ethereum/core/types"

// DecodedEvent pairs a raw log with its rendered argument values.
type DecodedEvent struct {
	Log    types.Log
	Fields []string
}

// RowRecord is the JSON representation of an exported row. Metadata fields
// are omitted unless requested.
type RowRecord struct {
	Event       string   `json:"event"`
	Address     string   `json:"address"`
	Fields      []string `json:"fields"`
	BlockNumber *uint64  `json:"block_number,omitempty"`
	BlockHash   string   `json:"block_hash,omitempty"`
	TxHash      string   `json:"tx_hash,omitempty"`
	LogIndex    uint64   `json:"log_index"`
}
