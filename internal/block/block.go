// Package block defines the block record consumed from the chain API and
// the parsing/validation rules applied before a block is persisted.
package block

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Block is the unit of ingestion. Identity is Height; a block is immutable
// once stored.
type Block struct {
	Height    int64
	Hash      string
	Timestamp string
	TxHashes  []string

	// Raw is the original API payload, persisted verbatim by the file backend.
	Raw json.RawMessage
}

// payload mirrors the JSON shape returned by the chain REST API for both the
// latest-block and block-by-height endpoints.
type payload struct {
	BlockID struct {
		Hash string `json:"hash"`
	} `json:"block_id"`
	Block struct {
		Header struct {
			Height string `json:"height"`
			Time   string `json:"time"`
		} `json:"header"`
		Data struct {
			Txs []string `json:"txs"`
		} `json:"data"`
	} `json:"block"`
}

// Parse decodes a raw API payload into a Block and validates the required
// fields. The height arrives as a decimal string; transactions are optional.
func Parse(raw []byte) (Block, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Block{}, fmt.Errorf("decode block payload: %w", err)
	}

	if p.Block.Header.Height == "" {
		return Block{}, fmt.Errorf("block height missing")
	}
	height, err := strconv.ParseInt(p.Block.Header.Height, 10, 64)
	if err != nil {
		return Block{}, fmt.Errorf("parse block height %q: %w", p.Block.Header.Height, err)
	}

	b := Block{
		Height:    height,
		Hash:      p.BlockID.Hash,
		Timestamp: p.Block.Header.Time,
		TxHashes:  p.Block.Data.Txs,
		Raw:       append(json.RawMessage(nil), raw...),
	}
	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	return b, nil
}

// Validate checks the fields every stored block must carry.
func (b Block) Validate() error {
	if b.Height <= 0 {
		return fmt.Errorf("block %d: height must be positive", b.Height)
	}
	if b.Hash == "" {
		return fmt.Errorf("block %d: hash missing", b.Height)
	}
	if b.Timestamp == "" {
		return fmt.Errorf("block %d: timestamp missing", b.Height)
	}
	return nil
}
