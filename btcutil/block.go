// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcutil

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/wire"
)

// BlockHeightUnknown is returned by Height when a block's position in the
// chain has not yet been set.
const BlockHeightUnknown = -1

// Block wraps a wire.MsgBlock, memoizing its hash, height and the Tx
// wrappers for its transactions.
type Block struct {
	msgBlock   *wire.MsgBlock
	serialized []byte
	blockHash  *chainhash.Hash
	height     int32
	txns       []*Tx
}

// NewBlock returns a new Block instance wrapping msgBlock, with an unset
// height.
func NewBlock(msgBlock *wire.MsgBlock) *Block {
	return &Block{msgBlock: msgBlock, height: BlockHeightUnknown}
}

// NewBlockFromBytes decodes serialized block bytes and wraps the result.
func NewBlockFromBytes(serialized []byte) (*Block, error) {
	br := bytes.NewReader(serialized)
	b, err := NewBlockFromReader(br)
	if err != nil {
		return nil, err
	}
	b.serialized = serialized
	return b, nil
}

// NewBlockFromReader decodes a block from r and wraps the result.
func NewBlockFromReader(r io.Reader) (*Block, error) {
	msgBlock := &wire.MsgBlock{}
	if err := msgBlock.Deserialize(r); err != nil {
		return nil, err
	}
	return NewBlock(msgBlock), nil
}

// MsgBlock returns the underlying wire.MsgBlock.
func (b *Block) MsgBlock() *wire.MsgBlock { return b.msgBlock }

// Bytes returns the serialized bytes for the block, computing and caching
// them if necessary.
func (b *Block) Bytes() ([]byte, error) {
	if len(b.serialized) != 0 {
		return b.serialized, nil
	}
	var buf bytes.Buffer
	buf.Grow(b.msgBlock.SerializeSize())
	if err := b.msgBlock.Serialize(&buf); err != nil {
		return nil, err
	}
	b.serialized = buf.Bytes()
	return b.serialized, nil
}

// Hash returns the block's hash, computing and caching it if necessary.
func (b *Block) Hash() *chainhash.Hash {
	if b.blockHash != nil {
		return b.blockHash
	}
	h := b.msgBlock.BlockHash()
	b.blockHash = &h
	return b.blockHash
}

// Height returns the block's height in the main chain, or
// BlockHeightUnknown if it has not been set.
func (b *Block) Height() int32 { return b.height }

// SetHeight sets the block's height in the main chain.
func (b *Block) SetHeight(height int32) { b.height = height }

// Transactions returns a slice of wrapped Tx instances for every
// transaction in the block, computing and caching them if necessary.
func (b *Block) Transactions() []*Tx {
	if len(b.txns) == len(b.msgBlock.Transactions) {
		return b.txns
	}
	b.txns = make([]*Tx, len(b.msgBlock.Transactions))
	for i, tx := range b.msgBlock.Transactions {
		wrapped := NewTx(tx)
		wrapped.SetIndex(i)
		b.txns[i] = wrapped
	}
	return b.txns
}

// Tx returns the transaction at txIndex, wrapping and caching it first if
// necessary.
func (b *Block) Tx(txIndex int) (*Tx, error) {
	txns := b.Transactions()
	if txIndex < 0 || txIndex >= len(txns) {
		return nil, fmt.Errorf("transaction index %d is out of range - max %d", txIndex, len(txns)-1)
	}
	return txns[txIndex], nil
}
