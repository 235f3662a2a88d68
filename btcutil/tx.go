// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcutil provides convenience wrappers around the raw wire types:
// Tx caches a transaction's hash and its position within a block or mempool
// slot, Block caches a decoded MsgBlock alongside its height and serialized
// bytes, and Amount gives satoshi quantities a named type.
package btcutil

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/wire"
)

// TxIndexUnknown is the value returned for a transaction's index within a
// block or mempool slot when it has not yet been set.
const TxIndexUnknown = -1

// Tx wraps a wire.MsgTx, memoizing its hash and witness hash so repeated
// validation and relay logic need not recompute SHA256d over the full
// transaction.
type Tx struct {
	msgTx         *wire.MsgTx
	txHash        *chainhash.Hash
	txHashWitness *chainhash.Hash
	txHasWitness  *bool
	txIndex       int
}

// NewTx returns a new Tx instance wrapping msgTx.
func NewTx(msgTx *wire.MsgTx) *Tx {
	return &Tx{msgTx: msgTx, txIndex: TxIndexUnknown}
}

// NewTxDeepTxIns returns a new Tx instance, making a deep copy of msgTx's
// transaction inputs so callers that mutate the original MsgTx don't alias
// this Tx's view of it.
func NewTxDeepTxIns(msgTx *wire.MsgTx) *Tx {
	return NewTx(msgTx.Copy())
}

// MsgTx returns the underlying wire.MsgTx.
func (t *Tx) MsgTx() *wire.MsgTx { return t.msgTx }

// Hash returns the txid, computing and caching it if necessary.
func (t *Tx) Hash() *chainhash.Hash {
	if t.txHash != nil {
		return t.txHash
	}
	h := t.msgTx.TxHash()
	t.txHash = &h
	return t.txHash
}

// WitnessHash returns the wtxid, computing and caching it if necessary.
func (t *Tx) WitnessHash() *chainhash.Hash {
	if t.txHashWitness != nil {
		return t.txHashWitness
	}
	h := t.msgTx.WitnessHash()
	t.txHashWitness = &h
	return t.txHashWitness
}

// HasWitness reports whether any input carries witness data.
func (t *Tx) HasWitness() bool {
	if t.txHasWitness != nil {
		return *t.txHasWitness
	}
	has := t.msgTx.HasWitness()
	t.txHasWitness = &has
	return has
}

// Index returns this transaction's position within its containing block or
// mempool slot, or TxIndexUnknown if it has not been set.
func (t *Tx) Index() int { return t.txIndex }

// SetIndex sets this transaction's position within its containing block.
func (t *Tx) SetIndex(index int) { t.txIndex = index }
