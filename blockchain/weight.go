// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/txscript"
)

const (
	// WitnessScaleFactor determines the level of "discount" witness data
	// receives compared to "base" data, per BIP141: a full block is
	// limited to MaxBlockWeight weight units rather than a raw byte size,
	// and non-witness bytes count WitnessScaleFactor times as much as
	// witness bytes towards that limit.
	WitnessScaleFactor = 4

	// MaxBlockWeight is the maximum weight units a block may have,
	// sibling limit on raw
	// block contents.
	MaxBlockWeight = 4000000

	// MaxBlockSigOpsCost is the maximum weighted signature operation
	// cost a block may have, following BIP141's 4x weighting of
	// legacy/P2SH sigops relative to witness-program ones.
	MaxBlockSigOpsCost = 80000
)

// GetTransactionWeight computes the value of the weight metric for a
// transaction: (stripped_size * (WitnessScaleFactor - 1)) + total_size,
// where stripped_size excludes the witness marker, flag, and stack data.
func GetTransactionWeight(tx *btcutil.Tx) int64 {
	msgTx := tx.MsgTx()

	var strippedBuf bytes.Buffer
	_ = msgTx.SerializeNoWitness(&strippedBuf)
	strippedSize := strippedBuf.Len()

	totalSize := msgTx.SerializeSize()

	return int64((strippedSize * (WitnessScaleFactor - 1)) + totalSize)
}

// GetBlockWeight computes the weight metric for a whole block, the sum of
// its transactions' weights plus the header and transaction-count
// overhead, weighted the same way GetTransactionWeight weights one
// transaction.
func GetBlockWeight(blk *btcutil.Block) int64 {
	msgBlock := blk.MsgBlock()

	var baseBuf bytes.Buffer
	_ = msgBlock.SerializeNoWitness(&baseBuf)
	baseSize := baseBuf.Len()

	totalSize := msgBlock.SerializeSize()

	return int64((baseSize * (WitnessScaleFactor - 1)) + totalSize)
}

// CountSigOps returns the legacy (non-precise) signature operation count for
// all transaction inputs and outputs, without accounting for P2SH's
// indirection into the redeem script -- used as the coarse budget check
// during block template assembly, where the precise count that requires
// resolving each input's previous output is not worth the UTXO lookups.
func CountSigOps(tx *btcutil.Tx) int {
	msgTx := tx.MsgTx()

	totalSigOps := 0
	for _, txIn := range msgTx.TxIn {
		totalSigOps += txscript.GetSigOpCount(txIn.SignatureScript)
	}
	for _, txOut := range msgTx.TxOut {
		totalSigOps += txscript.GetSigOpCount(txOut.PkScript)
	}

	return totalSigOps
}
