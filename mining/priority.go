// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/wire"
)

// MinHighPriority is the minimum priority value that allows a transaction to
// be considered high priority, using the minimum output amount as defined in
// the chain consensus rules times a block age of one (decay to zero as the
// transaction approaches the present).
const MinHighPriority = btcutil.SatoshiPerBitcoin * 144.0 / 250

// UnminedHeight is the height used for the "block" height field of the
// contextual transaction information provided in a transaction view.
const UnminedHeight = 0x7fffffff

// calcInputValueAge is the total input age for a single input: its value
// (in satoshi) times its confirmation age in blocks relative to
// nextBlockHeight. Unconfirmed inputs (height unknown to the view) don't
// contribute.
func calcInputValueAge(entry *blockchain.UtxoEntry, nextBlockHeight int32) float64 {
	if entry == nil || entry.IsSpent() {
		return 0
	}

	originHeight := entry.BlockHeight()
	inputAge := nextBlockHeight - originHeight
	if inputAge < 0 {
		inputAge = 0
	}

	return float64(entry.Amount()) * float64(inputAge)
}

// CalcPriority returns a transaction's priority given a utxo view resolving
// its inputs and the height of the block it would be mined into. Coinbase
// transactions, which have no real inputs, always have zero priority.
//
// The priority of a transaction is defined as the sum over its inputs of
// (value in satoshi * input age in blocks), divided by the transaction's
// virtual size in bytes -- it rewards spending old, valuable outputs in a
// small transaction, the traditional free-relay heuristic predating
// widespread fee-rate-based relay policy.
func CalcPriority(tx *wire.MsgTx, utxoView *blockchain.UtxoViewpoint, nextBlockHeight int32) float64 {
	if blockchain.IsCoinBaseTx(tx) {
		return 0
	}

	var totalInputAge float64
	for _, txIn := range tx.TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		totalInputAge += calcInputValueAge(entry, nextBlockHeight)
	}

	txSize := GetTxVirtualSize(btcutil.NewTx(tx))
	if txSize == 0 {
		return 0
	}

	return totalInputAge / float64(txSize)
}

// GetTxVirtualSize computes the virtual size of a transaction: its weight,
// as defined by BIP141, divided by the witness scale factor and rounded up.
func GetTxVirtualSize(tx *btcutil.Tx) int64 {
	weight := blockchain.GetTransactionWeight(tx)

	return (weight + (blockchain.WitnessScaleFactor - 1)) /
		blockchain.WitnessScaleFactor
}
