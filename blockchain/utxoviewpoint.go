// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/wire"
)

// UtxoViewpoint represents a view into the set of unspent transaction
// outputs from a specific point of view in the chain. For example, it could
// be for the end of the main chain, some point in the history of the main
// chain, or down a side chain while validating a candidate block -- the
// UTXO view the context checks and the pure script-check
// contract both take as an input parameter.
type UtxoViewpoint struct {
	entries  map[wire.OutPoint]*UtxoEntry
	bestHash chainhash.Hash
}

// Entries returns the underlying map that stores of all the utxo entries.
func (view *UtxoViewpoint) Entries() map[wire.OutPoint]*UtxoEntry {
	return view.entries
}

// LookupEntry returns information about a given transaction output according
// to the current state of the view. It will return nil if the passed output
// does not exist in the view or is otherwise not available such as when it
// has already been spent.
func (view *UtxoViewpoint) LookupEntry(outpoint wire.OutPoint) *UtxoEntry {
	return view.entries[outpoint]
}

// addTxOut adds the specified output to the view if it is not provably
// unspendable. When the view already has an entry for the output, it will be
// marked unspent. All fields will be updated for existing entries since it's
// possible it has changed during a reorg.
func (view *UtxoViewpoint) addTxOut(outpoint wire.OutPoint, txOut *wire.TxOut, isCoinBase bool, blockHeight int32) {
	if txscriptIsUnspendable(txOut.Value, txOut.PkScript) {
		return
	}

	entry := view.LookupEntry(outpoint)
	if entry == nil {
		entry = new(UtxoEntry)
		view.entries[outpoint] = entry
	}

	entry.amount = txOut.Value
	entry.pkScript = txOut.PkScript
	entry.blockHeight = blockHeight
	entry.packedFlags = tfModified

	if isCoinBase {
		entry.packedFlags |= tfCoinBase
	}
}

// AddTxOut adds the specified output of the passed transaction to the view
// if it exists and is not provably unspendable. This is typically used in
// the case of constructing a new transaction in order to add it to the
// view as if it were a new block's transaction.
func (view *UtxoViewpoint) AddTxOut(tx *btcutil.Tx, txOutIdx uint32, blockHeight int32) {
	if txOutIdx >= uint32(len(tx.MsgTx().TxOut)) {
		return
	}

	prevOut := wire.OutPoint{Hash: *tx.Hash(), Index: txOutIdx}
	txOut := tx.MsgTx().TxOut[txOutIdx]
	view.addTxOut(prevOut, txOut, IsCoinBaseTx(tx.MsgTx()), blockHeight)
}

// AddTxOuts adds all outputs in the passed transaction which are not
// provably unspendable to the view, marking the referenced coinbase-ness
// and confirming height so later spends can enforce maturity.
func (view *UtxoViewpoint) AddTxOuts(tx *btcutil.Tx, blockHeight int32) {
	isCoinBase := IsCoinBaseTx(tx.MsgTx())
	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx, txOut := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		view.addTxOut(prevOut, txOut, isCoinBase, blockHeight)
	}
}

// connectTransaction updates the view by adding all new utxos created by the
// passed transaction and marking all utxos that the transactions spend as
// spent. In addition, when the 'stxos' argument is not nil, it will be
// updated to append an entry for each spent txout. An error will be
// returned if the view does not contain the required utxos.
func (view *UtxoViewpoint) connectTransaction(tx *btcutil.Tx, blockHeight int32, stxos *[]SpentTxOut) error {
	if IsCoinBaseTx(tx.MsgTx()) {
		view.AddTxOuts(tx, blockHeight)
		return nil
	}

	for _, txIn := range tx.MsgTx().TxIn {
		entry := view.entries[txIn.PreviousOutPoint]
		if entry == nil {
			return AssertError("view missing input " +
				txIn.PreviousOutPoint.String())
		}

		if stxos != nil {
			*stxos = append(*stxos, SpentTxOut{
				Amount:     entry.Amount(),
				PkScript:   entry.PkScript(),
				Height:     entry.BlockHeight(),
				IsCoinBase: entry.IsCoinBase(),
			})
		}

		entry.Spend()
	}

	view.AddTxOuts(tx, blockHeight)
	return nil
}

// connectTransactions updates the view by adding all new utxos created by
// all of the transactions in the passed block, and marking all utxos the
// transactions spend as spent, tracking undo data for every spend when
// stxos is non-nil.
func (view *UtxoViewpoint) connectTransactions(block *btcutil.Block, stxos *[]SpentTxOut) error {
	for _, tx := range block.Transactions() {
		err := view.connectTransaction(tx, block.Height(), stxos)
		if err != nil {
			return err
		}
	}

	view.SetBestHash(block.Hash())
	return nil
}

// disconnectTransactions updates the view by removing all of the transactions
// created by the passed block, restoring all utxos the transactions spent by
// using the provided spent txo information, and setting the best hash for
// the view to the block before the passed block. This is the undo-log
// replay half of a reorg.
func (view *UtxoViewpoint) disconnectTransactions(block *btcutil.Block, stxos []SpentTxOut) error {
	if len(stxos) != countSpentOutputs(block) {
		return AssertError("disconnectTransactions called with bad " +
			"spent transaction out information")
	}

	stxoIdx := len(stxos) - 1
	transactions := block.Transactions()
	for txIdx := len(transactions) - 1; txIdx > -1; txIdx-- {
		tx := transactions[txIdx]
		isCoinBase := txIdx == 0

		// Mark every output the block created as spent so committing the
		// view removes it from the set; the entry is materialized first
		// when the view has not otherwise touched it.
		for txOutIdx, txOut := range tx.MsgTx().TxOut {
			prevOut := wire.OutPoint{
				Hash:  *tx.Hash(),
				Index: uint32(txOutIdx),
			}
			entry := view.entries[prevOut]
			if entry == nil {
				entry = &UtxoEntry{
					amount:      txOut.Value,
					pkScript:    txOut.PkScript,
					blockHeight: block.Height(),
					packedFlags: tfModified,
				}
				if isCoinBase {
					entry.packedFlags |= tfCoinBase
				}
				view.entries[prevOut] = entry
			}
			entry.Spend()
		}

		// The coinbase has no previous outputs to restore.
		if isCoinBase {
			continue
		}

		for txInIdx := len(tx.MsgTx().TxIn) - 1; txInIdx > -1; txInIdx-- {
			stxo := &stxos[stxoIdx]
			stxoIdx--

			originIn := tx.MsgTx().TxIn[txInIdx]
			entry := view.entries[originIn.PreviousOutPoint]
			if entry == nil {
				entry = new(UtxoEntry)
				view.entries[originIn.PreviousOutPoint] = entry
			}

			entry.amount = stxo.Amount
			entry.pkScript = stxo.PkScript
			entry.blockHeight = stxo.Height
			entry.packedFlags = tfModified
			if stxo.IsCoinBase {
				entry.packedFlags |= tfCoinBase
			}
		}
	}

	view.SetBestHash(&block.MsgBlock().Header.PrevBlock)
	return nil
}

// countSpentOutputs returns the number of utxos the passed block spends.
func countSpentOutputs(block *btcutil.Block) int {
	var numSpent int
	for _, tx := range block.Transactions()[1:] {
		numSpent += len(tx.MsgTx().TxIn)
	}
	return numSpent
}

// SetBestHash sets the hash of the best block in the chain the view
// currently respresents.
func (view *UtxoViewpoint) SetBestHash(hash *chainhash.Hash) {
	view.bestHash = *hash
}

// BestHash returns the hash of the best block in the chain the view
// currently respresents.
func (view *UtxoViewpoint) BestHash() *chainhash.Hash {
	return &view.bestHash
}

// clone returns a deep copy of the view.
func (view *UtxoViewpoint) clone() *UtxoViewpoint {
	clonedView := &UtxoViewpoint{
		entries:  make(map[wire.OutPoint]*UtxoEntry, len(view.entries)),
		bestHash: view.bestHash,
	}

	for outpoint, entry := range view.entries {
		clonedView.entries[outpoint] = entry.Clone()
	}

	return clonedView
}

// NewUtxoViewpoint returns a new empty unspent transaction output view.
func NewUtxoViewpoint() *UtxoViewpoint {
	return &UtxoViewpoint{
		entries: make(map[wire.OutPoint]*UtxoEntry),
	}
}

// txscriptIsUnspendable reports whether pkScript can never be redeemed,
// e.g. a bare OP_RETURN data-carrier output, so such outputs never need to
// take up room in the UTXO set.
func txscriptIsUnspendable(amount int64, pkScript []byte) bool {
	return len(pkScript) > 0 && pkScript[0] == 0x6a // OP_RETURN
}
