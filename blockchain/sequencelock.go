// Copyright (c) 2016-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"strconv"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/wire"
)

// SequenceLock represents the converted relative lock-time in seconds, and
// absolute block-height for a transaction input's relative lock-times.
// According to SequenceLock, after the referenced input has been confirmed
// within a block, a transaction spending that input can be included into a
// block either after 'seconds' (according to past median time), or once the
// 'BlockHeight' has been reached.
type SequenceLock struct {
	Seconds     int64
	BlockHeight int32
}

// CalcSequenceLock computes a relative lock-time SequenceLock for the passed
// transaction using the sequence locks for all of its referenced inputs,
// implementing BIP68/112's sequence-based relative locktime rule applied
// as a final-tx context check.
//
// This function is safe for concurrent access.
func (b *BlockChain) CalcSequenceLock(tx *btcutil.Tx, utxoView *UtxoViewpoint, mempool bool) (*SequenceLock, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	return b.calcSequenceLock(b.bestChain.Tip(), tx, utxoView, mempool)
}

// calcSequenceLock computes the relative lock-times for the passed
// transaction.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) calcSequenceLock(node *blockNode, tx *btcutil.Tx, utxoView *UtxoViewpoint, mempool bool) (*SequenceLock, error) {
	sequenceLock := &SequenceLock{Seconds: -1, BlockHeight: -1}

	msgTx := tx.MsgTx()
	sequenceLockActive := msgTx.Version >= 2
	if !sequenceLockActive {
		return sequenceLock, nil
	}

	for txInIndex, txIn := range msgTx.TxIn {
		if txIn.Sequence&wire.SequenceLockTimeDisabled != 0 {
			continue
		}

		prevOut := txIn.PreviousOutPoint
		utxo := utxoView.LookupEntry(prevOut)
		if utxo == nil {
			str := "output " + prevOut.String() + " referenced from " +
				"transaction " + tx.Hash().String() + " input " +
				strconv.Itoa(txInIndex) + " either does not exist or " +
				"has already been spent"
			return sequenceLock, ruleError(ErrMissingTxOut, str)
		}

		inputHeight := utxo.BlockHeight()
		if inputHeight == 0x7fffffff {
			inputHeight = node.height + 1
		}

		if txIn.Sequence&wire.SequenceLockTimeIsSeconds != 0 {
			prevInputHeight := inputHeight - 1
			if prevInputHeight < 0 {
				prevInputHeight = 0
			}
			ancestor := node.Ancestor(prevInputHeight)

			var medianTime int64
			if ancestor != nil {
				medianTime = ancestor.CalcPastMedianTime().Unix()
			}

			timeLockSeconds := (int64(txIn.Sequence&wire.SequenceLockTimeMask) <<
				wire.SequenceLockTimeGranularity) - 1
			timeLock := medianTime + timeLockSeconds
			if timeLock > sequenceLock.Seconds {
				sequenceLock.Seconds = timeLock
			}
		} else {
			blockHeight := inputHeight + int32(txIn.Sequence&wire.SequenceLockTimeMask) - 1
			if blockHeight > sequenceLock.BlockHeight {
				sequenceLock.BlockHeight = blockHeight
			}
		}
	}

	return sequenceLock, nil
}

// LockTimeToSequence converts the passed relative locktime to a sequence
// number, setting the relevant bits for the sequence number to indicate a
// relative locktime and, if the seconds flag is set, that the seconds
// interpretation of the sequence number should be used.
func LockTimeToSequence(isSeconds bool, locktime uint32) uint32 {
	if !isSeconds {
		return locktime
	}

	return wire.SequenceLockTimeIsSeconds |
		(locktime << wire.SequenceLockTimeGranularity)
}

