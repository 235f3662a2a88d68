// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/mining"
	"github.com/btcnode/node/wire"
)

// feeTestTx returns a minimal unique transaction whose txid differs per
// nonce.
func feeTestTx(nonce uint32) *btcutil.Tx {
	msgTx := wire.NewMsgTx(1)
	msgTx.TxIn = append(msgTx.TxIn, &wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: nonce},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	msgTx.TxOut = append(msgTx.TxOut, &wire.TxOut{
		Value:    int64(10000 + nonce),
		PkScript: []byte{0x51},
	})
	return btcutil.NewTx(msgTx)
}

func observe(ef *FeeEstimator, tx *btcutil.Tx, fee int64, height int32) {
	ef.ObserveTransaction(&TxDesc{
		TxDesc: mining.TxDesc{
			Tx:     tx,
			Height: height,
			Fee:    fee,
		},
	})
}

// TestEstimateFeeNoData ensures the estimator refuses to answer before it
// has seen enough blocks, and rejects out-of-range targets outright.
func TestEstimateFeeNoData(t *testing.T) {
	ef := NewFeeEstimator()

	if _, err := ef.EstimateFee(1); err != ErrNoFeeData {
		t.Fatalf("expected ErrNoFeeData, got %v", err)
	}
	if _, err := ef.EstimateFee(0); err != ErrInvalidConfirmations {
		t.Fatalf("expected ErrInvalidConfirmations for target 0, got %v", err)
	}
	if _, err := ef.EstimateFee(estimateFeeDepth + 1); err != ErrInvalidConfirmations {
		t.Fatalf("expected ErrInvalidConfirmations for oversized target, got %v", err)
	}
}

// TestEstimateFeeTracksObservations feeds the estimator transactions that
// confirm in their next block at a known fee rate and checks the estimate
// is at least the default minimum relay fee, and that a wider target never
// estimates higher than a tighter one.
func TestEstimateFeeTracksObservations(t *testing.T) {
	ef := NewFeeEstimator()

	nonce := uint32(0)
	for height := int32(1); height <= 5; height++ {
		var mined []chainhash.Hash
		for i := 0; i < 10; i++ {
			tx := feeTestTx(nonce)
			nonce++
			// Roughly 50 sat/vB on a ~60 vB transaction.
			observe(ef, tx, 3000, height-1)
			mined = append(mined, *tx.Hash())
		}
		ef.ObserveBlock(height, mined)
	}

	tight, err := ef.EstimateFee(1)
	if err != nil {
		t.Fatalf("EstimateFee(1): %v", err)
	}
	if tight < DefaultMinRelayTxFee {
		t.Fatalf("estimate %v below relay floor %v", tight, DefaultMinRelayTxFee)
	}

	wide, err := ef.EstimateFee(10)
	if err != nil {
		t.Fatalf("EstimateFee(10): %v", err)
	}
	if wide > tight {
		t.Fatalf("wider target estimated higher: %v > %v", wide, tight)
	}
}

// TestEstimateFeeOrphanRemoval checks a transaction dropped from the
// mempool without confirming stops contributing observations.
func TestEstimateFeeOrphanRemoval(t *testing.T) {
	ef := NewFeeEstimator()

	tx := feeTestTx(1)
	observe(ef, tx, 5000, 1)
	ef.RemoveOrphanedTransaction(*tx.Hash())

	// Confirming the removed transaction later must not find it.
	ef.ObserveBlock(2, []chainhash.Hash{*tx.Hash()})
	ef.ObserveBlock(3, nil)
	ef.ObserveBlock(4, nil)

	if targets := ef.sortedConfirmTargets(); len(targets) != 0 {
		t.Fatalf("removed transaction still contributed observations: %v", targets)
	}
}
