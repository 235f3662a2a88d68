// Copyright (c) 2016-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/txscript"
)

// GetSigOpCost returns the unified sig op cost for the passed transaction
// respecting current active soft-forks which modified sig op cost counting.
// The unified sig op cost for a transaction is computed as the sum of:
// the legacy sig op count scaled according to the WitnessScaleFactor, the
// sig op count for all p2sh inputs scaled by the WitnessScaleFactor, and
// the unscaled sig op count for any inputs spending witness programs.
func GetSigOpCost(tx *btcutil.Tx, isCoinBaseTx bool, utxoView *UtxoViewpoint, bip16, segwitActive bool) (int, error) {
	numSigOps := CountSigOps(tx) * WitnessScaleFactor
	if isCoinBaseTx {
		return numSigOps, nil
	}

	msgTx := tx.MsgTx()
	for txInIndex, txIn := range msgTx.TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if entry == nil || entry.IsSpent() {
			str := "output referenced by input missing or spent"
			return 0, ruleError(ErrMissingTxOut, str)
		}

		pkScript := entry.PkScript()
		if bip16 && txscript.IsPayToScriptHash(pkScript) {
			numP2SHSigOps := txscript.GetPreciseSigOpCount(
				txIn.SignatureScript, pkScript, bip16,
			)
			numSigOps += numP2SHSigOps * WitnessScaleFactor
		}

		if segwitActive {
			numSigOps += txscript.GetWitnessSigOpCount(
				txIn.SignatureScript, pkScript, msgTx.TxIn[txInIndex].Witness,
			)
		}
	}

	return numSigOps, nil
}

// ValidateTransactionScripts validates the scripts for the passed transaction
// using the passed signature cache, using the same worker-pool strategy
// checkConnectBlock uses for an entire block's inputs, applied here to a
// single standalone transaction -- the entry point mempool acceptance uses
// to verify a transaction's scripts before admitting it.
func ValidateTransactionScripts(tx *btcutil.Tx, utxoView *UtxoViewpoint, flags txscript.ScriptFlags, sigCache *txscript.SigCache, hashCache *txscript.HashCache) error {
	msgTx := tx.MsgTx()

	var tasks []scriptVerifyTask
	for txInIdx, txIn := range msgTx.TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if entry == nil || entry.IsSpent() {
			str := "unable to find unspent output referenced by input"
			return ruleError(ErrMissingTxOut, str)
		}

		tasks = append(tasks, scriptVerifyTask{
			tx:       msgTx,
			txIdx:    txInIdx,
			pkScript: entry.PkScript(),
			amount:   entry.Amount(),
		})
	}

	if len(tasks) == 0 {
		return nil
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	taskCh := make(chan scriptVerifyTask, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	var failed atomic.Bool
	var firstErr error
	var errMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if failed.Load() {
					continue
				}
				err := txscript.VerifyInput(
					t.tx, t.txIdx, t.pkScript, t.amount, flags,
					sigCache, nil, nil,
				)
				if err != nil {
					if failed.CompareAndSwap(false, true) {
						errMu.Lock()
						firstErr = ruleError(ErrScriptValidation, err.Error())
						errMu.Unlock()
					}
				}
			}
		}()
	}
	wg.Wait()

	if failed.Load() {
		return firstErr
	}
	return nil
}
