// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"time"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/mining"
	"github.com/btcnode/node/txscript"
	"github.com/btcnode/node/wire"
)

const (
	// maxStandardTxWeight is the maximum weight, in weight units, a
	// transaction may have to be considered standard and relayed by
	// default.
	maxStandardTxWeight = 400000

	// maxStandardSigScriptSize is the maximum size, in bytes, allowed
	// for a transaction input's signature script to be considered
	// standard.
	maxStandardSigScriptSize = 1650

	// DefaultMinRelayTxFee is the default minimum relay fee, in satoshi
	// per 1000 bytes.
	DefaultMinRelayTxFee = btcutil.Amount(1000)

	// maxStandardMultiSigKeys is the maximum number of public keys
	// allowed in a bare multi-signature transaction output to be
	// considered standard.
	maxStandardMultiSigKeys = 3

	// maxStandardP2SHSigOps is the maximum number of signature
	// operations a P2SH redeem script may contain for the spending
	// transaction to be considered standard.
	maxStandardP2SHSigOps = 15

	// maxNullDataOutputs is the maximum number of OP_RETURN (null data)
	// outputs allowed in a single standard transaction.
	maxNullDataOutputs = 1
)

// GetTxMinimumPriority is the minimum amount of transaction priority in
// order for a transaction to be considered free for relay purposes.
func GetTxMinimumPriority() float64 {
	return mining.MinHighPriority
}

// GetTxVirtualSize computes the virtual size of a transaction: its BIP141
// weight divided by the witness scale factor and rounded up, the unit the
// mempool's size limits and fee rates are expressed in.
func GetTxVirtualSize(tx *btcutil.Tx) int64 {
	weight := blockchain.GetTransactionWeight(tx)

	return (weight + (blockchain.WitnessScaleFactor - 1)) /
		blockchain.WitnessScaleFactor
}

// calcMinRequiredTxRelayFee returns the minimum transaction fee required
// for a transaction with the passed serialized size to be accepted into
// the mempool and relayed, given the passed minimum fee rate in satoshi
// per 1000 bytes.
func calcMinRequiredTxRelayFee(serializedSize int64, minRelayTxFee btcutil.Amount) int64 {
	minFee := (serializedSize * int64(minRelayTxFee)) / 1000

	if minFee == 0 && minRelayTxFee > 0 {
		minFee = int64(minRelayTxFee)
	}

	if minFee < 0 || minFee > btcutil.MaxSatoshi {
		minFee = btcutil.MaxSatoshi
	}

	return minFee
}

// getDustReserve returns the number of bytes added on top of the raw
// output size when determining whether an output is uneconomical to
// spend, approximating the cost of including it in a future spending
// transaction (a P2PKH-shaped input plus its share of the output itself).
func getDustReserve(pkScript []byte) int64 {
	totalSize := 8 + wire.VarIntSerializeSize(uint64(len(pkScript))) +
		len(pkScript)

	if txscript.IsWitnessProgram(pkScript) {
		totalSize += (107 / blockchain.WitnessScaleFactor)
	} else {
		totalSize += 148
	}

	return int64(totalSize)
}

// isDust returns whether or not the passed transaction output amount is
// considered dust or not based on the passed minimum transaction relay fee.
// Dust is defined in terms of the minimum transaction relay fee. In
// particular, if the cost to the network to spend coins is more than 1/3 of
// the minimum transaction relay fee, it is considered dust.
func isDust(txOut *wire.TxOut, minRelayTxFee btcutil.Amount) bool {
	// Unspendable outputs are considered dust.
	if txscript.IsUnspendable(txOut.Value, txOut.PkScript) {
		return true
	}

	totalSize := getDustReserve(txOut.PkScript)

	// Dust is defined in terms of a minimum satoshis per 1000-byte
	// threshold; note that a zero minRelayTxFee disables this check.
	if minRelayTxFee == 0 {
		return false
	}

	return txOut.Value*1000/(3*totalSize) < int64(minRelayTxFee)
}

// checkPkScriptStandard performs a series of checks on a transaction output
// script (public key script) to ensure it is a "standard" public key script.
func checkPkScriptStandard(pkScript []byte, scriptClass txscript.ScriptClass) error {
	switch scriptClass {
	case txscript.MultiSigTy:
		if txscript.IsMultisigScript(pkScript) &&
			len(pkScript) > maxStandardMultiSigKeys*34+4 {
			str := "transaction output pays to a multi-sig " +
				"script exceeding the standard key count"
			return txRuleError(wire.RejectNonstandard, str)
		}

	case txscript.NonStandardTy:
		return txRuleError(wire.RejectNonstandard,
			"transaction output script is not one of the "+
				"recognized standard forms")
	}

	return nil
}

// checkInputsStandard performs a series of checks on a transaction's inputs
// to ensure they are "standard".  A standard transaction input is one whose
// backing output, when relevant (P2SH), does not exceed the allowed sigop
// budget.
func checkInputsStandard(tx *btcutil.Tx, utxoView *blockchain.UtxoViewpoint) error {
	for i, txIn := range tx.MsgTx().TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if entry == nil || entry.IsSpent() {
			str := fmt.Sprintf("output %v referenced from "+
				"transaction %s:%d either does not exist or "+
				"has already been spent", txIn.PreviousOutPoint,
				tx.Hash(), i)
			return txRuleError(wire.RejectNonstandard, str)
		}

		originPkScript := entry.PkScript()
		switch txscript.GetScriptClass(originPkScript) {
		case txscript.ScriptHashTy:
			numSigOps := txscript.GetPreciseSigOpCount(
				txIn.SignatureScript, originPkScript, true)
			if numSigOps > maxStandardP2SHSigOps {
				str := fmt.Sprintf("transaction input #%d "+
					"spends a pay-to-script-hash script "+
					"with %d signature operations which "+
					"is more than the allowed max amount "+
					"of %d", i, numSigOps,
					maxStandardP2SHSigOps)
				return txRuleError(wire.RejectNonstandard, str)
			}

		case txscript.NonStandardTy:
			str := fmt.Sprintf("transaction input #%d references "+
				"a non-standard script", i)
			return txRuleError(wire.RejectNonstandard, str)
		}
	}

	return nil
}

// CheckTransactionStandard performs a series of checks on a transaction to
// ensure it is a "standard" transaction, one that conforms to a stricter
// set of requirements than the minimum consensus requirements enforced by
// block validation -- non-standard transactions are accepted by consensus
// but not relayed or mined by default.
func CheckTransactionStandard(tx *btcutil.Tx, height int32,
	medianTimePast time.Time, minRelayTxFee btcutil.Amount,
	maxTxVersion int32) error {

	msgTx := tx.MsgTx()

	if msgTx.Version > maxTxVersion || msgTx.Version < 1 {
		str := fmt.Sprintf("transaction version %d is not in the "+
			"valid range of %d-%d", msgTx.Version, 1, maxTxVersion)
		return txRuleError(wire.RejectNonstandard, str)
	}

	if !blockchain.IsFinalizedTransaction(tx, height, medianTimePast) {
		return txRuleError(wire.RejectNonstandard,
			"transaction is not finalized")
	}

	txWeight := blockchain.GetTransactionWeight(tx)
	if txWeight > maxStandardTxWeight {
		str := fmt.Sprintf("transaction weight of %v is larger than "+
			"max allowed weight of %v", txWeight, maxStandardTxWeight)
		return txRuleError(wire.RejectNonstandard, str)
	}

	for i, txIn := range msgTx.TxIn {
		if len(txIn.SignatureScript) > maxStandardSigScriptSize {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script size of %d bytes is larger than the "+
				"max allowed size of %d bytes", i,
				len(txIn.SignatureScript), maxStandardSigScriptSize)
			return txRuleError(wire.RejectNonstandard, str)
		}

		if !txscript.IsPushOnlyScript(txIn.SignatureScript) {
			str := fmt.Sprintf("transaction input %d: signature "+
				"script is not push only", i)
			return txRuleError(wire.RejectNonstandard, str)
		}
	}

	numNullDataOutputs := 0
	for i, txOut := range msgTx.TxOut {
		scriptClass := txscript.GetScriptClass(txOut.PkScript)
		err := checkPkScriptStandard(txOut.PkScript, scriptClass)
		if err != nil {
			if rerr, ok := err.(RuleError); ok {
				rerr.Description = fmt.Sprintf(
					"transaction output %d: %s", i,
					rerr.Description)
				return rerr
			}
			return err
		}

		if scriptClass == txscript.NullDataTy {
			numNullDataOutputs++
		} else if isDust(txOut, minRelayTxFee) {
			str := fmt.Sprintf("transaction output %d: payment "+
				"of %d is dust", i, txOut.Value)
			return txRuleError(wire.RejectDust, str)
		}
	}

	if numNullDataOutputs > maxNullDataOutputs {
		str := "more than one transaction output in a nulldata script"
		return txRuleError(wire.RejectNonstandard, str)
	}

	return nil
}
