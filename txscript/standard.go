// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	upstream "github.com/btcsuite/btcd/txscript"
)

// ScriptClass identifies the recognized shape of a locking script. Mempool
// standardness is defined in
// terms of this classification, delegated entirely to the upstream
// interpreter's own classifier rather than re-implemented locally.
type ScriptClass = upstream.ScriptClass

const (
	NonStandardTy        = upstream.NonStandardTy
	PubKeyTy             = upstream.PubKeyTy
	PubKeyHashTy         = upstream.PubKeyHashTy
	WitnessV0PubKeyHashTy = upstream.WitnessV0PubKeyHashTy
	ScriptHashTy         = upstream.ScriptHashTy
	WitnessV0ScriptHashTy = upstream.WitnessV0ScriptHashTy
	MultiSigTy           = upstream.MultiSigTy
	NullDataTy           = upstream.NullDataTy
	WitnessV1TaprootTy   = upstream.WitnessV1TaprootTy
	WitnessUnknownTy     = upstream.WitnessUnknownTy
)

// GetScriptClass classifies a locking script into one of the standard
// recognized forms.
func GetScriptClass(script []byte) ScriptClass {
	return upstream.GetScriptClass(script)
}

// IsUnspendable reports whether pkScript can never be satisfied by any
// unlocking script -- e.g. a bare OP_RETURN. Such outputs are pruned from
// the UTXO set eagerly rather than tracked as permanently-unspendable
// entries.
func IsUnspendable(amount int64, pkScript []byte) bool {
	return upstream.IsUnspendable(pkScript)
}

// IsPayToScriptHash reports whether script is a BIP16 P2SH locking script.
func IsPayToScriptHash(script []byte) bool {
	return upstream.IsPayToScriptHash(script)
}

// IsPayToWitnessScriptHash reports whether script is a BIP141 P2WSH
// locking script.
func IsPayToWitnessScriptHash(script []byte) bool {
	return upstream.IsPayToWitnessScriptHash(script)
}

// IsPayToTaproot reports whether script is a BIP341 P2TR locking script.
func IsPayToTaproot(script []byte) bool {
	return upstream.IsPayToTaproot(script)
}

// IsWitnessProgram reports whether script is any recognized segwit
// program (v0 through v16).
func IsWitnessProgram(script []byte) bool {
	return upstream.IsWitnessProgram(script)
}

// IsPushOnlyScript reports whether script only contains data pushes,
// required of every legacy signature script for mempool standardness.
func IsPushOnlyScript(script []byte) bool {
	return upstream.IsPushOnlyScript(script)
}

// IsMultisigScript reports whether script is a bare multisig locking
// script, for the mempool's bare multisig standardness checks; a script
// that fails to parse reports false.
func IsMultisigScript(script []byte) bool {
	isMultisig, _ := upstream.IsMultisigScript(script)
	return isMultisig
}

// GetSigOpCount returns the number of signature operations script could
// execute in the worst case -- used to enforce the per-block sigop budget.
func GetSigOpCount(script []byte) int {
	return upstream.GetSigOpCount(script)
}

// GetPreciseSigOpCount returns the exact number of signature operations a
// script will execute, given the matching signature script (and, for
// P2SH, the redeem script it reveals).
func GetPreciseSigOpCount(sigScript, pkScript []byte, bip16 bool) int {
	return upstream.GetPreciseSigOpCount(sigScript, pkScript, bip16)
}

// GetWitnessSigOpCount returns the number of witness-program signature
// operations for the given (sigScript, pkScript, witness) triple.
func GetWitnessSigOpCount(sigScript, pkScript []byte, witness [][]byte) int {
	return upstream.GetWitnessSigOpCount(sigScript, pkScript, witness)
}

// NullDataScript returns an OP_RETURN locking script carrying data; most
// script building in this module goes through the local addresses package
// instead.
func NullDataScript(data []byte) ([]byte, error) {
	return upstream.NullDataScript(data)
}

// CalcScriptInfo would normally compute the expected/actual signature
// counts needed to spend a pair of scripts; not used directly by chain
// validation (which asks GetPreciseSigOpCount et al. per-input instead), no
// local wrapper is provided -- callers needing it should reach for
// upstream's directly via the conversion helpers in internal/convert.
