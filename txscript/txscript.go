// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txscript adapts this module's locally-owned wire types to the
// real upstream Bitcoin script interpreter, github.com/btcsuite/btcd/txscript.
// The interpreter evaluates an (unlocking, locking, flags, tx, input
// index, amount) tuple and returns pass/fail; rather than reimplementing
// ~10,000 lines of opcode interpretation by hand, this package wires the
// real engine in directly, converting through
// internal/convert at the one seam where a local wire.MsgTx must become an
// upstream one (and back).
package txscript

import (
	btcwire "github.com/btcsuite/btcd/wire"

	upstream "github.com/btcsuite/btcd/txscript"

	"github.com/btcnode/node/internal/convert"
	"github.com/btcnode/node/wire"
)

// ScriptFlags mirrors upstream's bitmask of which consensus/policy rules a
// script verification pass enforces.
type ScriptFlags = upstream.ScriptFlags

// Re-exported verification flags. Keeping these as local aliases (rather
// than requiring every caller to import the upstream package directly)
// keeps the rest of this module's code talking only to
// github.com/btcnode/node/txscript, consistent with every other primitive.
const (
	ScriptBip16                           = upstream.ScriptBip16
	ScriptStrictMultiSig                  = upstream.ScriptStrictMultiSig
	ScriptDiscourageUpgradableNops        = upstream.ScriptDiscourageUpgradableNops
	ScriptVerifyCheckLockTimeVerify       = upstream.ScriptVerifyCheckLockTimeVerify
	ScriptVerifyCheckSequenceVerify       = upstream.ScriptVerifyCheckSequenceVerify
	ScriptVerifyCleanStack                = upstream.ScriptVerifyCleanStack
	ScriptVerifyDERSignatures             = upstream.ScriptVerifyDERSignatures
	ScriptVerifyLowS                      = upstream.ScriptVerifyLowS
	ScriptVerifyMinimalData               = upstream.ScriptVerifyMinimalData
	ScriptVerifyNullFail                  = upstream.ScriptVerifyNullFail
	ScriptVerifySigPushOnly               = upstream.ScriptVerifySigPushOnly
	ScriptVerifyStrictEncoding            = upstream.ScriptVerifyStrictEncoding
	ScriptVerifyWitness                   = upstream.ScriptVerifyWitness
	ScriptVerifyDiscourageUpgradeableWitnessProgram = upstream.ScriptVerifyDiscourageUpgradeableWitnessProgram
	ScriptVerifyMinimalIf                 = upstream.ScriptVerifyMinimalIf
	ScriptVerifyWitnessPubKeyType         = upstream.ScriptVerifyWitnessPubKeyType
	ScriptVerifyTaproot                   = upstream.ScriptVerifyTaproot
)

// StandardVerifyFlags is the flag set applied to transactions accepted into
// the mempool: every soft-fork rule
// ever activated on mainnet, applied unconditionally, plus the policy-only
// flags that tighten acceptance beyond bare consensus.
const StandardVerifyFlags = ScriptBip16 |
	ScriptVerifyDERSignatures |
	ScriptVerifyStrictEncoding |
	ScriptVerifyMinimalData |
	ScriptStrictMultiSig |
	ScriptDiscourageUpgradableNops |
	ScriptVerifyCleanStack |
	ScriptVerifyCheckLockTimeVerify |
	ScriptVerifyCheckSequenceVerify |
	ScriptVerifyLowS |
	ScriptVerifyNullFail |
	ScriptVerifySigPushOnly |
	ScriptVerifyWitness |
	ScriptVerifyDiscourageUpgradeableWitnessProgram |
	ScriptVerifyMinimalIf |
	ScriptVerifyWitnessPubKeyType |
	ScriptVerifyTaproot

// MandatoryScriptVerifyFlags is the minimal flag set every relayed
// transaction must validate with regardless of local policy; block
// validation derives its per-height set from deployment state instead.
const MandatoryScriptVerifyFlags = ScriptBip16 |
	ScriptVerifyDERSignatures |
	ScriptStrictMultiSig |
	ScriptDiscourageUpgradableNops

// Bip16Activation is the timestamp at which BIP16 (pay-to-script-hash)
// rules became active; blocks timestamped earlier are validated without
// ScriptBip16.
var Bip16Activation = upstream.Bip16Activation

// SigCache caches the result of expensive signature verifications across
// calls, keyed by signature hash.
type SigCache = upstream.SigCache

// NewSigCache returns a SigCache able to hold up to maxEntries verified
// signatures.
func NewSigCache(maxEntries uint) *SigCache {
	return upstream.NewSigCache(maxEntries)
}

// HashCache memoizes the BIP143/BIP341 sighash midstate shared by every
// input of a transaction, avoiding quadratic hashing for transactions with
// many inputs.
type HashCache = upstream.HashCache

// NewHashCache returns an empty HashCache with the given capacity hint.
func NewHashCache(maxEntries uint) *HashCache {
	return upstream.NewHashCache(maxEntries)
}

// TxSigHashes is the set of BIP143/BIP341 sighash midstate values computed
// once per transaction and shared by every input's Engine.
type TxSigHashes = upstream.TxSigHashes

// PrevOutputFetcher resolves the previous output (script + amount) being
// spent by a given outpoint; required to verify segwit/taproot inputs,
// whose sighash commits to the amount of every input in the transaction.
type PrevOutputFetcher = upstream.PrevOutputFetcher

// NewCannedPrevOutputFetcher returns a PrevOutputFetcher that always
// resolves to a single fixed output, useful for single-input verification
// call sites (e.g. mempool orphan re-checks) that already have the
// relevant output in hand.
func NewCannedPrevOutputFetcher(pkScript []byte, amt int64) PrevOutputFetcher {
	return upstream.NewCannedPrevOutputFetcher(pkScript, amt)
}

// NewMultiPrevOutFetcher builds a PrevOutputFetcher over a set of known
// outpoint->output mappings, typically assembled by the caller (Chain's
// UtxoViewpoint or Mempool's own pool) for verification of a full
// transaction or block.
func NewMultiPrevOutFetcher(entries map[wire.OutPoint]*wire.TxOut) PrevOutputFetcher {
	upstreamEntries := make(map[btcwire.OutPoint]*btcwire.TxOut, len(entries))
	for op, txOut := range entries {
		upstreamEntries[convert.OutPointToUpstream(op)] = convert.TxOutToUpstream(txOut)
	}
	return upstream.NewMultiPrevOutFetcher(upstreamEntries)
}

// NewTxSigHashes precomputes the sighash midstates for tx, given the
// previous outputs it spends.
func NewTxSigHashes(tx *wire.MsgTx, prevOutFetcher PrevOutputFetcher) *TxSigHashes {
	return upstream.NewTxSigHashes(convert.MsgTxToUpstream(tx), prevOutFetcher)
}

// VerifyInput evaluates input txIdx of tx against pkScript under flags,
// returning nil if and only if the script passes -- the single pure
// function block connection and mempool admission both fan out across the
// worker pool.
func VerifyInput(
	tx *wire.MsgTx,
	txIdx int,
	pkScript []byte,
	inputAmount int64,
	flags ScriptFlags,
	sigCache *SigCache,
	hashCache *TxSigHashes,
	prevOutFetcher PrevOutputFetcher,
) error {
	upTx := convert.MsgTxToUpstream(tx)
	engine, err := upstream.NewEngine(
		pkScript, upTx, txIdx, flags, sigCache, hashCache, inputAmount,
		prevOutFetcher,
	)
	if err != nil {
		return err
	}
	return engine.Execute()
}
