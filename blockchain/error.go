// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "fmt"

// ErrorCode identifies a kind of error from block or header acceptance,
// connection, or the chain-state update that follows.
type ErrorCode int

const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists in the main chain or a side chain.
	ErrDuplicateBlock ErrorCode = iota

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig

	// ErrBlockWeightTooHigh indicates that the block's computed weight
	// metric exceeds the maximum allowed value.
	ErrBlockWeightTooHigh

	// ErrBlockVersionTooOld indicates the block version is too old and is
	// no longer accepted since the majority of the network has upgraded
	// to a newer version.
	ErrBlockVersionTooOld

	// ErrInvalidTime indicates the time in the passed block has a
	// precision that is more than one second, which is not allowed.
	ErrInvalidTime

	// ErrTimeTooOld indicates the time is either before the median time
	// of the last several blocks per the chain consensus rules or, for
	// headers-first fetch, simply too far in the past.
	ErrTimeTooOld

	// ErrTimeTooNew indicates the time is too far in the future as
	// compared to the current time.
	ErrTimeTooNew

	// ErrDifficultyTooLow indicates the difficulty for the given block is
	// lower than the difficulty required by the most recent checkpoint.
	ErrDifficultyTooLow

	// ErrUnexpectedDifficulty indicates specified bits do not align with
	// the expected value either because it doesn't match the calculated
	// value based on difficulty regarding the rules or it is out of the
	// valid range.
	ErrUnexpectedDifficulty

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the required target difficultly.
	ErrHighHash

	// ErrBadMerkleRoot indicates the calculated merkle root does not
	// match the expected value.
	ErrBadMerkleRoot

	// ErrBadCheckpoint indicates a block that is expected to be at a
	// checkpoint height does not match the expected one.
	ErrBadCheckpoint

	// ErrForkTooOld indicates a block forking the main chain before the
	// most recent checkpoint.
	ErrForkTooOld

	// ErrCheckpointTimeTooOld indicates a block has a timestamp before
	// the most recent checkpoint.
	ErrCheckpointTimeTooOld

	// ErrNoTransactions indicates the block does not have a least one
	// transaction. A valid block must have at least the coinbase
	// transaction.
	ErrNoTransactions

	// ErrNoTxInputs indicates a transaction does not have any inputs.  A
	// valid transaction must have at least one input.
	ErrNoTxInputs

	// ErrNoTxOutputs indicates a transaction does not have any outputs.
	// A valid transaction must have at least one output.
	ErrNoTxOutputs

	// ErrTxTooBig indicates a transaction exceeds the maximum allowed
	// size when serialized.
	ErrTxTooBig

	// ErrBadTxOutValue indicates an output value for a transaction is
	// invalid in some way such as being out of range.
	ErrBadTxOutValue

	// ErrDuplicateTxInputs indicates a transaction references the same
	// input more than once.
	ErrDuplicateTxInputs

	// ErrBadTxInput indicates a transaction input is invalid in some way
	// such as referencing a previous transaction outpoint which is out of
	// range or referencing an output which is already spent.
	ErrBadTxInput

	// ErrMissingTxOut indicates a transaction output referenced by an
	// input either does not exist or has already been spent.
	ErrMissingTxOut

	// ErrUnfinalizedTx indicates a transaction has not been finalized.
	// A valid block may only contain finalized transactions.
	ErrUnfinalizedTx

	// ErrDuplicateTx indicates a block contains an identical transaction
	// (or at least two transactions which hash to the same value) to one
	// already in the chain.
	ErrDuplicateTx

	// ErrOverwriteTx indicates a block contains a transaction that has
	// the same hash as a previous transaction that has not completely
	// spent.
	ErrOverwriteTx

	// ErrImmatureSpend indicates a transaction is attempting to spend a
	// coinbase that has not yet reached the required maturity.
	ErrImmatureSpend

	// ErrSpendTooHigh indicates a transaction is attempting to spend more
	// value than the sum of all of its inputs.
	ErrSpendTooHigh

	// ErrBadFees indicates the total fees for a block are invalid due to
	// exceeding the maximum possible value.
	ErrBadFees

	// ErrTooManySigOps indicates the total number of signature
	// operations for a transaction or block exceed the maximum allowed
	// limits.
	ErrTooManySigOps

	// ErrFirstTxNotCoinbase indicates the first transaction in a block
	// is not a coinbase transaction.
	ErrFirstTxNotCoinbase

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases

	// ErrBadCoinbaseScriptLen indicates the length of the signature
	// script for a coinbase transaction is not within the valid range.
	ErrBadCoinbaseScriptLen

	// ErrBadCoinbaseValue indicates the amount of a coinbase value does
	// not match the expected value of the subsidy plus the sum of all
	// fees.
	ErrBadCoinbaseValue

	// ErrMissingCoinbaseHeight indicates the coinbase transaction for a
	// block does not start with the serialized block height as required
	// for version 2 and higher blocks.
	ErrMissingCoinbaseHeight

	// ErrBadCoinbaseHeight indicates the serialized block height in the
	// coinbase transaction for version 2 and higher blocks does not
	// match the expected value.
	ErrBadCoinbaseHeight

	// ErrScriptMalformed indicates a transaction script is malformed in
	// some way.  For example, it might be longer than the maximum
	// allowed length or fail to parse.
	ErrScriptMalformed

	// ErrScriptValidation indicates the result of executing a transaction
	// script failed.  The error covers any failure when executing scripts
	// such signature verification failures and execution past the end of
	// the stack.
	ErrScriptValidation

	// ErrUnexpectedWitness indicates that a block includes transactions
	// with witness data, but doesn't have a witness commitment present in
	// the coinbase transaction.
	ErrUnexpectedWitness

	// ErrInvalidWitnessCommitment indicates that a block's witness
	// commitment is not well formed.
	ErrInvalidWitnessCommitment

	// ErrWitnessCommitmentMismatch indicates that the witness commitment
	// included in the block's coinbase transaction doesn't match the
	// manually computed witness commitment.
	ErrWitnessCommitmentMismatch

	// ErrPreviousBlockUnknown indicates that the previous block is not
	// known.
	ErrPreviousBlockUnknown

	// ErrInvalidAncestorBlock indicates that an ancestor of this block
	// has already failed validation.
	ErrInvalidAncestorBlock

	// ErrPrevBlockNotBest indicates that the block's previous block is
	// not the current chain tip. This is not a block validation rule, but
	// is required for block proposals submitted via getblocktemplate RPC.
	ErrPrevBlockNotBest

	// ErrNotInMainChain indicates that a block or transaction was
	// requested by a hash which is not known for any known chain.
	ErrNotInMainChain

	// ErrMissingParent indicates a block which does not connect to
	// either a known orphan or main chain block.
	ErrMissingParent
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:           "ErrDuplicateBlock",
	ErrBlockTooBig:              "ErrBlockTooBig",
	ErrBlockWeightTooHigh:       "ErrBlockWeightTooHigh",
	ErrBlockVersionTooOld:       "ErrBlockVersionTooOld",
	ErrInvalidTime:              "ErrInvalidTime",
	ErrTimeTooOld:               "ErrTimeTooOld",
	ErrTimeTooNew:               "ErrTimeTooNew",
	ErrDifficultyTooLow:         "ErrDifficultyTooLow",
	ErrUnexpectedDifficulty:     "ErrUnexpectedDifficulty",
	ErrHighHash:                 "ErrHighHash",
	ErrBadMerkleRoot:            "ErrBadMerkleRoot",
	ErrBadCheckpoint:            "ErrBadCheckpoint",
	ErrForkTooOld:               "ErrForkTooOld",
	ErrCheckpointTimeTooOld:     "ErrCheckpointTimeTooOld",
	ErrNoTransactions:           "ErrNoTransactions",
	ErrNoTxInputs:               "ErrNoTxInputs",
	ErrNoTxOutputs:              "ErrNoTxOutputs",
	ErrTxTooBig:                 "ErrTxTooBig",
	ErrBadTxOutValue:            "ErrBadTxOutValue",
	ErrDuplicateTxInputs:        "ErrDuplicateTxInputs",
	ErrBadTxInput:               "ErrBadTxInput",
	ErrMissingTxOut:             "ErrMissingTxOut",
	ErrUnfinalizedTx:            "ErrUnfinalizedTx",
	ErrDuplicateTx:              "ErrDuplicateTx",
	ErrOverwriteTx:              "ErrOverwriteTx",
	ErrImmatureSpend:            "ErrImmatureSpend",
	ErrSpendTooHigh:             "ErrSpendTooHigh",
	ErrBadFees:                  "ErrBadFees",
	ErrTooManySigOps:            "ErrTooManySigOps",
	ErrFirstTxNotCoinbase:       "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:        "ErrMultipleCoinbases",
	ErrBadCoinbaseScriptLen:     "ErrBadCoinbaseScriptLen",
	ErrBadCoinbaseValue:         "ErrBadCoinbaseValue",
	ErrMissingCoinbaseHeight:    "ErrMissingCoinbaseHeight",
	ErrBadCoinbaseHeight:        "ErrBadCoinbaseHeight",
	ErrScriptMalformed:          "ErrScriptMalformed",
	ErrScriptValidation:         "ErrScriptValidation",
	ErrUnexpectedWitness:        "ErrUnexpectedWitness",
	ErrInvalidWitnessCommitment: "ErrInvalidWitnessCommitment",
	ErrWitnessCommitmentMismatch: "ErrWitnessCommitmentMismatch",
	ErrPreviousBlockUnknown:     "ErrPreviousBlockUnknown",
	ErrInvalidAncestorBlock:     "ErrInvalidAncestorBlock",
	ErrPrevBlockNotBest:         "ErrPrevBlockNotBest",
	ErrNotInMainChain:           "ErrNotInMainChain",
	ErrMissingParent:            "ErrMissingParent",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.  The caller can use type assertions to determine if a
// failure was specifically due to a rule violation and access the ErrorCode
// field to ascertain the specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// errNotInMainChain signifies that a block hash or height that is not in the
// main chain was requested.
type errNotInMainChain string

// Error implements the error interface.
func (e errNotInMainChain) Error() string {
	return string(e)
}

// isNotInMainChainErr returns whether or not the passed error is an
// errNotInMainChain error.
func isNotInMainChainErr(err error) bool {
	_, ok := err.(errNotInMainChain)
	return ok
}

// errDeserialize signifies that a problem was encountered when deserializing
// data.
type errDeserialize string

// Error implements the error interface.
func (e errDeserialize) Error() string {
	return string(e)
}

// isDeserializeErr returns whether or not the passed error is an
// errDeserialize error.
func isDeserializeErr(err error) bool {
	_, ok := err.(errDeserialize)
	return ok
}

// AssertError identifies an error that indicates an internal code consistency
// issue and should therefore be treated as a critical/programmer error.
type AssertError string

// Error returns the assertion error as a human-readable string, satisfying
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}
