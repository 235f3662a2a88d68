// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/wire"
)

// RuleError identifies a rule violation encountered while validating a
// transaction for admission to the mempool. It carries an optional
// RejectCode so a violation can be relayed to the misbehaving peer via a
// reject message without that peer incurring a consensus-level penalty.
type RuleError struct {
	RejectCode  wire.RejectCode
	Description string
}

// Error satisfies the error interface and prints a human-readable error.
func (e RuleError) Error() string {
	return e.Description
}

// txRuleError creates an underlying RuleError with the given a set of
// arguments and returns a RuleError that includes the rule error.
func txRuleError(c wire.RejectCode, desc string) RuleError {
	return RuleError{RejectCode: c, Description: desc}
}

// chainRuleError returns a RuleError that encapsulates the given
// blockchain.RuleError with an equivalent wire reject code so policy and
// consensus failures can be reported through a single error type.
func chainRuleError(chainErr blockchain.RuleError) RuleError {
	return RuleError{
		RejectCode:  chainErrToRejectErr(chainErr),
		Description: chainErr.Error(),
	}
}

// chainErrToRejectErr maps a blockchain consensus rule violation to the
// closest wire reject code, for inclusion in a reject message sent back to
// a misbehaving peer.
func chainErrToRejectErr(chainErr blockchain.RuleError) wire.RejectCode {
	switch chainErr.ErrorCode {
	case blockchain.ErrDuplicateBlock, blockchain.ErrDuplicateTx,
		blockchain.ErrDuplicateTxInputs:
		return wire.RejectDuplicate

	case blockchain.ErrCheckpointTimeTooOld, blockchain.ErrBadCheckpoint:
		return wire.RejectCheckpoint

	case blockchain.ErrMissingParent:
		return wire.RejectInvalid

	default:
		return wire.RejectInvalid
	}
}

// extractRejectCode attempts to return a relevant reject code for a given
// error by examining the error for both types of rule errors.  It returns
// true if a code was successfully extracted.
func extractRejectCode(err error) (wire.RejectCode, bool) {
	switch e := err.(type) {
	case blockchain.RuleError:
		return chainErrToRejectErr(e), true

	case RuleError:
		return e.RejectCode, true
	}

	return wire.RejectInvalid, false
}
