// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	upstream "github.com/btcsuite/btcd/txscript"
)

// Re-exported opcode values needed by callers that build small scripts by
// hand (the witness-commitment OP_RETURN output in blockchain/merkle.go,
// coinbase scriptSig assembly in mining).
const (
	OP_0          = upstream.OP_0
	OP_DATA_20    = upstream.OP_DATA_20
	OP_DATA_32    = upstream.OP_DATA_32
	OP_DATA_36    = upstream.OP_DATA_36
	OP_DUP        = upstream.OP_DUP
	OP_EQUAL      = upstream.OP_EQUAL
	OP_EQUALVERIFY = upstream.OP_EQUALVERIFY
	OP_HASH160    = upstream.OP_HASH160
	OP_CHECKSIG   = upstream.OP_CHECKSIG
	OP_RETURN     = upstream.OP_RETURN
)
