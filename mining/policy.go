// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

// Policy houses the policy (configuration parameters) used to control the
// generation of block templates in NewBlockTemplate.
type Policy struct {
	// BlockMinWeight is the minimum block weight to be used when
	// generating a block template. NewBlockTemplate does not read it.
	BlockMinWeight uint32

	// BlockMaxWeight is the maximum block weight to be used when
	// generating a block template, subject to the consensus maximum
	// enforced independently by block validation.
	BlockMaxWeight uint32

	// BlockPrioritySize is the size in bytes reserved, at the front of
	// the generated block, for the highest fee-rate transactions
	// regardless of their size -- this keeps a single large, low-fee
	// transaction from starving out many small high-fee ones.
	// NewBlockTemplate does not read it and reserves no such area.
	BlockPrioritySize uint32

	// TxMinFreeFee is the minimum fee, in satoshi per 1000 bytes, a
	// transaction must pay to be considered for inclusion once
	// BlockPrioritySize has been filled. NewBlockTemplate does not read it
	// and applies no such minimum.
	TxMinFreeFee int64
}
