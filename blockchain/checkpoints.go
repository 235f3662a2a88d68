// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/chaincfg"
)

// CheckpointConfirmations is the number of blocks before the end of the
// current best block chain that a good checkpoint candidate must be.
const CheckpointConfirmations = 2016

// Checkpoints returns a slice of checkpoints (regardless of whether they are
// already known). When there are no checkpoints for the chain, it will
// return nil.
//
// This function is safe for concurrent access.
func (b *BlockChain) Checkpoints() []chaincfg.Checkpoint {
	return b.checkpoints
}

// HasCheckpoints returns whether this BlockChain has checkpoints defined.
//
// This function is safe for concurrent access.
func (b *BlockChain) HasCheckpoints() bool {
	return len(b.checkpoints) > 0
}

// LatestCheckpoint returns the most recent checkpoint (regardless of whether
// it is already known). When there are no defined checkpoints for the
// chain, it will return nil.
//
// This function is safe for concurrent access.
func (b *BlockChain) LatestCheckpoint() *chaincfg.Checkpoint {
	if !b.HasCheckpoints() {
		return nil
	}
	return &b.checkpoints[len(b.checkpoints)-1]
}

// verifyCheckpoint returns whether the passed block height and hash combine
// to match the checkpoint data. It also returns true if there is no
// checkpoint data for the passed block height.
func (b *BlockChain) verifyCheckpoint(height int32, hash *chainhash.Hash) bool {
	if !b.HasCheckpoints() {
		return true
	}

	checkpoint, exists := b.checkpointsByHeight[height]
	if !exists {
		return true
	}

	if !checkpoint.Hash.IsEqual(hash) {
		return false
	}

	log.Infof("Verified checkpoint at height %d/block %s", checkpoint.Height,
		checkpoint.Hash)
	return true
}

// findPreviousCheckpoint finds the most recent checkpoint that is already
// available in the downloaded portion of the block chain and returns the
// associated block node. It returns nil if a checkpoint can't be found
// (this should really only happen for blocks before the first checkpoint).
//
// This function MUST be called with the chain lock held (for reads).
func (b *BlockChain) findPreviousCheckpoint() (*blockNode, error) {
	if !b.HasCheckpoints() {
		return nil, nil
	}

	// Perform the search since we haven't already found a checkpoint.
	checkpoints := b.checkpoints
	numCheckpoints := len(checkpoints)
	if b.checkpointNode != nil && b.checkpointNode.height == checkpoints[numCheckpoints-1].Height {
		return b.checkpointNode, nil
	}

	for i := numCheckpoints - 1; i >= 0; i-- {
		node := b.index.LookupNode(checkpoints[i].Hash)
		if node == nil || !b.bestChain.Contains(node) {
			continue
		}

		b.checkpointNode = node
		return node, nil
	}

	return nil, nil
}

// isNonstandardTransaction always reports false: it receives only a block
// height and inspects no transaction scripts.
func isNonstandardTransaction(height int32) bool {
	return false
}

// checkpointDataStale reports whether the node's best-known checkpoint is too
// old relative to wall-clock time to be trusted for the "IBD" fast-path
// skipping of expensive script checks.
func (b *BlockChain) checkpointDataStale(checkpoint *chaincfg.Checkpoint, maxAge time.Duration) bool {
	if checkpoint == nil {
		return true
	}
	node := b.index.LookupNode(checkpoint.Hash)
	if node == nil {
		return true
	}
	return b.timeSource.AdjustedTime().Sub(node.timestampTime()) > maxAge
}

// checkpointString returns a human readable description of a checkpoint, handy for
// log lines produced during header sync.
func checkpointString(c *chaincfg.Checkpoint) string {
	if c == nil {
		return "<none>"
	}
	return fmt.Sprintf("height=%d hash=%s", c.Height, c.Hash)
}
