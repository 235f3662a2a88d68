// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// approxNodesPerWeek is an approximation of the number of new blocks there
// are in a week on average.
const approxNodesPerWeek = 6 * 24 * 7

// log2FloorMasks defines the masks to use when quickly calculating
// floor(log2(x)) in a constant log2(32) = 5 steps, where x is a uint32, using
// shifts. They are derived from (2^(2^x) - 1) * (2^(2^x)), for x in 4..0.
var log2FloorMasks = []uint32{0xffff0000, 0xff00, 0xf0, 0xc, 0x2}

// fastLog2Floor calculates and returns floor(log2(x)) in a constant 5 steps.
func fastLog2Floor(n uint32) uint8 {
	rv := uint8(0)
	exponent := uint8(16)
	for i := 0; i < 5; i++ {
		if n&log2FloorMasks[i] != 0 {
			rv += exponent
			n >>= exponent
		}
		exponent >>= 1
	}
	return rv
}

// chainView provides a flat view of the currently valid best chain that is
// efficient for indexing into and quickly indexing height-to-hash.  It
// implements alongside the
// blockIndex arena.
type chainView struct {
	mtx       sync.RWMutex
	nodes     []*blockNode
}

// newChainView returns a new chain view for the given tip block node. Passing
// nil as the tip will result in a chain view that is not initialized.
func newChainView(tip *blockNode) *chainView {
	c := &chainView{}
	c.setTip(tip)
	return c
}

// genesis returns the genesis block for the chain view.
func (c *chainView) genesis() *blockNode {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[0]
}

// Tip returns the current tip block node for the chain view.
func (c *chainView) Tip() *blockNode {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.tip()
}

// tip is the internal version of Tip that does not acquire the lock.
func (c *chainView) tip() *blockNode {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[len(c.nodes)-1]
}

// SetTip sets the chain view to use the provided block node as the current
// tip and ensures the view is consistent by populating it with the nodes
// obtained by walking backwards all the way to genesis.
func (c *chainView) SetTip(node *blockNode) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.setTip(node)
}

// setTip is the internal version of SetTip that does not acquire the lock.
func (c *chainView) setTip(node *blockNode) {
	if node == nil {
		c.nodes = nil
		return
	}

	needed := node.height + 1
	if int32(cap(c.nodes)) < needed {
		nodes := make([]*blockNode, needed)
		copy(nodes, c.nodes)
		c.nodes = nodes
	} else {
		prevLen := int32(len(c.nodes))
		c.nodes = c.nodes[0:needed]
		for i := prevLen; i < needed; i++ {
			c.nodes[i] = nil
		}
	}

	for node != nil && c.nodes[node.height] != node {
		c.nodes[node.height] = node
		node = node.parent
	}
}

// Height returns the height of the tip of the chain view.
func (c *chainView) Height() int32 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.height()
}

func (c *chainView) height() int32 {
	return int32(len(c.nodes) - 1)
}

// NodeByHeight returns the block node at the specified height, or nil if
// there is no node at that height.
func (c *chainView) NodeByHeight(height int32) *blockNode {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.nodeByHeight(height)
}

func (c *chainView) nodeByHeight(height int32) *blockNode {
	if height < 0 || height >= int32(len(c.nodes)) {
		return nil
	}
	return c.nodes[height]
}

// Equals returns whether or not the given chain view is the same as this
// chain view.
func (c *chainView) Equals(other *chainView) bool {
	c.mtx.RLock()
	other.mtx.RLock()
	equals := len(c.nodes) == len(other.nodes) && c.tip() == other.tip()
	other.mtx.RUnlock()
	c.mtx.RUnlock()
	return equals
}

// Contains returns whether or not the chain view contains the passed block
// node.
func (c *chainView) Contains(node *blockNode) bool {
	return c.NodeByHeight(node.height) == node
}

// Next returns the successor to the provided node that is also on the
// current chain view. It will return nil if there is no successor or if the
// provided node is not part of the view.
func (c *chainView) Next(node *blockNode) *blockNode {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if node == nil || !c.contains(node) {
		return nil
	}
	return c.nodeByHeight(node.height + 1)
}

func (c *chainView) contains(node *blockNode) bool {
	return c.nodeByHeight(node.height) == node
}

// FindFork returns the final common block between the provided node and the
// the chain view. It will return nil if there is no common block.
func (c *chainView) FindFork(node *blockNode) *blockNode {
	if node == nil {
		return nil
	}

	c.mtx.RLock()
	chainHeight := c.height()
	c.mtx.RUnlock()

	if node.height > chainHeight {
		node = node.Ancestor(chainHeight)
	}

	for node != nil && !c.Contains(node) {
		node = node.parent
	}

	return node
}

// BlockLocator returns a block locator for the passed block node. The
// passed node can be nil in which case the block locator for the current
// tip associated with the view will be returned.
//
// See the top-level BlockLocator comment for more details.
func (c *chainView) BlockLocator(node *blockNode) BlockLocator {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.blockLocator(node)
}

// blockLocator is the internal implementation of the exported
// BlockLocator function. See its comment for more details.
//
// This function MUST be called with the view mutex locked (for reads).
func (c *chainView) blockLocator(node *blockNode) BlockLocator {
	if node == nil {
		node = c.tip()
	}
	if node == nil {
		return nil
	}

	// Calculate the max number of entries that will ultimately be in the
	// block locator. See the description of the algorithm for how these
	// numbers are derived.
	var maxEntries uint8
	if node.height <= 12 {
		maxEntries = uint8(node.height) + 1
	} else {
		adjustedHeight := uint32(node.height) - 10
		maxEntries = 12 + fastLog2Floor(adjustedHeight)
	}
	locator := make(BlockLocator, 0, maxEntries)

	step := int32(1)
	for node != nil {
		locator = append(locator, &node.hash)

		if len(locator) == int(maxEntries) {
			break
		}

		if node.height == 0 {
			break
		}

		height := node.height - step
		if height < 0 {
			height = 0
		}

		if c.contains(node) {
			node = c.nodeByHeight(height)
		} else {
			node = node.Ancestor(height)
		}

		if len(locator) >= 10 {
			step *= 2
		}
	}

	return locator
}

// BlockLocator is used to help locate a specific block. The algorithm for
// building the block locator is to add the hashes in reverse order until
// the genesis block is reached using the following rules:
//
//   - The first 10 block hashes are added back to front
//   - After the first 10 block hashes, the step doubles each loop iteration
//     to exponentially decrease the number of hashes as a function of the
//     distance from the block being located
//
// contract.
type BlockLocator []*chainhash.Hash
