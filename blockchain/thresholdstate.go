// Copyright (c) 2016-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ThresholdState define the various threshold states used when voting on
// consensus rule changes via BIP9 versionbits.
type ThresholdState byte

const (
	// ThresholdDefined is the first state for each deployment. It is
	// the default state and is ignored once the chain has reached the
	// deployment window.
	ThresholdDefined ThresholdState = iota

	// ThresholdStarted is the second state for each deployment. The
	// client begins tracking which blocks in the window elect yes.
	ThresholdStarted

	// ThresholdLockedIn is the third state for each deployment. A
	// sufficient number of blocks have elected yes, and the deployment
	// is locked in to activate at the next window.
	ThresholdLockedIn

	// ThresholdActive is the fourth state for each deployment. The
	// deployment's rule changes are in effect.
	ThresholdActive

	// ThresholdFailed is the final state for each deployment, reached
	// when the deployment expires without ever reaching
	// ThresholdLockedIn.
	ThresholdFailed

	// numThresholdsStates is the maximum number of threshold states
	// used for tests.
	numThresholdsStates
)

var thresholdStateStrings = map[ThresholdState]string{
	ThresholdDefined:   "ThresholdDefined",
	ThresholdStarted:   "ThresholdStarted",
	ThresholdLockedIn:  "ThresholdLockedIn",
	ThresholdActive:    "ThresholdActive",
	ThresholdFailed:    "ThresholdFailed",
}

// String implements the Stringer interface.
func (t ThresholdState) String() string {
	if s, ok := thresholdStateStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ThresholdState (%d)", int(t))
}

// thresholdConditionChecker provides a generic interface that is invoked to
// determine when a consensus rule change threshold should be changed.
type thresholdConditionChecker interface {
	// HasStarted returns whether or not the rule change activation has
	// started.
	HasStarted(*blockNode) bool

	// HasEnded returns whether or not the rule change activation has
	// ended (either having successfully locked in, or having expired
	// without locking in).
	HasEnded(*blockNode) bool

	// RuleChangeActivationThreshold is the number of blocks, for a
	// period of a given size, that is needed to trigger a rule change.
	RuleChangeActivationThreshold() uint32

	// MinerConfirmationWindow is the number of blocks in each threshold
	// state retarget window.
	MinerConfirmationWindow() uint32

	// EligibleToActivate returns true if a custom deployment can
	// transition from the LockedIn to the Active state.
	EligibleToActivate(*blockNode) bool

	// IsSpeedy returns true if the associated deployment should use the
	// "speedy" trial rules.
	IsSpeedy() bool

	// Condition returns true when the specific condition the checker is
	// testing for is true for the passed block.
	Condition(*blockNode) (bool, error)

	// ForceActive returns true when this particular deployment should
	// always report the Active state for the given node, bypassing the
	// ordinary vote count.
	ForceActive(*blockNode) bool
}

// thresholdStateCache provides a type to cache the threshold states of each
// threshold window for a set of IDs.
type thresholdStateCache struct {
	entries map[chainhash.Hash]ThresholdState
}

// Lookup returns the threshold state associated with the given hash along
// with a boolean that indicates whether or not it is valid.
func (c *thresholdStateCache) Lookup(hash chainhash.Hash) (ThresholdState, bool) {
	state, ok := c.entries[hash]
	return state, ok
}

// Update updates the cache to contain the provided hash to threshold state
// mapping.
func (c *thresholdStateCache) Update(hash chainhash.Hash, state ThresholdState) {
	c.entries[hash] = state
}

// newThresholdCaches returns a new array of caches to be used when
// calculating threshold states.
func newThresholdCaches(numCaches int) []thresholdStateCache {
	caches := make([]thresholdStateCache, numCaches)
	for i := 0; i < len(caches); i++ {
		caches[i] = thresholdStateCache{
			entries: make(map[chainhash.Hash]ThresholdState),
		}
	}
	return caches
}

// thresholdState returns the current rule change threshold state for the
// block AFTER the given node and deployment checker, using the cache to
// avoid recalculating it when the previous result is still valid.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) thresholdState(prevNode *blockNode, checker thresholdConditionChecker, cache *thresholdStateCache) (ThresholdState, error) {
	// The threshold state for the window that contains the genesis
	// block is defined by definition.
	confirmationWindow := int32(checker.MinerConfirmationWindow())
	if prevNode == nil || (prevNode.height+1) < confirmationWindow {
		return ThresholdDefined, nil
	}

	// Get the ancestor that is the last block of the previous confirmation
	// window in order to get its threshold state. This can be done
	// because the state is the same for all blocks within a given window.
	prevNode = prevNode.Ancestor(prevNode.height - (prevNode.height+1)%confirmationWindow)

	// Iterate backwards through each of the previous confirmation windows
	// to find the most recently cached threshold state.
	var neededStates []*blockNode
	for prevNode != nil {
		// Nothing more to do if the state of the block is already
		// cached.
		if _, ok := cache.Lookup(prevNode.hash); ok {
			break
		}

		// The state is simply defined if the done has not reached the
		// point where a state change could have happened.
		if !checker.HasStarted(prevNode) {
			cache.Update(prevNode.hash, ThresholdDefined)
			break
		}

		neededStates = append(neededStates, prevNode)

		prevNode = prevNode.RelativeAncestor(confirmationWindow)
	}

	// Start with the threshold state for the most recent confirmation
	// window that has a cached state.
	state := ThresholdDefined
	if prevNode != nil {
		var ok bool
		state, ok = cache.Lookup(prevNode.hash)
		if !ok {
			return ThresholdFailed, AssertError(fmt.Sprintf(
				"thresholdState: cache lookup failed for "+
					"hash %s", prevNode.hash))
		}
	}

	// Iterate backwards through the windows to calculate the state based
	// on the previous state.
	for neededNum := len(neededStates) - 1; neededNum >= 0; neededNum-- {
		prevNode := neededStates[neededNum]

		switch state {
		case ThresholdDefined:
			if checker.ForceActive(prevNode) {
				state = ThresholdActive
				break
			}

			if checker.HasStarted(prevNode) {
				state = ThresholdStarted
			}

		case ThresholdStarted:
			if checker.ForceActive(prevNode) {
				state = ThresholdActive
				break
			}

			if checker.HasEnded(prevNode) {
				state = ThresholdFailed
				break
			}

			// Count the number of blocks which agree with the
			// rule change and no longer consider a speedy
			// deployment once the window closes with enough
			// votes.
			count, err := countRuleChangeVotes(prevNode, checker)
			if err != nil {
				return ThresholdFailed, err
			}
			if count >= checker.RuleChangeActivationThreshold() {
				state = ThresholdLockedIn
			}

		case ThresholdLockedIn:
			if checker.EligibleToActivate(prevNode) {
				state = ThresholdActive
			}

		// Nothing to do if the previous state is active or failed
		// since they are both terminal states.
		case ThresholdActive, ThresholdFailed:
		}

		cache.Update(prevNode.hash, state)
	}

	return state, nil
}

// countRuleChangeVotes walks the confirmation window ending at node,
// counting the blocks for which the checker's condition is true.
func countRuleChangeVotes(node *blockNode, checker thresholdConditionChecker) (uint32, error) {
	confirmationWindow := int32(checker.MinerConfirmationWindow())

	count := uint32(0)
	countNode := node
	for i := int32(0); i < confirmationWindow && countNode != nil; i++ {
		condition, err := checker.Condition(countNode)
		if err != nil {
			return 0, err
		}
		if condition {
			count++
		}
		countNode = countNode.parent
	}
	return count, nil
}

// ThresholdState returns the current rule change threshold state of the
// given deployment ID for the block AFTER the end of the current best chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) ThresholdState(deploymentID uint32) (ThresholdState, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	state, err := b.deploymentState(b.bestChain.Tip(), deploymentID)
	return state, err
}

// deploymentState returns the current rule change threshold for a given
// deployment ID for the block AFTER the given node.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) deploymentState(prevNode *blockNode, deploymentID uint32) (ThresholdState, error) {
	if deploymentID >= uint32(len(b.chainParams.Deployments)) {
		return ThresholdFailed, DeploymentError(deploymentID)
	}

	deployment := &b.chainParams.Deployments[deploymentID]
	checker := deploymentChecker{deployment: deployment, chain: b}
	cache := &b.deploymentCaches[deploymentID]

	return b.thresholdState(prevNode, checker, cache)
}

// IsDeploymentActive returns true if the target deploymentID is active, and
// false otherwise.
//
// This function is safe for concurrent access.
func (b *BlockChain) IsDeploymentActive(deploymentID uint32) (bool, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	state, err := b.deploymentState(b.bestChain.Tip(), deploymentID)
	if err != nil {
		return false, err
	}

	return state == ThresholdActive, nil
}

// DeploymentError identifies an error that indicates a deployment ID was
// specified that does not exist.
type DeploymentError uint32

// Error returns the assertion error as a human-readable string, satisfying
// the error interface.
func (e DeploymentError) Error() string {
	return fmt.Sprintf("deployment ID %d does not exist", uint32(e))
}
