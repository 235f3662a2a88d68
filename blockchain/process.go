// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/database"
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks, letting a caller
// such as header-first sync or test scaffolding skip checks that don't
// apply to the situation at hand.
type BehaviorFlags uint32

const (
	// BFFastAdd may be set to indicate that several checks can be avoided
	// for the block since it is already known to fit into the chain due
	// to already proving it correct links into the chain up to a
	// known checkpoint.
	BFFastAdd BehaviorFlags = 1 << iota

	// BFNoPoWCheck may be set to indicate the proof of work check which
	// ensures a block hashes to a value less than the required target
	// will not be performed.
	BFNoPoWCheck

	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0
)

// blockExists determines whether a block with the given hash exists either
// in the main chain or any side chain.
func (b *BlockChain) blockExists(hash *chainHashT) (bool, error) {
	if b.index.HaveBlock(hash) {
		return true, nil
	}

	var exists bool
	err := b.db.View(func(dbTx database.Tx) error {
		var err error
		exists, err = dbTx.HasBlock(hash)
		return err
	})
	return exists, err
}

// processOrphans determines if there are any orphans which depend on the
// passed block hash (they are no longer orphans if true) and potentially
// accepts them. It repeats the process for the newly accepted blocks
// (to detect further orphans which may depend on them) until there are no
// more.
func (b *BlockChain) processOrphans(hash *chainHashT, flags BehaviorFlags) error {
	processHashes := make([]*chainHashT, 0, 10)
	processHashes = append(processHashes, hash)
	for len(processHashes) > 0 {
		processHash := processHashes[0]
		processHashes[0] = nil
		processHashes = processHashes[1:]

		for i := 0; i < len(b.prevOrphans[*processHash]); i++ {
			orphan := b.prevOrphans[*processHash][i]
			if orphan == nil {
				continue
			}

			orphanHash := orphan.block.Hash()
			b.removeOrphanBlock(orphan)
			i--

			_, err := b.maybeAcceptBlock(orphan.block, flags)
			if err != nil {
				return err
			}

			processHashes = append(processHashes, orphanHash)
		}
	}

	return nil
}

// ProcessBlock is the main workhorse for handling insertion of new blocks
// into the block chain. It includes functionality such as rejecting
// duplicate blocks, ensuring blocks follow all rules, orphan handling, and
// insertion into the block chain along with best chain selection and
// reorganization. When no errors occurred during processing, the first
// return value indicates whether the block is on the main chain and the
// second indicates whether the block is an orphan.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlock(block *btcutil.Block, flags BehaviorFlags) (bool, bool, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	fastAdd := flags&BFFastAdd == BFFastAdd

	blockHash := block.Hash()
	log.Tracef("Processing block %v", blockHash)

	exists, err := b.blockExists(blockHash)
	if err != nil {
		return false, false, err
	}
	if exists {
		str := fmt.Sprintf("already have block %v", blockHash)
		return false, false, ruleError(ErrDuplicateBlock, str)
	}

	if _, exists := b.orphans[*blockHash]; exists {
		str := fmt.Sprintf("already have block (orphan) %v", blockHash)
		return false, false, ruleError(ErrDuplicateBlock, str)
	}

	if !fastAdd {
		if err := checkBlockSanity(block, b.chainParams.PowLimit, b.timeSource, flags); err != nil {
			return false, false, err
		}
	}

	prevHash := &block.MsgBlock().Header.PrevBlock
	prevHashExists, err := b.blockExists(prevHash)
	if err != nil {
		return false, false, err
	}
	if !prevHashExists {
		log.Debugf("Adding orphan block %v with parent %v", blockHash, prevHash)
		b.addOrphanBlock(block)
		return false, true, nil
	}

	isMainChain, err := b.maybeAcceptBlock(block, flags)
	if err != nil {
		return false, false, err
	}

	if err := b.processOrphans(blockHash, flags); err != nil {
		return false, false, err
	}

	log.Debugf("Accepted block %v", blockHash)
	return isMainChain, false, nil
}

// maybeAcceptBlock potentially accepts a block into the block chain and, if
// accepted, returns whether or not it is on the main chain. It performs
// several validation checks which depend on its position within the block
// chain before adding it. The block is expected to have already gone
// through ProcessBlock before calling this function with it.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeAcceptBlock(block *btcutil.Block, flags BehaviorFlags) (bool, error) {
	prevHash := &block.MsgBlock().Header.PrevBlock
	prevNode := b.index.LookupNode(prevHash)
	if prevNode == nil {
		str := fmt.Sprintf("previous block %v is not known", prevHash)
		return false, ruleError(ErrMissingParent, str)
	}

	blockHeight := prevNode.height + 1
	block.SetHeight(blockHeight)

	if err := b.checkBlockContext(block, prevNode, flags); err != nil {
		return false, err
	}

	newNode := newBlockNode(&block.MsgBlock().Header, prevNode)
	newNode.status = statusDataStored

	b.index.AddNode(newNode)
	b.index.flushToDB()

	isMainChain, err := b.connectBestChain(newNode, block, flags)
	if err != nil {
		return false, err
	}

	return isMainChain, nil
}

// connectBestChain handles connecting the passed block to the chain while
// respecting proper chain selection according to the chain with the most
// proof of work. In the typical case, the new block simply extends the main
// chain. However, it may also be extending (or creating) a side chain
// (fork) which may or may not end up becoming the main chain depending on
// which fork cumulatively has the most proof of work. It returns whether or
// not the block ended up on the main chain. A reorganization disconnects
// blocks top-down from the old tip, connects
// blocks bottom-up along the new best chain, and roll back cleanly if any
// block along the new chain fails full validation.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectBestChain(node *blockNode, block *btcutil.Block, flags BehaviorFlags) (bool, error) {
	fastAdd := flags&BFFastAdd == BFFastAdd

	if b.bestChain.Tip() == nil || (node.parent == b.bestChain.Tip()) {
		if fastAdd {
			log.Debugf("Skip sanity check block %v (fastAdd)", node.hash)
		}

		view := NewUtxoViewpoint()
		view.SetBestHash(&node.parent.hash)

		var stxos []SpentTxOut
		if !fastAdd {
			if err := b.checkConnectBlock(node, block, view, &stxos); err != nil {
				b.index.SetStatusFlags(node, statusValidateFailed)
				return false, err
			}
		}
		b.index.SetStatusFlags(node, statusValid)

		if err := b.connectBlock(node, block, view, stxos); err != nil {
			return false, err
		}

		return true, nil
	}

	if fastAdd {
		log.Warnf("fastAdd set in the side chain case? %v\n", node.hash)
	}

	log.Debugf("Adding block %v to side chain", node.hash)
	b.index.SetStatusFlags(node, statusValid)

	forkNode := b.bestChain.FindFork(node)
	if forkNode == nil {
		return false, nil
	}

	bestTip := b.bestChain.Tip()
	if bestTip == nil || node.workSum.Cmp(bestTip.workSum) <= 0 {
		return false, nil
	}

	log.Debugf("REORGANIZE: Block %v is causing a reorganize.", node.hash)

	detachNodes, attachNodes := b.getReorganizeNodes(node)

	if err := b.reorganizeChain(detachNodes, attachNodes); err != nil {
		return false, err
	}

	return true, nil
}

// connectBlock handles connecting the passed node/block to the end of the
// main (best) chain.
//
// This function MUST be called with the chain state lock held (for
// writes).
func (b *BlockChain) connectBlock(node *blockNode, block *btcutil.Block, view *UtxoViewpoint, stxos []SpentTxOut) error {
	if !node.hash.IsEqual(block.Hash()) {
		return AssertError("connectBlock must be called with a block " +
			"that extends the main chain")
	}

	numTxns := uint64(len(block.MsgBlock().Transactions))

	var totalTxns uint64
	if b.stateSnapshot != nil {
		totalTxns = b.stateSnapshot.TotalTxns
	}
	state := newBestState(node, numTxns, totalTxns+numTxns)

	err := b.db.Update(func(dbTx database.Tx) error {
		if err := dbTx.StoreBlock(block); err != nil {
			return err
		}
		if err := dbPutBlockHeader(dbTx, &block.MsgBlock().Header); err != nil {
			return err
		}
		if err := serializeAndPutSpendJournal(dbTx, node.hash, stxos); err != nil {
			return err
		}
		if err := dbPutUtxoView(dbTx, view); err != nil {
			return err
		}
		return dbPutBestState(dbTx, bestChainState{
			hash:      state.Hash,
			height:    uint32(state.Height),
			totalTxns: state.TotalTxns,
			workSum:   node.workSum,
		})
	})
	if err != nil {
		return err
	}

	b.bestChain.SetTip(node)
	b.stateSnapshot = state

	// Notifications are sent with the chain lock released so consumers
	// may freely call back into chain queries.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockConnected, block)
	b.chainLock.Lock()

	return nil
}

// disconnectBlock handles disconnecting the passed node/block from the end
// of the main (best) chain.
//
// This function MUST be called with the chain state lock held (for
// writes).
func (b *BlockChain) disconnectBlock(node *blockNode, block *btcutil.Block, view *UtxoViewpoint) error {
	if !node.hash.IsEqual(&b.bestChain.Tip().hash) {
		return AssertError("disconnectBlock must be called with the " +
			"block at the end of the main chain")
	}

	prevNode := node.parent
	numTxns := uint64(len(block.MsgBlock().Transactions))
	state := newBestState(prevNode, numTxns, b.stateSnapshot.TotalTxns-numTxns)

	err := b.db.Update(func(dbTx database.Tx) error {
		stxos, err := fetchSpendJournal(dbTx, node.hash, block.MsgBlock().Transactions)
		if err != nil {
			return err
		}
		if err := view.disconnectTransactions(block, stxos); err != nil {
			return err
		}
		if err := dbPutUtxoView(dbTx, view); err != nil {
			return err
		}
		// The undo record itself stays in the rev files; a later
		// reconnect of the same block writes a fresh one over its index
		// entry.
		return dbPutBestState(dbTx, bestChainState{
			hash:      state.Hash,
			height:    uint32(state.Height),
			totalTxns: state.TotalTxns,
			workSum:   prevNode.workSum,
		})
	})
	if err != nil {
		return err
	}

	b.bestChain.SetTip(prevNode)
	b.stateSnapshot = state

	// As with connect, the lock is released for the notification's
	// duration so consumers may call back into chain queries.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockDisconnected, block)
	b.chainLock.Lock()

	return nil
}

// getReorganizeNodes finds the fork point between the main chain and the
// passed node and returns a list of block nodes to detach from the main
// chain and a list of block nodes to attach to the main chain. The detach
// list runs from the current tip back to the fork point (latest to
// earliest); the attach list runs forward (earliest to latest).
func (b *BlockChain) getReorganizeNodes(node *blockNode) (*blockNodeList, *blockNodeList) {
	attachNodes := newBlockNodeList()
	detachNodes := newBlockNodeList()

	forkNode := b.bestChain.FindFork(node)

	n := node
	for n != nil && n != forkNode {
		attachNodes.pushFront(n)
		n = n.parent
	}

	n = b.bestChain.Tip()
	for n != nil && n != forkNode {
		detachNodes.pushBack(n)
		n = n.parent
	}

	return detachNodes, attachNodes
}

// reorganizeChain reorganizes the main chain by disconnecting the nodes in
// the detachNodes list and connecting the nodes in the attachNodes list,
// both in the order produced by getReorganizeNodes (detach newest-first,
// attach oldest-first).
//
// Every attaching block is first fully validated against an in-memory view
// that replays the whole reorganization, before anything is committed: a
// candidate branch containing an invalid block aborts with the chain
// untouched. Should the commit phase itself fail partway (I/O), the blocks
// already disconnected are reconnected so the observable tip and UTXO set
// stay consistent. Either way an NTReorganization notification reports the
// old tip, the tip actually in effect afterwards, and the block lists.
func (b *BlockChain) reorganizeChain(detachNodes, attachNodes *blockNodeList) error {
	oldTip := b.bestChain.Tip()

	// Validation pass: replay the entire reorganization against one
	// in-memory view. Disconnecting restores the outputs each detached
	// block spent (from its undo record) and marks its created outputs
	// spent, so the attach-side checks below resolve inputs exactly as
	// they would after the detach actually happened. Nothing here
	// touches the database.
	simView := NewUtxoViewpoint()
	if oldTip != nil {
		simView.SetBestHash(&oldTip.hash)
	}

	detachBlocks := make([]*btcutil.Block, 0)
	for e := detachNodes.front(); e != nil; e = e.next {
		n := e.node
		block, err := b.fetchBlockByNode(n)
		if err != nil {
			return err
		}
		detachBlocks = append(detachBlocks, block)

		var stxos []SpentTxOut
		err = b.db.View(func(dbTx database.Tx) error {
			var err error
			stxos, err = fetchSpendJournal(dbTx, n.hash, block.MsgBlock().Transactions)
			return err
		})
		if err != nil {
			return err
		}
		if err := simView.disconnectTransactions(block, stxos); err != nil {
			return err
		}
	}

	attachBlocks := make([]*btcutil.Block, 0)
	for e := attachNodes.front(); e != nil; e = e.next {
		n := e.node
		block, err := b.fetchBlockByNode(n)
		if err != nil {
			return err
		}
		attachBlocks = append(attachBlocks, block)

		var stxos []SpentTxOut
		if err := b.checkConnectBlock(n, block, simView, &stxos); err != nil {
			if _, ok := err.(RuleError); ok {
				b.index.SetStatusFlags(n, statusValidateFailed)
			}
			return err
		}
		b.index.SetStatusFlags(n, statusValid)
	}

	// Commit pass: every block was validated above, so failures here are
	// storage-level; on one, restore whatever was already detached
	// before reporting the error.
	detNodes := make([]*blockNode, 0, len(detachBlocks))
	for e := detachNodes.front(); e != nil; e = e.next {
		detNodes = append(detNodes, e.node)
	}

	for i, n := range detNodes {
		view := NewUtxoViewpoint()
		view.SetBestHash(&n.hash)
		if err := b.disconnectBlock(n, detachBlocks[i], view); err != nil {
			b.rollbackReorganize(oldTip, detNodes[:i], detachBlocks[:i], nil, nil)
			b.notifyReorganize(oldTip, detachBlocks, attachBlocks)
			return err
		}
	}

	var connected []*blockNode
	for i, e := 0, attachNodes.front(); e != nil; i, e = i+1, e.next {
		n := e.node
		block := attachBlocks[i]

		view := NewUtxoViewpoint()
		view.SetBestHash(&n.parent.hash)
		var stxos []SpentTxOut
		err := b.checkConnectBlock(n, block, view, &stxos)
		if err == nil {
			err = b.connectBlock(n, block, view, stxos)
		}
		if err != nil {
			b.rollbackReorganize(oldTip, detNodes, detachBlocks, connected, attachBlocks)
			b.notifyReorganize(oldTip, detachBlocks, attachBlocks)
			return err
		}
		connected = append(connected, n)
	}

	b.notifyReorganize(oldTip, detachBlocks, attachBlocks)
	return nil
}

// rollbackReorganize restores the chain after a commit-phase failure
// partway through reorganizeChain: any blocks of the candidate branch that
// already connected are disconnected again, then the blocks of the
// original branch that were already detached are reconnected, returning
// the tip to where it was before the reorganization began. detached is in
// detach (newest-first) order and parallel to detachedBlocks; connected is
// parallel to the front of attachBlocks. A failure during the restore
// itself leaves the chain needing a reindex and is logged as critical;
// there is nothing further to unwind to.
func (b *BlockChain) rollbackReorganize(oldTip *blockNode, detached []*blockNode,
	detachedBlocks []*btcutil.Block, connected []*blockNode, attachBlocks []*btcutil.Block) {

	// Undo the candidate blocks that made it in, newest first.
	for i := len(connected) - 1; i >= 0; i-- {
		n := connected[i]
		view := NewUtxoViewpoint()
		view.SetBestHash(&n.hash)
		if err := b.disconnectBlock(n, attachBlocks[i], view); err != nil {
			log.Criticalf("reorganize rollback failed disconnecting %v: %v -- reindex required", n.hash, err)
			return
		}
	}

	// Reconnect the original branch oldest-first: detached is ordered
	// newest-first, so walk it backwards.
	for i := len(detached) - 1; i >= 0; i-- {
		n := detached[i]
		view := NewUtxoViewpoint()
		view.SetBestHash(&n.parent.hash)
		var stxos []SpentTxOut
		err := b.checkConnectBlock(n, detachedBlocks[i], view, &stxos)
		if err == nil {
			err = b.connectBlock(n, detachedBlocks[i], view, stxos)
		}
		if err != nil {
			log.Criticalf("reorganize rollback failed reconnecting %v: %v -- reindex required", n.hash, err)
			return
		}
	}

	if tip := b.bestChain.Tip(); oldTip != nil && tip != oldTip {
		log.Criticalf("reorganize rollback ended at %v, expected %v -- reindex required", tip.hash, oldTip.hash)
	}
}

// notifyReorganize emits the reorganization event with the pre-reorg tip,
// the tip actually in effect now (the new branch's tip on success, the
// restored original tip after a rollback), and the blocks that were
// involved on each side.
func (b *BlockChain) notifyReorganize(oldTip *blockNode, detachBlocks, attachBlocks []*btcutil.Block) {
	newTip := b.bestChain.Tip()
	data := &ReorganizationNtfnsData{
		Disconnected: detachBlocks,
		Connected:    attachBlocks,
	}
	if oldTip != nil {
		data.OldHash = oldTip.hash
		data.OldHeight = oldTip.height
	}
	if newTip != nil {
		data.NewHash = newTip.hash
		data.NewHeight = newTip.height
	}

	b.chainLock.Unlock()
	b.sendNotification(NTReorganization, data)
	b.chainLock.Lock()
}

// fetchBlockByNode fetches the block for the given node from the database.
func (b *BlockChain) fetchBlockByNode(node *blockNode) (*btcutil.Block, error) {
	return b.fetchBlockFromCache(node)
}
