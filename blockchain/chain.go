// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockchain implements the Chain component of the node: header
// tree, best-chain selection, block validation, reorg, and UTXO-set update.
// This file wires the package's supporting pieces (blockIndex, chainView,
// UtxoViewpoint, the difficulty/checkpoint/threshold-state machinery) into
// the single BlockChain type those pieces already assume exists, and
// exposes the public contract: AcceptHeader, ProcessBlock, GetLocator,
// FindFork, Tip, Lookup, and the Subscribe notification sink.
package blockchain

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/database"
	"github.com/btcnode/node/txscript"
	"github.com/btcnode/node/wire"
)

// chainHashT is a local alias so the rest of this package can refer to the
// hash type by a short name without importing chainhash in every file.
type chainHashT = chainhash.Hash

// orphanExpireDuration is how long an orphan block is retained while
// waiting for its parent to arrive before it is pruned.
const orphanExpireDuration = time.Hour

// maxOrphanBlocks is the maximum number of orphan blocks kept in memory at
// any given time.
const maxOrphanBlocks = 100

// NotificationType represents the type of a notification message.
type NotificationType int

// Notification types.
const (
	// NTBlockConnected indicates the associated block was connected to the
	// main chain.
	NTBlockConnected NotificationType = iota

	// NTBlockDisconnected indicates the associated block was disconnected
	// from the main chain.
	NTBlockDisconnected

	// NTReorganization indicates that a reorganization is in progress and
	// supplies ReorganizationNtfnsData as the payload.
	NTReorganization
)

func (n NotificationType) String() string {
	switch n {
	case NTBlockConnected:
		return "NTBlockConnected"
	case NTBlockDisconnected:
		return "NTBlockDisconnected"
	case NTReorganization:
		return "NTReorganization"
	default:
		return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
	}
}

// Notification defines notification that is sent to the caller via the
// callback function provided during the call to New and runs synchronously
// on the caller's goroutine.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// ReorganizationNtfnsData is the data payload for an NTReorganization
// notification, reported regardless of whether the reorg ultimately
// succeeded or was rolled back.
type ReorganizationNtfnsData struct {
	OldHash     chainhash.Hash
	NewHash     chainhash.Hash
	OldHeight   int32
	NewHeight   int32
	Disconnected []*btcutil.Block
	Connected    []*btcutil.Block
}

// NotificationCallback is used for a caller to provide a callback for
// notifications about various chain events.
type NotificationCallback func(*Notification)

// sendNotification sends a notification to every registered callback.
// Callers release chainLock for the call's duration so callbacks may
// freely query the chain; ordering is still serial because the caller of
// ProcessBlock is expected to be the single event-loop thread.
func (b *BlockChain) sendNotification(typ NotificationType, data interface{}) {
	if b.notifications == nil {
		return
	}
	b.notifications(&Notification{Type: typ, Data: data})
}

// Subscribe adds callback to the list invoked for notifications. Multiple
// subscribers fan out through a single composed callback, satisfying
// design note.
func (b *BlockChain) Subscribe(callback NotificationCallback) {
	existing := b.notifications
	if existing == nil {
		b.notifications = callback
		return
	}
	b.notifications = func(n *Notification) {
		existing(n)
		callback(n)
	}
}

// BestState houses information about the current best block chain tip,
// exposed to callers (mining, RPC, pool) needing a consistent read of the
// active-chain head without holding the chain lock themselves.
type BestState struct {
	Hash        chainhash.Hash
	Height      int32
	Bits        uint32
	NumTxns     uint64
	TotalTxns   uint64
	MedianTime  time.Time
}

// newBestState returns a new best stats instance for the given parameters.
func newBestState(node *blockNode, numTxns, totalTxns uint64) *BestState {
	return &BestState{
		Hash:       node.hash,
		Height:     node.height,
		Bits:       node.bits,
		NumTxns:    numTxns,
		TotalTxns:  totalTxns,
		MedianTime: node.CalcPastMedianTime(),
	}
}

// orphanBlock represents a block that we don't yet have the parent for. It
// is a normal block plus an expiration time to prevent caching the orphan
// forever.
type orphanBlock struct {
	block      *btcutil.Block
	expiration time.Time
}

// Config is the configuration struct used to initialize a new BlockChain.
// DB and ChainParams are required; a nil TimeSource is replaced by
// NewMedianTime().
type Config struct {
	// DB defines the Store the chain uses for both block storage and UTXO
	// persistence.
	DB database.DB

	// ChainParams identifies which chain parameters the chain is associated
	// with.
	ChainParams *chaincfg.Params

	// Checkpoints hold caller-defined checkpoints that should be added to
	// the default checkpoints in ChainParams.
	Checkpoints []chaincfg.Checkpoint

	// TimeSource defines the median time source to use for things such as
	// block processing and determining whether or not the chain is current.
	TimeSource MedianTimeSource

	// SigCache defines a signature cache to use when validating signatures,
	// shared with the mempool so a transaction's signature is never checked
	// twice.
	SigCache *txscript.SigCache

	// HashCache caches the BIP143/BIP341 sighash midstates shared across a
	// transaction's inputs.
	HashCache *txscript.HashCache

	// Notifications defines a callback to which notifications will be sent
	// when various events take place. See the documentation on
	// Notification and NotificationType for details on the types and
	// contents of notifications.
	Notifications NotificationCallback
}

// BlockChain provides functions for working with the bitcoin block chain.
// It includes functionality such as rejecting duplicate blocks, ensuring
// blocks follow all rules, orphan handling, checkpoint handling, and best
// chain selection with reorganization.
type BlockChain struct {
	// chainLock protects concurrent access to this BlockChain instance; the
	// reactor in package loop is expected to serialize all calls through a
	// single goroutine, but the lock is kept regardless so
	// the package's exported surface remains safe if called otherwise.
	chainLock sync.RWMutex

	db          database.DB
	chainParams *chaincfg.Params
	timeSource  MedianTimeSource
	sigCache    *txscript.SigCache
	hashCache   *txscript.HashCache

	checkpoints         []chaincfg.Checkpoint
	checkpointsByHeight map[int32]*chaincfg.Checkpoint
	checkpointNode      *blockNode

	minRetargetTimespan int64
	maxRetargetTimespan int64
	blocksPerRetarget   int32

	index     *blockIndex
	bestChain *chainView

	orphanLock   sync.RWMutex
	orphans      map[chainhash.Hash]*orphanBlock
	prevOrphans  map[chainhash.Hash][]*orphanBlock
	oldestOrphan *orphanBlock

	warningCaches    []thresholdStateCache
	deploymentCaches []thresholdStateCache

	stateLock     sync.RWMutex
	stateSnapshot *BestState

	notifications NotificationCallback

	// blockCache holds recently connected/disconnected blocks keyed by
	// hash, avoiding a database round trip for the common case of a reorg
	// touching blocks that were just accepted.
	cacheLock  sync.Mutex
	blockCache map[chainhash.Hash]*btcutil.Block
}

// New returns a BlockChain instance using the provided configuration
// details, creating the genesis block and the chain-state metadata in DB
// the first time it is called against a fresh database, and otherwise
// reconstructing the in-memory header tree from what was previously
// persisted.
func New(config *Config) (*BlockChain, error) {
	if config.DB == nil {
		return nil, AssertError("blockchain.New database is nil")
	}
	if config.ChainParams == nil {
		return nil, AssertError("blockchain.New chain parameters is nil")
	}

	params := config.ChainParams
	targetTimespan := int64(params.TargetTimespan / time.Second)
	targetTimePerBlock := int64(params.TargetTimePerBlock / time.Second)

	b := &BlockChain{
		db:                  config.DB,
		chainParams:         params,
		timeSource:          config.TimeSource,
		sigCache:            config.SigCache,
		hashCache:           config.HashCache,
		minRetargetTimespan: targetTimespan / params.RetargetAdjustmentFactor,
		maxRetargetTimespan: targetTimespan * params.RetargetAdjustmentFactor,
		blocksPerRetarget:   int32(targetTimespan / targetTimePerBlock),
		index:               newBlockIndex(config.DB, params),
		orphans:             make(map[chainhash.Hash]*orphanBlock),
		prevOrphans:         make(map[chainhash.Hash][]*orphanBlock),
		warningCaches:       newThresholdCaches(vbNumBits),
		deploymentCaches:    newThresholdCaches(chaincfg.DefinedDeployments),
		notifications:       config.Notifications,
		blockCache:          make(map[chainhash.Hash]*btcutil.Block),
	}
	if b.timeSource == nil {
		b.timeSource = NewMedianTime()
	}

	b.checkpoints = append(append([]chaincfg.Checkpoint(nil), params.Checkpoints...), config.Checkpoints...)
	b.checkpointsByHeight = make(map[int32]*chaincfg.Checkpoint, len(b.checkpoints))
	for i := range b.checkpoints {
		b.checkpointsByHeight[b.checkpoints[i].Height] = &b.checkpoints[i]
	}

	if err := b.initChainState(); err != nil {
		return nil, err
	}

	log.Infof("Chain state (height %d, hash %v, totaltx %d)",
		b.stateSnapshot.Height, b.stateSnapshot.Hash, b.stateSnapshot.TotalTxns)

	return b, nil
}

// initChainState attempts to load and initialize the chain state from the
// database, creating it if it doesn't already exist, and rebuilds the
// in-memory header tree from every persisted header.
func (b *BlockChain) initChainState() error {
	var tipHash chainhash.Hash
	var initialized bool

	err := b.db.View(func(dbTx database.Tx) error {
		state, err := dbFetchBestState(dbTx)
		if err != nil {
			return nil // not yet created
		}
		initialized = true
		tipHash = state.hash

		headers, err := dbFetchAllBlockHeaders(dbTx)
		if err != nil {
			return err
		}
		return b.rebuildIndex(headers, tipHash)
	})
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	return b.createChainState()
}

// rebuildIndex reconstructs the in-memory header tree (blockIndex plus the
// active-chain chainView) from a flat, unordered slice of persisted
// headers, by repeatedly attaching headers whose parent is already
// resolved -- genesis's parent hash is the zero hash, which seeds the
// process.
func (b *BlockChain) rebuildIndex(headers []*wire.BlockHeader, tipHash chainhash.Hash) error {
	if len(headers) == 0 {
		return nil
	}

	resolved := make(map[chainhash.Hash]*blockNode, len(headers))
	var zero chainhash.Hash
	pending := headers

	for len(pending) > 0 {
		progressed := false
		remaining := pending[:0]
		for _, h := range pending {
			var parent *blockNode
			if h.PrevBlock != zero {
				var ok bool
				parent, ok = resolved[h.PrevBlock]
				if !ok {
					remaining = append(remaining, h)
					continue
				}
			}
			node := newBlockNode(h, parent)
			node.status = statusDataStored | statusValid
			resolved[node.hash] = node
			b.index.AddNode(node)
			progressed = true
		}
		if !progressed {
			return AssertError("blockchain: disconnected headers found while rebuilding index")
		}
		pending = remaining
	}

	tip, ok := resolved[tipHash]
	if !ok {
		return AssertError("blockchain: best chain tip not found among persisted headers")
	}
	b.bestChain = newChainView(tip)

	return b.db.View(func(dbTx database.Tx) error {
		state, err := dbFetchBestState(dbTx)
		if err != nil {
			return err
		}
		b.stateSnapshot = newBestState(tip, 0, state.totalTxns)
		return nil
	})
}

// createChainState initializes both the database and the chain state to the
// genesis block, used the very first time BlockChain is created against a
// fresh Store.
func (b *BlockChain) createChainState() error {
	genesisBlock := btcutil.NewBlock(b.chainParams.GenesisBlock)
	genesisBlock.SetHeight(0)
	node := newBlockNode(&genesisBlock.MsgBlock().Header, nil)
	node.status = statusDataStored | statusValid

	b.index = newBlockIndex(b.db, b.chainParams)
	b.index.AddNode(node)
	b.bestChain = newChainView(node)

	numTxns := uint64(len(genesisBlock.MsgBlock().Transactions))
	b.stateSnapshot = newBestState(node, numTxns, numTxns)

	view := NewUtxoViewpoint()
	view.SetBestHash(&node.hash)
	if err := view.connectTransactions(genesisBlock, nil); err != nil {
		return err
	}

	return b.db.Update(func(dbTx database.Tx) error {
		if err := dbTx.StoreBlock(genesisBlock); err != nil {
			return err
		}
		if err := dbPutBlockHeader(dbTx, &genesisBlock.MsgBlock().Header); err != nil {
			return err
		}
		if err := dbPutUtxoView(dbTx, view); err != nil {
			return err
		}
		return dbPutBestState(dbTx, bestChainState{
			hash:      node.hash,
			height:    uint32(node.height),
			totalTxns: numTxns,
			workSum:   node.workSum,
		})
	})
}

// BestSnapshot returns information about the current best chain block and
// related state as of the current point in time, extended with the
// auxiliary fields callers (mining, RPC) need.
func (b *BlockChain) BestSnapshot() *BestState {
	b.stateLock.RLock()
	defer b.stateLock.RUnlock()
	return b.stateSnapshot
}

// Tip returns the chain entry at the tip of the active chain.
func (b *BlockChain) Tip() *blockNode {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.bestChain.Tip()
}

// Lookup returns the chain entry identified by hash, or nil if it is
// unknown.
func (b *BlockChain) Lookup(hash *chainhash.Hash) *blockNode {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.index.LookupNode(hash)
}

// HaveBlock reports whether hash is known to the chain, on the active
// chain or any side branch.
func (b *BlockChain) HaveBlock(hash *chainhash.Hash) (bool, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.blockExists(hash)
}

// GetLocator returns a block locator for the passed block, or for the tip
// of the active chain when node is nil, forming a standard geometric
// sequence of hashes toward genesis.
func (b *BlockChain) GetLocator(node *blockNode) BlockLocator {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	if node == nil {
		node = b.bestChain.Tip()
	}
	return b.bestChain.BlockLocator(node)
}

// FindFork returns the final common chain entry between the active chain
// and node. It takes a candidate node rather than a raw locator;
// LocatorHash below resolves a wire locator to a node first.
func (b *BlockChain) FindFork(node *blockNode) *blockNode {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.bestChain.FindFork(node)
}

// LocatorHash resolves the first hash of locator known to this chain, or
// the genesis block if none match, mirroring the getheaders/getblocks
// locator walk.
func (b *BlockChain) LocatorHash(locator []*chainhash.Hash) *blockNode {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	for _, hash := range locator {
		if node := b.index.LookupNode(hash); node != nil && b.bestChain.Contains(node) {
			return node
		}
	}
	return b.bestChain.genesis()
}

// IsCurrent returns whether or not the chain believes it is current:
// tip within 24 hours of wall-clock time.
func (b *BlockChain) IsCurrent() bool {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	tip := b.bestChain.Tip()
	if tip == nil {
		return false
	}
	return b.timeSource.AdjustedTime().Sub(tip.timestampTime()) <= 24*time.Hour
}

// timestampTime converts a blockNode's cached unix timestamp back to a
// time.Time for comparisons against wall-clock time.
func (node *blockNode) timestampTime() time.Time {
	return timeUnix(node.timestamp)
}

// AcceptHeader validates and, if valid, adds a lone header to the header
// tree without requiring the full block body, the headers-first sync
// workhorse. Returns whether the header was newly accepted and whether it
// was already known.
func (b *BlockChain) AcceptHeader(header *wire.BlockHeader) (accepted bool, duplicate bool, err error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	hash := header.BlockHash()
	if b.index.LookupNode(&hash) != nil {
		return false, true, nil
	}

	prevNode := b.index.LookupNode(&header.PrevBlock)
	if prevNode == nil {
		return false, false, ruleError(ErrMissingParent, fmt.Sprintf(
			"header %v's parent %v is not known", hash, header.PrevBlock))
	}

	if err := checkBlockHeaderSanity(header, b.chainParams.PowLimit, b.timeSource, BFNone); err != nil {
		return false, false, err
	}
	if err := b.checkBlockHeaderContext(header, prevNode, BFNone); err != nil {
		return false, false, err
	}
	if !b.verifyCheckpoint(prevNode.height+1, &hash) {
		return false, false, ruleError(ErrBadCheckpoint, fmt.Sprintf(
			"block at height %d does not match checkpoint hash", prevNode.height+1))
	}

	node := newBlockNode(header, prevNode)
	b.index.AddNode(node)

	if err := b.db.Update(func(dbTx database.Tx) error {
		return dbPutBlockHeader(dbTx, header)
	}); err != nil {
		return false, false, err
	}

	return true, false, nil
}

// fetchBlockFromCache returns the block for node, preferring the in-memory
// cache populated by recent connects/disconnects before falling back to
// the database.
func (b *BlockChain) fetchBlockFromCache(node *blockNode) (*btcutil.Block, error) {
	b.cacheLock.Lock()
	block, ok := b.blockCache[node.hash]
	b.cacheLock.Unlock()
	if ok {
		return block, nil
	}

	var serialized []byte
	err := b.db.View(func(dbTx database.Tx) error {
		var err error
		serialized, err = dbTx.FetchBlock(&node.hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	block, err = btcutil.NewBlockFromBytes(serialized)
	if err != nil {
		return nil, err
	}
	block.SetHeight(node.height)

	b.cacheLock.Lock()
	b.blockCache[node.hash] = block
	if len(b.blockCache) > 256 {
		for h := range b.blockCache {
			delete(b.blockCache, h)
			break
		}
	}
	b.cacheLock.Unlock()

	return block, nil
}

// fetchInputUtxos loads the unspent outputs referenced by every
// non-coinbase input of every transaction in block, building them up
// incrementally so that outputs created earlier in the same block are
// resolvable by later transactions in it.
func (b *BlockChain) fetchInputUtxos(dbTx database.Tx, block *btcutil.Block) (*UtxoViewpoint, error) {
	view := NewUtxoViewpoint()
	view.SetBestHash(&block.MsgBlock().Header.PrevBlock)

	for i, tx := range block.Transactions() {
		if i != 0 {
			for _, txIn := range tx.MsgTx().TxIn {
				op := txIn.PreviousOutPoint
				if view.LookupEntry(op) != nil {
					continue
				}
				entry, err := dbFetchUtxoEntry(dbTx, op)
				if err != nil {
					return nil, err
				}
				if entry != nil {
					view.entries[op] = entry
				}
			}
		}
		view.AddTxOuts(tx, block.Height())
	}

	return view, nil
}

// scriptVerifyTask is one unit of the embarrassingly-parallel script
// verification phase: a pure function from (tx, input index, utxo view,
// flags) to pass/fail.
type scriptVerifyTask struct {
	tx       *wire.MsgTx
	txIdx    int
	pkScript []byte
	amount   int64
}

// checkConnectBlock performs several checks to confirm connecting the
// passed block to the chain does not violate any rules: resolve inputs,
// verify sum(inputs) >=
// sum(outputs), enforce the weighted sigop budget, and run script
// verification for every input across a worker pool, joining the results
// before returning.
func (b *BlockChain) checkConnectBlock(node *blockNode, block *btcutil.Block, view *UtxoViewpoint, stxos *[]SpentTxOut) error {
	if node.parent == nil {
		return nil // genesis
	}

	err := b.db.View(func(dbTx database.Tx) error {
		fetched, err := b.fetchInputUtxos(dbTx, block)
		if err != nil {
			return err
		}
		for op, entry := range fetched.entries {
			if _, exists := view.entries[op]; !exists {
				view.entries[op] = entry
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	flags, err := b.scriptFlagsForBlock(node)
	if err != nil {
		return err
	}

	// Once CSV is active, every transaction's sequence-based relative
	// locktimes must have matured as of this block.
	csvActive := flags&txscript.ScriptVerifyCheckSequenceVerify != 0
	medianTime := node.parent.CalcPastMedianTime()

	var totalSigOpCost int64
	var totalFees int64
	var tasks []scriptVerifyTask

	transactions := block.Transactions()
	for i, tx := range transactions {
		sigOpCost, err := countSigOpsCost(tx, i == 0, view, flags)
		if err != nil {
			return err
		}
		totalSigOpCost += sigOpCost
		if totalSigOpCost > MaxBlockSigOpsCost {
			return ruleError(ErrTooManySigOps, fmt.Sprintf(
				"block contains too many signature operations - got %v, max %v",
				totalSigOpCost, MaxBlockSigOpsCost))
		}

		if i != 0 {
			fee, err := CheckTransactionInputs(tx, node.height, view, b.chainParams)
			if err != nil {
				return err
			}
			totalFees += fee

			if csvActive {
				sequenceLock, err := b.calcSequenceLock(node, tx, view, false)
				if err != nil {
					return err
				}
				if !SequenceLockActive(sequenceLock, node.height, medianTime) {
					return ruleError(ErrUnfinalizedTx, fmt.Sprintf(
						"block contains transaction %v whose input sequence "+
							"locks are not met", tx.Hash()))
				}
			}

			for txInIdx, txIn := range tx.MsgTx().TxIn {
				entry := view.LookupEntry(txIn.PreviousOutPoint)
				if entry == nil {
					continue
				}
				tasks = append(tasks, scriptVerifyTask{
					tx:       tx.MsgTx(),
					txIdx:    txInIdx,
					pkScript: entry.PkScript(),
					amount:   entry.Amount(),
				})
			}
		}

		if err := view.connectTransaction(tx, node.height, stxos); err != nil {
			return err
		}
	}

	if err := b.runScriptChecks(tasks, flags); err != nil {
		return err
	}

	totalSatoshiOut := int64(0)
	for _, txOut := range transactions[0].MsgTx().TxOut {
		totalSatoshiOut += txOut.Value
	}
	expectedSubsidy := CalcBlockSubsidy(node.height, b.chainParams)
	if totalSatoshiOut > expectedSubsidy+totalFees {
		return ruleError(ErrBadCoinbaseValue, fmt.Sprintf(
			"coinbase transaction for block pays %v which is more than "+
				"expected value of %v", totalSatoshiOut, expectedSubsidy+totalFees))
	}

	return nil
}

// scriptFlagsForBlock derives the script-verification flag set applicable
// at node's position in the chain, folding in whichever deployments
// (BIP16/BIP66/BIP65/CSV/segwit/taproot) are active as of its parent.
// Blocks predating an activation are validated without the corresponding
// flag, so historical blocks keep validating under the rules they were
// mined against.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) scriptFlagsForBlock(node *blockNode) (txscript.ScriptFlags, error) {
	var flags txscript.ScriptFlags

	// BIP16 activated at a wall-clock flag day rather than a height.
	if node.timestamp >= txscript.Bip16Activation.Unix() {
		flags |= txscript.ScriptBip16
	}

	// BIP66 (strict DER) and BIP65 (CLTV) activated at fixed,
	// per-network heights.
	if node.height >= b.chainParams.BIP0066Height {
		flags |= txscript.ScriptVerifyDERSignatures
	}
	if node.height >= b.chainParams.BIP0065Height {
		flags |= txscript.ScriptVerifyCheckLockTimeVerify
	}

	// The remaining rule changes deployed via version-bits signaling;
	// their state is evaluated as of the parent, the same point every
	// other contextual check uses.
	csvState, err := b.deploymentState(node.parent, chaincfg.DeploymentCSV)
	if err != nil {
		return 0, err
	}
	if csvState == ThresholdActive {
		flags |= txscript.ScriptVerifyCheckSequenceVerify
	}

	segwitState, err := b.deploymentState(node.parent, chaincfg.DeploymentSegwit)
	if err != nil {
		return 0, err
	}
	if segwitState == ThresholdActive {
		flags |= txscript.ScriptVerifyWitness | txscript.ScriptStrictMultiSig
	}

	taprootState, err := b.deploymentState(node.parent, chaincfg.DeploymentTaproot)
	if err != nil {
		return 0, err
	}
	if taprootState == ThresholdActive {
		flags |= txscript.ScriptVerifyTaproot
	}

	return flags, nil
}

// countSigOpsCost returns the weighted signature operation cost for tx,
// resolving P2SH redeem scripts and witness programs against view so the
// precise (rather than worst-case) count is used once the corresponding
// rules are active.
func countSigOpsCost(tx *btcutil.Tx, isCoinBase bool, view *UtxoViewpoint, flags txscript.ScriptFlags) (int64, error) {
	bip16 := flags&txscript.ScriptBip16 != 0
	segwit := flags&txscript.ScriptVerifyWitness != 0
	cost, err := GetSigOpCost(tx, isCoinBase, view, bip16, segwit)
	if err != nil {
		return 0, err
	}
	return int64(cost), nil
}

// runScriptChecks dispatches every pending scriptVerifyTask across a worker
// pool sized to the number of logical CPUs, joining all results before
// returning -- either every check passes or the block fails with the first
// error observed, determinism preserved since the aggregate pass/fail is
// order-independent.
func (b *BlockChain) runScriptChecks(tasks []scriptVerifyTask, flags txscript.ScriptFlags) error {
	if len(tasks) == 0 {
		return nil
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	taskCh := make(chan scriptVerifyTask, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	var failed atomic.Bool
	var firstErr error
	var errMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if failed.Load() {
					continue
				}
				err := txscript.VerifyInput(
					t.tx, t.txIdx, t.pkScript, t.amount, flags,
					b.sigCache, nil, nil,
				)
				if err != nil {
					if failed.CompareAndSwap(false, true) {
						errMu.Lock()
						firstErr = ruleError(ErrScriptValidation, err.Error())
						errMu.Unlock()
					}
				}
			}
		}()
	}
	wg.Wait()

	if failed.Load() {
		return firstErr
	}
	return nil
}

// timeUnix converts a cached unix-seconds timestamp to a time.Time.
func timeUnix(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// blockNodeEl is one element of a blockNodeList.
type blockNodeEl struct {
	node *blockNode
	next *blockNodeEl
	prev *blockNodeEl
}

// blockNodeList is a small doubly linked list of block nodes used to
// accumulate the set of nodes to detach from, and attach to, the active
// chain during a reorg.
type blockNodeList struct {
	head *blockNodeEl
	tail *blockNodeEl
}

func newBlockNodeList() *blockNodeList {
	return &blockNodeList{}
}

func (l *blockNodeList) pushFront(n *blockNode) {
	el := &blockNodeEl{node: n, next: l.head}
	if l.head != nil {
		l.head.prev = el
	}
	l.head = el
	if l.tail == nil {
		l.tail = el
	}
}

func (l *blockNodeList) pushBack(n *blockNode) {
	el := &blockNodeEl{node: n, prev: l.tail}
	if l.tail != nil {
		l.tail.next = el
	}
	l.tail = el
	if l.head == nil {
		l.head = el
	}
}

func (l *blockNodeList) front() *blockNodeEl {
	return l.head
}

// addOrphanBlock adds the passed block to the orphan pool, evicting the
// oldest orphan if the pool is full and pruning any expired orphans first.
func (b *BlockChain) addOrphanBlock(block *btcutil.Block) {
	b.oldestOrphan = nil
	for _, oBlock := range b.orphans {
		if time.Now().After(oBlock.expiration) {
			b.removeOrphanBlock(oBlock)
			continue
		}
		if b.oldestOrphan == nil || oBlock.expiration.Before(b.oldestOrphan.expiration) {
			b.oldestOrphan = oBlock
		}
	}

	if len(b.orphans) >= maxOrphanBlocks && b.oldestOrphan != nil {
		b.removeOrphanBlock(b.oldestOrphan)
		b.oldestOrphan = nil
	}

	oBlock := &orphanBlock{
		block:      block,
		expiration: time.Now().Add(orphanExpireDuration),
	}
	hash := block.Hash()
	b.orphans[*hash] = oBlock

	prevHash := &block.MsgBlock().Header.PrevBlock
	b.prevOrphans[*prevHash] = append(b.prevOrphans[*prevHash], oBlock)

	if b.oldestOrphan == nil || oBlock.expiration.Before(b.oldestOrphan.expiration) {
		b.oldestOrphan = oBlock
	}
}

// removeOrphanBlock removes the passed orphan block from the orphan pool
// and previous orphan index.
func (b *BlockChain) removeOrphanBlock(orphan *orphanBlock) {
	orphanHash := orphan.block.Hash()
	delete(b.orphans, *orphanHash)

	prevHash := &orphan.block.MsgBlock().Header.PrevBlock
	orphans := b.prevOrphans[*prevHash]
	for i := 0; i < len(orphans); i++ {
		if orphans[i].block.Hash().IsEqual(orphanHash) {
			orphans = append(orphans[:i], orphans[i+1:]...)
			i--
		}
	}
	if len(orphans) == 0 {
		delete(b.prevOrphans, *prevHash)
		return
	}
	b.prevOrphans[*prevHash] = orphans
}
