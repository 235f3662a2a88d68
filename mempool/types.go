// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/blockchain/indexers"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/mining"
	"github.com/btcnode/node/txscript"
)

// TxDesc is a descriptor containing a transaction in the mempool along with
// additional metadata.
type TxDesc struct {
	mining.TxDesc

	// StartingPriority is the priority of the transaction when it was
	// added to the pool.
	StartingPriority float64
}

// Tag represents an identifier to use for tagging orphan transactions with
// the peer that relayed them, so a peer's orphans can be removed in bulk on
// disconnect without waiting out their TTL.
type Tag uint64

// Policy houses the policy (configuration parameters) which is used to
// control the mempool's admission decisions.
type Policy struct {
	// MaxTxVersion is the transaction version that the mempool should
	// accept.  All transactions above this version are rejected as
	// non-standard.
	MaxTxVersion int32

	// DisableRelayPriority defines whether to relay free or low-fee
	// transactions that do not have enough priority to be relayed.
	DisableRelayPriority bool

	// AcceptNonStd defines whether to accept non-standard transactions.
	AcceptNonStd bool

	// FreeTxRelayLimit defines the given amount in thousands of bytes
	// per minute that transactions with no fee are rate limited to.
	FreeTxRelayLimit float64

	// MaxOrphanTxs is the maximum number of orphan transactions that can
	// be queued.
	MaxOrphanTxs int

	// MaxOrphanTxSize is the maximum size allowed for orphan transactions.
	MaxOrphanTxSize int

	// MaxSigOpCostPerTx is the cumulative maximum cost of all the
	// signature operations in a single transaction we will relay or mine.
	MaxSigOpCostPerTx int

	// MinRelayTxFee defines the minimum transaction fee in satoshi per
	// 1000 bytes to be
	// considered a non-zero fee.
	MinRelayTxFee btcutil.Amount

	// RejectReplacement, if true, rejects accepting replacement
	// transactions using the Replace-By-Fee (RBF) signaling policy into
	// the mempool.
	RejectReplacement bool
}

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various mempool configuration parameters to
	// control the mempool's admission decisions.
	Policy Policy

	// ChainParams identifies which chain parameters the mempool is
	// associated with.
	ChainParams *chaincfg.Params

	// FetchUtxoView defines the function to use to fetch unspent
	// transaction output information.
	FetchUtxoView func(*btcutil.Tx) (*blockchain.UtxoViewpoint, error)

	// BestHeight defines the function to use to access the block height
	// of the current best chain.
	BestHeight func() int32

	// MedianTimePast defines the function to use in order to access the
	// median time past calculated from the point-of-view of the current
	// chain tip.
	MedianTimePast func() time.Time

	// CalcSequenceLock defines the function to use in order to generate
	// the current sequence lock for the given transaction using the
	// passed utxo view.
	CalcSequenceLock func(*btcutil.Tx, *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error)

	// IsDeploymentActive returns true if the target deploymentID is
	// active, and false otherwise.
	IsDeploymentActive func(deploymentID uint32) (bool, error)

	// SigCache defines a signature cache to use.
	SigCache *txscript.SigCache

	// HashCache defines the transaction hash mid-state cache to use.
	HashCache *txscript.HashCache

	// AddrIndex defines the optional address index instance to use for
	// indexing the unconfirmed transactions in the memory pool. This can
	// be nil if the address index is not enabled.
	AddrIndex *indexers.AddrIndex

	// FeeEstimator, when non-nil, is fed every transaction the mempool
	// accepts so it can answer EstimateFee queries.
	FeeEstimator *FeeEstimator
}

// DefaultBlockPrioritySize is the default size in bytes for high-priority,
// low-fee transactions.  It is used when determining which transactions to
// prioritize for inclusion in a generated block template.
const DefaultBlockPrioritySize = 50000

// TxMempool is the interface the memory pool exposes to external callers
// such as the RPC server and the sync manager, narrow enough that neither
// needs the full *TxPool concrete type.
type TxMempool interface {
	// LastUpdated returns the last time a transaction was added to or
	// removed from the main pool.
	LastUpdated() time.Time

	// TxDescs returns a slice of descriptors for all the transactions in
	// the pool.
	TxDescs() []*TxDesc

	// MiningDescs returns a slice of mining descriptors for all the
	// transactions in the pool.
	MiningDescs() []*mining.TxDesc

	// RawMempoolVerbose returns all the entries in the mempool as a
	// fully populated result, suitable for the getrawmempool RPC.
	RawMempoolVerbose() map[string]*RawMempoolVerboseResult

	// Count returns the number of transactions in the main pool.
	Count() int

	// FetchTransaction returns the requested transaction from the
	// transaction pool.
	FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)

	// HaveTransaction returns whether the passed transaction already
	// exists in the main pool or in the orphan pool.
	HaveTransaction(hash *chainhash.Hash) bool

	// ProcessTransaction is the main workhorse for handling insertion of
	// new free-standing transactions into the memory pool.
	ProcessTransaction(tx *btcutil.Tx, allowOrphan, rateLimit bool, tag Tag) ([]*TxDesc, error)

	// RemoveTransaction removes the passed transaction from the mempool.
	RemoveTransaction(tx *btcutil.Tx, removeRedeemers bool)
}

// RawMempoolVerboseResult models a single mempool entry's data for the
// getrawmempool RPC when its verbose flag is set.
type RawMempoolVerboseResult struct {
	Size             int32    `json:"size"`
	Vsize            int32    `json:"vsize"`
	Weight           int32    `json:"weight"`
	Fee              float64  `json:"fee"`
	Time             int64    `json:"time"`
	Height           int64    `json:"height"`
	StartingPriority float64  `json:"startingpriority"`
	CurrentPriority  float64  `json:"currentpriority"`
	Depends          []string `json:"depends"`
}
