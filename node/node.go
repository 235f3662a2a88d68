// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package node is the composition root: one explicit owner that
// constructs the loop, chain, mempool, miner, pool, RPC server, address
// manager and time source, threads configuration and event sinks into
// their constructors, and drives the open/start/stop/close lifecycle. No
// subsystem reaches for process-wide state; everything hangs off Node.
package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/addrmgr"
	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/blockchain/indexers"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/config"
	"github.com/btcnode/node/database"
	_ "github.com/btcnode/node/database/ffldb"
	"github.com/btcnode/node/loop"
	"github.com/btcnode/node/mempool"
	"github.com/btcnode/node/mining"
	"github.com/btcnode/node/pool"
	"github.com/btcnode/node/rpc"
	"github.com/btcnode/node/timesource"
	"github.com/btcnode/node/txscript"
	"github.com/btcnode/node/wire"
)

// dbType is the one database driver this node ships.
const dbType = "ffldb"

// userAgent identifies this node implementation in version handshakes and
// getnetworkinfo.
const userAgent = "/btcnoded:0.1.0/"

// ErrCorruption is returned by Open when the block database reports
// on-disk corruption; the caller maps it to the reindex-required exit code.
var ErrCorruption = errors.New("node: block database corruption, reindex required")

// Node aggregates every subsystem, mirroring the explicit composition the
// design notes call for: one root owner, constructor-threaded
// configuration, no singletons.
type Node struct {
	cfg *config.Config

	eventLoop    *loop.Loop
	timeSource   blockchain.MedianTimeSource
	db           database.DB
	chain        *blockchain.BlockChain
	txPool       *mempool.TxPool
	feeEstimator *mempool.FeeEstimator
	addrIndex    *indexers.AddrIndex
	miner        *mining.BlkTmplGenerator
	addrManager  *addrmgr.AddrManager
	peerPool     *pool.Pool
	rpcServer    *rpc.Server

	// shutdownRequest is signaled by the RPC stop method; Run's caller
	// owns translating it into Stop.
	shutdownRequest chan struct{}
}

// New creates an unopened Node from cfg. Mirroring the create/open split
// of the lifecycle, New allocates and wires subsystems but performs no
// disk or network I/O; Open does.
func New(cfg *config.Config) *Node {
	return &Node{
		cfg:             cfg,
		eventLoop:       loop.New(256),
		timeSource:      timesource.New(),
		shutdownRequest: make(chan struct{}, 1),
	}
}

// ShutdownRequested returns the channel the RPC stop method signals.
func (n *Node) ShutdownRequested() <-chan struct{} {
	return n.shutdownRequest
}

// Chain returns the node's chain, for callers (tests, tools) that need
// direct query access.
func (n *Node) Chain() *blockchain.BlockChain { return n.chain }

// Open brings every subsystem up in dependency order: database, chain,
// mempool, miner, pool, RPC. On any failure it unwinds the subsystems
// already opened, in reverse, before returning the error.
func (n *Node) Open() error {
	params := n.cfg.ChainParams()

	log.Infof("Opening node on network %s, data dir %s", params.Name, n.cfg.DataDir)

	db, err := n.loadBlockDB()
	if err != nil {
		return err
	}
	n.db = db

	sigCache := txscript.NewSigCache(100000)
	hashCache := txscript.NewHashCache(10000)
	n.feeEstimator = mempool.NewFeeEstimator()
	n.addrIndex = indexers.NewAddrIndex(db, params)

	chain, err := blockchain.New(&blockchain.Config{
		DB:            db,
		ChainParams:   params,
		Checkpoints:   params.Checkpoints,
		TimeSource:    n.timeSource,
		SigCache:      sigCache,
		HashCache:     hashCache,
		Notifications: n.handleBlockchainNotification,
	})
	if err != nil {
		n.db.Close()
		if database.IsErrorCode(err, database.ErrCorruption) {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		return err
	}
	n.chain = chain

	n.txPool = mempool.New(&mempool.Config{
		Policy: mempool.Policy{
			MaxTxVersion:      2,
			AcceptNonStd:      params.RelayNonStdTxs,
			FreeTxRelayLimit:  15.0,
			MaxOrphanTxs:      100,
			MaxOrphanTxSize:   100000,
			MaxSigOpCostPerTx: blockchain.MaxBlockSigOpsCost / 4,
			MinRelayTxFee:     mempool.DefaultMinRelayTxFee,
		},
		ChainParams:    params,
		FetchUtxoView:  chain.FetchUtxoView,
		BestHeight:     func() int32 { return chain.BestSnapshot().Height },
		MedianTimePast: chain.MedianTimePast,
		CalcSequenceLock: func(tx *btcutil.Tx, view *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error) {
			return chain.CalcSequenceLock(tx, view, true)
		},
		IsDeploymentActive: chain.IsDeploymentActive,
		SigCache:           sigCache,
		HashCache:          hashCache,
		AddrIndex:          n.addrIndex,
		FeeEstimator:       n.feeEstimator,
	})

	n.miner = mining.NewBlkTmplGenerator(&mining.Policy{
		BlockMinWeight:    0,
		BlockMaxWeight:    blockchain.MaxBlockWeight - 4000,
		BlockPrioritySize: mempool.DefaultBlockPrioritySize,
		TxMinFreeFee:      int64(mempool.DefaultMinRelayTxFee),
	}, params, n.txPool, chain, sigCache)

	n.addrManager = addrmgr.New(filepath.Join(n.cfg.DataDir, params.Name), net.LookupIP)

	n.peerPool = pool.New(&pool.Config{
		ChainParams:    params,
		Chain:          chain,
		Mempool:        n.txPool,
		AddrManager:    n.addrManager,
		Loop:           n.eventLoop,
		TimeSource:     n.timeSource,
		Listeners:      n.cfg.Listeners,
		ConnectPeers:   n.cfg.ConnectPeers,
		AddPeers:       n.cfg.AddPeers,
		MaxInbound:     n.cfg.MaxConnections,
		UserAgent:      userAgent,
		Proxy:          n.cfg.Proxy,
		ProxyUser:      n.cfg.ProxyUser,
		ProxyPass:      n.cfg.ProxyPass,
	})

	if !n.cfg.DisableRPC {
		n.rpcServer = rpc.New(&rpc.Config{
			ChainParams:            params,
			Chain:                  chain,
			TxMemPool:              n.txPool,
			ConnMgr:                n.peerPool,
			FeeEstimator:           n.feeEstimator,
			Listeners:              n.cfg.RPCListeners,
			User:                   n.cfg.RPCUser,
			Pass:                   n.cfg.RPCPass,
			UserAgent:              userAgent,
			RequestProcessShutdown: n.shutdownRequest,
		})
	}

	log.Infof("Chain tip %s (height %d)", chain.BestSnapshot().Hash, chain.BestSnapshot().Height)
	return nil
}

// loadBlockDB opens the block database, creating it on first run and
// recreating it under --reindex.
func (n *Node) loadBlockDB() (database.DB, error) {
	dbPath := n.cfg.BlockDBPath()
	params := n.cfg.ChainParams()

	if n.cfg.Reindex {
		log.Infof("Reindex requested; removing %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(dbType, dbPath, params.Net, int(n.cfg.DbCache))
	if err != nil {
		if !database.IsErrorCode(err, database.ErrDbDoesNotExist) {
			if database.IsErrorCode(err, database.ErrCorruption) {
				return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
			}
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, err
		}
		db, err = database.Create(dbType, dbPath, params.Net, int(n.cfg.DbCache))
		if err != nil {
			return nil, err
		}
	}

	if n.cfg.Prune > 0 {
		if pruner, ok := db.(interface {
			PruneBlocks(targetBytes uint64) (int, error)
		}); ok {
			if _, err := pruner.PruneBlocks(n.cfg.Prune * 1024 * 1024); err != nil {
				db.Close()
				return nil, err
			}
		}
	}
	return db, nil
}

// Start launches the network-facing subsystems and then runs the reactor.
// It blocks until Stop is called (from a signal handler or the RPC stop
// method).
func (n *Node) Start() error {
	n.addrManager.Start()
	if err := n.peerPool.Start(); err != nil {
		n.addrManager.Stop()
		return err
	}
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			n.peerPool.Stop()
			n.addrManager.Stop()
			return err
		}
	}

	log.Info("Node started")
	n.eventLoop.Start()
	return nil
}

// Stop wakes the reactor out of Start and shuts the network-facing
// subsystems down. Safe to call from any goroutine.
func (n *Node) Stop() {
	log.Info("Node shutting down")
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	n.peerPool.Stop()
	n.addrManager.Stop()
	n.eventLoop.Stop()
}

// Close releases the storage-facing subsystems after Stop; mirroring the
// open order in reverse.
func (n *Node) Close() {
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			log.Errorf("error closing database: %v", err)
		}
		n.db = nil
	}
	log.Info("Node shutdown complete")
}

// handleBlockchainNotification is the chain's event sink: it fans connect/
// disconnect/reorg events out to the mempool (re-evaluating admissibility),
// the fee estimator, the address index, and RPC websocket clients.
func (n *Node) handleBlockchainNotification(notification *blockchain.Notification) {
	switch notification.Type {
	case blockchain.NTBlockConnected:
		block, ok := notification.Data.(*btcutil.Block)
		if !ok {
			log.Warnf("block connected notification is not a block")
			break
		}

		// Every transaction confirmed by the block leaves the mempool,
		// along with anything now double-spent, and orphans that the
		// block's transactions resolved get another admission attempt.
		for _, tx := range block.Transactions()[1:] {
			n.txPool.RemoveTransaction(tx, false)
			n.txPool.RemoveDoubleSpends(tx)
			n.txPool.RemoveOrphan(tx)
			acceptedTxs := n.txPool.ProcessOrphans(tx)
			for _, desc := range acceptedTxs {
				n.peerPool.RelayInventory(wire.NewInvVect(wire.InvTypeTx, desc.Tx.Hash()))
			}
		}

		if n.feeEstimator != nil {
			txs := block.Transactions()
			minedHashes := make([]chainhash.Hash, 0, len(txs))
			for _, tx := range txs {
				minedHashes = append(minedHashes, *tx.Hash())
			}
			n.feeEstimator.ObserveBlock(block.Height(), minedHashes)
		}

		if n.rpcServer != nil {
			n.rpcServer.NotifyBlockConnected(block)
		}

	case blockchain.NTBlockDisconnected:
		block, ok := notification.Data.(*btcutil.Block)
		if !ok {
			log.Warnf("block disconnected notification is not a block")
			break
		}

		// Reorged-out transactions go back into the mempool so the set
		// stays complete across reorgs; anything that no longer passes
		// consensus checks against the new tip is discarded along with
		// its redeemers.
		for _, tx := range block.Transactions()[1:] {
			_, _, err := n.txPool.MaybeAcceptTransaction(tx, false, false)
			if err != nil {
				n.txPool.RemoveTransaction(tx, true)
			}
		}

		if n.rpcServer != nil {
			n.rpcServer.NotifyBlockDisconnected(block)
		}

	case blockchain.NTReorganization:
		if data, ok := notification.Data.(*blockchain.ReorganizationNtfnsData); ok {
			log.Infof("Chain reorganization: old tip %s, new tip %s", data.OldHash, data.NewHash)
		}
	}
}
