// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/database"
	"github.com/btcnode/node/wire"
)

// Hash returns the identifying hash of a chain entry for callers outside
// this package, e.g. Pool reporting a peer's best-known block.
func (node *blockNode) Hash() chainhash.Hash { return node.hash }

// Height returns a chain entry's height above genesis.
func (node *blockNode) Height() int32 { return node.height }

// HeightToHash returns the hash of the active-chain block at height, this
// package's contract for rpc's getblockhash.
func (b *BlockChain) HeightToHash(height int32) (*chainhash.Hash, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	node := b.bestChain.NodeByHeight(height)
	if node == nil {
		return nil, fmt.Errorf("no block at height %d exists", height)
	}
	hash := node.hash
	return &hash, nil
}

// NodeByHeight returns the active-chain entry at height, or nil if height
// is outside [0, tip height].
func (b *BlockChain) NodeByHeight(height int32) *blockNode {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.bestChain.NodeByHeight(height)
}

// HeaderByHash returns the 80-byte header of the block identified by hash,
// looked up from the in-memory header tree (present for every accepted
// header regardless of which branch it sits on).
func (b *BlockChain) HeaderByHash(hash *chainhash.Hash) (wire.BlockHeader, error) {
	b.chainLock.RLock()
	node := b.index.LookupNode(hash)
	b.chainLock.RUnlock()
	if node == nil {
		return wire.BlockHeader{}, ErrHeaderNotFound
	}
	return node.Header(), nil
}

// HeadersFromLocator answers a getheaders request: resolve
// locator to the most recent block this chain also has, then return up to
// maxCount headers walking forward along the active chain from there,
// stopping early at stopHash if it is encountered.
func (b *BlockChain) HeadersFromLocator(locator []*chainhash.Hash, stopHash *chainhash.Hash, maxCount int) []wire.BlockHeader {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	var start *blockNode
	for _, hash := range locator {
		if node := b.index.LookupNode(hash); node != nil && b.bestChain.Contains(node) {
			start = node
			break
		}
	}
	if start == nil {
		start = b.bestChain.genesis()
	}
	if start == nil {
		return nil
	}

	headers := make([]wire.BlockHeader, 0, maxCount)
	for height := start.height + 1; height <= b.bestChain.Height() && len(headers) < maxCount; height++ {
		node := b.bestChain.NodeByHeight(height)
		if node == nil {
			break
		}
		headers = append(headers, node.Header())
		if stopHash != nil && node.hash == *stopHash {
			break
		}
	}
	return headers
}

// BlockByHash fetches and fully deserializes a block by hash from Store,
// regardless of whether it sits on the active chain or a side branch, for
// serving getdata(block) and the getblock RPC.
func (b *BlockChain) BlockByHash(hash *chainhash.Hash) (*btcutil.Block, error) {
	b.chainLock.RLock()
	node := b.index.LookupNode(hash)
	b.chainLock.RUnlock()
	if node == nil {
		return nil, ErrHeaderNotFound
	}
	return b.fetchBlockFromCache(node)
}

// TipHash returns the hash of the current best chain tip, satisfying
// mining.ChainState for block template assembly.
func (b *BlockChain) TipHash() chainhash.Hash {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.bestChain.Tip().hash
}

// TipHeight returns the height of the current best chain tip.
func (b *BlockChain) TipHeight() int32 {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.bestChain.Tip().height
}

// MedianTimePast returns the median time of the last several blocks ending
// with the tip, the minimum timestamp a new block (or a final-tx locktime
// comparison) may use, satisfying mining.ChainState and mempool.Config.
func (b *BlockChain) MedianTimePast() time.Time {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.bestChain.Tip().CalcPastMedianTime()
}

// NextRequiredDifficulty returns the compact-encoded PoW target a block
// timestamped newBlockTime, built on the current tip, must meet. It is a
// thin ChainState-shaped wrapper around CalcNextRequiredDifficulty, which
// already operates relative to the tip.
func (b *BlockChain) NextRequiredDifficulty(newBlockTime time.Time) (uint32, error) {
	return b.CalcNextRequiredDifficulty(newBlockTime)
}

// GetLocatorHashes returns a block locator for the current best chain tip,
// satisfying pool.Chain's contract for building an outbound getheaders
// request.
func (b *BlockChain) GetLocatorHashes() []*chainhash.Hash {
	return b.GetLocator(nil)
}

// FetchUtxoView loads the unspent outputs referenced by tx's own inputs
// (plus tx's own outputs, so chained unconfirmed spends within the same
// batch resolve) as of the current tip, satisfying mempool.Config's
// FetchUtxoView hook. Mempool unions the result with its own in-mempool
// outputs, so every resolvable input resolves either here or against
// another mempool entry.
func (b *BlockChain) FetchUtxoView(tx *btcutil.Tx) (*UtxoViewpoint, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	view := NewUtxoViewpoint()
	view.SetBestHash(&b.bestChain.Tip().hash)

	err := b.db.View(func(dbTx database.Tx) error {
		msgTx := tx.MsgTx()
		isCoinBase := IsCoinBase(tx)
		if !isCoinBase {
			for _, txIn := range msgTx.TxIn {
				entry, err := dbFetchUtxoEntry(dbTx, txIn.PreviousOutPoint)
				if err != nil {
					return err
				}
				if entry != nil {
					view.entries[txIn.PreviousOutPoint] = entry
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	view.AddTxOuts(tx, mempoolHeight)
	return view, nil
}

// ForEachUtxo walks the entire persisted UTXO set in key order, invoking
// fn for every unspent output. Stopping early is done by returning a
// non-nil error from fn, which is passed through unchanged. Used by
// reindexing and by diagnostic tooling that audits the set against the
// block files.
func (b *BlockChain) ForEachUtxo(fn func(outpoint wire.OutPoint, entry *UtxoEntry) error) error {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	return b.db.View(func(dbTx database.Tx) error {
		utxoBucket := dbTx.Metadata().Bucket(utxoSetBucketName)
		if utxoBucket == nil {
			return nil
		}
		return utxoBucket.ForEach(func(k, v []byte) error {
			if len(k) != chainhash.HashSize+4 {
				return AssertError("unexpected utxo key length")
			}
			var outpoint wire.OutPoint
			copy(outpoint.Hash[:], k[:chainhash.HashSize])
			outpoint.Index = byteOrder.Uint32(k[chainhash.HashSize:])

			entry, err := deserializeUtxoEntry(v)
			if err != nil {
				return err
			}
			return fn(outpoint, entry)
		})
	})
}

// mempoolHeight is the sentinel height UtxoEntry.BlockHeight carries for an
// output that only exists in an as-yet-unconfirmed transaction, mirroring
// the convention real btcd's mempool package uses for the same purpose.
const mempoolHeight = 0x7fffffff

// ErrHeaderNotFound is returned by the query helpers above when the
// requested hash is not present in the header tree.
var ErrHeaderNotFound = notFoundError("blockchain: header not found")

type notFoundError string

func (e notFoundError) Error() string { return string(e) }
