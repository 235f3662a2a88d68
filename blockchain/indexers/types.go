// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package indexers implements optional indexes layered on top of the chain
// and the mempool: the address index, with confirmed entries and the
// mempool's unconfirmed-transaction-by-address lookups. No RPC method of
// this module queries it.
package indexers

import (
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/database"
	"github.com/btcnode/node/txscript"
)

// addrIndexBucketName is the top-level metadata bucket the confirmed
// address index is stored under.
var addrIndexBucketName = []byte("addrindex")

// addrKey returns the raw index key for a locking script -- the script's
// hash payload for the standard single-hash forms (P2PKH, P2SH, P2WPKH,
// P2WSH, P2TR), or false if the script is not one of the recognized
// single-key forms this index tracks.
func addrKey(pkScript []byte) ([]byte, bool) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		if len(pkScript) == 25 {
			return pkScript[3:23], true
		}
	case txscript.ScriptHashTy:
		if len(pkScript) == 23 {
			return pkScript[2:22], true
		}
	case txscript.WitnessV0PubKeyHashTy:
		if len(pkScript) == 22 {
			return pkScript[2:22], true
		}
	case txscript.WitnessV0ScriptHashTy:
		if len(pkScript) == 34 {
			return pkScript[2:34], true
		}
	case txscript.WitnessV1TaprootTy:
		if len(pkScript) == 34 {
			return pkScript[2:34], true
		}
	}
	return nil, false
}

// AddrIndex maintains a mapping from addresses (identified by their script
// hash payload) to the transactions that pay to or spend from them, both
// confirmed (persisted in the Store's metadata bucket) and unconfirmed
// (held in memory on behalf of the mempool).
type AddrIndex struct {
	db          database.DB
	chainParams *chaincfg.Params

	unconfirmedLock sync.RWMutex
	// txnsByAddr indexes every address referenced (as an output or as an
	// input's previous output) by every unconfirmed transaction that
	// touches it.
	txnsByAddr map[string]map[chainhash.Hash]*btcutil.Tx
	// addrsByTx is the reverse index, used to remove a transaction's
	// entries in txnsByAddr in bulk when it leaves the mempool.
	addrsByTx map[chainhash.Hash]map[string]struct{}
}

// NewAddrIndex creates a new address index backed by db for its confirmed
// entries.
func NewAddrIndex(db database.DB, chainParams *chaincfg.Params) *AddrIndex {
	return &AddrIndex{
		db:          db,
		chainParams: chainParams,
		txnsByAddr:  make(map[string]map[chainhash.Hash]*btcutil.Tx),
		addrsByTx:   make(map[chainhash.Hash]map[string]struct{}),
	}
}

// Key returns the database key this index is identified by, for the
// index-manager's tracking of which optional indexes are enabled.
func (idx *AddrIndex) Key() []byte {
	return addrIndexBucketName
}

// Name returns the human-readable name of this index.
func (idx *AddrIndex) Name() string {
	return "address index"
}

// Init performs any start-of-day setup needed, such as creating the
// metadata bucket on first run.
func (idx *AddrIndex) Init(db database.DB) error {
	return db.Update(func(dbTx database.Tx) error {
		_, err := dbTx.Metadata().CreateBucketIfNotExists(addrIndexBucketName)
		return err
	})
}

// txLoc is the persisted form of a confirmed address-index entry: the
// height of the block the transaction confirmed in, recorded so entries
// can be reported oldest-first and pruned on disconnect.
type txLoc struct {
	hash   chainhash.Hash
	height int32
}

func serializeTxLoc(loc txLoc) []byte {
	buf := make([]byte, chainhash.HashSize+4)
	copy(buf, loc.hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], uint32(loc.height))
	return buf
}

func deserializeTxLoc(buf []byte) (txLoc, bool) {
	if len(buf) != chainhash.HashSize+4 {
		return txLoc{}, false
	}
	var loc txLoc
	copy(loc.hash[:], buf[:chainhash.HashSize])
	loc.height = int32(binary.LittleEndian.Uint32(buf[chainhash.HashSize:]))
	return loc, true
}

// forEachIndexedAddr calls fn once per affected address for every
// output paying to, and every input spending from, a recognized
// single-hash script in tx.
func forEachIndexedAddr(tx *btcutil.Tx, view *blockchain.UtxoViewpoint, fn func(addrKeyBytes []byte)) {
	for _, txOut := range tx.MsgTx().TxOut {
		if key, ok := addrKey(txOut.PkScript); ok {
			fn(key)
		}
	}

	if blockchain.IsCoinBaseTx(tx.MsgTx()) {
		return
	}

	for _, txIn := range tx.MsgTx().TxIn {
		if view == nil {
			continue
		}
		entry := view.LookupEntry(txIn.PreviousOutPoint)
		if entry == nil {
			continue
		}
		if key, ok := addrKey(entry.PkScript()); ok {
			fn(key)
		}
	}
}

// ConnectBlock indexes every address-touching transaction in block against
// the block's height, called by the chain's onConnect event sink.
func (idx *AddrIndex) ConnectBlock(dbTx database.Tx, block *btcutil.Block, view *blockchain.UtxoViewpoint) error {
	bucket := dbTx.Metadata().Bucket(addrIndexBucketName)
	if bucket == nil {
		var err error
		bucket, err = dbTx.Metadata().CreateBucketIfNotExists(addrIndexBucketName)
		if err != nil {
			return err
		}
	}

	height := int32(block.Height())
	for _, tx := range block.Transactions() {
		forEachIndexedAddr(tx, view, func(key []byte) {
			addrBucket, err := bucket.CreateBucketIfNotExists(key)
			if err != nil {
				return
			}
			entryKey := make([]byte, 4)
			binary.LittleEndian.PutUint32(entryKey, uint32(height))
			entryKey = append(entryKey, tx.Hash()[:]...)
			_ = addrBucket.Put(entryKey, serializeTxLoc(txLoc{
				hash:   *tx.Hash(),
				height: height,
			}))
		})
	}

	return nil
}

// DisconnectBlock removes block's transactions from the confirmed address
// index, called by the chain's onDisconnect event sink during a reorg.
func (idx *AddrIndex) DisconnectBlock(dbTx database.Tx, block *btcutil.Block, view *blockchain.UtxoViewpoint) error {
	bucket := dbTx.Metadata().Bucket(addrIndexBucketName)
	if bucket == nil {
		return nil
	}

	height := int32(block.Height())
	for _, tx := range block.Transactions() {
		forEachIndexedAddr(tx, view, func(key []byte) {
			addrBucket := bucket.Bucket(key)
			if addrBucket == nil {
				return
			}
			entryKey := make([]byte, 4)
			binary.LittleEndian.PutUint32(entryKey, uint32(height))
			entryKey = append(entryKey, tx.Hash()[:]...)
			_ = addrBucket.Delete(entryKey)
		})
	}

	return nil
}

// AddUnconfirmedTx indexes a transaction that just entered the mempool, so
// address-scoped RPCs and wallet rescans see it before it confirms.
func (idx *AddrIndex) AddUnconfirmedTx(tx *btcutil.Tx, view *blockchain.UtxoViewpoint) {
	idx.unconfirmedLock.Lock()
	defer idx.unconfirmedLock.Unlock()

	hash := *tx.Hash()
	if _, exists := idx.addrsByTx[hash]; exists {
		return
	}
	addrs := make(map[string]struct{})

	forEachIndexedAddr(tx, view, func(key []byte) {
		k := string(key)
		addrs[k] = struct{}{}

		txnSet, ok := idx.txnsByAddr[k]
		if !ok {
			txnSet = make(map[chainhash.Hash]*btcutil.Tx)
			idx.txnsByAddr[k] = txnSet
		}
		txnSet[hash] = tx
	})

	idx.addrsByTx[hash] = addrs
}

// RemoveUnconfirmedTx removes a transaction's unconfirmed-index entries,
// called whenever it leaves the mempool for any reason (confirmation,
// conflict, eviction, or expiry).
func (idx *AddrIndex) RemoveUnconfirmedTx(hash *chainhash.Hash) {
	idx.unconfirmedLock.Lock()
	defer idx.unconfirmedLock.Unlock()

	addrs, exists := idx.addrsByTx[*hash]
	if !exists {
		return
	}

	for k := range addrs {
		txnSet, ok := idx.txnsByAddr[k]
		if !ok {
			continue
		}
		delete(txnSet, *hash)
		if len(txnSet) == 0 {
			delete(idx.txnsByAddr, k)
		}
	}

	delete(idx.addrsByTx, *hash)
}

// UnconfirmedTxnsForAddress returns every unconfirmed transaction presently
// indexed against the address identified by addrKeyBytes (its script hash
// payload).
func (idx *AddrIndex) UnconfirmedTxnsForAddress(addrKeyBytes []byte) []*btcutil.Tx {
	idx.unconfirmedLock.RLock()
	defer idx.unconfirmedLock.RUnlock()

	txnSet, ok := idx.txnsByAddr[string(addrKeyBytes)]
	if !ok {
		return nil
	}

	txns := make([]*btcutil.Tx, 0, len(txnSet))
	for _, tx := range txnSet {
		txns = append(txns, tx)
	}
	return txns
}
