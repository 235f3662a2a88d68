// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ffldb

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcnode/node/database"
	"github.com/syndtr/goleveldb/leveldb"
)

// transaction implements database.Tx. Read-only transactions are a cheap
// snapshot view of the underlying leveldb instance; a writable transaction
// buffers its mutations in an in-memory overlay so reads within the same
// transaction observe prior writes (needed, e.g., for a block that spends
// an output created earlier in the same block), and flushes the overlay as
// a single leveldb batch on Commit, satisfying Store's atomic-batch
// contract.
type transaction struct {
	mu       sync.Mutex
	db       *db
	writable bool
	closed   bool

	overlayPuts map[string][]byte
	overlayDels map[string]struct{}
}

var _ database.Tx = (*transaction)(nil)

func newTransaction(d *db, writable bool) *transaction {
	return &transaction{
		db:          d,
		writable:    writable,
		overlayPuts: make(map[string][]byte),
		overlayDels: make(map[string]struct{}),
	}
}

func (t *transaction) Metadata() database.Bucket {
	return &bucket{tx: t, prefix: nil}
}

func (t *transaction) put(key, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := string(key)
	delete(t.overlayDels, k)
	t.overlayPuts[k] = append([]byte{}, value...)
}

func (t *transaction) del(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := string(key)
	delete(t.overlayPuts, k)
	t.overlayDels[k] = struct{}{}
}

// deleteRange marks every key sharing the given prefix (committed or
// overlaid) for deletion; used by DeleteNestedBucket.
func (t *transaction) deleteRange(prefix []byte) {
	limit := append(append([]byte{}, prefix...), 0xff)
	for _, kv := range t.scan(prefix, limit) {
		t.del(kv.key)
	}
}

func (t *transaction) get(key []byte) ([]byte, error) {
	t.mu.Lock()
	k := string(key)
	if _, deleted := t.overlayDels[k]; deleted {
		t.mu.Unlock()
		return nil, leveldb.ErrNotFound
	}
	if v, ok := t.overlayPuts[k]; ok {
		t.mu.Unlock()
		return v, nil
	}
	t.mu.Unlock()

	v, err := t.db.ldb.Get(key, nil)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (t *transaction) StoreBlock(block database.BlockSerializer) error {
	if !t.writable {
		return database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	hash := block.Hash()
	if has, _ := t.HasBlock(hash); has {
		return database.Error{ErrorCode: database.ErrBlockExists, Description: "block already stored"}
	}
	raw, err := block.Bytes()
	if err != nil {
		return database.Error{ErrorCode: database.ErrDriverSpecific, Description: "block serialization failed", Err: err}
	}
	loc, err := t.db.store.writeBlock(raw)
	if err != nil {
		return err
	}
	t.put(blockIndexKey(hash), serializeLocation(loc))
	return nil
}

func blockIndexKey(hash *chainhash.Hash) []byte {
	return append([]byte("blockloc:"), hash[:]...)
}

func undoIndexKey(hash *chainhash.Hash) []byte {
	return append([]byte("undoloc:"), hash[:]...)
}

// StoreUndoData appends data to the rev flat files and records its
// location under the block's hash.
func (t *transaction) StoreUndoData(hash *chainhash.Hash, data []byte) error {
	if !t.writable {
		return database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	loc, err := t.db.store.writeUndo(data)
	if err != nil {
		return err
	}
	t.put(undoIndexKey(hash), serializeLocation(loc))
	return nil
}

// FetchUndoData returns the undo record stored for hash, or nil when the
// block never had one.
func (t *transaction) FetchUndoData(hash *chainhash.Hash) ([]byte, error) {
	raw, err := t.get(undoIndexKey(hash))
	if err != nil || raw == nil {
		return nil, nil
	}
	loc, err := deserializeLocation(raw)
	if err != nil {
		return nil, err
	}
	return t.db.store.readUndo(loc)
}

func (t *transaction) locationForHash(hash *chainhash.Hash) (blockLocation, error) {
	raw, err := t.get(blockIndexKey(hash))
	if err != nil || raw == nil {
		return blockLocation{}, database.Error{ErrorCode: database.ErrBlockNotFound, Description: "block not found: " + hash.String()}
	}
	return deserializeLocation(raw)
}

func (t *transaction) HasBlock(hash *chainhash.Hash) (bool, error) {
	raw, _ := t.get(blockIndexKey(hash))
	return raw != nil, nil
}

func (t *transaction) HasBlocks(hashes []chainhash.Hash) ([]bool, error) {
	out := make([]bool, len(hashes))
	for i := range hashes {
		out[i], _ = t.HasBlock(&hashes[i])
	}
	return out, nil
}

func (t *transaction) FetchBlock(hash *chainhash.Hash) ([]byte, error) {
	loc, err := t.locationForHash(hash)
	if err != nil {
		return nil, err
	}
	return t.db.store.readBlock(loc)
}

func (t *transaction) FetchBlocks(hashes []chainhash.Hash) ([][]byte, error) {
	out := make([][]byte, len(hashes))
	for i := range hashes {
		b, err := t.FetchBlock(&hashes[i])
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (t *transaction) FetchBlockHeader(hash *chainhash.Hash) ([]byte, error) {
	return t.FetchBlockRegion(&database.BlockRegion{Hash: hash, Offset: 0, Len: 80})
}

func (t *transaction) FetchBlockHeaders(hashes []chainhash.Hash) ([][]byte, error) {
	out := make([][]byte, len(hashes))
	for i := range hashes {
		h, err := t.FetchBlockHeader(&hashes[i])
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (t *transaction) FetchBlockRegion(region *database.BlockRegion) ([]byte, error) {
	loc, err := t.locationForHash(region.Hash)
	if err != nil {
		return nil, err
	}
	return t.db.store.readBlockRegion(loc, region.Offset, region.Len)
}

func (t *transaction) FetchBlockRegions(regions []database.BlockRegion) ([][]byte, error) {
	out := make([][]byte, len(regions))
	for i := range regions {
		b, err := t.FetchBlockRegion(&regions[i])
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (t *transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return database.Error{ErrorCode: database.ErrTxClosed, Description: "transaction already closed"}
	}
	t.closed = true
	if !t.writable {
		return nil
	}

	batch := new(leveldb.Batch)
	for k, v := range t.overlayPuts {
		batch.Put([]byte(k), v)
	}
	for k := range t.overlayDels {
		batch.Delete([]byte(k))
	}
	err := t.db.ldb.Write(batch, nil)
	t.db.unlockWriter()
	if err != nil {
		return database.Error{ErrorCode: database.ErrCorruption, Description: "batch commit failed", Err: err}
	}
	return nil
}

func (t *transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return database.Error{ErrorCode: database.ErrTxClosed, Description: "transaction already closed"}
	}
	t.closed = true
	if t.writable {
		t.db.unlockWriter()
	}
	return nil
}
