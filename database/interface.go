// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package database defines the storage contract the chain persists
// through: atomic batched mutation of the UTXO set plus append-then-read
// access to serialized blocks, behind a pluggable driver so the on-disk
// layout is not prescribed here. A concrete driver registers itself via RegisterDriver; the
// only driver shipped here is "ffldb" (database/ffldb), a flat block-file
// plus goleveldb-metadata implementation in the spirit of btcd's own ffldb.
package database

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockRegion identifies a range of bytes within a stored block, used to
// fetch a block's header or a single transaction without reading the whole
// block from disk.
type BlockRegion struct {
	Hash   *chainhash.Hash
	Offset uint32
	Len    uint32
}

// Cursor iterates the key/value pairs of a bucket in byte-sorted key order.
type Cursor interface {
	Bucket() Bucket

	Delete() error

	First() bool
	Last() bool
	Next() bool
	Prev() bool
	Seek(seek []byte) bool

	Key() []byte
	Value() []byte
}

// Bucket represents a collection of key/value pairs, and may itself contain
// nested buckets. The UTXO set is stored as a single top-level bucket keyed
// by serialized outpoint.
type Bucket interface {
	Bucket(key []byte) Bucket
	CreateBucket(key []byte) (Bucket, error)
	CreateBucketIfNotExists(key []byte) (Bucket, error)
	DeleteNestedBucket(key []byte) error
	ForEach(func(k, v []byte) error) error
	ForEachBucket(func(k []byte) error) error
	Cursor() Cursor
	Writable() bool

	Put(key, value []byte) error
	Get(key []byte) []byte
	Delete(key []byte) error
}

// Tx represents an in-progress database transaction. Read-only
// transactions may run concurrently, but only a single read-write
// transaction may be active at any one time (single-writer semantics).
type Tx interface {
	Metadata() Bucket

	StoreBlock(block BlockSerializer) error

	// StoreUndoData appends the undo record for the block identified by
	// hash to the undo flat files; like all writes it becomes durable
	// when the transaction commits.
	StoreUndoData(hash *chainhash.Hash, data []byte) error

	// FetchUndoData returns the undo record stored for the block
	// identified by hash, or nil if none was stored.
	FetchUndoData(hash *chainhash.Hash) ([]byte, error)

	HasBlock(hash *chainhash.Hash) (bool, error)
	HasBlocks(hashes []chainhash.Hash) ([]bool, error)

	FetchBlockHeader(hash *chainhash.Hash) ([]byte, error)
	FetchBlockHeaders(hashes []chainhash.Hash) ([][]byte, error)
	FetchBlock(hash *chainhash.Hash) ([]byte, error)
	FetchBlocks(hashes []chainhash.Hash) ([][]byte, error)
	FetchBlockRegion(region *BlockRegion) ([]byte, error)
	FetchBlockRegions(regions []BlockRegion) ([][]byte, error)

	Commit() error
	Rollback() error
}

// BlockSerializer is satisfied by any type able to produce both its
// identifying hash and its wire-serialized bytes; btcutil.Block implements
// it. Kept as a narrow interface here so database does not import btcutil
// (avoiding an import cycle, since btcutil may eventually want storage
// helpers of its own).
type BlockSerializer interface {
	Hash() *chainhash.Hash
	Bytes() ([]byte, error)
}

// DB is a handle to a single database instance, providing the transactional
// View/Update pair expected of Store's applyBatch contract.
type DB interface {
	Type() string

	Begin(writable bool) (Tx, error)

	View(fn func(tx Tx) error) error
	Update(fn func(tx Tx) error) error

	Close() error
}

// Driver defines the structure used to register a concrete database
// implementation under a type string, mirroring the sql.Register pattern.
type Driver struct {
	DbType   string
	Create   func(args ...interface{}) (DB, error)
	Open     func(args ...interface{}) (DB, error)
	UseLogger func(logger Logger)
}

// Logger is the minimal logging surface a driver may accept via UseLogger;
// satisfied directly by btclog.Logger.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})
}
