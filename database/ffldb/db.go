// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ffldb is the sole database.Driver registered by this module: a
// flat-file block store paired with a goleveldb-backed metadata keyspace
// holding the UTXO set, the block index, and chain-head pointers. It
// enforces the database contract's single-writer semantics via a mutex
// held for the duration of any writable transaction.
package ffldb

import (
	"path/filepath"
	"sync"

	"github.com/btcnode/node/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type db struct {
	ldb   *leveldb.DB
	store *blockStore

	writerMu sync.Mutex
	closed   bool
}

var _ database.DB = (*db)(nil)

func (d *db) Type() string { return dbType }

func (d *db) Begin(writable bool) (database.Tx, error) {
	if d.closed {
		return nil, database.Error{ErrorCode: database.ErrDbNotOpen, Description: "database is closed"}
	}
	if writable {
		d.writerMu.Lock()
	}
	return newTransaction(d, writable), nil
}

func (d *db) unlockWriter() {
	d.writerMu.Unlock()
}

func (d *db) View(fn func(tx database.Tx) error) error {
	tx, err := d.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func (d *db) Update(fn func(tx database.Tx) error) error {
	tx, err := d.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *db) Close() error {
	d.writerMu.Lock()
	defer d.writerMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.store.Close()
	return d.ldb.Close()
}

const dbType = "ffldb"

// openDB opens (or creates, if create is true) the ffldb database rooted at
// dbPath. The metadata keyspace lives at dbPath/metadata, the flat block
// files under dbPath/blocks. cacheMiB, when
// positive, sizes leveldb's block cache and write buffer (--dbcache).
func openDB(dbPath string, network uint32, create bool, cacheMiB int) (database.DB, error) {
	opts := &opt.Options{
		ErrorIfMissing: !create,
		ErrorIfExist:   false,
	}
	if cacheMiB > 0 {
		opts.BlockCacheCapacity = cacheMiB / 2 * opt.MiB
		opts.WriteBuffer = cacheMiB / 4 * opt.MiB
	}
	ldb, err := leveldb.OpenFile(filepath.Join(dbPath, "metadata"), opts)
	if err != nil {
		return nil, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "failed to open metadata store", Err: err}
	}
	store, err := newBlockStore(filepath.Join(dbPath, "blocks"), network)
	if err != nil {
		ldb.Close()
		return nil, err
	}
	log.Infof("Block database loaded from %s", dbPath)
	return &db{ldb: ldb, store: store}, nil
}

// PruneBlocks deletes whole old block/undo flat files until total flat-file
// usage is at or below targetBytes, never touching the files currently
// being written. It is found by callers via interface assertion rather
// than the database.DB interface, since pruning is driver-specific.
func (db *db) PruneBlocks(targetBytes uint64) (int, error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	if db.closed {
		return 0, database.Error{ErrorCode: database.ErrDbNotOpen, Description: "database is closed"}
	}
	removed, err := db.store.pruneTo(targetBytes)
	if removed > 0 {
		log.Infof("Pruned %d block file pair(s)", removed)
	}
	return removed, err
}
