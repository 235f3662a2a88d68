// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ffldb_test

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/database"
	_ "github.com/btcnode/node/database/ffldb"
	"github.com/btcnode/node/wire"
)

func openTestDB(t *testing.T) database.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ffldb")
	db, err := database.Create("ffldb", dbPath, uint32(wire.MainNet))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStoreAndFetchBlock checks the append-then-read contract: a stored
// block reads back byte-identical, by hash, within and across
// transactions.
func TestStoreAndFetchBlock(t *testing.T) {
	db := openTestDB(t)

	genesis := btcutil.NewBlock(chaincfg.MainNetParams.GenesisBlock)
	wantBytes, err := genesis.Bytes()
	require.NoError(t, err)

	undoData := []byte{0x01, 0x02, 0x03, 0x04}
	err = db.Update(func(tx database.Tx) error {
		require.NoError(t, tx.StoreBlock(genesis))
		require.NoError(t, tx.StoreUndoData(genesis.Hash(), undoData))

		// Read-after-write within the same transaction.
		have, err := tx.HasBlock(genesis.Hash())
		require.NoError(t, err)
		require.True(t, have)
		gotBytes, err := tx.FetchBlock(genesis.Hash())
		require.NoError(t, err)
		require.Equal(t, wantBytes, gotBytes)
		return nil
	})
	require.NoError(t, err)

	// And again from a fresh read-only transaction.
	err = db.View(func(tx database.Tx) error {
		gotBytes, err := tx.FetchBlock(genesis.Hash())
		require.NoError(t, err)
		require.Equal(t, wantBytes, gotBytes)

		hdr, err := tx.FetchBlockHeader(genesis.Hash())
		require.NoError(t, err)
		require.Equal(t, wantBytes[:80], hdr)

		gotUndo, err := tx.FetchUndoData(genesis.Hash())
		require.NoError(t, err)
		require.Equal(t, undoData, gotUndo)

		// A block that never stored undo data reports none.
		other := chainhash.DoubleHashH([]byte("no such block"))
		gotUndo, err = tx.FetchUndoData(&other)
		require.NoError(t, err)
		require.Nil(t, gotUndo)
		return nil
	})
	require.NoError(t, err)
}

// TestMetadataAtomicity checks an Update whose closure errors leaves no
// trace: either all of a batch is observed or none of it.
func TestMetadataAtomicity(t *testing.T) {
	db := openTestDB(t)

	bucketKey := []byte("testbucket")
	err := db.Update(func(tx database.Tx) error {
		_, err := tx.Metadata().CreateBucket(bucketKey)
		return err
	})
	require.NoError(t, err)

	// First write commits.
	err = db.Update(func(tx database.Tx) error {
		return tx.Metadata().Bucket(bucketKey).Put([]byte("k1"), []byte("v1"))
	})
	require.NoError(t, err)

	// Second write errors out mid-batch and must roll back entirely.
	errAbort := database.Error{ErrorCode: database.ErrDriverSpecific, Description: "abort"}
	err = db.Update(func(tx database.Tx) error {
		bucket := tx.Metadata().Bucket(bucketKey)
		require.NoError(t, bucket.Put([]byte("k2"), []byte("v2")))
		require.NoError(t, bucket.Put([]byte("k1"), []byte("overwritten")))
		return errAbort
	})
	require.Error(t, err)

	err = db.View(func(tx database.Tx) error {
		bucket := tx.Metadata().Bucket(bucketKey)
		require.Equal(t, []byte("v1"), bucket.Get([]byte("k1")))
		require.Nil(t, bucket.Get([]byte("k2")))
		return nil
	})
	require.NoError(t, err)
}

// TestReopenPersists checks committed state survives close/open.
func TestReopenPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ffldb")
	db, err := database.Create("ffldb", dbPath, uint32(wire.MainNet))
	require.NoError(t, err)

	genesis := btcutil.NewBlock(chaincfg.MainNetParams.GenesisBlock)
	err = db.Update(func(tx database.Tx) error {
		return tx.StoreBlock(genesis)
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = database.Open("ffldb", dbPath, uint32(wire.MainNet))
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx database.Tx) error {
		have, err := tx.HasBlock(genesis.Hash())
		require.NoError(t, err)
		require.True(t, have)
		return nil
	})
	require.NoError(t, err)
}
