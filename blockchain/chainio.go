// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/database"
	"github.com/btcnode/node/wire"
)

var (
	// chainStateKeyName is the name of the metadata key that houses the
	// best known chain state.
	chainStateKeyName = []byte("chainstate")

	// utxoSetBucketName houses the unspent transaction output set,
	// keyed by serialized outpoint.
	utxoSetBucketName = []byte("utxosetv2")

	// blockHeaderBucketName houses every accepted header, keyed by block
	// hash, independent of whether the block is on the active chain --
	// this is what initChainState walks to rebuild the in-memory header
	// tree after a restart.
	blockHeaderBucketName = []byte("blockheaderidx")

	byteOrder = binaryLittleEndian{}
)

// outpointKey returns the flat byte encoding used to key the UTXO set
// bucket: the 32-byte tx hash followed by the 4-byte little-endian output
// index.
func outpointKey(op wire.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, op.Hash[:])
	byteOrder.PutUint32(key[chainhash.HashSize:], op.Index)
	return key
}

// dbPutUtxoView writes every entry in the view to the UTXO set bucket,
// deleting entries that have become spent, satisfying Store's atomic-batch contract for the UTXO half of a block connection/disconnection.
func dbPutUtxoView(dbTx database.Tx, view *UtxoViewpoint) error {
	utxoBucket, err := dbTx.Metadata().CreateBucketIfNotExists(utxoSetBucketName)
	if err != nil {
		return err
	}

	for outpoint, entry := range view.Entries() {
		if entry == nil {
			continue
		}
		key := outpointKey(outpoint)
		if entry.IsSpent() {
			if err := utxoBucket.Delete(key); err != nil {
				return err
			}
			continue
		}
		serialized, err := serializeUtxoEntry(entry)
		if err != nil {
			return err
		}
		if err := utxoBucket.Put(key, serialized); err != nil {
			return err
		}
	}
	return nil
}

// dbFetchUtxoEntry looks up a single unspent output directly in the UTXO
// set bucket, returning (nil, nil) when the outpoint is unknown or spent.
func dbFetchUtxoEntry(dbTx database.Tx, outpoint wire.OutPoint) (*UtxoEntry, error) {
	utxoBucket := dbTx.Metadata().Bucket(utxoSetBucketName)
	if utxoBucket == nil {
		return nil, nil
	}
	serialized := utxoBucket.Get(outpointKey(outpoint))
	if serialized == nil {
		return nil, nil
	}
	return deserializeUtxoEntry(serialized)
}

// dbPutBlockHeader persists a single accepted header keyed by block hash,
// independent of the raw block bytes the Store's append-only block files
// hold, so the header tree can be rebuilt without re-reading every block
// file on restart.
func dbPutBlockHeader(dbTx database.Tx, header *wire.BlockHeader) error {
	bucket, err := dbTx.Metadata().CreateBucketIfNotExists(blockHeaderBucketName)
	if err != nil {
		return err
	}
	var buf [80]byte
	if err := serializeBlockHeader(header, buf[:]); err != nil {
		return err
	}
	hash := header.BlockHash()
	return bucket.Put(hash[:], buf[:])
}

// dbFetchAllBlockHeaders returns every persisted header, used once at
// startup to reconstruct the in-memory header tree.
func dbFetchAllBlockHeaders(dbTx database.Tx) ([]*wire.BlockHeader, error) {
	bucket := dbTx.Metadata().Bucket(blockHeaderBucketName)
	if bucket == nil {
		return nil, nil
	}
	var headers []*wire.BlockHeader
	err := bucket.ForEach(func(k, v []byte) error {
		header, err := deserializeBlockHeader(v)
		if err != nil {
			return err
		}
		headers = append(headers, header)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return headers, nil
}

// serializeBlockHeader writes the 80-byte wire encoding of header into dst.
func serializeBlockHeader(header *wire.BlockHeader, dst []byte) error {
	var buf bytes.Buffer
	buf.Grow(80)
	if err := header.Serialize(&buf); err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}

// deserializeBlockHeader parses the 80-byte wire encoding of a header.
func deserializeBlockHeader(serialized []byte) (*wire.BlockHeader, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(serialized)); err != nil {
		return nil, err
	}
	return &header, nil
}

// binaryLittleEndian is a tiny local shim so this file does not need to
// import encoding/binary just for its few call sites in this package.
type binaryLittleEndian struct{}

func (binaryLittleEndian) PutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (binaryLittleEndian) Uint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (binaryLittleEndian) PutUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

func (binaryLittleEndian) Uint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40 |
		uint64(b[6])<<48 | uint64(b[7])<<56
}

// -----------------------------------------------------------------------
// Spent transaction outputs
// -----------------------------------------------------------------------

// SpentTxOut contains a spent transaction output and potential additional
// data that was removed from the UTXO set when it was spent, restored by a
// reorg's undo pass.
type SpentTxOut struct {
	Amount     int64
	PkScript   []byte
	IsCoinBase bool
	Height     int32
}

// spentTxOutHeaderCode returns the calculated header code to be used when
// serializing the provided output.
func spentTxOutHeaderCode(stxo *SpentTxOut) uint64 {
	headerCode := uint64(stxo.Height) << 1
	if stxo.IsCoinBase {
		headerCode |= 0x01
	}

	return headerCode
}

// spentTxOutSerializeSize returns the number of bytes it would take to
// serialize the passed stxo according to the format described above.
func spentTxOutSerializeSize(stxo *SpentTxOut) int {
	headerCode := spentTxOutHeaderCode(stxo)
	size := serializeSizeVLQ(headerCode)
	if stxo.Height > 0 {
		size += serializeSizeVLQ(0)
	}

	return size + compressedTxOutSize(uint64(stxo.Amount), stxo.PkScript)
}

// putSpentTxOut serializes the passed stxo according to the format
// described above directly into the passed target byte slice. The target
// byte slice must be at least large enough to handle the number of bytes
// returned by the spentTxOutSerializeSize function or it will panic.
func putSpentTxOut(target []byte, stxo *SpentTxOut) int {
	headerCode := spentTxOutHeaderCode(stxo)
	offset := putVLQ(target, headerCode)
	if stxo.Height > 0 {
		offset += putVLQ(target[offset:], 0)
	}

	return offset + putCompressedTxOut(target[offset:], uint64(stxo.Amount),
		stxo.PkScript)
}

// decodeSpentTxOut decodes the passed serialized stxo entry, possibly
// followed by other data, into the passed stxo struct. It returns the
// number of bytes read.
func decodeSpentTxOut(serialized []byte, stxo *SpentTxOut) (int, error) {
	if len(serialized) == 0 {
		return 0, errDeserialize("no serialized bytes")
	}

	code, offset := deserializeVLQ(serialized)
	if offset >= len(serialized) {
		return offset, errDeserialize("unexpected end of data after " +
			"spent tx out header code")
	}

	stxo.IsCoinBase = code&0x01 != 0
	stxo.Height = int32(code >> 1)

	if stxo.Height > 0 {
		_, bytesRead := deserializeVLQ(serialized[offset:])
		offset += bytesRead
		if offset >= len(serialized) {
			return offset, errDeserialize("unexpected end of data " +
				"after reserved value")
		}
	}

	amount, pkScript, bytesRead, err := decompressTxOut(serialized[offset:])
	offset += bytesRead
	if err != nil {
		return offset, errDeserialize("unable to decompress txout: " +
			err.Error())
	}

	stxo.Amount = amount
	stxo.PkScript = pkScript
	return offset, nil
}

// serializeSpendJournalEntry serializes all the passed spent txouts for a
// single transaction into a single byte slice according to the format
// described above.
func serializeSpendJournalEntry(stxos []SpentTxOut) []byte {
	if len(stxos) == 0 {
		return nil
	}

	size := 0
	for i := range stxos {
		size += spentTxOutSerializeSize(&stxos[i])
	}
	serialized := make([]byte, size)

	offset := 0
	for i := len(stxos) - 1; i > -1; i-- {
		offset += putSpentTxOut(serialized[offset:], &stxos[i])
	}

	return serialized
}

// deserializeSpendJournalEntry decodes the passed serialized byte slice into
// a slice of spent txouts according to the format described in detail
// above. Since the serialization format is not self describing, as noted
// in the format comments, this function also requires the transactions that
// spend the txouts.
func deserializeSpendJournalEntry(serialized []byte, txns []*wire.MsgTx) ([]SpentTxOut, error) {
	var numStxos int
	for _, tx := range txns {
		numStxos += len(tx.TxIn)
	}

	if len(serialized) == 0 {
		if numStxos != 0 {
			return nil, AssertError("missing spend journal data for " +
				"transactions that spend outputs")
		}
		return nil, nil
	}
	if numStxos == 0 {
		return nil, nil
	}

	stxos := make([]SpentTxOut, numStxos)
	stxoIdx := numStxos - 1
	offset := 0
	for txIdx := len(txns) - 1; txIdx > -1; txIdx-- {
		tx := txns[txIdx]

		for txInIdx := len(tx.TxIn) - 1; txInIdx > -1; txInIdx-- {
			txIn := tx.TxIn[txInIdx]
			stxo := &stxos[stxoIdx]
			stxoIdx--

			n, err := decodeSpentTxOut(serialized[offset:], stxo)
			offset += n
			if err != nil {
				return nil, errDeserialize("unable to decode " +
					"stxo for " + txIn.PreviousOutPoint.String() +
					": " + err.Error())
			}
		}
	}

	return stxos, nil
}

// -----------------------------------------------------------------------
// Unspent transaction outputs
// -----------------------------------------------------------------------

// txoFlags is a bitmask defining additional information and state for a
// transaction output in a UTXO set.
type txoFlags uint8

const (
	// tfCoinBase indicates that a txout was contained in a coinbase tx.
	tfCoinBase txoFlags = 1 << iota

	// tfSpent indicates that a txout is spent.
	tfSpent

	// tfModified indicates that a txout has been modified since it was
	// loaded.
	tfModified
)

// UtxoEntry houses details about an individual unspent transaction output
// such as whether it is spent, its blockchain height, whether it's a
// coinbase output and the amount and script held by it, keyed by
// outpoint.
type UtxoEntry struct {
	amount      int64
	pkScript    []byte
	blockHeight int32
	packedFlags txoFlags
}

// isModified returns whether the output has been modified since it was
// loaded.
func (entry *UtxoEntry) isModified() bool {
	return entry.packedFlags&tfModified == tfModified
}

// IsCoinBase returns whether the output was contained in a coinbase
// transaction.
func (entry *UtxoEntry) IsCoinBase() bool {
	return entry.packedFlags&tfCoinBase == tfCoinBase
}

// BlockHeight returns the height of the block containing the output.
func (entry *UtxoEntry) BlockHeight() int32 {
	return entry.blockHeight
}

// IsSpent returns whether the output has been spent.
func (entry *UtxoEntry) IsSpent() bool {
	return entry.packedFlags&tfSpent == tfSpent
}

// Spend marks the output as spent.
func (entry *UtxoEntry) Spend() {
	if entry.IsSpent() {
		return
	}

	entry.packedFlags |= tfSpent | tfModified
}

// Amount returns the amount of the output.
func (entry *UtxoEntry) Amount() int64 {
	return entry.amount
}

// PkScript returns the public key script of the output.
func (entry *UtxoEntry) PkScript() []byte {
	return entry.pkScript
}

// Clone returns a shallow copy of the utxo entry.
func (entry *UtxoEntry) Clone() *UtxoEntry {
	if entry == nil {
		return nil
	}

	return &UtxoEntry{
		amount:      entry.amount,
		pkScript:    entry.pkScript,
		blockHeight: entry.blockHeight,
		packedFlags: entry.packedFlags,
	}
}

// NewUtxoEntry returns a new unspent transaction output entry with the
// provided details.
func NewUtxoEntry(amount int64, pkScript []byte, blockHeight int32, isCoinBase bool) *UtxoEntry {
	var cbFlag txoFlags
	if isCoinBase {
		cbFlag |= tfCoinBase
	}

	return &UtxoEntry{
		amount:      amount,
		pkScript:    pkScript,
		blockHeight: blockHeight,
		packedFlags: cbFlag,
	}
}

// utxoEntryHeaderCode returns the calculated header code to be used when
// serializing the provided utxo entry.
func utxoEntryHeaderCode(entry *UtxoEntry) (uint64, error) {
	if entry.IsSpent() {
		return 0, AssertError("attempt to serialize spent utxo header")
	}

	headerCode := uint64(entry.BlockHeight()) << 1
	if entry.IsCoinBase() {
		headerCode |= 0x01
	}

	return headerCode, nil
}

// serializeUtxoEntry returns the entry serialized to a format that is
// suitable for long-term storage. The format is described in detail above.
func serializeUtxoEntry(entry *UtxoEntry) ([]byte, error) {
	if entry.IsSpent() {
		return nil, nil
	}

	headerCode, err := utxoEntryHeaderCode(entry)
	if err != nil {
		return nil, err
	}

	size := serializeSizeVLQ(headerCode) +
		compressedTxOutSize(uint64(entry.Amount()), entry.PkScript())

	serialized := make([]byte, size)

	offset := putVLQ(serialized, headerCode)
	putCompressedTxOut(serialized[offset:], uint64(entry.Amount()),
		entry.PkScript())

	return serialized, nil
}

// deserializeUtxoEntry decodes a utxo entry from the passed serialized byte
// slice into a new UtxoEntry using a format that is suitable for long-term
// storage.
func deserializeUtxoEntry(serialized []byte) (*UtxoEntry, error) {
	code, offset := deserializeVLQ(serialized)
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after header")
	}

	isCoinBase := code&0x01 != 0
	blockHeight := int32(code >> 1)

	amount, pkScript, _, err := decompressTxOut(serialized[offset:])
	if err != nil {
		return nil, errDeserialize("unable to decompress txout: " +
			err.Error())
	}

	entry := &UtxoEntry{
		amount:      amount,
		pkScript:    pkScript,
		blockHeight: blockHeight,
	}
	if isCoinBase {
		entry.packedFlags |= tfCoinBase
	}

	return entry, nil
}

// -----------------------------------------------------------------------
// Best chain state
// -----------------------------------------------------------------------

// bestChainState houses information about the current best block chain
// tip, total number of transactions, and the accumulated proof of work.
// This is data that is frequently accessed so is cached in memory and
// kept consistent with the database as the chain tip moves.
type bestChainState struct {
	hash      chainhash.Hash
	height    uint32
	totalTxns uint64
	workSum   *big.Int
}

// serializeBestChainState returns the serialization of the passed block best
// chain state. This is data to be stored in the chain state bucket.
func serializeBestChainState(state bestChainState) []byte {
	workSumBytes := state.workSum.Bytes()
	workSumBytesLen := uint32(len(workSumBytes))

	serializedLen := chainhash.HashSize + 4 + 8 + 4 + workSumBytesLen
	serializedData := make([]byte, serializedLen)

	copy(serializedData[0:chainhash.HashSize], state.hash[:])
	offset := uint32(chainhash.HashSize)
	byteOrder.PutUint32(serializedData[offset:], state.height)
	offset += 4
	byteOrder.PutUint64(serializedData[offset:], state.totalTxns)
	offset += 8
	byteOrder.PutUint32(serializedData[offset:], workSumBytesLen)
	offset += 4
	copy(serializedData[offset:], workSumBytes)

	return serializedData[:]
}

// deserializeBestChainState deserializes the passed serialized best chain
// state. This is data stored in the chain state bucket and is updated after
// every block is connected or disconnected form the main chain.
func deserializeBestChainState(serializedData []byte) (bestChainState, error) {
	if len(serializedData) < chainhash.HashSize+16 {
		return bestChainState{}, database.Error{
			ErrorCode:   database.ErrCorruption,
			Description: "corrupt best chain state",
		}
	}

	state := bestChainState{}
	copy(state.hash[:], serializedData[0:chainhash.HashSize])
	offset := uint32(chainhash.HashSize)
	state.height = byteOrder.Uint32(serializedData[offset : offset+4])
	offset += 4
	state.totalTxns = byteOrder.Uint64(serializedData[offset : offset+8])
	offset += 8
	workSumBytesLen := byteOrder.Uint32(serializedData[offset : offset+4])
	offset += 4

	if uint32(len(serializedData[offset:])) < workSumBytesLen {
		return bestChainState{}, database.Error{
			ErrorCode:   database.ErrCorruption,
			Description: "corrupt work sum",
		}
	}
	workSumBytes := serializedData[offset : offset+workSumBytesLen]
	state.workSum = new(big.Int).SetBytes(workSumBytes)

	return state, nil
}

// dbPutBestState uses an existing database transaction to update the best
// chain state with the given parameters.
func dbPutBestState(tx database.Tx, state bestChainState) error {
	serializedData := serializeBestChainState(state)
	return tx.Metadata().Put(chainStateKeyName, serializedData)
}

// dbFetchBestState fetches the best chain state from the database.
func dbFetchBestState(tx database.Tx) (bestChainState, error) {
	serializedData := tx.Metadata().Get(chainStateKeyName)
	if serializedData == nil {
		return bestChainState{}, database.Error{
			ErrorCode:   database.ErrCorruption,
			Description: "missing chain state",
		}
	}

	return deserializeBestChainState(serializedData)
}

// serializeAndPutSpendJournal persists the undo data for a newly connected
// block so a later reorg can replay it to restore the outputs the block
// destroyed. The record lands in the rev flat files alongside the block
// files, indexed by block hash.
func serializeAndPutSpendJournal(dbTx database.Tx, hash chainhash.Hash, stxos []SpentTxOut) error {
	serialized := serializeSpendJournalEntry(stxos)
	if serialized == nil {
		return nil
	}
	return dbTx.StoreUndoData(&hash, serialized)
}

// fetchSpendJournal reads back the undo data for block hash and decodes it
// against that block's transactions. txns is the block's full transaction
// list; the coinbase, which spends nothing, is skipped.
func fetchSpendJournal(dbTx database.Tx, hash chainhash.Hash, txns []*wire.MsgTx) ([]SpentTxOut, error) {
	serialized, err := dbTx.FetchUndoData(&hash)
	if err != nil {
		return nil, err
	}
	return deserializeSpendJournalEntry(serialized, txns[1:])
}
