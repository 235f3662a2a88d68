// Package convert bridges the real upstream btcsuite/btcd wire/btcutil types
// (used by test fixtures and any code that still talks to the upstream
// ecosystem) and this module's own locally-owned wire/btcutil types.
package convert

import (
	btcchainhash "github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/wire"
)

// HashToLocal converts an upstream chainhash.Hash to this module's own
// chainhash.Hash value. Both are [32]byte arrays under
// github.com/btcsuite/btcd/chaincfg/chainhash, since this module standardized
// on the upstream hash package; the conversion exists for callers that hold
// the upstream type through an upstream API.
func HashToLocal(hash *btcchainhash.Hash) *btcchainhash.Hash {
	return hash
}

// OutPointToLocal converts an upstream wire.OutPoint to a local wire.OutPoint.
func OutPointToLocal(op btcwire.OutPoint) wire.OutPoint {
	return wire.OutPoint{
		Hash:  op.Hash,
		Index: op.Index,
	}
}

// OutPointToUpstream converts a local wire.OutPoint to an upstream
// wire.OutPoint.
func OutPointToUpstream(op wire.OutPoint) btcwire.OutPoint {
	return btcwire.OutPoint{
		Hash:  op.Hash,
		Index: op.Index,
	}
}

// TxOutToLocal converts an upstream wire.TxOut to a local wire.TxOut.
func TxOutToLocal(txOut *btcwire.TxOut) *wire.TxOut {
	if txOut == nil {
		return nil
	}
	return &wire.TxOut{
		Value:    txOut.Value,
		PkScript: txOut.PkScript,
	}
}

// TxOutToUpstream converts a local wire.TxOut to an upstream wire.TxOut.
func TxOutToUpstream(txOut *wire.TxOut) *btcwire.TxOut {
	if txOut == nil {
		return nil
	}
	return &btcwire.TxOut{
		Value:    txOut.Value,
		PkScript: txOut.PkScript,
	}
}

// TxWitnessToLocal converts an upstream wire.TxWitness to a local
// wire.TxWitness.
func TxWitnessToLocal(witness btcwire.TxWitness) [][]byte {
	if witness == nil {
		return nil
	}
	local := make([][]byte, len(witness))
	copy(local, witness)
	return local
}

// TxWitnessToUpstream converts a local wire.TxWitness to an upstream
// wire.TxWitness.
func TxWitnessToUpstream(witness [][]byte) btcwire.TxWitness {
	if witness == nil {
		return nil
	}
	up := make(btcwire.TxWitness, len(witness))
	copy(up, witness)
	return up
}

// MsgTxToLocal converts an upstream wire.MsgTx to a local wire.MsgTx.
func MsgTxToLocal(tx *btcwire.MsgTx) *wire.MsgTx {
	if tx == nil {
		return nil
	}

	local := &wire.MsgTx{
		Version:  tx.Version,
		TxIn:     make([]*wire.TxIn, len(tx.TxIn)),
		TxOut:    make([]*wire.TxOut, len(tx.TxOut)),
		LockTime: tx.LockTime,
	}

	for i, txIn := range tx.TxIn {
		local.TxIn[i] = &wire.TxIn{
			PreviousOutPoint: OutPointToLocal(txIn.PreviousOutPoint),
			SignatureScript:  txIn.SignatureScript,
			Witness:          TxWitnessToLocal(txIn.Witness),
			Sequence:         txIn.Sequence,
		}
	}
	for i, txOut := range tx.TxOut {
		local.TxOut[i] = TxOutToLocal(txOut)
	}

	return local
}

// MsgTxToUpstream converts a local wire.MsgTx to an upstream wire.MsgTx.
func MsgTxToUpstream(tx *wire.MsgTx) *btcwire.MsgTx {
	if tx == nil {
		return nil
	}

	up := &btcwire.MsgTx{
		Version:  tx.Version,
		TxIn:     make([]*btcwire.TxIn, len(tx.TxIn)),
		TxOut:    make([]*btcwire.TxOut, len(tx.TxOut)),
		LockTime: tx.LockTime,
	}

	for i, txIn := range tx.TxIn {
		up.TxIn[i] = &btcwire.TxIn{
			PreviousOutPoint: OutPointToUpstream(txIn.PreviousOutPoint),
			SignatureScript:  txIn.SignatureScript,
			Witness:          TxWitnessToUpstream(txIn.Witness),
			Sequence:         txIn.Sequence,
		}
	}
	for i, txOut := range tx.TxOut {
		up.TxOut[i] = TxOutToUpstream(txOut)
	}

	return up
}

// BlockHeaderToLocal converts an upstream wire.BlockHeader to a local
// wire.BlockHeader.
func BlockHeaderToLocal(header *btcwire.BlockHeader) *wire.BlockHeader {
	if header == nil {
		return nil
	}
	return &wire.BlockHeader{
		Version:    header.Version,
		PrevBlock:  header.PrevBlock,
		MerkleRoot: header.MerkleRoot,
		Timestamp:  header.Timestamp,
		Bits:       header.Bits,
		Nonce:      header.Nonce,
	}
}

// BlockHeaderToUpstream converts a local wire.BlockHeader to an upstream
// wire.BlockHeader.
func BlockHeaderToUpstream(header *wire.BlockHeader) *btcwire.BlockHeader {
	if header == nil {
		return nil
	}
	return &btcwire.BlockHeader{
		Version:    header.Version,
		PrevBlock:  header.PrevBlock,
		MerkleRoot: header.MerkleRoot,
		Timestamp:  header.Timestamp,
		Bits:       header.Bits,
		Nonce:      header.Nonce,
	}
}

// MsgBlockToLocal converts an upstream wire.MsgBlock to a local
// wire.MsgBlock.
func MsgBlockToLocal(block *btcwire.MsgBlock) *wire.MsgBlock {
	if block == nil {
		return nil
	}

	local := &wire.MsgBlock{
		Header:       *BlockHeaderToLocal(&block.Header),
		Transactions: make([]*wire.MsgTx, len(block.Transactions)),
	}
	for i, tx := range block.Transactions {
		local.Transactions[i] = MsgTxToLocal(tx)
	}
	return local
}

// MsgBlockToUpstream converts a local wire.MsgBlock to an upstream
// wire.MsgBlock.
func MsgBlockToUpstream(block *wire.MsgBlock) *btcwire.MsgBlock {
	if block == nil {
		return nil
	}

	up := &btcwire.MsgBlock{
		Header:       *BlockHeaderToUpstream(&block.Header),
		Transactions: make([]*btcwire.MsgTx, len(block.Transactions)),
	}
	for i, tx := range block.Transactions {
		up.Transactions[i] = MsgTxToUpstream(tx)
	}
	return up
}

// NewLocalTx builds a local *btcutil.Tx from a local wire.MsgTx. Named to
// mirror the original conversion helper's call sites in test fixtures.
func NewLocalTx(msgTx *wire.MsgTx) *btcutil.Tx {
	return btcutil.NewTx(msgTx)
}

// NewLocalBlock builds a local *btcutil.Block from a local wire.MsgBlock.
func NewLocalBlock(msgBlock *wire.MsgBlock) *btcutil.Block {
	return btcutil.NewBlock(msgBlock)
}

// FromUpstreamTx converts an upstream *btcwire.MsgTx directly into a local
// *btcutil.Tx, for bridging test data loaded through the upstream btcutil
// block-file reader.
func FromUpstreamTx(tx *btcwire.MsgTx) *btcutil.Tx {
	return btcutil.NewTx(MsgTxToLocal(tx))
}

// FromUpstreamBlock converts an upstream *btcwire.MsgBlock directly into a
// local *btcutil.Block.
func FromUpstreamBlock(block *btcwire.MsgBlock) *btcutil.Block {
	return btcutil.NewBlock(MsgBlockToLocal(block))
}
