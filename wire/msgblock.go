// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxBlockPayload is the consensus maximum serialized size of a block.
const MaxBlockPayload = 4_000_000 // weight units bound by 4MB witness-inclusive serialization

// defaultTransactionAlloc and maxTxPerBlock bound the slice pre-allocation
// and sanity check when decoding an untrusted peer's block message.
const (
	defaultTransactionAlloc = 2048
	maxTxPerBlock           = 1_000_000
)

// MsgBlock implements a full Bitcoin block: its 80-byte header followed by
// the list of transactions it contains.
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
}

// NewMsgBlock returns a new block with the given header and no transactions.
func NewMsgBlock(header *BlockHeader) *MsgBlock {
	return &MsgBlock{
		Header:       *header,
		Transactions: make([]*MsgTx, 0, defaultTransactionAlloc),
	}
}

// AddTransaction appends tx to the block's transaction list.
func (msg *MsgBlock) AddTransaction(tx *MsgTx) {
	msg.Transactions = append(msg.Transactions, tx)
}

// BlockHash returns the block's identifying hash: the double-SHA256 of its
// header.
func (msg *MsgBlock) BlockHash() chainhash.Hash {
	return msg.Header.BlockHash()
}

// SerializeSize returns the full wire-format size of the block.
func (msg *MsgBlock) SerializeSize() int {
	n := BlockHeaderLen
	n += VarIntSerializeSize(uint64(len(msg.Transactions)))
	for _, tx := range msg.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

// Serialize writes the block in wire format: header | varint(tx-count) |
// tx-list.
func (msg *MsgBlock) Serialize(w io.Writer) error {
	if err := msg.Header.Serialize(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, 0, uint64(len(msg.Transactions))); err != nil {
		return err
	}
	for _, tx := range msg.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// SerializeNoWitness writes the block with every transaction's witness
// data stripped, the serialization block weight's base size is measured
// over.
func (msg *MsgBlock) SerializeNoWitness(w io.Writer) error {
	if err := msg.Header.Serialize(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, 0, uint64(len(msg.Transactions))); err != nil {
		return err
	}
	for _, tx := range msg.Transactions {
		if err := tx.SerializeNoWitness(w); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a block from its wire-format encoding.
func (msg *MsgBlock) Deserialize(r io.Reader) error {
	if err := msg.Header.Deserialize(r); err != nil {
		return err
	}

	count, err := ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxTxPerBlock {
		return fmt.Errorf("too many transactions to fit into a block "+
			"[count %d, max %d]", count, maxTxPerBlock)
	}

	msg.Transactions = make([]*MsgTx, 0, minUint64(count, defaultTransactionAlloc))
	for i := uint64(0); i < count; i++ {
		tx := &MsgTx{}
		if err := tx.Deserialize(r); err != nil {
			return err
		}
		msg.Transactions = append(msg.Transactions, tx)
	}
	return nil
}

// BtcEncode writes the block as a Message payload.
func (msg *MsgBlock) BtcEncode(w io.Writer, pver uint32) error { return msg.Serialize(w) }

// BtcDecode reads the block from a Message payload.
func (msg *MsgBlock) BtcDecode(r io.Reader, pver uint32) error { return msg.Deserialize(r) }

// Command returns the frame command string for a block message.
func (msg *MsgBlock) Command() string { return CmdBlock }

// MaxPayloadLength returns the maximum size this message is allowed to be.
func (msg *MsgBlock) MaxPayloadLength(pver uint32) uint32 { return MaxBlockPayload }

// HeaderOnly returns a MsgHeaders-style copy containing only the header,
// used when announcing a block to peers that requested headers-only relay.
func (msg *MsgBlock) HeaderOnly() *BlockHeader {
	h := msg.Header
	return &h
}

func minUint64(a uint64, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
