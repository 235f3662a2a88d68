// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MsgSendCmpct announces BIP152 compact-block relay support, and whether
// the peer wants high-bandwidth (unsolicited) or low-bandwidth (inv-first)
// relay.
type MsgSendCmpct struct {
	Announce bool
	Version  uint64
}

func (msg *MsgSendCmpct) BtcDecode(r io.Reader, pver uint32) error {
	if err := readElement(r, &msg.Announce); err != nil {
		return err
	}
	return readElement(r, &msg.Version)
}

func (msg *MsgSendCmpct) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeElement(w, msg.Announce); err != nil {
		return err
	}
	return writeElement(w, msg.Version)
}

func (msg *MsgSendCmpct) Command() string                    { return CmdSendCmpct }
func (msg *MsgSendCmpct) MaxPayloadLength(pver uint32) uint32 { return 9 }

// PrefilledTx is a transaction included in full within a compact block,
// identified by its index within the block (BIP152).
type PrefilledTx struct {
	Index uint64
	Tx    *MsgTx
}

// MsgCmpctBlock announces a new block by header plus short transaction IDs,
// falling back to getblocktxn for any the peer's mempool lacks (BIP152).
type MsgCmpctBlock struct {
	Header         BlockHeader
	Nonce          uint64
	ShortTxIDs     []uint64
	PrefilledTxns  []PrefilledTx
}

func (msg *MsgCmpctBlock) BtcDecode(r io.Reader, pver uint32) error {
	if err := msg.Header.Deserialize(r); err != nil {
		return err
	}
	if err := readElement(r, &msg.Nonce); err != nil {
		return err
	}
	shortCount, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	msg.ShortTxIDs = make([]uint64, 0, shortCount)
	for i := uint64(0); i < shortCount; i++ {
		var buf [6]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		id := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 |
			uint64(buf[3])<<24 | uint64(buf[4])<<32 | uint64(buf[5])<<40
		msg.ShortTxIDs = append(msg.ShortTxIDs, id)
	}
	prefilledCount, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	msg.PrefilledTxns = make([]PrefilledTx, 0, prefilledCount)
	var indexAccum uint64
	for i := uint64(0); i < prefilledCount; i++ {
		diff, err := ReadVarInt(r, pver)
		if err != nil {
			return err
		}
		indexAccum += diff
		tx := &MsgTx{}
		if err := tx.BtcDecode(r, pver); err != nil {
			return err
		}
		msg.PrefilledTxns = append(msg.PrefilledTxns, PrefilledTx{Index: indexAccum, Tx: tx})
		indexAccum++
	}
	return nil
}

func (msg *MsgCmpctBlock) BtcEncode(w io.Writer, pver uint32) error {
	if err := msg.Header.Serialize(w); err != nil {
		return err
	}
	if err := writeElement(w, msg.Nonce); err != nil {
		return err
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.ShortTxIDs))); err != nil {
		return err
	}
	for _, id := range msg.ShortTxIDs {
		buf := [6]byte{
			byte(id), byte(id >> 8), byte(id >> 16),
			byte(id >> 24), byte(id >> 32), byte(id >> 40),
		}
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.PrefilledTxns))); err != nil {
		return err
	}
	var lastIndex uint64
	for i, p := range msg.PrefilledTxns {
		diff := p.Index - lastIndex
		if i == 0 {
			diff = p.Index
		}
		if err := WriteVarInt(w, pver, diff); err != nil {
			return err
		}
		if err := p.Tx.BtcEncode(w, pver); err != nil {
			return err
		}
		lastIndex = p.Index + 1
	}
	return nil
}

func (msg *MsgCmpctBlock) Command() string                    { return CmdCmpctBlock }
func (msg *MsgCmpctBlock) MaxPayloadLength(pver uint32) uint32 { return MaxBlockPayload }

// MsgGetBlockTxn requests the full transactions at the given indices of a
// previously announced compact block (BIP152).
type MsgGetBlockTxn struct {
	BlockHash chainhash.Hash
	Indexes   []uint64
}

func (msg *MsgGetBlockTxn) BtcDecode(r io.Reader, pver uint32) error {
	if _, err := io.ReadFull(r, msg.BlockHash[:]); err != nil {
		return err
	}
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	msg.Indexes = make([]uint64, 0, count)
	var accum uint64
	for i := uint64(0); i < count; i++ {
		diff, err := ReadVarInt(r, pver)
		if err != nil {
			return err
		}
		if i == 0 {
			accum = diff
		} else {
			accum += diff + 1
		}
		msg.Indexes = append(msg.Indexes, accum)
	}
	return nil
}

func (msg *MsgGetBlockTxn) BtcEncode(w io.Writer, pver uint32) error {
	if _, err := w.Write(msg.BlockHash[:]); err != nil {
		return err
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.Indexes))); err != nil {
		return err
	}
	var last uint64
	for i, idx := range msg.Indexes {
		diff := idx
		if i > 0 {
			diff = idx - last - 1
		}
		if err := WriteVarInt(w, pver, diff); err != nil {
			return err
		}
		last = idx
	}
	return nil
}

func (msg *MsgGetBlockTxn) Command() string                    { return CmdGetBlockTxn }
func (msg *MsgGetBlockTxn) MaxPayloadLength(pver uint32) uint32 { return MaxBlockPayload }

// MsgBlockTxn answers a getblocktxn with the requested transactions (BIP152).
type MsgBlockTxn struct {
	BlockHash    chainhash.Hash
	Transactions []*MsgTx
}

func (msg *MsgBlockTxn) BtcDecode(r io.Reader, pver uint32) error {
	if _, err := io.ReadFull(r, msg.BlockHash[:]); err != nil {
		return err
	}
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	msg.Transactions = make([]*MsgTx, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := &MsgTx{}
		if err := tx.BtcDecode(r, pver); err != nil {
			return err
		}
		msg.Transactions = append(msg.Transactions, tx)
	}
	return nil
}

func (msg *MsgBlockTxn) BtcEncode(w io.Writer, pver uint32) error {
	if _, err := w.Write(msg.BlockHash[:]); err != nil {
		return err
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.Transactions))); err != nil {
		return err
	}
	for _, tx := range msg.Transactions {
		if err := tx.BtcEncode(w, pver); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgBlockTxn) Command() string                    { return CmdBlockTxn }
func (msg *MsgBlockTxn) MaxPayloadLength(pver uint32) uint32 { return MaxBlockPayload }
