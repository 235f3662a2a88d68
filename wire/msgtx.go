// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxVersion is the current latest supported transaction version.
const TxVersion = 2

// MaxTxInSequenceNum is the maximum sequence number an input can have and
// still signal that its locktime should be honored.
const MaxTxInSequenceNum uint32 = 0xffffffff

// witnessMarkerFlag is the marker/flag byte pair that precedes witness data
// immediately after the version field on the wire (BIP144).
const (
	witnessMarker byte = 0x00
	witnessFlag   byte = 0x01
)

// SequenceLockTimeDisabled, when set in a TxIn's Sequence, disables
// relative locktime semantics for that input.
const SequenceLockTimeDisabled = 1 << 31

// SequenceLockTimeIsSeconds flags a relative locktime as counted in units
// of 512 seconds rather than blocks.
const SequenceLockTimeIsSeconds = 1 << 22

// SequenceLockTimeMask masks out the relative locktime value proper from a
// TxIn's Sequence field.
const SequenceLockTimeMask = 0x0000ffff

// SequenceLockTimeGranularity is the defined number of bits a relative
// locktime value counted in 512-second units must be shifted to convert it
// to an actual number of seconds.
const SequenceLockTimeGranularity = 9

// OutPoint defines a peer-to-peer transaction output, identified by the hash
// of the transaction that created it and its index within that
// transaction's output list.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new outpoint for the given hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{Hash: *hash, Index: index}
}

// String returns the canonical "hash:index" representation.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash.String(), o.Index)
}

// TxIn defines a transaction input, referencing a previous output it spends
// along with the script that authorizes that spend and a sequence number.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Witness          [][]byte
	Sequence         uint32
}

// NewTxIn returns a new input with the sequence set to its default,
// unlocked, value.
func NewTxIn(prevOut *OutPoint, signatureScript []byte, witness [][]byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Witness:          witness,
		Sequence:         MaxTxInSequenceNum,
	}
}

// SerializeSize returns the non-witness serialized size of the input.
func (t *TxIn) SerializeSize() int {
	return 32 + 4 + VarIntSerializeSize(uint64(len(t.SignatureScript))) +
		len(t.SignatureScript) + 4
}

// HasWitness reports whether the input carries any witness stack items.
func (t *TxIn) HasWitness() bool {
	return len(t.Witness) > 0
}

// WitnessSerializeSize returns the size of the input's witness stack as
// encoded on the wire (a varint item count followed by each length-prefixed
// item).
func (t *TxIn) WitnessSerializeSize() int {
	n := VarIntSerializeSize(uint64(len(t.Witness)))
	for _, item := range t.Witness {
		n += VarIntSerializeSize(uint64(len(item))) + len(item)
	}
	return n
}

// TxOut defines a transaction output: an amount of satoshis and the locking
// script that must be satisfied to spend it.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// NewTxOut returns a new output for the given value and locking script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{Value: value, PkScript: pkScript}
}

// SerializeSize returns the serialized size of the output.
func (t *TxOut) SerializeSize() int {
	return 8 + VarIntSerializeSize(uint64(len(t.PkScript))) + len(t.PkScript)
}

// MsgTx implements a Bitcoin transaction: its version, inputs, outputs and
// locktime, with optional BIP144 witness data on each input.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// NewMsgTx returns a new, empty transaction of the given version.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{Version: version}
}

// AddTxIn appends in to the transaction's input list.
func (msg *MsgTx) AddTxIn(in *TxIn) { msg.TxIn = append(msg.TxIn, in) }

// AddTxOut appends out to the transaction's output list.
func (msg *MsgTx) AddTxOut(out *TxOut) { msg.TxOut = append(msg.TxOut, out) }

// HasWitness reports whether any input carries witness data, which selects
// the BIP144 marker/flag encoding on serialization.
func (msg *MsgTx) HasWitness() bool {
	for _, in := range msg.TxIn {
		if in.HasWitness() {
			return true
		}
	}
	return false
}

// IsCoinBase reports whether the transaction is a coinbase: exactly one
// input whose previous outpoint is null (zero hash, max index).
func (msg *MsgTx) IsCoinBase() bool {
	if len(msg.TxIn) != 1 {
		return false
	}
	prev := &msg.TxIn[0].PreviousOutPoint
	return prev.Index == 0xffffffff && prev.Hash == chainhash.Hash{}
}

// TxHash returns the legacy txid: the double-SHA256 of the non-witness
// serialization.
func (msg *MsgTx) TxHash() chainhash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, msg.baseSize()))
	_ = msg.serialize(buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

// WitnessHash returns the wtxid: the double-SHA256 of the full
// (witness-included) serialization. For transactions without witness data
// this equals TxHash.
func (msg *MsgTx) WitnessHash() chainhash.Hash {
	if !msg.HasWitness() {
		return msg.TxHash()
	}
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	_ = msg.serialize(buf, true)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Copy returns a deep copy of the transaction.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := &MsgTx{
		Version:  msg.Version,
		LockTime: msg.LockTime,
		TxIn:     make([]*TxIn, len(msg.TxIn)),
		TxOut:    make([]*TxOut, len(msg.TxOut)),
	}
	for i, in := range msg.TxIn {
		nin := *in
		nin.SignatureScript = append([]byte(nil), in.SignatureScript...)
		if in.Witness != nil {
			nin.Witness = make([][]byte, len(in.Witness))
			for j, item := range in.Witness {
				nin.Witness[j] = append([]byte(nil), item...)
			}
		}
		newTx.TxIn[i] = &nin
	}
	for i, out := range msg.TxOut {
		nout := *out
		nout.PkScript = append([]byte(nil), out.PkScript...)
		newTx.TxOut[i] = &nout
	}
	return newTx
}

// baseSize returns the non-witness serialized size of the transaction.
func (msg *MsgTx) baseSize() int {
	n := 8 // version + locktime
	n += VarIntSerializeSize(uint64(len(msg.TxIn)))
	for _, in := range msg.TxIn {
		n += in.SerializeSize()
	}
	n += VarIntSerializeSize(uint64(len(msg.TxOut)))
	for _, out := range msg.TxOut {
		n += out.SerializeSize()
	}
	return n
}

// SerializeSize returns the full wire-format size of the transaction,
// including witness data and the BIP144 marker/flag if present.
func (msg *MsgTx) SerializeSize() int {
	n := msg.baseSize()
	if msg.HasWitness() {
		n += 2 // marker, flag
		for _, in := range msg.TxIn {
			n += in.WitnessSerializeSize()
		}
	}
	return n
}

// Serialize writes the full wire-format encoding (with witness data, using
// the BIP144 segwit-marker encoding, when any input has witness data).
func (msg *MsgTx) Serialize(w io.Writer) error {
	return msg.serialize(w, msg.HasWitness())
}

// SerializeNoWitness writes the legacy, non-witness encoding used to
// compute the legacy txid.
func (msg *MsgTx) SerializeNoWitness(w io.Writer) error {
	return msg.serialize(w, false)
}

func (msg *MsgTx) serialize(w io.Writer, withWitness bool) error {
	if err := writeElement(w, msg.Version); err != nil {
		return err
	}

	if withWitness {
		if _, err := w.Write([]byte{witnessMarker, witnessFlag}); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, 0, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := writeElement(w, ti.PreviousOutPoint.Hash); err != nil {
			return err
		}
		if err := writeElement(w, ti.PreviousOutPoint.Index); err != nil {
			return err
		}
		if err := WriteVarBytes(w, 0, ti.SignatureScript); err != nil {
			return err
		}
		if err := writeElement(w, ti.Sequence); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, 0, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := writeElement(w, to.Value); err != nil {
			return err
		}
		if err := WriteVarBytes(w, 0, to.PkScript); err != nil {
			return err
		}
	}

	if withWitness {
		for _, ti := range msg.TxIn {
			if err := WriteVarInt(w, 0, uint64(len(ti.Witness))); err != nil {
				return err
			}
			for _, item := range ti.Witness {
				if err := WriteVarBytes(w, 0, item); err != nil {
					return err
				}
			}
		}
	}

	return writeElement(w, msg.LockTime)
}

// Deserialize decodes a transaction from its wire-format encoding,
// detecting and honoring the BIP144 segwit marker/flag.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	if err := readElement(r, &msg.Version); err != nil {
		return err
	}

	count, err := ReadVarInt(r, 0)
	if err != nil {
		return err
	}

	hasWitness := false
	if count == 0 {
		var flag [1]byte
		if _, err := io.ReadFull(r, flag[:]); err != nil {
			return err
		}
		if flag[0] != witnessFlag {
			return fmt.Errorf("witness tx but flag byte is %x", flag[0])
		}
		hasWitness = true
		count, err = ReadVarInt(r, 0)
		if err != nil {
			return err
		}
	}

	msg.TxIn = make([]*TxIn, count)
	for i := range msg.TxIn {
		ti := &TxIn{}
		if err := readElement(r, &ti.PreviousOutPoint.Hash); err != nil {
			return err
		}
		if err := readElement(r, &ti.PreviousOutPoint.Index); err != nil {
			return err
		}
		sigScript, err := ReadVarBytes(r, 0, MaxMessagePayload, "tx input signature script")
		if err != nil {
			return err
		}
		ti.SignatureScript = sigScript
		if err := readElement(r, &ti.Sequence); err != nil {
			return err
		}
		msg.TxIn[i] = ti
	}

	outCount, err := ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	msg.TxOut = make([]*TxOut, outCount)
	for i := range msg.TxOut {
		to := &TxOut{}
		if err := readElement(r, &to.Value); err != nil {
			return err
		}
		pkScript, err := ReadVarBytes(r, 0, MaxMessagePayload, "tx output script")
		if err != nil {
			return err
		}
		to.PkScript = pkScript
		msg.TxOut[i] = to
	}

	if hasWitness {
		for _, ti := range msg.TxIn {
			itemCount, err := ReadVarInt(r, 0)
			if err != nil {
				return err
			}
			witness := make([][]byte, itemCount)
			for j := range witness {
				item, err := ReadVarBytes(r, 0, MaxMessagePayload, "witness item")
				if err != nil {
					return err
				}
				witness[j] = item
			}
			ti.Witness = witness
		}
	}

	return readElement(r, &msg.LockTime)
}

// BtcEncode writes the transaction as a Message payload.
func (msg *MsgTx) BtcEncode(w io.Writer, pver uint32) error { return msg.Serialize(w) }

// BtcDecode reads the transaction from a Message payload.
func (msg *MsgTx) BtcDecode(r io.Reader, pver uint32) error { return msg.Deserialize(r) }

// Command returns the frame command string for a tx message.
func (msg *MsgTx) Command() string { return CmdTx }

// MaxPayloadLength returns the maximum size this message is allowed to be.
func (msg *MsgTx) MaxPayloadLength(pver uint32) uint32 { return MaxBlockPayload }
