// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxFlagsPerMerkleBlock caps the flag-bit bytes a merkleblock may carry,
// mirroring the hash-count-derived bound used upstream.
const maxFlagsPerMerkleBlock = MaxBlockPayload / 8

// MsgMerkleBlock implements a BIP37 partial-merkle-tree proof that a set of
// transactions is included in a block. Bloom filtering itself is out of
// scope; this type exists so the command surface and
// peers advertising SFNodeBloom can be parsed and rejected cleanly rather
// than desynchronizing the stream.
type MsgMerkleBlock struct {
	Header       BlockHeader
	Transactions uint32
	Hashes       []*chainhash.Hash
	Flags        []byte
}

func (msg *MsgMerkleBlock) BtcDecode(r io.Reader, pver uint32) error {
	if err := msg.Header.Deserialize(r); err != nil {
		return err
	}
	if err := readElement(r, &msg.Transactions); err != nil {
		return err
	}
	hashCount, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	msg.Hashes = make([]*chainhash.Hash, 0, hashCount)
	for i := uint64(0); i < hashCount; i++ {
		var h chainhash.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return err
		}
		msg.Hashes = append(msg.Hashes, &h)
	}
	flags, err := ReadVarBytes(r, pver, maxFlagsPerMerkleBlock, "merkle block flags")
	if err != nil {
		return err
	}
	msg.Flags = flags
	return nil
}

func (msg *MsgMerkleBlock) BtcEncode(w io.Writer, pver uint32) error {
	if err := msg.Header.Serialize(w); err != nil {
		return err
	}
	if err := writeElement(w, msg.Transactions); err != nil {
		return err
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.Hashes))); err != nil {
		return err
	}
	for _, h := range msg.Hashes {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	return WriteVarBytes(w, pver, msg.Flags)
}

func (msg *MsgMerkleBlock) Command() string { return CmdMerkleBlock }
func (msg *MsgMerkleBlock) MaxPayloadLength(pver uint32) uint32 {
	return MaxBlockPayload
}

// MsgFeeFilter instructs the peer to only relay transactions at or above
// the given fee rate in satoshis per kilobyte.
type MsgFeeFilter struct {
	MinFee int64
}

func (msg *MsgFeeFilter) BtcDecode(r io.Reader, pver uint32) error {
	return readElement(r, &msg.MinFee)
}
func (msg *MsgFeeFilter) BtcEncode(w io.Writer, pver uint32) error {
	return writeElement(w, msg.MinFee)
}
func (msg *MsgFeeFilter) Command() string                    { return CmdFeeFilter }
func (msg *MsgFeeFilter) MaxPayloadLength(pver uint32) uint32 { return 8 }

// BloomUpdateType specifies how a matched output updates a bloom filter.
type BloomUpdateType uint8

const (
	BloomUpdateNone         BloomUpdateType = 0
	BloomUpdateAll          BloomUpdateType = 1
	BloomUpdateP2PubkeyOnly BloomUpdateType = 2
)

const maxFilterLoadFilterSize = 36000
const maxFilterAddDataSize = 520

// MsgFilterLoad implements BIP37 filterload. The filter itself is never
// evaluated by this node (bloom relay is not served);
// the type exists purely so the message can be decoded and a peer setting
// it can be scored as requesting an unsupported service rather than
// desynchronizing the connection.
type MsgFilterLoad struct {
	Filter    []byte
	HashFuncs uint32
	Tweak     uint32
	Flags     BloomUpdateType
}

func (msg *MsgFilterLoad) BtcDecode(r io.Reader, pver uint32) error {
	filter, err := ReadVarBytes(r, pver, maxFilterLoadFilterSize, "filterload filter")
	if err != nil {
		return err
	}
	msg.Filter = filter
	if err := readElement(r, &msg.HashFuncs); err != nil {
		return err
	}
	if err := readElement(r, &msg.Tweak); err != nil {
		return err
	}
	return readElement(r, &msg.Flags)
}

func (msg *MsgFilterLoad) BtcEncode(w io.Writer, pver uint32) error {
	if len(msg.Filter) > maxFilterLoadFilterSize {
		return fmt.Errorf("filterload filter size too large [size %d, max %d]", len(msg.Filter), maxFilterLoadFilterSize)
	}
	if err := WriteVarBytes(w, pver, msg.Filter); err != nil {
		return err
	}
	if err := writeElement(w, msg.HashFuncs); err != nil {
		return err
	}
	if err := writeElement(w, msg.Tweak); err != nil {
		return err
	}
	return writeElement(w, msg.Flags)
}

func (msg *MsgFilterLoad) Command() string { return CmdFilterLoad }
func (msg *MsgFilterLoad) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(maxFilterLoadFilterSize)) + maxFilterLoadFilterSize + 4 + 4 + 1
}

// MsgFilterAdd implements BIP37 filteradd.
type MsgFilterAdd struct {
	Data []byte
}

func (msg *MsgFilterAdd) BtcDecode(r io.Reader, pver uint32) error {
	data, err := ReadVarBytes(r, pver, maxFilterAddDataSize, "filteradd data")
	if err != nil {
		return err
	}
	msg.Data = data
	return nil
}

func (msg *MsgFilterAdd) BtcEncode(w io.Writer, pver uint32) error {
	return WriteVarBytes(w, pver, msg.Data)
}

func (msg *MsgFilterAdd) Command() string { return CmdFilterAdd }
func (msg *MsgFilterAdd) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(maxFilterAddDataSize)) + maxFilterAddDataSize
}

// MsgFilterClear implements BIP37 filterclear; it carries no payload.
type MsgFilterClear struct{}

func (msg *MsgFilterClear) BtcDecode(r io.Reader, pver uint32) error { return nil }
func (msg *MsgFilterClear) BtcEncode(w io.Writer, pver uint32) error { return nil }
func (msg *MsgFilterClear) Command() string                         { return CmdFilterClear }
func (msg *MsgFilterClear) MaxPayloadLength(pver uint32) uint32      { return 0 }
