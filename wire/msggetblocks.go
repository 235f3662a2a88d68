// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxBlockLocatorsPerMsg is the maximum number of hashes a locator in
// getblocks/getheaders may contain.
const MaxBlockLocatorsPerMsg = 500

type locatorMsg struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []*chainhash.Hash
	HashStop           chainhash.Hash
}

func (m *locatorMsg) decode(r io.Reader, pver uint32) error {
	if err := readElement(r, &m.ProtocolVersion); err != nil {
		return err
	}
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxBlockLocatorsPerMsg {
		return fmt.Errorf("too many block locator hashes [count %d, max %d]", count, MaxBlockLocatorsPerMsg)
	}
	m.BlockLocatorHashes = make([]*chainhash.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		var h chainhash.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return err
		}
		m.BlockLocatorHashes = append(m.BlockLocatorHashes, &h)
	}
	_, err = io.ReadFull(r, m.HashStop[:])
	return err
}

func (m *locatorMsg) encode(w io.Writer, pver uint32) error {
	if len(m.BlockLocatorHashes) > MaxBlockLocatorsPerMsg {
		return fmt.Errorf("too many block locator hashes [count %d, max %d]", len(m.BlockLocatorHashes), MaxBlockLocatorsPerMsg)
	}
	if err := writeElement(w, m.ProtocolVersion); err != nil {
		return err
	}
	if err := WriteVarInt(w, pver, uint64(len(m.BlockLocatorHashes))); err != nil {
		return err
	}
	for _, h := range m.BlockLocatorHashes {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(m.HashStop[:])
	return err
}

func (m *locatorMsg) AddBlockLocatorHash(h *chainhash.Hash) error {
	if len(m.BlockLocatorHashes)+1 > MaxBlockLocatorsPerMsg {
		return fmt.Errorf("too many block locator hashes [max %d]", MaxBlockLocatorsPerMsg)
	}
	m.BlockLocatorHashes = append(m.BlockLocatorHashes, h)
	return nil
}

// MsgGetBlocks requests an inv of block hashes following the locator,
// driving the legacy (pre-headers-first) sync path as well as reorg probing.
type MsgGetBlocks struct{ locatorMsg }

// NewMsgGetBlocks returns a new getblocks message stopping at hashStop
// (the zero hash requests as many as the protocol allows).
func NewMsgGetBlocks(hashStop *chainhash.Hash) *MsgGetBlocks {
	return &MsgGetBlocks{locatorMsg{
		ProtocolVersion: ProtocolVersion,
		HashStop:        *hashStop,
	}}
}

func (msg *MsgGetBlocks) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r, pver) }
func (msg *MsgGetBlocks) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w, pver) }
func (msg *MsgGetBlocks) Command() string                         { return CmdGetBlocks }
func (msg *MsgGetBlocks) MaxPayloadLength(pver uint32) uint32 {
	return 4 + uint32(VarIntSerializeSize(MaxBlockLocatorsPerMsg)) + MaxBlockLocatorsPerMsg*32 + 32
}

// MsgGetHeaders requests up to 2000 headers following the locator.
type MsgGetHeaders struct{ locatorMsg }

// NewMsgGetHeaders returns a new getheaders message.
func NewMsgGetHeaders() *MsgGetHeaders {
	return &MsgGetHeaders{locatorMsg{ProtocolVersion: ProtocolVersion}}
}

func (msg *MsgGetHeaders) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r, pver) }
func (msg *MsgGetHeaders) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w, pver) }
func (msg *MsgGetHeaders) Command() string                         { return CmdGetHeaders }
func (msg *MsgGetHeaders) MaxPayloadLength(pver uint32) uint32 {
	return 4 + uint32(VarIntSerializeSize(MaxBlockLocatorsPerMsg)) + MaxBlockLocatorsPerMsg*32 + 32
}

// MaxHeadersPerMsg is the maximum number of headers a single headers
// message may carry.
const MaxHeadersPerMsg = 2000

// MsgHeaders answers getheaders with up to MaxHeadersPerMsg headers, each
// followed by a zero transaction count per the legacy wire quirk.
type MsgHeaders struct {
	Headers []*BlockHeader
}

// AddBlockHeader appends bh to the message, enforcing MaxHeadersPerMsg.
func (msg *MsgHeaders) AddBlockHeader(bh *BlockHeader) error {
	if len(msg.Headers)+1 > MaxHeadersPerMsg {
		return fmt.Errorf("too many block headers for message [max %d]", MaxHeadersPerMsg)
	}
	msg.Headers = append(msg.Headers, bh)
	return nil
}

func (msg *MsgHeaders) BtcDecode(r io.Reader, pver uint32) error {
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > MaxHeadersPerMsg {
		return fmt.Errorf("too many headers for message [count %d, max %d]", count, MaxHeadersPerMsg)
	}
	msg.Headers = make([]*BlockHeader, 0, count)
	for i := uint64(0); i < count; i++ {
		bh := &BlockHeader{}
		if err := bh.Deserialize(r); err != nil {
			return err
		}
		txCount, err := ReadVarInt(r, pver)
		if err != nil {
			return err
		}
		if txCount != 0 {
			return fmt.Errorf("headers message header %d has non-zero tx count %d", i, txCount)
		}
		msg.Headers = append(msg.Headers, bh)
	}
	return nil
}

func (msg *MsgHeaders) BtcEncode(w io.Writer, pver uint32) error {
	if len(msg.Headers) > MaxHeadersPerMsg {
		return fmt.Errorf("too many headers for message [count %d, max %d]", len(msg.Headers), MaxHeadersPerMsg)
	}
	if err := WriteVarInt(w, pver, uint64(len(msg.Headers))); err != nil {
		return err
	}
	for _, bh := range msg.Headers {
		if err := bh.Serialize(w); err != nil {
			return err
		}
		if err := WriteVarInt(w, pver, 0); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgHeaders) Command() string { return CmdHeaders }
func (msg *MsgHeaders) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(MaxHeadersPerMsg)) + MaxHeadersPerMsg*(BlockHeaderLen+1)
}
