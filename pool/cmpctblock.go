// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/aead/siphash"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/wire"
)

// shortIDMask truncates a siphash digest to BIP152's 6-byte short id.
const shortIDMask = (uint64(1) << 48) - 1

// shortIDKey derives the per-announcement siphash key: the first 16 bytes
// of SHA256(header || nonce), per BIP152.
func shortIDKey(header *wire.BlockHeader, nonce uint64) [16]byte {
	h := sha256.New()
	header.Serialize(h)
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	h.Write(nb[:])
	sum := h.Sum(nil)

	var key [16]byte
	copy(key[:], sum[:16])
	return key
}

// shortTxID computes a transaction's 6-byte short id from its wtxid under
// the announcement's key.
func shortTxID(wtxid *chainhash.Hash, key *[16]byte) uint64 {
	return siphash.Sum64(wtxid[:], key) & shortIDMask
}

// buildCmpctBlock converts a freshly connected block into its compact
// announcement: header, nonce, the coinbase prefilled, and short ids for
// everything else.
func (p *Pool) buildCmpctBlock(block *btcutil.Block) *wire.MsgCmpctBlock {
	msgBlock := block.MsgBlock()
	msg := &wire.MsgCmpctBlock{
		Header: msgBlock.Header,
		Nonce:  p.nextNonce(),
	}
	key := shortIDKey(&msg.Header, msg.Nonce)

	for i, tx := range msgBlock.Transactions {
		if i == 0 {
			msg.PrefilledTxns = append(msg.PrefilledTxns, wire.PrefilledTx{Index: 0, Tx: tx})
			continue
		}
		wtxid := tx.WitnessHash()
		msg.ShortTxIDs = append(msg.ShortTxIDs, shortTxID(&wtxid, &key))
	}
	return msg
}

// announceBlock tells every connected peer about a newly connected block
// using the cheapest announcement it negotiated: a compact block for
// sendcmpct high-bandwidth peers, a bare header for sendheaders peers, and
// a queued inv for everyone else.
func (p *Pool) announceBlock(block *btcutil.Block) {
	var cmpct *wire.MsgCmpctBlock
	var headers *wire.MsgHeaders

	p.mtx.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mtx.Unlock()

	hash := block.Hash()
	for _, peer := range peers {
		if peer.knownInv.contains(*hash) {
			continue
		}
		switch {
		case peer.wantCmpct && peer.cmpctHighBW:
			if cmpct == nil {
				cmpct = p.buildCmpctBlock(block)
			}
			peer.knownInv.add(*hash)
			p.sendMessage(peer, cmpct)
		case peer.sendHeaders:
			if headers == nil {
				headers = &wire.MsgHeaders{}
				hdr := block.MsgBlock().Header
				headers.AddBlockHeader(&hdr)
			}
			peer.knownInv.add(*hash)
			p.sendMessage(peer, headers)
		default:
			p.queueInvForBroadcast(wire.NewInvVect(wire.InvTypeBlock, hash))
		}
	}
}

// pendingCmpct holds a partially reconstructed compact block while its
// missing transactions are fetched via getblocktxn.
type pendingCmpct struct {
	header  wire.BlockHeader
	hash    chainhash.Hash
	txs     []*wire.MsgTx
	missing int
}

// onCmpctBlock reconstructs an announced block from the local mempool,
// requesting whatever short ids did not match via getblocktxn.
func (p *Pool) onCmpctBlock(peer *Peer, m *wire.MsgCmpctBlock) {
	hash := m.Header.BlockHash()
	peer.knownInv.add(hash)
	if have, err := p.cfg.Chain.HaveBlock(&hash); err == nil && have {
		return
	}

	total := len(m.ShortTxIDs) + len(m.PrefilledTxns)
	if total == 0 {
		p.addBanScore(peer, MisbehaviorSerializationError, "empty compact block")
		return
	}
	txs := make([]*wire.MsgTx, total)
	for _, pf := range m.PrefilledTxns {
		if pf.Index >= uint64(total) {
			p.addBanScore(peer, MisbehaviorSerializationError, "compact block prefilled index out of range")
			return
		}
		txs[pf.Index] = pf.Tx
	}

	// Index the mempool by short id under this announcement's key. A
	// 48-bit id over a mempool-sized set makes collisions rare; a
	// collision is detected below by the merkle-root check, not here.
	key := shortIDKey(&m.Header, m.Nonce)
	idToTx := make(map[uint64]*wire.MsgTx)
	for _, desc := range p.cfg.Mempool.TxDescs() {
		wtxid := desc.Tx.MsgTx().WitnessHash()
		idToTx[shortTxID(&wtxid, &key)] = desc.Tx.MsgTx()
	}

	shortIdx := 0
	missing := make([]uint64, 0)
	for i := range txs {
		if txs[i] != nil {
			continue
		}
		if shortIdx >= len(m.ShortTxIDs) {
			p.addBanScore(peer, MisbehaviorSerializationError, "compact block short id count mismatch")
			return
		}
		if tx, ok := idToTx[m.ShortTxIDs[shortIdx]]; ok {
			txs[i] = tx
		} else {
			missing = append(missing, uint64(i))
		}
		shortIdx++
	}

	if len(missing) == 0 {
		p.completeCmpctBlock(peer, &m.Header, txs)
		return
	}

	peer.pendingCmpct = &pendingCmpct{
		header:  m.Header,
		hash:    hash,
		txs:     txs,
		missing: len(missing),
	}
	p.sendMessage(peer, &wire.MsgGetBlockTxn{BlockHash: hash, Indexes: missing})
}

// onBlockTxn fills in the transactions a getblocktxn requested and, once
// complete, hands the reconstructed block to the chain.
func (p *Pool) onBlockTxn(peer *Peer, m *wire.MsgBlockTxn) {
	pending := peer.pendingCmpct
	if pending == nil || pending.hash != m.BlockHash {
		p.addBanScore(peer, MisbehaviorUnsolicitedReply, "blocktxn without matching getblocktxn")
		return
	}
	peer.pendingCmpct = nil

	if len(m.Transactions) != pending.missing {
		p.addBanScore(peer, MisbehaviorSerializationError, "blocktxn transaction count mismatch")
		return
	}
	next := 0
	for i := range pending.txs {
		if pending.txs[i] != nil {
			continue
		}
		pending.txs[i] = m.Transactions[next]
		next++
	}
	p.completeCmpctBlock(peer, &pending.header, pending.txs)
}

// completeCmpctBlock verifies a reconstructed block's transaction set
// against the header's merkle root and either processes it or, on a short
// id collision, falls back to downloading the full block. A collision is
// the announcement's bad luck rather than the peer's misbehavior, so the
// fallback carries no penalty.
func (p *Pool) completeCmpctBlock(peer *Peer, header *wire.BlockHeader, txs []*wire.MsgTx) {
	msgBlock := wire.NewMsgBlock(header)
	utilTxs := make([]*btcutil.Tx, 0, len(txs))
	for _, tx := range txs {
		msgBlock.AddTransaction(tx)
		utilTxs = append(utilTxs, btcutil.NewTx(tx))
	}

	if blockchain.CalcMerkleRoot(utilTxs, false) != header.MerkleRoot {
		hash := header.BlockHash()
		log.Debugf("compact block %s reconstruction mismatch, requesting full block", hash)
		gd := wire.NewMsgGetData()
		gd.AddInvVect(wire.NewInvVect(wire.InvTypeWitnessBlock, &hash))
		p.sendMessage(peer, gd)
		return
	}

	p.processBlockFrom(peer, btcutil.NewBlock(msgBlock))
}

// onGetBlockTxn serves the transactions of a block this node announced
// compactly and the peer could not fully reconstruct.
func (p *Pool) onGetBlockTxn(peer *Peer, m *wire.MsgGetBlockTxn) {
	block, err := p.cfg.Chain.BlockByHash(&m.BlockHash)
	if err != nil {
		notFound := &wire.MsgNotFound{}
		notFound.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &m.BlockHash))
		p.sendMessage(peer, notFound)
		return
	}

	txs := block.Transactions()
	reply := &wire.MsgBlockTxn{BlockHash: m.BlockHash}
	for _, idx := range m.Indexes {
		if idx >= uint64(len(txs)) {
			p.addBanScore(peer, MisbehaviorSerializationError, "getblocktxn index out of range")
			return
		}
		reply.Transactions = append(reply.Transactions, txs[idx].MsgTx())
	}
	p.sendMessage(peer, reply)
}
