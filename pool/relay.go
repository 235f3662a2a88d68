// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"math/rand"
	"time"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/mempool"
	"github.com/btcnode/node/wire"
)

// maxRejectReason bounds how much of a RuleError's description is echoed
// back in a reject message, matching wire.MsgReject's own wire limit.
const maxRejectReason = 250

// queueInvForBroadcast fans iv out to every connected peer other than
// skip (the peer iv was learned from, if any), deduplicated per-peer by
// knownInv so a peer is never told about something it already announced to
// us. Actual sends are batched by flushInvQueues on invBroadcastInterval
// (trickle relay).
func (p *Pool) queueInvForBroadcast(iv *wire.InvVect) {
	p.queueInvForBroadcastExcept(iv, 0)
}

// RelayInventory queues iv for announcement to every connected peer, the
// entry point the RPC server (sendrawtransaction) and the miner use to
// propagate inventory that did not arrive over the network. Safe to call
// from any goroutine; the queues are flushed on the loop's trickle timer.
func (p *Pool) RelayInventory(iv *wire.InvVect) {
	p.queueInvForBroadcast(iv)
}

func (p *Pool) queueInvForBroadcastExcept(iv *wire.InvVect, skip int64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for id, peer := range p.peers {
		if id == skip {
			continue
		}
		if peer.knownInv.contains(iv.Hash) {
			continue
		}
		peer.invSendQueue = append(peer.invSendQueue, iv)
	}
}

// flushInvQueues sends each peer's queued invs in one or more batches and
// marks them known, run off a timer every invBroadcastInterval with a small
// random jitter folded into the interval itself so peers aren't all flushed
// in lockstep.
func (p *Pool) flushInvQueues() {
	p.mtx.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		if len(pr.invSendQueue) > 0 {
			peers = append(peers, pr)
		}
	}
	p.mtx.Unlock()

	for _, peer := range peers {
		queue := peer.invSendQueue
		peer.invSendQueue = nil

		for len(queue) > 0 {
			n := len(queue)
			if n > wire.MaxInvPerMsg {
				n = wire.MaxInvPerMsg
			}
			msg := wire.NewMsgInv()
			for _, iv := range queue[:n] {
				msg.AddInvVect(iv)
				peer.knownInv.add(iv.Hash)
			}
			p.sendMessage(peer, msg)
			queue = queue[n:]
		}
	}
}

// onInv processes an announcement from peer: requests any tx or block we
// don't already have via getdata.
func (p *Pool) onInv(peer *Peer, m *wire.MsgInv) {
	gd := wire.NewMsgGetData()
	for _, iv := range m.InvList {
		peer.knownInv.add(iv.Hash)
		switch iv.Type {
		case wire.InvTypeTx, wire.InvTypeWitnessTx:
			if p.rejectCache.contains(iv.Hash) || p.cfg.Mempool.HaveTransaction(&iv.Hash) {
				continue
			}
			gd.AddInvVect(wire.NewInvVect(wire.InvTypeWitnessTx, &iv.Hash))
		case wire.InvTypeBlock, wire.InvTypeWitnessBlock:
			have, err := p.cfg.Chain.HaveBlock(&iv.Hash)
			if err != nil || have {
				continue
			}
			gd.AddInvVect(wire.NewInvVect(wire.InvTypeWitnessBlock, &iv.Hash))
		}
	}
	if len(gd.InvList) > 0 {
		p.sendMessage(peer, gd)
	}
}

// onGetData serves a peer's request for previously announced inventory,
// answering with block/tx bodies it has and notfound for anything it
// doesn't.
func (p *Pool) onGetData(peer *Peer, m *wire.MsgGetData) {
	notFound := &wire.MsgNotFound{}
	for _, iv := range m.InvList {
		switch iv.Type {
		case wire.InvTypeBlock, wire.InvTypeWitnessBlock, wire.InvTypeFilteredBlock:
			block, err := p.cfg.Chain.BlockByHash(&iv.Hash)
			if err != nil {
				notFound.AddInvVect(iv)
				continue
			}
			p.sendMessage(peer, block.MsgBlock())
		case wire.InvTypeTx, wire.InvTypeWitnessTx:
			tx, err := p.cfg.Mempool.FetchTransaction(&iv.Hash)
			if err != nil {
				notFound.AddInvVect(iv)
				continue
			}
			p.sendMessage(peer, tx.MsgTx())
		default:
			notFound.AddInvVect(iv)
		}
	}
	if len(notFound.InvList) > 0 {
		p.sendMessage(peer, notFound)
	}
}

// onNotFound just logs; nothing in this pool blocks waiting on a specific
// getdata reply closely enough to need to react.
func (p *Pool) onNotFound(peer *Peer, m *wire.MsgNotFound) {
	log.Debugf("peer %d: %d item(s) not found", peer.id, len(m.InvList))
}

// onTx admits a relayed transaction to the mempool (tagged with the
// relaying peer's id, so its orphans can be purged in bulk on disconnect)
// and, on acceptance, queues its and any newly-resolved orphans' invs for
// broadcast to every other peer. A rule violation is echoed back as a
// reject and, when the rejection reflects invalid data rather than merely
// unmet policy, scored as misbehavior.
func (p *Pool) onTx(peer *Peer, m *wire.MsgTx) {
	tx := btcutil.NewTx(m)
	hash := tx.Hash()
	peer.knownInv.add(*hash)

	if p.rejectCache.contains(*hash) || p.cfg.Mempool.HaveTransaction(hash) {
		return
	}

	accepted, err := p.cfg.Mempool.ProcessTransaction(tx, true, true, mempool.Tag(peer.id))
	if err != nil {
		if rerr, ok := err.(mempool.RuleError); ok {
			p.rejectCache.add(*hash)
			reason := rerr.Description
			if len(reason) > maxRejectReason {
				reason = reason[:maxRejectReason]
			}
			p.sendMessage(peer, &wire.MsgReject{
				Cmd:    wire.CmdTx,
				Code:   rerr.RejectCode,
				Reason: reason,
				Hash:   *hash,
			})
			if rerr.RejectCode == wire.RejectInvalid {
				p.addBanScore(peer, MisbehaviorUnsolicitedReply, rerr.Description)
			}
		} else {
			log.Debugf("processing tx %s from peer %d: %v", hash, peer.id, err)
		}
		return
	}

	for _, desc := range accepted {
		h := desc.Tx.Hash()
		p.queueInvForBroadcastExcept(wire.NewInvVect(wire.InvTypeTx, h), peer.id)
	}
}

// jitteredInvInterval adds up to trickleJitterMillis of jitter to
// invBroadcastInterval so many peers' flush timers don't all land on the
// same tick; used only at Pool construction, not re-derived per flush.
func jitteredInvInterval() time.Duration {
	return invBroadcastInterval + time.Duration(rand.Intn(trickleJitterMillis))*time.Millisecond
}
