// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"net"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/wire"
)

// dispatch routes a decoded message from peer to the handler appropriate to
// its command. It always runs on the loop goroutine (handed over by
// startReaderPump's Defer), so every handler below may touch Pool and Peer
// state directly.
func (p *Pool) dispatch(peer *Peer, cmd string, msg wire.Message) {
	if peer.state == StateDisconnecting {
		return
	}
	peer.lastRecv = time.Now()

	switch m := msg.(type) {
	case *wire.MsgGetHeaders:
		p.onGetHeaders(peer, m)
	case *wire.MsgHeaders:
		p.onHeaders(peer, m)
	case *wire.MsgGetBlocks:
		p.onGetBlocks(peer, m)
	case *wire.MsgInv:
		p.onInv(peer, m)
	case *wire.MsgGetData:
		p.onGetData(peer, m)
	case *wire.MsgBlock:
		p.onBlock(peer, m)
	case *wire.MsgTx:
		p.onTx(peer, m)
	case *wire.MsgNotFound:
		p.onNotFound(peer, m)
	case *wire.MsgPing:
		p.sendMessage(peer, &wire.MsgPong{Nonce: m.Nonce})
	case *wire.MsgPong:
		p.onPong(peer, m)
	case *wire.MsgSendHeaders:
		peer.sendHeaders = true
	case *wire.MsgSendCmpct:
		peer.wantCmpct = true
		peer.cmpctHighBW = m.Announce
	case *wire.MsgFeeFilter:
		peer.feeFilterRate = m.MinFee
	case *wire.MsgGetAddr:
		p.onGetAddr(peer)
	case *wire.MsgAddr:
		p.onAddr(peer, m)
	case *wire.MsgCmpctBlock:
		p.onCmpctBlock(peer, m)
	case *wire.MsgGetBlockTxn:
		p.onGetBlockTxn(peer, m)
	case *wire.MsgBlockTxn:
		p.onBlockTxn(peer, m)
	case *wire.MsgReject:
		log.Debugf("peer %d rejected our %s (%s): %s", peer.id, m.Cmd, m.Code, m.Reason)
	default:
		_ = cmd
		// Unhandled commands (mempool, addrv2, filterload, ...) are
		// simply dropped rather than penalized.
	}
}

// maybeElectSyncPeer picks a sync peer when none is set: the connected peer
// advertising the highest height, breaking ties arbitrarily. Called whenever
// a peer connects, disconnects, or (indirectly) updates its height.
func (p *Pool) maybeElectSyncPeer() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.syncPeerID != 0 {
		if _, ok := p.peers[p.syncPeerID]; ok {
			return
		}
		p.syncPeerID = 0
	}

	var best *Peer
	for _, pr := range p.peers {
		if pr.state != StateReady && pr.state != StateSyncing && pr.state != StateIdle {
			continue
		}
		if best == nil || pr.height > best.height {
			best = pr
		}
	}
	if best == nil {
		return
	}
	p.syncPeerID = best.id
	best.state = StateSyncing
	p.requestHeaders(best)
}

// requestHeaders sends a getheaders built from the chain's current
// locator, driving the headers-first sync loop.
func (p *Pool) requestHeaders(peer *Peer) {
	locator := p.cfg.Chain.GetLocatorHashes()
	ghdr := wire.NewMsgGetHeaders()
	ghdr.BlockLocatorHashes = locator
	p.sendMessage(peer, ghdr)
}

// onGetHeaders answers a peer's getheaders with up to wire.MaxHeadersPerMsg
// headers from the active chain following their locator.
func (p *Pool) onGetHeaders(peer *Peer, m *wire.MsgGetHeaders) {
	stop := m.HashStop
	var stopPtr *chainhash.Hash
	if stop != (chainhash.Hash{}) {
		stopPtr = &stop
	}
	headers := p.cfg.Chain.HeadersFromLocator(m.BlockLocatorHashes, stopPtr, wire.MaxHeadersPerMsg)
	reply := &wire.MsgHeaders{}
	for i := range headers {
		h := headers[i]
		reply.AddBlockHeader(&h)
	}
	p.sendMessage(peer, reply)
}

// onGetBlocks answers the legacy getblocks request with an inv listing the
// matching block hashes, for peers that haven't adopted headers-first sync.
func (p *Pool) onGetBlocks(peer *Peer, m *wire.MsgGetBlocks) {
	stop := m.HashStop
	var stopPtr *chainhash.Hash
	if stop != (chainhash.Hash{}) {
		stopPtr = &stop
	}
	headers := p.cfg.Chain.HeadersFromLocator(m.BlockLocatorHashes, stopPtr, wire.MaxInvPerMsg)
	inv := wire.NewMsgInv()
	for i := range headers {
		hash := headers[i].BlockHash()
		inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))
	}
	p.sendMessage(peer, inv)
}

// onHeaders processes a headers response: feeds each header to the chain in
// order, then either requests the batch's blocks (once headers have caught
// up enough to start downloading) or, if the batch was full, asks for more.
func (p *Pool) onHeaders(peer *Peer, m *wire.MsgHeaders) {
	if peer.id != p.syncPeerID {
		// Headers from a non-sync peer still get validated below so a
		// peer can't escape misbehavior scoring by never being elected,
		// but aren't used to drive the download schedule.
		return
	}

	if len(m.Headers) == 0 {
		peer.state = StateIdle
		p.startBlockDownload()
		return
	}

	for _, hdr := range m.Headers {
		accepted, _, err := p.cfg.Chain.AcceptHeader(hdr)
		if err != nil {
			p.addBanScore(peer, MisbehaviorInvalidHeader, err.Error())
			return
		}
		if !accepted {
			p.addBanScore(peer, MisbehaviorInvalidHeader, "header extends nothing we accept")
			return
		}
	}

	last := m.Headers[len(m.Headers)-1].BlockHash()
	peer.bestHash = last
	peer.height = p.cfg.Chain.BestSnapshot().Height + int32(len(m.Headers))

	if len(m.Headers) == wire.MaxHeadersPerMsg {
		ghdr := wire.NewMsgGetHeaders()
		ghdr.BlockLocatorHashes = []*chainhash.Hash{&last}
		p.sendMessage(peer, ghdr)
		return
	}

	peer.state = StateIdle
	p.startBlockDownload()
}

// startBlockDownload walks the header tree from the chain's current tip and
// issues getdata(block) requests up to maxBlocksInFlight total /
// maxBlocksInFlightPeer per peer.
func (p *Pool) startBlockDownload() {
	snap := p.cfg.Chain.BestSnapshot()

	p.mtx.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	inflight := 0
	for _, pr := range p.peers {
		peers = append(peers, pr)
		inflight += pr.inflightCount()
	}
	p.mtx.Unlock()
	if len(peers) == 0 {
		return
	}

	height := snap.Height + 1
	for inflight < maxBlocksInFlight {
		hashPtr, err := p.cfg.Chain.HeightToHash(height)
		if err != nil {
			break
		}
		hash := *hashPtr
		have, err := p.cfg.Chain.HaveBlock(&hash)
		if err != nil || have {
			height++
			continue
		}

		peer := p.pickDownloadPeer(peers)
		if peer == nil {
			break
		}
		p.requestBlock(peer, hash, height)
		inflight++
		height++
	}
}

// pickDownloadPeer returns the least-loaded connected peer with spare
// per-peer capacity, or nil if every peer is saturated.
func (p *Pool) pickDownloadPeer(peers []*Peer) *Peer {
	var best *Peer
	for _, pr := range peers {
		if pr.state == StateDisconnecting {
			continue
		}
		if pr.inflightCount() >= maxBlocksInFlightPeer {
			continue
		}
		if best == nil || pr.inflightCount() < best.inflightCount() {
			best = pr
		}
	}
	return best
}

// requestBlock sends a getdata(block) to peer and records the request with
// a deadline of baseBlockTimeout plus blockTimeoutSlope per request
// already outstanding on the same peer.
func (p *Pool) requestBlock(peer *Peer, hash chainhash.Hash, height int32) {
	deadline := time.Now().Add(baseBlockTimeout + time.Duration(float64(peer.inflightCount())*blockTimeoutSlope*float64(baseBlockTimeout)))
	peer.inflight[hash] = &blockRequest{hash: hash, height: height, deadline: deadline}

	gd := wire.NewMsgGetData()
	gd.AddInvVect(wire.NewInvVect(wire.InvTypeWitnessBlock, &hash))
	p.sendMessage(peer, gd)
}

// reassignPeerBlocks clears peer's in-flight block requests and, if the
// chain still needs them, schedules them against the remaining peers.
func (p *Pool) reassignPeerBlocks(peer *Peer) {
	if len(peer.inflight) == 0 {
		return
	}
	peer.inflight = make(map[chainhash.Hash]*blockRequest)
	p.startBlockDownload()
}

// checkStalledBlocks disconnects peers whose oldest in-flight block
// request has passed its deadline and reassigns their work; it runs off a
// periodic timer alongside pingPeers. The sync peer is additionally held
// to the header-batch timeout: a syncing peer silent that long is dropped
// so a new sync peer can be elected.
func (p *Pool) checkStalledBlocks() {
	p.mtx.Lock()
	syncID := p.syncPeerID
	peers := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mtx.Unlock()

	now := time.Now()
	for _, peer := range peers {
		if peer.id == syncID && peer.state == StateSyncing &&
			!peer.lastRecv.IsZero() && now.Sub(peer.lastRecv) > headerBatchTimeout {
			p.addBanScore(peer, MisbehaviorStallMax, "header sync stalled")
			p.disconnectPeer(peer, "header sync stalled")
			continue
		}
		for _, req := range peer.inflight {
			if now.After(req.deadline) {
				p.addBanScore(peer, MisbehaviorStallMin, "block request stalled")
				p.disconnectPeer(peer, "block request stalled")
				break
			}
		}
	}
}

// onBlock processes a received full block.
func (p *Pool) onBlock(peer *Peer, m *wire.MsgBlock) {
	p.processBlockFrom(peer, btcutil.NewBlock(m))
}

// processBlockFrom hands a block received from peer (whether as a full
// block message or reconstructed from a compact announcement) to the
// chain, clears the matching in-flight request, announces it onward when
// it extends the best chain, and continues the download schedule.
func (p *Pool) processBlockFrom(peer *Peer, block *btcutil.Block) {
	hash := block.Hash()
	delete(peer.inflight, *hash)

	isMainChain, isOrphan, err := p.cfg.Chain.ProcessBlock(block, blockchain.BFNone)
	if err != nil {
		if _, ok := err.(blockchain.RuleError); ok {
			p.addBanScore(peer, MisbehaviorInvalidBlock, err.Error())
		} else {
			log.Errorf("process block %s from peer %d: %v", hash, peer.id, err)
		}
		p.startBlockDownload()
		return
	}
	if isOrphan {
		// Orphans above the download window are simply not requested in
		// the first place by startBlockDownload's height walk, so an
		// orphan here means a reorg raced the download; request headers
		// again to resync the tree.
		p.requestHeaders(peer)
		return
	}
	if isMainChain {
		p.announceBlock(block)
	}
	p.startBlockDownload()
}

// onPong records the ping round trip when the nonce matches the last ping
// sent; it does not reset lastPingSent or lastPingNonce.
func (p *Pool) onPong(peer *Peer, m *wire.MsgPong) {
	if m.Nonce == peer.lastPingNonce {
		peer.pingMicros = time.Since(peer.lastPingSent).Microseconds()
	}
}

// onGetAddr replies with a sample of known addresses from the address
// manager.
func (p *Pool) onGetAddr(peer *Peer) {
	addrs := p.cfg.AddrManager.AddressCache()
	reply := &wire.MsgAddr{}
	for i, na := range addrs {
		if i >= wire.MaxAddrPerMsg {
			break
		}
		reply.AddAddress(na)
	}
	p.sendMessage(peer, reply)
}

// onAddr feeds peer-announced addresses into the address manager, sourced
// from the peer that relayed them.
func (p *Pool) onAddr(peer *Peer, m *wire.MsgAddr) {
	if len(m.AddrList) == 0 {
		return
	}
	host, port, err := net.SplitHostPort(peer.addr)
	if err != nil {
		return
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return
	}
	src, err := p.cfg.AddrManager.HostToNetAddress(host, uint16(portNum), wire.SFNodeNetwork)
	if err != nil {
		return
	}
	p.cfg.AddrManager.AddAddresses(m.AddrList, src)
}
