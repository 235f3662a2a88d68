// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"errors"
	"fmt"
	"net"
	"time"

	netpkg "github.com/btcnode/node/net"
	"github.com/btcnode/node/wire"
)

// handleOutbound completes the handshake for a freshly dialed connection.
// It runs on the loop goroutine (dialOutbound hands it over via
// loop.Defer), but the handshake's blocking reads/writes are delegated to
// a short-lived goroutine so the loop thread never blocks on peer I/O; the
// finished Peer (or failure) re-enters the loop via Defer exactly once.
func (p *Pool) handleOutbound(netConn net.Conn, addr string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn := netpkg.NewConn(netConn, p.cfg.ChainParams.Net, wire.ProtocolVersion)
		conn.SetDeadline(time.Now().Add(netpkg.HandshakeTimeout))

		nonce := p.nextNonce()
		me := wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
		you := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
		version := netpkg.OutboundVersion(me, you, nonce, p.cfg.Chain.BestSnapshot().Height, p.cfg.UserAgent)

		res, err := netpkg.NegotiateOutbound(conn, version, p.isOurNonce)
		if err != nil {
			netConn.Close()
			log.Debugf("outbound handshake with %s failed: %v", addr, err)
			return
		}
		conn.SetDeadline(time.Time{})

		peer := newPeer(0, addr, false, conn)
		p.finishHandshake(peer, res, true)
	}()
}

// handleInbound completes the handshake for a freshly accepted connection.
func (p *Pool) handleInbound(netConn net.Conn) {
	p.mtx.Lock()
	full := p.inbound >= int(p.cfg.MaxInbound)
	p.mtx.Unlock()
	if full {
		netConn.Close()
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn := netpkg.NewConn(netConn, p.cfg.ChainParams.Net, wire.ProtocolVersion)
		conn.SetDeadline(time.Now().Add(netpkg.HandshakeTimeout))

		nonce := p.nextNonce()
		buildVersion := func(them *wire.NetAddress) *wire.MsgVersion {
			me := wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
			return netpkg.OutboundVersion(me, them, nonce, p.cfg.Chain.BestSnapshot().Height, p.cfg.UserAgent)
		}
		res, err := netpkg.NegotiateInbound(conn, buildVersion, p.isOurNonce)
		if err != nil {
			netConn.Close()
			log.Debugf("inbound handshake from %s failed: %v", netConn.RemoteAddr(), err)
			return
		}
		conn.SetDeadline(time.Time{})

		peer := newPeer(0, netConn.RemoteAddr().String(), true, conn)
		p.finishHandshake(peer, res, false)
	}()
}

// finishHandshake registers peer once its version/verack exchange has
// completed, sends the post-handshake capability announcements, and starts
// its reader pump. Always re-enters the loop goroutine via Defer.
func (p *Pool) finishHandshake(peer *Peer, res *netpkg.HandshakeResult, wantGetAddr bool) {
	peer.protocolVersion = res.ProtocolVersion
	peer.services = res.Services
	peer.userAgent = res.UserAgent
	peer.startHeight = res.StartHeight
	peer.height = res.StartHeight
	peer.nonce = res.RemoteNonce
	peer.state = StateReady

	if err := netpkg.PostHandshakeCapabilities(peer.conn, wantGetAddr); err != nil {
		peer.conn.Close()
		return
	}

	p.cfg.Loop.Defer(func() {
		p.mtx.Lock()
		p.nextPeer++
		peer.id = p.nextPeer
		if peer.inbound {
			p.inbound++
		} else {
			p.outbound++
		}
		p.peers[peer.id] = peer
		p.mtx.Unlock()

		log.Infof("new peer %s (%s, height %d, %q)", peer.addr, directionString(peer.inbound), peer.height, peer.userAgent)

		if p.cfg.TimeSource != nil && !res.RemoteTime.IsZero() {
			p.cfg.TimeSource.AddTimeSample(peer.addr, res.RemoteTime)
		}

		if host, _, err := net.SplitHostPort(peer.addr); err == nil {
			if ip := net.ParseIP(host); ip != nil {
				na := wire.NewNetAddressIPPort(ip, 0, peer.services)
				p.cfg.AddrManager.Connected(na)
			}
		}

		p.startReaderPump(peer)
		p.maybeElectSyncPeer()
	})
}

func directionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}

// startReaderPump spawns the per-peer goroutine that blocks on
// conn.ReadMessage and forwards every decoded message to the loop
// goroutine via Defer, this package's adaptation of loop's "pump carries
// bytes[/messages], never callbacks" rule to whole-message framing.
func (p *Pool) startReaderPump(peer *Peer) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			cmd, msg, err := peer.conn.ReadMessage()
			if err != nil {
				p.cfg.Loop.Defer(func() { p.handlePeerError(peer, err) })
				return
			}
			m, pr := msg, peer
			p.cfg.Loop.Defer(func() { p.dispatch(pr, cmd, m) })
		}
	}()
}

func (p *Pool) handlePeerError(peer *Peer, err error) {
	// A frame that fails the checksum or does not decode is a protocol
	// violation, not a transport hiccup; it scores the full serialization
	// penalty (and therefore a ban) before the disconnect.
	if errors.Is(err, netpkg.ErrMalformed) {
		p.addBanScore(peer, MisbehaviorSerializationError, err.Error())
		return
	}
	p.disconnectPeer(peer, fmt.Sprintf("read error: %v", err))
}

// disconnectPeer removes peer from the pool and closes its connection. It
// is idempotent against being called twice for the same peer.
func (p *Pool) disconnectPeer(peer *Peer, reason string) {
	p.mtx.Lock()
	_, present := p.peers[peer.id]
	if present {
		delete(p.peers, peer.id)
		if peer.inbound {
			p.inbound--
		} else {
			p.outbound--
		}
	}
	wasSyncPeer := p.syncPeerID == peer.id
	if wasSyncPeer {
		p.syncPeerID = 0
	}
	p.mtx.Unlock()

	peer.state = StateDisconnecting
	peer.conn.Close()
	log.Debugf("disconnected peer %s: %s", peer.addr, reason)

	if present {
		p.reassignPeerBlocks(peer)
	}
	if wasSyncPeer {
		p.maybeElectSyncPeer()
	}
}

// addBanScore applies a misbehavior penalty and disconnects/bans the peer
// once it crosses BanThreshold.
func (p *Pool) addBanScore(peer *Peer, points int, reason string) {
	if peer.addBanScore(points, reason) {
		p.ban(peer.addr)
		p.disconnectPeer(peer, "misbehavior ban threshold reached")
	}
}

func (p *Pool) pingPeers() {
	p.mtx.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mtx.Unlock()

	now := time.Now()
	for _, peer := range peers {
		if peer.lastPingSent.IsZero() || now.Sub(peer.lastPingSent) >= pingInterval {
			nonce := p.nextNonce()
			peer.lastPingNonce = nonce
			peer.lastPingSent = now
			p.sendMessage(peer, &wire.MsgPing{Nonce: nonce})
		} else if !peer.lastPingSent.IsZero() && now.Sub(peer.lastPingSent) > pongTimeout {
			p.disconnectPeer(peer, "pong timeout")
		}
	}
}

// sendMessage writes msg to peer, disconnecting on a write error.
func (p *Pool) sendMessage(peer *Peer, msg wire.Message) {
	if err := peer.conn.WriteMessage(msg); err != nil {
		p.disconnectPeer(peer, fmt.Sprintf("write error: %v", err))
		return
	}
	peer.lastSend = time.Now()
}
