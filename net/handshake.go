// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package net

import (
	"time"

	"github.com/btcnode/node/wire"
)

// MinAcceptableProtocolVersion is the lowest peer protocol version this
// module will complete a handshake with.
const MinAcceptableProtocolVersion = wire.BIP0031Version

// HandshakeTimeout bounds the whole version/verack exchange.
const HandshakeTimeout = 60 * time.Second

// HandshakeResult carries what Pool needs to populate a new Peer from a
// completed handshake.
type HandshakeResult struct {
	ProtocolVersion uint32
	Services        wire.ServiceFlag
	UserAgent       string
	StartHeight     int32
	RemoteNonce     uint64
	RemoteAddr      *wire.NetAddress

	// RemoteTime is the wall clock the peer reported in its version
	// message; Pool feeds it to the median time source.
	RemoteTime time.Time
}

// OutboundVersion builds the version message we send when dialing out,
// addressed to them from me, carrying our own best-height and a random
// nonce the caller generated (used for self-connect detection).
func OutboundVersion(me, them *wire.NetAddress, nonce uint64, bestHeight int32, userAgent string) *wire.MsgVersion {
	mv := wire.NewMsgVersion(me, them, nonce, bestHeight)
	mv.UserAgent = userAgent
	mv.ProtocolVersion = int32(wire.ProtocolVersion)
	mv.Services = wire.SFNodeNetwork
	mv.DisableRelayTx = false
	return mv
}

// VersionBuilder constructs the version message the inbound side sends
// back, once it knows the remote's advertised address (their AddrMe) from
// the version message it just received. The outbound side needs no such
// callback: it already knows who it dialed and sends first.
type VersionBuilder func(them *wire.NetAddress) *wire.MsgVersion

// NegotiateOutbound drives the dialer's half of the handshake over an
// already-connected Conn: send version, wait for their version, send
// verack, wait for their verack. The post-handshake capability
// announcements are left to PostHandshakeCapabilities.
// isOurNonce is consulted to detect a connection looping back to ourselves.
func NegotiateOutbound(c *Conn, version *wire.MsgVersion, isOurNonce func(uint64) bool) (*HandshakeResult, error) {
	if err := c.WriteMessage(version); err != nil {
		return nil, err
	}
	return finishHandshake(c, nil, isOurNonce, true)
}

// NegotiateInbound drives the listener's half of the handshake: wait for
// their version, build and send ours back (via buildVersion, since it can
// only be built once their AddrMe is known), send verack, wait for their
// verack. Sending our version is not deferred to the caller: the remote
// won't send its own verack until it has seen ours, so deferring past this
// call would deadlock against NegotiateInbound's own wait for their verack.
func NegotiateInbound(c *Conn, buildVersion VersionBuilder, isOurNonce func(uint64) bool) (*HandshakeResult, error) {
	return finishHandshake(c, buildVersion, isOurNonce, false)
}

func finishHandshake(c *Conn, buildVersion VersionBuilder, isOurNonce func(uint64) bool, weSpokeFirst bool) (*HandshakeResult, error) {
	var theirVersion *wire.MsgVersion
	var gotVerAck bool

	// An inbound connection hasn't sent its version yet; an outbound one
	// already has and is now waiting on theirs plus a verack, in either
	// order (real peers don't always send verack immediately after
	// version), so loop until both are observed.
	for theirVersion == nil || !gotVerAck {
		cmd, msg, err := c.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *wire.MsgVersion:
			if theirVersion != nil {
				return nil, ErrUnexpectedMessage
			}
			if isOurNonce(m.Nonce) {
				return nil, ErrSelfConnect
			}
			if uint32(m.ProtocolVersion) < MinAcceptableProtocolVersion {
				return nil, ErrProtocolTooOld
			}
			theirVersion = m
			if !weSpokeFirst {
				// Reply with our own version before acking theirs: they
				// won't send their verack until they've seen ours.
				if err := c.WriteMessage(buildVersion(&m.AddrMe)); err != nil {
					return nil, err
				}
			}
			if err := c.WriteMessage(&wire.MsgVerAck{}); err != nil {
				return nil, err
			}
		case *wire.MsgVerAck:
			gotVerAck = true
		default:
			_ = cmd
			// Anything else arriving mid-handshake is simply ignored
			// rather than treated as fatal: some peers pipeline addr/
			// sendcmpct ahead of verack.
		}
	}

	return &HandshakeResult{
		ProtocolVersion: uint32(theirVersion.ProtocolVersion),
		Services:        theirVersion.Services,
		UserAgent:       theirVersion.UserAgent,
		StartHeight:     theirVersion.LastBlock,
		RemoteNonce:     theirVersion.Nonce,
		RemoteAddr:      &theirVersion.AddrMe,
		RemoteTime:      theirVersion.Timestamp,
	}, nil
}

// PostHandshakeCapabilities sends the capability-announcement messages
// that immediately follow a successful handshake:
// sendheaders, sendcmpct (non-announce, witness-capable), and getaddr.
func PostHandshakeCapabilities(c *Conn, wantGetAddr bool) error {
	if err := c.WriteMessage(&wire.MsgSendHeaders{}); err != nil {
		return err
	}
	sendCmpct := &wire.MsgSendCmpct{Announce: false, Version: 2}
	if err := c.WriteMessage(sendCmpct); err != nil {
		return err
	}
	if wantGetAddr {
		if err := c.WriteMessage(&wire.MsgGetAddr{}); err != nil {
			return err
		}
	}
	return nil
}
