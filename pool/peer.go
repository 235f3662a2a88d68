// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"

	netpkg "github.com/btcnode/node/net"
	"github.com/btcnode/node/wire"
)

// State is a peer's position in the per-peer state machine:
// CONNECTING -> VERSION_SENT -> VERACK_WAIT -> READY ->
// SYNCING|IDLE -> DISCONNECTING. All transitions happen on the loop
// goroutine; State is never read or written from any other goroutine.
type State int

const (
	StateConnecting State = iota
	StateVersionSent
	StateVerAckWait
	StateReady
	StateSyncing
	StateIdle
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateVersionSent:
		return "VERSION_SENT"
	case StateVerAckWait:
		return "VERACK_WAIT"
	case StateReady:
		return "READY"
	case StateSyncing:
		return "SYNCING"
	case StateIdle:
		return "IDLE"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Misbehavior point values.
const (
	MisbehaviorSerializationError = 100
	MisbehaviorInvalidBlock       = 100
	MisbehaviorInvalidHeader      = 20
	MisbehaviorStallMin           = 1
	MisbehaviorStallMax           = 20
	MisbehaviorUnsolicitedReply   = 10

	// BanThreshold is the score at which a peer is disconnected and its
	// address banned.
	BanThreshold = 100

	// BanDuration is how long a banned address is refused reconnection.
	BanDuration = 24 * time.Hour
)

// blockRequest is a single outstanding getdata(block) this peer owes us,
// tracked so a missed deadline can be reassigned to another peer.
type blockRequest struct {
	hash     chainhash.Hash
	height   int32
	deadline time.Time
}

// Peer is the pool's view of one connected remote node: identity,
// negotiated capabilities, sync bookkeeping and misbehavior statistics. A Peer's fields are owned exclusively by the loop
// goroutine; nothing outside Pool's own callbacks ever touches one.
type Peer struct {
	id        int64
	addr      string
	inbound   bool
	conn      *netpkg.Conn
	createdAt time.Time

	state State

	protocolVersion uint32
	services        wire.ServiceFlag
	userAgent       string
	nonce           uint64

	// startHeight is the height the peer advertised in its version
	// message; height is updated as it announces new tips.
	startHeight int32
	height      int32
	bestHash    chainhash.Hash

	sendHeaders bool
	wantCmpct   bool
	cmpctHighBW bool

	// feeFilter is the minimum fee rate (sat/kvB) this peer has asked us
	// to observe before relaying tx invs to it.
	feeFilterRate int64

	inflight map[chainhash.Hash]*blockRequest

	// pendingCmpct is the compact block currently being reconstructed
	// from this peer, if any; at most one at a time.
	pendingCmpct *pendingCmpct

	knownInv   *invCache
	rejectKnow *invCache

	misbehavior int
	banned      bool

	bytesSent int64
	bytesRecv int64
	lastRecv  time.Time
	lastSend  time.Time

	lastPingNonce uint64
	lastPingSent  time.Time
	pingMicros    int64

	addrSendQueue []*wire.NetAddress
	invSendQueue  []*wire.InvVect
}

// newPeer constructs a Peer in the CONNECTING state; Pool fills in
// identity fields once the handshake completes.
func newPeer(id int64, addr string, inbound bool, conn *netpkg.Conn) *Peer {
	return &Peer{
		id:         id,
		addr:       addr,
		inbound:    inbound,
		conn:       conn,
		createdAt:  time.Now(),
		state:      StateConnecting,
		inflight:   make(map[chainhash.Hash]*blockRequest),
		knownInv:   newInvCache(5000),
		rejectKnow: newInvCache(1000),
	}
}

// ID returns the peer's pool-local identifier.
func (p *Peer) ID() int64 { return p.id }

// Addr returns the peer's network address string.
func (p *Peer) Addr() string { return p.addr }

// Inbound reports whether the peer connected to us (vs. us dialing them).
func (p *Peer) Inbound() bool { return p.inbound }

// State returns the peer's current state-machine state.
func (p *Peer) State() State { return p.state }

// StartHeight returns the height the peer advertised at handshake time.
func (p *Peer) StartHeight() int32 { return p.startHeight }

// LastKnownHeight returns the most recently observed height for the peer
// (updated from headers/inv announcements, not just the handshake).
func (p *Peer) LastKnownHeight() int32 { return p.height }

// Misbehavior returns the peer's current cumulative misbehavior score.
func (p *Peer) Misbehavior() int { return p.misbehavior }

// UserAgent returns the user agent the peer advertised at handshake time.
func (p *Peer) UserAgent() string { return p.userAgent }

// Services returns the service bitmask the peer advertised.
func (p *Peer) Services() wire.ServiceFlag { return p.services }

// ProtocolVersion returns the negotiated protocol version.
func (p *Peer) ProtocolVersion() uint32 { return p.protocolVersion }

// BytesSent returns the total bytes written to the peer's connection.
func (p *Peer) BytesSent() int64 { return p.conn.BytesSent() }

// BytesReceived returns the total bytes read from the peer's connection.
func (p *Peer) BytesReceived() int64 { return p.conn.BytesReceived() }

// TimeConnected returns when the connection was established.
func (p *Peer) TimeConnected() time.Time { return p.createdAt }

// LastPingMicros returns the most recently measured ping round trip in
// microseconds, or zero if no pong has come back yet.
func (p *Peer) LastPingMicros() int64 { return p.pingMicros }

// LastSend returns when a message was last written to the peer.
func (p *Peer) LastSend() time.Time { return p.lastSend }

// LastRecv returns when a message was last received from the peer.
func (p *Peer) LastRecv() time.Time { return p.lastRecv }

// addBanScore adds points to the misbehavior score and reports whether
// the peer has now crossed BanThreshold. Scores are monotone
// non-decreasing until disconnect.
func (p *Peer) addBanScore(points int, reason string) bool {
	p.misbehavior += points
	log.Debugf("peer %d (%s) misbehavior +%d (%s), total %d", p.id, p.addr, points, reason, p.misbehavior)
	return p.misbehavior >= BanThreshold
}

// inflightCount returns the number of getdata(block) requests currently
// outstanding against this peer.
func (p *Peer) inflightCount() int { return len(p.inflight) }

// invCache is a small bounded "have we seen this inventory hash" cache used
// for both per-peer known-inventory suppression and the node-wide rolling
// rejection cache that suppresses replays of invalid transactions. It
// wraps decred/dcrd/lru's hash-keyed cache rather than a bloom filter: a
// plain bounded LRU gives the same "suppress replays up to some horizon"
// behavior without a bloom filter's false-positive rate, at the scale a
// single peer's announced inventory needs.
type invCache struct {
	cache lru.Cache[chainhash.Hash]
}

func newInvCache(size uint) *invCache {
	return &invCache{cache: lru.NewCache[chainhash.Hash](size)}
}

func (c *invCache) add(h chainhash.Hash)           { c.cache.Add(h) }
func (c *invCache) contains(h chainhash.Hash) bool { return c.cache.Contains(h) }
