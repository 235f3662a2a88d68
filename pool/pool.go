// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/go-socks/socks"

	"github.com/btcnode/node/addrmgr"
	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/loop"
	"github.com/btcnode/node/mempool"
	netpkg "github.com/btcnode/node/net"
	"github.com/btcnode/node/wire"
)

// Connection, sync-window and relay defaults.
const (
	defaultTargetOutbound = 8
	defaultMaxInbound     = 117
	maxBlocksInFlight     = 16
	maxBlocksInFlightPeer = 16
	headerBatchTimeout    = 2 * time.Minute
	baseBlockTimeout      = time.Second
	blockTimeoutSlope     = 0.5
	invBroadcastInterval  = 200 * time.Millisecond
	pingInterval          = 2 * time.Minute
	pongTimeout           = 20 * time.Minute
	trickleJitterMillis   = 100
	rejectCacheSize       = 25000
)

// Chain is the narrow view of blockchain.BlockChain Pool drives: header
// acceptance, block acceptance, and the query surface needed to serve
// getheaders/getblocks/getdata and pick a locator. Declared here (rather
// than importing *blockchain.BlockChain directly) so Pool is testable
// against a fake without a real on-disk chain.
type Chain interface {
	AcceptHeader(hdr *wire.BlockHeader) (accepted, duplicate bool, err error)
	ProcessBlock(block *btcutil.Block, flags blockchain.BehaviorFlags) (isMainChain, isOrphan bool, err error)
	HaveBlock(hash *chainhash.Hash) (bool, error)
	HeightToHash(height int32) (*chainhash.Hash, error)
	BlockByHash(hash *chainhash.Hash) (*btcutil.Block, error)
	HeadersFromLocator(locator []*chainhash.Hash, stopHash *chainhash.Hash, maxCount int) []wire.BlockHeader
	GetLocatorHashes() []*chainhash.Hash
	BestSnapshot() *blockchain.BestState
	IsCurrent() bool
}

// Mempool is the narrow view of mempool.TxPool Pool drives for transaction
// relay.
type Mempool interface {
	ProcessTransaction(tx *btcutil.Tx, allowOrphan, rateLimit bool, tag mempool.Tag) ([]*mempool.TxDesc, error)
	HaveTransaction(hash *chainhash.Hash) bool
	FetchTransaction(hash *chainhash.Hash) (*btcutil.Tx, error)
	TxDescs() []*mempool.TxDesc
}

// Config bundles everything Pool needs from the rest of the node.
type Config struct {
	ChainParams *chaincfg.Params
	Chain       Chain
	Mempool     Mempool
	AddrManager *addrmgr.AddrManager
	Loop        *loop.Loop

	// TimeSource, when non-nil, is fed each peer's version timestamp so
	// the node's adjusted time tracks what its peers agree on.
	TimeSource blockchain.MedianTimeSource

	// Listeners are local addr:port strings Pool binds and accepts
	// inbound connections on; empty disables listening.
	Listeners []string

	// ConnectPeers, if non-empty, replaces normal outbound discovery:
	// Pool dials exactly these addresses (--connect).
	ConnectPeers []string

	// AddPeers are dialed in addition to normal outbound discovery
	// (--addnode).
	AddPeers []string

	TargetOutbound uint32
	MaxInbound     uint32

	// UserAgent identifies this node in the version handshake.
	UserAgent string

	// Proxy, when non-empty, routes every outbound dial through the
	// given SOCKS5 proxy (host:port), with optional credentials.
	Proxy     string
	ProxyUser string
	ProxyPass string
}

// Pool implements the peer-to-peer layer: peer lifecycle, headers-first
// sync, block/transaction relay and misbehavior scoring. All
// exported methods except inbound/outbound connection plumbing are called
// only from the Loop goroutine; network I/O happens on dedicated
// reader/writer goroutines per peer that hand decoded messages to the loop
// via loop.Loop.Defer, following this module's loop package's "pump
// goroutines carry bytes[/messages], not callbacks" design.
type Pool struct {
	cfg Config

	mtx       sync.Mutex
	peers     map[int64]*Peer
	outbound  int
	inbound   int
	nextPeer  int64
	ourNonces map[uint64]struct{}

	syncPeerID int64

	banned map[string]time.Time

	rejectCache *invCache

	listeners []net.Listener

	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns an unstarted Pool.
func New(cfg *Config) *Pool {
	target := cfg.TargetOutbound
	if target == 0 {
		target = defaultTargetOutbound
	}
	maxIn := cfg.MaxInbound
	if maxIn == 0 {
		maxIn = defaultMaxInbound
	}
	cfg.TargetOutbound = target
	cfg.MaxInbound = maxIn

	return &Pool{
		cfg:         *cfg,
		peers:       make(map[int64]*Peer),
		ourNonces:   make(map[uint64]struct{}),
		banned:      make(map[string]time.Time),
		rejectCache: newInvCache(rejectCacheSize),
		quit:        make(chan struct{}),
	}
}

// Start begins listening for inbound connections (if configured), seeds
// outbound connection maintenance and housekeeping timers on the loop, and
// dials --connect/--addnode targets.
func (p *Pool) Start() error {
	for _, addr := range p.cfg.Listeners {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("pool: listen %s: %w", addr, err)
		}
		p.listeners = append(p.listeners, ln)
		p.wg.Add(1)
		go p.acceptLoop(ln)
	}

	for _, addr := range p.cfg.ConnectPeers {
		p.dialOutbound(addr, false)
	}
	for _, addr := range p.cfg.AddPeers {
		p.dialOutbound(addr, false)
	}

	p.cfg.Loop.AddTimer(10*time.Second, true, p.maintainOutboundPeers)
	p.cfg.Loop.AddTimer(30*time.Second, true, p.pingPeers)
	p.cfg.Loop.AddTimer(5*time.Second, true, p.checkStalledBlocks)
	p.cfg.Loop.AddTimer(jitteredInvInterval(), true, p.flushInvQueues)

	return nil
}

// Stop closes listeners and disconnects every peer; in-flight reader/writer
// goroutines observe the closed connections and exit.
func (p *Pool) Stop() {
	close(p.quit)
	for _, ln := range p.listeners {
		ln.Close()
	}
	p.mtx.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mtx.Unlock()
	for _, pr := range peers {
		p.disconnectPeer(pr, "pool stopping")
	}
	p.wg.Wait()
}

func (p *Pool) acceptLoop(ln net.Listener) {
	defer p.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-p.quit:
				return
			default:
				log.Warnf("accept error: %v", err)
				return
			}
		}
		p.mtx.Lock()
		full := p.inbound >= int(p.cfg.MaxInbound)
		p.mtx.Unlock()
		if full || p.isBanned(conn.RemoteAddr().String()) {
			conn.Close()
			continue
		}
		p.cfg.Loop.Defer(func() { p.handleInbound(conn) })
	}
}

// maintainOutboundPeers dials new outbound peers up to TargetOutbound when
// ConnectPeers is not in exclusive-connect mode.
func (p *Pool) maintainOutboundPeers() {
	if len(p.cfg.ConnectPeers) > 0 {
		return
	}
	p.mtx.Lock()
	need := int(p.cfg.TargetOutbound) - p.outbound
	p.mtx.Unlock()
	for i := 0; i < need; i++ {
		ka := p.cfg.AddrManager.GetAddress()
		if ka == nil {
			break
		}
		addr := ka.NetAddress()
		p.cfg.AddrManager.Attempt(addr)
		p.dialOutbound(net.JoinHostPort(addr.IP.String(), fmt.Sprintf("%d", addr.Port)), true)
	}
}

func (p *Pool) dialOutbound(addr string, fromAddrMan bool) {
	if p.isBanned(addr) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn, err := p.dial(addr)
		if err != nil {
			log.Debugf("dial %s failed: %v", addr, err)
			return
		}
		p.cfg.Loop.Defer(func() { p.handleOutbound(conn, addr) })
	}()
}

// dial establishes an outbound TCP connection, through the configured
// SOCKS5 proxy when one is set.
func (p *Pool) dial(addr string) (net.Conn, error) {
	if p.cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     p.cfg.Proxy,
			Username: p.cfg.ProxyUser,
			Password: p.cfg.ProxyPass,
		}
		return proxy.DialTimeout("tcp", addr, netpkg.HandshakeTimeout)
	}
	return net.DialTimeout("tcp", addr, netpkg.HandshakeTimeout)
}

// isBanned reports whether addr's host is currently banned.
func (p *Pool) isBanned(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	until, ok := p.banned[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(p.banned, host)
		return false
	}
	return true
}

func (p *Pool) ban(addr string) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	p.mtx.Lock()
	p.banned[host] = time.Now().Add(BanDuration)
	p.mtx.Unlock()
}

// nextNonce returns a nonce for an outbound version message, recorded so a
// matching inbound nonce is recognized as a self-connection.
func (p *Pool) nextNonce() uint64 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	n := rand.Uint64()
	p.ourNonces[n] = struct{}{}
	return n
}

func (p *Pool) isOurNonce(n uint64) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	_, ok := p.ourNonces[n]
	return ok
}

// PeerCount returns the number of currently connected peers.
func (p *Pool) PeerCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.peers)
}

// Peers returns a snapshot slice of connected peers, for getpeerinfo.
func (p *Pool) Peers() []*Peer {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	out := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		out = append(out, pr)
	}
	return out
}
