// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/mempool"
	netpkg "github.com/btcnode/node/net"
	"github.com/btcnode/node/wire"
)

// fakeChain satisfies the Chain interface with a canned view: a best
// height, a height->hash table, and a set of blocks already downloaded.
type fakeChain struct {
	best     blockchain.BestState
	byHeight map[int32]chainhash.Hash
	have     map[chainhash.Hash]bool

	headersAccepted int
}

func newFakeChain(bestHeight int32) *fakeChain {
	return &fakeChain{
		best:     blockchain.BestState{Height: bestHeight},
		byHeight: make(map[int32]chainhash.Hash),
		have:     make(map[chainhash.Hash]bool),
	}
}

func (c *fakeChain) AcceptHeader(hdr *wire.BlockHeader) (bool, bool, error) {
	c.headersAccepted++
	return true, false, nil
}

func (c *fakeChain) ProcessBlock(block *btcutil.Block, flags blockchain.BehaviorFlags) (bool, bool, error) {
	c.have[*block.Hash()] = true
	return true, false, nil
}

func (c *fakeChain) HaveBlock(hash *chainhash.Hash) (bool, error) {
	return c.have[*hash], nil
}

func (c *fakeChain) HeightToHash(height int32) (*chainhash.Hash, error) {
	if h, ok := c.byHeight[height]; ok {
		return &h, nil
	}
	return nil, blockchain.ErrHeaderNotFound
}

func (c *fakeChain) BlockByHash(*chainhash.Hash) (*btcutil.Block, error) {
	return nil, blockchain.ErrHeaderNotFound
}

func (c *fakeChain) HeadersFromLocator([]*chainhash.Hash, *chainhash.Hash, int) []wire.BlockHeader {
	return nil
}

func (c *fakeChain) GetLocatorHashes() []*chainhash.Hash { return nil }

func (c *fakeChain) BestSnapshot() *blockchain.BestState {
	best := c.best
	return &best
}

func (c *fakeChain) IsCurrent() bool { return false }

// fakeMempool satisfies the Mempool interface with an always-empty pool.
type fakeMempool struct{}

func (*fakeMempool) ProcessTransaction(tx *btcutil.Tx, allowOrphan, rateLimit bool, tag mempool.Tag) ([]*mempool.TxDesc, error) {
	return nil, nil
}
func (*fakeMempool) HaveTransaction(*chainhash.Hash) bool { return false }
func (*fakeMempool) FetchTransaction(*chainhash.Hash) (*btcutil.Tx, error) {
	return nil, blockchain.ErrHeaderNotFound
}
func (*fakeMempool) TxDescs() []*mempool.TxDesc { return nil }

// addTestPeer registers a ready peer backed by one end of an in-memory
// pipe, draining the other end so writes never block.
func addTestPeer(t *testing.T, p *Pool, id int64) *Peer {
	t.Helper()
	local, remote := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { local.Close(); remote.Close() })

	conn := netpkg.NewConn(local, wire.MainNet, wire.ProtocolVersion)
	peer := newPeer(id, "127.0.0.1:8333", false, conn)
	peer.state = StateReady

	p.mtx.Lock()
	p.peers[id] = peer
	p.outbound++
	if id > p.nextPeer {
		p.nextPeer = id
	}
	p.mtx.Unlock()
	return peer
}

func testPool(chain Chain) *Pool {
	return New(&Config{
		ChainParams: &chaincfg.MainNetParams,
		Chain:       chain,
		Mempool:     &fakeMempool{},
	})
}

// TestStalledBlockReassignment drives the peer-stall scenario: a block
// requested from peer P whose deadline has passed is reassigned to peer Q,
// and P's misbehavior score increases by the stall penalty.
func TestStalledBlockReassignment(t *testing.T) {
	chain := newFakeChain(0)
	blockHash := chainhash.DoubleHashH([]byte("block at height 1"))
	chain.byHeight[1] = blockHash

	p := testPool(chain)
	peerP := addTestPeer(t, p, 1)
	peerQ := addTestPeer(t, p, 2)

	// Simulate a getdata issued to P whose deadline has already expired.
	peerP.inflight[blockHash] = &blockRequest{
		hash:     blockHash,
		height:   1,
		deadline: time.Now().Add(-time.Second),
	}

	p.checkStalledBlocks()

	if got := peerP.Misbehavior(); got != MisbehaviorStallMin {
		t.Fatalf("stalled peer misbehavior = %d, want %d", got, MisbehaviorStallMin)
	}
	p.mtx.Lock()
	_, stillPresent := p.peers[peerP.id]
	p.mtx.Unlock()
	if stillPresent {
		t.Fatal("stalled peer should have been disconnected")
	}
	if _, ok := peerQ.inflight[blockHash]; !ok {
		t.Fatal("stalled block was not reassigned to the remaining peer")
	}
}

// TestMisbehaviorMonotoneAndBan checks the score never decreases and the
// peer is disconnected and its address banned at the threshold.
func TestMisbehaviorMonotoneAndBan(t *testing.T) {
	chain := newFakeChain(0)
	p := testPool(chain)
	peer := addTestPeer(t, p, 1)

	prev := 0
	for _, points := range []int{MisbehaviorStallMin, MisbehaviorUnsolicitedReply, MisbehaviorInvalidHeader} {
		p.addBanScore(peer, points, "test")
		if peer.Misbehavior() < prev {
			t.Fatalf("misbehavior decreased: %d -> %d", prev, peer.Misbehavior())
		}
		prev = peer.Misbehavior()
	}

	// Push over the threshold.
	p.addBanScore(peer, MisbehaviorInvalidBlock, "test")
	if peer.Misbehavior() < BanThreshold {
		t.Fatalf("misbehavior %d should have crossed threshold %d", peer.Misbehavior(), BanThreshold)
	}
	p.mtx.Lock()
	_, stillPresent := p.peers[peer.id]
	p.mtx.Unlock()
	if stillPresent {
		t.Fatal("banned peer should have been disconnected")
	}
	if !p.isBanned(peer.addr) {
		t.Fatal("banned peer's address should be refused")
	}
}

// TestDownloadSchedulingRespectsWindows checks startBlockDownload never
// exceeds the global in-flight window and spreads requests across peers.
func TestDownloadSchedulingRespectsWindows(t *testing.T) {
	chain := newFakeChain(0)
	for height := int32(1); height <= 64; height++ {
		chain.byHeight[height] = chainhash.DoubleHashH([]byte{byte(height)})
	}

	p := testPool(chain)
	peerA := addTestPeer(t, p, 1)
	peerB := addTestPeer(t, p, 2)

	p.startBlockDownload()

	total := peerA.inflightCount() + peerB.inflightCount()
	if total != maxBlocksInFlight {
		t.Fatalf("total in-flight %d, want %d", total, maxBlocksInFlight)
	}
	if peerA.inflightCount() == 0 || peerB.inflightCount() == 0 {
		t.Fatalf("requests not spread across peers: %d/%d",
			peerA.inflightCount(), peerB.inflightCount())
	}
}

// TestCompactBlockRoundTrip builds a compact announcement for a block,
// reconstructs it on the receiving side (prefilled coinbase, no short
// ids), and checks the block reaches the chain.
func TestCompactBlockRoundTrip(t *testing.T) {
	chain := newFakeChain(0)
	p := testPool(chain)
	sender := addTestPeer(t, p, 1)

	genesis := btcutil.NewBlock(chaincfg.MainNetParams.GenesisBlock)
	cmpct := p.buildCmpctBlock(genesis)
	if len(cmpct.PrefilledTxns) != 1 || len(cmpct.ShortTxIDs) != 0 {
		t.Fatalf("one-transaction block should prefill only the coinbase: %d/%d",
			len(cmpct.PrefilledTxns), len(cmpct.ShortTxIDs))
	}

	p.onCmpctBlock(sender, cmpct)
	if !chain.have[*genesis.Hash()] {
		t.Fatal("reconstructed compact block never reached the chain")
	}
}

// TestCompactBlockMissingTx checks the getblocktxn fallback: a short id
// absent from the mempool leaves a pending reconstruction that a blocktxn
// reply completes.
func TestCompactBlockMissingTx(t *testing.T) {
	chain := newFakeChain(0)
	p := testPool(chain)
	sender := addTestPeer(t, p, 1)

	coinbase := chaincfg.MainNetParams.GenesisBlock.Transactions[0]
	spend := wire.NewMsgTx(1)
	spend.TxIn = append(spend.TxIn, &wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: coinbase.TxHash()},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	spend.TxOut = append(spend.TxOut, &wire.TxOut{Value: 1000, PkScript: []byte{0x51}})

	header := chaincfg.MainNetParams.GenesisBlock.Header
	header.MerkleRoot = blockchain.CalcMerkleRoot(
		[]*btcutil.Tx{btcutil.NewTx(coinbase), btcutil.NewTx(spend)}, false)
	msgBlock := wire.NewMsgBlock(&header)
	msgBlock.AddTransaction(coinbase)
	msgBlock.AddTransaction(spend)
	block := btcutil.NewBlock(msgBlock)

	cmpct := p.buildCmpctBlock(block)
	if len(cmpct.ShortTxIDs) != 1 {
		t.Fatalf("expected one short id, got %d", len(cmpct.ShortTxIDs))
	}

	// The mempool is empty, so reconstruction must stall on the spend
	// transaction and ask for it.
	p.onCmpctBlock(sender, cmpct)
	if sender.pendingCmpct == nil {
		t.Fatal("missing transaction did not leave a pending reconstruction")
	}
	if chain.have[*block.Hash()] {
		t.Fatal("incomplete block processed prematurely")
	}

	p.onBlockTxn(sender, &wire.MsgBlockTxn{
		BlockHash:    *block.Hash(),
		Transactions: []*wire.MsgTx{spend},
	})
	if sender.pendingCmpct != nil {
		t.Fatal("pending reconstruction not cleared")
	}
	if !chain.have[*block.Hash()] {
		t.Fatal("completed block never reached the chain")
	}
}

// TestInvCache checks the rolling cache's bounded dedup behavior.
func TestInvCache(t *testing.T) {
	c := newInvCache(2)
	h1 := chainhash.DoubleHashH([]byte("a"))
	h2 := chainhash.DoubleHashH([]byte("b"))
	h3 := chainhash.DoubleHashH([]byte("c"))

	c.add(h1)
	c.add(h2)
	if !c.contains(h1) || !c.contains(h2) {
		t.Fatal("cache lost a fresh entry")
	}
	c.add(h3)
	if !c.contains(h3) {
		t.Fatal("cache dropped the newest entry")
	}
	if c.contains(h1) && c.contains(h2) && c.contains(h3) {
		t.Fatal("cache exceeded its bound")
	}
}

// TestQueueInvDedup checks per-peer known-inventory suppression: a peer is
// never queued an inv it already announced to us.
func TestQueueInvDedup(t *testing.T) {
	chain := newFakeChain(0)
	p := testPool(chain)
	peer := addTestPeer(t, p, 1)

	hash := chainhash.DoubleHashH([]byte("tx"))
	peer.knownInv.add(hash)

	p.queueInvForBroadcast(wire.NewInvVect(wire.InvTypeTx, &hash))
	if len(peer.invSendQueue) != 0 {
		t.Fatal("inv queued to a peer that already knows it")
	}

	other := chainhash.DoubleHashH([]byte("other tx"))
	p.queueInvForBroadcast(wire.NewInvVect(wire.InvTypeTx, &other))
	if len(peer.invSendQueue) != 1 {
		t.Fatalf("inv queue length %d, want 1", len(peer.invSendQueue))
	}
}
