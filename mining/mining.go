// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"container/heap"
	"fmt"
	"math/big"
	"time"

	"github.com/btcnode/node/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/txscript"
	"github.com/btcnode/node/wire"
)

// CoinbaseFlags is appended to the coinbase signature script of every
// generated block and is used to identify the software that produced it,
// following the same convention BIP34-era miners used to signal BIP16
// support.
const CoinbaseFlags = "/btcnode/"

// generatedBlockVersion is the version of the blocks being generated prior
// to the activation of the next unactivated soft fork that changes block
// validation.
const generatedBlockVersion = 4

// blockHeaderOverhead is the max number of bytes it takes to serialize a
// block header (80 bytes) plus the largest possible transaction-count
// varint (9 bytes).
const blockHeaderOverhead = wire.BlockHeaderLen + 9

// coinbaseOutpointIndex is the sentinel previous-output index identifying a
// coinbase input, per Bitcoin's convention of an all-zero previous hash
// paired with an all-ones index.
const coinbaseOutpointIndex = 0xffffffff

// TxDesc is a descriptor about a transaction in a transaction source along
// with additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *btcutil.Tx

	// Added is the time the entry was added to the source pool.
	Added time.Time

	// Height is the block height the entry was added at.
	Height int32

	// Fee is the total fee, in satoshi, the transaction pays.
	Fee int64

	// FeePerKB is the fee the transaction pays in satoshi per 1000
	// bytes of virtual size.
	FeePerKB int64
}

// TxSource represents a source of transactions to consider for inclusion in
// new blocks, satisfied by the mempool package's TxPool.
//
// The interface contract requires every method be safe for concurrent
// access with respect to the source.
type TxSource interface {
	// LastUpdated returns the last time a transaction was added to or
	// removed from the source.
	LastUpdated() time.Time

	// MiningDescs returns a slice of mining descriptors for all the
	// transactions in the source.
	MiningDescs() []*TxDesc

	// HaveTransaction returns whether the transaction exists in the
	// source pool.
	HaveTransaction(hash *chainhash.Hash) bool
}

// ChainState is the minimal read-only view of the best chain a template
// generator needs: the tip to build on top of, and the target the new
// block's proof of work must satisfy. It is deliberately narrow so that
// blockchain.BlockChain satisfies it without this package importing any of
// blockchain's mutation surface.
type ChainState interface {
	// TipHash returns the hash of the current best chain tip.
	TipHash() chainhash.Hash

	// TipHeight returns the height of the current best chain tip.
	TipHeight() int32

	// NextRequiredDifficulty returns the PoW target new blocks built on
	// the tip, timestamped newBlockTime, must meet, in compact form.
	NextRequiredDifficulty(newBlockTime time.Time) (uint32, error)

	// MedianTimePast returns the median time of the last several blocks
	// ending with the tip, the minimum timestamp a new block may carry.
	MedianTimePast() time.Time
}

// txPrioItem houses a transaction and its feerate for the priority queue.
type txPrioItem struct {
	tx       *btcutil.Tx
	fee      int64
	feePerKB int64
}

type txPriorityQueue struct {
	items []*txPrioItem
}

func (pq *txPriorityQueue) Len() int { return len(pq.items) }

func (pq *txPriorityQueue) Less(i, j int) bool {
	return pq.items[i].feePerKB > pq.items[j].feePerKB
}

func (pq *txPriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *txPriorityQueue) Push(x interface{}) {
	pq.items = append(pq.items, x.(*txPrioItem))
}

func (pq *txPriorityQueue) Pop() interface{} {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items[n-1] = nil
	pq.items = pq.items[:n-1]
	return item
}

func newTxPriorityQueue(reserve int) *txPriorityQueue {
	pq := &txPriorityQueue{items: make([]*txPrioItem, 0, reserve)}
	heap.Init(pq)
	return pq
}

// BlockTemplate houses a block ready to be solved along with additional
// details about the fee and sigop cost of each transaction, needed by a
// caller (e.g. getblocktemplate) that may trim transactions from the end of
// the template to respect a tighter budget than the one used to build it.
type BlockTemplate struct {
	// Block is the candidate block, complete except for the nonce (and,
	// during testnet's minimum-difficulty exception, the timestamp) that
	// must be found to satisfy its proof of work.
	Block *wire.MsgBlock

	// Fees contains the fee, in satoshi, paid by each transaction in
	// Block, in the same order, with Fees[0] (the coinbase) set to the
	// negative of the total reward paid out.
	Fees []int64

	// SigOpCosts contains the weighted signature operation cost of each
	// transaction in Block, in the same order. Only legacy signature
	// operations (CountSigOps) are counted; P2SH and witness ones are not.
	SigOpCosts []int64

	// Height is the height of the block the template extends the chain
	// to -- one more than the tip it was built on.
	Height int32

	// ValidPayAddress indicates whether the coinbase output pays a
	// script supplied by the caller, as opposed to an internally
	// generated placeholder.
	ValidPayAddress bool
}

// BlkTmplGenerator generates block templates based on a given mining policy
// and a transaction source. It is not safe for concurrent access to the
// same instance from multiple goroutines without external synchronization
// of the underlying TxSource and ChainState implementations.
type BlkTmplGenerator struct {
	policy      *Policy
	chainParams *chaincfg.Params
	txSource    TxSource
	chain       ChainState
	sigCache    *txscript.SigCache
}

// NewBlkTmplGenerator returns a new block template generator.
func NewBlkTmplGenerator(policy *Policy, params *chaincfg.Params, txSource TxSource,
	chain ChainState, sigCache *txscript.SigCache) *BlkTmplGenerator {

	return &BlkTmplGenerator{
		policy:      policy,
		chainParams: params,
		txSource:    txSource,
		chain:       chain,
		sigCache:    sigCache,
	}
}

// CalcBlockSubsidy returns the subsidy amount a block at the provided
// height should pay, taking into account the subsidy reduction (halving)
// interval defined in chainParams.
func CalcBlockSubsidy(height int32, chainParams *chaincfg.Params) int64 {
	if chainParams.SubsidyReductionInterval == 0 {
		return baseSubsidy
	}

	return baseSubsidy >> uint(height/chainParams.SubsidyReductionInterval)
}

// baseSubsidy is the starting subsidy amount, in satoshi, paid for solving a
// block before any halvings are applied.
const baseSubsidy = 50 * 100000000

// NewBlockTemplate returns a new block template ready to be solved, using
// transactions from the generator's TxSource. The coinbase output pays
// payToScript the block subsidy plus the sum of all selected transactions'
// fees; if payToScript is empty, an OP_RETURN-only coinbase output is
// generated instead and ValidPayAddress is set false.
func (g *BlkTmplGenerator) NewBlockTemplate(payToScript []byte, extraNonce uint64) (*BlockTemplate, error) {
	prevHash := g.chain.TipHash()
	nextHeight := g.chain.TipHeight() + 1

	// Extend the tip's timestamp to the current local time, but never
	// walk it backwards past the median of the last several blocks.
	ts := time.Now()
	if medianTime := g.chain.MedianTimePast(); ts.Before(medianTime) {
		ts = medianTime.Add(time.Second)
	}

	reqDifficulty, err := g.chain.NextRequiredDifficulty(ts)
	if err != nil {
		return nil, fmt.Errorf("failed to calc difficulty for next block: %w", err)
	}

	coinbaseScript, err := standardCoinbaseScript(nextHeight, extraNonce)
	if err != nil {
		return nil, err
	}

	coinbaseTx, err := createCoinbaseTx(g.chainParams, coinbaseScript, payToScript, nextHeight)
	if err != nil {
		return nil, err
	}
	validPayAddress := len(payToScript) > 0

	blockTxns := make([]*btcutil.Tx, 0, 50)
	blockTxns = append(blockTxns, coinbaseTx)

	blockWeight := uint32(blockHeaderOverhead)
	blockSigOpCost := int64(0)
	totalFees := int64(0)

	fees := make([]int64, 0, 50)
	sigOpCosts := make([]int64, 0, 50)
	fees = append(fees, -1) // patched in below once totalFees is known
	sigOpCosts = append(sigOpCosts, int64(blockchain.CountSigOps(coinbaseTx)*blockchain.WitnessScaleFactor))

	sourceTxns := g.txSource.MiningDescs()
	priorityQueue := newTxPriorityQueue(len(sourceTxns))
	for _, txDesc := range sourceTxns {
		if txDesc.Tx.MsgTx().IsCoinBase() {
			continue
		}
		heap.Push(priorityQueue, &txPrioItem{
			tx:       txDesc.Tx,
			fee:      txDesc.Fee,
			feePerKB: txDesc.FeePerKB,
		})
	}

	for priorityQueue.Len() > 0 {
		prioItem := heap.Pop(priorityQueue).(*txPrioItem)
		tx := prioItem.tx

		txWeight := uint32(blockchain.GetTransactionWeight(tx))
		if blockWeight+txWeight > g.policy.BlockMaxWeight {
			continue
		}

		sigOpCost := blockchain.CountSigOps(tx) * blockchain.WitnessScaleFactor
		if blockSigOpCost+int64(sigOpCost) > blockchain.MaxBlockSigOpsCost {
			continue
		}

		blockTxns = append(blockTxns, tx)
		fees = append(fees, prioItem.fee)
		sigOpCosts = append(sigOpCosts, int64(sigOpCost))

		blockWeight += txWeight
		blockSigOpCost += int64(sigOpCost)
		totalFees += prioItem.fee
	}

	reward := CalcBlockSubsidy(nextHeight, g.chainParams) + totalFees
	coinbaseTx.MsgTx().TxOut[0].Value = reward
	fees[0] = -reward

	msgBlock := wire.NewMsgBlock(&wire.BlockHeader{
		Version:    generatedBlockVersion,
		PrevBlock:  prevHash,
		Timestamp:  ts,
		Bits:       reqDifficulty,
	})
	for _, tx := range blockTxns {
		msgBlock.AddTransaction(tx.MsgTx())
	}
	msgBlock.Header.MerkleRoot = blockchain.CalcMerkleRoot(blockTxns, false)

	return &BlockTemplate{
		Block:           msgBlock,
		Fees:            fees,
		SigOpCosts:      sigOpCosts,
		Height:          nextHeight,
		ValidPayAddress: validPayAddress,
	}, nil
}

// standardCoinbaseScript returns a standard coinbase signature script,
// encoding the serialized block height per BIP34 followed by CoinbaseFlags
// and a unique extra nonce so repeated template regeneration at the same
// height produces distinct coinbase transactions.
func standardCoinbaseScript(nextBlockHeight int32, extraNonce uint64) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddInt64(int64(nextBlockHeight)).
		AddInt64(int64(extraNonce)).
		AddData([]byte(CoinbaseFlags)).
		Script()
}

// createCoinbaseTx returns a coinbase transaction paying an appropriate
// subsidy based on the passed block height. The reward is set to zero and
// patched in by the caller once the total fee pool for the block is known.
func createCoinbaseTx(params *chaincfg.Params, coinbaseScript, payToScript []byte, nextBlockHeight int32) (*btcutil.Tx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{}, coinbaseOutpointIndex),
		SignatureScript:  coinbaseScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})

	pkScript := payToScript
	if len(pkScript) == 0 {
		var err error
		pkScript, err = txscript.NullDataScript([]byte("unclaimed block reward"))
		if err != nil {
			return nil, err
		}
	}
	tx.AddTxOut(&wire.TxOut{
		Value:    0,
		PkScript: pkScript,
	})

	return btcutil.NewTx(tx), nil
}

// solvedBlockHash is the double-SHA256 block hash a mined block's header
// must produce for SolveBlock to accept it.
func solvedBlockHash(header *wire.BlockHeader) chainhash.Hash {
	return header.BlockHash()
}

// SolveBlock attempts, within maxTries nonce values, to find a nonce that
// makes block's header hash satisfy its target difficulty. It reports
// false if no such nonce was found in the given budget, in which case the
// caller should update the timestamp (and, if building from a template,
// regenerate the coinbase via a new extra nonce) before trying again.
func SolveBlock(block *wire.MsgBlock, maxTries uint32) bool {
	header := &block.Header
	targetDifficulty := compactToBig(header.Bits)

	for i := uint32(0); i < maxTries; i++ {
		header.Nonce = i
		hash := solvedBlockHash(header)
		if hashToBig(&hash).Cmp(targetDifficulty) <= 0 {
			return true
		}
	}
	return false
}

// compactToBig converts a compact-encoded (nBits) difficulty target to its
// big.Int representation, mirroring Bitcoin's "nBits" encoding: the low 3
// bytes are a mantissa, the high byte is a base-256 exponent.
func compactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if compact&0x00800000 != 0 {
		bn = bn.Neg(bn)
	}
	return bn
}

// hashToBig converts a chainhash.Hash to a big.Int treating the hash as a
// little-endian 256-bit number, matching Bitcoin's convention for
// comparing block hashes against a difficulty target.
func hashToBig(hash *chainhash.Hash) *big.Int {
	buf := *hash
	for i := 0; i < len(buf)/2; i++ {
		buf[i], buf[len(buf)-1-i] = buf[len(buf)-1-i], buf[i]
	}
	return new(big.Int).SetBytes(buf[:])
}
