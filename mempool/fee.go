// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/btcutil"
)

// estimateFeeDepth is the number of confirmation-count buckets the
// estimator tracks: transactions confirming in more than this many blocks
// are lumped into the last bucket.
const estimateFeeDepth = 25

// estimateFeeBinCount is the number of fee-rate bins each confirmation
// bucket's feerate histogram is divided into, logarithmically spaced so a
// handful of low-volume bins don't drown out the fee-rate resolution that
// matters near the relay-fee floor.
const estimateFeeBinCount = 20

// estimateFeeBinSize is the spacing factor between adjacent fee-rate bins.
const estimateFeeBinSize = 1.1

// estimateFeeMinRegisteredBlocks is the minimum number of blocks that must
// have contributed an observation before EstimateFee returns a non-error
// result for any confirmation target.
const estimateFeeMinRegisteredBlocks = 3

// estimateFeeDecayRate is applied to every bin's weight every time a new
// block is registered, so old observations gradually stop influencing the
// estimate without being discarded outright.
const estimateFeeDecayRate = 0.998

var (
	// ErrNoFeeData is returned when not enough blocks have been
	// registered to produce a fee estimate for any confirmation target.
	ErrNoFeeData = errors.New("mempool: not enough data to estimate fee")

	// ErrInvalidConfirmations is returned when EstimateFee is asked for a
	// confirmation target this estimator does not track.
	ErrInvalidConfirmations = errors.New("mempool: invalid confirmation target")
)

// feeRateBin returns the ascending fee-rate (satoshi/kvB) boundary of bin i.
func feeRateBin(i int) float64 {
	rate := 1.0
	for j := 0; j < i; j++ {
		rate *= estimateFeeBinSize
	}
	return rate
}

// observedTransaction is a transaction the estimator is waiting to see
// confirm, recorded at the height and fee rate it entered the mempool at.
type observedTransaction struct {
	hash        chainhash.Hash
	feeRate     float64 // satoshi per kilo-virtual-byte
	blockHeight int32
}

// confirmBucket tallies, for one confirmation-count target, how much
// observed fee-rate weight landed in each logarithmic bin.
type confirmBucket struct {
	weights [estimateFeeBinCount]float64
}

func (b *confirmBucket) observe(feeRate float64) {
	bin := estimateFeeBinCount - 1
	for i := 0; i < estimateFeeBinCount; i++ {
		if feeRate < feeRateBin(i+1)*float64(DefaultMinRelayTxFee) {
			bin = i
			break
		}
	}
	b.weights[bin]++
}

func (b *confirmBucket) decay() {
	for i := range b.weights {
		b.weights[i] *= estimateFeeDecayRate
	}
}

// estimate returns the fee rate, in satoshi per kilo-virtual-byte, at or
// above which the requested fraction of observed weight in this bucket's
// confirmation window falls -- i.e. a conservative (high) percentile.
func (b *confirmBucket) estimate(fraction float64) float64 {
	var total float64
	for _, w := range b.weights {
		total += w
	}
	if total == 0 {
		return 0
	}

	threshold := total * fraction
	var cumulative float64
	for i := estimateFeeBinCount - 1; i >= 0; i-- {
		cumulative += b.weights[i]
		if cumulative >= threshold {
			return feeRateBin(i) * float64(DefaultMinRelayTxFee)
		}
	}
	return feeRateBin(0) * float64(DefaultMinRelayTxFee)
}

// FeeEstimator tracks the fee rate unconfirmed transactions paid against how
// many blocks they took to confirm, and uses that history to answer
// EstimateFee queries. It implements a bucketed-decay policy rather than
// the exact percentile-of-mempool algorithm; a conservative policy is all
// the estimate contract asks for.
type FeeEstimator struct {
	mtx sync.Mutex

	maxConfirms      int32
	lastKnownHeight  int32
	registeredBlocks int32

	// observed holds transactions entered into the mempool but not yet
	// confirmed or dropped.
	observed map[chainhash.Hash]*observedTransaction

	// buckets[i] aggregates observations of transactions that took i+1
	// blocks to confirm.
	buckets [estimateFeeDepth]confirmBucket
}

// NewFeeEstimator returns a fee estimator ready to observe transactions and
// answer EstimateFee queries once enough blocks have been registered.
func NewFeeEstimator() *FeeEstimator {
	return &FeeEstimator{
		maxConfirms: estimateFeeDepth,
		observed:    make(map[chainhash.Hash]*observedTransaction),
	}
}

// ObserveTransaction records a transaction that just entered the mempool,
// so its eventual confirmation delay can be tallied.
func (ef *FeeEstimator) ObserveTransaction(txDesc *TxDesc) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	hash := *txDesc.Tx.Hash()
	if _, exists := ef.observed[hash]; exists {
		return
	}

	size := GetTxVirtualSize(txDesc.Tx)
	if size == 0 {
		return
	}
	feeRate := float64(txDesc.Fee) * 1000 / float64(size)

	ef.observed[hash] = &observedTransaction{
		hash:        hash,
		feeRate:     feeRate,
		blockHeight: txDesc.Height,
	}
}

// ObserveBlock processes every non-coinbase transaction hash confirmed in a
// newly connected block: observed transactions are bucketed by how many
// blocks they took to confirm, and the estimator's history decays.
func (ef *FeeEstimator) ObserveBlock(blockHeight int32, minedTxHashes []chainhash.Hash) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	ef.lastKnownHeight = blockHeight
	ef.registeredBlocks++

	for i := range ef.buckets {
		ef.buckets[i].decay()
	}

	for _, hash := range minedTxHashes {
		obs, ok := ef.observed[hash]
		if !ok {
			continue
		}
		delete(ef.observed, hash)

		confirms := blockHeight - obs.blockHeight
		if confirms < 1 {
			confirms = 1
		}
		if confirms > ef.maxConfirms {
			confirms = ef.maxConfirms
		}
		ef.buckets[confirms-1].observe(obs.feeRate)
	}
}

// RemoveOrphanedTransaction stops tracking a transaction that left the
// mempool without confirming -- via conflict, eviction, or expiry.
func (ef *FeeEstimator) RemoveOrphanedTransaction(hash chainhash.Hash) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	delete(ef.observed, hash)
}

// EstimateFee returns the fee rate, in satoshi per kilo-virtual-byte, estimated to achieve
// confirmation within targetBlocks blocks with reasonably high confidence.
func (ef *FeeEstimator) EstimateFee(targetBlocks int32) (btcutil.Amount, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if targetBlocks <= 0 || targetBlocks > ef.maxConfirms {
		return 0, ErrInvalidConfirmations
	}
	if ef.registeredBlocks < estimateFeeMinRegisteredBlocks {
		return 0, ErrNoFeeData
	}

	// Aggregate every bucket for a confirmation count up to and
	// including the target, since a transaction that would confirm in
	// fewer blocks certainly confirms within the target too.
	var combined confirmBucket
	for i := int32(0); i < targetBlocks; i++ {
		for j := range combined.weights {
			combined.weights[j] += ef.buckets[i].weights[j]
		}
	}

	rate := combined.estimate(0.95)
	if rate <= 0 {
		return btcutil.Amount(DefaultMinRelayTxFee), nil
	}

	return btcutil.Amount(rate), nil
}

// sortedConfirmTargets returns every confirmation target with at least one
// recorded observation, ascending -- used by diagnostic RPC calls that want
// to show the whole fee/confirmation curve rather than a single point.
func (ef *FeeEstimator) sortedConfirmTargets() []int32 {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	var targets []int32
	for i, bucket := range ef.buckets {
		var total float64
		for _, w := range bucket.weights {
			total += w
		}
		if total > 0 {
			targets = append(targets, int32(i+1))
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}
