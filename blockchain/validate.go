// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/wire"
)

const (
	// MaxTimeOffsetSeconds is the maximum number of seconds a block time
	// is allowed to be ahead of the current time; a header timestamp
	// must fall within (MTP, now+2h].
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// MinCoinbaseScriptLen is the minimum length a coinbase script can
	// be.
	MinCoinbaseScriptLen = 2

	// MaxCoinbaseScriptLen is the maximum length a coinbase script can
	// be.
	MaxCoinbaseScriptLen = 100

	// medianTimeBlocksAlreadyDefinedInBlockIndex documents that
	// medianTimeBlocks lives in blockindex.go; listed here only so a
	// reader scanning this file for the constant knows where to look.
	_ = 0

	// baseSubsidy is the starting subsidy amount for mined blocks. This
	// value is halved every SubsidyReductionInterval blocks.
	baseSubsidy = 50 * 1e8
)

// isNullOutpoint determines whether or not a previous transaction outpoint
// is set.
func isNullOutpoint(outpoint *wire.OutPoint) bool {
	if outpoint.Index == math.MaxUint32 && outpoint.Hash == zeroHash {
		return true
	}
	return false
}

var zeroHash chainhash.Hash

// IsCoinBaseTx determines whether a transaction is a coinbase transaction. A
// coinbase transaction is a special transaction created by miners that has
// no inputs. This is represented in the block chain by a single input that
// has a previous output transaction index set to the maximum value along
// with a zero hash.
func IsCoinBaseTx(msgTx *wire.MsgTx) bool {
	if len(msgTx.TxIn) != 1 {
		return false
	}

	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	return isNullOutpoint(prevOut)
}

// IsCoinBase does the same check as IsCoinBaseTx but on a higher-level btcutil
// transaction.
func IsCoinBase(tx *btcutil.Tx) bool {
	return IsCoinBaseTx(tx.MsgTx())
}

// SequenceLockActive determines whether a transaction's sequence locks have
// been met, meaning that all the inputs of a given transaction have reached
// a height or time sufficient for their relative lock-time maturity.
func SequenceLockActive(sequenceLock *SequenceLock, blockHeight int32, medianTimePast time.Time) bool {
	if sequenceLock.Seconds >= medianTimePast.Unix() {
		return false
	}

	if sequenceLock.BlockHeight >= blockHeight {
		return false
	}

	return true
}

// IsFinalizedTransaction determines whether or not a transaction is finalized.
func IsFinalizedTransaction(tx *btcutil.Tx, blockHeight int32, blockTime time.Time) bool {
	msgTx := tx.MsgTx()

	if msgTx.LockTime == 0 {
		return true
	}

	lockTime := int64(msgTx.LockTime)
	var blockTimeOrHeight int64
	if lockTime < txscriptLockTimeThreshold {
		blockTimeOrHeight = int64(blockHeight)
	} else {
		blockTimeOrHeight = blockTime.Unix()
	}
	if lockTime < blockTimeOrHeight {
		return true
	}

	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence != math.MaxUint32 {
			return false
		}
	}
	return true
}

// txscriptLockTimeThreshold is the number below which a lock time is
// interpreted as a block height and above which it is interpreted as a
// Unix timestamp, matching BIP113's LOCKTIME_THRESHOLD.
const txscriptLockTimeThreshold = 500000000

// CalcBlockSubsidy returns the subsidy amount a block at the provided height
// should have. This is mainly used for determining how much the coinbase
// for newly generated blocks awards as well as validating the coinbase
// for blocks has the expected value check.
func CalcBlockSubsidy(height int32, chainParams *chaincfg.Params) int64 {
	if chainParams.SubsidyReductionInterval == 0 {
		return baseSubsidy
	}

	return baseSubsidy >> uint(height/chainParams.SubsidyReductionInterval)
}

// CheckTransactionSanity performs some preliminary checks on a transaction to
// ensure it is sane. These checks are context free.
func CheckTransactionSanity(tx *btcutil.Tx) error {
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) == 0 {
		return ruleError(ErrNoTxInputs, "transaction has no inputs")
	}
	if len(msgTx.TxOut) == 0 {
		return ruleError(ErrNoTxOutputs, "transaction has no outputs")
	}

	serializedTxSize := msgTx.SerializeSizeStripped()
	if serializedTxSize*WitnessScaleFactor > MaxBlockWeight {
		str := fmt.Sprintf("serialized transaction is too big - got "+
			"%d, max %d", serializedTxSize, MaxBlockWeight/WitnessScaleFactor)
		return ruleError(ErrTxTooBig, str)
	}

	var totalSatoshi int64
	for _, txOut := range msgTx.TxOut {
		satoshi := txOut.Value
		if satoshi < 0 {
			str := fmt.Sprintf("transaction output has negative "+
				"value of %v", satoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
		if satoshi > btcutilMaxSatoshi {
			str := fmt.Sprintf("transaction output value of %v is "+
				"higher than max allowed value of %v", satoshi,
				btcutilMaxSatoshi)
			return ruleError(ErrBadTxOutValue, str)
		}

		totalSatoshi += satoshi
		if totalSatoshi < 0 {
			str := "total value of all transaction outputs exceeds max allowed value"
			return ruleError(ErrBadTxOutValue, str)
		}
		if totalSatoshi > btcutilMaxSatoshi {
			str := fmt.Sprintf("total value of all transaction "+
				"outputs is %v which is higher than max "+
				"allowed value of %v", totalSatoshi,
				btcutilMaxSatoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
	}

	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range msgTx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicateTxInputs, "transaction "+
				"contains duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	if IsCoinBaseTx(msgTx) {
		slen := len(msgTx.TxIn[0].SignatureScript)
		if slen < MinCoinbaseScriptLen || slen > MaxCoinbaseScriptLen {
			str := fmt.Sprintf("coinbase transaction script length "+
				"of %d is out of range (min: %d, max: %d)",
				slen, MinCoinbaseScriptLen, MaxCoinbaseScriptLen)
			return ruleError(ErrBadCoinbaseScriptLen, str)
		}
	} else {
		for _, txIn := range msgTx.TxIn {
			if isNullOutpoint(&txIn.PreviousOutPoint) {
				return ruleError(ErrBadTxInput, "transaction "+
					"input refers to previous output that "+
					"is null")
			}
		}
	}

	return nil
}

// btcutilMaxSatoshi mirrors btcutil.MaxSatoshi without importing it for a
// single constant; it is the maximum transaction amount allowed in
// satoshi, 21e6 * 1e8.
const btcutilMaxSatoshi = 21000000 * 1e8

// checkProofOfWorkRange ensures the passed target difficulty is in min/max
// range per the provided proof-of-work limit.
func checkProofOfWorkRange(target *big.Int, powLimit *big.Int) error {
	if target.Sign() <= 0 {
		str := "target difficulty must be positive"
		return ruleError(ErrUnexpectedDifficulty, str)
	}
	if target.Cmp(powLimit) > 0 {
		str := "target difficulty is higher than max of " + powLimit.String()
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	return nil
}

// CheckProofOfWork ensures the block header bits which indicate the target
// difficulty is in min/max range and that the block hash is less than the
// target difficulty as claimed.
func CheckProofOfWork(header *wire.BlockHeader, powLimit *big.Int) error {
	return checkProofOfWork(header, powLimit, BFNone)
}

// checkBlockHeaderSanity performs some preliminary checks on a block header
// to ensure it is sane before continuing with the more expensive checks.
// These checks are context free.
func checkBlockHeaderSanity(header *wire.BlockHeader, powLimit *big.Int, timeSource MedianTimeSource, flags BehaviorFlags) error {
	err := checkProofOfWork(header, powLimit, flags)
	if err != nil {
		return err
	}

	if flags&BFNoPoWCheck != BFNoPoWCheck {
		target := CompactToBig(header.Bits)
		if err := checkProofOfWorkRange(target, powLimit); err != nil {
			return err
		}
	}

	maxTimestamp := timeSource.AdjustedTime().Add(time.Second * MaxTimeOffsetSeconds)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the "+
			"future", header.Timestamp)
		return ruleError(ErrTimeTooNew, str)
	}

	return nil
}

// checkBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing. These checks are
// context free.
func checkBlockSanity(block *btcutil.Block, powLimit *big.Int, timeSource MedianTimeSource, flags BehaviorFlags) error {
	msgBlock := block.MsgBlock()
	header := &msgBlock.Header
	if err := checkBlockHeaderSanity(header, powLimit, timeSource, flags); err != nil {
		return err
	}

	numTx := len(msgBlock.Transactions)
	if numTx == 0 {
		return ruleError(ErrNoTransactions, "block does not contain "+
			"any transactions")
	}
	if numTx > MaxBlockWeight/WitnessScaleFactor {
		str := fmt.Sprintf("block contains too many transactions - "+
			"got %d", numTx)
		return ruleError(ErrTooManyTransactions, str)
	}

	serializedSize := msgBlock.SerializeSizeStripped()
	if serializedSize*WitnessScaleFactor > MaxBlockWeight {
		str := fmt.Sprintf("serialized block is too big - got %d, "+
			"max %d", serializedSize, MaxBlockWeight/WitnessScaleFactor)
		return ruleError(ErrBlockTooBig, str)
	}

	transactions := block.Transactions()
	if !IsCoinBaseTx(transactions[0].MsgTx()) {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in "+
			"block is not a coinbase")
	}

	for i, tx := range transactions[1:] {
		if IsCoinBaseTx(tx.MsgTx()) {
			str := fmt.Sprintf("block contains second coinbase at "+
				"index %d", i+1)
			return ruleError(ErrMultipleCoinbases, str)
		}
	}

	for _, tx := range transactions {
		if err := CheckTransactionSanity(tx); err != nil {
			return err
		}
	}

	existingTxHashes := make(map[chainhash.Hash]struct{})
	for _, tx := range transactions {
		hash := tx.Hash()
		if _, exists := existingTxHashes[*hash]; exists {
			str := fmt.Sprintf("block contains duplicate "+
				"transaction %v", hash)
			return ruleError(ErrDuplicateTx, str)
		}
		existingTxHashes[*hash] = struct{}{}
	}

	var totalSigOps int
	for _, tx := range transactions {
		totalSigOps += CountSigOps(tx)
		if totalSigOps*WitnessScaleFactor > MaxBlockSigOpsCost {
			str := fmt.Sprintf("block contains too many signature "+
				"operations - got %v, max %v", totalSigOps,
				MaxBlockSigOpsCost/WitnessScaleFactor)
			return ruleError(ErrTooManySigOps, str)
		}
	}

	merkles := BuildMerkleTreeStore(transactions, false)
	calculatedMerkleRoot := merkles[len(merkles)-1]
	if !header.MerkleRoot.IsEqual(calculatedMerkleRoot) {
		str := fmt.Sprintf("block merkle root is invalid - block "+
			"header indicates %v, but calculated value is %v",
			header.MerkleRoot, calculatedMerkleRoot)
		return ruleError(ErrBadMerkleRoot, str)
	}

	return nil
}

// CheckBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing.
func CheckBlockSanity(block *btcutil.Block, powLimit *big.Int, timeSource MedianTimeSource) error {
	return checkBlockSanity(block, powLimit, timeSource, BFNone)
}

// checkSerializedHeight checks if the signature script in the passed
// transaction starts with the serialized block height of wantHeight,
// enforcing BIP34's coinbase-height commitment.
func checkSerializedHeight(coinbaseTx *btcutil.Tx, wantHeight int32) error {
	sigScript := coinbaseTx.MsgTx().TxIn[0].SignatureScript
	serializedHeight, err := extractCoinbaseHeight(sigScript)
	if err != nil {
		return err
	}

	if serializedHeight != wantHeight {
		str := fmt.Sprintf("the coinbase signature script serialized "+
			"block height is %d when %d was expected",
			serializedHeight, wantHeight)
		return ruleError(ErrBadCoinbaseHeight, str)
	}
	return nil
}

// extractCoinbaseHeight attempts to pull the height of the block out of a
// coinbase signature script encoded per BIP34's minimal-push rule.
func extractCoinbaseHeight(sigScript []byte) (int32, error) {
	if len(sigScript) < 1 {
		str := "the coinbase signature script for blocks of " +
			"version 2 or greater must start with the length of " +
			"the serialized block height"
		return 0, ruleError(ErrMissingCoinbaseHeight, str)
	}

	serializedLen := int(sigScript[0])
	if serializedLen == 0 || (serializedLen == 0x4e && false) {
		return 0, nil
	}
	if serializedLen < 1 || serializedLen > 8 {
		str := fmt.Sprintf("length of serialized block height in "+
			"coinbase script is out of bounds - got %d", serializedLen)
		return 0, ruleError(ErrMissingCoinbaseHeight, str)
	}
	if len(sigScript[1:]) < serializedLen {
		str := "the coinbase signature script for blocks of " +
			"version 2 or greater must start with the serialized " +
			"block height"
		return 0, ruleError(ErrMissingCoinbaseHeight, str)
	}

	serializedHeightBytes := make([]byte, 8)
	copy(serializedHeightBytes, sigScript[1:serializedLen+1])
	serializedHeight := int64FromLE(serializedHeightBytes)

	return int32(serializedHeight), nil
}

func int64FromLE(b []byte) int64 {
	var v int64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= int64(b[i]) << uint(8*i)
	}
	return v
}

// ExtractWitnessCommitment attempts to locate, and return the witness commitment
// for a block. The witness commitment is of the form:
//  SHA256(SHA256(witness root || witness nonce))
// The function additionally returns a boolean indicating if the txn
// actually contained a committment.
func ExtractWitnessCommitment(tx *btcutil.Tx) ([]byte, bool) {
	if len(tx.MsgTx().TxOut) == 0 {
		return nil, false
	}

	for i := len(tx.MsgTx().TxOut) - 1; i >= 0; i-- {
		pkScript := tx.MsgTx().TxOut[i].PkScript
		if len(pkScript) >= 38 &&
			bytes.HasPrefix(pkScript, witnessMagicBytes) {
			return pkScript[6:38], true
		}
	}
	return nil, false
}

// witnessMagicBytes is the prefix of a valid witness commitment output
// script: OP_RETURN OP_DATA_36 0xaa21a9ed.
var witnessMagicBytes = []byte{
	txscriptOpReturn,
	txscriptOpData36,
	0xaa, 0x21, 0xa9, 0xed,
}

const (
	txscriptOpReturn  = 0x6a
	txscriptOpData36  = 0x24
)

// ValidateWitnessCommitment validates the witness commitment (if any)
// present in the coinbase transaction against the computed merkle root of
// all transactions' witness data, per BIP141.
func ValidateWitnessCommitment(blk *btcutil.Block) error {
	if !blockHasWitnessData(blk) {
		return nil
	}

	coinbaseTx := blk.Transactions()[0]
	if len(coinbaseTx.MsgTx().TxIn[0].Witness) != 1 {
		str := "the coinbase transaction has invalid witness nonce"
		return ruleError(ErrInvalidWitnessCommitment, str)
	}
	witnessNonce := coinbaseTx.MsgTx().TxIn[0].Witness[0]

	witnessCommitment, found := ExtractWitnessCommitment(coinbaseTx)
	if !found {
		str := "the block has witness transactions but does not " +
			"have a witness commitment"
		return ruleError(ErrUnexpectedWitness, str)
	}

	witnessRoot := BuildMerkleTreeStore(blk.Transactions(), true)[len(BuildMerkleTreeStore(blk.Transactions(), true))-1]

	var commitmentData [64]byte
	copy(commitmentData[0:32], witnessRoot[:])
	copy(commitmentData[32:], witnessNonce)
	computedCommitment := chainhashDoubleSHA256(commitmentData[:])

	if !bytes.Equal(computedCommitment[:], witnessCommitment) {
		str := fmt.Sprintf("witness commitment does not match: "+
			"computed %v, coinbase included %x", computedCommitment,
			witnessCommitment)
		return ruleError(ErrWitnessCommitmentMismatch, str)
	}

	return nil
}

func chainhashDoubleSHA256(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}

// blockHasWitnessData reports whether any transaction in the block carries
// witness data.
func blockHasWitnessData(blk *btcutil.Block) bool {
	for _, tx := range blk.Transactions() {
		if tx.HasWitness() {
			return true
		}
	}
	return false
}

// CheckTransactionInputs performs a series of checks on the inputs to a
// transaction to ensure they are valid. In particular, it checks that all
// inputs exist, that the coinbase seasoning requirements are met, that the
// transaction does not attempt to spend more than its inputs, and that the
// fees do not overflow. The first return value is the total fees. This
// function also enforces BIP0030's duplicate-transaction protection by way
// of the caller confirming no entry already exists for the outputs.
func CheckTransactionInputs(tx *btcutil.Tx, txHeight int32, utxoView *UtxoViewpoint, chainParams *chaincfg.Params) (int64, error) {
	if IsCoinBase(tx) {
		return 0, nil
	}

	txHash := tx.Hash()
	var totalSatoshiIn int64
	for txInIndex, txIn := range tx.MsgTx().TxIn {
		utxo := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from "+
				"transaction %s:%d either does not exist or "+
				"has already been spent", txIn.PreviousOutPoint,
				txHash, txInIndex)
			return 0, ruleError(ErrMissingTxOut, str)
		}

		if utxo.IsCoinBase() {
			originHeight := utxo.BlockHeight()
			blocksSincePrev := txHeight - originHeight
			coinbaseMaturity := int32(chainParams.CoinbaseMaturity)
			if blocksSincePrev < coinbaseMaturity {
				str := fmt.Sprintf("tried to spend coinbase "+
					"transaction output %v from height %v "+
					"at height %v before required maturity "+
					"of %v blocks", txIn.PreviousOutPoint,
					originHeight, txHeight, coinbaseMaturity)
				return 0, ruleError(ErrImmatureSpend, str)
			}
		}

		originTxSatoshi := utxo.Amount()
		if originTxSatoshi < 0 {
			str := fmt.Sprintf("transaction output has negative "+
				"value of %v", btcutilAmount(originTxSatoshi))
			return 0, ruleError(ErrBadTxOutValue, str)
		}
		if originTxSatoshi > btcutilMaxSatoshi {
			str := fmt.Sprintf("transaction output value of %v is "+
				"higher than max allowed value of %v",
				btcutilAmount(originTxSatoshi),
				btcutilAmount(btcutilMaxSatoshi))
			return 0, ruleError(ErrBadTxOutValue, str)
		}

		lastSatoshiIn := totalSatoshiIn
		totalSatoshiIn += originTxSatoshi
		if totalSatoshiIn < lastSatoshiIn || totalSatoshiIn > btcutilMaxSatoshi {
			str := fmt.Sprintf("total value of all transaction "+
				"inputs is %v which is higher than max "+
				"allowed value of %v", totalSatoshiIn,
				btcutilMaxSatoshi)
			return 0, ruleError(ErrBadTxOutValue, str)
		}
	}

	var totalSatoshiOut int64
	for _, txOut := range tx.MsgTx().TxOut {
		totalSatoshiOut += txOut.Value
	}

	if totalSatoshiIn < totalSatoshiOut {
		str := fmt.Sprintf("total value of all transaction inputs for "+
			"transaction %v is %v which is less than the amount "+
			"spent of %v", txHash, totalSatoshiIn, totalSatoshiOut)
		return 0, ruleError(ErrSpendTooHigh, str)
	}

	txFeeInSatoshi := totalSatoshiIn - totalSatoshiOut
	return txFeeInSatoshi, nil
}

func btcutilAmount(v int64) int64 { return v }

// CheckBlockHeaderContext performs several validation checks on the block
// header which depend on its position within the block chain, applied in
// order during header acceptance: PoW target matches the
// retarget schedule, timestamp is strictly after the median of the last 11
// blocks, version signals the currently required soft-fork bits, and (when
// checkpoints are enabled) the header doesn't contradict a known-good
// height/hash pair.
func (b *BlockChain) checkBlockHeaderContext(header *wire.BlockHeader, prevNode *blockNode, flags BehaviorFlags) error {
	fastAdd := flags&BFFastAdd == BFFastAdd
	if !fastAdd {
		expectedDifficulty, err := b.calcNextRequiredDifficulty(prevNode, header.Timestamp)
		if err != nil {
			return err
		}
		blockDifficulty := header.Bits
		if blockDifficulty != expectedDifficulty {
			str := fmt.Sprintf("block difficulty of %d is not the "+
				"expected value of %d", blockDifficulty,
				expectedDifficulty)
			return ruleError(ErrUnexpectedDifficulty, str)
		}

		medianTime := prevNode.CalcPastMedianTime()
		if !header.Timestamp.After(medianTime) {
			str := "block timestamp is not after expected"
			return ruleError(ErrTimeTooOld, str)
		}
	}

	blockHeight := prevNode.height + 1

	if !fastAdd {
		if b.HasCheckpoints() {
			checkpointNode, err := b.findPreviousCheckpoint()
			if err != nil {
				return err
			}
			if checkpointNode != nil && blockHeight < checkpointNode.height {
				str := fmt.Sprintf("block at height %d forks "+
					"the main chain before the previous "+
					"checkpoint at height %d", blockHeight,
					checkpointNode.height)
				return ruleError(ErrForkTooOld, str)
			}
		}

		expectedVersion, err := b.calcNextBlockVersion(prevNode)
		if err != nil {
			return err
		}
		if expectedVersion > header.Version {
			str := fmt.Sprintf("new blocks with version %d are "+
				"no longer valid", header.Version)
			return ruleError(ErrBlockVersionTooOld, str)
		}
	}

	return nil
}

// checkBlockContext peforms several validation checks on the block which
// depend on its position within the block chain.
func (b *BlockChain) checkBlockContext(block *btcutil.Block, prevNode *blockNode, flags BehaviorFlags) error {
	header := &block.MsgBlock().Header
	if err := b.checkBlockHeaderContext(header, prevNode, flags); err != nil {
		return err
	}

	fastAdd := flags&BFFastAdd == BFFastAdd
	if !fastAdd {
		blockHeight := prevNode.height + 1

		blockTime := prevNode.CalcPastMedianTime()

		for _, tx := range block.Transactions() {
			if !IsFinalizedTransaction(tx, blockHeight, blockTime) {
				str := fmt.Sprintf("transaction %v in block is "+
					"not finalized", tx.Hash())
				return ruleError(ErrUnfinalizedTx, str)
			}
		}

		if blockHeight >= b.chainParams.BIP0034Height {
			coinbaseTx := block.Transactions()[0]
			err := checkSerializedHeight(coinbaseTx, blockHeight)
			if err != nil {
				return err
			}
		}

		err := ValidateWitnessCommitment(block)
		if err != nil {
			return err
		}
	}

	return nil
}
