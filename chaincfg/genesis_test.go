// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"testing"
)

// TestGenesisHashes ensures the hard-coded genesis hash of every network
// matches the hash computed from its hard-coded genesis block, and that
// mainnet's is the well-known literal.
func TestGenesisHashes(t *testing.T) {
	tests := []struct {
		name   string
		params *Params
		want   string
	}{
		{
			"mainnet", &MainNetParams,
			"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
		},
		{
			"regtest", &RegressionNetParams,
			"0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206",
		},
		{
			"testnet3", &TestNet3Params,
			"000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943",
		},
		{
			"signet", &SigNetParams,
			"00000008819873e925422c1ff0f99f7cc9bbb232af63a077a480a3633bee1ef6",
		},
	}

	for _, test := range tests {
		computed := test.params.GenesisBlock.BlockHash()
		if computed.String() != test.want {
			t.Errorf("%s: computed genesis hash %s, want %s",
				test.name, computed, test.want)
		}
		if *test.params.GenesisHash != computed {
			t.Errorf("%s: GenesisHash constant does not match computed hash",
				test.name)
		}
	}
}

// TestGenesisMerkleRoots ensures each genesis block's hard-coded merkle
// root equals its coinbase transaction's hash, since a one-transaction
// block's merkle root is just that transaction's txid.
func TestGenesisMerkleRoots(t *testing.T) {
	for _, params := range []*Params{
		&MainNetParams, &RegressionNetParams, &TestNet3Params,
		&SimNetParams, &SigNetParams,
	} {
		block := params.GenesisBlock
		if len(block.Transactions) != 1 {
			t.Errorf("%s: genesis block has %d transactions, want 1",
				params.Name, len(block.Transactions))
			continue
		}
		txid := block.Transactions[0].TxHash()
		if block.Header.MerkleRoot != txid {
			t.Errorf("%s: genesis merkle root %s does not match coinbase txid %s",
				params.Name, block.Header.MerkleRoot, txid)
		}
	}
}
