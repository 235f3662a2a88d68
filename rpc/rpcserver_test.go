// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcnode/node/chaincfg"
)

func testServer() (*Server, *httptest.Server) {
	s := New(&Config{
		ChainParams: &chaincfg.MainNetParams,
		User:        "user",
		Pass:        "pass",
	})
	ts := httptest.NewServer(http.HandlerFunc(s.handleRequest))
	return s, ts
}

func doRequest(t *testing.T, ts *httptest.Server, body string, authed bool) (*http.Response, rpcResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if authed {
		req.SetBasicAuth("user", "pass")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

// TestAuthRequired checks unauthenticated and wrongly authenticated
// requests are refused before any method dispatch.
func TestAuthRequired(t *testing.T) {
	_, ts := testServer()
	defer ts.Close()

	resp, _ := doRequest(t, ts, `{"jsonrpc":"2.0","id":1,"method":"getblockcount"}`, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request: status %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL, bytes.NewBufferString(`{}`))
	req.SetBasicAuth("user", "wrong")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credentials: status %d, want 401", resp2.StatusCode)
	}
}

// TestMethodNotFound checks the stable JSON-RPC error code for unknown
// methods.
func TestMethodNotFound(t *testing.T) {
	_, ts := testServer()
	defer ts.Close()

	_, decoded := doRequest(t, ts, `{"jsonrpc":"2.0","id":7,"method":"nosuchmethod"}`, true)
	if decoded.Error == nil || decoded.Error.Code != errCodeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", decoded.Error, errCodeMethodNotFound)
	}
	// The id must round trip so callers can correlate.
	if id, ok := decoded.ID.(float64); !ok || id != 7 {
		t.Fatalf("id = %v, want 7", decoded.ID)
	}
}

// TestParseError checks malformed JSON yields the parse-error code.
func TestParseError(t *testing.T) {
	_, ts := testServer()
	defer ts.Close()

	_, decoded := doRequest(t, ts, `{"jsonrpc":`, true)
	if decoded.Error == nil || decoded.Error.Code != errCodeParse {
		t.Fatalf("error = %+v, want code %d", decoded.Error, errCodeParse)
	}
}

// TestValidateAddress exercises a full handler through the HTTP surface
// using a method that needs no chain state.
func TestValidateAddress(t *testing.T) {
	_, ts := testServer()
	defer ts.Close()

	// The genesis coinbase P2PKH address.
	body := `{"jsonrpc":"2.0","id":1,"method":"validateaddress","params":["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"]}`
	_, decoded := doRequest(t, ts, body, true)
	if decoded.Error != nil {
		t.Fatalf("unexpected error: %+v", decoded.Error)
	}
	result, ok := decoded.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %T", decoded.Result)
	}
	if valid, _ := result["isvalid"].(bool); !valid {
		t.Fatal("well-formed address reported invalid")
	}

	_, decoded = doRequest(t, ts, `{"jsonrpc":"2.0","id":1,"method":"validateaddress","params":["notanaddress"]}`, true)
	result, ok = decoded.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %T", decoded.Result)
	}
	if valid, _ := result["isvalid"].(bool); valid {
		t.Fatal("garbage address reported valid")
	}
}

// TestStopSignal checks the stop method signals the shutdown channel.
func TestStopSignal(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	s := New(&Config{
		ChainParams:            &chaincfg.MainNetParams,
		User:                   "user",
		Pass:                   "pass",
		RequestProcessShutdown: shutdown,
	})
	ts := httptest.NewServer(http.HandlerFunc(s.handleRequest))
	defer ts.Close()

	_, decoded := doRequest(t, ts, `{"jsonrpc":"2.0","id":1,"method":"stop"}`, true)
	if decoded.Error != nil {
		t.Fatalf("stop returned error: %+v", decoded.Error)
	}
	select {
	case <-shutdown:
	default:
		t.Fatal("stop did not signal the shutdown channel")
	}
}
