// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpc implements the node's JSON-RPC 2.0 surface over HTTP,
// loopback by default: chain and mempool queries, raw transaction
// submission, peer introspection, and a clean-shutdown hook. Push notifications for
// connected/disconnected blocks are available over a websocket upgrade of
// the same listener.
package rpc

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/websocket"

	"github.com/btcnode/node/addresses"
	"github.com/btcnode/node/blockchain"
	"github.com/btcnode/node/btcutil"
	"github.com/btcnode/node/chaincfg"
	"github.com/btcnode/node/mempool"
	"github.com/btcnode/node/pool"
	"github.com/btcnode/node/wire"
)

// JSON-RPC error codes. The -32xxx range is reserved by the JSON-RPC 2.0
// specification; the small negative codes are the conventional bitcoind
// application codes, kept numerically identical so existing tooling maps
// cleanly.
const (
	errCodeParse          = -32700
	errCodeInvalidRequest = -32600
	errCodeMethodNotFound = -32601
	errCodeInvalidParams  = -32602
	errCodeInternal       = -32603

	errCodeMisc            = -1
	errCodeInvalidAddrKey  = -5
	errCodeOutOfRange      = -8
	errCodeDeserialization = -22
	errCodeVerifyError     = -25
	errCodeVerifyRejected  = -26
	errCodeInChain         = -27
)

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func newRPCError(code int, format string, args ...interface{}) *rpcError {
	return &rpcError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result"`
	Error   *rpcError   `json:"error"`
	ID      interface{} `json:"id"`
}

// ConnManager is the view of the peer pool the server needs for
// getpeerinfo, getnetworkinfo, and relaying transactions submitted over
// RPC.
type ConnManager interface {
	Peers() []*pool.Peer
	PeerCount() int
	RelayInventory(iv *wire.InvVect)
}

// Config bundles everything the server needs from the rest of the node.
type Config struct {
	ChainParams *chaincfg.Params
	Chain       *blockchain.BlockChain
	TxMemPool   *mempool.TxPool
	ConnMgr     ConnManager

	// FeeEstimator answers estimatefee; nil disables the method.
	FeeEstimator *mempool.FeeEstimator

	// Listeners are the bound addresses to serve on, loopback by default.
	Listeners []string

	// User and Pass are the HTTP basic-auth credentials every request
	// must carry.
	User string
	Pass string

	// UserAgent is reported by getnetworkinfo.
	UserAgent string

	// RequestProcessShutdown is closed-side-signaled by the stop method;
	// the node composition listens and begins a clean shutdown.
	RequestProcessShutdown chan struct{}
}

// Server is the JSON-RPC server. Exported methods are safe for concurrent
// use; handler goroutines only ever read chain/mempool state through their
// own internally locked surfaces.
type Server struct {
	cfg Config

	authSHA [sha256.Size]byte

	httpServer *http.Server
	listeners  []net.Listener

	started  atomic.Bool
	shutdown atomic.Bool
	wg       sync.WaitGroup

	wsClientsMtx sync.Mutex
	wsClients    map[*websocket.Conn]struct{}

	startupTime time.Time
}

type commandHandler func(*Server, []json.RawMessage) (interface{}, *rpcError)

var handlers = map[string]commandHandler{
	"getbestblockhash":   handleGetBestBlockHash,
	"getblock":           handleGetBlock,
	"getblockchaininfo":  handleGetBlockChainInfo,
	"getblockcount":      handleGetBlockCount,
	"getblockhash":       handleGetBlockHash,
	"getmininginfo":      handleGetMiningInfo,
	"getnetworkinfo":     handleGetNetworkInfo,
	"getpeerinfo":        handleGetPeerInfo,
	"getrawmempool":      handleGetRawMempool,
	"estimatefee":        handleEstimateFee,
	"sendrawtransaction": handleSendRawTransaction,
	"stop":               handleStop,
	"uptime":             handleUptime,
	"validateaddress":    handleValidateAddress,
}

// New returns an unstarted Server.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:         *cfg,
		wsClients:   make(map[*websocket.Conn]struct{}),
		startupTime: time.Now(),
	}
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.User+":"+cfg.Pass))
	s.authSHA = sha256.Sum256([]byte(auth))
	return s
}

// Start binds the configured listeners and begins serving requests.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	mux.HandleFunc("/ws", s.handleWebsocket)
	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: time.Second * 15,
	}

	for _, addr := range s.cfg.Listeners {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("rpc: listen %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, listener)
		s.wg.Add(1)
		go func(l net.Listener) {
			defer s.wg.Done()
			log.Infof("RPC server listening on %s", l.Addr())
			s.httpServer.Serve(l)
		}(listener)
	}
	return nil
}

// Stop shuts the server down and disconnects websocket clients.
func (s *Server) Stop() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	s.closeListeners()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.wsClientsMtx.Lock()
	for c := range s.wsClients {
		c.Close()
	}
	s.wsClients = make(map[*websocket.Conn]struct{})
	s.wsClientsMtx.Unlock()
	s.wg.Wait()
	log.Info("RPC server shutdown complete")
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		l.Close()
	}
}

// checkAuth validates the request's basic-auth header in constant time.
func (s *Server) checkAuth(r *http.Request) bool {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		return false
	}
	authsha := sha256.Sum256([]byte(authhdr[0]))
	return subtle.ConstantTimeCompare(authsha[:], s.authSHA[:]) == 1
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="btcnoded RPC"`)
		http.Error(w, "401 unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<22))
	if err != nil {
		writeResponse(w, nil, nil, newRPCError(errCodeInternal, "error reading request: %v", err))
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, nil, nil, newRPCError(errCodeParse, "parse error: %v", err))
		return
	}
	if req.Method == "" {
		writeResponse(w, req.ID, nil, newRPCError(errCodeInvalidRequest, "missing method"))
		return
	}

	handler, ok := handlers[req.Method]
	if !ok {
		writeResponse(w, req.ID, nil, newRPCError(errCodeMethodNotFound, "method %q not found", req.Method))
		return
	}

	result, rpcErr := handler(s, req.Params)
	writeResponse(w, req.ID, result, rpcErr)
}

func writeResponse(w http.ResponseWriter, id, result interface{}, rpcErr *rpcError) {
	w.Header().Set("Content-Type", "application/json")
	resp := rpcResponse{JSONRPC: "2.0", Result: result, Error: rpcErr, ID: id}
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		log.Errorf("failed to encode RPC response: %v", err)
	}
}

// unmarshalParam decodes params[idx] into dest, reporting a uniform
// invalid-params error on absence or type mismatch.
func unmarshalParam(params []json.RawMessage, idx int, dest interface{}) *rpcError {
	if idx >= len(params) {
		return newRPCError(errCodeInvalidParams, "missing parameter %d", idx)
	}
	if err := json.Unmarshal(params[idx], dest); err != nil {
		return newRPCError(errCodeInvalidParams, "parameter %d: %v", idx, err)
	}
	return nil
}

// getDifficultyRatio returns the proof-of-work difficulty as a multiple of
// the minimum difficulty.
func getDifficultyRatio(bits uint32, params *chaincfg.Params) float64 {
	max := blockchain.CompactToBig(params.PowLimitBits)
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(max, target)
	out, _ := ratio.Float64()
	return out
}

func handleGetBestBlockHash(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	return s.cfg.Chain.BestSnapshot().Hash.String(), nil
}

func handleGetBlockCount(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	return int64(s.cfg.Chain.BestSnapshot().Height), nil
}

func handleGetBlockHash(s *Server, params []json.RawMessage) (interface{}, *rpcError) {
	var height int64
	if err := unmarshalParam(params, 0, &height); err != nil {
		return nil, err
	}
	hash, err := s.cfg.Chain.HeightToHash(int32(height))
	if err != nil {
		return nil, newRPCError(errCodeOutOfRange, "block number out of range")
	}
	return hash.String(), nil
}

// getBlockVerboseResult models the verbose getblock reply.
type getBlockVerboseResult struct {
	Hash              string   `json:"hash"`
	Confirmations     int64    `json:"confirmations"`
	Size              int32    `json:"size"`
	Weight            int32    `json:"weight"`
	Height            int64    `json:"height"`
	Version           int32    `json:"version"`
	MerkleRoot        string   `json:"merkleroot"`
	Tx                []string `json:"tx"`
	Time              int64    `json:"time"`
	Nonce             uint32   `json:"nonce"`
	Bits              string   `json:"bits"`
	Difficulty        float64  `json:"difficulty"`
	PreviousBlockHash string   `json:"previousblockhash,omitempty"`
	NextBlockHash     string   `json:"nextblockhash,omitempty"`
}

func handleGetBlock(s *Server, params []json.RawMessage) (interface{}, *rpcError) {
	var hashStr string
	if err := unmarshalParam(params, 0, &hashStr); err != nil {
		return nil, err
	}
	verbose := true
	if len(params) > 1 {
		if err := unmarshalParam(params, 1, &verbose); err != nil {
			return nil, err
		}
	}

	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return nil, newRPCError(errCodeInvalidAddrKey, "invalid block hash: %v", err)
	}
	block, err := s.cfg.Chain.BlockByHash(hash)
	if err != nil {
		return nil, newRPCError(errCodeInvalidAddrKey, "block not found")
	}

	if !verbose {
		var buf bytes.Buffer
		if err := block.MsgBlock().Serialize(&buf); err != nil {
			return nil, newRPCError(errCodeInternal, "serialize block: %v", err)
		}
		return hex.EncodeToString(buf.Bytes()), nil
	}

	node := s.cfg.Chain.Lookup(hash)
	if node == nil {
		return nil, newRPCError(errCodeInvalidAddrKey, "block not found")
	}
	best := s.cfg.Chain.BestSnapshot()
	header := block.MsgBlock().Header

	txids := make([]string, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		txids = append(txids, tx.Hash().String())
	}

	result := &getBlockVerboseResult{
		Hash:          hash.String(),
		Confirmations: int64(1 + best.Height - node.Height()),
		Size:          int32(block.MsgBlock().SerializeSize()),
		Weight:        int32(blockchain.GetBlockWeight(block)),
		Height:        int64(node.Height()),
		Version:       header.Version,
		MerkleRoot:    header.MerkleRoot.String(),
		Tx:            txids,
		Time:          header.Timestamp.Unix(),
		Nonce:         header.Nonce,
		Bits:          fmt.Sprintf("%08x", header.Bits),
		Difficulty:    getDifficultyRatio(header.Bits, s.cfg.ChainParams),
	}
	if node.Height() > 0 {
		result.PreviousBlockHash = header.PrevBlock.String()
	}
	if node.Height() < best.Height {
		if next, err := s.cfg.Chain.HeightToHash(node.Height() + 1); err == nil {
			result.NextBlockHash = next.String()
		}
	}
	return result, nil
}

// getBlockChainInfoResult models getblockchaininfo.
type getBlockChainInfoResult struct {
	Chain                string  `json:"chain"`
	Blocks               int32   `json:"blocks"`
	Headers              int32   `json:"headers"`
	BestBlockHash        string  `json:"bestblockhash"`
	Difficulty           float64 `json:"difficulty"`
	MedianTime           int64   `json:"mediantime"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
	Pruned               bool    `json:"pruned"`
}

func handleGetBlockChainInfo(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	best := s.cfg.Chain.BestSnapshot()
	return &getBlockChainInfoResult{
		Chain:                s.cfg.ChainParams.Name,
		Blocks:               best.Height,
		Headers:              best.Height,
		BestBlockHash:        best.Hash.String(),
		Difficulty:           getDifficultyRatio(best.Bits, s.cfg.ChainParams),
		MedianTime:           best.MedianTime.Unix(),
		InitialBlockDownload: !s.cfg.Chain.IsCurrent(),
	}, nil
}

// getMiningInfoResult models getmininginfo.
type getMiningInfoResult struct {
	Blocks     int64   `json:"blocks"`
	Difficulty float64 `json:"difficulty"`
	PooledTx   uint64  `json:"pooledtx"`
	Chain      string  `json:"chain"`
}

func handleGetMiningInfo(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	best := s.cfg.Chain.BestSnapshot()
	return &getMiningInfoResult{
		Blocks:     int64(best.Height),
		Difficulty: getDifficultyRatio(best.Bits, s.cfg.ChainParams),
		PooledTx:   uint64(s.cfg.TxMemPool.Count()),
		Chain:      s.cfg.ChainParams.Name,
	}, nil
}

// getNetworkInfoResult models getnetworkinfo.
type getNetworkInfoResult struct {
	Version         uint32 `json:"version"`
	SubVersion      string `json:"subversion"`
	ProtocolVersion uint32 `json:"protocolversion"`
	Connections     int32  `json:"connections"`
	NetworkActive   bool   `json:"networkactive"`
}

func handleGetNetworkInfo(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	return &getNetworkInfoResult{
		Version:         1,
		SubVersion:      s.cfg.UserAgent,
		ProtocolVersion: wire.ProtocolVersion,
		Connections:     int32(s.cfg.ConnMgr.PeerCount()),
		NetworkActive:   true,
	}, nil
}

// getPeerInfoResult models one entry of getpeerinfo.
type getPeerInfoResult struct {
	ID             int64  `json:"id"`
	Addr           string `json:"addr"`
	Services       string `json:"services"`
	LastSend       int64  `json:"lastsend"`
	LastRecv       int64  `json:"lastrecv"`
	BytesSent      int64  `json:"bytessent"`
	BytesRecv      int64  `json:"bytesrecv"`
	ConnTime       int64  `json:"conntime"`
	PingTime       int64  `json:"pingtime"`
	Version        uint32 `json:"version"`
	SubVer         string `json:"subver"`
	Inbound        bool   `json:"inbound"`
	StartingHeight int32  `json:"startingheight"`
	CurrentHeight  int32  `json:"currentheight"`
	BanScore       int32  `json:"banscore"`
}

func handleGetPeerInfo(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	peers := s.cfg.ConnMgr.Peers()
	results := make([]*getPeerInfoResult, 0, len(peers))
	for _, p := range peers {
		results = append(results, &getPeerInfoResult{
			ID:             p.ID(),
			Addr:           p.Addr(),
			Services:       fmt.Sprintf("%08d", uint64(p.Services())),
			LastSend:       p.LastSend().Unix(),
			LastRecv:       p.LastRecv().Unix(),
			BytesSent:      p.BytesSent(),
			BytesRecv:      p.BytesReceived(),
			ConnTime:       p.TimeConnected().Unix(),
			PingTime:       p.LastPingMicros(),
			Version:        p.ProtocolVersion(),
			SubVer:         p.UserAgent(),
			Inbound:        p.Inbound(),
			StartingHeight: p.StartHeight(),
			CurrentHeight:  p.LastKnownHeight(),
			BanScore:       int32(p.Misbehavior()),
		})
	}
	return results, nil
}

func handleGetRawMempool(s *Server, params []json.RawMessage) (interface{}, *rpcError) {
	verbose := false
	if len(params) > 0 {
		if err := unmarshalParam(params, 0, &verbose); err != nil {
			return nil, err
		}
	}
	if verbose {
		return s.cfg.TxMemPool.RawMempoolVerbose(), nil
	}
	hashes := s.cfg.TxMemPool.TxHashes()
	strs := make([]string, len(hashes))
	for i, h := range hashes {
		strs[i] = h.String()
	}
	return strs, nil
}

func handleEstimateFee(s *Server, params []json.RawMessage) (interface{}, *rpcError) {
	if s.cfg.FeeEstimator == nil {
		return nil, newRPCError(errCodeMisc, "fee estimation disabled")
	}
	var numBlocks int64
	if err := unmarshalParam(params, 0, &numBlocks); err != nil {
		return nil, err
	}
	fee, err := s.cfg.FeeEstimator.EstimateFee(int32(numBlocks))
	if err != nil {
		return nil, newRPCError(errCodeMisc, "%v", err)
	}
	return fee.ToBTC(), nil
}

func handleSendRawTransaction(s *Server, params []json.RawMessage) (interface{}, *rpcError) {
	var hexStr string
	if err := unmarshalParam(params, 0, &hexStr); err != nil {
		return nil, err
	}
	if len(hexStr)%2 != 0 {
		hexStr = "0" + hexStr
	}
	serialized, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, newRPCError(errCodeDeserialization, "transaction decode failed: %v", err)
	}
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(serialized)); err != nil {
		return nil, newRPCError(errCodeDeserialization, "transaction decode failed: %v", err)
	}

	tx := btcutil.NewTx(&msgTx)
	acceptedTxs, err := s.cfg.TxMemPool.ProcessTransaction(tx, false, false, 0)
	if err != nil {
		// A rule violation is the submitter's problem; anything else is
		// an internal verify failure worth logging loudly.
		var ruleErr mempool.RuleError
		if errors.As(err, &ruleErr) {
			return nil, newRPCError(errCodeVerifyRejected, "transaction rejected: %v", err)
		}
		log.Errorf("failed to process transaction %v: %v", tx.Hash(), err)
		return nil, newRPCError(errCodeVerifyError, "transaction verification failed: %v", err)
	}

	for _, desc := range acceptedTxs {
		s.cfg.ConnMgr.RelayInventory(wire.NewInvVect(wire.InvTypeTx, desc.Tx.Hash()))
	}
	return tx.Hash().String(), nil
}

// validateAddressResult models validateaddress.
type validateAddressResult struct {
	IsValid      bool   `json:"isvalid"`
	Address      string `json:"address,omitempty"`
	ScriptPubKey string `json:"scriptPubKey,omitempty"`
}

func handleValidateAddress(s *Server, params []json.RawMessage) (interface{}, *rpcError) {
	var addrStr string
	if err := unmarshalParam(params, 0, &addrStr); err != nil {
		return nil, err
	}
	addr, err := addresses.ParseAddress(addrStr, s.cfg.ChainParams)
	if err != nil {
		return &validateAddressResult{IsValid: false}, nil
	}
	result := &validateAddressResult{
		IsValid: true,
		Address: addr.String(),
	}
	if pkScript, err := addr.PkScript(); err == nil {
		result.ScriptPubKey = hex.EncodeToString(pkScript)
	}
	return result, nil
}

func handleStop(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	select {
	case s.cfg.RequestProcessShutdown <- struct{}{}:
	default:
	}
	return "btcnoded stopping", nil
}

func handleUptime(s *Server, _ []json.RawMessage) (interface{}, *rpcError) {
	return int64(time.Since(s.startupTime).Seconds()), nil
}

// ------------------------------------------------------------------------
// Websocket notifications
// ------------------------------------------------------------------------

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsNotification is the envelope pushed to websocket clients.
type wsNotification struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="btcnoded RPC"`)
		http.Error(w, "401 unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}

	s.wsClientsMtx.Lock()
	s.wsClients[conn] = struct{}{}
	s.wsClientsMtx.Unlock()

	// Drain (and discard) client frames so pings are answered and a
	// closed connection is noticed promptly.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.removeWSClient(conn)
				return
			}
		}
	}()
}

func (s *Server) removeWSClient(conn *websocket.Conn) {
	s.wsClientsMtx.Lock()
	delete(s.wsClients, conn)
	s.wsClientsMtx.Unlock()
	conn.Close()
}

func (s *Server) broadcastWS(ntfn *wsNotification) {
	payload, err := json.Marshal(ntfn)
	if err != nil {
		return
	}
	s.wsClientsMtx.Lock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for c := range s.wsClients {
		clients = append(clients, c)
	}
	s.wsClientsMtx.Unlock()
	for _, c := range clients {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.removeWSClient(c)
		}
	}
}

// NotifyBlockConnected pushes a blockconnected notification to websocket
// clients; the node composition calls it from the chain's notification
// callback.
func (s *Server) NotifyBlockConnected(block *btcutil.Block) {
	s.broadcastWS(&wsNotification{
		Method: "blockconnected",
		Params: []interface{}{block.Hash().String(), block.Height()},
	})
}

// NotifyBlockDisconnected pushes a blockdisconnected notification to
// websocket clients.
func (s *Server) NotifyBlockDisconnected(block *btcutil.Block) {
	s.broadcastWS(&wsNotification{
		Method: "blockdisconnected",
		Params: []interface{}{block.Hash().String(), block.Height()},
	})
}
