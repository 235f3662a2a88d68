// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrmgr implements the address manager: the peer database this
// package's Pool consults when it needs a new outbound candidate, and
// updates as connection attempts succeed or fail.
package addrmgr

import (
	"container/list"
	"crypto/rand"
	"encoding/json"
	"errors"
	mrand "math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcnode/node/wire"
)

const (
	// newBucketCount is the number of buckets used to store addresses
	// that have not been tried yet.
	newBucketCount = 1024

	// triedBucketCount is the number of buckets used to store addresses
	// that have been successfully connected to in the past.
	triedBucketCount = 64

	// newBucketsPerAddress is the number of buckets a frequently seen new
	// address may end up in.
	newBucketsPerAddress = 8

	// newBucketSize is the maximum number of addresses held in any
	// individual new bucket before expireNew must make room.
	newBucketSize = 64

	// numMissingDays is the number of days before which an address is
	// considered missing if it hasn't been seen.
	numMissingDays = 30

	// numRetries is the number of tries without a single success before
	// we assume an address is bad.
	numRetries = 3

	// maxFailures is the maximum number of failures we will accept
	// without a success before considering an address bad.
	maxFailures = 10

	// minBadDays is the number of days since the last success before we
	// will consider evicting an address on failure even if it hasn't
	// been attempted the maximum number of times.
	minBadDays = 7

	// getAddrMax is the most addresses that we will send in response to a
	// getAddr (in practice the most addresses we will return from a
	// call to AddressCache()).
	getAddrMax = 2500

	// getAddrPercent is the percentage of total addresses known that we
	// will share with a call to AddressCache.
	getAddrPercent = 23

	// serializationVersion is the current version of the on-disk format
	// used to persist the address cache between runs.
	serializationVersion = 1

	// dumpAddressInterval is how often the address cache is flushed to
	// disk in the background.
	dumpAddressInterval = time.Minute * 10
)

// ErrAddressNotFound is returned from some functions when a given address
// is not found in the address manager.
var ErrAddressNotFound = errors.New("address not found")

// AddrManager provides a concurrency safe address manager for caching
// potential peers on the network.
type AddrManager struct {
	mtx       sync.Mutex
	peersFile string
	lookupFunc func(string) ([]net.IP, error)
	rand      *mrand.Rand
	key       [32]byte

	addrIndex map[string]*KnownAddress // address key to ka for all addrs.
	addrNew   [newBucketCount]map[string]*KnownAddress
	addrTried [triedBucketCount]*list.List

	started  int32
	shutdown int32
	wg       sync.WaitGroup
	quit     chan struct{}

	nTried int
	nNew   int

	localAddresses map[string]*localAddress
	lamtx          sync.Mutex
}

type localAddress struct {
	na    *wire.NetAddress
	score int32
}

// serializedKnownAddress is the on-disk representation of a KnownAddress,
// persisted as part of the peers.dat address cache.
type serializedKnownAddress struct {
	Addr        string
	Src         string
	Attempts    int
	TimeStamp   int64
	LastAttempt int64
	LastSuccess int64
}

// serializedAddrManager is the top-level on-disk representation of the
// address manager's new/tried buckets.
type serializedAddrManager struct {
	Version      int
	Key          [32]byte
	Addresses    []*serializedKnownAddress
	NewBuckets   [newBucketCount][]string
	TriedBuckets [triedBucketCount][]string
}

// New returns a new address manager, backed by dataDir/peers.dat for
// persistence between restarts. lookupFunc resolves hostnames to IPs when
// handling addnode-style host:port entries (nil falls back to net.LookupIP).
func New(dataDir string, lookupFunc func(string) ([]net.IP, error)) *AddrManager {
	am := AddrManager{
		peersFile:      filepath.Join(dataDir, "peers.dat"),
		lookupFunc:     lookupFunc,
		rand:           mrand.New(mrand.NewSource(time.Now().UnixNano())),
		quit:           make(chan struct{}),
		localAddresses: make(map[string]*localAddress),
	}
	am.reset()
	return &am
}

func (a *AddrManager) reset() {
	a.addrIndex = make(map[string]*KnownAddress)
	for i := range a.addrNew {
		a.addrNew[i] = make(map[string]*KnownAddress)
	}
	for i := range a.addrTried {
		a.addrTried[i] = list.New()
	}
	if _, err := rand.Read(a.key[:]); err != nil {
		// crypto/rand failing here means the platform's entropy
		// source is broken; fall back to a time-seeded key rather
		// than panic, since the key only affects bucket assignment,
		// not correctness.
		for i := range a.key {
			a.key[i] = byte(time.Now().UnixNano() >> uint(i))
		}
	}
}

// addrKey returns the string key an address is indexed and bucketed under:
// its host:port.
func addrKey(na *wire.NetAddress) string {
	return net.JoinHostPort(na.IP.String(), strconv.Itoa(int(na.Port)))
}

// Start begins the core workers of the address manager which is periodic
// saving of addresses and the shutdown handling.
func (a *AddrManager) Start() {
	if atomic.AddInt32(&a.started, 1) != 1 {
		return
	}

	log.Trace("Starting address manager")

	a.loadPeers()

	a.wg.Add(1)
	go a.addressHandler()
}

// Stop finishes the shutdown of the address manager by completing all
// pending tasks.
func (a *AddrManager) Stop() error {
	if atomic.AddInt32(&a.shutdown, 1) != 1 {
		log.Warnf("Address manager is already in the process of " +
			"shutting down")
		return nil
	}

	log.Infof("Address manager shutting down")
	close(a.quit)
	a.wg.Wait()
	return nil
}

func (a *AddrManager) addressHandler() {
	defer a.wg.Done()

	dumpTicker := time.NewTicker(dumpAddressInterval)
	defer dumpTicker.Stop()

out:
	for {
		select {
		case <-dumpTicker.C:
			a.savePeers()

		case <-a.quit:
			break out
		}
	}
	a.savePeers()
}

// savePeers persists the current address cache to a.peersFile.
func (a *AddrManager) savePeers() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	sam := serializedAddrManager{
		Version: serializationVersion,
		Key:     a.key,
	}

	sam.Addresses = make([]*serializedKnownAddress, 0, len(a.addrIndex))
	for k, v := range a.addrIndex {
		ska := &serializedKnownAddress{
			Addr:        k,
			Attempts:    v.attempts,
			TimeStamp:   v.na.Timestamp.Unix(),
			LastAttempt: v.lastattempt.Unix(),
			LastSuccess: v.lastsuccess.Unix(),
		}
		if v.srcAddr != nil {
			ska.Src = addrKey(v.srcAddr)
		}
		sam.Addresses = append(sam.Addresses, ska)
	}

	for i := range a.addrNew {
		keys := make([]string, 0, len(a.addrNew[i]))
		for k := range a.addrNew[i] {
			keys = append(keys, k)
		}
		sam.NewBuckets[i] = keys
	}

	for i := range a.addrTried {
		keys := make([]string, 0, a.addrTried[i].Len())
		for e := a.addrTried[i].Front(); e != nil; e = e.Next() {
			ka := e.Value.(*KnownAddress)
			keys = append(keys, addrKey(ka.na))
		}
		sam.TriedBuckets[i] = keys
	}

	w, err := os.Create(a.peersFile)
	if err != nil {
		log.Errorf("Error creating file %s: %v", a.peersFile, err)
		return
	}
	defer w.Close()

	enc := json.NewEncoder(w)
	if err := enc.Encode(&sam); err != nil {
		log.Errorf("Failed to encode file %s: %v", a.peersFile, err)
	}
}

// loadPeers loads the address cache from a.peersFile, starting from an
// empty cache if the file is missing or unreadable.
func (a *AddrManager) loadPeers() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	f, err := os.Open(a.peersFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("%s error opening file: %v", a.peersFile, err)
		}
		a.reset()
		return
	}
	defer f.Close()

	var sam serializedAddrManager
	dec := json.NewDecoder(f)
	if err := dec.Decode(&sam); err != nil {
		log.Errorf("Error deserializing peers from %s: %v", a.peersFile, err)
		a.reset()
		return
	}

	a.reset()
	a.key = sam.Key

	for _, ska := range sam.Addresses {
		host, portStr, err := net.SplitHostPort(ska.Addr)
		if err != nil {
			continue
		}
		port := parsePort(portStr)
		na := &wire.NetAddress{
			IP:        net.ParseIP(host),
			Port:      port,
			Timestamp: time.Unix(ska.TimeStamp, 0),
		}
		ka := &KnownAddress{
			na:          na,
			attempts:    ska.Attempts,
			lastattempt: time.Unix(ska.LastAttempt, 0),
			lastsuccess: time.Unix(ska.LastSuccess, 0),
		}
		if ska.Src != "" {
			if host, portStr, err := net.SplitHostPort(ska.Src); err == nil {
				ka.srcAddr = &wire.NetAddress{
					IP:   net.ParseIP(host),
					Port: parsePort(portStr),
				}
			}
		}
		a.addrIndex[ska.Addr] = ka
	}

	for i, keys := range sam.NewBuckets {
		for _, k := range keys {
			ka, ok := a.addrIndex[k]
			if !ok {
				continue
			}
			ka.refs++
			a.addrNew[i][k] = ka
			a.nNew++
		}
	}

	for i, keys := range sam.TriedBuckets {
		for _, k := range keys {
			ka, ok := a.addrIndex[k]
			if !ok {
				continue
			}
			ka.tried = true
			a.addrTried[i].PushBack(ka)
			a.nTried++
		}
	}

	log.Infof("Loaded %d addresses from %s", len(a.addrIndex), a.peersFile)
}

func parsePort(s string) uint16 {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return 0
	}
	return uint16(p)
}

// newBucketIndex returns the new-table bucket an address sourced from
// srcAddr falls into -- keyed by both the address and its source so a
// single malicious source can't fill many buckets with addresses it
// controls.
func (a *AddrManager) newBucketIndex(na, srcAddr *wire.NetAddress) int {
	h := sipHashBytes(a.key[:], []byte(GroupKey(na)+GroupKey(srcAddr)))
	return int(h % newBucketCount)
}

// triedBucketIndex returns the tried-table bucket an address falls into.
func (a *AddrManager) triedBucketIndex(na *wire.NetAddress) int {
	h := sipHashBytes(a.key[:], []byte(addrKey(na)))
	return int(h % triedBucketCount)
}

// sipHashBytes is a simple keyed hash used only to assign bucket indices;
// cryptographic strength is not required, only that it spreads addresses
// evenly and depends on a.key so buckets aren't predictable to an outside
// observer.
func sipHashBytes(key, data []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range key {
		h ^= uint64(b)
		h *= 1099511628211
	}
	for _, b := range data {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// AddAddress adds a new address, source is the address that told us about
// the new address.
func (a *AddrManager) AddAddress(addr, srcAddr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.updateAddress(addr, srcAddr)
}

// AddAddresses adds multiple addresses, originating from srcAddr.
func (a *AddrManager) AddAddresses(addrs []*wire.NetAddress, srcAddr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	for _, na := range addrs {
		a.updateAddress(na, srcAddr)
	}
}

func (a *AddrManager) updateAddress(addr, srcAddr *wire.NetAddress) {
	if !IsRoutable(addr) {
		return
	}

	addrKeyStr := addrKey(addr)
	ka := a.find(addr)
	if ka != nil {
		// Already tracked; refresh the timestamp on the existing
		// entry if the new sighting is more recent, and consider
		// adding it to an additional new bucket.
		if addr.Timestamp.After(ka.na.Timestamp) {
			ka.na.Timestamp = addr.Timestamp
		}
		if ka.tried {
			return
		}
		if ka.refs >= newBucketsPerAddress {
			return
		}

		factor := int32(2 * ka.refs)
		if factor > 0 && a.rand.Int31n(factor) != 0 {
			return
		}
	} else {
		ka = &KnownAddress{na: addr, srcAddr: srcAddr}
		a.addrIndex[addrKeyStr] = ka
		a.nNew++
	}

	bucket := a.newBucketIndex(addr, srcAddr)
	if _, exists := a.addrNew[bucket][addrKeyStr]; exists {
		return
	}

	if len(a.addrNew[bucket]) >= newBucketSize {
		a.expireNew(bucket)
	}

	ka.refs++
	a.addrNew[bucket][addrKeyStr] = ka
}

// find returns the KnownAddress for addr if it is currently tracked.
func (a *AddrManager) find(addr *wire.NetAddress) *KnownAddress {
	return a.addrIndex[addrKey(addr)]
}

// expireNew makes space in the new buckets by removing an address deemed
// bad from bucket or, when none is bad, the one with the oldest timestamp.
func (a *AddrManager) expireNew(bucket int) {
	var oldestKey string
	var oldest *KnownAddress
	for k, v := range a.addrNew[bucket] {
		if v.isBad() {
			delete(a.addrNew[bucket], k)
			v.refs--
			if v.refs <= 0 {
				a.nNew--
				delete(a.addrIndex, k)
			}
			return
		}
		if oldest == nil || v.na.Timestamp.Before(oldest.na.Timestamp) {
			oldestKey, oldest = k, v
		}
	}
	if oldest != nil {
		delete(a.addrNew[bucket], oldestKey)
		oldest.refs--
		if oldest.refs <= 0 {
			a.nNew--
			delete(a.addrIndex, oldestKey)
		}
	}
}

// pickTried selects the oldest entry in bucket, used to evict a slot when
// moving a new address into the tried table that's already full.
func (a *AddrManager) pickTried(bucket int) (*list.Element, *KnownAddress) {
	var oldest *KnownAddress
	var oldestElem *list.Element
	for e := a.addrTried[bucket].Front(); e != nil; e = e.Next() {
		ka := e.Value.(*KnownAddress)
		if oldest == nil || ka.na.Timestamp.Before(oldest.na.Timestamp) {
			oldestElem = e
			oldest = ka
		}
	}
	return oldestElem, oldest
}

// Good marks the given address as good, moving it from new to tried if
// necessary, called after a successful version handshake with the peer.
func (a *AddrManager) Good(addr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka := a.find(addr)
	if ka == nil {
		return
	}

	now := time.Now()
	ka.lastsuccess = now
	ka.lastattempt = now
	ka.attempts = 0

	if ka.tried {
		return
	}

	// The entry may have been added to more than one new bucket; remove
	// it from all of them as it's moving to the tried table.
	addrKeyStr := addrKey(addr)
	for i := range a.addrNew {
		if _, exists := a.addrNew[i][addrKeyStr]; exists {
			delete(a.addrNew[i], addrKeyStr)
		}
	}
	ka.refs = 0
	a.nNew--

	ka.tried = true
	bucket := a.triedBucketIndex(addr)
	if a.addrTried[bucket].Len() >= newBucketsPerAddress*newBucketCount/triedBucketCount {
		elem, evict := a.pickTried(bucket)
		if evict != nil {
			a.addrTried[bucket].Remove(elem)
			evict.tried = false
			a.nTried--
			back := a.newBucketIndex(evict.na, evict.srcAddr)
			a.addrNew[back][addrKey(evict.na)] = evict
			evict.refs = 1
			a.nNew++
		}
	}
	a.addrTried[bucket].PushBack(ka)
	a.nTried++
}

// Attempt increases the number of attempts made for an address, recording
// the time of the attempt, called right before dialing a peer.
func (a *AddrManager) Attempt(addr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka := a.find(addr)
	if ka == nil {
		return
	}
	ka.attempts++
	ka.lastattempt = time.Now()
}

// Connected marks an address as currently connected and working at the
// current time, used so a long-lived connection's address doesn't go stale
// and get evicted while still in use.
func (a *AddrManager) Connected(addr *wire.NetAddress) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	ka := a.find(addr)
	if ka == nil {
		return
	}

	now := time.Now()
	if now.Sub(ka.na.Timestamp) < time.Hour {
		return
	}
	na := *ka.na
	na.Timestamp = now
	ka.na = &na
}

// NeedMoreAddresses returns whether or not the address manager needs more
// addresses.
func (a *AddrManager) NeedMoreAddresses() bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.nTried+a.nNew < newBucketCount/4
}

// NumAddresses returns the number of addresses known to the address
// manager.
func (a *AddrManager) NumAddresses() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.nTried + a.nNew
}

// AddressCache returns the current address cache, sufficiently randomized,
// for answering a peer's getaddr request.
func (a *AddrManager) AddressCache() []*wire.NetAddress {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	addrIndexLen := len(a.addrIndex)
	if addrIndexLen == 0 {
		return nil
	}

	allAddr := make([]*wire.NetAddress, 0, addrIndexLen)
	for _, v := range a.addrIndex {
		allAddr = append(allAddr, v.na)
	}

	numAddresses := addrIndexLen * getAddrPercent / 100
	if numAddresses > getAddrMax {
		numAddresses = getAddrMax
	}
	if numAddresses > len(allAddr) {
		numAddresses = len(allAddr)
	}

	for i := 0; i < numAddresses; i++ {
		j := i + a.rand.Intn(len(allAddr)-i)
		allAddr[i], allAddr[j] = allAddr[j], allAddr[i]
	}

	return allAddr[:numAddresses]
}

// GetAddress returns a single address that should be routable, selected by
// randomly walking the tried and new tables weighted by each candidate's
// chance() score -- a bad address should have a much lower chance of being
// selected than a good one.
func (a *AddrManager) GetAddress() *KnownAddress {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.nTried == 0 && a.nNew == 0 {
		return nil
	}

	// Bias slightly toward trying known-good (tried) addresses.
	if a.nNew == 0 || (a.nTried > 0 && a.rand.Intn(2) == 0) {
		if ka := a.pickFromTried(); ka != nil {
			return ka
		}
	}
	return a.pickFromNew()
}

func (a *AddrManager) pickFromTried() *KnownAddress {
	large := 1 << 30
	factor := 1.0
	for {
		bucket := a.rand.Intn(triedBucketCount)
		if a.addrTried[bucket].Len() == 0 {
			continue
		}

		idx := a.rand.Intn(a.addrTried[bucket].Len())
		e := a.addrTried[bucket].Front()
		for i := 0; i < idx; i++ {
			e = e.Next()
		}
		ka := e.Value.(*KnownAddress)
		if a.rand.Float64() < factor*ka.chance() {
			return ka
		}
		factor *= 1.2
		if factor > float64(large) {
			return ka
		}
	}
}

func (a *AddrManager) pickFromNew() *KnownAddress {
	factor := 1.0
	for attempt := 0; attempt < 1000; attempt++ {
		bucket := a.rand.Intn(newBucketCount)
		if len(a.addrNew[bucket]) == 0 {
			continue
		}

		var chosen *KnownAddress
		n := a.rand.Intn(len(a.addrNew[bucket]))
		i := 0
		for _, ka := range a.addrNew[bucket] {
			if i == n {
				chosen = ka
				break
			}
			i++
		}
		if chosen == nil {
			continue
		}
		if a.rand.Float64() < factor*chosen.chance() {
			return chosen
		}
		factor *= 1.2
	}
	return nil
}

// AddLocalAddress records addr as one of this node's own listening
// addresses, with the given priority score, so it can be advertised to
// peers.
func (a *AddrManager) AddLocalAddress(na *wire.NetAddress, score int32) error {
	if !IsRoutable(na) {
		return errors.New("address is not routable")
	}

	a.lamtx.Lock()
	defer a.lamtx.Unlock()

	key := addrKey(na)
	existing, ok := a.localAddresses[key]
	if !ok || existing.score < score {
		a.localAddresses[key] = &localAddress{na: na, score: score}
	}
	return nil
}

// LocalAddresses returns every address this node has recorded as its own.
func (a *AddrManager) LocalAddresses() []*wire.NetAddress {
	a.lamtx.Lock()
	defer a.lamtx.Unlock()

	addrs := make([]*wire.NetAddress, 0, len(a.localAddresses))
	for _, la := range a.localAddresses {
		addrs = append(addrs, la.na)
	}
	return addrs
}

// HostToNetAddress resolves a host string and returns a netaddress
// advertising the given port and services. If the host is already an IP
// address it is parsed directly, otherwise it's resolved via lookupFunc (or
// net.LookupIP if none was configured).
func (a *AddrManager) HostToNetAddress(host string, port uint16, services wire.ServiceFlag) (*wire.NetAddress, error) {
	if ip := net.ParseIP(host); ip != nil {
		return wire.NewNetAddressIPPort(ip, port, services), nil
	}

	lookup := a.lookupFunc
	if lookup == nil {
		lookup = func(h string) ([]net.IP, error) { return net.LookupIP(h) }
	}
	ips, err := lookup(host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no addresses found for host " + host)
	}
	return wire.NewNetAddressIPPort(ips[0], port, services), nil
}
