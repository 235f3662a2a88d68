// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ffldb

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/btcnode/node/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout within the single underlying leveldb keyspace. A bucket is
// identified by its path prefix; within a bucket, data entries and nested
// bucket markers are distinguished by a one-byte tag so a prefix scan can
// enumerate exactly one or the other without walking into grandchildren.
const (
	tagData   byte = 0x01
	tagBucket byte = 0x02
)

func encodeSegment(name []byte) []byte {
	buf := make([]byte, 4+len(name))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(name)))
	copy(buf[4:], name)
	return buf
}

func childPrefix(parent, name []byte) []byte {
	out := make([]byte, 0, len(parent)+1+4+len(name))
	out = append(out, parent...)
	out = append(out, tagBucket)
	out = append(out, encodeSegment(name)...)
	return out
}

func dataKey(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+1+len(key))
	out = append(out, prefix...)
	out = append(out, tagData)
	out = append(out, key...)
	return out
}

// bucket implements database.Bucket over a single shared transaction,
// scoped to a byte-string path prefix.
type bucket struct {
	tx     *transaction
	prefix []byte
}

var _ database.Bucket = (*bucket)(nil)

func (b *bucket) Writable() bool { return b.tx.writable }

func (b *bucket) Bucket(key []byte) database.Bucket {
	cp := childPrefix(b.prefix, key)
	if _, err := b.tx.get(cp); err != nil {
		return nil
	}
	return &bucket{tx: b.tx, prefix: cp}
}

func (b *bucket) CreateBucket(key []byte) (database.Bucket, error) {
	if !b.tx.writable {
		return nil, database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	cp := childPrefix(b.prefix, key)
	if v, _ := b.tx.get(cp); v != nil {
		return nil, database.Error{ErrorCode: database.ErrBucketExists, Description: "bucket already exists"}
	}
	b.tx.put(cp, []byte{1})
	return &bucket{tx: b.tx, prefix: cp}, nil
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (database.Bucket, error) {
	if existing := b.Bucket(key); existing != nil {
		return existing, nil
	}
	return b.CreateBucket(key)
}

func (b *bucket) DeleteNestedBucket(key []byte) error {
	if !b.tx.writable {
		return database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	cp := childPrefix(b.prefix, key)
	// Remove the marker and everything nested beneath it.
	b.tx.deleteRange(cp)
	b.tx.del(cp)
	return nil
}

func (b *bucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	if len(key) == 0 {
		return database.Error{ErrorCode: database.ErrKeyRequired, Description: "key required"}
	}
	b.tx.put(dataKey(b.prefix, key), value)
	return nil
}

func (b *bucket) Get(key []byte) []byte {
	v, err := b.tx.get(dataKey(b.prefix, key))
	if err != nil {
		return nil
	}
	return v
}

func (b *bucket) Delete(key []byte) error {
	if !b.tx.writable {
		return database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	b.tx.del(dataKey(b.prefix, key))
	return nil
}

func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	start := append(append([]byte{}, b.prefix...), tagData)
	limit := append(append([]byte{}, b.prefix...), tagData+1)
	pairs := b.tx.scan(start, limit)
	for _, kv := range pairs {
		if err := fn(kv.key[len(start):], kv.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *bucket) ForEachBucket(fn func(k []byte) error) error {
	start := append(append([]byte{}, b.prefix...), tagBucket)
	limit := append(append([]byte{}, b.prefix...), tagBucket+1)
	pairs := b.tx.scan(start, limit)
	for _, kv := range pairs {
		rest := kv.key[len(start):]
		if len(rest) < 4 {
			continue
		}
		segLen := binary.BigEndian.Uint32(rest[:4])
		// Only a direct child's marker has exactly this length; anything
		// deeper nests further tagBucket/tagData segments afterward.
		if uint32(len(rest)-4) != segLen {
			continue
		}
		if err := fn(rest[4:]); err != nil {
			return err
		}
	}
	return nil
}

func (b *bucket) Cursor() database.Cursor {
	start := append(append([]byte{}, b.prefix...), tagData)
	limit := append(append([]byte{}, b.prefix...), tagData+1)
	pairs := b.tx.scan(start, limit)
	keys := make([][]byte, len(pairs))
	for i, kv := range pairs {
		keys[i] = kv.key[len(start):]
	}
	return &cursor{bucket: b, prefixLen: len(start), pairs: pairs, keys: keys, idx: -1}
}

type cursor struct {
	bucket    *bucket
	prefixLen int
	pairs     []kvPair
	keys      [][]byte
	idx       int
}

var _ database.Cursor = (*cursor)(nil)

func (c *cursor) Bucket() database.Bucket { return c.bucket }

func (c *cursor) First() bool {
	if len(c.pairs) == 0 {
		c.idx = -1
		return false
	}
	c.idx = 0
	return true
}

func (c *cursor) Last() bool {
	if len(c.pairs) == 0 {
		c.idx = -1
		return false
	}
	c.idx = len(c.pairs) - 1
	return true
}

func (c *cursor) Next() bool {
	if c.idx+1 >= len(c.pairs) {
		c.idx = len(c.pairs)
		return false
	}
	c.idx++
	return true
}

func (c *cursor) Prev() bool {
	if c.idx-1 < 0 {
		c.idx = -1
		return false
	}
	c.idx--
	return true
}

func (c *cursor) Seek(seek []byte) bool {
	i := sort.Search(len(c.keys), func(i int) bool {
		return bytes.Compare(c.keys[i], seek) >= 0
	})
	if i >= len(c.keys) {
		c.idx = len(c.pairs)
		return false
	}
	c.idx = i
	return true
}

func (c *cursor) Key() []byte {
	if c.idx < 0 || c.idx >= len(c.keys) {
		return nil
	}
	return c.keys[c.idx]
}

func (c *cursor) Value() []byte {
	if c.idx < 0 || c.idx >= len(c.pairs) {
		return nil
	}
	return c.pairs[c.idx].value
}

func (c *cursor) Delete() error {
	if !c.bucket.tx.writable {
		return database.Error{ErrorCode: database.ErrTxNotWritable, Description: "tx is read-only"}
	}
	if c.idx < 0 || c.idx >= len(c.pairs) {
		return database.Error{ErrorCode: database.ErrIncompatibleValue, Description: "cursor not positioned on an entry"}
	}
	c.bucket.tx.del(c.pairs[c.idx].key)
	return nil
}

type kvPair struct {
	key   []byte
	value []byte
}

// scan returns the sorted key/value pairs in [start, limit), merging the
// transaction's in-flight overlay (for read-your-own-writes within a
// writable transaction) with the committed leveldb state.
func (t *transaction) scan(start, limit []byte) []kvPair {
	merged := make(map[string][]byte)

	iter := t.db.ldb.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	for iter.Next() {
		k := append([]byte{}, iter.Key()...)
		v := append([]byte{}, iter.Value()...)
		merged[string(k)] = v
	}
	iter.Release()

	if t.writable {
		for k, v := range t.overlayPuts {
			kb := []byte(k)
			if bytes.Compare(kb, start) >= 0 && bytes.Compare(kb, limit) < 0 {
				merged[k] = v
			}
		}
		for k := range t.overlayDels {
			delete(merged, k)
		}
	}

	out := make([]kvPair, 0, len(merged))
	for k, v := range merged {
		out = append(out, kvPair{key: []byte(k), value: v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out
}

var _ = leveldb.ErrNotFound
