// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ffldb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcnode/node/database"
)

// maxBlockFileSize caps the size of a single blkNNNNN.dat file before the
// writer rolls to the next one.
const maxBlockFileSize = 128 * 1024 * 1024

// blockLocation records where a stored block's payload lives: which flat
// file, and the byte offset and length within it.
type blockLocation struct {
	file   uint32
	offset uint32
	length uint32
}

func serializeLocation(loc blockLocation) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], loc.file)
	binary.LittleEndian.PutUint32(buf[4:8], loc.offset)
	binary.LittleEndian.PutUint32(buf[8:12], loc.length)
	return buf
}

func deserializeLocation(buf []byte) (blockLocation, error) {
	if len(buf) != 12 {
		return blockLocation{}, database.Error{
			ErrorCode:   database.ErrCorruption,
			Description: "corrupt block location record",
		}
	}
	return blockLocation{
		file:   binary.LittleEndian.Uint32(buf[0:4]),
		offset: binary.LittleEndian.Uint32(buf[4:8]),
		length: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// blockStore manages the append-only blkNNNNN.dat (block payloads) and
// revNNNNN.dat (undo logs) flat files rooted at a
// data directory. A single blockStore is shared by all transactions of a
// database and is itself safe for concurrent readers; writers are
// serialized by the owning database's single-writer lock.
type blockStore struct {
	mu       sync.RWMutex
	network  uint32
	basePath string

	curBlockFileNum uint32
	curBlockFile    *os.File
	curBlockOffset  uint32

	curUndoFileNum uint32
	curUndoFile    *os.File
	curUndoOffset  uint32

	openBlockFiles map[uint32]*os.File
	openUndoFiles  map[uint32]*os.File
}

func newBlockStore(basePath string, network uint32) (*blockStore, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, database.Error{
			ErrorCode:   database.ErrDriverSpecific,
			Description: "unable to create block store directory",
			Err:         err,
		}
	}
	s := &blockStore{
		network:        network,
		basePath:       basePath,
		openBlockFiles: make(map[uint32]*os.File),
		openUndoFiles:  make(map[uint32]*os.File),
	}

	// Resume at the highest-numbered existing file, if any.
	fileNum, err := s.highestFileNum("blk")
	if err != nil {
		return nil, err
	}
	s.curBlockFileNum = fileNum
	f, err := s.openBlockFileForWrite(fileNum)
	if err != nil {
		return nil, err
	}
	s.curBlockFile = f
	off, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		return nil, err
	}
	s.curBlockOffset = uint32(off)

	undoNum, err := s.highestFileNum("rev")
	if err != nil {
		return nil, err
	}
	s.curUndoFileNum = undoNum
	uf, err := s.openUndoFileForWrite(undoNum)
	if err != nil {
		return nil, err
	}
	s.curUndoFile = uf
	uoff, err := uf.Seek(0, os.SEEK_END)
	if err != nil {
		return nil, err
	}
	s.curUndoOffset = uint32(uoff)

	return s, nil
}

func (s *blockStore) blockFilePath(fileNum uint32) string {
	return filepath.Join(s.basePath, fmt.Sprintf("blk%05d.dat", fileNum))
}

func (s *blockStore) undoFilePath(fileNum uint32) string {
	return filepath.Join(s.basePath, fmt.Sprintf("rev%05d.dat", fileNum))
}

func (s *blockStore) highestFileNum(prefix string) (uint32, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, nil
	}
	var max uint32
	var found bool
	for _, e := range entries {
		var n uint32
		if _, err := fmt.Sscanf(e.Name(), prefix+"%05d.dat", &n); err == nil {
			if !found || n > max {
				max = n
				found = true
			}
		}
	}
	return max, nil
}

func (s *blockStore) openBlockFileForWrite(fileNum uint32) (*os.File, error) {
	return os.OpenFile(s.blockFilePath(fileNum), os.O_RDWR|os.O_CREATE, 0600)
}

func (s *blockStore) openUndoFileForWrite(fileNum uint32) (*os.File, error) {
	return os.OpenFile(s.undoFilePath(fileNum), os.O_RDWR|os.O_CREATE, 0600)
}

// writeBlock appends the block's magic|length|payload framing to the
// current blk file, rotating to a new file if the
// current one would exceed maxBlockFileSize. Returns the location the
// caller must persist in the metadata index under the same outer batch to
// satisfy Store's atomicity contract.
func (s *blockStore) writeBlock(serialized []byte) (blockLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.curBlockOffset+uint32(len(serialized))+8 > maxBlockFileSize {
		s.curBlockFile.Close()
		s.curBlockFileNum++
		f, err := s.openBlockFileForWrite(s.curBlockFileNum)
		if err != nil {
			return blockLocation{}, err
		}
		s.curBlockFile = f
		s.curBlockOffset = 0
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], s.network)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(serialized)))

	if _, err := s.curBlockFile.WriteAt(header, int64(s.curBlockOffset)); err != nil {
		return blockLocation{}, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "block file write failed", Err: err}
	}
	payloadOffset := s.curBlockOffset + 8
	if _, err := s.curBlockFile.WriteAt(serialized, int64(payloadOffset)); err != nil {
		return blockLocation{}, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "block file write failed", Err: err}
	}

	loc := blockLocation{
		file:   s.curBlockFileNum,
		offset: payloadOffset,
		length: uint32(len(serialized)),
	}
	s.curBlockOffset = payloadOffset + uint32(len(serialized))
	return loc, nil
}

// writeUndo appends an undo-log record
// indexed by the caller via the returned location.
func (s *blockStore) writeUndo(serialized []byte) (blockLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.curUndoOffset+uint32(len(serialized)) > maxBlockFileSize {
		s.curUndoFile.Close()
		s.curUndoFileNum++
		f, err := s.openUndoFileForWrite(s.curUndoFileNum)
		if err != nil {
			return blockLocation{}, err
		}
		s.curUndoFile = f
		s.curUndoOffset = 0
	}

	if _, err := s.curUndoFile.WriteAt(serialized, int64(s.curUndoOffset)); err != nil {
		return blockLocation{}, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "undo file write failed", Err: err}
	}
	loc := blockLocation{file: s.curUndoFileNum, offset: s.curUndoOffset, length: uint32(len(serialized))}
	s.curUndoOffset += uint32(len(serialized))
	return loc, nil
}

func (s *blockStore) fileForRead(fileNum uint32) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fileNum == s.curBlockFileNum {
		return s.curBlockFile, nil
	}
	if f, ok := s.openBlockFiles[fileNum]; ok {
		return f, nil
	}
	f, err := os.Open(s.blockFilePath(fileNum))
	if err != nil {
		return nil, database.Error{ErrorCode: database.ErrBlockNotFound, Description: "block file missing", Err: err}
	}
	s.openBlockFiles[fileNum] = f
	return f, nil
}

func (s *blockStore) undoFileForRead(fileNum uint32) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fileNum == s.curUndoFileNum {
		return s.curUndoFile, nil
	}
	if f, ok := s.openUndoFiles[fileNum]; ok {
		return f, nil
	}
	f, err := os.Open(s.undoFilePath(fileNum))
	if err != nil {
		return nil, database.Error{ErrorCode: database.ErrBlockNotFound, Description: "undo file missing", Err: err}
	}
	s.openUndoFiles[fileNum] = f
	return f, nil
}

// readBlock returns the raw serialized block at the given location.
func (s *blockStore) readBlock(loc blockLocation) ([]byte, error) {
	f, err := s.fileForRead(loc.file)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, loc.length)
	if _, err := f.ReadAt(buf, int64(loc.offset)); err != nil {
		return nil, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "block read failed", Err: err}
	}
	return buf, nil
}

func (s *blockStore) readBlockRegion(loc blockLocation, regionOffset, regionLen uint32) ([]byte, error) {
	if regionOffset+regionLen > loc.length {
		return nil, database.Error{ErrorCode: database.ErrBlockRegionInvalid, Description: "region outside stored block"}
	}
	f, err := s.fileForRead(loc.file)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, regionLen)
	if _, err := f.ReadAt(buf, int64(loc.offset+regionOffset)); err != nil {
		return nil, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "block region read failed", Err: err}
	}
	return buf, nil
}

func (s *blockStore) readUndo(loc blockLocation) ([]byte, error) {
	f, err := s.undoFileForRead(loc.file)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, loc.length)
	if _, err := f.ReadAt(buf, int64(loc.offset)); err != nil {
		return nil, database.Error{ErrorCode: database.ErrDriverSpecific, Description: "undo read failed", Err: err}
	}
	return buf, nil
}

// pruneTo deletes the oldest whole block/undo file pairs until the total
// size of the flat files is at or below targetBytes. The current write
// files are never deleted, so pruning can never remove the chain tip's
// data. Returns the number of file pairs removed.
func (s *blockStore) pruneTo(targetBytes uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizeOf := func(path string) uint64 {
		fi, err := os.Stat(path)
		if err != nil {
			return 0
		}
		return uint64(fi.Size())
	}

	var total uint64
	var oldest uint32
	found := false
	for num := uint32(0); num <= s.curBlockFileNum; num++ {
		blkSize := sizeOf(s.blockFilePath(num))
		if blkSize == 0 {
			continue
		}
		if !found {
			oldest = num
			found = true
		}
		total += blkSize + sizeOf(s.undoFilePath(num))
	}
	if !found {
		return 0, nil
	}

	removed := 0
	for total > targetBytes && oldest < s.curBlockFileNum && oldest < s.curUndoFileNum {
		blkPath := s.blockFilePath(oldest)
		undoPath := s.undoFilePath(oldest)
		freed := sizeOf(blkPath) + sizeOf(undoPath)

		if f, ok := s.openBlockFiles[oldest]; ok {
			f.Close()
			delete(s.openBlockFiles, oldest)
		}
		if f, ok := s.openUndoFiles[oldest]; ok {
			f.Close()
			delete(s.openUndoFiles, oldest)
		}
		if err := os.Remove(blkPath); err != nil && !os.IsNotExist(err) {
			return removed, database.Error{
				ErrorCode:   database.ErrDriverSpecific,
				Description: "unable to remove pruned block file",
				Err:         err,
			}
		}
		if err := os.Remove(undoPath); err != nil && !os.IsNotExist(err) {
			return removed, database.Error{
				ErrorCode:   database.ErrDriverSpecific,
				Description: "unable to remove pruned undo file",
				Err:         err,
			}
		}
		total -= freed
		removed++
		oldest++
	}
	return removed, nil
}

func (s *blockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curBlockFile != nil {
		s.curBlockFile.Close()
	}
	if s.curUndoFile != nil {
		s.curUndoFile.Close()
	}
	for _, f := range s.openBlockFiles {
		f.Close()
	}
	for _, f := range s.openUndoFiles {
		f.Close()
	}
	return nil
}
