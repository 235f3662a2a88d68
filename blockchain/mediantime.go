// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sort"
	"sync"
	"time"
)

// maxAllowedOffsetSecs is the maximum number of seconds in either
// direction that local clock is allowed to drift from the median of
// sampled peer times.
const maxAllowedOffsetSecs = 70 * 60

// similarTimeSecs is the number of seconds to consider two time samples
// close enough together such that a sample is not considered an outlier.
const similarTimeSecs = 5 * 60

// MedianTimeSource provides a mechanism to add several time samples which are
// used to determine a median time which is then used as an offset to the
// local clock collaborator.
type MedianTimeSource interface {
	// AdjustedTime returns the current time adjusted by the median time
	// offset.
	AdjustedTime() time.Time

	// AddTimeSample adds a time sample that is used when determining the
	// median time of the added samples.
	AddTimeSample(id string, timeVal time.Time)

	// Offset returns the number of seconds to adjust the local clock
	// based upon the median of the time samples added by AddTimeSample.
	Offset() time.Duration
}

// int64Sorter implements sort.Interface to allow a slice of 64-bit integers
// to be sorted.
type int64Sorter []int64

func (s int64Sorter) Len() int           { return len(s) }
func (s int64Sorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s int64Sorter) Less(i, j int) bool { return s[i] < s[j] }

// medianTime provides an implementation of the MedianTimeSource interface.
// It is limited to maxMedianTimeEntries, and prevents a peer from submitting
// more than one sample (only the first sample from each peer is kept).
type medianTime struct {
	mtx                sync.Mutex
	knownIDs           map[string]struct{}
	offsets            []int64
	offsetSecs         int64
	invalidTimeChecked bool
}

// Ensure the medianTime type implements the MedianTimeSource interface.
var _ MedianTimeSource = (*medianTime)(nil)

// AdjustedTime returns the current time adjusted by the median time offset
// from the time samples added by AddTimeSample.
func (m *medianTime) AdjustedTime() time.Time {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := time.Unix(timeNowUnix(), 0)
	return now.Add(time.Duration(m.offsetSecs) * time.Second)
}

// AddTimeSample adds a time sample that is used when determining the median
// time of the added samples. The id is used to identify the peer so the
// offset contribution can be tracked separately per peer.
func (m *medianTime) AddTimeSample(sourceID string, timeVal time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	// Don't add time data from the same source.
	if _, exists := m.knownIDs[sourceID]; exists {
		return
	}
	m.knownIDs[sourceID] = struct{}{}

	now := timeNowUnix()
	offsetSecs := timeVal.Unix() - now
	numOffsets := len(m.offsets)
	if numOffsets == maxMedianTimeEntries && maxMedianTimeEntries > 0 {
		m.offsets = m.offsets[1:]
		numOffsets--
	}
	m.offsets = append(m.offsets, offsetSecs)
	numOffsets++

	sortedOffsets := make([]int64, numOffsets)
	copy(sortedOffsets, m.offsets)
	sort.Sort(int64Sorter(sortedOffsets))

	offsetDuration := time.Duration(offsetSecs) * time.Second
	log.Debugf("Added time sample of %v (total: %v)", offsetDuration,
		numOffsets)

	if numOffsets < 5 || numOffsets&0x01 != 1 {
		return
	}

	median := sortedOffsets[numOffsets/2]

	if int64(math_abs(median)) < maxAllowedOffsetSecs {
		m.offsetSecs = median
	} else {
		m.offsetSecs = 0

		if !m.invalidTimeChecked {
			m.invalidTimeChecked = true

			var remoteHasCloseTime bool
			for _, offset := range sortedOffsets {
				if int64(math_abs(offset)) < similarTimeSecs {
					remoteHasCloseTime = true
					break
				}
			}

			if !remoteHasCloseTime {
				log.Warnf("Please check your date and time " +
					"are correct! Time is adjusted to a " +
					"value that is significantly " +
					"different from most of your peers.")
			}
		}
	}
}

func math_abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Offset returns the number of seconds to adjust the local clock based upon
// the median of the time samples added by AddTimeSample.
func (m *medianTime) Offset() time.Duration {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return time.Duration(m.offsetSecs) * time.Second
}

// maxMedianTimeEntries is the maximum number of entries allowed in the
// median time data.
const maxMedianTimeEntries = 200

// NewMedianTime returns a new instance of concrete implementation of the
// MedianTimeSource interface. It is used throughout the chain package to
// see if a block's timestamp is stale compared to the median time of the
// most recent set of blocks.
func NewMedianTime() MedianTimeSource {
	return &medianTime{
		knownIDs: make(map[string]struct{}),
		offsets:  make([]int64, 0, maxMedianTimeEntries),
	}
}

// timeNowUnix exists purely so tests can override the "current" time. Under
// normal operation it just returns time.Now().Unix().
var timeNowUnix = func() int64 {
	return time.Now().Unix()
}
