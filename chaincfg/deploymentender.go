// Copyright (c) 2021 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"time"

	"github.com/btcnode/node/wire"
)

// ConsensusDeploymentEnder defines an interface that specifies the behavior
// used to determine if a given consensus rule change deployment has ended
// (expired without locking in).
type ConsensusDeploymentEnder interface {
	// HasEnded returns true if the target rule change deployment has
	// ended.
	HasEnded(blkHeader *wire.BlockHeader) (bool, error)
}

// MedianTimeDeploymentEnder is an implementation of the
// ConsensusDeploymentEnder interface that uses a predetermined end time
// compared against a block's timestamp to determine if a deployment has
// ended.
type MedianTimeDeploymentEnder struct {
	endTime time.Time
}

// NewMedianTimeDeploymentEnder returns a new instance of the
// MedianTimeDeploymentEnder.
func NewMedianTimeDeploymentEnder(endTime time.Time) *MedianTimeDeploymentEnder {
	return &MedianTimeDeploymentEnder{
		endTime: endTime,
	}
}

// HasEnded returns true if the target rule change deployment has ended
// based on the passed block header's timestamp.
func (m *MedianTimeDeploymentEnder) HasEnded(blkHeader *wire.BlockHeader) (bool, error) {
	return blkHeader.Timestamp.After(m.endTime), nil
}

// EndTime returns the end time of the deployment.
func (m *MedianTimeDeploymentEnder) EndTime() time.Time {
	return m.endTime
}

// A compile-time assertion to ensure MedianTimeDeploymentEnder satisfies the
// ConsensusDeploymentEnder interface.
var _ ConsensusDeploymentEnder = (*MedianTimeDeploymentEnder)(nil)
