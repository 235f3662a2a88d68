// Copyright (c) 2021 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"time"

	"github.com/btcnode/node/wire"
)

// ConsensusDeploymentStarter defines an interface that specifies the
// behavior used to determine if a given consensus rule change deployment
// has started. Typically this will be based on the current time, or some
// other metric obtained via the block header.
type ConsensusDeploymentStarter interface {
	// HasStarted returns true if the target rule change deployment has
	// started.
	HasStarted(blkHeader *wire.BlockHeader) (bool, error)
}

// MedianTimeDeploymentStarter is an implementation of the
// ConsensusDeploymentStarter interface that uses a predetermined start time
// compared against a block's timestamp to determine if a deployment has
// started.
type MedianTimeDeploymentStarter struct {
	startTime time.Time
}

// NewMedianTimeDeploymentStarter returns a new instance of the
// MedianTimeDeploymentStarter.
func NewMedianTimeDeploymentStarter(startTime time.Time) *MedianTimeDeploymentStarter {
	return &MedianTimeDeploymentStarter{
		startTime: startTime,
	}
}

// HasStarted returns true if the target rule change deployment has started
// based on the passed block header's timestamp.
func (m *MedianTimeDeploymentStarter) HasStarted(blkHeader *wire.BlockHeader) (bool, error) {
	return !blkHeader.Timestamp.Before(m.startTime), nil
}

// StartTime returns the start time of the deployment.
func (m *MedianTimeDeploymentStarter) StartTime() time.Time {
	return m.startTime
}

// A compile-time assertion to ensure MedianTimeDeploymentStarter satisfies
// the ConsensusDeploymentStarter interface.
var _ ConsensusDeploymentStarter = (*MedianTimeDeploymentStarter)(nil)
