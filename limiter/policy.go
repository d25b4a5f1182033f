package limiter

import (
	"errors"
	"time"
)

// Policy tunes attempt counting and blocking.
type Policy struct {
	// MaxAttempts is the failure count at which an identifier becomes blocked.
	MaxAttempts int
	// BlockStep is multiplied by the failure count to get the block duration.
	BlockStep time.Duration
	// MaxBlock caps a single block.
	MaxBlock time.Duration
	// AttemptWindow is how long a failure counter survives after its last failure.
	AttemptWindow time.Duration
}

// DefaultPolicy returns five attempts, 60s per failure, one hour cap and window.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		BlockStep:     time.Minute,
		MaxBlock:      time.Hour,
		AttemptWindow: time.Hour,
	}
}

// Validate reports an unusable policy.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("limiter: MaxAttempts must be > 0")
	}
	if p.BlockStep <= 0 {
		return errors.New("limiter: BlockStep must be > 0")
	}
	if p.MaxBlock < p.BlockStep {
		return errors.New("limiter: MaxBlock must be >= BlockStep")
	}
	if p.AttemptWindow <= 0 {
		return errors.New("limiter: AttemptWindow must be > 0")
	}
	return nil
}

// BlockDuration returns min(count*BlockStep, MaxBlock).
func (p Policy) BlockDuration(count int) time.Duration {
	if count <= 0 {
		return 0
	}
	if time.Duration(count) > p.MaxBlock/p.BlockStep {
		return p.MaxBlock
	}
	d := time.Duration(count) * p.BlockStep
	if d > p.MaxBlock {
		return p.MaxBlock
	}
	return d
}
