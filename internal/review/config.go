package review

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultClaimExpiry is how long a claim may sit before the sweep demotes it.
const DefaultClaimExpiry = 24 * time.Hour

// Config holds review workflow configuration.
type Config struct {
	ClaimExpiry    time.Duration
	QueueLimit     int
	SweepBatchSize int
}

// DefaultConfig returns the default review config, reading from viper when available.
func DefaultConfig() Config {
	expiry := viper.GetDuration("review.claim_expiry")
	if expiry <= 0 {
		expiry = DefaultClaimExpiry
	}

	limit := viper.GetInt("review.queue_limit")
	if limit <= 0 {
		limit = 1
	}

	batch := viper.GetInt("review.sweep_batch_size")
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}

	return Config{
		ClaimExpiry:    expiry,
		QueueLimit:     limit,
		SweepBatchSize: batch,
	}
}
