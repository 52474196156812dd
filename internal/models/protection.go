package models

import (
	"time"

	"github.com/google/uuid"
)

// RateRecord is the rolling request counter kept for one client address.
//
// A single counter serves both the per-minute and the per-hour threshold:
// WindowStart marks the first request of the current hour window and LastSeen the
// most recent request. LastSeen is never before WindowStart.
type RateRecord struct {
	Address     string    `json:"address"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	LastSeen    time.Time `json:"last_seen"`
}

// BlockEvent is one immutable entry in the block ledger.
type BlockEvent struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	TargetResource string    `json:"target_resource,omitempty"`
	BlockedAt      time.Time `json:"blocked_at"`
}

// NewBlockEvent creates a block event with a fresh ID. BlockedAt is stored in UTC.
func NewBlockEvent(address, target string, at time.Time) *BlockEvent {
	return &BlockEvent{
		ID:             uuid.New().String(),
		Address:        address,
		TargetResource: target,
		BlockedAt:      at.UTC(),
	}
}

// AddressCount pairs a client address with its number of block events.
type AddressCount struct {
	Address string `json:"ip_address"`
	Count   int    `json:"count"`
}

// BlockStats summarises the block ledger.
type BlockStats struct {
	TotalBlocks  int            `json:"total_blocks"`
	BlocksToday  int            `json:"today_blocks"`
	TopAddresses []AddressCount `json:"top_ips"`
}

// TopAddressesLimit caps the top offenders list.
const TopAddressesLimit = 10
