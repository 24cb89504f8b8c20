package torasuri

import (
	"context"

	"github.com/tendermint/tendermint/libs/common"
)

// Ticker is an interface used to call background tasks periodically.
type Ticker interface {
	// Tick runs a single pass of the task. It should process everything
	// that is due and return. A failed tick is logged and the task is
	// called again on the next interval.
	Tick(ctx context.Context) (*TickResult, error)
}

// TickResult represents the result of a single tick run.
type TickResult struct {
	// Tags describe the changes done during the tick, for example one
	// tag per entity that changed its state. Empty tag list is a valid
	// result.
	Tags []common.KVPair
}
