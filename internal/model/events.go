package model

// Event is a pipeline event carried by the bus. The set of event types
// is closed; the dispatcher switches over every variant.
type Event interface {
	isEvent()
}

// BlockReceived announces a new block from the chain-sync session.
type BlockReceived struct {
	Block Block
}

// SwapsComputed carries the swaps extracted from one block.
type SwapsComputed struct {
	Slot  uint64
	Swaps []Swap
}

// PoolReservesComputed carries the reserve snapshots extracted from one
// block. HasSwaps tells the dispatcher which downstream path owns the
// block-completion signal.
type PoolReservesComputed struct {
	Slot     uint64
	Reserves []PoolReserve
	HasSwaps bool
}

// PricesCalculated carries the prices derived from one block's swaps.
type PricesCalculated struct {
	Slot   uint64
	Prices []Price
}

// Rollback announces a chain reorganization to the given point.
type Rollback struct {
	Point BlockPoint
}

func (BlockReceived) isEvent()        {}
func (SwapsComputed) isEvent()        {}
func (PoolReservesComputed) isEvent() {}
func (PricesCalculated) isEvent()     {}
func (Rollback) isEvent()             {}
