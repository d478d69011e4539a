package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/blinklabs-io/gouroboros/protocol/chainsync"
	ocommon "github.com/blinklabs-io/gouroboros/protocol/common"
	"go.uber.org/zap"

	"swapscope/internal/model"
	"swapscope/internal/pipeline"
)

// PointLocator finds a sync point near a given slot. The resolver
// providers implement it.
type PointLocator interface {
	FindBlockNearest(ctx context.Context, slot uint64) (model.BlockPoint, error)
}

// Service drives a node-to-client chain-sync session and feeds the
// event bus. Delivery is strictly serial: after publishing a block the
// session blocks on a one-shot barrier until the dispatcher signals
// that the block is fully processed.
type Service struct {
	socketPath      string
	networkMagic    uint32
	bus             *pipeline.Bus
	locator         PointLocator
	slotTimeOffset  uint64
	restartInterval time.Duration
	logger          *zap.Logger

	blockProcessed    chan struct{}
	rollbackProcessed chan struct{}
	synced            atomic.Bool

	mu        sync.Mutex
	conn      *ouroboros.Connection
	startSlot uint64
	lastPoint model.BlockPoint
	runCtx    context.Context
}

// NewService builds a chain service. The locator is only needed for
// rollback re-initialization and may be nil when rollbacks restart
// from origin. A zero restartInterval makes session failures fatal.
func NewService(socketPath string, networkMagic uint32, bus *pipeline.Bus, locator PointLocator, slotTimeOffset uint64, restartInterval time.Duration, logger *zap.Logger) (*Service, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("node socket path is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		socketPath:        socketPath,
		networkMagic:      networkMagic,
		bus:               bus,
		locator:           locator,
		slotTimeOffset:    slotTimeOffset,
		restartInterval:   restartInterval,
		logger:            logger,
		blockProcessed:    make(chan struct{}, 1),
		rollbackProcessed: make(chan struct{}, 1),
	}, nil
}

// Run opens the sync session from the given point and blocks until the
// context is cancelled or the session fails. Restarts triggered by
// rollback handling swap the session without returning.
func (s *Service) Run(ctx context.Context, from model.BlockPoint) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if err := s.connect(from); err != nil {
		return err
	}
	defer s.Close()

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-conn.ErrorChan():
			s.mu.Lock()
			replaced := s.conn != conn
			s.mu.Unlock()
			if replaced {
				continue
			}
			if !ok || err == nil {
				return nil
			}
			if s.restartInterval <= 0 {
				return fmt.Errorf("sync session: %w", err)
			}
			s.logger.Warn("sync session failed, reconnecting",
				zap.Duration("after", s.restartInterval),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.restartInterval):
			}
			s.mu.Lock()
			point := s.lastPoint
			s.mu.Unlock()
			if err := s.connect(point); err != nil {
				return fmt.Errorf("reconnect: %w", err)
			}
		}
	}
}

// connect dials the node and starts syncing from the point. The
// previous session, if any, is closed after the new one is installed.
func (s *Service) connect(from model.BlockPoint) error {
	point, err := toSyncPoint(from)
	if err != nil {
		return err
	}

	conn, err := ouroboros.NewConnection(
		ouroboros.WithNetworkMagic(s.networkMagic),
		ouroboros.WithNodeToNode(false),
		ouroboros.WithKeepAlive(true),
		ouroboros.WithChainSyncConfig(chainsync.NewConfig(
			chainsync.WithRollForwardFunc(s.rollForward),
			chainsync.WithRollBackwardFunc(s.rollBackward),
		)),
	)
	if err != nil {
		return fmt.Errorf("create node connection: %w", err)
	}
	if err := conn.Dial("unix", s.socketPath); err != nil {
		return fmt.Errorf("dial node socket %s: %w", s.socketPath, err)
	}
	if err := conn.ChainSync().Client.Sync([]ocommon.Point{point}); err != nil {
		conn.Close()
		return fmt.Errorf("start chain sync: %w", err)
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.startSlot = from.Slot
	s.lastPoint = from
	s.mu.Unlock()

	// A stale signal from the previous session must not release the
	// first block of the new one.
	drain(s.blockProcessed)
	drain(s.rollbackProcessed)
	s.synced.Store(false)

	if old != nil {
		old.Close()
	}

	s.logger.Info("chain sync started",
		zap.Uint64("slot", from.Slot),
		zap.String("hash", from.Hash),
	)
	return nil
}

func (s *Service) rollForward(_ chainsync.CallbackContext, _ uint, blockData any, tip chainsync.Tip) error {
	block, ok := blockData.(ledger.Block)
	if !ok {
		return fmt.Errorf("unexpected block payload %T", blockData)
	}

	if block.SlotNumber() >= tip.Point.Slot {
		s.synced.Store(true)
	}

	converted := convertBlock(block)
	ctx := s.runContext()
	if err := s.bus.Publish(ctx, model.BlockReceived{Block: converted}); err != nil {
		return fmt.Errorf("publish block %d: %w", block.SlotNumber(), err)
	}
	if err := s.waitForBarrier(ctx, s.blockProcessed); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastPoint = converted.Point()
	s.mu.Unlock()
	return nil
}

func (s *Service) rollBackward(_ chainsync.CallbackContext, point ocommon.Point, _ chainsync.Tip) error {
	s.mu.Lock()
	startSlot := s.startSlot
	s.mu.Unlock()
	// The server opens every session by rolling back to the requested
	// point. That is not a reorganization.
	if point.Slot == startSlot {
		return nil
	}

	ctx := s.runContext()
	if err := s.bus.Publish(ctx, model.Rollback{Point: fromSyncPoint(point)}); err != nil {
		return fmt.Errorf("publish rollback to %d: %w", point.Slot, err)
	}
	return s.waitForBarrier(ctx, s.rollbackProcessed)
}

func (s *Service) waitForBarrier(ctx context.Context, barrier chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-barrier:
		return nil
	}
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// SignalBlockProcessed releases the per-block barrier.
func (s *Service) SignalBlockProcessed() {
	signal(s.blockProcessed)
}

// SignalRollbackProcessed releases the rollback barrier.
func (s *Service) SignalRollbackProcessed() {
	signal(s.rollbackProcessed)
}

// IsSynced reports whether the session has reached the upstream tip.
func (s *Service) IsSynced() bool {
	return s.synced.Load()
}

// Restart resolves the sync point for the given time and replaces the
// running session with one starting there.
func (s *Service) Restart(ctx context.Context, timeSeconds uint64) error {
	point, err := s.DetermineInitialisationState(ctx, timeSeconds)
	if err != nil {
		return err
	}
	return s.connect(point)
}

// DetermineInitialisationState maps a unix time back to a chain point
// at or before the corresponding slot.
func (s *Service) DetermineInitialisationState(ctx context.Context, timeSeconds uint64) (model.BlockPoint, error) {
	if s.locator == nil {
		return model.BlockPoint{}, nil
	}
	point, err := s.locator.FindBlockNearest(ctx, timeSeconds+s.slotTimeOffset)
	if err != nil {
		return model.BlockPoint{}, fmt.Errorf("find block near time %d: %w", timeSeconds, err)
	}
	return point, nil
}

// Close terminates the session.
func (s *Service) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func signal(barrier chan struct{}) {
	select {
	case barrier <- struct{}{}:
	default:
	}
}

func drain(barrier chan struct{}) {
	select {
	case <-barrier:
	default:
	}
}
