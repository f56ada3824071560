package browserpool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrPoolShuttingDown is returned by Acquire once Stop has been called.
var ErrPoolShuttingDown = errors.New("browserpool: pool is shutting down")

// Stats reports pool occupancy for progress/diagnostics.
type Stats struct {
	TotalInstances     int
	AvailableInstances int
	ActiveInstances    int32
}

// Pool is a fixed-size set of Chrome instances. Acquire
// blocks until a slot is free or the context/pool is cancelled.
type Pool struct {
	config      InstanceConfig
	logger      *zap.Logger
	instances   []*Instance
	available   chan int
	activeCount atomic.Int32
	ctx         context.Context
	cancel      context.CancelFunc
}

// Handle is the {handle, index} pair returned from acquire.
type Handle struct {
	Instance *Instance
	Index    int
}

// NewPool creates and starts PoolSize instances sequentially, failing fast
// and tearing down any already-started instance if one fails.
func NewPool(config InstanceConfig, logger *zap.Logger) (*Pool, error) {
	if config.PoolSize <= 0 {
		config.PoolSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:    config,
		logger:    logger,
		instances: make([]*Instance, config.PoolSize),
		available: make(chan int, config.PoolSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	for idx := 0; idx < config.PoolSize; idx++ {
		instance, err := New(idx, config, logger)
		if err != nil {
			logger.Error("failed to create browser instance, terminating pool", zap.Int("instance_id", idx), zap.Error(err))
			for j := 0; j < idx; j++ {
				if pool.instances[j] != nil {
					pool.instances[j].Close()
				}
			}
			cancel()
			return nil, err
		}

		pool.instances[idx] = instance
		pool.available <- idx
		logger.Debug("browser instance created", zap.Int("instance_id", idx))
	}

	logger.Info("browser pool initialized", zap.Int("pool_size", config.PoolSize))
	return pool, nil
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		TotalInstances:     len(p.instances),
		AvailableInstances: len(p.available),
		ActiveInstances:    p.activeCount.Load(),
	}
}

// Acquire blocks until a slot is free, the pool is stopped, or ctx is
// cancelled, then returns a Handle. A dead instance is
// restarted transparently before being handed out.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	select {
	case <-p.ctx.Done():
		return Handle{}, ErrPoolShuttingDown
	default:
	}

	select {
	case idx := <-p.available:
		select {
		case <-p.ctx.Done():
			p.requeue(idx)
			return Handle{}, ErrPoolShuttingDown
		default:
		}

		instance := p.instances[idx]

		if !instance.IsAlive() {
			if err := instance.Restart(); err != nil {
				p.logger.Error("failed to restart dead instance", zap.Int("instance_id", idx), zap.Error(err))
				p.requeue(idx)
				return Handle{}, err
			}
			p.logger.Info("restarted dead instance", zap.Int("instance_id", idx))
		} else if instance.ShouldRestart() {
			if err := instance.Restart(); err != nil {
				p.logger.Warn("policy restart failed, continuing with existing instance", zap.Int("instance_id", idx), zap.Error(err))
			}
		}

		p.activeCount.Add(1)
		instance.SetStatus(StatusRendering)
		return Handle{Instance: instance, Index: idx}, nil

	case <-p.ctx.Done():
		return Handle{}, ErrPoolShuttingDown
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
}

func (p *Pool) requeue(idx int) {
	select {
	case p.available <- idx:
	default:
	}
}

// Release returns a handle's instance to the pool. The caller must have
// already closed every open session/context on the instance; Release only
// updates pool bookkeeping.
func (p *Pool) Release(h Handle) {
	if h.Instance == nil {
		return
	}

	p.activeCount.Add(-1)
	h.Instance.SetStatus(StatusIdle)
	h.Instance.IncrementRenders()

	select {
	case p.available <- h.Index:
	case <-p.ctx.Done():
		p.logger.Debug("discarding instance during shutdown", zap.Int("instance_id", h.Index))
	default:
		p.logger.Error("available queue full - possible double release", zap.Int("instance_id", h.Index))
	}
}

// Stop marks the pool as shutting down, so Acquire fails from then on,
// waits (up to ShutdownTimeout) for active handles to be released, and
// then terminates every instance, which cancels any session context still
// open on it. Open sessions are not cancelled before that wait.
func (p *Pool) Stop() error {
	p.cancel()

	deadline := time.Now().Add(p.config.ShutdownTimeout)
	for {
		if p.activeCount.Load() == 0 {
			break
		}
		if time.Now().After(deadline) {
			p.logger.Warn("shutdown timeout exceeded, forcing termination", zap.Int32("active", p.activeCount.Load()))
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	for idx, instance := range p.instances {
		if instance == nil {
			continue
		}
		if err := instance.Close(); err != nil {
			p.logger.Error("failed to close instance", zap.Int("instance_id", idx), zap.Error(err))
		}
	}

	p.logger.Info("browser pool stopped")
	return nil
}
