package browserpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const healthCheckTimeout = 5 * time.Second

// Instance is a single long-lived Chrome process, acquired by exactly one
// scheduler worker for the worker's entire lifetime.
type Instance struct {
	id              int
	config          InstanceConfig
	logger          *zap.Logger
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	status          atomic.Int32
	renderCount     atomic.Int64
	createdAt       atomic.Int64
	mu              sync.RWMutex // protects context fields only
}

// New creates and starts a Chrome instance with the given ID.
func New(id int, cfg InstanceConfig, logger *zap.Logger) (*Instance, error) {
	instance := &Instance{id: id, config: cfg, logger: logger}
	instance.status.Store(int32(StatusIdle))

	allocCtx, allocCancel, browserCtx, browserCancel, err := instance.createBrowser()
	if err != nil {
		return nil, err
	}

	instance.createdAt.Store(time.Now().UnixNano())
	instance.allocatorCtx = allocCtx
	instance.allocatorCancel = allocCancel
	instance.browserCtx = browserCtx
	instance.browserCancel = browserCancel

	logger.Info("browser instance started", zap.Int("id", id), zap.Bool("headless", cfg.Headless))
	return instance, nil
}

func buildAllocatorOptions(cfg InstanceConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.WindowSize(DesktopWidth, DesktopHeight),
		chromedp.Flag("disk-cache-dir", "/dev/null"),
		chromedp.Flag("disk-cache-size", "1"),
		chromedp.DisableGPU,
	)

	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	return opts
}

// ID returns the instance identifier.
func (i *Instance) ID() int { return i.id }

// Status returns the current lifecycle state.
func (i *Instance) Status() InstanceStatus { return InstanceStatus(i.status.Load()) }

// SetStatus sets the lifecycle state.
func (i *Instance) SetStatus(status InstanceStatus) { i.status.Store(int32(status)) }

// RenderCount returns the number of times a handle on this instance was
// released back to the pool since the last restart.
func (i *Instance) RenderCount() int64 { return i.renderCount.Load() }

// IncrementRenders increments the render count by one.
func (i *Instance) IncrementRenders() { i.renderCount.Add(1) }

// CreatedAt returns when the current browser process started.
func (i *Instance) CreatedAt() time.Time { return time.Unix(0, i.createdAt.Load()) }

func (i *Instance) resetCounters() {
	i.renderCount.Store(0)
	i.createdAt.Store(time.Now().UnixNano())
}

// StealthSession is a fresh isolated browser context with an
// anti-automation user-agent and viewport applied. Cancel must be called exactly once to release the session's
// resources; it does not affect sibling sessions on the same Instance.
type StealthSession struct {
	Ctx    context.Context
	Cancel context.CancelFunc
}

// OpenStealthSession creates a new isolated tab context on the instance's
// browser and applies the anti-automation identity.
func (i *Instance) OpenStealthSession(mobile bool) (StealthSession, error) {
	i.mu.RLock()
	browserCtx := i.browserCtx
	i.mu.RUnlock()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)

	width, height := DesktopWidth, DesktopHeight
	if mobile {
		width, height = MobileWidth, MobileHeight
	}

	if err := chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(stealthUserAgent),
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1.0, mobile),
	); err != nil {
		tabCancel()
		return StealthSession{}, fmt.Errorf("open stealth session: %w", err)
	}

	return StealthSession{Ctx: tabCtx, Cancel: tabCancel}, nil
}

// IsAlive runs a CDP round-trip with a timeout to confirm the browser
// process is still responsive.
func (i *Instance) IsAlive() bool {
	status := i.Status()
	if status == StatusDead || status == StatusClosed {
		return false
	}

	i.mu.RLock()
	browserCtx := i.browserCtx
	i.mu.RUnlock()

	if browserCtx == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, _, _, _, err := browser.GetVersion().Do(ctx)
			return err
		}))
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

// Close shuts the instance down permanently.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.Status() == StatusClosed {
		return nil
	}
	i.SetStatus(StatusClosed)

	if i.browserCancel != nil {
		i.browserCancel()
	}
	if i.allocatorCancel != nil {
		i.allocatorCancel()
	}

	i.logger.Info("browser instance closed", zap.Int("id", i.id))
	return nil
}

// ShouldRestart reports whether the render-count or time-based restart
// policy has been crossed.
func (i *Instance) ShouldRestart() bool {
	if i.config.RestartAfterCount > 0 && i.RenderCount() >= int64(i.config.RestartAfterCount) {
		return true
	}
	if i.config.RestartAfterTime > 0 && time.Since(i.CreatedAt()) >= i.config.RestartAfterTime {
		return true
	}
	return false
}

// Restart replaces the underlying browser process using "make before
// break": the new process must start successfully before the old one is
// torn down, so a failed restart leaves the instance usable.
func (i *Instance) Restart() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.SetStatus(StatusRestarting)

	newAllocCtx, newAllocCancel, newBrowserCtx, newBrowserCancel, err := i.createBrowser()
	if err != nil {
		i.SetStatus(StatusIdle)
		i.logger.Warn("restart failed, continuing with existing browser", zap.Int("id", i.id), zap.Error(err))
		return fmt.Errorf("failed to restart browser: %w", err)
	}

	if i.browserCancel != nil {
		i.browserCancel()
	}
	if i.allocatorCancel != nil {
		i.allocatorCancel()
	}

	i.allocatorCtx = newAllocCtx
	i.allocatorCancel = newAllocCancel
	i.browserCtx = newBrowserCtx
	i.browserCancel = newBrowserCancel
	i.resetCounters()

	if err := i.warmup(); err != nil {
		i.logger.Warn("warmup failed during restart", zap.Int("id", i.id), zap.Error(err))
	}

	i.SetStatus(StatusIdle)
	i.logger.Info("browser instance restarted", zap.Int("id", i.id))
	return nil
}

func (i *Instance) createBrowser() (
	allocCtx context.Context,
	allocCancel context.CancelFunc,
	browserCtx context.Context,
	browserCancel context.CancelFunc,
	err error,
) {
	opts := buildAllocatorOptions(i.config)

	allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, browserCancel = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			i.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	if err = chromedp.Run(browserCtx, chromedp.Navigate("about:blank")); err != nil {
		allocCancel()
		return nil, nil, nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return allocCtx, allocCancel, browserCtx, browserCancel, nil
}

func (i *Instance) warmup() error {
	if i.config.WarmupURL == "" {
		return nil
	}

	timeout := i.config.Timeout
	if timeout == 0 {
		timeout = 25 * time.Second
	}

	ctx, cancel := context.WithTimeout(i.browserCtx, timeout)
	defer cancel()

	tabCtx, tabCancel := chromedp.NewContext(ctx)
	defer tabCancel()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(i.config.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation failed: %w", err)
	}
	return nil
}
