// Package browserpool implements the Browser Pool: a fixed
// set of isolated browser handles, each capable of producing a stealth
// session, with blocking acquire/release and safe context teardown. Ported
// from the teacher's chrome.ChromePool/chrome.Instance (internal/chrome/pool.go,
// internal/chrome/instance.go) and generalized from single-shot page
// rendering to long-lived analytics-validation sessions.
package browserpool

import "time"

// InstanceStatus is the lifecycle state of a single pool handle.
type InstanceStatus int32

const (
	StatusIdle InstanceStatus = iota
	StatusRendering
	StatusRestarting
	StatusDead
	StatusClosed
)

func (s InstanceStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRendering:
		return "rendering"
	case StatusRestarting:
		return "restarting"
	case StatusDead:
		return "dead"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Desktop and mobile viewport dimensions used by stealth sessions.
const (
	DesktopWidth  = 1920
	DesktopHeight = 1080
	MobileWidth   = 390
	MobileHeight  = 844
)

// stealthUserAgent is the anti-automation user-agent string applied to
// every stealth session so target sites don't fingerprint the headless
// browser as a bot.
const stealthUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// InstanceConfig configures a single pool handle and, via PoolSize, the
// pool itself.
type InstanceConfig struct {
	PoolSize          int
	ExecutablePath    string
	Headless          bool
	NoSandbox         bool
	WarmupURL         string
	Timeout           time.Duration
	RestartAfterCount int
	RestartAfterTime  time.Duration
	ShutdownTimeout   time.Duration
}
