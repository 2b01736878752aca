// Package health runs readiness checks over the daemon's dependencies:
// the settings database and the browser bridge.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status of a single dependency.
type Status string

const (
	StatusOK   Status = "ok"
	StatusDown Status = "down"
)

const checkTimeout = 5 * time.Second

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) Status

// Checker holds the registered checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	logger zerolog.Logger
}

// NewChecker creates an empty Checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named check. Later registrations with the same name
// replace earlier ones.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll probes every dependency concurrently, each under its own timeout.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			status := fn(checkCtx)
			if status != StatusOK {
				c.logger.Warn().Str("check", name).Str("status", string(status)).Msg("dependency unhealthy")
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()
	return results
}

// IsReady reports whether every dependency is up.
func (c *Checker) IsReady(ctx context.Context) bool {
	for _, status := range c.RunAll(ctx) {
		if status == StatusDown {
			return false
		}
	}
	return true
}

// Pinger is the slice of the storage layer the database check needs.
type Pinger interface {
	Ping() error
}

// DatabaseCheck probes the settings database.
func DatabaseCheck(db Pinger) CheckFunc {
	return func(_ context.Context) Status {
		if err := db.Ping(); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// ConnectedFunc reports whether the browser extension is attached.
type ConnectedFunc func() bool

// BridgeCheck probes the extension connection.
func BridgeCheck(connected ConnectedFunc) CheckFunc {
	return func(_ context.Context) Status {
		if !connected() {
			return StatusDown
		}
		return StatusOK
	}
}
