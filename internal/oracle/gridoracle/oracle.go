// Package gridoracle is an in-process pathfinding oracle running A* over a
// rasterised zone. It stands in for the external oracle in simulations and
// can be served to remote bots through wsoracle.
package gridoracle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pathpilot/internal/geom"
	"pathpilot/internal/oracle"
)

// Locator reports where searches start.
type Locator interface {
	Position() (geom.Point, error)
}

// LocatorFunc adapts a function into a Locator.
type LocatorFunc func() (geom.Point, error)

// Position implements Locator.
func (f LocatorFunc) Position() (geom.Point, error) { return f() }

type Config struct {
	Bounds    geom.Rect
	Obstacles []geom.Rect
	// CellSize is the raster resolution in grid units.
	CellSize float64
	// Clearance is the minimum distance kept from obstacles and zone edges.
	Clearance float64
	// Latency delays every answer, simulating a remote service.
	Latency time.Duration
}

// Oracle answers each request on its own goroutine.
type Oracle struct {
	grid    *Grid
	locator Locator
	latency time.Duration

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ oracle.Oracle = (*Oracle)(nil)

// New builds the oracle. locator may be nil when every request carries an
// origin attached with oracle.WithOrigin.
func New(cfg Config, locator Locator) *Oracle {
	return &Oracle{
		grid:    NewGrid(cfg.Bounds, cfg.CellSize, cfg.Clearance, cfg.Obstacles),
		locator: locator,
		latency: cfg.Latency,
	}
}

// Grid exposes the raster the oracle searches.
func (o *Oracle) Grid() *Grid { return o.grid }

// Ready reports whether the oracle accepts requests.
func (o *Oracle) Ready() bool { return !o.closed.Load() }

// RequestPath implements oracle.Oracle.
func (o *Oracle) RequestPath(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint)) {
	o.mu.Lock()
	if o.closed.Load() {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if o.latency > 0 {
			timer := time.NewTimer(o.latency)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		start, ok := oracle.OriginFrom(ctx)
		if !ok {
			if o.locator == nil {
				onResult(nil)
				return
			}
			var err error
			if start, err = o.locator.Position(); err != nil {
				onResult(nil)
				return
			}
		}
		waypoints, err := o.grid.FindPath(ctx, start, target)
		if err != nil {
			return
		}
		onResult(waypoints)
	}()
}

// Close stops accepting requests and waits for running searches.
func (o *Oracle) Close() {
	o.mu.Lock()
	o.closed.Store(true)
	o.mu.Unlock()
	o.wg.Wait()
}
