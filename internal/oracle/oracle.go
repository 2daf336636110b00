// Package oracle relays path requests to an external pathfinding service and
// funnels its asynchronous answers into a queue drained by the tick loop.
//
// Oracle callbacks run on arbitrary goroutines. They never touch navigation
// state; they only push a Result that the tick loop evaluates serially.
package oracle

import (
	"context"
	"errors"
	"time"

	"pathpilot/internal/geom"
)

var (
	// ErrUnavailable reports that the oracle cannot currently serve requests.
	ErrUnavailable = errors.New("oracle: unavailable")
	// ErrClosed reports use of a closed client or transport.
	ErrClosed = errors.New("oracle: closed")
)

// Oracle is an asynchronous pathfinding service. RequestPath must return
// without blocking on the search and invokes onResult at most once, at any
// later time, from any goroutine. A nil or empty slice means no path was
// found. Once ctx is done the oracle should abandon the request.
type Oracle interface {
	RequestPath(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint))
	Ready() bool
}

// Connector is implemented by oracles that need an explicit (re)connect.
type Connector interface {
	Connect(ctx context.Context) error
}

// Func adapts a function into an always-ready Oracle.
type Func func(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint))

// RequestPath implements Oracle.
func (f Func) RequestPath(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint)) {
	f(ctx, target, onResult)
}

// Ready implements Oracle.
func (Func) Ready() bool { return true }

type originKey struct{}

// WithOrigin attaches the position a request should be planned from. Oracles
// that cannot observe the agent themselves, such as a remote server, use it
// instead of their own locator.
func WithOrigin(ctx context.Context, origin geom.Point) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached with WithOrigin.
func OriginFrom(ctx context.Context) (geom.Point, bool) {
	origin, ok := ctx.Value(originKey{}).(geom.Point)
	return origin, ok
}

// CandidateRequest is a single probe goal dispatched to the oracle. The
// cancellation token is the context of the round it belongs to.
type CandidateRequest struct {
	Target    geom.Point
	Rationale string
	RequestID string
}

// Result is a tagged oracle answer waiting to be applied by the tick loop.
type Result struct {
	RoundID    string
	RequestID  string
	Rationale  string
	Target     geom.Point
	Waypoints  []geom.Waypoint
	ReceivedAt time.Time
}

// Found reports whether the oracle returned a usable path.
func (r Result) Found() bool {
	return len(r.Waypoints) > 0
}
