package gridoracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pathpilot/internal/geom"
	"pathpilot/internal/oracle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixedLocator(p geom.Point) Locator {
	return LocatorFunc(func() (geom.Point, error) { return p, nil })
}

func TestFindPathAroundWall(t *testing.T) {
	bounds := geom.RectXYWH(0, 0, 200, 200)
	wall := geom.RectXYWH(90, 0, 20, 160)
	grid := NewGrid(bounds, 10, 5, []geom.Rect{wall})

	path, err := grid.FindPath(context.Background(), geom.Point{X: 20, Y: 20}, geom.Point{X: 180, Y: 20})
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, geom.Waypoint{X: 20, Y: 20}, path[0])
	assert.Equal(t, geom.Waypoint{X: 180, Y: 20}, path[len(path)-1])

	for _, wp := range path {
		assert.False(t, wall.Contains(wp.Point()), "waypoint %+v inside wall", wp)
	}
	lowest := 0
	for _, wp := range path {
		if wp.Y > lowest {
			lowest = wp.Y
		}
	}
	assert.Greater(t, lowest, 160, "path must detour below the wall")
}

func TestFindPathUnreachableGoal(t *testing.T) {
	bounds := geom.RectXYWH(0, 0, 100, 100)
	block := geom.RectXYWH(40, 40, 20, 20)
	grid := NewGrid(bounds, 10, 2, []geom.Rect{block})

	path, err := grid.FindPath(context.Background(), geom.Point{X: 10, Y: 10}, geom.Point{X: 50, Y: 50})
	require.NoError(t, err)
	assert.Nil(t, path)

	path, err = grid.FindPath(context.Background(), geom.Point{X: 10, Y: 10}, geom.Point{X: 500, Y: 500})
	require.NoError(t, err)
	assert.NotNil(t, path, "out of bounds targets clamp to the nearest cell")
}

func TestFindPathHonoursCancellation(t *testing.T) {
	grid := NewGrid(geom.RectXYWH(0, 0, 1000, 1000), 1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path, err := grid.FindPath(ctx, geom.Point{X: 1, Y: 1}, geom.Point{X: 999, Y: 999})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, path)
}

func TestOracleAnswersAsynchronously(t *testing.T) {
	o := New(Config{Bounds: geom.RectXYWH(0, 0, 100, 100), CellSize: 10}, fixedLocator(geom.Point{X: 5, Y: 5}))
	defer o.Close()

	got := make(chan []geom.Waypoint, 1)
	o.RequestPath(context.Background(), geom.Point{X: 95, Y: 95}, func(wps []geom.Waypoint) { got <- wps })

	select {
	case wps := <-got:
		require.NotEmpty(t, wps)
		assert.Equal(t, geom.Waypoint{X: 95, Y: 95}, wps[len(wps)-1])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for path")
	}
}

func TestOracleCancelledDuringLatency(t *testing.T) {
	o := New(Config{Bounds: geom.RectXYWH(0, 0, 100, 100), CellSize: 10, Latency: time.Hour}, fixedLocator(geom.Point{X: 5, Y: 5}))
	ctx, cancel := context.WithCancel(context.Background())
	o.RequestPath(ctx, geom.Point{X: 50, Y: 50}, func([]geom.Waypoint) {
		t.Error("cancelled request must not answer")
	})
	cancel()
	o.Close()
	assert.False(t, o.Ready())
}

func TestOraclePrefersRequestOrigin(t *testing.T) {
	o := New(Config{Bounds: geom.RectXYWH(0, 0, 100, 100), CellSize: 10}, nil)
	defer o.Close()

	got := make(chan []geom.Waypoint, 2)
	o.RequestPath(context.Background(), geom.Point{X: 95, Y: 95}, func(wps []geom.Waypoint) { got <- wps })
	select {
	case wps := <-got:
		assert.Empty(t, wps, "no locator and no origin")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for empty answer")
	}

	ctx := oracle.WithOrigin(context.Background(), geom.Point{X: 55, Y: 5})
	o.RequestPath(ctx, geom.Point{X: 95, Y: 95}, func(wps []geom.Waypoint) { got <- wps })
	select {
	case wps := <-got:
		require.NotEmpty(t, wps)
		assert.Equal(t, geom.Waypoint{X: 55, Y: 5}, wps[0])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for path")
	}
}
