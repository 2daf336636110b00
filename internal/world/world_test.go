package world

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathpilot/internal/geom"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestZoneMatches(t *testing.T) {
	z := Zone{ID: "1_2_aqueduct", Name: "The Aqueduct"}
	assert.True(t, z.Matches("aqueduct"))
	assert.True(t, z.Matches("AQUEDUCT"))
	assert.True(t, z.Matches("1_2"))
	assert.False(t, z.Matches("hideout"))
	assert.False(t, z.Matches(" "))
}

func TestCameraRoundTrip(t *testing.T) {
	cam := Camera{Viewport: geom.RectXYWH(0, 0, 1920, 1080), PixelsPerUnit: 0.15}
	focus := geom.Point{X: 400, Y: 300}

	assert.Equal(t, geom.Point{X: 960, Y: 540}, cam.Project(focus, focus))

	p := geom.Point{X: 500, Y: 250}
	surface := cam.Project(focus, p)
	assert.InDelta(t, 960+100*GridToWorld*0.15, surface.X, 1e-9)
	back := cam.Unproject(focus, surface)
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestSimWalksToClick(t *testing.T) {
	sc := DefaultScenario()
	sim := NewSim(sc)
	ctx := context.Background()

	target := geom.Point{X: 200, Y: 600}
	surface, err := sim.ProjectToSurface(target)
	require.NoError(t, err)
	require.NoError(t, sim.MoveAndClick(ctx, surface))

	now := epoch
	for i := 0; i < 100; i++ {
		now = now.Add(20 * time.Millisecond)
		sim.Step(now, 20*time.Millisecond)
	}
	pos, err := sim.Position()
	require.NoError(t, err)
	assert.InDelta(t, target.X, pos.X, 0.5)
	assert.InDelta(t, target.Y, pos.Y, 0.5)
}

func TestSimStopsAtWall(t *testing.T) {
	sc := DefaultScenario()
	sim := NewSim(sc)
	sim.Teleport(geom.Point{X: 400, Y: 300})

	surface, _ := sim.ProjectToSurface(geom.Point{X: 700, Y: 300})
	require.NoError(t, sim.MoveAndClick(context.Background(), surface))
	now := epoch
	for i := 0; i < 200; i++ {
		now = now.Add(20 * time.Millisecond)
		sim.Step(now, 20*time.Millisecond)
	}
	pos, _ := sim.Position()
	assert.InDelta(t, 500-sc.Radius, pos.X, 1e-6, "blocked by the first wall")
}

func TestSimKeyboardMovement(t *testing.T) {
	sim := NewSim(DefaultScenario())
	ctx := context.Background()

	surface, _ := sim.ProjectToSurface(geom.Point{X: 150, Y: 600})
	require.NoError(t, sim.MovePointer(ctx, surface))
	sim.Step(epoch, time.Second)
	pos, _ := sim.Position()
	assert.Equal(t, geom.Point{X: 100, Y: 600}, pos, "pointer alone does not move")

	require.NoError(t, sim.PressKey(ctx, "T"))
	sim.Step(epoch.Add(time.Second), time.Second)
	pos, _ = sim.Position()
	assert.InDelta(t, 150, pos.X, 0.5)
}

func TestSimExitAndReentry(t *testing.T) {
	sc := DefaultScenario()
	sim := NewSim(sc)
	sim.Teleport(geom.Point{X: 1860, Y: 600})

	assert.True(t, sim.Zone().Matches("aqueduct"))
	surface, _ := sim.ProjectToSurface(geom.Point{X: 1920, Y: 600})
	require.NoError(t, sim.MoveAndClick(context.Background(), surface))
	sim.Step(epoch, time.Second)

	assert.Equal(t, sc.Town, sim.Zone())
	_, inZone := sim.ZoneBounds()
	assert.False(t, inZone)
	exits, clicks, _ := sim.Stats()
	assert.Equal(t, 1, exits)
	assert.Equal(t, 1, clicks)

	sim.Step(epoch.Add(500*time.Millisecond), 20*time.Millisecond)
	assert.Equal(t, sc.Town, sim.Zone())

	sim.Step(epoch.Add(sc.ReentryDelay), 20*time.Millisecond)
	assert.Equal(t, sc.Zone, sim.Zone())
	pos, _ := sim.Position()
	assert.Equal(t, sc.Spawn, pos)
}

func TestRunStopsWithContext(t *testing.T) {
	sim := NewSim(DefaultScenario())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, sim.Run(ctx, 5*time.Millisecond))
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	data := []byte(`
zone:
  id: aqueduct_2
  name: Lower Aqueduct
bounds: {minX: 0, minY: 0, maxX: 800, maxY: 600}
spawn: {x: 50, y: 50}
exit: {minX: 760, minY: 560, maxX: 800, maxY: 600}
obstacles:
  - {minX: 300, minY: 0, maxX: 320, maxY: 400}
speed: 90
reentryDelay: 250ms
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "Lower Aqueduct", sc.Zone.Name)
	assert.Equal(t, geom.Point{X: 50, Y: 50}, sc.Spawn)
	assert.Len(t, sc.Obstacles, 1)
	assert.Equal(t, 90.0, sc.Speed)
	assert.Equal(t, 250*time.Millisecond, sc.ReentryDelay)
	assert.Equal(t, DefaultScenario().Viewport, sc.Viewport, "unset fields keep defaults")
}

func TestParseScenarioRejectsInvalid(t *testing.T) {
	_, err := ParseScenario([]byte("spawn: {x: -10, y: 5}\nspeed: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn")
	assert.Contains(t, err.Error(), "speed")

	_, err = ParseScenario([]byte("bounds: [1, 2"))
	assert.Error(t, err)
}
