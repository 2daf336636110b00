package acquire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathpilot/internal/geom"
	"pathpilot/internal/nav"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// straightPath returns n waypoints one unit apart heading east from x0.
func straightPath(x0, n int, acceptedAt time.Time) *nav.Path {
	wps := make([]geom.Waypoint, n)
	for i := range wps {
		wps[i] = geom.Waypoint{X: x0 + i, Y: 0}
	}
	return nav.NewPath(wps, acceptedAt, "test")
}

func TestScore(t *testing.T) {
	path := straightPath(0, 51, epoch)
	assert.Equal(t, 0.5, Score(path, nil), "neutral without spawn")

	spawn := geom.Point{}
	// 0.5 + 50/200 + min(51/500, 0.2)
	assert.InDelta(t, 0.5+0.25+0.102, Score(path, &spawn), 1e-9)

	far := straightPath(0, 400, epoch)
	assert.Equal(t, 1.0, Score(far, &spawn), "clamped to one")

	back := nav.NewPath([]geom.Waypoint{{X: 300}, {X: 0}}, epoch, "back")
	assert.Equal(t, 0.0, Score(back, &spawn), "clamped to zero")
}

func TestEvaluateRules(t *testing.T) {
	policy := NewPolicy(PolicyConfig{
		StabilityGrace: 2 * time.Second,
		Staleness:      30 * time.Second,
		Margin:         0.15,
		ShorterRatio:   0.7,
	})
	spawn := geom.Point{}

	cases := []struct {
		name      string
		current   *nav.Path
		candidate *nav.Path
		now       time.Time
		accept    bool
		reason    string
	}{
		{
			name:      "no current path",
			candidate: straightPath(0, 5, epoch),
			now:       epoch,
			accept:    true,
			reason:    ReasonNoCurrentPath,
		},
		{
			name:      "empty candidate",
			current:   straightPath(0, 5, epoch),
			candidate: nil,
			now:       epoch.Add(10 * time.Second),
			reason:    ReasonEmpty,
		},
		{
			name:      "stale current path",
			current:   straightPath(0, 5, epoch),
			candidate: straightPath(0, 5, epoch),
			now:       epoch.Add(31 * time.Second),
			accept:    true,
			reason:    ReasonStale,
		},
		{
			name:      "better candidate inside grace window",
			current:   straightPath(0, 5, epoch),
			candidate: straightPath(0, 200, epoch),
			now:       epoch.Add(time.Second),
			reason:    ReasonGrace,
		},
		{
			name:      "better candidate after grace window",
			current:   straightPath(0, 5, epoch),
			candidate: straightPath(0, 200, epoch),
			now:       epoch.Add(3 * time.Second),
			accept:    true,
			reason:    ReasonBetterScore,
		},
		{
			name:      "similar and much shorter",
			current:   straightPath(0, 40, epoch),
			candidate: straightPath(15, 25, epoch),
			now:       epoch.Add(3 * time.Second),
			accept:    true,
			reason:    ReasonShorter,
		},
		{
			name:      "similar and not shorter",
			current:   straightPath(0, 40, epoch),
			candidate: straightPath(0, 35, epoch),
			now:       epoch.Add(3 * time.Second),
			reason:    ReasonNotBetter,
		},
		{
			name:      "worse candidate",
			current:   straightPath(0, 100, epoch),
			candidate: nav.NewPath([]geom.Waypoint{{X: 50}, {X: 0}}, epoch, "back"),
			now:       epoch.Add(3 * time.Second),
			reason:    ReasonNotBetter,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := policy.Evaluate(tc.current, tc.candidate, &spawn, tc.now)
			assert.Equal(t, tc.accept, d.Accept)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestShorterRuleScoresWithinMargin(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig())
	spawn := geom.Point{}
	current := straightPath(0, 40, epoch)
	candidate := straightPath(15, 25, epoch)

	d := policy.Evaluate(current, candidate, &spawn, epoch.Add(time.Minute/4))
	require.True(t, d.Scored)
	assert.LessOrEqual(t, d.Score-d.CurrentScore, 0.15)
	assert.GreaterOrEqual(t, d.Score-d.CurrentScore, -0.15)
	assert.Equal(t, ReasonShorter, d.Reason)
}

func TestGraceLawSameDeltaAcceptedOnceWindowElapses(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig())
	spawn := geom.Point{}
	current := straightPath(0, 5, epoch)
	candidate := straightPath(0, 200, epoch)

	inside := policy.Evaluate(current, candidate, &spawn, epoch.Add(1999*time.Millisecond))
	after := policy.Evaluate(current, candidate, &spawn, epoch.Add(2*time.Second))

	assert.False(t, inside.Accept)
	assert.Equal(t, ReasonGrace, inside.Reason)
	assert.True(t, after.Accept)
	assert.Equal(t, ReasonBetterScore, after.Reason)
}

func TestNeutralScoresWithoutSpawn(t *testing.T) {
	policy := NewPolicy(DefaultPolicyConfig())
	current := straightPath(0, 40, epoch)

	longer := policy.Evaluate(current, straightPath(0, 200, epoch), nil, epoch.Add(5*time.Second))
	assert.False(t, longer.Accept)
	assert.Equal(t, 0.5, longer.Score)
	assert.Equal(t, 0.5, longer.CurrentScore)

	shorter := policy.Evaluate(current, straightPath(0, 10, epoch), nil, epoch.Add(5*time.Second))
	assert.True(t, shorter.Accept)
	assert.Equal(t, ReasonShorter, shorter.Reason)
}
