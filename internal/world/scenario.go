package world

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pathpilot/internal/geom"
)

// Scenario describes a simulated zone.
type Scenario struct {
	Zone      Zone        `yaml:"zone"`
	Town      Zone        `yaml:"town"`
	Bounds    geom.Rect   `yaml:"bounds"`
	Spawn     geom.Point  `yaml:"spawn"`
	Exit      geom.Rect   `yaml:"exit"`
	Obstacles []geom.Rect `yaml:"obstacles"`
	// Speed is in grid units per second.
	Speed  float64 `yaml:"speed"`
	Radius float64 `yaml:"radius"`
	// ReentryDelay is how long the agent stays outside the zone after
	// leaving through the exit.
	ReentryDelay time.Duration `yaml:"reentryDelay"`
	Viewport     geom.Rect     `yaml:"viewport"`
	// PixelsPerUnit is the camera zoom.
	PixelsPerUnit float64 `yaml:"pixelsPerUnit"`
}

// DefaultScenario is a walled zone with the exit in the far corner.
func DefaultScenario() Scenario {
	return Scenario{
		Zone:   Zone{ID: "aqueduct_1", Name: "The Aqueduct"},
		Town:   Zone{ID: "hideout", Name: "Hideout"},
		Bounds: geom.RectXYWH(0, 0, 2000, 1200),
		Spawn:  geom.Point{X: 100, Y: 600},
		Exit:   geom.RectXYWH(1880, 520, 100, 160),
		Obstacles: []geom.Rect{
			geom.RectXYWH(500, 0, 60, 800),
			geom.RectXYWH(1000, 400, 60, 800),
			geom.RectXYWH(1450, 0, 60, 700),
			geom.RectXYWH(250, 950, 400, 50),
		},
		Speed:         120,
		Radius:        8,
		ReentryDelay:  time.Second,
		Viewport:      geom.RectXYWH(0, 0, 1920, 1080),
		PixelsPerUnit: 0.15,
	}
}

// ParseScenario decodes YAML on top of DefaultScenario.
func ParseScenario(data []byte) (Scenario, error) {
	sc := DefaultScenario()
	sc.Obstacles = nil
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// Validate reports structural problems with the scenario.
func (sc Scenario) Validate() error {
	var errs []error
	if sc.Bounds.Empty() {
		errs = append(errs, errors.New("bounds must have area"))
	}
	if !sc.Bounds.Contains(sc.Spawn) {
		errs = append(errs, fmt.Errorf("spawn %+v outside bounds", sc.Spawn))
	}
	if sc.Exit.Empty() {
		errs = append(errs, errors.New("exit must have area"))
	}
	if sc.Speed <= 0 {
		errs = append(errs, errors.New("speed must be positive"))
	}
	if sc.Viewport.Empty() {
		errs = append(errs, errors.New("viewport must have area"))
	}
	if sc.PixelsPerUnit <= 0 {
		errs = append(errs, errors.New("pixelsPerUnit must be positive"))
	}
	if sc.Zone.ID == "" && sc.Zone.Name == "" {
		errs = append(errs, errors.New("zone needs an id or name"))
	}
	return errors.Join(errs...)
}
