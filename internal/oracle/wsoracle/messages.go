// Package wsoracle carries oracle path requests over a websocket connection.
package wsoracle

import "pathpilot/internal/geom"

// Message type identifiers.
const (
	TypePath   = "path"
	TypeCancel = "cancel"
	TypeResult = "result"
	TypePing   = "ping"
	TypePong   = "pong"
)

type message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	X    float64         `json:"x"`
	Y    float64         `json:"y"`
	From *pointFrame     `json:"from,omitempty"`
	Path []waypointFrame `json:"path,omitempty"`
}

// pointFrame is the agent position a path request is planned from.
type pointFrame struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type waypointFrame struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func encodePath(waypoints []geom.Waypoint) []waypointFrame {
	if len(waypoints) == 0 {
		return nil
	}
	frames := make([]waypointFrame, len(waypoints))
	for i, wp := range waypoints {
		frames[i] = waypointFrame{X: wp.X, Y: wp.Y}
	}
	return frames
}

func decodePath(frames []waypointFrame) []geom.Waypoint {
	if len(frames) == 0 {
		return nil
	}
	waypoints := make([]geom.Waypoint, len(frames))
	for i, f := range frames {
		waypoints[i] = geom.Waypoint{X: f.X, Y: f.Y}
	}
	return waypoints
}
