// Package dto holds the JSON payloads served by the inspection API.
package dto

import (
	"time"

	"visionrelay/internal/model"
)

// MatchesData is a paginated response payload for stored matches.
type MatchesData struct {
	Matches     []model.Match `json:"matches"`
	Length      int           `json:"length"`
	CurrentPage int           `json:"currentPage"`
	Limit       int           `json:"pageSize"`
}

// LatestData describes the most recent matched pair.
type LatestData struct {
	Sequence   model.SequenceID    `json:"sequence"`
	FrameID    string              `json:"frame_id"`
	Camera     string              `json:"camera"`
	CapturedAt time.Time           `json:"captured_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Width      int                 `json:"width"`
	Height     int                 `json:"height"`
	Labels     []string            `json:"labels"`
	Detections []model.BoundingBox `json:"detections"`
}

// EngineStatus reports the correlation engine state.
type EngineStatus struct {
	NextID    model.SequenceID   `json:"next_id"`
	InFlight  []model.SequenceID `json:"in_flight"`
	Depth     int                `json:"depth"`
	Local     bool               `json:"local"`
	Transport string             `json:"transport"`
	Viewers   int                `json:"viewers"`
}
