package model

import "time"

// BoundingBox is one labelled detection. Coordinates are fractions of the
// frame width and height in [0,1].
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Width returns the normalized box width.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the normalized box height.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// DetectionResult is what the detection service returns for one frame.
type DetectionResult struct {
	ImageID SequenceID    `json:"image_id"`
	Boxes   []BoundingBox `json:"boxes"`
}

// Labels returns the distinct labels of the result in first-seen order.
func (r DetectionResult) Labels() []string {
	seen := make(map[string]bool, len(r.Boxes))
	labels := make([]string, 0, len(r.Boxes))
	for _, box := range r.Boxes {
		if seen[box.Label] {
			continue
		}
		seen[box.Label] = true
		labels = append(labels, box.Label)
	}
	return labels
}

// Match is a persisted record of a frame matched to its detection result.
type Match struct {
	ID         int64         `json:"id"`
	Sequence   SequenceID    `json:"sequence"`
	FrameID    string        `json:"frame_id"`
	Camera     string        `json:"camera"`
	CapturedAt time.Time     `json:"captured_at"`
	MatchedAt  time.Time     `json:"matched_at"`
	Boxes      []BoundingBox `json:"boxes"`
}

// MatchFilter narrows match queries.
type MatchFilter struct {
	Camera string
	Label  string
	Since  time.Time
	Limit  int
	Offset int
}

// MatchStats summarizes the stored matches.
type MatchStats struct {
	TotalMatches    int            `json:"total_matches"`
	TotalDetections int            `json:"total_detections"`
	PerCamera       map[string]int `json:"per_camera"`
	LabelCounts     map[string]int `json:"label_counts"`
}
