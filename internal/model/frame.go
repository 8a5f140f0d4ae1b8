package model

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// SequenceID identifies a frame's position in dispatch order. Ids start at 0
// and grow by one per dispatched frame.
type SequenceID uint64

// Frame is a captured raster image plus acquisition metadata.
// A Frame is never mutated after NewFrame returns.
type Frame struct {
	ID         uuid.UUID   `json:"id"`
	Camera     string      `json:"camera"`
	CapturedAt time.Time   `json:"captured_at"`
	Image      image.Image `json:"-"`
}

// NewFrame wraps img with a fresh identifier and the current capture time.
func NewFrame(camera string, img image.Image) *Frame {
	return &Frame{
		ID:         uuid.New(),
		Camera:     camera,
		CapturedAt: time.Now(),
		Image:      img,
	}
}

// Bounds returns the frame's pixel rectangle, or an empty rectangle when the
// frame carries no image.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// FrameEnvelope pairs a dispatched frame with the sequence id it was sent under.
type FrameEnvelope struct {
	ID    SequenceID
	Frame *Frame
}
