package transport

import (
	"context"

	"visionrelay/internal/model"
)

// LocalBinding runs the in-process detector. It is always synchronous.
type LocalBinding struct {
	encoder  Encoder
	detector Detector
}

// NewLocalBinding pairs the wire encoder with an in-process detector.
func NewLocalBinding(encoder Encoder, detector Detector) *LocalBinding {
	return &LocalBinding{encoder: encoder, detector: detector}
}

// Local always reports true.
func (b *LocalBinding) Local() bool { return true }

// Send encodes the frame exactly as a remote call would and hands the bytes
// to the detector.
func (b *LocalBinding) Send(ctx context.Context, req Request) (model.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return model.DetectionResult{}, &TransportError{Op: "send", Endpoint: "local", Err: wrapTimeout(err)}
	}
	imageData, err := encodeFrame(b.encoder, req.Frame)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "encode", Endpoint: "local", Err: err}
	}
	boxes, err := b.detector.DetectObjects(imageData, req.Confidence)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "send", Endpoint: "local", Err: err}
	}
	return model.DetectionResult{ImageID: req.ID, Boxes: boxes}, nil
}
