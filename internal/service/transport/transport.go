package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strconv"

	"visionrelay/internal/model"
)

// Request is one frame on its way to the detection service. ID is ignored by
// local transports.
type Request struct {
	ID         model.SequenceID
	Frame      *model.Frame
	Confidence float64
}

// Encoder compresses a frame into the lossy wire image format.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Detector runs object detection on an encoded image.
type Detector interface {
	DetectObjects(imageData []byte, confidence float64) ([]model.BoundingBox, error)
}

// requestConfig is the json_data document sent next to the image.
type requestConfig struct {
	UserName   string  `json:"user_name"`
	StreamMode bool    `json:"stream_mode"`
	ImageID    uint64  `json:"image_id"`
	Confidence float64 `json:"conf"`
}

func newRequestConfig(req Request) requestConfig {
	return requestConfig{
		UserName:   "yolo",
		StreamMode: true,
		ImageID:    uint64(req.ID),
		Confidence: req.Confidence,
	}
}

// number accepts both JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type wireBox struct {
	X1 number `json:"x1"`
	Y1 number `json:"y1"`
	X2 number `json:"x2"`
	Y2 number `json:"y2"`
}

type wireDetection struct {
	Name       string  `json:"name"`
	Confidence number  `json:"confidence"`
	Box        wireBox `json:"box"`
}

type wireResult struct {
	ImageID *int64          `json:"image_id,omitempty"`
	Result  []wireDetection `json:"result"`
}

var errMissingImageID = errors.New("missing image_id")

// decodeResult parses a result document. Sequenced calls need the image_id to
// correlate the answer, so its absence is a decode failure for them.
func decodeResult(body []byte, sequenced bool) (model.DetectionResult, error) {
	var wr wireResult
	if err := json.Unmarshal(body, &wr); err != nil {
		return model.DetectionResult{}, &DecodeError{Body: body, Err: err}
	}

	var result model.DetectionResult
	switch {
	case wr.ImageID != nil && *wr.ImageID < 0:
		return model.DetectionResult{}, &DecodeError{Body: body, Err: fmt.Errorf("negative image_id %d", *wr.ImageID)}
	case wr.ImageID != nil:
		result.ImageID = model.SequenceID(*wr.ImageID)
	case sequenced:
		return model.DetectionResult{}, &DecodeError{Body: body, Err: errMissingImageID}
	}

	result.Boxes = make([]model.BoundingBox, 0, len(wr.Result))
	for _, d := range wr.Result {
		result.Boxes = append(result.Boxes, model.BoundingBox{
			X1:         float64(d.Box.X1),
			Y1:         float64(d.Box.Y1),
			X2:         float64(d.Box.X2),
			Y2:         float64(d.Box.Y2),
			Label:      d.Name,
			Confidence: float64(d.Confidence),
		})
	}
	return result, nil
}

// encodeResult renders a result document the way the detection service does.
func encodeResult(result model.DetectionResult) ([]byte, error) {
	id := int64(result.ImageID)
	wr := wireResult{ImageID: &id, Result: make([]wireDetection, 0, len(result.Boxes))}
	for _, b := range result.Boxes {
		wr.Result = append(wr.Result, wireDetection{
			Name:       b.Label,
			Confidence: number(b.Confidence),
			Box:        wireBox{X1: number(b.X1), Y1: number(b.Y1), X2: number(b.X2), Y2: number(b.Y2)},
		})
	}
	return json.Marshal(wr)
}

func encodeFrame(enc Encoder, frame *model.Frame) ([]byte, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrNoImage
	}
	data, err := enc.Encode(frame.Image)
	if err != nil {
		return nil, err
	}
	return data, nil
}
