package handler

import (
	"image"
	"net/http"
	"strconv"

	"visionrelay/internal/dto"
	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/service/slot"
)

// Annotator renders boxes onto a frame and returns a JPEG.
type Annotator func(img image.Image, boxes []model.BoundingBox) ([]byte, error)

// LatestHandler returns the metadata of the most recent matched pair, or
// 204 when nothing has been matched yet.
func LatestHandler(latest *slot.LatestResult, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := latest.Get()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		data := dto.LatestData{
			Sequence:   snap.Result.ImageID,
			UpdatedAt:  snap.UpdatedAt,
			Labels:     snap.Result.Labels(),
			Detections: snap.Result.Boxes,
		}
		if snap.Frame != nil {
			bounds := snap.Frame.Bounds()
			data.FrameID = snap.Frame.ID.String()
			data.Camera = snap.Frame.Camera
			data.CapturedAt = snap.Frame.CapturedAt
			data.Width = bounds.Dx()
			data.Height = bounds.Dy()
		}
		if data.Detections == nil {
			data.Detections = []model.BoundingBox{}
		}
		writeJSON(w, logger, http.StatusOK, data)
	}
}

// LatestImageHandler serves the most recent matched frame with its boxes drawn.
func LatestImageHandler(latest *slot.LatestResult, annotate Annotator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := latest.Get()
		if !ok || snap.Frame == nil || snap.Frame.Image == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		jpeg, err := annotate(snap.Frame.Image, snap.Result.Boxes)
		if err != nil {
			logger.Error("Error annotating frame %d: %v", snap.Result.ImageID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Sequence-Id", strconv.FormatUint(uint64(snap.Result.ImageID), 10))
		w.Write(jpeg)
	}
}
