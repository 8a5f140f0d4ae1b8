package handler

import (
	"bytes"
	"io"
	"net/http"

	"visionrelay/internal/logger"
)

// maxFrameBytes bounds one uploaded camera frame.
const maxFrameBytes = 8 << 20

// UploadFrameHandler accepts a JPEG posted by a camera that cannot stream
// UDP (POST /camera/upload?camera=name) and hands it to sink.
func UploadFrameHandler(sink FrameSink, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("camera")
		if camera == "" {
			http.Error(w, "Camera parameter is required", http.StatusBadRequest)
			return
		}
		if r.ContentLength == 0 {
			http.Error(w, "Invalid content length", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
		if err != nil {
			logger.Error("Error reading upload from camera %s: %v", camera, err)
			http.Error(w, "Error reading body", http.StatusBadRequest)
			return
		}
		if len(body) > maxFrameBytes {
			http.Error(w, "Frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		if !bytes.HasPrefix(body, jpegHeader) {
			http.Error(w, "Body is not a JPEG", http.StatusUnsupportedMediaType)
			return
		}

		logger.Debug("Read %d bytes from camera %s", len(body), camera)
		sink.HandleCameraImage(body, camera)
		w.WriteHeader(http.StatusAccepted)
	}
}
