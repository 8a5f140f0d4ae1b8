package ai

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"visionrelay/internal/config"
	"visionrelay/internal/logger"
	"visionrelay/internal/model"

	"gocv.io/x/gocv"
)

// ErrNetUnavailable is returned while the detection network is not loaded.
var ErrNetUnavailable = errors.New("detection network not initialized")

// CameraState holds motion detection state for a single camera.
type CameraState struct {
	previousMat gocv.Mat
	hasPrevious bool
	mutex       sync.Mutex
}

// DetectorService runs the SSD MobileNet network in-process and keeps
// per-camera motion state.
type DetectorService struct {
	cameraStates    map[string]*CameraState
	statesMutex     sync.RWMutex
	net             gocv.Net
	netMutex        sync.Mutex
	ready           bool
	modelPath       string
	configPath      string
	motionThreshold int
	logger          *logger.Logger
}

// NewDetectorService creates a detector with model/config paths and a logger.
// A missing model is logged and leaves the service able to detect motion only.
func NewDetectorService(cfg *config.Config, log *logger.Logger) *DetectorService {
	service := &DetectorService{
		cameraStates:    make(map[string]*CameraState),
		modelPath:       cfg.ModelPath,
		configPath:      cfg.ConfigPath,
		motionThreshold: cfg.MotionThreshold,
		logger:          log.Named("detector"),
	}

	if err := service.initializeNet(); err != nil {
		service.logger.Warning("Could not initialize detection network: %v", err)
	}
	return service
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return fmt.Errorf("failed to set preferable target: %w", err)
	}

	s.net = net
	s.ready = true
	s.logger.Info("Detection network initialized from %s", s.modelPath)
	return nil
}

// Ready reports whether object detection is available.
func (s *DetectorService) Ready() bool {
	return s.ready
}

// Close releases the network and all motion state.
func (s *DetectorService) Close() error {
	s.statesMutex.Lock()
	for _, state := range s.cameraStates {
		state.mutex.Lock()
		if state.hasPrevious {
			state.previousMat.Close()
			state.hasPrevious = false
		}
		state.mutex.Unlock()
	}
	s.statesMutex.Unlock()

	s.netMutex.Lock()
	defer s.netMutex.Unlock()
	if s.ready {
		s.ready = false
		return s.net.Close()
	}
	return nil
}

func (s *DetectorService) getCameraState(cameraID string) *CameraState {
	s.statesMutex.RLock()
	state, exists := s.cameraStates[cameraID]
	s.statesMutex.RUnlock()
	if exists {
		return state
	}

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	if state, exists := s.cameraStates[cameraID]; exists {
		return state
	}
	state = &CameraState{}
	s.cameraStates[cameraID] = state
	s.logger.Info("Created motion detection state for camera: %s", cameraID)
	return state
}

// DetectMotion compares the frame with the previous one from the same camera
// and reports whether more than the configured number of pixels changed.
func (s *DetectorService) DetectMotion(frame *model.Frame) (bool, error) {
	state := s.getCameraState(frame.Camera)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return false, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return false, fmt.Errorf("frame image is empty")
	}

	if !state.hasPrevious || state.previousMat.Rows() != mat.Rows() || state.previousMat.Cols() != mat.Cols() {
		if state.hasPrevious {
			state.previousMat.Close()
		}
		state.previousMat = mat.Clone()
		state.hasPrevious = true
		return false, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(state.previousMat, mat, &diff); err != nil {
		return false, fmt.Errorf("failed to compute absolute difference: %w", err)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray); err != nil {
		return false, fmt.Errorf("failed to convert image to grayscale: %w", err)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 30, 255, gocv.ThresholdBinary)

	nonZeroPixels := gocv.CountNonZero(thresh)

	state.previousMat.Close()
	state.previousMat = mat.Clone()

	motionDetected := nonZeroPixels > s.motionThreshold
	if motionDetected {
		s.logger.Debug("Motion detected on %s: %d pixels changed", frame.Camera, nonZeroPixels)
	}
	return motionDetected, nil
}

// DetectObjects runs the network on an encoded image and returns the boxes
// scoring above confidence, normalized to [0,1].
func (s *DetectorService) DetectObjects(imageBytes []byte, confidence float64) ([]model.BoundingBox, error) {
	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	// SSD COCO input: 300x300, scaled to [-1,1], RGB.
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.netMutex.Lock()
	if !s.ready {
		s.netMutex.Unlock()
		return nil, ErrNetUnavailable
	}
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	s.netMutex.Unlock()
	defer output.Close()

	// Rows: [batch_id, class_id, confidence, x1, y1, x2, y2]
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	boxes := make([]model.BoundingBox, 0)
	for i := 0; i < rows.Rows(); i++ {
		score := float64(rows.GetFloatAt(i, 2))
		if score < confidence {
			continue
		}
		boxes = append(boxes, model.BoundingBox{
			X1:         clamp(rows.GetFloatAt(i, 3)),
			Y1:         clamp(rows.GetFloatAt(i, 4)),
			X2:         clamp(rows.GetFloatAt(i, 5)),
			Y2:         clamp(rows.GetFloatAt(i, 6)),
			Label:      ClassLabel(int(rows.GetFloatAt(i, 1))),
			Confidence: score,
		})
	}
	s.logger.Debug("Detected %d object(s)", len(boxes))
	return boxes, nil
}

func clamp(v float32) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return float64(v)
	}
}
