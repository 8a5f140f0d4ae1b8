package service

import (
	"context"
	"image"
	"sync"

	"visionrelay/internal/config"
	"visionrelay/internal/logger"
	"visionrelay/internal/metrics"
	"visionrelay/internal/model"
	"visionrelay/internal/service/correlation"
)

// QueueSize bounds how many sampled frames wait for a worker.
const QueueSize = 100

// Skip reasons reported on the skipped frames metric.
const (
	SkipInterval  = "interval"
	SkipDecode    = "decode"
	SkipStill     = "still"
	SkipQueueFull = "queue_full"
)

// Decoder turns a camera payload into an image.
type Decoder func(data []byte) (image.Image, error)

// Dispatcher sends a frame for detection and correlates the result.
type Dispatcher interface {
	Detect(ctx context.Context, frame *model.Frame, confidence float64) (correlation.Outcome, error)
}

// MotionDetector decides whether a frame differs enough from the previous
// frame of the same camera.
type MotionDetector interface {
	DetectMotion(frame *model.Frame) (bool, error)
}

// Viewers receives every raw camera frame.
type Viewers interface {
	SendFrame(camera string, jpeg []byte)
}

// Manager samples camera frames and feeds them to the dispatcher from a
// bounded pool of workers.
type Manager struct {
	dispatcher Dispatcher
	decode     Decoder
	viewers    Viewers
	motion     MotionDetector
	metrics    *metrics.Collector
	logger     *logger.Logger

	confidence      float64
	processEveryNth int
	numWorkers      int
	processingQueue chan *model.Frame

	frameCounterMu sync.Mutex
	frameCounters  map[string]int
}

// NewManager creates a manager. viewers and motion may be nil; motion is only
// consulted when cfg.MotionGate is set.
func NewManager(cfg *config.Config, dispatcher Dispatcher, decode Decoder, viewers Viewers, motion MotionDetector, m *metrics.Collector, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.New()
	}
	if !cfg.MotionGate {
		motion = nil
	}

	every := cfg.ProcessingInterval
	if every < 1 {
		every = 1
	}
	workers := cfg.ProcessingWorkers
	if workers < 1 {
		workers = 1
	}

	return &Manager{
		dispatcher:      dispatcher,
		decode:          decode,
		viewers:         viewers,
		motion:          motion,
		metrics:         m,
		logger:          log.Named("manager"),
		confidence:      cfg.DetectConfidence(),
		processEveryNth: every,
		numWorkers:      workers,
		processingQueue: make(chan *model.Frame, QueueSize),
		frameCounters:   make(map[string]int),
	}
}

// HandleCameraImage forwards a camera JPEG to viewers and, for every Nth
// frame of that camera, queues it for detection. It never blocks.
func (m *Manager) HandleCameraImage(data []byte, camera string) {
	if m.viewers != nil {
		m.viewers.SendFrame(camera, data)
	}

	if !m.sample(camera) {
		m.skip(SkipInterval)
		return
	}

	img, err := m.decode(data)
	if err != nil {
		m.logger.Error("Error decoding frame from camera %s: %v", camera, err)
		m.skip(SkipDecode)
		return
	}
	frame := model.NewFrame(camera, img)

	if m.motion != nil {
		moved, err := m.motion.DetectMotion(frame)
		if err != nil {
			m.logger.Error("Error detecting motion: %v", err)
			return
		}
		if !moved {
			m.skip(SkipStill)
			return
		}
	}

	select {
	case m.processingQueue <- frame:
		m.logger.Debug("📹 Camera %s: frame %s queued for detection", camera, frame.ID)
	default:
		m.logger.Warning("⚠️  Processing queue full for camera %s - skipping detection", camera)
		m.skip(SkipQueueFull)
	}
}

// sample counts a frame for camera and reports whether it is the Nth.
func (m *Manager) sample(camera string) bool {
	m.frameCounterMu.Lock()
	defer m.frameCounterMu.Unlock()

	m.frameCounters[camera]++
	if m.frameCounters[camera] < m.processEveryNth {
		return false
	}
	m.frameCounters[camera] = 0
	return true
}

func (m *Manager) skip(reason string) {
	m.metrics.SkippedFrames.WithLabelValues(reason).Inc()
}

// ResetFrameCounter restarts sampling for a camera.
func (m *Manager) ResetFrameCounter(camera string) {
	m.frameCounterMu.Lock()
	defer m.frameCounterMu.Unlock()
	delete(m.frameCounters, camera)
}

// Pending returns the number of frames waiting for a worker.
func (m *Manager) Pending() int {
	return len(m.processingQueue)
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current frame.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < m.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			m.processingWorker(ctx, workerID)
		}(i)
	}

	m.logger.Info("🎬 Manager started - processing every %d frame(s) with %d workers", m.processEveryNth, m.numWorkers)
	wg.Wait()
	m.logger.Info("🛑 All processing workers stopped")
	return nil
}

func (m *Manager) processingWorker(ctx context.Context, workerID int) {
	m.logger.Debug("🔧 Processing worker %d started", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-m.processingQueue:
			m.process(ctx, frame, workerID)
		}
	}
}

func (m *Manager) process(ctx context.Context, frame *model.Frame, workerID int) {
	outcome, err := m.dispatcher.Detect(ctx, frame, m.confidence)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("Worker %d: detection failed for camera %s: %v", workerID, frame.Camera, err)
		}
		return
	}
	m.logger.Debug("Worker %d: camera %s result %d %s with %d boxes",
		workerID, frame.Camera, outcome.Result.ImageID, outcome.Disposition, len(outcome.Result.Boxes))
}
