package storage

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"visionrelay/internal/config"
	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/service/slot"
)

const timestampLayout = "2006-01-02_15-04_05.000"

var unsafeChars = strings.NewReplacer("/", "-", "\\", "-", " ", "-")

// Annotator renders boxes onto a frame and returns the encoded image.
type Annotator func(img image.Image, boxes []model.BoundingBox) ([]byte, error)

type bufferedSnapshot struct {
	timestamp time.Time
	camera    string
	sequence  model.SequenceID
	labels    []string
	data      []byte
}

// BufferService keeps annotated snapshots of matched frames in memory and
// periodically flushes them to disk.
type BufferService struct {
	imagesDir     string
	limit         int
	flushInterval time.Duration
	annotate      Annotator

	mu          sync.Mutex
	images      []bufferedSnapshot
	bufferCount map[string]int
	logger      *logger.Logger
}

// NewBufferService creates a BufferService from the image directory and
// buffer settings in cfg.
func NewBufferService(cfg *config.Config, annotate Annotator, log *logger.Logger) *BufferService {
	if log == nil {
		log = logger.Nop()
	}
	return &BufferService{
		imagesDir:     cfg.ImageDirectory,
		limit:         cfg.ImageBufferLimit,
		flushInterval: time.Duration(cfg.ImageBufferFlushInterval) * time.Second,
		annotate:      annotate,
		bufferCount:   make(map[string]int),
		logger:        log.Named("buffer"),
	}
}

// HandleMatch annotates the matched frame and buffers it. Snapshots without
// boxes are not kept, and each camera holds at most limit snapshots between
// flushes.
func (s *BufferService) HandleMatch(snap slot.Snapshot) error {
	if snap.Frame == nil || snap.Frame.Image == nil || len(snap.Result.Boxes) == 0 {
		return nil
	}

	camera := snap.Frame.Camera
	s.mu.Lock()
	full := s.bufferCount[camera] >= s.limit
	s.mu.Unlock()
	if full {
		return nil
	}

	data, err := s.annotate(snap.Frame.Image, snap.Result.Boxes)
	if err != nil {
		return fmt.Errorf("failed to annotate frame %d: %w", snap.Result.ImageID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bufferCount[camera] >= s.limit {
		return nil
	}
	s.images = append(s.images, bufferedSnapshot{
		timestamp: snap.UpdatedAt,
		camera:    camera,
		sequence:  snap.Result.ImageID,
		labels:    snap.Result.Labels(),
		data:      data,
	})
	s.bufferCount[camera]++
	s.logger.Debug("Buffer size for camera %s: %d/%d", camera, s.bufferCount[camera], s.limit)
	return nil
}

// Pending returns how many snapshots wait for the next flush.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Run flushes on the configured interval until ctx is cancelled, then flushes
// once more.
func (s *BufferService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushImages()
			return nil
		case <-ticker.C:
			s.FlushImages()
		}
	}
}

// FlushImages writes buffered snapshots to disk and resets the buffer and
// per-camera counters. It returns the number of files written.
func (s *BufferService) FlushImages() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	savedCount := 0
	for _, img := range s.images {
		filename := snapshotFilename(img)
		if err := os.WriteFile(filepath.Join(s.imagesDir, filename), img.data, 0644); err != nil {
			s.logger.Error("Error saving image %s: %v", filename, err)
			continue
		}
		savedCount++
	}

	s.logger.Info("Flushed %d images to disk", savedCount)
	s.images = s.images[:0]
	s.bufferCount = make(map[string]int)
	return savedCount
}

func snapshotFilename(img bufferedSnapshot) string {
	return fmt.Sprintf("%s_%s_%d_%s.jpg",
		img.timestamp.Format(timestampLayout),
		unsafeChars.Replace(img.camera),
		img.sequence,
		unsafeChars.Replace(strings.Join(img.labels, "_")))
}
