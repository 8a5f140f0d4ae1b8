package storage

import (
	"context"
	"fmt"
	"time"

	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/repository"
	"visionrelay/internal/service/slot"
)

// PruneInterval is how often the recorder drops matches past retention.
const PruneInterval = time.Hour

// Recorder persists every matched pair it is notified of.
type Recorder struct {
	matches   repository.MatchRepository
	retention time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewRecorder creates a recorder. A zero retention disables pruning.
func NewRecorder(matches repository.MatchRepository, retention time.Duration, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		matches:   matches,
		retention: retention,
		logger:    log.Named("recorder"),
		now:       time.Now,
	}
}

// HandleMatch stores the snapshot as a match row with its boxes.
func (r *Recorder) HandleMatch(snap slot.Snapshot) error {
	if snap.Frame == nil {
		return fmt.Errorf("snapshot for result %d has no frame", snap.Result.ImageID)
	}

	m := &model.Match{
		Sequence:   snap.Result.ImageID,
		FrameID:    snap.Frame.ID.String(),
		Camera:     snap.Frame.Camera,
		CapturedAt: snap.Frame.CapturedAt,
		MatchedAt:  snap.UpdatedAt,
		Boxes:      snap.Result.Boxes,
	}
	if _, err := r.matches.Insert(m); err != nil {
		return fmt.Errorf("failed to record match %d: %w", snap.Result.ImageID, err)
	}
	return nil
}

// Prune deletes matches older than the retention window.
func (r *Recorder) Prune() (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	deleted, err := r.matches.DeleteOlderThan(r.now().Add(-r.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Info("Pruned %d matches older than %s", deleted, r.retention)
	}
	return deleted, nil
}

// Run prunes on PruneInterval until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	if r.retention <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Prune(); err != nil {
			r.logger.Error("Error pruning matches: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
