package slot

import (
	"sync/atomic"
	"time"

	"visionrelay/internal/model"
)

// Snapshot is a frame together with the result it was matched to.
type Snapshot struct {
	Frame     *model.Frame
	Result    model.DetectionResult
	UpdatedAt time.Time
}

// LatestResult holds the most recent matched pair. Writers overwrite it
// unconditionally and readers never block.
type LatestResult struct {
	current atomic.Pointer[Snapshot]
	writes  atomic.Uint64
}

// New returns an empty slot.
func New() *LatestResult {
	return &LatestResult{}
}

// Set replaces the slot contents.
func (s *LatestResult) Set(frame *model.Frame, result model.DetectionResult) {
	s.current.Store(&Snapshot{Frame: frame, Result: result, UpdatedAt: time.Now()})
	s.writes.Add(1)
}

// Get returns the current pair, or false if Set was never called.
func (s *LatestResult) Get() (Snapshot, bool) {
	snap := s.current.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// Writes counts Set calls since creation.
func (s *LatestResult) Writes() uint64 {
	return s.writes.Load()
}
