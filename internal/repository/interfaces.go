package repository

import (
	"time"

	"visionrelay/internal/model"
)

// MatchRepository defines the interface for matched result storage.
type MatchRepository interface {
	// Create operations
	Insert(match *model.Match) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Match, error)
	GetBySequence(seq model.SequenceID) (*model.Match, error)
	GetAll(filter *model.MatchFilter) ([]model.Match, error)
	GetStats() (*model.MatchStats, error)

	// Delete operations
	DeleteOlderThan(cutoff time.Time) (int64, error)
	DeleteAll() error
}

// DetectionRepository defines the interface for per-box detection data.
type DetectionRepository interface {
	InsertBatch(matchID int64, boxes []model.BoundingBox) error
	GetByMatchID(matchID int64) ([]model.BoundingBox, error)
	GetAllLabels() ([]string, error)
	DeleteByMatchID(matchID int64) error
}
