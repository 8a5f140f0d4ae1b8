package sqlite

import (
	"database/sql"
	"fmt"

	"visionrelay/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds boxes for an existing match in a single transaction.
func (r *DetectionRepository) InsertBatch(matchID int64, boxes []model.BoundingBox) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertDetections(tx, matchID, boxes); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByMatchID retrieves all boxes of a match.
func (r *DetectionRepository) GetByMatchID(matchID int64) ([]model.BoundingBox, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return queryDetections(r.db.Conn(), matchID)
}

// GetAllLabels returns a list of all unique detected labels.
func (r *DetectionRepository) GetAllLabels() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT label FROM detections ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// DeleteByMatchID removes all boxes for a specific match.
func (r *DetectionRepository) DeleteByMatchID(matchID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE match_id = ?`, matchID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}

func insertDetections(tx *sql.Tx, matchID int64, boxes []model.BoundingBox) error {
	if len(boxes) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO detections (match_id, label, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range boxes {
		if _, err := stmt.Exec(matchID, b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}
	return nil
}

func queryDetections(conn *sql.DB, matchID int64) ([]model.BoundingBox, error) {
	rows, err := conn.Query(`
		SELECT label, confidence, x1, y1, x2, y2
		FROM detections
		WHERE match_id = ?
		ORDER BY id
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var boxes []model.BoundingBox
	for rows.Next() {
		var b model.BoundingBox
		if err := rows.Scan(&b.Label, &b.Confidence, &b.X1, &b.Y1, &b.X2, &b.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		boxes = append(boxes, b)
	}
	return boxes, rows.Err()
}
