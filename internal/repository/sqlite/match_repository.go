package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"visionrelay/internal/model"
)

// MatchRepository implements repository.MatchRepository for SQLite.
type MatchRepository struct {
	db *DB
}

// NewMatchRepository creates a new SQLite match repository.
func NewMatchRepository(db *DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Insert stores a match and its boxes in one transaction.
func (r *MatchRepository) Insert(m *model.Match) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO matches (sequence_id, frame_id, camera, captured_at, matched_at)
		VALUES (?, ?, ?, ?, ?)
	`, int64(m.Sequence), m.FrameID, m.Camera, m.CapturedAt.UTC(), m.MatchedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert match: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read match id: %w", err)
	}

	if err := insertDetections(tx, id, m.Boxes); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit match: %w", err)
	}

	m.ID = id
	return id, nil
}

const selectMatch = `SELECT id, sequence_id, frame_id, camera, captured_at, matched_at FROM matches`

func scanMatch(scanner interface{ Scan(...any) error }) (*model.Match, error) {
	var m model.Match
	var seq int64
	if err := scanner.Scan(&m.ID, &seq, &m.FrameID, &m.Camera, &m.CapturedAt, &m.MatchedAt); err != nil {
		return nil, err
	}
	m.Sequence = model.SequenceID(seq)
	return &m, nil
}

// GetByID retrieves a match with its boxes, or nil if none exists.
func (r *MatchRepository) GetByID(id int64) (*model.Match, error) {
	return r.getOne(selectMatch+` WHERE id = ?`, id)
}

// GetBySequence retrieves the most recent match for a sequence id.
func (r *MatchRepository) GetBySequence(seq model.SequenceID) (*model.Match, error) {
	return r.getOne(selectMatch+` WHERE sequence_id = ? ORDER BY id DESC LIMIT 1`, int64(seq))
}

func (r *MatchRepository) getOne(query string, arg any) (*model.Match, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	m, err := scanMatch(r.db.Conn().QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	boxes, err := queryDetections(r.db.Conn(), m.ID)
	if err != nil {
		return nil, err
	}
	m.Boxes = boxes
	return m, nil
}

// GetAll retrieves matches newest first, narrowed by filter.
func (r *MatchRepository) GetAll(filter *model.MatchFilter) ([]model.Match, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query, args := buildMatchQuery(filter)
	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}

	for i := range matches {
		boxes, err := queryDetections(r.db.Conn(), matches[i].ID)
		if err != nil {
			return nil, err
		}
		matches[i].Boxes = boxes
	}
	return matches, nil
}

func buildMatchQuery(filter *model.MatchFilter) (string, []any) {
	var where []string
	var args []any
	limit, offset := 50, 0

	if filter != nil {
		if filter.Camera != "" {
			where = append(where, "camera = ?")
			args = append(args, filter.Camera)
		}
		if filter.Label != "" {
			where = append(where, "id IN (SELECT match_id FROM detections WHERE label = ?)")
			args = append(args, filter.Label)
		}
		if !filter.Since.IsZero() {
			where = append(where, "matched_at >= ?")
			args = append(args, filter.Since.UTC())
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		if filter.Offset > 0 {
			offset = filter.Offset
		}
	}

	query := selectMatch
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY matched_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return query, args
}

// GetStats counts matches per camera and detections per label.
func (r *MatchRepository) GetStats() (*model.MatchStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.MatchStats{
		PerCamera:   make(map[string]int),
		LabelCounts: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&stats.TotalMatches); err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&stats.TotalDetections); err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}

	if err := countInto(r.db.Conn(), `SELECT camera, COUNT(*) FROM matches GROUP BY camera`, stats.PerCamera); err != nil {
		return nil, err
	}
	if err := countInto(r.db.Conn(), `SELECT label, COUNT(*) FROM detections GROUP BY label`, stats.LabelCounts); err != nil {
		return nil, err
	}
	return stats, nil
}

func countInto(conn *sql.DB, query string, into map[string]int) error {
	rows, err := conn.Query(query)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan stats: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// DeleteOlderThan removes matches made before cutoff and returns how many.
func (r *MatchRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM matches WHERE matched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old matches: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAll removes every match and detection.
func (r *MatchRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM matches`); err != nil {
		return fmt.Errorf("failed to delete matches: %w", err)
	}
	return nil
}
