package storage

import (
	"context"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionrelay/internal/model"
	"visionrelay/internal/repository/sqlite"
	"visionrelay/internal/service/slot"
)

func newTestRepo(t *testing.T) *sqlite.MatchRepository {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "matches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewMatchRepository(db)
}

func snapshot(camera string, seq model.SequenceID, at time.Time, labels ...string) slot.Snapshot {
	frame := model.NewFrame(camera, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	result := model.DetectionResult{ImageID: seq}
	for _, l := range labels {
		result.Boxes = append(result.Boxes, model.BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5, Label: l, Confidence: 0.8})
	}
	return slot.Snapshot{Frame: frame, Result: result, UpdatedAt: at}
}

func TestRecorder_HandleMatchPersists(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, 0, nil)

	snap := snapshot("cam1", 12, time.Now().UTC(), "person")
	require.NoError(t, rec.HandleMatch(snap))

	got, err := repo.GetBySequence(12)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.Frame.ID.String(), got.FrameID)
	assert.Equal(t, "cam1", got.Camera)
	require.Len(t, got.Boxes, 1)
	assert.Equal(t, "person", got.Boxes[0].Label)
}

func TestRecorder_HandleMatchWithoutFrame(t *testing.T) {
	rec := NewRecorder(newTestRepo(t), 0, nil)
	err := rec.HandleMatch(slot.Snapshot{Result: model.DetectionResult{ImageID: 3}})
	assert.Error(t, err)
}

func TestRecorder_Prune(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()
	rec := NewRecorder(repo, 24*time.Hour, nil)
	rec.now = func() time.Time { return now }

	require.NoError(t, rec.HandleMatch(snapshot("cam1", 0, now.Add(-72*time.Hour), "car")))
	require.NoError(t, rec.HandleMatch(snapshot("cam1", 1, now.Add(-time.Hour), "car")))

	deleted, err := rec.Prune()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.GetAll(nil)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, model.SequenceID(1), remaining[0].Sequence)
}

func TestRecorder_PruneDisabled(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, 0, nil)
	require.NoError(t, rec.HandleMatch(snapshot("cam1", 0, time.Now().Add(-1000*time.Hour), "car")))

	deleted, err := rec.Prune()
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRecorder_RunStopsOnCancel(t *testing.T) {
	rec := NewRecorder(newTestRepo(t), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
