package slot

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"visionrelay/internal/model"
)

func TestPublisher_UpdatesSlotAndNotifiesObservers(t *testing.T) {
	var mu sync.Mutex
	var seen []model.SequenceID
	done := make(chan struct{}, 2)

	observer := ObserverFunc(func(snap Snapshot) error {
		mu.Lock()
		seen = append(seen, snap.Result.ImageID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	failing := ObserverFunc(func(Snapshot) error { return errors.New("boom") })

	p := NewPublisher(New(), 4, nil, failing, observer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	frame := model.NewFrame("cam1", image.NewRGBA(image.Rect(0, 0, 2, 2)))
	p.Set(frame, model.DetectionResult{ImageID: 1})
	p.Set(frame, model.DetectionResult{ImageID: 2})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Observer was not notified")
		}
	}

	snap, ok := p.Slot().Get()
	if !ok || snap.Result.ImageID != 2 {
		t.Errorf("Expected slot to hold result 2, got %+v (ok=%v)", snap.Result, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("Expected observer to see [1 2], got %v", seen)
	}
}

func TestPublisher_SetNeverBlocksWhenBacklogFull(t *testing.T) {
	block := ObserverFunc(func(Snapshot) error { select {} })
	p := NewPublisher(New(), 1, nil, block)

	frame := model.NewFrame("cam1", image.NewRGBA(image.Rect(0, 0, 2, 2)))
	finished := make(chan struct{})
	go func() {
		// Run is not started, so only the first notification fits.
		for i := 0; i < 10; i++ {
			p.Set(frame, model.DetectionResult{ImageID: model.SequenceID(i)})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Set blocked on a full observer queue")
	}

	snap, _ := p.Slot().Get()
	if snap.Result.ImageID != 9 {
		t.Errorf("Expected slot to hold result 9, got %d", snap.Result.ImageID)
	}
}
