package slot

import (
	"context"
	"time"

	"visionrelay/internal/logger"
	"visionrelay/internal/model"
)

// Observer is notified of matched pairs after they land in the slot.
type Observer interface {
	HandleMatch(snap Snapshot) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(snap Snapshot) error

func (f ObserverFunc) HandleMatch(snap Snapshot) error { return f(snap) }

// Publisher stores matched pairs in a LatestResult and fans them out to
// observers on a background goroutine. Set never blocks; when observers fall
// behind, notifications are dropped but the slot is always updated.
type Publisher struct {
	slot      *LatestResult
	observers []Observer
	queue     chan Snapshot
	logger    *logger.Logger
}

// NewPublisher creates a publisher with room for backlog pending notifications.
func NewPublisher(slot *LatestResult, backlog int, log *logger.Logger, observers ...Observer) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		slot:      slot,
		observers: observers,
		queue:     make(chan Snapshot, backlog),
		logger:    log.Named("publisher"),
	}
}

// Slot returns the backing slot.
func (p *Publisher) Slot() *LatestResult {
	return p.slot
}

// Set updates the slot and queues observer notification.
func (p *Publisher) Set(frame *model.Frame, result model.DetectionResult) {
	p.slot.Set(frame, result)
	if len(p.observers) == 0 {
		return
	}

	snap := Snapshot{Frame: frame, Result: result, UpdatedAt: time.Now()}
	select {
	case p.queue <- snap:
	default:
		p.logger.Warning("Observer queue full - skipping notification for result %d", result.ImageID)
	}
}

// Run delivers notifications until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-p.queue:
			for _, o := range p.observers {
				if err := o.HandleMatch(snap); err != nil {
					p.logger.Error("Observer failed for result %d: %v", snap.Result.ImageID, err)
				}
			}
		}
	}
}
