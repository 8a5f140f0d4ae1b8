package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"visionrelay/internal/logger"
	"visionrelay/internal/metrics"
	"visionrelay/internal/model"
	"visionrelay/internal/service/transport"
)

// ErrEmptyFrame is returned before any sequencing when the frame has no image.
var ErrEmptyFrame = errors.New("frame has no image")

// Transport sends one frame to the detection service. Local transports are
// called synchronously and never sequenced.
type Transport interface {
	Local() bool
	Send(ctx context.Context, req transport.Request) (model.DetectionResult, error)
}

// Publisher receives every correctly matched (frame, result) pair.
type Publisher interface {
	Set(frame *model.Frame, result model.DetectionResult)
}

// Disposition says what happened to a result during reconciliation.
type Disposition int

const (
	// Local results bypass sequencing and are always published.
	Local Disposition = iota
	// Matched results found their frame at the queue front.
	Matched
	// Stale results arrived for a frame that had already been purged.
	Stale
	// Empty results arrived while nothing was in flight.
	Empty
)

func (d Disposition) String() string {
	switch d {
	case Local:
		return "local"
	case Matched:
		return "matched"
	case Stale:
		return "stale"
	case Empty:
		return "empty"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Published reports whether the result reached the publisher.
func (d Disposition) Published() bool {
	return d == Local || d == Matched
}

// Outcome describes one Detect call.
type Outcome struct {
	ID          model.SequenceID // assigned id; zero for local calls
	Result      model.DetectionResult
	Disposition Disposition
	Purged      int // frames dropped from the queue by this result
}

// Engine dispatches frames through a Transport and correlates the results
// with the frames that produced them.
//
// mu guards next and queue. It is held for id assignment plus enqueue, and
// again for the whole reconcile-and-publish step, never across a Send.
type Engine struct {
	transport Transport
	publisher Publisher
	logger    *logger.Logger
	metrics   *metrics.Collector

	mu    sync.Mutex
	next  model.SequenceID
	queue InFlightQueue
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher attaches the sink for matched pairs. Without one the engine
// still correlates but publishes nothing.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine bound to t.
func NewEngine(t Transport, opts ...Option) *Engine {
	e := &Engine{transport: t}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Nop()
	}
	e.logger = e.logger.Named("correlation")
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e
}

// Detect sends frame for detection at the given confidence threshold.
// It is safe to call from many goroutines; sends overlap freely.
//
// Transport failures are returned to this caller only. The failed frame stays
// queued until a result with a higher id purges it.
func (e *Engine) Detect(ctx context.Context, frame *model.Frame, confidence float64) (Outcome, error) {
	if frame == nil || frame.Image == nil {
		return Outcome{}, ErrEmptyFrame
	}

	if e.transport.Local() {
		return e.detectLocal(ctx, frame, confidence)
	}

	id := e.enqueue(frame)

	start := time.Now()
	result, err := e.transport.Send(ctx, transport.Request{ID: id, Frame: frame, Confidence: confidence})
	e.metrics.ObserveDispatch(start)
	if err != nil {
		e.recordError(err)
		e.logger.Warning("Detection for frame %d failed: %v", id, err)
		return Outcome{ID: id}, fmt.Errorf("detect frame %d: %w", id, err)
	}

	outcome := e.reconcile(result)
	outcome.ID = id
	return outcome, nil
}

func (e *Engine) detectLocal(ctx context.Context, frame *model.Frame, confidence float64) (Outcome, error) {
	start := time.Now()
	result, err := e.transport.Send(ctx, transport.Request{Frame: frame, Confidence: confidence})
	e.metrics.ObserveDispatch(start)
	if err != nil {
		e.recordError(err)
		e.logger.Warning("Local detection failed: %v", err)
		return Outcome{}, fmt.Errorf("detect local frame: %w", err)
	}

	e.metrics.LocalDetections.Inc()
	if e.publisher != nil {
		e.publisher.Set(frame, result)
	}
	return Outcome{Result: result, Disposition: Local}, nil
}

// enqueue assigns the next id and queues the envelope in one step so queue
// order always equals id order.
func (e *Engine) enqueue(frame *model.Frame) model.SequenceID {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	e.queue.Push(model.FrameEnvelope{ID: id, Frame: frame})

	e.metrics.Dispatched.Inc()
	e.metrics.InFlight.Set(float64(e.queue.Len()))
	return id
}

// reconcile matches result against the queue front. Envelopes older than the
// result are dropped; a result older than the front is dropped.
func (e *Engine) reconcile(result model.DetectionResult) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.metrics.InFlight.Set(float64(e.queue.Len())) }()

	outcome := Outcome{Result: result}
	if e.queue.Len() == 0 {
		e.metrics.EmptyResults.Inc()
		e.logger.Debug("Result %d arrived with nothing in flight", result.ImageID)
		outcome.Disposition = Empty
		return outcome
	}

	for {
		front, ok := e.queue.Front()
		if !ok || front.ID >= result.ImageID {
			break
		}
		e.queue.Pop()
		outcome.Purged++
	}
	if outcome.Purged > 0 {
		e.metrics.PurgedFrames.Add(float64(outcome.Purged))
		e.logger.Debug("Result %d purged %d older frame(s)", result.ImageID, outcome.Purged)
	}

	front, ok := e.queue.Front()
	if !ok || front.ID > result.ImageID {
		e.metrics.StaleResults.Inc()
		e.logger.Debug("Discarding stale result %d", result.ImageID)
		outcome.Disposition = Stale
		return outcome
	}

	env, _ := e.queue.Pop()
	e.metrics.Matched.Inc()
	if e.publisher != nil {
		e.publisher.Set(env.Frame, result)
	}
	outcome.Disposition = Matched
	return outcome
}

func (e *Engine) recordError(err error) {
	switch {
	case transport.IsTimeout(err):
		e.metrics.TransportErrors.WithLabelValues(metrics.ErrorKindTimeout).Inc()
	case transport.IsDecode(err):
		e.metrics.TransportErrors.WithLabelValues(metrics.ErrorKindDecode).Inc()
	default:
		e.metrics.TransportErrors.WithLabelValues(metrics.ErrorKindOther).Inc()
	}
}

// NextID returns the id the next sequenced dispatch will receive.
func (e *Engine) NextID() model.SequenceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// InFlight returns the ids currently queued, oldest first.
func (e *Engine) InFlight() []model.SequenceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.IDs()
}

// Status is a point-in-time view of the engine.
type Status struct {
	NextID   model.SequenceID   `json:"next_id"`
	InFlight []model.SequenceID `json:"in_flight"`
	Local    bool               `json:"local"`
}

// Status reports the counter, queue contents and transport mode.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{NextID: e.next, InFlight: e.queue.IDs(), Local: e.transport.Local()}
}
