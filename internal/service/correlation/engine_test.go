package correlation

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"testing"
	"time"

	"visionrelay/internal/metrics"
	"visionrelay/internal/model"
	"visionrelay/internal/service/transport"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type reply struct {
	result model.DetectionResult
	err    error
}

// gatedTransport blocks every Send until the test releases it.
type gatedTransport struct {
	local bool

	mu    sync.Mutex
	gates map[model.SequenceID]chan reply
	sent  []transport.Request

	started chan model.SequenceID
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		gates:   make(map[model.SequenceID]chan reply),
		started: make(chan model.SequenceID, 64),
	}
}

func (t *gatedTransport) Local() bool { return t.local }

func (t *gatedTransport) gate(id model.SequenceID) chan reply {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.gates[id]
	if !ok {
		g = make(chan reply, 1)
		t.gates[id] = g
	}
	return g
}

func (t *gatedTransport) Send(ctx context.Context, req transport.Request) (model.DetectionResult, error) {
	g := t.gate(req.ID)
	t.mu.Lock()
	t.sent = append(t.sent, req)
	t.mu.Unlock()
	t.started <- req.ID

	select {
	case r := <-g:
		return r.result, r.err
	case <-ctx.Done():
		return model.DetectionResult{}, ctx.Err()
	}
}

func (t *gatedTransport) release(id model.SequenceID, r reply) {
	t.gate(id) <- r
}

// echoTransport answers immediately with the request id.
type echoTransport struct {
	local bool

	mu     sync.Mutex
	frames map[*model.Frame]model.SequenceID
	calls  int
}

func (t *echoTransport) Local() bool { return t.local }

func (t *echoTransport) Send(_ context.Context, req transport.Request) (model.DetectionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frames == nil {
		t.frames = make(map[*model.Frame]model.SequenceID)
	}
	t.frames[req.Frame] = req.ID
	t.calls++
	return model.DetectionResult{
		ImageID: req.ID,
		Boxes:   []model.BoundingBox{{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5, Label: "person", Confidence: 0.9}},
	}, nil
}

type pair struct {
	frame  *model.Frame
	result model.DetectionResult
}

type recordingPublisher struct {
	mu    sync.Mutex
	pairs []pair
}

func (p *recordingPublisher) Set(frame *model.Frame, result model.DetectionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = append(p.pairs, pair{frame: frame, result: result})
}

func (p *recordingPublisher) all() []pair {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pair(nil), p.pairs...)
}

func (p *recordingPublisher) last() (pair, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pairs) == 0 {
		return pair{}, false
	}
	return p.pairs[len(p.pairs)-1], true
}

func newTestFrame(camera string) *model.Frame {
	return model.NewFrame(camera, image.NewRGBA(image.Rect(0, 0, 8, 8)))
}

type call struct {
	outcome Outcome
	err     error
}

// dispatchAll starts one Detect per frame, waiting for each Send to start
// before launching the next so ids follow slice order.
func dispatchAll(t *testing.T, e *Engine, tr *gatedTransport, frames []*model.Frame) []chan call {
	t.Helper()
	results := make([]chan call, len(frames))
	for i, f := range frames {
		results[i] = make(chan call, 1)
		go func(f *model.Frame, out chan call) {
			o, err := e.Detect(context.Background(), f, 0.3)
			out <- call{outcome: o, err: err}
		}(f, results[i])

		select {
		case id := <-tr.started:
			require.Equal(t, model.SequenceID(i), id)
		case <-time.After(time.Second):
			t.Fatalf("dispatch %d never reached the transport", i)
		}
	}
	return results
}

func wait(t *testing.T, ch chan call) call {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("Detect did not return")
		return call{}
	}
}

func result(id model.SequenceID) reply {
	return reply{result: model.DetectionResult{ImageID: id}}
}

func TestEngine_AssignsContiguousIDsUnderConcurrency(t *testing.T) {
	tr := &echoTransport{}
	pub := &recordingPublisher{}
	e := NewEngine(tr, WithPublisher(pub))

	const n = 200
	var mu sync.Mutex
	ids := make([]model.SequenceID, 0, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			o, err := e.Detect(context.Background(), newTestFrame("cam1"), 0.3)
			if err != nil {
				return err
			}
			mu.Lock()
			ids = append(ids, o.ID)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := make([]model.SequenceID, n)
	for i := range want {
		want[i] = model.SequenceID(i)
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("assigned ids mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, model.SequenceID(n), e.NextID())

	// Every published pair must be a frame and the result for that frame's id.
	for _, p := range pub.all() {
		assert.Equal(t, tr.frames[p.frame], p.result.ImageID)
	}
}

func TestEngine_InOrderResultsAllMatch(t *testing.T) {
	tr := newGatedTransport()
	pub := &recordingPublisher{}
	e := NewEngine(tr, WithPublisher(pub))

	frames := []*model.Frame{newTestFrame("a"), newTestFrame("b"), newTestFrame("c")}
	calls := dispatchAll(t, e, tr, frames)
	require.Equal(t, []model.SequenceID{0, 1, 2}, e.InFlight())

	for i := range frames {
		tr.release(model.SequenceID(i), result(model.SequenceID(i)))
		c := wait(t, calls[i])
		require.NoError(t, c.err)
		assert.Equal(t, Matched, c.outcome.Disposition)
		assert.Equal(t, 0, c.outcome.Purged)
	}

	require.Len(t, pub.all(), 3)
	last, ok := pub.last()
	require.True(t, ok)
	assert.Same(t, frames[2], last.frame)
	assert.Equal(t, model.SequenceID(2), last.result.ImageID)
	assert.Empty(t, e.InFlight())
}

func TestEngine_ReorderedResultPurgesOlderFrame(t *testing.T) {
	tr := newGatedTransport()
	pub := &recordingPublisher{}
	e := NewEngine(tr, WithPublisher(pub))

	frames := []*model.Frame{newTestFrame("a"), newTestFrame("b")}
	calls := dispatchAll(t, e, tr, frames)

	tr.release(1, result(1))
	c := wait(t, calls[1])
	require.NoError(t, c.err)
	assert.Equal(t, Matched, c.outcome.Disposition)
	assert.Equal(t, 1, c.outcome.Purged)

	tr.release(0, result(0))
	c = wait(t, calls[0])
	require.NoError(t, c.err)
	assert.Equal(t, Empty, c.outcome.Disposition)

	pairs := pub.all()
	require.Len(t, pairs, 1)
	assert.Same(t, frames[1], pairs[0].frame)
	assert.Equal(t, model.SequenceID(1), pairs[0].result.ImageID)
	assert.Empty(t, e.InFlight())
}

func TestEngine_ResultBeyondQueuePurgesEverything(t *testing.T) {
	tr := newGatedTransport()
	pub := &recordingPublisher{}
	m := metrics.New()
	e := NewEngine(tr, WithPublisher(pub), WithMetrics(m))

	calls := dispatchAll(t, e, tr, []*model.Frame{newTestFrame("a"), newTestFrame("b")})

	tr.release(1, result(7))
	c := wait(t, calls[1])
	require.NoError(t, c.err)
	assert.Equal(t, Stale, c.outcome.Disposition)
	assert.Equal(t, 2, c.outcome.Purged)
	assert.Empty(t, e.InFlight())

	tr.release(0, result(0))
	c = wait(t, calls[0])
	require.NoError(t, c.err)
	assert.Equal(t, Empty, c.outcome.Disposition)

	assert.Empty(t, pub.all())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PurgedFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleResults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmptyResults))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestEngine_ReplayedResultIsStaleAndLeavesQueue(t *testing.T) {
	tr := newGatedTransport()
	pub := &recordingPublisher{}
	e := NewEngine(tr, WithPublisher(pub))

	frames := []*model.Frame{newTestFrame("a"), newTestFrame("b"), newTestFrame("c")}
	calls := dispatchAll(t, e, tr, frames)

	tr.release(0, result(0))
	require.Equal(t, Matched, wait(t, calls[0]).outcome.Disposition)

	// The service answers frame 1's request with a replay of result 0.
	tr.release(1, result(0))
	c := wait(t, calls[1])
	require.NoError(t, c.err)
	assert.Equal(t, Stale, c.outcome.Disposition)
	assert.Equal(t, 0, c.outcome.Purged)
	assert.Equal(t, []model.SequenceID{1, 2}, e.InFlight())

	tr.release(2, result(2))
	c = wait(t, calls[2])
	assert.Equal(t, Matched, c.outcome.Disposition)
	assert.Equal(t, 1, c.outcome.Purged)

	pairs := pub.all()
	require.Len(t, pairs, 2)
	assert.Same(t, frames[0], pairs[0].frame)
	assert.Same(t, frames[2], pairs[1].frame)
}

func TestEngine_TransportErrorLeavesFrameQueued(t *testing.T) {
	tr := newGatedTransport()
	pub := &recordingPublisher{}
	m := metrics.New()
	e := NewEngine(tr, WithPublisher(pub), WithMetrics(m))

	calls := dispatchAll(t, e, tr, []*model.Frame{newTestFrame("a")})
	sendErr := &transport.TransportError{Op: "send", Endpoint: "test", Err: errors.New("connection refused")}
	tr.release(0, reply{err: sendErr})

	c := wait(t, calls[0])
	require.Error(t, c.err)
	var te *transport.TransportError
	assert.ErrorAs(t, c.err, &te)
	assert.Equal(t, []model.SequenceID{0}, e.InFlight())
	assert.Empty(t, pub.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportErrors.WithLabelValues(metrics.ErrorKindOther)))

	// A later, higher id flushes the failed frame.
	frame := newTestFrame("b")
	done := make(chan call, 1)
	go func() {
		o, err := e.Detect(context.Background(), frame, 0.3)
		done <- call{outcome: o, err: err}
	}()
	require.Equal(t, model.SequenceID(1), <-tr.started)
	tr.release(1, result(1))

	c = wait(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, Matched, c.outcome.Disposition)
	assert.Equal(t, 1, c.outcome.Purged)
	assert.Empty(t, e.InFlight())
	require.Len(t, pub.all(), 1)
	assert.Same(t, frame, pub.all()[0].frame)
}

func TestEngine_TimeoutIsCountedAndScopedToCaller(t *testing.T) {
	tr := newGatedTransport()
	m := metrics.New()
	e := NewEngine(tr, WithMetrics(m))

	calls := dispatchAll(t, e, tr, []*model.Frame{newTestFrame("a")})
	tr.release(0, reply{err: &transport.TransportError{Op: "send", Err: transport.ErrTimeout}})

	c := wait(t, calls[0])
	require.Error(t, c.err)
	assert.True(t, transport.IsTimeout(c.err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportErrors.WithLabelValues(metrics.ErrorKindTimeout)))
	assert.Equal(t, []model.SequenceID{0}, e.InFlight())
}

func TestEngine_LocalTransportBypassesSequencing(t *testing.T) {
	tr := &echoTransport{local: true}
	pub := &recordingPublisher{}
	m := metrics.New()
	e := NewEngine(tr, WithPublisher(pub), WithMetrics(m))

	before := e.NextID()
	frames := make([]*model.Frame, 5)
	for i := range frames {
		frames[i] = newTestFrame("local")
		o, err := e.Detect(context.Background(), frames[i], 0.2)
		require.NoError(t, err)
		assert.Equal(t, Local, o.Disposition)
		assert.True(t, o.Disposition.Published())
	}

	assert.Equal(t, before, e.NextID())
	assert.Empty(t, e.InFlight())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Dispatched))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.LocalDetections))

	pairs := pub.all()
	require.Len(t, pairs, len(frames))
	for i, p := range pairs {
		assert.Same(t, frames[i], p.frame)
	}
}

func TestEngine_WorksWithoutPublisher(t *testing.T) {
	e := NewEngine(&echoTransport{})

	o, err := e.Detect(context.Background(), newTestFrame("a"), 0.3)
	require.NoError(t, err)
	assert.Equal(t, Matched, o.Disposition)
	assert.Len(t, o.Result.Boxes, 1)
}

func TestEngine_RejectsEmptyFrameBeforeSequencing(t *testing.T) {
	tr := &echoTransport{}
	e := NewEngine(tr)

	_, err := e.Detect(context.Background(), &model.Frame{Camera: "a"}, 0.3)
	require.ErrorIs(t, err, ErrEmptyFrame)

	_, err = e.Detect(context.Background(), nil, 0.3)
	require.ErrorIs(t, err, ErrEmptyFrame)

	assert.Equal(t, model.SequenceID(0), e.NextID())
	assert.Zero(t, tr.calls)
}

func TestDisposition_String(t *testing.T) {
	tests := []struct {
		d    Disposition
		want string
	}{
		{Local, "local"},
		{Matched, "matched"},
		{Stale, "stale"},
		{Empty, "empty"},
		{Disposition(42), "disposition(42)"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Disposition(%d).String() = %q, expected %q", int(tt.d), got, tt.want)
		}
	}
}
