package service

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionrelay/internal/config"
	"visionrelay/internal/metrics"
	"visionrelay/internal/model"
	"visionrelay/internal/service/correlation"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	frames []*model.Frame
	conf   []float64
	block  chan struct{}
}

func (d *recordingDispatcher) Detect(ctx context.Context, frame *model.Frame, confidence float64) (correlation.Outcome, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return correlation.Outcome{}, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, frame)
	d.conf = append(d.conf, confidence)
	return correlation.Outcome{Disposition: correlation.Matched}, nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

type recordingViewers struct {
	mu     sync.Mutex
	frames map[string]int
}

func (v *recordingViewers) SendFrame(camera string, jpeg []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.frames == nil {
		v.frames = make(map[string]int)
	}
	v.frames[camera]++
}

type stubMotion struct{ moved bool }

func (s stubMotion) DetectMotion(*model.Frame) (bool, error) { return s.moved, nil }

func decodeOK(data []byte) (image.Image, error) {
	if string(data) == "bad" {
		return nil, errors.New("not a jpeg")
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ProcessingInterval = 3
	cfg.ProcessingWorkers = 2
	cfg.VisionServiceIP = "10.0.0.5"
	cfg.Transport = config.TransportHTTP
	return cfg
}

func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestManager_SamplesEveryNthFrame(t *testing.T) {
	d := &recordingDispatcher{}
	v := &recordingViewers{}
	mc := metrics.New()
	m := NewManager(testConfig(), d, decodeOK, v, nil, mc, nil)
	runManager(t, m)

	for i := 0; i < 9; i++ {
		m.HandleCameraImage([]byte("jpeg"), "cam1")
	}
	m.HandleCameraImage([]byte("jpeg"), "cam2")

	require.Eventually(t, func() bool { return d.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 9, v.frames["cam1"])
	assert.Equal(t, 1, v.frames["cam2"])
	assert.Equal(t, 7.0, testutil.ToFloat64(mc.SkippedFrames.WithLabelValues(SkipInterval)))

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, f := range d.frames {
		assert.Equal(t, "cam1", f.Camera)
		assert.Equal(t, 0.3, d.conf[i])
	}
}

func TestManager_LocalConfidence(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingInterval = 1
	cfg.Transport = config.TransportLocal
	d := &recordingDispatcher{}
	m := NewManager(cfg, d, decodeOK, nil, nil, nil, nil)
	runManager(t, m)

	m.HandleCameraImage([]byte("jpeg"), "cam1")
	require.Eventually(t, func() bool { return d.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, cfg.LocalConfidence, d.conf[0])
}

func TestManager_DecodeFailureSkips(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingInterval = 1
	mc := metrics.New()
	m := NewManager(cfg, &recordingDispatcher{}, decodeOK, nil, nil, mc, nil)

	m.HandleCameraImage([]byte("bad"), "cam1")
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.SkippedFrames.WithLabelValues(SkipDecode)))
	assert.Zero(t, m.Pending())
}

func TestManager_MotionGate(t *testing.T) {
	tests := []struct {
		name    string
		gate    bool
		moved   bool
		pending int
	}{
		{"gate off ignores detector", false, false, 1},
		{"gate on still frame", true, false, 0},
		{"gate on moving frame", true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ProcessingInterval = 1
			cfg.MotionGate = tt.gate
			m := NewManager(cfg, &recordingDispatcher{}, decodeOK, nil, stubMotion{moved: tt.moved}, nil, nil)

			m.HandleCameraImage([]byte("jpeg"), "cam1")
			assert.Equal(t, tt.pending, m.Pending())
		})
	}
}

func TestManager_QueueFullDrops(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingInterval = 1
	mc := metrics.New()
	m := NewManager(cfg, &recordingDispatcher{}, decodeOK, nil, nil, mc, nil)

	for i := 0; i < QueueSize+5; i++ {
		m.HandleCameraImage([]byte("jpeg"), "cam1")
	}
	assert.Equal(t, QueueSize, m.Pending())
	assert.Equal(t, 5.0, testutil.ToFloat64(mc.SkippedFrames.WithLabelValues(SkipQueueFull)))
}

func TestManager_ResetFrameCounter(t *testing.T) {
	m := NewManager(testConfig(), &recordingDispatcher{}, decodeOK, nil, nil, nil, nil)

	m.HandleCameraImage([]byte("jpeg"), "cam1")
	m.HandleCameraImage([]byte("jpeg"), "cam1")
	m.ResetFrameCounter("cam1")
	m.HandleCameraImage([]byte("jpeg"), "cam1")
	assert.Zero(t, m.Pending())

	m.HandleCameraImage([]byte("jpeg"), "cam1")
	m.HandleCameraImage([]byte("jpeg"), "cam1")
	assert.Equal(t, 1, m.Pending())
}

func TestManager_RunStopsWithBusyWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingInterval = 1
	d := &recordingDispatcher{block: make(chan struct{})}
	m := NewManager(cfg, d, decodeOK, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.HandleCameraImage([]byte("jpeg"), "cam1")
	require.Eventually(t, func() bool { return m.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, d.count())
}
