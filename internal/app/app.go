package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"visionrelay/internal/config"
	"visionrelay/internal/handler"
	"visionrelay/internal/logger"
	"visionrelay/internal/metrics"
	"visionrelay/internal/model"
	"visionrelay/internal/repository/sqlite"
	"visionrelay/internal/route"
	"visionrelay/internal/service"
	"visionrelay/internal/service/ai"
	"visionrelay/internal/service/codec"
	"visionrelay/internal/service/correlation"
	"visionrelay/internal/service/slot"
	"visionrelay/internal/service/storage"
	"visionrelay/internal/service/transport"
	"visionrelay/internal/service/websocket"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// publishBacklog bounds pending observer notifications.
const publishBacklog = 32

type App struct {
	config    *config.Config
	logger    *logger.Logger
	metrics   *metrics.Collector
	db        *sqlite.DB
	detector  *ai.DetectorService
	transport correlation.Transport
	engine    *correlation.Engine
	latest    *slot.LatestResult
	publisher *slot.Publisher
	hub       *websocket.HubService
	recorder  *storage.Recorder
	buffer    *storage.BufferService
	manager   *service.Manager
	detection *transport.DetectionService
	router    http.Handler
}

// NewApp loads the configuration and wires every service.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	return New(cfg, log)
}

// New wires the services for cfg.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	matches := sqlite.NewMatchRepository(db)
	detections := sqlite.NewDetectionRepository(db)

	m := metrics.New()
	detector := ai.NewDetectorService(cfg, log)
	encoder := codec.NewEncoder(cfg.ImageWidth, cfg.ImageHeight, cfg.EncodeQuality)

	t, err := NewTransport(cfg, encoder, detector, log)
	if err != nil {
		db.Close()
		detector.Close()
		return nil, err
	}

	hub := websocket.NewHubService(func(f *model.Frame, boxes []model.BoundingBox) ([]byte, error) {
		return codec.Annotate(f.Image, boxes)
	}, log)
	recorder := storage.NewRecorder(matches, cfg.Retention, log)
	buffer := storage.NewBufferService(cfg, codec.Annotate, log)

	latest := slot.New()
	publisher := slot.NewPublisher(latest, publishBacklog, log, hub, recorder, buffer)
	engine := correlation.NewEngine(t,
		correlation.WithPublisher(publisher),
		correlation.WithLogger(log),
		correlation.WithMetrics(m),
	)
	manager := service.NewManager(cfg, engine, codec.Decode, hub, detector, m, log)

	a := &App{
		config:    cfg,
		logger:    log,
		metrics:   m,
		db:        db,
		detector:  detector,
		transport: t,
		engine:    engine,
		latest:    latest,
		publisher: publisher,
		hub:       hub,
		recorder:  recorder,
		buffer:    buffer,
		manager:   manager,
	}
	if detector.Ready() {
		a.detection = transport.NewDetectionService(detector, log)
	}

	deps := route.Deps{
		Config:     cfg,
		Logger:     log,
		Metrics:    m,
		Hub:        hub,
		Latest:     latest,
		Engine:     engine,
		Matches:    matches,
		Detections: detections,
		Annotate:   handler.Annotator(codec.Annotate),
		Frames:     manager,
	}
	if a.detection != nil {
		deps.Detection = a.detection
	}
	a.router = route.SetupRoutes(deps)
	return a, nil
}

// NewTransport builds the binding named by cfg.Transport.
func NewTransport(cfg *config.Config, encoder transport.Encoder, detector transport.Detector, log *logger.Logger) (correlation.Transport, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return transport.NewHTTPBinding(transport.HTTPOptions{
			URL:     cfg.RouterURL(),
			Local:   cfg.IsLocalService(),
			Timeout: cfg.RequestTimeout,
		}, encoder, log), nil
	case config.TransportGRPC:
		b, err := transport.NewGRPCBinding(transport.GRPCOptions{
			Target:  cfg.YoloTarget(),
			Local:   cfg.IsLocalService(),
			Timeout: cfg.RequestTimeout,
		}, encoder, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.TransportLocal:
		if detector == nil {
			return nil, errors.New("local transport needs a detector")
		}
		return transport.NewLocalBinding(encoder, detector), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Run starts every service and blocks until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.config

	a.logger.Info("🚀 Vision relay")
	a.logger.Info("📍 URL: http://localhost:%d", cfg.Port)
	a.logger.Info("📡 Detection: %s (local=%v)", cfg.Transport, a.transport.Local())
	a.logger.Info("📁 Images: %s", cfg.ImageDirectory)
	a.logger.Info("🤖 AI Model: %s (ready=%v)", cfg.ModelPath, a.detector.Ready())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.publisher.Run(gctx) })
	g.Go(func() error { return a.recorder.Run(gctx) })
	g.Go(func() error { return a.buffer.Run(gctx) })
	g.Go(func() error { return a.manager.Run(gctx) })

	if cfg.CamerasPort > 0 {
		g.Go(func() error {
			return handler.UDPCameraHandler(gctx, a.manager, a.logger.Named("camera"), cfg)
		})
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.GRPCPort > 0 && a.detection != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port %d: %w", cfg.GRPCPort, err)
		}
		grpcServer := grpc.NewServer()
		a.detection.Register(grpcServer)
		a.logger.Info("YoloService listening on :%d", cfg.GRPCPort)

		g.Go(func() error { return grpcServer.Serve(lis) })
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// Close releases the database, the network and the transport.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.transport.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, a.detector.Close(), a.db.Close())
	return errors.Join(errs...)
}
