// Command detectctl sends a directory of images through the configured
// detection binding concurrently and prints how each result was correlated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"visionrelay/internal/app"
	"visionrelay/internal/config"
	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/service/ai"
	"visionrelay/internal/service/codec"
	"visionrelay/internal/service/correlation"
	"visionrelay/internal/service/slot"
	"visionrelay/internal/service/transport"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	dir := flag.StringP("dir", "d", ".", "Directory of images to dispatch")
	camera := flag.String("camera", "detectctl", "Camera name stamped on every frame")
	flag.StringVarP(&cfg.Transport, "transport", "t", cfg.Transport, "Binding: http, grpc or local")
	flag.StringVar(&cfg.VisionServiceIP, "host", cfg.VisionServiceIP, "Detection service host")
	flag.Float64VarP(&cfg.Confidence, "conf", "c", cfg.Confidence, "Confidence threshold for remote calls")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Per-request timeout")
	concurrency := flag.IntP("concurrency", "n", 4, "Frames in flight at once")
	verbose := flag.BoolP("verbose", "v", false, "Log transport activity")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	logs := logger.Nop()
	if *verbose {
		l, err := logger.New(filepath.Join(os.TempDir(), "detectctl-logs"), "debug")
		if err != nil {
			fatalf("Failed to create logger: %v", err)
		}
		logs = l
	}

	frames, err := loadFrames(*dir, *camera)
	if err != nil {
		fatalf("Failed to load images: %v", err)
	}
	if len(frames) == 0 {
		fmt.Println("No images found")
		return
	}

	var detector transport.Detector
	if cfg.Transport == config.TransportLocal {
		d := ai.NewDetectorService(cfg, logs)
		defer d.Close()
		if !d.Ready() {
			fatalf("Local detection needs a model at %s", cfg.ModelPath)
		}
		detector = d
	}

	encoder := codec.NewEncoder(cfg.ImageWidth, cfg.ImageHeight, cfg.EncodeQuality)
	t, err := app.NewTransport(cfg, encoder, detector, logs)
	if err != nil {
		fatalf("Failed to create transport: %v", err)
	}
	if c, ok := t.(interface{ Close() error }); ok {
		defer c.Close()
	}

	latest := slot.New()
	engine := correlation.NewEngine(t, correlation.WithPublisher(latest), correlation.WithLogger(logs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var mu sync.Mutex
	counts := make(map[string]int)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	for _, f := range frames {
		frame := f
		g.Go(func() error {
			outcome, err := engine.Detect(gctx, frame.frame, cfg.DetectConfidence())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				counts["error"]++
				fmt.Printf("%-32s error     %v\n", frame.name, err)
				return nil
			}
			counts[outcome.Disposition.String()]++
			fmt.Printf("%-32s %-9s id=%d boxes=%d purged=%d %s\n",
				frame.name, outcome.Disposition, outcome.Result.ImageID,
				len(outcome.Result.Boxes), outcome.Purged, strings.Join(outcome.Result.Labels(), ","))
			return nil
		})
	}
	g.Wait()

	st := engine.Status()
	fmt.Printf("\n📊 %d frames in %s via %s (local=%v)\n", len(frames), time.Since(start).Round(time.Millisecond), cfg.Transport, st.Local)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("   %-8s %d\n", k, counts[k])
	}
	fmt.Printf("   next id %d, still in flight %v\n", st.NextID, st.InFlight)
	if snap, ok := latest.Get(); ok {
		fmt.Printf("   latest result %d from %s\n", snap.Result.ImageID, snap.Frame.Camera)
	}
}

type namedFrame struct {
	name  string
	frame *model.Frame
}

func loadFrames(dir, camera string) ([]namedFrame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var frames []namedFrame
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		img, err := codec.Decode(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping %s: %v\n", e.Name(), err)
			continue
		}
		frames = append(frames, namedFrame{name: e.Name(), frame: model.NewFrame(camera, img)})
	}
	return frames, nil
}

func fatalf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
