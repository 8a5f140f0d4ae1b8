package route

import (
	"net/http"
	"os"
	"path/filepath"

	"visionrelay/internal/config"
	"visionrelay/internal/handler"
	"visionrelay/internal/logger"
	"visionrelay/internal/metrics"
	"visionrelay/internal/middleware"
	"visionrelay/internal/repository"
	"visionrelay/internal/service/slot"
	"visionrelay/internal/service/websocket"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the services the HTTP surface reads from.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	Metrics    *metrics.Collector
	Hub        *websocket.HubService
	Latest     *slot.LatestResult
	Engine     handler.StatusReporter
	Matches    repository.MatchRepository
	Detections repository.DetectionRepository
	Annotate   handler.Annotator
	Detection  http.Handler      // serves /yolo; nil disables it
	Frames     handler.FrameSink // receives /camera/upload; nil disables it
	StaticDir  string
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers API, log, auth and detection endpoints and wraps
// the router with the authentication middleware.
func SetupRoutes(d Deps) http.Handler {
	staticDir := d.StaticDir
	if staticDir == "" {
		staticDir = "static"
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/healthz"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Sequence-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.AuthMiddleware)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	if d.Detection != nil {
		r.Handle("/yolo", d.Detection)
	}
	if d.Frames != nil {
		r.Post("/camera/upload", handler.UploadFrameHandler(d.Frames, d.Logger))
	}

	r.Route("/api", func(r chi.Router) {
		if d.Hub != nil {
			r.Get("/view", handler.ViewWebsocketHandler(d.Hub, d.Logger))
		}
		r.Get("/latest", handler.LatestHandler(d.Latest, d.Logger))
		if d.Annotate != nil {
			r.Get("/latest/image", handler.LatestImageHandler(d.Latest, d.Annotate, d.Logger))
		}
		r.Get("/engine", handler.EngineStatusHandler(d.Engine, viewerCounter(d.Hub), d.Config.Transport, d.Logger))

		if d.Matches != nil {
			r.Get("/matches", handler.GetMatchesHandler(d.Matches, d.Logger))
			r.Get("/matches/stats", handler.MatchStatsHandler(d.Matches, d.Logger))
			r.Get("/matches/{id}", handler.GetMatchHandler(d.Matches, d.Logger))
			r.Delete("/matches", handler.ClearMatchesHandler(d.Matches, d.Logger))
		}
		if d.Detections != nil {
			r.Get("/labels", handler.LabelsHandler(d.Detections, d.Logger))
		}
	})

	r.Get("/logs/{level}", handler.ShowLogsHandler(d.Logger))
	r.Post("/logs/{level}/clear", handler.ClearLogsHandler(d.Logger))

	r.Post("/auth/login", handler.LoginHandler(d.Config, d.Logger))
	r.HandleFunc("/auth/logout", handler.LogoutHandler)

	r.Get("/*", dynamicHTMLHandler(staticDir))

	return r
}

func viewerCounter(hub *websocket.HubService) handler.ViewerCounter {
	if hub == nil {
		return nil
	}
	return hub
}
