package handler

import (
	"net/http"
	"strconv"

	"visionrelay/internal/dto"
	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/repository"

	"github.com/go-chi/chi/v5"
)

// GetMatchesHandler returns a filtered page of stored matches.
func GetMatchesHandler(matches repository.MatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.MatchFilter{
			Camera: q.Get("camera"),
			Label:  q.Get("label"),
			Since:  parseSince(q.Get("since")),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		list, err := matches.GetAll(filter)
		if err != nil {
			logger.Error("Error querying matches from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []model.Match{}
		}

		writeJSON(w, logger, http.StatusOK, dto.MatchesData{
			Matches:     list,
			Length:      len(list),
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetMatchHandler returns one match by its row id.
func GetMatchHandler(matches repository.MatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid match id", http.StatusBadRequest)
			return
		}

		m, err := matches.GetByID(id)
		if err != nil {
			logger.Error("Error loading match %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if m == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, logger, http.StatusOK, m)
	}
}

// MatchStatsHandler returns per-camera and per-label counts.
func MatchStatsHandler(matches repository.MatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := matches.GetStats()
		if err != nil {
			logger.Error("Error computing match stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, http.StatusOK, stats)
	}
}

// ClearMatchesHandler deletes every stored match.
func ClearMatchesHandler(matches repository.MatchRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := matches.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		logger.Info("All matches cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

// LabelsHandler lists every label ever detected.
func LabelsHandler(detections repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		labels, err := detections.GetAllLabels()
		if err != nil {
			logger.Error("Error querying labels: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if labels == nil {
			labels = []string{}
		}
		writeJSON(w, logger, http.StatusOK, labels)
	}
}
