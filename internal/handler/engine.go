package handler

import (
	"net/http"

	"visionrelay/internal/dto"
	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/service/correlation"
)

// StatusReporter exposes the correlation engine state.
type StatusReporter interface {
	Status() correlation.Status
}

// ViewerCounter reports connected viewers.
type ViewerCounter interface {
	GetClientCount() int
}

// EngineStatusHandler reports the id counter and in-flight queue.
func EngineStatusHandler(engine StatusReporter, viewers ViewerCounter, transport string, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := engine.Status()
		inFlight := st.InFlight
		if inFlight == nil {
			inFlight = []model.SequenceID{}
		}

		data := dto.EngineStatus{
			NextID:    st.NextID,
			InFlight:  inFlight,
			Depth:     len(inFlight),
			Local:     st.Local,
			Transport: transport,
		}
		if viewers != nil {
			data.Viewers = viewers.GetClientCount()
		}
		writeJSON(w, logger, http.StatusOK, data)
	}
}
