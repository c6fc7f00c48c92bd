package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"leakwatch/internal/database"
	"leakwatch/internal/model"
)

const defaultStatsDays = 7

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	SendSuccessResponse(w, map[string]string{"status": "ok"})
}

// listEvents serves GET /api/events?suspicious=true&from=...&to=...
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	suspicious := q.Get("suspicious") == "true"

	var (
		events []*model.FileEvent
		err    error
	)
	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		from, to, apiErr := s.window(q.Get("from"), q.Get("to"))
		if apiErr != nil {
			SendErrorResponse(w, apiErr)
			return
		}
		events, err = s.store.GetEventsByDateRange(from, to)
		if err == nil && suspicious {
			events = onlySuspicious(events)
		}
	case suspicious:
		events, err = s.store.GetSuspiciousEvents()
	default:
		events, err = s.store.GetAllEvents()
	}
	if err != nil {
		s.internalError(w, "listing events", err)
		return
	}
	SendSuccessResponse(w, events)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id, apiErr := pathID(r)
	if apiErr != nil {
		SendErrorResponse(w, apiErr)
		return
	}
	e, err := s.store.GetEvent(id)
	if err != nil {
		s.internalError(w, "finding event", err)
		return
	}
	if e == nil {
		SendErrorResponse(w, NewAPIError("event not found", http.StatusNotFound))
		return
	}
	SendSuccessResponse(w, e)
}

// listAlerts serves GET /api/alerts?unacknowledged=true
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.GetAllAlerts()
	if err != nil {
		s.internalError(w, "listing alerts", err)
		return
	}
	if r.URL.Query().Get("unacknowledged") == "true" {
		open := []*model.Alert{}
		for _, a := range alerts {
			if !a.Acknowledged {
				open = append(open, a)
			}
		}
		alerts = open
	}
	SendSuccessResponse(w, alerts)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	id, apiErr := pathID(r)
	if apiErr != nil {
		SendErrorResponse(w, apiErr)
		return
	}
	a, err := s.store.GetAlert(id)
	if err != nil {
		s.internalError(w, "finding alert", err)
		return
	}
	if a == nil {
		SendErrorResponse(w, NewAPIError("alert not found", http.StatusNotFound))
		return
	}
	SendSuccessResponse(w, a)
}

func (s *Server) ackAlert(w http.ResponseWriter, r *http.Request) {
	id, apiErr := pathID(r)
	if apiErr != nil {
		SendErrorResponse(w, apiErr)
		return
	}
	if err := s.store.AcknowledgeAlert(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			SendErrorResponse(w, NewAPIError("alert not found", http.StatusNotFound))
			return
		}
		s.internalError(w, "acknowledging alert", err)
		return
	}
	s.logger.Info("alert acknowledged", "alert_id", id, "client", clientIP(r, s.trustProxy))
	SendSuccessResponse(w, map[string]any{"id": id, "acknowledged": true})
}

// findFingerprints serves GET /api/fingerprints?hash=<hex>
func (s *Server) findFingerprints(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		SendErrorResponse(w, NewAPIError("hash query parameter is required", http.StatusBadRequest))
		return
	}
	fps, err := s.store.FindFingerprintsByHash(hash)
	if err != nil {
		s.internalError(w, "finding fingerprints", err)
		return
	}
	SendSuccessResponse(w, fps)
}

// stats serves GET /api/stats?days=N or ?from=...&to=...
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from, to time.Time
	if q.Get("from") != "" || q.Get("to") != "" {
		var apiErr *APIError
		from, to, apiErr = s.window(q.Get("from"), q.Get("to"))
		if apiErr != nil {
			SendErrorResponse(w, apiErr)
			return
		}
	} else {
		days := defaultStatsDays
		if raw := q.Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				SendErrorResponse(w, NewAPIError("days must be a positive integer", http.StatusBadRequest))
				return
			}
			days = n
		}
		to = s.clock.Now()
		from = to.AddDate(0, 0, -days)
	}

	events, err := s.store.GetEventsByDateRange(from, to)
	if err != nil {
		s.internalError(w, "summarizing events", err)
		return
	}
	SendSuccessResponse(w, model.Summarize(from, to, events))
}

// window resolves optional from/to bounds. A missing lower bound means the
// epoch; a missing upper bound means now.
func (s *Server) window(rawFrom, rawTo string) (time.Time, time.Time, *APIError) {
	from := time.Unix(0, 0).UTC()
	to := s.clock.Now()
	var err error
	if rawFrom != "" {
		if from, err = model.ParseBound(rawFrom, false); err != nil {
			return time.Time{}, time.Time{}, NewAPIError(err.Error(), http.StatusBadRequest)
		}
	}
	if rawTo != "" {
		if to, err = model.ParseBound(rawTo, true); err != nil {
			return time.Time{}, time.Time{}, NewAPIError(err.Error(), http.StatusBadRequest)
		}
	}
	return from, to, nil
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("api "+op, "error", err)
	SendErrorResponse(w, NewAPIError("internal error", http.StatusInternalServerError))
}

func pathID(r *http.Request) (int64, *APIError) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, NewAPIError("invalid id", http.StatusBadRequest)
	}
	return id, nil
}

func onlySuspicious(events []*model.FileEvent) []*model.FileEvent {
	out := []*model.FileEvent{}
	for _, e := range events {
		if e.Suspicious {
			out = append(out, e)
		}
	}
	return out
}
