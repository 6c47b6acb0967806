package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gitevents/internal/model"
	"gitevents/internal/store"

	"github.com/cloudevents/sdk-go/v2/event"
)

// filterRequestTimeout bounds the filter evaluation over all records of one
// request.
const filterRequestTimeout = 5 * time.Second

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeFailed(w, http.StatusMethodNotAllowed, msgMethodNotAllow)
		return
	}
	if !s.rateLimiter.Allow(clientIP(r, s.trustForwardedFor), rateRead) {
		writeFailed(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}
	filter, err := parseRecordFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeFailed(w, http.StatusBadRequest, err.Error())
		return
	}

	all, err := s.records.ListAll(r.Context())
	if err != nil {
		s.logger.Error(err, "list records failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": statusFailed})
		return
	}
	filterCtx, cancel := context.WithTimeout(r.Context(), filterRequestTimeout)
	defer cancel()
	stored := make([]store.StoredRecord, 0, len(all))
	for _, sr := range all {
		ok, err := filter.Match(filterCtx, sr.Record.Fields())
		if err != nil {
			writeFailed(w, http.StatusBadRequest, err.Error())
			return
		}
		if ok {
			stored = append(stored, sr)
		}
	}

	if wantsCloudEvents(r) {
		s.writeCloudEvents(w, stored)
		return
	}
	records := make([]model.Record, 0, len(stored))
	for _, sr := range stored {
		records = append(records, sr.Record)
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) writeCloudEvents(w http.ResponseWriter, stored []store.StoredRecord) {
	events := make([]event.Event, 0, len(stored))
	for _, sr := range stored {
		ev, err := sr.Record.ToCloudEvent(string(sr.ID), sr.ReceivedAt)
		if err != nil {
			s.logger.Error(err, "record not convertible to cloudevent", "record_id", string(sr.ID))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": statusFailed})
			return
		}
		events = append(events, ev)
	}
	w.Header().Set("Content-Type", event.ApplicationCloudEventsBatchJSON)
	writeJSON(w, http.StatusOK, events)
}

func wantsCloudEvents(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get("Accept"), ",") {
		mt := strings.TrimSpace(strings.SplitN(v, ";", 2)[0])
		if strings.EqualFold(mt, event.ApplicationCloudEventsBatchJSON) {
			return true
		}
	}
	return false
}
