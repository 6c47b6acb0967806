package api

import "net/http"

// RoutePaths lists every path served by Routes, for metric labelling.
var RoutePaths = []string{"/", "/healthz", "/webhook", "/data"}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/data", s.handleData)
	return mux
}
