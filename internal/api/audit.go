package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"
)

type auditEvent struct {
	Time       string `json:"time"`
	Decision   string `json:"decision"`
	Mechanism  string `json:"mechanism"`
	Event      string `json:"event,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteIP   string `json:"remote_ip,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// auditAuth records one signature decision in the log and, when configured,
// appends it to the audit file as a JSON line.
func (s *Server) auditAuth(r *http.Request, decision, event, deliveryID, reason string) {
	ev := auditEvent{
		Time:       time.Now().UTC().Format(time.RFC3339),
		Decision:   decision,
		Mechanism:  "hmac-sha256",
		Event:      strings.TrimSpace(event),
		DeliveryID: strings.TrimSpace(deliveryID),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteIP:   clientIP(r, s.trustForwardedFor),
		RequestID:  strings.TrimSpace(r.Header.Get("X-Request-Id")),
		Reason:     strings.TrimSpace(reason),
	}
	log := s.logger.WithName("audit")
	log.Info("audit_auth",
		"decision", ev.Decision,
		"mechanism", ev.Mechanism,
		"event", ev.Event,
		"delivery_id", ev.DeliveryID,
		"remote_ip", ev.RemoteIP,
		"reason", ev.Reason,
	)
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error(err, "audit event not encoded")
		return
	}
	s.writeAuditLine("audit_auth " + string(b))
}

func (s *Server) writeAuditLine(line string) {
	path := strings.TrimSpace(s.audit.LogFile)
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		s.logger.Error(err, "audit file not writable", "path", path)
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line + "\n")
}
