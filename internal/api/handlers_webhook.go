package api

import (
	"errors"
	"net/http"

	"gitevents/internal/ingest"
	"gitevents/internal/providers/shared"
)

const (
	msgSaved          = "Webhook data saved"
	msgNoData         = "No data received"
	msgSaveFailed     = "failed to save webhook data"
	msgBodyTooLarge   = "request body is too large"
	msgRateLimited    = "rate limit exceeded"
	msgMethodNotAllow = "method not allowed"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeFailed(w, http.StatusMethodNotAllowed, msgMethodNotAllow)
		return
	}
	if !s.rateLimiter.Allow(clientIP(r, s.trustForwardedFor), rateWebhook) {
		writeFailed(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}
	body, err := readBodyLimited(w, r, s.maxBodyBytes)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeFailed(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeFailed(w, http.StatusBadRequest, msgNoData)
		return
	}

	delivery := s.pipeline.Adapter().ReadDelivery(r, body)
	res, err := s.pipeline.Ingest(r.Context(), delivery)

	var authErr *ingest.AuthError
	if errors.As(err, &authErr) {
		s.auditAuth(r, "deny", delivery.EventType, delivery.DeliveryID, authErr.Err.Error())
	} else {
		s.auditAuth(r, "allow", delivery.EventType, delivery.DeliveryID, "")
	}

	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	if res.Status == ingest.StatusIgnored {
		writeMessage(w, http.StatusOK, statusIgnored, res.Reason)
		return
	}
	writeMessage(w, http.StatusOK, statusSuccess, msgSaved)
}

// writeIngestError maps the pipeline error taxonomy onto responses. Store
// failure causes are logged by the pipeline and never echoed.
func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	if !ingest.IsClientError(err) {
		writeFailed(w, http.StatusInternalServerError, msgSaveFailed)
		return
	}
	var (
		authErr       *ingest.AuthError
		validationErr *ingest.ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		if errors.Is(err, shared.ErrMissingSignature) {
			writeFailed(w, http.StatusBadRequest, shared.ErrMissingSignature.Error())
			return
		}
		writeFailed(w, http.StatusForbidden, shared.ErrInvalidSignature.Error())
	case errors.As(err, &validationErr):
		writeFailed(w, http.StatusBadRequest, validationErr.Message())
	default:
		writeFailed(w, http.StatusBadRequest, msgNoData)
	}
}
