package api

import (
	"context"

	"gitevents/internal/ingest"
	"gitevents/internal/store"

	"github.com/go-logr/logr"
)

const defaultMaxBodyBytes int64 = 25 << 20

// RecordLister is the read side of the record store.
type RecordLister interface {
	ListAll(ctx context.Context) ([]store.StoredRecord, error)
}

type AuditPolicy struct {
	LogFile string
}

type RateLimitPolicy struct {
	Enabled          bool
	WebhookPerMinute int
	ReadPerMinute    int
}

type ServerOptions struct {
	MaxBodyBytes int64
	Audit        AuditPolicy
	Rate         RateLimitPolicy
	Logger       logr.Logger

	// TrustForwardedFor takes client addresses from X-Forwarded-For. Enable it
	// only behind a proxy that sets the header.
	TrustForwardedFor bool
}

type Server struct {
	pipeline     *ingest.Pipeline
	records      RecordLister
	maxBodyBytes int64
	audit        AuditPolicy
	rateLimiter  *requestRateLimiter
	logger       logr.Logger

	trustForwardedFor bool
}

func NewServerWithOptions(pipeline *ingest.Pipeline, records RecordLister, opts ServerOptions) *Server {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Server{
		pipeline:     pipeline,
		records:      records,
		maxBodyBytes: maxBody,
		audit:        opts.Audit,
		rateLimiter:  newRequestRateLimiter(opts.Rate),
		logger:       logger,

		trustForwardedFor: opts.TrustForwardedFor,
	}
}
