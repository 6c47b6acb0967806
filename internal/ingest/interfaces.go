package ingest

import (
	"context"
	"net/http"
	"time"

	"gitevents/internal/model"
	"gitevents/internal/payload"
	"gitevents/internal/store"
)

// Delivery is one inbound webhook request as seen by the pipeline.
type Delivery struct {
	EventType  string
	DeliveryID string
	Signature  string
	Body       []byte
}

// WebhookAdapter binds the pipeline to one hosting provider.
type WebhookAdapter interface {
	Provider() string
	// ReadDelivery extracts the provider headers from r. body is the already
	// read request body.
	ReadDelivery(r *http.Request, body []byte) Delivery
	Authorize(body []byte, signature string) error
	Normalize(eventType string, p payload.Object, now time.Time) Outcome
}

// PayloadIndependent is implemented by adapters that know event types whose
// outcome does not depend on the body. For those the pipeline normalizes an
// empty object when the body does not parse.
type PayloadIndependent interface {
	IgnoresPayload(eventType string) bool
}

// Sink is the part of the record store the pipeline writes to.
type Sink interface {
	Insert(ctx context.Context, record model.Record) (store.RecordID, error)
}

// Observer receives one call per terminal pipeline state.
type Observer interface {
	ObserveDelivery(eventType, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveDelivery(string, string) {}
