package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitevents/internal/model"
	"gitevents/internal/payload"
	"gitevents/internal/store"

	"github.com/go-logr/logr"
)

type Status string

const (
	StatusStored  Status = "stored"
	StatusIgnored Status = "ignored"
)

// Result describes a request that ended without error.
type Result struct {
	Status Status
	ID     store.RecordID
	Record model.Record
	Reason string
}

// Pipeline runs verify → parse → normalize → persist for one delivery at a
// time. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	adapter  WebhookAdapter
	sink     Sink
	logger   logr.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Pipeline)

func WithLogger(l logr.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPipeline(adapter WebhookAdapter, sink Sink, opts ...Option) *Pipeline {
	if adapter == nil {
		panic("ingest: adapter is required")
	}
	if sink == nil {
		panic("ingest: sink is required")
	}
	p := &Pipeline{
		adapter:  adapter,
		sink:     sink,
		logger:   logr.Discard(),
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Adapter() WebhookAdapter {
	return p.adapter
}

// Ingest drives d to a terminal state. Errors are always one of *AuthError,
// *PayloadError, *ValidationError or *StoreError; the sink is only called for
// authenticated, well formed, actionable events.
func (p *Pipeline) Ingest(ctx context.Context, d Delivery) (Result, error) {
	log := p.logger.WithValues(
		"provider", p.adapter.Provider(),
		"event", d.EventType,
		"delivery_id", d.DeliveryID,
	)

	if err := p.adapter.Authorize(d.Body, d.Signature); err != nil {
		log.Info("webhook rejected", "outcome", "unauthorized", "reason", err.Error())
		p.observer.ObserveDelivery(d.EventType, "unauthorized")
		return Result{}, &AuthError{Err: err}
	}

	tree, err := payload.Parse(d.Body)
	if err != nil && p.ignoresPayload(d.EventType) {
		log.V(1).Info("unparseable body for payload independent event", "reason", err.Error())
		tree, err = payload.Object{}, nil
	}
	if err != nil {
		log.Info("webhook rejected", "outcome", "bad_payload", "reason", err.Error())
		p.observer.ObserveDelivery(d.EventType, "bad_payload")
		return Result{}, &PayloadError{Err: err}
	}

	outcome := p.adapter.Normalize(d.EventType, tree, p.now())
	switch outcome.Kind {
	case OutcomeIgnored:
		log.V(1).Info("webhook ignored", "outcome", "ignored", "reason", outcome.Reason)
		p.observer.ObserveDelivery(d.EventType, "ignored")
		return Result{Status: StatusIgnored, Reason: outcome.Reason}, nil
	case OutcomeInvalid:
		verr := &ValidationError{Event: d.EventType, Field: outcome.Field, Reason: outcome.Reason}
		log.Info("webhook rejected", "outcome", "invalid", "field", outcome.Field, "reason", outcome.Reason)
		p.observer.ObserveDelivery(d.EventType, "invalid")
		return Result{}, verr
	case OutcomeRecord:
	default:
		err := fmt.Errorf("normalizer returned unknown outcome %d", outcome.Kind)
		log.Error(err, "webhook not stored", "outcome", "store_error")
		p.observer.ObserveDelivery(d.EventType, "store_error")
		return Result{}, &StoreError{Err: err}
	}

	id, err := p.sink.Insert(ctx, outcome.Record)
	if err != nil {
		log.Error(err, "webhook not stored", "outcome", "store_error")
		p.observer.ObserveDelivery(d.EventType, "store_error")
		return Result{}, &StoreError{Err: err}
	}
	log.Info("webhook stored",
		"outcome", "stored",
		"record_id", string(id),
		"action", string(outcome.Record.Action),
		"author", outcome.Record.Author,
		"to_branch", outcome.Record.ToBranch,
	)
	p.observer.ObserveDelivery(d.EventType, "stored")
	return Result{Status: StatusStored, ID: id, Record: outcome.Record}, nil
}

func (p *Pipeline) ignoresPayload(eventType string) bool {
	pi, ok := p.adapter.(PayloadIndependent)
	return ok && pi.IgnoresPayload(eventType)
}

// IsClientError reports whether err was caused by the request rather than by
// the service.
func IsClientError(err error) bool {
	var authErr *AuthError
	var payloadErr *PayloadError
	var validationErr *ValidationError
	return errors.As(err, &authErr) || errors.As(err, &payloadErr) || errors.As(err, &validationErr)
}
