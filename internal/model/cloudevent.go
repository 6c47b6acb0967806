package model

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
)

const CloudEventSource = "/gitevents/webhook"

// ToCloudEvent wraps a stored record in a CloudEvents 1.0 envelope. The store
// identifier becomes the event id and the receive time the event time.
func (r Record) ToCloudEvent(id string, receivedAt time.Time) (event.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(id)
	ce.SetSource(CloudEventSource)
	ce.SetType("com.github." + string(r.Action))
	ce.SetSubject(r.ToBranch)
	ce.SetTime(receivedAt.UTC())

	ce.SetExtension("author", r.Author)

	if err := ce.SetData(cloudevents.ApplicationJSON, r); err != nil {
		return ce, err
	}
	if err := ce.Validate(); err != nil {
		return ce, err
	}
	return ce, nil
}
