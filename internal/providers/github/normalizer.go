package github

import (
	"errors"
	"time"

	"gitevents/internal/ingest"
	"gitevents/internal/model"
	"gitevents/internal/payload"
	"gitevents/internal/providers/shared"
)

const (
	eventPing        = "ping"
	eventPush        = "push"
	eventPullRequest = "pull_request"

	reasonPing            = "ping"
	reasonPRNotRelevant   = "pull request not relevant"
	reasonUnhandledPrefix = "unhandled event: "
)

// Normalizer maps GitHub webhook payloads onto model.Record. It is a pure
// function of its inputs.
type Normalizer struct{}

func (Normalizer) Normalize(eventType string, p payload.Object, now time.Time) ingest.Outcome {
	eventType = shared.NormalizeEventType(eventType)
	timestamp := model.FormatTimestamp(now)

	switch eventType {
	case eventPing:
		return ingest.Ignored(reasonPing)
	case eventPush:
		return normalizePush(p, timestamp)
	case eventPullRequest:
		return normalizePullRequest(p, timestamp)
	default:
		return ingest.Ignored(reasonUnhandledPrefix + eventType)
	}
}

func normalizePush(p payload.Object, timestamp string) ingest.Outcome {
	author, err := p.NonEmptyString("pusher", "name")
	if err != nil {
		return invalid(err)
	}
	ref, err := p.String("ref")
	if err != nil {
		return invalid(err)
	}
	return ingest.RecordOutcome(model.Record{
		Action:    model.ActionPush,
		Author:    author,
		ToBranch:  shared.LastSegment(ref),
		Timestamp: timestamp,
	})
}

func normalizePullRequest(p payload.Object, timestamp string) ingest.Outcome {
	action, err := p.String("action")
	if err != nil {
		return invalid(err)
	}
	author, err := p.NonEmptyString("pull_request", "user", "login")
	if err != nil {
		return invalid(err)
	}
	head, err := p.String("pull_request", "head", "ref")
	if err != nil {
		return invalid(err)
	}
	base, err := p.String("pull_request", "base", "ref")
	if err != nil {
		return invalid(err)
	}

	var kind model.Action
	switch action {
	case "opened":
		kind = model.ActionPullRequest
	case "closed":
		// An absent or non-boolean merged flag counts as not merged.
		if merged, err := p.Bool("pull_request", "merged"); err != nil || !merged {
			return ingest.Ignored(reasonPRNotRelevant)
		}
		kind = model.ActionMerge
	default:
		return ingest.Ignored(reasonPRNotRelevant)
	}

	return ingest.RecordOutcome(model.Record{
		Action:     kind,
		Author:     author,
		FromBranch: model.StringPtr(head),
		ToBranch:   base,
		Timestamp:  timestamp,
	})
}

func invalid(err error) ingest.Outcome {
	var fe *payload.FieldError
	if errors.As(err, &fe) {
		return ingest.Invalid(fe.Error(), fe.Path)
	}
	return ingest.Invalid(err.Error(), "")
}
