package github

import (
	"net/http"
	"time"

	"gitevents/internal/ingest"
	"gitevents/internal/payload"
	"gitevents/internal/providers/shared"

	githubv53 "github.com/google/go-github/v53/github"
)

const signatureHeader = "X-Hub-Signature-256"

var (
	_ ingest.WebhookAdapter     = Adapter{}
	_ ingest.PayloadIndependent = Adapter{}
)

type Adapter struct {
	Normalizer Normalizer
	Secret     []byte
}

func NewAdapter(secret string) Adapter {
	return Adapter{
		Normalizer: Normalizer{},
		Secret:     []byte(secret),
	}
}

func (a Adapter) Provider() string { return "github" }

func (a Adapter) ReadDelivery(r *http.Request, body []byte) ingest.Delivery {
	return ingest.Delivery{
		EventType:  shared.NormalizeEventType(githubv53.WebHookType(r)),
		DeliveryID: shared.FallbackDelivery(githubv53.DeliveryID(r), body),
		Signature:  r.Header.Get(signatureHeader),
		Body:       body,
	}
}

// Authorize verifies the X-Hub-Signature-256 value. An empty secret never
// authenticates a request.
func (a Adapter) Authorize(body []byte, signature string) error {
	if len(a.Secret) == 0 && signature != "" {
		return shared.ErrInvalidSignature
	}
	return shared.Verify(a.Secret, body, signature)
}

func (a Adapter) Normalize(eventType string, p payload.Object, now time.Time) ingest.Outcome {
	return a.Normalizer.Normalize(eventType, p, now)
}

// IgnoresPayload reports true for ping, which is acknowledged whatever its body.
func (a Adapter) IgnoresPayload(eventType string) bool {
	return shared.NormalizeEventType(eventType) == eventPing
}
