package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gitevents/internal/ingest"
	"gitevents/internal/model"
	"gitevents/internal/providers/github"
	"gitevents/internal/providers/shared"
	"gitevents/internal/store"

	"github.com/go-logr/logr/testr"
	"go.uber.org/goleak"
)

const testSecret = "It's a Secret to Everybody"

var fixedNow = time.Date(2026, time.March, 6, 22, 30, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingRepo struct {
	*store.MemoryRepository
	mu        sync.Mutex
	inserts   int
	insertErr error
	listErr   error
}

func newCountingRepo() *countingRepo {
	return &countingRepo{MemoryRepository: store.NewMemoryRepository()}
}

func (c *countingRepo) Insert(ctx context.Context, r model.Record) (store.RecordID, error) {
	c.mu.Lock()
	c.inserts++
	err := c.insertErr
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.MemoryRepository.Insert(ctx, r)
}

func (c *countingRepo) ListAll(ctx context.Context) ([]store.StoredRecord, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.MemoryRepository.ListAll(ctx)
}

func (c *countingRepo) insertCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inserts
}

func newTestHandler(t *testing.T, repo *countingRepo, opts ServerOptions) http.Handler {
	t.Helper()
	pipeline := ingest.NewPipeline(github.NewAdapter(testSecret), repo,
		ingest.WithLogger(testr.New(t)),
		ingest.WithClock(func() time.Time { return fixedNow }),
	)
	opts.Logger = testr.New(t)
	return NewServerWithOptions(pipeline, repo, opts).Routes()
}

func webhookRequest(event, body string, sign bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	if sign {
		req.Header.Set("X-Hub-Signature-256", shared.Sign([]byte(testSecret), []byte(body)))
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decodeMessage(t *testing.T, res *httptest.ResponseRecorder) messageResponse {
	t.Helper()
	var msg messageResponse
	if err := json.Unmarshal(res.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
	return msg
}

func TestIndex(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	res := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Body.String() != "<h1>Webhook Receiver Active</h1>" {
		t.Fatalf("unexpected body %q", res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if res := serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil)); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", res.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	res := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response: %d %s", res.Code, res.Body.String())
	}
}

func TestWebhookResponses(t *testing.T) {
	tests := []struct {
		name    string
		req     func() *http.Request
		code    int
		status  string
		message string
		stored  bool
	}{
		{
			name:    "signed push",
			req:     func() *http.Request { return webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, true) },
			code:    http.StatusOK,
			status:  "success",
			message: "Webhook data saved",
			stored:  true,
		},
		{
			name: "signed merged pull request",
			req: func() *http.Request {
				return webhookRequest("pull_request", `{"action":"closed","pull_request":{"merged":true,"user":{"login":"bob"},"head":{"ref":"fix"},"base":{"ref":"main"}}}`, true)
			},
			code:    http.StatusOK,
			status:  "success",
			message: "Webhook data saved",
			stored:  true,
		},
		{
			name:    "ping",
			req:     func() *http.Request { return webhookRequest("ping", `{"zen":"hi"}`, true) },
			code:    http.StatusOK,
			status:  "ignored",
			message: "ping",
		},
		{
			name:    "ping with malformed body",
			req:     func() *http.Request { return webhookRequest("ping", `{"zen":`, true) },
			code:    http.StatusOK,
			status:  "ignored",
			message: "ping",
		},
		{
			name:    "unhandled event",
			req:     func() *http.Request { return webhookRequest("issues", `{"action":"opened"}`, true) },
			code:    http.StatusOK,
			status:  "ignored",
			message: "unhandled event: issues",
		},
		{
			name: "closed unmerged pull request",
			req: func() *http.Request {
				return webhookRequest("pull_request", `{"action":"closed","pull_request":{"merged":false,"user":{"login":"bob"},"head":{"ref":"fix"},"base":{"ref":"main"}}}`, true)
			},
			code:    http.StatusOK,
			status:  "ignored",
			message: "pull request not relevant",
		},
		{
			name:    "missing signature",
			req:     func() *http.Request { return webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, false) },
			code:    http.StatusBadRequest,
			status:  "failed",
			message: "missing signature",
		},
		{
			name: "invalid signature",
			req: func() *http.Request {
				req := webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, false)
				req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
				return req
			},
			code:    http.StatusForbidden,
			status:  "failed",
			message: "invalid signature",
		},
		{
			name:    "empty body",
			req:     func() *http.Request { return webhookRequest("push", "", true) },
			code:    http.StatusBadRequest,
			status:  "failed",
			message: "No data received",
		},
		{
			name:    "malformed json",
			req:     func() *http.Request { return webhookRequest("push", `{"ref":`, true) },
			code:    http.StatusBadRequest,
			status:  "failed",
			message: "No data received",
		},
		{
			name:    "push without pusher",
			req:     func() *http.Request { return webhookRequest("push", `{"ref":"refs/heads/main"}`, true) },
			code:    http.StatusBadRequest,
			status:  "failed",
			message: "Invalid push payload",
		},
		{
			name:    "pull request without head",
			req:     func() *http.Request { return webhookRequest("pull_request", `{"action":"opened","pull_request":{"user":{"login":"bob"},"base":{"ref":"main"}}}`, true) },
			code:    http.StatusBadRequest,
			status:  "failed",
			message: "Invalid pull_request payload",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newCountingRepo()
			h := newTestHandler(t, repo, ServerOptions{})
			res := serve(h, tt.req())
			if res.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, res.Code, res.Body.String())
			}
			msg := decodeMessage(t, res)
			if msg.Status != tt.status || msg.Message != tt.message {
				t.Fatalf("unexpected response %+v", msg)
			}
			wantInserts := 0
			if tt.stored {
				wantInserts = 1
			}
			if got := repo.insertCalls(); got != wantInserts {
				t.Fatalf("expected %d store calls, got %d", wantInserts, got)
			}
		})
	}
}

func TestWebhookResponseKeyOrder(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	res := serve(h, webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, true))
	if got := strings.TrimSpace(res.Body.String()); got != `{"message":"Webhook data saved","status":"success"}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestWebhookStoreFailure(t *testing.T) {
	repo := newCountingRepo()
	repo.insertErr = errors.New("connection refused to 10.0.0.5")
	h := newTestHandler(t, repo, ServerOptions{})
	res := serve(h, webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, true))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.5") {
		t.Fatalf("store error leaked to client: %s", res.Body.String())
	}
	if msg := decodeMessage(t, res); msg.Message != "failed to save webhook data" || msg.Status != "failed" {
		t.Fatalf("unexpected response %+v", msg)
	}
}

func TestWriteIngestError(t *testing.T) {
	s := NewServerWithOptions(nil, newCountingRepo(), ServerOptions{Logger: testr.New(t)})
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, msgSaveFailed},
		{"store", &ingest.StoreError{Err: errors.New("disk full")}, http.StatusInternalServerError, msgSaveFailed},
		{"missing signature", &ingest.AuthError{Err: shared.ErrMissingSignature}, http.StatusBadRequest, "missing signature"},
		{"invalid signature", &ingest.AuthError{Err: shared.ErrInvalidSignature}, http.StatusForbidden, "invalid signature"},
		{"payload", &ingest.PayloadError{Err: errors.New("not an object")}, http.StatusBadRequest, msgNoData},
		{"validation", &ingest.ValidationError{Event: "push", Field: "ref", Reason: "missing ref"}, http.StatusBadRequest, "Invalid push payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			s.writeIngestError(res, tc.err)
			if res.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, res.Code)
			}
			if msg := decodeMessage(t, res); msg.Message != tc.msg || msg.Status != "failed" {
				t.Fatalf("unexpected response %+v", msg)
			}
		})
	}
}

func TestWebhookMethodAndSize(t *testing.T) {
	repo := newCountingRepo()
	h := newTestHandler(t, repo, ServerOptions{MaxBodyBytes: 64})

	if res := serve(h, httptest.NewRequest(http.MethodGet, "/webhook", nil)); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}

	body := `{"ref":"refs/heads/main","pusher":{"name":"` + strings.Repeat("a", 128) + `"}}`
	res := serve(h, webhookRequest("push", body, true))
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
	if repo.insertCalls() != 0 {
		t.Fatalf("oversized body reached the store")
	}
}

func TestWebhookRateLimit(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{Rate: RateLimitPolicy{Enabled: true, WebhookPerMinute: 2}})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(h, webhookRequest("ping", `{}`, true)).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestWebhookRateLimitForwardedFor(t *testing.T) {
	allowed := func(trust bool) int {
		h := newTestHandler(t, newCountingRepo(), ServerOptions{
			Rate:              RateLimitPolicy{Enabled: true, WebhookPerMinute: 1},
			TrustForwardedFor: trust,
		})
		n := 0
		for i := 0; i < 50; i++ {
			req := webhookRequest("ping", `{}`, true)
			req.RemoteAddr = "10.0.0.1:5555"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i))
			if serve(h, req).Code == http.StatusOK {
				n++
			}
		}
		return n
	}
	if got := allowed(false); got != 1 {
		t.Fatalf("rotating X-Forwarded-For must not bypass the limit, %d of 50 allowed", got)
	}
	if got := allowed(true); got != 50 {
		t.Fatalf("trusted proxy clients should be limited separately, %d of 50 allowed", got)
	}
}

func TestWebhookAuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	h := newTestHandler(t, newCountingRepo(), ServerOptions{Audit: AuditPolicy{LogFile: path}})

	serve(h, webhookRequest("ping", `{}`, true))
	serve(h, webhookRequest("push", `{}`, false))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d: %q", len(lines), string(b))
	}
	var first, second auditEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "audit_auth ")), &first); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "audit_auth ")), &second); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if first.Decision != "allow" || first.Event != "ping" {
		t.Fatalf("unexpected first audit event %+v", first)
	}
	if second.Decision != "deny" || second.Reason != "missing signature" {
		t.Fatalf("unexpected second audit event %+v", second)
	}
}

func TestDataReturnsRecordsInInsertionOrder(t *testing.T) {
	repo := newCountingRepo()
	h := newTestHandler(t, repo, ServerOptions{})

	serve(h, webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, true))
	serve(h, webhookRequest("ping", `{}`, true))
	serve(h, webhookRequest("pull_request", `{"action":"opened","pull_request":{"user":{"login":"bob"},"head":{"ref":"fix"},"base":{"ref":"main"}}}`, true))
	serve(h, webhookRequest("pull_request", `{"action":"closed","pull_request":{"merged":true,"user":{"login":"bob"},"head":{"ref":"fix"},"base":{"ref":"main"}}}`, true))

	res := serve(h, httptest.NewRequest(http.MethodGet, "/data", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var records []model.Record
	if err := json.Unmarshal(res.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d: %s", len(records), res.Body.String())
	}
	stamp := "06 March 2026 - 10:30 PM UTC"
	want := []model.Record{
		{Action: model.ActionPush, Author: "alice", ToBranch: "main", Timestamp: stamp},
		{Action: model.ActionPullRequest, Author: "bob", FromBranch: model.StringPtr("fix"), ToBranch: "main", Timestamp: stamp},
		{Action: model.ActionMerge, Author: "bob", FromBranch: model.StringPtr("fix"), ToBranch: "main", Timestamp: stamp},
	}
	for i := range want {
		got := records[i]
		if got.Action != want[i].Action || got.Author != want[i].Author || got.ToBranch != want[i].ToBranch ||
			got.FromBranchValue() != want[i].FromBranchValue() || got.Timestamp != want[i].Timestamp {
			t.Fatalf("record %d: got %+v want %+v", i, got, want[i])
		}
	}
	if !strings.Contains(res.Body.String(), `"from_branch":null`) {
		t.Fatalf("push record must serialise from_branch as null: %s", res.Body.String())
	}
}

func TestDataEmptyIsArray(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	res := serve(h, httptest.NewRequest(http.MethodGet, "/data", nil))
	if got := strings.TrimSpace(res.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestDataStoreFailure(t *testing.T) {
	repo := newCountingRepo()
	repo.listErr = errors.New("boom")
	h := newTestHandler(t, repo, ServerOptions{})
	res := serve(h, httptest.NewRequest(http.MethodGet, "/data", nil))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if got := strings.TrimSpace(res.Body.String()); got != `{"status":"failed"}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestDataFilter(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	serve(h, webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, true))
	serve(h, webhookRequest("pull_request", `{"action":"closed","pull_request":{"merged":true,"user":{"login":"bob"},"head":{"ref":"fix"},"base":{"ref":"main"}}}`, true))

	tests := []struct {
		filter string
		code   int
		count  int
	}{
		{`.action == "merge"`, http.StatusOK, 1},
		{`.from_branch == null`, http.StatusOK, 1},
		{`.to_branch == "main"`, http.StatusOK, 2},
		{`.author | startswith("z")`, http.StatusOK, 0},
		{`.action ==`, http.StatusBadRequest, 0},
		{`.author`, http.StatusBadRequest, 0},
		{`.[]`, http.StatusBadRequest, 0},
		{`repeat(true)`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/data", nil)
		q := req.URL.Query()
		q.Set("filter", tt.filter)
		req.URL.RawQuery = q.Encode()
		res := serve(h, req)
		if res.Code != tt.code {
			t.Fatalf("filter %q: expected %d, got %d: %s", tt.filter, tt.code, res.Code, res.Body.String())
		}
		if tt.code != http.StatusOK {
			continue
		}
		var records []model.Record
		if err := json.Unmarshal(res.Body.Bytes(), &records); err != nil {
			t.Fatalf("filter %q: decode: %v", tt.filter, err)
		}
		if len(records) != tt.count {
			t.Fatalf("filter %q: expected %d records, got %d", tt.filter, tt.count, len(records))
		}
	}
}

func TestDataCloudEvents(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	serve(h, webhookRequest("pull_request", `{"action":"opened","pull_request":{"user":{"login":"bob"},"head":{"ref":"fix"},"base":{"ref":"main"}}}`, true))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Accept", "application/cloudevents-batch+json")
	res := serve(h, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/cloudevents-batch+json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var events []map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev["specversion"] != "1.0" || ev["type"] != "com.github.pull_request" || ev["source"] != model.CloudEventSource || ev["subject"] != "main" {
		t.Fatalf("unexpected envelope %v", ev)
	}
	if ev["author"] != "bob" {
		t.Fatalf("missing author extension: %v", ev)
	}
	data, ok := ev["data"].(map[string]interface{})
	if !ok || data["from_branch"] != "fix" {
		t.Fatalf("unexpected data %v", ev["data"])
	}
}

func TestDataMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, newCountingRepo(), ServerOptions{})
	res := serve(h, httptest.NewRequest(http.MethodPost, "/data", bytes.NewReader(nil)))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestConcurrentWebhooks(t *testing.T) {
	repo := newCountingRepo()
	h := newTestHandler(t, repo, ServerOptions{})
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := serve(h, webhookRequest("push", `{"ref":"refs/heads/main","pusher":{"name":"alice"}}`, true))
			if res.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", res.Code)
			}
		}()
	}
	wg.Wait()
	if repo.Len() != n {
		t.Fatalf("expected %d records, got %d", n, repo.Len())
	}
}
