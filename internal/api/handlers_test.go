package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kamwali/realtime/internal/history"
	"github.com/kamwali/realtime/internal/protocol"
	"github.com/kamwali/realtime/internal/report"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeHistory struct {
	saved  []history.Message
	marked int64
}

func (f *fakeHistory) Save(_ context.Context, msg *history.Message) error {
	msg.ID = int64(len(f.saved) + 1)
	msg.CreatedAt = time.Now()
	f.saved = append(f.saved, *msg)
	return nil
}

func (f *fakeHistory) Conversation(context.Context, string, string, int, int64) ([]history.Message, error) {
	return f.saved, nil
}

func (f *fakeHistory) MarkRead(context.Context, string, string) (int64, error) {
	return f.marked, nil
}

func (f *fakeHistory) UnreadCount(context.Context, string) (int, error) {
	return int(f.marked), nil
}

type fakeBlocks struct {
	blocked map[string]bool
}

func newFakeBlocks() *fakeBlocks { return &fakeBlocks{blocked: make(map[string]bool)} }

func (f *fakeBlocks) Block(_ context.Context, userID, targetID string) error {
	f.blocked[userID+"|"+targetID] = true
	return nil
}

func (f *fakeBlocks) Unblock(_ context.Context, userID, targetID string) error {
	delete(f.blocked, userID+"|"+targetID)
	return nil
}

func (f *fakeBlocks) BlockedBy(context.Context, string) ([]string, error) {
	return nil, nil
}

type fakeReports struct {
	created []report.Report
	recent  int
}

func (f *fakeReports) Create(_ context.Context, r *report.Report) error {
	f.created = append(f.created, *r)
	return nil
}

func (f *fakeReports) CountRecent(context.Context, string, time.Duration) (int, error) {
	return f.recent, nil
}

type notification struct {
	userID string
	event  string
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Notify(targetUserID, eventName string, _ interface{}) {
	f.sent = append(f.sent, notification{userID: targetUserID, event: eventName})
}

type fakePresence struct {
	online map[string]string
}

func (f *fakePresence) IsOnline(_ context.Context, userID string) (bool, string, error) {
	server, ok := f.online[userID]
	return ok, server, nil
}

type testEnv struct {
	history  *fakeHistory
	blocks   *fakeBlocks
	reports  *fakeReports
	notifier *fakeNotifier
	handler  http.Handler
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	t.Helper()
	env := &testEnv{
		history:  &fakeHistory{},
		blocks:   newFakeBlocks(),
		reports:  &fakeReports{},
		notifier: &fakeNotifier{},
	}
	presence := &fakePresence{online: map[string]string{"u1": "relay-1"}}
	srv := NewServer(config, env.history, env.blocks, env.reports, env.notifier, presence)
	env.handler = srv.Handler()
	return env
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestCreateMessagePersists(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/messages",
		`{"senderId":1,"receiverId":"2","text":"need a cook"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(env.history.saved) != 1 {
		t.Fatalf("expected 1 saved message, got %d", len(env.history.saved))
	}
	saved := env.history.saved[0]
	if saved.SenderID != "1" || saved.ReceiverID != "2" {
		t.Errorf("expected coerced ids 1/2, got %s/%s", saved.SenderID, saved.ReceiverID)
	}
	if saved.Body != "need a cook" {
		t.Errorf("unexpected body %q", saved.Body)
	}
}

func TestCreateMessageRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/messages",
		`{"senderId":"1","receiverId":"2","text":""}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.history.saved) != 0 {
		t.Error("expected nothing persisted")
	}
}

func TestCreateMessageRejectsMissingIDs(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/messages", `{"text":"hi"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func TestCreateBlockNotifiesBothParties(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/blocks",
		`{"userId":"u1","targetId":"u2"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !env.blocks.blocked["u1|u2"] {
		t.Error("expected block record created")
	}

	if len(env.notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(env.notifier.sent))
	}
	for i, target := range []string{"u1", "u2"} {
		n := env.notifier.sent[i]
		if n.userID != target || n.event != protocol.TypeUserBlocked {
			t.Errorf("notification %d: expected %s/%s, got %s/%s",
				i, target, protocol.TypeUserBlocked, n.userID, n.event)
		}
	}
}

func TestCreateBlockRejectsSelfBlock(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/blocks",
		`{"userId":"u1","targetId":"u1"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.notifier.sent) != 0 {
		t.Error("expected no notifications for rejected block")
	}
}

func TestDeleteBlock(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.blocks.blocked["u1|u2"] = true

	rec := doJSON(t, env.handler, http.MethodDelete, "/v1/blocks",
		`{"userId":"u1","targetId":"u2"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.blocks.blocked["u1|u2"] {
		t.Error("expected block removed")
	}
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func TestCreateReportNotifiesBothParties(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/reports",
		`{"reporterId":"u1","targetId":"u2","reason":"spam","details":"keeps sending ads"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(env.reports.created) != 1 {
		t.Fatalf("expected 1 report, got %d", len(env.reports.created))
	}
	if env.reports.created[0].Reason != "spam" {
		t.Errorf("unexpected reason %q", env.reports.created[0].Reason)
	}
	if len(env.notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(env.notifier.sent))
	}
	if env.notifier.sent[0].event != protocol.TypeUserReported {
		t.Errorf("unexpected event %q", env.notifier.sent[0].event)
	}
}

func TestCreateReportRejectsInvalidReason(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/reports",
		`{"reporterId":"u1","targetId":"u2","reason":"didnt-like-them"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.reports.created) != 0 {
		t.Error("expected no report persisted")
	}
}

// ---------------------------------------------------------------------------
// KYC
// ---------------------------------------------------------------------------

func TestKYCVerifyNotifiesUser(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/kyc/u7/verify",
		`{"status":"verified","user":{"id":"u7","name":"Asha"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(env.notifier.sent))
	}
	n := env.notifier.sent[0]
	if n.userID != "u7" || n.event != protocol.TypeKYCVerified {
		t.Errorf("expected kycVerified to u7, got %s/%s", n.userID, n.event)
	}
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

func TestOnlineLookup(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/users/u1/online", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["online"] != true {
		t.Errorf("expected u1 online, got %v", resp["online"])
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/users/ghost/online", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["online"] != false {
		t.Errorf("expected ghost offline, got %v", resp["online"])
	}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, Config{JWTSecret: "test-secret"})

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/users/u1/online", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	env := newTestEnv(t, Config{JWTSecret: "test-secret"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/online", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddlewareRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, Config{JWTSecret: "test-secret"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/online", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad signature, got %d", rec.Code)
	}
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	env := newTestEnv(t, Config{JWTSecret: "test-secret"})

	rec := doJSON(t, env.handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
