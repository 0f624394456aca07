package trust

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tendant/simple-trustgate/internal/http/middleware"
	"github.com/tendant/simple-trustgate/pkg/domain"
	"github.com/tendant/simple-trustgate/pkg/gate"
)

// memStore is an in-memory gate.BanStore and gate.WarningStore.
type memStore struct {
	mu       sync.Mutex
	bans     map[uuid.UUID]*domain.Ban
	warnings map[uuid.UUID][]*domain.Warning
	err      error
}

func newMemStore() *memStore {
	return &memStore{
		bans:     make(map[uuid.UUID]*domain.Ban),
		warnings: make(map[uuid.UUID][]*domain.Warning),
	}
}

func (s *memStore) LatestActive(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if b, ok := s.bans[userID]; ok && b.IsActiveAt(now) {
		return b, nil
	}
	return nil, domain.ErrBanNotFound
}

func (s *memStore) ListUnacknowledged(ctx context.Context, userID uuid.UUID) ([]*domain.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*domain.Warning
	for _, w := range s.warnings[userID] {
		if w.State() == domain.WarningPending {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Acknowledge(ctx context.Context, userID, warningID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, w := range s.warnings[userID] {
		if w.ID == warningID {
			return w.Acknowledge(at), nil
		}
	}
	return false, nil
}

func (s *memStore) warn(userID uuid.UUID) *domain.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &domain.Warning{
		ID:        uuid.New(),
		UserID:    userID,
		Reason:    "please follow the rules",
		Severity:  domain.SeverityMedium,
		CreatedAt: time.Now(),
	}
	s.warnings[userID] = append(s.warnings[userID], w)
	return w
}

type fixture struct {
	store   *memStore
	handler *Handler
	router  http.Handler
	userID  uuid.UUID
}

// newFixture mounts the handler behind a middleware that injects a session.
func newFixture(t *testing.T, pending bool) *fixture {
	return newExpiringFixture(t, pending, time.Time{})
}

// newExpiringFixture is newFixture with sessions whose token expires at expiresAt.
func newExpiringFixture(t *testing.T, pending bool, expiresAt time.Time) *fixture {
	t.Helper()
	store := newMemStore()
	g := gate.New(gate.Config{PollInterval: time.Hour}, store, store, nil)
	h := NewHandler(nil, g, nil)
	userID := uuid.New()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := &domain.Session{UserID: userID, MFAPending: pending, ExpiresAt: expiresAt}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.SessionKey, session)))
		})
	})
	r.Get("/v1/me/gate", h.Gate)
	r.Get("/v1/me/gate/stream", h.Stream)
	r.Get("/v1/me/warnings", h.Warnings)
	r.Post("/v1/me/warnings/{id}/acknowledge", h.Acknowledge)

	return &fixture{store: store, handler: h, router: r, userID: userID}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeDecision(t *testing.T, rec *httptest.ResponseRecorder) domain.Decision {
	t.Helper()
	var d domain.Decision
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	return d
}

func TestGate(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/v1/me/gate?route=/feed")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if d := decodeDecision(t, rec); d.Kind != domain.DecisionAllow || d.Redirect != "" {
		t.Errorf("decision = %+v, want allow in place", d)
	}

	reason := "spam"
	f.store.bans[f.userID] = &domain.Ban{ID: uuid.New(), UserID: f.userID, Reason: &reason, BannedAt: time.Now()}
	d := decodeDecision(t, f.do(http.MethodGet, "/v1/me/gate?route=/feed"))
	if d.Kind != domain.DecisionRedirectBanned || d.Redirect != "/banned" || d.Reason == nil || *d.Reason != "spam" {
		t.Errorf("decision = %+v, want redirect to /banned with reason", d)
	}
}

func TestGate_PendingSession(t *testing.T) {
	f := newFixture(t, true)

	d := decodeDecision(t, f.do(http.MethodGet, "/v1/me/gate?route=/feed"))
	if d.Kind != domain.DecisionRedirectMFAChallenge || d.Redirect != "/mfa" {
		t.Errorf("decision = %+v, want redirect to /mfa", d)
	}
}

func TestWarningsAndAcknowledge(t *testing.T) {
	f := newFixture(t, false)
	w := f.store.warn(f.userID)

	rec := f.do(http.MethodGet, "/v1/me/warnings")
	var status domain.WarningStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.HasUnacknowledged || len(status.Warnings) != 1 || status.Warnings[0].ID != w.ID {
		t.Errorf("status = %+v, want the pending warning", status)
	}

	path := "/v1/me/warnings/" + w.ID.String() + "/acknowledge?route=/warning"
	rec = f.do(http.MethodPost, path)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, want 200", rec.Code)
	}
	var resp AcknowledgeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision.Kind != domain.DecisionAllow || resp.Decision.Redirect != "/" {
		t.Errorf("decision = %+v, want allow with redirect to landing", resp.Decision)
	}

	// Second acknowledge is a no-op.
	if rec := f.do(http.MethodPost, path); rec.Code != http.StatusOK {
		t.Errorf("repeat acknowledge status = %d, want 200", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/v1/me/warnings/not-a-uuid/acknowledge"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestWarnings_StoreUnavailable(t *testing.T) {
	f := newFixture(t, false)
	f.store.err = errors.New("connection refused")

	rec := f.do(http.MethodGet, "/v1/me/warnings")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("raw store error leaked into response")
	}
}

func readDecision(t *testing.T, conn *websocket.Conn) domain.Decision {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "decision" || msg.Decision == nil {
		t.Fatalf("message = %+v, want decision", msg)
	}
	return *msg.Decision
}

func TestStream(t *testing.T) {
	f := newFixture(t, false)
	w := f.store.warn(f.userID)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/me/gate/stream?route=/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	d := readDecision(t, conn)
	if d.Kind != domain.DecisionRedirectWarning || d.Warning == nil || d.Warning.ID != w.ID {
		t.Fatalf("first decision = %+v, want warning redirect", d)
	}

	// Moving onto the warning page keeps the kind but drops the redirect.
	if err := conn.WriteJSON(StreamCommand{Type: "navigate", Route: "/warning"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	d = readDecision(t, conn)
	if d.Kind != domain.DecisionRedirectWarning || d.Redirect != "" {
		t.Fatalf("decision on /warning = %+v, want warning rendered in place", d)
	}

	if err := conn.WriteJSON(StreamCommand{Type: "acknowledge", WarningID: w.ID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	d = readDecision(t, conn)
	if d.Kind != domain.DecisionAllow || d.Redirect != "/" {
		t.Errorf("decision after acknowledge = %+v, want allow back to landing", d)
	}
}

func TestStream_UnknownCommand(t *testing.T) {
	f := newFixture(t, false)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/me/gate/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readDecision(t, conn)
	if err := conn.WriteJSON(StreamCommand{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" || msg.Error != "unknown command" {
		t.Errorf("message = %+v, want unknown command error", msg)
	}
}

// readClose reads until the server closes the stream and returns the close error.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg StreamMessage
		err := conn.ReadJSON(&msg)
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("read error = %v, want close frame", err)
		}
		return closeErr
	}
}

func TestStream_ClosesAtTokenExpiry(t *testing.T) {
	f := newExpiringFixture(t, true, time.Now().Add(300*time.Millisecond))
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/me/gate/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if d := readDecision(t, conn); d.Kind != domain.DecisionRedirectMFAChallenge {
		t.Fatalf("first decision = %+v, want MFA challenge redirect", d)
	}

	closeErr := readClose(t, conn)
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "session expired" {
		t.Errorf("close = %d %q, want %d \"session expired\"", closeErr.Code, closeErr.Text, websocket.ClosePolicyViolation)
	}
}

func TestStream_ClosesOnShutdown(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.handler.SetStreamContext(ctx)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/me/gate/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readDecision(t, conn)
	cancel()

	if closeErr := readClose(t, conn); closeErr.Code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.CloseGoingAway)
	}
}
