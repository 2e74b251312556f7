// Switchboard - Live Chat Routing and Agent Presence
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/switchboard

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/switchboard/internal/assign"
	"github.com/tomtom215/switchboard/internal/auth"
	"github.com/tomtom215/switchboard/internal/chat"
	"github.com/tomtom215/switchboard/internal/config"
	"github.com/tomtom215/switchboard/internal/database"
	"github.com/tomtom215/switchboard/internal/logging"
	"github.com/tomtom215/switchboard/internal/models"
	"github.com/tomtom215/switchboard/internal/presence"
	"github.com/tomtom215/switchboard/internal/queue"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testSecret = "0123456789abcdef0123456789abcdef"

type apiEnv struct {
	db  *database.DB
	srv *httptest.Server
}

// newAPIEnv stands up the full HTTP surface over in-memory stores,
// with the hub served so WebSocket connections register normally.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	kv, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	p := presence.NewStore(kv, time.Minute, 3)
	q, err := queue.New(kv, queue.OrderingFIFO, time.Minute, 10*time.Minute)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	verifier, err := auth.NewJWTVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	hub := chat.NewHub()
	service := chat.NewService(hub, db, q, p, verifier, chat.Config{
		MessageRate:  100,
		MessageBurst: 100,
	})
	engine := assign.NewEngine(p, q, db, service, time.Second)
	service.SetEngine(engine)

	hubCtx, cancelHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Serve(hubCtx)
	}()
	t.Cleanup(func() {
		cancelHub()
		<-hubDone
	})

	handlers := NewHandlers(db, q, p, hub)
	router := NewRouter(handlers, service, verifier, &config.ServerConfig{
		CORSOrigins:     []string{"*"},
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	})

	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)

	return &apiEnv{db: db, srv: srv}
}

func token(t *testing.T, subject, tenantID string, role models.Role) string {
	t.Helper()
	claims := auth.Claims{
		TenantID: tenantID,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func get(t *testing.T, env *apiEnv, path, bearer string) (*http.Response, APIResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, envelope
}

func (env *apiEnv) seedSession(t *testing.T, customerID string) *models.ChatSession {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	s := &models.ChatSession{
		ID:           uuid.New(),
		TenantID:     "acme",
		CustomerID:   customerID,
		Status:       models.StatusWaiting,
		Priority:     models.PriorityMedium,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := env.db.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp, envelope := get(t, env, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		t.Errorf("health = %d success=%v", resp.StatusCode, envelope.Success)
	}

	resp, envelope = get(t, env, "/api/v1/health/live", "")
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		t.Errorf("liveness = %d success=%v", resp.StatusCode, envelope.Success)
	}
}

func TestRESTRequiresBearer(t *testing.T) {
	env := newAPIEnv(t)

	resp, envelope := get(t, env, "/api/v1/agents/agent-1/sessions", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v, want %s", envelope.Error, ErrCodeUnauthorized)
	}

	resp, _ = get(t, env, "/api/v1/agents/agent-1/sessions", "garbage.token.here")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", resp.StatusCode)
	}
}

func TestAgentSessionsOwnershipCheck(t *testing.T) {
	env := newAPIEnv(t)

	s := env.seedSession(t, "cust-1")
	if err := env.db.AssignAgent(context.Background(), s.ID, "agent-1", time.Now().UTC()); err != nil {
		t.Fatalf("assign: %v", err)
	}

	agentToken := token(t, "agent-1", "acme", models.RoleAgent)
	resp, envelope := get(t, env, "/api/v1/agents/agent-1/sessions", agentToken)
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		t.Fatalf("own sessions = %d success=%v", resp.StatusCode, envelope.Success)
	}
	if envelope.Meta == nil || envelope.Meta.Pagination == nil || envelope.Meta.Pagination.Count != 1 {
		t.Errorf("pagination = %+v, want count 1", envelope.Meta)
	}

	// Another agent's workload is off limits.
	resp, envelope = get(t, env, "/api/v1/agents/agent-2/sessions", agentToken)
	if resp.StatusCode != http.StatusForbidden || envelope.Error == nil || envelope.Error.Code != ErrCodeForbidden {
		t.Errorf("other agent = %d error=%+v, want 403 FORBIDDEN", resp.StatusCode, envelope.Error)
	}

	// Customers cannot use the agent endpoint at all.
	custToken := token(t, "agent-1", "acme", models.RoleCustomer)
	resp, _ = get(t, env, "/api/v1/agents/agent-1/sessions", custToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("customer role = %d, want 403", resp.StatusCode)
	}
}

func TestSessionMessagesAuthorization(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	s := env.seedSession(t, "cust-1")
	msg := &models.ChatMessage{
		ID:         uuid.New(),
		SessionID:  s.ID,
		SenderID:   "cust-1",
		SenderRole: models.RoleCustomer,
		Body:       "hello",
		Kind:       models.MessageText,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := env.db.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	path := "/api/v1/sessions/" + s.ID.String() + "/messages"

	// The owning customer reads their history.
	resp, envelope := get(t, env, path, token(t, "cust-1", "acme", models.RoleCustomer))
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		t.Fatalf("owner read = %d success=%v", resp.StatusCode, envelope.Success)
	}
	if envelope.Meta.Pagination.Count != 1 || envelope.Meta.Pagination.NextCursor == "" {
		t.Errorf("pagination = %+v", envelope.Meta.Pagination)
	}

	// Any agent of the tenant may read it.
	resp, _ = get(t, env, path, token(t, "agent-9", "acme", models.RoleAgent))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("tenant agent read = %d, want 200", resp.StatusCode)
	}

	// A different customer may not.
	resp, _ = get(t, env, path, token(t, "cust-2", "acme", models.RoleCustomer))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other customer = %d, want 403", resp.StatusCode)
	}

	// Nor anyone from another tenant, agent or not.
	resp, _ = get(t, env, path, token(t, "agent-1", "globex", models.RoleAgent))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other tenant = %d, want 403", resp.StatusCode)
	}
}

func TestSessionMessagesBadInput(t *testing.T) {
	env := newAPIEnv(t)
	agentToken := token(t, "agent-1", "acme", models.RoleAgent)

	resp, _ := get(t, env, "/api/v1/sessions/not-a-uuid/messages", agentToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad uuid = %d, want 400", resp.StatusCode)
	}

	resp, _ = get(t, env, "/api/v1/sessions/"+uuid.NewString()+"/messages", agentToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", resp.StatusCode)
	}

	s := env.seedSession(t, "cust-1")
	resp, _ = get(t, env, "/api/v1/sessions/"+s.ID.String()+"/messages?after=yesterday", agentToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad after = %d, want 400", resp.StatusCode)
	}
}

// wsEvent mirrors the wire frame for the e2e exchange.
type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func dialWS(t *testing.T, env *apiEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(wsEvent{Type: eventType, Data: data}); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

func wsRecv(t *testing.T, conn *websocket.Conn, wantType string) json.RawMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var evt wsEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != wantType {
		t.Fatalf("event type = %q, want %q", evt.Type, wantType)
	}
	return evt.Data
}

func TestWebSocketSessionFlow(t *testing.T) {
	env := newAPIEnv(t)

	agent := dialWS(t, env)
	wsSend(t, agent, "authenticate", map[string]string{
		"token": token(t, "agent-1", "acme", models.RoleAgent),
		"role":  "agent",
	})
	wsRecv(t, agent, "queue_status")
	data := wsRecv(t, agent, "authenticated")
	var authed struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(data, &authed); err != nil {
		t.Fatalf("unmarshal authenticated: %v", err)
	}
	if authed.UserID != "agent-1" || authed.Role != "agent" {
		t.Errorf("authenticated = %+v", authed)
	}

	customer := dialWS(t, env)
	wsSend(t, customer, "authenticate", map[string]string{
		"token": token(t, "cust-1", "acme", models.RoleCustomer),
		"role":  "customer",
	})
	wsRecv(t, customer, "authenticated")

	wsSend(t, customer, "request_chat", map[string]string{"subject": "checkout is broken"})
	data = wsRecv(t, customer, "chat_session_created")
	var created struct {
		QueuePosition int `json:"queue_position"`
		Session       struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal session created: %v", err)
	}
	if created.QueuePosition != 1 || created.Session.Status != "waiting" {
		t.Errorf("created = %+v", created)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	env := newAPIEnv(t)

	conn := dialWS(t, env)
	wsSend(t, conn, "authenticate", map[string]string{
		"token": "bogus",
		"role":  "customer",
	})
	wsRecv(t, conn, "authentication_error")
}
