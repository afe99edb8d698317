package server

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/ai"
	"github.com/onnwee/slashbot/bot"
	"github.com/onnwee/slashbot/db"
	"github.com/onnwee/slashbot/testutil"
)

type followups struct {
	mu   sync.Mutex
	sent []string
}

func (f *followups) Send(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return nil
}

type fakeSyncer struct {
	n     int
	err   error
	calls int
}

func (s *fakeSyncer) SyncCommands(context.Context) (int, error) {
	s.calls++
	return s.n, s.err
}

type testEnv struct {
	deps   Deps
	priv   ed25519.PrivateKey
	log    *db.MemoryLog
	follow *followups
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	reg := bot.NewRegistry()
	if err := bot.RegisterBuiltins(reg, bot.Services{}); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	err = reg.Register(bot.Command{Name: "later", Description: "async", Handler: func(context.Context, *bot.Invocation) bot.Response {
		return bot.Response{Deferred: true, Then: func(ctx context.Context, f bot.Followup) { _ = f.Send(ctx, "done later") }}
	}})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	log := db.NewMemoryLog(10)
	env := &testEnv{priv: priv, log: log, follow: &followups{}}
	env.deps = Deps{
		Dispatcher: bot.NewDispatcher(reg, log, nil),
		PublicKey:  pub,
		Followups:  func(*discordgo.Interaction) bot.Followup { return env.follow },
		Log:        log,
		Version:    "test",
	}
	return env
}

func (e *testEnv) signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	ts := "1700000000"
	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Timestamp", ts)
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(ed25519.Sign(e.priv, []byte(ts+body))))
	return req
}

const sapaBody = `{"id":"1180000000000000000","application_id":"app","type":2,"token":"tok","guild_id":"g1","channel_id":"c1","member":{"user":{"id":"u1"}},"data":{"id":"cmd","name":"sapa","type":1}}`

func TestInteractionPing(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, env.signedRequest(t, `{"id":"1","type":1}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp discordgo.InteractionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != discordgo.InteractionResponsePong {
		t.Errorf("type = %v, want PONG", resp.Type)
	}
}

func TestInteractionCommand(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, env.signedRequest(t, sapaBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp discordgo.InteractionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != discordgo.InteractionResponseChannelMessageWithSource || resp.Data.Content != "👋 Halo <@u1>! Selamat datang!" {
		t.Errorf("response = %+v", resp.Data)
	}
	if recent, _ := env.log.Recent(context.Background(), 1); len(recent) != 1 || recent[0].Command != "sapa" {
		t.Errorf("command log = %+v", recent)
	}
}

func TestInteractionBadSignature(t *testing.T) {
	env := newTestEnv(t)
	req := env.signedRequest(t, sapaBody)
	req.Header.Set("X-Signature-Ed25519", strings.Repeat("00", ed25519.SignatureSize))
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}

	// body tampered after signing
	req = env.signedRequest(t, sapaBody)
	req.Body = http.NoBody
	rr = httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("tampered body: expected 401, got %d", rr.Code)
	}
}

func TestInteractionUnknownType(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, env.signedRequest(t, `{"id":"1","type":99}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["error"] != "Unknown interaction type" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestInteractionNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.deps.PublicKey = nil
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, env.signedRequest(t, sapaBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/interactions", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", rr.Code)
	}
}

func TestInteractionFollowupRunsAfterResponse(t *testing.T) {
	env := newTestEnv(t)
	handler, handlers := newMux(context.Background(), env.deps)
	body := strings.Replace(sapaBody, `"name":"sapa"`, `"name":"later"`, 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, env.signedRequest(t, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp discordgo.InteractionResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("type = %v, want deferred", resp.Type)
	}

	handlers.Wait()
	env.follow.mu.Lock()
	defer env.follow.mu.Unlock()
	if len(env.follow.sent) != 1 || env.follow.sent[0] != "done later" {
		t.Errorf("follow-ups = %q", env.follow.sent)
	}
}

func TestInteractionFollowupCancelledOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	err := env.deps.Dispatcher.Registry().Register(bot.Command{Name: "slow", Description: "waits", Handler: func(context.Context, *bot.Invocation) bot.Response {
		return bot.Response{Deferred: true, Then: func(ctx context.Context, f bot.Followup) {
			select {
			case <-ctx.Done():
				_ = f.Send(ctx, "cancelled")
			case <-time.After(5 * time.Second):
				_ = f.Send(ctx, "still running")
			}
		}}
	}})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handler, handlers := newMux(ctx, env.deps)
	body := strings.Replace(sapaBody, `"name":"sapa"`, `"name":"slow"`, 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, env.signedRequest(t, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cancel()

	handlers.Wait()
	env.follow.mu.Lock()
	defer env.follow.mu.Unlock()
	if len(env.follow.sent) != 1 || env.follow.sent[0] != "cancelled" {
		t.Errorf("follow-ups = %q", env.follow.sent)
	}
}

func TestCallbackEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/callback", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"data":"callback ready","status":"success"}` {
		t.Errorf("body = %s", got)
	}
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected X-Correlation-ID header")
	}
}

func TestCorrelationIDIsReused(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
}

func TestReadyz(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.MockLlamaHealth(http.StatusOK)
	env := newTestEnv(t)
	env.deps.AI = ai.NewLlamaCpp(srv.URL, ai.WithHTTPClient(srv.Client()))

	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	srv.MockLlamaHealth(http.StatusServiceUnavailable)
	rr = httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "not_ready" || body["failed_check"] != "ai" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.deps.GatewayReady = func() bool { return true }
	mux := NewMux(context.Background(), env.deps)
	mux.ServeHTTP(httptest.NewRecorder(), env.signedRequest(t, sapaBody))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(st.Commands) != 11 || st.Commands[0] != "ai" {
		t.Errorf("commands = %v", st.Commands)
	}
	if !st.GatewayReady || st.Version != "test" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Recent) != 1 || st.Recent[0].Command != "sapa" || st.CommandCount["sapa"] != 1 {
		t.Errorf("recent = %+v counts = %v", st.Recent, st.CommandCount)
	}
}

func TestStatusWithPostgresLog(t *testing.T) {
	database := testutil.SetupTestDB(t)
	if _, err := database.ExecContext(context.Background(), `DELETE FROM command_log`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	env := newTestEnv(t)
	pg := &db.PostgresLog{DB: database}
	reg := env.deps.Dispatcher.Registry()
	env.deps.Dispatcher = bot.NewDispatcher(reg, pg, nil)
	env.deps.Log = pg

	mux := NewMux(context.Background(), env.deps)
	mux.ServeHTTP(httptest.NewRecorder(), env.signedRequest(t, sapaBody))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(st.Recent) != 1 || st.Recent[0].UserID != "u1" || st.CommandCount["sapa"] != 1 {
		t.Errorf("recent = %+v counts = %v", st.Recent, st.CommandCount)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200 body=%s", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	NewMux(context.Background(), env.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAdminCommandSync(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("ADMIN_TOKEN", "test-token-12345")
	syncer := &fakeSyncer{n: 11}
	env.deps.Syncer = syncer
	mux := NewMux(context.Background(), env.deps)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/commands/sync", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("without token: expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/commands/sync", nil)
	req.Header.Set("X-Admin-Token", "test-token-12345")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || syncer.calls != 1 {
		t.Fatalf("expected 200 and one sync, got %d calls=%d", rr.Code, syncer.calls)
	}
	var body map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["registered"] != float64(11) {
		t.Errorf("body = %v", body)
	}

	syncer.err = errors.New("discord down")
	req = httptest.NewRequest(http.MethodPost, "/admin/commands/sync", nil)
	req.Header.Set("X-Admin-Token", "test-token-12345")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("sync failure: expected 502, got %d", rr.Code)
	}
}

func TestAdminRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Syncer = &fakeSyncer{n: 1}
	env.deps.AdminRateLimit = "2-M"
	mux := NewMux(context.Background(), env.deps)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/commands/sync", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// public endpoints are not limited
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("healthz request %d: %d", i+1, rr.Code)
		}
	}
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run server in background on random port by using :0
	done := make(chan error, 1)
	go func() { done <- Start(ctx, env.deps, "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
