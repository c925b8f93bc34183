package http

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
	"rewardguard/internal/infra/ratelimit"
	"rewardguard/internal/infra/storemem"
	"rewardguard/internal/infra/wallet"
	"rewardguard/internal/usecase"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

var linkTask = domain.Task{ID: "link-1", Category: domain.TaskIdentityLink, Platform: domain.PlatformTwitter, Active: true}

type testServer struct {
	server   *Server
	store    *storemem.Store
	sessions *wallet.SessionIssuer
}

func newTestServer(t *testing.T, limits ...domain.LimiterConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := func() time.Time { return testNow }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		ChallengeDomain:     "rewardguard.test",
		RateLimitFailClosed: true,
		Thresholds:          config.DefaultThresholds(),
	}
	if len(limits) == 0 {
		limits = ratelimit.DefaultLimiters()
	}

	store := storemem.New()
	store.PutTask(linkTask)
	limiter := ratelimit.NewPolicy(ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{Now: now}), limits)
	verifier := wallet.NewVerifier(now, cfg.Thresholds.ChallengeFutureSkew)
	sessions, err := wallet.NewSessionIssuer([]byte("test-secret"), time.Hour, now)
	if err != nil {
		t.Fatalf("session issuer: %v", err)
	}
	sybil := usecase.NewSybilScorer(store, store, cfg.Thresholds, now, logger)
	reputation := usecase.NewReputationScorer(store, sybil, store, cfg.Thresholds, now, logger)
	audit := usecase.NewAuditEmitter(store, now)

	engine := &usecase.TaskVerificationEngine{
		Limiter:    limiter,
		Signatures: verifier,
		Accounts:   store,
		Tasks:      store,
		Sessions:   store,
		Sybil:      sybil,
		Reputation: reputation,
		Claims:     store,
		Audit:      audit,
		Thresholds: cfg.Thresholds,
		Clock:      now,
		Logger:     logger,
	}
	rituals := &usecase.RitualRules{
		Rituals:    store,
		Accounts:   store,
		Sybil:      sybil,
		Limiter:    limiter,
		Signatures: verifier,
		Audit:      audit,
		Thresholds: cfg.Thresholds,
		Clock:      now,
		Logger:     logger,
	}

	server := NewServer(cfg, ServerDeps{
		Engine:     engine,
		Rituals:    rituals,
		Sybil:      sybil,
		Reputation: reputation,
		Accounts:   store,
		Verifier:   verifier,
		Sessions:   sessions,
		Limits:     limiter,
		Clock:      now,
		Logger:     logger,
	})
	return &testServer{server: server, store: store, sessions: sessions}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rewardguard-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) addAccount(addr, twitter string) {
	account := domain.Account{Wallet: strings.ToLower(addr), CreatedAt: testNow.Add(-30 * 24 * time.Hour)}
	if twitter != "" {
		account.Handles = map[domain.Platform]string{domain.PlatformTwitter: twitter}
	}
	ts.store.PutAccount(account)
}

func (ts *testServer) token(t *testing.T, addr string) string {
	t.Helper()
	token, _, err := ts.sessions.Issue(addr)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return token
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" || body["mode"] != "memory" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestWalletSignIn(t *testing.T) {
	ts := newTestServer(t)
	key, addr := newKey(t)

	w := ts.do(t, http.MethodPost, "/v1/auth/challenge", challengeRequest{Address: addr}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("challenge: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	challenge := decode[challengeResponse](t, w)
	if !strings.Contains(challenge.Message, "Address: "+addr) || !strings.HasPrefix(challenge.Message, "rewardguard.test ") {
		t.Fatalf("unexpected challenge message: %q", challenge.Message)
	}

	w = ts.do(t, http.MethodPost, "/v1/auth/wallet", walletLoginRequest{
		Address:   addr,
		Message:   challenge.Message,
		Signature: sign(t, key, challenge.Message),
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	session := decode[sessionResponse](t, w)
	if session.Wallet != addr || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	parsed, err := ts.sessions.Parse(session.Token)
	if err != nil || parsed != addr {
		t.Fatalf("expected token for %s, got %q (%v)", addr, parsed, err)
	}
}

func TestWalletSignInRejectsOtherSigner(t *testing.T) {
	ts := newTestServer(t)
	_, addr := newKey(t)
	other, _ := newKey(t)
	message := wallet.BuildChallenge("rewardguard.test", addr, wallet.NewNonce(), testNow)

	w := ts.do(t, http.MethodPost, "/v1/auth/wallet", walletLoginRequest{
		Address:   addr,
		Message:   message,
		Signature: sign(t, other, message),
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := decode[errorResponse](t, w)
	if body.Code != string(domain.CodeInvalidSignature) || body.Details["failure"] != string(domain.SignatureSignerMismatch) {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestChallengeRejectsMalformedAddress(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/v1/auth/challenge", challengeRequest{Address: "0x1234"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVerifyTaskWithSession(t *testing.T) {
	ts := newTestServer(t)
	_, addr := newKey(t)
	ts.addAccount(addr, "alice")
	token := ts.token(t, addr)

	w := ts.do(t, http.MethodPost, "/v1/tasks/link-1/verify", verifyTaskRequest{}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[domain.VerificationResult](t, w)
	if !res.Success || res.Stage != domain.StageResult {
		t.Fatalf("expected success, got %+v", res)
	}

	w = ts.do(t, http.MethodPost, "/v1/tasks/link-1/verify", verifyTaskRequest{}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second claim, got %d", w.Code)
	}
	res = decode[domain.VerificationResult](t, w)
	if res.Error == nil || res.Error.Code != domain.CodeDuplicateClaim {
		t.Fatalf("expected duplicate claim, got %+v", res.Error)
	}
}

func TestVerifyTaskWithSignedChallenge(t *testing.T) {
	ts := newTestServer(t)
	key, addr := newKey(t)
	ts.addAccount(addr, "bob")
	message := wallet.BuildChallenge("rewardguard.test", addr, wallet.NewNonce(), testNow)

	w := ts.do(t, http.MethodPost, "/v1/tasks/link-1/verify", verifyTaskRequest{
		Wallet:    addr,
		Challenge: &signedChallengeInput{Message: message, Signature: sign(t, key, message)},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerifyTaskDenials(t *testing.T) {
	ts := newTestServer(t)
	_, addr := newKey(t)
	_, stranger := newKey(t)
	ts.addAccount(addr, "carol")

	tests := []struct {
		name   string
		path   string
		body   verifyTaskRequest
		token  string
		status int
		code   string
	}{
		{name: "no proof", path: "/v1/tasks/link-1/verify", body: verifyTaskRequest{Wallet: addr}, status: http.StatusUnauthorized, code: string(domain.CodeInvalidSignature)},
		{name: "bad token", path: "/v1/tasks/link-1/verify", token: "not-a-token", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "unknown task", path: "/v1/tasks/missing/verify", token: ts.token(t, addr), status: http.StatusNotFound, code: string(domain.CodeTaskNotFound)},
		{name: "unknown account", path: "/v1/tasks/link-1/verify", token: ts.token(t, stranger), status: http.StatusNotFound, code: string(domain.CodeAccountNotFound)},
		{name: "wallet mismatch", path: "/v1/tasks/link-1/verify", body: verifyTaskRequest{Wallet: stranger}, token: ts.token(t, addr), status: http.StatusForbidden, code: "WALLET_MISMATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.body, tt.token)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if got := errorCode(t, w); got != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

// errorCode reads the code of either an error body or a denied result.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code  string         `json:"code"`
		Error *domain.Denial `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if body.Error != nil {
		return string(body.Error.Code)
	}
	return body.Code
}

func TestForwardedForDoesNotChangeCallerKey(t *testing.T) {
	limits := ratelimit.DefaultLimiters()
	for i := range limits {
		if limits[i].Name == domain.LimiterGeneral {
			limits[i].MaxRequests = 2
		}
	}
	ts := newTestServer(t, limits...)
	_, addr := newKey(t)
	body, err := json.Marshal(challengeRequest{Address: addr})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/challenge", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "rewardguard-test")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		w := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
}

func TestRateLimitHeaders(t *testing.T) {
	limits := ratelimit.DefaultLimiters()
	for i := range limits {
		if limits[i].Name == domain.LimiterGeneral {
			limits[i].MaxRequests = 2
		}
	}
	ts := newTestServer(t, limits...)
	_, addr := newKey(t)

	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodPost, "/v1/auth/challenge", challengeRequest{Address: addr}, "")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if w.Header().Get("RateLimit-Limit") != "2" {
			t.Fatalf("expected RateLimit-Limit 2, got %q", w.Header().Get("RateLimit-Limit"))
		}
	}
	w := ts.do(t, http.MethodPost, "/v1/auth/challenge", challengeRequest{Address: addr}, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := errorCode(t, w); got != string(domain.CodeRateLimitExceeded) {
		t.Fatalf("expected rate limit code, got %s", got)
	}
}

func TestLinkHandle(t *testing.T) {
	ts := newTestServer(t)
	_, first := newKey(t)
	_, second := newKey(t)
	_, stranger := newKey(t)
	ts.addAccount(first, "dave")
	ts.addAccount(second, "")

	w := ts.do(t, http.MethodPost, "/v1/social/links", linkHandleRequest{Platform: "twitter", Handle: "@Erin"}, ts.token(t, second))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	account, err := ts.store.GetAccount(t.Context(), second)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if handle, _ := account.Handle(domain.PlatformTwitter); handle != "erin" {
		t.Fatalf("expected normalized handle, got %q", handle)
	}

	tests := []struct {
		name   string
		body   linkHandleRequest
		token  string
		status int
		code   string
	}{
		{name: "taken", body: linkHandleRequest{Platform: "twitter", Handle: "dave"}, token: ts.token(t, second), status: http.StatusConflict, code: "HANDLE_TAKEN"},
		{name: "bad platform", body: linkHandleRequest{Platform: "myspace", Handle: "x"}, token: ts.token(t, second), status: http.StatusBadRequest, code: "INVALID_PLATFORM"},
		{name: "no account", body: linkHandleRequest{Platform: "twitter", Handle: "frank"}, token: ts.token(t, stranger), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "no session", body: linkHandleRequest{Platform: "twitter", Handle: "frank"}, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/social/links", tt.body, tt.token)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if got := errorCode(t, w); got != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestWalletInsights(t *testing.T) {
	ts := newTestServer(t)
	_, addr := newKey(t)
	ts.addAccount(addr, "grace")

	w := ts.do(t, http.MethodGet, "/v1/wallets/"+addr+"/reputation", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("reputation: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rep := decode[reputationResponse](t, w)
	if rep.Wallet != addr || rep.Score < 30 || rep.Score > 100 {
		t.Fatalf("unexpected reputation: %+v", rep)
	}

	w = ts.do(t, http.MethodGet, "/v1/wallets/"+addr+"/sybil", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("sybil: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sybil := decode[domain.SybilCheckResult](t, w)
	if !sybil.Allowed {
		t.Fatalf("expected a lone wallet to pass, got %+v", sybil)
	}

	w = ts.do(t, http.MethodGet, "/v1/wallets/nope/reputation", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed wallet, got %d", w.Code)
	}
}

func TestRitualEligibilityUsesLinkedHandle(t *testing.T) {
	ts := newTestServer(t)
	_, addr := newKey(t)
	ts.addAccount(addr, "heidi")

	w := ts.do(t, http.MethodPost, "/v1/rituals/eligibility", ritualEligibilityRequest{
		Wallet:         addr,
		EvidenceURL:    "https://x.com/heidi/status/12345",
		EvidenceAuthor: "heidi",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	out := decode[usecase.RitualEligibility](t, w)
	if !out.Allowed {
		t.Fatalf("expected eligibility, got %+v", out)
	}
}

func TestDenialStatus(t *testing.T) {
	tests := []struct {
		code domain.ErrorCode
		want int
	}{
		{domain.CodeRateLimitExceeded, http.StatusTooManyRequests},
		{domain.CodeInvalidSignature, http.StatusUnauthorized},
		{domain.CodeAccountNotFound, http.StatusNotFound},
		{domain.CodeDuplicateClaim, http.StatusConflict},
		{domain.CodeAlreadyClaimedToday, http.StatusConflict},
		{domain.CodeSybilRiskTooHigh, http.StatusForbidden},
		{domain.CodePolicyDenied, http.StatusForbidden},
		{domain.CodeTaskInactive, http.StatusGone},
		{domain.CodeExternalServiceUnavailable, http.StatusServiceUnavailable},
		{domain.CodeTaskMisconfigured, http.StatusInternalServerError},
		{domain.CodeAuthorshipMismatch, http.StatusUnprocessableEntity},
		{domain.CodeHandleRequired, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if got := denialStatus(tt.code); got != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}
