package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/gate"
	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
	"github.com/epochapi/epochapi/internal/store/memory"
)

type authTestEnv struct {
	keys    *memory.KeyStore
	ledger  *memory.Ledger
	hasher  *auth.KeyHasher
	handler http.Handler
	logs    *bytes.Buffer
}

func newAuthTestEnv(t *testing.T, keys store.KeyStore) *authTestEnv {
	t.Helper()

	hasher, err := auth.NewKeyHasher([]byte("middleware-test"))
	if err != nil {
		t.Fatalf("NewKeyHasher failed: %v", err)
	}

	env := &authTestEnv{
		keys:   memory.NewKeyStore(),
		ledger: memory.NewLedger(),
		hasher: hasher,
		logs:   &bytes.Buffer{},
	}
	if keys == nil {
		keys = env.keys
	}

	logger := slog.New(slog.NewJSONHandler(env.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g := gate.New(keys, env.ledger, hasher, nil)

	env.handler = Auth(AuthConfig{Logger: logger, Gate: g})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adm := auth.MustAdmissionFromContext(r.Context())
		_, _ = io.WriteString(w, adm.Account.ID)
	}))
	return env
}

func (e *authTestEnv) issue(t *testing.T, rateLimit int64) string {
	t.Helper()

	key, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	account := &model.Account{ID: "acct_1", Email: "a@b.com", Plan: model.PlanStarter, RateLimit: rateLimit}
	if err := e.keys.Put(context.Background(), e.hasher.Digest(key), account); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return key
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestAuth_Credentials(t *testing.T) {
	t.Parallel()

	env := newAuthTestEnv(t, nil)
	key := env.issue(t, 100)

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantCode   string
	}{
		{"x-api-key", "X-API-Key", key, http.StatusOK, ""},
		{"bearer", "Authorization", "Bearer " + key, http.StatusOK, ""},
		{"missing", "", "", http.StatusUnauthorized, CodeMissingCredential},
		{"basic auth is not a credential", "Authorization", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, CodeMissingCredential},
		{"unknown key", "X-API-Key", "nope", http.StatusUnauthorized, CodeInvalidCredential},
		{"unknown bearer", "Authorization", "Bearer nope", http.StatusUnauthorized, CodeInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode == "" {
				if rec.Body.String() != "acct_1" {
					t.Errorf("handler saw account %q", rec.Body.String())
				}
				return
			}
			body := decodeError(t, rec)
			if body.Code != tt.wantCode || body.Message == "" {
				t.Errorf("error = %+v, want code %s", body, tt.wantCode)
			}
			if body.Limit != nil {
				t.Errorf("limit should be omitted for %s", tt.wantCode)
			}
		})
	}
}

func TestAuth_QuotaHeadersAndExhaustion(t *testing.T) {
	t.Parallel()

	env := newAuthTestEnv(t, nil)
	key := env.issue(t, 2)

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	for i, wantRemaining := range []string{"1", "0"} {
		rec := call()
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d status = %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", got)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("call %d X-RateLimit-Remaining = %q, want %s", i+1, got, wantRemaining)
		}
	}

	rec := call()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != CodeQuotaExceeded {
		t.Errorf("code = %q, want %s", body.Code, CodeQuotaExceeded)
	}
	if body.Limit == nil || *body.Limit != 2 {
		t.Errorf("limit = %v, want 2", body.Limit)
	}
	if !strings.Contains(body.Message, "2") {
		t.Errorf("message %q should name the limit", body.Message)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	snap, _ := env.ledger.Peek(context.Background(), env.hasher.Digest(key))
	if snap.CallsThisMonth != 2 {
		t.Errorf("CallsThisMonth = %d, want 2", snap.CallsThisMonth)
	}
}

type brokenKeyStore struct{ store.KeyStore }

func (brokenKeyStore) Get(context.Context, string) (*model.Account, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestAuth_StoreFailure(t *testing.T) {
	t.Parallel()

	env := newAuthTestEnv(t, brokenKeyStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != CodeInternal {
		t.Errorf("code = %q, want %s", body.Code, CodeInternal)
	}
	if strings.Contains(body.Message, "connection refused") {
		t.Error("internal error details leaked to the client")
	}
}

func TestAuth_KeyNotLogged(t *testing.T) {
	t.Parallel()

	env := newAuthTestEnv(t, nil)
	key := env.issue(t, 10)

	for _, k := range []string{key, "wrong-" + key} {
		req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
		req.Header.Set("X-API-Key", k)
		env.handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	logs := env.logs.String()
	if strings.Contains(logs, key) {
		t.Error("API key appears in logs")
	}
	if !strings.Contains(logs, `"account_id":"acct_1"`) {
		t.Errorf("admission log should carry the account id: %s", logs)
	}
	if !strings.Contains(logs, `"key_digest":"`+auth.ShortDigest(env.hasher.Digest(key))+`"`) {
		t.Errorf("admission log should carry the short digest: %s", logs)
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"none", nil, ""},
		{"x-api-key", map[string]string{"X-API-Key": "abc"}, "abc"},
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"bearer wins", map[string]string{"Authorization": "Bearer abc", "X-API-Key": "xyz"}, "abc"},
		{"empty bearer falls back", map[string]string{"Authorization": "Bearer   ", "X-API-Key": "xyz"}, "xyz"},
		{"non-bearer falls back", map[string]string{"Authorization": "Token abc", "X-API-Key": "xyz"}, "xyz"},
		{"whitespace trimmed", map[string]string{"X-API-Key": "  abc  "}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractAPIKey(req); got != tt.want {
				t.Errorf("extractAPIKey = %q, want %q", got, tt.want)
			}
		})
	}
}
