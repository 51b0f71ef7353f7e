package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"slugbin/cfg"
	"slugbin/svc/auth"
	"slugbin/svc/db"
	"slugbin/svc/lim"
	"slugbin/svc/svc"
)

type testEnv struct {
	srv   *Server
	paste *svc.Paste
	now   time.Time
}

func (e *testEnv) clock() time.Time { return e.now }

func testConfig() *cfg.Cfg {
	return &cfg.Cfg{
		Port:              "0",
		Environment:       "test",
		Backend:           cfg.BackendMemory,
		SlugLength:        8,
		TokenBytes:        32,
		MaxTitleLength:    20,
		MaxLanguageLength: 16,
		RateLimit:         cfg.RateLimitCfg{Requests: 1000, Window: time.Minute, MaxKeys: 100},
		AllowedOrigins:    []string{"https://paste.example"},
		ContextTimeout:    5 * time.Second,
		Location:          time.UTC,
	}
}

func newEnv(t *testing.T, mutate func(*cfg.Cfg)) *testEnv {
	t.Helper()
	c := testConfig()
	if mutate != nil {
		mutate(c)
	}
	h, err := auth.NewTokenHasher(nil)
	if err != nil {
		t.Fatal(err)
	}
	l, err := lim.New(c.RateLimit, c.TrustedProxies)
	if err != nil {
		t.Fatal(err)
	}
	store := db.NewMemory()
	p := svc.NewPaste(store, h, c)
	env := &testEnv{paste: p, now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	p.SetClock(env.clock)
	env.srv = NewServer(c, p, l, store)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON (%d): %q", rec.Code, rec.Body.String())
	}
	return m
}

func (e *testEnv) create(t *testing.T, body map[string]interface{}) (string, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/pastes", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var resp CreateResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Slug, resp.SecretToken
}

func TestCreateAndRead(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{
		"title":    "  Cafe\u0301 notes\x07 ",
		"content":  "<script>alert(1)</script>\n\ttabs",
		"language": "go",
	})
	if len(slug) != 8 || len(token) != 64 {
		t.Fatalf("slug=%q token=%q", slug, token)
	}
	rec := env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	m := decode(t, rec)
	if m["content"] != "<script>alert(1)</script>\n\ttabs" {
		t.Errorf("content not preserved: %q", m["content"])
	}
	if m["title"] != "Caf\u00e9 notes" {
		t.Errorf("title = %q, want NFC form without control characters", m["title"])
	}
	if m["privacy"] != "unlisted" || m["expires_at"] != nil {
		t.Errorf("defaults wrong: privacy=%v expires_at=%v", m["privacy"], m["expires_at"])
	}
	if m["views"].(float64) != 1 {
		t.Errorf("views = %v, want 1", m["views"])
	}
	for _, k := range []string{"secret_token", "token_hash", "TokenHash"} {
		if _, ok := m[k]; ok {
			t.Errorf("read response exposes %s", k)
		}
	}
	if strings.Contains(rec.Body.String(), token) {
		t.Error("token leaked in read response")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestCreateValidation(t *testing.T) {
	env := newEnv(t, nil)
	tests := []struct {
		name string
		body interface{}
		ct   string
		want string
	}{
		{"missing content", map[string]interface{}{"title": "x"}, "", "content is required"},
		{"bad privacy", map[string]interface{}{"content": "x", "privacy": "secret"}, "", "privacy"},
		{"bad expiration", map[string]interface{}{"content": "x", "expiration": "2d"}, "", "expiration"},
		{"unknown field", map[string]interface{}{"content": "x", "password": "p"}, "", "unknown field"},
		{"long title", map[string]interface{}{"content": "x", "title": strings.Repeat("t", 21)}, "", "title"},
		{"long language", map[string]interface{}{"content": "x", "language": strings.Repeat("l", 17)}, "", "language"},
		{"not json", "content=x", "", "malformed"},
		{"wrong content type", map[string]interface{}{"content": "x"}, "text/plain", "Content-Type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := map[string]string{}
			if tt.ct != "" {
				hdr["Content-Type"] = tt.ct
			}
			rec := env.do(t, http.MethodPost, "/pastes", tt.body, hdr)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
			m := decode(t, rec)
			if msg, _ := m["error"].(string); !strings.Contains(msg, tt.want) {
				t.Errorf("error %q does not mention %q", msg, tt.want)
			}
			if m["request_id"] == "" || m["request_id"] == nil {
				t.Error("error body missing request_id")
			}
		})
	}
}

func TestPasteTooLarge(t *testing.T) {
	env := newEnv(t, func(c *cfg.Cfg) { c.MaxPasteSize = 8 })
	rec := env.do(t, http.MethodPost, "/pastes", map[string]interface{}{"content": "123456789"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownAndMalformedSlug(t *testing.T) {
	env := newEnv(t, nil)
	for _, path := range []string{"/pastes/zzzzzzzz", "/pastes/bad%20slug"} {
		rec := env.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}

func TestPrivateRead(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{"content": "s3cr3t", "privacy": "private"})
	missing := env.do(t, http.MethodGet, "/pastes/zzzzzzzz", nil, nil)

	for _, path := range []string{"/pastes/" + slug, "/pastes/" + slug + "?token=wrong"} {
		rec := env.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, rec.Code)
		}
		if decode(t, rec)["error"] != decode(t, missing)["error"] {
			t.Error("denied private read distinguishable from a missing paste")
		}
	}
	if rec := env.do(t, http.MethodGet, "/pastes/"+slug+"?token="+token, nil, nil); rec.Code != http.StatusOK {
		t.Errorf("query token: %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/pastes/"+slug, nil, map[string]string{"X-Paste-Token": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("header token: %d", rec.Code)
	}
	if v := decode(t, rec)["views"].(float64); v != 2 {
		t.Errorf("views = %v, want 2", v)
	}
}

func TestExpiredPaste(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{"content": "x", "expiration": "1h"})
	rec := env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh read: %d", rec.Code)
	}
	if decode(t, rec)["expires_at"] == nil {
		t.Fatal("expires_at missing")
	}
	env.now = env.now.Add(61 * time.Minute)
	rec = env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("expired read: %d, want 410", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("read after eviction: %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/pastes/"+slug, map[string]string{"secret_token": token}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete after eviction: %d, want 404", rec.Code)
	}
}

func TestUpdate(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{"content": "X", "title": "old"})

	rec := env.do(t, http.MethodPut, "/pastes/"+slug, map[string]interface{}{"content": "Y", "secret_token": "wrong"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/pastes/"+slug, map[string]interface{}{"content": "Y"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing token: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/pastes/"+slug, map[string]interface{}{"secret_token": token}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing content: %d", rec.Code)
	}
	if m := decode(t, env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil)); m["content"] != "X" {
		t.Fatalf("rejected update changed content to %v", m["content"])
	}

	rec = env.do(t, http.MethodPut, "/pastes/"+slug, map[string]interface{}{"content": "Y", "language": "rust", "secret_token": token}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	if m := decode(t, rec); m["success"] != true {
		t.Errorf("unexpected body %v", m)
	}
	m := decode(t, env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil))
	if m["content"] != "Y" || m["language"] != "rust" || m["title"] != nil {
		t.Errorf("update not applied wholesale: %v", m)
	}
	if m["views"].(float64) != 2 {
		t.Errorf("views = %v, want 2", m["views"])
	}

	rec = env.do(t, http.MethodPut, "/pastes/zzzzzzzz", map[string]interface{}{"content": "Y", "secret_token": token}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown slug: %d", rec.Code)
	}
}

func TestUpdateExpired(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{"content": "X", "expiration": "1d"})
	env.now = env.now.Add(25 * time.Hour)
	rec := env.do(t, http.MethodPut, "/pastes/"+slug, map[string]interface{}{"content": "Y", "secret_token": token}, nil)
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", rec.Code)
	}
}

func TestDelete(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{"content": "X"})
	if rec := env.do(t, http.MethodDelete, "/pastes/"+slug, nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("no token: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/pastes/"+slug, map[string]string{"secret_token": "nope"}, nil); rec.Code != http.StatusForbidden {
		t.Errorf("wrong token: %d", rec.Code)
	}
	rec := env.do(t, http.MethodDelete, "/pastes/"+slug, map[string]string{"secret_token": token}, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["success"] != true {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/pastes/"+slug, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/pastes/"+slug, map[string]string{"secret_token": token}, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: %d", rec.Code)
	}
}

func TestDeleteWithHeaderToken(t *testing.T) {
	env := newEnv(t, nil)
	slug, token := env.create(t, map[string]interface{}{"content": "X"})
	rec := env.do(t, http.MethodDelete, "/pastes/"+slug, nil, map[string]string{"X-Paste-Token": token})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, func(c *cfg.Cfg) {
		c.RateLimit = cfg.RateLimitCfg{Requests: 3, Window: time.Minute, MaxKeys: 100}
	})
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodGet, "/pastes/zzzzzzzz", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(2-i) {
			t.Errorf("request %d: remaining = %s", i+1, got)
		}
	}
	rec := env.do(t, http.MethodPost, "/pastes", map[string]interface{}{"content": "x"}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Limit") != "3" {
		t.Errorf("missing rate limit headers: %v", rec.Header())
	}
	if !strings.Contains(decode(t, rec)["error"].(string), "too many requests") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health is rate limited: %d", rec.Code)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthAndReady(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["ready"] != true {
		t.Errorf("ready: %d %s", rec.Code, rec.Body.String())
	}
	env.srv.backend = downPinger{}
	rec = env.do(t, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusServiceUnavailable || decode(t, rec)["backend"] != "down" {
		t.Errorf("ready with backend down: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	env := newEnv(t, func(c *cfg.Cfg) {
		c.MetricsUser = "prom"
		c.MetricsPass = cfg.NewSecret("scrape")
	})
	if rec := env.do(t, http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous scrape: %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "slugbin_") {
		t.Errorf("authorised scrape: %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(t, http.MethodOptions, "/pastes/abc", nil, map[string]string{
		"Origin":                        "https://paste.example",
		"Access-Control-Request-Method": "PUT",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://paste.example" {
		t.Error("allowed origin not echoed")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "PUT") {
		t.Error("PUT not allowed")
	}
	rec = env.do(t, http.MethodOptions, "/pastes/abc", nil, map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "DELETE",
	})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin allowed")
	}
}
