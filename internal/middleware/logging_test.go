package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/deevent/internal/logger"
)

type mockTokenSource struct {
	accessTokenFn func(ctx context.Context, sessionID string) (string, error)
}

func (m *mockTokenSource) AccessToken(ctx context.Context, sessionID string) (string, error) {
	if m.accessTokenFn != nil {
		return m.accessTokenFn(ctx, sessionID)
	}
	return "", nil
}

// signedToken はuser_idクレームを持つテスト用トークンを生成する。
func signedToken(t *testing.T, userID any) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	s, err := token.SignedString([]byte("upstream-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(log, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req = req.WithContext(logger.WithRequestID(req.Context(), "req-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/login" {
		t.Errorf("path = %v, want /login", entry["path"])
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", entry["request_id"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted without a token source")
	}
}

// TestLoggingMiddleware_IncludesUserIDFromToken はアクセストークンのuser_idがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesUserIDFromToken(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	token := signedToken(t, "user-123")
	tokens := &mockTokenSource{
		accessTokenFn: func(_ context.Context, sessionID string) (string, error) {
			if sessionID == "sid-1" {
				return token, nil
			}
			return "", nil
		},
	}

	handler := NewLoggingMiddleware(log, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(ContextWithSessionID(req.Context(), "sid-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
}

// TestLoggingMiddleware_TokenSourceError_OmitsUserID はストアのエラー時にuser_idを省略することを検証する。
func TestLoggingMiddleware_TokenSourceError_OmitsUserID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	tokens := &mockTokenSource{
		accessTokenFn: func(context.Context, string) (string, error) {
			return "", errors.New("store down")
		},
	}
	handler := NewLoggingMiddleware(log, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(ContextWithSessionID(req.Context(), "sid-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted on store error")
	}
}

// TestLoggingMiddleware_LogLevelByStatus はステータスコードに応じたログレベルを検証する。
func TestLoggingMiddleware_LogLevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusSeeOther, "INFO"},
		{http.StatusForbidden, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, nil))
		handler := NewLoggingMiddleware(log, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		entry := decodeLogEntry(t, &buf)
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
	}
}

func TestUserIDFromToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"string claim", signedToken(t, "abc"), "abc"},
		{"numeric claim", signedToken(t, 42), "42"},
		{"missing claim", signedToken(t, nil), ""},
		{"not a jwt", "opaque-token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserIDFromToken(tt.token); got != tt.want {
				t.Errorf("UserIDFromToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestRequestIDMiddleware はリクエストIDの発行と引き継ぎを検証する。
func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if captured == "" {
		t.Fatal("request ID should be generated")
	}
	if got := w.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("X-Request-ID = %q, want %q", got, captured)
	}

	incoming := "7f9c2ba4-e88f-4a1b-8a36-5b3b3d4a2c11"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", incoming)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if captured != incoming {
		t.Errorf("request ID = %q, want %q", captured, incoming)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid<script>")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if captured == "not-a-uuid<script>" {
		t.Error("invalid request ID should be replaced")
	}
}
