package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hitoshi/deevent/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockCollector はmetrics.MetricsCollectorのモック。API呼び出しの記録だけ保持する。
type mockCollector struct {
	mu       sync.Mutex
	upstream []upstreamCall
	states   []int
}

type upstreamCall struct {
	endpoint string
	status   int
}

func (m *mockCollector) RecordLoginAttempt(string)                            {}
func (m *mockCollector) RecordRegistration(string)                            {}
func (m *mockCollector) RecordWizardTransition(int, string)                   {}
func (m *mockCollector) RecordGuardRedirect()                                 {}
func (m *mockCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
func (m *mockCollector) RecordBreakerState(_ string, state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}
func (m *mockCollector) RecordUpstreamCall(endpoint string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstream = append(m.upstream, upstreamCall{endpoint: endpoint, status: status})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *mockCollector) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	collector := &mockCollector{}
	cfg := DefaultConfig(srv.URL + "/api/")
	cfg.Timeout = 5 * time.Second
	return New(cfg, collector, testLogger()), collector
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestClient_Login_Success(t *testing.T) {
	var gotBody map[string]string
	client, collector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login/" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("login must not carry Authorization, got %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, 200, `{"access":"acc","refresh":"ref","user":{"first_name":"Jane","is_organizer":false},"message":"Login successful!"}`)
	})

	result, err := client.Login(context.Background(), "jane@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Access != "acc" || result.Refresh != "ref" {
		t.Errorf("tokens = %q/%q", result.Access, result.Refresh)
	}
	profile, _ := result.Profile()
	if profile.FirstName != "Jane" {
		t.Errorf("FirstName = %q, want Jane", profile.FirstName)
	}
	if gotBody["email"] != "jane@example.com" || gotBody["password"] != "secret123" {
		t.Errorf("request body = %v", gotBody)
	}
	if len(collector.upstream) != 1 || collector.upstream[0] != (upstreamCall{"auth_login", 200}) {
		t.Errorf("upstream metrics = %+v", collector.upstream)
	}
}

func TestClient_Login_InvalidCredentials(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, `{"error":"Invalid credentials","detail":"Login failed."}`)
	})

	_, err := client.Login(context.Background(), "jane@example.com", "wrong")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if apiErr.Kind != KindServer || apiErr.StatusCode != 400 {
		t.Errorf("Kind = %v, StatusCode = %d", apiErr.Kind, apiErr.StatusCode)
	}
	if got := LoginMessage(err); got != "Login failed." {
		t.Errorf("LoginMessage() = %q", got)
	}
}

func TestClient_AttachesBearerToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, 200, `{"id":"u1","email":"jane@example.com","first_name":"Jane"}`)
	})

	ctx := WithAccessToken(context.Background(), "token-123")
	profile, raw, err := client.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if profile.Email != "jane@example.com" {
		t.Errorf("Email = %q", profile.Email)
	}
	if len(raw) == 0 {
		t.Error("raw profile should be returned")
	}
}

func TestClient_Register_PostsPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/register/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["phone"] != "+254712345678" || body["is_organizer"] != true {
			t.Errorf("payload = %v", body)
		}
		if _, ok := body["agreed_to_terms"]; ok {
			t.Error("payload must not include agreed_to_terms")
		}
		writeJSON(w, 201, `{"access":"a","refresh":"r","user":{"is_organizer":true},"message":"Registration successful!"}`)
	})

	result, err := client.Register(context.Background(), model.RegistrationPayload{
		Email: "org@example.com", Phone: "+254712345678", Country: "KE", IsOrganizer: true,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.Message != "Registration successful!" {
		t.Errorf("Message = %q", result.Message)
	}
}

func TestClient_Logout_SendsRefresh(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "ref-1" {
			t.Errorf("refresh = %q", body["refresh"])
		}
		writeJSON(w, 200, `{"message":"Logout successful!"}`)
	})

	if err := client.Logout(WithAccessToken(context.Background(), "acc"), "ref-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	collector := &mockCollector{}
	client := New(DefaultConfig(url), collector, testLogger())

	_, err := client.Login(context.Background(), "a@b.co", "x")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindTransport {
		t.Fatalf("error = %v, want transport error", err)
	}
	if RegistrationMessage(err) != MessageNetworkError {
		t.Errorf("RegistrationMessage() = %q", RegistrationMessage(err))
	}
	if len(collector.upstream) != 1 || collector.upstream[0].status != 0 {
		t.Errorf("upstream metrics = %+v", collector.upstream)
	}
}

func TestClient_ServerErrorKeepsBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, `{"detail":"Something broke"}`)
	})

	_, err := client.Login(context.Background(), "a@b.co", "x")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if apiErr.StatusCode != 500 || apiErr.Kind != KindServer {
		t.Errorf("StatusCode = %d, Kind = %v", apiErr.StatusCode, apiErr.Kind)
	}
	if LoginMessage(err) != "Something broke" {
		t.Errorf("LoginMessage() = %q", LoginMessage(err))
	}
}

func TestClient_NoRetry(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 503, `{"detail":"unavailable"}`)
	})

	_, _ = client.Login(context.Background(), "a@b.co", "x")
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 500, `{"detail":"down"}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.Breaker.MinRequests = 3
	cfg.Breaker.Timeout = time.Minute
	collector := &mockCollector{}
	client := New(cfg, collector, testLogger())

	for i := 0; i < 3; i++ {
		_, _ = client.Login(context.Background(), "a@b.co", "x")
	}
	if client.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", client.BreakerState())
	}

	_, err := client.Login(context.Background(), "a@b.co", "x")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindTransport {
		t.Fatalf("error = %v, want transport error while open", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error should wrap gobreaker.ErrOpenState: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (open breaker must not call upstream)", calls.Load())
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if last := collector.states[len(collector.states)-1]; last != 2 {
		t.Errorf("last breaker state metric = %d, want 2", last)
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, `{"detail":"Login failed."}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.Breaker.MinRequests = 2
	client := New(cfg, nil, testLogger())

	for i := 0; i < 5; i++ {
		_, _ = client.Login(context.Background(), "a@b.co", "x")
	}
	if client.BreakerState() != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", client.BreakerState())
	}
}

func TestClient_BaseURLTrailingSlash(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/user/" {
			t.Errorf("path = %q, want /api/auth/user/", r.URL.Path)
		}
		writeJSON(w, 200, `{}`)
	})

	if _, _, err := client.CurrentUser(context.Background()); err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
}
