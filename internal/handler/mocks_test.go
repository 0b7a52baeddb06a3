package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/metrics"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/wizard"
)

// --- モック定義 ---

// mockAuthService はRouterAuthServiceのモック実装。
// 下書きはdraftフィールドに保持する。
type mockAuthService struct {
	loginFn          func(ctx context.Context, sessionID, email, password string) (*model.Session, string, error)
	registerFn       func(ctx context.Context, sessionID string, payload model.RegistrationPayload) (*model.AuthResult, string, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	currentSessionFn func(ctx context.Context, sessionID string) (*model.Session, error)
	accessTokenFn    func(ctx context.Context, sessionID string) (string, error)
	loadDraftErr     error
	saveDraftErr     error

	draft       *wizard.Wizard
	logoutCalls int
}

func (m *mockAuthService) Login(ctx context.Context, sessionID, email, password string) (*model.Session, string, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, sessionID, email, password)
	}
	return &model.Session{AccessToken: "access"}, testRotatedSessionID, nil
}

func (m *mockAuthService) Register(ctx context.Context, sessionID string, payload model.RegistrationPayload) (*model.AuthResult, string, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, sessionID, payload)
	}
	return &model.AuthResult{Access: "access", Refresh: "refresh", User: json.RawMessage(`{}`)}, testRotatedSessionID, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	m.logoutCalls++
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if m.currentSessionFn != nil {
		return m.currentSessionFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockAuthService) AccessToken(ctx context.Context, sessionID string) (string, error) {
	if m.accessTokenFn != nil {
		return m.accessTokenFn(ctx, sessionID)
	}
	return "", nil
}

func (m *mockAuthService) HasAccessToken(ctx context.Context, sessionID string) (bool, error) {
	token, err := m.AccessToken(ctx, sessionID)
	return token != "", err
}

func (m *mockAuthService) LoadDraft(ctx context.Context, sessionID string) (*wizard.Wizard, error) {
	if m.loadDraftErr != nil {
		return nil, m.loadDraftErr
	}
	if m.draft == nil {
		return wizard.New(), nil
	}
	// 保存済みの下書きを書き換えないようJSON経由で複製する
	data, err := m.draft.Marshal()
	if err != nil {
		return nil, err
	}
	return wizard.Load(data)
}

func (m *mockAuthService) SaveDraft(ctx context.Context, sessionID string, w *wizard.Wizard) error {
	if m.saveDraftErr != nil {
		return m.saveDraftErr
	}
	m.draft = w
	return nil
}

// mockAPI はDeEventAPIのモック実装。
type mockAPI struct {
	listFn    func(ctx context.Context) ([]model.Organization, error)
	createFn  func(ctx context.Context, in model.OrganizationInput) (*model.Organization, error)
	getFn     func(ctx context.Context, id string) (*model.Organization, error)
	updateFn  func(ctx context.Context, id string, in model.OrganizationInput) (*model.Organization, error)
	deleteFn  func(ctx context.Context, id string) error
	mineFn    func(ctx context.Context) (*model.MyOrganizations, error)
	profileFn func(ctx context.Context) (*model.UserProfile, json.RawMessage, error)

	createCalls int
}

func (m *mockAPI) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []model.Organization{}, nil
}

func (m *mockAPI) CreateOrganization(ctx context.Context, in model.OrganizationInput) (*model.Organization, error) {
	m.createCalls++
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Organization{ID: "org-1", Name: in.Name}, nil
}

func (m *mockAPI) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &model.Organization{ID: id}, nil
}

func (m *mockAPI) UpdateOrganization(ctx context.Context, id string, in model.OrganizationInput) (*model.Organization, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return &model.Organization{ID: id, Name: in.Name}, nil
}

func (m *mockAPI) DeleteOrganization(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockAPI) MyOrganizations(ctx context.Context) (*model.MyOrganizations, error) {
	if m.mineFn != nil {
		return m.mineFn(ctx)
	}
	return &model.MyOrganizations{}, nil
}

func (m *mockAPI) CurrentUser(ctx context.Context) (*model.UserProfile, json.RawMessage, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx)
	}
	return &model.UserProfile{}, json.RawMessage(`{}`), nil
}

// recordingCollector は認証系のメトリクスだけを記録する。
type recordingCollector struct {
	metrics.Nop
	logins        []string
	registrations []string
	transitions   []string
}

func (c *recordingCollector) RecordLoginAttempt(outcome string) {
	c.logins = append(c.logins, outcome)
}

func (c *recordingCollector) RecordRegistration(outcome string) {
	c.registrations = append(c.registrations, outcome)
}

func (c *recordingCollector) RecordWizardTransition(_ int, transition string) {
	c.transitions = append(c.transitions, transition)
}

// --- ヘルパー ---

const (
	testSessionID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	// testRotatedSessionID はログイン・登録後に払い出されるセッションID。
	testRotatedSessionID = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
	testCSRFToken        = "csrf-token-for-tests"
)

// sessionCookieValue はレスポンスで設定されたセッションCookieの値を返す。
func sessionCookieValue(w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c.Value
		}
	}
	return ""
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	rd, err := NewRenderer(security.NewContentSanitizer())
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return rd
}

// newRequest はセッションIDとCSRFトークンを注入したリクエストを返す。
// formがnilでなければフォームとして送信する。
func newRequest(method, target string, form url.Values) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := middleware.ContextWithSessionID(req.Context(), testSessionID)
	ctx = middleware.ContextWithCSRFToken(ctx, testCSRFToken)
	return req.WithContext(ctx)
}

// withURLParam はchiのURLパラメータを設定したリクエストを返す。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// statusError はステータスとボディを持つAPIエラーを返す。
func statusError(kind apiclient.Kind, status int, body string) error {
	return &apiclient.Error{Kind: kind, StatusCode: status, Body: []byte(body)}
}
