package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/repository"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/wizard"
)

// --- モック定義 ---

type mockAuthAPI struct {
	loginFn    func(ctx context.Context, email, password string) (*model.AuthResult, error)
	registerFn func(ctx context.Context, payload model.RegistrationPayload) (*model.AuthResult, error)
	logoutFn   func(ctx context.Context, refreshToken string) error
}

func (m *mockAuthAPI) Login(ctx context.Context, email, password string) (*model.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("login not configured")
}

func (m *mockAuthAPI) Register(ctx context.Context, payload model.RegistrationPayload) (*model.AuthResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, payload)
	}
	return nil, errors.New("register not configured")
}

func (m *mockAuthAPI) Logout(ctx context.Context, refreshToken string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, refreshToken)
	}
	return nil
}

// failingStore は全ての操作でエラーを返すセッションストア。
type failingStore struct{}

func (failingStore) Get(context.Context, string, string) (string, error) {
	return "", errors.New("store down")
}
func (failingStore) Set(context.Context, string, map[string]string) error {
	return errors.New("store down")
}
func (failingStore) Delete(context.Context, string, ...string) error {
	return errors.New("store down")
}
func (failingStore) Clear(context.Context, string) error { return errors.New("store down") }

// rotatedID はテスト中にログイン・登録後のセッションIDとして払い出す値。
const rotatedID = "sid-2"

func newTestSealer() *security.DraftSealer {
	sealer, err := security.NewDraftSealer("test-draft-secret")
	if err != nil {
		panic(err)
	}
	return sealer
}

func newTestService(api *mockAuthAPI) (*Service, *repository.MemorySessionStore) {
	store := repository.NewMemorySessionStore(time.Hour)
	svc := NewService(api, store, newTestSealer())
	svc.newID = func() (string, error) { return rotatedID, nil }
	return svc, store
}

func authResult() *model.AuthResult {
	return &model.AuthResult{
		Access:  "access-1",
		Refresh: "refresh-1",
		User:    json.RawMessage(`{"first_name":"Amina","is_organizer":false}`),
		Message: "Registration successful.",
	}
}

// --- Login ---

func TestLogin_Success_SavesSession(t *testing.T) {
	api := &mockAuthAPI{
		loginFn: func(_ context.Context, email, password string) (*model.AuthResult, error) {
			if email != "a@b.co" || password != "secret123" {
				t.Errorf("unexpected credentials %q / %q", email, password)
			}
			return authResult(), nil
		},
	}
	svc, store := newTestService(api)
	ctx := context.Background()

	session, newID, err := svc.Login(ctx, "sid-1", "a@b.co", "secret123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q, want %q", session.AccessToken, "access-1")
	}
	if newID != rotatedID {
		t.Errorf("new session ID = %q, want %q", newID, rotatedID)
	}

	for key, want := range map[string]string{
		model.SessionKeyAccessToken:  "access-1",
		model.SessionKeyRefreshToken: "refresh-1",
		model.SessionKeyUser:         `{"first_name":"Amina","is_organizer":false}`,
	} {
		if got, _ := store.Get(ctx, rotatedID, key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

// TestLogin_RotatesSessionID はログイン前のセッションIDに認証情報が残らないことを検証する。
func TestLogin_RotatesSessionID(t *testing.T) {
	api := &mockAuthAPI{
		loginFn: func(context.Context, string, string) (*model.AuthResult, error) { return authResult(), nil },
	}
	svc, store := newTestService(api)
	ctx := context.Background()

	// 事前に仕込まれたIDを想定して旧IDにデータを置いておく
	_ = store.Set(ctx, "sid-1", map[string]string{model.SessionKeyRegistrationDraft: "planted"})

	if _, _, err := svc.Login(ctx, "sid-1", "a@b.co", "secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	for _, key := range []string{model.SessionKeyAccessToken, model.SessionKeyRegistrationDraft} {
		if got, _ := store.Get(ctx, "sid-1", key); got != "" {
			t.Errorf("old session %s = %q, want empty", key, got)
		}
	}
	if ok, _ := svc.HasAccessToken(ctx, "sid-1"); ok {
		t.Error("old session ID should not be authenticated after login")
	}
}

func TestLogin_IDGenerationError_ReturnsError(t *testing.T) {
	api := &mockAuthAPI{
		loginFn: func(context.Context, string, string) (*model.AuthResult, error) { return authResult(), nil },
	}
	svc, store := newTestService(api)
	svc.newID = func() (string, error) { return "", errors.New("entropy unavailable") }
	ctx := context.Background()

	if _, _, err := svc.Login(ctx, "sid-1", "a@b.co", "x"); err == nil {
		t.Fatal("expected error when ID generation fails")
	}
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyAccessToken); got != "" {
		t.Errorf("access_token = %q, want empty", got)
	}
}

func TestLogin_APIError_LeavesSessionUntouched(t *testing.T) {
	apiErr := &apiclient.Error{Kind: apiclient.KindServer, StatusCode: 401, Body: []byte(`{"detail":"No active account"}`)}
	api := &mockAuthAPI{
		loginFn: func(context.Context, string, string) (*model.AuthResult, error) {
			return nil, apiErr
		},
	}
	svc, store := newTestService(api)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "sid-1", "a@b.co", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	var got *apiclient.Error
	if !errors.As(err, &got) {
		t.Fatalf("error should wrap *apiclient.Error, got %T", err)
	}
	if token, _ := store.Get(ctx, "sid-1", model.SessionKeyAccessToken); token != "" {
		t.Errorf("access_token = %q, want empty", token)
	}
}

func TestLogin_MissingCredentials_DoesNotCallAPI(t *testing.T) {
	called := false
	api := &mockAuthAPI{
		loginFn: func(context.Context, string, string) (*model.AuthResult, error) {
			called = true
			return authResult(), nil
		},
	}
	svc, _ := newTestService(api)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "secret"},
		{"blank email", "   ", "secret"},
		{"empty password", "a@b.co", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Login(context.Background(), "sid-1", tt.email, tt.password)
			if !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("error = %v, want ErrMissingCredentials", err)
			}
		})
	}
	if called {
		t.Error("API should not be called with missing credentials")
	}
}

func TestLogin_EmptySessionID_ReturnsError(t *testing.T) {
	svc, _ := newTestService(&mockAuthAPI{})
	if _, _, err := svc.Login(context.Background(), "", "a@b.co", "x"); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestLogin_StoreError_ReturnsError(t *testing.T) {
	api := &mockAuthAPI{
		loginFn: func(context.Context, string, string) (*model.AuthResult, error) { return authResult(), nil },
	}
	svc := NewService(api, failingStore{}, newTestSealer())
	if _, _, err := svc.Login(context.Background(), "sid-1", "a@b.co", "x"); err == nil {
		t.Fatal("expected error when store fails")
	}
}

// --- Register ---

func TestRegister_Success_SavesSessionAndDeletesDraft(t *testing.T) {
	var sent model.RegistrationPayload
	api := &mockAuthAPI{
		registerFn: func(_ context.Context, payload model.RegistrationPayload) (*model.AuthResult, error) {
			sent = payload
			return authResult(), nil
		},
	}
	svc, store := newTestService(api)
	ctx := context.Background()

	_ = store.Set(ctx, "sid-1", map[string]string{model.SessionKeyRegistrationDraft: `{"step":3}`})

	payload := model.RegistrationPayload{Email: "a@b.co", Country: "KE", IsOrganizer: true}
	result, newID, err := svc.Register(ctx, "sid-1", payload)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if newID != rotatedID {
		t.Errorf("new session ID = %q, want %q", newID, rotatedID)
	}
	if result.Message != "Registration successful." {
		t.Errorf("Message = %q", result.Message)
	}
	if sent.Email != "a@b.co" || !sent.IsOrganizer {
		t.Errorf("payload not forwarded: %+v", sent)
	}
	if got, _ := store.Get(ctx, rotatedID, model.SessionKeyRefreshToken); got != "refresh-1" {
		t.Errorf("refresh_token = %q, want %q", got, "refresh-1")
	}
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyRegistrationDraft); got != "" {
		t.Errorf("registration_draft = %q, want empty", got)
	}
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyAccessToken); got != "" {
		t.Errorf("old session access_token = %q, want empty", got)
	}
}

func TestRegister_APIError_KeepsDraft(t *testing.T) {
	api := &mockAuthAPI{
		registerFn: func(context.Context, model.RegistrationPayload) (*model.AuthResult, error) {
			return nil, &apiclient.Error{Kind: apiclient.KindValidation, StatusCode: 400, Body: []byte(`{"email":["taken"]}`)}
		},
	}
	svc, store := newTestService(api)
	ctx := context.Background()
	_ = store.Set(ctx, "sid-1", map[string]string{model.SessionKeyRegistrationDraft: `{"step":3}`})

	if _, _, err := svc.Register(ctx, "sid-1", model.RegistrationPayload{}); err == nil {
		t.Fatal("expected error")
	}
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyRegistrationDraft); got == "" {
		t.Error("draft should be kept after a failed registration")
	}
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyAccessToken); got != "" {
		t.Errorf("access_token = %q, want empty", got)
	}
}

// --- Logout ---

func TestLogout_CallsAPIWithRefreshTokenAndClears(t *testing.T) {
	var gotRefresh, gotBearer string
	api := &mockAuthAPI{
		logoutFn: func(ctx context.Context, refreshToken string) error {
			gotRefresh = refreshToken
			gotBearer = apiclient.AccessTokenFromContext(ctx)
			return nil
		},
	}
	svc, store := newTestService(api)
	ctx := context.Background()
	_ = svc.SaveSession(ctx, "sid-1", authResult().Session())
	_ = store.Set(ctx, "sid-1", map[string]string{model.SessionKeyRegistrationDraft: "{}"})

	if err := svc.Logout(ctx, "sid-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if gotRefresh != "refresh-1" {
		t.Errorf("refresh = %q, want %q", gotRefresh, "refresh-1")
	}
	if gotBearer != "access-1" {
		t.Errorf("bearer = %q, want %q", gotBearer, "access-1")
	}
	for _, key := range []string{
		model.SessionKeyAccessToken, model.SessionKeyRefreshToken,
		model.SessionKeyUser, model.SessionKeyRegistrationDraft,
	} {
		if got, _ := store.Get(ctx, "sid-1", key); got != "" {
			t.Errorf("%s = %q after logout, want empty", key, got)
		}
	}
}

func TestLogout_APIFailure_StillClears(t *testing.T) {
	api := &mockAuthAPI{
		logoutFn: func(context.Context, string) error {
			return &apiclient.Error{Kind: apiclient.KindTransport, Err: errors.New("connection refused")}
		},
	}
	svc, store := newTestService(api)
	ctx := context.Background()
	_ = svc.SaveSession(ctx, "sid-1", authResult().Session())

	if err := svc.Logout(ctx, "sid-1"); err != nil {
		t.Fatalf("Logout() error = %v, want nil", err)
	}
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyAccessToken); got != "" {
		t.Errorf("access_token = %q after logout, want empty", got)
	}
}

func TestLogout_NoRefreshToken_SkipsAPI(t *testing.T) {
	called := false
	api := &mockAuthAPI{
		logoutFn: func(context.Context, string) error {
			called = true
			return nil
		},
	}
	svc, _ := newTestService(api)

	if err := svc.Logout(context.Background(), "sid-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if called {
		t.Error("API logout should not be called without a refresh token")
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	svc, _ := newTestService(&mockAuthAPI{})
	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

// --- Session ---

func TestCurrentSession(t *testing.T) {
	svc, _ := newTestService(&mockAuthAPI{})
	ctx := context.Background()

	session, err := svc.CurrentSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("CurrentSession() error = %v", err)
	}
	if session != nil {
		t.Errorf("CurrentSession() = %+v, want nil before login", session)
	}

	_ = svc.SaveSession(ctx, "sid-1", authResult().Session())

	session, err = svc.CurrentSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("CurrentSession() error = %v", err)
	}
	profile, err := session.Profile()
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if profile.DisplayName() != "Amina" {
		t.Errorf("DisplayName() = %q, want %q", profile.DisplayName(), "Amina")
	}
}

func TestSaveSession_NilUserStoredAsNull(t *testing.T) {
	svc, store := newTestService(&mockAuthAPI{})
	ctx := context.Background()

	_ = svc.SaveSession(ctx, "sid-1", &model.Session{AccessToken: "a", RefreshToken: "r"})
	if got, _ := store.Get(ctx, "sid-1", model.SessionKeyUser); got != "null" {
		t.Errorf("user = %q, want %q", got, "null")
	}
}

func TestHasAccessToken(t *testing.T) {
	svc, _ := newTestService(&mockAuthAPI{})
	ctx := context.Background()

	if ok, _ := svc.HasAccessToken(ctx, ""); ok {
		t.Error("empty session ID should not have a token")
	}
	if ok, _ := svc.HasAccessToken(ctx, "sid-1"); ok {
		t.Error("unknown session should not have a token")
	}
	_ = svc.SaveSession(ctx, "sid-1", authResult().Session())
	if ok, _ := svc.HasAccessToken(ctx, "sid-1"); !ok {
		t.Error("token should be present after SaveSession")
	}

	failing := NewService(&mockAuthAPI{}, failingStore{}, newTestSealer())
	if _, err := failing.HasAccessToken(ctx, "sid-1"); err == nil {
		t.Error("expected error from failing store")
	}
}

// --- Draft ---

func TestDraft_SaveLoadDelete(t *testing.T) {
	svc, _ := newTestService(&mockAuthAPI{})
	ctx := context.Background()

	w, err := svc.LoadDraft(ctx, "sid-1")
	if err != nil {
		t.Fatalf("LoadDraft() error = %v", err)
	}
	if w.Step != wizard.StepUserType {
		t.Errorf("new draft step = %d, want %d", w.Step, wizard.StepUserType)
	}

	if err := w.SelectUserType(wizard.UserTypeOrganizer); err != nil {
		t.Fatalf("SelectUserType() error = %v", err)
	}
	w.Next()
	if err := svc.SaveDraft(ctx, "sid-1", w); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}

	loaded, err := svc.LoadDraft(ctx, "sid-1")
	if err != nil {
		t.Fatalf("LoadDraft() error = %v", err)
	}
	if loaded.Step != wizard.StepCredentials {
		t.Errorf("step = %d, want %d", loaded.Step, wizard.StepCredentials)
	}
	if !loaded.Form.IsOrganizer {
		t.Error("IsOrganizer should survive a round trip")
	}

	if err := svc.DeleteDraft(ctx, "sid-1"); err != nil {
		t.Fatalf("DeleteDraft() error = %v", err)
	}
	loaded, _ = svc.LoadDraft(ctx, "sid-1")
	if loaded.Step != wizard.StepUserType {
		t.Errorf("step after delete = %d, want %d", loaded.Step, wizard.StepUserType)
	}
}

// TestSaveDraft_StoresNoPlaintextPassword はストアに置かれた下書きの生の値に
// パスワードやメールアドレスが平文で含まれないことを検証する。
func TestSaveDraft_StoresNoPlaintextPassword(t *testing.T) {
	svc, store := newTestService(&mockAuthAPI{})
	ctx := context.Background()

	w := wizard.New()
	_ = w.SelectUserType(wizard.UserTypePersonal)
	w.Next()
	_ = w.SetField(wizard.FieldEmail, "a@b.co")
	_ = w.SetField(wizard.FieldPassword, "Secret123")
	_ = w.SetField(wizard.FieldPassword2, "Secret123")
	if err := svc.SaveDraft(ctx, "sid-1", w); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}

	raw, err := store.Get(ctx, "sid-1", model.SessionKeyRegistrationDraft)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if raw == "" {
		t.Fatal("draft was not stored")
	}
	for _, secret := range []string{"Secret123", "a@b.co", "password"} {
		if strings.Contains(raw, secret) {
			t.Errorf("raw draft contains %q: %s", secret, raw)
		}
	}

	loaded, err := svc.LoadDraft(ctx, "sid-1")
	if err != nil {
		t.Fatalf("LoadDraft() error = %v", err)
	}
	if loaded.Form.Password != "Secret123" || loaded.Form.Password2 != "Secret123" {
		t.Error("password should survive a sealed round trip")
	}
}

// TestLoadDraft_UnsealableDraftStartsOver は鍵が変わった下書きを捨てることを検証する。
func TestLoadDraft_UnsealableDraftStartsOver(t *testing.T) {
	svc, store := newTestService(&mockAuthAPI{})
	ctx := context.Background()

	w := wizard.New()
	_ = w.SelectUserType(wizard.UserTypeArtist)
	w.Next()
	_ = svc.SaveDraft(ctx, "sid-1", w)

	other, _ := security.NewDraftSealer("rotated-secret")
	restarted := NewService(&mockAuthAPI{}, store, other)

	loaded, err := restarted.LoadDraft(ctx, "sid-1")
	if err != nil {
		t.Fatalf("LoadDraft() error = %v", err)
	}
	if loaded.Step != wizard.StepUserType {
		t.Errorf("step = %d, want %d", loaded.Step, wizard.StepUserType)
	}
}

func TestLoadDraft_BrokenDraftStartsOver(t *testing.T) {
	svc, store := newTestService(&mockAuthAPI{})
	ctx := context.Background()
	_ = store.Set(ctx, "sid-1", map[string]string{model.SessionKeyRegistrationDraft: "{not json"})

	w, err := svc.LoadDraft(ctx, "sid-1")
	if err != nil {
		t.Fatalf("LoadDraft() error = %v", err)
	}
	if w.Step != wizard.StepUserType {
		t.Errorf("step = %d, want %d", w.Step, wizard.StepUserType)
	}
}

// --- GenerateSessionID ---

func TestGenerateSessionID(t *testing.T) {
	a, err := GenerateSessionID()
	if err != nil {
		t.Fatalf("GenerateSessionID() error = %v", err)
	}
	b, _ := GenerateSessionID()

	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if a == b {
		t.Error("session IDs should be unique")
	}
}
