// Package handler はブラウザ向けのHTTPハンドラーを提供する。
// 全ての画面はサーバー側で描画し、フォーム送信はPOST/Redirect/GETで処理する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/auth"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/metrics"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/wizard"
)

const dashboardPath = "/dashboard"

// AuthServiceInterface は認証・登録ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthServiceInterface interface {
	Login(ctx context.Context, sessionID, email, password string) (*model.Session, string, error)
	Register(ctx context.Context, sessionID string, payload model.RegistrationPayload) (*model.AuthResult, string, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
	AccessToken(ctx context.Context, sessionID string) (string, error)
	LoadDraft(ctx context.Context, sessionID string) (*wizard.Wizard, error)
	SaveDraft(ctx context.Context, sessionID string, w *wizard.Wizard) error
}

// AuthHandler はログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	renderer  *Renderer
	sanitizer security.ContentSanitizer
	metrics   metrics.MetricsCollector
	session   middleware.SessionConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	renderer *Renderer,
	sanitizer security.ContentSanitizer,
	collector metrics.MetricsCollector,
	session middleware.SessionConfig,
) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service:   service,
		renderer:  renderer,
		sanitizer: sanitizer,
		metrics:   collector,
		session:   session,
	}
}

// loginPage はログイン画面のデータ。
type loginPage struct {
	basePage
	Email string
	Error string
}

// ShowLogin はログインフォームを表示する。
// ログイン済みでもリダイレクトしない。
// GET /login
func (h *AuthHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, pageLogin, &loginPage{
		basePage: basePage{Title: "Sign In", LoggedIn: isLoggedIn(r, h.service)},
	})
}

// Login はメールアドレスとパスワードでログインする。
// 成功時はセッションIDを新しく払い出してCookieを差し替える。
// 失敗時はメールアドレスを残したままフォームを再表示し、セッションには触れない。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	_, newSessionID, err := h.service.Login(r.Context(), sessionID, email, password)
	if err != nil {
		h.metrics.RecordLoginAttempt(metrics.OutcomeFailure)

		var apiErr *apiclient.Error
		if !errors.As(err, &apiErr) && !errors.Is(err, auth.ErrMissingCredentials) {
			logger.FromContext(r.Context()).Error("login failed",
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w, r)
			return
		}

		h.renderer.Render(w, r, http.StatusOK, pageLogin, &loginPage{
			basePage: basePage{Title: "Sign In"},
			Email:    email,
			Error:    h.sanitizer.Text(apiclient.LoginMessage(err)),
		})
		return
	}

	h.metrics.RecordLoginAttempt(metrics.OutcomeSuccess)
	middleware.RotateSessionCookie(w, h.session, newSessionID)
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// Logout はセッションを破棄してログイン画面へリダイレクトする。
// サーバー側の失効は失敗しても続行する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		logger.FromContext(r.Context()).Error("failed to clear session on logout",
			slog.String("error", err.Error()),
		)
	}

	middleware.ExpireSessionCookie(w, h.session)
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

// tokenSource はアクセストークンを読み出せるサービス。
type tokenSource interface {
	AccessToken(ctx context.Context, sessionID string) (string, error)
}

// isLoggedIn はナビゲーション表示用にログイン状態を判定する。
// ストアのエラーは未ログインとして扱う。
func isLoggedIn(r *http.Request, tokens tokenSource) bool {
	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		return false
	}
	token, err := tokens.AccessToken(r.Context(), sessionID)
	return err == nil && token != ""
}
