// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/metrics"
)

// SessionCookieName はブラウザセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// LoginPath は未認証時のリダイレクト先。
const LoginPath = "/login"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionIDContextKey はリクエストコンテキストにブラウザセッションIDを格納するためのキー。
var sessionIDContextKey = contextKey("session_id")

// SessionConfig はブラウザセッションCookieの設定。
type SessionConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
	// NewID はセッションIDを生成する。auth.GenerateSessionIDを渡す。
	NewID func() (string, error)
}

// NewBrowserSessionMiddleware はCookieからブラウザセッションIDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない場合は新しいIDを発行してHTTP Only Cookieに設定する。
func NewBrowserSessionMiddleware(config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ""
			if cookie, err := r.Cookie(SessionCookieName); err == nil && isValidSessionID(cookie.Value) {
				sessionID = cookie.Value
			}

			if sessionID == "" {
				id, err := config.NewID()
				if err != nil {
					logger.FromContext(r.Context()).Error("failed to generate session ID",
						slog.String("error", err.Error()),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				sessionID = id
				setSessionCookie(w, config, sessionID)
			}

			ctx := ContextWithSessionID(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setSessionCookie(w http.ResponseWriter, config SessionConfig, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// RotateSessionCookie はログイン・登録後の新しいセッションIDをCookieに設定する。
// 同じレスポンスで発行済みのセッションCookieは取り除く。
func RotateSessionCookie(w http.ResponseWriter, config SessionConfig, sessionID string) {
	header := w.Header()
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, SessionCookieName+"=") {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}

	setSessionCookie(w, config, sessionID)
}

// ExpireSessionCookie はブラウザセッションCookieを失効させる。
func ExpireSessionCookie(w http.ResponseWriter, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isValidSessionID はCookieの値が64文字の16進数かを判定する。
func isValidSessionID(v string) bool {
	if len(v) != 64 {
		return false
	}
	for _, c := range v {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// SessionIDFromContext はリクエストコンテキストからブラウザセッションIDを取得する。
// セッションミドルウェアを通過していない場合は空文字列を返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithSessionID はコンテキストにブラウザセッションIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

// TokenChecker はアクセストークンの有無を確認するインターフェース。
// auth.Serviceが実装する。
type TokenChecker interface {
	HasAccessToken(ctx context.Context, sessionID string) (bool, error)
}

// NewRouteGuard は保存済みアクセストークンがない場合に/loginへリダイレクトするミドルウェアを返す。
// トークンの有効期限や署名は検証しない。ストアのエラーはトークンなしとして扱う。
func NewRouteGuard(checker TokenChecker, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := checker.HasAccessToken(r.Context(), SessionIDFromContext(r.Context()))
			if err != nil {
				logger.FromContext(r.Context()).Error("failed to check access token",
					slog.String("error", err.Error()),
				)
				ok = false
			}
			if !ok {
				collector.RecordGuardRedirect()
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
