package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/metrics"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/security"
)

// RouterAuthService はルーター全体で使う認証サービス。
// ハンドラーの操作に加えて、ルートガードのトークン確認を行う。
type RouterAuthService interface {
	AuthServiceInterface
	middleware.TokenChecker
}

// DeEventAPI はページが呼び出すDeEvent APIの操作。apiclient.Clientが実装する。
type DeEventAPI interface {
	OrganizationAPI
	MyOrganizationsAPI
	ProfileAPI
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	AuthService RouterAuthService
	API         DeEventAPI
	Renderer    *Renderer
	Sanitizer   security.ContentSanitizer
	Metrics     metrics.MetricsCollector
	// MetricsHandler は/metricsで公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
	// RateLimiter はログインと登録の最終送信を制限する。nilの場合は制限しない。
	RateLimiter *middleware.RateLimiter
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等から接続元IPを決める。
	TrustProxyHeaders bool
	Session           middleware.SessionConfig
	CSRF              middleware.CSRFConfig
	HealthChecks      map[string]HealthCheck
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	(RealIP) → RequestID → Recovery → Tracing → Metrics
//	  → BrowserSession → Logging → SecurityHeaders → CSRF → (RouteGuard → APIToken)
//
// /health と /metrics はブラウザセッションの外に配置する。
// RealIPは信頼できるプロキシ配下と設定された場合のみ使う。
func NewRouter(deps *RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Renderer, deps.Sanitizer, collector, deps.Session)
	var submitLimiter SubmitLimiter
	if deps.RateLimiter != nil {
		submitLimiter = deps.RateLimiter
	}
	registerHandler := NewRegisterHandler(deps.AuthService, deps.Renderer, deps.Sanitizer, collector, deps.Session, submitLimiter)
	dashboardHandler := NewDashboardHandler(deps.AuthService, deps.API, deps.API, deps.Renderer)
	orgHandler := NewOrganizationHandler(deps.API, deps.Renderer, deps.Sanitizer)
	healthHandler := NewHealthHandler(deps.HealthChecks)

	r := chi.NewRouter()
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewTracingMiddleware())
	r.Use(middleware.NewMetricsMiddleware(collector))

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- ブラウザ向けページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBrowserSessionMiddleware(deps.Session))
		r.Use(middleware.NewLoggingMiddleware(log, deps.AuthService))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		})

		loginLimited := r.With()
		if deps.RateLimiter != nil {
			loginLimited = r.With(deps.RateLimiter.AuthMiddleware())
		}

		r.Get("/login", authHandler.ShowLogin)
		loginLimited.Post("/login", authHandler.Login)
		// 登録はウィザードの途中操作を制限せず、ハンドラーが最終送信だけを制限する
		r.Get("/register", registerHandler.Show)
		r.Post("/register", registerHandler.Submit)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRouteGuard(deps.AuthService, collector))
			r.Use(withAPIToken(deps.AuthService))

			r.Post("/logout", authHandler.Logout)

			r.Get("/dashboard", dashboardHandler.Dashboard)
			r.Get("/dashboard/organizer", dashboardHandler.OrganizerDashboard)
			r.Get("/profile", dashboardHandler.Profile)

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Post("/", orgHandler.Create)
				r.Get("/new", orgHandler.New)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", orgHandler.Show)
					r.Post("/", orgHandler.Update)
					r.Get("/edit", orgHandler.Edit)
					r.Post("/delete", orgHandler.Delete)
				})
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			deps.Renderer.RenderError(w, r, http.StatusNotFound, model.NewNotFoundError(), isLoggedIn(r, deps.AuthService))
		})
	})

	return r
}

// withAPIToken は保存済みアクセストークンをAPI呼び出し用のコンテキストに設定するミドルウェアを返す。
// ルートガードの後に置く。
func withAPIToken(tokens tokenSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := tokens.AccessToken(r.Context(), middleware.SessionIDFromContext(r.Context()))
			if err != nil {
				logger.FromContext(r.Context()).Error("failed to read access token",
					slog.String("error", err.Error()),
				)
				http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(apiclient.WithAccessToken(r.Context(), token)))
		})
	}
}
