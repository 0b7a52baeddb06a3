package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/model"
)

// SessionReader は保存済みセッションを読み出すインターフェース。
type SessionReader interface {
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// ProfileAPI はログイン中のユーザー情報を取得するインターフェース。
// apiclient.Clientが実装する。
type ProfileAPI interface {
	CurrentUser(ctx context.Context) (*model.UserProfile, json.RawMessage, error)
}

// MyOrganizationsAPI は所有・所属する組織を取得するインターフェース。
type MyOrganizationsAPI interface {
	MyOrganizations(ctx context.Context) (*model.MyOrganizations, error)
}

// DashboardHandler はダッシュボードとプロフィールのHTTPハンドラー。
type DashboardHandler struct {
	sessions SessionReader
	profiles ProfileAPI
	orgs     MyOrganizationsAPI
	renderer *Renderer
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(sessions SessionReader, profiles ProfileAPI, orgs MyOrganizationsAPI, renderer *Renderer) *DashboardHandler {
	return &DashboardHandler{
		sessions: sessions,
		profiles: profiles,
		orgs:     orgs,
		renderer: renderer,
	}
}

type dashboardPage struct {
	basePage
	Name        string
	IsOrganizer bool
}

type organizerDashboardPage struct {
	basePage
	Name     string
	Owned    []model.Organization
	MemberOf []model.Organization
	Error    string
}

type profilePage struct {
	basePage
	Profile *model.UserProfile
	Error   string
}

// Dashboard は保存済みプロフィールだけを使って歓迎メッセージを表示する。
// GET /dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	profile := h.storedProfile(w, r)
	if profile == nil {
		return
	}
	h.renderer.Render(w, r, http.StatusOK, pageDashboard, &dashboardPage{
		basePage:    basePage{Title: "Dashboard", LoggedIn: true},
		Name:        profile.DisplayName(),
		IsOrganizer: profile.IsOrganizer,
	})
}

// OrganizerDashboard は所有・所属する組織の一覧を表示する。
// GET /dashboard/organizer
func (h *DashboardHandler) OrganizerDashboard(w http.ResponseWriter, r *http.Request) {
	profile := h.storedProfile(w, r)
	if profile == nil {
		return
	}

	mine, err := h.orgs.MyOrganizations(r.Context())
	if err != nil {
		h.renderer.renderUpstreamError(w, r, err, "")
		return
	}

	h.renderer.Render(w, r, http.StatusOK, pageOrganizerDashboard, &organizerDashboardPage{
		basePage: basePage{Title: "Organizer Dashboard", LoggedIn: true},
		Name:     profile.DisplayName(),
		Owned:    mine.Owned,
		MemberOf: mine.MemberOf,
	})
}

// Profile はAPIから最新のユーザー情報を取得して表示する。
// GET /profile
func (h *DashboardHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, _, err := h.profiles.CurrentUser(r.Context())
	if err != nil {
		h.renderer.renderUpstreamError(w, r, err, "")
		return
	}

	h.renderer.Render(w, r, http.StatusOK, pageProfile, &profilePage{
		basePage: basePage{Title: "Profile", LoggedIn: true},
		Profile:  profile,
	})
}

// storedProfile はセッションに保存されたプロフィールを返す。
// 読み出しに失敗した場合はレスポンスを書き込んでnilを返す。
// プロフィールが壊れている場合は空のプロフィールとして扱う。
func (h *DashboardHandler) storedProfile(w http.ResponseWriter, r *http.Request) *model.UserProfile {
	log := logger.FromContext(r.Context())

	session, err := h.sessions.CurrentSession(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		log.Error("failed to read session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w, r)
		return nil
	}
	if session == nil {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return nil
	}

	profile, err := session.Profile()
	if err != nil {
		log.Warn("stored profile could not be decoded", slog.String("error", err.Error()))
		return &model.UserProfile{}
	}
	return profile
}
