// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"fmt"
)

// セッションストアのキー。ブラウザセッションごとにこのキー配置で保存する。
const (
	SessionKeyAccessToken  = "access_token"
	SessionKeyRefreshToken = "refresh_token"
	SessionKeyUser         = "user"
	// SessionKeyRegistrationDraft は登録ウィザードの下書き（JSON）。
	SessionKeyRegistrationDraft = "registration_draft"
)

// UserProfile はDeEvent APIが返すユーザー情報のスナップショット。
// 表示専用であり、ローカルでの検証やマージは行わない。
type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	FullName    string `json:"full_name"`
	Country     string `json:"country"`
	City        string `json:"city"`
	County      string `json:"county"`
	IsOrganizer bool   `json:"is_organizer"`
	IsVerified  bool   `json:"is_verified"`
}

// DisplayName は画面表示用の名前を返す。名が未設定の場合は "User" を返す。
func (p *UserProfile) DisplayName() string {
	if p == nil || p.FirstName == "" {
		return "User"
	}
	return p.FirstName
}

// Session はブラウザセッションに紐づく認証情報を表す。
// ログインまたは登録の成功時に一括で作成され、ログアウト時に一括で破棄される。
type Session struct {
	AccessToken  string
	RefreshToken string
	// User はサーバーから受け取ったプロフィールJSONをそのまま保持する。
	User json.RawMessage
}

// Profile は保存済みのプロフィールJSONをデコードする。
// プロフィールが空の場合は空のUserProfileを返す。
func (s *Session) Profile() (*UserProfile, error) {
	return DecodeProfile(s.User)
}

// AuthResult はログイン・登録APIのレスポンスを表す。
type AuthResult struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	User    json.RawMessage `json:"user"`
	Message string          `json:"message"`
}

// Session はAuthResultからSessionを生成する。
func (r *AuthResult) Session() *Session {
	return &Session{
		AccessToken:  r.Access,
		RefreshToken: r.Refresh,
		User:         r.User,
	}
}

// Profile はレスポンスに含まれるユーザー情報をデコードする。
func (r *AuthResult) Profile() (*UserProfile, error) {
	return DecodeProfile(r.User)
}

// DecodeProfile はプロフィールJSONをUserProfileにデコードする。
func DecodeProfile(raw json.RawMessage) (*UserProfile, error) {
	profile := &UserProfile{}
	if len(raw) == 0 || string(raw) == "null" {
		return profile, nil
	}
	if err := json.Unmarshal(raw, profile); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	return profile, nil
}

// RegistrationPayload は登録APIに送信するリクエストボディ。
// 利用規約への同意とユーザー種別はサーバーに送信しない。
type RegistrationPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Password2   string `json:"password2"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	Country     string `json:"country"`
	City        string `json:"city"`
	County      string `json:"county"`
	IsOrganizer bool   `json:"is_organizer"`
}
