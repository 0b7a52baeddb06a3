package apiclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/deevent/internal/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type logoutRequest struct {
	Refresh string `json:"refresh"`
}

// Login はメールアドレスとパスワードでログインする。
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthResult, error) {
	result := &model.AuthResult{}
	err := c.do(ctx, "auth_login", http.MethodPost, "/auth/login/",
		loginRequest{Email: email, Password: password}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Register は新規ユーザーを登録する。
func (c *Client) Register(ctx context.Context, payload model.RegistrationPayload) (*model.AuthResult, error) {
	result := &model.AuthResult{}
	if err := c.do(ctx, "auth_register", http.MethodPost, "/auth/register/", payload, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Logout はリフレッシュトークンを無効化する。
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, "auth_logout", http.MethodPost, "/auth/logout/",
		logoutRequest{Refresh: refreshToken}, nil)
}

// CurrentUser はログイン中のユーザー情報を取得する。
// 表示用のプロフィールとサーバーが返したJSONをそのまま返す。
func (c *Client) CurrentUser(ctx context.Context) (*model.UserProfile, json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "auth_user", http.MethodGet, "/auth/user/", nil, &raw); err != nil {
		return nil, nil, err
	}
	profile, err := model.DecodeProfile(raw)
	if err != nil {
		return nil, nil, err
	}
	return profile, raw, nil
}
