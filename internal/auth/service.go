// Package auth はDeEvent APIを使ったログイン・登録・ログアウトと、
// ブラウザセッションへの認証情報の保存を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/repository"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/wizard"
)

// ErrMissingCredentials はメールアドレスまたはパスワードが空の場合のエラー。
var ErrMissingCredentials = errors.New("email and password are required")

// errSessionIDRequired はセッションIDが空の場合のエラー。
var errSessionIDRequired = errors.New("session ID is required")

// AuthAPI は認証APIのインターフェース。apiclient.Clientが実装する。
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*model.AuthResult, error)
	Register(ctx context.Context, payload model.RegistrationPayload) (*model.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	api    AuthAPI
	store  repository.SessionStore
	sealer *security.DraftSealer
	newID  func() (string, error)
}

// NewService はServiceを生成する。
// sealerは登録の下書きをストアへ書く前に暗号化する。
func NewService(api AuthAPI, store repository.SessionStore, sealer *security.DraftSealer) *Service {
	return &Service{api: api, store: store, sealer: sealer, newID: GenerateSessionID}
}

// Login はAPIでログインし、成功時に新しいセッションIDへ認証情報を保存する。
// 旧セッションIDのデータは消去し、新しいIDを返す。
// 失敗時はセッションを変更しない。
func (s *Service) Login(ctx context.Context, sessionID, email, password string) (*model.Session, string, error) {
	if sessionID == "" {
		return nil, "", errSessionIDRequired
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, "", ErrMissingCredentials
	}

	result, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, "", fmt.Errorf("login: %w", err)
	}

	session := result.Session()
	newID, err := s.rotate(ctx, sessionID, session)
	if err != nil {
		return nil, "", err
	}

	logger.FromContext(ctx).Info("user logged in")
	return session, newID, nil
}

// Register はAPIでユーザーを登録し、成功時に新しいセッションIDへ認証情報を保存する。
// 下書きを含む旧セッションIDのデータは消去し、新しいIDを返す。
func (s *Service) Register(ctx context.Context, sessionID string, payload model.RegistrationPayload) (*model.AuthResult, string, error) {
	if sessionID == "" {
		return nil, "", errSessionIDRequired
	}

	result, err := s.api.Register(ctx, payload)
	if err != nil {
		return nil, "", fmt.Errorf("register: %w", err)
	}

	newID, err := s.rotate(ctx, sessionID, result.Session())
	if err != nil {
		return nil, "", err
	}

	logger.FromContext(ctx).Info("user registered")
	return result, newID, nil
}

// rotate は認証情報を新しいセッションIDへ保存し、旧IDのデータを全て消去する。
// ログイン前に発行されたIDを認証後に使い回さない。
func (s *Service) rotate(ctx context.Context, oldID string, session *model.Session) (string, error) {
	newID, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	if err := s.SaveSession(ctx, newID, session); err != nil {
		return "", err
	}
	if err := s.ClearSession(ctx, oldID); err != nil {
		return "", err
	}
	return newID, nil
}

// Logout はリフレッシュトークンの無効化をAPIに依頼し、セッションを全て消去する。
// APIの失敗はログに残して無視する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errSessionIDRequired
	}

	log := logger.FromContext(ctx)

	session, err := s.CurrentSession(ctx, sessionID)
	if err != nil {
		log.Warn("failed to read session before logout", slog.String("error", err.Error()))
	}
	if session != nil && session.RefreshToken != "" {
		apiCtx := apiclient.WithAccessToken(ctx, session.AccessToken)
		if err := s.api.Logout(apiCtx, session.RefreshToken); err != nil {
			log.Warn("upstream logout failed", slog.String("error", err.Error()))
		}
	}

	if err := s.ClearSession(ctx, sessionID); err != nil {
		return err
	}

	log.Info("user logged out")
	return nil
}

// SaveSession はアクセストークン、リフレッシュトークン、プロフィールを一括で保存する。
func (s *Service) SaveSession(ctx context.Context, sessionID string, session *model.Session) error {
	if sessionID == "" {
		return errSessionIDRequired
	}

	user := string(session.User)
	if user == "" {
		user = "null"
	}

	err := s.store.Set(ctx, sessionID, map[string]string{
		model.SessionKeyAccessToken:  session.AccessToken,
		model.SessionKeyRefreshToken: session.RefreshToken,
		model.SessionKeyUser:         user,
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// CurrentSession は保存済みの認証情報を返す。アクセストークンがない場合はnilを返す。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	access, err := s.store.Get(ctx, sessionID, model.SessionKeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	if access == "" {
		return nil, nil
	}

	refresh, err := s.store.Get(ctx, sessionID, model.SessionKeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}
	user, err := s.store.Get(ctx, sessionID, model.SessionKeyUser)
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}

	session := &model.Session{AccessToken: access, RefreshToken: refresh}
	if user != "" {
		session.User = []byte(user)
	}
	return session, nil
}

// AccessToken は保存済みのアクセストークンを返す。未保存の場合は空文字列を返す。
func (s *Service) AccessToken(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	token, err := s.store.Get(ctx, sessionID, model.SessionKeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	return token, nil
}

// HasAccessToken はアクセストークンが保存されているかを返す。有効性は検証しない。
func (s *Service) HasAccessToken(ctx context.Context, sessionID string) (bool, error) {
	token, err := s.AccessToken(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// ClearSession はセッションの全キーを削除する。登録の下書きも含む。
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errSessionIDRequired
	}
	if err := s.store.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// LoadDraft は登録ウィザードの下書きを復号して読み込む。
// 復号できない下書きや壊れた下書きは捨てて新しく始める。
func (s *Service) LoadDraft(ctx context.Context, sessionID string) (*wizard.Wizard, error) {
	if sessionID == "" {
		return wizard.New(), nil
	}

	data, err := s.store.Get(ctx, sessionID, model.SessionKeyRegistrationDraft)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration draft: %w", err)
	}

	if data == "" {
		return wizard.New(), nil
	}

	plaintext, err := s.sealer.Open(data)
	if err != nil {
		logger.FromContext(ctx).Warn("discarding unreadable registration draft", slog.String("error", err.Error()))
		return wizard.New(), nil
	}

	w, err := wizard.Load(string(plaintext))
	if err != nil {
		logger.FromContext(ctx).Warn("discarding broken registration draft", slog.String("error", err.Error()))
		return wizard.New(), nil
	}
	return w, nil
}

// SaveDraft は登録ウィザードの下書きを暗号化して保存する。パスワードを含むため平文では置かない。
func (s *Service) SaveDraft(ctx context.Context, sessionID string, w *wizard.Wizard) error {
	if sessionID == "" {
		return errSessionIDRequired
	}

	data, err := w.Marshal()
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal([]byte(data))
	if err != nil {
		return fmt.Errorf("failed to seal registration draft: %w", err)
	}
	if err := s.store.Set(ctx, sessionID, map[string]string{model.SessionKeyRegistrationDraft: sealed}); err != nil {
		return fmt.Errorf("failed to save registration draft: %w", err)
	}
	return nil
}

// DeleteDraft は登録ウィザードの下書きを削除する。
func (s *Service) DeleteDraft(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID, model.SessionKeyRegistrationDraft); err != nil {
		return fmt.Errorf("failed to delete registration draft: %w", err)
	}
	return nil
}

// GenerateSessionID は暗号的に安全なブラウザセッションIDを生成する。
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ AuthAPI = (*apiclient.Client)(nil)
