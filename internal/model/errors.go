package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeCSRFFailed           = "CSRF_FAILED"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ErrCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
)

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "Your form has expired.",
		Category: "auth",
		Action:   "Reload the page and submit the form again.",
	}
}

// NewNotFoundError はページ未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "The page you requested does not exist.",
		Category: "validation",
		Action:   "Check the address or go back to the dashboard.",
	}
}

// NewUpstreamUnavailableError はDeEvent APIへの接続失敗エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "Network error. Please check your connection.",
		Category: "upstream",
		Action:   "Please try again in a few moments.",
	}
}

// NewOrganizationNotFoundError は組織未検出エラーを生成する。
func NewOrganizationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeOrganizationNotFound,
		Message:  fmt.Sprintf("Organization not found: %s", id),
		Category: "validation",
		Action:   "Check the organization ID or open it from your organization list.",
	}
}

// ErrCodeSessionExpired はAPIがアクセストークンを拒否した場合のエラーコード。
const ErrCodeSessionExpired = "SESSION_EXPIRED"

// NewSessionExpiredError はセッション切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "Your session has expired.",
		Category: "auth",
		Action:   "Please sign out and sign in again.",
	}
}
