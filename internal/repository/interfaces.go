// Package repository はブラウザセッションごとのキー・バリューストアを提供する。
// メモリ、PostgreSQL、Redisの3種類の実装を持ち、設定で切り替える。
package repository

import "context"

// SessionStore はブラウザセッションごとのキー・バリューストアのインターフェース。
// 認証トークン、プロフィール、登録ウィザードの下書きを保持する。
// 全ての実装は並行アクセスに対して安全でなければならない。
type SessionStore interface {
	// Get は指定キーの値を取得する。存在しない場合や期限切れの場合は空文字列を返す。
	Get(ctx context.Context, sessionID, key string) (string, error)

	// Set は複数の値を一括で保存し、セッションの有効期限を延長する。
	// 一部のキーだけが保存された状態にはならない。
	Set(ctx context.Context, sessionID string, values map[string]string) error

	// Delete は指定キーを削除する。存在しないキーは無視する。
	Delete(ctx context.Context, sessionID string, keys ...string) error

	// Clear はセッションの全キーを削除する。
	Clear(ctx context.Context, sessionID string) error
}

// ExpiredSessionPurger は期限切れセッションを一括削除できるストアのインターフェース。
// Redisはキー自体のTTLで失効するため実装しない。
type ExpiredSessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
