package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresSessionStore はPostgreSQLを使用したセッションストア。
// session_valuesテーブルに (session_id, key) 単位で値を保持する。
type PostgresSessionStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresSessionStore はPostgresSessionStoreを生成する。
func NewPostgresSessionStore(db *sql.DB, ttl time.Duration) *PostgresSessionStore {
	return &PostgresSessionStore{db: db, ttl: ttl}
}

// Get は指定キーの値を取得する。期限切れの場合は空文字列を返す。
func (r *PostgresSessionStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value
		 FROM session_values
		 WHERE session_id = $1 AND key = $2 AND expires_at > now()`,
		sessionID, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session value: %w", err)
	}
	return value, nil
}

// Set は複数の値を同一トランザクションで保存し、セッション全体の有効期限を延長する。
func (r *PostgresSessionStore) Set(ctx context.Context, sessionID string, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 期限切れの値が延長で復活しないよう先に削除する
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_values WHERE session_id = $1 AND expires_at <= now()`,
		sessionID,
	); err != nil {
		return fmt.Errorf("failed to purge expired session values: %w", err)
	}

	expiresAt := time.Now().Add(r.ttl)
	for key, value := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_values (session_id, key, value, expires_at, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (session_id, key)
			 DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
			sessionID, key, value, expiresAt,
		); err != nil {
			return fmt.Errorf("failed to set session value: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE session_values SET expires_at = $2 WHERE session_id = $1`,
		sessionID, expiresAt,
	); err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session values: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *PostgresSessionStore) Delete(ctx context.Context, sessionID string, keys ...string) error {
	for _, key := range keys {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM session_values WHERE session_id = $1 AND key = $2`,
			sessionID, key,
		); err != nil {
			return fmt.Errorf("failed to delete session value: %w", err)
		}
	}
	return nil
}

// Clear はセッションの全キーを削除する。
func (r *PostgresSessionStore) Clear(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM session_values WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れの値を削除し、削除件数を返す。
func (r *PostgresSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM session_values WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired session values: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SessionStore = (*PostgresSessionStore)(nil)
