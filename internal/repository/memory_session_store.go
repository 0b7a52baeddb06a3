package repository

import (
	"context"
	"sync"
	"time"
)

// memorySession は1つのブラウザセッションの値と有効期限を保持する。
type memorySession struct {
	values    map[string]string
	expiresAt time.Time
}

// MemorySessionStore はプロセス内メモリを使用したセッションストア。
// 単一インスタンス構成や開発環境向け。プロセス再起動で内容は失われる。
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore はMemorySessionStoreを生成する。
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get は指定キーの値を取得する。
func (s *MemorySessionStore) Get(_ context.Context, sessionID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !s.now().Before(sess.expiresAt) {
		return "", nil
	}
	return sess.values[key], nil
}

// Set は複数の値を一括で保存する。
func (s *MemorySessionStore) Set(_ context.Context, sessionID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok || !now.Before(sess.expiresAt) {
		sess = &memorySession{values: make(map[string]string, len(values))}
		s.sessions[sessionID] = sess
	}
	for k, v := range values {
		sess.values[k] = v
	}
	sess.expiresAt = now.Add(s.ttl)
	return nil
}

// Delete は指定キーを削除する。
func (s *MemorySessionStore) Delete(_ context.Context, sessionID string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(sess.values, k)
	}
	if len(sess.values) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}

// Clear はセッションの全キーを削除する。
func (s *MemorySessionStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (s *MemorySessionStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var deleted int64
	for id, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len は保持しているセッション数を返す。テスト用。
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// compile-time interface check
var _ SessionStore = (*MemorySessionStore)(nil)
