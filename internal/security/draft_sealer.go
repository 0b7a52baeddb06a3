package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "v1."
	nonceSize    = 24
)

// ErrUnsealable は封印済みの値を復号できない場合のエラー。
// 鍵の変更や改ざん、封印前の形式の値で返る。
var ErrUnsealable = errors.New("sealed value cannot be opened")

// DraftSealer は登録の下書きをセッションストアへ書く前に暗号化する。
// nacl/secretboxで認証付き暗号化し、nonceを前置してbase64で返す。
type DraftSealer struct {
	key [32]byte
}

// NewDraftSealer は秘密値から鍵を導出したDraftSealerを生成する。
func NewDraftSealer(secret string) (*DraftSealer, error) {
	if secret == "" {
		return nil, errors.New("draft secret is required")
	}
	return &DraftSealer{key: sha256.Sum256([]byte(secret))}, nil
}

// NewEphemeralDraftSealer はプロセス内だけで有効な乱数鍵のDraftSealerを生成する。
// 再起動や別インスタンスでは既存の下書きを復号できない。
func NewEphemeralDraftSealer() (*DraftSealer, error) {
	s := &DraftSealer{}
	if _, err := rand.Read(s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate draft key: %w", err)
	}
	return s, nil
}

// Seal は平文を暗号化してストアに保存できる文字列を返す。
func (s *DraftSealer) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open はSealの結果を復号する。
func (s *DraftSealer) Open(sealed string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return nil, ErrUnsealable
	}
	box, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrUnsealable
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnsealable
	}
	return plaintext, nil
}
