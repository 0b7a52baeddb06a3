package apiclient

import (
	"errors"
	"strings"
)

// 画面に表示する既定のエラーメッセージ。
const (
	MessageInvalidCredentials = "Invalid email or password."
	MessageCheckYourData      = "Registration failed. Please check your data."
	MessageTryAgain           = "Registration failed. Please try again."
	MessageNetworkError       = "Network error. Please check your connection."
)

// LoginMessage はログイン失敗時のバナー文言を返す。
// レスポンスの detail があればそれを、なければ既定の文言を返す。
func LoginMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if raw, ok := apiErr.field("detail"); ok && truthy(raw) {
			if msg := scalarText(raw); msg != "" {
				return msg
			}
		}
	}
	return MessageInvalidCredentials
}

// RegistrationMessage は登録失敗時のバナー文言を返す。判定順は次の通り:
// email、phone、detail、error、全フィールドの連結、オブジェクトでも配列でもない、ボディなし。
// 配列のボディは "0: msg, 1: msg" のように添字をキーとして連結する。
func RegistrationMessage(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind == KindTransport {
		return MessageNetworkError
	}

	fields, ok := decodeEntries(apiErr.Body)
	if !ok {
		return MessageTryAgain
	}

	lookup := func(key string) (string, bool) {
		for _, f := range fields {
			if f.key == key && truthy(f.value) {
				return firstMessage(f.value), true
			}
		}
		return "", false
	}

	if msg, ok := lookup("email"); ok {
		return "Email: " + msg
	}
	if msg, ok := lookup("phone"); ok {
		return "Phone: " + msg
	}
	if raw, ok := apiErr.field("detail"); ok && truthy(raw) {
		return scalarText(raw)
	}
	if raw, ok := apiErr.field("error"); ok && truthy(raw) {
		return scalarText(raw)
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.key+": "+firstMessage(f.value))
	}
	if joined := strings.Join(parts, ", "); joined != "" {
		return joined
	}
	return MessageCheckYourData
}

// 登録以外のフォーム送信失敗時の既定文言。
const (
	MessageRequestFailed    = "Request failed. Please try again."
	MessageCheckFormEntries = "Request failed. Please check your data."
)

// FormMessage は組織フォームなど登録以外のフォーム送信失敗時のバナー文言を返す。
// detail、error、全フィールドの連結の順に判定する。
func FormMessage(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind == KindTransport {
		return MessageNetworkError
	}

	fields, ok := decodeEntries(apiErr.Body)
	if !ok {
		return MessageRequestFailed
	}
	if raw, ok := apiErr.field("detail"); ok && truthy(raw) {
		return scalarText(raw)
	}
	if raw, ok := apiErr.field("error"); ok && truthy(raw) {
		return scalarText(raw)
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.key+": "+firstMessage(f.value))
	}
	if joined := strings.Join(parts, ", "); joined != "" {
		return joined
	}
	return MessageCheckFormEntries
}
