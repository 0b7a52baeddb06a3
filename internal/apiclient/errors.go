package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind はAPIエラーの分類。
type Kind int

const (
	// KindTransport はレスポンスボディが得られなかった失敗（ネットワーク障害、ブレーカー開放、空ボディ）。
	KindTransport Kind = iota
	// KindValidation はフィールド単位のエラーを持つJSONオブジェクト、またはエラーのJSON配列。
	KindValidation
	// KindServer は detail または error キーを持つJSONオブジェクト。
	KindServer
	// KindUnknown はJSONオブジェクトでも配列でもないボディ。
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error はAPI呼び出しの失敗を表す。
type Error struct {
	Kind       Kind
	StatusCode int
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deevent api %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("deevent api %s error: status %d", e.Kind, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// field はボディのJSONオブジェクトから指定キーの値を返す。
func (e *Error) field(key string) (json.RawMessage, bool) {
	fields, ok := decodeObject(e.Body)
	if !ok {
		return nil, false
	}
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// IsNotFound は404の場合にtrueを返す。
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsUnauthorized は401の場合にtrueを返す。
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}

// newStatusError はエラーステータスのレスポンスを分類する。
func newStatusError(status int, body []byte) *Error {
	e := &Error{StatusCode: status, Body: body}

	if len(bytes.TrimSpace(body)) == 0 {
		e.Kind = KindTransport
		return e
	}

	fields, ok := decodeEntries(body)
	if !ok {
		e.Kind = KindUnknown
		return e
	}

	e.Kind = KindValidation
	for _, f := range fields {
		if f.key == "detail" || f.key == "error" {
			e.Kind = KindServer
			break
		}
	}
	return e
}

// objectField はJSONオブジェクトの1エントリ。
type objectField struct {
	key   string
	value json.RawMessage
}

// decodeObject はJSONオブジェクトをボディ内の順序を保って分解する。
// オブジェクトでない場合はfalseを返す。
func decodeObject(body []byte) ([]objectField, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, false
	}

	fields := []objectField{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		fields = append(fields, objectField{key: key, value: value})
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return fields, true
}

// decodeEntries はJSONオブジェクトをキー順に、JSON配列を添字をキーとして分解する。
// どちらでもない場合はfalseを返す。
func decodeEntries(body []byte) ([]objectField, bool) {
	if fields, ok := decodeObject(body); ok {
		return fields, true
	}

	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err != nil || list == nil {
		return nil, false
	}
	fields := make([]objectField, 0, len(list))
	for i, v := range list {
		fields = append(fields, objectField{key: strconv.Itoa(i), value: v})
	}
	return fields, true
}

// firstMessage は値が配列なら先頭要素を、文字列ならそのまま、それ以外はJSON表現を返す。
func firstMessage(raw json.RawMessage) string {
	if strings.TrimSpace(string(raw)) == "null" {
		return "null"
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		raw = list[0]
	}
	return scalarText(raw)
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// truthy はnull、false、0、空文字列以外の値でtrueを返す。
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
